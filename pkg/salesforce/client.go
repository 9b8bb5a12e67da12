package salesforce

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const DefaultAPIVersion = "v59.0"

// APIError is an error payload returned by the REST API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("salesforce: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("salesforce: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// QueryResult is one page of a query response.
type QueryResult struct {
	TotalSize      int      `json:"totalSize"`
	Done           bool     `json:"done"`
	NextRecordsURL string   `json:"nextRecordsUrl"`
	Records        []Record `json:"records"`
}

// Client runs queries against a single instance. It is safe for concurrent use.
type Client struct {
	httpClient  *http.Client
	instanceURL string
	apiVersion  string
	logger      *slog.Logger
}

// NewClient builds a client. httpClient is expected to carry authentication,
// see Connect.
func NewClient(httpClient *http.Client, instanceURL, apiVersion string, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient:  httpClient,
		instanceURL: strings.TrimRight(instanceURL, "/"),
		apiVersion:  apiVersion,
		logger:      logger,
	}
}

func (c *Client) InstanceURL() string { return c.instanceURL }

// Query returns the first page of results only.
func (c *Client) Query(ctx context.Context, soql string) (*QueryResult, error) {
	endpoint := fmt.Sprintf("%s/services/data/%s/query?q=%s", c.instanceURL, c.apiVersion, url.QueryEscape(soql))
	return c.get(ctx, endpoint)
}

// QueryAll follows nextRecordsUrl until every matching record is retrieved.
func (c *Client) QueryAll(ctx context.Context, soql string) ([]Record, error) {
	page, err := c.Query(ctx, soql)
	if err != nil {
		return nil, err
	}

	records := page.Records
	for !page.Done && page.NextRecordsURL != "" {
		page, err = c.get(ctx, c.instanceURL+page.NextRecordsURL)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch next page: %w", err)
		}
		records = append(records, page.Records...)
	}

	c.logger.Debug("Query completed", "records", len(records))
	return records, nil
}

func (c *Client) get(ctx context.Context, endpoint string) (*QueryResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var result QueryResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	for _, r := range result.Records {
		delete(r, "attributes")
	}

	return &result, nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}

	var payload []struct {
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && len(payload) > 0 {
		apiErr.Code = payload[0].ErrorCode
		apiErr.Message = payload[0].Message
	}
	return apiErr
}
