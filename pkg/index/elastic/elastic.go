// Package elastic implements index.Backend on Elasticsearch.
package elastic

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/iziplay/crm-indexer/pkg/index"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const DefaultTimeout = 30 * time.Second

// Config holds the cluster connection settings.
type Config struct {
	URL         string
	Username    string
	Password    string
	APIKey      string
	Index       string
	VerifyCerts bool
	Timeout     time.Duration
	// Refresh makes bulk writes visible to search before returning.
	Refresh     bool
}

var (
	ErrNoURL         = errors.New("elasticsearch: cluster url is required")
	ErrNoIndex       = errors.New("elasticsearch: index name is required")
	ErrNoCredentials = errors.New("elasticsearch: api key or username and password are required")
)

// Validate checks that the configuration is usable for indexing into Index.
func (c Config) Validate() error {
	if err := c.ValidateConnection(); err != nil {
		return err
	}
	if c.Index == "" {
		return ErrNoIndex
	}
	return nil
}

// ValidateConnection checks the cluster settings only, for callers that
// pick the index per request.
func (c Config) ValidateConnection() error {
	switch {
	case c.URL == "":
		return ErrNoURL
	case c.APIKey == "" && (c.Username == "" || c.Password == ""):
		return ErrNoCredentials
	}
	return nil
}

// Backend talks to one cluster.
type Backend struct {
	es      *elasticsearch.Client
	refresh string
}

// New builds a backend. The transport is traced and honours VerifyCerts.
func New(cfg Config) (*Backend, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: !cfg.VerifyCerts}
	transport.ResponseHeaderTimeout = timeout

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
		Transport: otelhttp.NewTransport(transport),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	return &Backend{es: es, refresh: strconv.FormatBool(cfg.Refresh)}, nil
}

func (b *Backend) IndexExists(ctx context.Context, name string) (bool, error) {
	res, err := b.es.Indices.Exists([]string{name}, b.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("%w: %w", index.ErrConnection, err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, responseError(res)
}

func (b *Backend) CreateIndex(ctx context.Context, name string, mapping index.Mapping) error {
	body, err := json.Marshal(map[string]any{
		"mappings": map[string]any{"properties": mapping.Properties()},
	})
	if err != nil {
		return fmt.Errorf("failed to encode mapping: %w", err)
	}

	res, err := b.es.Indices.Create(name,
		b.es.Indices.Create.WithBody(bytes.NewReader(body)),
		b.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", index.ErrConnection, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError(res)
	}
	return nil
}

type bulkResponse struct {
	Errors bool                         `json:"errors"`
	Items  []map[string]bulkItemOutcome `json:"items"`
}

type bulkItemOutcome struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// BulkWrite sends one index action per document with _id set to the
// document id.
func (b *Backend) BulkWrite(ctx context.Context, name string, docs []index.Document) (index.BulkResponse, error) {
	if len(docs) == 0 {
		return index.BulkResponse{}, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		action := map[string]any{"index": map[string]any{"_index": name, "_id": doc.ID}}
		if err := enc.Encode(action); err != nil {
			return index.BulkResponse{}, fmt.Errorf("failed to encode action: %w", err)
		}
		if err := enc.Encode(doc.Body); err != nil {
			return index.BulkResponse{}, fmt.Errorf("failed to encode document %s: %w", doc.ID, err)
		}
	}

	res, err := b.es.Bulk(&buf,
		b.es.Bulk.WithIndex(name),
		b.es.Bulk.WithContext(ctx),
		b.es.Bulk.WithRefresh(b.refresh),
	)
	if err != nil {
		return index.BulkResponse{}, fmt.Errorf("%w: %w", index.ErrConnection, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return index.BulkResponse{}, responseError(res)
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return index.BulkResponse{}, fmt.Errorf("failed to decode bulk response: %w", err)
	}

	var out index.BulkResponse
	for _, item := range parsed.Items {
		for _, outcome := range item {
			if outcome.Error != nil || outcome.Status >= 300 {
				reason := http.StatusText(outcome.Status)
				if outcome.Error != nil {
					reason = outcome.Error.Type + ": " + outcome.Error.Reason
				}
				out.Failures = append(out.Failures, index.WriteFailure{ID: outcome.ID, Status: outcome.Status, Reason: reason})
				continue
			}
			out.Succeeded++
		}
	}
	return out, nil
}

func (b *Backend) Get(ctx context.Context, name, id string) (*index.Document, error) {
	res, err := b.es.Get(name, id, b.es.Get.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", index.ErrConnection, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", index.ErrDocumentNotFound, id)
	}
	if res.IsError() {
		return nil, responseError(res)
	}

	var hit struct {
		ID     string         `json:"_id"`
		Source map[string]any `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&hit); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return &index.Document{ID: hit.ID, Body: hit.Source}, nil
}

func (b *Backend) Search(ctx context.Context, name string, q index.Query) (index.SearchResult, error) {
	filters := make([]any, 0, len(q.Terms))
	for field, value := range q.Terms {
		filters = append(filters, termFilter(q.Mapping, field, value))
	}
	boolQuery := map[string]any{"filter": filters}
	if q.Text != "" {
		boolQuery["must"] = []any{map[string]any{"simple_query_string": map[string]any{"query": q.Text}}}
	}

	body, err := json.Marshal(map[string]any{"query": map[string]any{"bool": boolQuery}})
	if err != nil {
		return index.SearchResult{}, fmt.Errorf("failed to encode query: %w", err)
	}

	res, err := b.es.Search(
		b.es.Search.WithContext(ctx),
		b.es.Search.WithIndex(name),
		b.es.Search.WithBody(bytes.NewReader(body)),
		b.es.Search.WithFrom(q.From),
		b.es.Search.WithSize(q.Size),
		b.es.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return index.SearchResult{}, fmt.Errorf("%w: %w", index.ErrConnection, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return index.SearchResult{}, responseError(res)
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				ID     string         `json:"_id"`
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return index.SearchResult{}, fmt.Errorf("failed to decode search response: %w", err)
	}

	result := index.SearchResult{Total: parsed.Hits.Total.Value, Documents: make([]index.Document, 0, len(parsed.Hits.Hits))}
	for _, h := range parsed.Hits.Hits {
		result.Documents = append(result.Documents, index.Document{ID: h.ID, Body: h.Source})
	}
	return result, nil
}

// termFilter matches value exactly. Text fields are matched on their keyword
// subfield. A field missing from the mapping may be either, so both are tried.
func termFilter(mapping index.Mapping, field, value string) map[string]any {
	if exact, ok := mapping.ExactField(field); ok {
		return map[string]any{"term": map[string]any{exact: value}}
	}
	return map[string]any{"bool": map[string]any{
		"should": []any{
			map[string]any{"term": map[string]any{field: value}},
			map[string]any{"term": map[string]any{field + ".keyword": value}},
		},
		"minimum_should_match": 1,
	}}
}

func responseError(res *esapi.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))

	var payload struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	msg := string(body)
	if json.Unmarshal(body, &payload) == nil && payload.Error.Type != "" {
		msg = payload.Error.Type + ": " + payload.Error.Reason
	}

	err := fmt.Errorf("elasticsearch: status %d: %s", res.StatusCode, msg)
	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden || res.StatusCode >= 500 {
		return fmt.Errorf("%w: %w", index.ErrConnection, err)
	}
	return err
}
