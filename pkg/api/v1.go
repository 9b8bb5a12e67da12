package routing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/iziplay/crm-indexer/pkg/aggregate"
	"github.com/iziplay/crm-indexer/pkg/crm"
	"github.com/iziplay/crm-indexer/pkg/database"
	"github.com/iziplay/crm-indexer/pkg/index"
	"github.com/iziplay/crm-indexer/pkg/sync"
	"golang.org/x/sync/singleflight"
)

// Server holds what the routes need. Indexes and Store are nil when the
// corresponding backend is not configured.
type Server struct {
	Syncer    *sync.Syncer
	Indexes   *index.Manager
	Store     *database.Store
	JWTSecret string

	// RunTimeout bounds runs started through the API when non-zero.
	RunTimeout time.Duration

	runs singleflight.Group
}

type PlainOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// Summary is the latest successful run of one pipeline.
type Summary struct {
	RunID       string           `json:"runId"`
	Mode        string           `json:"mode"`
	ModeReason  string           `json:"modeReason,omitempty"`
	ExtractedAt time.Time        `json:"extractedAt"`
	Documents   int              `json:"documents"`
	Report      aggregate.Report `json:"report"`
}

type StatsOutput struct {
	Body map[string]Summary
}

type SyncStatsOutput struct {
	Body sync.SyncStats
}

type IndexCountsOutput struct {
	Body []database.IndexCount
}

type ListRunsInput struct {
	Limit  int `query:"limit" default:"20" minimum:"1" maximum:"100" doc:"Maximum number of results"`
	Offset int `query:"offset" default:"0" minimum:"0" doc:"Offset for pagination"`
}

type ListRunsOutput struct {
	Body struct {
		Total   int64          `json:"total"`
		Results []database.Run `json:"results"`
	}
}

type RunInput struct {
	Body sync.Options
}

type RunOutput struct {
	Body *sync.Result
}

type DocumentInput struct {
	ID    string `path:"id" doc:"Record identifier"`
	Index string `query:"index" required:"true" doc:"Index name"`
}

type DocumentOutput struct {
	Body *index.Document
}

type SearchInput struct {
	Index  string   `query:"index" required:"true" doc:"Index name"`
	Terms  []string `query:"term" doc:"Exact match as field:value, repeatable"`
	Text   string   `query:"q" doc:"Free text to match"`
	Limit  int      `query:"limit" default:"20" minimum:"1" maximum:"100" doc:"Maximum number of results"`
	Offset int      `query:"offset" default:"0" minimum:"0" doc:"Offset for pagination"`
}

type SearchOutput struct {
	Body index.SearchResult
}

// Setup registers the middleware and every route on api.
func (s *Server) Setup(api huma.API) {
	api.UseMiddleware(authMiddleware(api, s.JWTSecret))

	huma.Register(api, huma.Operation{
		OperationID: "HealthCheck",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Health check",
		Description: "Check if the API is running and its database reachable",
		Tags:        []string{"Health"},
	}, func(ctx context.Context, input *struct{}) (*PlainOutput, error) {
		if s.Store != nil {
			if err := s.Store.Ping(ctx); err != nil {
				return nil, huma.Error503ServiceUnavailable("database unreachable", err)
			}
		}
		return &PlainOutput{
			ContentType: "text/plain",
			Body:        []byte("OK"),
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "GetStatistics",
		Method:      http.MethodGet,
		Path:        "/v1/statistics",
		Summary:     "Get statistics",
		Description: "Get the aggregation report of the latest run of every pipeline",
		Tags:        []string{"Statistics"},
	}, func(ctx context.Context, input *struct{}) (*StatsOutput, error) {
		latest := s.Syncer.Latest()
		if len(latest) == 0 {
			return nil, huma.Error503ServiceUnavailable("no run completed yet, please retry later")
		}
		resp := &StatsOutput{Body: make(map[string]Summary, len(latest))}
		for name, r := range latest {
			resp.Body[name] = Summary{
				RunID:       r.RunID.String(),
				Mode:        r.Mode,
				ModeReason:  r.ModeReason,
				ExtractedAt: r.Metadata.ExtractedAt,
				Documents:   len(r.Documents),
				Report:      r.Report,
			}
		}
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "GetSyncStatistics",
		Method:      http.MethodGet,
		Path:        "/v1/statistics/sync",
		Summary:     "Get sync statistics",
		Description: "Get current run progress",
		Tags:        []string{"Statistics"},
	}, func(ctx context.Context, input *struct{}) (*SyncStatsOutput, error) {
		resp := &SyncStatsOutput{}
		resp.Body = s.Syncer.Progress().Get()
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "GetIndexStatistics",
		Method:      http.MethodGet,
		Path:        "/v1/statistics/indices",
		Summary:     "Get index statistics",
		Description: "Count the documents stored in each relational index",
		Tags:        []string{"Statistics"},
	}, func(ctx context.Context, input *struct{}) (*IndexCountsOutput, error) {
		if s.Store == nil {
			return nil, huma.Error503ServiceUnavailable("no database configured")
		}
		counts, err := s.Store.DocumentCounts(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to count documents", err)
		}
		return &IndexCountsOutput{Body: counts}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ListRuns",
		Method:      http.MethodGet,
		Path:        "/v1/runs",
		Summary:     "List runs",
		Description: "List the pipeline run history, newest first",
		Tags:        []string{"Runs"},
	}, func(ctx context.Context, input *ListRunsInput) (*ListRunsOutput, error) {
		if s.Store == nil {
			return nil, huma.Error503ServiceUnavailable("no database configured")
		}
		runs, total, err := s.Store.ListRuns(ctx, input.Limit, input.Offset)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list runs", err)
		}
		resp := &ListRunsOutput{}
		resp.Body.Total = total
		resp.Body.Results = runs
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "CreateRun",
		Method:      http.MethodPost,
		Path:        "/v1/runs",
		Summary:     "Run a pipeline",
		Description: "Run a pipeline over the given references and return its result. Identical concurrent requests share one run.",
		Tags:        []string{"Runs"},
		Security:    []map[string][]string{{"bearerAuth": {}}},
	}, func(ctx context.Context, input *RunInput) (*RunOutput, error) {
		key, err := json.Marshal(input.Body)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid run options", err)
		}

		v, err, _ := s.runs.Do(string(key), func() (any, error) {
			runCtx := context.WithoutCancel(ctx)
			if s.RunTimeout > 0 {
				var cancel context.CancelFunc
				runCtx, cancel = context.WithTimeout(runCtx, s.RunTimeout)
				defer cancel()
			}
			return s.Syncer.Run(runCtx, input.Body)
		})
		if err != nil {
			res, _ := v.(*sync.Result)
			return nil, runError(err, res)
		}
		return &RunOutput{Body: v.(*sync.Result)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "GetDocument",
		Method:      http.MethodGet,
		Path:        "/v1/documents/{id}",
		Summary:     "Get document",
		Description: "Get an indexed document by record identifier",
		Tags:        []string{"Documents"},
	}, func(ctx context.Context, input *DocumentInput) (*DocumentOutput, error) {
		if s.Indexes == nil {
			return nil, huma.Error503ServiceUnavailable("indexing is disabled")
		}
		doc, err := s.Indexes.Get(ctx, input.Index, input.ID)
		if err != nil {
			return nil, indexError(err)
		}
		return &DocumentOutput{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "SearchDocuments",
		Method:      http.MethodGet,
		Path:        "/v1/search",
		Summary:     "Search documents",
		Description: "Search an index with exact field matches and free text",
		Tags:        []string{"Search"},
	}, func(ctx context.Context, input *SearchInput) (*SearchOutput, error) {
		if s.Indexes == nil {
			return nil, huma.Error503ServiceUnavailable("indexing is disabled")
		}
		terms, err := parseTerms(input.Terms)
		if err != nil {
			return nil, err
		}
		result, err := s.Indexes.Search(ctx, input.Index, index.Query{
			Terms: terms,
			Text:  input.Text,
			From:  input.Offset,
			Size:  input.Limit,
		})
		if err != nil {
			return nil, indexError(err)
		}
		return &SearchOutput{Body: result}, nil
	})
}

func parseTerms(raw []string) (map[string]string, error) {
	terms := make(map[string]string, len(raw))
	for _, t := range raw {
		field, value, ok := strings.Cut(t, ":")
		if !ok || field == "" {
			return nil, huma.Error400BadRequest("term must be field:value, got " + t)
		}
		terms[field] = value
	}
	return terms, nil
}

// runError maps a failed run to a status. res, when set, supplies the
// invalid references of an unresolvable request.
func runError(err error, res *sync.Result) error {
	switch {
	case errors.Is(err, sync.ErrUnknownPipeline), errors.Is(err, crm.ErrConflictingFilters):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, sync.ErrNoIdentifiers):
		var details []error
		if res != nil {
			for _, inv := range res.Resolution.Invalid {
				details = append(details, &huma.ErrorDetail{
					Message:  inv.Reason,
					Location: "body.references[" + strconv.Itoa(inv.Position) + "]",
					Value:    inv.Reference,
				})
			}
		}
		return huma.Error422UnprocessableEntity(err.Error(), details...)
	case errors.Is(err, context.DeadlineExceeded):
		return huma.Error504GatewayTimeout(err.Error())
	case errors.Is(err, sync.ErrRecordStoreUnreachable):
		return huma.Error502BadGateway(err.Error())
	}
	return huma.Error400BadRequest("invalid run options", err)
}

func indexError(err error) error {
	switch {
	case errors.Is(err, index.ErrDocumentNotFound):
		return huma.Error404NotFound("document not found")
	case errors.Is(err, index.ErrConnection):
		return huma.Error503ServiceUnavailable("index backend unreachable", err)
	}
	return huma.Error500InternalServerError("index request failed", err)
}
