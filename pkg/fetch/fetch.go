package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iziplay/crm-indexer/pkg/metrics"
	"github.com/iziplay/crm-indexer/pkg/salesforce"
	"github.com/iziplay/crm-indexer/pkg/soql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultChunkSize is the largest IN clause the record store accepts.
	DefaultChunkSize = 100
	DefaultWorkers   = 4
)

var ErrAllChunksFailed = errors.New("every chunk failed")

var tracer = otel.Tracer("github.com/iziplay/crm-indexer/pkg/fetch")

// Querier runs a query and returns every matching record.
type Querier interface {
	QueryAll(ctx context.Context, soql string) ([]salesforce.Record, error)
}

// Request is a base query reused for every chunk. Field is the membership
// field the chunk identifiers are matched against.
type Request struct {
	Query soql.Query
	Field string
}

// Failure covers one chunk whose query failed.
type Failure struct {
	Chunk  int      `json:"chunk"`
	IDs    []string `json:"ids"`
	Reason string   `json:"reason"`
	Err    error    `json:"-"`
}

func (f Failure) Error() string {
	return fmt.Sprintf("chunk %d (%d ids): %v", f.Chunk, len(f.IDs), f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Outcome is the merged result of a chunked fetch. Records are ordered by
// chunk index then by store order within the chunk.
type Outcome struct {
	Records  []salesforce.Record `json:"-"`
	Failures []Failure           `json:"failures"`
	Chunks   int                 `json:"chunks"`
}

// AllFailed reports whether there was work and none of it succeeded.
func (r Outcome) AllFailed() bool {
	return r.Chunks > 0 && len(r.Failures) == r.Chunks
}

// Err returns ErrAllChunksFailed, wrapping the chunk errors, when AllFailed.
func (r Outcome) Err() error {
	if !r.AllFailed() {
		return nil
	}
	errs := []error{ErrAllChunksFailed}
	for _, f := range r.Failures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

// Fetcher splits identifier sets into bounded chunks and queries them with
// bounded parallelism. A failing chunk never cancels its siblings.
type Fetcher struct {
	querier   Querier
	chunkSize int
	workers   int
	logger    *slog.Logger
}

type Option func(*Fetcher)

func WithChunkSize(n int) Option {
	return func(f *Fetcher) {
		if n > 0 && n <= DefaultChunkSize {
			f.chunkSize = n
		}
	}
}

func WithWorkers(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.workers = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

func New(q Querier, opts ...Option) *Fetcher {
	f := &Fetcher{
		querier:   q,
		chunkSize: DefaultChunkSize,
		workers:   DefaultWorkers,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type chunkResult struct {
	records []salesforce.Record
	err     error
}

// FetchByIDs queries req once per chunk of ids. Duplicate ids are queried
// once. When the base query carries a limit it bounds every chunk and the
// merged result.
func (f *Fetcher) FetchByIDs(ctx context.Context, req Request, ids []string) Outcome {
	chunks := Chunk(unique(ids), f.chunkSize)
	outcomes := make([]chunkResult, len(chunks))

	var g errgroup.Group
	g.SetLimit(f.workers)

	for i, chunk := range chunks {
		g.Go(func() error {
			outcomes[i] = f.fetchChunk(ctx, req, i, chunk)
			return nil
		})
	}
	_ = g.Wait()

	result := Outcome{Chunks: len(chunks), Failures: []Failure{}}
	seen := make(map[string]struct{})
	for i, o := range outcomes {
		if o.err != nil {
			result.Failures = append(result.Failures, Failure{Chunk: i, IDs: chunks[i], Reason: o.err.Error(), Err: o.err})
			continue
		}
		for _, r := range o.records {
			if id := r.ID(); id != "" {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
			}
			result.Records = append(result.Records, r)
		}
	}

	if limit := req.Query.Limit(); limit > 0 && len(result.Records) > limit {
		result.Records = result.Records[:limit]
	}

	if result.AllFailed() {
		f.logger.Error("All chunks failed", "object", req.Query.Object(), "chunks", result.Chunks)
	}

	return result
}

func (f *Fetcher) fetchChunk(ctx context.Context, req Request, index int, ids []string) chunkResult {
	object := req.Query.Object()
	ctx, span := tracer.Start(ctx, "fetch.chunk")
	defer span.End()
	span.SetAttributes(
		attribute.String("object", object),
		attribute.Int("chunk", index),
		attribute.Int("ids", len(ids)),
	)

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return chunkResult{err: err}
	}

	start := time.Now()
	records, err := f.querier.QueryAll(ctx, req.Query.Where(soql.In(req.Field, ids)).String())
	metrics.ChunkDurationSeconds.WithLabelValues("fetch").Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.FetchChunksTotal.WithLabelValues(object, "failure").Inc()
		f.logger.Error("Chunk query failed", "object", object, "chunk", index, "ids", ids, "error", err)
		return chunkResult{err: err}
	}

	metrics.FetchChunksTotal.WithLabelValues(object, "success").Inc()
	metrics.RecordsFetchedTotal.WithLabelValues(object).Add(float64(len(records)))
	f.logger.Debug("Chunk fetched", "object", object, "chunk", index, "ids", len(ids), "records", len(records))

	return chunkResult{records: records}
}

// FetchChildren retrieves the records owned by parentIDs through req.Field
// and groups them by parent. Per-parent order is the store's order.
func (f *Fetcher) FetchChildren(ctx context.Context, req Request, parentIDs []string) (map[string][]salesforce.Record, Outcome) {
	result := f.FetchByIDs(ctx, req, parentIDs)

	children := make(map[string][]salesforce.Record)
	for _, r := range result.Records {
		parent, ok := r.OptionalString(req.Field)
		if !ok {
			continue
		}
		children[parent] = append(children[parent], r)
	}

	return children, result
}

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 || size <= 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
