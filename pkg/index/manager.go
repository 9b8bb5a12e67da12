package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iziplay/crm-indexer/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchSize = 500
	DefaultWorkers   = 4
)

var tracer = otel.Tracer("github.com/iziplay/crm-indexer/pkg/index")

// BatchResult is the outcome of a BulkUpsert.
type BatchResult struct {
	Succeeded int            `json:"succeeded"`
	Failures  []WriteFailure `json:"failures"`
}

// PartialWriteError is returned by BulkUpsert when some documents were not
// written. The remaining documents are committed.
type PartialWriteError struct {
	Count   int
	Details []WriteFailure
	// Cause is set when whole bulk requests failed.
	Cause error
}

func (e *PartialWriteError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%d documents failed to index: %v", e.Count, e.Cause)
	}
	return fmt.Sprintf("%d documents failed to index", e.Count)
}

func (e *PartialWriteError) Unwrap() error { return e.Cause }

// Manager creates indexes on demand and writes documents in bulk.
type Manager struct {
	backend   Backend
	batchSize int
	workers   int
	logger    *slog.Logger

	mu      sync.Mutex
	ensured map[string]Mapping
}

type Option func(*Manager)

func WithBatchSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

func WithWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func NewManager(backend Backend, opts ...Option) *Manager {
	m := &Manager{
		backend:   backend,
		batchSize: DefaultBatchSize,
		workers:   DefaultWorkers,
		logger:    slog.Default(),
		ensured:   make(map[string]Mapping),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureSchema creates name with mapping unless it already exists. An
// existing index is trusted as-is. Repeated calls for the same name do not
// reach the backend.
func (m *Manager) EnsureSchema(ctx context.Context, name string, mapping Mapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.ensured[name]; ok {
		return nil
	}

	exists, err := m.backend.IndexExists(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: checking index %q: %w", ErrConnection, name, err)
	}

	if !exists {
		if err := m.backend.CreateIndex(ctx, name, mapping); err != nil {
			if errors.Is(err, ErrConnection) {
				return fmt.Errorf("creating index %q: %w", name, err)
			}
			return fmt.Errorf("%w: index %q: %w", ErrSchemaCreate, name, err)
		}
		m.logger.Info("Created index", "index", name, "fields", len(mapping))
	}

	m.ensured[name] = mapping
	return nil
}

// BulkUpsert writes docs keyed by their ID. Documents sharing an ID are
// collapsed to the last one. Invalid documents and documents refused by the
// backend are reported as failures without stopping the rest of the batch.
// No retry is attempted.
func (m *Manager) BulkUpsert(ctx context.Context, name string, docs []Document) (BatchResult, error) {
	m.mu.Lock()
	mapping := m.ensured[name]
	m.mu.Unlock()

	result := BatchResult{Failures: []WriteFailure{}}
	valid := make([]Document, 0, len(docs))
	for _, doc := range collapse(docs) {
		if doc.ID == "" {
			result.Failures = append(result.Failures, WriteFailure{Reason: "missing document id"})
			continue
		}
		if err := mapping.Validate(doc.Body); err != nil {
			m.logger.Warn("Rejected document", "index", name, "id", doc.ID, "error", err)
			result.Failures = append(result.Failures, WriteFailure{ID: doc.ID, Reason: err.Error()})
			continue
		}
		valid = append(valid, doc)
	}

	batches := chunk(valid, m.batchSize)
	responses := make([]BulkResponse, len(batches))
	errs := make([]error, len(batches))

	var g errgroup.Group
	g.SetLimit(m.workers)
	for i, batch := range batches {
		g.Go(func() error {
			responses[i], errs[i] = m.writeBatch(ctx, name, i, batch)
			return nil
		})
	}
	_ = g.Wait()

	var causes []error
	for i, resp := range responses {
		if errs[i] != nil {
			causes = append(causes, errs[i])
			for _, doc := range batches[i] {
				result.Failures = append(result.Failures, WriteFailure{ID: doc.ID, Reason: errs[i].Error()})
			}
			continue
		}
		result.Succeeded += resp.Succeeded
		result.Failures = append(result.Failures, resp.Failures...)
	}

	metrics.DocumentsIndexedTotal.WithLabelValues(name, "success").Add(float64(result.Succeeded))
	metrics.DocumentsIndexedTotal.WithLabelValues(name, "failure").Add(float64(len(result.Failures)))
	m.logger.Info("Bulk upsert completed", "index", name, "succeeded", result.Succeeded, "failed", len(result.Failures))

	if len(result.Failures) > 0 {
		return result, &PartialWriteError{Count: len(result.Failures), Details: result.Failures, Cause: errors.Join(causes...)}
	}
	return result, nil
}

func (m *Manager) writeBatch(ctx context.Context, name string, index int, docs []Document) (BulkResponse, error) {
	ctx, span := tracer.Start(ctx, "index.bulk")
	defer span.End()
	span.SetAttributes(attribute.String("index", name), attribute.Int("chunk", index), attribute.Int("documents", len(docs)))

	start := time.Now()
	resp, err := m.backend.BulkWrite(ctx, name, docs)
	metrics.ChunkDurationSeconds.WithLabelValues("index").Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.logger.Error("Bulk request failed", "index", name, "chunk", index, "documents", len(docs), "error", err)
		return BulkResponse{}, err
	}
	for _, f := range resp.Failures {
		m.logger.Warn("Document not indexed", "index", name, "id", f.ID, "status", f.Status, "reason", f.Reason)
	}
	return resp, nil
}

func (m *Manager) Get(ctx context.Context, name, id string) (*Document, error) {
	return m.backend.Get(ctx, name, id)
}

// Search runs q on name. Indexes ensured by this manager are searched with
// their mapping.
func (m *Manager) Search(ctx context.Context, name string, q Query) (SearchResult, error) {
	if q.Size <= 0 {
		q.Size = 20
	}
	if q.Mapping == nil {
		m.mu.Lock()
		q.Mapping = m.ensured[name]
		m.mu.Unlock()
	}
	return m.backend.Search(ctx, name, q)
}

func collapse(docs []Document) []Document {
	pos := make(map[string]int, len(docs))
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if doc.ID == "" {
			out = append(out, doc)
			continue
		}
		if i, ok := pos[doc.ID]; ok {
			out[i] = doc
			continue
		}
		pos[doc.ID] = len(out)
		out = append(out, doc)
	}
	return out
}

func chunk(docs []Document, size int) [][]Document {
	var out [][]Document
	for start := 0; start < len(docs); start += size {
		out = append(out, docs[start:min(start+size, len(docs))])
	}
	return out
}
