// Package sync runs extraction pipelines: it resolves references, fetches
// records in chunks, aggregates them and indexes the resulting documents.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iziplay/crm-indexer/pkg/aggregate"
	"github.com/iziplay/crm-indexer/pkg/crm"
	"github.com/iziplay/crm-indexer/pkg/database"
	"github.com/iziplay/crm-indexer/pkg/fetch"
	"github.com/iziplay/crm-indexer/pkg/index"
	"github.com/iziplay/crm-indexer/pkg/metrics"
	"github.com/iziplay/crm-indexer/pkg/reference"
	"github.com/iziplay/crm-indexer/pkg/salesforce"
)

var (
	ErrUnknownPipeline = errors.New("unknown pipeline")
	// ErrNoIdentifiers means none of the references resolved.
	ErrNoIdentifiers = errors.New("no valid record identifiers")
	// ErrRecordStoreUnreachable means every fetch chunk failed.
	ErrRecordStoreUnreachable = errors.New("record store unreachable")
)

// Run modes.
const (
	ModeIndexed    = "indexed"
	ModeReportOnly = "report-only"
	ModeFailed     = "failed"
)

// History persists run entries.
type History interface {
	RecordRun(ctx context.Context, run *database.Run) error
	LastRun(ctx context.Context, pipeline string) (*database.Run, error)
}

// Options selects what a run does.
type Options struct {
	Pipeline   string      `json:"pipeline"`
	References []string    `json:"references"`
	Filters    crm.Filters `json:"filters,omitempty"`
	// SkipChildren leaves dependent records out of the documents.
	SkipChildren bool `json:"skipChildren,omitempty"`
	// ReportOnly disables indexing for this run.
	ReportOnly bool `json:"reportOnly,omitempty"`
	// Index overrides the pipeline's index name.
	Index string `json:"index,omitempty"`
}

// TransformFailure is a fetched record that could not become a document.
type TransformFailure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

type Metadata struct {
	ExtractedAt time.Time   `json:"extracted_at"`
	FinishedAt  time.Time   `json:"finished_at"`
	Filters     crm.Filters `json:"filters"`
}

// Result is the full outcome of a run.
type Result struct {
	RunID      uuid.UUID `json:"runId"`
	Pipeline   string    `json:"pipeline"`
	Mode       string    `json:"mode"`
	ModeReason string    `json:"modeReason,omitempty"`
	Index      string    `json:"index,omitempty"`

	Resolution        reference.Resolution `json:"resolution"`
	// Via holds the referenced records of pipelines indexing related records.
	Via               *fetch.Outcome       `json:"via,omitempty"`
	Fetch             fetch.Outcome        `json:"fetch"`
	Children          *fetch.Outcome       `json:"children,omitempty"`
	Accounts          *fetch.Outcome       `json:"accounts,omitempty"`
	TransformFailures []TransformFailure   `json:"transformFailures"`
	Indexed           *index.BatchResult   `json:"indexed,omitempty"`

	Report    aggregate.Report `json:"report"`
	Documents []index.Document `json:"records"`
	Metadata  Metadata         `json:"metadata"`
}

// Syncer runs pipelines. Runs are serialized.
type Syncer struct {
	fetcher *fetch.Fetcher
	indexes *index.Manager
	// reason is reported when indexes is nil.
	reason   string
	history  History
	progress *Progress
	now      func() time.Time
	logger   *slog.Logger

	run    sync.Mutex
	mu     sync.RWMutex
	latest map[string]*Result
}

type Option func(*Syncer)

// WithIndex enables indexing through m.
func WithIndex(m *index.Manager) Option {
	return func(s *Syncer) { s.indexes = m }
}

// WithoutIndex disables indexing and reports reason in every result.
func WithoutIndex(reason string) Option {
	return func(s *Syncer) {
		s.indexes = nil
		s.reason = reason
	}
}

func WithHistory(h History) Option {
	return func(s *Syncer) { s.history = h }
}

func WithProgress(p *Progress) Option {
	return func(s *Syncer) { s.progress = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) { s.logger = l }
}

func New(f *fetch.Fetcher, opts ...Option) *Syncer {
	s := &Syncer{
		fetcher:  f,
		reason:   "no index backend configured",
		progress: &Progress{},
		now:      time.Now,
		logger:   slog.Default(),
		latest:   make(map[string]*Result),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Progress returns the live run tracker.
func (s *Syncer) Progress() *Progress { return s.progress }

// Latest returns the last successful result of every pipeline, by name.
func (s *Syncer) Latest() map[string]*Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*Result, len(s.latest))
	for name, r := range s.latest {
		out[name] = r
	}
	return out
}

// Run executes one pipeline run. Local failures (a reference, a chunk, a
// record, a document) are collected in the result. The returned error is
// set only when the run produced nothing: no identifiers resolved or the
// record store could not be reached at all. The result is non-nil whenever
// the options were valid.
func (s *Syncer) Run(ctx context.Context, opts Options) (*Result, error) {
	p, ok := crm.Lookup(opts.Pipeline)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownPipeline, opts.Pipeline)
	}
	req, err := p.Request(opts.Filters)
	if err != nil {
		return nil, err
	}

	s.run.Lock()
	defer s.run.Unlock()

	extractedAt := s.now().UTC()
	res := &Result{
		RunID:             uuid.New(),
		Pipeline:          p.Name,
		Mode:              ModeIndexed,
		TransformFailures: []TransformFailure{},
		Documents:         []index.Document{},
		Metadata:          Metadata{ExtractedAt: extractedAt, Filters: opts.Filters},
	}
	logger := s.logger.With("run", res.RunID.String(), "pipeline", p.Name)

	s.progress.StartSync(res.RunID.String(), p.Name, len(opts.References), extractedAt)
	defer s.progress.EndSync()

	logger.Info("Starting run", "references", len(opts.References))

	res.Resolution = reference.ResolveAll(opts.References, p.Kind)
	for _, inv := range res.Resolution.Invalid {
		logger.Warn("Skipping invalid reference", "position", inv.Position, "reference", inv.Reference, "reason", inv.Reason)
	}
	if res.Resolution.Duplicates > 0 {
		logger.Info("Ignored duplicate references", "count", res.Resolution.Duplicates)
	}
	ids := res.Resolution.IDs
	s.progress.SetResolved(len(ids))
	if len(ids) == 0 {
		return res, s.finish(ctx, res, ErrNoIdentifiers)
	}

	keys, err := s.link(ctx, p, res, ids)
	if err != nil {
		return res, s.finish(ctx, res, err)
	}

	s.progress.SetStage(StageFetch)
	res.Fetch = s.fetcher.FetchByIDs(ctx, req, keys)
	if err := res.Fetch.Err(); err != nil {
		return res, s.finish(ctx, res, fmt.Errorf("%w: %w", ErrRecordStoreUnreachable, err))
	}
	if len(res.Fetch.Failures) > 0 {
		logger.Warn("Some chunks failed", "failed", len(res.Fetch.Failures), "chunks", res.Fetch.Chunks)
	}

	children := s.fetchChildren(ctx, p, opts, res)

	for _, r := range res.Fetch.Records {
		doc, err := p.Document(r, children[r.ID()], extractedAt)
		if err != nil {
			logger.Warn("Skipping record", "id", r.ID(), "error", err)
			res.TransformFailures = append(res.TransformFailures, TransformFailure{ID: r.ID(), Reason: err.Error()})
			continue
		}
		res.Documents = append(res.Documents, doc)
	}
	s.progress.SetFetched(len(res.Fetch.Records), len(res.Documents))

	s.progress.SetStage(StageAggregate)
	aggregator := aggregate.New(p.Profile, extractedAt)
	res.Report = aggregator.Aggregate(res.Documents)
	if p.Via != nil {
		res.Report.Groups = append(res.Report.Groups, aggregator.Group(p.Via.Group, p.Via.Members(res.Via.Records, res.Documents)))
	}
	if p.AccountInfo {
		s.attachAccounts(ctx, res, ids)
	}

	s.index(ctx, p, opts, res, logger)

	return res, s.finish(ctx, res, nil)
}

// link fetches the referenced records of a pipeline with a Via and returns
// the keys its membership query runs on. Other pipelines query ids directly.
func (s *Syncer) link(ctx context.Context, p crm.Pipeline, res *Result, ids []string) ([]string, error) {
	req, ok := p.ViaRequest()
	if !ok {
		return ids, nil
	}

	s.progress.SetStage(StageLink)
	linked := s.fetcher.FetchByIDs(ctx, req, ids)
	res.Via = &linked
	if err := linked.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRecordStoreUnreachable, err)
	}

	keys := p.Via.Keys(linked.Records)
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no %s found for %d %s records", ErrNoIdentifiers, p.Via.KeyField, len(linked.Records), p.Via.Object)
	}
	return keys, nil
}

func (s *Syncer) fetchChildren(ctx context.Context, p crm.Pipeline, opts Options, res *Result) map[string][]salesforce.Record {
	req, ok := p.ChildRequest()
	if !ok || opts.SkipChildren || len(res.Fetch.Records) == 0 {
		return nil
	}

	s.progress.SetStage(StageChildren)
	parents := make([]string, 0, len(res.Fetch.Records))
	for _, r := range res.Fetch.Records {
		parents = append(parents, r.ID())
	}
	children, result := s.fetcher.FetchChildren(ctx, req, parents)
	res.Children = &result
	return children
}

// attachAccounts adds account details to the account buckets. A failure
// only leaves the info out.
func (s *Syncer) attachAccounts(ctx context.Context, res *Result, ids []string) {
	g := res.Report.Group("account_id")
	if g == nil || len(g.Buckets) == 0 {
		return
	}

	s.progress.SetStage(StageAccounts)
	result := s.fetcher.FetchByIDs(ctx, crm.AccountRequest(), ids)
	res.Accounts = &result

	for _, r := range result.Records {
		if b := g.Bucket(r.ID()); b != nil {
			b.Info = crm.AccountInfo(r)
		}
	}
}

func (s *Syncer) index(ctx context.Context, p crm.Pipeline, opts Options, res *Result, logger *slog.Logger) {
	switch {
	case opts.ReportOnly:
		res.Mode, res.ModeReason = ModeReportOnly, "indexing disabled for this run"
		return
	case s.indexes == nil:
		res.Mode, res.ModeReason = ModeReportOnly, s.reason
		logger.Warn("Indexing skipped", "reason", s.reason)
		return
	}

	name := p.Index
	if opts.Index != "" {
		name = opts.Index
	}
	res.Index = name

	s.progress.SetStage(StageIndex)
	if err := s.indexes.EnsureSchema(ctx, name, p.Mapping); err != nil {
		res.Mode = ModeReportOnly
		res.ModeReason = fmt.Sprintf("index %s unavailable: %v", name, err)
		logger.Error("Indexing skipped, falling back to report only", "index", name, "error", err)
		return
	}

	result, err := s.indexes.BulkUpsert(ctx, name, res.Documents)
	res.Indexed = &result
	s.progress.SetIndexed(result.Succeeded)

	var partial *index.PartialWriteError
	switch {
	case errors.As(err, &partial):
		for _, f := range partial.Details {
			logger.Warn("Document not indexed", "index", name, "id", f.ID, "reason", f.Reason)
		}
	case err != nil:
		logger.Error("Bulk upsert failed", "index", name, "error", err)
	}
	logger.Info("Documents indexed", "index", name, "succeeded", result.Succeeded, "failed", len(result.Failures))
}

// finish records the run and returns runErr.
func (s *Syncer) finish(ctx context.Context, res *Result, runErr error) error {
	res.Metadata.FinishedAt = s.now().UTC()

	if runErr != nil {
		res.Mode, res.ModeReason = ModeFailed, runErr.Error()
		s.logger.Error("Run failed", "run", res.RunID.String(), "pipeline", res.Pipeline, "error", runErr)
	} else {
		s.mu.Lock()
		s.latest[res.Pipeline] = res
		s.mu.Unlock()
	}
	metrics.RunsTotal.WithLabelValues(res.Pipeline, res.Mode).Inc()

	if s.history == nil {
		return runErr
	}

	run := newRun(res, runErr)
	// history is written even when the run was cancelled
	if err := s.history.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		s.logger.Error("Failed to record run", "run", run.ID, "error", err)
	}
	return runErr
}

func newRun(res *Result, runErr error) *database.Run {
	run := &database.Run{
		ID:         res.RunID.String(),
		Pipeline:   res.Pipeline,
		Mode:       res.Mode,
		Reason:     res.ModeReason,
		StartedAt:  res.Metadata.ExtractedAt,
		FinishedAt: res.Metadata.FinishedAt,
		References: len(res.Resolution.IDs) + res.Resolution.Duplicates + len(res.Resolution.Invalid),
		Resolved:   len(res.Resolution.IDs),
		Invalid:    len(res.Resolution.Invalid),
		Fetched:    len(res.Fetch.Records),
		Complete:   runErr == nil,
	}
	if res.Indexed != nil {
		run.Indexed = res.Indexed.Succeeded
		run.Failed = len(res.Indexed.Failures)
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if filters, err := json.Marshal(res.Metadata.Filters); err == nil {
		run.Filters = filters
	}
	return run
}

// NextSync returns how long to wait before the next scheduled run of
// pipeline, zero when one is due. Without history only runs of this
// process count.
func (s *Syncer) NextSync(ctx context.Context, pipeline string, interval time.Duration) (time.Duration, error) {
	var last time.Time
	if s.history != nil {
		run, err := s.history.LastRun(ctx, pipeline)
		if err != nil {
			return 0, fmt.Errorf("failed to get last run: %w", err)
		}
		if run != nil {
			last = run.StartedAt
		}
	} else if r := s.Latest()[pipeline]; r != nil {
		last = r.Metadata.ExtractedAt
	}

	if last.IsZero() {
		return 0, nil
	}
	return max(last.Add(interval).Sub(s.now()), 0), nil
}
