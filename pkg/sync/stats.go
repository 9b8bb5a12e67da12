package sync

import (
	"sync"
	"time"
)

// Run stages, in order.
const (
	StageResolve   = "resolve"
	StageLink      = "link"
	StageFetch     = "fetch"
	StageChildren  = "children"
	StageAggregate = "aggregate"
	StageAccounts  = "accounts"
	StageIndex     = "index"
)

// SyncStats is a snapshot of the run in progress.
type SyncStats struct {
	IsRunning  bool      `json:"isRunning"`
	RunID      string    `json:"runId,omitempty"`
	Pipeline   string    `json:"pipeline,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	StartedAt  time.Time `json:"startedAt,omitzero"`
	References int       `json:"references"`
	Resolved   int       `json:"resolved"`
	Fetched    int       `json:"fetched"`
	Documents  int       `json:"documents"`
	Indexed    int       `json:"indexed"`
}

// Progress tracks the current run. The zero value is ready to use.
type Progress struct {
	mu    sync.RWMutex
	stats SyncStats
}

// Get returns a copy of the current stats.
func (p *Progress) Get() SyncStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.stats
}

func (p *Progress) update(fn func(s *SyncStats)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fn(&p.stats)
}

// StartSync resets the stats for a new run.
func (p *Progress) StartSync(runID, pipeline string, references int, at time.Time) {
	p.update(func(s *SyncStats) {
		*s = SyncStats{
			IsRunning:  true,
			RunID:      runID,
			Pipeline:   pipeline,
			Stage:      StageResolve,
			StartedAt:  at,
			References: references,
		}
	})
}

func (p *Progress) SetStage(stage string) {
	p.update(func(s *SyncStats) { s.Stage = stage })
}

func (p *Progress) SetResolved(n int) {
	p.update(func(s *SyncStats) { s.Resolved = n })
}

func (p *Progress) SetFetched(records, documents int) {
	p.update(func(s *SyncStats) {
		s.Fetched = records
		s.Documents = documents
	})
}

func (p *Progress) SetIndexed(n int) {
	p.update(func(s *SyncStats) { s.Indexed = n })
}

// EndSync marks the run as finished. Counters of the last run are kept.
func (p *Progress) EndSync() {
	p.update(func(s *SyncStats) {
		s.IsRunning = false
		s.Stage = ""
	})
}
