package metastore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	runs    map[string]*Run
	order   []string
	reports []ReportRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*Run)}
}

func (s *MemoryStore) CreateRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := run.Clone()
	cp.Phase = PhaseSeeded
	cp.Checkpoints = []Checkpoint{{Phase: PhaseSeeded, EnteredAt: run.StartedAt}}
	s.runs[run.ID] = cp
	s.order = append(s.order, run.ID)

	run.Phase = cp.Phase
	run.Checkpoints = append([]Checkpoint(nil), cp.Checkpoints...)
	return nil
}

func (s *MemoryStore) ActiveRun(_ context.Context) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.order) - 1; i >= 0; i-- {
		run := s.runs[s.order[i]]
		if !run.Phase.Terminal() {
			return run.Clone(), nil
		}
	}
	return nil, ErrNoActiveRun
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run.Clone(), nil
}

func (s *MemoryStore) MarkSeedCompleted(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	run.SeedCompletedAt = &at
	return nil
}

func (s *MemoryStore) AdvancePhase(_ context.Context, id string, to Phase, outcome string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}

	for i := range run.Checkpoints {
		if run.Checkpoints[i].Phase == run.Phase && run.Checkpoints[i].ExitedAt == nil {
			exited := at
			run.Checkpoints[i].ExitedAt = &exited
			run.Checkpoints[i].Outcome = outcome
		}
	}
	run.Phase = to
	run.Checkpoints = append(run.Checkpoints, Checkpoint{Phase: to, EnteredAt: at})
	return nil
}

func (s *MemoryStore) RecordReadStats(_ context.Context, id string, targetReads, fallbackReads int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	run.TargetReads = targetReads
	run.FallbackReads = fallbackReads
	return nil
}

func (s *MemoryStore) AppendReport(_ context.Context, rec ReportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, rec)
	return nil
}

func (s *MemoryStore) ReportsSince(_ context.Context, runID string, since time.Time) ([]ReportRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ReportRecord
	for _, rec := range s.reports {
		if rec.RunID == runID && !rec.CreatedAt.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryStore) LatestReport(_ context.Context, runID string) (*ReportRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.reports) - 1; i >= 0; i-- {
		if s.reports[i].RunID == runID {
			rec := s.reports[i]
			return &rec, nil
		}
	}
	return nil, ErrReportNotFound
}

// Clone returns a deep copy so callers never share mutable state with the
// store.
func (r *Run) Clone() *Run {
	cp := *r
	cp.RowCounts = make(map[string]int64, len(r.RowCounts))
	for k, v := range r.RowCounts {
		cp.RowCounts[k] = v
	}
	cp.Checkpoints = append([]Checkpoint(nil), r.Checkpoints...)
	if r.SeedCompletedAt != nil {
		at := *r.SeedCompletedAt
		cp.SeedCompletedAt = &at
	}
	return &cp
}
