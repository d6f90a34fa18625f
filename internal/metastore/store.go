// Package metastore persists migration runs, checkpoints, and validation
// reports so orchestrator state survives process restarts. The backing store
// is the target database (never the origin) or an in-memory store in tests.
package metastore

import (
	"context"
	"errors"
	"time"
)

// Phase is a cutover state. Phases advance strictly in order; rolled_back is
// terminal and reachable from any non-terminal phase.
type Phase string

const (
	PhaseSeeded                Phase = "seeded"
	PhaseDualWrite             Phase = "dual_write"
	PhaseTargetPrimaryFallback Phase = "target_primary_fallback"
	PhaseTargetOnly            Phase = "target_only"
	PhaseDecommissioned        Phase = "decommissioned"
	PhaseRolledBack            Phase = "rolled_back"
)

// Terminal reports whether no further transition is possible from p.
func (p Phase) Terminal() bool {
	return p == PhaseDecommissioned || p == PhaseRolledBack
}

// Next returns the phase that follows p in the forward path.
func (p Phase) Next() (Phase, bool) {
	switch p {
	case PhaseSeeded:
		return PhaseDualWrite, true
	case PhaseDualWrite:
		return PhaseTargetPrimaryFallback, true
	case PhaseTargetPrimaryFallback:
		return PhaseTargetOnly, true
	case PhaseTargetOnly:
		return PhaseDecommissioned, true
	default:
		return "", false
	}
}

// Checkpoint records entry into (and exit from) one phase.
type Checkpoint struct {
	Phase     Phase      `json:"phase"`
	EnteredAt time.Time  `json:"entered_at"`
	ExitedAt  *time.Time `json:"exited_at,omitempty"`
	Outcome   string     `json:"outcome,omitempty"`
}

// Run is one migration attempt. Retained after completion as an audit record.
type Run struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Phase     Phase     `json:"phase"`

	// RowCounts is the per-table origin row-count snapshot taken when the
	// run was created.
	RowCounts map[string]int64 `json:"row_counts"`

	BatchSize  int   `json:"batch_size"`
	SampleSize int   `json:"sample_size"`
	SampleSeed int64 `json:"sample_seed"`

	// SeedCompletedAt is set once the bulk copy of every table finished.
	SeedCompletedAt *time.Time `json:"seed_completed_at,omitempty"`

	// Read-routing counters maintained during target_primary_fallback.
	TargetReads   int64 `json:"target_reads"`
	FallbackReads int64 `json:"fallback_reads"`

	Checkpoints []Checkpoint `json:"checkpoints"`
}

// CurrentCheckpoint returns the checkpoint for the run's current phase.
func (r *Run) CurrentCheckpoint() *Checkpoint {
	for i := len(r.Checkpoints) - 1; i >= 0; i-- {
		if r.Checkpoints[i].Phase == r.Phase && r.Checkpoints[i].ExitedAt == nil {
			return &r.Checkpoints[i]
		}
	}
	return nil
}

// ReportRecord is a persisted validation report (append-only history).
type ReportRecord struct {
	RunID         string    `json:"run_id"`
	CreatedAt     time.Time `json:"created_at"`
	Mode          string    `json:"mode"`
	OverallStatus string    `json:"overall_status"`
	Payload       []byte    `json:"payload"`
}

var (
	ErrRunNotFound    = errors.New("migration run not found")
	ErrNoActiveRun    = errors.New("no active migration run")
	ErrReportNotFound = errors.New("no validation report recorded")
)

// Store persists migration runs. Implementations must be safe for concurrent
// use.
type Store interface {
	// CreateRun persists a new run in phase seeded with an open checkpoint.
	CreateRun(ctx context.Context, run *Run) error

	// ActiveRun returns the most recent run in a non-terminal phase.
	// Returns ErrNoActiveRun if none exists.
	ActiveRun(ctx context.Context) (*Run, error)

	// GetRun returns a run by ID. Returns ErrRunNotFound if missing.
	GetRun(ctx context.Context, id string) (*Run, error)

	// MarkSeedCompleted records the bulk-copy completion time.
	MarkSeedCompleted(ctx context.Context, id string, at time.Time) error

	// AdvancePhase closes the current checkpoint with outcome and opens a
	// checkpoint for the new phase.
	AdvancePhase(ctx context.Context, id string, to Phase, outcome string, at time.Time) error

	// RecordReadStats overwrites the routing counters for a run.
	RecordReadStats(ctx context.Context, id string, targetReads, fallbackReads int64) error

	// AppendReport stores a validation report. Reports are never mutated.
	AppendReport(ctx context.Context, rec ReportRecord) error

	// ReportsSince returns reports for a run created at or after since,
	// oldest first.
	ReportsSince(ctx context.Context, runID string, since time.Time) ([]ReportRecord, error)

	// LatestReport returns the newest report for a run.
	// Returns ErrReportNotFound if none exists.
	LatestReport(ctx context.Context, runID string) (*ReportRecord, error)
}
