package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hotmigrate/hotmigrate/internal/metastore"
	"github.com/hotmigrate/hotmigrate/internal/validator"
)

// stubRunner returns canned reports and counts invocations.
type stubRunner struct {
	status validator.Status
	err    error
	calls  int
}

func (s *stubRunner) Run(_ context.Context, mode validator.Mode, _ string) (*validator.Report, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	report := &validator.Report{
		Timestamp:     time.Now().UTC(),
		Mode:          mode,
		OverallStatus: s.status,
	}
	if s.status == validator.StatusFail {
		report.Summary.Failed = 1
	}
	return report, nil
}

func newTestOrchestrator(t *testing.T, runner ValidationRunner) (*Orchestrator, metastore.Store, *metastore.Run) {
	t.Helper()
	store := metastore.NewMemoryStore()
	run := &metastore.Run{ID: "run-1", StartedAt: time.Now().UTC()}
	if err := store.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}
	cfg := Config{
		DualWriteWindow: time.Hour,
		QuickPasses:     3,
		FallbackWindow:  time.Hour,
		MaxFallbackRate: 0.01,
		Retention:       time.Hour,
		RTO:             time.Minute,
	}
	return New(store, runner, cfg, zerolog.Nop()), store, run
}

func markSeeded(t *testing.T, store metastore.Store, id string) {
	t.Helper()
	if err := store.MarkSeedCompleted(context.Background(), id, time.Now().UTC()); err != nil {
		t.Fatalf("Failed to mark seed completed: %v", err)
	}
}

// warpPast moves the orchestrator clock beyond every gate window.
func warpPast(o *Orchestrator) {
	o.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
}

func appendQuick(t *testing.T, store metastore.Store, runID string, status validator.Status) {
	t.Helper()
	err := store.AppendReport(context.Background(), metastore.ReportRecord{
		RunID:         runID,
		CreatedAt:     time.Now().UTC(),
		Mode:          string(validator.ModeQuick),
		OverallStatus: string(status),
		Payload:       []byte("{}"),
	})
	if err != nil {
		t.Fatalf("Failed to append report: %v", err)
	}
}

func TestAdvance_SeedIncomplete(t *testing.T) {
	runner := &stubRunner{status: validator.StatusPass}
	o, store, run := newTestOrchestrator(t, runner)

	_, err := o.Advance(context.Background(), false)
	var gateErr *GateError
	if !errors.As(err, &gateErr) {
		t.Fatalf("Expected a gate error, got %v", err)
	}
	if !strings.Contains(gateErr.Reason, "bulk copy") {
		t.Errorf("Unexpected reason: %q", gateErr.Reason)
	}
	if runner.calls != 0 {
		t.Errorf("Validation should not run before the copy gate, got %d calls", runner.calls)
	}

	got, _ := store.GetRun(context.Background(), run.ID)
	if got.Phase != metastore.PhaseSeeded {
		t.Errorf("A refused gate must not mutate the run, phase is %s", got.Phase)
	}
}

func TestAdvance_SeedToDualWrite(t *testing.T) {
	runner := &stubRunner{status: validator.StatusPass}
	o, store, run := newTestOrchestrator(t, runner)
	markSeeded(t, store, run.ID)

	got, err := o.Advance(context.Background(), false)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if got.Phase != metastore.PhaseDualWrite {
		t.Fatalf("Expected dual_write, got %s", got.Phase)
	}
	if runner.calls != 1 {
		t.Errorf("Expected one fresh validation, got %d", runner.calls)
	}

	// The gating report is persisted for audit.
	rec, err := store.LatestReport(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("Expected a persisted report: %v", err)
	}
	if rec.OverallStatus != string(validator.StatusPass) || rec.Mode != string(validator.ModeFull) {
		t.Errorf("Unexpected report record: %s %s", rec.Mode, rec.OverallStatus)
	}
}

func TestAdvance_FailedValidationBlocks(t *testing.T) {
	runner := &stubRunner{status: validator.StatusFail}
	o, store, run := newTestOrchestrator(t, runner)
	markSeeded(t, store, run.ID)

	_, err := o.Advance(context.Background(), false)
	var gateErr *GateError
	if !errors.As(err, &gateErr) {
		t.Fatalf("Expected a gate error, got %v", err)
	}

	got, _ := store.GetRun(context.Background(), run.ID)
	if got.Phase != metastore.PhaseSeeded {
		t.Errorf("Phase must not change on failed validation, got %s", got.Phase)
	}
}

func TestAdvance_CancelledValidationBlocks(t *testing.T) {
	runner := &stubRunner{status: validator.StatusCancelled}
	o, store, run := newTestOrchestrator(t, runner)
	markSeeded(t, store, run.ID)

	_, err := o.Advance(context.Background(), false)
	var gateErr *GateError
	if !errors.As(err, &gateErr) {
		t.Fatalf("A cancelled validation must never open a gate, got %v", err)
	}
	if !strings.Contains(gateErr.Reason, "CANCELLED") {
		t.Errorf("Unexpected reason: %q", gateErr.Reason)
	}
}

func TestAdvance_DualWriteWindowNotElapsed(t *testing.T) {
	runner := &stubRunner{status: validator.StatusPass}
	o, store, run := newTestOrchestrator(t, runner)
	markSeeded(t, store, run.ID)
	if _, err := o.Advance(context.Background(), false); err != nil {
		t.Fatalf("Advance to dual_write failed: %v", err)
	}

	_, err := o.Advance(context.Background(), false)
	var gateErr *GateError
	if !errors.As(err, &gateErr) {
		t.Fatalf("Expected a gate error, got %v", err)
	}
	if !strings.Contains(gateErr.Reason, "window") {
		t.Errorf("Unexpected reason: %q", gateErr.Reason)
	}
}

func TestAdvance_QuickPassStreak(t *testing.T) {
	runner := &stubRunner{status: validator.StatusPass}
	o, store, run := newTestOrchestrator(t, runner)
	markSeeded(t, store, run.ID)
	if _, err := o.Advance(context.Background(), false); err != nil {
		t.Fatalf("Advance to dual_write failed: %v", err)
	}
	warpPast(o)

	// Two passes are not enough.
	appendQuick(t, store, run.ID, validator.StatusPass)
	appendQuick(t, store, run.ID, validator.StatusPass)
	if _, err := o.Advance(context.Background(), false); err == nil {
		t.Fatal("Expected the streak gate to refuse with two passes")
	}

	// A failure resets the streak even with enough total passes.
	appendQuick(t, store, run.ID, validator.StatusFail)
	appendQuick(t, store, run.ID, validator.StatusPass)
	if _, err := o.Advance(context.Background(), false); err == nil {
		t.Fatal("Expected the streak gate to refuse after a reset")
	}

	appendQuick(t, store, run.ID, validator.StatusPass)
	appendQuick(t, store, run.ID, validator.StatusPass)
	got, err := o.Advance(context.Background(), false)
	if err != nil {
		t.Fatalf("Advance failed with three consecutive passes: %v", err)
	}
	if got.Phase != metastore.PhaseTargetPrimaryFallback {
		t.Errorf("Expected target_primary_fallback, got %s", got.Phase)
	}
}

// advanceToFallback walks a run to target_primary_fallback.
func advanceToFallback(t *testing.T, o *Orchestrator, store metastore.Store, runID string) {
	t.Helper()
	markSeeded(t, store, runID)
	if _, err := o.Advance(context.Background(), false); err != nil {
		t.Fatalf("Advance to dual_write failed: %v", err)
	}
	warpPast(o)
	for i := 0; i < 3; i++ {
		appendQuick(t, store, runID, validator.StatusPass)
	}
	if _, err := o.Advance(context.Background(), false); err != nil {
		t.Fatalf("Advance to target_primary_fallback failed: %v", err)
	}
}

func TestAdvance_FallbackRateGate(t *testing.T) {
	runner := &stubRunner{status: validator.StatusPass}
	o, store, run := newTestOrchestrator(t, runner)
	advanceToFallback(t, o, store, run.ID)
	o.now = func() time.Time { return time.Now().UTC().Add(4 * time.Hour) }

	// 50 fallbacks in 1050 reads is far above a 1% budget.
	if err := store.RecordReadStats(context.Background(), run.ID, 1000, 50); err != nil {
		t.Fatalf("Failed to record read stats: %v", err)
	}
	_, err := o.Advance(context.Background(), false)
	var gateErr *GateError
	if !errors.As(err, &gateErr) {
		t.Fatalf("Expected a gate error, got %v", err)
	}
	if !strings.Contains(gateErr.Reason, "fallback read rate") {
		t.Errorf("Unexpected reason: %q", gateErr.Reason)
	}

	if err := store.RecordReadStats(context.Background(), run.ID, 1000, 5); err != nil {
		t.Fatalf("Failed to record read stats: %v", err)
	}
	got, err := o.Advance(context.Background(), false)
	if err != nil {
		t.Fatalf("Advance failed with a healthy rate: %v", err)
	}
	if got.Phase != metastore.PhaseTargetOnly {
		t.Errorf("Expected target_only, got %s", got.Phase)
	}
}

func TestAdvance_DecommissionNeedsConfirmationAndRetention(t *testing.T) {
	runner := &stubRunner{status: validator.StatusPass}
	o, store, run := newTestOrchestrator(t, runner)
	advanceToFallback(t, o, store, run.ID)
	o.now = func() time.Time { return time.Now().UTC().Add(4 * time.Hour) }
	if _, err := o.Advance(context.Background(), false); err != nil {
		t.Fatalf("Advance to target_only failed: %v", err)
	}

	// Inside the retention period even a confirmed advance is refused.
	if _, err := o.Advance(context.Background(), true); err == nil {
		t.Fatal("Expected the retention gate to refuse")
	}

	o.now = func() time.Time { return time.Now().UTC().Add(8 * time.Hour) }
	if _, err := o.Advance(context.Background(), false); err == nil {
		t.Fatal("Expected refusal without confirmation")
	}

	calls := runner.calls
	got, err := o.Advance(context.Background(), true)
	if err != nil {
		t.Fatalf("Confirmed advance failed: %v", err)
	}
	if got.Phase != metastore.PhaseDecommissioned {
		t.Errorf("Expected decommissioned, got %s", got.Phase)
	}
	if runner.calls != calls {
		t.Errorf("Decommission must not run validation, got %d extra calls", runner.calls-calls)
	}
	if _, err := o.Advance(context.Background(), true); !errors.Is(err, metastore.ErrNoActiveRun) {
		t.Errorf("Expected no active run after decommission, got %v", err)
	}
}

func TestAdvance_NeverReusesStalePass(t *testing.T) {
	runner := &stubRunner{status: validator.StatusPass}
	o, store, run := newTestOrchestrator(t, runner)
	markSeeded(t, store, run.ID)

	if _, err := o.Advance(context.Background(), false); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	warpPast(o)
	for i := 0; i < 3; i++ {
		appendQuick(t, store, run.ID, validator.StatusPass)
	}
	if _, err := o.Advance(context.Background(), false); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	// Each gated transition ran its own full validation.
	if runner.calls != 2 {
		t.Errorf("Expected 2 fresh validations, got %d", runner.calls)
	}
}

func TestRollback_FromEachPhase(t *testing.T) {
	phases := []metastore.Phase{
		metastore.PhaseSeeded,
		metastore.PhaseDualWrite,
		metastore.PhaseTargetPrimaryFallback,
		metastore.PhaseTargetOnly,
	}
	for _, phase := range phases {
		t.Run(string(phase), func(t *testing.T) {
			runner := &stubRunner{status: validator.StatusPass}
			o, store, run := newTestOrchestrator(t, runner)
			switch phase {
			case metastore.PhaseDualWrite:
				markSeeded(t, store, run.ID)
				mustAdvance(t, o, false)
			case metastore.PhaseTargetPrimaryFallback:
				advanceToFallback(t, o, store, run.ID)
			case metastore.PhaseTargetOnly:
				advanceToFallback(t, o, store, run.ID)
				o.now = func() time.Time { return time.Now().UTC().Add(4 * time.Hour) }
				mustAdvance(t, o, false)
			}

			got, err := o.Rollback(context.Background(), "validation mismatch")
			if err != nil {
				t.Fatalf("Rollback from %s failed: %v", phase, err)
			}
			if got.Phase != metastore.PhaseRolledBack {
				t.Fatalf("Expected rolled_back, got %s", got.Phase)
			}

			last := got.Checkpoints[len(got.Checkpoints)-1]
			if last.Phase != metastore.PhaseRolledBack {
				t.Errorf("Expected a rolled_back checkpoint, got %s", last.Phase)
			}
			prev := got.Checkpoints[len(got.Checkpoints)-2]
			if !strings.Contains(prev.Outcome, "validation mismatch") {
				t.Errorf("Outcome should carry the cause, got %q", prev.Outcome)
			}
			if _, err := o.Rollback(context.Background(), "again"); !errors.Is(err, metastore.ErrNoActiveRun) {
				t.Errorf("Rollback must be terminal, got %v", err)
			}
		})
	}
}

func mustAdvance(t *testing.T, o *Orchestrator, confirmed bool) {
	t.Helper()
	if _, err := o.Advance(context.Background(), confirmed); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
}
