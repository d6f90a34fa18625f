// Package orchestrator drives the cutover state machine. Phases advance only
// through gates backed by fresh validation evidence, and any non-terminal
// phase can roll back to the origin without mutating it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hotmigrate/hotmigrate/internal/metastore"
	"github.com/hotmigrate/hotmigrate/internal/validator"
)

// ValidationRunner produces a fresh report. *validator.Validator satisfies
// this; tests substitute a stub.
type ValidationRunner interface {
	Run(ctx context.Context, mode validator.Mode, table string) (*validator.Report, error)
}

// Config holds the gate thresholds.
type Config struct {
	// DualWriteWindow is the minimum time spent in dual_write before the
	// next transition is considered.
	DualWriteWindow time.Duration

	// QuickPasses is how many consecutive quick validations must have
	// passed since entering dual_write.
	QuickPasses int

	// FallbackWindow is the minimum time spent in target_primary_fallback.
	FallbackWindow time.Duration

	// MaxFallbackRate is the highest tolerated share of reads served by
	// the origin fallback during target_primary_fallback.
	MaxFallbackRate float64

	// Retention is how long the origin is kept after target_only before
	// decommissioning is allowed.
	Retention time.Duration

	// RTO bounds how long a rollback may take.
	RTO time.Duration
}

// DefaultConfig mirrors the documented operational defaults.
var DefaultConfig = Config{
	DualWriteWindow: 24 * time.Hour,
	QuickPasses:     3,
	FallbackWindow:  24 * time.Hour,
	MaxFallbackRate: 0.01,
	Retention:       7 * 24 * time.Hour,
	RTO:             5 * time.Minute,
}

// GateError reports a refused transition. The run is left untouched.
type GateError struct {
	From   metastore.Phase
	To     metastore.Phase
	Reason string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("cannot advance %s -> %s: %s", e.From, e.To, e.Reason)
}

var ErrTerminalPhase = errors.New("run is in a terminal phase")

// Orchestrator owns phase transitions for the active run.
type Orchestrator struct {
	store  metastore.Store
	runner ValidationRunner
	cfg    Config
	log    zerolog.Logger

	// now is injectable so gate-window tests do not sleep.
	now func() time.Time
}

// New wires an orchestrator. Zero config fields fall back to the defaults.
func New(store metastore.Store, runner ValidationRunner, cfg Config, log zerolog.Logger) *Orchestrator {
	if cfg.DualWriteWindow <= 0 {
		cfg.DualWriteWindow = DefaultConfig.DualWriteWindow
	}
	if cfg.QuickPasses <= 0 {
		cfg.QuickPasses = DefaultConfig.QuickPasses
	}
	if cfg.FallbackWindow <= 0 {
		cfg.FallbackWindow = DefaultConfig.FallbackWindow
	}
	if cfg.MaxFallbackRate <= 0 {
		cfg.MaxFallbackRate = DefaultConfig.MaxFallbackRate
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig.Retention
	}
	if cfg.RTO <= 0 {
		cfg.RTO = DefaultConfig.RTO
	}
	return &Orchestrator{store: store, runner: runner, cfg: cfg, log: log, now: time.Now}
}

// Advance moves the active run to its next phase if the gate for that
// transition holds. Gates always demand fresh evidence; a report from an
// earlier Advance call is never reused. confirmed acknowledges the
// irreversible decommission transition.
func (o *Orchestrator) Advance(ctx context.Context, confirmed bool) (*metastore.Run, error) {
	run, err := o.store.ActiveRun(ctx)
	if err != nil {
		return nil, err
	}
	next, ok := run.Phase.Next()
	if !ok {
		return nil, ErrTerminalPhase
	}

	var outcome string
	switch run.Phase {
	case metastore.PhaseSeeded:
		outcome, err = o.gateSeedToDualWrite(ctx, run)
	case metastore.PhaseDualWrite:
		outcome, err = o.gateDualWriteToFallback(ctx, run)
	case metastore.PhaseTargetPrimaryFallback:
		outcome, err = o.gateFallbackToTargetOnly(ctx, run)
	case metastore.PhaseTargetOnly:
		outcome, err = o.gateTargetOnlyToDecommission(run, confirmed)
	default:
		return nil, ErrTerminalPhase
	}
	if err != nil {
		return nil, err
	}

	if err := o.store.AdvancePhase(ctx, run.ID, next, outcome, o.now()); err != nil {
		return nil, err
	}
	o.log.Info().Str("run_id", run.ID).Str("from", string(run.Phase)).
		Str("to", string(next)).Msg("phase advanced")
	return o.store.GetRun(ctx, run.ID)
}

func (o *Orchestrator) gateSeedToDualWrite(ctx context.Context, run *metastore.Run) (string, error) {
	if run.SeedCompletedAt == nil {
		return "", &GateError{From: run.Phase, To: metastore.PhaseDualWrite,
			Reason: "bulk copy has not completed"}
	}
	if err := o.freshFullPass(ctx, run, metastore.PhaseDualWrite); err != nil {
		return "", err
	}
	return "seed verified by full validation", nil
}

func (o *Orchestrator) gateDualWriteToFallback(ctx context.Context, run *metastore.Run) (string, error) {
	cp := run.CurrentCheckpoint()
	if cp == nil {
		return "", fmt.Errorf("run %s has no open checkpoint", run.ID)
	}
	to := metastore.PhaseTargetPrimaryFallback

	if elapsed := o.now().Sub(cp.EnteredAt); elapsed < o.cfg.DualWriteWindow {
		return "", &GateError{From: run.Phase, To: to, Reason: fmt.Sprintf(
			"observation window not elapsed (%s of %s)", elapsed.Round(time.Second), o.cfg.DualWriteWindow)}
	}

	streak, err := o.quickPassStreak(ctx, run, cp.EnteredAt)
	if err != nil {
		return "", err
	}
	if streak < o.cfg.QuickPasses {
		return "", &GateError{From: run.Phase, To: to, Reason: fmt.Sprintf(
			"%d consecutive quick validation passes required, have %d", o.cfg.QuickPasses, streak)}
	}

	if err := o.freshFullPass(ctx, run, to); err != nil {
		return "", err
	}
	return fmt.Sprintf("dual-write stable for %s with %d quick passes", o.cfg.DualWriteWindow, streak), nil
}

func (o *Orchestrator) gateFallbackToTargetOnly(ctx context.Context, run *metastore.Run) (string, error) {
	cp := run.CurrentCheckpoint()
	if cp == nil {
		return "", fmt.Errorf("run %s has no open checkpoint", run.ID)
	}
	to := metastore.PhaseTargetOnly

	if elapsed := o.now().Sub(cp.EnteredAt); elapsed < o.cfg.FallbackWindow {
		return "", &GateError{From: run.Phase, To: to, Reason: fmt.Sprintf(
			"observation window not elapsed (%s of %s)", elapsed.Round(time.Second), o.cfg.FallbackWindow)}
	}

	// No recorded reads counts as a zero fallback rate; the window already
	// forced an observation period.
	total := run.TargetReads + run.FallbackReads
	if total > 0 {
		rate := float64(run.FallbackReads) / float64(total)
		if rate > o.cfg.MaxFallbackRate {
			return "", &GateError{From: run.Phase, To: to, Reason: fmt.Sprintf(
				"fallback read rate %.4f exceeds %.4f (%d of %d reads)",
				rate, o.cfg.MaxFallbackRate, run.FallbackReads, total)}
		}
	}

	if err := o.freshFullPass(ctx, run, to); err != nil {
		return "", err
	}
	return fmt.Sprintf("target primary healthy, %d of %d reads fell back", run.FallbackReads, total), nil
}

// gateTargetOnlyToDecommission needs no validation pass: once writes stopped
// reaching the origin it is stale by design and can only be retired.
func (o *Orchestrator) gateTargetOnlyToDecommission(run *metastore.Run, confirmed bool) (string, error) {
	cp := run.CurrentCheckpoint()
	if cp == nil {
		return "", fmt.Errorf("run %s has no open checkpoint", run.ID)
	}
	to := metastore.PhaseDecommissioned

	if elapsed := o.now().Sub(cp.EnteredAt); elapsed < o.cfg.Retention {
		return "", &GateError{From: run.Phase, To: to, Reason: fmt.Sprintf(
			"origin retention not elapsed (%s of %s)", elapsed.Round(time.Second), o.cfg.Retention)}
	}
	if !confirmed {
		return "", &GateError{From: run.Phase, To: to,
			Reason: "decommissioning the origin is irreversible and must be confirmed"}
	}
	return "origin retired after retention", nil
}

// freshFullPass runs a full validation now, persists the report, and refuses
// the gate unless it passed.
func (o *Orchestrator) freshFullPass(ctx context.Context, run *metastore.Run, to metastore.Phase) error {
	report, err := o.runner.Run(ctx, validator.ModeFull, "")
	if err != nil {
		return fmt.Errorf("validation failed to run: %w", err)
	}
	report.RunID = run.ID
	if err := o.RecordReport(ctx, run.ID, report); err != nil {
		return err
	}
	if report.OverallStatus != validator.StatusPass {
		return &GateError{From: run.Phase, To: to, Reason: fmt.Sprintf(
			"full validation finished %s (%d failed)", report.OverallStatus, report.Summary.Failed)}
	}
	return nil
}

// RecordReport persists a validation report against a run.
func (o *Orchestrator) RecordReport(ctx context.Context, runID string, report *validator.Report) error {
	payload, err := report.JSON()
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return o.store.AppendReport(ctx, metastore.ReportRecord{
		RunID:         runID,
		CreatedAt:     report.Timestamp,
		Mode:          string(report.Mode),
		OverallStatus: string(report.OverallStatus),
		Payload:       payload,
	})
}

// quickPassStreak counts trailing consecutive quick validations that passed
// since the phase was entered.
func (o *Orchestrator) quickPassStreak(ctx context.Context, run *metastore.Run, since time.Time) (int, error) {
	reports, err := o.store.ReportsSince(ctx, run.ID, since)
	if err != nil {
		return 0, err
	}
	streak := 0
	for _, rec := range reports {
		if rec.Mode != string(validator.ModeQuick) {
			continue
		}
		if rec.OverallStatus == string(validator.StatusPass) {
			streak++
		} else {
			streak = 0
		}
	}
	return streak, nil
}

// Rollback flips the active run to rolled_back within the recovery-time
// budget. The origin was authoritative the whole time, so no data moves; the
// transition only redirects all traffic back.
func (o *Orchestrator) Rollback(ctx context.Context, cause string) (*metastore.Run, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RTO)
	defer cancel()

	run, err := o.store.ActiveRun(ctx)
	if err != nil {
		return nil, err
	}
	if run.Phase.Terminal() {
		return nil, ErrTerminalPhase
	}

	outcome := "rolled back"
	if cause != "" {
		outcome = "rolled back: " + cause
	}
	if err := o.store.AdvancePhase(ctx, run.ID, metastore.PhaseRolledBack, outcome, o.now()); err != nil {
		return nil, err
	}
	o.log.Warn().Str("run_id", run.ID).Str("from", string(run.Phase)).
		Str("cause", cause).Msg("migration rolled back")
	return o.store.GetRun(ctx, run.ID)
}
