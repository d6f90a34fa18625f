package metastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// migrationSchema creates the metadata tables on the target store. Applied
// idempotently on open; the origin store is never written to.
const migrationSchema = `
CREATE TABLE IF NOT EXISTS _migration_runs (
    id TEXT PRIMARY KEY,
    started_at TIMESTAMPTZ NOT NULL,
    phase TEXT NOT NULL,
    row_counts JSONB NOT NULL DEFAULT '{}',
    batch_size INTEGER NOT NULL,
    sample_size INTEGER NOT NULL,
    sample_seed BIGINT NOT NULL,
    seed_completed_at TIMESTAMPTZ,
    target_reads BIGINT NOT NULL DEFAULT 0,
    fallback_reads BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS _migration_checkpoints (
    run_id TEXT NOT NULL REFERENCES _migration_runs(id),
    seq INTEGER NOT NULL,
    phase TEXT NOT NULL,
    entered_at TIMESTAMPTZ NOT NULL,
    exited_at TIMESTAMPTZ,
    outcome TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS _migration_reports (
    run_id TEXT NOT NULL REFERENCES _migration_runs(id),
    created_at TIMESTAMPTZ NOT NULL,
    mode TEXT NOT NULL,
    overall_status TEXT NOT NULL,
    payload JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_migration_reports_run ON _migration_reports(run_id, created_at);
`

// PostgresStore persists runs in the target database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore applies the metadata schema and returns the store.
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	if _, err := db.ExecContext(ctx, migrationSchema); err != nil {
		return nil, fmt.Errorf("failed to create migration metadata tables: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *Run) error {
	counts, err := json.Marshal(run.RowCounts)
	if err != nil {
		return fmt.Errorf("failed to encode row counts: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO _migration_runs (id, started_at, phase, row_counts, batch_size, sample_size, sample_seed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.StartedAt, string(PhaseSeeded), counts, run.BatchSize, run.SampleSize, run.SampleSeed)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO _migration_checkpoints (run_id, seq, phase, entered_at)
		VALUES ($1, 0, $2, $3)`,
		run.ID, string(PhaseSeeded), run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run creation: %w", err)
	}

	run.Phase = PhaseSeeded
	run.Checkpoints = []Checkpoint{{Phase: PhaseSeeded, EnteredAt: run.StartedAt}}
	return nil
}

func (s *PostgresStore) ActiveRun(ctx context.Context) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id FROM _migration_runs
		WHERE phase NOT IN ($1, $2)
		ORDER BY started_at DESC LIMIT 1`,
		string(PhaseDecommissioned), string(PhaseRolledBack))

	var id string
	if err := row.Scan(&id); err == sql.ErrNoRows {
		return nil, ErrNoActiveRun
	} else if err != nil {
		return nil, fmt.Errorf("failed to query active run: %w", err)
	}
	return s.GetRun(ctx, id)
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, phase, row_counts, batch_size, sample_size, sample_seed,
		       seed_completed_at, target_reads, fallback_reads
		FROM _migration_runs WHERE id = $1`, id)

	var run Run
	var phase string
	var counts []byte
	if err := row.Scan(&run.ID, &run.StartedAt, &phase, &counts, &run.BatchSize,
		&run.SampleSize, &run.SampleSeed, &run.SeedCompletedAt,
		&run.TargetReads, &run.FallbackReads); err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	run.Phase = Phase(phase)

	if err := json.Unmarshal(counts, &run.RowCounts); err != nil {
		return nil, fmt.Errorf("failed to decode row counts: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT phase, entered_at, exited_at, outcome
		FROM _migration_checkpoints WHERE run_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cp Checkpoint
		var cpPhase string
		if err := rows.Scan(&cpPhase, &cp.EnteredAt, &cp.ExitedAt, &cp.Outcome); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		cp.Phase = Phase(cpPhase)
		run.Checkpoints = append(run.Checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read checkpoints: %w", err)
	}
	return &run, nil
}

func (s *PostgresStore) MarkSeedCompleted(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE _migration_runs SET seed_completed_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark seed completed: %w", err)
	}
	return checkFound(res)
}

func (s *PostgresStore) AdvancePhase(ctx context.Context, id string, to Phase, outcome string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE _migration_runs SET phase = $1 WHERE id = $2`, string(to), id)
	if err != nil {
		return fmt.Errorf("failed to update phase: %w", err)
	}
	if err := checkFound(res); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE _migration_checkpoints SET exited_at = $1, outcome = $2
		WHERE run_id = $3 AND exited_at IS NULL`, at, outcome, id)
	if err != nil {
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO _migration_checkpoints (run_id, seq, phase, entered_at)
		SELECT $1, COALESCE(MAX(seq), -1) + 1, $2, $3
		FROM _migration_checkpoints WHERE run_id = $1`,
		id, string(to), at)
	if err != nil {
		return fmt.Errorf("failed to append checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit phase advance: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordReadStats(ctx context.Context, id string, targetReads, fallbackReads int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE _migration_runs SET target_reads = $1, fallback_reads = $2 WHERE id = $3`,
		targetReads, fallbackReads, id)
	if err != nil {
		return fmt.Errorf("failed to record read stats: %w", err)
	}
	return checkFound(res)
}

func (s *PostgresStore) AppendReport(ctx context.Context, rec ReportRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO _migration_reports (run_id, created_at, mode, overall_status, payload)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.RunID, rec.CreatedAt, rec.Mode, rec.OverallStatus, rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to append report: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReportsSince(ctx context.Context, runID string, since time.Time) ([]ReportRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, created_at, mode, overall_status, payload
		FROM _migration_reports
		WHERE run_id = $1 AND created_at >= $2
		ORDER BY created_at`, runID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var out []ReportRecord
	for rows.Next() {
		var rec ReportRecord
		if err := rows.Scan(&rec.RunID, &rec.CreatedAt, &rec.Mode, &rec.OverallStatus, &rec.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LatestReport(ctx context.Context, runID string) (*ReportRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, created_at, mode, overall_status, payload
		FROM _migration_reports
		WHERE run_id = $1 ORDER BY created_at DESC LIMIT 1`, runID)

	var rec ReportRecord
	if err := row.Scan(&rec.RunID, &rec.CreatedAt, &rec.Mode, &rec.OverallStatus, &rec.Payload); err == sql.ErrNoRows {
		return nil, ErrReportNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get latest report: %w", err)
	}
	return &rec, nil
}

func checkFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}
