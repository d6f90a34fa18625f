// Package copier seeds the target store with a batched, idempotent transfer
// of existing origin rows. Tables copy in foreign-key dependency order,
// parents before children.
package copier

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"

	"github.com/hotmigrate/hotmigrate/internal/catalog"
	"github.com/hotmigrate/hotmigrate/internal/database"
	"github.com/hotmigrate/hotmigrate/internal/translate"
)

// DefaultBatchSize bounds one target transaction.
const DefaultBatchSize = 1000

// batchAttempts is how many times a failed batch is re-read and re-applied
// before the whole table copy fails.
const batchAttempts = 3

// CopyResult summarizes one table copy.
type CopyResult struct {
	Table      string        `json:"table"`
	RowsCopied int64         `json:"rows_copied"`
	Batches    int           `json:"batches"`
	Retries    int           `json:"retries"`
	Duration   time.Duration `json:"duration"`
	Errors     []string      `json:"errors,omitempty"`
}

// Config controls copy behavior.
type Config struct {
	BatchSize   int
	Concurrency int  // max tables copying in parallel within a wave; 0 = wave size
	Progress    bool // render a progress bar per table on stderr
}

// Copier performs the one-time bulk transfer.
type Copier struct {
	origin       *sql.DB
	target       *sql.DB
	originDriver string
	targetDriver string
	catalog      *catalog.Catalog
	cfg          Config
	log          zerolog.Logger
}

// New creates a Copier. originDriver and targetDriver are database.Driver*
// constants detected when the connections were opened.
func New(origin, target *sql.DB, originDriver, targetDriver string, cat *catalog.Catalog, cfg Config, log zerolog.Logger) *Copier {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Copier{
		origin:       origin,
		target:       target,
		originDriver: originDriver,
		targetDriver: targetDriver,
		catalog:      cat,
		cfg:          cfg,
		log:          log,
	}
}

// CopyAll copies every catalog table in dependency waves. Tables within a
// wave copy in parallel on a bounded pool; a failing wave stops the copy so
// children never copy before their parents.
func (c *Copier) CopyAll(ctx context.Context) ([]CopyResult, error) {
	waves, err := c.catalog.CopyOrder()
	if err != nil {
		return nil, err
	}

	var results []CopyResult
	for _, wave := range waves {
		limit := c.cfg.Concurrency
		if limit <= 0 || limit > len(wave) {
			limit = len(wave)
		}

		var (
			mu       sync.Mutex
			wg       sync.WaitGroup
			firstErr error
			sem      = make(chan struct{}, limit)
		)
		for _, table := range wave {
			wg.Add(1)
			go func(table string) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				res, err := c.CopyTable(ctx, table, c.cfg.BatchSize)
				mu.Lock()
				defer mu.Unlock()
				results = append(results, res)
				if err != nil && firstErr == nil {
					firstErr = fmt.Errorf("table %s: %w", table, err)
				}
			}(table)
		}
		wg.Wait()
		if firstErr != nil {
			return results, firstErr
		}
	}
	return results, nil
}

// CopyTable copies one table in primary-key order, one target transaction per
// batch. Re-running on a partially copied table is safe: rows upsert by key.
func (c *Copier) CopyTable(ctx context.Context, table string, batchSize int) (CopyResult, error) {
	start := time.Now()
	res := CopyResult{Table: table}
	if batchSize <= 0 {
		batchSize = c.cfg.BatchSize
	}

	spec, err := c.catalog.Table(table)
	if err != nil {
		return res, err
	}
	mapping, err := translate.Translate(spec)
	if err != nil {
		return res, err
	}

	var bar *progressbar.ProgressBar
	if c.cfg.Progress {
		var total int64
		if err := c.origin.QueryRowContext(ctx,
			fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&total); err != nil {
			return res, fmt.Errorf("failed to count origin rows: %w", err)
		}
		bar = progressbar.NewOptions64(total,
			progressbar.OptionSetDescription("copy "+table),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
	}

	keyset := len(spec.PrimaryKey) == 1
	var lastKey any
	offset := 0

	for {
		if err := ctx.Err(); err != nil {
			res.Duration = time.Since(start)
			return res, err
		}

		var copied int
		var batchErr error
		for attempt := 1; attempt <= batchAttempts; attempt++ {
			copied, batchErr = c.copyBatch(ctx, spec, mapping, batchSize, keyset, &lastKey, offset)
			if batchErr == nil {
				break
			}
			res.Retries++
			res.Errors = append(res.Errors, batchErr.Error())
			c.log.Warn().Str("table", table).Int("attempt", attempt).Err(batchErr).
				Msg("batch copy failed, retrying with fresh reads")
		}
		if batchErr != nil {
			res.Duration = time.Since(start)
			return res, fmt.Errorf("batch failed after %d attempts: %w", batchAttempts, batchErr)
		}
		if copied == 0 {
			break
		}

		res.RowsCopied += int64(copied)
		res.Batches++
		offset += copied
		if bar != nil {
			_ = bar.Add(copied)
		}
	}

	res.Duration = time.Since(start)
	c.log.Info().Str("table", table).Int64("rows", res.RowsCopied).
		Dur("duration", res.Duration).Msg("table copy complete")
	return res, nil
}

// copyBatch reads one batch from the origin, translates it, and upserts it
// inside a single target transaction. On success it advances the keyset
// cursor.
func (c *Copier) copyBatch(ctx context.Context, spec *catalog.TableSpec, mapping *translate.Mapping,
	batchSize int, keyset bool, lastKey *any, offset int) (int, error) {

	rows, err := c.readBatch(ctx, spec, batchSize, keyset, *lastKey, offset)
	if err != nil {
		return 0, fmt.Errorf("failed to read origin batch: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	translated := make([]map[string]any, len(rows))
	for i, row := range rows {
		tr, err := translate.TranslateRow(mapping, row)
		if err != nil {
			return 0, err
		}
		translated[i] = tr
	}

	if err := c.upsertBatch(ctx, spec, mapping, translated); err != nil {
		return 0, fmt.Errorf("failed to upsert batch: %w", err)
	}

	if keyset {
		*lastKey = rows[len(rows)-1][spec.PrimaryKey[0]]
	}
	return len(rows), nil
}

func (c *Copier) readBatch(ctx context.Context, spec *catalog.TableSpec, batchSize int,
	keyset bool, lastKey any, offset int) ([]map[string]any, error) {

	cols := make([]string, len(spec.Columns))
	for i, col := range spec.Columns {
		cols[i] = col.Name
	}
	orderBy := strings.Join(spec.PrimaryKey, ", ")

	var query string
	var args []any
	switch {
	case keyset && lastKey != nil:
		query = fmt.Sprintf("SELECT %s FROM %s WHERE %s > %s ORDER BY %s LIMIT %d",
			strings.Join(cols, ", "), spec.Name, spec.PrimaryKey[0],
			database.Placeholder(c.originDriver, 1), orderBy, batchSize)
		args = append(args, lastKey)
	case keyset:
		query = fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT %d",
			strings.Join(cols, ", "), spec.Name, orderBy, batchSize)
	default:
		// Composite keys paginate by offset; batches stay PK-ordered.
		query = fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT %d OFFSET %d",
			strings.Join(cols, ", "), spec.Name, orderBy, batchSize, offset)
	}

	rs, err := c.origin.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var out []map[string]any
	for rs.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rs.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, name := range cols {
			row[name] = values[i]
		}
		out = append(out, row)
	}
	return out, rs.Err()
}

func (c *Copier) upsertBatch(ctx context.Context, spec *catalog.TableSpec, mapping *translate.Mapping,
	rows []map[string]any) error {

	targetCols := mapping.TargetColumns()
	conflictKeys := translate.ConflictKey(spec, mapping)

	var updates []string
	keySet := make(map[string]bool, len(conflictKeys))
	for _, k := range conflictKeys {
		keySet[k] = true
	}
	for _, col := range targetCols {
		if !keySet[col] {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("INSERT INTO %s (%s) VALUES ", spec.Name, strings.Join(targetCols, ", ")))

	args := make([]any, 0, len(rows)*len(targetCols))
	pos := 1
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		ph := make([]string, len(targetCols))
		for j, col := range targetCols {
			ph[j] = database.Placeholder(c.targetDriver, pos)
			args = append(args, row[col])
			pos++
		}
		sb.WriteString("(" + strings.Join(ph, ", ") + ")")
	}

	sb.WriteString(fmt.Sprintf(" ON CONFLICT (%s)", strings.Join(conflictKeys, ", ")))
	if len(updates) > 0 {
		sb.WriteString(" DO UPDATE SET " + strings.Join(updates, ", "))
	} else {
		sb.WriteString(" DO NOTHING")
	}

	tx, err := c.target.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
