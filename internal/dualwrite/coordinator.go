// Package dualwrite applies every write-path call to both stores during the
// transition window. The origin is authoritative: its write happens first and
// synchronously, and a target-side failure never fails the caller.
package dualwrite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hotmigrate/hotmigrate/internal/catalog"
	"github.com/hotmigrate/hotmigrate/internal/database"
	"github.com/hotmigrate/hotmigrate/internal/translate"
)

// Op is a write operation kind.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// ErrTargetPaused is reported on outcomes for tables whose target writes were
// paused after too many consecutive failures.
var ErrTargetPaused = errors.New("target writes paused for table")

// WriteOutcome is returned to the caller synchronously.
type WriteOutcome struct {
	OriginApplied  bool
	TargetEnqueued bool
}

// Outcome is one target-side apply result, emitted on the outcome stream.
type Outcome struct {
	Table string
	Op    Op
	Err   error
	At    time.Time
}

// Config controls the target-side worker pool and failure policy.
type Config struct {
	Workers   int
	QueueSize int

	// AlertAfterFailures logs an alert once a table reaches this many
	// consecutive target failures. Alerting never triggers rollback.
	AlertAfterFailures int

	// PauseAfterFailures stops enqueueing target writes for a table after
	// this many consecutive failures. Zero means never pause.
	PauseAfterFailures int

	Retry database.RetryConfig
}

type job struct {
	table string
	op    Op
	row   map[string]any // translated, keyed by target column
	spec  *catalog.TableSpec
	mp    *translate.Mapping
}

// Coordinator intercepts write-path calls and mirrors them to the target.
type Coordinator struct {
	origin       *sql.DB
	target       *sql.DB
	originDriver string
	targetDriver string
	catalog      *catalog.Catalog
	mappings     map[string]*translate.Mapping
	cfg          Config
	log          zerolog.Logger

	jobs     chan job
	outcomes chan Outcome
	wg       sync.WaitGroup

	// closeMu is read-held across Write's enqueue and emits; Close takes
	// the write side before closing jobs, so no send can be in flight.
	closeMu sync.RWMutex
	closed  bool

	mu       sync.Mutex
	failures map[string]int
	paused   map[string]bool
}

// New builds the coordinator, precomputes column mappings, and starts the
// target-side worker pool.
func New(origin, target *sql.DB, originDriver, targetDriver string, cat *catalog.Catalog, cfg Config, log zerolog.Logger) (*Coordinator, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.AlertAfterFailures <= 0 {
		cfg.AlertAfterFailures = 5
	}

	mappings := make(map[string]*translate.Mapping)
	for _, name := range cat.TableNames() {
		spec, err := cat.Table(name)
		if err != nil {
			return nil, err
		}
		m, err := translate.Translate(spec)
		if err != nil {
			return nil, err
		}
		mappings[name] = m
	}

	c := &Coordinator{
		origin:       origin,
		target:       target,
		originDriver: originDriver,
		targetDriver: targetDriver,
		catalog:      cat,
		mappings:     mappings,
		cfg:          cfg,
		log:          log,
		jobs:         make(chan job, cfg.QueueSize),
		outcomes:     make(chan Outcome, cfg.QueueSize),
		failures:     make(map[string]int),
		paused:       make(map[string]bool),
	}

	for i := 0; i < cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	return c, nil
}

// Write applies a write to the origin first, then enqueues the translated
// write for the target. Origin failure is the caller's failure; target
// delivery is asynchronous and at-least-once.
func (c *Coordinator) Write(ctx context.Context, table string, op Op, payload map[string]any) (WriteOutcome, error) {
	var out WriteOutcome

	spec, err := c.catalog.Table(table)
	if err != nil {
		return out, err
	}
	mp := c.mappings[table]

	if err := c.applyOrigin(ctx, spec, op, payload); err != nil {
		return out, fmt.Errorf("origin write failed: %w", err)
	}
	out.OriginApplied = true

	c.mu.Lock()
	paused := c.paused[table]
	c.mu.Unlock()

	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		return out, errors.New("coordinator is closed")
	}
	if paused {
		c.emit(Outcome{Table: table, Op: op, Err: ErrTargetPaused, At: time.Now()})
		return out, nil
	}

	row, err := c.translatePayload(spec, mp, op, payload)
	if err != nil {
		// The origin accepted the write, so the caller must not fail;
		// the target side surfaces as a failure outcome instead.
		c.recordFailure(table, op, err)
		return out, nil
	}

	select {
	case c.jobs <- job{table: table, op: op, row: row, spec: spec, mp: mp}:
		out.TargetEnqueued = true
	case <-ctx.Done():
		c.recordFailure(table, op, ctx.Err())
	}
	return out, nil
}

// Failures returns the consecutive target-write failure count for a table.
func (c *Coordinator) Failures(table string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures[table]
}

// Paused reports whether target writes for a table are paused.
func (c *Coordinator) Paused(table string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused[table]
}

// ResetFailures clears the failure counter and unpauses a table. Called by an
// operator after the target is healthy again.
func (c *Coordinator) ResetFailures(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[table] = 0
	delete(c.paused, table)
}

// Outcomes is the stream of target-side apply results.
func (c *Coordinator) Outcomes() <-chan Outcome {
	return c.outcomes
}

// Close drains in-flight target writes and closes the outcome stream.
func (c *Coordinator) Close() {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return
	}
	c.closed = true
	close(c.jobs)
	c.closeMu.Unlock()

	c.wg.Wait()
	close(c.outcomes)
}

func (c *Coordinator) worker() {
	defer c.wg.Done()
	for j := range c.jobs {
		err := database.Retry(context.Background(), c.cfg.Retry, func() error {
			return c.applyTarget(j)
		})
		if err != nil {
			c.recordFailure(j.table, j.op, err)
			continue
		}

		c.mu.Lock()
		c.failures[j.table] = 0
		c.mu.Unlock()
		c.emit(Outcome{Table: j.table, Op: j.op, At: time.Now()})
	}
}

func (c *Coordinator) recordFailure(table string, op Op, err error) {
	c.mu.Lock()
	c.failures[table]++
	count := c.failures[table]
	if count == c.cfg.AlertAfterFailures {
		c.log.Error().Str("table", table).Int("consecutive_failures", count).
			Msg("target write failure threshold reached")
	}
	if c.cfg.PauseAfterFailures > 0 && count >= c.cfg.PauseAfterFailures {
		c.paused[table] = true
	}
	c.mu.Unlock()

	c.emit(Outcome{Table: table, Op: op, Err: err, At: time.Now()})
}

// emit never blocks a worker; if nobody is draining the stream, the oldest
// outcomes are the ones lost.
func (c *Coordinator) emit(o Outcome) {
	select {
	case c.outcomes <- o:
	default:
		select {
		case <-c.outcomes:
		default:
		}
		select {
		case c.outcomes <- o:
		default:
		}
	}
}

// applyOrigin runs the authoritative write with transient retry.
func (c *Coordinator) applyOrigin(ctx context.Context, spec *catalog.TableSpec, op Op, payload map[string]any) error {
	query, args, err := buildWrite(c.originDriver, spec.Name, op, payload, spec.PrimaryKey)
	if err != nil {
		return err
	}
	return database.Retry(ctx, c.cfg.Retry, func() error {
		_, err := c.origin.ExecContext(ctx, query, args...)
		return err
	})
}

// translatePayload converts the caller's origin-column payload into target
// columns. Deletes only carry the key.
func (c *Coordinator) translatePayload(spec *catalog.TableSpec, mp *translate.Mapping, op Op, payload map[string]any) (map[string]any, error) {
	cols := payload
	if op == OpDelete {
		cols = make(map[string]any, len(spec.PrimaryKey))
		for _, pk := range spec.PrimaryKey {
			v, ok := payload[pk]
			if !ok {
				return nil, fmt.Errorf("delete payload is missing key column %q", pk)
			}
			cols[pk] = v
		}
	}

	row := make(map[string]any, len(cols))
	for name, v := range cols {
		cm := mp.ByOrigin(name)
		if cm == nil {
			return nil, fmt.Errorf("table %s: payload column %q is not in the catalog", spec.Name, name)
		}
		translated, err := translate.Apply(cm.Fn, v)
		if err != nil {
			return nil, fmt.Errorf("table %s: column %q: %w", spec.Name, name, err)
		}
		row[cm.Target] = translated
	}
	return row, nil
}

// applyTarget upserts (insert/update) or deletes by the conflict key. Upserts
// make duplicate delivery after a retry safe.
func (c *Coordinator) applyTarget(j job) error {
	keys := translate.ConflictKey(j.spec, j.mp)

	if j.op == OpDelete {
		where := make([]string, len(keys))
		args := make([]any, len(keys))
		for i, k := range keys {
			where[i] = fmt.Sprintf("%s = %s", k, database.Placeholder(c.targetDriver, i+1))
			args[i] = j.row[k]
		}
		_, err := c.target.Exec(
			fmt.Sprintf("DELETE FROM %s WHERE %s", j.spec.Name, strings.Join(where, " AND ")), args...)
		return err
	}

	cols := make([]string, 0, len(j.row))
	for col := range j.row {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	keySet := make(map[string]bool, len(keys))
	for _, k := range keys {
		keySet[k] = true
		if _, ok := j.row[k]; !ok {
			return fmt.Errorf("write payload is missing key column %q", k)
		}
	}

	ph := make([]string, len(cols))
	args := make([]any, len(cols))
	var updates []string
	for i, col := range cols {
		ph[i] = database.Placeholder(c.targetDriver, i+1)
		args[i] = j.row[col]
		if !keySet[col] {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s)",
		j.spec.Name, strings.Join(cols, ", "), strings.Join(ph, ", "), strings.Join(keys, ", "))
	if len(updates) > 0 {
		query += " DO UPDATE SET " + strings.Join(updates, ", ")
	} else {
		query += " DO NOTHING"
	}

	_, err := c.target.Exec(query, args...)
	return err
}

// buildWrite constructs the origin-side statement. Payload keys are origin
// column names and must include the primary key.
func buildWrite(driver, table string, op Op, payload map[string]any, pk []string) (string, []any, error) {
	pkSet := make(map[string]bool, len(pk))
	for _, k := range pk {
		pkSet[k] = true
		if _, ok := payload[k]; !ok {
			return "", nil, fmt.Errorf("payload is missing key column %q", k)
		}
	}

	cols := make([]string, 0, len(payload))
	for col := range payload {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	switch op {
	case OpInsert:
		ph := make([]string, len(cols))
		args := make([]any, len(cols))
		for i, col := range cols {
			ph[i] = database.Placeholder(driver, i+1)
			args[i] = payload[col]
		}
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			table, strings.Join(cols, ", "), strings.Join(ph, ", ")), args, nil

	case OpUpdate:
		var sets []string
		var args []any
		pos := 1
		for _, col := range cols {
			if pkSet[col] {
				continue
			}
			sets = append(sets, fmt.Sprintf("%s = %s", col, database.Placeholder(driver, pos)))
			args = append(args, payload[col])
			pos++
		}
		if len(sets) == 0 {
			return "", nil, errors.New("update payload has no non-key columns")
		}
		var where []string
		for _, k := range pk {
			where = append(where, fmt.Sprintf("%s = %s", k, database.Placeholder(driver, pos)))
			args = append(args, payload[k])
			pos++
		}
		return fmt.Sprintf("UPDATE %s SET %s WHERE %s",
			table, strings.Join(sets, ", "), strings.Join(where, " AND ")), args, nil

	case OpDelete:
		var where []string
		var args []any
		for i, k := range pk {
			where = append(where, fmt.Sprintf("%s = %s", k, database.Placeholder(driver, i+1)))
			args = append(args, payload[k])
		}
		return fmt.Sprintf("DELETE FROM %s WHERE %s", table, strings.Join(where, " AND ")), args, nil

	default:
		return "", nil, fmt.Errorf("unknown operation %q", op)
	}
}
