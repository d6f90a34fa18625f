// Package validator compares origin and target stores with six independent
// check families and produces an append-only ValidationReport. A passing
// report is the only input the cutover orchestrator trusts.
package validator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hotmigrate/hotmigrate/internal/catalog"
	"github.com/hotmigrate/hotmigrate/internal/translate"
)

// Factory builds one check instance for a table.
type Factory func(env *Env, spec *catalog.TableSpec) Check

// familyEntry registers a check family. Quick families also run in quick
// mode; the order here is the per-table execution order, with the cheap
// count-level families ahead of the row-level ones.
type familyEntry struct {
	Category Category
	Quick    bool
	Factory  Factory
}

// Registry is the set of check families. New families can be added without
// touching the validator loop or the orchestrator.
type Registry struct {
	entries []familyEntry
}

// NewRegistry returns a registry with the six standard families.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(CategoryRowCount, true, func(env *Env, spec *catalog.TableSpec) Check {
		return &rowCountCheck{env: env, spec: spec}
	})
	r.Register(CategoryReferential, false, func(env *Env, spec *catalog.TableSpec) Check {
		return &referentialCheck{env: env, spec: spec}
	})
	r.Register(CategoryJSON, false, func(env *Env, spec *catalog.TableSpec) Check {
		return &jsonShapeCheck{env: env, spec: spec}
	})
	r.Register(CategoryNumeric, false, func(env *Env, spec *catalog.TableSpec) Check {
		return &numericCheck{env: env, spec: spec}
	})
	r.Register(CategoryRule, false, func(env *Env, spec *catalog.TableSpec) Check {
		return &ruleCheck{env: env, spec: spec}
	})
	r.Register(CategorySample, false, func(env *Env, spec *catalog.TableSpec) Check {
		return &sampleCheck{env: env, spec: spec}
	})
	return r
}

// Register appends a family. Families run per table in registration order.
func (r *Registry) Register(cat Category, quick bool, f Factory) {
	r.entries = append(r.entries, familyEntry{Category: cat, Quick: quick, Factory: f})
}

// Config controls validation behavior.
type Config struct {
	Tolerance   float64
	SampleSize  int
	SampleSeed  int64
	Concurrency int // tables validated in parallel, default 4
}

// Validator runs checks and aggregates reports.
type Validator struct {
	env      *Env
	registry *Registry
	cfg      Config
}

// New builds a Validator over the two stores. Mappings are resolved once so
// checks never translate per row at lookup time.
func New(origin, target *sql.DB, originDriver, targetDriver string, cat *catalog.Catalog, cfg Config, log zerolog.Logger) (*Validator, error) {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 0.01
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 5
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
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

	return &Validator{
		env: &Env{
			Origin:       origin,
			Target:       target,
			OriginDriver: originDriver,
			TargetDriver: targetDriver,
			Catalog:      cat,
			Mappings:     mappings,
			Tolerance:    cfg.Tolerance,
			SampleSize:   cfg.SampleSize,
			SampleSeed:   cfg.SampleSeed,
			Log:          log,
		},
		registry: NewRegistry(),
		cfg:      cfg,
	}, nil
}

// Drivers returns the origin and target driver names for report rendering.
func (v *Validator) Drivers() (string, string) {
	return v.env.OriginDriver, v.env.TargetDriver
}

// Run executes a validation pass. mode quick runs row counts only; table
// restricts a full pass to one table. A cancelled run yields a CANCELLED
// report that must never gate a phase transition.
func (v *Validator) Run(ctx context.Context, mode Mode, table string) (*Report, error) {
	tables := v.env.Catalog.TableNames()
	if table != "" {
		if _, err := v.env.Catalog.Table(table); err != nil {
			return nil, err
		}
		tables = []string{table}
		if mode != ModeQuick {
			mode = ModeTable
		}
	}

	type tableResult struct {
		table   string
		results []CheckResult
		err     error
	}

	sem := make(chan struct{}, v.cfg.Concurrency)
	out := make(chan tableResult, len(tables))
	var wg sync.WaitGroup

	for _, name := range tables {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results, err := v.runTable(ctx, mode, name)
			out <- tableResult{table: name, results: results, err: err}
		}(name)
	}
	wg.Wait()
	close(out)

	byTable := make(map[string][]CheckResult, len(tables))
	cancelled := false
	var opErr error
	for tr := range out {
		if tr.err != nil {
			if errors.Is(tr.err, context.Canceled) || errors.Is(tr.err, context.DeadlineExceeded) {
				cancelled = true
				continue
			}
			if opErr == nil {
				opErr = fmt.Errorf("table %s: %w", tr.table, tr.err)
			}
			continue
		}
		byTable[tr.table] = tr.results
	}
	if opErr != nil {
		return nil, opErr
	}

	// Deterministic report order regardless of which table finished first.
	var ordered []string
	for name := range byTable {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	var results []CheckResult
	for _, name := range ordered {
		results = append(results, byTable[name]...)
	}

	report := newReport(mode, results, cancelled, time.Now().UTC())
	v.env.Log.Info().Str("mode", string(mode)).Str("status", string(report.OverallStatus)).
		Int("checks", report.Summary.TotalChecks).Int("failed", report.Summary.Failed).
		Msg("validation finished")
	return report, nil
}

// runTable runs the registered families for one table sequentially, so the
// cheap structural checks land before row-level comparisons.
func (v *Validator) runTable(ctx context.Context, mode Mode, table string) ([]CheckResult, error) {
	spec, err := v.env.Catalog.Table(table)
	if err != nil {
		return nil, err
	}

	var results []CheckResult
	for _, entry := range v.registry.entries {
		if mode == ModeQuick && !entry.Quick {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		check := entry.Factory(v.env, spec)
		res, err := check.Run(ctx)
		if err != nil {
			return nil, err
		}
		results = append(results, res...)
	}
	return results, nil
}
