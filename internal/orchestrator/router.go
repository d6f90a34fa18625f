package orchestrator

import (
	"context"
	"database/sql"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/hotmigrate/hotmigrate/internal/metastore"
)

// Route says where reads and writes go in a phase.
type Route struct {
	ReadTarget   bool // primary read store is the target
	ReadFallback bool // a failed target read may be retried on the origin
	WriteOrigin  bool
	WriteTarget  bool
}

// RouteFor derives the traffic plan from a phase. Routing carries no state of
// its own, so a restarted process lands on the same plan.
func RouteFor(phase metastore.Phase) Route {
	switch phase {
	case metastore.PhaseDualWrite:
		return Route{WriteOrigin: true, WriteTarget: true}
	case metastore.PhaseTargetPrimaryFallback:
		return Route{ReadTarget: true, ReadFallback: true, WriteOrigin: true, WriteTarget: true}
	case metastore.PhaseTargetOnly, metastore.PhaseDecommissioned:
		return Route{ReadTarget: true, WriteTarget: true}
	default:
		// seeded and rolled_back serve everything from the origin.
		return Route{WriteOrigin: true}
	}
}

// Router executes reads against the store the current phase designates,
// counting fallback hits so the orchestrator can judge target health.
type Router struct {
	origin *sql.DB
	target *sql.DB
	route  Route
	log    zerolog.Logger

	targetReads   atomic.Int64
	fallbackReads atomic.Int64
}

// NewRouter builds a router for one phase. Build a fresh router after every
// phase transition.
func NewRouter(origin, target *sql.DB, phase metastore.Phase, log zerolog.Logger) *Router {
	return &Router{origin: origin, target: target, route: RouteFor(phase), log: log}
}

// Route returns the traffic plan the router was built with.
func (r *Router) Route() Route { return r.route }

// Query runs a read on the primary store. During target_primary_fallback a
// failed target read is retried once on the origin and counted.
func (r *Router) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if !r.route.ReadTarget {
		return r.origin.QueryContext(ctx, query, args...)
	}

	rows, err := r.target.QueryContext(ctx, query, args...)
	if err == nil {
		r.targetReads.Add(1)
		return rows, nil
	}
	if !r.route.ReadFallback {
		return nil, err
	}

	r.fallbackReads.Add(1)
	r.log.Warn().Err(err).Msg("target read failed, serving from origin")
	return r.origin.QueryContext(ctx, query, args...)
}

// Counters returns the target and fallback read counts since construction.
func (r *Router) Counters() (target, fallback int64) {
	return r.targetReads.Load(), r.fallbackReads.Load()
}

// Flush adds the routing counters to the run's persisted totals and resets
// them.
func (r *Router) Flush(ctx context.Context, store metastore.Store, runID string) error {
	target := r.targetReads.Swap(0)
	fallback := r.fallbackReads.Swap(0)
	if target == 0 && fallback == 0 {
		return nil
	}

	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	return store.RecordReadStats(ctx, runID, run.TargetReads+target, run.FallbackReads+fallback)
}
