package capability

import (
	"context"
	"log/slog"

	"github.com/prorab-app/prorab/internal/identity"
)

// DecisionRecorder receives permission decision outcomes for metrics.
type DecisionRecorder interface {
	CapabilityDecision(outcome string)
}

// Engine resolves whether an actor may perform a named action on a surface.
//
// The engine is fail-closed: it never returns an error and never blocks on
// network I/O. When the capability set is not yet resolved the answer is
// deny, and the triggered background fetch lets the caller re-evaluate later.
type Engine struct {
	cache   *Cache
	logger  *slog.Logger
	metrics DecisionRecorder
}

// NewEngine constructs an Engine on top of the given cache. The cache is an
// explicit dependency, never ambient state; tests build isolated instances.
func NewEngine(cache *Cache, logger *slog.Logger, metrics DecisionRecorder) *Engine {
	return &Engine{cache: cache, logger: logger, metrics: metrics}
}

// CanPerform reports whether the actor may perform the capability on the
// surface. Check order, first match wins: elevated actor, full-access
// category, cached capability membership.
func (e *Engine) CanPerform(ctx context.Context, actor identity.Actor, surface Surface, key string) bool {
	if actor.Elevated || actor.FullAccess {
		e.record("bypass")
		return true
	}

	// An already-resolved all-surfaces set answers without another fetch.
	if set, ok := e.cache.Peek(actor.ID, ScopeAll()); ok {
		e.record(outcome(set.Allows(surface, key)))
		return set.Allows(surface, key)
	}

	set, state := e.cache.Lookup(ctx, actor.ID, ScopeSurface(surface))
	if state != StateReady {
		e.record("deny_unresolved")
		return false
	}
	allowed := set.Allows(surface, key)
	e.record(outcome(allowed))
	return allowed
}

func (e *Engine) record(outcome string) {
	if e.metrics != nil {
		e.metrics.CapabilityDecision(outcome)
	}
}

func outcome(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}
