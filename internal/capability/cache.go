package capability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// State classifies a cache lookup result.
type State int

const (
	// StateReady means a capability set is available (possibly stale and
	// being revalidated in the background).
	StateReady State = iota
	// StatePending means a fetch is in flight and no value is available yet.
	StatePending
	// StateAbsent means no value is cached and no fetch was in flight; the
	// lookup has triggered one.
	StateAbsent
)

const fetchTimeout = 10 * time.Second

// FetchRecorder receives source fetch results for metrics.
type FetchRecorder interface {
	CacheFetch(result string)
}

type cacheKey struct {
	actor int64
	scope string
}

type cacheEntry struct {
	set        *Set
	generation uint64
	inflight   bool
}

// Cache holds fetched capability sets per (actor, scope) key. It is the only
// mutable shared state of the permission core and is mutated exclusively
// through its own methods.
//
// Guarantees: at most one outstanding fetch per key (concurrent callers
// attach to the in-flight call), stale-while-revalidate within the freshness
// window, and last-valid-wins ordering: a completion carrying a generation
// older than the entry's current one is discarded instead of overwriting
// newer data.
type Cache struct {
	source      Source
	logger      *slog.Logger
	staleWindow time.Duration
	metrics     FetchRecorder

	group singleflight.Group
	now   func() time.Time

	mu      sync.Mutex
	entries map[cacheKey]*cacheEntry
}

// NewCache constructs a Cache around the given source.
func NewCache(source Source, logger *slog.Logger, staleWindow time.Duration) *Cache {
	return &Cache{
		source:      source,
		logger:      logger,
		staleWindow: staleWindow,
		now:         time.Now,
		entries:     make(map[cacheKey]*cacheEntry),
	}
}

// SetMetrics attaches an optional fetch recorder.
func (c *Cache) SetMetrics(metrics FetchRecorder) {
	c.metrics = metrics
}

// Lookup returns the cached set for (actor, scope) without blocking.
//
// Absent and Pending results are deny-equivalent for the engine; Absent
// additionally means this call started a background fetch. A Ready value past
// the freshness window is still served while a background revalidation runs.
func (c *Cache) Lookup(ctx context.Context, actorID int64, scope Scope) (*Set, State) {
	key := cacheKey{actor: actorID, scope: scope.Key()}

	c.mu.Lock()
	e := c.ensureLocked(key)
	if e.set == nil {
		if e.inflight {
			c.mu.Unlock()
			return nil, StatePending
		}
		c.startFetchLocked(actorID, scope, key, e)
		c.mu.Unlock()
		return nil, StateAbsent
	}
	set := e.set
	if c.now().Sub(set.FetchedAt) > c.staleWindow && !e.inflight {
		c.startFetchLocked(actorID, scope, key, e)
	}
	c.mu.Unlock()
	return set, StateReady
}

// Peek returns the cached set only if one is ready; it never triggers a
// fetch. Used by the engine to consult an already-fetched all-surfaces set
// before falling back to the per-surface scope.
func (c *Cache) Peek(actorID int64, scope Scope) (*Set, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[cacheKey{actor: actorID, scope: scope.Key()}]
	if !ok || e.set == nil {
		return nil, false
	}
	return e.set, true
}

// Fetch blocks until a capability set for (actor, scope) is available,
// issuing a network call when none is cached or the entry was invalidated.
// Concurrent Fetch calls for the same key share one network call.
func (c *Cache) Fetch(ctx context.Context, actorID int64, scope Scope) (*Set, error) {
	key := cacheKey{actor: actorID, scope: scope.Key()}

	c.mu.Lock()
	e := c.ensureLocked(key)
	if e.set != nil && c.now().Sub(e.set.FetchedAt) <= c.staleWindow {
		set := e.set
		c.mu.Unlock()
		return set, nil
	}
	gen := e.generation
	e.inflight = true
	c.mu.Unlock()

	return c.fetch(ctx, actorID, scope, key, gen)
}

// Invalidate drops the cached value for (actor, scope). The next access must
// produce a fresh fetch; an in-flight completion started before the
// invalidation is discarded.
func (c *Cache) Invalidate(actorID int64, scope Scope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked(cacheKey{actor: actorID, scope: scope.Key()})
}

// InvalidateActor drops every scope cached for the actor.
func (c *Cache) InvalidateActor(actorID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.actor == actorID {
			c.invalidateLocked(key)
		}
	}
}

// InvalidateAll clears the whole cache. Called on logout.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		c.invalidateLocked(key)
	}
}

// RefreshAll revalidates every populated entry in the background while the
// old values keep serving. Called by the refresh scheduler on its periodic
// tick and on visibility triggers.
func (c *Cache) RefreshAll(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if e.set == nil || e.inflight {
			continue
		}
		scope := scopeFromKey(key.scope)
		c.startFetchLocked(key.actor, scope, key, e)
	}
}

func (c *Cache) ensureLocked(key cacheKey) *cacheEntry {
	e, ok := c.entries[key]
	if !ok {
		e = &cacheEntry{}
		c.entries[key] = e
	}
	return e
}

func (c *Cache) invalidateLocked(key cacheKey) {
	e, ok := c.entries[key]
	if !ok {
		e = &cacheEntry{}
		c.entries[key] = e
	}
	e.generation++
	e.set = nil
	// Forget so the next Fetch issues a fresh call instead of attaching to
	// a superseded in-flight one.
	c.group.Forget(sfKey(key))
}

func (c *Cache) startFetchLocked(actorID int64, scope Scope, key cacheKey, e *cacheEntry) {
	e.inflight = true
	gen := e.generation
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		if _, err := c.fetch(ctx, actorID, scope, key, gen); err != nil {
			c.logger.Error("capability fetch",
				slog.Int64("actor", actorID),
				slog.String("scope", scope.Key()),
				slog.Any("error", err))
		}
	}()
}

func (c *Cache) fetch(ctx context.Context, actorID int64, scope Scope, key cacheKey, gen uint64) (*Set, error) {
	v, err, _ := c.group.Do(sfKey(key), func() (any, error) {
		return c.load(ctx, actorID, scope)
	})
	if c.metrics != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		c.metrics.CacheFetch(result)
	}

	c.mu.Lock()
	e := c.ensureLocked(key)
	e.inflight = false
	if err != nil {
		// Last-known value stays in place; callers degrade to deny or to
		// the stale value they already hold.
		c.mu.Unlock()
		return nil, err
	}
	set := v.(*Set)
	if e.generation == gen {
		e.set = set
	}
	c.mu.Unlock()
	return set, nil
}

func (c *Cache) load(ctx context.Context, actorID int64, scope Scope) (*Set, error) {
	set := &Set{Scope: scope, FetchedAt: c.now()}
	if scope.All {
		all, err := c.source.AllSurfaces(ctx, actorID)
		if err != nil {
			return nil, err
		}
		set.All = all
		return set, nil
	}
	caps, err := c.source.ForSurface(ctx, actorID, scope.Surface)
	if err != nil {
		return nil, err
	}
	set.Single = caps
	return set, nil
}

func sfKey(key cacheKey) string {
	return fmt.Sprintf("%d|%s", key.actor, key.scope)
}

func scopeFromKey(s string) Scope {
	if s == "*" {
		return ScopeAll()
	}
	return ScopeSurface(Surface(s))
}
