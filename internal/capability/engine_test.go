package capability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prorab-app/prorab/internal/identity"
)

func TestCanPerformElevatedBypass(t *testing.T) {
	source := newFakeSource()
	source.setFail(true)
	engine := NewEngine(NewCache(source, testLogger(), time.Minute), testLogger(), nil)

	actor := identity.Actor{ID: 1, Elevated: true}
	require.True(t, engine.CanPerform(context.Background(), actor, SurfaceMaterialRequests, KeyDelete))
	// Bypass never touches the source.
	require.EqualValues(t, 0, source.fetchCount())
}

func TestCanPerformDeniesWhileUnresolved(t *testing.T) {
	source := newFakeSource(Capability{Key: KeyView})
	source.blocking = true
	source.release = make(chan struct{})
	defer close(source.release)
	engine := NewEngine(NewCache(source, testLogger(), time.Minute), testLogger(), nil)

	actor := identity.Actor{ID: 1, Role: identity.RoleContractor}
	// First call finds nothing cached: deny, fetch triggered.
	require.False(t, engine.CanPerform(context.Background(), actor, SurfaceMaterialRequests, KeyView))
	// Still in flight: deny again rather than block or error.
	require.False(t, engine.CanPerform(context.Background(), actor, SurfaceMaterialRequests, KeyView))
}

func TestCanPerformAllowsOnceResolved(t *testing.T) {
	source := newFakeSource(Capability{Key: KeyView})
	cache := NewCache(source, testLogger(), time.Minute)
	engine := NewEngine(cache, testLogger(), nil)
	actor := identity.Actor{ID: 1, Role: identity.RoleContractor}

	_, err := cache.Fetch(context.Background(), actor.ID, ScopeSurface(SurfaceMaterialRequests))
	require.NoError(t, err)

	require.True(t, engine.CanPerform(context.Background(), actor, SurfaceMaterialRequests, KeyView))
	require.False(t, engine.CanPerform(context.Background(), actor, SurfaceMaterialRequests, KeyDelete))
}

func TestCanPerformPrefersResolvedAllSurfacesSet(t *testing.T) {
	source := newFakeSource(Capability{Key: KeyApprove})
	cache := NewCache(source, testLogger(), time.Minute)
	engine := NewEngine(cache, testLogger(), nil)
	actor := identity.Actor{ID: 1, Role: identity.RoleSiteManager}

	_, err := cache.Fetch(context.Background(), actor.ID, ScopeAll())
	require.NoError(t, err)
	before := source.fetchCount()

	require.True(t, engine.CanPerform(context.Background(), actor, SurfaceMaterialRequests, KeyApprove))
	// Answered from the all-surfaces set without a per-surface fetch.
	require.Equal(t, before, source.fetchCount())
}
