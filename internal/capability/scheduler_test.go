package capability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func warmCache(t *testing.T, source *fakeSource) *Cache {
	t.Helper()
	cache := NewCache(source, testLogger(), time.Minute)
	_, err := cache.Fetch(context.Background(), 1, ScopeSurface(SurfaceMaterialRequests))
	require.NoError(t, err)
	return cache
}

func TestVisibilityStormCollapsesToOneRefresh(t *testing.T) {
	source := newFakeSource(Capability{Key: KeyView})
	cache := warmCache(t, source)
	before := source.fetchCount()

	s := NewScheduler(cache, testLogger(), time.Hour, 10*time.Millisecond, time.Hour)
	// lastRefresh is zero, so the cooldown check passes once.
	for i := 0; i < 20; i++ {
		s.OnVisible()
	}

	require.Eventually(t, func() bool {
		return source.fetchCount() == before+1
	}, time.Second, 5*time.Millisecond)

	// A second burst inside the cooldown is skipped entirely.
	for i := 0; i < 20; i++ {
		s.OnVisible()
	}
	require.Never(t, func() bool {
		return source.fetchCount() > before+1
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestVisibilityRefreshAfterCooldown(t *testing.T) {
	source := newFakeSource(Capability{Key: KeyView})
	cache := warmCache(t, source)
	before := source.fetchCount()

	s := NewScheduler(cache, testLogger(), time.Hour, time.Millisecond, 50*time.Millisecond)
	s.OnVisible()
	require.Eventually(t, func() bool {
		return source.fetchCount() == before+1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	s.OnVisible()
	require.Eventually(t, func() bool {
		return source.fetchCount() == before+2
	}, time.Second, 5*time.Millisecond)
}

func TestAuthEventsDriveInvalidation(t *testing.T) {
	source := newFakeSource(Capability{Key: KeyView})
	cache := NewCache(source, testLogger(), time.Minute)
	_, err := cache.Fetch(context.Background(), 1, ScopeSurface(SurfaceMaterialRequests))
	require.NoError(t, err)
	_, err = cache.Fetch(context.Background(), 2, ScopeSurface(SurfaceMaterialRequests))
	require.NoError(t, err)

	s := NewScheduler(cache, testLogger(), time.Hour, time.Millisecond, time.Hour)

	s.OnLogin(1)
	_, ok := cache.Peek(1, ScopeSurface(SurfaceMaterialRequests))
	require.False(t, ok)
	_, ok = cache.Peek(2, ScopeSurface(SurfaceMaterialRequests))
	require.True(t, ok)

	s.OnLogout(2)
	_, ok = cache.Peek(2, ScopeSurface(SurfaceMaterialRequests))
	require.False(t, ok)
}

func TestRunPeriodicRefresh(t *testing.T) {
	source := newFakeSource(Capability{Key: KeyView})
	cache := warmCache(t, source)
	before := source.fetchCount()

	s := NewScheduler(cache, testLogger(), 20*time.Millisecond, time.Millisecond, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		return source.fetchCount() > before
	}, time.Second, 5*time.Millisecond)
}
