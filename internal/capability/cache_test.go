package capability

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeSource counts fetches and can be made to block or fail on demand.
type fakeSource struct {
	mu       sync.Mutex
	calls    int32
	fail     bool
	caps     []Capability
	release  chan struct{}
	blocking bool
}

func newFakeSource(caps ...Capability) *fakeSource {
	return &fakeSource{caps: caps}
}

func (s *fakeSource) ForSurface(ctx context.Context, actorID int64, surface Surface) ([]Capability, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.blocking {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, context.DeadlineExceeded
	}
	return append([]Capability(nil), s.caps...), nil
}

func (s *fakeSource) AllSurfaces(ctx context.Context, actorID int64) (map[Surface][]Capability, error) {
	atomic.AddInt32(&s.calls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, context.DeadlineExceeded
	}
	return map[Surface][]Capability{SurfaceMaterialRequests: append([]Capability(nil), s.caps...)}, nil
}

func (s *fakeSource) AccessibleSurfaces(ctx context.Context, actorID int64) (SurfaceAccess, error) {
	return SurfaceAccess{}, nil
}

func (s *fakeSource) fetchCount() int32 {
	return atomic.LoadInt32(&s.calls)
}

func (s *fakeSource) setFail(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

func (s *fakeSource) setCaps(caps ...Capability) {
	s.mu.Lock()
	s.caps = caps
	s.mu.Unlock()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLookupAbsentTriggersSingleFetch(t *testing.T) {
	source := newFakeSource(Capability{Key: KeyView})
	cache := NewCache(source, testLogger(), time.Minute)

	set, state := cache.Lookup(context.Background(), 1, ScopeSurface(SurfaceMaterialRequests))
	require.Nil(t, set)
	require.Equal(t, StateAbsent, state)

	// Until the background fetch lands, further lookups attach instead of
	// spawning more fetches.
	_, state = cache.Lookup(context.Background(), 1, ScopeSurface(SurfaceMaterialRequests))
	require.Equal(t, StatePending, state)

	require.Eventually(t, func() bool {
		set, state := cache.Lookup(context.Background(), 1, ScopeSurface(SurfaceMaterialRequests))
		return state == StateReady && set.Allows(SurfaceMaterialRequests, KeyView)
	}, time.Second, 5*time.Millisecond)
	require.EqualValues(t, 1, source.fetchCount())
}

func TestFetchDeduplicatesConcurrentCallers(t *testing.T) {
	source := newFakeSource(Capability{Key: KeyView})
	source.blocking = true
	source.release = make(chan struct{})
	cache := NewCache(source, testLogger(), time.Minute)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*Set, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			set, err := cache.Fetch(context.Background(), 1, ScopeSurface(SurfaceMaterialRequests))
			require.NoError(t, err)
			results[i] = set
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(source.release)
	wg.Wait()

	require.EqualValues(t, 1, source.fetchCount())
	for _, set := range results {
		require.NotNil(t, set)
	}
}

func TestStaleValueServedWhileRevalidating(t *testing.T) {
	source := newFakeSource(Capability{Key: KeyView})
	cache := NewCache(source, testLogger(), time.Minute)

	_, err := cache.Fetch(context.Background(), 1, ScopeSurface(SurfaceMaterialRequests))
	require.NoError(t, err)

	// Move time past the freshness window.
	cache.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	source.setCaps(Capability{Key: KeyView}, Capability{Key: KeyApprove})

	// The stale value is still served immediately.
	set, state := cache.Lookup(context.Background(), 1, ScopeSurface(SurfaceMaterialRequests))
	require.Equal(t, StateReady, state)
	require.False(t, set.Allows(SurfaceMaterialRequests, KeyApprove))

	// The background revalidation eventually swaps in the new value.
	require.Eventually(t, func() bool {
		set, _ := cache.Lookup(context.Background(), 1, ScopeSurface(SurfaceMaterialRequests))
		return set != nil && set.Allows(SurfaceMaterialRequests, KeyApprove)
	}, time.Second, 5*time.Millisecond)
}

func TestFailedFetchKeepsLastValidValue(t *testing.T) {
	source := newFakeSource(Capability{Key: KeyView})
	cache := NewCache(source, testLogger(), time.Minute)

	_, err := cache.Fetch(context.Background(), 1, ScopeSurface(SurfaceMaterialRequests))
	require.NoError(t, err)

	cache.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	source.setFail(true)

	set, state := cache.Lookup(context.Background(), 1, ScopeSurface(SurfaceMaterialRequests))
	require.Equal(t, StateReady, state)
	require.True(t, set.Allows(SurfaceMaterialRequests, KeyView))

	// The failing revalidation must not wipe the cached value.
	require.Never(t, func() bool {
		set, _ := cache.Lookup(context.Background(), 1, ScopeSurface(SurfaceMaterialRequests))
		return set == nil
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestInvalidateForcesFreshFetch(t *testing.T) {
	source := newFakeSource(Capability{Key: KeyView})
	cache := NewCache(source, testLogger(), time.Minute)

	_, err := cache.Fetch(context.Background(), 1, ScopeSurface(SurfaceMaterialRequests))
	require.NoError(t, err)
	before := source.fetchCount()

	cache.Invalidate(1, ScopeSurface(SurfaceMaterialRequests))

	_, ok := cache.Peek(1, ScopeSurface(SurfaceMaterialRequests))
	require.False(t, ok)

	set, err := cache.Fetch(context.Background(), 1, ScopeSurface(SurfaceMaterialRequests))
	require.NoError(t, err)
	require.NotNil(t, set)
	require.Greater(t, source.fetchCount(), before)
}

func TestSupersededCompletionIsDiscarded(t *testing.T) {
	source := newFakeSource(Capability{Key: KeyView})
	source.blocking = true
	source.release = make(chan struct{})
	cache := NewCache(source, testLogger(), time.Minute)

	// Start a fetch, invalidate while it is in flight, then let it finish.
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = cache.Fetch(context.Background(), 1, ScopeSurface(SurfaceMaterialRequests))
	}()
	time.Sleep(20 * time.Millisecond)
	cache.Invalidate(1, ScopeSurface(SurfaceMaterialRequests))
	close(source.release)
	<-done

	// The stale completion must not have populated the entry.
	_, ok := cache.Peek(1, ScopeSurface(SurfaceMaterialRequests))
	require.False(t, ok)
}

func TestInvalidateActorDropsAllScopes(t *testing.T) {
	source := newFakeSource(Capability{Key: KeyView})
	cache := NewCache(source, testLogger(), time.Minute)

	_, err := cache.Fetch(context.Background(), 1, ScopeSurface(SurfaceMaterialRequests))
	require.NoError(t, err)
	_, err = cache.Fetch(context.Background(), 1, ScopeAll())
	require.NoError(t, err)
	_, err = cache.Fetch(context.Background(), 2, ScopeSurface(SurfaceMaterialRequests))
	require.NoError(t, err)

	cache.InvalidateActor(1)

	_, ok := cache.Peek(1, ScopeSurface(SurfaceMaterialRequests))
	require.False(t, ok)
	_, ok = cache.Peek(1, ScopeAll())
	require.False(t, ok)
	_, ok = cache.Peek(2, ScopeSurface(SurfaceMaterialRequests))
	require.True(t, ok)
}
