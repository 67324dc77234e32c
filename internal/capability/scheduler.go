package capability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler is the single owner of every cache refresh trigger: the periodic
// timer, visibility-regained events and authentication events. All triggers
// funnel through the cache's Invalidate/RefreshAll contract so no two
// mechanisms mutate the cache independently.
type Scheduler struct {
	cache           *Cache
	logger          *slog.Logger
	refreshInterval time.Duration
	debounce        time.Duration
	cooldown        time.Duration

	now func() time.Time

	mu            sync.Mutex
	debounceTimer *time.Timer
	lastRefresh   time.Time
}

// NewScheduler constructs a Scheduler. Durations come from configuration:
// refreshInterval drives the periodic revalidation, debounce delays a
// visibility trigger, cooldown rate-limits visibility refreshes.
func NewScheduler(cache *Cache, logger *slog.Logger, refreshInterval, debounce, cooldown time.Duration) *Scheduler {
	return &Scheduler{
		cache:           cache,
		logger:          logger,
		refreshInterval: refreshInterval,
		debounce:        debounce,
		cooldown:        cooldown,
		now:             time.Now,
	}
}

// Run drives the periodic refresh until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			s.lastRefresh = s.now()
			s.mu.Unlock()
			s.cache.RefreshAll(ctx)
		}
	}
}

// OnVisible handles the document/tab regaining visibility. The refresh is
// delayed by the debounce window (rapid show/hide flaps collapse into one
// trigger) and skipped entirely while the cooldown since the last refresh
// has not elapsed, so visibility storms cannot cause refetch storms.
func (s *Scheduler) OnVisible() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debounceTimer != nil {
		s.debounceTimer.Reset(s.debounce)
		return
	}
	s.debounceTimer = time.AfterFunc(s.debounce, s.visibilityRefresh)
}

func (s *Scheduler) visibilityRefresh() {
	s.mu.Lock()
	s.debounceTimer = nil
	if s.now().Sub(s.lastRefresh) < s.cooldown {
		s.mu.Unlock()
		return
	}
	s.lastRefresh = s.now()
	s.mu.Unlock()
	s.cache.RefreshAll(context.Background())
}

// OnLogin drops cached data for the actor so the first lookups after
// authentication fetch fresh grants.
func (s *Scheduler) OnLogin(actorID int64) {
	s.cache.InvalidateActor(actorID)
}

// OnLogout clears all cached capability data.
func (s *Scheduler) OnLogout(actorID int64) {
	s.cache.InvalidateAll()
}
