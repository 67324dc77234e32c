package capability

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/prorab-app/prorab/internal/identity"
	"github.com/prorab-app/prorab/internal/shared"
)

// Reindexer propagates grant changes to caches held by other processes.
type Reindexer interface {
	EnqueueCapabilityReindex(ctx context.Context, force bool) error
}

// Service serves capability listings for the REST endpoints and manages
// grants. Elevated and full-access actors receive the full catalog; everyone
// else gets the store's pre-filtered view of their role.
type Service struct {
	store   *PGStore
	cache   *Cache
	audit   *shared.AuditLogger
	reindex Reindexer
}

// NewService constructs a Service.
func NewService(store *PGStore, cache *Cache, audit *shared.AuditLogger) *Service {
	return &Service{store: store, cache: cache, audit: audit}
}

// SetReindexer attaches the queue client that fans grant changes out to
// worker-side caches. Optional; single-process deployments skip it.
func (s *Service) SetReindexer(r Reindexer) {
	s.reindex = r
}

// ListForSurface returns the capabilities the actor holds on one surface.
func (s *Service) ListForSurface(ctx context.Context, actor identity.Actor, surface Surface) ([]Capability, error) {
	if actor.Bypasses() {
		return s.store.CatalogForSurface(ctx, surface)
	}
	return s.store.ForSurface(ctx, actor.ID, surface)
}

// ListAll returns the actor's capabilities grouped by surface.
func (s *Service) ListAll(ctx context.Context, actor identity.Actor) (map[Surface][]Capability, error) {
	if actor.Bypasses() {
		return s.store.CatalogAll(ctx)
	}
	return s.store.AllSurfaces(ctx, actor.ID)
}

// AccessibleSurfaces lists the surfaces the actor may open.
func (s *Service) AccessibleSurfaces(ctx context.Context, actor identity.Actor) (SurfaceAccess, error) {
	if !actor.Bypasses() {
		return s.store.AccessibleSurfaces(ctx, actor.ID)
	}
	all, err := s.store.CatalogAll(ctx)
	if err != nil {
		return SurfaceAccess{}, err
	}
	access := SurfaceAccess{
		AccessibleSurfaces: make([]Surface, 0, len(all)),
		PerSurfaceInfo:     make(map[Surface]SurfaceInfo, len(all)),
	}
	for surface, caps := range all {
		access.AccessibleSurfaces = append(access.AccessibleSurfaces, surface)
		access.PerSurfaceInfo[surface] = SurfaceInfo{Title: surfaceTitle(surface), CapabilityCount: len(caps)}
	}
	sortSurfaces(access.AccessibleSurfaces)
	return access, nil
}

// Grant attaches a capability to a role and invalidates cached sets so the
// change is visible on the next resolution.
func (s *Service) Grant(ctx context.Context, actor identity.Actor, role string, surface Surface, key string) error {
	if !identity.Role(role).Valid() {
		return shared.ErrNotFound
	}
	if err := s.store.Grant(ctx, role, surface, key); err != nil {
		return err
	}
	s.cache.InvalidateAll()
	s.fanOut(ctx)
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "GRANT",
			Entity:   "capability",
			EntityID: string(surface) + ":" + key,
			Meta:     map[string]any{"role": role},
		})
	}
	return nil
}

// Revoke removes a capability grant and invalidates cached sets.
func (s *Service) Revoke(ctx context.Context, actor identity.Actor, role string, surface Surface, key string) error {
	removed, err := s.store.Revoke(ctx, role, surface, key)
	if err != nil {
		return err
	}
	if !removed {
		return shared.ErrNotFound
	}
	s.cache.InvalidateAll()
	s.fanOut(ctx)
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "REVOKE",
			Entity:   "capability",
			EntityID: string(surface) + ":" + key,
			Meta:     map[string]any{"role": role},
		})
	}
	return nil
}

// fanOut is best effort: a lost reindex converges on the worker's periodic
// cron.
func (s *Service) fanOut(ctx context.Context) {
	if s.reindex != nil {
		_ = s.reindex.EnqueueCapabilityReindex(ctx, false)
	}
}

var titleCaser = cases.Title(language.English)

// surfaceTitle derives a display title from a surface key, e.g.
// "material-requests" becomes "Material Requests".
func surfaceTitle(surface Surface) string {
	return titleCaser.String(strings.ReplaceAll(string(surface), "-", " "))
}

// defaultLabel derives a human label for a capability key missing one.
func defaultLabel(key string) string {
	return titleCaser.String(strings.ReplaceAll(key, "_", " "))
}

func sortSurfaces(surfaces []Surface) {
	sort.Slice(surfaces, func(i, j int) bool { return surfaces[i] < surfaces[j] })
}
