package capability

import "context"

// Source provides capability data for one actor. Implementations are the
// Postgres grant store (when this service is the backend of record) and
// HTTPSource (when grants live in a remote access-control service).
type Source interface {
	// ForSurface returns the ordered capabilities granted to the actor on
	// one surface. An empty slice means the actor may open the surface but
	// perform nothing on it.
	ForSurface(ctx context.Context, actorID int64, surface Surface) ([]Capability, error)
	// AllSurfaces returns the actor's capabilities for every surface it may
	// access.
	AllSurfaces(ctx context.Context, actorID int64) (map[Surface][]Capability, error)
	// AccessibleSurfaces lists the surfaces the actor may open.
	AccessibleSurfaces(ctx context.Context, actorID int64) (SurfaceAccess, error)
}
