package capability

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicateGrant indicates the grant already exists.
var ErrDuplicateGrant = errors.New("capability: grant already exists")

// PGStore is the backend-of-record Source: grants per (role, surface,
// capability) resolved through the actor's role. Results are pre-filtered
// server-side; no role data leaves this store.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const grantedColumns = `c.surface, c.key, c.label, c.description`

// ForSurface implements Source.
func (s *PGStore) ForSurface(ctx context.Context, actorID int64, surface Surface) ([]Capability, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+grantedColumns+`
FROM capabilities c
JOIN role_grants g ON g.surface = c.surface AND g.capability_key = c.key
JOIN actors a ON a.role = g.role
WHERE a.id = $1 AND c.surface = $2
ORDER BY c.position`, actorID, string(surface))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	caps, _, err := collectCapabilities(rows)
	return caps, err
}

// AllSurfaces implements Source.
func (s *PGStore) AllSurfaces(ctx context.Context, actorID int64) (map[Surface][]Capability, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+grantedColumns+`
FROM capabilities c
JOIN role_grants g ON g.surface = c.surface AND g.capability_key = c.key
JOIN actors a ON a.role = g.role
WHERE a.id = $1
ORDER BY c.surface, c.position`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	_, bySurface, err := collectCapabilities(rows)
	return bySurface, err
}

// AccessibleSurfaces implements Source.
func (s *PGStore) AccessibleSurfaces(ctx context.Context, actorID int64) (SurfaceAccess, error) {
	all, err := s.AllSurfaces(ctx, actorID)
	if err != nil {
		return SurfaceAccess{}, err
	}
	access := SurfaceAccess{
		AccessibleSurfaces: make([]Surface, 0, len(all)),
		PerSurfaceInfo:     make(map[Surface]SurfaceInfo, len(all)),
	}
	for surface, caps := range all {
		access.AccessibleSurfaces = append(access.AccessibleSurfaces, surface)
		access.PerSurfaceInfo[surface] = SurfaceInfo{
			Title:           surfaceTitle(surface),
			CapabilityCount: len(caps),
		}
	}
	sortSurfaces(access.AccessibleSurfaces)
	return access, nil
}

// CatalogForSurface lists every capability defined on the surface regardless
// of grants. Served to elevated and full-access actors.
func (s *PGStore) CatalogForSurface(ctx context.Context, surface Surface) ([]Capability, error) {
	rows, err := s.pool.Query(ctx, `SELECT surface, key, label, description
FROM capabilities WHERE surface = $1 ORDER BY position`, string(surface))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	caps, _, err := collectCapabilities(rows)
	return caps, err
}

// CatalogAll lists the full capability catalog grouped by surface.
func (s *PGStore) CatalogAll(ctx context.Context) (map[Surface][]Capability, error) {
	rows, err := s.pool.Query(ctx, `SELECT surface, key, label, description
FROM capabilities ORDER BY surface, position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	_, bySurface, err := collectCapabilities(rows)
	return bySurface, err
}

// Grant attaches a capability to a role on a surface.
func (s *PGStore) Grant(ctx context.Context, role string, surface Surface, key string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO role_grants (role, surface, capability_key)
VALUES ($1, $2, $3)`, role, string(surface), key)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateGrant
		}
		return err
	}
	return nil
}

// Revoke removes a capability grant. Returns false when nothing was removed.
func (s *PGStore) Revoke(ctx context.Context, role string, surface Surface, key string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM role_grants
WHERE role = $1 AND surface = $2 AND capability_key = $3`, role, string(surface), key)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func collectCapabilities(rows pgx.Rows) ([]Capability, map[Surface][]Capability, error) {
	var flat []Capability
	bySurface := make(map[Surface][]Capability)
	for rows.Next() {
		var surface string
		var c Capability
		if err := rows.Scan(&surface, &c.Key, &c.Label, &c.Description); err != nil {
			return nil, nil, err
		}
		if c.Label == "" {
			c.Label = defaultLabel(c.Key)
		}
		flat = append(flat, c)
		bySurface[Surface(surface)] = append(bySurface[Surface(surface)], c)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return flat, bySurface, nil
}

var _ Source = (*PGStore)(nil)
