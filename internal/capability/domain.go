package capability

import (
	"fmt"
	"time"
)

// Surface is a named page/module that can host gated actions.
type Surface string

// Surface catalog. Keys match the browser application's route identifiers.
const (
	SurfaceProjects         Surface = "projects"
	SurfaceMaterialRequests Surface = "material-requests"
	SurfaceQualityChecks    Surface = "quality-checks"
	SurfaceContractors      Surface = "contractors"
	SurfaceWarehouse        Surface = "warehouse"
	SurfaceAccessControl    Surface = "access-control"
)

// Capability keys shared across surfaces. Grantability is resolved
// server-side per actor; Capability values never carry role information.
const (
	KeyView          = "view_details"
	KeyCreate        = "create"
	KeyEdit          = "edit"
	KeyDelete        = "delete"
	KeyApprove       = "approve"
	KeyReject        = "reject"
	KeyMarkPaid      = "mark_paid"
	KeyMarkDelivered = "mark_delivered"
	KeyManageAccess  = "manage_access"
)

// Capability is a named, independently grantable action within a Surface.
type Capability struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Scope identifies what a fetched capability set covers: one surface or the
// full surface catalog. The explicit discriminant replaces the original
// client's runtime "list or map" shape check.
type Scope struct {
	All     bool
	Surface Surface
}

// ScopeSurface builds a single-surface scope.
func ScopeSurface(s Surface) Scope {
	return Scope{Surface: s}
}

// ScopeAll builds the all-surfaces scope.
func ScopeAll() Scope {
	return Scope{All: true}
}

// Key returns the cache-key fragment for the scope.
func (s Scope) Key() string {
	if s.All {
		return "*"
	}
	return string(s.Surface)
}

// Set is the materialized capability collection for one actor and one scope.
// Exactly one of Single or All is populated, matching the scope discriminant.
type Set struct {
	Scope     Scope
	Single    []Capability
	All       map[Surface][]Capability
	FetchedAt time.Time
}

// Allows reports whether key is granted on surface within this set.
func (s *Set) Allows(surface Surface, key string) bool {
	if s == nil {
		return false
	}
	var caps []Capability
	if s.Scope.All {
		caps = s.All[surface]
	} else {
		if s.Scope.Surface != surface {
			return false
		}
		caps = s.Single
	}
	for _, c := range caps {
		if c.Key == key {
			return true
		}
	}
	return false
}

// SurfaceAccess describes which surfaces an actor may open.
type SurfaceAccess struct {
	AccessibleSurfaces []Surface               `json:"accessibleSurfaces"`
	PerSurfaceInfo     map[Surface]SurfaceInfo `json:"perSurfaceInfo,omitempty"`
}

// SurfaceInfo carries display metadata per accessible surface.
type SurfaceInfo struct {
	Title           string `json:"title"`
	CapabilityCount int    `json:"capabilityCount"`
}

// CacheKey composes the cache key for an actor/scope pair.
func CacheKey(actorID int64, scope Scope) string {
	return fmt.Sprintf("%d|%s", actorID, scope.Key())
}
