package identity

import "time"

// Role is the closed set of positions on a construction site. Stage gating
// and capability grants are keyed by role name.
type Role string

const (
	RoleDirector           Role = "director"
	RoleSiteManager        Role = "site_manager"
	RoleForeman            Role = "foreman"
	RoleContractor         Role = "contractor"
	RoleSupplyManager      Role = "supply_manager"
	RoleWarehouseHead      Role = "warehouse_head"
	RoleSupervisor         Role = "supervisor"
	RoleObserver           Role = "observer"
	RoleEngineer           Role = "engineer"
	RoleProjectManager     Role = "project_manager"
	RoleChiefPowerEngineer Role = "chief_power_engineer"
	RoleChiefEngineer      Role = "chief_engineer"
)

// Valid reports whether the role belongs to the closed enumeration.
func (r Role) Valid() bool {
	switch r {
	case RoleDirector, RoleSiteManager, RoleForeman, RoleContractor,
		RoleSupplyManager, RoleWarehouseHead, RoleSupervisor, RoleObserver,
		RoleEngineer, RoleProjectManager, RoleChiefPowerEngineer, RoleChiefEngineer:
		return true
	}
	return false
}

// Actor represents an authenticated account. Read-only to the permission and
// workflow core; owned by the identity store.
type Actor struct {
	ID           int64
	Login        string
	Name         string
	Role         Role
	Elevated     bool
	FullAccess   bool
	CompanyID    int64
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Bypasses reports whether permission checks short-circuit to allow for this
// actor, either through elevated privileges or the full-access category.
func (a Actor) Bypasses() bool {
	return a.Elevated || a.FullAccess
}
