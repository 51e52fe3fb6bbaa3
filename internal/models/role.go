package models

import "strings"

// Role represents an actor role issued by the campus identity provider.
type Role string

const (
	RoleSuperAdmin             Role = "SUPER_ADMIN"
	RoleDepartmentEndorser     Role = "DEPARTMENT_ENDORSER"
	RoleProgramChair           Role = "PROGRAM_CHAIR"
	RoleServiceDepartmentAdmin Role = "SERVICE_DEPARTMENT_ADMIN"
	RoleFacilityAdmin          Role = "FACILITY_ADMIN"
	RoleLibrarian              Role = "LIBRARIAN"
	RoleAffiliateRenter        Role = "AFFILIATE_RENTER"
	RoleGuestRenter            Role = "GUEST_RENTER"
	RoleStudent                Role = "STUDENT"
)

// AllRoles lists every role known to the system in display order.
var AllRoles = []Role{
	RoleSuperAdmin,
	RoleDepartmentEndorser,
	RoleProgramChair,
	RoleServiceDepartmentAdmin,
	RoleFacilityAdmin,
	RoleLibrarian,
	RoleAffiliateRenter,
	RoleGuestRenter,
	RoleStudent,
}

var roleLabels = map[Role]string{
	RoleSuperAdmin:             "Super Admin",
	RoleDepartmentEndorser:     "Department Endorser",
	RoleProgramChair:           "Program Chair",
	RoleServiceDepartmentAdmin: "Service Department Admin",
	RoleFacilityAdmin:          "FMO",
	RoleLibrarian:              "Librarian",
	RoleAffiliateRenter:        "Affiliate Renter",
	RoleGuestRenter:            "Guest Renter",
	RoleStudent:                "Student",
}

// ParseRole normalises user input into a Role. Unknown values are returned as-is
// and fail Known().
func ParseRole(raw string) Role {
	return Role(strings.ToUpper(strings.TrimSpace(raw)))
}

// Known reports whether the role is part of the registry.
func (r Role) Known() bool {
	_, ok := roleLabels[r]
	return ok
}

// Label returns the portal-facing name of the role.
func (r Role) Label() string {
	if label, ok := roleLabels[r]; ok {
		return label
	}
	return string(r)
}

// Program scopes a Program Chair or a student.
type Program string

const (
	ProgramCTHM Program = "CTHM"
	ProgramSECA Program = "SECA"
)

// Valid reports whether the program is recognised.
func (p Program) Valid() bool {
	return p == ProgramCTHM || p == ProgramSECA
}

// Department scopes a Service Department Admin.
type Department string

// DepartmentITSO is the IT Services Office clearing computer laboratory use.
const DepartmentITSO Department = "ITSO"

// Actor is the authenticated caller as asserted by token claims.
type Actor struct {
	UserID     string     `json:"user_id"`
	Role       Role       `json:"role"`
	Program    Program    `json:"program,omitempty"`
	Department Department `json:"department,omitempty"`
}
