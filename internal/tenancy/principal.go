package tenancy

import "strings"

// Role is a portal role carried in the access token.
type Role string

const (
	RolePatient    Role = "patient"
	RoleDoctor     Role = "doctor"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// ParseRole normalizes a claim value; unknown values return false.
func ParseRole(raw string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RolePatient, RoleDoctor, RoleAdmin, RoleSuperAdmin:
		return r, true
	default:
		return "", false
	}
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID string
	OrgID  string
	Role   Role
}

// Is reports whether the principal holds one of roles.
func (p Principal) Is(roles ...Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// IsStaff covers doctors and clinic administrators.
func (p Principal) IsStaff() bool {
	return p.Is(RoleDoctor, RoleAdmin, RoleSuperAdmin)
}
