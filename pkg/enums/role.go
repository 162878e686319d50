package enums

import (
	"fmt"
	"strings"
)

// Role is the dashboard role carried by the access token.
type Role string

const (
	RoleDirection    Role = "direction"
	RoleIntervention Role = "intervention"
	RoleCitoyen      Role = "citoyen"
)

var validRoles = []Role{
	RoleDirection,
	RoleIntervention,
	RoleCitoyen,
}

var roleAliases = map[string]Role{
	"citizen":              RoleCitoyen,
	"intervention_service": RoleIntervention,
	"service_intervention": RoleIntervention,
}

// String implements fmt.Stringer.
func (r Role) String() string {
	return string(r)
}

// IsValid reports whether the value is a known Role.
func (r Role) IsValid() bool {
	for _, candidate := range validRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRole converts a raw token claim into a Role. Matching is case-insensitive
// and ignores the ROLE_ prefix emitted by the backend.
func ParseRole(value string) (Role, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.TrimPrefix(normalized, "role_")
	normalized = strings.ReplaceAll(normalized, "-", "_")
	if alias, ok := roleAliases[normalized]; ok {
		return alias, nil
	}
	for _, candidate := range validRoles {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid role %q", value)
}
