package enums

import (
	"fmt"
	"strings"
)

// UserRole is the platform-level role carried by every principal.
type UserRole string

const (
	UserRolePatient   UserRole = "patient"
	UserRoleRider     UserRole = "rider"
	UserRoleAdmin     UserRole = "admin"
	UserRolePharmacy  UserRole = "pharmacy"
	UserRoleDoctor    UserRole = "doctor"
	UserRoleCaregiver UserRole = "caregiver"
)

// DefaultUserRole is assigned at signup.
const DefaultUserRole = UserRolePatient

var validUserRoles = []UserRole{
	UserRolePatient,
	UserRoleRider,
	UserRoleAdmin,
	UserRolePharmacy,
	UserRoleDoctor,
	UserRoleCaregiver,
}

// String implements fmt.Stringer.
func (r UserRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known UserRole.
func (r UserRole) IsValid() bool {
	for _, candidate := range validUserRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseUserRole converts raw input into a UserRole.
func ParseUserRole(value string) (UserRole, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validUserRoles {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid user role %q", value)
}
