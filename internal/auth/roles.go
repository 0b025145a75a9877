package auth

import (
	"fmt"
	"strings"
)

// Role is a closed enumeration. Anything outside the declared constants is
// rejected at the edges so the access gate can never fail open on a typo.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleCustomer Role = "customer"
)

// Permission keys resolved from roles.
const (
	PermManageTenants = "tenants.manage"
	PermManageUsers   = "users.manage"
	PermReadSelf      = "self.read"
)

// rolePermissions is the exhaustive role to permission-set mapping.
var rolePermissions = map[Role][]string{
	RoleAdmin:    {PermManageTenants, PermManageUsers, PermReadSelf},
	RoleManager:  {PermManageUsers, PermReadSelf},
	RoleCustomer: {PermReadSelf},
}

// ParseRole normalizes and validates a role value.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.TrimSpace(strings.ToLower(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
	}
	return role, nil
}

// Valid reports whether the role is one of the declared constants.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleCustomer:
		return true
	default:
		return false
	}
}

// Permissions returns the permission set for the role. Unknown roles resolve
// to the empty set.
func (r Role) Permissions() map[string]struct{} {
	keys, ok := rolePermissions[r]
	if !ok {
		return map[string]struct{}{}
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}
