package auth

// Principal represents a verified identity with its resolved permissions.
// It is built entirely from access-token claims; no store lookup is needed.
type Principal struct {
	UserID      string
	Role        Role
	Permissions map[string]struct{}
}

// NewPrincipal constructs a principal for the given subject and role.
func NewPrincipal(userID string, role Role) Principal {
	return Principal{UserID: userID, Role: role, Permissions: role.Permissions()}
}

// HasPermission reports whether the principal can execute the action
// identified by key.
func (p Principal) HasPermission(key string) bool {
	_, ok := p.Permissions[key]
	return ok
}

// IsPermitted is a pure membership test: it reports whether role is one of
// the required roles. It fails closed — an invalid role or an empty
// requirement set never grants access.
func IsPermitted(role Role, required ...Role) bool {
	if !role.Valid() || len(required) == 0 {
		return false
	}
	for _, r := range required {
		if role == r {
			return true
		}
	}
	return false
}
