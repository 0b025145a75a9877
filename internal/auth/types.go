package auth

import "time"

// Tenant represents an organization whose users authenticate through the service.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User represents an account able to obtain credentials.
type User struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id,omitempty"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Email          string    `json:"email"`
	PasswordDigest string    `json:"-"`
	Role           Role      `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// RefreshToken is the durable handle of one outstanding refresh credential.
// The record exists exactly as long as the credential may still be rotated;
// deleting it revokes the rotation right even though the signed token stays
// cryptographically valid until its embedded expiry.
type RefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TenantUpdate carries partial tenant changes.
type TenantUpdate struct {
	Name    *string
	Address *string
}

// UserUpdate carries partial user changes.
type UserUpdate struct {
	FirstName *string
	LastName  *string
	Role      *Role
}

// UserQuery filters user listings.
type UserQuery struct {
	Search  string
	Role    Role
	Page    int
	PerPage int
}
