package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Tenants(ctx context.Context) TenantStore
	Users(ctx context.Context) UserStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
}

// TenantStore manages tenants.
type TenantStore interface {
	Create(ctx context.Context, t *Tenant) error
	Find(ctx context.Context, id string) (*Tenant, error)
	List(ctx context.Context) ([]*Tenant, error)
	Update(ctx context.Context, id string, upd TenantUpdate) (*Tenant, error)
	Delete(ctx context.Context, id string) error
}

// UserStore manages user accounts. Create fails with ErrDuplicateIdentity
// when the email is already taken; the uniqueness guarantee lives in the
// store so no check-then-insert race exists above it. Delete also removes the
// user's refresh records (the relational schema cascades; every
// implementation must match).
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, q UserQuery) ([]*User, int, error)
	Update(ctx context.Context, id string, upd UserUpdate) (*User, error)
	Delete(ctx context.Context, id string) error
}

// RefreshTokenStore manages the durable record behind each outstanding
// refresh credential. Create must be atomic; DeleteByID is idempotent —
// deleting an absent id just means the credential was already revoked.
// Concurrent creates for one user must both succeed with distinct ids.
type RefreshTokenStore interface {
	Create(ctx context.Context, userID string, ttl time.Duration) (*RefreshToken, error)
	Find(ctx context.Context, id string) (*RefreshToken, error)
	DeleteByID(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID string) error
}
