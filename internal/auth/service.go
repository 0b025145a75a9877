package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Flow orchestrates register, login, refresh and logout by composing the
// credential verifier, the token issuer and the stores. It is the only layer
// allowed to translate a lower-level failure into a different user-facing
// kind.
type Flow struct {
	store  Store
	issuer *Issuer
	now    func() time.Time
}

// FlowOption configures Flow behavior.
type FlowOption func(*Flow) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) FlowOption {
	return func(f *Flow) error {
		if fn != nil {
			f.now = fn
		}
		return nil
	}
}

// NewFlow constructs the authentication flow.
func NewFlow(store Store, issuer *Issuer, opts ...FlowOption) (*Flow, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if issuer == nil {
		return nil, errors.New("auth: issuer is required")
	}
	f := &Flow{store: store, issuer: issuer, now: time.Now}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Issuer exposes the token issuer for transports that need to verify
// credentials before invoking Refresh or Logout.
func (f *Flow) Issuer() *Issuer { return f.issuer }

// Registration is the profile captured at sign-up.
type Registration struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	TenantID  string
	Role      Role
}

// Session is the outcome of a successful transition into the authenticated
// state: one access credential and one refresh credential, each an opaque
// string with its own expiry. How they travel is the transport's business.
type Session struct {
	UserID           string
	Role             Role
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Register persists a new user and immediately logs it in. Email uniqueness
// is enforced by the store's constraint, so two racing registrations cannot
// both succeed.
func (f *Flow) Register(ctx context.Context, reg Registration) (*User, *Session, error) {
	user, err := newUser(reg)
	if err != nil {
		return nil, nil, err
	}
	if err := f.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, nil, err
	}
	session, err := f.startSession(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return user, session, nil
}

// CreateUser persists a provisioned account without starting a session. No
// tokens are minted and no refresh record is created: a record may exist only
// while its credential is actually outstanding, and here none is delivered.
// The account's first credentials come from its own login.
func (f *Flow) CreateUser(ctx context.Context, reg Registration) (*User, error) {
	user, err := newUser(reg)
	if err != nil {
		return nil, err
	}
	if err := f.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// newUser validates a registration and builds the account record, hashing the
// password. The id is assigned by the store on insert.
func newUser(reg Registration) (*User, error) {
	email := normalizeEmail(reg.Email)
	if email == "" || reg.Password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	role := reg.Role
	if role == "" {
		role = RoleCustomer
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, reg.Role)
	}
	digest, err := HashPassword(reg.Password)
	if err != nil {
		return nil, err
	}
	return &User{
		TenantID:       strings.TrimSpace(reg.TenantID),
		FirstName:      strings.TrimSpace(reg.FirstName),
		LastName:       strings.TrimSpace(reg.LastName),
		Email:          email,
		PasswordDigest: digest,
		Role:           role,
	}, nil
}

// Login verifies credentials and mints a fresh token pair. An unknown email
// and a wrong password are indistinguishable: both return
// ErrInvalidCredentials, and the unknown-email path still burns one hash
// comparison so the latencies match.
func (f *Flow) Login(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := f.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			compareDummy(password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	ok, err := ComparePassword(user.PasswordDigest, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return f.startSession(ctx, user)
}

// Refresh rotates a refresh credential. The caller must have verified the
// credential cryptographically (signature and expiry) before calling; this
// method checks the store-backed half of validity. The old record is deleted
// before anything new is minted — once rotated, a credential can never rotate
// again, even if a later step fails.
func (f *Flow) Refresh(ctx context.Context, claims *RefreshClaims) (*Session, error) {
	if claims == nil || claims.ID == "" || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	tokens := f.store.RefreshTokens(ctx)
	rec, err := tokens.Find(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if rec.UserID != claims.Subject {
		return nil, ErrInvalidToken
	}
	if f.now().After(rec.ExpiresAt) {
		_ = tokens.DeleteByID(ctx, rec.ID)
		return nil, ErrInvalidToken
	}
	user, err := f.store.Users(ctx).Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnknownSubject
		}
		return nil, err
	}
	if err := tokens.DeleteByID(ctx, rec.ID); err != nil {
		return nil, err
	}
	return f.startSession(ctx, user)
}

// Logout revokes the record behind a refresh credential. It is idempotent: a
// second logout with the same credential succeeds as well.
func (f *Flow) Logout(ctx context.Context, claims *RefreshClaims) error {
	if claims == nil || claims.ID == "" {
		return ErrInvalidToken
	}
	return f.store.RefreshTokens(ctx).DeleteByID(ctx, claims.ID)
}

// startSession is the token-minting tail shared by register, login and
// refresh: create the store record first, then embed its id into the refresh
// credential. If minting fails the orphan record is removed so that a record
// exists only when its credential is actually outstanding.
func (f *Flow) startSession(ctx context.Context, user *User) (*Session, error) {
	tokens := f.store.RefreshTokens(ctx)
	rec, err := tokens.Create(ctx, user.ID, f.issuer.RefreshTTL())
	if err != nil {
		return nil, err
	}
	access, accessExp, err := f.issuer.IssueAccessToken(user.ID, user.Role)
	if err != nil {
		_ = tokens.DeleteByID(ctx, rec.ID)
		return nil, err
	}
	refresh, refreshExp, err := f.issuer.IssueRefreshToken(user.ID, user.Role, rec.ID)
	if err != nil {
		_ = tokens.DeleteByID(ctx, rec.ID)
		return nil, err
	}
	return &Session{
		UserID:           user.ID,
		Role:             user.Role,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
