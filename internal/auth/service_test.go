package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// testClock is a settable time source shared by the issuer and the flow.
type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestFlow(t *testing.T) (*Flow, *MemStore, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	iss, err := NewIssuer(testKeys(t), WithTokenClock(clock.Now))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	store := NewMemStore()
	flow, err := NewFlow(store, iss, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewFlow: %v", err)
	}
	return flow, store, clock
}

func register(t *testing.T, flow *Flow, email string) (*User, *Session) {
	t.Helper()
	user, session, err := flow.Register(context.Background(), Registration{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     email,
		Password:  "correct horse",
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return user, session
}

func TestRegisterCreatesUserAndSession(t *testing.T) {
	flow, store, _ := newTestFlow(t)

	user, session := register(t, flow, "Ada@Example.COM")
	if user.Email != "ada@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}
	if user.Role != RoleCustomer {
		t.Fatalf("role = %q, want customer by default", user.Role)
	}
	if user.PasswordDigest == "correct horse" {
		t.Fatal("plaintext stored as digest")
	}
	if session.UserID != user.ID {
		t.Fatalf("session user = %q, want %q", session.UserID, user.ID)
	}
	if session.AccessToken == "" || session.RefreshToken == "" {
		t.Fatal("session missing tokens")
	}
	if n := store.TokenCount(user.ID); n != 1 {
		t.Fatalf("refresh records = %d, want 1", n)
	}

	// The refresh credential must carry the store record id.
	claims, err := flow.Issuer().VerifyRefreshToken(session.RefreshToken)
	if err != nil {
		t.Fatalf("VerifyRefreshToken: %v", err)
	}
	if _, err := store.RefreshTokens(context.Background()).Find(context.Background(), claims.RecordID()); err != nil {
		t.Fatalf("record %q not found: %v", claims.RecordID(), err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	flow, store, _ := newTestFlow(t)
	user, _ := register(t, flow, "dup@example.com")

	_, _, err := flow.Register(context.Background(), Registration{
		Email:    "DUP@example.com",
		Password: "another pass",
	})
	if !errors.Is(err, ErrDuplicateIdentity) {
		t.Fatalf("expected ErrDuplicateIdentity, got %v", err)
	}
	// The failed attempt must not leave anything behind: one user, one
	// refresh record from the first registration.
	if _, err := store.Users(context.Background()).FindByEmail(context.Background(), "dup@example.com"); err != nil {
		t.Fatalf("original user lost: %v", err)
	}
	if n := store.TokenCount(""); n != 1 {
		t.Fatalf("refresh records = %d, want 1", n)
	}
	if n := store.TokenCount(user.ID); n != 1 {
		t.Fatalf("records for original user = %d, want 1", n)
	}
}

func TestRegisterValidation(t *testing.T) {
	flow, _, _ := newTestFlow(t)

	if _, _, err := flow.Register(context.Background(), Registration{Email: "", Password: "x"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty email: expected ErrInvalidInput, got %v", err)
	}
	if _, _, err := flow.Register(context.Background(), Registration{Email: "a@b.c", Password: ""}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty password: expected ErrInvalidInput, got %v", err)
	}
	if _, _, err := flow.Register(context.Background(), Registration{Email: "a@b.c", Password: "x", Role: "root"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown role: expected ErrInvalidInput, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	flow, _, _ := newTestFlow(t)
	user, _ := register(t, flow, "ada@example.com")

	session, err := flow.Login(context.Background(), "ADA@example.com", "correct horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if session.UserID != user.ID {
		t.Fatalf("session user = %q, want %q", session.UserID, user.ID)
	}
}

// An unknown email and a wrong password must be indistinguishable to the
// caller: the same error kind for both.
func TestLoginFailureIndistinguishable(t *testing.T) {
	flow, _, _ := newTestFlow(t)
	register(t, flow, "ada@example.com")

	_, errWrongPass := flow.Login(context.Background(), "ada@example.com", "wrong pass")
	_, errNoUser := flow.Login(context.Background(), "ghost@example.com", "wrong pass")

	if !errors.Is(errWrongPass, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", errWrongPass)
	}
	if !errors.Is(errNoUser, ErrInvalidCredentials) {
		t.Fatalf("unknown email: expected ErrInvalidCredentials, got %v", errNoUser)
	}
	if errWrongPass.Error() != errNoUser.Error() {
		t.Fatalf("messages differ: %q vs %q", errWrongPass, errNoUser)
	}
}

func TestRefreshRotatesSingleUse(t *testing.T) {
	flow, store, _ := newTestFlow(t)
	user, session := register(t, flow, "ada@example.com")
	ctx := context.Background()

	claims, err := flow.Issuer().VerifyRefreshToken(session.RefreshToken)
	if err != nil {
		t.Fatalf("VerifyRefreshToken: %v", err)
	}
	next, err := flow.Refresh(ctx, claims)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == session.RefreshToken {
		t.Fatal("rotation must mint a new refresh credential")
	}
	if n := store.TokenCount(user.ID); n != 1 {
		t.Fatalf("refresh records after rotation = %d, want 1", n)
	}

	// The consumed credential can never rotate again.
	if _, err := flow.Refresh(ctx, claims); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("second use: expected ErrInvalidToken, got %v", err)
	}

	// The replacement works.
	nextClaims, err := flow.Issuer().VerifyRefreshToken(next.RefreshToken)
	if err != nil {
		t.Fatalf("VerifyRefreshToken: %v", err)
	}
	if nextClaims.RecordID() == claims.RecordID() {
		t.Fatal("rotation reused the record id")
	}
	if _, err := flow.Refresh(ctx, nextClaims); err != nil {
		t.Fatalf("Refresh with replacement: %v", err)
	}
}

func TestRefreshSubjectMismatch(t *testing.T) {
	flow, _, _ := newTestFlow(t)
	_, session := register(t, flow, "ada@example.com")

	claims, err := flow.Issuer().VerifyRefreshToken(session.RefreshToken)
	if err != nil {
		t.Fatalf("VerifyRefreshToken: %v", err)
	}
	claims.Subject = "someone-else"
	if _, err := flow.Refresh(context.Background(), claims); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRefreshExpiredRecord(t *testing.T) {
	flow, store, clock := newTestFlow(t)
	user, session := register(t, flow, "ada@example.com")

	claims, err := flow.Issuer().VerifyRefreshToken(session.RefreshToken)
	if err != nil {
		t.Fatalf("VerifyRefreshToken: %v", err)
	}

	// Past the record expiry the rotation is refused and the dead record is
	// reaped. The clock also moves past the credential's own exp, so this
	// exercises the store-side check via claims directly.
	clock.Advance(366 * 24 * time.Hour)
	if _, err := flow.Refresh(context.Background(), claims); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if n := store.TokenCount(user.ID); n != 0 {
		t.Fatalf("expired record not reaped, %d left", n)
	}
}

func TestUserDeleteCascadesRefreshRecords(t *testing.T) {
	flow, store, _ := newTestFlow(t)
	user, session := register(t, flow, "ada@example.com")
	ctx := context.Background()

	claims, err := flow.Issuer().VerifyRefreshToken(session.RefreshToken)
	if err != nil {
		t.Fatalf("VerifyRefreshToken: %v", err)
	}
	if err := store.Users(ctx).Delete(ctx, user.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if n := store.TokenCount(user.ID); n != 0 {
		t.Fatalf("refresh records after user delete = %d, want 0", n)
	}
	// With the record gone, the credential is just invalid.
	if _, err := flow.Refresh(ctx, claims); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

// A live record whose account has vanished (a partial restore, a manual row
// insert) is an unknown subject, not an invalid token.
func TestRefreshUnknownSubject(t *testing.T) {
	flow, store, _ := newTestFlow(t)
	user, _ := register(t, flow, "ada@example.com")
	ctx := context.Background()

	if err := store.Users(ctx).Delete(ctx, user.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	rec, err := store.RefreshTokens(ctx).Create(ctx, user.ID, time.Hour)
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
	claims := &RefreshClaims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: user.ID,
			ID:      rec.ID,
		},
	}
	if _, err := flow.Refresh(ctx, claims); !errors.Is(err, ErrUnknownSubject) {
		t.Fatalf("expected ErrUnknownSubject, got %v", err)
	}
}

func TestCreateUserDoesNotStartSession(t *testing.T) {
	flow, store, _ := newTestFlow(t)
	ctx := context.Background()

	user, err := flow.CreateUser(ctx, Registration{
		FirstName: "Grace",
		Email:     "grace@example.com",
		Password:  "pass word",
		Role:      RoleManager,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if n := store.TokenCount(user.ID); n != 0 {
		t.Fatalf("refresh records after provisioning = %d, want 0", n)
	}

	// The first credentials come from the account's own login.
	session, err := flow.Login(ctx, "grace@example.com", "pass word")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if session.Role != RoleManager {
		t.Fatalf("role = %q, want manager", session.Role)
	}
	if n := store.TokenCount(user.ID); n != 1 {
		t.Fatalf("refresh records after login = %d, want 1", n)
	}
}

func TestLogoutIdempotent(t *testing.T) {
	flow, store, _ := newTestFlow(t)
	user, session := register(t, flow, "ada@example.com")
	ctx := context.Background()

	claims, err := flow.Issuer().VerifyRefreshToken(session.RefreshToken)
	if err != nil {
		t.Fatalf("VerifyRefreshToken: %v", err)
	}
	if err := flow.Logout(ctx, claims); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if n := store.TokenCount(user.ID); n != 0 {
		t.Fatalf("refresh records after logout = %d, want 0", n)
	}
	// Logging out twice is fine.
	if err := flow.Logout(ctx, claims); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
	// But refreshing a revoked credential is not.
	if _, err := flow.Refresh(ctx, claims); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh after logout: expected ErrInvalidToken, got %v", err)
	}
}

func TestSessionsGetDistinctRecords(t *testing.T) {
	flow, store, _ := newTestFlow(t)
	user, first := register(t, flow, "ada@example.com")
	ctx := context.Background()

	second, err := flow.Login(ctx, "ada@example.com", "correct horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if n := store.TokenCount(user.ID); n != 2 {
		t.Fatalf("refresh records = %d, want 2 (one per session)", n)
	}

	a, err := flow.Issuer().VerifyRefreshToken(first.RefreshToken)
	if err != nil {
		t.Fatalf("VerifyRefreshToken: %v", err)
	}
	b, err := flow.Issuer().VerifyRefreshToken(second.RefreshToken)
	if err != nil {
		t.Fatalf("VerifyRefreshToken: %v", err)
	}
	if a.RecordID() == b.RecordID() {
		t.Fatal("two sessions share a record id")
	}

	// Revoking one session leaves the other usable.
	if err := flow.Logout(ctx, a); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := flow.Refresh(ctx, b); err != nil {
		t.Fatalf("surviving session refresh: %v", err)
	}
}
