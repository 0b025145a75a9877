package httpapi

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"authcore.org/internal/auth"
)

var (
	testKeyOnce sync.Once
	testKeyPEM  string
)

func testKeyMaterial(t *testing.T) *auth.StaticKeys {
	t.Helper()
	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKeyPEM = string(pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		}))
	})
	keys, err := auth.NewStaticKeys(testKeyPEM, "", "test-refresh-secret")
	if err != nil {
		t.Fatalf("NewStaticKeys: %v", err)
	}
	return keys
}

type testEnv struct {
	srv   *httptest.Server
	store *auth.MemStore
	flow  *auth.Flow
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	iss, err := auth.NewIssuer(testKeyMaterial(t))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	store := auth.NewMemStore()
	flow, err := auth.NewFlow(store, iss)
	if err != nil {
		t.Fatalf("NewFlow: %v", err)
	}
	api := New(ReadyProbe{}, "test", flow, store, WithRateLimit(10000, 10000))
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: store, flow: flow}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	payload := map[string]json.RawMessage{}
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func str(t *testing.T, payload map[string]json.RawMessage, key string) string {
	t.Helper()
	var s string
	if raw, ok := payload[key]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

// adminToken provisions an admin account directly in the store and logs it in.
func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	digest, err := auth.HashPassword("admin-pass")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	ctx := context.Background()
	u := &auth.User{Email: "root@example.com", PasswordDigest: digest, Role: auth.RoleAdmin}
	if err := e.store.Users(ctx).Create(ctx, u); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	session, err := e.flow.Login(ctx, "root@example.com", "admin-pass")
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	return session.AccessToken
}

func TestRegisterLoginSelf(t *testing.T) {
	env := newTestEnv(t)

	resp, payload := env.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"first_name": "Ada",
		"last_name":  "Lovelace",
		"email":      "ada@example.com",
		"password":   "correct horse",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", resp.StatusCode)
	}
	if str(t, payload, "access_token") == "" || str(t, payload, "refresh_token") == "" {
		t.Fatal("register response missing tokens")
	}
	var gotCookie bool
	for _, c := range resp.Cookies() {
		if c.Name == "refresh_token" && c.HttpOnly {
			gotCookie = true
		}
	}
	if !gotCookie {
		t.Fatal("register did not set the HttpOnly refresh cookie")
	}

	resp, payload = env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    "ADA@example.com",
		"password": "correct horse",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}
	access := str(t, payload, "access_token")

	resp, payload = env.do(t, http.MethodGet, "/v1/auth/self", access, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("self status = %d, want 200", resp.StatusCode)
	}
	if got := str(t, payload, "email"); got != "ada@example.com" {
		t.Fatalf("self email = %q, want ada@example.com", got)
	}

	resp, _ = env.do(t, http.MethodGet, "/v1/auth/self", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("self without token = %d, want 401", resp.StatusCode)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]string{"email": "dup@example.com", "password": "some pass"}

	if resp, _ := env.do(t, http.MethodPost, "/v1/auth/register", "", body); resp.StatusCode != http.StatusCreated {
		t.Fatalf("first register = %d, want 201", resp.StatusCode)
	}
	resp, _ := env.do(t, http.MethodPost, "/v1/auth/register", "", body)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register = %d, want 409", resp.StatusCode)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email": "ada@example.com", "password": "correct horse",
	})

	for _, body := range []map[string]string{
		{"email": "ada@example.com", "password": "wrong"},
		{"email": "ghost@example.com", "password": "wrong"},
	} {
		resp, _ := env.do(t, http.MethodPost, "/v1/auth/login", "", body)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("login %v = %d, want 401", body, resp.StatusCode)
		}
	}
}

func TestRefreshRotation(t *testing.T) {
	env := newTestEnv(t)
	_, payload := env.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email": "ada@example.com", "password": "correct horse",
	})
	refresh := str(t, payload, "refresh_token")

	resp, payload := env.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": refresh,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d, want 200", resp.StatusCode)
	}
	next := str(t, payload, "refresh_token")
	if next == "" || next == refresh {
		t.Fatal("refresh did not rotate the credential")
	}

	// The consumed credential is single use.
	resp, _ = env.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": refresh,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("replayed refresh = %d, want 401", resp.StatusCode)
	}

	// The replacement still works.
	resp, _ = env.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": next,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replacement refresh = %d, want 200", resp.StatusCode)
	}
}

func TestRefreshViaCookie(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email": "ada@example.com", "password": "correct horse",
	})
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "refresh_token" {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("no refresh cookie set")
	}

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/v1/auth/refresh", bytes.NewReader([]byte("{}")))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookie)
	got, err := env.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	defer got.Body.Close()
	if got.StatusCode != http.StatusOK {
		t.Fatalf("cookie refresh = %d, want 200", got.StatusCode)
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	_, payload := env.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email": "ada@example.com", "password": "correct horse",
	})
	refresh := str(t, payload, "refresh_token")
	body := map[string]string{"refresh_token": refresh}

	resp, _ := env.do(t, http.MethodPost, "/v1/auth/logout", "", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout = %d, want 200", resp.StatusCode)
	}
	// Idempotent: a second logout with the same credential also succeeds.
	resp, _ = env.do(t, http.MethodPost, "/v1/auth/logout", "", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second logout = %d, want 200", resp.StatusCode)
	}
	// A revoked credential can no longer refresh.
	resp, _ = env.do(t, http.MethodPost, "/v1/auth/refresh", "", body)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh after logout = %d, want 401", resp.StatusCode)
	}
}

func TestAdminGates(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken(t)

	_, payload := env.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email": "customer@example.com", "password": "some pass",
	})
	customer := str(t, payload, "access_token")

	// Customers never reach tenant or user management.
	for _, path := range []string{"/v1/tenants", "/v1/users"} {
		resp, _ := env.do(t, http.MethodGet, path, customer, nil)
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("customer GET %s = %d, want 403", path, resp.StatusCode)
		}
	}

	resp, payload := env.do(t, http.MethodPost, "/v1/tenants", admin, map[string]string{
		"name": "Acme", "address": "1 Main St",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create tenant = %d, want 201", resp.StatusCode)
	}
	tenantID := str(t, payload, "id")
	if tenantID == "" {
		t.Fatal("tenant id missing")
	}

	resp, payload = env.do(t, http.MethodPost, "/v1/users", admin, map[string]string{
		"first_name": "Grace", "email": "grace@example.com", "password": "pass word", "role": "manager",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create user = %d, want 201", resp.StatusCode)
	}
	if got := str(t, payload, "role"); got != "manager" {
		t.Fatalf("created role = %q, want manager", got)
	}
	userID := str(t, payload, "id")

	// Provisioning delivers no credentials, so no refresh record may exist
	// until the account logs in itself.
	if n := env.store.TokenCount(userID); n != 0 {
		t.Fatalf("provisioned user holds %d refresh record(s), want 0", n)
	}

	resp, _ = env.do(t, http.MethodGet, "/v1/users?role=manager", admin, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list users = %d, want 200", resp.StatusCode)
	}

	// Managers can manage users but not tenants.
	resp, payload = env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "grace@example.com", "password": "pass word",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("manager login = %d, want 200", resp.StatusCode)
	}
	manager := str(t, payload, "access_token")
	resp, _ = env.do(t, http.MethodGet, "/v1/users", manager, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("manager list users = %d, want 200", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodGet, "/v1/tenants", manager, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("manager list tenants = %d, want 403", resp.StatusCode)
	}

	// Deleting accounts is admin-only, beyond the manage permission.
	resp, _ = env.do(t, http.MethodDelete, "/v1/users/"+userID, manager, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("manager delete user = %d, want 403", resp.StatusCode)
	}

	// Deleting the user also revokes its sessions.
	resp, _ = env.do(t, http.MethodDelete, "/v1/users/"+userID, admin, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete user = %d, want 200", resp.StatusCode)
	}
	if n := env.store.TokenCount(userID); n != 0 {
		t.Fatalf("refresh records after delete = %d, want 0", n)
	}
}

// Provisioning never guesses a role: omitting the field is a validation
// error, not a privileged default.
func TestCreateUserRequiresRole(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken(t)

	resp, _ := env.do(t, http.MethodPost, "/v1/users", admin, map[string]string{
		"first_name": "Grace", "email": "grace@example.com", "password": "pass word",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("create user without role = %d, want 400", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, "/v1/users", admin, map[string]string{
		"first_name": "Grace", "email": "grace@example.com", "password": "pass word", "role": "root",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("create user with unknown role = %d, want 400", resp.StatusCode)
	}
}

// Self-service registration always lands on the customer role; privileged
// roles only come from the admin surface.
func TestRegisterDefaultsToCustomer(t *testing.T) {
	env := newTestEnv(t)
	resp, payload := env.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email": "sneaky@example.com", "password": "some pass",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register = %d, want 201", resp.StatusCode)
	}
	if got := str(t, payload, "role"); got != "customer" {
		t.Fatalf("role = %q, want customer", got)
	}
}

func TestHealthAndInfo(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp, _ := env.do(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestExpiredAccessTokenRejected(t *testing.T) {
	env := newTestEnv(t)

	past := time.Now().Add(-2 * time.Hour)
	iss, err := auth.NewIssuer(testKeyMaterial(t), auth.WithTokenClock(func() time.Time { return past }))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	stale, _, err := iss.IssueAccessToken("user-1", auth.RoleAdmin)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	resp, _ := env.do(t, http.MethodGet, "/v1/auth/self", stale, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expired token = %d, want 401", resp.StatusCode)
	}
}
