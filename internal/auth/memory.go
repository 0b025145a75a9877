package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"authcore.org/internal/ids"
)

// MemStore is an in-memory Store used by tests and local development. It
// honors the same contracts as the PostgreSQL implementation: unique emails,
// atomic refresh-record creation and idempotent deletes.
type MemStore struct {
	mu      sync.Mutex
	now     func() time.Time
	tenants map[string]*Tenant
	users   map[string]*User
	tokens  map[string]*RefreshToken
}

var _ Store = (*MemStore)(nil)

// NewMemStore constructs an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		now:     time.Now,
		tenants: make(map[string]*Tenant),
		users:   make(map[string]*User),
		tokens:  make(map[string]*RefreshToken),
	}
}

func (m *MemStore) Tenants(context.Context) TenantStore             { return (*memTenants)(m) }
func (m *MemStore) Users(context.Context) UserStore                 { return (*memUsers)(m) }
func (m *MemStore) RefreshTokens(context.Context) RefreshTokenStore { return (*memTokens)(m) }

// TokenCount reports live refresh records, optionally narrowed to one user.
// Introspection only; the request flow never calls it.
func (m *MemStore) TokenCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if userID == "" {
		return len(m.tokens)
	}
	n := 0
	for _, rec := range m.tokens {
		if rec.UserID == userID {
			n++
		}
	}
	return n
}

type memTenants MemStore

func (m *memTenants) Create(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = ids.New()
	}
	ts := m.now().UTC()
	t.CreatedAt, t.UpdatedAt = ts, ts
	cp := *t
	m.tenants[t.ID] = &cp
	return nil
}

func (m *memTenants) Find(_ context.Context, id string) (*Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTenants) List(context.Context) ([]*Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]*Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		cp := *t
		res = append(res, &cp)
	}
	return res, nil
}

func (m *memTenants) Update(ctx context.Context, id string, upd TenantUpdate) (*Tenant, error) {
	m.mu.Lock()
	t, ok := m.tenants[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if upd.Name != nil {
		t.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Address != nil {
		t.Address = strings.TrimSpace(*upd.Address)
	}
	t.UpdatedAt = m.now().UTC()
	cp := *t
	m.mu.Unlock()
	return &cp, nil
}

func (m *memTenants) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tenants, id)
	return nil
}

type memUsers MemStore

func (m *memUsers) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := strings.ToLower(u.Email)
	for _, existing := range m.users {
		if strings.ToLower(existing.Email) == email {
			return ErrDuplicateIdentity
		}
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	ts := m.now().UTC()
	u.CreatedAt, u.UpdatedAt = ts, ts
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) Find(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.ToLower(email)
	for _, u := range m.users {
		if strings.ToLower(u.Email) == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) List(_ context.Context, q UserQuery) ([]*User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []*User
	search := strings.ToLower(strings.TrimSpace(q.Search))
	for _, u := range m.users {
		if q.Role != "" && u.Role != q.Role {
			continue
		}
		if search != "" {
			name := strings.ToLower(u.FirstName + " " + u.LastName)
			if !strings.Contains(name, search) && !strings.Contains(strings.ToLower(u.Email), search) {
				continue
			}
		}
		cp := *u
		res = append(res, &cp)
	}
	return res, len(res), nil
}

func (m *memUsers) Update(_ context.Context, id string, upd UserUpdate) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.FirstName != nil {
		u.FirstName = strings.TrimSpace(*upd.FirstName)
	}
	if upd.LastName != nil {
		u.LastName = strings.TrimSpace(*upd.LastName)
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	u.UpdatedAt = m.now().UTC()
	cp := *u
	return &cp, nil
}

func (m *memUsers) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	// Mirror the relational cascade: the user's refresh records go with it.
	for tid, rec := range m.tokens {
		if rec.UserID == id {
			delete(m.tokens, tid)
		}
	}
	return nil
}

type memTokens MemStore

func (m *memTokens) Create(_ context.Context, userID string, ttl time.Duration) (*RefreshToken, error) {
	if userID == "" || ttl <= 0 {
		return nil, ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.now().UTC()
	rec := &RefreshToken{
		ID:        ids.New(),
		UserID:    userID,
		ExpiresAt: ts.Add(ttl),
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	cp := *rec
	m.tokens[rec.ID] = &cp
	return rec, nil
}

func (m *memTokens) Find(_ context.Context, id string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memTokens) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, id)
	return nil
}

func (m *memTokens) DeleteByUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range m.tokens {
		if rec.UserID == userID {
			delete(m.tokens, id)
		}
	}
	return nil
}
