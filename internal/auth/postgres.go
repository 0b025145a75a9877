package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"authcore.org/internal/ids"
)

const pgErrUniqueViolation = "23505"

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPGStore wraps an existing connection pool.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db, now: time.Now}
}

// Open dials PostgreSQL via the pgx stdlib driver.
func Open(dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewPGStore(db), nil
}

func (s *PGStore) Close() error { return s.db.Close() }

func (s *PGStore) DB() *sql.DB { return s.db }

func (s *PGStore) Tenants(context.Context) TenantStore { return &tenantStore{db: s.db, now: s.now} }
func (s *PGStore) Users(context.Context) UserStore     { return &userStore{db: s.db, now: s.now} }
func (s *PGStore) RefreshTokens(context.Context) RefreshTokenStore {
	return &refreshTokenStore{db: s.db, now: s.now}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}

// Tenant store --------------------------------------------------------------
type tenantStore struct {
	db  *sql.DB
	now func() time.Time
}

func (s *tenantStore) Create(ctx context.Context, t *Tenant) error {
	if t.ID == "" {
		t.ID = ids.New()
	}
	ts := s.now().UTC()
	t.CreatedAt, t.UpdatedAt = ts, ts
	_, err := s.db.ExecContext(ctx,
		`insert into tenants(id, name, address, created_at, updated_at) values($1,$2,$3,$4,$5)`,
		t.ID, t.Name, t.Address, t.CreatedAt, t.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateIdentity
	}
	return err
}

func (s *tenantStore) Find(ctx context.Context, id string) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, address, created_at, updated_at from tenants where id=$1`, id)
	var t Tenant
	if err := row.Scan(&t.ID, &t.Name, &t.Address, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *tenantStore) List(ctx context.Context) ([]*Tenant, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, address, created_at, updated_at from tenants order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Address, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, &t)
	}
	return res, rows.Err()
}

func (s *tenantStore) Update(ctx context.Context, id string, upd TenantUpdate) (*Tenant, error) {
	sets := []string{"updated_at=$1"}
	args := []any{s.now().UTC()}
	if upd.Name != nil {
		args = append(args, strings.TrimSpace(*upd.Name))
		sets = append(sets, fmt.Sprintf("name=$%d", len(args)))
	}
	if upd.Address != nil {
		args = append(args, strings.TrimSpace(*upd.Address))
		sets = append(sets, fmt.Sprintf("address=$%d", len(args)))
	}
	args = append(args, id)
	query := fmt.Sprintf(`update tenants set %s where id=$%d`, strings.Join(sets, ", "), len(args))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return s.Find(ctx, id)
}

func (s *tenantStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `delete from tenants where id=$1`, id)
	return err
}

// User store ----------------------------------------------------------------
type userStore struct {
	db  *sql.DB
	now func() time.Time
}

func (s *userStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	ts := s.now().UTC()
	u.CreatedAt, u.UpdatedAt = ts, ts
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, tenant_id, first_name, last_name, email, password_digest, role, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		u.ID, nullIfEmpty(u.TenantID), u.FirstName, u.LastName, u.Email, u.PasswordDigest, string(u.Role),
		u.CreatedAt, u.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateIdentity
	}
	return err
}

const userColumns = `id, coalesce(tenant_id, ''), first_name, last_name, email, password_digest, role, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var role string
	if err := row.Scan(&u.ID, &u.TenantID, &u.FirstName, &u.LastName, &u.Email, &u.PasswordDigest,
		&role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = Role(role)
	return &u, nil
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where lower(email)=lower($1)`, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func (s *userStore) List(ctx context.Context, q UserQuery) ([]*User, int, error) {
	var (
		where []string
		args  []any
	)
	if q.Search = strings.TrimSpace(q.Search); q.Search != "" {
		args = append(args, "%"+q.Search+"%")
		where = append(where, fmt.Sprintf(
			`(concat(first_name, ' ', last_name) ilike $%d or email ilike $%d)`, len(args), len(args)))
	}
	if q.Role != "" {
		args = append(args, string(q.Role))
		where = append(where, fmt.Sprintf(`role=$%d`, len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " where " + strings.Join(where, " and ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from users`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	perPage := q.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := q.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, perPage, (page-1)*perPage)
	query := fmt.Sprintf(`select %s from users%s order by created_at desc limit $%d offset $%d`,
		userColumns, clause, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

func (s *userStore) Update(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	sets := []string{"updated_at=$1"}
	args := []any{s.now().UTC()}
	if upd.FirstName != nil {
		args = append(args, strings.TrimSpace(*upd.FirstName))
		sets = append(sets, fmt.Sprintf("first_name=$%d", len(args)))
	}
	if upd.LastName != nil {
		args = append(args, strings.TrimSpace(*upd.LastName))
		sets = append(sets, fmt.Sprintf("last_name=$%d", len(args)))
	}
	if upd.Role != nil {
		args = append(args, string(*upd.Role))
		sets = append(sets, fmt.Sprintf("role=$%d", len(args)))
	}
	args = append(args, id)
	query := fmt.Sprintf(`update users set %s where id=$%d`, strings.Join(sets, ", "), len(args))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return s.Find(ctx, id)
}

func (s *userStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `delete from users where id=$1`, id)
	return err
}

// Refresh token store -------------------------------------------------------
type refreshTokenStore struct {
	db  *sql.DB
	now func() time.Time
}

func (s *refreshTokenStore) Create(ctx context.Context, userID string, ttl time.Duration) (*RefreshToken, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", ErrInvalidInput)
	}
	ts := s.now().UTC()
	rec := &RefreshToken{
		ID:        ids.New(),
		UserID:    userID,
		ExpiresAt: ts.Add(ttl),
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, user_id, expires_at, created_at, updated_at) values($1,$2,$3,$4,$5)`,
		rec.ID, rec.UserID, rec.ExpiresAt, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *refreshTokenStore) Find(ctx context.Context, id string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, expires_at, created_at, updated_at from refresh_tokens where id=$1`, id)
	var rec RefreshToken
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.ExpiresAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// DeleteByID removes the record. Deleting an absent id is not an error: it
// only means the credential was already revoked.
func (s *refreshTokenStore) DeleteByID(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `delete from refresh_tokens where id=$1`, id)
	return err
}

func (s *refreshTokenStore) DeleteByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `delete from refresh_tokens where user_id=$1`, userID)
	return err
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
