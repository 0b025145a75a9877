package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultIssuerName = "authcore"
	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 365 * 24 * time.Hour
)

// AccessClaims is the closed claim shape of a short-lived access credential.
type AccessClaims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// RefreshClaims is the closed claim shape of a long-lived refresh credential.
// The registered ID (jti) carries the store record id, so revoking that single
// record invalidates exactly this issuance.
type RefreshClaims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// RecordID returns the refresh-store record id embedded in the credential.
func (c *RefreshClaims) RecordID() string { return c.ID }

// Issuer builds and signs credentials. It owns no state beyond configuration
// and key material: issuance is a pure function of claims and clock.
type Issuer struct {
	keys       KeyProvider
	name       string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// IssuerOption configures Issuer behavior.
type IssuerOption func(*Issuer) error

// WithIssuerName overrides the iss claim.
func WithIssuerName(name string) IssuerOption {
	return func(i *Issuer) error {
		if name = strings.TrimSpace(name); name != "" {
			i.name = name
		}
		return nil
	}
}

// WithAccessTTL configures access credential lifetime.
func WithAccessTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) error {
		if ttl > 0 {
			i.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh credential lifetime.
func WithRefreshTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) error {
		if ttl > 0 {
			i.refreshTTL = ttl
		}
		return nil
	}
}

// WithTokenClock overrides the time source (useful for tests).
func WithTokenClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) error {
		if fn != nil {
			i.now = fn
		}
		return nil
	}
}

// NewIssuer constructs an Issuer over the given key material.
func NewIssuer(keys KeyProvider, opts ...IssuerOption) (*Issuer, error) {
	if keys == nil {
		return nil, errors.New("auth: key provider is required")
	}
	iss := &Issuer{
		keys:       keys,
		name:       defaultIssuerName,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(iss); err != nil {
			return nil, err
		}
	}
	return iss, nil
}

// RefreshTTL reports the configured refresh credential lifetime. The store
// record created alongside an issuance shares this expiry.
func (i *Issuer) RefreshTTL() time.Duration { return i.refreshTTL }

// IssueAccessToken signs {subject, role} with the RSA private key (RS256).
func (i *Issuer) IssueAccessToken(subject string, role Role) (string, time.Time, error) {
	if strings.TrimSpace(subject) == "" {
		return "", time.Time{}, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	if !role.Valid() {
		return "", time.Time{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	key, err := i.keys.SigningKey()
	if err != nil {
		return "", time.Time{}, err
	}
	now := i.now().UTC()
	exp := now.Add(i.accessTTL)
	claims := AccessClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.name,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign access token: %w", err)
	}
	return signed, exp, nil
}

// IssueRefreshToken signs {subject, role, jti=recordID} with the shared
// secret (HS256).
func (i *Issuer) IssueRefreshToken(subject string, role Role, recordID string) (string, time.Time, error) {
	if strings.TrimSpace(subject) == "" || strings.TrimSpace(recordID) == "" {
		return "", time.Time{}, fmt.Errorf("%w: subject and record id are required", ErrInvalidInput)
	}
	if !role.Valid() {
		return "", time.Time{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	secret, err := i.keys.RefreshSecret()
	if err != nil {
		return "", time.Time{}, err
	}
	now := i.now().UTC()
	exp := now.Add(i.refreshTTL)
	claims := RefreshClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.name,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        recordID,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign refresh token: %w", err)
	}
	return signed, exp, nil
}

// VerifyAccessToken checks signature, issuer and expiry and returns the claims.
func (i *Issuer) VerifyAccessToken(token string) (*AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	key, err := i.keys.VerificationKey()
	if err != nil {
		return nil, err
	}
	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(i.name),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyRefreshToken checks signature, issuer and expiry of a refresh
// credential. The store-side record is checked separately by the flow; this
// is the cryptographic half of refresh validity.
func (i *Issuer) VerifyRefreshToken(token string) (*RefreshClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	secret, err := i.keys.RefreshSecret()
	if err != nil {
		return nil, err
	}
	claims := &RefreshClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.name),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ID == "" || !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
