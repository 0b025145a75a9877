package auth

import "errors"

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrDuplicateIdentity  = errors.New("auth: identity already exists")
	ErrUnknownSubject     = errors.New("auth: unknown subject")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrInvalidDigest      = errors.New("auth: malformed password digest")
	ErrKeyUnavailable     = errors.New("auth: key material unavailable")
)
