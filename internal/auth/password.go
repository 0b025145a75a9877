package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost is the fixed work factor for new digests. Cost 10 keeps a single
// hash in the tens of milliseconds, expensive enough to resist offline
// brute force.
const bcryptCost = bcrypt.DefaultCost

// dummyDigest is compared when a login names an unknown account, so the
// request burns the same hashing cost as a real mismatch and latency does not
// reveal whether the email exists.
const dummyDigest = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// HashPassword computes a salted one-way digest of the plaintext.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(digest), nil
}

// ComparePassword checks plaintext against a stored digest in constant time.
// A mismatch is (false, nil); only a malformed digest is an error.
func ComparePassword(digest, password string) (bool, error) {
	if digest == "" {
		return false, ErrInvalidDigest
	}
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
}

// compareDummy burns one bcrypt comparison against a throwaway digest.
func compareDummy(password string) {
	_, _ = ComparePassword(dummyDigest, password)
}
