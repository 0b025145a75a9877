package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// KeyProvider supplies the asymmetric key pair used for access credentials and
// the shared secret used for refresh credentials. Implementations must be safe
// for concurrent use; issuance never mutates key material.
type KeyProvider interface {
	SigningKey() (*rsa.PrivateKey, error)
	VerificationKey() (*rsa.PublicKey, error)
	RefreshSecret() ([]byte, error)
}

// StaticKeys is a KeyProvider over material loaded once at startup. Missing
// material surfaces as ErrKeyUnavailable, a deployment fault rather than a
// user-facing validation error.
type StaticKeys struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	secret     []byte
}

var _ KeyProvider = (*StaticKeys)(nil)

// NewStaticKeys parses PEM-encoded RSA material and the refresh secret.
// publicPEM may be empty, in which case the public key is derived from the
// private key.
func NewStaticKeys(privatePEM, publicPEM, refreshSecret string) (*StaticKeys, error) {
	privatePEM = strings.TrimSpace(privatePEM)
	refreshSecret = strings.TrimSpace(refreshSecret)
	if privatePEM == "" || refreshSecret == "" {
		return nil, ErrKeyUnavailable
	}
	priv, err := ParseRSAPrivateKey(privatePEM)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", ErrKeyUnavailable, err)
	}
	pub := &priv.PublicKey
	if publicPEM = strings.TrimSpace(publicPEM); publicPEM != "" {
		pub, err = ParseRSAPublicKey(publicPEM)
		if err != nil {
			return nil, fmt.Errorf("%w: parse public key: %v", ErrKeyUnavailable, err)
		}
	}
	return &StaticKeys{privateKey: priv, publicKey: pub, secret: []byte(refreshSecret)}, nil
}

func (k *StaticKeys) SigningKey() (*rsa.PrivateKey, error) {
	if k == nil || k.privateKey == nil {
		return nil, ErrKeyUnavailable
	}
	return k.privateKey, nil
}

func (k *StaticKeys) VerificationKey() (*rsa.PublicKey, error) {
	if k == nil || k.publicKey == nil {
		return nil, ErrKeyUnavailable
	}
	return k.publicKey, nil
}

func (k *StaticKeys) RefreshSecret() ([]byte, error) {
	if k == nil || len(k.secret) == 0 {
		return nil, ErrKeyUnavailable
	}
	return k.secret, nil
}

// ParseRSAPrivateKey accepts PKCS1 and PKCS8 encodings.
func ParseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("invalid PEM private key")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
		return nil, errors.New("unsupported private key type")
	default:
		return nil, fmt.Errorf("unsupported private key type %s", block.Type)
	}
}

// ParseRSAPublicKey accepts PKIX and PKCS1 encodings.
func ParseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("invalid PEM public key")
	}
	switch block.Type {
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("not an RSA public key")
		}
		return rsaKey, nil
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported public key type %s", block.Type)
	}
}
