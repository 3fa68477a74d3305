// Package auth verifies bearer tokens and the admin credential.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

// Token verification failure categories. The HTTP layer maps them all to
// 401 but keeps the category in the response body.
var (
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenRevoked     = errors.New("token revoked")
	ErrTokenMalformed   = errors.New("malformed token")
	ErrCertificateFetch = errors.New("certificate fetch failed")
)

// Identity is the verified caller.
type Identity struct {
	UID           string
	Email         string
	EmailVerified bool
}

// Verifier checks a bearer token and resolves the caller's identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// CheckAdminKey reports whether key matches the configured hex SHA-256
// digest. An empty digest disables admin access entirely.
func CheckAdminKey(hexDigest, key string) bool {
	if hexDigest == "" {
		return false
	}
	want, err := hex.DecodeString(hexDigest)
	if err != nil || len(want) != sha256.Size {
		return false
	}
	got := sha256.Sum256([]byte(key))
	return subtle.ConstantTimeCompare(got[:], want) == 1
}
