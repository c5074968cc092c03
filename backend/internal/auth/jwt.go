// Package auth verifies client access tokens
package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenTypeAccess = "access"

// ErrNoSecret is returned by Issue when the verifier has no signing key
var ErrNoSecret = errors.New("jwt secret not configured")

// Claims are the fields read from an access token
type Claims struct {
	UserID string `json:"user_id"`
	Type   string `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HS256 access tokens. Without a secret every token is
// treated as anonymous.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser

	mu      sync.RWMutex
	revoked map[string]struct{}
}

// NewJWTVerifier creates a verifier for the given shared secret
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
		revoked: make(map[string]struct{}),
	}
}

// Enabled reports whether a secret is configured
func (v *JWTVerifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// VerifyToken returns the user id carried by token. A "Bearer " prefix is
// accepted. Any failure yields ok=false.
func (v *JWTVerifier) VerifyToken(token string) (userID string, ok bool) {
	if !v.Enabled() {
		return "", false
	}
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" || v.isRevoked(token) {
		return "", false
	}

	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", false
	}
	if claims.Type != "" && claims.Type != tokenTypeAccess {
		return "", false
	}

	userID = claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	return userID, userID != ""
}

// Issue signs an access token for userID, mainly for tests and local tooling
func (v *JWTVerifier) Issue(userID string, ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", ErrNoSecret
	}
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Type:   tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Revoke rejects token for the lifetime of the process
func (v *JWTVerifier) Revoke(token string) {
	v.mu.Lock()
	v.revoked[token] = struct{}{}
	v.mu.Unlock()
}

func (v *JWTVerifier) isRevoked(token string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.revoked[token]
	return ok
}
