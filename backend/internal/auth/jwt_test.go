package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyToken_RoundTrip(t *testing.T) {
	v := NewJWTVerifier("test-secret")
	token, err := v.Issue("user-42", time.Hour)
	require.NoError(t, err)

	userID, ok := v.VerifyToken(token)
	assert.True(t, ok)
	assert.Equal(t, "user-42", userID)

	userID, ok = v.VerifyToken("Bearer " + token)
	assert.True(t, ok)
	assert.Equal(t, "user-42", userID)
}

func TestVerifyToken_Rejects(t *testing.T) {
	v := NewJWTVerifier("test-secret")
	other := NewJWTVerifier("other-secret")

	expired, err := v.Issue("user-1", -time.Minute)
	require.NoError(t, err)
	foreign, err := other.Issue("user-1", time.Hour)
	require.NoError(t, err)

	refresh, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: "user-1",
		Type:   "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "user-1"}).
		SignedString([]byte("test-secret"))
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	cases := map[string]string{
		"empty":         "",
		"garbage":       "not-a-jwt",
		"expired":       expired,
		"wrong secret":  foreign,
		"refresh token": refresh,
		"no expiry":     noExpiry,
		"wrong alg":     hs512,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			userID, ok := v.VerifyToken(token)
			assert.False(t, ok)
			assert.Empty(t, userID)
		})
	}
}

func TestVerifyToken_Revoked(t *testing.T) {
	v := NewJWTVerifier("test-secret")
	token, err := v.Issue("user-7", time.Hour)
	require.NoError(t, err)

	v.Revoke(token)
	_, ok := v.VerifyToken(token)
	assert.False(t, ok)
}

func TestVerifier_WithoutSecretIsAnonymous(t *testing.T) {
	v := NewJWTVerifier("")
	assert.False(t, v.Enabled())

	_, err := v.Issue("user-1", time.Hour)
	assert.ErrorIs(t, err, ErrNoSecret)

	signed, err := NewJWTVerifier("x").Issue("user-1", time.Hour)
	require.NoError(t, err)
	_, ok := v.VerifyToken(signed)
	assert.False(t, ok)

	var nilVerifier *JWTVerifier
	_, ok = nilVerifier.VerifyToken(signed)
	assert.False(t, ok)
}
