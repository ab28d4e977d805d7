package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func newTestTokenManager() *TokenManager {
	return NewTokenManager("test-signing-secret-with-enough-length", 15*time.Minute, 24*time.Hour, 5*time.Minute)
}

func TestTokenManager_AccessTokenRoundtrip(t *testing.T) {
	tm := newTestTokenManager()
	userID := uuid.New()

	token, err := tm.GenerateAccessToken(userID, "user@example.com")
	assert.NoError(t, err)

	claims, err := tm.ValidateToken(token)
	assert.NoError(t, err)
	assert.Equal(t, TokenTypeAccess, claims.Type)
	assert.Equal(t, userID.String(), claims.UserID)
	assert.Equal(t, "user@example.com", claims.Email)
}

func TestTokenManager_TokenTypesDiffer(t *testing.T) {
	tm := newTestTokenManager()
	userID := uuid.New()

	refresh, err := tm.GenerateRefreshToken(userID, "user@example.com")
	assert.NoError(t, err)
	challenge, err := tm.GenerateMfaChallengeToken(userID, "user@example.com")
	assert.NoError(t, err)

	refreshClaims, err := tm.ValidateToken(refresh)
	assert.NoError(t, err)
	assert.Equal(t, TokenTypeRefresh, refreshClaims.Type)

	challengeClaims, err := tm.ValidateToken(challenge)
	assert.NoError(t, err)
	assert.Equal(t, TokenTypeMfaChallenge, challengeClaims.Type)
}

func TestTokenManager_RejectsForeignSignature(t *testing.T) {
	tm := newTestTokenManager()
	other := NewTokenManager("a-completely-different-signing-secret!", 15*time.Minute, 24*time.Hour, 5*time.Minute)

	token, err := other.GenerateAccessToken(uuid.New(), "user@example.com")
	assert.NoError(t, err)

	claims, err := tm.ValidateToken(token)
	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestTokenManager_RejectsExpiredToken(t *testing.T) {
	tm := NewTokenManager("test-signing-secret-with-enough-length", -time.Minute, 24*time.Hour, 5*time.Minute)

	token, err := tm.GenerateAccessToken(uuid.New(), "user@example.com")
	assert.NoError(t, err)

	claims, err := tm.ValidateToken(token)
	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestTokenManager_RejectsGarbage(t *testing.T) {
	tm := newTestTokenManager()

	claims, err := tm.ValidateToken("not.a.token")
	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestGenerateSessionToken(t *testing.T) {
	token, hash, err := GenerateSessionToken()
	assert.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, HashSessionToken(token), hash)
	assert.Len(t, hash, 64) // hex SHA-256

	token2, hash2, err := GenerateSessionToken()
	assert.NoError(t, err)
	assert.NotEqual(t, token, token2)
	assert.NotEqual(t, hash, hash2)
}
