package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/brightcart/identity/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token type tags carried in claims
const (
	TokenTypeAccess       = "access"
	TokenTypeRefresh      = "refresh"
	TokenTypeMfaChallenge = "mfa_challenge"
)

// TokenManager handles JWT token generation and validation
type TokenManager struct {
	secret             string
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	mfaChallengeExpiry time.Duration
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, accessExpiry, refreshExpiry, challengeExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:             secret,
		accessTokenExpiry:  accessExpiry,
		refreshTokenExpiry: refreshExpiry,
		mfaChallengeExpiry: challengeExpiry,
	}
}

// GenerateAccessToken creates a short-lived access token
func (tm *TokenManager) GenerateAccessToken(userID uuid.UUID, email string) (string, error) {
	return tm.generate(TokenTypeAccess, userID, email, tm.accessTokenExpiry)
}

// GenerateRefreshToken creates a long-lived refresh token
func (tm *TokenManager) GenerateRefreshToken(userID uuid.UUID, email string) (string, error) {
	return tm.generate(TokenTypeRefresh, userID, email, tm.refreshTokenExpiry)
}

// GenerateMfaChallengeToken creates the short-lived token handed to a client
// that passed credential verification but still owes a second factor. It
// grants access to nothing except the MFA verification endpoint.
func (tm *TokenManager) GenerateMfaChallengeToken(userID uuid.UUID, email string) (string, error) {
	return tm.generate(TokenTypeMfaChallenge, userID, email, tm.mfaChallengeExpiry)
}

func (tm *TokenManager) generate(tokenType string, userID uuid.UUID, email string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := &models.TokenClaims{
		Type:   tokenType,
		UserID: userID.String(),
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(tm.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

// ValidateToken parses and validates a token, returning its claims.
func (tm *TokenManager) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.TokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(tm.secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*models.TokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

// GenerateSessionToken returns an opaque session token and its SHA-256 hash.
// Only the hash is stored.
func GenerateSessionToken() (token string, tokenHash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate session token: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(buf)
	return token, HashSessionToken(token), nil
}

// HashSessionToken returns the storage digest of an opaque session token.
func HashSessionToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
