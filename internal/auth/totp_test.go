package auth

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
)

func newTestTOTPManager(t *testing.T) *TOTPManager {
	tm, err := NewTOTPManager(bytes.Repeat([]byte{0x42}, 32), "BrightCart Test")
	assert.NoError(t, err)
	return tm
}

func TestNewTOTPManager_RejectsShortKey(t *testing.T) {
	_, err := NewTOTPManager([]byte("too-short"), "BrightCart Test")
	assert.Error(t, err)
}

func TestTOTPManager_EncryptDecryptRoundtrip(t *testing.T) {
	tm := newTestTOTPManager(t)
	secret := []byte("JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP")

	encrypted, nonce, err := tm.EncryptSecret(secret)
	assert.NoError(t, err)
	assert.NotEqual(t, secret, encrypted)

	decrypted, err := tm.DecryptSecret(encrypted, nonce)
	assert.NoError(t, err)
	assert.Equal(t, secret, decrypted)
}

func TestTOTPManager_DecryptWithWrongKeyFails(t *testing.T) {
	tm := newTestTOTPManager(t)
	other, err := NewTOTPManager(bytes.Repeat([]byte{0x17}, 32), "BrightCart Test")
	assert.NoError(t, err)

	encrypted, nonce, err := tm.EncryptSecret([]byte("JBSWY3DPEHPK3PXP"))
	assert.NoError(t, err)

	_, err = other.DecryptSecret(encrypted, nonce)
	assert.Error(t, err)
}

func TestTOTPManager_ValidateCode(t *testing.T) {
	tm := newTestTOTPManager(t)
	secret := "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
	now := time.Now().UTC()

	code, err := totp.GenerateCode(secret, now)
	assert.NoError(t, err)

	ok, err := tm.ValidateCode([]byte(secret), code, now, nil)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = tm.ValidateCode([]byte(secret), "000000", now, nil)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestTOTPManager_ValidateCode_SkewTolerance(t *testing.T) {
	tm := newTestTOTPManager(t)
	secret := "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
	now := time.Now().UTC()

	// One step of clock drift in either direction is accepted
	previous, err := totp.GenerateCode(secret, now.Add(-30*time.Second))
	assert.NoError(t, err)
	ok, err := tm.ValidateCode([]byte(secret), previous, now, nil)
	assert.NoError(t, err)
	assert.True(t, ok)

	// Two steps is outside the window
	stale, err := totp.GenerateCode(secret, now.Add(-90*time.Second))
	assert.NoError(t, err)
	ok, err = tm.ValidateCode([]byte(secret), stale, now, nil)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestTOTPManager_ValidateCode_ReplayRejected(t *testing.T) {
	tm := newTestTOTPManager(t)
	secret := "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
	now := time.Now().UTC()

	code, err := totp.GenerateCode(secret, now)
	assert.NoError(t, err)

	lastUsed := now.Add(-10 * time.Second)
	ok, err := tm.ValidateCode([]byte(secret), code, now, &lastUsed)
	assert.NoError(t, err)
	assert.False(t, ok)

	// Outside the acceptance window the next code is usable again
	longAgo := now.Add(-5 * time.Minute)
	ok, err = tm.ValidateCode([]byte(secret), code, now, &longAgo)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestTOTPManager_GenerateSecretWithQR(t *testing.T) {
	tm := newTestTOTPManager(t)

	encrypted, nonce, qr, err := tm.GenerateSecretWithQR("user@example.com")
	assert.NoError(t, err)
	assert.NotEmpty(t, encrypted)
	assert.NotEmpty(t, nonce)
	assert.True(t, strings.HasPrefix(qr, "data:image/png;base64,"))

	// The encrypted secret must decrypt to a usable base32 string
	secret, err := tm.DecryptSecret(encrypted, nonce)
	assert.NoError(t, err)

	code, err := totp.GenerateCode(string(secret), time.Now().UTC())
	assert.NoError(t, err)
	ok, err := tm.ValidateCode(secret, code, time.Now().UTC(), nil)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestTOTPManager_GenerateBackupCodes(t *testing.T) {
	tm := newTestTOTPManager(t)

	codes, err := tm.GenerateBackupCodes(10)
	assert.NoError(t, err)
	assert.Len(t, codes, 10)

	seen := make(map[string]bool)
	for _, code := range codes {
		assert.Len(t, code, 8)
		// Ambiguous characters are excluded from the charset
		assert.NotContains(t, code, "0")
		assert.NotContains(t, code, "O")
		assert.NotContains(t, code, "1")
		assert.NotContains(t, code, "I")
		assert.NotContains(t, code, "L")
		seen[code] = true
	}
	assert.Len(t, seen, 10)
}

func TestTOTPManager_GenerateEmailOtp(t *testing.T) {
	tm := newTestTOTPManager(t)

	for i := 0; i < 20; i++ {
		code, err := tm.GenerateEmailOtp()
		assert.NoError(t, err)
		assert.Len(t, code, 6)
		for _, r := range code {
			assert.True(t, r >= '0' && r <= '9')
		}
	}
}
