package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	totpPeriod = 30
	totpSkew   = 1 // ±1 time step of clock drift
)

// TOTPManager handles TOTP secret generation, encryption, and validation
type TOTPManager struct {
	encryptionKey []byte // 32-byte AES-256 key
	issuer        string // Issuer name for provisioning QR codes
}

// NewTOTPManager creates a new TOTP manager
// encryptionKey must be exactly 32 bytes for AES-256
func NewTOTPManager(encryptionKey []byte, issuer string) (*TOTPManager, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}

	return &TOTPManager{
		encryptionKey: encryptionKey,
		issuer:        issuer,
	}, nil
}

// GenerateSecretWithQR generates a base32 secret and a provisioning QR code
// for enrollment.
// Returns: (encryptedSecret, nonce, qrCodeDataURL, error)
func (tm *TOTPManager) GenerateSecretWithQR(accountEmail string) ([]byte, []byte, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountEmail,
		SecretSize:  32, // 256 bits
		Period:      totpPeriod,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	encrypted, nonce, err := tm.EncryptSecret([]byte(key.Secret()))
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to encrypt secret: %w", err)
	}

	qr, err := qrcode.New(key.URL(), qrcode.Highest)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to create QR code: %w", err)
	}

	qrImage, err := qr.PNG(200)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to encode QR code: %w", err)
	}

	qrDataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrImage)

	return encrypted, nonce, qrDataURL, nil
}

// EncryptSecret encrypts a TOTP secret using AES-256-GCM
// Returns: (encryptedBytes, nonce, error)
func (tm *TOTPManager) EncryptSecret(secretBytes []byte) ([]byte, []byte, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, secretBytes, nil)

	return ciphertext, nonce, nil
}

// DecryptSecret decrypts an encrypted TOTP secret
func (tm *TOTPManager) DecryptSecret(encryptedBytes, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, encryptedBytes, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret: %w", err)
	}

	return plaintext, nil
}

// ValidateCode validates a TOTP code against a plaintext base32 secret at the
// given time. Codes are single-use within their validity window: if
// lastUsedAt falls inside the current skew window the submission is a replay
// and is rejected even when the code itself matches.
func (tm *TOTPManager) ValidateCode(secret []byte, code string, now time.Time, lastUsedAt *time.Time) (bool, error) {
	valid, err := totp.ValidateCustom(code, string(secret), now, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to validate TOTP: %w", err)
	}
	if !valid {
		return false, nil
	}

	if lastUsedAt != nil {
		window := time.Duration(totpPeriod*(2*totpSkew+1)) * time.Second
		if now.Sub(*lastUsedAt) < window {
			return false, nil
		}
	}

	return true, nil
}

// GenerateBackupCodes generates N random backup codes
// Format: 8 characters, alphanumeric excluding ambiguous chars (0/O, 1/I/L)
func (tm *TOTPManager) GenerateBackupCodes(count int) ([]string, error) {
	const charset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

	codes := make([]string, count)
	buf := make([]byte, 8)
	for i := 0; i < count; i++ {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate random bytes: %w", err)
		}
		code := make([]byte, 8)
		for j, b := range buf {
			code[j] = charset[int(b)%len(charset)]
		}
		codes[i] = string(code)
	}

	return codes, nil
}

// GenerateEmailOtp returns a 6-digit numeric one-time code.
func (tm *TOTPManager) GenerateEmailOtp() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	n := uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	return fmt.Sprintf("%06d", n%1000000), nil
}
