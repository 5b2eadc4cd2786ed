package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/pbkdf2"

	"ticket-verify/internal/status"
)

const (
	kdfIterations = 100000
	keyLength     = 32
	saltLength    = 16
	emailHashLen  = 16
)

// TicketFields is the plaintext carried inside an encrypted payload.
// Timestamp, EmailHash and the lowercased Email are injected by Encrypt;
// callers populate the rest.
type TicketFields struct {
	TicketID  string          `json:"ticket_id"`
	Email     string          `json:"email"`
	EventName string          `json:"event_name"`
	CreatedAt time.Time       `json:"created_at"`
	Valid     bool            `json:"valid"`
	Value     decimal.Decimal `json:"value"`
	Timestamp time.Time       `json:"timestamp"`
	EmailHash string          `json:"email_hash"`
}

// Service encrypts and decrypts recipient-bound ticket payloads. The
// derived key depends on both the shared secret and the recipient email, so
// a payload replayed with a different email claim fails at the cryptographic
// layer before any store access.
type Service struct {
	secretKey string
}

func New(secretKey string) (*Service, error) {
	if secretKey == "" {
		return nil, errors.New("encryption: secret key must not be empty")
	}
	return &Service{secretKey: secretKey}, nil
}

// deriveKey derives the per-email AES-256 key. The salt is a truncated hash
// of the lowercased email, so the same email always re-derives the same key
// without storing per-user salts.
func (s *Service) deriveKey(email string) []byte {
	addr := strings.ToLower(email)
	sum := sha256.Sum256([]byte(addr))
	salt := sum[:saltLength]
	password := []byte(s.secretKey + ":" + addr)
	return pbkdf2.Key(password, salt, kdfIterations, keyLength, sha256.New)
}

// EmailHash returns the independent identity hash embedded in payloads.
func EmailHash(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(email)))
	return hex.EncodeToString(sum[:])[:emailHashLen]
}

// Encrypt serializes the fields plus a creation timestamp and email hash,
// then seals them with AES-256-GCM under the email-derived key. The result
// is base64 URL-safe and fully self-contained.
func (s *Service) Encrypt(fields TicketFields, email string) (string, error) {
	fields.Email = strings.ToLower(email)
	fields.EmailHash = EmailHash(email)
	fields.Timestamp = time.Now().UTC()

	plaintext, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}

	gcm, err := s.aead(email)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a payload with the key derived from the claimed email and
// verifies the embedded identity. Every failure mode (wrong key, tampered
// bytes, structural corruption, identity mismatch) collapses to the single
// ErrDecryptionFailed outcome so the codec leaks no oracle.
func (s *Service) Decrypt(payload, claimedEmail string) (TicketFields, error) {
	var fields TicketFields

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return fields, status.ErrDecryptionFailed
	}

	gcm, err := s.aead(claimedEmail)
	if err != nil {
		return fields, status.ErrDecryptionFailed
	}
	if len(raw) < gcm.NonceSize() {
		return fields, status.ErrDecryptionFailed
	}

	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fields, status.ErrDecryptionFailed
	}

	if err := json.Unmarshal(plaintext, &fields); err != nil {
		return TicketFields{}, status.ErrDecryptionFailed
	}

	if fields.EmailHash != EmailHash(claimedEmail) {
		return TicketFields{}, status.ErrDecryptionFailed
	}
	if !strings.EqualFold(fields.Email, claimedEmail) {
		return TicketFields{}, status.ErrDecryptionFailed
	}

	return fields, nil
}

// ValidateTimestamp reports whether the payload is still inside its
// freshness window. Future timestamps (clock skew) are invalid, not
// auto-corrected.
func (s *Service) ValidateTimestamp(fields TicketFields, maxAge time.Duration) bool {
	if fields.Timestamp.IsZero() {
		return false
	}
	age := time.Since(fields.Timestamp)
	return age >= 0 && age <= maxAge
}

func (s *Service) aead(email string) (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.deriveKey(email))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
