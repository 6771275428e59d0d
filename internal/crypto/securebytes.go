package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"github.com/awnumar/memguard"
)

// SecureBytes owns a byte buffer holding key material. Destroy overwrites it with zeros;
// pair every constructor with a deferred Destroy so the wipe runs on every exit path.
//
// SecureBytes is never copied implicitly: hand it over with Move.
type SecureBytes struct {
	buf []byte
}

// NewSecureBytes allocates a zeroed buffer of n bytes.
func NewSecureBytes(n int) *SecureBytes {
	return &SecureBytes{buf: make([]byte, n)}
}

// TakeSecureBytes adopts b without copying. The caller must not use b afterwards
// except through the returned value.
func TakeSecureBytes(b []byte) *SecureBytes {
	return &SecureBytes{buf: b}
}

// Bytes returns the underlying buffer. It is only valid until Destroy.
func (s *SecureBytes) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.buf
}

// Len returns the buffer length, zero after Destroy.
func (s *SecureBytes) Len() int {
	if s == nil {
		return 0
	}
	return len(s.buf)
}

// Move transfers ownership to a new value and leaves s empty.
func (s *SecureBytes) Move() *SecureBytes {
	if s == nil {
		return nil
	}
	moved := &SecureBytes{buf: s.buf}
	s.buf = nil
	return moved
}

// Destroy wipes the buffer. Safe to call more than once and on nil.
func (s *SecureBytes) Destroy() {
	if s == nil || s.buf == nil {
		return
	}
	ClearBytes(s.buf)
	s.buf = nil
}

// ClearBytes overwrites b with zeros.
func ClearBytes(b []byte) {
	memguard.WipeBytes(b)
}

// ConstantTimeCompare performs a constant-time comparison of two byte slices
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// GenerateRandom reads n bytes from the system CSPRNG.
func GenerateRandom(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}

// GenerateSalt returns a fresh DefaultSaltSize-byte account salt.
func GenerateSalt() ([]byte, error) {
	return GenerateRandom(DefaultSaltSize)
}
