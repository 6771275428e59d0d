package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeySize     = 32                          // AES-256 and XChaCha20 key size
	BlockSize   = aes.BlockSize               // AES block size
	IVSize      = aes.BlockSize               // CBC IV size
	NonceSize   = 12                          // GCM nonce size
	NonceSizeX  = chacha20poly1305.NonceSizeX // XChaCha20 nonce size
	AEADTagSize = 16                          // GCM and Poly1305 tag size
)

var errInvalidPadding = errors.New("invalid padding")

// CipherLayer is one symmetric transform. Implementations check key, nonce and
// ciphertext sizes before touching the data.
type CipherLayer interface {
	// Encrypt returns the ciphertext, with the tag appended for AEAD layers.
	Encrypt(key, nonce, plaintext []byte) ([]byte, error)

	// Decrypt inverts Encrypt. AEAD layers verify the tag before releasing anything.
	Decrypt(key, nonce, ciphertext []byte) ([]byte, error)

	// KeySize returns the key size in bytes
	KeySize() int

	// NonceSize returns the nonce or IV size in bytes
	NonceSize() int

	// Overhead returns the number of bytes added for authentication
	Overhead() int
}

func checkSizes(op string, key, nonce []byte, keySize, nonceSize int) error {
	if len(key) != keySize {
		return backendError(op, fmt.Errorf("key must be %d bytes, got %d", keySize, len(key)))
	}
	if len(nonce) != nonceSize {
		return validationError(op, "nonce must be %d bytes, got %d", nonceSize, len(nonce))
	}
	return nil
}

// AESCBC is AES-256 in CBC mode with PKCS#7 padding. It provides no integrity on its own
// and is only used underneath an HMAC or AEAD.
type AESCBC struct{}

func (AESCBC) KeySize() int   { return KeySize }
func (AESCBC) NonceSize() int { return IVSize }
func (AESCBC) Overhead() int  { return 0 }

// Encrypt pads and encrypts plaintext under key and iv.
func (c AESCBC) Encrypt(key, iv, plaintext []byte) ([]byte, error) {
	if err := checkSizes("cbc-encrypt", key, iv, c.KeySize(), c.NonceSize()); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, backendError("cbc-encrypt", fmt.Errorf("failed to create cipher: %w", err))
	}

	padded := pkcs7Pad(plaintext, BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	ClearBytes(padded)
	return out, nil
}

// Decrypt decrypts and unpads. Lengths that are not a positive multiple of the block
// size are rejected up front.
func (c AESCBC) Decrypt(key, iv, ciphertext []byte) ([]byte, error) {
	if err := checkSizes("cbc-decrypt", key, iv, c.KeySize(), c.NonceSize()); err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%BlockSize != 0 {
		return nil, authError("cbc-decrypt")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, backendError("cbc-decrypt", fmt.Errorf("failed to create cipher: %w", err))
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)
	plaintext, err := pkcs7Unpad(padded, BlockSize)
	if err != nil {
		ClearBytes(padded)
		return nil, authError("cbc-decrypt")
	}
	return plaintext, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+n)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errInvalidPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, errInvalidPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errInvalidPadding
		}
	}
	return data[:len(data)-n], nil
}

// AESGCM is AES-256-GCM with a 96-bit nonce and 128-bit tag.
type AESGCM struct{}

func (AESGCM) KeySize() int   { return KeySize }
func (AESGCM) NonceSize() int { return NonceSize }
func (AESGCM) Overhead() int  { return AEADTagSize }

func (AESGCM) aead(op string, key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, backendError(op, fmt.Errorf("failed to create cipher: %w", err))
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, backendError(op, fmt.Errorf("failed to create GCM: %w", err))
	}
	return gcm, nil
}

// Encrypt returns ciphertext || tag.
func (c AESGCM) Encrypt(key, nonce, plaintext []byte) ([]byte, error) {
	if err := checkSizes("gcm-encrypt", key, nonce, c.KeySize(), c.NonceSize()); err != nil {
		return nil, err
	}
	gcm, err := c.aead("gcm-encrypt", key)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

// Decrypt verifies and decrypts ciphertext || tag.
func (c AESGCM) Decrypt(key, nonce, ciphertext []byte) ([]byte, error) {
	if err := checkSizes("gcm-decrypt", key, nonce, c.KeySize(), c.NonceSize()); err != nil {
		return nil, err
	}
	if len(ciphertext) < c.Overhead() {
		return nil, authError("gcm-decrypt")
	}
	gcm, err := c.aead("gcm-decrypt", key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, authError("gcm-decrypt")
	}
	return plaintext, nil
}

// XChaCha20Poly1305 is ChaCha20-Poly1305 with the extended 192-bit nonce.
type XChaCha20Poly1305 struct{}

func (XChaCha20Poly1305) KeySize() int   { return chacha20poly1305.KeySize }
func (XChaCha20Poly1305) NonceSize() int { return NonceSizeX }
func (XChaCha20Poly1305) Overhead() int  { return chacha20poly1305.Overhead }

// Encrypt returns ciphertext || tag.
func (c XChaCha20Poly1305) Encrypt(key, nonce, plaintext []byte) ([]byte, error) {
	if err := checkSizes("xchacha-encrypt", key, nonce, c.KeySize(), c.NonceSize()); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, backendError("xchacha-encrypt", fmt.Errorf("failed to create XChaCha20-Poly1305: %w", err))
	}
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

// Decrypt verifies and decrypts ciphertext || tag.
func (c XChaCha20Poly1305) Decrypt(key, nonce, ciphertext []byte) ([]byte, error) {
	if err := checkSizes("xchacha-decrypt", key, nonce, c.KeySize(), c.NonceSize()); err != nil {
		return nil, err
	}
	if len(ciphertext) < c.Overhead() {
		return nil, authError("xchacha-decrypt")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, backendError("xchacha-decrypt", fmt.Errorf("failed to create XChaCha20-Poly1305: %w", err))
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, authError("xchacha-decrypt")
	}
	return plaintext, nil
}
