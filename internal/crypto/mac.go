package crypto

import (
	"crypto/hmac"
	"crypto/sha512"
)

// TagSize is the HMAC-SHA-512 output size.
const TagSize = sha512.Size

// ComputeTag returns HMAC-SHA-512(macKey, data[0] || data[1] || ...).
func ComputeTag(macKey []byte, data ...[]byte) []byte {
	mac := hmac.New(sha512.New, macKey)
	for _, d := range data {
		mac.Write(d)
	}
	return mac.Sum(nil)
}

// VerifyTag recomputes the tag and compares it with candidate in constant time.
func VerifyTag(macKey, candidate []byte, data ...[]byte) bool {
	if len(macKey) == 0 || len(candidate) != TagSize {
		return false
	}
	expected := ComputeTag(macKey, data...)
	return hmac.Equal(expected, candidate)
}
