package crypto

import (
	"bytes"
	"testing"
)

func TestComputeAndVerifyTag(t *testing.T) {
	macKey := bytes.Repeat([]byte{0x5a}, 64)

	tag := ComputeTag(macKey, []byte("iv"), []byte("ciphertext"))
	if len(tag) != TagSize {
		t.Fatalf("Tag size: got %d, want %d", len(tag), TagSize)
	}

	// Chunking does not change the tag
	if !VerifyTag(macKey, tag, []byte("ivciphertext")) {
		t.Error("Tag should verify over the concatenated input")
	}

	bad := bytes.Clone(tag)
	bad[TagSize-1] ^= 0x80
	if VerifyTag(macKey, bad, []byte("ivciphertext")) {
		t.Error("Modified tag should not verify")
	}
	if VerifyTag(macKey, tag[:32], []byte("ivciphertext")) {
		t.Error("Truncated tag should not verify")
	}
	if VerifyTag(nil, tag, []byte("ivciphertext")) {
		t.Error("Empty MAC key should never verify")
	}
}

func TestComparePasswordHash(t *testing.T) {
	h := bytes.Repeat([]byte{0xab}, PasswordHashSize)

	if !ComparePasswordHash(h, bytes.Clone(h)) {
		t.Error("Equal hashes should compare equal")
	}

	for i := range h {
		other := bytes.Clone(h)
		other[i] ^= 0x01
		if ComparePasswordHash(h, other) {
			t.Fatalf("Hashes differing at byte %d compared equal", i)
		}
	}

	if ComparePasswordHash(h, h[:PasswordHashSize-1]) {
		t.Error("Hashes of different lengths should not compare equal")
	}
	if ComparePasswordHash(nil, nil) {
		t.Error("Empty hashes should never compare equal")
	}
}
