// Package crypto is the cryptographic engine of credvault.
//
// Key derivation uses Argon2id with per-account cost parameters:
//   - 64-byte random salt per account (stored unencrypted next to the envelopes)
//   - one derivation call per operation, sliced sequentially into sub-keys
//
// Envelope versions (raw layouts, no version byte):
//   - V1: IV(16) || AES-256-CBC ciphertext || HMAC-SHA-512(IV || ciphertext)
//   - V2: GCM tag(16) || nonce(12) || AES-256-GCM ciphertext
//   - V3: nonce(24) || XChaCha20-Poly1305(nonce2(16) || AES-256-CBC ciphertext) || HMAC-SHA-512
//
// New data is written with Seal, which prefixes a one-byte version tag and always uses
// the latest version. Open reads tagged data and falls back to shape heuristics for
// untagged V1/V2 blobs.
//
// Memory safety:
//   - Derived key material lives in SecureBytes and is wiped before every return
//   - Passwords handed to a derivation are consumed (wiped) by it
//   - Authentication failures never return partial plaintext
package crypto
