package crypto

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// stubDeriver is a fast deterministic stand-in for Argon2id with the same contract.
type stubDeriver struct{}

func (stubDeriver) Derive(password, salt []byte, n int, cost Cost) (*SecureBytes, error) {
	defer ClearBytes(password)
	if len(password) == 0 || len(salt) == 0 || n <= 0 {
		return nil, validationError("derive", "bad input")
	}
	out := make([]byte, 0, n+TagSize)
	for ctr := byte(0); len(out) < n; ctr++ {
		out = append(out, ComputeTag(password, salt, []byte{byte(n), ctr})...)
	}
	return TakeSecureBytes(out[:n]), nil
}

// recordingDeriver remembers every buffer it hands out so a test can check they were wiped.
type recordingDeriver struct {
	inner Deriver

	mu        sync.Mutex
	issued    [][]byte
	passwords [][]byte
}

func (r *recordingDeriver) Derive(password, salt []byte, n int, cost Cost) (*SecureBytes, error) {
	r.mu.Lock()
	r.passwords = append(r.passwords, password)
	r.mu.Unlock()

	key, err := r.inner.Derive(password, salt, n, cost)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.issued = append(r.issued, key.Bytes())
	r.mu.Unlock()
	return key, nil
}

func (r *recordingDeriver) assertWiped(t *testing.T) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.passwords) == 0 {
		t.Fatal("Deriver was never called")
	}
	for i, buf := range r.issued {
		if !allZero(buf) {
			t.Errorf("Derived buffer %d still holds key material", i)
		}
	}
	for i, pw := range r.passwords {
		if !allZero(pw) {
			t.Errorf("Password copy %d was not wiped", i)
		}
	}
}

type countingObserver struct {
	mu      sync.Mutex
	ops     map[string]int
	derives int
}

func (c *countingObserver) ObserveOperation(op string, v Version, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ops == nil {
		c.ops = make(map[string]int)
	}
	result := "ok"
	if err != nil {
		result = KindOf(err).String()
	}
	c.ops[op+"/"+v.String()+"/"+result]++
}

func (c *countingObserver) ObserveDerive(time.Duration, error) {
	c.mu.Lock()
	c.derives++
	c.mu.Unlock()
}

var testParams = KeyParams{Salt: []byte("per-account-salt-for-tests"), Cost: testCost}

func password() []byte {
	return []byte("correct horse battery staple")
}

func newTestService() *Service {
	return NewService(WithDeriver(stubDeriver{}))
}

func encryptVersion(t *testing.T, s *Service, v Version, pw, plaintext []byte) []byte {
	t.Helper()
	out, err := s.Encrypt(context.Background(), v, pw, testParams, plaintext)
	if err != nil {
		t.Fatalf("Failed to encrypt %s: %v", v, err)
	}
	return out
}

func TestRoundTripAllVersions(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	for _, v := range []Version{V1, V2, V3} {
		for n := 0; n <= 70; n++ {
			plaintext := bytes.Repeat([]byte{byte(n)}, n)
			envelope := encryptVersion(t, s, v, password(), plaintext)

			got, err := s.Decrypt(ctx, v, password(), testParams, envelope)
			if err != nil {
				t.Fatalf("%s: Failed to decrypt %d bytes: %v", v, n, err)
			}
			if !bytes.Equal(got, plaintext) {
				t.Fatalf("%s: round trip mismatch at %d bytes", v, n)
			}
		}
	}
}

func TestEnvelopeSizes(t *testing.T) {
	s := newTestService()
	plaintext := []byte("Here's some text to encrypt.")

	want := map[Version]int{
		V1: IVSize + 32 + TagSize,
		V2: AEADTagSize + NonceSize + len(plaintext),
		V3: NonceSizeX + IVSize + 32 + AEADTagSize + TagSize,
	}
	for v, size := range want {
		if got := len(encryptVersion(t, s, v, password(), plaintext)); got != size {
			t.Errorf("%s envelope: got %d bytes, want %d", v, got, size)
		}
	}
}

func TestTamperEveryBit(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	for _, v := range []Version{V1, V2, V3} {
		envelope := encryptVersion(t, s, v, password(), []byte("tamper target"))

		for i := 0; i < len(envelope)*8; i++ {
			mutated := bytes.Clone(envelope)
			mutated[i/8] ^= 1 << (i % 8)

			got, err := s.Decrypt(ctx, v, password(), testParams, mutated)
			if !errors.Is(err, ErrAuthFailed) {
				t.Fatalf("%s: flipping bit %d gave %v, want authentication failure", v, i, err)
			}
			if got != nil {
				t.Fatalf("%s: flipping bit %d released plaintext", v, i)
			}
		}
	}
}

func TestWrongPasswordAndSalt(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	for _, v := range []Version{V1, V2, V3} {
		envelope := encryptVersion(t, s, v, password(), []byte("secret"))

		_, err := s.Decrypt(ctx, v, []byte("wrong password"), testParams, envelope)
		if !errors.Is(err, ErrAuthFailed) {
			t.Errorf("%s: wrong password gave %v", v, err)
		}

		other := KeyParams{Salt: []byte("another-salt"), Cost: testCost}
		_, err = s.Decrypt(ctx, v, password(), other, envelope)
		if !errors.Is(err, ErrAuthFailed) {
			t.Errorf("%s: wrong salt gave %v", v, err)
		}

		// Truncated data looks the same as a wrong password
		_, err = s.Decrypt(ctx, v, password(), testParams, envelope[:10])
		if !errors.Is(err, ErrAuthFailed) || err.Error() != ErrAuthFailed.Error() {
			t.Errorf("%s: truncated envelope gave %v", v, err)
		}
	}
}

func TestNonceFreshness(t *testing.T) {
	s := newTestService()
	plaintext := []byte("same plaintext every time")

	for _, v := range []Version{V1, V2, V3} {
		seen := make(map[string]bool)
		for i := 0; i < 8; i++ {
			out := string(encryptVersion(t, s, v, password(), plaintext))
			if seen[out] {
				t.Fatalf("%s: repeated encryption produced an identical envelope", v)
			}
			seen[out] = true
		}
	}
}

func TestEncryptV3WithNoncesDeterministic(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	nonce := bytes.Repeat([]byte{1}, NonceSizeX)
	nonce2 := bytes.Repeat([]byte{2}, IVSize)

	a, err := s.EncryptV3WithNonces(ctx, password(), testParams, nonce, nonce2, []byte("x"))
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	b, err := s.EncryptV3WithNonces(ctx, password(), testParams, nonce, nonce2, []byte("x"))
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("Fixed nonces should give a reproducible envelope")
	}
	if !bytes.Equal(a[:NonceSizeX], nonce) {
		t.Error("V3 envelope should start with the outer nonce")
	}
}

func TestWipeGuarantee(t *testing.T) {
	ctx := context.Background()

	for _, v := range []Version{V1, V2, V3} {
		rec := &recordingDeriver{inner: stubDeriver{}}
		s := NewService(WithDeriver(rec))

		pw := password()
		envelope, err := s.Encrypt(ctx, v, pw, testParams, []byte("wipe check"))
		if err != nil {
			t.Fatalf("%s: Failed to encrypt: %v", v, err)
		}
		if _, err := s.Decrypt(ctx, v, password(), testParams, envelope); err != nil {
			t.Fatalf("%s: Failed to decrypt: %v", v, err)
		}
		envelope[len(envelope)-1] ^= 0xff
		if _, err := s.Decrypt(ctx, v, password(), testParams, envelope); err == nil {
			t.Fatalf("%s: tampered envelope decrypted", v)
		}

		if !allZero(pw) {
			t.Errorf("%s: caller password was not consumed", v)
		}
		rec.assertWiped(t)
	}
}

func TestWipeGuaranteeOnOpenFallback(t *testing.T) {
	ctx := context.Background()
	rec := &recordingDeriver{inner: stubDeriver{}}
	s := NewService(WithDeriver(rec))

	legacy, err := s.EncryptV2(ctx, password(), testParams, []byte("legacy"))
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	pw := []byte("not the password")
	if _, _, err := s.Open(ctx, pw, testParams, legacy); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Expected authentication failure, got %v", err)
	}
	if !allZero(pw) {
		t.Error("Open should consume the caller password")
	}
	rec.assertWiped(t)
}

func TestSealOpen(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	sealed, err := s.Seal(ctx, password(), testParams, []byte("vault table"))
	if err != nil {
		t.Fatalf("Failed to seal: %v", err)
	}
	if Version(sealed[0]) != LatestVersion {
		t.Fatalf("Sealed data should be tagged %s, got %d", LatestVersion, sealed[0])
	}
	env, err := ParseTagged(sealed)
	if err != nil {
		t.Fatalf("Sealed data should parse as a tagged envelope: %v", err)
	}
	if !bytes.Equal(env.MarshalTagged(), sealed) {
		t.Error("Sealed data should match its tagged envelope encoding")
	}

	got, v, err := s.Open(ctx, password(), testParams, sealed)
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	if v != LatestVersion || string(got) != "vault table" {
		t.Errorf("Open returned %q as %s", got, v)
	}

	if _, _, err := s.Open(ctx, []byte("wrong"), testParams, sealed); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("Wrong password should fail authentication, got %v", err)
	}
	if _, _, err := s.Open(ctx, password(), testParams, nil); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("Empty data should fail authentication, got %v", err)
	}
}

func TestServiceConcurrentUse(t *testing.T) {
	obs := &countingObserver{}
	s := NewService(WithDeriver(Argon2id{}), WithObserver(obs))
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			plaintext := bytes.Repeat([]byte{byte(w)}, 17+w)

			for _, v := range []Version{V1, V2, V3} {
				envelope, err := s.Encrypt(ctx, v, password(), testParams, plaintext)
				if err != nil {
					errs <- fmt.Errorf("worker %d: encrypt %s: %w", w, v, err)
					return
				}
				got, err := s.Decrypt(ctx, v, password(), testParams, envelope)
				if err != nil {
					errs <- fmt.Errorf("worker %d: decrypt %s: %w", w, v, err)
					return
				}
				if !bytes.Equal(got, plaintext) {
					errs <- fmt.Errorf("worker %d: %s round trip mismatch", w, v)
					return
				}
			}

			sealed, err := s.Seal(ctx, password(), testParams, plaintext)
			if err != nil {
				errs <- fmt.Errorf("worker %d: seal: %w", w, err)
				return
			}
			got, v, err := s.Open(ctx, password(), testParams, sealed)
			if err != nil {
				errs <- fmt.Errorf("worker %d: open: %w", w, err)
				return
			}
			if v != LatestVersion || !bytes.Equal(got, plaintext) {
				errs <- fmt.Errorf("worker %d: open returned %s", w, v)
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if got := obs.ops["seal/"+LatestVersion.String()+"/ok"]; got != workers {
		t.Errorf("Observed %d successful seals, want %d", got, workers)
	}
	if obs.derives < workers*5 {
		t.Errorf("Observed %d derivations, want at least %d", obs.derives, workers*5)
	}
}

func TestOpenLegacyUntagged(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	v1, err := s.EncryptV1(ctx, password(), testParams, bytes.Repeat([]byte{0x30}, IVSize), []byte("old v1 data"))
	if err != nil {
		t.Fatalf("Failed to encrypt v1: %v", err)
	}
	v2, err := s.EncryptV2(ctx, password(), testParams, []byte("old v2 data"))
	if err != nil {
		t.Fatalf("Failed to encrypt v2: %v", err)
	}

	for want, data := range map[Version][]byte{V1: v1, V2: v2} {
		got, v, err := s.Open(ctx, password(), testParams, data)
		if err != nil {
			t.Fatalf("Failed to open legacy %s: %v", want, err)
		}
		if v != want {
			t.Errorf("Legacy data detected as %s, want %s", v, want)
		}
		if string(got) != "old "+want.String()+" data" {
			t.Errorf("Legacy %s plaintext mismatch: %q", want, got)
		}
	}
}

func TestOpenStopsOnNonAuthErrors(t *testing.T) {
	s := NewService(WithDeriver(Argon2id{MaxMemoryKiB: 16}))
	sealed := append([]byte{byte(V3)}, make([]byte, minSizeV3)...)

	_, _, err := s.Open(context.Background(), password(), testParams, sealed)
	if !errors.Is(err, ErrResource) {
		t.Fatalf("Resource failure should surface as is, got %v", err)
	}
}

func TestServiceValidation(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if _, err := s.EncryptV3(ctx, nil, testParams, []byte("x")); !errors.Is(err, ErrValidation) {
		t.Errorf("Empty password: got %v", err)
	}
	if _, err := s.EncryptV2(ctx, password(), KeyParams{Cost: testCost}, []byte("x")); !errors.Is(err, ErrValidation) {
		t.Errorf("Empty salt: got %v", err)
	}
	if _, err := s.EncryptV1(ctx, password(), testParams, make([]byte, 8), []byte("x")); !errors.Is(err, ErrValidation) {
		t.Errorf("Short IV: got %v", err)
	}
	if _, err := s.EncryptV3WithNonces(ctx, password(), testParams, make([]byte, 12), make([]byte, IVSize), []byte("x")); !errors.Is(err, ErrValidation) {
		t.Errorf("Short outer nonce: got %v", err)
	}
	if _, err := s.EncryptV3WithNonces(ctx, password(), testParams, make([]byte, NonceSizeX), make([]byte, 12), []byte("x")); !errors.Is(err, ErrValidation) {
		t.Errorf("Short inner nonce: got %v", err)
	}
	if _, err := s.Encrypt(ctx, Version(7), password(), testParams, []byte("x")); !errors.Is(err, ErrValidation) {
		t.Errorf("Unknown version: got %v", err)
	}
}

func TestPasswordHashAndVerify(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	hash, err := s.PasswordHash(ctx, password(), testParams)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	if len(hash) != PasswordHashSize {
		t.Fatalf("Hash size: got %d, want %d", len(hash), PasswordHashSize)
	}

	ok, err := s.VerifyPassword(ctx, password(), testParams, hash)
	if err != nil || !ok {
		t.Fatalf("Correct password should verify: ok=%v err=%v", ok, err)
	}
	ok, err = s.VerifyPassword(ctx, []byte("guess"), testParams, hash)
	if err != nil || ok {
		t.Errorf("Wrong password should not verify: ok=%v err=%v", ok, err)
	}
	ok, err = s.VerifyPassword(ctx, password(), testParams, hash[:10])
	if err != nil || ok {
		t.Errorf("Short stored hash should not verify: ok=%v err=%v", ok, err)
	}
}

func TestObserverAndAbort(t *testing.T) {
	obs := &countingObserver{}
	d := blockingDeriver{release: make(chan struct{})}
	defer close(d.release)
	s := NewService(WithDeriver(d), WithObserver(obs))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.EncryptV3(ctx, password(), testParams, []byte("x")); !errors.Is(err, ErrAborted) {
		t.Fatalf("Canceled context should abort, got %v", err)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.ops["encrypt/v3/aborted"] != 1 {
		t.Errorf("Observer should see one aborted encrypt, got %v", obs.ops)
	}
	if obs.derives != 1 {
		t.Errorf("Observer should see one derivation, got %d", obs.derives)
	}
}

// Reference values for Argon2id(t=2, m=1024 KiB, p=1) and the V3 pipeline
// (AES-256-CBC inner, XChaCha20-Poly1305 outer, HMAC-SHA-512 tag).
const (
	katPassword  = "Password1234567890!!!!"
	katPlaintext = "Here's some text to encrypt."
	katSalt      = "404142434445464748494a4b4c4d4e4f5051525354555657"
	katNonce     = "a0a1a2a3a4a5a6a7a8a9aaabacadaeafb0b1b2b3b4b5b6b7"
	katNonce2    = "101112131415161718191a1b1c1d1e1f"
	katIV        = "303132333435363738393a3b3c3d3e3f"

	katV3 = "oKGio6SlpqeoqaqrrK2ur7CxsrO0tba3NRJRgsJeCZhz2DSy+HoUn2stxPZsabCr8hdCrHzx552NB2i9RLfea10DHOYqOZ+I2BQ/mYYdsPI3oJj0n1nsvvZDf+bIfxaooK6YCx5G8F0uPql9t7vMU6JP7xMHgrNSTi0ZlkBWFCl1YfsNRhx2WPhcA9Wh3b3BiZQvmjbwDY4="
	katV1 = "MDEyMzQ1Njc4OTo7PD0+P6VrFxEjOLOeSpBFgfDtute0rW+9WpC8uPBc3ZEwEoAfUIDBygs7Fj/SnRqnh8eDKsRBC0zTwcYxdcsXCTnMSZ3od4cmhkBhOFO+rBvzJk5gfNJ1tiIEucP1I8U4WjmF5w=="

	katHash = "7ee00d1e31210bda1707fde4c819d2ca17870062a635ceaaeb8744297db4b07b71a02b8af8b9852f94215ab230945ee3da6e45efca43f1c1805659e914e180e7"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("Failed to decode hex: %v", err)
	}
	return b
}

func katParams(t *testing.T) KeyParams {
	return KeyParams{Salt: mustHex(t, katSalt), Cost: Cost{Iterations: 2, MemoryKiB: 1024, Parallelism: 1}}
}

func TestKnownAnswerV3(t *testing.T) {
	s := NewService()
	ctx := context.Background()
	p := katParams(t)

	out, err := s.EncryptV3WithNonces(ctx, []byte(katPassword), p, mustHex(t, katNonce), mustHex(t, katNonce2), []byte(katPlaintext))
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	if got := EncodeText(out); got != katV3 {
		t.Fatalf("V3 vector mismatch:\n got  %s\n want %s", got, katV3)
	}

	envelope, err := DecodeText(katV3)
	if err != nil {
		t.Fatalf("Failed to decode vector: %v", err)
	}
	plaintext, err := s.DecryptV3(ctx, []byte(katPassword), p, envelope)
	if err != nil {
		t.Fatalf("Failed to decrypt vector: %v", err)
	}
	if string(plaintext) != katPlaintext {
		t.Errorf("Plaintext mismatch: %q", plaintext)
	}
}

func TestKnownAnswerV1(t *testing.T) {
	s := NewService()
	ctx := context.Background()
	p := katParams(t)

	out, err := s.EncryptV1(ctx, []byte(katPassword), p, mustHex(t, katIV), []byte(katPlaintext))
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	if got := EncodeText(out); got != katV1 {
		t.Fatalf("V1 vector mismatch:\n got  %s\n want %s", got, katV1)
	}

	// Untagged V1 data still opens through the legacy path
	plaintext, v, err := s.Open(ctx, []byte(katPassword), p, out)
	if err != nil {
		t.Fatalf("Failed to open vector: %v", err)
	}
	if v != V1 || string(plaintext) != katPlaintext {
		t.Errorf("Open returned %q as %s", plaintext, v)
	}
}

func TestKnownAnswerPasswordHash(t *testing.T) {
	s := NewService()
	hash, err := s.PasswordHash(context.Background(), []byte(katPassword), katParams(t))
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	if hex.EncodeToString(hash) != katHash {
		t.Errorf("Password hash mismatch: %x", hash)
	}
}
