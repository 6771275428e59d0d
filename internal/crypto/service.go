package crypto

import (
	"bytes"
	"context"
	"log/slog"
	"time"
)

// KeyParams are the per-account inputs every derivation needs besides the password.
type KeyParams struct {
	Salt []byte
	Cost Cost
}

// Observer receives operation outcomes. internal/metrics implements it.
type Observer interface {
	ObserveOperation(op string, v Version, err error)
	ObserveDerive(elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, Version, error) {}
func (nopObserver) ObserveDerive(time.Duration, error)      {}

// Service runs the envelope protocol. It holds no per-call state and is safe for
// concurrent use.
//
// Every method that takes a password consumes it: the slice is wiped before the method
// returns, whatever the outcome.
type Service struct {
	deriver  Deriver
	logger   *slog.Logger
	observer Observer
}

// Option configures a Service.
type Option func(*Service)

// WithDeriver replaces the Argon2id deriver.
func WithDeriver(d Deriver) Option {
	return func(s *Service) { s.deriver = d }
}

// WithLogger sets the logger used for backend and resource failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithObserver attaches an operation observer.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// NewService returns a Service using Argon2id with the default memory budget.
func NewService(opts ...Option) *Service {
	s := &Service{
		deriver:  Argon2id{},
		logger:   slog.Default(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) finish(op string, v Version, err error) {
	s.observer.ObserveOperation(op, v, err)
	switch KindOf(err) {
	case KindBackend, KindResource:
		s.logger.Error("crypto operation failed", "op", op, "version", v.String(), "kind", KindOf(err).String(), "error", err)
	case KindAborted:
		s.logger.Warn("crypto operation aborted", "op", op, "version", v.String(), "error", err)
	}
}

func checkParams(op string, password []byte, p KeyParams) error {
	if len(password) == 0 {
		return validationError(op, "password cannot be empty")
	}
	if len(p.Salt) == 0 {
		return validationError(op, "salt cannot be empty")
	}
	return p.Cost.Validate()
}

func (s *Service) derive(ctx context.Context, password []byte, p KeyParams, n int) (*SecureBytes, error) {
	start := time.Now()
	key, err := DeriveContext(ctx, s.deriver, password, p.Salt, n, p.Cost)
	s.observer.ObserveDerive(time.Since(start), err)
	if err != nil {
		return nil, asEngineError("derive", err)
	}
	return key, nil
}

func (s *Service) schedule(ctx context.Context, password []byte, p KeyParams, layout []int) (*KeySchedule, error) {
	material, err := s.derive(ctx, password, p, layoutSize(layout))
	if err != nil {
		return nil, err
	}
	return SplitKeys(material, layout)
}

func marshalRaw(env *Envelope, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return env.Marshal(), nil
}

func randomNonce(op string, n int) ([]byte, error) {
	b, err := GenerateRandom(n)
	if err != nil {
		return nil, backendError(op, err)
	}
	return b, nil
}

// EncryptV1 encrypts with AES-256-CBC under the caller's IV and appends an HMAC-SHA-512
// tag over IV || ciphertext.
func (s *Service) EncryptV1(ctx context.Context, password []byte, p KeyParams, iv, plaintext []byte) (out []byte, err error) {
	defer func() { s.finish("encrypt", V1, err) }()
	return marshalRaw(s.encryptV1(ctx, password, p, iv, plaintext))
}

func (s *Service) encryptV1(ctx context.Context, password []byte, p KeyParams, iv, plaintext []byte) (*Envelope, error) {
	defer ClearBytes(password)
	if err := checkParams("encrypt-v1", password, p); err != nil {
		return nil, err
	}
	if len(iv) != IVSize {
		return nil, validationError("encrypt-v1", "iv must be %d bytes, got %d", IVSize, len(iv))
	}

	ks, err := s.schedule(ctx, password, p, layoutV1)
	if err != nil {
		return nil, err
	}
	defer ks.Destroy()

	ct, err := AESCBC{}.Encrypt(ks.Key(0), iv, plaintext)
	if err != nil {
		return nil, err
	}
	return &Envelope{Version: V1, Nonce: iv, Ciphertext: ct, Tag: ComputeTag(ks.Key(1), iv, ct)}, nil
}

// DecryptV1 verifies the HMAC tag and only then decrypts.
func (s *Service) DecryptV1(ctx context.Context, password []byte, p KeyParams, envelope []byte) (out []byte, err error) {
	defer func() { s.finish("decrypt", V1, err) }()
	return s.decryptV1(ctx, password, p, envelope)
}

func (s *Service) decryptV1(ctx context.Context, password []byte, p KeyParams, envelope []byte) ([]byte, error) {
	defer ClearBytes(password)
	if err := checkParams("decrypt-v1", password, p); err != nil {
		return nil, err
	}
	env, err := ParseEnvelope(V1, envelope)
	if err != nil {
		return nil, err
	}

	ks, err := s.schedule(ctx, password, p, layoutV1)
	if err != nil {
		return nil, err
	}
	defer ks.Destroy()

	if !VerifyTag(ks.Key(1), env.Tag, env.Nonce, env.Ciphertext) {
		return nil, authError("decrypt-v1")
	}
	return AESCBC{}.Decrypt(ks.Key(0), env.Nonce, env.Ciphertext)
}

// EncryptV2 encrypts with AES-256-GCM under a fresh random nonce.
func (s *Service) EncryptV2(ctx context.Context, password []byte, p KeyParams, plaintext []byte) (out []byte, err error) {
	defer func() { s.finish("encrypt", V2, err) }()
	return marshalRaw(s.encryptV2(ctx, password, p, plaintext))
}

func (s *Service) encryptV2(ctx context.Context, password []byte, p KeyParams, plaintext []byte) (*Envelope, error) {
	defer ClearBytes(password)
	if err := checkParams("encrypt-v2", password, p); err != nil {
		return nil, err
	}
	nonce, err := randomNonce("encrypt-v2", NonceSize)
	if err != nil {
		return nil, err
	}

	ks, err := s.schedule(ctx, password, p, layoutV2)
	if err != nil {
		return nil, err
	}
	defer ks.Destroy()

	sealed, err := AESGCM{}.Encrypt(ks.Key(0), nonce, plaintext)
	if err != nil {
		return nil, err
	}
	split := len(sealed) - AEADTagSize
	return &Envelope{Version: V2, Nonce: nonce, Ciphertext: sealed[:split], Tag: sealed[split:]}, nil
}

// DecryptV2 opens an AES-256-GCM envelope in one verify-and-decrypt step.
func (s *Service) DecryptV2(ctx context.Context, password []byte, p KeyParams, envelope []byte) (out []byte, err error) {
	defer func() { s.finish("decrypt", V2, err) }()
	return s.decryptV2(ctx, password, p, envelope)
}

func (s *Service) decryptV2(ctx context.Context, password []byte, p KeyParams, envelope []byte) ([]byte, error) {
	defer ClearBytes(password)
	if err := checkParams("decrypt-v2", password, p); err != nil {
		return nil, err
	}
	env, err := ParseEnvelope(V2, envelope)
	if err != nil {
		return nil, err
	}

	ks, err := s.schedule(ctx, password, p, layoutV2)
	if err != nil {
		return nil, err
	}
	defer ks.Destroy()

	sealed := make([]byte, 0, len(env.Ciphertext)+len(env.Tag))
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.Tag...)
	return AESGCM{}.Decrypt(ks.Key(0), env.Nonce, sealed)
}

// EncryptV3 runs the layered pipeline with two fresh random nonces.
func (s *Service) EncryptV3(ctx context.Context, password []byte, p KeyParams, plaintext []byte) (out []byte, err error) {
	defer func() { s.finish("encrypt", V3, err) }()
	defer ClearBytes(password)

	nonce, err := randomNonce("encrypt-v3", NonceSizeX)
	if err != nil {
		return nil, err
	}
	nonce2, err := randomNonce("encrypt-v3", IVSize)
	if err != nil {
		return nil, err
	}
	return marshalRaw(s.encryptV3(ctx, password, p, nonce, nonce2, plaintext))
}

// EncryptV3WithNonces is EncryptV3 with caller-chosen nonces, for reproducible test
// vectors. Reusing a nonce pair under the same password and salt breaks confidentiality.
func (s *Service) EncryptV3WithNonces(ctx context.Context, password []byte, p KeyParams, nonce, nonce2, plaintext []byte) (out []byte, err error) {
	defer func() { s.finish("encrypt", V3, err) }()
	return marshalRaw(s.encryptV3(ctx, password, p, nonce, nonce2, plaintext))
}

// encryptV3: AES-256-CBC(key2, nonce2) inside XChaCha20-Poly1305(key, nonce), then
// HMAC-SHA-512(macKey) over nonce || outer ciphertext.
func (s *Service) encryptV3(ctx context.Context, password []byte, p KeyParams, nonce, nonce2, plaintext []byte) (*Envelope, error) {
	defer ClearBytes(password)
	if err := checkParams("encrypt-v3", password, p); err != nil {
		return nil, err
	}
	if len(nonce) != NonceSizeX {
		return nil, validationError("encrypt-v3", "nonce must be %d bytes, got %d", NonceSizeX, len(nonce))
	}
	if len(nonce2) != IVSize {
		return nil, validationError("encrypt-v3", "inner nonce must be %d bytes, got %d", IVSize, len(nonce2))
	}

	ks, err := s.schedule(ctx, password, p, layoutV3)
	if err != nil {
		return nil, err
	}
	defer ks.Destroy()

	inner, err := AESCBC{}.Encrypt(ks.Key(v3Key2), nonce2, plaintext)
	if err != nil {
		return nil, err
	}
	innerOut := make([]byte, 0, len(nonce2)+len(inner))
	innerOut = append(innerOut, nonce2...)
	innerOut = append(innerOut, inner...)

	outer, err := XChaCha20Poly1305{}.Encrypt(ks.Key(v3Key), nonce, innerOut)
	if err != nil {
		return nil, err
	}
	return &Envelope{Version: V3, Nonce: nonce, Ciphertext: outer, Tag: ComputeTag(ks.Key(v3MacKey), nonce, outer)}, nil
}

// DecryptV3 verifies the HMAC tag, then unwraps the outer and inner layers in that order.
func (s *Service) DecryptV3(ctx context.Context, password []byte, p KeyParams, envelope []byte) (out []byte, err error) {
	defer func() { s.finish("decrypt", V3, err) }()
	return s.decryptV3(ctx, password, p, envelope)
}

func (s *Service) decryptV3(ctx context.Context, password []byte, p KeyParams, envelope []byte) ([]byte, error) {
	defer ClearBytes(password)
	if err := checkParams("decrypt-v3", password, p); err != nil {
		return nil, err
	}
	env, err := ParseEnvelope(V3, envelope)
	if err != nil {
		return nil, err
	}

	ks, err := s.schedule(ctx, password, p, layoutV3)
	if err != nil {
		return nil, err
	}
	defer ks.Destroy()

	if !VerifyTag(ks.Key(v3MacKey), env.Tag, env.Nonce, env.Ciphertext) {
		return nil, authError("decrypt-v3")
	}
	innerOut, err := XChaCha20Poly1305{}.Decrypt(ks.Key(v3Key), env.Nonce, env.Ciphertext)
	if err != nil {
		return nil, err
	}
	if len(innerOut) < IVSize+BlockSize {
		return nil, authError("decrypt-v3")
	}
	return AESCBC{}.Decrypt(ks.Key(v3Key2), innerOut[:IVSize], innerOut[IVSize:])
}

// Encrypt writes a raw envelope of version v with fresh random nonces.
func (s *Service) Encrypt(ctx context.Context, v Version, password []byte, p KeyParams, plaintext []byte) (out []byte, err error) {
	defer func() { s.finish("encrypt", v, err) }()
	return marshalRaw(s.encrypt(ctx, v, password, p, plaintext))
}

func (s *Service) encrypt(ctx context.Context, v Version, password []byte, p KeyParams, plaintext []byte) (*Envelope, error) {
	switch v {
	case V1:
		iv, err := randomNonce("encrypt-v1", IVSize)
		if err != nil {
			ClearBytes(password)
			return nil, err
		}
		return s.encryptV1(ctx, password, p, iv, plaintext)
	case V2:
		return s.encryptV2(ctx, password, p, plaintext)
	case V3:
		nonce, err := randomNonce("encrypt-v3", NonceSizeX)
		if err != nil {
			ClearBytes(password)
			return nil, err
		}
		nonce2, err := randomNonce("encrypt-v3", IVSize)
		if err != nil {
			ClearBytes(password)
			return nil, err
		}
		return s.encryptV3(ctx, password, p, nonce, nonce2, plaintext)
	default:
		ClearBytes(password)
		return nil, validationError("encrypt", "unknown envelope version %d", byte(v))
	}
}

// Decrypt opens a raw envelope the caller knows to be of version v.
func (s *Service) Decrypt(ctx context.Context, v Version, password []byte, p KeyParams, envelope []byte) (out []byte, err error) {
	defer func() { s.finish("decrypt", v, err) }()
	return s.decrypt(ctx, v, password, p, envelope)
}

func (s *Service) decrypt(ctx context.Context, v Version, password []byte, p KeyParams, envelope []byte) ([]byte, error) {
	switch v {
	case V1:
		return s.decryptV1(ctx, password, p, envelope)
	case V2:
		return s.decryptV2(ctx, password, p, envelope)
	case V3:
		return s.decryptV3(ctx, password, p, envelope)
	default:
		ClearBytes(password)
		return nil, validationError("decrypt", "unknown envelope version %d", byte(v))
	}
}

// Seal encrypts with the latest version and prefixes the version byte.
func (s *Service) Seal(ctx context.Context, password []byte, p KeyParams, plaintext []byte) (out []byte, err error) {
	defer func() { s.finish("seal", LatestVersion, err) }()
	env, err := s.encrypt(ctx, LatestVersion, password, p, plaintext)
	if err != nil {
		return nil, err
	}
	return env.MarshalTagged(), nil
}

type openAttempt struct {
	version Version
	raw     []byte
}

// Open decrypts data written by Seal, or an untagged legacy V1/V2 envelope. It reports
// the version that authenticated so callers can re-seal old data.
//
// Each candidate layout costs one key derivation. Only authentication failures move on
// to the next candidate; any other failure is returned as is.
func (s *Service) Open(ctx context.Context, password []byte, p KeyParams, data []byte) (out []byte, v Version, err error) {
	defer func() { s.finish("open", v, err) }()
	defer ClearBytes(password)

	if err := checkParams("open", password, p); err != nil {
		return nil, 0, err
	}

	var attempts []openAttempt
	if len(data) > 0 && Version(data[0]).Valid() {
		attempts = append(attempts, openAttempt{version: Version(data[0]), raw: data[1:]})
	}
	for _, legacy := range LegacyCandidates(data) {
		attempts = append(attempts, openAttempt{version: legacy, raw: data})
	}

	for _, a := range attempts {
		plaintext, err := s.decrypt(ctx, a.version, bytes.Clone(password), p, a.raw)
		if err == nil {
			return plaintext, a.version, nil
		}
		if KindOf(err) != KindAuthentication {
			return nil, 0, err
		}
	}
	return nil, 0, authError("open")
}

// PasswordHash derives the account's login verifier.
func (s *Service) PasswordHash(ctx context.Context, password []byte, p KeyParams) (out []byte, err error) {
	defer func() { s.finish("password-hash", 0, err) }()
	defer ClearBytes(password)
	if err := checkParams("password-hash", password, p); err != nil {
		return nil, err
	}

	hash, err := s.derive(ctx, password, p, PasswordHashSize)
	if err != nil {
		return nil, err
	}
	defer hash.Destroy()
	return bytes.Clone(hash.Bytes()), nil
}

// VerifyPassword derives a fresh verifier and compares it with stored in constant time.
// A mismatch is a false result, not an error.
func (s *Service) VerifyPassword(ctx context.Context, password []byte, p KeyParams, stored []byte) (ok bool, err error) {
	defer func() { s.finish("verify-password", 0, err) }()
	defer ClearBytes(password)
	if err := checkParams("verify-password", password, p); err != nil {
		return false, err
	}
	if len(stored) != PasswordHashSize {
		return false, nil
	}

	hash, err := s.derive(ctx, password, p, PasswordHashSize)
	if err != nil {
		return false, err
	}
	defer hash.Destroy()
	return ComparePasswordHash(hash.Bytes(), stored), nil
}
