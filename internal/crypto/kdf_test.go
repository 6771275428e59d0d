package crypto

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

var testCost = Cost{Iterations: 1, MemoryKiB: 64, Parallelism: 1}

func TestArgon2idDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")

	a, err := Argon2id{}.Derive([]byte("password"), salt, 32, testCost)
	if err != nil {
		t.Fatalf("Failed to derive: %v", err)
	}
	defer a.Destroy()

	b, err := Argon2id{}.Derive([]byte("password"), salt, 32, testCost)
	if err != nil {
		t.Fatalf("Failed to derive: %v", err)
	}
	defer b.Destroy()

	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Error("Same inputs should derive the same key")
	}

	c, err := Argon2id{}.Derive([]byte("password"), []byte("fedcba9876543210"), 32, testCost)
	if err != nil {
		t.Fatalf("Failed to derive: %v", err)
	}
	defer c.Destroy()

	if bytes.Equal(a.Bytes(), c.Bytes()) {
		t.Error("Different salts should derive different keys")
	}
}

func TestArgon2idOutputLengthBinding(t *testing.T) {
	salt := []byte("0123456789abcdef")

	short, err := Argon2id{}.Derive([]byte("password"), salt, PasswordHashSize, testCost)
	if err != nil {
		t.Fatalf("Failed to derive: %v", err)
	}
	defer short.Destroy()

	long, err := Argon2id{}.Derive([]byte("password"), salt, layoutSize(layoutV3), testCost)
	if err != nil {
		t.Fatalf("Failed to derive: %v", err)
	}
	defer long.Destroy()

	if bytes.Equal(short.Bytes(), long.Bytes()[:PasswordHashSize]) {
		t.Error("Password verifier should not be a prefix of the V3 key schedule")
	}
}

func TestArgon2idConsumesPassword(t *testing.T) {
	password := []byte("wipe me")
	key, err := Argon2id{}.Derive(password, []byte("salt"), 32, testCost)
	if err != nil {
		t.Fatalf("Failed to derive: %v", err)
	}
	key.Destroy()
	if !allZero(password) {
		t.Error("Password should be wiped after a successful derivation")
	}

	password = []byte("wipe me too")
	if _, err := (Argon2id{}).Derive(password, nil, 32, testCost); err == nil {
		t.Fatal("Expected error for empty salt")
	}
	if !allZero(password) {
		t.Error("Password should be wiped after a failed derivation")
	}
}

func TestArgon2idValidation(t *testing.T) {
	tests := []struct {
		name     string
		password []byte
		salt     []byte
		n        int
		cost     Cost
	}{
		{"empty password", nil, []byte("salt"), 32, testCost},
		{"empty salt", []byte("pw"), nil, 32, testCost},
		{"zero length", []byte("pw"), []byte("salt"), 0, testCost},
		{"zero iterations", []byte("pw"), []byte("salt"), 32, Cost{MemoryKiB: 64, Parallelism: 1}},
		{"zero parallelism", []byte("pw"), []byte("salt"), 32, Cost{Iterations: 1, MemoryKiB: 64}},
		{"zero memory", []byte("pw"), []byte("salt"), 32, Cost{Iterations: 1, Parallelism: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Argon2id{}.Derive(tt.password, tt.salt, tt.n, tt.cost)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}
}

func TestArgon2idMemoryBudget(t *testing.T) {
	d := Argon2id{MaxMemoryKiB: 32}
	_, err := d.Derive([]byte("pw"), []byte("salt"), 32, testCost)
	if !errors.Is(err, ErrResource) {
		t.Fatalf("Expected resource error, got %v", err)
	}
	if !KindOf(err).Retryable() {
		t.Error("Resource errors should be retryable")
	}
}

type blockingDeriver struct {
	release chan struct{}
}

func (b blockingDeriver) Derive(password, salt []byte, n int, cost Cost) (*SecureBytes, error) {
	<-b.release
	return stubDeriver{}.Derive(password, salt, n, cost)
}

func TestDeriveContextAborted(t *testing.T) {
	d := blockingDeriver{release: make(chan struct{})}
	defer close(d.release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	key, err := DeriveContext(ctx, d, []byte("pw"), []byte("salt"), 32, testCost)
	if key != nil {
		t.Error("Aborted derivation must not return key material")
	}
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("Expected aborted error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Aborted error should wrap the context error, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("DeriveContext should return once the context ends")
	}
}

func TestDeriveContextAlreadyCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	password := []byte("pw")
	_, err := DeriveContext(ctx, stubDeriver{}, password, []byte("salt"), 32, testCost)
	if KindOf(err) != KindAborted {
		t.Fatalf("Expected aborted kind, got %v", err)
	}
	if !allZero(password) {
		t.Error("Password should be wiped when the derivation never starts")
	}
}

// lateDeriver reads its password only after release, like a derivation that outlives
// its caller's deadline.
type lateDeriver struct {
	release chan struct{}
	seen    chan []byte
}

func (l lateDeriver) Derive(password, salt []byte, n int, cost Cost) (*SecureBytes, error) {
	<-l.release
	l.seen <- bytes.Clone(password)
	return stubDeriver{}.Derive(password, salt, n, cost)
}

func TestDeriveContextAbortedOwnsPassword(t *testing.T) {
	d := lateDeriver{release: make(chan struct{}), seen: make(chan []byte, 1)}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	password := []byte("correct horse")
	_, err := DeriveContext(ctx, d, password, []byte("salt"), 32, testCost)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("Expected aborted error, got %v", err)
	}
	if !allZero(password) {
		t.Error("Caller's password should be wiped before DeriveContext returns")
	}

	// The caller reuses its buffer; the abandoned derivation must not see that.
	copy(password, "xxxxxxxxxxxxx")
	close(d.release)

	select {
	case got := <-d.seen:
		if string(got) != "correct horse" {
			t.Errorf("Abandoned derivation saw %q, want its own copy of the password", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Abandoned derivation never ran")
	}
}

func TestDefaultCost(t *testing.T) {
	c := DefaultCost()
	if err := c.Validate(); err != nil {
		t.Fatalf("Default cost should be valid: %v", err)
	}
	if c.Parallelism > DefaultMaxParallel {
		t.Errorf("Parallelism %d above cap %d", c.Parallelism, DefaultMaxParallel)
	}
}
