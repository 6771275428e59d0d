package crypto

import (
	"bytes"
	"context"
	"fmt"
	"runtime"

	"golang.org/x/crypto/argon2"
)

const (
	DefaultSaltSize    = 64              // Account salt size in bytes
	DefaultIterations  = 3               // Argon2id passes
	DefaultMemoryKiB   = 64 * 1024       // 64 MiB working set
	DefaultMaxParallel = 4               // Upper bound for the lane count picked from NumCPU
	DefaultMaxMemory   = 4 * 1024 * 1024 // 4 GiB budget before ResourceError
)

// Cost holds the Argon2id tuning parameters. It is stored with each account so the same
// key can be re-derived on other hardware.
type Cost struct {
	Iterations  uint32 `json:"iterations" yaml:"iterations"`
	MemoryKiB   uint32 `json:"memory_kib" yaml:"memory_kib"`
	Parallelism uint8  `json:"parallelism" yaml:"parallelism"`
}

// DefaultCost returns the recommended parameters for this machine.
func DefaultCost() Cost {
	lanes := runtime.NumCPU()
	if lanes > DefaultMaxParallel {
		lanes = DefaultMaxParallel
	}
	if lanes < 1 {
		lanes = 1
	}
	return Cost{
		Iterations:  DefaultIterations,
		MemoryKiB:   DefaultMemoryKiB,
		Parallelism: uint8(lanes),
	}
}

func (c Cost) String() string {
	return fmt.Sprintf("argon2id t=%d m=%dKiB p=%d", c.Iterations, c.MemoryKiB, c.Parallelism)
}

// Validate rejects parameters the primitive cannot run with.
func (c Cost) Validate() error {
	if c.Iterations == 0 {
		return validationError("derive", "iterations must be at least 1")
	}
	if c.Parallelism == 0 {
		return validationError("derive", "parallelism must be at least 1")
	}
	if c.MemoryKiB == 0 {
		return validationError("derive", "memory cost must be positive")
	}
	return nil
}

// Deriver turns a password into pseudorandom key material.
//
// Derive consumes password: it is wiped before Derive returns, on every path.
// The returned buffer belongs to the caller.
type Deriver interface {
	Derive(password, salt []byte, outputLen int, cost Cost) (*SecureBytes, error)
}

// Argon2id is the production Deriver.
type Argon2id struct {
	// MaxMemoryKiB caps the working set. Zero means DefaultMaxMemory.
	MaxMemoryKiB uint32
}

// Derive runs Argon2id over password and salt.
func (a Argon2id) Derive(password, salt []byte, outputLen int, cost Cost) (out *SecureBytes, err error) {
	defer ClearBytes(password)

	if len(password) == 0 {
		return nil, validationError("derive", "password cannot be empty")
	}
	if len(salt) == 0 {
		return nil, validationError("derive", "salt cannot be empty")
	}
	if outputLen <= 0 {
		return nil, validationError("derive", "output length must be positive, got %d", outputLen)
	}
	if err := cost.Validate(); err != nil {
		return nil, err
	}

	budget := a.MaxMemoryKiB
	if budget == 0 {
		budget = DefaultMaxMemory
	}
	if cost.MemoryKiB > budget {
		return nil, resourceError("derive", fmt.Errorf("memory cost %d KiB exceeds budget of %d KiB", cost.MemoryKiB, budget))
	}

	// The primitive allocates the whole working set up front; an impossible
	// allocation surfaces as a runtime panic.
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = resourceError("derive", fmt.Errorf("%v", r))
		}
	}()

	key := argon2.IDKey(password, salt, cost.Iterations, cost.MemoryKiB, cost.Parallelism, uint32(outputLen))
	return TakeSecureBytes(key), nil
}

type deriveResult struct {
	key *SecureBytes
	err error
}

// DeriveContext runs d.Derive and gives up when ctx ends first. An abandoned
// derivation keeps running in the background; its output is destroyed as soon as it
// arrives.
//
// The derivation works on its own copy of password and salt. password is wiped before
// DeriveContext returns, so the caller never shares a buffer with a goroutine it
// stopped waiting for.
func DeriveContext(ctx context.Context, d Deriver, password, salt []byte, outputLen int, cost Cost) (*SecureBytes, error) {
	if err := ctx.Err(); err != nil {
		ClearBytes(password)
		return nil, &Error{Kind: KindAborted, Op: "derive", Err: err}
	}

	owned := bytes.Clone(password)
	ClearBytes(password)
	ownedSalt := bytes.Clone(salt)

	done := make(chan deriveResult, 1)
	go func() {
		key, err := d.Derive(owned, ownedSalt, outputLen, cost)
		done <- deriveResult{key: key, err: err}
	}()

	select {
	case res := <-done:
		return res.key, res.err
	case <-ctx.Done():
		go func() {
			res := <-done
			res.key.Destroy()
		}()
		return nil, &Error{Kind: KindAborted, Op: "derive", Err: ctx.Err()}
	}
}
