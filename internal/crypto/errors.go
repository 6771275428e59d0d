package crypto

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure. Callers branch on the kind, never on the message.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindValidation reports caller input rejected before any cryptographic work.
	KindValidation
	// KindAuthentication covers wrong passwords, tag mismatches and malformed envelopes alike.
	KindAuthentication
	// KindBackend reports an internal fault of a primitive.
	KindBackend
	// KindResource reports that the derivation working set could not be allocated.
	KindResource
	// KindAborted reports a derivation abandoned because the caller's context ended.
	KindAborted
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindBackend:
		return "backend"
	case KindResource:
		return "resource"
	case KindAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Retryable reports whether repeating the same call can succeed.
// Cryptographic failures are deterministic and must not be retried.
func (k Kind) Retryable() bool {
	return k == KindResource
}

// Sentinel errors, one per kind. errors.Is(err, ErrAuthFailed) matches any *Error of
// KindAuthentication.
var (
	ErrValidation = errors.New("invalid input")
	ErrAuthFailed = errors.New("authentication failed")
	ErrBackend    = errors.New("cryptographic backend failure")
	ErrResource   = errors.New("insufficient resources for key derivation")
	ErrAborted    = errors.New("operation aborted")
)

// Error is the single error type returned by the engine.
type Error struct {
	Kind Kind
	Op   string // engine operation, e.g. "derive", "decrypt-v3"
	Err  error  // cause; always nil for KindAuthentication
}

func (e *Error) Error() string {
	if e.Kind == KindAuthentication {
		return ErrAuthFailed.Error()
	}
	msg := sentinelFor(e.Kind).Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the same kind.
func (e *Error) Is(target error) bool {
	return target == sentinelFor(e.Kind)
}

func sentinelFor(k Kind) error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindAuthentication:
		return ErrAuthFailed
	case KindBackend:
		return ErrBackend
	case KindResource:
		return ErrResource
	case KindAborted:
		return ErrAborted
	default:
		return errUnknown
	}
}

var errUnknown = errors.New("unknown failure")

// KindOf returns the kind of an engine error, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func validationError(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// authError drops whatever went wrong so wrong-password and corrupted-data look the same.
func authError(op string) error {
	return &Error{Kind: KindAuthentication, Op: op}
}

func backendError(op string, err error) error {
	return &Error{Kind: KindBackend, Op: op, Err: err}
}

func resourceError(op string, err error) error {
	return &Error{Kind: KindResource, Op: op, Err: err}
}

// asEngineError keeps kinded errors as they are and classifies anything else as a backend fault.
func asEngineError(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return backendError(op, err)
}
