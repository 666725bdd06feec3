package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Kind is the machine-stable classification attached to every failure that
// crosses the core boundary.
type Kind string

const (
	KindValidation        Kind = "ValidationError"
	KindCredential        Kind = "CredentialError"
	KindInvalidTransition Kind = "InvalidTransition"
	KindNotFound          Kind = "NotFound"
	KindIntegrity         Kind = "IntegrityError"
	KindNetwork           Kind = "NetworkError"
	KindInternal          Kind = "InternalError"
	// KindRateLimited is only produced by the HTTP gateway.
	KindRateLimited       Kind = "RateLimited"
)

// Error is the uniform error value rendered into result envelopes. From and
// To are only populated for InvalidTransition failures.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	cause   error
}

var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrCredential        = &Error{Kind: KindCredential}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrIntegrity         = &Error{Kind: KindIntegrity}
	ErrNetwork           = &Error{Kind: KindNetwork}
	ErrInternal          = &Error{Kind: KindInternal}
	ErrRateLimited       = &Error{Kind: KindRateLimited}
)

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches on Kind so callers can test against the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation reports malformed caller input.
func Validation(format string, args ...any) *Error { return newf(KindValidation, format, args...) }

// Credential reports a missing or unusable signing context.
func Credential(format string, args ...any) *Error { return newf(KindCredential, format, args...) }

// NotFound reports an unknown contract, batch, topic or transaction.
func NotFound(format string, args ...any) *Error { return newf(KindNotFound, format, args...) }

// Integrity reports a digest mismatch.
func Integrity(format string, args ...any) *Error { return newf(KindIntegrity, format, args...) }

// RateLimited reports a throttled caller.
func RateLimited(format string, args ...any) *Error { return newf(KindRateLimited, format, args...) }

// InvalidTransition names the current and requested states.
func InvalidTransition(from, to string) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
		From:    from,
		To:      to,
	}
}

// Network wraps a failed live ledger call.
func Network(op string, cause error) *Error {
	msg := op
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", op, cause)
	}
	return &Error{Kind: KindNetwork, Message: msg, cause: cause}
}

// Internal wraps a failure in one of the core's own stores.
func Internal(op string, cause error) *Error {
	msg := op
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", op, cause)
	}
	return &Error{Kind: KindInternal, Message: msg, cause: cause}
}

// From maps an arbitrary error into the taxonomy. Typed errors anywhere in the
// chain win; context expiry is treated as a network failure since only ledger
// calls block.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stderrors.As(err, &typed) {
		return typed
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return Network("ledger call interrupted", err)
	}
	return Internal("unexpected failure", err)
}

// KindOf returns the taxonomy kind of err, or the empty string for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return From(err).Kind
}
