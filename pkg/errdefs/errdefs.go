package errdefs

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind classifies a failure semantically. Handlers branch on kinds, not
// on message text.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindConflict             Kind = "conflict"
	KindQuotaExceeded        Kind = "quota_exceeded"
	KindCapacityExhausted    Kind = "capacity_exhausted"
	KindWorkerDisconnected   Kind = "worker_disconnected"
	KindDispatchTimeout      Kind = "dispatch_timeout"
	KindCancelTimeout        Kind = "cancel_timeout"
	KindInvalidSession       Kind = "invalid_session"
	KindCorruptArtifact      Kind = "corrupt_artifact"
	KindValidationFailed     Kind = "validation_failed"
	KindRegistrationRejected Kind = "registration_rejected"
	KindInternal             Kind = "internal"
)

// Error is a kinded error with a trace identifier. User-visible messages
// include the kind and trace ID; the wrapped cause keeps internal context.
type Error struct {
	Kind    Kind
	TraceID string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a kinded error with a fresh trace ID.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, TraceID: uuid.New().String(), Message: msg}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches a kind to an underlying error. A nil cause returns nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, TraceID: uuid.New().String(), Message: msg, Err: err}
}

// KindOf returns the kind carried by err, or KindInternal for untagged
// errors. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// TraceID returns the trace identifier carried by err, if any.
func TraceID(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.TraceID
	}
	return ""
}

func IsNotFound(err error) bool          { return Is(err, KindNotFound) }
func IsConflict(err error) bool          { return Is(err, KindConflict) }
func IsQuotaExceeded(err error) bool     { return Is(err, KindQuotaExceeded) }
func IsCapacityExhausted(err error) bool { return Is(err, KindCapacityExhausted) }
func IsInvalidSession(err error) bool    { return Is(err, KindInvalidSession) }
func IsCorruptArtifact(err error) bool   { return Is(err, KindCorruptArtifact) }
func IsValidation(err error) bool        { return Is(err, KindValidationFailed) }
