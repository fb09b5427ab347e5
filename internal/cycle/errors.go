package cycle

import (
	"errors"
	"fmt"
)

// Kind classifies errors by how callers should react to them.
type Kind int

const (
	// KindTransient covers network failures, timeouts and 5xx responses.
	// Safe to retry.
	KindTransient Kind = iota
	// KindValidation means the request was rejected as invalid.
	KindValidation
	// KindConflict means the remote reported the command had no effect,
	// usually because the session was already in the target state.
	KindConflict
	// KindFatalConfig means the session cannot start with this configuration.
	KindFatalConfig
)

var kindNames = map[Kind]string{
	KindTransient:   "transient",
	KindValidation:  "validation",
	KindConflict:    "conflict",
	KindFatalConfig: "fatal config",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified domain error.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s error: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable I/O failure.
func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// Validation returns a rejected-input error.
func Validation(op, message string) error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

// Conflict returns a no-effect error.
func Conflict(op, message string) error {
	return &Error{Kind: KindConflict, Op: op, Message: message}
}

// FatalConfig returns an unrecoverable configuration error.
func FatalConfig(op, message string) error {
	return &Error{Kind: KindFatalConfig, Op: op, Message: message}
}

// KindOf returns the kind of the first *Error in err's chain. Unclassified
// errors are treated as transient.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

func isKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// IsTransient checks if an error is a classified transient failure.
func IsTransient(err error) bool { return isKind(err, KindTransient) }

// IsValidation checks if an error is a validation failure.
func IsValidation(err error) bool { return isKind(err, KindValidation) }

// IsConflict checks if an error reports a no-effect command.
func IsConflict(err error) bool { return isKind(err, KindConflict) }

// IsFatalConfig checks if an error is a fatal configuration error.
func IsFatalConfig(err error) bool { return isKind(err, KindFatalConfig) }

var (
	// ErrNotStarted is returned by commands issued before a session exists.
	ErrNotStarted = errors.New("session not started")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("session already started")
)
