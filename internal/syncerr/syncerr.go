// Package syncerr classifies failures raised by the synchronization layer.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind groups errors by how callers should react to them.
type Kind int

const (
	// KindUnknown is reported for errors that carry no classification.
	KindUnknown Kind = iota
	// KindTransient covers network and stream failures; retried with backoff.
	KindTransient
	// KindInvalidInput covers missing or malformed identifiers and missing auth.
	KindInvalidInput
	// KindIgnored covers debounced or visibility-gated requests. Never shown to users.
	KindIgnored
	// KindParse covers malformed payloads, which are dropped.
	KindParse
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindInvalidInput:
		return "invalid_input"
	case KindIgnored:
		return "ignored"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// Sentinel errors shared across packages.
var (
	ErrInvalidOrderID  = errors.New("invalid order id")
	ErrUnauthenticated = errors.New("not signed in")
	ErrDebounced       = errors.New("request debounced")
	ErrHidden          = errors.New("page hidden")
	ErrConnectionLost  = errors.New("connection lost, please refresh the page")
)

// Error wraps a failure with the operation that produced it and its kind.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap attaches op and kind to err. A nil err stays nil.
func Wrap(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// Transient wraps err as a transient failure.
func Transient(op string, err error) error { return Wrap(op, KindTransient, err) }

// InvalidInput wraps err as an input failure.
func InvalidInput(op string, err error) error { return Wrap(op, KindInvalidInput, err) }

// Ignored wraps err as a silently ignored request.
func Ignored(op string, err error) error { return Wrap(op, KindIgnored, err) }

// Parse wraps err as a payload decoding failure.
func Parse(op string, err error) error { return Wrap(op, KindParse, err) }

// KindOf returns the outermost classification found in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsTransient(err error) bool    { return KindOf(err) == KindTransient }
func IsInvalidInput(err error) bool { return KindOf(err) == KindInvalidInput }
func IsIgnored(err error) bool      { return KindOf(err) == KindIgnored }
func IsParse(err error) bool        { return KindOf(err) == KindParse }
