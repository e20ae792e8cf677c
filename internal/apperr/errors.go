// Package apperr holds the error taxonomy shared by every tutorchat operation.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	NotAuthenticated   Kind = "not_authenticated"
	Forbidden          Kind = "forbidden"
	NotFound           Kind = "not_found"
	InvalidCommand     Kind = "invalid_command"
	Invalid            Kind = "invalid_request"
	TransportFailure   Kind = "transport_failure"
	InvariantViolation Kind = "invariant_violation"
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, apperr.E(apperr.NotFound, "", nil)) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the taxonomy kind of err. Untyped errors count as transport failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return TransportFailure
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func Retryable(err error) bool {
	return IsKind(err, TransportFailure)
}

// Transport wraps a persistence or subscription failure. Errors that already
// carry a kind pass through untouched.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: TransportFailure, Op: op, Err: fmt.Errorf("timed out: %w", err)}
	}
	return &Error{Kind: TransportFailure, Op: op, Err: err}
}
