package execution

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies backend failures.
type Kind string

const (
	KindConfig      Kind = "config"
	KindAuth        Kind = "auth"
	KindUnreachable Kind = "unreachable"
	KindTimeout     Kind = "timeout"
	KindProtocol    Kind = "protocol"
	KindNotFound    Kind = "not_found"
)

// Error is returned by every Backend operation that fails.
type Error struct {
	Kind    Kind
	Op      string // backend operation, e.g. "list_units"
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s error: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == ""
}

// Sentinels for errors.Is.
var (
	ErrConfig      = &Error{Kind: KindConfig}
	ErrAuth        = &Error{Kind: KindAuth}
	ErrUnreachable = &Error{Kind: KindUnreachable}
	ErrTimeout     = &Error{Kind: KindTimeout}
	ErrProtocol    = &Error{Kind: KindProtocol}
	ErrNotFound    = &Error{Kind: KindNotFound}
)

// KindOf returns the Kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// transportError classifies a failed round trip: an expired deadline is a
// timeout, anything else means the service could not be reached.
func transportError(op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return &Error{Kind: KindTimeout, Op: op, Message: "request timed out", Err: err}
	}
	return &Error{Kind: KindUnreachable, Op: op, Message: err.Error(), Err: err}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
