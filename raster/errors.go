package raster

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies why a transport call failed. Every code is
// terminal: the engine does not retry a failed frame.
type Code int

const (
	CodeUnknown     Code = iota // unclassified transport failure
	CodeDenied                  // the rasterizer host refused the capture
	CodeTimeout                 // the call exceeded its deadline
	CodeUnavailable             // no rasterizer is attached
)

func (c Code) String() string {
	switch c {
	case CodeDenied:
		return "denied"
	case CodeTimeout:
		return "timeout"
	case CodeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error is a classified transport failure.
type Error struct {
	Code Code
	Op   string // the transport call that failed
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("raster: %s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("raster: %s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap classifies err as a transport failure of op. Deadline and
// cancellation errors become CodeTimeout; an existing *Error keeps
// its code. A nil err returns nil.
func Wrap(op string, code Code, err error) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return &Error{Code: re.Code, Op: op, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		code = CodeTimeout
	}
	return &Error{Code: code, Op: op, Err: err}
}

func is(err error, code Code) bool {
	var re *Error
	return errors.As(err, &re) && re.Code == code
}

// IsDenied reports whether err is a capture refusal.
func IsDenied(err error) bool { return is(err, CodeDenied) }

// IsTimeout reports whether err is a transport timeout.
func IsTimeout(err error) bool { return is(err, CodeTimeout) }

// IsUnavailable reports whether err means no rasterizer is attached.
func IsUnavailable(err error) bool { return is(err, CodeUnavailable) }
