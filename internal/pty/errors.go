package pty

import (
	"errors"
	"fmt"
)

// Kind classifies a platform failure so callers can branch without
// inspecting OS-specific error text.
type Kind int

const (
	KindPtyAllocation Kind = iota + 1
	KindSpawnFailed
	KindSignalFailed
	KindResizeFailed
	KindWaitFailed
	KindUnsupportedPlatform
	KindIO
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindPtyAllocation:
		return "pty allocation failed"
	case KindSpawnFailed:
		return "spawn failed"
	case KindSignalFailed:
		return "signal failed"
	case KindResizeFailed:
		return "resize failed"
	case KindWaitFailed:
		return "wait failed"
	case KindUnsupportedPlatform:
		return "unsupported platform"
	case KindIO:
		return "i/o error"
	case KindTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Error is returned by every Backend and Process operation.
type Error struct {
	Kind Kind
	// Msg is a short human-readable detail, e.g. the program name.
	Msg string
	// OS is set for KindUnsupportedPlatform.
	OS  string
	Err error
}

func (e *Error) Error() string {
	s := "pty: " + e.Kind.String()
	if e.Kind == KindUnsupportedPlatform && e.OS != "" {
		s += " " + e.OS
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf reports the classification of err if it wraps an *Error.
func KindOf(err error) (Kind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}

// IsKind reports whether err wraps an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Sentinel errors wrapped inside *Error values.
var (
	ErrProcessExited = errors.New("process has exited")
	ErrClosed        = errors.New("terminal is closed")
	ErrEmptyProgram  = errors.New("program must not be empty")
)
