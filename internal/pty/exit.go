package pty

import "fmt"

// ExitKind is the variant of an ExitStatus.
type ExitKind uint8

const (
	// ExitRunning means no exit has been observed yet.
	ExitRunning ExitKind = iota
	ExitExited
	ExitSignaled
)

func (k ExitKind) String() string {
	switch k {
	case ExitRunning:
		return "running"
	case ExitExited:
		return "exited"
	case ExitSignaled:
		return "signaled"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// ExitStatus is the outcome of a process. The zero value is Running.
type ExitStatus struct {
	kind ExitKind
	code int
}

// Running is the status of a process that has not exited.
var Running = ExitStatus{}

// Exited returns the status of a process that exited with code.
func Exited(code int) ExitStatus { return ExitStatus{kind: ExitExited, code: code} }

// Signaled returns the status of a process killed by the OS signal number sig.
func Signaled(sig int) ExitStatus { return ExitStatus{kind: ExitSignaled, code: sig} }

func (s ExitStatus) Kind() ExitKind { return s.kind }

// Code is the exit code for Exited, the OS signal number for Signaled and
// 0 for Running.
func (s ExitStatus) Code() int { return s.code }

// Success holds only for Exited(0).
func (s ExitStatus) Success() bool { return s.kind == ExitExited && s.code == 0 }

// SignalName resolves a Signaled status to its portable name. It reports
// false for other variants and for signal numbers this platform doesn't know.
func (s ExitStatus) SignalName() (string, bool) {
	if s.kind != ExitSignaled {
		return "", false
	}
	sig, ok := SignalFromNumber(s.code)
	if !ok {
		return "", false
	}
	return sig.String(), true
}

func (s ExitStatus) String() string {
	switch s.kind {
	case ExitExited:
		return fmt.Sprintf("exited(%d)", s.code)
	case ExitSignaled:
		if name, ok := s.SignalName(); ok {
			return "signaled(" + name + ")"
		}
		return fmt.Sprintf("signaled(%d)", s.code)
	default:
		return "running"
	}
}
