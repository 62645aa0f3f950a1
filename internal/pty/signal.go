package pty

import "strings"

// Signal is a portable signal identity. Its numeric value on the host is
// obtained through Number; the zero value is not a valid signal.
type Signal int

const (
	SIGINT Signal = iota + 1
	SIGTERM
	SIGKILL
	SIGWINCH
	SIGSTOP
	SIGCONT
	SIGHUP
	SIGUSR1
	SIGUSR2
)

var signalNames = map[Signal]string{
	SIGINT:   "SIGINT",
	SIGTERM:  "SIGTERM",
	SIGKILL:  "SIGKILL",
	SIGWINCH: "SIGWINCH",
	SIGSTOP:  "SIGSTOP",
	SIGCONT:  "SIGCONT",
	SIGHUP:   "SIGHUP",
	SIGUSR1:  "SIGUSR1",
	SIGUSR2:  "SIGUSR2",
}

// Signals lists every supported signal.
func Signals() []Signal {
	return []Signal{SIGINT, SIGTERM, SIGKILL, SIGWINCH, SIGSTOP, SIGCONT, SIGHUP, SIGUSR1, SIGUSR2}
}

func (s Signal) String() string {
	if name, ok := signalNames[s]; ok {
		return name
	}
	return "SIG?"
}

// Trappable reports whether a process can install a handler for s.
// SIGKILL and SIGSTOP cannot be caught, blocked or ignored.
func (s Signal) Trappable() bool {
	return s != SIGKILL && s != SIGSTOP
}

// Number returns the host OS numeric value of s, or 0 for an unknown signal.
func (s Signal) Number() int {
	for _, e := range signalTable {
		if e.sig == s {
			return e.num
		}
	}
	return 0
}

// SignalFromNumber maps a host OS signal number back to a portable Signal.
// Unrecognized numbers report false.
func SignalFromNumber(n int) (Signal, bool) {
	for _, e := range signalTable {
		if e.num == n {
			return e.sig, true
		}
	}
	return 0, false
}

// ParseSignal resolves a portable name. "SIGINT", "sigint", "INT" and "int"
// all name the same signal.
func ParseSignal(name string) (Signal, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return 0, false
	}
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	for sig, n := range signalNames {
		if n == name {
			return sig, true
		}
	}
	return 0, false
}

type signalEntry struct {
	sig Signal
	num int
}
