package pty

import "time"

// Process is one live child attached to a pseudo-terminal. A Process is
// owned by the caller that received it from Spawn; it must not be driven
// from several goroutines without external synchronization.
type Process interface {
	// Write sends input to the child's terminal. It may write fewer bytes
	// than given and fails once the terminal descriptor is closed.
	Write(p []byte) (int, error)

	// Read copies currently available output into p without blocking.
	// It returns 0 and a nil error when nothing is available, including
	// after EOF.
	Read(p []byte) (int, error)

	// IsRunning reports the last observed liveness.
	IsRunning() bool

	// Signal delivers sig to the child.
	Signal(sig Signal) error

	// Resize propagates a window size change to the child's terminal.
	Resize(cols, rows uint16) error

	// Wait blocks until the child exits.
	Wait() (ExitStatus, error)

	// TryWait returns immediately; ok is false while the child runs.
	TryWait() (status ExitStatus, ok bool, err error)

	// Pid is absent once the exit has been observed.
	Pid() (uint32, bool)

	// EOF reports that no further output will be read.
	EOF() bool

	// Close releases the terminal and kills the child if it still runs.
	// It is safe to call more than once.
	Close() error
}

const waitPollInterval = 10 * time.Millisecond

// WaitTimeout polls p.TryWait until the child exits or d elapses, in which
// case a KindTimeout error is returned and the child is left running.
func WaitTimeout(p Process, d time.Duration) (ExitStatus, error) {
	deadline := time.Now().Add(d)
	for {
		status, ok, err := p.TryWait()
		if err != nil {
			return status, err
		}
		if ok {
			return status, nil
		}
		if !time.Now().Before(deadline) {
			return Running, newError(KindTimeout, "wait exceeded "+d.String(), nil)
		}
		time.Sleep(waitPollInterval)
	}
}
