//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package pty

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"

	creackpty "github.com/creack/pty"
	"golang.org/x/sys/unix"
)

const (
	readChunkSize = 4096
	// maxPending bounds output read from the master but not yet consumed.
	// The read pump stalls until Read drains below it.
	maxPending = 1 << 20
)

// unixProcess wraps a child running on the slave side of ptmx.
type unixProcess struct {
	cmd    *exec.Cmd
	ptmx   *os.File
	pid    uint32
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []byte
	eof     bool
	closed  bool

	exited    atomic.Bool
	done      chan struct{}
	status    ExitStatus
	waitErr   error
	closeOnce sync.Once
}

func newUnixProcess(cmd *exec.Cmd, ptmx *os.File, logger *slog.Logger) *unixProcess {
	p := &unixProcess{
		cmd:    cmd,
		ptmx:   ptmx,
		pid:    uint32(cmd.Process.Pid),
		logger: logger,
		done:   make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	go p.readPump()
	go p.waitExit()

	return p
}

// readPump moves output from the master into pending until the slave side
// is gone.
func (p *unixProcess) readPump() {
	buf := make([]byte, readChunkSize)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			p.mu.Lock()
			for len(p.pending) >= maxPending && !p.closed {
				p.cond.Wait()
			}
			if !p.closed {
				p.pending = append(p.pending, buf[:n]...)
			}
			p.mu.Unlock()
		}
		if err != nil {
			if !isTerminalEOF(err) {
				p.logger.Debug("pty read ended", "pid", p.pid, "error", err)
			}
			p.mu.Lock()
			p.eof = true
			p.mu.Unlock()
			return
		}
	}
}

// isTerminalEOF reports errors a master returns once the slave has closed.
// Linux signals this with EIO rather than io.EOF.
func isTerminalEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, unix.EIO) || errors.Is(err, os.ErrClosed)
}

func (p *unixProcess) waitExit() {
	err := p.cmd.Wait()
	p.status, p.waitErr = exitStatusOf(p.cmd.ProcessState, err)
	p.exited.Store(true)
	close(p.done)
	p.logger.Debug("process exited", "pid", p.pid, "status", p.status.String())
}

func exitStatusOf(state *os.ProcessState, err error) (ExitStatus, error) {
	if state == nil {
		return Running, newError(KindWaitFailed, "no process state", err)
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok {
		if ws.Signaled() {
			return Signaled(int(ws.Signal())), nil
		}
		return Exited(ws.ExitStatus()), nil
	}
	return Exited(state.ExitCode()), nil
}

func (p *unixProcess) Write(b []byte) (int, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return 0, newError(KindIO, "write", ErrClosed)
	}

	n, err := p.ptmx.Write(b)
	if err != nil {
		return n, newError(KindIO, "write", err)
	}
	return n, nil
}

func (p *unixProcess) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, newError(KindIO, "read", ErrClosed)
	}
	if len(p.pending) == 0 {
		return 0, nil
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	if len(p.pending) == 0 {
		p.pending = nil
	}
	p.cond.Broadcast()
	return n, nil
}

func (p *unixProcess) IsRunning() bool { return !p.exited.Load() }

func (p *unixProcess) Signal(sig Signal) error {
	num := sig.Number()
	if num == 0 {
		return newError(KindSignalFailed, "unknown signal", nil)
	}
	if p.exited.Load() {
		return newError(KindSignalFailed, sig.String(), ErrProcessExited)
	}
	if err := p.cmd.Process.Signal(unix.Signal(num)); err != nil {
		return newError(KindSignalFailed, sig.String(), err)
	}
	return nil
}

func (p *unixProcess) Resize(cols, rows uint16) error {
	if p.exited.Load() {
		return newError(KindResizeFailed, Size{cols, rows}.String(), ErrProcessExited)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return newError(KindResizeFailed, Size{cols, rows}.String(), ErrClosed)
	}
	if err := creackpty.Setsize(p.ptmx, &creackpty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return newError(KindResizeFailed, Size{cols, rows}.String(), err)
	}
	return nil
}

func (p *unixProcess) Wait() (ExitStatus, error) {
	<-p.done
	return p.status, p.waitErr
}

func (p *unixProcess) TryWait() (ExitStatus, bool, error) {
	select {
	case <-p.done:
		return p.status, true, p.waitErr
	default:
		return Running, false, nil
	}
}

func (p *unixProcess) Pid() (uint32, bool) {
	if p.exited.Load() {
		return 0, false
	}
	return p.pid, true
}

func (p *unixProcess) EOF() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed || (p.eof && len(p.pending) == 0)
}

func (p *unixProcess) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.pending = nil
		p.cond.Broadcast()
		p.mu.Unlock()

		if !p.exited.Load() {
			_ = p.cmd.Process.Kill()
		}
		err = p.ptmx.Close()
	})
	return err
}
