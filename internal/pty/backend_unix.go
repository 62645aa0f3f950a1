//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package pty

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"syscall"

	creackpty "github.com/creack/pty"
	"golang.org/x/term"
)

func init() {
	registerBackend(runtime.GOOS, func() (Backend, error) {
		return &unixBackend{logger: slog.Default().With("component", "pty")}, nil
	})
}

// unixBackend allocates a /dev/ptmx pair per process and makes the slave
// the child's controlling terminal.
type unixBackend struct {
	logger *slog.Logger
}

func (b *unixBackend) Name() string { return "unix-pty" }

func (b *unixBackend) Capabilities() Capabilities {
	return Capabilities{
		MouseTracking:      true,
		TrueColor:          true,
		Color256:           true,
		Hyperlinks:         true,
		BracketedPaste:     true,
		FocusReporting:     true,
		SynchronizedOutput: true,
	}
}

func (b *unixBackend) Spawn(cfg SpawnConfig) (Process, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	ptmx, tty, err := creackpty.Open()
	if err != nil {
		return nil, newError(KindPtyAllocation, "open pty", err)
	}
	// The child keeps its own descriptor for the slave once started.
	defer tty.Close()

	if err := creackpty.Setsize(ptmx, &creackpty.Winsize{Cols: cfg.Size.Cols, Rows: cfg.Size.Rows}); err != nil {
		_ = ptmx.Close()
		return nil, newError(KindPtyAllocation, "set initial size", err)
	}

	if cfg.RawMode {
		if _, err := term.MakeRaw(int(tty.Fd())); err != nil {
			_ = ptmx.Close()
			return nil, newError(KindPtyAllocation, "enable raw mode", err)
		}
	}

	cmd := exec.Command(cfg.Program, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = cfg.environ(os.Environ())
	cmd.Stdin = tty
	cmd.Stdout = tty
	cmd.Stderr = tty
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}

	if err := cmd.Start(); err != nil {
		_ = ptmx.Close()
		msg := cfg.Program
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			msg = "program not found: " + cfg.Program
		}
		return nil, newError(KindSpawnFailed, msg, err)
	}

	p := newUnixProcess(cmd, ptmx, b.logger)
	b.logger.Debug("process spawned", "program", cfg.Program, "pid", p.pid, "size", cfg.Size.String(), "raw", cfg.RawMode)
	return p, nil
}
