package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/user/termharness/internal/db"
	"github.com/user/termharness/internal/hub"
	"github.com/user/termharness/internal/pty"
	"github.com/user/termharness/internal/resource"
)

type Status string

const (
	StatusRunning  Status = "running"
	StatusExited   Status = "exited"
	StatusSignaled Status = "signaled"
	StatusFailed   Status = "failed"
)

const (
	readChunkSize    = 32 * 1024
	exitDrainTimeout = time.Second
	// screenCellBytes approximates the memory held per cell by a screen model.
	screenCellBytes = 16
)

// Info is a point-in-time view of a session.
type Info struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Program           string    `json:"program"`
	Args              []string  `json:"args"`
	Dir               string    `json:"dir,omitempty"`
	PID               uint32    `json:"pid,omitempty"`
	Status            Status    `json:"status"`
	ExitCode          int       `json:"exit_code"`
	Signal            string    `json:"signal,omitempty"`
	Error             string    `json:"error,omitempty"`
	Size              pty.Size  `json:"size"`
	RawMode           bool      `json:"raw_mode"`
	ResourceExhausted bool      `json:"resource_exhausted"`
	TraceBytes        uint64    `json:"trace_bytes"`
	BufferedBytes     int       `json:"buffered_bytes"`
	DroppedBytes      uint64    `json:"dropped_bytes"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at,omitempty"`
}

// Session supervises one spawned process. It owns the process guard taken
// at launch plus the trace and output guards for everything it captured.
type Session struct {
	id      string
	name    string
	cfg     pty.SpawnConfig
	tracker *resource.Tracker
	runs    RunStore
	events  Events
	logger  *slog.Logger

	pollInterval time.Duration

	// procMu serializes all calls into proc.
	procMu sync.Mutex
	proc   pty.Process
	pid    uint32

	mu           sync.RWMutex
	size         pty.Size
	status       Status
	exit         pty.ExitStatus
	errText      string
	exhausted    bool
	traceBytes   uint64
	droppedBytes uint64
	startedAt    time.Time
	finishedAt   time.Time
	procGuard    *resource.Guard
	traceGuard   *resource.Guard
	outputGuard  *resource.Guard
	// released is set once the capture guards are returned; later output
	// is dropped.
	released bool

	buffer *ringBuf

	closeOnce sync.Once
	closeCh   chan struct{}
	done      chan struct{}
	onExit    func(*Session)
}

func (s *Session) ID() string { return s.id }

func (s *Session) Name() string { return s.name }

// Done is closed once the process exit has been recorded.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := Info{
		ID:                s.id,
		Name:              s.name,
		Program:           s.cfg.Program,
		Args:              append([]string{}, s.cfg.Args...),
		Dir:               s.cfg.Dir,
		Status:            s.status,
		Error:             s.errText,
		Size:              s.size,
		RawMode:           s.cfg.RawMode,
		ResourceExhausted: s.exhausted,
		TraceBytes:        s.traceBytes,
		BufferedBytes:     s.buffer.Len(),
		DroppedBytes:      s.droppedBytes,
		StartedAt:         s.startedAt,
		FinishedAt:        s.finishedAt,
	}
	if s.status == StatusRunning {
		info.PID = s.pid
	}
	switch s.exit.Kind() {
	case pty.ExitExited:
		info.ExitCode = s.exit.Code()
	case pty.ExitSignaled:
		info.ExitCode = s.exit.Code()
		info.Signal, _ = s.exit.SignalName()
	}
	return info
}

func (s *Session) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status == StatusRunning
}

// Write sends raw input to the process.
func (s *Session) Write(p []byte) (int, error) {
	if !s.Running() {
		return 0, ErrSessionExited
	}
	s.procMu.Lock()
	defer s.procMu.Unlock()
	return s.proc.Write(p)
}

// SendKeys writes the byte sequences of named keys such as "Enter" or "C-c".
func (s *Session) SendKeys(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.Write(pty.KeysToBytes(keys))
	return err
}

// Resize checks the new size against the screen budget before applying it.
func (s *Session) Resize(cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return ErrInvalidSize
	}
	if err := s.tracker.ReserveScreen(screenBytes(cols, rows)); err != nil {
		return err
	}
	s.procMu.Lock()
	err := s.proc.Resize(cols, rows)
	s.procMu.Unlock()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.size = pty.Size{Cols: cols, Rows: rows}
	s.mu.Unlock()
	return nil
}

func (s *Session) Signal(sig pty.Signal) error {
	if !s.Running() {
		return ErrSessionExited
	}
	s.procMu.Lock()
	defer s.procMu.Unlock()
	return s.proc.Signal(sig)
}

// Output drains pending process output and returns the last lines of the
// capture buffer. lines <= 0 returns the whole buffer.
func (s *Session) Output(lines int) []byte {
	s.Poll()
	return s.buffer.Tail(lines)
}

// Poll moves whatever output the process has produced into the capture
// buffer without blocking. It returns the number of bytes read.
func (s *Session) Poll() int {
	s.procMu.Lock()
	defer s.procMu.Unlock()

	total := 0
	buf := make([]byte, readChunkSize)
	for {
		n, err := s.proc.Read(buf)
		if n > 0 {
			total += n
			s.capture(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, pty.ErrClosed) {
				s.logger.Debug("session read failed", "session", s.id, "error", err)
			}
			return total
		}
		if n == 0 {
			return total
		}
	}
}

// capture accounts chunk against the trace and output budgets and stores it.
// Once a budget is exhausted the session stops capturing but the process
// keeps being drained.
func (s *Session) capture(chunk []byte) {
	n := uint64(len(chunk))

	s.mu.Lock()
	if s.released || s.exhausted {
		s.droppedBytes += n
		s.mu.Unlock()
		return
	}

	growth := uint64(s.buffer.Cap() - s.buffer.Len())
	if growth > n {
		growth = n
	}
	var outputGuard *resource.Guard
	if growth > 0 {
		g, err := s.tracker.AddOutput(growth)
		if err != nil {
			s.exhaust(n, err)
			s.mu.Unlock()
			return
		}
		outputGuard = g
	}
	if err := s.reserveTrace(n); err != nil {
		outputGuard.Release()
		s.exhaust(n, err)
		s.mu.Unlock()
		return
	}
	if outputGuard != nil {
		if s.outputGuard == nil {
			s.outputGuard = outputGuard
		} else if err := s.outputGuard.Absorb(outputGuard); err != nil {
			outputGuard.Release()
		}
	}
	s.traceBytes += n
	s.buffer.Write(chunk)
	s.mu.Unlock()

	if s.events != nil {
		s.events.BroadcastOutput(hub.OutputMessage{SessionID: s.id, Text: string(chunk), Bytes: len(chunk)})
	}
}

// reserveTrace grows the session's single trace guard. It must be called
// with s.mu held.
func (s *Session) reserveTrace(n uint64) error {
	if s.traceGuard == nil {
		g, err := s.tracker.AddTraceData(n)
		if err != nil {
			return err
		}
		s.traceGuard = g
		return nil
	}
	return s.traceGuard.Extend(n)
}

// exhaust must be called with s.mu held.
func (s *Session) exhaust(n uint64, err error) {
	s.exhausted = true
	s.droppedBytes += n
	s.logger.Warn("session capture stopped", "session", s.id, "bytes", n, "error", err)
}

func (s *Session) watch(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	stop := ctx.Done()
	closing := s.closeCh
	var exitedAt time.Time
	for {
		select {
		case <-stop:
			stop = nil
			s.kill()
		case <-closing:
			closing = nil
			s.kill()
		case <-ticker.C:
		}

		s.Poll()

		s.procMu.Lock()
		status, exited, err := s.proc.TryWait()
		eof := s.proc.EOF()
		s.procMu.Unlock()
		if err != nil {
			s.kill()
			s.finish(status, err)
			return
		}
		if !exited {
			continue
		}
		if exitedAt.IsZero() {
			exitedAt = time.Now()
		}
		if eof || time.Since(exitedAt) >= exitDrainTimeout {
			s.Poll()
			s.kill()
			s.finish(status, nil)
			return
		}
	}
}

func (s *Session) kill() {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	if err := s.proc.Close(); err != nil {
		s.logger.Debug("session close failed", "session", s.id, "error", err)
	}
}

// finish records the exit and returns the process slot to the tracker.
func (s *Session) finish(exit pty.ExitStatus, waitErr error) {
	s.mu.Lock()
	s.exit = exit
	s.finishedAt = time.Now().UTC()
	switch {
	case waitErr != nil:
		s.status = StatusFailed
		s.errText = waitErr.Error()
	case exit.Kind() == pty.ExitSignaled:
		s.status = StatusSignaled
	default:
		s.status = StatusExited
	}
	procGuard := s.procGuard
	s.procGuard = nil
	s.mu.Unlock()

	procGuard.Release()

	info := s.Info()
	s.logger.Info("session exited", "session", s.id, "pid", s.pid, "status", exit.String(), "bytes", info.TraceBytes)

	if s.runs != nil {
		result := db.RunResult{
			Status:     string(info.Status),
			ExitCode:   info.ExitCode,
			SignalName: info.Signal,
			Error:      info.Error,
			TraceBytes: info.TraceBytes,
			FinishedAt: info.FinishedAt,
		}
		if err := s.runs.Finish(context.Background(), s.id, result); err != nil {
			s.logger.Warn("failed to record run result", "session", s.id, "error", err)
		}
	}
	if s.events != nil {
		s.events.BroadcastSessionExited(hub.SessionExitedMessage{
			SessionID: s.id,
			Status:    string(info.Status),
			ExitCode:  info.ExitCode,
			Signal:    info.Signal,
			Error:     info.Error,
		})
	}
	if s.onExit != nil {
		s.onExit(s)
	}
}

// close kills the process if needed, waits for the exit to be recorded and
// releases every guard the session still holds. If ctx ends first the
// guards are released once the exit is recorded.
func (s *Session) close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		close(s.closeCh)
		go func() {
			<-s.done
			s.releaseCapture()
		}()
	})
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.releaseCapture()
	return nil
}

// releaseCapture is idempotent.
func (s *Session) releaseCapture() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	traceGuard, outputGuard := s.traceGuard, s.outputGuard
	s.traceGuard, s.outputGuard = nil, nil
	s.mu.Unlock()
	resource.ReleaseAll([]*resource.Guard{traceGuard, outputGuard})
	s.buffer.Reset()
}

func screenBytes(cols, rows uint16) uint64 {
	return uint64(cols) * uint64(rows) * screenCellBytes
}
