package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/user/termharness/internal/db"
	"github.com/user/termharness/internal/hub"
	"github.com/user/termharness/internal/pty"
)

type fakeProcess struct {
	mu      sync.Mutex
	pid     uint32
	pending []byte
	written []byte
	signals []pty.Signal
	size    pty.Size
	exit    *pty.ExitStatus
	closed  bool
}

func (p *fakeProcess) emit(data string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, data...)
}

func (p *fakeProcess) exitWith(status pty.ExitStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exit == nil {
		p.exit = &status
	}
}

func (p *fakeProcess) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, pty.ErrClosed
	}
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *fakeProcess) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, pty.ErrClosed
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *fakeProcess) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit == nil
}

func (p *fakeProcess) Signal(sig pty.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exit != nil {
		return pty.ErrProcessExited
	}
	p.signals = append(p.signals, sig)
	if sig == pty.SIGTERM || sig == pty.SIGKILL {
		status := pty.Signaled(sig.Number())
		p.exit = &status
	}
	return nil
}

func (p *fakeProcess) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exit != nil {
		return pty.ErrProcessExited
	}
	p.size = pty.Size{Cols: cols, Rows: rows}
	return nil
}

func (p *fakeProcess) Wait() (pty.ExitStatus, error) {
	for {
		if status, ok, err := p.TryWait(); ok || err != nil {
			return status, err
		}
		time.Sleep(time.Millisecond)
	}
}

func (p *fakeProcess) TryWait() (pty.ExitStatus, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exit == nil {
		return pty.Running, false, nil
	}
	return *p.exit, true, nil
}

func (p *fakeProcess) Pid() (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid, p.exit == nil
}

func (p *fakeProcess) EOF() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed || (p.exit != nil && len(p.pending) == 0)
}

func (p *fakeProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.pending = nil
	if p.exit == nil {
		status := pty.Signaled(pty.SIGKILL.Number())
		p.exit = &status
	}
	return nil
}

func (p *fakeProcess) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakeProcess) input() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.written)
}

type fakeBackend struct {
	mu       sync.Mutex
	procs    []*fakeProcess
	configs  []pty.SpawnConfig
	spawnErr error
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Capabilities() pty.Capabilities { return pty.Capabilities{Color256: true} }

func (b *fakeBackend) Spawn(cfg pty.SpawnConfig) (pty.Process, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.spawnErr != nil {
		return nil, b.spawnErr
	}
	p := &fakeProcess{pid: uint32(1000 + len(b.procs)), size: cfg.Size}
	b.procs = append(b.procs, p)
	b.configs = append(b.configs, cfg)
	return p, nil
}

func (b *fakeBackend) last() *fakeProcess {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.procs[len(b.procs)-1]
}

type fakeRuns struct {
	mu       sync.Mutex
	created  []db.Run
	finished map[string]db.RunResult
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{finished: make(map[string]db.RunResult)}
}

func (r *fakeRuns) Create(_ context.Context, run *db.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, *run)
	return nil
}

func (r *fakeRuns) Finish(_ context.Context, id string, result db.RunResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished[id] = result
	return nil
}

func (r *fakeRuns) result(id string) (db.RunResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.finished[id]
	return res, ok
}

func (r *fakeRuns) statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.created))
	for _, run := range r.created {
		out = append(out, run.Status)
	}
	return out
}

type fakeEvents struct {
	mu       sync.Mutex
	started  []hub.SessionStartedMessage
	output   []hub.OutputMessage
	exited   []hub.SessionExitedMessage
	sessions [][]hub.SessionInfo
	usage    []hub.UsageMessage
}

func (e *fakeEvents) BroadcastSessions(list []hub.SessionInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions = append(e.sessions, list)
}

func (e *fakeEvents) BroadcastSessionStarted(msg hub.SessionStartedMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = append(e.started, msg)
}

func (e *fakeEvents) BroadcastOutput(msg hub.OutputMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.output = append(e.output, msg)
}

func (e *fakeEvents) BroadcastSessionExited(msg hub.SessionExitedMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exited = append(e.exited, msg)
}

func (e *fakeEvents) BroadcastUsage(msg hub.UsageMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.usage = append(e.usage, msg)
}

func (e *fakeEvents) exitedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.exited)
}

func waitFor(t *testing.T, what string, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("session %s did not finish", s.ID())
	}
}
