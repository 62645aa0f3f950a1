// Package session supervises terminal processes: it takes a process slot
// from the resource tracker, spawns through a pty backend, captures output
// against the trace and output budgets and records each run.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/user/termharness/internal/db"
	"github.com/user/termharness/internal/hub"
	"github.com/user/termharness/internal/pty"
	"github.com/user/termharness/internal/resource"
)

const (
	defaultPollInterval = 50 * time.Millisecond
	defaultCaptureBytes = 64 * 1024
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExited   = errors.New("session has exited")
	ErrManagerClosed   = errors.New("session manager closed")
	ErrInvalidSize     = errors.New("terminal size must be non-zero")
)

// RunStore persists run records. *db.RunRepo implements it.
type RunStore interface {
	Create(ctx context.Context, run *db.Run) error
	Finish(ctx context.Context, id string, result db.RunResult) error
}

// Events receives session lifecycle notifications. *hub.Hub implements it.
type Events interface {
	BroadcastSessions(list []hub.SessionInfo)
	BroadcastSessionStarted(msg hub.SessionStartedMessage)
	BroadcastOutput(msg hub.OutputMessage)
	BroadcastSessionExited(msg hub.SessionExitedMessage)
}

type ManagerConfig struct {
	Backend pty.Backend
	Tracker *resource.Tracker
	// Runs and Events are optional.
	Runs   RunStore
	Events Events
	Logger *slog.Logger

	// DefaultSize applies to launches that leave Size zero.
	DefaultSize  pty.Size
	CaptureBytes int
	PollInterval time.Duration
}

// LaunchRequest names a spawn configuration.
type LaunchRequest struct {
	Name   string
	Config pty.SpawnConfig
}

type Manager struct {
	backend pty.Backend
	tracker *resource.Tracker
	runs    RunStore
	events  Events
	logger  *slog.Logger

	defaultSize  pty.Size
	captureBytes int
	pollInterval time.Duration

	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
	closed   bool
	sessions map[string]*Session
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("session manager requires a backend")
	}
	if cfg.Tracker == nil {
		return nil, fmt.Errorf("session manager requires a resource tracker")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.DefaultSize
	if size.Cols == 0 || size.Rows == 0 {
		size = pty.Size{Cols: 80, Rows: 24}
	}
	capture := cfg.CaptureBytes
	if capture <= 0 {
		capture = defaultCaptureBytes
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		backend:      cfg.Backend,
		tracker:      cfg.Tracker,
		runs:         cfg.Runs,
		events:       cfg.Events,
		logger:       logger,
		defaultSize:  size,
		captureBytes: capture,
		pollInterval: poll,
		ctx:          ctx,
		cancel:       cancel,
		sessions:     make(map[string]*Session),
	}, nil
}

func (m *Manager) Backend() pty.Backend { return m.backend }

func (m *Manager) Tracker() *resource.Tracker { return m.tracker }

// Launch reserves a process slot, spawns req.Config and starts supervising
// the process. Resource refusals are returned as *resource.LimitError and
// spawn failures as *pty.Error; both are recorded as rejected or failed runs.
func (m *Manager) Launch(ctx context.Context, req LaunchRequest) (*Session, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrManagerClosed
	}

	cfg := req.Config
	if cfg.Size.Cols == 0 || cfg.Size.Rows == 0 {
		cfg.Size = m.defaultSize
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id := db.NewID()
	run := &db.Run{
		ID:      id,
		Name:    req.Name,
		Program: cfg.Program,
		Args:    cfg.Args,
		Dir:     cfg.Dir,
		Cols:    int(cfg.Size.Cols),
		Rows:    int(cfg.Size.Rows),
		RawMode: cfg.RawMode,
	}

	procGuard, err := m.tracker.StartProcess()
	if err != nil {
		m.recordRefusal(ctx, run, db.RunStatusRejected, err)
		return nil, fmt.Errorf("launch %s: %w", cfg.Program, err)
	}
	if err := m.tracker.ReserveScreen(screenBytes(cfg.Size.Cols, cfg.Size.Rows)); err != nil {
		procGuard.Release()
		m.recordRefusal(ctx, run, db.RunStatusRejected, err)
		return nil, fmt.Errorf("launch %s: %w", cfg.Program, err)
	}

	proc, err := m.backend.Spawn(cfg)
	if err != nil {
		procGuard.Release()
		m.recordRefusal(ctx, run, db.RunStatusFailed, err)
		return nil, fmt.Errorf("launch %s: %w", cfg.Program, err)
	}
	pid, _ := proc.Pid()

	s := &Session{
		id:           id,
		name:         req.Name,
		cfg:          cfg,
		tracker:      m.tracker,
		runs:         m.runs,
		events:       m.events,
		logger:       m.logger,
		pollInterval: m.pollInterval,
		proc:         proc,
		pid:          pid,
		size:         cfg.Size,
		status:       StatusRunning,
		startedAt:    time.Now().UTC(),
		procGuard:    procGuard,
		buffer:       newRingBuf(m.captureBytes),
		closeCh:      make(chan struct{}),
		done:         make(chan struct{}),
		onExit:       func(*Session) { m.publishSessions() },
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = proc.Close()
		procGuard.Release()
		return nil, ErrManagerClosed
	}
	m.sessions[id] = s
	watchCtx := m.ctx
	m.mu.Unlock()

	if m.runs != nil {
		run.PID = int(pid)
		run.StartedAt = s.startedAt
		run.Status = db.RunStatusRunning
		if err := m.runs.Create(ctx, run); err != nil {
			m.logger.Warn("failed to record run", "session", id, "error", err)
		}
	}
	m.logger.Info("session started", "session", id, "pid", pid, "program", cfg.Program, "size", cfg.Size.String())

	if m.events != nil {
		m.events.BroadcastSessionStarted(hub.SessionStartedMessage{
			SessionID: id,
			Name:      req.Name,
			Program:   cfg.Program,
			PID:       pid,
			Cols:      cfg.Size.Cols,
			Rows:      cfg.Size.Rows,
		})
	}
	m.publishSessions()

	go s.watch(watchCtx)
	return s, nil
}

func (m *Manager) recordRefusal(ctx context.Context, run *db.Run, status string, cause error) {
	m.logger.Warn("session launch refused", "program", run.Program, "status", status, "error", cause)
	if m.runs == nil {
		return
	}
	now := time.Now().UTC()
	run.Status = status
	run.Error = cause.Error()
	run.StartedAt = now
	run.FinishedAt = now
	if err := m.runs.Create(ctx, run); err != nil {
		m.logger.Warn("failed to record refused run", "program", run.Program, "error", err)
	}
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns session snapshots ordered by start time.
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].StartedAt.Equal(infos[j].StartedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// LiveCount is the number of sessions whose process is still running.
func (m *Manager) LiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sessions {
		if s.Running() {
			n++
		}
	}
	return n
}

// HandleInput writes text followed by named keys to a session. It has the
// shape of hub.InputFunc.
func (m *Manager) HandleInput(sessionID string, text string, keys []string) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	if text != "" {
		if _, err := s.Write([]byte(text)); err != nil {
			return err
		}
	}
	return s.SendKeys(keys)
}

// Destroy kills the session's process if it still runs, waits for its exit
// and releases everything the session held. If ctx ends first Destroy
// returns its error and the release completes once the exit is recorded.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	err := s.close(ctx)
	m.publishSessions()
	if err != nil {
		return fmt.Errorf("destroy session %s: %w", id, err)
	}
	m.logger.Info("session destroyed", "session", id)
	return nil
}

// Close destroys every session and refuses further launches.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := m.Destroy(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	m.cancel()
	return errors.Join(errs...)
}

func (m *Manager) publishSessions() {
	if m.events == nil {
		return
	}
	infos := m.List()
	list := make([]hub.SessionInfo, 0, len(infos))
	for _, info := range infos {
		list = append(list, hub.SessionInfo{
			ID:      info.ID,
			Name:    info.Name,
			Program: info.Program,
			PID:     info.PID,
			Status:  string(info.Status),
		})
	}
	m.events.BroadcastSessions(list)
}
