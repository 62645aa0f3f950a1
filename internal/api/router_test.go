package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/user/termharness/internal/db"
	"github.com/user/termharness/internal/pty"
	"github.com/user/termharness/internal/resource"
	"github.com/user/termharness/internal/session"
)

type stubProcess struct {
	mu      sync.Mutex
	pending []byte
	written []byte
	exit    *pty.ExitStatus
	closed  bool
}

func (p *stubProcess) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, b...)
	// Echo like a cooked terminal.
	p.pending = append(p.pending, b...)
	return len(b), nil
}

func (p *stubProcess) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, pty.ErrClosed
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *stubProcess) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit == nil
}

func (p *stubProcess) Signal(sig pty.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sig == pty.SIGTERM || sig == pty.SIGKILL {
		status := pty.Signaled(sig.Number())
		p.exit = &status
	}
	return nil
}

func (p *stubProcess) Resize(cols, rows uint16) error { return nil }

func (p *stubProcess) Wait() (pty.ExitStatus, error) {
	for {
		if status, ok, _ := p.TryWait(); ok {
			return status, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (p *stubProcess) TryWait() (pty.ExitStatus, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exit == nil {
		return pty.Running, false, nil
	}
	return *p.exit, true, nil
}

func (p *stubProcess) Pid() (uint32, bool) { return 4242, p.IsRunning() }

func (p *stubProcess) EOF() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed || (p.exit != nil && len(p.pending) == 0)
}

func (p *stubProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.exit == nil {
		status := pty.Signaled(pty.SIGKILL.Number())
		p.exit = &status
	}
	return nil
}

type stubBackend struct {
	mu       sync.Mutex
	spawned  []pty.SpawnConfig
	spawnErr error
}

func (b *stubBackend) Name() string { return "stub" }

func (b *stubBackend) Capabilities() pty.Capabilities {
	return pty.Capabilities{TrueColor: true, Color256: true}
}

func (b *stubBackend) Spawn(cfg pty.SpawnConfig) (pty.Process, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.spawnErr != nil {
		return nil, b.spawnErr
	}
	b.spawned = append(b.spawned, cfg)
	return &stubProcess{}, nil
}

type testAPI struct {
	handler http.Handler
	manager *session.Manager
	backend *stubBackend
	db      *db.DB
}

func openAPI(t *testing.T, limits resource.Limits) *testAPI {
	t.Helper()
	database, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	backend := &stubBackend{}
	manager, err := session.NewManager(session.ManagerConfig{
		Backend:      backend,
		Tracker:      resource.NewTracker(limits),
		Runs:         database.Runs(),
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		PollInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close(context.Background()) })

	return &testAPI{
		handler: NewRouter(manager, database, "test-token"),
		manager: manager,
		backend: backend,
		db:      database,
	}
}

func apiRequest(t *testing.T, h http.Handler, method, path string, body any, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer test-token")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if rr.Body.Len() == 0 {
		return
	}
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode body: %v body=%s", err, rr.Body.String())
	}
}

func createSession(t *testing.T, a *testAPI, body map[string]any) session.Info {
	t.Helper()
	rr := apiRequest(t, a.handler, http.MethodPost, "/api/sessions", body, true)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create session status=%d body=%s", rr.Code, rr.Body.String())
	}
	var info session.Info
	decodeBody(t, rr, &info)
	return info
}

func TestAuthMiddleware(t *testing.T) {
	a := openAPI(t, resource.DefaultLimits())

	unauth := apiRequest(t, a.handler, http.MethodGet, "/api/sessions", nil, false)
	if unauth.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d want %d", unauth.Code, http.StatusUnauthorized)
	}
	wrong := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	wrong.Header.Set("Authorization", "Bearer wrong-token")
	wrongRR := httptest.NewRecorder()
	a.handler.ServeHTTP(wrongRR, wrong)
	if wrongRR.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status=%d want %d", wrongRR.Code, http.StatusUnauthorized)
	}
	auth := apiRequest(t, a.handler, http.MethodGet, "/api/sessions", nil, true)
	if auth.Code != http.StatusOK {
		t.Fatalf("status=%d want %d", auth.Code, http.StatusOK)
	}
	query := apiRequest(t, a.handler, http.MethodGet, "/api/sessions?token=test-token", nil, false)
	if query.Code != http.StatusOK {
		t.Fatalf("query token status=%d want %d", query.Code, http.StatusOK)
	}
	preflight := apiRequest(t, a.handler, http.MethodOptions, "/api/sessions", nil, false)
	if preflight.Code != http.StatusNoContent {
		t.Fatalf("preflight status=%d want %d", preflight.Code, http.StatusNoContent)
	}
}

func TestSessionLifecycle(t *testing.T) {
	a := openAPI(t, resource.DefaultLimits())

	info := createSession(t, a, map[string]any{
		"name":    "shell",
		"command": "sh -i",
		"env":     map[string]string{"FOO": "bar"},
		"cols":    100,
		"rows":    30,
	})
	if info.Name != "shell" || info.Program != "sh" || info.Status != session.StatusRunning {
		t.Fatalf("unexpected session: %+v", info)
	}
	spawned := a.backend.spawned[0]
	if spawned.Size != (pty.Size{Cols: 100, Rows: 30}) || len(spawned.Env) != 1 || spawned.Env[0] != "FOO=bar" {
		t.Fatalf("spawn config = %+v", spawned)
	}

	base := "/api/sessions/" + info.ID

	rr := apiRequest(t, a.handler, http.MethodPost, base+"/input", map[string]any{"text": "echo hi", "keys": []string{"Enter"}}, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("input status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = apiRequest(t, a.handler, http.MethodGet, base+"/output?lines=5", nil, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("output status=%d body=%s", rr.Code, rr.Body.String())
	}
	var out outputResponse
	decodeBody(t, rr, &out)
	if out.Output != "echo hi\r" {
		t.Fatalf("output = %q", out.Output)
	}

	rr = apiRequest(t, a.handler, http.MethodGet, base+"/output?plain=true", nil, true)
	decodeBody(t, rr, &out)
	if out.Output != "echo hi" || out.Bytes != len("echo hi\r") {
		t.Fatalf("plain output = %q (%d bytes)", out.Output, out.Bytes)
	}

	rr = apiRequest(t, a.handler, http.MethodPost, base+"/resize", map[string]any{"cols": 120, "rows": 40}, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("resize status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resized session.Info
	decodeBody(t, rr, &resized)
	if resized.Size != (pty.Size{Cols: 120, Rows: 40}) {
		t.Fatalf("size after resize = %v", resized.Size)
	}

	rr = apiRequest(t, a.handler, http.MethodGet, "/api/sessions", nil, true)
	var list []session.Info
	decodeBody(t, rr, &list)
	if len(list) != 1 || list[0].ID != info.ID {
		t.Fatalf("list = %+v", list)
	}

	rr = apiRequest(t, a.handler, http.MethodPost, base+"/signal", map[string]any{"signal": "term"}, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("signal status=%d body=%s", rr.Code, rr.Body.String())
	}
	sess, err := a.manager.Get(info.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not exit after SIGTERM")
	}

	rr = apiRequest(t, a.handler, http.MethodGet, base, nil, true)
	var exited session.Info
	decodeBody(t, rr, &exited)
	if exited.Status != session.StatusSignaled || exited.Signal != "SIGTERM" {
		t.Fatalf("session after signal = %+v", exited)
	}

	rr = apiRequest(t, a.handler, http.MethodPost, base+"/input", map[string]any{"text": "x"}, true)
	if rr.Code != http.StatusConflict {
		t.Fatalf("input after exit status=%d want %d", rr.Code, http.StatusConflict)
	}

	rr = apiRequest(t, a.handler, http.MethodDelete, base, nil, true)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d body=%s", rr.Code, rr.Body.String())
	}
	rr = apiRequest(t, a.handler, http.MethodGet, base, nil, true)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete status=%d want %d", rr.Code, http.StatusNotFound)
	}

	rr = apiRequest(t, a.handler, http.MethodGet, "/api/runs?status=signaled", nil, true)
	var runs []db.Run
	decodeBody(t, rr, &runs)
	if len(runs) != 1 || runs[0].ID != info.ID || runs[0].SignalName != "SIGTERM" {
		t.Fatalf("runs = %+v", runs)
	}
	rr = apiRequest(t, a.handler, http.MethodGet, "/api/runs/"+info.ID, nil, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("get run status=%d", rr.Code)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	a := openAPI(t, resource.DefaultLimits())

	tests := []struct {
		name string
		body any
		want int
	}{
		{"empty", map[string]any{}, http.StatusBadRequest},
		{"unknown field", map[string]any{"program": "sh", "bogus": 1}, http.StatusBadRequest},
		{"command and program", map[string]any{"command": "ls", "program": "ls"}, http.StatusBadRequest},
		{"bad env", map[string]any{"program": "sh", "env": map[string]string{"": "x"}}, http.StatusUnprocessableEntity},
		{"unbalanced quotes", map[string]any{"command": "echo 'oops"}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := apiRequest(t, a.handler, http.MethodPost, "/api/sessions", tt.body, true)
			if rr.Code != tt.want {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
	if len(a.backend.spawned) != 0 {
		t.Fatalf("invalid requests spawned %d processes", len(a.backend.spawned))
	}
}

func TestCreateSessionTooManyProcesses(t *testing.T) {
	a := openAPI(t, resource.NewLimits(1, 1, 1, 1))
	createSession(t, a, map[string]any{"program": "sh"})

	rr := apiRequest(t, a.handler, http.MethodPost, "/api/sessions", map[string]any{"program": "sh"}, true)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d want %d body=%s", rr.Code, http.StatusTooManyRequests, rr.Body.String())
	}
	var body errorBody
	decodeBody(t, rr, &body)
	if body.Kind != "too_many_processes" {
		t.Fatalf("kind = %q", body.Kind)
	}

	rr = apiRequest(t, a.handler, http.MethodGet, "/api/runs?status=rejected", nil, true)
	var runs []db.Run
	decodeBody(t, rr, &runs)
	if len(runs) != 1 {
		t.Fatalf("rejected runs = %d, want 1", len(runs))
	}
}

func TestCreateSessionSpawnFailure(t *testing.T) {
	a := openAPI(t, resource.DefaultLimits())
	a.backend.spawnErr = &pty.Error{Kind: pty.KindSpawnFailed, Msg: "program not found: nope"}

	rr := apiRequest(t, a.handler, http.MethodPost, "/api/sessions", map[string]any{"program": "nope"}, true)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d want %d", rr.Code, http.StatusUnprocessableEntity)
	}
	var body errorBody
	decodeBody(t, rr, &body)
	if body.Kind != "spawn_failed" {
		t.Fatalf("kind = %q", body.Kind)
	}
}

func TestSignalAndOutputValidation(t *testing.T) {
	a := openAPI(t, resource.DefaultLimits())
	info := createSession(t, a, map[string]any{"program": "sh"})
	base := "/api/sessions/" + info.ID

	rr := apiRequest(t, a.handler, http.MethodPost, base+"/signal", map[string]any{"signal": "SIGBOGUS"}, true)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bogus signal status=%d", rr.Code)
	}
	rr = apiRequest(t, a.handler, http.MethodGet, base+"/output?lines=-1", nil, true)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("negative lines status=%d", rr.Code)
	}
	rr = apiRequest(t, a.handler, http.MethodGet, base+"/output?plain=maybe", nil, true)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad plain status=%d", rr.Code)
	}
	rr = apiRequest(t, a.handler, http.MethodPost, base+"/resize", map[string]any{"cols": 0, "rows": 10}, true)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("zero resize status=%d", rr.Code)
	}
	rr = apiRequest(t, a.handler, http.MethodPost, base+"/input", map[string]any{}, true)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty input status=%d", rr.Code)
	}
	rr = apiRequest(t, a.handler, http.MethodPost, "/api/sessions/missing/signal", map[string]any{"signal": "INT"}, true)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing session status=%d", rr.Code)
	}
}

func TestUsageAndCapabilities(t *testing.T) {
	a := openAPI(t, resource.DefaultLimits())
	createSession(t, a, map[string]any{"program": "sh"})

	if err := a.db.Usage().Insert(context.Background(), &db.UsageSample{ActiveProcesses: 1, LiveSessions: 1}); err != nil {
		t.Fatalf("insert usage sample: %v", err)
	}

	rr := apiRequest(t, a.handler, http.MethodGet, "/api/usage?history=5", nil, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("usage status=%d body=%s", rr.Code, rr.Body.String())
	}
	var usage usageResponse
	decodeBody(t, rr, &usage)
	if usage.Usage.ActiveProcesses != 1 || usage.LiveSessions != 1 {
		t.Fatalf("usage = %+v", usage)
	}
	if usage.Limits != resource.DefaultLimits() {
		t.Fatalf("limits = %+v", usage.Limits)
	}
	if len(usage.History) != 1 {
		t.Fatalf("history = %+v", usage.History)
	}

	rr = apiRequest(t, a.handler, http.MethodGet, "/api/capabilities", nil, true)
	var caps capabilitiesResponse
	decodeBody(t, rr, &caps)
	if caps.Backend != "stub" || !caps.Capabilities.TrueColor || len(caps.Signals) != 9 {
		t.Fatalf("capabilities = %+v", caps)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{resource.ErrTooManyProcesses, http.StatusTooManyRequests},
		{fmt.Errorf("launch: %w", resource.ErrScreenSizeExceeded), http.StatusUnprocessableEntity},
		{session.ErrSessionNotFound, http.StatusNotFound},
		{session.ErrSessionExited, http.StatusConflict},
		{session.ErrManagerClosed, http.StatusServiceUnavailable},
		{&pty.Error{Kind: pty.KindPtyAllocation}, http.StatusServiceUnavailable},
		{&pty.Error{Kind: pty.KindUnsupportedPlatform, OS: "plan9"}, http.StatusNotImplemented},
		{&pty.Error{Kind: pty.KindResizeFailed}, http.StatusConflict},
		{&pty.Error{Kind: pty.KindSpawnFailed, Err: pty.ErrEmptyProgram}, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := classifyError(tt.err); got != tt.want {
			t.Errorf("classifyError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
