package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/user/termharness/internal/pty"
	"github.com/user/termharness/internal/session"
)

type createSessionRequest struct {
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Program string            `json:"program"`
	Args    []string          `json:"args"`
	Dir     string            `json:"dir"`
	Env     map[string]string `json:"env"`
	Cols    uint16            `json:"cols"`
	Rows    uint16            `json:"rows"`
	RawMode bool              `json:"raw_mode"`
}

type inputRequest struct {
	Text string   `json:"text"`
	Keys []string `json:"keys"`
}

type resizeRequest struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

type signalRequest struct {
	Signal string `json:"signal"`
}

type outputResponse struct {
	ID        string         `json:"id"`
	Status    session.Status `json:"status"`
	Output    string         `json:"output"`
	Bytes     int            `json:"bytes"`
	Exhausted bool           `json:"resource_exhausted"`
}

const maxOutputLines = 10000

func (h *handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if strings.TrimSpace(req.Command) != "" && (req.Program != "" || len(req.Args) > 0) {
		jsonError(w, http.StatusBadRequest, "command and program are mutually exclusive")
		return
	}
	cfg, err := req.spawnConfig()
	if err != nil {
		writeError(w, err)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = cfg.Program
	}
	sess, err := h.manager.Launch(r.Context(), session.LaunchRequest{Name: name, Config: cfg})
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusCreated, sess.Info())
}

func (req createSessionRequest) spawnConfig() (pty.SpawnConfig, error) {
	var cfg pty.SpawnConfig
	switch {
	case strings.TrimSpace(req.Command) != "":
		parsed, err := pty.CommandConfig(req.Command)
		if err != nil {
			return cfg, err
		}
		cfg = parsed
	default:
		cfg = pty.SpawnConfig{Program: strings.TrimSpace(req.Program), Args: req.Args}
	}
	cfg.Dir = req.Dir
	cfg.Env = pty.EnvFromMap(req.Env)
	cfg.Size = pty.Size{Cols: req.Cols, Rows: req.Rows}
	cfg.RawMode = req.RawMode
	return cfg, cfg.Validate()
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.manager.List())
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, sess.Info())
}

func (h *handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Destroy(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusNoContent, nil)
}

func (h *handler) sendInput(w http.ResponseWriter, r *http.Request) {
	sess, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req inputRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Text == "" && len(req.Keys) == 0 {
		jsonError(w, http.StatusBadRequest, "text or keys is required")
		return
	}

	written := 0
	if req.Text != "" {
		n, err := sess.Write([]byte(req.Text))
		if err != nil {
			writeError(w, err)
			return
		}
		written += n
	}
	if len(req.Keys) > 0 {
		seq := pty.KeysToBytes(req.Keys)
		n, err := sess.Write(seq)
		if err != nil {
			writeError(w, err)
			return
		}
		written += n
	}
	jsonResponse(w, http.StatusOK, map[string]any{"status": "sent", "bytes": written})
}

func (h *handler) resizeSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req resizeRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := sess.Resize(req.Cols, req.Rows); err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, sess.Info())
}

func (h *handler) signalSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req signalRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sig, ok := pty.ParseSignal(req.Signal)
	if !ok {
		jsonError(w, http.StatusBadRequest, "unknown signal: "+req.Signal)
		return
	}
	if err := sess.Signal(sig); err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"status": "sent", "signal": sig.String()})
}

func (h *handler) getSessionOutput(w http.ResponseWriter, r *http.Request) {
	sess, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	lines := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("lines")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			jsonError(w, http.StatusBadRequest, "lines must be a non-negative integer")
			return
		}
		lines = min(n, maxOutputLines)
	}

	plain := false
	if raw := r.URL.Query().Get("plain"); raw != "" {
		if plain, err = strconv.ParseBool(raw); err != nil {
			jsonError(w, http.StatusBadRequest, "plain must be a boolean")
			return
		}
	}

	out := sess.Output(lines)
	text := string(out)
	if plain {
		text = session.PlainText(out)
	}
	info := sess.Info()
	jsonResponse(w, http.StatusOK, outputResponse{
		ID:        info.ID,
		Status:    info.Status,
		Output:    text,
		Bytes:     len(out),
		Exhausted: info.ResourceExhausted,
	})
}
