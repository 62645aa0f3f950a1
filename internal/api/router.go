// Package api serves the JSON control API for terminal sessions.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/user/termharness/internal/db"
	"github.com/user/termharness/internal/pty"
	"github.com/user/termharness/internal/resource"
	"github.com/user/termharness/internal/session"
)

// sessionManager is the part of *session.Manager the API drives.
type sessionManager interface {
	Launch(ctx context.Context, req session.LaunchRequest) (*session.Session, error)
	Get(id string) (*session.Session, error)
	List() []session.Info
	LiveCount() int
	Destroy(ctx context.Context, id string) error
	Tracker() *resource.Tracker
	Backend() pty.Backend
}

type handler struct {
	manager   sessionManager
	runRepo   *db.RunRepo
	usageRepo *db.UsageRepo
}

// NewRouter mounts the API. database may be nil, in which case the history
// endpoints answer 503.
func NewRouter(manager sessionManager, database *db.DB, token string) http.Handler {
	h := &handler{manager: manager}
	if database != nil {
		h.runRepo = database.Runs()
		h.usageRepo = database.Usage()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", h.createSession)
	mux.HandleFunc("GET /api/sessions", h.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}", h.getSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.deleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/input", h.sendInput)
	mux.HandleFunc("POST /api/sessions/{id}/resize", h.resizeSession)
	mux.HandleFunc("POST /api/sessions/{id}/signal", h.signalSession)
	mux.HandleFunc("GET /api/sessions/{id}/output", h.getSessionOutput)

	mux.HandleFunc("GET /api/usage", h.getUsage)
	mux.HandleFunc("GET /api/capabilities", h.getCapabilities)
	mux.HandleFunc("GET /api/runs", h.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", h.getRun)

	return authMiddleware(token)(jsonMiddleware(corsMiddleware(mux)))
}

func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				if strings.TrimSpace(authHeader[7:]) == token {
					next.ServeHTTP(w, r)
					return
				}
			}

			if r.URL.Query().Get("token") == token {
				next.ServeHTTP(w, r)
				return
			}

			jsonError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return io.ErrUnexpectedEOF
	}
	return nil
}
