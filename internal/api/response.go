package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/user/termharness/internal/pty"
	"github.com/user/termharness/internal/resource"
	"github.com/user/termharness/internal/session"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	if data == nil || status == http.StatusNoContent {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, errorBody{Error: message})
}

// writeError maps session, resource and terminal errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status, kind := classifyError(err)
	jsonResponse(w, status, errorBody{Error: err.Error(), Kind: kind})
}

func classifyError(err error) (int, string) {
	var limitErr *resource.LimitError
	if errors.As(err, &limitErr) {
		if limitErr.Kind == resource.Process {
			return http.StatusTooManyRequests, "too_many_processes"
		}
		return http.StatusUnprocessableEntity, limitErr.Kind.String() + "_limit_exceeded"
	}

	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, session.ErrSessionExited):
		return http.StatusConflict, "session_exited"
	case errors.Is(err, session.ErrInvalidSize):
		return http.StatusBadRequest, "invalid_size"
	case errors.Is(err, session.ErrManagerClosed):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, pty.ErrEmptyProgram):
		return http.StatusBadRequest, "invalid_command"
	}

	kind, ok := pty.KindOf(err)
	if !ok {
		return http.StatusInternalServerError, ""
	}
	slug := kindSlug.Replace(kind.String())
	switch kind {
	case pty.KindSpawnFailed:
		return http.StatusUnprocessableEntity, slug
	case pty.KindSignalFailed, pty.KindResizeFailed:
		return http.StatusConflict, slug
	case pty.KindPtyAllocation:
		return http.StatusServiceUnavailable, slug
	case pty.KindUnsupportedPlatform:
		return http.StatusNotImplemented, slug
	case pty.KindTimeout:
		return http.StatusGatewayTimeout, slug
	default:
		return http.StatusInternalServerError, slug
	}
}

var kindSlug = strings.NewReplacer(" ", "_", "/", "")
