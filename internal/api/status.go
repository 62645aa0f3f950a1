package api

import (
	"net/http"
	"runtime"
	"strconv"
	"strings"

	"github.com/user/termharness/internal/db"
	"github.com/user/termharness/internal/pty"
	"github.com/user/termharness/internal/resource"
)

type usageResponse struct {
	Usage          resource.Usage    `json:"usage"`
	Summary        string            `json:"summary"`
	Limits         resource.Limits   `json:"limits"`
	CompareAndSwap bool              `json:"compare_and_swap"`
	LiveSessions   int               `json:"live_sessions"`
	History        []*db.UsageSample `json:"history,omitempty"`
}

type capabilitiesResponse struct {
	Backend      string           `json:"backend"`
	OS           string           `json:"os"`
	Platforms    []string         `json:"platforms"`
	Capabilities pty.Capabilities `json:"capabilities"`
	Signals      []string         `json:"signals"`
}

func (h *handler) getUsage(w http.ResponseWriter, r *http.Request) {
	tracker := h.manager.Tracker()
	usage := tracker.CurrentUsage()
	resp := usageResponse{
		Usage:          usage,
		Summary:        usage.String(),
		Limits:         tracker.Limits(),
		CompareAndSwap: tracker.CompareAndSwap(),
		LiveSessions:   h.manager.LiveCount(),
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("history")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			jsonError(w, http.StatusBadRequest, "history must be a positive integer")
			return
		}
		if h.usageRepo == nil {
			jsonError(w, http.StatusServiceUnavailable, "usage history unavailable")
			return
		}
		history, err := h.usageRepo.ListRecent(r.Context(), n)
		if err != nil {
			jsonError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.History = history
	}
	jsonResponse(w, http.StatusOK, resp)
}

func (h *handler) getCapabilities(w http.ResponseWriter, r *http.Request) {
	backend := h.manager.Backend()
	signals := make([]string, 0, len(pty.Signals()))
	for _, sig := range pty.Signals() {
		signals = append(signals, sig.String())
	}
	jsonResponse(w, http.StatusOK, capabilitiesResponse{
		Backend:      backend.Name(),
		OS:           runtime.GOOS,
		Platforms:    pty.SupportedPlatforms(),
		Capabilities: backend.Capabilities(),
		Signals:      signals,
	})
}

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.runRepo == nil {
		jsonError(w, http.StatusServiceUnavailable, "run history unavailable")
		return
	}
	filter := db.RunFilter{Status: strings.TrimSpace(r.URL.Query().Get("status")), Limit: 100}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			jsonError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	runs, err := h.runRepo.List(r.Context(), filter)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, runs)
}

func (h *handler) getRun(w http.ResponseWriter, r *http.Request) {
	if h.runRepo == nil {
		jsonError(w, http.StatusServiceUnavailable, "run history unavailable")
		return
	}
	run, err := h.runRepo.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if run == nil {
		jsonError(w, http.StatusNotFound, "run not found")
		return
	}
	jsonResponse(w, http.StatusOK, run)
}
