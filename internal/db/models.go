package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	RunStatusRunning  = "running"
	RunStatusExited   = "exited"
	RunStatusSignaled = "signaled"
	// RunStatusRejected marks a launch refused by a resource limit.
	RunStatusRejected = "rejected"
	RunStatusFailed   = "failed"
)

type Run struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Program    string    `json:"program"`
	Args       []string  `json:"args"`
	Dir        string    `json:"dir,omitempty"`
	Cols       int       `json:"cols"`
	Rows       int       `json:"rows"`
	RawMode    bool      `json:"raw_mode"`
	PID        int       `json:"pid,omitempty"`
	Status     string    `json:"status"`
	ExitCode   int       `json:"exit_code"`
	SignalName string    `json:"signal_name,omitempty"`
	Error      string    `json:"error,omitempty"`
	TraceBytes uint64    `json:"trace_bytes"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// RunResult is the terminal state written by RunRepo.Finish.
type RunResult struct {
	Status     string
	ExitCode   int
	SignalName string
	Error      string
	TraceBytes uint64
	FinishedAt time.Time
}

type RunFilter struct {
	Status string
	Limit  int
}

type UsageSample struct {
	ID              int64     `json:"id"`
	TraceBytes      uint64    `json:"trace_bytes"`
	OutputBytes     uint64    `json:"output_bytes"`
	ActiveProcesses int       `json:"active_processes"`
	LiveSessions    int       `json:"live_sessions"`
	SampledAt       time.Time `json:"sampled_at"`
}

func NewID() string {
	return uuid.NewString()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		ts = nowUTC()
	}
	return ts.UTC().Format(time.RFC3339Nano)
}

func formatTimestampOrEmpty(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return formatTimestamp(ts)
}

func parseTimestamp(v string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", v, err)
	}
	return ts, nil
}

func parseTimestampOrZero(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return parseTimestamp(v)
}

func encodeStringSlice(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	buf, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to encode string slice: %w", err)
	}
	return string(buf), nil
}

func decodeStringSlice(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("failed to decode string slice: %w", err)
	}
	return values, nil
}

func nullIfEmpty(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
