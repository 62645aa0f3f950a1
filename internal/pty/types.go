package pty

import (
	"fmt"
	"sort"
	"strings"
)

const (
	defaultCols = 80
	defaultRows = 24
	defaultTerm = "xterm-256color"
)

// Size is a terminal's dimensions in character cells.
type Size struct {
	Cols uint16 `json:"cols" yaml:"cols"`
	Rows uint16 `json:"rows" yaml:"rows"`
}

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Cols, s.Rows) }

// Capabilities is the feature matrix of a backend's terminal. Invariant
// checks elsewhere use it to skip assertions the terminal can't satisfy.
type Capabilities struct {
	MouseTracking      bool `json:"mouse_tracking"`
	TrueColor          bool `json:"true_color"`
	Color256           bool `json:"color_256"`
	Hyperlinks         bool `json:"hyperlinks"`
	BracketedPaste     bool `json:"bracketed_paste"`
	FocusReporting     bool `json:"focus_reporting"`
	SynchronizedOutput bool `json:"synchronized_output"`
}

// SpawnConfig describes a process to launch. It is consumed by a single
// Backend.Spawn call.
type SpawnConfig struct {
	Program string
	Args    []string
	// Dir is the working directory; empty means the caller's.
	Dir string
	// Env entries ("KEY=VALUE") are appended to the inherited environment
	// and win over inherited values.
	Env  []string
	Size Size
	// RawMode disables line buffering and echo on the child's terminal.
	RawMode bool
}

// Validate reports a KindSpawnFailed error for a config that cannot be launched.
func (c SpawnConfig) Validate() error {
	if strings.TrimSpace(c.Program) == "" {
		return newError(KindSpawnFailed, "invalid config", ErrEmptyProgram)
	}
	for _, kv := range c.Env {
		if !strings.Contains(kv, "=") || strings.HasPrefix(kv, "=") {
			return newError(KindSpawnFailed, fmt.Sprintf("invalid env entry %q", kv), nil)
		}
	}
	return nil
}

// withDefaults fills a zero size with 80x24.
func (c SpawnConfig) withDefaults() SpawnConfig {
	if c.Size.Cols == 0 {
		c.Size.Cols = defaultCols
	}
	if c.Size.Rows == 0 {
		c.Size.Rows = defaultRows
	}
	return c
}

// environ merges base with the config's Env. TERM is set when neither
// provides one.
func (c SpawnConfig) environ(base []string) []string {
	env := make([]string, 0, len(base)+len(c.Env)+1)
	env = append(env, base...)
	env = append(env, c.Env...)
	for _, kv := range env {
		if strings.HasPrefix(kv, "TERM=") {
			return env
		}
	}
	return append(env, "TERM="+defaultTerm)
}

// EnvFromMap converts a scenario-style env mapping into sorted KEY=VALUE entries.
func EnvFromMap(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+m[k])
	}
	return env
}
