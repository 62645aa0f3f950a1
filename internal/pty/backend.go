// Package pty spawns programs on pseudo-terminals and exposes them through
// a platform-neutral Process interface. One Backend is registered per
// supported OS; NewBackend selects it.
package pty

import (
	"runtime"
	"sort"
	"sync"
)

// Backend creates terminal-attached processes for one platform.
type Backend interface {
	// Name identifies the implementation, e.g. "unix-pty".
	Name() string

	// Spawn launches cfg.Program on a new pseudo-terminal. Failures are
	// *Error values classified as KindPtyAllocation or KindSpawnFailed.
	Spawn(cfg SpawnConfig) (Process, error)

	// Capabilities reports the static feature matrix of the terminal.
	Capabilities() Capabilities
}

type backendFactory func() (Backend, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]backendFactory)
)

// registerBackend is called from the init of each platform's backend file.
func registerBackend(goos string, f backendFactory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[goos] = f
}

// NewBackend returns the backend for the host OS.
func NewBackend() (Backend, error) {
	return NewBackendFor(runtime.GOOS)
}

// NewBackendFor returns the backend registered for goos, or a
// KindUnsupportedPlatform error naming goos.
func NewBackendFor(goos string) (Backend, error) {
	backendsMu.RLock()
	f, ok := backends[goos]
	backendsMu.RUnlock()
	if !ok {
		return nil, &Error{Kind: KindUnsupportedPlatform, OS: goos}
	}
	return f()
}

// SupportedPlatforms lists the GOOS values with a registered backend.
func SupportedPlatforms() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	out := make([]string, 0, len(backends))
	for goos := range backends {
		out = append(out, goos)
	}
	sort.Strings(out)
	return out
}
