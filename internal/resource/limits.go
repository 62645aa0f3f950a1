// Package resource bounds what concurrently running sessions may consume:
// recorded trace bytes, screen memory, buffered output and live processes.
package resource

import (
	"errors"
	"fmt"
	"strings"
)

const (
	KB uint64 = 1024
	MB        = 1024 * KB
)

// Limits is a static budget. It is immutable once handed to a Tracker.
type Limits struct {
	MaxTraceBytes          uint64 `json:"max_trace_bytes" yaml:"max_trace_bytes"`
	MaxScreenBytes         uint64 `json:"max_screen_bytes" yaml:"max_screen_bytes"`
	MaxOutputBufferBytes   uint64 `json:"max_output_buffer_bytes" yaml:"max_output_buffer_bytes"`
	MaxConcurrentProcesses uint32 `json:"max_concurrent_processes" yaml:"max_concurrent_processes"`
}

// DefaultLimits is 100MB trace, 10MB screen, 1MB output buffer, 4 processes.
func DefaultLimits() Limits {
	return Limits{
		MaxTraceBytes:          100 * MB,
		MaxScreenBytes:         10 * MB,
		MaxOutputBufferBytes:   1 * MB,
		MaxConcurrentProcesses: 4,
	}
}

// StrictLimits is 10MB trace, 1MB screen, 256KB output buffer, 2 processes.
func StrictLimits() Limits {
	return Limits{
		MaxTraceBytes:          10 * MB,
		MaxScreenBytes:         1 * MB,
		MaxOutputBufferBytes:   256 * KB,
		MaxConcurrentProcesses: 2,
	}
}

// LenientLimits is 500MB trace, 50MB screen, 4MB output buffer, 8 processes.
func LenientLimits() Limits {
	return Limits{
		MaxTraceBytes:          500 * MB,
		MaxScreenBytes:         50 * MB,
		MaxOutputBufferBytes:   4 * MB,
		MaxConcurrentProcesses: 8,
	}
}

// NewLimits builds a custom budget. Sizes are in megabytes.
func NewLimits(traceMB, screenMB, outputMB uint64, processes uint32) Limits {
	return Limits{
		MaxTraceBytes:          traceMB * MB,
		MaxScreenBytes:         screenMB * MB,
		MaxOutputBufferBytes:   outputMB * MB,
		MaxConcurrentProcesses: processes,
	}
}

// LimitsFromPreset resolves "default", "strict" or "lenient".
func LimitsFromPreset(name string) (Limits, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return DefaultLimits(), nil
	case "strict":
		return StrictLimits(), nil
	case "lenient":
		return LenientLimits(), nil
	default:
		return Limits{}, fmt.Errorf("unknown limits preset %q", name)
	}
}

var ErrInvalidLimits = errors.New("invalid resource limits")

// Validate rejects budgets under which nothing could ever run.
func (l Limits) Validate() error {
	if l.MaxConcurrentProcesses == 0 {
		return fmt.Errorf("%w: max_concurrent_processes must be positive", ErrInvalidLimits)
	}
	if l.MaxOutputBufferBytes == 0 {
		return fmt.Errorf("%w: max_output_buffer_bytes must be positive", ErrInvalidLimits)
	}
	return nil
}
