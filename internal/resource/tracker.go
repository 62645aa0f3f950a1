package resource

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

// counter is a lock-free usage counter.
type counter struct {
	v atomic.Uint64
}

// reserve adds n if the result stays within limit. In the default mode the
// check and the add are separate atomic steps, so concurrent reservations
// can both pass the check and briefly push the counter over limit. With
// cas set the check and add happen in one compare-and-swap.
func (c *counter) reserve(n, limit uint64, cas bool) (current uint64, ok bool) {
	for {
		cur := c.v.Load()
		if !fits(cur, n, limit) {
			return cur, false
		}
		if !cas {
			c.v.Add(n)
			return cur, true
		}
		if c.v.CompareAndSwap(cur, cur+n) {
			return cur, true
		}
	}
}

// release subtracts n, saturating at zero.
func (c *counter) release(n uint64) {
	for {
		cur := c.v.Load()
		next := uint64(0)
		if cur > n {
			next = cur - n
		}
		if c.v.CompareAndSwap(cur, next) {
			return
		}
	}
}

func fits(cur, n, limit uint64) bool {
	return n <= limit && cur <= limit-n
}

// Usage is a snapshot of the live counters.
type Usage struct {
	TraceBytes      uint64 `json:"trace_bytes"`
	OutputBytes     uint64 `json:"output_bytes"`
	ActiveProcesses uint32 `json:"active_processes"`
}

func (u Usage) String() string {
	return fmt.Sprintf("trace=%s output=%s processes=%d",
		humanize.IBytes(u.TraceBytes), humanize.IBytes(u.OutputBytes), u.ActiveProcesses)
}

// Tracker enforces Limits across every session of the harness. It is safe
// for concurrent use; create one per harness process.
type Tracker struct {
	limits    Limits
	cas       bool
	logger    *slog.Logger
	trace     counter
	output    counter
	processes counter
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithCompareAndSwap makes every reservation a single compare-and-swap, so
// counters never exceed their limits even under contention. Without it the
// limits are soft: a concurrent burst may overshoot briefly.
func WithCompareAndSwap() TrackerOption {
	return func(t *Tracker) {
		t.cas = true
	}
}

// WithLogger sets the logger used to report rejected reservations.
func WithLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// NewTracker creates a Tracker with all counters at zero.
func NewTracker(limits Limits, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		limits: limits,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) Limits() Limits { return t.limits }

// CompareAndSwap reports whether hard (compare-and-swap) accounting is on.
func (t *Tracker) CompareAndSwap() bool { return t.cas }

// CurrentUsage snapshots the three counters. The values are read one at a
// time and are not a consistent cut under concurrent updates.
func (t *Tracker) CurrentUsage() Usage {
	return Usage{
		TraceBytes:      t.trace.v.Load(),
		OutputBytes:     t.output.v.Load(),
		ActiveProcesses: uint32(t.processes.v.Load()),
	}
}

func (t *Tracker) CanAddTraceData(n uint64) bool {
	return fits(t.trace.v.Load(), n, t.limits.MaxTraceBytes)
}

// AddTraceData reserves n trace bytes. The reservation lasts until the
// returned Guard is released.
func (t *Tracker) AddTraceData(n uint64) (*Guard, error) {
	if err := t.reserve(Trace, n); err != nil {
		return nil, err
	}
	return newGuard(t, Trace, n), nil
}

func (t *Tracker) CanReserveScreen(n uint64) bool {
	return n <= t.limits.MaxScreenBytes
}

// ReserveScreen checks a single screen allocation against the limit. Screen
// memory is owned and freed by the caller, so nothing is tracked and no
// Guard is returned.
func (t *Tracker) ReserveScreen(n uint64) error {
	if !t.CanReserveScreen(n) {
		return t.reject(&LimitError{Kind: Screen, Requested: n, Limit: t.limits.MaxScreenBytes})
	}
	return nil
}

func (t *Tracker) CanBufferOutput(n uint64) bool {
	return fits(t.output.v.Load(), n, t.limits.MaxOutputBufferBytes)
}

// AddOutput reserves n bytes of output buffer.
func (t *Tracker) AddOutput(n uint64) (*Guard, error) {
	if err := t.reserve(Output, n); err != nil {
		return nil, err
	}
	return newGuard(t, Output, n), nil
}

// ResetOutput zeroes the output counter. Guards still outstanding release
// against the zeroed counter and saturate at zero, so callers holding live
// output guards must not use it.
func (t *Tracker) ResetOutput() {
	t.output.v.Store(0)
}

func (t *Tracker) CanStartProcess() bool {
	return fits(t.processes.v.Load(), 1, uint64(t.limits.MaxConcurrentProcesses))
}

// StartProcess takes one process slot.
func (t *Tracker) StartProcess() (*Guard, error) {
	if err := t.reserve(Process, 1); err != nil {
		return nil, err
	}
	return newGuard(t, Process, 1), nil
}

// reserve commits n against the counter of kind or returns a *LimitError
// with every counter unchanged. Screen has no counter and is not reservable.
func (t *Tracker) reserve(kind Kind, n uint64) error {
	var (
		c     *counter
		limit uint64
	)
	switch kind {
	case Trace:
		c, limit = &t.trace, t.limits.MaxTraceBytes
	case Output:
		c, limit = &t.output, t.limits.MaxOutputBufferBytes
	case Process:
		c, limit = &t.processes, uint64(t.limits.MaxConcurrentProcesses)
	default:
		return fmt.Errorf("resource kind %s cannot be reserved", kind)
	}
	cur, ok := c.reserve(n, limit, t.cas)
	if !ok {
		return t.reject(&LimitError{Kind: kind, Current: cur, Requested: n, Limit: limit})
	}
	return nil
}

func (t *Tracker) release(kind Kind, n uint64) {
	switch kind {
	case Trace:
		t.trace.release(n)
	case Output:
		t.output.release(n)
	case Process:
		t.processes.release(n)
	}
}

func (t *Tracker) reject(err *LimitError) error {
	t.logger.Debug("resource reservation rejected",
		"kind", err.Kind.String(),
		"requested", humanize.IBytes(err.Requested),
		"current", err.Current,
		"limit", err.Limit)
	return err
}
