package hub

import (
	"strings"
	"sync"
	"time"
)

// RateLimiter coalesces output messages per session and flushes each
// session's batch at most once per interval.
type RateLimiter struct {
	mu       sync.Mutex
	pending  map[string]*pendingOutput
	interval time.Duration
	onFlush  func(sessionID string, msg OutputMessage)
}

type pendingOutput struct {
	texts []string
	bytes int
	ts    int64
	timer *time.Timer
}

func NewRateLimiter(interval time.Duration, onFlush func(string, OutputMessage)) *RateLimiter {
	return &RateLimiter{
		pending:  make(map[string]*pendingOutput),
		interval: interval,
		onFlush:  onFlush,
	}
}

func (r *RateLimiter) Add(msg OutputMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID := msg.SessionID
	p, exists := r.pending[sessionID]
	if !exists {
		p = &pendingOutput{}
		r.pending[sessionID] = p
	}

	p.texts = append(p.texts, msg.Text)
	if msg.Bytes > 0 {
		p.bytes += msg.Bytes
	} else {
		p.bytes += len(msg.Text)
	}
	if msg.Ts > p.ts {
		p.ts = msg.Ts
	}

	if p.timer == nil {
		p.timer = time.AfterFunc(r.interval, func() {
			r.flushSession(sessionID)
		})
	}
}

func (r *RateLimiter) flushSession(sessionID string) {
	r.mu.Lock()
	p, exists := r.pending[sessionID]
	if !exists {
		r.mu.Unlock()
		return
	}
	delete(r.pending, sessionID)
	if p.timer != nil {
		p.timer.Stop()
	}
	r.mu.Unlock()

	if r.onFlush != nil && len(p.texts) > 0 {
		r.onFlush(sessionID, OutputMessage{
			Type:      TypeOutput,
			SessionID: sessionID,
			Text:      strings.Join(p.texts, ""),
			Bytes:     p.bytes,
			Ts:        p.ts,
		})
	}
}

// Flush sends any pending batch for one session immediately.
func (r *RateLimiter) Flush(sessionID string) {
	r.flushSession(sessionID)
}

func (r *RateLimiter) FlushAll() {
	r.mu.Lock()
	sessions := make([]string, 0, len(r.pending))
	for id := range r.pending {
		sessions = append(sessions, id)
	}
	r.mu.Unlock()

	for _, id := range sessions {
		r.flushSession(id)
	}
}
