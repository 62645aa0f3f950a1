package session

import (
	"bytes"
	"sync"
)

// ringBuf is a fixed-capacity byte buffer that overwrites its oldest data
// once full.
type ringBuf struct {
	mu   sync.Mutex
	data []byte
	pos  int
	full bool
}

func newRingBuf(capacity int) *ringBuf {
	if capacity <= 0 {
		capacity = defaultCaptureBytes
	}
	return &ringBuf{data: make([]byte, capacity)}
}

// Write appends p, overwriting the oldest bytes when the buffer is full.
func (r *ringBuf) Write(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	capacity := len(r.data)
	if len(p) >= capacity {
		copy(r.data, p[len(p)-capacity:])
		r.pos = 0
		r.full = true
		return
	}
	n := copy(r.data[r.pos:], p)
	if n < len(p) {
		copy(r.data, p[n:])
		r.full = true
	}
	next := r.pos + len(p)
	if next >= capacity {
		r.full = true
	}
	r.pos = next % capacity
}

// Len is the number of buffered bytes.
func (r *ringBuf) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.data)
	}
	return r.pos
}

func (r *ringBuf) Cap() int {
	return len(r.data)
}

// Bytes returns a copy of the buffered data in chronological order.
func (r *ringBuf) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]byte(nil), r.data[:r.pos]...)
	}
	result := make([]byte, len(r.data))
	n := copy(result, r.data[r.pos:])
	copy(result[n:], r.data[:r.pos])
	return result
}

// Tail returns the last n lines; n <= 0 returns everything.
func (r *ringBuf) Tail(n int) []byte {
	data := r.Bytes()
	if n <= 0 {
		return data
	}
	end := len(data)
	if end > 0 && data[end-1] == '\n' {
		end--
	}
	start := end
	for i := 0; i < n; i++ {
		idx := bytes.LastIndexByte(data[:start], '\n')
		if idx < 0 {
			return data
		}
		start = idx
	}
	return data[start+1:]
}

func (r *ringBuf) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos = 0
	r.full = false
}
