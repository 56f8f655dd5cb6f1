package events

import (
	"strings"
	"sync"
)

// Entry pairs an emitted event with its monotonically increasing sequence
// number. Sequences start at 1 and never repeat for a given ring.
type Entry struct {
	Sequence int64
	Event    Event
}

// Ring retains the most recent events in memory so read surfaces can list
// them without a persistent index. Older entries are discarded once the
// configured capacity is exceeded.
type Ring struct {
	mu  sync.RWMutex
	cap int
	seq int64
	buf []Entry
}

const defaultRingCapacity = 1024

// NewRing creates an event ring holding at most capacity entries. A
// non-positive capacity falls back to a sensible default.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = defaultRingCapacity
	}
	return &Ring{cap: capacity}
}

// Emit implements the Emitter interface.
func (r *Ring) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.buf = append(r.buf, Entry{Sequence: r.seq, Event: evt})
	if len(r.buf) > r.cap {
		r.buf = r.buf[len(r.buf)-r.cap:]
	}
}

// List returns the retained entries whose event type carries the supplied
// prefix, oldest first. A limit of zero or less returns every match.
func (r *Ring) List(prefix string, limit int) []Entry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.buf))
	for _, entry := range r.buf {
		if entry.Event == nil {
			continue
		}
		if prefix != "" && !strings.HasPrefix(entry.Event.EventType(), prefix) {
			continue
		}
		out = append(out, entry)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
