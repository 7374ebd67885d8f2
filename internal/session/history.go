package session

import "sync"

// DefaultHistoryHeader is the permanent first entry of a history log.
const DefaultHistoryHeader = "History:"

// History is a bounded, append-only log of message summaries. Entry 0 is a
// header that is never evicted; once the log is full, each append first
// drops the oldest entry after the header.
type History struct {
	mu      sync.RWMutex
	entries []string
	limit   int
}

// NewHistory creates a log seeded with header. A limit below 2 is raised to
// 2 so there is always room for the header plus one entry.
func NewHistory(header string, limit int) *History {
	if limit < 2 {
		limit = 2
	}
	entries := make([]string, 1, limit)
	entries[0] = header
	return &History{
		entries: entries,
		limit:   limit,
	}
}

// Append adds entry, evicting as needed, and returns the resulting snapshot.
func (h *History) Append(entry string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.entries) >= h.limit {
		h.entries = append(h.entries[:1], h.entries[2:]...)
	}
	h.entries = append(h.entries, entry)
	return h.snapshotLocked()
}

// Snapshot returns a copy of all entries, oldest first.
func (h *History) Snapshot() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshotLocked()
}

// Len returns the number of entries including the header.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Limit returns the configured bound.
func (h *History) Limit() int {
	return h.limit
}

func (h *History) snapshotLocked() []string {
	out := make([]string, len(h.entries))
	copy(out, h.entries)
	return out
}
