package workqueue

import "sync"

// history is a ring of recently executed work names. A nil history records
// nothing.
type history struct {
	mu      sync.Mutex
	entries []string
	next    int
	full    bool
}

func newHistory(n int) *history {
	if n <= 0 {
		return nil
	}
	return &history{entries: make([]string, n)}
}

func (h *history) record(name string) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.entries[h.next] = name
	h.next++
	if h.next == len(h.entries) {
		h.next = 0
		h.full = true
	}
	h.mu.Unlock()
}

// snapshot returns the entries newest first.
func (h *history) snapshot() []string {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.next
	if h.full {
		n = len(h.entries)
	}
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		idx := (h.next - i + len(h.entries)) % len(h.entries)
		out = append(out, h.entries[idx])
	}
	return out
}
