package orchestrator

import "sync"

// HostTracker records hosts that failed at the connection level during one
// run. Hosts are only ever added.
type HostTracker struct {
	mu     sync.Mutex
	failed map[string]struct{}
	order  []string
}

func NewHostTracker() *HostTracker {
	return &HostTracker{failed: make(map[string]struct{})}
}

// MarkFailed records host and reports whether it was newly added.
func (h *HostTracker) MarkFailed(host string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.failed[host]; ok {
		return false
	}
	h.failed[host] = struct{}{}
	h.order = append(h.order, host)
	return true
}

func (h *HostTracker) Failed(host string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.failed[host]
	return ok
}

// Hosts returns the failed hosts in the order they were marked.
func (h *HostTracker) Hosts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.order...)
}
