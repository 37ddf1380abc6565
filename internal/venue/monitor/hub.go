package monitor

import "sync"

// Hub wakes the feeds of a tenant when one of its scans is recorded. A
// wake is a hint to poll early; feeds still poll on their own interval.
type Hub struct {
	mu   sync.RWMutex
	subs map[int64]map[chan struct{}]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[int64]map[chan struct{}]struct{}{}}
}

// Subscribe returns a wake channel with room for one pending wake.
func (h *Hub) Subscribe(tenantID int64) chan struct{} {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	set, ok := h.subs[tenantID]
	if !ok {
		set = map[chan struct{}]struct{}{}
		h.subs[tenantID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(tenantID int64, ch chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[tenantID]
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(h.subs, tenantID)
	}
}

// ScanRecorded never blocks: a subscriber with a wake already pending is
// skipped.
func (h *Hub) ScanRecorded(tenantID int64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[tenantID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (h *Hub) Subscribers(tenantID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[tenantID])
}
