package dispatch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tarsy-project/eventbroker/pkg/model"
)

// sessionTable is one session's Subscriber Table (§4.4): an ordered set of
// subscribers guarded by a per-session lock. Attach/detach hold the lock
// briefly; Snapshot copies the subscriber list out so the dispatcher can
// fan out without holding the lock across slow sends (§5).
type sessionTable struct {
	mu          sync.RWMutex
	subscribers map[string]*Handle
	maxSize     int
}

func newSessionTable(maxSize int) *sessionTable {
	return &sessionTable{subscribers: make(map[string]*Handle), maxSize: maxSize}
}

func (t *sessionTable) attach(h *Handle, globalCount *int64, globalMax int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.maxSize > 0 && len(t.subscribers) >= t.maxSize {
		return model.ErrCapacityExceeded
	}
	if globalMax > 0 && atomic.LoadInt64(globalCount) >= globalMax {
		return model.ErrCapacityExceeded
	}

	t.subscribers[h.ID] = h
	atomic.AddInt64(globalCount, 1)
	return nil
}

func (t *sessionTable) detach(subscriberID string, globalCount *int64) (*Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.subscribers[subscriberID]
	if !ok {
		return nil, false
	}
	delete(t.subscribers, subscriberID)
	atomic.AddInt64(globalCount, -1)
	return h, true
}

// snapshot copies out the current subscriber list (§5: "dispatcher takes a
// snapshot of the subscriber list, then releases, then sends").
func (t *sessionTable) snapshot() []*Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Handle, 0, len(t.subscribers))
	for _, h := range t.subscribers {
		out = append(out, h)
	}
	return out
}

func (t *sessionTable) size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subscribers)
}

// countStale returns the number of subscribers whose LastSeen predates
// cutoff.
func (t *sessionTable) countStale(cutoff time.Time) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, h := range t.subscribers {
		if h.LastSeen.Before(cutoff) {
			n++
		}
	}
	return n
}

func (t *sessionTable) get(subscriberID string) (*Handle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.subscribers[subscriberID]
	return h, ok
}

func (t *sessionTable) updateFilters(subscriberID string, filters []model.Filter) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.subscribers[subscriberID]
	if !ok {
		return false
	}
	h.Filters = filters
	return true
}
