// Package dispatch implements the Subscriber Table (SPEC_FULL.md §4.4) and
// the Dispatcher (§4.5): per-session subscriber bookkeeping, filter
// matching, fan-out, and slow-subscriber backpressure.
//
// Grounded on the teacher's pkg/events.ConnectionManager (connections map
// guarded by RWMutex, snapshot-then-send Broadcast) generalized from a
// single flat connection table to one Subscriber Table per session plus a
// bounded per-subscriber send queue, which the teacher's synchronous
// Broadcast does not have — added per §4.5/§5's backpressure requirement.
package dispatch

import (
	"sync"
	"time"

	"github.com/tarsy-project/eventbroker/pkg/model"
)

// DetachReason explains why a subscriber was removed from its table. It is
// passed only to the Handle's onDetach callback, which Dispatcher.Attach
// leaves unset, so it does not reach the transport adapters: they see a
// detach only as the closing of SendQueue.
type DetachReason string

const (
	DetachRequested      DetachReason = "unsubscribed"
	DetachSlowSubscriber DetachReason = "slow_subscriber"
	DetachSessionEnded   DetachReason = "session_ended"
	DetachTransportError DetachReason = "transport_error"
	DetachShutdown       DetachReason = "shutdown"
)

// Handle is a live subscriber: its identity/filters (embedded from model)
// plus the bounded outbound queue the dispatcher enqueues onto and the
// transport adapter drains. SendQueue is single-producer (Dispatcher) /
// single-consumer (the transport's writer goroutine), per §5.
type Handle struct {
	model.Subscriber

	SendQueue chan []byte

	mu       sync.Mutex
	detached bool
	onDetach func(reason DetachReason)
}

// NewHandle constructs a Handle with a send queue of the given capacity.
func NewHandle(sub model.Subscriber, queueSize int, onDetach func(DetachReason)) *Handle {
	return &Handle{
		Subscriber: sub,
		SendQueue:  make(chan []byte, queueSize),
		onDetach:   onDetach,
	}
}

// TryEnqueue attempts a non-blocking send of bytes onto the subscriber's
// queue. On overflow it applies the slow-subscriber-isolation policy
// (§4.5): the caller (Dispatcher) is responsible for detaching the
// subscriber when this returns false.
func (h *Handle) TryEnqueue(data []byte) bool {
	select {
	case h.SendQueue <- data:
		return true
	default:
		return false
	}
}

// MarkDetached closes the send queue and invokes onDetach exactly once.
// Safe to call multiple times (detach is idempotent, §4.4).
func (h *Handle) MarkDetached(reason DetachReason) {
	h.mu.Lock()
	if h.detached {
		h.mu.Unlock()
		return
	}
	h.detached = true
	h.State = model.SubscriberClosed
	cb := h.onDetach
	h.mu.Unlock()

	close(h.SendQueue)
	if cb != nil {
		cb(reason)
	}
}

// Touch refreshes LastSeen, used by transport heartbeat handling.
func (h *Handle) Touch() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LastSeen = time.Now().UTC()
}
