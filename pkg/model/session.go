package model

import "time"

// Status is a StreamSession's lifecycle state (§4.2).
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusActive       Status = "active"
	StatusBusy         Status = "busy"
	StatusPaused       Status = "paused"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
	StatusCleanup      Status = "cleanup"
)

// IsTerminal reports whether s is a terminal status. Publication to a session
// in a terminal status is refused (Registry.IsAcceptingEvents); the WebSocket
// and SSE endpoints do not check status before attaching a subscriber.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusCleanup:
		return true
	default:
		return false
	}
}

// validTransitions encodes the status DAG from §4.2:
// Initializing → Active → (Busy ↔ Active) → (Paused ↔ Active) →
// {Completed | Failed | Cancelled} → Cleanup → ∅.
var validTransitions = map[Status]map[Status]bool{
	StatusInitializing: {StatusActive: true, StatusFailed: true, StatusCancelled: true},
	StatusActive: {
		StatusBusy: true, StatusPaused: true,
		StatusCompleted: true, StatusFailed: true, StatusCancelled: true,
	},
	StatusBusy:      {StatusActive: true, StatusFailed: true, StatusCancelled: true},
	StatusPaused:    {StatusActive: true, StatusFailed: true, StatusCancelled: true},
	StatusCompleted: {StatusCleanup: true},
	StatusFailed:    {StatusCleanup: true},
	StatusCancelled: {StatusCleanup: true},
	StatusCleanup:   {},
}

// CanTransition reports whether moving from s to next is a legal edge in the
// status DAG.
func (s Status) CanTransition(next Status) bool {
	return validTransitions[s][next]
}

// StreamConfig carries the per-session tunables supplied to Registry.Create,
// which fills in no defaults. A MaxSubscribers of 0 makes the Dispatcher fall
// back to its own configured default.
type StreamConfig struct {
	MaxEventsPerStream int
	MaxSubscribers     int
	HeartbeatInterval  time.Duration
	Persistence        string
	ReplayEnabled      bool
}

// StreamSession is one logical workflow session (§3).
type StreamSession struct {
	SessionKey   string
	StreamID     string
	Status       Status
	CreatedAt    time.Time
	LastActivity time.Time
	Config       StreamConfig
	EventCount   int64
}
