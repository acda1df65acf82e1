package model

import "time"

// Transport identifies which adapter owns a subscriber's connection.
type Transport string

const (
	TransportWebSocket Transport = "websocket"
	TransportSSE       Transport = "sse"
)

// SubscriberState is a Subscriber's connection lifecycle (§3).
type SubscriberState string

const (
	SubscriberConnecting SubscriberState = "connecting"
	SubscriberLive       SubscriberState = "live"
	SubscriberDraining   SubscriberState = "draining"
	SubscriberClosed     SubscriberState = "closed"
)

// Filter constrains which events a subscriber receives (§4.4). Within one
// Filter, non-zero fields combine with AND. A Subscriber may carry several
// Filters, which combine with OR across the set.
type Filter struct {
	EventTypes      map[EventType]bool
	SessionKeys     map[string]bool
	TimeRangeStart  *time.Time
	TimeRangeEnd    *time.Time
	CustomPredicate func(Event) bool
}

// Matches reports whether ev satisfies every non-empty constraint on f.
// A panicking CustomPredicate is not handled here — callers invoke it
// through SafeMatches so a misbehaving predicate only rejects, never
// crashes the dispatcher.
func (f Filter) Matches(ev Event) bool {
	if len(f.EventTypes) > 0 && !f.EventTypes[ev.Type] {
		return false
	}
	if len(f.SessionKeys) > 0 && !f.SessionKeys[ev.SessionKey] {
		return false
	}
	if f.TimeRangeStart != nil && ev.Timestamp.Before(*f.TimeRangeStart) {
		return false
	}
	if f.TimeRangeEnd != nil && ev.Timestamp.After(*f.TimeRangeEnd) {
		return false
	}
	if f.CustomPredicate != nil && !f.CustomPredicate(ev) {
		return false
	}
	return true
}

// SafeMatches calls f.Matches, treating a panicking CustomPredicate as a
// non-match for this filter (§4.4: "a predicate that throws causes the
// filter to reject the event").
func (f Filter) SafeMatches(ev Event) (matched bool) {
	defer func() {
		if recover() != nil {
			matched = false
		}
	}()
	return f.Matches(ev)
}

// MatchesAny reports whether ev satisfies at least one of filters (OR across
// filters, §4.4). No filters at all means pass-all.
func MatchesAny(filters []Filter, ev Event) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f.SafeMatches(ev) {
			return true
		}
	}
	return false
}

// Subscriber is one attached connection (§3). The store of serialized bytes
// awaiting delivery (SendQueue) lives in pkg/dispatch, which owns the
// bounded channel backing it; this struct holds identity and routing state
// only.
type Subscriber struct {
	ID            string
	StreamID      string
	Transport     Transport
	Filters       []Filter
	ConnectedAt   time.Time
	LastSeen      time.Time
	State         SubscriberState
}
