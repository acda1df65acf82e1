// Package store implements the Event Store (SPEC_FULL.md §4.1): an
// ordered, bounded per-stream FIFO of serialized events, with a choice of
// in-memory or embedded-relational (SQLite) backing.
//
// Grounded on the teacher's pkg/database package shape (Health, pool
// stats) and its own note that "two parallel stream manager
// implementations" in the original source should collapse into one
// interface with pluggable backends (SPEC_FULL.md §9).
package store

import (
	"context"
	"time"
)

// StoredEvent is one persisted row: the canonical serialized bytes plus the
// bookkeeping the store needs for ordering and eviction.
type StoredEvent struct {
	SeqID     int64
	EventID   string
	Data      []byte
	CreatedAt time.Time
}

// StreamMeta is a stream's durable bookkeeping row.
type StreamMeta struct {
	StreamID       string
	CreatedAt      time.Time
	LastAccessedAt time.Time
	EventCount     int64
}

// RangeFilter narrows queryRange (§4.7 replay query).
type RangeFilter struct {
	FromTimestamp *time.Time
	EventTypes    map[string]bool // not applied by MemoryStore or SQLiteStore
	Limit         int
}

// Store is the Event Store contract (§4.1). Implementations: MemoryStore
// (in-process, volatile) and SQLiteStore (embedded relational, durable).
type Store interface {
	// CreateStream registers streamID. Returns ErrAlreadyExists if present.
	CreateStream(ctx context.Context, streamID string) error

	// DeleteStream removes a stream's events and metadata atomically.
	// Idempotent: deleting an absent stream is not an error.
	DeleteStream(ctx context.Context, streamID string) error

	// Append adds one event to streamID, evicting the oldest events if the
	// result would exceed maxEvents. Returns ErrNotFound if the stream does
	// not exist.
	Append(ctx context.Context, streamID string, eventID string, data []byte, maxEvents int) error

	// PeekAll returns every event currently retained for streamID, in
	// insertion order, without removing them.
	PeekAll(ctx context.Context, streamID string) ([]StoredEvent, error)

	// PopNewest removes and returns the most recently appended event, or
	// (StoredEvent{}, false, nil) if the stream is empty.
	PopNewest(ctx context.Context, streamID string) (StoredEvent, bool, error)

	// DrainAll removes and returns every event retained for streamID, in
	// insertion order.
	DrainAll(ctx context.Context, streamID string) ([]StoredEvent, error)

	// HasEvents reports whether streamID currently retains any events.
	HasEvents(ctx context.Context, streamID string) (bool, error)

	// QueryRange returns events for streamID matching filter, ordered
	// ascending by (created_at, seq_id).
	QueryRange(ctx context.Context, streamID string, filter RangeFilter) ([]StoredEvent, error)

	// Meta returns a stream's metadata row.
	Meta(ctx context.Context, streamID string) (StreamMeta, error)

	// CleanupExpired deletes every stream whose last access predates
	// now.Add(-ttl), returning the removed stream IDs.
	CleanupExpired(ctx context.Context, now time.Time, ttl time.Duration) ([]string, error)

	// Close releases any resources (file handles, connections) the store
	// holds.
	Close() error
}
