package store

import (
	"context"
	"sync"
	"time"

	"github.com/tarsy-project/eventbroker/pkg/model"
)

// memStream is one stream's in-memory log, guarded by its own mutex so
// concurrent appends to different streams never contend (§5: "a
// single-writer-per-stream serialization domain... cross-stream operations
// run in parallel").
type memStream struct {
	mu             sync.Mutex
	events         []StoredEvent
	nextSeq        int64
	createdAt      time.Time
	lastAccessedAt time.Time
}

// MemoryStore is the volatile Event Store backend: an in-process ordered
// buffer per stream, lost on restart (§4.1).
type MemoryStore struct {
	mu      sync.RWMutex
	streams map[string]*memStream
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{streams: make(map[string]*memStream)}
}

func (s *MemoryStore) lookup(streamID string) (*memStream, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.streams[streamID]
	return st, ok
}

func (s *MemoryStore) CreateStream(_ context.Context, streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.streams[streamID]; ok {
		return model.ErrAlreadyExists
	}
	now := time.Now().UTC()
	s.streams[streamID] = &memStream{createdAt: now, lastAccessedAt: now}
	return nil
}

func (s *MemoryStore) DeleteStream(_ context.Context, streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, streamID)
	return nil
}

func (s *MemoryStore) Append(_ context.Context, streamID, eventID string, data []byte, maxEvents int) error {
	st, ok := s.lookup(streamID)
	if !ok {
		return model.ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	st.nextSeq++
	now := time.Now().UTC()
	st.events = append(st.events, StoredEvent{
		SeqID:     st.nextSeq,
		EventID:   eventID,
		Data:      append([]byte(nil), data...),
		CreatedAt: now,
	})
	if maxEvents > 0 && len(st.events) > maxEvents {
		st.events = st.events[len(st.events)-maxEvents:]
	}
	st.lastAccessedAt = now
	return nil
}

func (s *MemoryStore) PeekAll(_ context.Context, streamID string) ([]StoredEvent, error) {
	st, ok := s.lookup(streamID)
	if !ok {
		return nil, model.ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]StoredEvent, len(st.events))
	copy(out, st.events)
	return out, nil
}

func (s *MemoryStore) PopNewest(_ context.Context, streamID string) (StoredEvent, bool, error) {
	st, ok := s.lookup(streamID)
	if !ok {
		return StoredEvent{}, false, model.ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.events) == 0 {
		return StoredEvent{}, false, nil
	}
	last := st.events[len(st.events)-1]
	st.events = st.events[:len(st.events)-1]
	return last, true, nil
}

func (s *MemoryStore) DrainAll(_ context.Context, streamID string) ([]StoredEvent, error) {
	st, ok := s.lookup(streamID)
	if !ok {
		return nil, model.ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := st.events
	st.events = nil
	return out, nil
}

func (s *MemoryStore) HasEvents(_ context.Context, streamID string) (bool, error) {
	st, ok := s.lookup(streamID)
	if !ok {
		return false, model.ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.events) > 0, nil
}

func (s *MemoryStore) QueryRange(_ context.Context, streamID string, filter RangeFilter) ([]StoredEvent, error) {
	st, ok := s.lookup(streamID)
	if !ok {
		return nil, model.ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	var out []StoredEvent
	for _, ev := range st.events {
		if filter.FromTimestamp != nil && ev.CreatedAt.Before(*filter.FromTimestamp) {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Meta(_ context.Context, streamID string) (StreamMeta, error) {
	st, ok := s.lookup(streamID)
	if !ok {
		return StreamMeta{}, model.ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return StreamMeta{
		StreamID:       streamID,
		CreatedAt:      st.createdAt,
		LastAccessedAt: st.lastAccessedAt,
		EventCount:     int64(len(st.events)),
	}, nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, ttl time.Duration) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-ttl)
	var removed []string
	for id, st := range s.streams {
		st.mu.Lock()
		expired := st.lastAccessedAt.Before(cutoff)
		st.mu.Unlock()
		if expired {
			delete(s.streams, id)
			removed = append(removed, id)
		}
	}
	return removed, nil
}

func (s *MemoryStore) Close() error { return nil }
