package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tarsy-project/eventbroker/pkg/model"
	"github.com/tarsy-project/eventbroker/pkg/store"
	"github.com/tarsy-project/eventbroker/pkg/validate"
)

// Recorder observes dispatcher activity for the Analytics & Health
// component (§4.8) without dispatch depending on it directly.
type Recorder interface {
	RecordPublished(eventType model.EventType, bytes int)
	RecordError()
	RecordSubscriberAttached(transport model.Transport)
	RecordSubscriberDetached(transport model.Transport)
}

type nopRecorder struct{}

func (nopRecorder) RecordPublished(model.EventType, int)     {}
func (nopRecorder) RecordError()                             {}
func (nopRecorder) RecordSubscriberAttached(model.Transport) {}
func (nopRecorder) RecordSubscriberDetached(model.Transport) {}

// SessionAccessor is the slice of the Session Registry the Dispatcher
// needs: checking a session accepts events and bumping its counters.
type SessionAccessor interface {
	IsAcceptingEvents(sessionKey string) (model.StreamSession, error)
	RecordActivity(sessionKey string) error
	IncrementEventCount(sessionKey string) error
}

// Config bounds dispatcher behavior (mirrors config.Caps/StreamDefaults).
type Config struct {
	SendQueueSize         int
	MaxSubscribersDefault int
	MaxConnectionsGlobal  int
	SanitizeMaxFieldBytes int
}

// Dispatcher is the Dispatcher + Subscriber Table (§4.4/§4.5).
type Dispatcher struct {
	store    store.Store
	sessions SessionAccessor
	recorder Recorder
	cfg      Config

	mu         sync.RWMutex
	tables     map[string]*sessionTable // keyed by streamID
	globalConn int64
}

// New constructs a Dispatcher over st (the Event Store) and sessions (the
// Session Registry's relevant surface). recorder may be nil.
func New(st store.Store, sessions SessionAccessor, recorder Recorder, cfg Config) *Dispatcher {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Dispatcher{
		store:    st,
		sessions: sessions,
		recorder: recorder,
		cfg:      cfg,
		tables:   make(map[string]*sessionTable),
	}
}

func (d *Dispatcher) tableFor(streamID string, maxSubscribers int) *sessionTable {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[streamID]
	if !ok {
		if maxSubscribers <= 0 {
			maxSubscribers = d.cfg.MaxSubscribersDefault
		}
		t = newSessionTable(maxSubscribers)
		d.tables[streamID] = t
	}
	return t
}

// Attach registers a new subscriber on streamID. Fails with
// model.ErrCapacityExceeded if the session's or the global subscriber cap
// is reached (§4.4).
func (d *Dispatcher) Attach(streamID string, transport model.Transport, filters []model.Filter, maxSubscribers int) (*Handle, error) {
	now := time.Now().UTC()
	sub := model.Subscriber{
		ID:          uuid.NewString(),
		StreamID:    streamID,
		Transport:   transport,
		Filters:     filters,
		ConnectedAt: now,
		LastSeen:    now,
		State:       model.SubscriberConnecting,
	}
	h := NewHandle(sub, d.cfg.SendQueueSize, nil)

	t := d.tableFor(streamID, maxSubscribers)
	if err := t.attach(h, &d.globalConn, int64(d.cfg.MaxConnectionsGlobal)); err != nil {
		return nil, err
	}
	h.State = model.SubscriberLive
	d.recorder.RecordSubscriberAttached(transport)
	return h, nil
}

// Detach removes subscriberID from streamID's table. Idempotent.
func (d *Dispatcher) Detach(streamID, subscriberID string, reason DetachReason) {
	d.mu.RLock()
	t, ok := d.tables[streamID]
	d.mu.RUnlock()
	if !ok {
		return
	}
	if h, found := t.detach(subscriberID, &d.globalConn); found {
		h.MarkDetached(reason)
		d.recorder.RecordSubscriberDetached(h.Transport)
	}
}

// UpdateFilters replaces subscriberID's filters in place (WS "filter_update", §4.6).
func (d *Dispatcher) UpdateFilters(streamID, subscriberID string, filters []model.Filter) bool {
	d.mu.RLock()
	t, ok := d.tables[streamID]
	d.mu.RUnlock()
	if !ok {
		return false
	}
	return t.updateFilters(subscriberID, filters)
}

// Filters returns subscriberID's current filters, or nil if it is not
// attached to streamID. Safe to call concurrently with UpdateFilters.
func (d *Dispatcher) Filters(streamID, subscriberID string) []model.Filter {
	d.mu.RLock()
	t, ok := d.tables[streamID]
	d.mu.RUnlock()
	if !ok {
		return nil
	}
	h, ok := t.get(subscriberID)
	if !ok {
		return nil
	}
	return h.Filters
}

// Subscribers returns a snapshot of streamID's current subscribers.
func (d *Dispatcher) Subscribers(streamID string) []*Handle {
	d.mu.RLock()
	t, ok := d.tables[streamID]
	d.mu.RUnlock()
	if !ok {
		return nil
	}
	return t.snapshot()
}

// CountStaleSubscribers returns the number of subscribers, across every
// stream, whose LastSeen predates threshold. Used by the Session Registry's
// healthCheck() and by Analytics & Health (§4.2/§4.8).
func (d *Dispatcher) CountStaleSubscribers(threshold time.Duration) int {
	cutoff := time.Now().UTC().Add(-threshold)

	d.mu.RLock()
	tables := make([]*sessionTable, 0, len(d.tables))
	for _, t := range d.tables {
		tables = append(tables, t)
	}
	d.mu.RUnlock()

	n := 0
	for _, t := range tables {
		n += t.countStale(cutoff)
	}
	return n
}

// Publish validates, serializes, persists, and fans out ev to streamID's
// subscribers (§4.5). maxEventsPerStream enforces the session's retention
// cap (FIFO eviction, §4.1); pass 0 for unbounded. Returns once the store
// append commits; fan-out is best-effort and asynchronous from the
// caller's point of view.
func (d *Dispatcher) Publish(ctx context.Context, sessionKey, streamID string, ev model.Event, maxEventsPerStream int) error {
	if _, err := d.sessions.IsAcceptingEvents(sessionKey); err != nil {
		return err
	}

	result, err := validate.Validate(ev, validate.Config{MaxFieldBytes: d.cfg.SanitizeMaxFieldBytes})
	if err != nil {
		d.recorder.RecordError()
		return err
	}

	if err := d.store.Append(ctx, streamID, ev.ID, result.Canonical, maxEventsPerStream); err != nil {
		d.recorder.RecordError()
		return model.NewStorageError("publish", err)
	}

	_ = d.sessions.RecordActivity(sessionKey)
	_ = d.sessions.IncrementEventCount(sessionKey)
	d.recorder.RecordPublished(ev.Type, len(result.Canonical))

	d.fanOut(streamID, ev, result.Canonical)
	return nil
}

// PublishToAll fans ev out to every attached subscriber across all streams
// without appending to any session's log (§4.5: ephemeral broadcast).
func (d *Dispatcher) PublishToAll(ev model.Event) {
	canonical, err := validate.Validate(ev, validate.Config{MaxFieldBytes: d.cfg.SanitizeMaxFieldBytes})
	if err != nil {
		d.recorder.RecordError()
		slog.Warn("broadcast event failed validation", "error", err)
		return
	}

	d.mu.RLock()
	tables := make([]*sessionTable, 0, len(d.tables))
	for _, t := range d.tables {
		tables = append(tables, t)
	}
	d.mu.RUnlock()

	for _, t := range tables {
		for _, h := range t.snapshot() {
			d.deliverOrDetach(t, h, ev, canonical.Canonical)
		}
	}
}

func (d *Dispatcher) fanOut(streamID string, ev model.Event, canonical []byte) {
	d.mu.RLock()
	t, ok := d.tables[streamID]
	d.mu.RUnlock()
	if !ok {
		return
	}
	for _, h := range t.snapshot() {
		d.deliverOrDetach(t, h, ev, canonical)
	}
}

// deliverOrDetach enqueues canonical onto h's send queue if ev passes its
// filters, applying slow-subscriber isolation on overflow (§4.5).
func (d *Dispatcher) deliverOrDetach(t *sessionTable, h *Handle, ev model.Event, canonical []byte) {
	if !model.MatchesAny(h.Filters, ev) {
		return
	}
	if h.TryEnqueue(canonical) {
		return
	}

	slog.Warn("detaching slow subscriber", "subscriber_id", h.ID, "stream_id", h.StreamID)
	if removed, found := t.detach(h.ID, &d.globalConn); found {
		removed.MarkDetached(DetachSlowSubscriber)
		d.recorder.RecordSubscriberDetached(removed.Transport)
	}
}
