// Package registry implements the Session Registry (SPEC_FULL.md §4.2): the
// authoritative map from sessionKey to StreamSession, its lifecycle state
// machine, and capacity/TTL enforcement.
//
// Grounded on the teacher's pkg/session.Manager shape (RWMutex-guarded map,
// Create/Get/List/Delete) generalized to stream sessions, with lifecycle
// callbacks collapsed into one Observer interface per SPEC_FULL.md §9's
// "callback-rich lifecycle" re-architecture note.
package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tarsy-project/eventbroker/pkg/model"
)

// Observer receives lifecycle notifications. Implementations must return
// quickly; long work should be forwarded to a channel or goroutine.
type Observer interface {
	OnCreated(session model.StreamSession)
	OnDestroyed(session model.StreamSession)
	OnStatusChanged(session model.StreamSession, previous model.Status)
	OnError(session model.StreamSession, err error)
}

// NopObserver implements Observer with no-ops; embed it to override only
// the callbacks a caller cares about.
type NopObserver struct{}

func (NopObserver) OnCreated(model.StreamSession)                     {}
func (NopObserver) OnDestroyed(model.StreamSession)                   {}
func (NopObserver) OnStatusChanged(model.StreamSession, model.Status) {}
func (NopObserver) OnError(model.StreamSession, error)                {}

// HealthAnomalies is the anomaly report returned by HealthCheck.
type HealthAnomalies struct {
	TotalSessions    int
	ActiveSessions   int
	StaleSessions    []string
	StaleSubscribers int
}

// StaleSubscriberCounter reports how many subscribers, across every stream,
// have gone silent longer than threshold. Supplied by the Dispatcher so the
// registry never imports it directly.
type StaleSubscriberCounter func(threshold time.Duration) int

// Registry is the Session Registry (§4.2).
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*model.StreamSession // keyed by sessionKey
	byStream map[string]string               // streamID -> sessionKey

	maxStreams     int
	staleThreshold time.Duration
	observer       Observer

	subscriberStaleThreshold time.Duration
	subscriberStaleFn        StaleSubscriberCounter
}

// SetStaleSubscriberCounter wires fn as HealthCheck's subscriber-level
// anomaly source: a subscriber counts as stale once it has gone threshold
// (per §4.2, 2×heartbeatInterval) without a successful heartbeat. Intended
// to be called once during startup, after the Dispatcher exists, since the
// Dispatcher itself depends on the Registry at construction time.
func (r *Registry) SetStaleSubscriberCounter(threshold time.Duration, fn StaleSubscriberCounter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscriberStaleThreshold = threshold
	r.subscriberStaleFn = fn
}

// New constructs an empty Registry. maxStreams bounds the number of
// concurrently live sessions (§4.2 CapacityExceeded); staleThreshold feeds
// HealthCheck's anomaly detection (§4.2, §5).
func New(maxStreams int, staleThreshold time.Duration, observer Observer) *Registry {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Registry{
		sessions:       make(map[string]*model.StreamSession),
		byStream:       make(map[string]string),
		maxStreams:     maxStreams,
		staleThreshold: staleThreshold,
		observer:       observer,
	}
}

// Create registers a new session under sessionKey, generating its streamID.
// Returns model.ErrAlreadyExists if sessionKey is already registered, or
// model.ErrCapacityExceeded if the registry is at maxStreams.
func (r *Registry) Create(sessionKey string, cfg model.StreamConfig) (model.StreamSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionKey]; ok {
		return model.StreamSession{}, model.ErrAlreadyExists
	}
	if r.maxStreams > 0 && len(r.sessions) >= r.maxStreams {
		return model.StreamSession{}, model.ErrCapacityExceeded
	}

	now := time.Now().UTC()
	session := &model.StreamSession{
		SessionKey:   sessionKey,
		StreamID:     uuid.NewString(),
		Status:       model.StatusInitializing,
		CreatedAt:    now,
		LastActivity: now,
		Config:       cfg,
	}
	r.sessions[sessionKey] = session
	r.byStream[session.StreamID] = sessionKey

	slog.Info("stream session created", "session_key", sessionKey, "stream_id", session.StreamID)
	r.observer.OnCreated(*session)
	return *session, nil
}

// Get returns the session for sessionKey, or model.ErrNotFound.
func (r *Registry) Get(sessionKey string) (model.StreamSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionKey]
	if !ok {
		return model.StreamSession{}, model.ErrNotFound
	}
	return *s, nil
}

// GetByStreamID returns the session owning streamID, or model.ErrNotFound.
func (r *Registry) GetByStreamID(streamID string) (model.StreamSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.byStream[streamID]
	if !ok {
		return model.StreamSession{}, model.ErrNotFound
	}
	return *r.sessions[key], nil
}

// ListActive returns sessionKeys whose status is Active or Busy.
func (r *Registry) ListActive() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var keys []string
	for key, s := range r.sessions {
		if s.Status == model.StatusActive || s.Status == model.StatusBusy {
			keys = append(keys, key)
		}
	}
	return keys
}

// UpdateStatus validates and applies a status transition, refreshing
// LastActivity and firing OnStatusChanged.
func (r *Registry) UpdateStatus(sessionKey string, next model.Status) error {
	r.mu.Lock()
	s, ok := r.sessions[sessionKey]
	if !ok {
		r.mu.Unlock()
		return model.ErrNotFound
	}
	if !s.Status.CanTransition(next) {
		r.mu.Unlock()
		err := model.NewValidationError("status", "illegal transition from "+string(s.Status)+" to "+string(next))
		r.observer.OnError(*s, err)
		return err
	}
	previous := s.Status
	s.Status = next
	s.LastActivity = time.Now().UTC()
	snapshot := *s
	r.mu.Unlock()

	slog.Info("stream session status changed", "session_key", sessionKey, "from", previous, "to", next)
	r.observer.OnStatusChanged(snapshot, previous)
	return nil
}

// RecordActivity refreshes a session's LastActivity timestamp.
func (r *Registry) RecordActivity(sessionKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionKey]
	if !ok {
		return model.ErrNotFound
	}
	s.LastActivity = time.Now().UTC()
	return nil
}

// IncrementEventCount bumps a session's EventCount by one, keeping it equal
// to the number of successful appends to its log (§3 invariant).
func (r *Registry) IncrementEventCount(sessionKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionKey]
	if !ok {
		return model.ErrNotFound
	}
	s.EventCount++
	return nil
}

// IsAcceptingEvents reports whether sessionKey exists and is not in a
// terminal status (§4.2: "Attempts to publish or attach after a terminal
// status fail with SessionNotActive").
func (r *Registry) IsAcceptingEvents(sessionKey string) (model.StreamSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionKey]
	if !ok {
		return model.StreamSession{}, model.ErrNotFound
	}
	if s.Status.IsTerminal() {
		return model.StreamSession{}, model.ErrSessionNotActive
	}
	return *s, nil
}

// Destroy removes sessionKey from the registry. Idempotent: destroying an
// absent session is not an error. The caller is responsible for detaching
// subscribers and persisting history before calling Destroy (§4.2).
func (r *Registry) Destroy(sessionKey string) error {
	r.mu.Lock()
	s, ok := r.sessions[sessionKey]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.sessions, sessionKey)
	delete(r.byStream, s.StreamID)
	snapshot := *s
	r.mu.Unlock()

	slog.Info("stream session destroyed", "session_key", sessionKey, "stream_id", snapshot.StreamID)
	r.observer.OnDestroyed(snapshot)
	return nil
}

// HealthCheck reports counts and sessions whose LastActivity predates
// staleThreshold (§4.2).
func (r *Registry) HealthCheck() HealthAnomalies {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now().UTC()
	anomalies := HealthAnomalies{TotalSessions: len(r.sessions)}
	for key, s := range r.sessions {
		if s.Status == model.StatusActive || s.Status == model.StatusBusy {
			anomalies.ActiveSessions++
		}
		if r.staleThreshold > 0 && now.Sub(s.LastActivity) > r.staleThreshold {
			anomalies.StaleSessions = append(anomalies.StaleSessions, key)
		}
	}
	if r.subscriberStaleFn != nil {
		anomalies.StaleSubscribers = r.subscriberStaleFn(r.subscriberStaleThreshold)
	}
	return anomalies
}

// ExpiredBefore returns sessionKeys whose LastActivity predates cutoff, for
// the periodic cleanup task (§5).
func (r *Registry) ExpiredBefore(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var keys []string
	for key, s := range r.sessions {
		if s.LastActivity.Before(cutoff) {
			keys = append(keys, key)
		}
	}
	return keys
}
