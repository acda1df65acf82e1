// Package cleanup provides the periodic stream-retention sweep (SPEC_FULL.md §5).
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/tarsy-project/eventbroker/pkg/config"
	"github.com/tarsy-project/eventbroker/pkg/dispatch"
	"github.com/tarsy-project/eventbroker/pkg/registry"
	"github.com/tarsy-project/eventbroker/pkg/store"
)

// Service periodically destroys stream sessions that have gone longer than
// RetentionConfig.StreamTTL without activity: it detaches any subscribers
// still attached, deletes the stream's persisted event log, and removes the
// session from the registry. All operations are idempotent.
type Service struct {
	config     *config.RetentionConfig
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	store      store.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup Service.
func NewService(cfg *config.RetentionConfig, reg *registry.Registry, d *dispatch.Dispatcher, st store.Store) *Service {
	return &Service{
		config:     cfg,
		registry:   reg,
		dispatcher: d,
		store:      st,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("cleanup service started",
		"stream_ttl", s.config.StreamTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.expireSessions(ctx)
}

func (s *Service) expireSessions(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.config.StreamTTL)
	expired := s.registry.ExpiredBefore(cutoff)
	if len(expired) == 0 {
		return
	}

	count := 0
	for _, sessionKey := range expired {
		session, err := s.registry.Get(sessionKey)
		if err != nil {
			continue
		}

		for _, h := range s.dispatcher.Subscribers(session.StreamID) {
			s.dispatcher.Detach(session.StreamID, h.ID, dispatch.DetachSessionEnded)
		}

		if err := s.store.DeleteStream(ctx, session.StreamID); err != nil {
			slog.Error("retention: stream delete failed", "session_key", sessionKey, "stream_id", session.StreamID, "error", err)
			continue
		}
		if err := s.registry.Destroy(sessionKey); err != nil {
			slog.Error("retention: session destroy failed", "session_key", sessionKey, "error", err)
			continue
		}
		count++
	}

	if count > 0 {
		slog.Info("retention: expired stream sessions", "count", count)
	}
}
