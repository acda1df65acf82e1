package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/tarsy-project/eventbroker/pkg/dispatch"
	"github.com/tarsy-project/eventbroker/pkg/model"
	"github.com/tarsy-project/eventbroker/pkg/replay"
)

// WSConfig bounds one WebSocket adapter instance (mirrors config.TransportConfig/Caps).
type WSConfig struct {
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
	MaxMessageBytes   int64
	ReplayBatchSize   int
}

// WSAdapter is the WebSocket Transport Adapter (§4.6), built over a
// Dispatcher and Replay Service.
type WSAdapter struct {
	dispatcher *dispatch.Dispatcher
	replay     *replay.Service
	cfg        WSConfig
}

// NewWSAdapter constructs a WSAdapter.
func NewWSAdapter(d *dispatch.Dispatcher, r *replay.Service, cfg WSConfig) *WSAdapter {
	return &WSAdapter{dispatcher: d, replay: r, cfg: cfg}
}

// Options narrows a single connection's initial attach parameters (from the
// `?filters&includeHistory&historyLimit` query string, §6.2).
type Options struct {
	Filters          []model.Filter
	IncludeHistory   bool
	HistoryLimit     int
	MaxSubscribers   int
}

// writeGate lets an inline replay pause the background drain loop so
// replayed events and live fan-out never interleave on the wire (§4.7
// invariant 4). mu guards the suspend state; writeMu serializes all writes.
type writeGate struct {
	mu        sync.Mutex
	writeMu   sync.Mutex
	suspended bool
	resume    chan struct{}
}

func (g *writeGate) suspend() {
	g.mu.Lock()
	g.suspended = true
	g.resume = make(chan struct{})
	g.mu.Unlock()
}

func (g *writeGate) resumeDrain() {
	g.mu.Lock()
	if g.suspended {
		close(g.resume)
		g.suspended = false
	}
	g.mu.Unlock()
}

func (g *writeGate) waitIfSuspended(ctx context.Context) bool {
	g.mu.Lock()
	if !g.suspended {
		g.mu.Unlock()
		return true
	}
	resumeCh := g.resume
	g.mu.Unlock()
	select {
	case <-resumeCh:
		return true
	case <-ctx.Done():
		return false
	}
}

// HandleConnection drives one attached WebSocket subscriber until it
// disconnects or is detached. Blocks; intended to be called from the HTTP
// handler's request goroutine after websocket.Accept.
func (a *WSAdapter) HandleConnection(ctx context.Context, conn *websocket.Conn, streamID string, opts Options) error {
	if a.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(a.cfg.MaxMessageBytes)
	}

	h, err := a.dispatcher.Attach(streamID, model.TransportWebSocket, opts.Filters, opts.MaxSubscribers)
	if err != nil {
		code := CloseCodeInternal
		if err == model.ErrCapacityExceeded {
			code = CloseCodeCapacityExceeded
		}
		_ = conn.Close(websocket.StatusCode(code), err.Error())
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.dispatcher.Detach(streamID, h.ID, dispatch.DetachRequested)

	gate := &writeGate{}

	if err := a.sendAck(ctx, conn, gate, h.ID, streamID); err != nil {
		return err
	}

	if opts.IncludeHistory {
		a.runReplay(ctx, conn, gate, streamID, a.dispatcher.Filters(streamID, h.ID), replay.Options{MaxEvents: opts.HistoryLimit, BatchSize: a.cfg.ReplayBatchSize})
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.drainLoop(ctx, conn, gate, h)
	}()
	go func() {
		defer wg.Done()
		a.heartbeatLoop(ctx, conn, gate, h)
	}()

	a.readLoop(ctx, conn, gate, streamID, h)
	cancel()
	wg.Wait()
	return nil
}

func (a *WSAdapter) sendAck(ctx context.Context, conn *websocket.Conn, gate *writeGate, subscriberID, streamID string) error {
	frame, err := ackFrame(ConnectionAckPayload{SubscriberID: subscriberID, StreamID: streamID, ServerCapabilities: serverCapabilities})
	if err != nil {
		return err
	}
	return a.write(ctx, conn, gate, frame)
}

func (a *WSAdapter) write(ctx context.Context, conn *websocket.Conn, gate *writeGate, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, a.cfg.WriteTimeout)
	defer cancel()
	gate.writeMu.Lock()
	defer gate.writeMu.Unlock()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

// runReplay pauses live drain, streams the historical batch directly to
// conn, then resumes drain so buffered live events flow afterward in order.
func (a *WSAdapter) runReplay(ctx context.Context, conn *websocket.Conn, gate *writeGate, streamID string, filters []model.Filter, opts replay.Options) {
	gate.suspend()
	defer gate.resumeDrain()

	sink := &wsReplaySink{adapter: a, ctx: ctx, conn: conn, gate: gate}
	if _, err := a.replay.Replay(ctx, streamID, filters, opts, sink); err != nil {
		slog.Warn("replay failed", "stream_id", streamID, "error", err)
	}
}

type wsReplaySink struct {
	adapter *WSAdapter
	ctx     context.Context
	conn    *websocket.Conn
	gate    *writeGate
}

func (s *wsReplaySink) SendReplayedEvent(ev model.Event) error {
	frame, err := eventFrame(ev)
	if err != nil {
		return err
	}
	return s.adapter.write(s.ctx, s.conn, s.gate, frame)
}

func (s *wsReplaySink) SendReplayComplete(result replay.Result) error {
	frame, err := replayCompleteFrame(result)
	if err != nil {
		return err
	}
	return s.adapter.write(s.ctx, s.conn, s.gate, frame)
}

func (a *WSAdapter) drainLoop(ctx context.Context, conn *websocket.Conn, gate *writeGate, h *dispatch.Handle) {
	for {
		if !gate.waitIfSuspended(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case data, ok := <-h.SendQueue:
			if !ok {
				return
			}
			if err := a.write(ctx, conn, gate, data); err != nil {
				slog.Warn("websocket write failed, detaching", "subscriber_id", h.ID, "error", err)
				return
			}
		}
	}
}

func (a *WSAdapter) heartbeatLoop(ctx context.Context, conn *websocket.Conn, gate *writeGate, h *dispatch.Handle) {
	if a.cfg.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Since(h.LastSeen) > 2*a.cfg.HeartbeatInterval {
				_ = conn.Close(websocket.StatusCode(CloseCodeStaleSubscriber), "stale subscriber")
				return
			}
			pingCtx, cancel := context.WithTimeout(ctx, a.cfg.HeartbeatInterval)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
			h.Touch()
		}
	}
}

func (a *WSAdapter) readLoop(ctx context.Context, conn *websocket.Conn, gate *writeGate, streamID string, h *dispatch.Handle) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		h.Touch()

		var msg wsClientFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			if frame, ferr := errorFrame(ErrCodeValidation, "malformed message"); ferr == nil {
				_ = a.write(ctx, conn, gate, frame)
			}
			continue
		}

		switch msg.Type {
		case "ping":
			h.Touch()
			if frame, err := pongFrame(); err == nil {
				_ = a.write(ctx, conn, gate, frame)
			}

		case "subscribe", "filter_update":
			var p subscribePayload
			if err := json.Unmarshal(msg.Payload, &p); err == nil {
				a.dispatcher.UpdateFilters(streamID, h.ID, []model.Filter{p.toFilter()})
			}

		case "unsubscribe":
			a.dispatcher.UpdateFilters(streamID, h.ID, nil)

		case "replay":
			var p replayPayload
			_ = json.Unmarshal(msg.Payload, &p)
			a.runReplay(ctx, conn, gate, streamID, a.dispatcher.Filters(streamID, h.ID), replay.Options{
				FromTimestamp: p.FromTimestamp,
				MaxEvents:     p.MaxEvents,
				BatchSize:     p.BatchSize,
				EventTypes:    toEventTypeSet(p.EventTypes),
			})

		default:
			if frame, err := errorFrame(ErrCodeValidation, "unknown message type"); err == nil {
				_ = a.write(ctx, conn, gate, frame)
			}
		}
	}
}

func toEventTypeSet(types []model.EventType) map[model.EventType]bool {
	if len(types) == 0 {
		return nil
	}
	out := make(map[model.EventType]bool, len(types))
	for _, t := range types {
		out[t] = true
	}
	return out
}
