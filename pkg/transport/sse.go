package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tarsy-project/eventbroker/pkg/dispatch"
	"github.com/tarsy-project/eventbroker/pkg/model"
	"github.com/tarsy-project/eventbroker/pkg/replay"
)

// SSEConfig bounds one Server-Sent Events adapter instance.
type SSEConfig struct {
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
	MaxEventBytes     int
	ReplayBatchSize   int
}

// SSEAdapter is the Server-Sent Events Transport Adapter (§4.6). Unlike the
// WebSocket adapter it is one-way (server→client); there is no inbound
// control channel, so subscribe/replay parameters are fixed at attach time.
type SSEAdapter struct {
	dispatcher *dispatch.Dispatcher
	replay     *replay.Service
	cfg        SSEConfig
}

// NewSSEAdapter constructs an SSEAdapter.
func NewSSEAdapter(d *dispatch.Dispatcher, r *replay.Service, cfg SSEConfig) *SSEAdapter {
	return &SSEAdapter{dispatcher: d, replay: r, cfg: cfg}
}

// sseEventID numbers frames written to a single SSE response for the
// `id:` field. The HTTP handler does not read a reconnecting client's
// Last-Event-ID header.
type sseEventID struct{ n int64 }

func (id *sseEventID) next() int64 {
	id.n++
	return id.n
}

// HandleConnection drives one attached SSE subscriber until the client
// disconnects, ctx is cancelled, or the subscriber is detached. It sets the
// event-stream response headers itself. Blocks; call from the HTTP handler
// before returning so the handler's ResponseWriter stays open.
func (a *SSEAdapter) HandleConnection(ctx context.Context, w http.ResponseWriter, streamID string, opts Options) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support flushing")
	}

	h, err := a.dispatcher.Attach(streamID, model.TransportSSE, opts.Filters, opts.MaxSubscribers)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.dispatcher.Detach(streamID, h.ID, dispatch.DetachRequested)

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ids := &sseEventID{}

	if err := a.writeNamed(w, flusher, ids, "connection_established", ConnectionAckPayload{
		SubscriberID: h.ID, StreamID: streamID, ServerCapabilities: serverCapabilities,
	}); err != nil {
		return err
	}

	if opts.IncludeHistory {
		sink := &sseReplaySink{w: w, flusher: flusher, ids: ids}
		if _, err := a.replay.Replay(ctx, streamID, a.dispatcher.Filters(streamID, h.ID), replay.Options{
			MaxEvents: opts.HistoryLimit, BatchSize: a.cfg.ReplayBatchSize,
		}, sink); err != nil {
			slog.Warn("sse replay failed", "stream_id", streamID, "error", err)
		}
	}

	heartbeat := time.NewTicker(a.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			a.writeNamed(w, flusher, ids, "connection_close", nil)
			return nil

		case data, ok := <-h.SendQueue:
			if !ok {
				a.writeNamed(w, flusher, ids, "connection_close", nil)
				return nil
			}
			if len(data) > a.cfg.MaxEventBytes && a.cfg.MaxEventBytes > 0 {
				a.writeNamed(w, flusher, ids, "error", WireError{Code: ErrCodeValidation, Message: "event too large for SSE"})
				continue
			}
			if err := a.writeRaw(w, flusher, ids.next(), "stream_event", data); err != nil {
				return err
			}
			h.Touch()

		case <-heartbeat.C:
			if time.Since(h.LastSeen) > 2*a.cfg.HeartbeatInterval {
				return nil
			}
			if err := a.writeNamed(w, flusher, ids, "heartbeat", nil); err != nil {
				return err
			}
			h.Touch()
		}
	}
}

type sseReplaySink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	ids     *sseEventID
}

func (s *sseReplaySink) SendReplayedEvent(ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return writeSSEFrame(s.w, s.flusher, s.ids.next(), "stream_event", data)
}

func (s *sseReplaySink) SendReplayComplete(result replay.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return writeSSEFrame(s.w, s.flusher, s.ids.next(), "replay_complete", data)
}

func (a *SSEAdapter) writeNamed(w http.ResponseWriter, flusher http.Flusher, ids *sseEventID, event string, payload any) error {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	} else {
		data = []byte("{}")
	}
	return writeSSEFrame(w, flusher, ids.next(), event, data)
}

func (a *SSEAdapter) writeRaw(w http.ResponseWriter, flusher http.Flusher, id int64, event string, data []byte) error {
	return writeSSEFrame(w, flusher, id, event, data)
}

// writeSSEFrame renders the `id:<eventId>\nevent:<eventName>\ndata:<json>\n\n`
// framing required by §4.6.
func writeSSEFrame(w http.ResponseWriter, flusher http.Flusher, id int64, event string, data []byte) error {
	if _, err := fmt.Fprintf(w, "id:%d\nevent:%s\ndata:%s\n\n", id, event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
