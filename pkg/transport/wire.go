// Package transport implements the Transport Adapters (SPEC_FULL.md §4.6):
// a WebSocket adapter and a Server-Sent Events adapter sharing the common
// attach/send/close contract, built over the Dispatcher (C4/C5) and Replay
// Service (C7).
//
// The WebSocket adapter is grounded on the teacher's pkg/events.
// ConnectionManager (read-loop-per-connection, registerConnection/
// unregisterConnection, sendJSON/sendRaw) generalized from a single flat
// connection/channel model to per-stream subscribers carrying the
// dispatcher's Handle. The SSE adapter has no teacher analogue (the
// teacher only implements WebSocket) and follows general net/http
// Flusher-based idioms instead, matching the wire framing in §4.6/§6.1.
package transport

import (
	"encoding/json"
	"time"

	"github.com/tarsy-project/eventbroker/pkg/model"
)

// ErrorCode is the closed set of wire-visible error codes (§7).
type ErrorCode string

const (
	ErrCodeValidation       ErrorCode = "VALIDATION"
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodeCapacityExceeded ErrorCode = "CAPACITY_EXCEEDED"
	ErrCodeStorage          ErrorCode = "STORAGE"
	ErrCodeTransport        ErrorCode = "TRANSPORT"
	ErrCodeTimeout          ErrorCode = "TIMEOUT"
	ErrCodeInternal         ErrorCode = "INTERNAL"
)

// WebSocket close codes (§9 decision: adopted verbatim, no conflicting
// public client contract exists in this repo).
const (
	CloseCodeNotFound         = 4404
	CloseCodeCapacityExceeded = 4429
	CloseCodeStaleSubscriber  = 4408
	CloseCodeInternal         = 4500
)

// WireError is the {code, message} pair carried by both WS and SSE error
// frames (§7).
type WireError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ConnectionAckPayload is sent once on attach (§4.6).
type ConnectionAckPayload struct {
	SubscriberID       string   `json:"subscriberId"`
	StreamID           string   `json:"streamId"`
	ServerCapabilities []string `json:"serverCapabilities"`
}

// serverCapabilities advertised on every connection_ack.
var serverCapabilities = []string{"replay", "filter_update", "heartbeat"}

// wsServerFrame is the envelope shape for every WS server→client message
// (§6.1: `{type, event?|error?|metadata?}`).
type wsServerFrame struct {
	Type     string          `json:"type"`
	Event    *model.Event    `json:"event,omitempty"`
	Error    *WireError      `json:"error,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// wsClientFrame is the envelope shape for every WS client→server message.
type wsClientFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// subscribePayload is the client→server "subscribe"/"filter_update" body.
type subscribePayload struct {
	EventTypes  []model.EventType `json:"eventTypes,omitempty"`
	SessionKeys []string          `json:"sessionKeys,omitempty"`
}

func (p subscribePayload) toFilter() model.Filter {
	f := model.Filter{}
	if len(p.EventTypes) > 0 {
		f.EventTypes = make(map[model.EventType]bool, len(p.EventTypes))
		for _, t := range p.EventTypes {
			f.EventTypes[t] = true
		}
	}
	if len(p.SessionKeys) > 0 {
		f.SessionKeys = make(map[string]bool, len(p.SessionKeys))
		for _, k := range p.SessionKeys {
			f.SessionKeys[k] = true
		}
	}
	return f
}

// replayPayload is the client→server "replay" body.
type replayPayload struct {
	FromTimestamp *time.Time        `json:"fromTimestamp,omitempty"`
	MaxEvents     int               `json:"maxEvents,omitempty"`
	EventTypes    []model.EventType `json:"eventTypes,omitempty"`
	BatchSize     int               `json:"batchSize,omitempty"`
}

func ackFrame(ack ConnectionAckPayload) ([]byte, error) {
	metadata, err := json.Marshal(ack)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wsServerFrame{Type: "connection_ack", Metadata: metadata})
}

func eventFrame(ev model.Event) ([]byte, error) {
	return json.Marshal(wsServerFrame{Type: "event", Event: &ev})
}

func errorFrame(code ErrorCode, message string) ([]byte, error) {
	return json.Marshal(wsServerFrame{Type: "error", Error: &WireError{Code: code, Message: message}})
}

func replayCompleteFrame(metadata any) ([]byte, error) {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wsServerFrame{Type: "replay_complete", Metadata: raw})
}

func pongFrame() ([]byte, error) {
	return json.Marshal(wsServerFrame{Type: "pong"})
}
