// Package model defines the broker's core data types: events, stream
// sessions, subscribers, and filters (SPEC_FULL.md §3). It has no
// dependency on storage, transport, or HTTP — those packages depend on it.
package model

import (
	"encoding/json"
	"time"
)

// EventType is the closed set of event variants the broker accepts.
type EventType string

const (
	EventTypeAiReasoning       EventType = "AI_REASONING"
	EventTypeCommandStarted    EventType = "COMMAND_STARTED"
	EventTypeCommandCompleted  EventType = "COMMAND_COMPLETED"
	EventTypeCommandFailed     EventType = "COMMAND_FAILED"
	EventTypeScreenshotCapture EventType = "SCREENSHOT_CAPTURED"
	EventTypeVariableUpdated   EventType = "VARIABLE_UPDATED"
	EventTypeSessionStatus     EventType = "SESSION_STATUS"
	EventTypeErrorOccurred     EventType = "ERROR_OCCURRED"
	EventTypeHeartbeat         EventType = "HEARTBEAT"
	EventTypeConnectionAck     EventType = "CONNECTION_ACK"
	EventTypeWarningIssued     EventType = "WARNING_ISSUED"
)

// knownEventTypes backs IsKnownEventType and lists every EventType constant
// above.
var knownEventTypes = map[EventType]bool{
	EventTypeAiReasoning:       true,
	EventTypeCommandStarted:    true,
	EventTypeCommandCompleted:  true,
	EventTypeCommandFailed:     true,
	EventTypeScreenshotCapture: true,
	EventTypeVariableUpdated:   true,
	EventTypeSessionStatus:     true,
	EventTypeErrorOccurred:     true,
	EventTypeHeartbeat:         true,
	EventTypeConnectionAck:     true,
	EventTypeWarningIssued:     true,
}

// IsKnownEventType reports whether t belongs to the closed set of event
// types the validator accepts.
func IsKnownEventType(t EventType) bool {
	return knownEventTypes[t]
}

// Event is the broker's unit of delivery (§3, wire format §6.1).
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	Timestamp  time.Time       `json:"timestamp"`
	SessionKey string          `json:"sessionId"`
	StepIndex  *int            `json:"stepIndex,omitempty"`
	Data       json.RawMessage `json:"data"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}

// MarshalJSON renders the canonical wire format: ISO-8601 UTC timestamp and
// the event type as its wire string.
func (e Event) MarshalJSON() ([]byte, error) {
	type wire Event
	alias := wire(e)
	return json.Marshal(struct {
		wire
		Timestamp string `json:"timestamp"`
	}{
		wire:      alias,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

// AiReasoningPayload is Event.Data for EventTypeAiReasoning.
type AiReasoningPayload struct {
	Thought       string         `json:"thought"`
	Confidence    float64        `json:"confidence"`
	ReasoningType string         `json:"reasoningType,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
}

// CommandPayload is Event.Data for COMMAND_STARTED/COMPLETED/FAILED.
type CommandPayload struct {
	CommandID  string         `json:"commandId"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Status     string         `json:"status"`
	DurationMs *int64         `json:"duration,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
}

// Dimensions is the width/height pair attached to a screenshot payload.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ScreenshotPayload is Event.Data for EventTypeScreenshotCapture.
type ScreenshotPayload struct {
	ID         string     `json:"id"`
	SessionKey string     `json:"sessionId"`
	StepIndex  int        `json:"stepIndex"`
	ActionType string     `json:"actionType"`
	Timestamp  time.Time  `json:"timestamp"`
	FilePath   string     `json:"filePath"`
	Dimensions Dimensions `json:"dimensions"`
	FileSize   int64      `json:"fileSize"`
}

// VariablePayload is Event.Data for EventTypeVariableUpdated.
type VariablePayload struct {
	Name          string    `json:"name"`
	Value         any       `json:"value"`
	PreviousValue any       `json:"previousValue,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	SessionKey    string    `json:"sessionId"`
	Source        string    `json:"source,omitempty"`
}

// ErrorPayload is Event.Data for EventTypeErrorOccurred.
type ErrorPayload struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Message     string    `json:"message"`
	ModuleID    string    `json:"moduleId,omitempty"`
	Recoverable bool      `json:"recoverable"`
	Retryable   bool      `json:"retryable"`
	Timestamp   time.Time `json:"timestamp"`
}

// SessionStatusDetails is the nested "details" object of a SESSION_STATUS
// payload.
type SessionStatusDetails struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// SessionStatusPayload is Event.Data for EventTypeSessionStatus.
type SessionStatusPayload struct {
	Message string               `json:"message,omitempty"`
	Details SessionStatusDetails `json:"details"`
}

// WarningPayload is Event.Data for EventTypeWarningIssued.
type WarningPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
