package model

import "encoding/json"

// The wire format nests each typed payload one level deeper under a
// type-specific key (§6.1, e.g. `data.reasoning`, `data.command`). These
// helpers build the Event.Data bytes for each event type; the validator
// uses the matching unwrap helpers to read a payload back out for rule
// checking.

func wrap(key string, v any) (json.RawMessage, error) {
	b, err := json.Marshal(map[string]any{key: v})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func unwrap(key string, data json.RawMessage, v any) error {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	inner, ok := env[key]
	if !ok {
		return &ValidationError{Field: key, Message: "missing"}
	}
	return json.Unmarshal(inner, v)
}

// NewAiReasoningData wraps p as AI_REASONING event data.
func NewAiReasoningData(p AiReasoningPayload) (json.RawMessage, error) {
	return wrap("reasoning", p)
}

// AiReasoning unwraps AI_REASONING event data.
func AiReasoning(data json.RawMessage) (AiReasoningPayload, error) {
	var p AiReasoningPayload
	err := unwrap("reasoning", data, &p)
	return p, err
}

// NewCommandData wraps p as COMMAND_* event data.
func NewCommandData(p CommandPayload) (json.RawMessage, error) {
	return wrap("command", p)
}

// Command unwraps COMMAND_* event data.
func Command(data json.RawMessage) (CommandPayload, error) {
	var p CommandPayload
	err := unwrap("command", data, &p)
	return p, err
}

// NewScreenshotData wraps p as SCREENSHOT_CAPTURED event data.
func NewScreenshotData(p ScreenshotPayload) (json.RawMessage, error) {
	return wrap("screenshot", p)
}

// Screenshot unwraps SCREENSHOT_CAPTURED event data.
func Screenshot(data json.RawMessage) (ScreenshotPayload, error) {
	var p ScreenshotPayload
	err := unwrap("screenshot", data, &p)
	return p, err
}

// NewVariableData wraps p as VARIABLE_UPDATED event data.
func NewVariableData(p VariablePayload) (json.RawMessage, error) {
	return wrap("variable", p)
}

// Variable unwraps VARIABLE_UPDATED event data.
func Variable(data json.RawMessage) (VariablePayload, error) {
	var p VariablePayload
	err := unwrap("variable", data, &p)
	return p, err
}

// NewErrorData wraps p as ERROR_OCCURRED event data.
func NewErrorData(p ErrorPayload) (json.RawMessage, error) {
	return wrap("error", p)
}

// ErrorDetail unwraps ERROR_OCCURRED event data.
func ErrorDetail(data json.RawMessage) (ErrorPayload, error) {
	var p ErrorPayload
	err := unwrap("error", data, &p)
	return p, err
}

// NewSessionStatusData wraps p as SESSION_STATUS event data (no nesting key:
// the spec defines SESSION_STATUS.data directly as {message?, details}).
func NewSessionStatusData(p SessionStatusPayload) (json.RawMessage, error) {
	return json.Marshal(p)
}

// SessionStatus unwraps SESSION_STATUS event data.
func SessionStatus(data json.RawMessage) (SessionStatusPayload, error) {
	var p SessionStatusPayload
	err := json.Unmarshal(data, &p)
	return p, err
}

// NewWarningData encodes p as WARNING_ISSUED event data, with no nesting key.
func NewWarningData(p WarningPayload) (json.RawMessage, error) {
	return json.Marshal(p)
}
