package validate

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-project/eventbroker/pkg/model"
)

func aiReasoningEvent(t *testing.T, thought string, confidence float64) model.Event {
	t.Helper()
	data, err := model.NewAiReasoningData(model.AiReasoningPayload{Thought: thought, Confidence: confidence})
	require.NoError(t, err)
	return model.Event{
		ID:         "evt_1",
		Type:       model.EventTypeAiReasoning,
		Timestamp:  time.Now().UTC(),
		SessionKey: "s1",
		Data:       data,
	}
}

func TestValidate_AcceptsWellFormedEvent(t *testing.T) {
	ev := aiReasoningEvent(t, "hi", 0.9)
	res, err := Validate(ev, Config{MaxFieldBytes: 8192})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Canonical)
	assert.Empty(t, res.Warnings)
}

func TestValidate_RejectsMissingID(t *testing.T) {
	ev := aiReasoningEvent(t, "hi", 0.9)
	ev.ID = ""
	_, err := Validate(ev, Config{})
	assert.True(t, model.IsValidationError(err))
}

func TestValidate_RejectsUnknownType(t *testing.T) {
	ev := aiReasoningEvent(t, "hi", 0.9)
	ev.Type = "NOT_A_TYPE"
	_, err := Validate(ev, Config{})
	assert.True(t, model.IsValidationError(err))
}

func TestValidate_RejectsOutOfRangeConfidence(t *testing.T) {
	ev := aiReasoningEvent(t, "hi", 1.5)
	_, err := Validate(ev, Config{})
	assert.True(t, model.IsValidationError(err))
}

func TestValidate_RejectsEmptyThought(t *testing.T) {
	ev := aiReasoningEvent(t, "", 0.5)
	_, err := Validate(ev, Config{})
	assert.True(t, model.IsValidationError(err))
}

func TestValidate_RejectsNegativeStepIndex(t *testing.T) {
	ev := aiReasoningEvent(t, "hi", 0.5)
	neg := -1
	ev.StepIndex = &neg
	_, err := Validate(ev, Config{})
	assert.True(t, model.IsValidationError(err))
}

func TestValidate_WarnsOnFutureTimestamp(t *testing.T) {
	ev := aiReasoningEvent(t, "hi", 0.5)
	ev.Timestamp = time.Now().Add(time.Hour)
	res, err := Validate(ev, Config{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Warnings)
}

func TestValidate_WarnsOnStaleTimestamp(t *testing.T) {
	ev := aiReasoningEvent(t, "hi", 0.5)
	ev.Timestamp = time.Now().Add(-48 * time.Hour)
	res, err := Validate(ev, Config{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Warnings)
}

func TestSanitize_StripsControlCharsKeepsTabNewlineCR(t *testing.T) {
	data := []byte("{\"thought\":\"ab\\tc\\nd\\re\\u0007f\"}")
	got := Sanitize(data, 8192)
	assert.NotContains(t, string(got), "\\u0007")
	assert.Contains(t, string(got), `\t`)
	assert.Contains(t, string(got), `\n`)
	assert.Contains(t, string(got), `\r`)
}

func TestSanitize_DropsNULBytes(t *testing.T) {
	data := []byte("{\"thought\":\"a\\u0000b\"}")
	got := Sanitize(data, 8192)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(got, &decoded))
	assert.Equal(t, "ab", decoded["thought"])
}

func TestSanitize_TruncatesLongFieldsWithMarker(t *testing.T) {
	long := strings.Repeat("x", 100)
	data := []byte(`{"thought":"` + long + `"}`)
	got := Sanitize(data, 20)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(got, &decoded))
	assert.LessOrEqual(t, len(decoded["thought"]), 20)
	assert.Contains(t, decoded["thought"], "truncated")
}

func TestSanitize_Idempotent(t *testing.T) {
	long := strings.Repeat("y", 100)
	data := []byte(`{"thought":"a` + long + `"}`)
	once := Sanitize(data, 30)
	twice := Sanitize(once, 30)
	assert.JSONEq(t, string(once), string(twice))
}
