package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusInitializing, StatusActive, true},
		{StatusInitializing, StatusCompleted, false},
		{StatusActive, StatusBusy, true},
		{StatusBusy, StatusActive, true},
		{StatusActive, StatusPaused, true},
		{StatusPaused, StatusActive, true},
		{StatusActive, StatusCompleted, true},
		{StatusCompleted, StatusCleanup, true},
		{StatusCleanup, StatusActive, false},
		{StatusCompleted, StatusActive, false},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStatusIsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusCleanup.IsTerminal())
	assert.False(t, StatusActive.IsTerminal())
	assert.False(t, StatusInitializing.IsTerminal())
}

func TestFilterMatches_AndWithinOneFilter(t *testing.T) {
	f := Filter{
		EventTypes:  map[EventType]bool{EventTypeAiReasoning: true},
		SessionKeys: map[string]bool{"s1": true},
	}
	assert.True(t, f.Matches(Event{Type: EventTypeAiReasoning, SessionKey: "s1"}))
	assert.False(t, f.Matches(Event{Type: EventTypeAiReasoning, SessionKey: "s2"}))
	assert.False(t, f.Matches(Event{Type: EventTypeCommandStarted, SessionKey: "s1"}))
}

func TestFilterMatches_TimeRange(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	f := Filter{TimeRangeStart: &start, TimeRangeEnd: &end}
	assert.True(t, f.Matches(Event{Timestamp: start}))
	assert.True(t, f.Matches(Event{Timestamp: end}))
	assert.False(t, f.Matches(Event{Timestamp: start.Add(-time.Second)}))
	assert.False(t, f.Matches(Event{Timestamp: end.Add(time.Second)}))
}

func TestFilterSafeMatches_PanickingPredicateRejects(t *testing.T) {
	f := Filter{CustomPredicate: func(Event) bool { panic("boom") }}
	assert.False(t, f.SafeMatches(Event{}))
}

func TestMatchesAny_OrAcrossFilters(t *testing.T) {
	filters := []Filter{
		{EventTypes: map[EventType]bool{EventTypeAiReasoning: true}},
		{EventTypes: map[EventType]bool{EventTypeCommandStarted: true}},
	}
	assert.True(t, MatchesAny(filters, Event{Type: EventTypeAiReasoning}))
	assert.True(t, MatchesAny(filters, Event{Type: EventTypeCommandStarted}))
	assert.False(t, MatchesAny(filters, Event{Type: EventTypeCommandFailed}))
}

func TestMatchesAny_NoFiltersPassesAll(t *testing.T) {
	assert.True(t, MatchesAny(nil, Event{Type: EventTypeHeartbeat}))
}

func TestAiReasoningWireRoundTrip(t *testing.T) {
	p := AiReasoningPayload{Thought: "hi", Confidence: 0.9, ReasoningType: "deduction"}
	data, err := NewAiReasoningData(p)
	require.NoError(t, err)

	got, err := AiReasoning(data)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestEventMarshalJSON_UsesWireTypeAndISOTimestamp(t *testing.T) {
	ts := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	data, _ := NewAiReasoningData(AiReasoningPayload{Thought: "hi", Confidence: 1})
	ev := Event{ID: "evt_1", Type: EventTypeAiReasoning, Timestamp: ts, SessionKey: "s1", Data: data}

	raw, err := ev.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"AI_REASONING"`)
	assert.Contains(t, string(raw), `"timestamp":"2026-07-30T12:00:00Z"`)
	assert.Contains(t, string(raw), `"sessionId":"s1"`)
}

func TestIsKnownEventType(t *testing.T) {
	assert.True(t, IsKnownEventType(EventTypeAiReasoning))
	assert.False(t, IsKnownEventType(EventType("NOT_A_TYPE")))
}
