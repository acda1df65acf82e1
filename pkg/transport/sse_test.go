package transport

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-project/eventbroker/pkg/dispatch"
	"github.com/tarsy-project/eventbroker/pkg/model"
	"github.com/tarsy-project/eventbroker/pkg/replay"
	"github.com/tarsy-project/eventbroker/pkg/store"
)

func setupSSETest(t *testing.T) (*dispatch.Dispatcher, *httptest.Server) {
	t.Helper()
	st := store.NewMemoryStore()
	require.NoError(t, st.CreateStream(context.Background(), "s1"))

	d := dispatch.New(st, fakeSessions{}, nil, dispatch.Config{
		SendQueueSize:         8,
		MaxSubscribersDefault: 10,
		MaxConnectionsGlobal:  100,
	})
	rsvc := replay.New(st, 50, 0)
	adapter := NewSSEAdapter(d, rsvc, SSEConfig{
		WriteTimeout:      2 * time.Second,
		HeartbeatInterval: time.Hour,
		MaxEventBytes:     64 * 1024,
		ReplayBatchSize:   50,
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = adapter.HandleConnection(r.Context(), w, "s1", Options{MaxSubscribers: 10})
	}))
	t.Cleanup(server.Close)
	return d, server
}

// readSSEEvent reads one `id:\nevent:\ndata:\n\n` frame, returning its event name and data line.
func readSSEEvent(t *testing.T, r *bufio.Reader) (event, data string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimPrefix(line, "event:")
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimPrefix(line, "data:")
		case line == "":
			if event != "" {
				return event, data
			}
		}
	}
}

// A subscriber that only ever receives heartbeats (no events, no inbound
// traffic is even possible over SSE) must still survive multiple heartbeat
// intervals, since each successful heartbeat write refreshes LastSeen (§4.6).
func TestSSE_SurvivesMultipleHeartbeats(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.CreateStream(context.Background(), "s1"))

	d := dispatch.New(st, fakeSessions{}, nil, dispatch.Config{
		SendQueueSize:         8,
		MaxSubscribersDefault: 10,
		MaxConnectionsGlobal:  100,
	})
	rsvc := replay.New(st, 50, 0)
	adapter := NewSSEAdapter(d, rsvc, SSEConfig{
		WriteTimeout:      2 * time.Second,
		HeartbeatInterval: 30 * time.Millisecond,
		MaxEventBytes:     64 * 1024,
		ReplayBatchSize:   50,
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = adapter.HandleConnection(r.Context(), w, "s1", Options{MaxSubscribers: 10})
	}))
	t.Cleanup(server.Close)

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	client := &http.Client{}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	r := bufio.NewReader(resp.Body)
	event, _ := readSSEEvent(t, r)
	assert.Equal(t, "connection_established", event)

	for i := 0; i < 3; i++ {
		event, _ := readSSEEvent(t, r)
		assert.Equal(t, "heartbeat", event)
	}

	data, err := model.NewAiReasoningData(model.AiReasoningPayload{Thought: "still here", Confidence: 0.5})
	require.NoError(t, err)
	ev := model.Event{ID: "e1", Type: model.EventTypeAiReasoning, Timestamp: time.Now().UTC(), SessionKey: "s1", Data: data}
	require.NoError(t, d.Publish(context.Background(), "s1", "s1", ev, 0))

	event, _ = readSSEEvent(t, r)
	assert.Equal(t, "stream_event", event)
}

func TestSSE_ConnectionEstablishedThenEvent(t *testing.T) {
	d, server := setupSSETest(t)

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	client := &http.Client{}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	event, _ := readSSEEvent(t, r)
	assert.Equal(t, "connection_established", event)

	data, err := model.NewAiReasoningData(model.AiReasoningPayload{Thought: "hi", Confidence: 0.9})
	require.NoError(t, err)
	ev := model.Event{ID: "e1", Type: model.EventTypeAiReasoning, Timestamp: time.Now().UTC(), SessionKey: "s1", Data: data}
	require.NoError(t, d.Publish(context.Background(), "s1", "s1", ev, 0))

	event, payload := readSSEEvent(t, r)
	assert.Equal(t, "stream_event", event)
	assert.Contains(t, payload, "AI_REASONING")
}
