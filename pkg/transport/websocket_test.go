package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-project/eventbroker/pkg/dispatch"
	"github.com/tarsy-project/eventbroker/pkg/model"
	"github.com/tarsy-project/eventbroker/pkg/replay"
	"github.com/tarsy-project/eventbroker/pkg/store"
)

type fakeSessions struct{}

func (fakeSessions) IsAcceptingEvents(string) (model.StreamSession, error) { return model.StreamSession{}, nil }
func (fakeSessions) RecordActivity(string) error                          { return nil }
func (fakeSessions) IncrementEventCount(string) error                     { return nil }

func setupWSTest(t *testing.T) (*dispatch.Dispatcher, store.Store, *httptest.Server) {
	t.Helper()
	st := store.NewMemoryStore()
	require.NoError(t, st.CreateStream(context.Background(), "s1"))

	d := dispatch.New(st, fakeSessions{}, nil, dispatch.Config{
		SendQueueSize:         8,
		MaxSubscribersDefault: 10,
		MaxConnectionsGlobal:  100,
	})
	rsvc := replay.New(st, 50, 0)
	adapter := NewWSAdapter(d, rsvc, WSConfig{
		WriteTimeout:      2 * time.Second,
		HeartbeatInterval: time.Hour, // effectively disabled for this test
		MaxMessageBytes:   1 << 20,
		ReplayBatchSize:   50,
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		adapter.HandleConnection(r.Context(), conn, "s1", Options{MaxSubscribers: 10})
	}))
	t.Cleanup(server.Close)

	return d, st, server
}

func connectWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsServerFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var frame wsServerFrame
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

// S3: connection_ack arrives first, then a published event.
func TestWS_S3_AckThenEvent(t *testing.T) {
	d, _, server := setupWSTest(t)
	conn := connectWS(t, server)

	ack := readFrame(t, conn)
	assert.Equal(t, "connection_ack", ack.Type)

	data, err := model.NewAiReasoningData(model.AiReasoningPayload{Thought: "hi", Confidence: 0.9})
	require.NoError(t, err)
	ev := model.Event{ID: "e1", Type: model.EventTypeAiReasoning, Timestamp: time.Now().UTC(), SessionKey: "s1", Data: data}
	require.NoError(t, d.Publish(context.Background(), "s1", "s1", ev, 0))

	frame := readFrame(t, conn)
	assert.Equal(t, "event", frame.Type)
	require.NotNil(t, frame.Event)
	assert.Equal(t, model.EventTypeAiReasoning, frame.Event.Type)
}

func TestWS_PingPong(t *testing.T) {
	_, _, server := setupWSTest(t)
	conn := connectWS(t, server)
	_ = readFrame(t, conn) // ack

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)))

	frame := readFrame(t, conn)
	assert.Equal(t, "pong", frame.Type)
}

func TestWS_FilterUpdateNarrowsDelivery(t *testing.T) {
	d, _, server := setupWSTest(t)
	conn := connectWS(t, server)
	_ = readFrame(t, conn) // ack

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub := `{"type":"filter_update","payload":{"eventTypes":["COMMAND_STARTED"]}}`
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(sub)))

	// Give the read loop a moment to apply the filter before publishing.
	time.Sleep(50 * time.Millisecond)

	aiData, err := model.NewAiReasoningData(model.AiReasoningPayload{Thought: "t", Confidence: 0.5})
	require.NoError(t, err)
	require.NoError(t, d.Publish(context.Background(), "s1", "s1", model.Event{ID: "e1", Type: model.EventTypeAiReasoning, Timestamp: time.Now().UTC(), SessionKey: "s1", Data: aiData}, 0))

	cmdData, err := model.NewCommandData(model.CommandPayload{CommandID: "c1", Action: "run", Status: "started"})
	require.NoError(t, err)
	require.NoError(t, d.Publish(context.Background(), "s1", "s1", model.Event{ID: "e2", Type: model.EventTypeCommandStarted, Timestamp: time.Now().UTC(), SessionKey: "s1", Data: cmdData}, 0))

	frame := readFrame(t, conn)
	assert.Equal(t, "event", frame.Type)
	require.NotNil(t, frame.Event)
	assert.Equal(t, model.EventTypeCommandStarted, frame.Event.Type)
}

// A passive subscriber that never sends an inbound frame must still survive
// multiple heartbeat intervals, since its pongs are succeeding even though
// readLoop never touches LastSeen (§4.6).
func TestWS_PassiveSubscriberSurvivesHeartbeats(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.CreateStream(context.Background(), "s1"))

	d := dispatch.New(st, fakeSessions{}, nil, dispatch.Config{
		SendQueueSize:         8,
		MaxSubscribersDefault: 10,
		MaxConnectionsGlobal:  100,
	})
	rsvc := replay.New(st, 50, 0)
	adapter := NewWSAdapter(d, rsvc, WSConfig{
		WriteTimeout:      2 * time.Second,
		HeartbeatInterval: 30 * time.Millisecond,
		MaxMessageBytes:   1 << 20,
		ReplayBatchSize:   50,
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		adapter.HandleConnection(r.Context(), conn, "s1", Options{MaxSubscribers: 10})
	}))
	t.Cleanup(server.Close)

	conn := connectWS(t, server)
	_ = readFrame(t, conn) // ack

	// Outlast several heartbeat intervals without ever writing anything
	// inbound; the connection must remain open the whole time.
	time.Sleep(150 * time.Millisecond)

	data, err := model.NewAiReasoningData(model.AiReasoningPayload{Thought: "still alive", Confidence: 0.5})
	require.NoError(t, err)
	ev := model.Event{ID: "e1", Type: model.EventTypeAiReasoning, Timestamp: time.Now().UTC(), SessionKey: "s1", Data: data}
	require.NoError(t, d.Publish(context.Background(), "s1", "s1", ev, 0))

	frame := readFrame(t, conn)
	assert.Equal(t, "event", frame.Type)
}

func TestWS_ReplayThenLiveEvent(t *testing.T) {
	d, st, server := setupWSTest(t)

	seedData, err := model.NewAiReasoningData(model.AiReasoningPayload{Thought: "seed", Confidence: 0.1})
	require.NoError(t, err)
	seedEvent := model.Event{ID: "seed1", Type: model.EventTypeAiReasoning, Timestamp: time.Now().UTC(), SessionKey: "s1", Data: seedData}
	payload, err := seedEvent.MarshalJSON()
	require.NoError(t, err)
	require.NoError(t, st.Append(context.Background(), "s1", seedEvent.ID, payload, 0))

	conn := connectWS(t, server)
	_ = readFrame(t, conn) // ack

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"replay","payload":{}}`)))

	replayed := readFrame(t, conn)
	assert.Equal(t, "event", replayed.Type)
	require.NotNil(t, replayed.Event)
	assert.Equal(t, "seed1", replayed.Event.ID)

	complete := readFrame(t, conn)
	assert.Equal(t, "replay_complete", complete.Type)

	liveData, err := model.NewAiReasoningData(model.AiReasoningPayload{Thought: "live", Confidence: 0.9})
	require.NoError(t, err)
	require.NoError(t, d.Publish(context.Background(), "s1", "s1", model.Event{ID: "live1", Type: model.EventTypeAiReasoning, Timestamp: time.Now().UTC(), SessionKey: "s1", Data: liveData}, 0))

	live := readFrame(t, conn)
	assert.Equal(t, "event", live.Type)
	assert.Equal(t, "live1", live.Event.ID)
}
