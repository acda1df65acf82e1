package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-project/eventbroker/pkg/analytics"
	"github.com/tarsy-project/eventbroker/pkg/config"
	"github.com/tarsy-project/eventbroker/pkg/dispatch"
	"github.com/tarsy-project/eventbroker/pkg/model"
	"github.com/tarsy-project/eventbroker/pkg/registry"
	"github.com/tarsy-project/eventbroker/pkg/replay"
	"github.com/tarsy-project/eventbroker/pkg/store"
	"github.com/tarsy-project/eventbroker/pkg/transport"
)

func setupTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })

	reg := registry.New(100, time.Minute, nil)
	session, err := reg.Create("sess-1", model.StreamConfig{MaxSubscribers: 10})
	require.NoError(t, err)
	require.NoError(t, st.CreateStream(context.Background(), session.StreamID))

	rec := analytics.New(analytics.DefaultThresholds(), nil)
	d := dispatch.New(st, reg, rec, dispatch.Config{
		SendQueueSize: 8, MaxSubscribersDefault: 10, MaxConnectionsGlobal: 100,
	})
	rsvc := replay.New(st, 50, 0)
	ws := transport.NewWSAdapter(d, rsvc, transport.WSConfig{
		WriteTimeout: time.Second, HeartbeatInterval: time.Hour, MaxMessageBytes: 1 << 20, ReplayBatchSize: 50,
	})
	sse := transport.NewSSEAdapter(d, rsvc, transport.SSEConfig{
		WriteTimeout: time.Second, HeartbeatInterval: time.Hour, MaxEventBytes: 64 * 1024, ReplayBatchSize: 50,
	})

	s := NewServer(config.Default(), st, reg, d, rsvc, rec, ws, sse)
	return s, session.StreamID
}

func TestServer_HealthEndpoint(t *testing.T) {
	s, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, analytics.StatusHealthy, body.Status)
}

func TestServer_StreamDetail(t *testing.T) {
	s, streamID := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/streams/"+streamID, nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body StreamDetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, streamID, body.StreamID)
	assert.Equal(t, model.StatusInitializing, body.Status)
}

func TestServer_StreamDetail_UnknownStreamReturnsErrorEnvelope(t *testing.T) {
	s, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/streams/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var envelope ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.False(t, envelope.Success)
	assert.Equal(t, "NOT_FOUND", envelope.Error.Code)
	assert.NotEmpty(t, envelope.Metadata.RequestID)
}

func TestServer_StreamEvents_Paginates(t *testing.T) {
	s, streamID := setupTestServer(t)

	for i := 0; i < 3; i++ {
		data, err := model.NewAiReasoningData(model.AiReasoningPayload{Thought: "t", Confidence: 0.5})
		require.NoError(t, err)
		ev := model.Event{ID: "e" + string(rune('1'+i)), Type: model.EventTypeAiReasoning, Timestamp: time.Now().UTC(), SessionKey: "sess-1", Data: data}
		payload, err := ev.MarshalJSON()
		require.NoError(t, err)
		require.NoError(t, s.store.Append(context.Background(), streamID, ev.ID, payload, 0))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/streams/"+streamID+"/events?limit=2&offset=1", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body StreamEventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.TotalCount)
	assert.Equal(t, 1, body.Offset)
	assert.Equal(t, 2, body.Limit)
	assert.Len(t, body.Events, 2)
}
