package api

import (
	"time"

	"github.com/tarsy-project/eventbroker/pkg/analytics"
	"github.com/tarsy-project/eventbroker/pkg/model"
	"github.com/tarsy-project/eventbroker/pkg/version"
)

// ErrorBody is the {code, message, details?, retryable, timestamp} shape
// carried by every HTTP error response (§7).
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable"`
	Timestamp string `json:"timestamp"`
}

// ResponseMetadata accompanies both success and error envelopes (§7).
type ResponseMetadata struct {
	RequestID string `json:"requestId"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// ErrorEnvelope is the full HTTP error body: {success:false, error, metadata}.
type ErrorEnvelope struct {
	Success  bool             `json:"success"`
	Error    ErrorBody        `json:"error"`
	Metadata ResponseMetadata `json:"metadata"`
}

func newMetadata(requestID string) ResponseMetadata {
	return ResponseMetadata{
		RequestID: requestID,
		Version:   version.Full(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func newErrorEnvelope(requestID string, body ErrorBody) ErrorEnvelope {
	body.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	return ErrorEnvelope{Success: false, Error: body, Metadata: newMetadata(requestID)}
}

// StreamDetailResponse is returned by GET /api/streams/:streamId (§6.2).
type StreamDetailResponse struct {
	StreamID     string            `json:"streamId"`
	Status       model.Status      `json:"status"`
	ClientCount  int               `json:"clientCount"`
	EventCount   int64             `json:"eventCount"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastActivity time.Time         `json:"lastActivity"`
	Config       model.StreamConfig `json:"config"`
}

// StreamEventsResponse is returned by GET /api/streams/:streamId/events (§6.2).
type StreamEventsResponse struct {
	Events     []model.Event `json:"events"`
	TotalCount int           `json:"totalCount"`
	Limit      int           `json:"limit"`
	Offset     int           `json:"offset"`
}

// HealthResponse is returned by GET /api/health (§6.2): liveness only.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// DetailedHealthResponse is returned by GET /api/health/detailed (§6.2/§4.8).
type DetailedHealthResponse struct {
	Status           string                      `json:"status"`
	Version          string                      `json:"version"`
	Issues           []string                    `json:"issues,omitempty"`
	SuggestedActions []string                    `json:"suggestedActions,omitempty"`
	Metrics          analyticsMetricsView        `json:"metrics"`
	StreamCount      int                         `json:"streamCount"`
	Anomalies        DetailedHealthRegistryView  `json:"registryAnomalies"`
}

// DetailedHealthRegistryView mirrors registry.HealthAnomalies for the wire.
type DetailedHealthRegistryView struct {
	TotalSessions    int      `json:"totalSessions"`
	ActiveSessions   int      `json:"activeSessions"`
	StaleSessions    []string `json:"staleSessions,omitempty"`
	StaleSubscribers int      `json:"staleSubscribers"`
}

type analyticsMetricsView struct {
	TotalEvents       int64                         `json:"totalEvents"`
	TotalBytes        int64                         `json:"totalBytes"`
	TotalErrors       int64                         `json:"totalErrors"`
	ErrorRate         float64                       `json:"errorRate"`
	PeakEPS           float64                       `json:"peakEps"`
	AverageEPS        float64                       `json:"averageEps"`
	CurrentEPS        float64                       `json:"currentEps"`
	AverageEventBytes float64                       `json:"averageEventBytes"`
	UptimeSeconds     float64                       `json:"uptimeSeconds"`
	EventsByType      map[model.EventType]int64     `json:"eventsByType"`
	SubscribersByType map[model.Transport]int64      `json:"subscribersByTransport"`
}

func newMetricsView(m analytics.Metrics) analyticsMetricsView {
	return analyticsMetricsView{
		TotalEvents:       m.TotalEvents,
		TotalBytes:        m.TotalBytes,
		TotalErrors:       m.TotalErrors,
		ErrorRate:         m.ErrorRate,
		PeakEPS:           m.PeakEPS,
		AverageEPS:        m.AverageEPS,
		CurrentEPS:        m.CurrentEPS,
		AverageEventBytes: m.AverageEventBytes,
		UptimeSeconds:     m.Uptime.Seconds(),
		EventsByType:      m.EventsByType,
		SubscribersByType: m.SubscribersByTransport,
	}
}
