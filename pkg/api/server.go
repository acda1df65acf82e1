// Package api provides the HTTP API for the event broker: stream
// introspection, history pagination, health, and the WebSocket/SSE upgrade
// endpoints.
package api

import (
	"context"
	"net"
	"net/http"
	"runtime"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/tarsy-project/eventbroker/pkg/analytics"
	"github.com/tarsy-project/eventbroker/pkg/config"
	"github.com/tarsy-project/eventbroker/pkg/dispatch"
	"github.com/tarsy-project/eventbroker/pkg/registry"
	"github.com/tarsy-project/eventbroker/pkg/replay"
	"github.com/tarsy-project/eventbroker/pkg/store"
	"github.com/tarsy-project/eventbroker/pkg/transport"
	"github.com/tarsy-project/eventbroker/pkg/version"
)

// Server is the HTTP API server fronting the broker's core components.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	cfg        *config.Config
	store      store.Store
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	replay     *replay.Service
	recorder   *analytics.Recorder
	ws         *transport.WSAdapter
	sse        *transport.SSEAdapter
}

// NewServer wires the broker's components into an Echo v5 router.
func NewServer(
	cfg *config.Config,
	st store.Store,
	reg *registry.Registry,
	d *dispatch.Dispatcher,
	rsvc *replay.Service,
	rec *analytics.Recorder,
	ws *transport.WSAdapter,
	sse *transport.SSEAdapter,
) *Server {
	e := echo.New()
	e.HTTPErrorHandler = newHTTPErrorHandler(e.DefaultHTTPErrorHandler)

	s := &Server{
		echo:       e,
		cfg:        cfg,
		store:      st,
		registry:   reg,
		dispatcher: d,
		replay:     rsvc,
		recorder:   rec,
		ws:         ws,
		sse:        sse,
	}

	s.setupRoutes()
	return s
}

// newHTTPErrorHandler returns an echo.HTTPErrorHandler that renders
// ErrorEnvelope bodies exactly as produced by mapServiceError, falling back
// to echo's default for errors it didn't construct (panics, routing 404s).
func newHTTPErrorHandler(fallback echo.HTTPErrorHandler) echo.HTTPErrorHandler {
	return func(err error, c *echo.Context) {
		he, ok := err.(*echo.HTTPError)
		if !ok {
			fallback(err, c)
			return
		}
		envelope, ok := he.Message.(ErrorEnvelope)
		if !ok {
			fallback(err, c)
			return
		}
		if c.Response().Committed {
			return
		}
		if werr := c.JSON(he.Code, envelope); werr != nil {
			fallback(werr, c)
		}
	}
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.echo.Use(middleware.RequestID())
	s.echo.Use(securityHeaders())

	s.echo.GET("/api/health", s.healthHandler)
	s.echo.GET("/api/health/detailed", s.detailedHealthHandler)

	s.echo.GET("/api/streams/:streamId", s.streamDetailHandler)
	s.echo.GET("/api/streams/:streamId/events", s.streamEventsHandler)

	s.echo.GET("/api/stream/sse/:streamId", s.sseHandler)
	s.echo.GET("/api/stream/ws/:streamId", s.wsHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener. Used
// by tests that want a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts the HTTP server down, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /api/health: liveness only (§6.2).
func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  analytics.StatusHealthy,
		Version: version.Full(),
		Uptime:  s.recorder.Snapshot().Uptime.Round(time.Second).String(),
	})
}

// detailedHealthHandler handles GET /api/health/detailed: full health with
// dependency status (§6.2, §4.8).
func (s *Server) detailedHealthHandler(c *echo.Context) error {
	report := s.recorder.Health(memUsageMB())
	anomalies := s.registry.HealthCheck()

	status := http.StatusOK
	if report.Overall == analytics.StatusCritical {
		status = http.StatusServiceUnavailable
	}

	return c.JSON(status, DetailedHealthResponse{
		Status:           report.Overall,
		Version:          version.Full(),
		Issues:           report.Issues,
		SuggestedActions: report.SuggestedActions,
		Metrics:          newMetricsView(report.Metrics),
		StreamCount:      anomalies.TotalSessions,
		Anomalies: DetailedHealthRegistryView{
			TotalSessions:    anomalies.TotalSessions,
			ActiveSessions:   anomalies.ActiveSessions,
			StaleSessions:    anomalies.StaleSessions,
			StaleSubscribers: anomalies.StaleSubscribers,
		},
	})
}

// memUsageMB reports the process's current heap usage for the memory-budget
// health check (§4.8).
func memUsageMB() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc / (1024 * 1024)
}
