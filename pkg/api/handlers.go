package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/tarsy-project/eventbroker/pkg/model"
	"github.com/tarsy-project/eventbroker/pkg/store"
	"github.com/tarsy-project/eventbroker/pkg/transport"
)

const maxEventsPageSize = 1000

func requestID(c *echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}

// streamDetailHandler handles GET /api/streams/:streamId (§6.2).
func (s *Server) streamDetailHandler(c *echo.Context) error {
	streamID := c.Param("streamId")

	session, err := s.registry.GetByStreamID(streamID)
	if err != nil {
		return mapServiceError(requestID(c), err)
	}

	meta, err := s.store.Meta(c.Request().Context(), streamID)
	if err != nil {
		return mapServiceError(requestID(c), err)
	}

	return c.JSON(http.StatusOK, StreamDetailResponse{
		StreamID:     streamID,
		Status:       session.Status,
		ClientCount:  len(s.dispatcher.Subscribers(streamID)),
		EventCount:   meta.EventCount,
		CreatedAt:    meta.CreatedAt,
		LastActivity: meta.LastAccessedAt,
		Config:       session.Config,
	})
}

// streamEventsHandler handles GET /api/streams/:streamId/events (§6.2):
// paginated history filtered by types/time range.
func (s *Server) streamEventsHandler(c *echo.Context) error {
	streamID := c.Param("streamId")

	if _, err := s.registry.GetByStreamID(streamID); err != nil {
		return mapServiceError(requestID(c), err)
	}

	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxEventsPageSize {
		limit = maxEventsPageSize
	}

	offset := 0
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	var types map[model.EventType]bool
	if v := c.QueryParam("types"); v != "" {
		types = make(map[model.EventType]bool)
		for _, t := range strings.Split(v, ",") {
			types[model.EventType(strings.TrimSpace(t))] = true
		}
	}

	var startTime, endTime *time.Time
	if v := c.QueryParam("startTime"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return mapServiceError(requestID(c), model.NewValidationError("startTime", "must be RFC3339"))
		}
		startTime = &t
	}
	if v := c.QueryParam("endTime"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return mapServiceError(requestID(c), model.NewValidationError("endTime", "must be RFC3339"))
		}
		endTime = &t
	}

	stored, err := s.store.QueryRange(c.Request().Context(), streamID, store.RangeFilter{FromTimestamp: startTime})
	if err != nil {
		return mapServiceError(requestID(c), err)
	}

	events := make([]model.Event, 0, len(stored))
	for _, row := range stored {
		var ev model.Event
		if err := json.Unmarshal(row.Data, &ev); err != nil {
			continue
		}
		if endTime != nil && ev.Timestamp.After(*endTime) {
			continue
		}
		if len(types) > 0 && !types[ev.Type] {
			continue
		}
		events = append(events, ev)
	}

	total := len(events)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	return c.JSON(http.StatusOK, StreamEventsResponse{
		Events:     events[offset:end],
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
	})
}

// optionsFromQuery parses the `?filters&includeHistory&historyLimit` query
// string shared by both transport endpoints (§6.2).
func optionsFromQuery(c *echo.Context, maxSubscribers int) (transport.Options, error) {
	opts := transport.Options{MaxSubscribers: maxSubscribers}

	if v := c.QueryParam("includeHistory"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, model.NewValidationError("includeHistory", "must be a boolean")
		}
		opts.IncludeHistory = b
	}
	if v := c.QueryParam("historyLimit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, model.NewValidationError("historyLimit", "must be a non-negative integer")
		}
		opts.HistoryLimit = n
	}
	if v := c.QueryParam("filters"); v != "" {
		f := model.Filter{EventTypes: map[model.EventType]bool{}}
		for _, t := range strings.Split(v, ",") {
			f.EventTypes[model.EventType(strings.TrimSpace(t))] = true
		}
		opts.Filters = []model.Filter{f}
	}
	return opts, nil
}

// wsHandler handles WS /api/stream/ws/:streamId (§6.2).
func (s *Server) wsHandler(c *echo.Context) error {
	streamID := c.Param("streamId")
	session, err := s.registry.GetByStreamID(streamID)
	if err != nil {
		return mapServiceError(requestID(c), err)
	}

	opts, err := optionsFromQuery(c, session.Config.MaxSubscribers)
	if err != nil {
		return mapServiceError(requestID(c), err)
	}

	conn, err := acceptWebSocket(c)
	if err != nil {
		return err
	}
	return s.ws.HandleConnection(c.Request().Context(), conn, streamID, opts)
}

// sseHandler handles GET /api/stream/sse/:streamId (§6.2).
func (s *Server) sseHandler(c *echo.Context) error {
	streamID := c.Param("streamId")
	session, err := s.registry.GetByStreamID(streamID)
	if err != nil {
		return mapServiceError(requestID(c), err)
	}

	opts, err := optionsFromQuery(c, session.Config.MaxSubscribers)
	if err != nil {
		return mapServiceError(requestID(c), err)
	}

	return s.sse.HandleConnection(c.Request().Context(), c.Response(), streamID, opts)
}
