package api

import (
	"fmt"
	"net/http"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-project/eventbroker/pkg/model"
)

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
		expectWire string
	}{
		{
			name:       "validation error maps to 400",
			err:        model.NewValidationError("eventTypes", "unknown type"),
			expectCode: http.StatusBadRequest,
			expectWire: "VALIDATION",
		},
		{
			name:       "not found maps to 404",
			err:        fmt.Errorf("wrapped: %w", model.ErrNotFound),
			expectCode: http.StatusNotFound,
			expectWire: "NOT_FOUND",
		},
		{
			name:       "already exists maps to 409",
			err:        fmt.Errorf("wrapped: %w", model.ErrAlreadyExists),
			expectCode: http.StatusConflict,
			expectWire: "ALREADY_EXISTS",
		},
		{
			name:       "capacity exceeded maps to 429 and retryable",
			err:        model.ErrCapacityExceeded,
			expectCode: http.StatusTooManyRequests,
			expectWire: "CAPACITY_EXCEEDED",
		},
		{
			name:       "session not active maps to 409",
			err:        model.ErrSessionNotActive,
			expectCode: http.StatusConflict,
			expectWire: "SESSION_NOT_ACTIVE",
		},
		{
			name:       "storage error maps to 500",
			err:        model.NewStorageError("publish", fmt.Errorf("disk full")),
			expectCode: http.StatusInternalServerError,
			expectWire: "STORAGE",
		},
		{
			name:       "unknown error maps to 500/INTERNAL",
			err:        fmt.Errorf("something unexpected happened"),
			expectCode: http.StatusInternalServerError,
			expectWire: "INTERNAL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := mapServiceError("req-1", tt.err)
			require.IsType(t, &echo.HTTPError{}, he)
			assert.Equal(t, tt.expectCode, he.Code)

			envelope, ok := he.Message.(ErrorEnvelope)
			require.True(t, ok, "message should be an ErrorEnvelope")
			assert.False(t, envelope.Success)
			assert.Equal(t, tt.expectWire, envelope.Error.Code)
			assert.Equal(t, "req-1", envelope.Metadata.RequestID)
		})
	}
}

func TestMapServiceError_RetryableFlags(t *testing.T) {
	he := mapServiceError("req-2", model.ErrCapacityExceeded)
	envelope := he.Message.(ErrorEnvelope)
	assert.True(t, envelope.Error.Retryable)

	he = mapServiceError("req-3", model.NewValidationError("f", "bad"))
	envelope = he.Message.(ErrorEnvelope)
	assert.False(t, envelope.Error.Retryable)
}
