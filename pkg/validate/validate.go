// Package validate implements the Event Validator / Serializer (SPEC_FULL.md
// §4.3): structural validation per event type, sanitization, and canonical
// JSON serialization. Grounded on the teacher's pkg/services validation
// conventions (field-scoped ValidationError) generalized from per-service
// checks to one dispatch-on-type validator.
package validate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tarsy-project/eventbroker/pkg/model"
)

// Config bounds sanitization behavior (§4.3; mirrors config.Caps.SanitizeMaxFieldBytes).
type Config struct {
	MaxFieldBytes int
}

// Result is the outcome of Validate: canonical bytes ready for the store,
// plus any non-fatal warnings observed along the way.
type Result struct {
	Canonical []byte
	Warnings  []string
}

// Validate checks ev against the per-type rules in §4.3, sanitizes its
// string fields, and serializes it to canonical JSON. A validation failure
// returns a *model.ValidationError naming the first offending field.
func Validate(ev model.Event, cfg Config) (Result, error) {
	if ev.ID == "" {
		return Result{}, model.NewValidationError("id", "must not be empty")
	}
	if !model.IsKnownEventType(ev.Type) {
		return Result{}, model.NewValidationError("type", fmt.Sprintf("unknown event type %q", ev.Type))
	}
	if ev.Timestamp.IsZero() {
		return Result{}, model.NewValidationError("timestamp", "must be set")
	}
	if ev.SessionKey == "" {
		return Result{}, model.NewValidationError("sessionKey", "must not be empty")
	}
	if len(ev.Data) == 0 {
		return Result{}, model.NewValidationError("data", "payload must be present")
	}
	if ev.StepIndex != nil && *ev.StepIndex < 0 {
		return Result{}, model.NewValidationError("stepIndex", "must be >= 0")
	}

	if err := validatePayload(ev); err != nil {
		return Result{}, err
	}

	var warnings []string
	now := time.Now().UTC()
	if ev.Timestamp.After(now.Add(60 * time.Second)) {
		warnings = append(warnings, "timestamp is more than 60s in the future")
	}
	if ev.Timestamp.Before(now.Add(-24 * time.Hour)) {
		warnings = append(warnings, "timestamp is more than 24h in the past")
	}

	sanitized := ev
	sanitized.Data = Sanitize(ev.Data, cfg.MaxFieldBytes)

	canonical, err := json.Marshal(sanitized)
	if err != nil {
		return Result{}, model.NewSerializationError(err)
	}

	for _, w := range warnings {
		slog.Warn("event validation warning", "event_id", ev.ID, "warning", w)
	}

	return Result{Canonical: canonical, Warnings: warnings}, nil
}

func validatePayload(ev model.Event) error {
	switch ev.Type {
	case model.EventTypeAiReasoning:
		p, err := model.AiReasoning(ev.Data)
		if err != nil {
			return model.NewValidationError("data.reasoning", err.Error())
		}
		if p.Thought == "" {
			return model.NewValidationError("data.reasoning.thought", "must not be empty")
		}
		if p.Confidence < 0 || p.Confidence > 1 {
			return model.NewValidationError("data.reasoning.confidence", "must be in [0,1]")
		}
	case model.EventTypeCommandStarted, model.EventTypeCommandCompleted, model.EventTypeCommandFailed:
		p, err := model.Command(ev.Data)
		if err != nil {
			return model.NewValidationError("data.command", err.Error())
		}
		if p.CommandID == "" {
			return model.NewValidationError("data.command.commandId", "must not be empty")
		}
		if p.Action == "" {
			return model.NewValidationError("data.command.action", "must be present")
		}
		if p.Status == "" {
			return model.NewValidationError("data.command.status", "must be present")
		}
	case model.EventTypeScreenshotCapture:
		p, err := model.Screenshot(ev.Data)
		if err != nil {
			return model.NewValidationError("data.screenshot", err.Error())
		}
		if p.ID == "" {
			return model.NewValidationError("data.screenshot.id", "must not be empty")
		}
		if p.FilePath == "" {
			return model.NewValidationError("data.screenshot.filePath", "must not be empty")
		}
		if p.Dimensions.Width == 0 || p.Dimensions.Height == 0 {
			return model.NewValidationError("data.screenshot.dimensions", "width and height must be present")
		}
	case model.EventTypeVariableUpdated:
		p, err := model.Variable(ev.Data)
		if err != nil {
			return model.NewValidationError("data.variable", err.Error())
		}
		if p.Name == "" {
			return model.NewValidationError("data.variable.name", "must not be empty")
		}
		if p.Value == nil {
			return model.NewValidationError("data.variable.value", "must be defined")
		}
	case model.EventTypeErrorOccurred:
		p, err := model.ErrorDetail(ev.Data)
		if err != nil {
			return model.NewValidationError("data.error", err.Error())
		}
		if p.ID == "" {
			return model.NewValidationError("data.error.id", "must not be empty")
		}
		if p.Code == "" {
			return model.NewValidationError("data.error.code", "must be present")
		}
		if p.Message == "" {
			return model.NewValidationError("data.error.message", "must be present")
		}
	}
	return nil
}
