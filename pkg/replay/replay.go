// Package replay implements the Replay Service (SPEC_FULL.md §4.7): batched
// historical delivery on reconnect, followed by a ReplayComplete marker
// before the subscriber rejoins live fan-out.
//
// Grounded on the teacher's pkg/events.ConnectionManager.handleCatchup
// (query-then-send-in-order, a catchup-limit/overflow signal to the client)
// generalized from a single flat query-and-send to batched delivery with an
// explicit completion marker, per §4.7 invariant 4 (live events arriving
// during replay must not interleave with the historical batch).
package replay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tarsy-project/eventbroker/pkg/model"
	"github.com/tarsy-project/eventbroker/pkg/store"
)

// Options narrows a replay request (§4.7).
type Options struct {
	FromTimestamp *time.Time
	MaxEvents     int
	EventTypes    map[model.EventType]bool
	BatchSize     int
}

// Result summarizes a completed replay.
type Result struct {
	EventsReplayed        int
	TotalEventsConsidered int
	DurationMS            int64
}

// Sink receives replayed events and the final marker. Implemented by the
// transport adapters so replay stays decoupled from WS/SSE framing.
type Sink interface {
	SendReplayedEvent(ev model.Event) error
	SendReplayComplete(result Result) error
}

const defaultBatchSize = 50

// durationSince returns the whole milliseconds elapsed from start to now;
// the caller supplies now.
func durationSince(start, now time.Time) int64 {
	return now.Sub(start).Milliseconds()
}

// Service runs replay(streamId, subscriber, options) against a Store.
type Service struct {
	store        store.Store
	batchPause   time.Duration
	defaultBatch int
}

// New constructs a replay Service. batchPause is the brief pause between
// batches so a large backfill doesn't starve live fan-out (§4.7 step 3).
func New(st store.Store, defaultBatch int, batchPause time.Duration) *Service {
	if defaultBatch <= 0 {
		defaultBatch = defaultBatchSize
	}
	return &Service{store: st, defaultBatch: defaultBatch, batchPause: batchPause}
}

// Replay executes the procedure in §4.7 against streamID, applying both
// opts' server-side filters and subscriberFilters (the subscriber's own
// attached Filters), delivering matching events to sink in batches.
func (s *Service) Replay(ctx context.Context, streamID string, subscriberFilters []model.Filter, opts Options, sink Sink) (Result, error) {
	start := time.Now().UTC()

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = s.defaultBatch
	}

	stored, err := s.store.QueryRange(ctx, streamID, store.RangeFilter{
		FromTimestamp: opts.FromTimestamp,
		Limit:         opts.MaxEvents,
	})
	if err != nil {
		return Result{}, err
	}

	considered := len(stored)
	replayed := 0

	for i := 0; i < len(stored); i += batchSize {
		end := i + batchSize
		if end > len(stored) {
			end = len(stored)
		}

		for _, row := range stored[i:end] {
			var ev model.Event
			if err := json.Unmarshal(row.Data, &ev); err != nil {
				continue
			}
			if len(opts.EventTypes) > 0 && !opts.EventTypes[ev.Type] {
				continue
			}
			if !model.MatchesAny(subscriberFilters, ev) {
				continue
			}
			if err := sink.SendReplayedEvent(ev); err != nil {
				return Result{}, err
			}
			replayed++
		}

		if end < len(stored) && s.batchPause > 0 {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(s.batchPause):
			}
		}
	}

	result := Result{
		EventsReplayed:        replayed,
		TotalEventsConsidered: considered,
		DurationMS:            durationSince(start, time.Now().UTC()),
	}
	if err := sink.SendReplayComplete(result); err != nil {
		return Result{}, err
	}
	return result, nil
}
