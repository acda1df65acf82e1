// Package analytics implements Analytics & Health (SPEC_FULL.md §4.8):
// event/byte/error counters, rolling events-per-second samples, and health
// status aggregation. It implements dispatch.Recorder so the dispatcher can
// report activity without depending on this package directly.
//
// Grounded on the teacher's pkg/api/handler_health.go (checks map, overall
// status derived from per-component health) and pkg/queue's Health()
// aggregation shape (a poolHealth struct degrading overall status), adapted
// from "database + worker pool" checks to "error rate + stale subscribers +
// memory budget" per §4.8's thresholds.
package analytics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tarsy-project/eventbroker/pkg/model"
)

// Overall health classifications (§4.8).
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

const sampleResolution = 10 * time.Second

// sample is one 10-second events-per-second bucket.
type sample struct {
	bucketStart time.Time
	count       int64
}

// Thresholds configures health classification (§4.8).
type Thresholds struct {
	ErrorRateWarning float64 // fraction, e.g. 0.05 for 5%
	MemoryBudgetMB   uint64
}

// DefaultThresholds returns the spec's named thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{ErrorRateWarning: 0.05, MemoryBudgetMB: 512}
}

// StaleSubscriberChecker reports subscribers that have gone quiet, supplied
// by the dispatcher/registry so analytics never imports them directly.
type StaleSubscriberChecker func(threshold time.Duration) int

// Recorder is the counters/metrics collector. Safe for concurrent use.
type Recorder struct {
	startedAt      time.Time
	thresh         Thresholds
	staleFn        StaleSubscriberChecker
	staleThreshold time.Duration

	totalEvents   int64
	totalBytes    int64
	totalErrors   int64
	byType        sync.Map // model.EventType -> *int64
	byTransport   sync.Map // model.Transport -> *int64 (current attached count)

	mu         sync.Mutex
	samples    []sample
	curBucket  time.Time
	curCount   int64
}

// New constructs a Recorder. staleFn may be nil (no stale-subscriber check).
func New(thresh Thresholds, staleFn StaleSubscriberChecker) *Recorder {
	return &Recorder{
		startedAt: time.Now().UTC(),
		thresh:    thresh,
		staleFn:   staleFn,
	}
}

// SetStaleSubscriberChecker wires fn as Health's stale-subscriber source,
// checked against threshold (2×heartbeatInterval per §4.8). Intended to be
// called once during startup, after the Dispatcher exists, since the
// Dispatcher itself depends on the Recorder at construction time.
func (r *Recorder) SetStaleSubscriberChecker(threshold time.Duration, fn StaleSubscriberChecker) {
	r.staleThreshold = threshold
	r.staleFn = fn
}

// RecordPublished implements dispatch.Recorder.
func (r *Recorder) RecordPublished(eventType model.EventType, bytes int) {
	atomic.AddInt64(&r.totalEvents, 1)
	atomic.AddInt64(&r.totalBytes, int64(bytes))
	r.bumpType(eventType)
	r.bumpEPS()
}

// RecordError implements dispatch.Recorder.
func (r *Recorder) RecordError() {
	atomic.AddInt64(&r.totalErrors, 1)
}

// RecordSubscriberAttached implements dispatch.Recorder.
func (r *Recorder) RecordSubscriberAttached(transport model.Transport) {
	r.bumpTransport(transport, 1)
}

// RecordSubscriberDetached implements dispatch.Recorder.
func (r *Recorder) RecordSubscriberDetached(transport model.Transport) {
	r.bumpTransport(transport, -1)
}

func (r *Recorder) bumpType(t model.EventType) {
	v, _ := r.byType.LoadOrStore(t, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func (r *Recorder) bumpTransport(t model.Transport, delta int64) {
	v, _ := r.byTransport.LoadOrStore(t, new(int64))
	atomic.AddInt64(v.(*int64), delta)
}

// bumpEPS rolls the current 10-second bucket forward if stale and
// increments its count, used to derive peak/average/current EPS.
func (r *Recorder) bumpEPS() {
	now := time.Now().UTC()
	bucket := now.Truncate(sampleResolution)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.curBucket.IsZero() {
		r.curBucket = bucket
	}
	if !bucket.Equal(r.curBucket) {
		r.samples = append(r.samples, sample{bucketStart: r.curBucket, count: r.curCount})
		if len(r.samples) > 360 { // keep the last hour of 10s samples
			r.samples = r.samples[len(r.samples)-360:]
		}
		r.curBucket = bucket
		r.curCount = 0
	}
	r.curCount++
}

// Metrics is the derived-metrics snapshot (§4.8).
type Metrics struct {
	TotalEvents       int64
	TotalBytes        int64
	TotalErrors       int64
	EventsByType      map[model.EventType]int64
	SubscribersByTransport map[model.Transport]int64
	ErrorRate         float64
	PeakEPS           float64
	AverageEPS        float64
	CurrentEPS        float64
	AverageEventBytes float64
	Uptime            time.Duration
}

// Snapshot computes the current derived metrics (§4.8).
func (r *Recorder) Snapshot() Metrics {
	now := time.Now().UTC()
	total := atomic.LoadInt64(&r.totalEvents)
	errs := atomic.LoadInt64(&r.totalErrors)
	bytes := atomic.LoadInt64(&r.totalBytes)
	uptime := now.Sub(r.startedAt)

	m := Metrics{
		TotalEvents:            total,
		TotalBytes:             bytes,
		TotalErrors:            errs,
		EventsByType:           map[model.EventType]int64{},
		SubscribersByTransport: map[model.Transport]int64{},
		Uptime:                 uptime,
	}
	r.byType.Range(func(k, v any) bool {
		m.EventsByType[k.(model.EventType)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	r.byTransport.Range(func(k, v any) bool {
		m.SubscribersByTransport[k.(model.Transport)] = atomic.LoadInt64(v.(*int64))
		return true
	})

	if total > 0 {
		m.ErrorRate = float64(errs) / float64(total)
		m.AverageEventBytes = float64(bytes) / float64(total)
	}
	if uptime > 0 {
		m.AverageEPS = float64(total) / uptime.Seconds()
	}

	r.mu.Lock()
	peak := float64(r.curCount) / sampleResolution.Seconds()
	current := peak
	for _, s := range r.samples {
		eps := float64(s.count) / sampleResolution.Seconds()
		if eps > peak {
			peak = eps
		}
	}
	r.mu.Unlock()
	m.PeakEPS = peak
	m.CurrentEPS = current

	return m
}

// HealthReport is the health endpoint payload (§4.8).
type HealthReport struct {
	Overall          string
	Issues           []string
	SuggestedActions []string
	Metrics          Metrics
}

// Health aggregates Snapshot plus stale-subscriber/memory checks into an
// overall healthy/warning/critical verdict.
func (r *Recorder) Health(memUsageMB uint64) HealthReport {
	m := r.Snapshot()
	report := HealthReport{Overall: StatusHealthy, Metrics: m}

	if m.ErrorRate > r.thresh.ErrorRateWarning {
		report.Overall = StatusWarning
		report.Issues = append(report.Issues, "error rate "+humanize.Ftoa(m.ErrorRate*100)+"% exceeds threshold")
		report.SuggestedActions = append(report.SuggestedActions, "inspect recent publish errors in logs")
	}

	if r.staleFn != nil {
		threshold := r.staleThreshold
		if threshold <= 0 {
			threshold = 2 * defaultHeartbeatInterval
		}
		if stale := r.staleFn(threshold); stale > 0 {
			if report.Overall == StatusHealthy {
				report.Overall = StatusWarning
			}
			report.Issues = append(report.Issues, humanize.Comma(int64(stale))+" stale subscriber(s) detected")
			report.SuggestedActions = append(report.SuggestedActions, "check heartbeat delivery on affected transports")
		}
	}

	if r.thresh.MemoryBudgetMB > 0 && memUsageMB > r.thresh.MemoryBudgetMB {
		report.Overall = StatusCritical
		report.Issues = append(report.Issues, "memory usage "+humanize.Bytes(memUsageMB*1024*1024)+
			" exceeds budget "+humanize.Bytes(r.thresh.MemoryBudgetMB*1024*1024))
		report.SuggestedActions = append(report.SuggestedActions, "reduce retention caps or scale out")
	}

	return report
}

// defaultHeartbeatInterval mirrors config.StreamDefaults.HeartbeatInterval's
// built-in default; the threshold passed to SetStaleSubscriberChecker
// replaces it.
const defaultHeartbeatInterval = 15 * time.Second
