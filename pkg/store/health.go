package store

import (
	"context"
	"time"
)

// HealthStatus reports a SQLite-backed store's connectivity and connection
// pool statistics. Grounded on the teacher's pkg/database/health.go; the
// MemoryStore backend has no connection pool and is always "healthy".
type HealthStatus struct {
	Status          string        `json:"status"`
	ResponseTime    time.Duration `json:"response_time_ms"`
	OpenConnections int           `json:"open_connections"`
	InUse           int           `json:"in_use"`
	Idle            int           `json:"idle"`
	WaitCount       int64         `json:"wait_count"`
	WaitDuration    time.Duration `json:"wait_duration_ms"`
	MaxOpenConns    int           `json:"max_open_conns"`
}

// Health pings the store's backing database and reports pool statistics.
func (s *SQLiteStore) Health(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()

	if err := s.db.PingContext(ctx); err != nil {
		return &HealthStatus{Status: "unhealthy", ResponseTime: time.Since(start)}, err
	}

	stats := s.db.Stats()
	return &HealthStatus{
		Status:          "healthy",
		ResponseTime:    time.Since(start),
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		WaitCount:       stats.WaitCount,
		WaitDuration:    stats.WaitDuration,
		MaxOpenConns:    stats.MaxOpenConnections,
	}, nil
}

// Health reports MemoryStore as healthy unconditionally: there is no
// connection pool or I/O path that can fail.
func (s *MemoryStore) Health(_ context.Context) (*HealthStatus, error) {
	return &HealthStatus{Status: "healthy"}, nil
}
