package database

import (
	"context"
	"time"
)

// HealthStatus describes connectivity and pool usage for the health endpoint.
type HealthStatus struct {
	Healthy         bool          `json:"healthy"`
	Error           string        `json:"error,omitempty"`
	PingLatency     time.Duration `json:"ping_latency_ns"`
	OpenConnections int           `json:"open_connections"`
	InUse           int           `json:"in_use"`
	Idle            int           `json:"idle"`
}

// Health pings the database and reports pool statistics.
func (c *Client) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	err := c.db.PingContext(ctx)
	latency := time.Since(start)

	stats := c.db.Stats()
	status := HealthStatus{
		Healthy:         err == nil,
		PingLatency:     latency,
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
	}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}
