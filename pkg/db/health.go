package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthStatus represents the health state of a database connection.
type HealthStatus struct {
	Healthy       bool          `json:"healthy" yaml:"healthy"`
	Latency       time.Duration `json:"latency" yaml:"latency"`
	TotalConns    int32         `json:"totalConns" yaml:"total_conns"`
	IdleConns     int32         `json:"idleConns" yaml:"idle_conns"`
	AcquiredConns int32         `json:"acquiredConns" yaml:"acquired_conns"`
	MaxConns      int32         `json:"maxConns" yaml:"max_conns"`
	Error         string        `json:"error,omitempty" yaml:"error,omitempty"`
}

func (s *HealthStatus) String() string {
	if !s.Healthy {
		return fmt.Sprintf("unhealthy: %s", s.Error)
	}
	return fmt.Sprintf("healthy (latency %s, conns %d/%d, idle %d)",
		s.Latency.Round(time.Microsecond), s.AcquiredConns, s.MaxConns, s.IdleConns)
}

// Check pings the database and reports pool statistics.
func Check(ctx context.Context, pool *pgxpool.Pool) *HealthStatus {
	status := &HealthStatus{}

	if pool == nil {
		status.Error = "pool is nil"
		return status
	}

	start := time.Now()
	err := pool.Ping(ctx)
	status.Latency = time.Since(start)

	if err != nil {
		status.Error = fmt.Sprintf("ping failed: %v", err)
		return status
	}

	stats := pool.Stat()
	status.Healthy = true
	status.TotalConns = stats.TotalConns()
	status.IdleConns = stats.IdleConns()
	status.AcquiredConns = stats.AcquiredConns()
	status.MaxConns = stats.MaxConns()

	return status
}
