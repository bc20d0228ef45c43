package db

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// CheckFunc is an additional named dependency check reported by the health endpoint.
type CheckFunc func(ctx context.Context) error

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler pings the pool and runs the extra checks. Any failure turns
// the response into a 503.
func HealthHandler(pool *pgxpool.Pool, checks map[string]CheckFunc) echo.HandlerFunc {
	return healthHandler(pool, func() *PoolStats { return GetPoolStats(pool) }, checks)
}

func healthHandler(p pinger, stats func() *PoolStats, checks map[string]CheckFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		healthy := true
		body := map[string]interface{}{}

		if err := p.Ping(ctx); err != nil {
			healthy = false
			body["error"] = err.Error()
		}
		if stats != nil {
			s := stats()
			s.Healthy = s.Healthy && healthy
			body["pool"] = s
		}

		names := make([]string, 0, len(checks))
		for name := range checks {
			names = append(names, name)
		}
		sort.Strings(names)
		results := make(map[string]string, len(checks))
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				healthy = false
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}
		if len(results) > 0 {
			body["checks"] = results
		}

		status := http.StatusOK
		body["status"] = "healthy"
		if !healthy {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
		}
		return c.JSON(status, body)
	}
}
