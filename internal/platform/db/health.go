package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is a snapshot of connection pool counters.
type PoolStats struct {
	TotalConns    int32  `json:"total_conns"`
	IdleConns     int32  `json:"idle_conns"`
	AcquiredConns int32  `json:"acquired_conns"`
	MaxConns      int32  `json:"max_conns"`
	AcquireCount  int64  `json:"acquire_count"`
	AcquireDur    string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) PoolStats {
	stat := pool.Stat()
	return PoolStats{
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
		MaxConns:      stat.MaxConns(),
		AcquireCount:  stat.AcquireCount(),
		AcquireDur:    stat.AcquireDuration().String(),
	}
}

// HealthReport is the body served by HealthHandler.
type HealthReport struct {
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Pool   PoolStats      `json:"pool"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// Healthy reports whether the report should be served with 200.
func (r HealthReport) Healthy() bool { return r.Status == "healthy" }

func buildReport(pingErr error, stats PoolStats, extra map[string]any) HealthReport {
	r := HealthReport{Status: "healthy", Pool: stats, Extra: extra}
	if pingErr != nil {
		r.Status = "unhealthy"
		r.Error = pingErr.Error()
	}
	return r
}

// HealthHandler pings the database and reports pool statistics. The extra
// callback, when set, adds process-level details such as queue depth.
func HealthHandler(pool *pgxpool.Pool, extra func() map[string]any) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		var details map[string]any
		if extra != nil {
			details = extra()
		}
		report := buildReport(pool.Ping(ctx), GetPoolStats(pool), details)
		if !report.Healthy() {
			return c.JSON(http.StatusServiceUnavailable, report)
		}
		return c.JSON(http.StatusOK, report)
	}
}
