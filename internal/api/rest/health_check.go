package rest

import (
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Time   time.Time         `json:"time"`
}

// handleHealthz reports liveness of the process and its backing stores.
func handleHealthz(db *pgxpool.Pool, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{
			Status: "ok",
			Checks: map[string]string{"database": "ok", "redis": "ok"},
			Time:   time.Now().UTC(),
		}
		code := http.StatusOK

		if err := db.Ping(r.Context()); err != nil {
			status.Status = "degraded"
			status.Checks["database"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			status.Status = "degraded"
			status.Checks["redis"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}
}
