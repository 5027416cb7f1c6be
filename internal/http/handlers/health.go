package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger is satisfied by pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health reports liveness plus database reachability.
func Health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok"}
		code := http.StatusOK
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				status["status"] = "degraded"
				status["database"] = err.Error()
				code = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, status)
	}
}
