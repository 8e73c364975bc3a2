// internal/handler/health_handler.go
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/unclebandit/crces-dispatch/internal/controller"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler reports 503 when the database does not answer a ping.
func HealthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			controller.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		controller.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
