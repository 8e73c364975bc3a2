// internal/handler/router.go
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/unclebandit/crces-dispatch/internal/controller"
	"github.com/unclebandit/crces-dispatch/internal/metrics"
	"github.com/unclebandit/crces-dispatch/internal/service"
)

type RouterDeps struct {
	Auth      *controller.Auth
	Campaigns *service.CampaignService
	Templates *service.TemplateService
	Audit     *service.AuditService
	DB        Pinger
	Log       zerolog.Logger

	// ReceiptSecret enables the receipt webhook when set.
	ReceiptSecret string
}

// NewRouter wires every HTTP route. Health and metrics are public, the
// receipt webhook checks a shared secret and the control plane requires a
// bearer token.
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Log))
	r.Use(middleware.Recoverer)

	if d.DB != nil {
		r.Get("/healthz", HealthHandler(d.DB))
	}
	r.Handle("/metrics", metrics.Handler())

	if d.ReceiptSecret != "" {
		receipts := &ReceiptHandler{Campaigns: d.Campaigns, Secret: d.ReceiptSecret, Log: d.Log}
		r.With(receipts.RequireSecret).Post("/webhooks/receipts", receipts.ReceiptsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(d.Auth.Middleware)

		NewCampaignHandler(d.Campaigns, d.Log).Routes(r)
		(&controller.CampaignController{CampaignService: d.Campaigns, Log: d.Log}).Routes(r)
		(&controller.TemplateController{TemplateService: d.Templates, Log: d.Log}).Routes(r)
		(&AuditHandler{Service: d.Audit, Log: d.Log}).Routes(r)
	})
	return r
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
