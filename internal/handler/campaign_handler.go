// internal/handler/campaign_handler.go
package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/unclebandit/crces-dispatch/internal/controller"
	"github.com/unclebandit/crces-dispatch/internal/service"
)

// CampaignHandler serves the read-only campaign reports.
type CampaignHandler struct {
	Service *service.CampaignService
	Log     zerolog.Logger
}

// NewCampaignHandler creates a new CampaignHandler with the given service
func NewCampaignHandler(svc *service.CampaignService, log zerolog.Logger) *CampaignHandler {
	return &CampaignHandler{Service: svc, Log: log}
}

func (h *CampaignHandler) Routes(r chi.Router) {
	r.Get("/campaigns/stats", h.StatsHandler)
	r.Get("/campaigns/{id}", h.GetCampaignHandlerWithStats)
	r.Get("/campaigns/{id}/failures", h.FailuresHandler)
	r.Get("/campaigns/{id}/ledger", h.LedgerHandler)
	r.Get("/campaigns/{id}/recipients", h.RecipientsHandler)
}

// GetCampaignHandlerWithStats returns a campaign with its job counts.
func (h *CampaignHandler) GetCampaignHandlerWithStats(w http.ResponseWriter, r *http.Request) {
	id, ok := controller.IDParam(w, r)
	if !ok {
		return
	}

	details, err := h.Service.GetCampaignDetailsWithStats(r.Context(), controller.PrincipalFrom(r.Context()), id)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}

	h.Log.Debug().Int("campaign_id", id).Str("status", string(details.Status)).Msg("campaign details served")
	controller.WriteJSON(w, http.StatusOK, details)
}

// StatsHandler returns the dashboard summary across all campaigns.
func (h *CampaignHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Service.Stats(r.Context(), controller.PrincipalFrom(r.Context()))
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, stats)
}

// FailuresHandler lists failed and skipped jobs with their reasons.
func (h *CampaignHandler) FailuresHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := controller.IDParam(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	failures, err := h.Service.Failures(r.Context(), controller.PrincipalFrom(r.Context()), id, limit)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, map[string]any{"campaign_id": id, "data": failures})
}

// LedgerHandler pages through the campaign's ledger entries, filtered by
// ?outcome= when set.
func (h *CampaignHandler) LedgerHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := controller.IDParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))

	out, err := h.Service.LedgerEntries(r.Context(), controller.PrincipalFrom(r.Context()), id, page, pageSize, q.Get("outcome"))
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, out)
}

// RecipientsHandler previews the contacts the campaign targets. ?limit=
// caps the sample.
func (h *CampaignHandler) RecipientsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := controller.IDParam(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	out, err := h.Service.Recipients(r.Context(), controller.PrincipalFrom(r.Context()), id, limit)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, out)
}
