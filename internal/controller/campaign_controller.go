// internal/controller/campaign_controller.go
package controller

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/unclebandit/crces-dispatch/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
	Log             zerolog.Logger
}

// Routes mounts the campaign lifecycle endpoints.
func (c *CampaignController) Routes(r chi.Router) {
	r.Post("/campaigns", c.CreateCampaign)
	r.Get("/campaigns", c.ListCampaigns)
	r.Put("/campaigns/{id}", c.UpdateCampaign)
	r.Delete("/campaigns/{id}", c.DeleteCampaign)
	r.Post("/campaigns/{id}/schedule", c.ScheduleCampaign)
	r.Post("/campaigns/{id}/start", c.StartCampaign)
	r.Post("/campaigns/{id}/stop", c.StopCampaign)
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body service.CampaignInput
	if !decode(w, r, &body) {
		return
	}

	campaign, err := c.CampaignService.Create(r.Context(), PrincipalFrom(r.Context()), body)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	channel := r.URL.Query().Get("channel")
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), PrincipalFrom(r.Context()),
		page, pageSize, channel, status)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := IDParam(w, r)
	if !ok {
		return
	}
	var body service.CampaignInput
	if !decode(w, r, &body) {
		return
	}

	campaign, err := c.CampaignService.Update(r.Context(), PrincipalFrom(r.Context()), id, body)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := IDParam(w, r)
	if !ok {
		return
	}
	if err := c.CampaignService.Delete(r.Context(), PrincipalFrom(r.Context()), id); err != nil {
		WriteError(w, c.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *CampaignController) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := IDParam(w, r)
	if !ok {
		return
	}
	var body struct {
		ScheduledAt time.Time `json:"scheduled_at"`
	}
	if !decode(w, r, &body) {
		return
	}

	campaign, err := c.CampaignService.Schedule(r.Context(), PrincipalFrom(r.Context()), id, body.ScheduledAt)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) StartCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := IDParam(w, r)
	if !ok {
		return
	}

	campaign, err := c.CampaignService.Start(r.Context(), PrincipalFrom(r.Context()), id)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]any{
		"campaign_id":     campaign.ID,
		"messages_queued": campaign.Total,
		"status":          campaign.Status,
	})
}

func (c *CampaignController) StopCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := IDParam(w, r)
	if !ok {
		return
	}

	campaign, err := c.CampaignService.Stop(r.Context(), PrincipalFrom(r.Context()), id)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, campaign)
}
