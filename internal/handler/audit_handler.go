// internal/handler/audit_handler.go
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/unclebandit/crces-dispatch/internal/controller"
	appErrors "github.com/unclebandit/crces-dispatch/internal/errors"
	"github.com/unclebandit/crces-dispatch/internal/model"
	"github.com/unclebandit/crces-dispatch/internal/service"
)

type AuditHandler struct {
	Service *service.AuditService
	Log     zerolog.Logger
}

func (h *AuditHandler) Routes(r chi.Router) {
	r.Get("/audit/logs", h.LogsHandler)
	r.Get("/audit/stats", h.StatsHandler)
	r.Get("/audit/actions", h.ActionsHandler)
	r.Get("/audit/export", h.ExportHandler)
	r.Post("/audit/logins", h.LoginHandler)
}

// auditFilter reads actor_id, action, resource_type, resource_id, from, to,
// page and page_size from the query string.
func auditFilter(r *http.Request) (model.AuditFilter, error) {
	q := r.URL.Query()
	f := model.AuditFilter{
		ActorID:      q.Get("actor_id"),
		Action:       model.AuditAction(q.Get("action")),
		ResourceType: q.Get("resource_type"),
		ResourceID:   q.Get("resource_id"),
	}
	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, appErrors.NewValidation(name, "must be an RFC 3339 timestamp")
		}
		*dst = &t
	}

	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	f.Limit = pageSize
	f.Offset = (page - 1) * pageSize
	return f, nil
}

func (h *AuditHandler) LogsHandler(w http.ResponseWriter, r *http.Request) {
	f, err := auditFilter(r)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	records, total, err := h.Service.Query(r.Context(), controller.PrincipalFrom(r.Context()), f)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, map[string]any{
		"data":        records,
		"total_count": total,
	})
}

func (h *AuditHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	f, err := auditFilter(r)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	stats, err := h.Service.Stats(r.Context(), controller.PrincipalFrom(r.Context()), f)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, stats)
}

func (h *AuditHandler) ActionsHandler(w http.ResponseWriter, r *http.Request) {
	controller.WriteJSON(w, http.StatusOK, map[string]any{"data": h.Service.Actions()})
}

func (h *AuditHandler) ExportHandler(w http.ResponseWriter, r *http.Request) {
	f, err := auditFilter(r)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	format := r.URL.Query().Get("format")
	body, contentType, err := h.Service.Export(r.Context(), controller.PrincipalFrom(r.Context()), f, format)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}

	ext := "json"
	if contentType == "text/csv" {
		ext = "csv"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="audit-%s.%s"`, time.Now().UTC().Format("20060102-150405"), ext))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// LoginHandler records a login attempt reported by the session service.
func (h *AuditHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID  string `json:"user_id"`
		Name    string `json:"name"`
		Role    string `json:"role"`
		Success bool   `json:"success"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		controller.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	p := &model.Principal{ID: body.UserID, Name: body.Name, Role: body.Role}
	if err := h.Service.RecordLogin(r.Context(), p, body.Success, body.Reason); err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
