// internal/controller/template_controller.go
package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/unclebandit/crces-dispatch/internal/service"
)

type TemplateController struct {
	TemplateService *service.TemplateService
	Log             zerolog.Logger
}

func (c *TemplateController) Routes(r chi.Router) {
	r.Post("/templates", c.CreateTemplate)
	r.Get("/templates", c.ListTemplates)
	r.Get("/templates/variables", c.Variables)
	r.Get("/templates/{id}", c.GetTemplate)
	r.Put("/templates/{id}", c.UpdateTemplate)
	r.Delete("/templates/{id}", c.DeleteTemplate)
	r.Post("/templates/{id}/preview", c.Preview)
	r.Post("/templates/{id}/test-send", c.TestSend)
}

func (c *TemplateController) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var body service.TemplateInput
	if !decode(w, r, &body) {
		return
	}
	tpl, err := c.TemplateService.Create(r.Context(), PrincipalFrom(r.Context()), body)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusCreated, tpl)
}

// ListTemplates filters by ?channel= and, with ?active=true, hides
// inactive templates.
func (c *TemplateController) ListTemplates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := c.TemplateService.List(r.Context(), PrincipalFrom(r.Context()), q.Get("channel"), q.Get("active") == "true")
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"data": list})
}

func (c *TemplateController) Variables(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"data": c.TemplateService.Variables()})
}

func (c *TemplateController) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := IDParam(w, r)
	if !ok {
		return
	}
	tpl, err := c.TemplateService.Get(r.Context(), PrincipalFrom(r.Context()), id)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, tpl)
}

func (c *TemplateController) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := IDParam(w, r)
	if !ok {
		return
	}
	var body service.TemplateInput
	if !decode(w, r, &body) {
		return
	}
	tpl, err := c.TemplateService.Update(r.Context(), PrincipalFrom(r.Context()), id, body)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, tpl)
}

func (c *TemplateController) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := IDParam(w, r)
	if !ok {
		return
	}
	if err := c.TemplateService.Delete(r.Context(), PrincipalFrom(r.Context()), id); err != nil {
		WriteError(w, c.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Preview renders the template with the sample data overlaid by the
// variables in the body.
func (c *TemplateController) Preview(w http.ResponseWriter, r *http.Request) {
	id, ok := IDParam(w, r)
	if !ok {
		return
	}
	var body struct {
		Variables map[string]string `json:"variables"`
	}
	if r.ContentLength != 0 && !decode(w, r, &body) {
		return
	}
	out, err := c.TemplateService.Preview(r.Context(), PrincipalFrom(r.Context()), id, body.Variables)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

// TestSend delivers the rendered template to the recipient in the body.
// A provider rejection is reported in the outcome, not as an error.
func (c *TemplateController) TestSend(w http.ResponseWriter, r *http.Request) {
	id, ok := IDParam(w, r)
	if !ok {
		return
	}
	var body service.TestSendInput
	if !decode(w, r, &body) {
		return
	}
	out, err := c.TemplateService.TestSend(r.Context(), PrincipalFrom(r.Context()), id, body)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}
