// internal/model/template.go
package model

import "time"

type Template struct {
	ID                int        `db:"id" json:"id"`
	Name              string     `db:"name" json:"name"`
	Channel           Channel    `db:"channel" json:"channel"`
	Subject           string     `db:"subject" json:"subject,omitempty"`
	Body              string     `db:"body" json:"body"`
	RequiredVariables []string   `db:"required_variables" json:"required_variables"`
	Active            bool       `db:"active" json:"active"`
	Version           int        `db:"version" json:"version"`
	CreatedBy         string     `db:"created_by" json:"created_by"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         *time.Time `db:"updated_at" json:"updated_at,omitempty"`
	DeletedAt         *time.Time `db:"deleted_at" json:"-"`
}

// Snapshot freezes the parts of the template a job renders from.
func (t *Template) Snapshot() TemplateSnapshot {
	req := make([]string, len(t.RequiredVariables))
	copy(req, t.RequiredVariables)
	return TemplateSnapshot{
		TemplateID:        t.ID,
		Version:           t.Version,
		Subject:           t.Subject,
		Body:              t.Body,
		RequiredVariables: req,
	}
}

// TemplateSnapshot is stored on each job at campaign start.
type TemplateSnapshot struct {
	TemplateID        int      `json:"template_id"`
	Version           int      `json:"version"`
	Subject           string   `json:"subject,omitempty"`
	Body              string   `json:"body"`
	RequiredVariables []string `json:"required_variables"`
}

// RenderedContent is the final message for one job.
type RenderedContent struct {
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}
