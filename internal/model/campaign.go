// internal/model/campaign.go
package model

import "time"

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignRunning   CampaignStatus = "running"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignCompleted || s == CampaignFailed || s == CampaignCancelled
}

// Deletable reports whether a campaign in this status may be deleted.
func (s CampaignStatus) Deletable() bool {
	return s == CampaignDraft || s.Terminal()
}

// Editable reports whether name, templates and target may still change.
func (s CampaignStatus) Editable() bool {
	return s == CampaignDraft || s == CampaignScheduled
}

type Campaign struct {
	ID                 int            `db:"id" json:"id"`
	Name               string         `db:"name" json:"name"`
	Description        string         `db:"description" json:"description,omitempty"`
	Channel            Channel        `db:"channel" json:"channel"`
	EmailTemplateID    *int           `db:"email_template_id" json:"email_template_id,omitempty"`
	WhatsAppTemplateID *int           `db:"whatsapp_template_id" json:"whatsapp_template_id,omitempty"`
	TargetSetID        int            `db:"target_set_id" json:"target_set_id"`
	Status             CampaignStatus `db:"status" json:"status"`
	Degraded           bool           `db:"degraded" json:"degraded"`
	ScheduledAt        *time.Time     `db:"scheduled_at" json:"scheduled_at,omitempty"`
	CreatedBy          string         `db:"created_by" json:"created_by"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
	StartedAt          *time.Time     `db:"started_at" json:"started_at,omitempty"`
	CompletedAt        *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	DeletedAt          *time.Time     `db:"deleted_at" json:"-"`
	Counters
}

// TemplateFor returns the template reference used for the given channel.
func (c *Campaign) TemplateFor(ch Channel) *int {
	switch ch {
	case ChannelEmail:
		return c.EmailTemplateID
	case ChannelWhatsApp:
		return c.WhatsAppTemplateID
	}
	return nil
}

// Counters are the aggregate progress numbers of a campaign.
type Counters struct {
	Total     int `db:"total" json:"total"`
	Sent      int `db:"sent" json:"sent"`
	Delivered int `db:"delivered" json:"delivered"`
	Failed    int `db:"failed" json:"failed"`
	Skipped   int `db:"skipped" json:"skipped"`
}

// Settled is the number of jobs that reached sent, failed or skipped.
func (c Counters) Settled() int {
	return c.Sent + c.Failed + c.Skipped
}

// Add returns the counters incremented by d.
func (c Counters) Add(d ProgressDelta) Counters {
	c.Sent += d.Sent
	c.Delivered += d.Delivered
	c.Failed += d.Failed
	c.Skipped += d.Skipped
	return c
}

// ProgressDelta is what a worker reports after settling one job.
type ProgressDelta struct {
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

func (d ProgressDelta) IsZero() bool {
	return d == ProgressDelta{}
}

func (d ProgressDelta) Add(o ProgressDelta) ProgressDelta {
	d.Sent += o.Sent
	d.Delivered += o.Delivered
	d.Failed += o.Failed
	d.Skipped += o.Skipped
	return d
}

// CampaignStats is the dashboard summary across all campaigns.
type CampaignStats struct {
	Total          int     `json:"total"`
	Draft          int     `json:"draft"`
	Scheduled      int     `json:"scheduled"`
	Running        int     `json:"running"`
	Completed      int     `json:"completed"`
	Failed         int     `json:"failed"`
	Cancelled      int     `json:"cancelled"`
	TotalSent      int     `json:"total_sent"`
	TotalDelivered int     `json:"total_delivered"`
	TotalFailed    int     `json:"total_failed"`
	SuccessRate    float64 `json:"success_rate"`
}
