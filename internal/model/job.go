// internal/model/job.go
package model

import "time"

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobInFlight  JobStatus = "in_flight"
	JobSent      JobStatus = "sent"
	JobDelivered JobStatus = "delivered"
	JobFailed    JobStatus = "failed"
	JobSkipped   JobStatus = "skipped"
)

// Terminal statuses never change again.
func (s JobStatus) Terminal() bool {
	return s == JobDelivered || s == JobFailed || s == JobSkipped
}

// Settled statuses count towards campaign completion. A sent job may
// still be promoted to delivered by a receipt.
func (s JobStatus) Settled() bool {
	return s == JobSent || s.Terminal()
}

// Delta is the campaign progress contributed by a job settling in s.
func (s JobStatus) Delta() ProgressDelta {
	switch s {
	case JobSent:
		return ProgressDelta{Sent: 1}
	case JobDelivered:
		return ProgressDelta{Sent: 1, Delivered: 1}
	case JobFailed:
		return ProgressDelta{Failed: 1}
	case JobSkipped:
		return ProgressDelta{Skipped: 1}
	}
	return ProgressDelta{}
}

const SkipReasonCancelled = "campaign cancelled"

// DispatchJob is one message to one contact on one channel.
type DispatchJob struct {
	ID             int               `db:"id" json:"id"`
	CampaignID     int               `db:"campaign_id" json:"campaign_id"`
	ContactID      int               `db:"contact_id" json:"contact_id"`
	Channel        Channel           `db:"channel" json:"channel"`
	Status         JobStatus         `db:"status" json:"status"`
	Attempts       int               `db:"attempts" json:"attempts"`
	LastError      string            `db:"last_error" json:"last_error,omitempty"`
	Address        string            `db:"address" json:"address"`
	Template       TemplateSnapshot  `db:"template_snapshot" json:"template"`
	Variables      map[string]string `db:"variables" json:"variables"`
	Rendered       *RenderedContent  `db:"rendered" json:"rendered,omitempty"`
	ProviderRef    string            `db:"provider_ref" json:"provider_ref,omitempty"`
	LeaseOwner     string            `db:"lease_owner" json:"-"`
	LeaseToken     string            `db:"lease_token" json:"-"`
	LeaseExpiresAt *time.Time        `db:"lease_expires_at" json:"-"`
	AvailableAt    time.Time         `db:"available_at" json:"available_at"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time         `db:"updated_at" json:"updated_at"`
}

// JobFailure is one entry of a campaign failure report.
type JobFailure struct {
	JobID     int       `json:"job_id"`
	ContactID int       `json:"contact_id"`
	Channel   Channel   `json:"channel"`
	Status    JobStatus `json:"status"`
	Attempts  int       `json:"attempts"`
	Reason    string    `json:"reason"`
}
