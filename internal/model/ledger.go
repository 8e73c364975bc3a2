package model

import "time"

type Outcome string

const (
	OutcomeSent           Outcome = "sent"
	OutcomeDelivered      Outcome = "delivered"
	OutcomeRejected       Outcome = "rejected"
	OutcomeRateLimited    Outcome = "rate_limited"
	OutcomeTransientError Outcome = "transient_error"
	OutcomeSkipped        Outcome = "skipped"
)

// Valid reports whether o is one of the recorded outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSent, OutcomeDelivered, OutcomeRejected, OutcomeRateLimited, OutcomeTransientError, OutcomeSkipped:
		return true
	}
	return false
}

// Retryable outcomes send the job back to pending with backoff.
func (o Outcome) Retryable() bool {
	return o == OutcomeRateLimited || o == OutcomeTransientError
}

// LedgerEntry records one dispatch attempt. Entries are never changed.
type LedgerEntry struct {
	ID            int        `db:"id" json:"id"`
	JobID         int        `db:"job_id" json:"job_id"`
	CampaignID    int        `db:"campaign_id" json:"campaign_id"`
	Channel       Channel    `db:"channel" json:"channel"`
	Attempt       int        `db:"attempt" json:"attempt"`
	Outcome       Outcome    `db:"outcome" json:"outcome"`
	JobStatus     JobStatus  `db:"job_status" json:"job_status"`
	ProviderCode  string     `db:"provider_code" json:"provider_code,omitempty"`
	ProviderRef   string     `db:"provider_ref" json:"provider_ref,omitempty"`
	Error         string     `db:"error" json:"error,omitempty"`
	NextAttemptAt *time.Time `db:"next_attempt_at" json:"next_attempt_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// EntryFor records a job status that was set outside a send attempt: a
// stop, a dropped job or a delivery receipt. attempt should be at least
// the job's latest recorded attempt so the entry folds as the latest.
func EntryFor(job *DispatchJob, attempt int, at time.Time) *LedgerEntry {
	outcome := OutcomeSkipped
	switch job.Status {
	case JobSent:
		outcome = OutcomeSent
	case JobDelivered:
		outcome = OutcomeDelivered
	case JobFailed:
		outcome = OutcomeRejected
	}
	return &LedgerEntry{
		JobID:       job.ID,
		CampaignID:  job.CampaignID,
		Channel:     job.Channel,
		Attempt:     attempt,
		Outcome:     outcome,
		JobStatus:   job.Status,
		ProviderRef: job.ProviderRef,
		Error:       job.LastError,
		CreatedAt:   at,
	}
}

// LedgerFilter pages the ledger of one campaign. An empty Outcome matches
// every entry.
type LedgerFilter struct {
	Outcome Outcome
	Offset  int
	Limit   int
}
