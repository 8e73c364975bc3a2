// Package queue is the recipient queue: the resumable list of dispatch
// jobs workers claim under an exclusive, expiring lease.
package queue

import (
	"context"
	"time"

	"github.com/unclebandit/crces-dispatch/internal/model"
)

// Queue interface
type Queue interface {
	// Enqueue inserts jobs, ignoring any whose (campaign, contact, channel)
	// already exists. It returns the number inserted and fills in IDs.
	Enqueue(ctx context.Context, jobs []*model.DispatchJob) (int, error)

	// Claim leases the oldest available job on ch, or returns nil when there
	// is none. Pending jobs past their backoff and in-flight jobs whose
	// lease expired are available.
	Claim(ctx context.Context, ch model.Channel, owner string, now time.Time, lease time.Duration) (*model.DispatchJob, error)

	// Settle stores a settled status. It fails with ErrLeaseLost unless the
	// caller still holds the job's lease.
	Settle(ctx context.Context, job *model.DispatchJob, now time.Time) error

	// Retry returns a leased job to pending until availableAt.
	Retry(ctx context.Context, job *model.DispatchJob, availableAt, now time.Time) error

	// SkipRemaining marks every pending or in-flight job of a campaign
	// skipped and returns the jobs it changed.
	SkipRemaining(ctx context.Context, campaignID int, reason string, now time.Time) ([]*model.DispatchJob, error)

	// FindByProviderRef returns the job a provider acknowledged under ref.
	FindByProviderRef(ctx context.Context, providerRef string) (*model.DispatchJob, error)

	// MarkDelivered promotes a sent job to delivered. changed is false when
	// the job was not in sent.
	MarkDelivered(ctx context.Context, providerRef string, now time.Time) (job *model.DispatchJob, changed bool, err error)

	Get(ctx context.Context, id int) (*model.DispatchJob, error)
	CountByStatus(ctx context.Context, campaignID int) (map[model.JobStatus]int, error)
	// ListByStatus lists jobs in id order. No statuses matches every job and
	// a limit of 0 returns them all.
	ListByStatus(ctx context.Context, campaignID int, statuses []model.JobStatus, limit int) ([]*model.DispatchJob, error)
}
