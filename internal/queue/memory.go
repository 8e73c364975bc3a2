package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/crces-dispatch/internal/errors"
	"github.com/unclebandit/crces-dispatch/internal/model"
)

// InMemoryQueue keeps jobs in process memory. A single mutex makes every
// claim and acknowledgement atomic.
type InMemoryQueue struct {
	mu       sync.Mutex
	jobs     map[int]*model.DispatchJob
	identity map[string]int
	nextID   int
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		jobs:     make(map[int]*model.DispatchJob),
		identity: make(map[string]int),
	}
}

var _ Queue = (*InMemoryQueue)(nil)

func identityKey(j *model.DispatchJob) string {
	return fmt.Sprintf("%d/%d/%s", j.CampaignID, j.ContactID, j.Channel)
}

func (q *InMemoryQueue) Enqueue(ctx context.Context, jobs []*model.DispatchJob) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	inserted := 0
	for _, j := range jobs {
		key := identityKey(j)
		if id, ok := q.identity[key]; ok {
			j.ID = id
			continue
		}
		q.nextID++
		j.ID = q.nextID
		if j.Status == "" {
			j.Status = model.JobPending
		}
		q.jobs[j.ID] = cloneJob(j)
		q.identity[key] = j.ID
		inserted++
	}
	return inserted, nil
}

func (q *InMemoryQueue) available(j *model.DispatchJob, now time.Time) bool {
	switch j.Status {
	case model.JobPending:
		return !j.AvailableAt.After(now)
	case model.JobInFlight:
		return j.LeaseExpiresAt != nil && !j.LeaseExpiresAt.After(now)
	}
	return false
}

func (q *InMemoryQueue) Claim(ctx context.Context, ch model.Channel, owner string, now time.Time, lease time.Duration) (*model.DispatchJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var picked *model.DispatchJob
	for _, j := range q.jobs {
		if j.Channel != ch || !q.available(j, now) {
			continue
		}
		if picked == nil || j.ID < picked.ID {
			picked = j
		}
	}
	if picked == nil {
		return nil, nil
	}

	expires := now.Add(lease)
	picked.Status = model.JobInFlight
	picked.LeaseOwner = owner
	picked.LeaseToken = uuid.NewString()
	picked.LeaseExpiresAt = &expires
	picked.UpdatedAt = now
	return cloneJob(picked), nil
}

// leased returns the stored job if the caller still holds its lease.
func (q *InMemoryQueue) leased(job *model.DispatchJob) (*model.DispatchJob, error) {
	stored, ok := q.jobs[job.ID]
	if !ok {
		return nil, appErrors.NewJobNotFound(fmt.Sprint(job.ID))
	}
	if stored.Status != model.JobInFlight || stored.LeaseToken != job.LeaseToken {
		return nil, appErrors.ErrLeaseLost
	}
	return stored, nil
}

func (q *InMemoryQueue) Settle(ctx context.Context, job *model.DispatchJob, now time.Time) error {
	if !job.Status.Settled() {
		return fmt.Errorf("settle job %d: %s is not a settled status", job.ID, job.Status)
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, err := q.leased(job)
	if err != nil {
		return err
	}
	stored.Status = job.Status
	stored.Attempts = job.Attempts
	stored.LastError = job.LastError
	stored.ProviderRef = job.ProviderRef
	stored.Rendered = cloneRendered(job.Rendered)
	clearLease(stored)
	stored.UpdatedAt = now
	return nil
}

func (q *InMemoryQueue) Retry(ctx context.Context, job *model.DispatchJob, availableAt, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, err := q.leased(job)
	if err != nil {
		return err
	}
	stored.Status = model.JobPending
	stored.Attempts = job.Attempts
	stored.LastError = job.LastError
	stored.Rendered = cloneRendered(job.Rendered)
	stored.AvailableAt = availableAt
	clearLease(stored)
	stored.UpdatedAt = now
	return nil
}

func (q *InMemoryQueue) SkipRemaining(ctx context.Context, campaignID int, reason string, now time.Time) ([]*model.DispatchJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var skipped []*model.DispatchJob
	for _, j := range q.jobs {
		if j.CampaignID != campaignID {
			continue
		}
		if j.Status == model.JobPending || j.Status == model.JobInFlight {
			j.Status = model.JobSkipped
			j.LastError = reason
			clearLease(j)
			j.UpdatedAt = now
			skipped = append(skipped, cloneJob(j))
		}
	}
	sort.Slice(skipped, func(a, b int) bool { return skipped[a].ID < skipped[b].ID })
	return skipped, nil
}

func (q *InMemoryQueue) FindByProviderRef(ctx context.Context, providerRef string) (*model.DispatchJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, j := range q.jobs {
		if providerRef != "" && j.ProviderRef == providerRef {
			return cloneJob(j), nil
		}
	}
	return nil, appErrors.NewJobNotFound("provider_ref " + providerRef)
}

func (q *InMemoryQueue) MarkDelivered(ctx context.Context, providerRef string, now time.Time) (*model.DispatchJob, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, j := range q.jobs {
		if providerRef == "" || j.ProviderRef != providerRef {
			continue
		}
		if j.Status != model.JobSent {
			return cloneJob(j), false, nil
		}
		j.Status = model.JobDelivered
		j.UpdatedAt = now
		return cloneJob(j), true, nil
	}
	return nil, false, appErrors.NewJobNotFound("provider_ref " + providerRef)
}

func (q *InMemoryQueue) Get(ctx context.Context, id int) (*model.DispatchJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok {
		return nil, appErrors.NewJobNotFound(fmt.Sprint(id))
	}
	return cloneJob(j), nil
}

func (q *InMemoryQueue) CountByStatus(ctx context.Context, campaignID int) (map[model.JobStatus]int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := map[model.JobStatus]int{}
	for _, j := range q.jobs {
		if j.CampaignID == campaignID {
			counts[j.Status]++
		}
	}
	return counts, nil
}

func (q *InMemoryQueue) ListByStatus(ctx context.Context, campaignID int, statuses []model.JobStatus, limit int) ([]*model.DispatchJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	want := map[model.JobStatus]bool{}
	for _, s := range statuses {
		want[s] = true
	}
	var out []*model.DispatchJob
	for _, j := range q.jobs {
		if j.CampaignID == campaignID && (len(want) == 0 || want[j.Status]) {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clearLease(j *model.DispatchJob) {
	j.LeaseOwner = ""
	j.LeaseToken = ""
	j.LeaseExpiresAt = nil
}

func cloneRendered(r *model.RenderedContent) *model.RenderedContent {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

func cloneJob(j *model.DispatchJob) *model.DispatchJob {
	c := *j
	c.Variables = make(map[string]string, len(j.Variables))
	for k, v := range j.Variables {
		c.Variables[k] = v
	}
	c.Template.RequiredVariables = append([]string(nil), j.Template.RequiredVariables...)
	c.Rendered = cloneRendered(j.Rendered)
	if j.LeaseExpiresAt != nil {
		t := *j.LeaseExpiresAt
		c.LeaseExpiresAt = &t
	}
	return &c
}
