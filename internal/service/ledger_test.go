package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unclebandit/crces-dispatch/internal/model"
	"github.com/unclebandit/crces-dispatch/internal/service"
)

func TestFoldLedger(t *testing.T) {
	entries := []*model.LedgerEntry{
		{ID: 1, JobID: 10, Attempt: 1, Outcome: model.OutcomeTransientError, JobStatus: model.JobPending},
		{ID: 3, JobID: 10, Attempt: 2, Outcome: model.OutcomeSent, JobStatus: model.JobSent},
		{ID: 2, JobID: 11, Attempt: 1, Outcome: model.OutcomeRejected, JobStatus: model.JobFailed},
		{ID: 4, JobID: 12, Attempt: 1, Outcome: model.OutcomeSent, JobStatus: model.JobSent},
		{ID: 5, JobID: 12, Attempt: 1, Outcome: model.OutcomeDelivered, JobStatus: model.JobDelivered},
		{ID: 6, JobID: 13, Attempt: 1, Outcome: model.OutcomeRateLimited, JobStatus: model.JobPending},
	}
	fold := service.FoldLedger(entries)

	assert.Len(t, fold, 4)
	assert.Equal(t, model.JobSent, fold[10].JobStatus)
	assert.Equal(t, model.JobDelivered, fold[12].JobStatus, "receipt wins over the send it confirms")
	assert.Equal(t, model.ProgressDelta{Sent: 2, Delivered: 1, Failed: 1}, fold.Progress())

	jobs := []*model.DispatchJob{
		{ID: 10, Status: model.JobInFlight},
		{ID: 11, Status: model.JobFailed},
		{ID: 13, Status: model.JobPending},
		{ID: 14, Status: model.JobPending},
	}
	assert.Equal(t, []int{10}, fold.Ahead(jobs))
	assert.Equal(t, model.ProgressDelta{Failed: 1}, fold.ProgressOf(jobs[1:]))
}
