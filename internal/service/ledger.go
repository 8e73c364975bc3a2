package service

import "github.com/unclebandit/crces-dispatch/internal/model"

// LedgerFold is the latest ledger entry of every job of a campaign.
type LedgerFold map[int]*model.LedgerEntry

// FoldLedger keeps the highest attempt per job. Ties go to the later
// entry, so a delivery receipt wins over the send it confirms.
func FoldLedger(entries []*model.LedgerEntry) LedgerFold {
	fold := make(LedgerFold, len(entries))
	for _, e := range entries {
		prev, ok := fold[e.JobID]
		if !ok || e.Attempt > prev.Attempt || (e.Attempt == prev.Attempt && e.ID > prev.ID) {
			fold[e.JobID] = e
		}
	}
	return fold
}

// Progress sums the progress of every job the ledger records as settled.
func (f LedgerFold) Progress() model.ProgressDelta {
	var d model.ProgressDelta
	for _, e := range f {
		d = d.Add(e.JobStatus.Delta())
	}
	return d
}

// ProgressOf sums the recorded progress of the given jobs only.
func (f LedgerFold) ProgressOf(jobs []*model.DispatchJob) model.ProgressDelta {
	var d model.ProgressDelta
	for _, j := range jobs {
		if e, ok := f[j.ID]; ok {
			d = d.Add(e.JobStatus.Delta())
		}
	}
	return d
}

// Ahead returns the jobs whose ledger already settled them while the job
// itself is still pending or in flight: the worker died between the
// append and the job update.
func (f LedgerFold) Ahead(jobs []*model.DispatchJob) []int {
	var ids []int
	for _, j := range jobs {
		if j.Status.Settled() {
			continue
		}
		if e, ok := f[j.ID]; ok && e.JobStatus.Settled() {
			ids = append(ids, j.ID)
		}
	}
	return ids
}
