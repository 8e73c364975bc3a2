package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/unclebandit/crces-dispatch/internal/model"
	"github.com/unclebandit/crces-dispatch/internal/repository"
)

type LedgerStore struct {
	mu      sync.Mutex
	entries []model.LedgerEntry
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{}
}

var _ repository.LedgerRepositoryInterface = (*LedgerStore)(nil)

func (s *LedgerStore) Append(ctx context.Context, e *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = len(s.entries) + 1
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.entries = append(s.entries, *e)
	return nil
}

func (s *LedgerStore) Latest(ctx context.Context, jobID int) (*model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *model.LedgerEntry
	for i := range s.entries {
		e := s.entries[i]
		if e.JobID != jobID {
			continue
		}
		if latest == nil || e.Attempt >= latest.Attempt {
			latest = &e
		}
	}
	return latest, nil
}

func (s *LedgerStore) ListByCampaign(ctx context.Context, campaignID int, f model.LedgerFilter) ([]*model.LedgerEntry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	out := []*model.LedgerEntry{}
	total := 0
	for i := range s.entries {
		e := s.entries[i]
		if e.CampaignID != campaignID || (f.Outcome != "" && e.Outcome != f.Outcome) {
			continue
		}
		total++
		if total > f.Offset && len(out) < limit {
			out = append(out, &e)
		}
	}
	return out, total, nil
}

func (s *LedgerStore) LatestByCampaign(ctx context.Context, campaignID int) ([]*model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := map[int]*model.LedgerEntry{}
	var order []int
	for i := range s.entries {
		e := s.entries[i]
		if e.CampaignID != campaignID {
			continue
		}
		prev, ok := latest[e.JobID]
		if !ok {
			order = append(order, e.JobID)
		}
		if !ok || e.Attempt >= prev.Attempt {
			latest[e.JobID] = &e
		}
	}
	slices.Sort(order)
	out := make([]*model.LedgerEntry, 0, len(order))
	for _, id := range order {
		out = append(out, latest[id])
	}
	return out, nil
}
