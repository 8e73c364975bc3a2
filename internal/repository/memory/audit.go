package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/crces-dispatch/internal/model"
	"github.com/unclebandit/crces-dispatch/internal/repository"
)

type AuditStore struct {
	mu      sync.Mutex
	records []model.AuditRecord
}

func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

var _ repository.AuditRepositoryInterface = (*AuditStore)(nil)

func (s *AuditStore) Insert(ctx context.Context, rec *model.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.records = append(s.records, *rec)
	return nil
}

func matches(r *model.AuditRecord, f model.AuditFilter) bool {
	switch {
	case f.ActorID != "" && r.ActorID != f.ActorID:
		return false
	case f.Action != "" && r.Action != f.Action:
		return false
	case f.ResourceType != "" && r.ResourceType != f.ResourceType:
		return false
	case f.ResourceID != "" && r.ResourceID != f.ResourceID:
		return false
	case f.From != nil && r.CreatedAt.Before(*f.From):
		return false
	case f.To != nil && r.CreatedAt.After(*f.To):
		return false
	}
	return true
}

func (s *AuditStore) filtered(f model.AuditFilter) []*model.AuditRecord {
	var out []*model.AuditRecord
	for i := range s.records {
		if matches(&s.records[i], f) {
			r := s.records[i]
			out = append(out, &r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *AuditStore) Query(ctx context.Context, f model.AuditFilter) ([]*model.AuditRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.filtered(f)
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	page := []*model.AuditRecord{}
	for i := f.Offset; i < len(all) && i < f.Offset+limit; i++ {
		page = append(page, all[i])
	}
	return page, len(all), nil
}

func (s *AuditStore) Stats(ctx context.Context, f model.AuditFilter) (*model.AuditStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &model.AuditStats{ByAction: map[model.AuditAction]int{}}
	for _, r := range s.filtered(f) {
		stats.Total++
		stats.ByAction[r.Action]++
		if r.Success {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
	}
	return stats, nil
}
