// Package memory holds in-process implementations of the repository
// interfaces. They back the tests and the single-binary development mode.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/crces-dispatch/internal/errors"
	"github.com/unclebandit/crces-dispatch/internal/model"
	"github.com/unclebandit/crces-dispatch/internal/repository"
)

type CampaignStore struct {
	mu        sync.Mutex
	campaigns map[int]*model.Campaign
	nextID    int
}

func NewCampaignStore() *CampaignStore {
	return &CampaignStore{campaigns: make(map[int]*model.Campaign)}
}

var _ repository.CampaignRepositoryInterface = (*CampaignStore)(nil)

func cloneCampaign(c *model.Campaign) *model.Campaign {
	cp := *c
	return &cp
}

func (s *CampaignStore) live(id int) (*model.Campaign, bool) {
	c, ok := s.campaigns[id]
	if !ok || c.DeletedAt != nil {
		return nil, false
	}
	return c, true
}

func (s *CampaignStore) Create(ctx context.Context, c *model.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	c.ID = s.nextID
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	s.campaigns[c.ID] = cloneCampaign(c)
	return nil
}

func (s *CampaignStore) Update(ctx context.Context, c *model.Campaign) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.live(c.ID)
	if !ok || !cur.Status.Editable() {
		return false, nil
	}
	now := time.Now().UTC()
	cur.Name = c.Name
	cur.Description = c.Description
	cur.Channel = c.Channel
	cur.EmailTemplateID = c.EmailTemplateID
	cur.WhatsAppTemplateID = c.WhatsAppTemplateID
	cur.TargetSetID = c.TargetSetID
	cur.UpdatedAt = &now
	c.UpdatedAt = &now
	return true, nil
}

func (s *CampaignStore) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.live(id)
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return cloneCampaign(c), nil
}

func (s *CampaignStore) sorted() []*model.Campaign {
	out := make([]*model.Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		if c.DeletedAt == nil {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *CampaignStore) ListCampaigns(ctx context.Context, offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*model.Campaign
	all := s.sorted()
	// newest first, like the SQL implementation
	for i := len(all) - 1; i >= 0; i-- {
		c := all[i]
		if channel != "" && string(c.Channel) != channel {
			continue
		}
		if status != "" && string(c.Status) != status {
			continue
		}
		matched = append(matched, c)
	}

	page := []*model.Campaign{}
	for i := offset; i < len(matched) && i < offset+limit; i++ {
		page = append(page, cloneCampaign(matched[i]))
	}
	return page, len(matched), nil
}

func (s *CampaignStore) ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Campaign
	for _, c := range s.sorted() {
		if c.Status == status {
			out = append(out, cloneCampaign(c))
		}
	}
	return out, nil
}

func (s *CampaignStore) Transition(ctx context.Context, t repository.Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.live(t.ID)
	if !ok || !slices.Contains(t.From, c.Status) {
		return false, nil
	}
	at := t.At
	c.Status = t.To
	c.UpdatedAt = &at
	c.Degraded = t.Degraded
	if t.ScheduledAt != nil {
		sch := *t.ScheduledAt
		c.ScheduledAt = &sch
	}
	if t.Total != nil {
		c.Total = *t.Total
	}
	switch t.To {
	case model.CampaignRunning:
		c.StartedAt = &at
	case model.CampaignDraft, model.CampaignScheduled:
		c.StartedAt = nil
	}
	if t.To.Terminal() {
		c.CompletedAt = &at
	}
	return true, nil
}

func (s *CampaignStore) ApplyProgress(ctx context.Context, id int, d model.ProgressDelta) (model.Counters, model.CampaignStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return model.Counters{}, "", appErrors.NewCampaignNotFound(id)
	}
	c.Counters = c.Counters.Add(d)
	return c.Counters, c.Status, nil
}

func (s *CampaignStore) SetCounters(ctx context.Context, id int, counters model.Counters) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	c.Counters = counters
	return nil
}

func (s *CampaignStore) SoftDelete(ctx context.Context, id int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.live(id)
	if !ok || !c.Status.Deletable() {
		return false, nil
	}
	c.DeletedAt = &at
	c.UpdatedAt = &at
	return true, nil
}

func (s *CampaignStore) Stats(ctx context.Context) (*model.CampaignStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &model.CampaignStats{}
	for _, c := range s.sorted() {
		repository.AddStatusCount(stats, c.Status, 1)
		stats.TotalSent += c.Sent
		stats.TotalDelivered += c.Delivered
		stats.TotalFailed += c.Failed
	}
	stats.SuccessRate = repository.SuccessRate(stats.TotalDelivered, stats.TotalSent)
	return stats, nil
}
