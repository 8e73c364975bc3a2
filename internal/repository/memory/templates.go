package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/crces-dispatch/internal/errors"
	"github.com/unclebandit/crces-dispatch/internal/model"
	"github.com/unclebandit/crces-dispatch/internal/repository"
)

type TemplateStore struct {
	mu        sync.Mutex
	templates map[int]*model.Template
	nextID    int
}

func NewTemplateStore() *TemplateStore {
	return &TemplateStore{templates: make(map[int]*model.Template)}
}

var _ repository.TemplateRepositoryInterface = (*TemplateStore)(nil)

func cloneTemplate(t *model.Template) *model.Template {
	cp := *t
	cp.RequiredVariables = append([]string(nil), t.RequiredVariables...)
	return &cp
}

func (s *TemplateStore) Create(ctx context.Context, t *model.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	t.ID = s.nextID
	t.Version = 1
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.templates[t.ID] = cloneTemplate(t)
	return nil
}

func (s *TemplateStore) Update(ctx context.Context, t *model.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.templates[t.ID]
	if !ok || cur.DeletedAt != nil {
		return appErrors.NewTemplateNotFound(t.ID)
	}
	now := time.Now().UTC()
	cur.Name = t.Name
	cur.Subject = t.Subject
	cur.Body = t.Body
	cur.RequiredVariables = append([]string(nil), t.RequiredVariables...)
	cur.Active = t.Active
	cur.Version++
	cur.UpdatedAt = &now
	t.Version = cur.Version
	t.UpdatedAt = &now
	return nil
}

func (s *TemplateStore) GetByID(ctx context.Context, id int) (*model.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.templates[id]
	if !ok || t.DeletedAt != nil {
		return nil, appErrors.NewTemplateNotFound(id)
	}
	return cloneTemplate(t), nil
}

func (s *TemplateStore) List(ctx context.Context, channel string, activeOnly bool) ([]*model.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*model.Template{}
	for _, t := range s.templates {
		if t.DeletedAt != nil || (channel != "" && string(t.Channel) != channel) || (activeOnly && !t.Active) {
			continue
		}
		out = append(out, cloneTemplate(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *TemplateStore) Delete(ctx context.Context, id int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.templates[id]
	if !ok || t.DeletedAt != nil {
		return appErrors.NewTemplateNotFound(id)
	}
	t.DeletedAt = &at
	t.Active = false
	return nil
}
