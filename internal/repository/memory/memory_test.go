package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/crces-dispatch/internal/errors"
	"github.com/unclebandit/crces-dispatch/internal/model"
	"github.com/unclebandit/crces-dispatch/internal/repository"
)

func TestCampaignStore_TransitionIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewCampaignStore()
	c := &model.Campaign{Name: "A", Channel: model.ChannelEmail}
	require.NoError(t, s.Create(ctx, c))

	total := 3
	ok, err := s.Transition(ctx, repository.Transition{
		ID: c.ID, From: []model.CampaignStatus{model.CampaignDraft}, To: model.CampaignRunning,
		At: time.Now(), Total: &total,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Transition(ctx, repository.Transition{
		ID: c.ID, From: []model.CampaignStatus{model.CampaignDraft}, To: model.CampaignRunning, At: time.Now(),
	})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignRunning, got.Status)
	assert.Equal(t, 3, got.Total)
	assert.NotNil(t, got.StartedAt)
}

func TestCampaignStore_SoftDelete(t *testing.T) {
	ctx := context.Background()
	s := NewCampaignStore()
	c := &model.Campaign{Name: "A", Status: model.CampaignScheduled}
	require.NoError(t, s.Create(ctx, c))

	ok, err := s.SoftDelete(ctx, c.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "scheduled campaigns are not deletable")

	d := &model.Campaign{Name: "B"}
	require.NoError(t, s.Create(ctx, d))
	ok, err = s.SoftDelete(ctx, d.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.GetByID(ctx, d.ID)
	assert.True(t, appErrors.IsNotFound(err))

	list, total, err := s.ListCampaigns(ctx, 0, 10, "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, list, 1)
}

func TestCampaignStore_ListCampaignsPagination(t *testing.T) {
	ctx := context.Background()
	s := NewCampaignStore()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Create(ctx, &model.Campaign{Name: "c", Channel: model.ChannelEmail}))
	}
	require.NoError(t, s.Create(ctx, &model.Campaign{Name: "w", Channel: model.ChannelWhatsApp}))

	page, total, err := s.ListCampaigns(ctx, 2, 2, "email", "")
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, 3, page[0].ID)
	assert.Equal(t, 2, page[1].ID)
}

func TestTemplateStore_UpdateBumpsVersion(t *testing.T) {
	ctx := context.Background()
	s := NewTemplateStore()
	tpl := &model.Template{Name: "t", Channel: model.ChannelEmail, Body: "v1", Active: true}
	require.NoError(t, s.Create(ctx, tpl))
	assert.Equal(t, 1, tpl.Version)

	tpl.Body = "v2"
	require.NoError(t, s.Update(ctx, tpl))
	assert.Equal(t, 2, tpl.Version)

	require.NoError(t, s.Delete(ctx, tpl.ID, time.Now()))
	_, err := s.GetByID(ctx, tpl.ID)
	assert.True(t, appErrors.IsNotFound(err))
}

func TestLedgerStore_Latest(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	for i := 1; i <= 3; i++ {
		require.NoError(t, s.Append(ctx, &model.LedgerEntry{JobID: 1, CampaignID: 1, Attempt: i}))
	}
	require.NoError(t, s.Append(ctx, &model.LedgerEntry{JobID: 2, CampaignID: 1, Attempt: 1}))

	e, err := s.Latest(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, e.Attempt)

	none, err := s.Latest(ctx, 9)
	require.NoError(t, err)
	assert.Nil(t, none)

	page, total, err := s.ListByCampaign(ctx, 1, model.LedgerFilter{Offset: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, page, 2)
	assert.Equal(t, 2, page[0].Attempt)

	latest, err := s.LatestByCampaign(ctx, 1)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, 1, latest[0].JobID)
	assert.Equal(t, 3, latest[0].Attempt)
	assert.Equal(t, 2, latest[1].JobID)
}

func TestAuditStore_QueryAndStats(t *testing.T) {
	ctx := context.Background()
	s := NewAuditStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Insert(ctx, &model.AuditRecord{ActorID: "u1", Action: model.ActionLogin, Success: true, CreatedAt: base}))
	require.NoError(t, s.Insert(ctx, &model.AuditRecord{ActorID: "u1", Action: model.ActionLogin, Success: false, CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, s.Insert(ctx, &model.AuditRecord{ActorID: "u2", Action: model.ActionCreate, Success: true, CreatedAt: base.Add(2 * time.Hour)}))

	recs, total, err := s.Query(ctx, model.AuditFilter{ActorID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.True(t, recs[0].CreatedAt.After(recs[1].CreatedAt))
	assert.NotEmpty(t, recs[0].ID)

	from := base.Add(30 * time.Minute)
	stats, err := s.Stats(ctx, model.AuditFilter{From: &from})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.ByAction[model.ActionCreate])
}

func TestContactStore_ResolveTargetSet(t *testing.T) {
	ctx := context.Background()
	s := NewContactStore()
	s.Put(1, model.Contact{ID: 10, Email: "a@x"}, model.Contact{ID: 11, Email: "b@x"})

	got, err := s.ResolveTargetSet(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	empty, err := s.ResolveTargetSet(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, empty)

	c, err := s.GetByID(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, c)
}
