package service_test

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/crces-dispatch/internal/errors"
	"github.com/unclebandit/crces-dispatch/internal/events"
	"github.com/unclebandit/crces-dispatch/internal/logger"
	"github.com/unclebandit/crces-dispatch/internal/model"
	"github.com/unclebandit/crces-dispatch/internal/repository"
	"github.com/unclebandit/crces-dispatch/internal/repository/memory"
	"github.com/unclebandit/crces-dispatch/internal/service"
)

func newAuditBus(t *testing.T) (*events.Bus, *service.AuditService, *memory.AuditStore) {
	t.Helper()
	bus := events.NewBus(logger.Nop())
	bus.Backoff = time.Millisecond
	store := memory.NewAuditStore()
	svc := &service.AuditService{Repo: store, Events: bus, Log: logger.Nop()}
	svc.Subscribe(bus)
	return bus, svc, store
}

func TestAuditRecordsCampaignLifecycle(t *testing.T) {
	bus, audit, _ := newAuditBus(t)
	f := newFixture(t)
	f.svc.Events = bus
	f.addContacts(1, 2)
	ctx := context.Background()

	c := f.draft(t, model.ChannelEmail, 1)
	_, err := f.svc.Start(ctx, admin, c.ID)
	require.NoError(t, err)
	_, err = f.svc.Stop(ctx, admin, c.ID)
	require.NoError(t, err)

	recs, total, err := audit.Query(ctx, admin, model.AuditFilter{ResourceType: "campaign"})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	actions := map[model.AuditAction]bool{}
	for _, r := range recs {
		actions[r.Action] = true
		assert.Equal(t, "u-1", r.ActorID)
		assert.True(t, r.Success)
	}
	assert.True(t, actions[model.ActionCreate])
	assert.True(t, actions[model.ActionCampaignStart])
	assert.True(t, actions[model.ActionCampaignStop])
}

func TestAuditFailedStartIsRecorded(t *testing.T) {
	bus, audit, _ := newAuditBus(t)
	f := newFixture(t)
	f.svc.Events = bus
	ctx := context.Background()

	c := f.draft(t, model.ChannelEmail, 77)
	_, err := f.svc.Start(ctx, admin, c.ID)
	require.ErrorIs(t, err, appErrors.ErrEmptyTargetSet)

	stats, err := audit.Stats(ctx, admin, model.AuditFilter{Action: model.ActionCampaignStart})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
}

func TestRecordFromEvent(t *testing.T) {
	rec := service.RecordFromEvent(events.Event{
		Topic:        events.TopicDispatchSettled,
		ResourceType: "dispatch_job",
		ResourceID:   "9",
		Details:      map[string]any{"channel": "whatsapp"},
		Success:      true,
	})
	assert.Equal(t, model.SystemActor, rec.ActorID)
	assert.Equal(t, model.ActionSendWhatsApp, rec.Action)

	rec = service.RecordFromEvent(events.Event{Topic: events.TopicAuthLogin, Actor: admin})
	assert.Equal(t, model.ActionLogin, rec.Action)
	assert.Equal(t, "Ana", rec.ActorName)
}

func TestAuditExport(t *testing.T) {
	_, audit, store := newAuditBus(t)
	ctx := context.Background()
	require.NoError(t, audit.RecordLogin(ctx, admin, true, ""))
	require.NoError(t, audit.RecordLogin(ctx, &model.Principal{ID: "u-2", Name: "Rui"}, false, "bad password"))

	body, ctype, err := audit.Export(ctx, admin, model.AuditFilter{}, "csv")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", ctype)
	rows, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, "id", rows[0][0])

	body, ctype, err = audit.Export(ctx, admin, model.AuditFilter{Action: model.ActionLogin}, "json")
	require.NoError(t, err)
	assert.Equal(t, "application/json", ctype)
	var recs []model.AuditRecord
	require.NoError(t, json.Unmarshal(body, &recs))
	assert.Len(t, recs, 2)

	// each export is itself audited
	_, total, err := store.Query(ctx, model.AuditFilter{Action: model.ActionAuditExport})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	_, _, err = audit.Export(ctx, admin, model.AuditFilter{}, "xml")
	var verr *appErrors.ValidationError
	assert.ErrorAs(t, err, &verr)
}

type failingAuditRepo struct {
	repository.AuditRepositoryInterface
	calls int
}

func (r *failingAuditRepo) Insert(ctx context.Context, rec *model.AuditRecord) error {
	r.calls++
	return errors.New("database is down")
}

func TestAuditWriteFailureIsRetriedThenDropped(t *testing.T) {
	bus := events.NewBus(logger.Nop())
	bus.Backoff = time.Millisecond
	repo := &failingAuditRepo{}
	svc := &service.AuditService{Repo: repo, Events: bus, Log: logger.Nop()}
	svc.Subscribe(bus)

	err := bus.Publish(context.Background(), events.Event{Topic: events.TopicCampaignCreate, Actor: admin})
	assert.Error(t, err)
	assert.Equal(t, bus.MaxRetries+1, repo.calls)
}

func TestAuditActions(t *testing.T) {
	svc := &service.AuditService{}
	assert.Equal(t, model.AuditActions, svc.Actions())
}
