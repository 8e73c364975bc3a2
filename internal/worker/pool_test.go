package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/crces-dispatch/internal/channel"
	"github.com/unclebandit/crces-dispatch/internal/limiter"
	"github.com/unclebandit/crces-dispatch/internal/logger"
	"github.com/unclebandit/crces-dispatch/internal/model"
	"github.com/unclebandit/crces-dispatch/internal/queue"
	"github.com/unclebandit/crces-dispatch/internal/repository"
	"github.com/unclebandit/crces-dispatch/internal/repository/memory"
	"github.com/unclebandit/crces-dispatch/internal/service"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var admin = &model.Principal{ID: "u-1", Name: "Ana"}

type harness struct {
	pool      *Pool
	svc       *service.CampaignService
	campaigns *memory.CampaignStore
	templates *memory.TemplateStore
	contacts  *memory.ContactStore
	jobs      *queue.InMemoryQueue
	ledger    *memory.LedgerStore
	clock     *clock
	sends     atomic.Int32
	outcome   func(msg channel.Message) (channel.Outcome, error)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		campaigns: memory.NewCampaignStore(),
		templates: memory.NewTemplateStore(),
		contacts:  memory.NewContactStore(),
		jobs:      queue.NewInMemoryQueue(),
		ledger:    memory.NewLedgerStore(),
		clock:     &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
	}
	h.outcome = func(msg channel.Message) (channel.Outcome, error) {
		return channel.Outcome{Status: model.OutcomeDelivered, ProviderRef: fmt.Sprintf("ref-%d", msg.JobID)}, nil
	}
	h.svc = &service.CampaignService{
		CampaignRepo: h.campaigns,
		TemplateRepo: h.templates,
		ContactRepo:  h.contacts,
		Jobs:         h.jobs,
		Ledger:       h.ledger,
		Log:          logger.Nop(),
		Now:          h.clock.Now,
	}

	sender := channel.SenderFunc{Ch: model.ChannelEmail, Fn: func(ctx context.Context, msg channel.Message) (channel.Outcome, error) {
		h.sends.Add(1)
		return h.outcome(msg)
	}}
	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	h.pool = NewPool(cfg, h.jobs, h.campaigns, h.svc, h.ledger, channel.NewRegistry(sender),
		limiter.NewLocal(cfg.Concurrency), logger.Nop())
	h.pool.Now = h.clock.Now
	return h
}

// start creates a running email campaign over the given contacts.
func (h *harness) start(t *testing.T, body string, contacts ...model.Contact) *model.Campaign {
	t.Helper()
	ctx := context.Background()
	tpl := &model.Template{Name: "t", Channel: model.ChannelEmail, Subject: "Aviso",
		Body: body, RequiredVariables: []string{"nome"}, Active: true}
	require.NoError(t, h.templates.Create(ctx, tpl))
	h.contacts.Put(1, contacts...)

	c, err := h.svc.Create(ctx, admin, service.CampaignInput{
		Name: "c", Channel: model.ChannelEmail, EmailTemplateID: &tpl.ID, TargetSetID: 1,
	})
	require.NoError(t, err)
	c, err = h.svc.Start(ctx, admin, c.ID)
	require.NoError(t, err)
	return c
}

func contact(id int, nome string) model.Contact {
	vars := map[string]string{}
	if nome != "" {
		vars["nome"] = nome
	}
	return model.Contact{ID: id, Email: fmt.Sprintf("c%d@example.com", id), Variables: vars}
}

func (h *harness) drain(t *testing.T) int {
	t.Helper()
	n := 0
	for {
		worked, err := h.pool.ProcessNext(context.Background(), model.ChannelEmail)
		require.NoError(t, err)
		if !worked {
			return n
		}
		n++
	}
}

// assertLedgerMatchesCounters checks that folding the ledger gives the
// campaign's counters.
func (h *harness) assertLedgerMatchesCounters(t *testing.T, id int) {
	t.Helper()
	entries, err := h.ledger.LatestByCampaign(context.Background(), id)
	require.NoError(t, err)
	c := h.campaign(t, id)
	got := service.FoldLedger(entries).Progress()
	assert.Equal(t, model.ProgressDelta{Sent: c.Sent, Delivered: c.Delivered, Failed: c.Failed, Skipped: c.Skipped}, got)
}

func (h *harness) campaign(t *testing.T, id int) *model.Campaign {
	t.Helper()
	c, err := h.campaigns.GetByID(context.Background(), id)
	require.NoError(t, err)
	return c
}

func TestMissingVariableSkipsOnlyThatContact(t *testing.T) {
	h := newHarness(t)
	c := h.start(t, "Olá {{nome}}", contact(1, "Ana"), contact(2, ""), contact(3, "Rui"))

	assert.Equal(t, 3, h.drain(t))

	got := h.campaign(t, c.ID)
	assert.Equal(t, model.CampaignCompleted, got.Status)
	assert.False(t, got.Degraded)
	assert.Equal(t, 2, got.Sent)
	assert.Equal(t, 2, got.Delivered)
	assert.Equal(t, 1, got.Skipped)
	assert.Zero(t, got.Failed)
	assert.EqualValues(t, 2, h.sends.Load())

	skipped, err := h.jobs.ListByStatus(context.Background(), c.ID, []model.JobStatus{model.JobSkipped}, 0)
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	assert.Equal(t, 2, skipped[0].ContactID)
	assert.Contains(t, skipped[0].LastError, "nome")

	entry, err := h.ledger.Latest(context.Background(), skipped[0].ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, model.OutcomeSkipped, entry.Outcome)
}

func TestRenderedContentIsStored(t *testing.T) {
	h := newHarness(t)
	var got channel.Message
	h.outcome = func(msg channel.Message) (channel.Outcome, error) {
		got = msg
		return channel.Outcome{Status: model.OutcomeSent, ProviderRef: "p-1"}, nil
	}
	c := h.start(t, "Olá {{ nome }}", contact(1, "Ana"))

	h.drain(t)
	assert.Equal(t, "Olá Ana", got.Body)
	assert.Equal(t, "c1@example.com", got.To)

	jobs, err := h.jobs.ListByStatus(context.Background(), c.ID, nil, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobSent, jobs[0].Status)
	assert.Equal(t, "p-1", jobs[0].ProviderRef)
	require.NotNil(t, jobs[0].Rendered)
	assert.Equal(t, "Olá Ana", jobs[0].Rendered.Body)
}

func TestTransientErrorsFailAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	h.outcome = func(msg channel.Message) (channel.Outcome, error) {
		return channel.Outcome{Status: model.OutcomeTransientError, Code: "503"}, nil
	}
	c := h.start(t, "Olá {{nome}}", contact(1, "Ana"))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		worked, err := h.pool.ProcessNext(ctx, model.ChannelEmail)
		require.NoError(t, err)
		require.True(t, worked, "attempt %d", i+1)

		// nothing is claimable before the backoff elapses
		worked, err = h.pool.ProcessNext(ctx, model.ChannelEmail)
		require.NoError(t, err)
		require.False(t, worked)

		jobs, err := h.jobs.ListByStatus(ctx, c.ID, nil, 0)
		require.NoError(t, err)
		if jobs[0].Status == model.JobPending {
			h.clock.Set(jobs[0].AvailableAt)
		}
	}

	entries, _, err := h.ledger.ListByCampaign(ctx, c.ID, model.LedgerFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 5)
	var prev time.Time
	for i, e := range entries[:4] {
		assert.Equal(t, i+1, e.Attempt)
		assert.Equal(t, model.JobPending, e.JobStatus)
		require.NotNil(t, e.NextAttemptAt)
		assert.True(t, e.NextAttemptAt.After(prev), "next attempt times must increase")
		assert.Equal(t, Backoff(2*time.Second, i+1), e.NextAttemptAt.Sub(e.CreatedAt))
		prev = *e.NextAttemptAt
	}
	assert.Equal(t, model.JobFailed, entries[4].JobStatus)
	assert.Nil(t, entries[4].NextAttemptAt)

	got := h.campaign(t, c.ID)
	assert.Equal(t, model.CampaignFailed, got.Status)
	assert.Equal(t, 1, got.Failed)
	assert.EqualValues(t, 5, h.sends.Load())
}

func TestRejectedFailsWithoutRetry(t *testing.T) {
	h := newHarness(t)
	h.outcome = func(msg channel.Message) (channel.Outcome, error) {
		if msg.To == "c2@example.com" {
			return channel.Outcome{Status: model.OutcomeRejected, Code: "400"}, nil
		}
		return channel.Outcome{Status: model.OutcomeSent}, nil
	}
	c := h.start(t, "Olá {{nome}}", contact(1, "Ana"), contact(2, "Bia"))

	assert.Equal(t, 2, h.drain(t))

	got := h.campaign(t, c.ID)
	assert.Equal(t, model.CampaignCompleted, got.Status)
	assert.True(t, got.Degraded)
	assert.Equal(t, 1, got.Failed)
	assert.Equal(t, got.Total, got.Settled())

	failures, err := h.svc.Failures(context.Background(), admin, c.ID, 10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, 1, failures[0].Attempts)
	assert.Contains(t, failures[0].Reason, "400")
}

func TestSenderErrorIsRetried(t *testing.T) {
	h := newHarness(t)
	calls := 0
	h.outcome = func(msg channel.Message) (channel.Outcome, error) {
		calls++
		if calls == 1 {
			return channel.Outcome{}, fmt.Errorf("connection reset")
		}
		return channel.Outcome{Status: model.OutcomeSent}, nil
	}
	c := h.start(t, "Olá {{nome}}", contact(1, "Ana"))

	h.drain(t)
	h.clock.Advance(time.Minute)
	h.drain(t)

	got := h.campaign(t, c.ID)
	assert.Equal(t, model.CampaignCompleted, got.Status)
	assert.Equal(t, 1, got.Sent)
	assert.EqualValues(t, 1, h.pool.Stats().Retried)
}

func TestRenderSyntaxErrorFails(t *testing.T) {
	h := newHarness(t)
	c := h.start(t, "{% if nome %}sem fim", contact(1, "Ana"))

	h.drain(t)
	got := h.campaign(t, c.ID)
	assert.Equal(t, model.CampaignFailed, got.Status)
	assert.Zero(t, h.sends.Load())
}

func TestStopRecordsSkippedJobsInLedger(t *testing.T) {
	h := newHarness(t)
	var contacts []model.Contact
	for i := 1; i <= 10; i++ {
		contacts = append(contacts, contact(i, "N"))
	}
	c := h.start(t, "Olá {{nome}}", contacts...)
	ctx := context.Background()

	stopped, err := h.svc.Stop(ctx, admin, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, stopped.Skipped)

	assert.Zero(t, h.drain(t))
	assert.Zero(t, h.sends.Load())
	h.assertLedgerMatchesCounters(t, c.ID)
}

func TestStopDuringSendLosesLease(t *testing.T) {
	h := newHarness(t)
	var c *model.Campaign
	h.outcome = func(msg channel.Message) (channel.Outcome, error) {
		_, err := h.svc.Stop(context.Background(), admin, c.ID)
		require.NoError(t, err)
		return channel.Outcome{Status: model.OutcomeSent}, nil
	}
	c = h.start(t, "Olá {{nome}}", contact(1, "Ana"), contact(2, "Bia"))

	worked, err := h.pool.ProcessNext(context.Background(), model.ChannelEmail)
	require.NoError(t, err)
	assert.True(t, worked)
	assert.EqualValues(t, 1, h.pool.Stats().LeaseLost)

	got := h.campaign(t, c.ID)
	assert.Equal(t, model.CampaignCancelled, got.Status)
	assert.Equal(t, 2, got.Skipped)
	assert.Zero(t, got.Sent)
	assert.Equal(t, got.Total, got.Settled())

	// the recorded send is superseded by the skip
	h.assertLedgerMatchesCounters(t, c.ID)
}

func TestCrashAfterLedgerAppendIsResumedWithoutResend(t *testing.T) {
	h := newHarness(t)
	c := h.start(t, "Olá {{nome}}", contact(1, "Ana"))
	ctx := context.Background()

	// a worker claims, sends and records the attempt, then dies
	job, err := h.jobs.Claim(ctx, model.ChannelEmail, "dead-worker", h.clock.Now(), time.Minute)
	require.NoError(t, err)
	require.NoError(t, h.ledger.Append(ctx, &model.LedgerEntry{
		JobID: job.ID, CampaignID: c.ID, Channel: model.ChannelEmail, Attempt: 1,
		Outcome: model.OutcomeSent, JobStatus: model.JobSent, ProviderRef: "ref-dead",
	}))

	// lease still held: nothing to claim
	assert.Zero(t, h.drain(t))

	h.clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, h.drain(t))

	assert.Zero(t, h.sends.Load())
	stored, err := h.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobSent, stored.Status)
	assert.Equal(t, "ref-dead", stored.ProviderRef)
	assert.Equal(t, 1, stored.Attempts)

	got := h.campaign(t, c.ID)
	assert.Equal(t, model.CampaignCompleted, got.Status)
	assert.EqualValues(t, 1, h.pool.Stats().Reconciled)
}

func TestJobOfFinishedCampaignIsDropped(t *testing.T) {
	h := newHarness(t)
	c := h.start(t, "Olá {{nome}}", contact(1, "Ana"))
	ctx := context.Background()

	// the campaign failed while its job was still queued
	ok, err := h.campaigns.Transition(ctx, repository.Transition{
		ID: c.ID, From: []model.CampaignStatus{model.CampaignRunning}, To: model.CampaignFailed, At: h.clock.Now(),
	})
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, 1, h.drain(t))
	assert.Zero(t, h.sends.Load())
	got := h.campaign(t, c.ID)
	assert.Zero(t, got.Settled())

	entries, _, err := h.ledger.ListByCampaign(ctx, c.ID, model.LedgerFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.JobSkipped, entries[0].JobStatus)
	assert.Equal(t, "campaign failed", entries[0].Error)
}

func TestJobsOfCancelledCampaignCountAsSkipped(t *testing.T) {
	h := newHarness(t)
	c := h.start(t, "Olá {{nome}}", contact(1, "Ana"), contact(2, "Bia"))
	ctx := context.Background()

	// cancelled, but its jobs were queued after the stop skipped the rest
	ok, err := h.campaigns.Transition(ctx, repository.Transition{
		ID: c.ID, From: []model.CampaignStatus{model.CampaignRunning}, To: model.CampaignCancelled, At: h.clock.Now(),
	})
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, 2, h.drain(t))
	assert.Zero(t, h.sends.Load())
	got := h.campaign(t, c.ID)
	assert.Equal(t, 2, got.Skipped)
	assert.Equal(t, got.Total, got.Settled())
	h.assertLedgerMatchesCounters(t, c.ID)
}

func TestPoolRunsUntilCampaignCompletes(t *testing.T) {
	h := newHarness(t)
	var contacts []model.Contact
	for i := 1; i <= 20; i++ {
		contacts = append(contacts, contact(i, fmt.Sprintf("C%d", i)))
	}
	c := h.start(t, "Olá {{nome}}", contacts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.pool.Start(ctx)
	h.pool.Wake()
	defer h.pool.Stop()

	require.Eventually(t, func() bool {
		return h.campaign(t, c.ID).Status == model.CampaignCompleted
	}, 5*time.Second, 10*time.Millisecond)

	got := h.campaign(t, c.ID)
	assert.Equal(t, 20, got.Delivered)
	assert.EqualValues(t, 20, h.sends.Load())
}

func TestBackoff(t *testing.T) {
	base := 2 * time.Second
	assert.Equal(t, 2*time.Second, Backoff(base, 1))
	assert.Equal(t, 4*time.Second, Backoff(base, 2))
	assert.Equal(t, 16*time.Second, Backoff(base, 4))
	assert.Equal(t, time.Hour, Backoff(base, 40))
	assert.Equal(t, base, Backoff(base, 0))
}
