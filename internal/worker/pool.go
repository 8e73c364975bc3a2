// Package worker runs the dispatch loop: claim a job, render it, send it
// through the channel's sender under the channel cap, record the attempt
// and settle the job.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/unclebandit/crces-dispatch/internal/channel"
	appErrors "github.com/unclebandit/crces-dispatch/internal/errors"
	"github.com/unclebandit/crces-dispatch/internal/events"
	"github.com/unclebandit/crces-dispatch/internal/limiter"
	"github.com/unclebandit/crces-dispatch/internal/logger"
	"github.com/unclebandit/crces-dispatch/internal/metrics"
	"github.com/unclebandit/crces-dispatch/internal/model"
	"github.com/unclebandit/crces-dispatch/internal/queue"
	"github.com/unclebandit/crces-dispatch/internal/render"
	"github.com/unclebandit/crces-dispatch/internal/repository"
)

type Config struct {
	Concurrency  map[model.Channel]int
	LeaseTimeout time.Duration
	PollInterval time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Concurrency:  map[model.Channel]int{model.ChannelEmail: 4, model.ChannelWhatsApp: 2},
		LeaseTimeout: 2 * time.Minute,
		PollInterval: 500 * time.Millisecond,
		MaxAttempts:  5,
		BackoffBase:  2 * time.Second,
	}
}

// CampaignReader is the campaign lookup the pool needs.
type CampaignReader interface {
	GetByID(ctx context.Context, id int) (*model.Campaign, error)
}

// ProgressRecorder receives the delta of every settled job.
type ProgressRecorder interface {
	RecordProgress(ctx context.Context, id int, d model.ProgressDelta) error
}

// Stats are running totals since the pool was created.
type Stats struct {
	Claimed    int64 `json:"claimed"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
	Skipped    int64 `json:"skipped"`
	Retried    int64 `json:"retried"`
	Reconciled int64 `json:"reconciled"`
	LeaseLost  int64 `json:"lease_lost"`
}

// Pool runs Concurrency[ch] goroutines per channel.
type Pool struct {
	Config

	ID        string
	Jobs      queue.Queue
	Campaigns CampaignReader
	Progress  ProgressRecorder
	Ledger    repository.LedgerRepositoryInterface
	Senders   *channel.Registry
	Limiter   limiter.Limiter
	Renderer  *render.Renderer
	Events    events.Publisher
	Log       zerolog.Logger
	Now       func() time.Time

	wake   map[model.Channel]chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	stats  struct {
		claimed, sent, failed, skipped, retried, reconciled, leaseLost atomic.Int64
	}
}

func NewPool(cfg Config, jobs queue.Queue, campaigns CampaignReader, progress ProgressRecorder,
	ledger repository.LedgerRepositoryInterface, senders *channel.Registry, lim limiter.Limiter, log zerolog.Logger) *Pool {
	id := "worker-" + uuid.NewString()[:8]
	p := &Pool{
		Config:    cfg,
		ID:        id,
		Jobs:      jobs,
		Campaigns: campaigns,
		Progress:  progress,
		Ledger:    ledger,
		Senders:   senders,
		Limiter:   lim,
		Renderer:  render.New(),
		Log:       log.With().Str("component", "worker").Str("worker_id", id).Logger(),
		Now:       time.Now,
		wake:      make(map[model.Channel]chan struct{}),
	}
	for ch, n := range cfg.Concurrency {
		p.wake[ch] = make(chan struct{}, max(n, 1))
	}
	return p
}

// Start launches the claim loops. Stop cancels them and waits.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for ch, n := range p.Concurrency {
		for i := 0; i < n; i++ {
			p.wg.Add(1)
			go p.loop(ctx, ch, i)
		}
	}
	p.Log.Info().Interface("concurrency", p.Concurrency).Msg("worker pool started")
}

func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.Log.Info().Msg("worker pool stopped")
}

// Wake nudges idle loops of every channel to poll now.
func (p *Pool) Wake() {
	for _, c := range p.wake {
		for i := 0; i < cap(c); i++ {
			select {
			case c <- struct{}{}:
			default:
			}
		}
	}
}

func (p *Pool) Stats() Stats {
	return Stats{
		Claimed:    p.stats.claimed.Load(),
		Sent:       p.stats.sent.Load(),
		Failed:     p.stats.failed.Load(),
		Skipped:    p.stats.skipped.Load(),
		Retried:    p.stats.retried.Load(),
		Reconciled: p.stats.reconciled.Load(),
		LeaseLost:  p.stats.leaseLost.Load(),
	}
}

func (p *Pool) loop(ctx context.Context, ch model.Channel, n int) {
	defer p.wg.Done()
	log := p.Log.With().Str("channel", string(ch)).Int("slot", n).Logger()

	for {
		if ctx.Err() != nil {
			return
		}
		worked, err := p.ProcessNext(ctx, ch)
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("dispatch iteration failed")
		}
		if worked && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-p.wake[ch]:
		case <-time.After(p.PollInterval):
		}
	}
}

func (p *Pool) now() time.Time {
	return p.Now().UTC()
}

// ProcessNext runs one claim-send-settle iteration on ch. It reports
// whether a job was claimed.
func (p *Pool) ProcessNext(ctx context.Context, ch model.Channel) (bool, error) {
	job, err := p.Jobs.Claim(ctx, ch, p.ID, p.now(), p.LeaseTimeout)
	if err != nil {
		return false, fmt.Errorf("claim %s job: %w", ch, err)
	}
	if job == nil {
		return false, nil
	}
	p.stats.claimed.Add(1)
	log := p.Log.With().Int("job_id", job.ID).Int("campaign_id", job.CampaignID).Str("channel", string(ch)).Logger()

	campaign, err := p.Campaigns.GetByID(ctx, job.CampaignID)
	if err != nil && !appErrors.IsNotFound(err) {
		return true, fmt.Errorf("load campaign %d: %w", job.CampaignID, err)
	}
	if campaign == nil || campaign.Status != model.CampaignRunning {
		return true, p.drop(ctx, job, campaign, log)
	}

	prev, err := p.Ledger.Latest(ctx, job.ID)
	if err != nil {
		return true, fmt.Errorf("read ledger of job %d: %w", job.ID, err)
	}
	if prev != nil && prev.Attempt > job.Attempts {
		return true, p.resume(ctx, job, prev, log)
	}

	return true, p.attempt(ctx, job, log)
}

// drop skips a job whose campaign is no longer running. Jobs of a
// cancelled campaign count as skipped; they were queued after the stop
// skipped the rest.
func (p *Pool) drop(ctx context.Context, job *model.DispatchJob, c *model.Campaign, log zerolog.Logger) error {
	reason := "campaign deleted"
	if c != nil {
		reason = "campaign " + string(c.Status)
	}
	job.Status = model.JobSkipped
	job.LastError = reason
	entry := model.EntryFor(job, job.Attempts, p.now())
	if err := p.Ledger.Append(ctx, entry); err != nil {
		return fmt.Errorf("append ledger entry for job %d: %w", job.ID, err)
	}
	if err := p.Jobs.Settle(ctx, job, p.now()); err != nil {
		return p.settleFailed(ctx, job, entry, err, log)
	}
	p.stats.skipped.Add(1)
	if c != nil && c.Status == model.CampaignCancelled {
		if err := p.Progress.RecordProgress(ctx, job.CampaignID, job.Status.Delta()); err != nil {
			return fmt.Errorf("record progress of job %d: %w", job.ID, err)
		}
	}
	log.Info().Str("reason", reason).Msg("dropped job of inactive campaign")
	return nil
}

// resume applies an attempt that was recorded in the ledger by a worker
// that died before updating the job. The message is not sent again.
func (p *Pool) resume(ctx context.Context, job *model.DispatchJob, prev *model.LedgerEntry, log zerolog.Logger) error {
	p.stats.reconciled.Add(1)
	job.Attempts = prev.Attempt
	job.LastError = prev.Error
	if prev.ProviderRef != "" {
		job.ProviderRef = prev.ProviderRef
	}
	log.Warn().Int("attempt", prev.Attempt).Str("outcome", string(prev.Outcome)).
		Msg("resuming job from ledger without resending")

	if !prev.JobStatus.Settled() {
		at := p.now()
		if prev.NextAttemptAt != nil {
			at = *prev.NextAttemptAt
		}
		if err := p.Jobs.Retry(ctx, job, at, p.now()); err != nil {
			return p.settleFailed(ctx, job, prev, err, log)
		}
		return nil
	}
	job.Status = prev.JobStatus
	return p.settle(ctx, job, prev, log)
}

func (p *Pool) attempt(ctx context.Context, job *model.DispatchJob, log zerolog.Logger) error {
	attempt := job.Attempts + 1
	outcome, detail, err := p.send(ctx, job, log)
	if err != nil {
		// nothing was sent; the lease expires and another claim retries
		return err
	}
	metrics.ObserveAttempt(string(job.Channel), string(outcome.Status))

	// the send happened; record it even if the pool is shutting down
	ctx = context.WithoutCancel(ctx)
	now := p.now()
	entry := &model.LedgerEntry{
		JobID:        job.ID,
		CampaignID:   job.CampaignID,
		Channel:      job.Channel,
		Attempt:      attempt,
		Outcome:      outcome.Status,
		ProviderCode: outcome.Code,
		ProviderRef:  outcome.ProviderRef,
		Error:        detail,
		CreatedAt:    now,
	}
	job.Attempts = attempt
	job.LastError = detail

	var retryAt *time.Time
	switch {
	case outcome.Status == model.OutcomeSent:
		job.Status = model.JobSent
	case outcome.Status == model.OutcomeDelivered:
		job.Status = model.JobDelivered
	case outcome.Status == model.OutcomeSkipped:
		job.Status = model.JobSkipped
	case outcome.Status.Retryable() && attempt < p.MaxAttempts:
		next := now.Add(Backoff(p.BackoffBase, attempt))
		retryAt = &next
		job.Status = model.JobPending
		entry.NextAttemptAt = retryAt
	default:
		job.Status = model.JobFailed
	}
	if job.Status == model.JobSent || job.Status == model.JobDelivered {
		job.ProviderRef = outcome.ProviderRef
		job.LastError = ""
	}
	entry.JobStatus = job.Status

	if err := p.Ledger.Append(ctx, entry); err != nil {
		// without the entry the job is not touched; the lease expires and
		// the attempt is repeated
		return fmt.Errorf("append ledger entry for job %d: %w", job.ID, err)
	}

	if retryAt != nil {
		if err := p.Jobs.Retry(ctx, job, *retryAt, now); err != nil {
			return p.settleFailed(ctx, job, entry, err, log)
		}
		p.stats.retried.Add(1)
		log.Debug().Int("attempt", attempt).Time("next_attempt_at", *retryAt).Str("detail", detail).
			Msg("attempt failed, retrying")
		return nil
	}
	return p.settle(ctx, job, entry, log)
}

// send renders the job and hands it to the channel sender. Failures are
// folded into the outcome; the only error is failing to get a permit.
func (p *Pool) send(ctx context.Context, job *model.DispatchJob, log zerolog.Logger) (channel.Outcome, string, error) {
	if job.Address == "" {
		return channel.Outcome{Status: model.OutcomeSkipped}, "no " + string(job.Channel) + " address", nil
	}

	content, err := p.Renderer.Render(job.Template, job.Variables)
	if err != nil {
		var missing *appErrors.MissingVariableError
		if errors.As(err, &missing) {
			return channel.Outcome{Status: model.OutcomeSkipped}, err.Error(), nil
		}
		return channel.Outcome{Status: model.OutcomeRejected, Code: "render"}, err.Error(), nil
	}
	job.Rendered = &content

	sender, err := p.Senders.For(job.Channel)
	if err != nil {
		return channel.Outcome{Status: model.OutcomeTransientError}, err.Error(), nil
	}

	release, err := p.Limiter.Acquire(ctx, job.Channel)
	if err != nil {
		return channel.Outcome{}, "", fmt.Errorf("acquire %s send permit: %w", job.Channel, err)
	}
	start := time.Now()
	out, err := sender.Send(ctx, channel.Message{
		JobID:      job.ID,
		CampaignID: job.CampaignID,
		Channel:    job.Channel,
		To:         job.Address,
		Subject:    content.Subject,
		Body:       content.Body,
	})
	release()
	metrics.ObserveSend(string(job.Channel), time.Since(start))

	if err != nil {
		log.Warn().Err(err).Str("to", redact(job)).Msg("send failed")
		return channel.Outcome{Status: model.OutcomeTransientError}, err.Error(), nil
	}
	switch out.Status {
	case model.OutcomeSent, model.OutcomeDelivered, model.OutcomeRejected,
		model.OutcomeRateLimited, model.OutcomeTransientError:
	default:
		out.Detail = fmt.Sprintf("unknown outcome %q", out.Status)
		out.Status = model.OutcomeTransientError
	}
	detail := out.Detail
	if out.Status == model.OutcomeRejected && out.Code != "" && detail == "" {
		detail = "rejected with code " + out.Code
	}
	return out, detail, nil
}

func redact(job *model.DispatchJob) string {
	if job.Channel == model.ChannelEmail {
		return logger.RedactEmail(job.Address)
	}
	return logger.RedactPhone(job.Address)
}

// settle stores a settled job, reports its progress and publishes it.
// recorded is the ledger entry the status came from.
func (p *Pool) settle(ctx context.Context, job *model.DispatchJob, recorded *model.LedgerEntry, log zerolog.Logger) error {
	if err := p.Jobs.Settle(ctx, job, p.now()); err != nil {
		return p.settleFailed(ctx, job, recorded, err, log)
	}
	switch job.Status {
	case model.JobSent, model.JobDelivered:
		p.stats.sent.Add(1)
	case model.JobFailed:
		p.stats.failed.Add(1)
	case model.JobSkipped:
		p.stats.skipped.Add(1)
	}

	if err := p.Progress.RecordProgress(ctx, job.CampaignID, job.Status.Delta()); err != nil {
		return fmt.Errorf("record progress of job %d: %w", job.ID, err)
	}
	log.Debug().Str("status", string(job.Status)).Int("attempts", job.Attempts).Msg("job settled")
	p.publish(ctx, job, log)
	return nil
}

// settleFailed swallows lost leases: the job was skipped by a stop or
// reclaimed after expiry, and its new owner is responsible for it. When a
// stop skipped it after this attempt was recorded, the ledger gets the
// skip on top so it folds to what the counters hold.
func (p *Pool) settleFailed(ctx context.Context, job *model.DispatchJob, recorded *model.LedgerEntry, err error, log zerolog.Logger) error {
	if !errors.Is(err, appErrors.ErrLeaseLost) {
		return fmt.Errorf("update job %d: %w", job.ID, err)
	}
	p.stats.leaseLost.Add(1)
	metrics.LeaseLost(string(job.Channel))
	log.Warn().Msg("lease lost before acknowledging job")

	if recorded == nil || recorded.JobStatus == model.JobSkipped {
		return nil
	}
	stored, err := p.Jobs.Get(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("reload job %d: %w", job.ID, err)
	}
	if stored.Status != model.JobSkipped {
		return nil
	}
	if err := p.Ledger.Append(ctx, model.EntryFor(stored, recorded.Attempt, p.now())); err != nil {
		return fmt.Errorf("append skip entry for job %d: %w", job.ID, err)
	}
	return nil
}

func (p *Pool) publish(ctx context.Context, job *model.DispatchJob, log zerolog.Logger) {
	if p.Events == nil {
		return
	}
	ev := events.Event{
		Topic:        events.TopicDispatchSettled,
		ResourceType: "dispatch_job",
		ResourceID:   strconv.Itoa(job.ID),
		Description:  fmt.Sprintf("%s message %s", job.Channel, job.Status),
		Details: map[string]any{
			"campaign_id":  job.CampaignID,
			"contact_id":   job.ContactID,
			"channel":      string(job.Channel),
			"status":       string(job.Status),
			"attempts":     job.Attempts,
			"provider_ref": job.ProviderRef,
		},
		Success: job.Status == model.JobSent || job.Status == model.JobDelivered,
		Error:   job.LastError,
		At:      p.now(),
	}
	if err := p.Events.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Msg("settled event delivery failed")
	}
}
