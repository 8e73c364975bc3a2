// internal/service/campaign_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/crces-dispatch/internal/errors"
	"github.com/unclebandit/crces-dispatch/internal/events"
	"github.com/unclebandit/crces-dispatch/internal/metrics"
	"github.com/unclebandit/crces-dispatch/internal/model"
	"github.com/unclebandit/crces-dispatch/internal/queue"
	"github.com/unclebandit/crces-dispatch/internal/repository"
)

// CampaignService owns the campaign lifecycle. Every status change goes
// through a compare-and-set on the repository so concurrent callers
// cannot both win.
type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	TemplateRepo repository.TemplateRepositoryInterface
	ContactRepo  repository.ContactRepositoryInterface
	Jobs         queue.Queue
	Ledger       repository.LedgerRepositoryInterface
	Events       events.Publisher
	Log          zerolog.Logger
	Now          func() time.Time
}

// CampaignInput is the editable part of a campaign.
type CampaignInput struct {
	Name               string        `json:"name"`
	Description        string        `json:"description"`
	Channel            model.Channel `json:"channel"`
	EmailTemplateID    *int          `json:"email_template_id"`
	WhatsAppTemplateID *int          `json:"whatsapp_template_id"`
	TargetSetID        int           `json:"target_set_id"`
}

type CampaignDetails struct {
	*model.Campaign
	JobStats    map[model.JobStatus]int `json:"job_stats"`
	SuccessRate float64                 `json:"success_rate"`
	// Ledger is the progress recorded in the delivery ledger.
	Ledger *model.ProgressDelta `json:"ledger,omitempty"`
}

const (
	defaultFailureLimit = 50
	maxFailureLimit     = 500
)

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func requirePrincipal(p *model.Principal) error {
	if p == nil || p.ID == "" {
		return appErrors.ErrUnauthorized
	}
	return nil
}

// ====================== Create / Update ======================

func (s *CampaignService) validate(ctx context.Context, in *CampaignInput) error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return appErrors.NewValidation("name", "is required")
	}
	if !in.Channel.Valid() {
		return appErrors.NewValidation("channel", "must be email, whatsapp or both")
	}
	if in.TargetSetID <= 0 {
		return appErrors.NewValidation("target_set_id", "is required")
	}

	refs := map[model.Channel]*int{
		model.ChannelEmail:    in.EmailTemplateID,
		model.ChannelWhatsApp: in.WhatsAppTemplateID,
	}
	for _, ch := range model.DeliveryChannels {
		if !channelUsed(in.Channel, ch) {
			refs[ch] = nil
		}
	}
	in.EmailTemplateID = refs[model.ChannelEmail]
	in.WhatsAppTemplateID = refs[model.ChannelWhatsApp]

	for _, ch := range in.Channel.Expand() {
		field := string(ch) + "_template_id"
		id := refs[ch]
		if id == nil {
			return appErrors.NewValidation(field, "is required for channel "+string(in.Channel))
		}
		tpl, err := s.TemplateRepo.GetByID(ctx, *id)
		if err != nil {
			if appErrors.IsNotFound(err) {
				return appErrors.NewValidation(field, fmt.Sprintf("template %d does not exist", *id))
			}
			return err
		}
		if !tpl.Active {
			return appErrors.NewValidation(field, fmt.Sprintf("template %d is inactive", *id))
		}
		if tpl.Channel != ch {
			return appErrors.NewValidation(field, fmt.Sprintf("template %d is a %s template", *id, tpl.Channel))
		}
	}
	return nil
}

func channelUsed(campaign, ch model.Channel) bool {
	for _, c := range campaign.Expand() {
		if c == ch {
			return true
		}
	}
	return false
}

func (s *CampaignService) Create(ctx context.Context, p *model.Principal, in CampaignInput) (*model.Campaign, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	if err := s.validate(ctx, &in); err != nil {
		return nil, err
	}

	c := &model.Campaign{
		Name:               in.Name,
		Description:        in.Description,
		Channel:            in.Channel,
		EmailTemplateID:    in.EmailTemplateID,
		WhatsAppTemplateID: in.WhatsAppTemplateID,
		TargetSetID:        in.TargetSetID,
		Status:             model.CampaignDraft,
		CreatedBy:          p.ID,
		CreatedAt:          s.now(),
	}
	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	s.publish(ctx, events.TopicCampaignCreate, p, c, "campaign created", nil, nil)
	return c, nil
}

func (s *CampaignService) Update(ctx context.Context, p *model.Principal, id int, in CampaignInput) (*model.Campaign, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Status.Editable() {
		return nil, appErrors.NewInvalidTransition("update", string(c.Status))
	}
	if err := s.validate(ctx, &in); err != nil {
		return nil, err
	}

	c.Name = in.Name
	c.Description = in.Description
	c.Channel = in.Channel
	c.EmailTemplateID = in.EmailTemplateID
	c.WhatsAppTemplateID = in.WhatsAppTemplateID
	c.TargetSetID = in.TargetSetID
	ok, err := s.CampaignRepo.Update(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("update campaign %d: %w", id, err)
	}
	if !ok {
		return nil, s.refused(ctx, "update", id)
	}

	s.publish(ctx, events.TopicCampaignUpdate, p, c, "campaign updated", nil, nil)
	return c, nil
}

// refused builds the InvalidTransition error for a compare-and-set that
// lost, naming the status the campaign is in now.
func (s *CampaignService) refused(ctx context.Context, op string, id int) error {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return appErrors.NewInvalidTransition(op, string(c.Status))
}

// ====================== Lifecycle ======================

func (s *CampaignService) Schedule(ctx context.Context, p *model.Principal, id int, at time.Time) (*model.Campaign, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	now := s.now()
	if !at.After(now) {
		return nil, appErrors.NewValidation("scheduled_at", "must be in the future")
	}
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignDraft && c.Status != model.CampaignScheduled {
		return nil, appErrors.NewInvalidTransition("schedule", string(c.Status))
	}

	at = at.UTC()
	ok, err := s.CampaignRepo.Transition(ctx, repository.Transition{
		ID:          id,
		From:        []model.CampaignStatus{model.CampaignDraft, model.CampaignScheduled},
		To:          model.CampaignScheduled,
		At:          now,
		ScheduledAt: &at,
	})
	if err != nil {
		return nil, fmt.Errorf("schedule campaign %d: %w", id, err)
	}
	if !ok {
		return nil, s.refused(ctx, "schedule", id)
	}
	metrics.CampaignTransition(string(model.CampaignScheduled))

	c.Status = model.CampaignScheduled
	c.ScheduledAt = &at
	s.publish(ctx, events.TopicCampaignSchedule, p, c, "campaign scheduled",
		map[string]any{"scheduled_at": at.Format(time.RFC3339)}, nil)
	return c, nil
}

// Start resolves the target set and enqueues one job per contact and
// channel. Nothing is written when the campaign cannot start.
func (s *CampaignService) Start(ctx context.Context, p *model.Principal, id int) (*model.Campaign, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignDraft && c.Status != model.CampaignScheduled {
		return nil, appErrors.NewInvalidTransition("start", string(c.Status))
	}

	contacts, err := s.ContactRepo.ResolveTargetSet(ctx, c.TargetSetID)
	if err != nil {
		return nil, err
	}
	if len(contacts) == 0 {
		s.publish(ctx, events.TopicCampaignStart, p, c, "campaign start refused",
			map[string]any{"target_set_id": c.TargetSetID}, appErrors.ErrEmptyTargetSet)
		return nil, appErrors.ErrEmptyTargetSet
	}

	snapshots := make(map[model.Channel]model.TemplateSnapshot)
	for _, ch := range c.Channel.Expand() {
		ref := c.TemplateFor(ch)
		if ref == nil {
			return nil, appErrors.NewValidation(string(ch)+"_template_id", "is required")
		}
		tpl, err := s.TemplateRepo.GetByID(ctx, *ref)
		if err != nil {
			return nil, fmt.Errorf("load %s template: %w", ch, err)
		}
		snapshots[ch] = tpl.Snapshot()
	}

	now := s.now()
	jobs := make([]*model.DispatchJob, 0, len(contacts)*len(snapshots))
	for i := range contacts {
		contact := &contacts[i]
		vars := contact.Bindings()
		for _, ch := range c.Channel.Expand() {
			jobs = append(jobs, &model.DispatchJob{
				CampaignID:  c.ID,
				ContactID:   contact.ID,
				Channel:     ch,
				Status:      model.JobPending,
				Address:     contact.AddressFor(ch),
				Template:    snapshots[ch],
				Variables:   vars,
				AvailableAt: now,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
		}
	}

	total := len(jobs)
	ok, err := s.CampaignRepo.Transition(ctx, repository.Transition{
		ID:    id,
		From:  []model.CampaignStatus{model.CampaignDraft, model.CampaignScheduled},
		To:    model.CampaignRunning,
		At:    now,
		Total: &total,
	})
	if err != nil {
		return nil, fmt.Errorf("start campaign %d: %w", id, err)
	}
	if !ok {
		return nil, s.refused(ctx, "start", id)
	}
	metrics.CampaignTransition(string(model.CampaignRunning))

	if _, err := s.Jobs.Enqueue(ctx, jobs); err != nil {
		return nil, s.abortStart(ctx, c, err)
	}

	c, err = s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == model.CampaignCancelled {
		// a stop landed before the jobs were queued and found nothing to skip
		if _, err := s.skipRemaining(ctx, id, s.now()); err != nil {
			return nil, err
		}
		if c, err = s.CampaignRepo.GetByID(ctx, id); err != nil {
			return nil, err
		}
	}
	s.Log.Info().Int("campaign_id", id).Int("contacts", len(contacts)).Int("jobs", total).Msg("campaign started")
	s.publish(ctx, events.TopicCampaignStart, p, c, "campaign started",
		map[string]any{"contacts": len(contacts), "total": total}, nil)
	return c, nil
}

// abortStart returns a campaign whose jobs could not be queued to the
// status it started from. Enqueue is all or nothing, so the queue holds no
// job of the campaign.
func (s *CampaignService) abortStart(ctx context.Context, c *model.Campaign, cause error) error {
	ctx = context.WithoutCancel(ctx)
	log := s.Log.With().Int("campaign_id", c.ID).Logger()
	log.Error().Err(cause).Msg("enqueue failed, reverting start")

	zero := 0
	ok, err := s.CampaignRepo.Transition(ctx, repository.Transition{
		ID:          c.ID,
		From:        []model.CampaignStatus{model.CampaignRunning},
		To:          c.Status,
		At:          s.now(),
		ScheduledAt: c.ScheduledAt,
		Total:       &zero,
	})
	switch {
	case err != nil:
		log.Error().Err(err).Msg("could not revert campaign start")
	case !ok:
		// stopped in the meantime: cancelled with nothing to settle
		if err := s.CampaignRepo.SetCounters(ctx, c.ID, model.Counters{}); err != nil {
			log.Error().Err(err).Msg("could not clear counters of stopped campaign")
		}
	default:
		metrics.CampaignTransition(string(c.Status))
	}
	return fmt.Errorf("enqueue jobs for campaign %d: %w", c.ID, cause)
}

// Stop cancels a running campaign and skips every job not yet settled.
// Stopping a cancelled campaign returns it unchanged.
func (s *CampaignService) Stop(ctx context.Context, p *model.Principal, id int) (*model.Campaign, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == model.CampaignCancelled {
		return c, nil
	}
	if c.Status != model.CampaignRunning {
		return nil, appErrors.NewInvalidTransition("stop", string(c.Status))
	}

	now := s.now()
	ok, err := s.CampaignRepo.Transition(ctx, repository.Transition{
		ID: id, From: []model.CampaignStatus{model.CampaignRunning}, To: model.CampaignCancelled, At: now,
	})
	if err != nil {
		return nil, fmt.Errorf("stop campaign %d: %w", id, err)
	}
	if !ok {
		cur, err := s.CampaignRepo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if cur.Status == model.CampaignCancelled {
			return cur, nil
		}
		return nil, appErrors.NewInvalidTransition("stop", string(cur.Status))
	}
	metrics.CampaignTransition(string(model.CampaignCancelled))

	skipped, err := s.skipRemaining(ctx, id, now)
	if err != nil {
		return nil, err
	}

	c, err = s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Log.Info().Int("campaign_id", id).Int("skipped", skipped).Msg("campaign stopped")
	s.publish(ctx, events.TopicCampaignStop, p, c, "campaign stopped", map[string]any{"skipped": skipped}, nil)
	return c, nil
}

// skipRemaining skips the open jobs of a cancelled campaign, records each
// in the ledger and counts them. A lost ledger entry is restored by
// Reconcile from the job status.
func (s *CampaignService) skipRemaining(ctx context.Context, id int, now time.Time) (int, error) {
	skipped, err := s.Jobs.SkipRemaining(ctx, id, model.SkipReasonCancelled, now)
	if err != nil {
		return 0, fmt.Errorf("skip remaining jobs of campaign %d: %w", id, err)
	}
	if len(skipped) == 0 {
		return 0, nil
	}
	for _, j := range skipped {
		if err := s.Ledger.Append(ctx, model.EntryFor(j, j.Attempts, now)); err != nil {
			s.Log.Warn().Err(err).Int("campaign_id", id).Int("job_id", j.ID).Msg("ledger entry for skipped job lost")
		}
	}
	if _, _, err := s.CampaignRepo.ApplyProgress(ctx, id, model.ProgressDelta{Skipped: len(skipped)}); err != nil {
		return 0, fmt.Errorf("record skipped jobs of campaign %d: %w", id, err)
	}
	return len(skipped), nil
}

func (s *CampaignService) Delete(ctx context.Context, p *model.Principal, id int) error {
	if err := requirePrincipal(p); err != nil {
		return err
	}
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !c.Status.Deletable() {
		return appErrors.NewInvalidTransition("delete", string(c.Status))
	}
	ok, err := s.CampaignRepo.SoftDelete(ctx, id, s.now())
	if err != nil {
		return fmt.Errorf("delete campaign %d: %w", id, err)
	}
	if !ok {
		return s.refused(ctx, "delete", id)
	}
	s.publish(ctx, events.TopicCampaignDelete, p, c, "campaign deleted", nil, nil)
	return nil
}

// ====================== Progress ======================

// RecordProgress adds one settled job's delta and completes the campaign
// when every job has settled.
func (s *CampaignService) RecordProgress(ctx context.Context, id int, d model.ProgressDelta) error {
	if d.IsZero() {
		return nil
	}
	counters, status, err := s.CampaignRepo.ApplyProgress(ctx, id, d)
	if err != nil {
		return fmt.Errorf("record progress of campaign %d: %w", id, err)
	}
	return s.completeIfSettled(ctx, id, status, counters)
}

// Completion returns the terminal status for fully settled counters.
func Completion(c model.Counters) (status model.CampaignStatus, degraded bool) {
	switch {
	case c.Failed == 0:
		return model.CampaignCompleted, false
	case c.Failed < c.Total:
		return model.CampaignCompleted, true
	default:
		return model.CampaignFailed, false
	}
}

func (s *CampaignService) completeIfSettled(ctx context.Context, id int, status model.CampaignStatus, c model.Counters) error {
	if status != model.CampaignRunning || c.Total == 0 || c.Settled() < c.Total {
		return nil
	}
	to, degraded := Completion(c)
	ok, err := s.CampaignRepo.Transition(ctx, repository.Transition{
		ID: id, From: []model.CampaignStatus{model.CampaignRunning}, To: to, At: s.now(), Degraded: degraded,
	})
	if err != nil {
		return fmt.Errorf("complete campaign %d: %w", id, err)
	}
	if !ok {
		// another worker or a stop got there first
		return nil
	}
	metrics.CampaignTransition(string(to))
	s.Log.Info().Int("campaign_id", id).Str("status", string(to)).Bool("degraded", degraded).
		Int("sent", c.Sent).Int("failed", c.Failed).Int("skipped", c.Skipped).Msg("campaign finished")

	s.publish(ctx, events.TopicCampaignComplete, nil, &model.Campaign{ID: id, Status: to, Counters: c},
		"campaign "+string(to), map[string]any{
			"total": c.Total, "sent": c.Sent, "delivered": c.Delivered,
			"failed": c.Failed, "skipped": c.Skipped, "degraded": degraded,
		}, nil)
	return nil
}

// Reconcile rebuilds the counters of a campaign by folding its ledger and
// re-runs the completion check. Workers call it at start-up for campaigns
// left running by a crash between settling a job and recording progress.
func (s *CampaignService) Reconcile(ctx context.Context, id int) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := s.Ledger.LatestByCampaign(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read ledger of campaign %d: %w", id, err)
	}
	fold := FoldLedger(entries)

	jobs, err := s.Jobs.ListByStatus(ctx, id, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("list jobs of campaign %d: %w", id, err)
	}
	var settled []*model.DispatchJob
	for _, j := range jobs {
		if !j.Status.Settled() {
			continue
		}
		if err := s.repairLedger(ctx, fold, j); err != nil {
			return nil, err
		}
		settled = append(settled, j)
	}
	if ahead := fold.Ahead(jobs); len(ahead) > 0 {
		s.Log.Warn().Int("campaign_id", id).Ints("job_ids", ahead).
			Msg("ledger is ahead of job status, awaiting resume")
	}

	// jobs the ledger settled ahead of the queue are counted when a worker
	// resumes them
	counters := model.Counters{Total: c.Total}.Add(fold.ProgressOf(settled))
	if counters != c.Counters {
		s.Log.Warn().Int("campaign_id", id).Interface("stored", c.Counters).Interface("rebuilt", counters).
			Msg("campaign counters drifted, repairing")
		if err := s.CampaignRepo.SetCounters(ctx, id, counters); err != nil {
			return nil, fmt.Errorf("repair counters of campaign %d: %w", id, err)
		}
	}

	if err := s.completeIfSettled(ctx, id, c.Status, counters); err != nil {
		return nil, err
	}
	return s.CampaignRepo.GetByID(ctx, id)
}

// repairLedger makes the fold agree with a settled job. A job behind a
// recorded receipt is promoted; any other disagreement means the job was
// settled outside a send, which the ledger has to record.
func (s *CampaignService) repairLedger(ctx context.Context, fold LedgerFold, j *model.DispatchJob) error {
	e := fold[j.ID]
	if e != nil && e.JobStatus == j.Status {
		return nil
	}
	if e != nil && j.Status == model.JobSent && e.JobStatus == model.JobDelivered && j.ProviderRef != "" {
		if _, _, err := s.Jobs.MarkDelivered(ctx, j.ProviderRef, s.now()); err != nil {
			return fmt.Errorf("promote job %d: %w", j.ID, err)
		}
		j.Status = model.JobDelivered
		return nil
	}

	attempt := j.Attempts
	if e != nil && e.Attempt > attempt {
		attempt = e.Attempt
	}
	entry := model.EntryFor(j, attempt, s.now())
	if err := s.Ledger.Append(ctx, entry); err != nil {
		return fmt.Errorf("record job %d in ledger: %w", j.ID, err)
	}
	fold[j.ID] = entry
	return nil
}

// ReconcileRunning reconciles every running campaign. Failures are logged
// and do not stop the others.
func (s *CampaignService) ReconcileRunning(ctx context.Context) error {
	running, err := s.CampaignRepo.ListByStatus(ctx, model.CampaignRunning)
	if err != nil {
		return fmt.Errorf("list running campaigns: %w", err)
	}
	for _, c := range running {
		if _, err := s.Reconcile(ctx, c.ID); err != nil {
			s.Log.Error().Err(err).Int("campaign_id", c.ID).Msg("reconcile failed")
		}
	}
	return nil
}

// ConfirmDelivery applies a provider delivery receipt. The delivered entry
// is appended before the job moves, so a retried receipt finishes whatever
// a failed one left. Receipts for jobs that were never sent are ignored.
func (s *CampaignService) ConfirmDelivery(ctx context.Context, providerRef string) (*model.DispatchJob, error) {
	if strings.TrimSpace(providerRef) == "" {
		return nil, appErrors.NewValidation("provider_ref", "is required")
	}
	job, err := s.Jobs.FindByProviderRef(ctx, providerRef)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobSent && job.Status != model.JobDelivered {
		return job, nil
	}

	latest, err := s.Ledger.Latest(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("read ledger of job %d: %w", job.ID, err)
	}
	recorded := latest != nil && latest.JobStatus == model.JobDelivered
	if !recorded {
		attempt := job.Attempts
		if latest != nil && latest.Attempt > attempt {
			attempt = latest.Attempt
		}
		delivered := *job
		delivered.Status = model.JobDelivered
		delivered.LastError = ""
		if err := s.Ledger.Append(ctx, model.EntryFor(&delivered, attempt, s.now())); err != nil {
			return nil, fmt.Errorf("record delivery of job %d: %w", job.ID, err)
		}
	}

	// a job already delivered without its entry was never counted either
	wasDelivered := job.Status == model.JobDelivered
	job, changed, err := s.Jobs.MarkDelivered(ctx, providerRef, s.now())
	if err != nil {
		return nil, fmt.Errorf("mark job delivered: %w", err)
	}
	if !changed && !(wasDelivered && !recorded) {
		return job, nil
	}
	if err := s.RecordProgress(ctx, job.CampaignID, model.ProgressDelta{Delivered: 1}); err != nil {
		return nil, err
	}
	return job, nil
}

// ====================== Queries ======================

func (s *CampaignService) GetCampaignDetails(ctx context.Context, p *model.Principal, id int) (*model.Campaign, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	return s.CampaignRepo.GetByID(ctx, id)
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, p *model.Principal, id int) (*CampaignDetails, error) {
	c, err := s.GetCampaignDetails(ctx, p, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.Jobs.CountByStatus(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count jobs of campaign %d: %w", id, err)
	}
	stats := map[model.JobStatus]int{
		model.JobPending:   0,
		model.JobInFlight:  0,
		model.JobSent:      0,
		model.JobDelivered: 0,
		model.JobFailed:    0,
		model.JobSkipped:   0,
	}
	for status, n := range counts {
		stats[status] = n
	}
	details := &CampaignDetails{
		Campaign:    c,
		JobStats:    stats,
		SuccessRate: repository.SuccessRate(c.Delivered, c.Sent),
	}
	entries, err := s.Ledger.LatestByCampaign(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read ledger of campaign %d: %w", id, err)
	}
	progress := FoldLedger(entries).Progress()
	details.Ledger = &progress
	return details, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, p *model.Principal, page, pageSize int, channel, status string) ([]model.Campaign, map[string]int, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, nil, err
	}
	page, pageSize, offset := paginate(page, pageSize)

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, channel, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	return campaigns, pagination(page, pageSize, total), nil
}

// paginate clamps page to at least 1 and pageSize to 1..100, defaulting
// to 20, and returns the row offset.
func paginate(page, pageSize int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize, (page - 1) * pageSize
}

func pagination(page, pageSize, total int) map[string]int {
	return map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": (total + pageSize - 1) / pageSize,
	}
}

func (s *CampaignService) Stats(ctx context.Context, p *model.Principal) (*model.CampaignStats, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	return s.CampaignRepo.Stats(ctx)
}

// Failures lists failed and skipped jobs with their last error.
func (s *CampaignService) Failures(ctx context.Context, p *model.Principal, id, limit int) ([]model.JobFailure, error) {
	if _, err := s.GetCampaignDetails(ctx, p, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultFailureLimit
	}
	if limit > maxFailureLimit {
		limit = maxFailureLimit
	}
	jobs, err := s.Jobs.ListByStatus(ctx, id, []model.JobStatus{model.JobFailed, model.JobSkipped}, limit)
	if err != nil {
		return nil, fmt.Errorf("list failures of campaign %d: %w", id, err)
	}
	out := make([]model.JobFailure, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, model.JobFailure{
			JobID:     j.ID,
			ContactID: j.ContactID,
			Channel:   j.Channel,
			Status:    j.Status,
			Attempts:  j.Attempts,
			Reason:    j.LastError,
		})
	}
	return out, nil
}

// ====================== Events ======================

func (s *CampaignService) publish(ctx context.Context, topic string, p *model.Principal, c *model.Campaign, desc string, details map[string]any, opErr error) {
	if s.Events == nil {
		return
	}
	ev := events.Event{
		Topic:        topic,
		Actor:        p,
		ResourceType: "campaign",
		ResourceID:   strconv.Itoa(c.ID),
		Description:  desc,
		Details:      details,
		Success:      opErr == nil,
		At:           s.now(),
	}
	if opErr != nil {
		ev.Error = opErr.Error()
	}
	if err := s.Events.Publish(context.WithoutCancel(ctx), ev); err != nil && !errors.Is(err, context.Canceled) {
		s.Log.Warn().Err(err).Str("topic", topic).Int("campaign_id", c.ID).Msg("event delivery failed")
	}
}
