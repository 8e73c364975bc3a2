package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/crces-dispatch/internal/errors"
	"github.com/unclebandit/crces-dispatch/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign) error
	// Update stores editable fields. It reports false when the campaign is
	// no longer in an editable status.
	Update(ctx context.Context, c *model.Campaign) (bool, error)
	GetByID(ctx context.Context, id int) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, offset, limit int, channel, status string) ([]*model.Campaign, int, error)
	ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error)

	// Transition is a compare-and-set on status. It reports whether the
	// campaign was in one of t.From and is now in t.To.
	Transition(ctx context.Context, t Transition) (bool, error)
	// ApplyProgress atomically adds d to the counters and returns the
	// resulting counters together with the current status.
	ApplyProgress(ctx context.Context, id int, d model.ProgressDelta) (model.Counters, model.CampaignStatus, error)
	SetCounters(ctx context.Context, id int, c model.Counters) error
	SoftDelete(ctx context.Context, id int, at time.Time) (bool, error)
	Stats(ctx context.Context) (*model.CampaignStats, error)
}

// Transition describes one status change and the fields it sets.
type Transition struct {
	ID          int
	From        []model.CampaignStatus
	To          model.CampaignStatus
	At          time.Time
	ScheduledAt *time.Time
	Total       *int
	Degraded    bool
}

type CampaignRepository struct {
	DB *sql.DB
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)

const campaignColumns = `id, name, description, channel, email_template_id, whatsapp_template_id, target_set_id,
	status, degraded, scheduled_at, created_by, created_at, updated_at, started_at, completed_at,
	total, sent, delivered, failed, skipped`

func scanCampaign(row scanner) (*model.Campaign, error) {
	var (
		c              model.Campaign
		emailTpl, wTpl sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Channel, &emailTpl, &wTpl, &c.TargetSetID,
		&c.Status, &c.Degraded, &c.ScheduledAt, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt, &c.StartedAt, &c.CompletedAt,
		&c.Total, &c.Sent, &c.Delivered, &c.Failed, &c.Skipped)
	if err != nil {
		return nil, err
	}
	c.EmailTemplateID = nullIntPtr(emailTpl)
	c.WhatsAppTemplateID = nullIntPtr(wTpl)
	return &c, nil
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	query := `
		INSERT INTO campaigns (name, description, channel, email_template_id, whatsapp_template_id,
			target_set_id, status, scheduled_at, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	return r.DB.QueryRowContext(ctx, query, c.Name, c.Description, c.Channel, c.EmailTemplateID, c.WhatsAppTemplateID,
		c.TargetSetID, c.Status, c.ScheduledAt, c.CreatedBy, c.CreatedAt).Scan(&c.ID)
}

func (r *CampaignRepository) Update(ctx context.Context, c *model.Campaign) (bool, error) {
	query := `
		UPDATE campaigns
		SET name=$1, description=$2, channel=$3, email_template_id=$4, whatsapp_template_id=$5,
			target_set_id=$6, updated_at=$7
		WHERE id=$8 AND deleted_at IS NULL AND status IN ('draft', 'scheduled')
	`
	now := time.Now().UTC()
	res, err := r.DB.ExecContext(ctx, query, c.Name, c.Description, c.Channel, c.EmailTemplateID, c.WhatsAppTemplateID,
		c.TargetSetID, now, c.ID)
	if err != nil {
		return false, err
	}
	c.UpdatedAt = &now
	return oneRow(res)
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1 AND deleted_at IS NULL`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	where := ` WHERE deleted_at IS NULL`
	args := []interface{}{}
	argPos := 1

	if channel != "" {
		where += fmt.Sprintf(" AND channel=$%d", argPos)
		args = append(args, channel)
		argPos++
	}
	if status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, total, rows.Err()
}

func (r *CampaignRepository) ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE status=$1 AND deleted_at IS NULL ORDER BY id`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ====================== State machine ======================

func (r *CampaignRepository) Transition(ctx context.Context, t Transition) (bool, error) {
	from := make([]string, len(t.From))
	for i, s := range t.From {
		from[i] = string(s)
	}
	query := `
		UPDATE campaigns
		SET status=$1::text, updated_at=$2,
			scheduled_at = COALESCE($3, scheduled_at),
			total = COALESCE($4, total),
			started_at = CASE WHEN $1::text = 'running' THEN $2
				WHEN $1::text IN ('draft', 'scheduled') THEN NULL ELSE started_at END,
			completed_at = CASE WHEN $1::text IN ('completed', 'failed', 'cancelled') THEN $2 ELSE completed_at END,
			degraded = $5
		WHERE id=$6 AND deleted_at IS NULL AND status = ANY($7)
	`
	res, err := r.DB.ExecContext(ctx, query, t.To, t.At, t.ScheduledAt, t.Total, t.Degraded, t.ID, pq.Array(from))
	if err != nil {
		return false, err
	}
	return oneRow(res)
}

func (r *CampaignRepository) ApplyProgress(ctx context.Context, id int, d model.ProgressDelta) (model.Counters, model.CampaignStatus, error) {
	query := `
		UPDATE campaigns
		SET sent=sent+$1, delivered=delivered+$2, failed=failed+$3, skipped=skipped+$4, updated_at=NOW()
		WHERE id=$5
		RETURNING status, total, sent, delivered, failed, skipped
	`
	var (
		c      model.Counters
		status model.CampaignStatus
	)
	err := r.DB.QueryRowContext(ctx, query, d.Sent, d.Delivered, d.Failed, d.Skipped, id).
		Scan(&status, &c.Total, &c.Sent, &c.Delivered, &c.Failed, &c.Skipped)
	if errors.Is(err, sql.ErrNoRows) {
		return c, "", appErrors.NewCampaignNotFound(id)
	}
	return c, status, err
}

func (r *CampaignRepository) SetCounters(ctx context.Context, id int, c model.Counters) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE campaigns SET total=$1, sent=$2, delivered=$3, failed=$4, skipped=$5, updated_at=NOW() WHERE id=$6`,
		c.Total, c.Sent, c.Delivered, c.Failed, c.Skipped, id)
	return err
}

func (r *CampaignRepository) SoftDelete(ctx context.Context, id int, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE campaigns SET deleted_at=$1, updated_at=$1
		WHERE id=$2 AND deleted_at IS NULL AND status IN ('draft', 'completed', 'failed', 'cancelled')
	`, at, id)
	if err != nil {
		return false, err
	}
	return oneRow(res)
}

func (r *CampaignRepository) Stats(ctx context.Context) (*model.CampaignStats, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(sent), 0), COALESCE(SUM(delivered), 0), COALESCE(SUM(failed), 0)
		FROM campaigns
		WHERE deleted_at IS NULL
		GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &model.CampaignStats{}
	for rows.Next() {
		var (
			status                   model.CampaignStatus
			count, sent, dlv, failed int
		)
		if err := rows.Scan(&status, &count, &sent, &dlv, &failed); err != nil {
			return nil, err
		}
		AddStatusCount(stats, status, count)
		stats.TotalSent += sent
		stats.TotalDelivered += dlv
		stats.TotalFailed += failed
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	stats.SuccessRate = SuccessRate(stats.TotalDelivered, stats.TotalSent)
	return stats, nil
}

// AddStatusCount adds count campaigns of the given status to stats.
func AddStatusCount(stats *model.CampaignStats, status model.CampaignStatus, count int) {
	stats.Total += count
	switch status {
	case model.CampaignDraft:
		stats.Draft += count
	case model.CampaignScheduled:
		stats.Scheduled += count
	case model.CampaignRunning:
		stats.Running += count
	case model.CampaignCompleted:
		stats.Completed += count
	case model.CampaignFailed:
		stats.Failed += count
	case model.CampaignCancelled:
		stats.Cancelled += count
	}
}

// SuccessRate is delivered/sent as a percentage with two decimals.
func SuccessRate(delivered, sent int) float64 {
	if sent == 0 {
		return 0
	}
	return math.Round(float64(delivered)/float64(sent)*10000) / 100
}
