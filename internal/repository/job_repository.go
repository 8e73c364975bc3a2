package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/crces-dispatch/internal/errors"
	"github.com/unclebandit/crces-dispatch/internal/model"
	"github.com/unclebandit/crces-dispatch/internal/queue"
)

// JobRepository is the Postgres recipient queue. Claims use
// FOR UPDATE SKIP LOCKED so concurrent workers never pick the same row.
type JobRepository struct {
	DB *sql.DB
}

var _ queue.Queue = (*JobRepository)(nil)

const jobColumns = `id, campaign_id, contact_id, channel, status, attempts, last_error, address,
	template_snapshot, variables, rendered, provider_ref, lease_owner, lease_token, lease_expires_at,
	available_at, created_at, updated_at`

func scanJob(row scanner) (*model.DispatchJob, error) {
	var (
		j                   model.DispatchJob
		tpl, vars, rendered []byte
	)
	err := row.Scan(&j.ID, &j.CampaignID, &j.ContactID, &j.Channel, &j.Status, &j.Attempts, &j.LastError, &j.Address,
		&tpl, &vars, &rendered, &j.ProviderRef, &j.LeaseOwner, &j.LeaseToken, &j.LeaseExpiresAt,
		&j.AvailableAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(tpl, &j.Template); err != nil {
		return nil, err
	}
	j.Variables = map[string]string{}
	if err := decodeJSON(vars, &j.Variables); err != nil {
		return nil, err
	}
	if len(rendered) > 0 {
		j.Rendered = &model.RenderedContent{}
		if err := decodeJSON(rendered, j.Rendered); err != nil {
			return nil, err
		}
	}
	return &j, nil
}

func renderedValue(r *model.RenderedContent) (any, error) {
	if r == nil {
		return nil, nil
	}
	return jsonValue(r)
}

// Enqueue inserts the batch in one transaction. Existing jobs keep their
// row and only have their ID copied back.
func (r *JobRepository) Enqueue(ctx context.Context, jobs []*model.DispatchJob) (int, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO dispatch_jobs (campaign_id, contact_id, channel, status, address, template_snapshot, variables,
			available_at, created_at, updated_at)
		VALUES ($1, $2, $3, 'pending', $4, $5, $6, $7, $8, $8)
		ON CONFLICT (campaign_id, contact_id, channel) DO NOTHING
		RETURNING id
	`
	inserted := 0
	for _, j := range jobs {
		tpl, err := jsonValue(j.Template)
		if err != nil {
			return 0, err
		}
		vars, err := jsonValue(j.Variables)
		if err != nil {
			return 0, err
		}
		created := j.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		err = tx.QueryRowContext(ctx, insert, j.CampaignID, j.ContactID, j.Channel, j.Address, tpl, vars,
			j.AvailableAt, created).Scan(&j.ID)
		switch {
		case err == nil:
			j.Status = model.JobPending
			inserted++
		case errors.Is(err, sql.ErrNoRows):
			// already enqueued by an earlier start
			if err := tx.QueryRowContext(ctx,
				`SELECT id FROM dispatch_jobs WHERE campaign_id=$1 AND contact_id=$2 AND channel=$3`,
				j.CampaignID, j.ContactID, j.Channel).Scan(&j.ID); err != nil {
				return 0, err
			}
		default:
			return 0, fmt.Errorf("enqueue job for contact %d: %w", j.ContactID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (r *JobRepository) Claim(ctx context.Context, ch model.Channel, owner string, now time.Time, lease time.Duration) (*model.DispatchJob, error) {
	query := `
		UPDATE dispatch_jobs
		SET status = 'in_flight', lease_owner = $2, lease_token = $3, lease_expires_at = $4, updated_at = $5
		WHERE id = (
			SELECT id FROM dispatch_jobs
			WHERE channel = $1
			  AND ((status = 'pending' AND available_at <= $5)
			    OR (status = 'in_flight' AND lease_expires_at <= $5))
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns
	j, err := scanJob(r.DB.QueryRowContext(ctx, query, ch, owner, uuid.NewString(), now.Add(lease), now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

func (r *JobRepository) Settle(ctx context.Context, job *model.DispatchJob, now time.Time) error {
	if !job.Status.Settled() {
		return fmt.Errorf("settle job %d: %s is not a settled status", job.ID, job.Status)
	}
	rendered, err := renderedValue(job.Rendered)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE dispatch_jobs
		SET status=$1, attempts=$2, last_error=$3, provider_ref=$4, rendered=$5,
			lease_owner='', lease_token='', lease_expires_at=NULL, updated_at=$6
		WHERE id=$7 AND status='in_flight' AND lease_token=$8
	`, job.Status, job.Attempts, job.LastError, job.ProviderRef, rendered, now, job.ID, job.LeaseToken)
	if err != nil {
		return err
	}
	return leaseResult(res)
}

func (r *JobRepository) Retry(ctx context.Context, job *model.DispatchJob, availableAt, now time.Time) error {
	rendered, err := renderedValue(job.Rendered)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE dispatch_jobs
		SET status='pending', attempts=$1, last_error=$2, rendered=$3, available_at=$4,
			lease_owner='', lease_token='', lease_expires_at=NULL, updated_at=$5
		WHERE id=$6 AND status='in_flight' AND lease_token=$7
	`, job.Attempts, job.LastError, rendered, availableAt, now, job.ID, job.LeaseToken)
	if err != nil {
		return err
	}
	return leaseResult(res)
}

func leaseResult(res sql.Result) error {
	ok, err := oneRow(res)
	if err != nil {
		return err
	}
	if !ok {
		return appErrors.ErrLeaseLost
	}
	return nil
}

func (r *JobRepository) SkipRemaining(ctx context.Context, campaignID int, reason string, now time.Time) ([]*model.DispatchJob, error) {
	rows, err := r.DB.QueryContext(ctx, `
		UPDATE dispatch_jobs
		SET status='skipped', last_error=$1, lease_owner='', lease_token='', lease_expires_at=NULL, updated_at=$2
		WHERE campaign_id=$3 AND status IN ('pending', 'in_flight')
		RETURNING `+jobColumns, reason, now, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var skipped []*model.DispatchJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		skipped = append(skipped, j)
	}
	return skipped, rows.Err()
}

func (r *JobRepository) FindByProviderRef(ctx context.Context, providerRef string) (*model.DispatchJob, error) {
	j, err := scanJob(r.DB.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM dispatch_jobs WHERE provider_ref=$1 AND provider_ref <> '' LIMIT 1`, providerRef))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewJobNotFound("provider_ref " + providerRef)
	}
	return j, err
}

func (r *JobRepository) MarkDelivered(ctx context.Context, providerRef string, now time.Time) (*model.DispatchJob, bool, error) {
	j, err := scanJob(r.DB.QueryRowContext(ctx, `
		UPDATE dispatch_jobs SET status='delivered', updated_at=$1
		WHERE provider_ref=$2 AND provider_ref <> '' AND status='sent'
		RETURNING `+jobColumns, now, providerRef))
	if err == nil {
		return j, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	j, err = scanJob(r.DB.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM dispatch_jobs WHERE provider_ref=$1 AND provider_ref <> '' LIMIT 1`, providerRef))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, appErrors.NewJobNotFound("provider_ref " + providerRef)
	}
	if err != nil {
		return nil, false, err
	}
	return j, false, nil
}

func (r *JobRepository) Get(ctx context.Context, id int) (*model.DispatchJob, error) {
	j, err := scanJob(r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM dispatch_jobs WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewJobNotFound(fmt.Sprint(id))
	}
	return j, err
}

func (r *JobRepository) CountByStatus(ctx context.Context, campaignID int) (map[model.JobStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM dispatch_jobs WHERE campaign_id=$1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[model.JobStatus]int{}
	for rows.Next() {
		var status model.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (r *JobRepository) ListByStatus(ctx context.Context, campaignID int, statuses []model.JobStatus, limit int) ([]*model.DispatchJob, error) {
	want := make([]string, len(statuses))
	for i, s := range statuses {
		want[i] = string(s)
	}
	// LIMIT NULL is no limit
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM dispatch_jobs
		WHERE campaign_id=$1 AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		ORDER BY id
		LIMIT $3
	`, campaignID, pq.Array(want), lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.DispatchJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
