package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/unclebandit/crces-dispatch/internal/model"
)

// LedgerRepositoryInterface is append-only: there is no update or delete.
type LedgerRepositoryInterface interface {
	Append(ctx context.Context, e *model.LedgerEntry) error
	// Latest returns the highest attempt recorded for a job, or nil.
	Latest(ctx context.Context, jobID int) (*model.LedgerEntry, error)
	// ListByCampaign pages a campaign's entries in append order and returns
	// the number matching the filter.
	ListByCampaign(ctx context.Context, campaignID int, f model.LedgerFilter) ([]*model.LedgerEntry, int, error)
	// LatestByCampaign returns the latest entry of every job of a campaign.
	LatestByCampaign(ctx context.Context, campaignID int) ([]*model.LedgerEntry, error)
}

type LedgerRepository struct {
	DB *sql.DB
}

var _ LedgerRepositoryInterface = (*LedgerRepository)(nil)

const ledgerColumns = `id, job_id, campaign_id, channel, attempt, outcome, job_status, provider_code, provider_ref,
	error, next_attempt_at, created_at`

func scanLedger(row scanner) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	err := row.Scan(&e.ID, &e.JobID, &e.CampaignID, &e.Channel, &e.Attempt, &e.Outcome, &e.JobStatus,
		&e.ProviderCode, &e.ProviderRef, &e.Error, &e.NextAttemptAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *LedgerRepository) Append(ctx context.Context, e *model.LedgerEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO ledger_entries (job_id, campaign_id, channel, attempt, outcome, job_status, provider_code,
			provider_ref, error, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`
	return r.DB.QueryRowContext(ctx, query, e.JobID, e.CampaignID, e.Channel, e.Attempt, e.Outcome, e.JobStatus,
		e.ProviderCode, e.ProviderRef, e.Error, e.NextAttemptAt, e.CreatedAt).Scan(&e.ID)
}

func (r *LedgerRepository) Latest(ctx context.Context, jobID int) (*model.LedgerEntry, error) {
	e, err := scanLedger(r.DB.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE job_id=$1 ORDER BY attempt DESC, id DESC LIMIT 1`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *LedgerRepository) ListByCampaign(ctx context.Context, campaignID int, f model.LedgerFilter) ([]*model.LedgerEntry, int, error) {
	where := ` WHERE campaign_id=$1`
	args := []any{campaignID}
	if f.Outcome != "" {
		where += ` AND outcome=$2`
		args = append(args, f.Outcome)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_entries`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries` + where +
		fmt.Sprintf(" ORDER BY id LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []*model.LedgerEntry{}
	for rows.Next() {
		e, err := scanLedger(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (r *LedgerRepository) LatestByCampaign(ctx context.Context, campaignID int) ([]*model.LedgerEntry, error) {
	query := `
		SELECT DISTINCT ON (job_id) ` + ledgerColumns + `
		FROM ledger_entries
		WHERE campaign_id=$1
		ORDER BY job_id, attempt DESC, id DESC
	`
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.LedgerEntry
	for rows.Next() {
		e, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
