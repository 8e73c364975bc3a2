package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/crces-dispatch/internal/model"
)

type AuditRepositoryInterface interface {
	Insert(ctx context.Context, rec *model.AuditRecord) error
	Query(ctx context.Context, f model.AuditFilter) ([]*model.AuditRecord, int, error)
	Stats(ctx context.Context, f model.AuditFilter) (*model.AuditStats, error)
}

type AuditRepository struct {
	DB *sql.DB
}

var _ AuditRepositoryInterface = (*AuditRepository)(nil)

func (r *AuditRepository) Insert(ctx context.Context, rec *model.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	details, err := jsonValue(rec.Details)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO audit_records (id, actor_id, actor_name, action, resource_type, resource_id, description,
			details, success, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rec.ID, rec.ActorID, rec.ActorName, rec.Action, rec.ResourceType, rec.ResourceID, rec.Description,
		details, rec.Success, rec.ErrorMessage, rec.CreatedAt)
	return err
}

// auditWhere builds the WHERE clause shared by Query and Stats.
func auditWhere(f model.AuditFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.ResourceType != "" {
		add("resource_type = $%d", f.ResourceType)
	}
	if f.ResourceID != "" {
		add("resource_id = $%d", f.ResourceID)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *AuditRepository) Query(ctx context.Context, f model.AuditFilter) ([]*model.AuditRecord, int, error) {
	where, args := auditWhere(f)

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_records`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, actor_id, actor_name, action, resource_type, resource_id, description, details, success,
		error_message, created_at FROM audit_records` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records := []*model.AuditRecord{}
	for rows.Next() {
		var rec model.AuditRecord
		var details []byte
		if err := rows.Scan(&rec.ID, &rec.ActorID, &rec.ActorName, &rec.Action, &rec.ResourceType, &rec.ResourceID,
			&rec.Description, &details, &rec.Success, &rec.ErrorMessage, &rec.CreatedAt); err != nil {
			return nil, 0, err
		}
		if err := decodeJSON(details, &rec.Details); err != nil {
			return nil, 0, err
		}
		records = append(records, &rec)
	}
	return records, total, rows.Err()
}

func (r *AuditRepository) Stats(ctx context.Context, f model.AuditFilter) (*model.AuditStats, error) {
	where, args := auditWhere(f)
	rows, err := r.DB.QueryContext(ctx,
		`SELECT action, success, COUNT(*) FROM audit_records`+where+` GROUP BY action, success`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &model.AuditStats{ByAction: map[model.AuditAction]int{}}
	for rows.Next() {
		var action model.AuditAction
		var success bool
		var count int
		if err := rows.Scan(&action, &success, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		stats.ByAction[action] += count
		if success {
			stats.Succeeded += count
		} else {
			stats.Failed += count
		}
	}
	return stats, rows.Err()
}
