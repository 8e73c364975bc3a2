package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/crces-dispatch/internal/errors"
	"github.com/unclebandit/crces-dispatch/internal/model"
)

type TemplateRepositoryInterface interface {
	Create(ctx context.Context, t *model.Template) error
	// Update stores the new content and bumps the version.
	Update(ctx context.Context, t *model.Template) error
	GetByID(ctx context.Context, id int) (*model.Template, error)
	List(ctx context.Context, channel string, activeOnly bool) ([]*model.Template, error)
	Delete(ctx context.Context, id int, at time.Time) error
}

type TemplateRepository struct {
	DB *sql.DB
}

var _ TemplateRepositoryInterface = (*TemplateRepository)(nil)

const templateColumns = `id, name, channel, subject, body, required_variables, active, version, created_by, created_at, updated_at`

func scanTemplate(row scanner) (*model.Template, error) {
	var t model.Template
	var required pq.StringArray
	err := row.Scan(&t.ID, &t.Name, &t.Channel, &t.Subject, &t.Body, &required, &t.Active, &t.Version,
		&t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.RequiredVariables = []string(required)
	return &t, nil
}

func (r *TemplateRepository) Create(ctx context.Context, t *model.Template) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.Version = 1
	query := `
		INSERT INTO templates (name, channel, subject, body, required_variables, active, version, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	return r.DB.QueryRowContext(ctx, query, t.Name, t.Channel, t.Subject, t.Body, pq.Array(t.RequiredVariables),
		t.Active, t.Version, t.CreatedBy, t.CreatedAt).Scan(&t.ID)
}

func (r *TemplateRepository) Update(ctx context.Context, t *model.Template) error {
	query := `
		UPDATE templates
		SET name=$1, subject=$2, body=$3, required_variables=$4, active=$5, version=version+1, updated_at=$6
		WHERE id=$7 AND deleted_at IS NULL
		RETURNING version
	`
	now := time.Now().UTC()
	err := r.DB.QueryRowContext(ctx, query, t.Name, t.Subject, t.Body, pq.Array(t.RequiredVariables), t.Active, now, t.ID).
		Scan(&t.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.NewTemplateNotFound(t.ID)
	}
	if err != nil {
		return err
	}
	t.UpdatedAt = &now
	return nil
}

func (r *TemplateRepository) GetByID(ctx context.Context, id int) (*model.Template, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE id=$1 AND deleted_at IS NULL`, id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewTemplateNotFound(id)
	}
	return t, err
}

func (r *TemplateRepository) List(ctx context.Context, channel string, activeOnly bool) ([]*model.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates
		WHERE deleted_at IS NULL AND ($1::text = '' OR channel = $1) AND (NOT $2 OR active)
		ORDER BY name`
	rows, err := r.DB.QueryContext(ctx, query, channel, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*model.Template{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TemplateRepository) Delete(ctx context.Context, id int, at time.Time) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE templates SET deleted_at=$1, active=FALSE WHERE id=$2 AND deleted_at IS NULL`, at, id)
	if err != nil {
		return err
	}
	ok, err := oneRow(res)
	if err != nil {
		return err
	}
	if !ok {
		return appErrors.NewTemplateNotFound(id)
	}
	return nil
}
