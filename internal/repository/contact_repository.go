package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/unclebandit/crces-dispatch/internal/model"
)

// ContactRepositoryInterface is the read-only view of the synced contact store.
type ContactRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Contact, error)
	// ResolveTargetSet returns the members of a target set at this instant.
	ResolveTargetSet(ctx context.Context, setID int) ([]model.Contact, error)
}

// ContactRepository is the concrete implementation
type ContactRepository struct {
	DB *sql.DB
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)

func scanContact(row scanner) (*model.Contact, error) {
	var (
		c    model.Contact
		vars []byte
	)
	if err := row.Scan(&c.ID, &c.Email, &c.Phone, &vars); err != nil {
		return nil, err
	}
	c.Variables = map[string]string{}
	if err := decodeJSON(vars, &c.Variables); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetByID fetches a contact by ID. It returns nil when there is none.
func (r *ContactRepository) GetByID(ctx context.Context, id int) (*model.Contact, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, email, phone, variables FROM contacts WHERE id = $1`, id)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (r *ContactRepository) ResolveTargetSet(ctx context.Context, setID int) ([]model.Contact, error) {
	query := `
		SELECT c.id, c.email, c.phone, c.variables
		FROM contacts c
		JOIN contact_set_members m ON m.contact_id = c.id
		WHERE m.set_id = $1
		ORDER BY c.id
	`
	rows, err := r.DB.QueryContext(ctx, query, setID)
	if err != nil {
		return nil, fmt.Errorf("resolve target set %d: %w", setID, err)
	}
	defer rows.Close()

	contacts := []model.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, *c)
	}
	return contacts, rows.Err()
}
