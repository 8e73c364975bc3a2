// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed
	// from the campaign's current status.
	ErrInvalidTransition = errors.New("invalid campaign transition")
	ErrEmptyTargetSet    = errors.New("target set resolved to zero contacts")
	ErrUnauthorized      = errors.New("unauthorized")
	// ErrLeaseLost means the job was settled or re-claimed by someone else
	// while the caller held an expired or revoked lease.
	ErrLeaseLost = errors.New("job lease lost")
)

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

type ErrTemplateNotFound struct {
	TemplateID int
}

func (e *ErrTemplateNotFound) Error() string {
	return fmt.Sprintf("template with ID %d not found", e.TemplateID)
}

func NewTemplateNotFound(id int) error {
	return &ErrTemplateNotFound{TemplateID: id}
}

type ErrJobNotFound struct {
	Key string
}

func (e *ErrJobNotFound) Error() string {
	return fmt.Sprintf("dispatch job %s not found", e.Key)
}

func NewJobNotFound(key string) error {
	return &ErrJobNotFound{Key: key}
}

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

func NewValidation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// TransitionError carries the operation and the status it was refused from.
type TransitionError struct {
	Op   string
	From string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s campaign in status %s", e.Op, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func NewInvalidTransition(op, from string) error {
	return &TransitionError{Op: op, From: from}
}

// MissingVariableError names the first required variable without a value.
type MissingVariableError struct {
	Name string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("missing variable %q", e.Name)
}

// IsNotFound reports whether err is any of the not-found errors.
func IsNotFound(err error) bool {
	var c *ErrCampaignNotFound
	var t *ErrTemplateNotFound
	var j *ErrJobNotFound
	return errors.As(err, &c) || errors.As(err, &t) || errors.As(err, &j)
}
