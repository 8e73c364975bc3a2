package appErrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionErrorUnwrapsToSentinel(t *testing.T) {
	err := fmt.Errorf("start: %w", NewInvalidTransition("start", "running"))

	assert.True(t, errors.Is(err, ErrInvalidTransition))
	var te *TransitionError
	assert.True(t, errors.As(err, &te))
	assert.Equal(t, "running", te.From)
	assert.Equal(t, "cannot start campaign in status running", te.Error())
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(NewCampaignNotFound(4)))
	assert.True(t, IsNotFound(fmt.Errorf("wrap: %w", NewTemplateNotFound(2))))
	assert.True(t, IsNotFound(NewJobNotFound("ref-1")))
	assert.False(t, IsNotFound(ErrUnauthorized))
}

func TestValidationErrorMessage(t *testing.T) {
	assert.Equal(t, "validation failed: name is required", NewValidation("name", "is required").Error())
	assert.Equal(t, "validation failed: bad input", NewValidation("", "bad input").Error())
}
