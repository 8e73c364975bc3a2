package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EMAIL_PROVIDER", "log")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 4, cfg.EmailConcurrency)
	assert.Equal(t, 2, cfg.WhatsAppConcurrency)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.BackoffBase)
	assert.Equal(t, "campaign_sends", cfg.AMQPWakeQueue)
	assert.Empty(t, cfg.ReceiptSecret)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("EMAIL_PROVIDER", "ses")
	t.Setenv("EMAIL_CONCURRENCY", "10")
	t.Setenv("LEASE_TIMEOUT", "30s")
	t.Setenv("RECEIPT_WEBHOOK_SECRET", "hook-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ses", cfg.EmailProvider)
	assert.Equal(t, 10, cfg.EmailConcurrency)
	assert.Equal(t, 30*time.Second, cfg.LeaseTimeout)
	assert.Equal(t, "hook-secret", cfg.ReceiptSecret)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	t.Setenv("EMAIL_PROVIDER", "smtp")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsZeroConcurrency(t *testing.T) {
	t.Setenv("EMAIL_PROVIDER", "log")
	t.Setenv("WHATSAPP_CONCURRENCY", "0")

	_, err := Load()
	assert.Error(t, err)
}
