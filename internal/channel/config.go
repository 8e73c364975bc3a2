package channel

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/unclebandit/crces-dispatch/internal/config"
	"github.com/unclebandit/crces-dispatch/internal/model"
)

// FromConfig picks the email provider from EMAIL_PROVIDER. WhatsApp uses
// the Cloud API when credentials are set and the log sender otherwise.
func FromConfig(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Registry, error) {
	var email Sender
	switch cfg.EmailProvider {
	case "ses":
		s, err := NewSESSender(ctx, cfg.AWSRegion, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, cfg.EmailFrom)
		if err != nil {
			return nil, fmt.Errorf("ses sender: %w", err)
		}
		email = s
	case "resend":
		if cfg.ResendAPIKey == "" {
			return nil, fmt.Errorf("RESEND_API_KEY is required for the resend provider")
		}
		email = NewResendSender(cfg.ResendAPIKey, cfg.EmailFrom)
	default:
		email = &LogSender{Ch: model.ChannelEmail, Log: log}
	}

	var whatsapp Sender
	if cfg.WhatsAppPhoneNumberID != "" && cfg.WhatsAppToken != "" {
		whatsapp = NewWhatsAppSender(cfg.WhatsAppAPIURL, cfg.WhatsAppPhoneNumberID, cfg.WhatsAppToken)
	} else {
		log.Warn().Msg("WhatsApp credentials not set, using log sender")
		whatsapp = &LogSender{Ch: model.ChannelWhatsApp, Log: log}
	}
	return NewRegistry(email, whatsapp), nil
}
