package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/resend/resend-go/v2"

	"github.com/unclebandit/crces-dispatch/internal/model"
)

type resendEmails interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendSender sends email through the Resend API.
type ResendSender struct {
	emails resendEmails
	from   string
}

func NewResendSender(apiKey, from string) *ResendSender {
	if from == "" {
		from = "onboarding@resend.dev"
	}
	return &ResendSender{emails: resend.NewClient(apiKey).Emails, from: from}
}

func (s *ResendSender) Channel() model.Channel { return model.ChannelEmail }

func (s *ResendSender) Send(ctx context.Context, msg Message) (Outcome, error) {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.Body,
		Tags: []resend.Tag{
			{Name: "campaign_id", Value: fmt.Sprint(msg.CampaignID)},
		},
	}

	resp, err := s.emails.SendWithContext(ctx, params)
	if err != nil {
		switch {
		case errors.Is(err, resend.ErrRateLimit):
			return Outcome{Status: model.OutcomeRateLimited, Code: "429", Detail: err.Error()}, nil
		case strings.Contains(strings.ToLower(err.Error()), "validation"):
			return Outcome{Status: model.OutcomeRejected, Code: "422", Detail: err.Error()}, nil
		}
		return Outcome{}, fmt.Errorf("failed to send email via Resend: %w", err)
	}
	return Outcome{Status: model.OutcomeSent, ProviderRef: resp.Id, Code: "200"}, nil
}
