package channel

import (
	"context"
	"math/rand"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/unclebandit/crces-dispatch/internal/logger"
	"github.com/unclebandit/crces-dispatch/internal/model"
)

// LogSender writes messages to the log instead of a provider. FailureRate
// makes a share of sends come back as transient errors, for local runs.
type LogSender struct {
	Ch          model.Channel
	FailureRate float64
	Log         zerolog.Logger
}

func (s *LogSender) Channel() model.Channel { return s.Ch }

func (s *LogSender) Send(ctx context.Context, msg Message) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	if s.FailureRate > 0 && rand.Float64() < s.FailureRate {
		return Outcome{Status: model.OutcomeTransientError, Code: "mock", Detail: "mock sending failed"}, nil
	}

	to := logger.RedactPhone(msg.To)
	if msg.Channel == model.ChannelEmail {
		to = logger.RedactEmail(msg.To)
	}
	ref := "log-" + uuid.NewString()
	s.Log.Info().
		Str("channel", string(s.Ch)).
		Int("job_id", msg.JobID).
		Str("to", to).
		Str("subject", msg.Subject).
		Str("provider_ref", ref).
		Msg("message sent")
	return Outcome{Status: model.OutcomeSent, ProviderRef: ref, Code: "200"}, nil
}
