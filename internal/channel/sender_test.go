package channel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/crces-dispatch/internal/logger"
	"github.com/unclebandit/crces-dispatch/internal/model"
)

func TestRegistrySelectsSenderByChannel(t *testing.T) {
	email := &LogSender{Ch: model.ChannelEmail, Log: logger.Nop()}
	reg := NewRegistry(email)

	s, err := reg.For(model.ChannelEmail)
	require.NoError(t, err)
	assert.Same(t, email, s)

	_, err = reg.For(model.ChannelWhatsApp)
	assert.Error(t, err)
	assert.Equal(t, []model.Channel{model.ChannelEmail}, reg.Channels())
}

func TestClassifyHTTPStatus(t *testing.T) {
	cases := map[int]model.Outcome{
		200: model.OutcomeSent,
		201: model.OutcomeSent,
		400: model.OutcomeRejected,
		404: model.OutcomeRejected,
		408: model.OutcomeTransientError,
		429: model.OutcomeRateLimited,
		500: model.OutcomeTransientError,
		503: model.OutcomeTransientError,
	}
	for code, want := range cases {
		assert.Equal(t, want, ClassifyHTTPStatus(code), "status %d", code)
	}
}

func TestLogSenderReturnsProviderRef(t *testing.T) {
	s := &LogSender{Ch: model.ChannelEmail, Log: logger.Nop()}
	out, err := s.Send(context.Background(), Message{Channel: model.ChannelEmail, To: "ana@example.com", Body: "oi"})

	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSent, out.Status)
	assert.NotEmpty(t, out.ProviderRef)
}

func TestLogSenderAlwaysFailsAtFullRate(t *testing.T) {
	s := &LogSender{Ch: model.ChannelWhatsApp, FailureRate: 1, Log: logger.Nop()}
	out, err := s.Send(context.Background(), Message{To: "+5527999990000"})

	require.NoError(t, err)
	assert.Equal(t, model.OutcomeTransientError, out.Status)
}
