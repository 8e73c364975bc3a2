// Package channel holds the delivery transports. Each Sender sends one
// message and classifies the provider response into an outcome.
package channel

import (
	"context"
	"fmt"

	"github.com/unclebandit/crces-dispatch/internal/model"
)

type Message struct {
	JobID      int
	CampaignID int
	Channel    model.Channel
	To         string
	Subject    string
	Body       string
}

// Outcome is the classified provider response. Status is one of sent,
// delivered, rejected, rate_limited or transient_error.
type Outcome struct {
	Status      model.Outcome
	ProviderRef string
	Code        string
	Detail      string
}

// Sender delivers messages on a single channel. A returned error is
// treated as a transient failure by callers.
type Sender interface {
	Channel() model.Channel
	Send(ctx context.Context, msg Message) (Outcome, error)
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc struct {
	Ch model.Channel
	Fn func(ctx context.Context, msg Message) (Outcome, error)
}

func (f SenderFunc) Channel() model.Channel { return f.Ch }

func (f SenderFunc) Send(ctx context.Context, msg Message) (Outcome, error) {
	return f.Fn(ctx, msg)
}

// Registry selects the sender for a channel.
type Registry struct {
	senders map[model.Channel]Sender
}

func NewRegistry(senders ...Sender) *Registry {
	r := &Registry{senders: make(map[model.Channel]Sender)}
	for _, s := range senders {
		r.senders[s.Channel()] = s
	}
	return r
}

func (r *Registry) For(ch model.Channel) (Sender, error) {
	s, ok := r.senders[ch]
	if !ok {
		return nil, fmt.Errorf("no sender registered for channel %s", ch)
	}
	return s, nil
}

// Channels lists the channels with a registered sender.
func (r *Registry) Channels() []model.Channel {
	var out []model.Channel
	for _, ch := range model.DeliveryChannels {
		if _, ok := r.senders[ch]; ok {
			out = append(out, ch)
		}
	}
	return out
}

// ClassifyHTTPStatus maps a provider HTTP status to an outcome.
func ClassifyHTTPStatus(code int) model.Outcome {
	switch {
	case code >= 200 && code < 300:
		return model.OutcomeSent
	case code == 429:
		return model.OutcomeRateLimited
	case code == 408 || code >= 500:
		return model.OutcomeTransientError
	default:
		return model.OutcomeRejected
	}
}
