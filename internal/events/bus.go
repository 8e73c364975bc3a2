// Package events is the in-process event bus that carries control-plane
// and dispatch events to the audit logger and the broker forwarder.
package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/crces-dispatch/internal/metrics"
	"github.com/unclebandit/crces-dispatch/internal/model"
)

const (
	TopicCampaignCreate   = "campaign.create"
	TopicCampaignUpdate   = "campaign.update"
	TopicCampaignSchedule = "campaign.schedule"
	TopicCampaignStart    = "campaign.start"
	TopicCampaignStop     = "campaign.stop"
	TopicCampaignComplete = "campaign.complete"
	TopicCampaignDelete   = "campaign.delete"
	TopicTemplateCreate   = "template.create"
	TopicTemplateUpdate   = "template.update"
	TopicTemplateDelete   = "template.delete"
	TopicTemplateTestSend = "template.test_send"
	TopicAuthLogin        = "auth.login"
	TopicAuthLogout       = "auth.logout"
	TopicAuditExport      = "audit.export"
	TopicDispatchSettled  = "dispatch.settled"
)

// Event is one fact published by a service.
type Event struct {
	Topic        string           `json:"topic"`
	Actor        *model.Principal `json:"actor,omitempty"`
	ResourceType string           `json:"resource_type"`
	ResourceID   string           `json:"resource_id,omitempty"`
	Description  string           `json:"description"`
	Details      map[string]any   `json:"details,omitempty"`
	Success      bool             `json:"success"`
	Error        string           `json:"error,omitempty"`
	At           time.Time        `json:"at"`
}

type Handler func(ctx context.Context, ev Event) error

// Publisher is what services depend on.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type subscription struct {
	name    string
	pattern string
	handler Handler
	async   bool
}

// matches supports exact topics, "*" and prefix patterns like "campaign.*".
func (s subscription) matches(topic string) bool {
	if s.pattern == "*" || s.pattern == topic {
		return true
	}
	if strings.HasSuffix(s.pattern, ".*") {
		return strings.HasPrefix(topic, strings.TrimSuffix(s.pattern, "*"))
	}
	return false
}

// Bus delivers each event to every matching subscriber, retrying a failing
// handler MaxRetries times with linear backoff before dropping the event.
type Bus struct {
	mu         sync.RWMutex
	subs       []subscription
	MaxRetries int
	Backoff    time.Duration
	Log        zerolog.Logger
	wg         sync.WaitGroup
}

func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
		Log:        log.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a handler that runs before Publish returns.
func (b *Bus) Subscribe(name, pattern string, h Handler) {
	b.add(subscription{name: name, pattern: pattern, handler: h})
}

// SubscribeAsync registers a handler that runs in its own goroutine.
func (b *Bus) SubscribeAsync(name, pattern string, h Handler) {
	b.add(subscription{name: name, pattern: pattern, handler: h, async: true})
}

func (b *Bus) add(s subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
}

// Publish returns the last error of a synchronous handler that gave up.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	subs := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.matches(ev.Topic) {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	var lastErr error
	for _, s := range subs {
		if s.async {
			b.wg.Add(1)
			go func(s subscription) {
				defer b.wg.Done()
				b.deliver(context.WithoutCancel(ctx), s, ev)
			}(s)
			continue
		}
		if err := b.deliver(ctx, s, ev); err != nil {
			lastErr = fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return lastErr
}

func (b *Bus) deliver(ctx context.Context, s subscription, ev Event) error {
	var err error
retry:
	for attempt := 0; ; attempt++ {
		if err = s.handler(ctx, ev); err == nil {
			return nil
		}
		if attempt >= b.MaxRetries {
			break
		}
		b.Log.Warn().Err(err).Str("handler", s.name).Str("topic", ev.Topic).
			Int("attempt", attempt+1).Int("max_retries", b.MaxRetries).Msg("event handler failed, retrying")
		select {
		case <-ctx.Done():
			break retry
		case <-time.After(time.Duration(attempt+1) * b.Backoff):
		}
	}

	metrics.HandlerFailure(s.name, ev.Topic)
	b.Log.Error().Err(err).Str("handler", s.name).Interface("event", ev).
		Msg("event permanently failed, dropping")
	return err
}

// Wait blocks until async deliveries in progress have finished.
func (b *Bus) Wait() {
	b.wg.Wait()
}
