// internal/service/template_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/crces-dispatch/internal/errors"
	"github.com/unclebandit/crces-dispatch/internal/channel"
	"github.com/unclebandit/crces-dispatch/internal/events"
	"github.com/unclebandit/crces-dispatch/internal/model"
	"github.com/unclebandit/crces-dispatch/internal/render"
	"github.com/unclebandit/crces-dispatch/internal/repository"
)

type TemplateService struct {
	TemplateRepo repository.TemplateRepositoryInterface
	Renderer     *render.Renderer
	Senders      *channel.Registry
	Events       events.Publisher
	Log          zerolog.Logger
	Now          func() time.Time
}

type TemplateInput struct {
	Name              string        `json:"name"`
	Channel           model.Channel `json:"channel"`
	Subject           string        `json:"subject"`
	Body              string        `json:"body"`
	RequiredVariables []string      `json:"required_variables"`
	Active            *bool         `json:"active"`
}

// TemplateVariable describes a variable the contact store provides.
type TemplateVariable struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Example     string `json:"example"`
}

var templateVariables = []TemplateVariable{
	{Name: "nome", Description: "Nome do profissional", Example: "Maria Souza"},
	{Name: "registro", Description: "Número de registro no conselho", Example: "CRC-ES 012345/O"},
	{Name: "email", Description: "E-mail de contato", Example: "maria@example.com"},
	{Name: "telefone", Description: "Telefone com DDD", Example: "(27) 99999-0000"},
	{Name: "ddd", Description: "DDD do telefone", Example: "27"},
	{Name: "data_vencimento", Description: "Data de vencimento do débito", Example: "31/03/2026"},
	{Name: "valor", Description: "Valor do débito", Example: "R$ 589,00"},
	{Name: "codigo_debito", Description: "Código do débito", Example: "ANU-2026-0001"},
	{Name: "parcela", Description: "Número da parcela", Example: "1/3"},
}

// Variables is the catalogue shown in the template editor.
func (s *TemplateService) Variables() []TemplateVariable {
	out := make([]TemplateVariable, len(templateVariables))
	copy(out, templateVariables)
	return out
}

// SampleData binds every catalogue variable to its example value.
func SampleData() map[string]string {
	out := make(map[string]string, len(templateVariables))
	for _, v := range templateVariables {
		out[v.Name] = v.Example
	}
	return out
}

func (s *TemplateService) renderer() *render.Renderer {
	if s.Renderer == nil {
		s.Renderer = render.New()
	}
	return s.Renderer
}

func (s *TemplateService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *TemplateService) validate(in *TemplateInput) error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return appErrors.NewValidation("name", "is required")
	}
	if in.Channel != model.ChannelEmail && in.Channel != model.ChannelWhatsApp {
		return appErrors.NewValidation("channel", "must be email or whatsapp")
	}
	if strings.TrimSpace(in.Body) == "" {
		return appErrors.NewValidation("body", "is required")
	}
	if in.Channel == model.ChannelEmail && strings.TrimSpace(in.Subject) == "" {
		return appErrors.NewValidation("subject", "is required for email templates")
	}
	if err := s.renderer().Validate(in.Body); err != nil {
		return err
	}
	if in.Subject != "" {
		if err := s.renderer().Validate(in.Subject); err != nil {
			var verr *appErrors.ValidationError
			if errors.As(err, &verr) {
				return appErrors.NewValidation("subject", verr.Message)
			}
			return err
		}
	}
	required := make([]string, 0, len(in.RequiredVariables))
	for _, name := range in.RequiredVariables {
		name = strings.TrimSpace(name)
		if name == "" {
			return appErrors.NewValidation("required_variables", "must not contain empty names")
		}
		required = append(required, name)
	}
	in.RequiredVariables = required
	return nil
}

func (s *TemplateService) Create(ctx context.Context, p *model.Principal, in TemplateInput) (*model.Template, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	if err := s.validate(&in); err != nil {
		return nil, err
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}
	t := &model.Template{
		Name:              in.Name,
		Channel:           in.Channel,
		Subject:           in.Subject,
		Body:              in.Body,
		RequiredVariables: in.RequiredVariables,
		Active:            active,
		CreatedBy:         p.ID,
		CreatedAt:         s.now(),
	}
	if err := s.TemplateRepo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	s.publish(ctx, events.TopicTemplateCreate, p, t, "template created")
	return t, nil
}

// Update stores a new version. Jobs already enqueued keep the snapshot
// they were created with.
func (s *TemplateService) Update(ctx context.Context, p *model.Principal, id int, in TemplateInput) (*model.Template, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	t, err := s.TemplateRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	// the channel of an existing template is fixed
	in.Channel = t.Channel
	if err := s.validate(&in); err != nil {
		return nil, err
	}
	t.Name = in.Name
	t.Subject = in.Subject
	t.Body = in.Body
	t.RequiredVariables = in.RequiredVariables
	if in.Active != nil {
		t.Active = *in.Active
	}
	if err := s.TemplateRepo.Update(ctx, t); err != nil {
		return nil, err
	}
	s.publish(ctx, events.TopicTemplateUpdate, p, t, fmt.Sprintf("template updated to version %d", t.Version))
	return t, nil
}

func (s *TemplateService) Get(ctx context.Context, p *model.Principal, id int) (*model.Template, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	return s.TemplateRepo.GetByID(ctx, id)
}

func (s *TemplateService) List(ctx context.Context, p *model.Principal, channel string, activeOnly bool) ([]*model.Template, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	return s.TemplateRepo.List(ctx, channel, activeOnly)
}

func (s *TemplateService) Delete(ctx context.Context, p *model.Principal, id int) error {
	if err := requirePrincipal(p); err != nil {
		return err
	}
	t, err := s.TemplateRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.TemplateRepo.Delete(ctx, id, s.now()); err != nil {
		return err
	}
	s.publish(ctx, events.TopicTemplateDelete, p, t, "template deleted")
	return nil
}

// Preview renders the template with the sample data overlaid by vars.
func (s *TemplateService) Preview(ctx context.Context, p *model.Principal, id int, vars map[string]string) (model.RenderedContent, error) {
	if err := requirePrincipal(p); err != nil {
		return model.RenderedContent{}, err
	}
	t, err := s.TemplateRepo.GetByID(ctx, id)
	if err != nil {
		return model.RenderedContent{}, err
	}
	data := SampleData()
	for k, v := range vars {
		data[k] = v
	}
	return s.renderer().Render(t.Snapshot(), data)
}

type TestSendInput struct {
	Recipient string            `json:"recipient"`
	Variables map[string]string `json:"variables"`
}

// TestSendResult is the provider outcome of a test message.
type TestSendResult struct {
	TemplateID  int           `json:"template_id"`
	Channel     model.Channel `json:"channel"`
	Recipient   string        `json:"recipient"`
	Outcome     model.Outcome `json:"outcome"`
	ProviderRef string        `json:"provider_ref,omitempty"`
	Detail      string        `json:"detail,omitempty"`
}

// TestSend renders the template like Preview and sends it to a single
// recipient on the template's channel. No campaign or job is involved.
func (s *TemplateService) TestSend(ctx context.Context, p *model.Principal, id int, in TestSendInput) (*TestSendResult, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	t, err := s.TemplateRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	to := strings.TrimSpace(in.Recipient)
	if err := validRecipient(t.Channel, to); err != nil {
		return nil, err
	}
	if s.Senders == nil {
		return nil, fmt.Errorf("no senders configured")
	}
	sender, err := s.Senders.For(t.Channel)
	if err != nil {
		return nil, err
	}
	content, err := s.Preview(ctx, p, id, in.Variables)
	if err != nil {
		return nil, err
	}

	out, sendErr := sender.Send(ctx, channel.Message{Channel: t.Channel, To: to, Subject: content.Subject, Body: content.Body})
	if sendErr != nil {
		out = channel.Outcome{Status: model.OutcomeTransientError, Detail: sendErr.Error()}
	}
	res := &TestSendResult{
		TemplateID:  t.ID,
		Channel:     t.Channel,
		Recipient:   to,
		Outcome:     out.Status,
		ProviderRef: out.ProviderRef,
		Detail:      out.Detail,
	}

	ok := out.Status == model.OutcomeSent || out.Status == model.OutcomeDelivered
	ev := events.Event{
		Topic:        events.TopicTemplateTestSend,
		Actor:        p,
		ResourceType: "template",
		ResourceID:   strconv.Itoa(t.ID),
		Description:  fmt.Sprintf("test %s message sent to %s", t.Channel, to),
		Details:      map[string]any{"channel": string(t.Channel), "recipient": to, "outcome": string(out.Status)},
		Success:      ok,
		At:           s.now(),
	}
	if !ok {
		ev.Error = out.Detail
	}
	s.emit(ctx, ev)
	s.Log.Info().Int("template_id", t.ID).Str("channel", string(t.Channel)).Str("outcome", string(out.Status)).Msg("test message sent")
	return res, nil
}

func validRecipient(ch model.Channel, to string) error {
	if to == "" {
		return appErrors.NewValidation("recipient", "is required")
	}
	switch ch {
	case model.ChannelEmail:
		if _, err := mail.ParseAddress(to); err != nil {
			return appErrors.NewValidation("recipient", "must be an email address")
		}
	case model.ChannelWhatsApp:
		digits := strings.TrimPrefix(to, "+")
		if len(digits) < 8 || strings.Trim(digits, "0123456789 -()") != "" {
			return appErrors.NewValidation("recipient", "must be a phone number")
		}
	}
	return nil
}

func (s *TemplateService) publish(ctx context.Context, topic string, p *model.Principal, t *model.Template, desc string) {
	if s.Events == nil {
		return
	}
	ev := events.Event{
		Topic:        topic,
		Actor:        p,
		ResourceType: "template",
		ResourceID:   strconv.Itoa(t.ID),
		Description:  desc,
		Details:      map[string]any{"name": t.Name, "channel": string(t.Channel), "version": t.Version},
		Success:      true,
		At:           s.now(),
	}
	s.emit(ctx, ev)
}

func (s *TemplateService) emit(ctx context.Context, ev events.Event) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		s.Log.Warn().Err(err).Str("topic", ev.Topic).Str("template_id", ev.ResourceID).Msg("event delivery failed")
	}
}
