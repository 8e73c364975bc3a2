package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/crces-dispatch/internal/errors"
	"github.com/unclebandit/crces-dispatch/internal/events"
	"github.com/unclebandit/crces-dispatch/internal/model"
	"github.com/unclebandit/crces-dispatch/internal/repository"
)

// MaxExportRows caps a single audit export.
const MaxExportRows = 10000

const maxAuditPageSize = 500

// AuditTopics are the bus patterns the audit logger subscribes to.
var AuditTopics = []string{"campaign.*", "template.*", "auth.*", events.TopicAuditExport, events.TopicDispatchSettled}

// AuditService turns bus events into audit records and serves them back.
type AuditService struct {
	Repo   repository.AuditRepositoryInterface
	Events events.Publisher
	Log    zerolog.Logger
}

// Subscribe registers the audit logger on every audited topic.
func (s *AuditService) Subscribe(bus *events.Bus) {
	for _, pattern := range AuditTopics {
		bus.Subscribe("audit", pattern, s.Handle)
	}
}

// Handle writes one record for ev. Returned errors are retried by the bus.
func (s *AuditService) Handle(ctx context.Context, ev events.Event) error {
	rec := RecordFromEvent(ev)
	if err := s.Repo.Insert(ctx, rec); err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// RecordFromEvent maps an event to its audit record.
func RecordFromEvent(ev events.Event) *model.AuditRecord {
	rec := &model.AuditRecord{
		ActorID:      model.SystemActor,
		ActorName:    model.SystemActor,
		Action:       actionFor(ev),
		ResourceType: ev.ResourceType,
		ResourceID:   ev.ResourceID,
		Description:  ev.Description,
		Details:      ev.Details,
		Success:      ev.Success,
		ErrorMessage: ev.Error,
		CreatedAt:    ev.At,
	}
	if ev.Actor != nil && ev.Actor.ID != "" {
		rec.ActorID = ev.Actor.ID
		rec.ActorName = ev.Actor.Name
	}
	return rec
}

func actionFor(ev events.Event) model.AuditAction {
	switch ev.Topic {
	case events.TopicCampaignCreate, events.TopicTemplateCreate:
		return model.ActionCreate
	case events.TopicCampaignUpdate, events.TopicTemplateUpdate:
		return model.ActionUpdate
	case events.TopicCampaignDelete, events.TopicTemplateDelete:
		return model.ActionDelete
	case events.TopicCampaignSchedule:
		return model.ActionCampaignSchedule
	case events.TopicCampaignStart:
		return model.ActionCampaignStart
	case events.TopicCampaignStop:
		return model.ActionCampaignStop
	case events.TopicCampaignComplete:
		return model.ActionCampaignComplete
	case events.TopicAuthLogin:
		return model.ActionLogin
	case events.TopicAuthLogout:
		return model.ActionLogout
	case events.TopicAuditExport:
		return model.ActionAuditExport
	case events.TopicTemplateTestSend:
		return model.ActionTestMessageSent
	case events.TopicDispatchSettled:
		if ch, _ := ev.Details["channel"].(string); ch == string(model.ChannelWhatsApp) {
			return model.ActionSendWhatsApp
		}
		return model.ActionSendEmail
	}
	return model.AuditAction(strings.ReplaceAll(ev.Topic, ".", "_"))
}

func (s *AuditService) Query(ctx context.Context, p *model.Principal, f model.AuditFilter) ([]*model.AuditRecord, int, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, 0, err
	}
	if f.Limit <= 0 || f.Limit > maxAuditPageSize {
		f.Limit = maxAuditPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.Repo.Query(ctx, f)
}

func (s *AuditService) Stats(ctx context.Context, p *model.Principal, f model.AuditFilter) (*model.AuditStats, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	return s.Repo.Stats(ctx, f)
}

func (s *AuditService) Actions() []model.AuditAction {
	out := make([]model.AuditAction, len(model.AuditActions))
	copy(out, model.AuditActions)
	return out
}

// Export renders up to MaxExportRows matching records as json or csv and
// audits the export itself.
func (s *AuditService) Export(ctx context.Context, p *model.Principal, f model.AuditFilter, format string) ([]byte, string, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, "", err
	}
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		return nil, "", appErrors.NewValidation("format", "must be json or csv")
	}

	f.Offset = 0
	f.Limit = MaxExportRows
	records, total, err := s.Repo.Query(ctx, f)
	if err != nil {
		return nil, "", fmt.Errorf("query audit records: %w", err)
	}

	var (
		body        []byte
		contentType string
	)
	switch format {
	case "csv":
		body, err = auditCSV(records)
		contentType = "text/csv"
	default:
		body, err = json.Marshal(records)
		contentType = "application/json"
	}
	if err != nil {
		return nil, "", fmt.Errorf("encode audit export: %w", err)
	}

	if s.Events != nil {
		ev := events.Event{
			Topic:        events.TopicAuditExport,
			Actor:        p,
			ResourceType: "audit",
			Description:  "audit log exported",
			Details:      map[string]any{"format": format, "rows": len(records), "matched": total},
			Success:      true,
			At:           time.Now().UTC(),
		}
		if err := s.Events.Publish(context.WithoutCancel(ctx), ev); err != nil {
			s.Log.Warn().Err(err).Msg("audit export event failed")
		}
	}
	return body, contentType, nil
}

var auditCSVHeader = []string{"id", "created_at", "actor_id", "actor_name", "action", "resource_type",
	"resource_id", "description", "success", "error_message", "details"}

func auditCSV(records []*model.AuditRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(auditCSVHeader); err != nil {
		return nil, err
	}
	for _, r := range records {
		details := ""
		if len(r.Details) > 0 {
			b, err := json.Marshal(r.Details)
			if err != nil {
				return nil, err
			}
			details = string(b)
		}
		row := []string{r.ID, r.CreatedAt.Format(time.RFC3339), r.ActorID, r.ActorName, string(r.Action),
			r.ResourceType, r.ResourceID, r.Description, strconv.FormatBool(r.Success), r.ErrorMessage, details}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// RecordLogin audits a login reported by the session collaborator.
func (s *AuditService) RecordLogin(ctx context.Context, p *model.Principal, success bool, reason string) error {
	if p == nil || p.ID == "" {
		return appErrors.NewValidation("user_id", "is required")
	}
	ev := events.Event{
		Topic:        events.TopicAuthLogin,
		Actor:        p,
		ResourceType: "user",
		ResourceID:   p.ID,
		Description:  "user login",
		Success:      success,
		Error:        reason,
		At:           time.Now().UTC(),
	}
	if s.Events == nil {
		return s.Handle(ctx, ev)
	}
	return s.Events.Publish(ctx, ev)
}
