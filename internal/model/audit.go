// internal/model/audit.go
package model

import "time"

type AuditAction string

const (
	ActionLogin            AuditAction = "login"
	ActionLogout           AuditAction = "logout"
	ActionCreate           AuditAction = "create"
	ActionUpdate           AuditAction = "update"
	ActionDelete           AuditAction = "delete"
	ActionCampaignSchedule AuditAction = "campaign_schedule"
	ActionCampaignStart    AuditAction = "campaign_start"
	ActionCampaignStop     AuditAction = "campaign_stop"
	ActionCampaignComplete AuditAction = "campaign_complete"
	ActionSendEmail        AuditAction = "send_email"
	ActionSendWhatsApp     AuditAction = "send_whatsapp"
	ActionAuditExport      AuditAction = "audit_export"
	ActionTestMessageSent  AuditAction = "test_message_sent"
)

// AuditActions is the catalogue served to the dashboard filters.
var AuditActions = []AuditAction{
	ActionLogin, ActionLogout, ActionCreate, ActionUpdate, ActionDelete,
	ActionCampaignSchedule, ActionCampaignStart, ActionCampaignStop, ActionCampaignComplete,
	ActionSendEmail, ActionSendWhatsApp, ActionAuditExport, ActionTestMessageSent,
}

type AuditRecord struct {
	ID           string         `db:"id" json:"id"`
	ActorID      string         `db:"actor_id" json:"actor_id"`
	ActorName    string         `db:"actor_name" json:"actor_name"`
	Action       AuditAction    `db:"action" json:"action"`
	ResourceType string         `db:"resource_type" json:"resource_type"`
	ResourceID   string         `db:"resource_id" json:"resource_id,omitempty"`
	Description  string         `db:"description" json:"description"`
	Details      map[string]any `db:"details" json:"details,omitempty"`
	Success      bool           `db:"success" json:"success"`
	ErrorMessage string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// AuditFilter narrows audit queries. Zero values match everything.
type AuditFilter struct {
	ActorID      string
	Action       AuditAction
	ResourceType string
	ResourceID   string
	From         *time.Time
	To           *time.Time
	Offset       int
	Limit        int
}

type AuditStats struct {
	Total     int                 `json:"total"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
	ByAction  map[AuditAction]int `json:"by_action"`
}
