package domain

import "time"

// TemplateStatus is the local approval bucket for a synced template.
type TemplateStatus string

const (
	TemplateStatusApproved TemplateStatus = "approved"
	TemplateStatusPending  TemplateStatus = "pending"
	TemplateStatusRejected TemplateStatus = "rejected"
)

// metaTemplateStatusMap buckets the platform's template review states into
// the three local ones.
var metaTemplateStatusMap = map[string]TemplateStatus{
	"approved":         TemplateStatusApproved,
	"pending":          TemplateStatusPending,
	"rejected":         TemplateStatusRejected,
	"in_appeal":        TemplateStatusPending,
	"pending_deletion": TemplateStatusRejected,
	"deleted":          TemplateStatusRejected,
	"disabled":         TemplateStatusRejected,
	"paused":           TemplateStatusPending,
	"limit_exceeded":   TemplateStatusPending,
}

// MapMetaTemplateStatus maps a platform status string to the local bucket,
// defaulting to pending for unknown states.
func MapMetaTemplateStatus(s string) TemplateStatus {
	if status, ok := metaTemplateStatusMap[s]; ok {
		return status
	}
	return TemplateStatusPending
}

// WhatsAppTemplate caches an approved-message template synced from the WABA.
type WhatsAppTemplate struct {
	ID           string         `json:"id" gorm:"column:id;primaryKey"`
	TemplateName string         `json:"template_name" gorm:"column:template_name;uniqueIndex"`
	Category     string         `json:"category" gorm:"column:category"`
	Language     string         `json:"language" gorm:"column:language"`
	Status       TemplateStatus `json:"status" gorm:"column:status;index"`
	Components   string         `json:"components" gorm:"column:components;type:text"`
	LastSynced   *time.Time     `json:"last_synced" gorm:"column:last_synced"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (WhatsAppTemplate) TableName() string {
	return "whatsapp_templates"
}
