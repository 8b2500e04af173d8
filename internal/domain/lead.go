package domain

import "time"

// Lead mirrors the CRM lead record. This service does not own lead identity;
// it only reads the phone fields and annotates the denormalized WhatsApp
// summary columns (last activity, lifetime counts, permission status).
type Lead struct {
	ID             string `json:"id" gorm:"column:id;primaryKey"`
	LeadName       string `json:"lead_name" gorm:"column:lead_name"`
	WhatsAppNumber string `json:"whatsapp_number" gorm:"column:whatsapp_number;index"`
	MobileNo       string `json:"mobile_no" gorm:"column:mobile_no;index"`

	WhatsAppCallPermissionStatus PermissionStatus `json:"whatsapp_call_permission_status" gorm:"column:whatsapp_call_permission_status"`
	LastWhatsAppMessage          *time.Time       `json:"last_whatsapp_message" gorm:"column:last_whatsapp_message"`
	LastWhatsAppCall             *time.Time       `json:"last_whatsapp_call" gorm:"column:last_whatsapp_call"`
	TotalWhatsAppMessages        int              `json:"total_whatsapp_messages" gorm:"column:total_whatsapp_messages"`
	TotalWhatsAppCalls           int              `json:"total_whatsapp_calls" gorm:"column:total_whatsapp_calls"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (Lead) TableName() string {
	return "crm_leads"
}

// Phone returns the lead's WhatsApp-capable number, preferring the dedicated
// WhatsApp field over the generic mobile number.
func (l *Lead) Phone() string {
	if l.WhatsAppNumber != "" {
		return l.WhatsAppNumber
	}
	return l.MobileNo
}
