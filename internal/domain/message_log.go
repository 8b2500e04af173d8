package domain

import "time"

// MessageDirection distinguishes inbound receipts from outbound sends.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// MessageType is the WhatsApp payload kind.
type MessageType string

const (
	MessageTypeTemplate MessageType = "template"
	MessageTypeText     MessageType = "text"
	MessageTypeMedia    MessageType = "media"
)

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	MessageStatusQueued    MessageStatus = "queued"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// messageStatusRank orders the success path. failed sits outside the order
// and is handled explicitly by AdvanceStatus.
var messageStatusRank = map[MessageStatus]int{
	MessageStatusQueued:    0,
	MessageStatusSent:      1,
	MessageStatusDelivered: 2,
	MessageStatusRead:      3,
}

// ParseMessageStatus maps a provider/Meta status string to a local status.
func ParseMessageStatus(s string) (MessageStatus, bool) {
	switch MessageStatus(s) {
	case MessageStatusQueued, MessageStatusSent, MessageStatusDelivered, MessageStatusRead, MessageStatusFailed:
		return MessageStatus(s), true
	}
	return "", false
}

// MessageLog records one message transmission attempt or receipt. Outbound
// rows are created at send time, inbound rows at webhook receipt. Rows are
// never deleted.
type MessageLog struct {
	ID     string `json:"id" gorm:"column:id;primaryKey"`
	LeadID string `json:"lead_id" gorm:"column:lead_id;index"`

	// MessageID is the provider message id, empty until the provider
	// acknowledges the send. The unique index is the inbound dedupe barrier.
	MessageID string `json:"message_id" gorm:"column:message_id;uniqueIndex:ux_message_logs_message_id,where:message_id <> ''"`

	Direction      MessageDirection `json:"direction" gorm:"column:direction"`
	MessageType    MessageType      `json:"message_type" gorm:"column:message_type"`
	TemplateName   string           `json:"template_name" gorm:"column:template_name"`
	MessageContent string           `json:"message_content" gorm:"column:message_content"`
	FromNumber     string           `json:"from_number" gorm:"column:from_number"`
	ToNumber       string           `json:"to_number" gorm:"column:to_number"`

	Status       MessageStatus `json:"status" gorm:"column:status;index"`
	ErrorMessage string        `json:"error_message" gorm:"column:error_message"`
	Cost         float64       `json:"cost" gorm:"column:cost"`

	SentAt      *time.Time `json:"sent_at" gorm:"column:sent_at;index"`
	DeliveredAt *time.Time `json:"delivered_at" gorm:"column:delivered_at"`
	ReadAt      *time.Time `json:"read_at" gorm:"column:read_at"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (MessageLog) TableName() string {
	return "whatsapp_message_logs"
}

// AdvanceStatus applies a status update under the monotonic rule: status only
// moves forward along queued < sent < delivered < read; failed overrides any
// state except terminal read and is final. Regressions and updates on a
// failed row are dropped. Returns whether the row changed.
func (m *MessageLog) AdvanceStatus(status MessageStatus, at *time.Time) bool {
	if m.Status == MessageStatusFailed {
		return false
	}
	if status == MessageStatusFailed {
		if m.Status == MessageStatusRead {
			return false
		}
		m.Status = MessageStatusFailed
		return true
	}

	newRank, ok := messageStatusRank[status]
	if !ok {
		return false
	}
	curRank, ok := messageStatusRank[m.Status]
	if ok && newRank <= curRank {
		return false
	}

	m.Status = status
	switch status {
	case MessageStatusDelivered:
		m.DeliveredAt = at
	case MessageStatusRead:
		m.ReadAt = at
		if m.DeliveredAt == nil {
			// read implies delivered even when the delivered event was lost
			m.DeliveredAt = at
		}
	}
	return true
}
