package domain

import "time"

// CallDirection distinguishes inbound from outbound calls.
type CallDirection string

const (
	CallDirectionInbound  CallDirection = "inbound"
	CallDirectionOutbound CallDirection = "outbound"
)

// CallStatus is the lifecycle state of a call attempt.
type CallStatus string

const (
	CallStatusInitiating CallStatus = "initiating"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusConnected  CallStatus = "connected"
	CallStatusEnded      CallStatus = "ended"
	CallStatusFailed     CallStatus = "failed"
	CallStatusNoAnswer   CallStatus = "no_answer"
	CallStatusMissed     CallStatus = "missed"
)

// ParseCallStatus maps a webhook status string to a local call status.
func ParseCallStatus(s string) (CallStatus, bool) {
	switch CallStatus(s) {
	case CallStatusInitiating, CallStatusRinging, CallStatusConnected,
		CallStatusEnded, CallStatusFailed, CallStatusNoAnswer, CallStatusMissed:
		return CallStatus(s), true
	}
	return "", false
}

// CallLog records one call attempt. Rows are created at initiation and never
// deleted.
type CallLog struct {
	ID     string `json:"id" gorm:"column:id;primaryKey"`
	LeadID string `json:"lead_id" gorm:"column:lead_id;index"`

	// CallSessionID is the provider's session identifier, used to correlate
	// asynchronous call-status webhooks.
	CallSessionID string `json:"call_session_id" gorm:"column:call_session_id;index"`

	Direction  CallDirection `json:"direction" gorm:"column:direction"`
	ToNumber   string        `json:"to_number" gorm:"column:to_number"`
	FromNumber string        `json:"from_number" gorm:"column:from_number"`
	Status     CallStatus    `json:"status" gorm:"column:status;index"`

	StartedAt       time.Time  `json:"started_at" gorm:"column:started_at;index"`
	EndedAt         *time.Time `json:"ended_at" gorm:"column:ended_at"`
	DurationSeconds int        `json:"duration_seconds" gorm:"column:duration_seconds"`
	Cost            float64    `json:"cost" gorm:"column:cost"`
	Notes           string     `json:"notes" gorm:"column:notes"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (CallLog) TableName() string {
	return "whatsapp_call_logs"
}

// RecomputeDuration derives duration_seconds from the timestamps. Duration is
// never trusted as an independently settable field.
func (c *CallLog) RecomputeDuration() {
	if c.EndedAt != nil && !c.StartedAt.IsZero() {
		c.DurationSeconds = int(c.EndedAt.Sub(c.StartedAt).Seconds())
	}
}
