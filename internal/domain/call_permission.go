package domain

import "time"

// PermissionStatus is the lifecycle state of a call permission.
type PermissionStatus string

const (
	PermissionStatusNone      PermissionStatus = "none"
	PermissionStatusRequested PermissionStatus = "requested"
	PermissionStatusGranted   PermissionStatus = "granted"
	PermissionStatusExpired   PermissionStatus = "expired"
	PermissionStatusRevoked   PermissionStatus = "revoked"
)

// CallPermission tracks the call opt-in lifecycle for one (lead, phone)
// pair: none -> requested -> granted -> expired/revoked, with
// expired -> requested as the only re-entrant edge. Records are created
// lazily on the first request and never deleted.
type CallPermission struct {
	ID          string           `json:"id" gorm:"column:id;primaryKey"`
	LeadID      string           `json:"lead_id" gorm:"column:lead_id;uniqueIndex"`
	PhoneNumber string           `json:"phone_number" gorm:"column:phone_number;index"`
	Status      PermissionStatus `json:"status" gorm:"column:status"`

	GrantedAt *time.Time `json:"granted_at" gorm:"column:granted_at"`
	ExpiresAt *time.Time `json:"expires_at" gorm:"column:expires_at"`

	CallsMadeCount int        `json:"calls_made_count" gorm:"column:calls_made_count"`
	LastCallAt     *time.Time `json:"last_call_at" gorm:"column:last_call_at"`

	RequestCount24h   int        `json:"request_count_24h" gorm:"column:request_count_24h"`
	RequestCount7d    int        `json:"request_count_7d" gorm:"column:request_count_7d"`
	LastRequestSentAt *time.Time `json:"last_request_sent_at" gorm:"column:last_request_sent_at"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (CallPermission) TableName() string {
	return "whatsapp_call_permissions"
}

// CanRequest reports whether another permission request may be sent, with
// the user-facing reason when it may not. Counters are compared against the
// limits; actual increments happen under the row lock in the repository.
func (p *CallPermission) CanRequest() (bool, string) {
	if p.Status == PermissionStatusRequested || p.Status == PermissionStatusGranted {
		return false, MsgPermissionPending
	}
	// expired -> requested is the only re-entrant edge; revoked is terminal
	if p.Status == PermissionStatusRevoked {
		return false, MsgPermissionRevoked
	}
	if p.RequestCount24h >= CallPermissionDailyLimit {
		return false, MsgDailyLimit
	}
	if p.RequestCount7d >= CallPermissionWeeklyLimit {
		return false, MsgWeeklyLimit
	}
	return true, ""
}

// CanCall reports whether a call can be placed right now, with the
// user-facing reason when it cannot. Expiry is not applied here; callers go
// through the reconcile-on-read path first.
func (p *CallPermission) CanCall(now time.Time) (bool, string) {
	if p.Status != PermissionStatusGranted {
		return false, ErrMsgNoPermission
	}
	if p.ExpiresAt != nil && p.ExpiresAt.Before(now) {
		return false, MsgPermissionExpired
	}
	if p.CallsMadeCount >= MaxCallsAfterPermission {
		return false, MsgCallLimit
	}
	return true, ""
}

// IsExpired reports whether a granted permission has passed its expiry.
func (p *CallPermission) IsExpired(now time.Time) bool {
	return p.Status == PermissionStatusGranted && p.ExpiresAt != nil && p.ExpiresAt.Before(now)
}

// RecordRequest stamps a successfully dispatched permission request.
func (p *CallPermission) RecordRequest(now time.Time) {
	p.Status = PermissionStatusRequested
	p.LastRequestSentAt = &now
	p.RequestCount24h++
	p.RequestCount7d++
}

// RecordGrant applies an accepted permission reply. The call counter resets
// on every transition into granted.
func (p *CallPermission) RecordGrant(now time.Time, expiresAt *time.Time) {
	p.Status = PermissionStatusGranted
	p.GrantedAt = &now
	if expiresAt != nil {
		p.ExpiresAt = expiresAt
	} else {
		exp := now.Add(PermissionValidityDays * 24 * time.Hour)
		p.ExpiresAt = &exp
	}
	p.CallsMadeCount = 0
}

// RecordCall counts a placed call against the active grant.
func (p *CallPermission) RecordCall(now time.Time) {
	p.CallsMadeCount++
	p.LastCallAt = &now
}

// CallsRemaining returns how many calls are left under the current grant.
func (p *CallPermission) CallsRemaining() int {
	remaining := MaxCallsAfterPermission - p.CallsMadeCount
	if remaining < 0 {
		return 0
	}
	return remaining
}
