package domain

import "time"

// Meta call-permission business rules. These mirror the platform limits and
// are enforced locally before any provider dispatch.
const (
	CallPermissionDailyLimit  = 1 // permission requests per 24 hours
	CallPermissionWeeklyLimit = 2 // permission requests per 7 days
	MaxCallsAfterPermission   = 5 // calls per 24 hours after a grant
	PermissionValidityDays    = 7 // grant lifetime when the reply carries no expiration

	ConversationWindowHours = 24
)

// Scheduled job tuning.
const (
	MessageStatusPollLookback = 5 * time.Minute
	MessageStatusPollBatch    = 20
	UsageReportWindow         = time.Hour
)

// User-facing status messages, kept verbatim so the CRM surface stays stable.
const (
	MsgPermissionRequired = "Call permission required. Send request to customer?"
	MsgPermissionPending  = "Permission request sent. Awaiting customer approval."
	MsgPermissionGranted  = "Call permission granted. You can now call this customer."
	MsgPermissionExpired  = "Call permission expired. Send new request?"
	MsgPermissionRevoked  = "Call permission revoked by customer."
	MsgDailyLimit         = "Daily permission request limit reached. Try again tomorrow."
	MsgWeeklyLimit        = "Weekly permission request limit reached (2 requests per 7 days)."
	MsgCallLimit          = "Daily call limit reached (5 calls per permission)."
	MsgMessageSent        = "Message sent successfully"

	ErrMsgNoPermission     = "No call permission. Please request permission first."
	ErrMsgInvalidPhone     = "Invalid WhatsApp phone number format. Use E.164 format (e.g., +919876543210)"
	ErrMsgCallFailed       = "Call could not be initiated. Please try again."
	ErrMsgMessageFailed    = "Message could not be sent. Please check status."
	ErrMsgOutsideWindow    = "Cannot send free-form message. Use template or wait for customer response."
	ErrMsgTemplateNotFound = "Selected template not found or not approved."
	ErrMsgNotConfigured    = "WhatsApp not configured. Please complete setup in Settings."
)
