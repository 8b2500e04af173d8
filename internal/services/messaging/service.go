package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	adapters "github.com/waluebiz/whatsapp-crm-service/internal/adapters/http"
	"github.com/waluebiz/whatsapp-crm-service/internal/domain"
	"github.com/waluebiz/whatsapp-crm-service/internal/phone"
	"github.com/waluebiz/whatsapp-crm-service/internal/repository"
	"github.com/waluebiz/whatsapp-crm-service/pkg/logger"
	appRedis "github.com/waluebiz/whatsapp-crm-service/pkg/redis"
	"go.uber.org/zap"
)

// Publisher pushes realtime events to connected CRM clients. A nil publisher
// disables realtime updates without affecting message handling.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// Service owns the messaging side: conversation window tracking, outbound
// sends, inbound ingestion, delivery status reconciliation, and the template
// cache.
type Service struct {
	repos     repository.RepositoryManager
	provider  adapters.ProviderAPI
	publisher Publisher

	now func() time.Time
}

// NewService creates a messaging service
func NewService(repos repository.RepositoryManager, provider adapters.ProviderAPI, publisher Publisher) *Service {
	return &Service{
		repos:     repos,
		provider:  provider,
		publisher: publisher,
		now:       time.Now,
	}
}

func (s *Service) publish(ctx context.Context, channel string, message interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, channel, message); err != nil {
		logger.Base().Warn("Failed to publish realtime event",
			zap.String("channel", channel),
			zap.Error(err))
	}
}

// WindowView reports the 24-hour conversation window for a lead.
type WindowView struct {
	InWindow         bool       `json:"in_window"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	RemainingSeconds int64      `json:"remaining_seconds"`
}

// CheckConversationWindow reports whether free-form messages may be sent to
// the lead. The window opens on every inbound customer message and closes 24
// hours after the latest one.
func (s *Service) CheckConversationWindow(ctx context.Context, leadID string) (*WindowView, error) {
	lead, err := s.repos.Leads().GetByID(ctx, leadID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	cutoff := now.Add(-domain.ConversationWindowHours * time.Hour)
	last, err := s.repos.MessageLogs().LastInboundAfter(ctx, phone.Variants(lead.Phone()), cutoff)
	if err != nil {
		return nil, err
	}
	if last == nil || last.SentAt == nil {
		return &WindowView{InWindow: false}, nil
	}

	expiresAt := last.SentAt.Add(domain.ConversationWindowHours * time.Hour)
	remaining := int64(expiresAt.Sub(now).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return &WindowView{
		InWindow:         remaining > 0,
		ExpiresAt:        &expiresAt,
		RemainingSeconds: remaining,
	}, nil
}

// SendTemplateRequest is the input for a template send.
type SendTemplateRequest struct {
	LeadID       string   `json:"lead_id"`
	TemplateName string   `json:"template_name"`
	Parameters   []string `json:"parameters"`
}

// SendTemplate sends an approved template message to the lead. Templates are
// the only message type allowed outside the conversation window.
func (s *Service) SendTemplate(ctx context.Context, req *SendTemplateRequest) (*domain.MessageLog, error) {
	lead, err := s.repos.Leads().GetByID(ctx, req.LeadID)
	if err != nil {
		return nil, err
	}
	to := lead.Phone()
	if !phone.Validate(to) {
		return nil, domain.Reject(domain.ErrInvalidInput, domain.ErrMsgInvalidPhone)
	}

	tpl, err := s.repos.Templates().GetByName(ctx, req.TemplateName)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Reject(domain.ErrInvalidInput, domain.ErrMsgTemplateNotFound)
		}
		return nil, err
	}
	if tpl.Status != domain.TemplateStatusApproved {
		return nil, domain.Reject(domain.ErrInvalidInput, domain.ErrMsgTemplateNotFound)
	}

	msg := &domain.MessageLog{
		ID:           uuid.NewString(),
		LeadID:       lead.ID,
		Direction:    domain.DirectionOutbound,
		MessageType:  domain.MessageTypeTemplate,
		TemplateName: tpl.TemplateName,
		ToNumber:     to,
		Status:       domain.MessageStatusQueued,
	}
	if err := s.repos.MessageLogs().Create(ctx, msg); err != nil {
		return nil, err
	}

	return s.dispatch(ctx, msg, func() (*adapters.ProviderResponse, error) {
		return s.provider.SendTemplate(ctx, to, req.TemplateName, req.Parameters)
	})
}

// SendTextRequest is the input for a free-form text send.
type SendTextRequest struct {
	LeadID string `json:"lead_id"`
	Body   string `json:"body"`
}

// SendText sends a free-form text message. Rejected when the conversation
// window is closed; the window check and the send are not atomic, the
// provider is the final arbiter.
func (s *Service) SendText(ctx context.Context, req *SendTextRequest) (*domain.MessageLog, error) {
	if req.Body == "" {
		return nil, domain.Reject(domain.ErrInvalidInput, "message body is required")
	}

	window, err := s.CheckConversationWindow(ctx, req.LeadID)
	if err != nil {
		return nil, err
	}
	if !window.InWindow {
		return nil, domain.Reject(domain.ErrPermissionDenied, domain.ErrMsgOutsideWindow)
	}

	lead, err := s.repos.Leads().GetByID(ctx, req.LeadID)
	if err != nil {
		return nil, err
	}
	to := lead.Phone()
	if !phone.Validate(to) {
		return nil, domain.Reject(domain.ErrInvalidInput, domain.ErrMsgInvalidPhone)
	}

	msg := &domain.MessageLog{
		ID:             uuid.NewString(),
		LeadID:         lead.ID,
		Direction:      domain.DirectionOutbound,
		MessageType:    domain.MessageTypeText,
		MessageContent: req.Body,
		ToNumber:       to,
		Status:         domain.MessageStatusQueued,
	}
	if err := s.repos.MessageLogs().Create(ctx, msg); err != nil {
		return nil, err
	}

	return s.dispatch(ctx, msg, func() (*adapters.ProviderResponse, error) {
		return s.provider.SendText(ctx, to, req.Body)
	})
}

// dispatch performs the provider send for a queued row and commits the
// outcome: sent with the provider message id, or failed with the error. The
// failure is persisted before the error is returned.
func (s *Service) dispatch(ctx context.Context, msg *domain.MessageLog, send func() (*adapters.ProviderResponse, error)) (*domain.MessageLog, error) {
	resp, err := send()
	now := s.now()

	if err != nil || !resp.Success {
		reason := domain.ErrMsgMessageFailed
		if err != nil {
			reason = err.Error()
		} else if resp.Error != "" {
			reason = resp.Error
		}
		failed, updErr := s.repos.MessageLogs().UpdateLocked(ctx, msg.ID, func(m *domain.MessageLog) error {
			m.AdvanceStatus(domain.MessageStatusFailed, &now)
			m.ErrorMessage = reason
			return nil
		})
		if updErr != nil {
			logger.Base().Error("Failed to mark message as failed",
				zap.String("message_log_id", msg.ID),
				zap.Error(updErr))
		} else {
			msg = failed
		}
		if err != nil {
			return msg, err
		}
		return msg, domain.Reject(domain.ErrTransportFailure, reason)
	}

	updated, err := s.repos.MessageLogs().UpdateLocked(ctx, msg.ID, func(m *domain.MessageLog) error {
		m.MessageID = resp.MessageID
		m.SentAt = &now
		m.Cost = resp.Cost
		m.AdvanceStatus(domain.MessageStatusSent, &now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.repos.Leads().RecordMessageActivity(ctx, msg.LeadID, now); err != nil {
		logger.Base().Warn("Failed to record lead message activity",
			zap.String("lead_id", msg.LeadID),
			zap.Error(err))
	}

	logger.Base().Info("Message dispatched",
		zap.String("message_log_id", updated.ID),
		zap.String("message_id", updated.MessageID),
		zap.String("lead_id", updated.LeadID),
		zap.String("type", string(updated.MessageType)))
	return updated, nil
}

// ApplyStatusUpdate reconciles one delivery status report against the stored
// message. Unknown message ids and regressive transitions are logged and
// dropped; both are routine under webhook replay and reordering.
func (s *Service) ApplyStatusUpdate(ctx context.Context, messageID, statusStr string, at *time.Time, errorMessage string) error {
	status, ok := domain.ParseMessageStatus(statusStr)
	if !ok {
		logger.Base().Warn("Ignoring unknown message status",
			zap.String("message_id", messageID),
			zap.String("status", statusStr))
		return nil
	}

	msg, err := s.repos.MessageLogs().GetByMessageID(ctx, messageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Base().Info("Status update for unknown message, dropping",
				zap.String("message_id", messageID),
				zap.String("status", statusStr))
			return nil
		}
		return err
	}

	ts := at
	if ts == nil {
		now := s.now()
		ts = &now
	}

	var advanced bool
	updated, err := s.repos.MessageLogs().UpdateLocked(ctx, msg.ID, func(m *domain.MessageLog) error {
		advanced = m.AdvanceStatus(status, ts)
		if advanced && status == domain.MessageStatusFailed && errorMessage != "" {
			m.ErrorMessage = errorMessage
		}
		return nil
	})
	if err != nil {
		return err
	}

	if !advanced {
		logger.Base().Debug("Dropped non-advancing status update",
			zap.String("message_id", messageID),
			zap.String("current", string(msg.Status)),
			zap.String("incoming", string(status)))
		return nil
	}

	s.publish(ctx, appRedis.ChannelMessageStatus, map[string]interface{}{
		"message_log_id": updated.ID,
		"message_id":     updated.MessageID,
		"lead_id":        updated.LeadID,
		"status":         updated.Status,
	})
	return nil
}

// InboundMessage is one customer message arriving via webhook.
type InboundMessage struct {
	MessageID   string
	From        string
	SenderName  string
	MessageType string
	Body        string
	Timestamp   *time.Time
}

// IngestInbound records a customer message, opening the conversation window.
// Duplicates (webhook retries) and messages from unknown phones are dropped.
func (s *Service) IngestInbound(ctx context.Context, in *InboundMessage) error {
	if in.MessageID == "" {
		return domain.Reject(domain.ErrInvalidInput, "inbound message id is required")
	}

	lead, err := s.repos.Leads().FindByPhone(ctx, phone.Variants(in.From))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Base().Info("Inbound message from unknown phone, dropping",
				zap.String("message_id", in.MessageID),
				zap.String("from", in.From))
			return nil
		}
		return err
	}

	ts := in.Timestamp
	if ts == nil {
		now := s.now()
		ts = &now
	}

	msgType := domain.MessageType(in.MessageType)
	if msgType != domain.MessageTypeText && msgType != domain.MessageTypeMedia {
		msgType = domain.MessageTypeText
	}

	msg := &domain.MessageLog{
		ID:             uuid.NewString(),
		LeadID:         lead.ID,
		MessageID:      in.MessageID,
		Direction:      domain.DirectionInbound,
		MessageType:    msgType,
		MessageContent: in.Body,
		FromNumber:     in.From,
		Status:         domain.MessageStatusDelivered,
		SentAt:         ts,
		DeliveredAt:    ts,
	}
	if err := s.repos.MessageLogs().Create(ctx, msg); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			logger.Base().Debug("Duplicate inbound message, dropping",
				zap.String("message_id", in.MessageID))
			return nil
		}
		return err
	}

	if err := s.repos.Leads().RecordMessageActivity(ctx, lead.ID, *ts); err != nil {
		logger.Base().Warn("Failed to record lead message activity",
			zap.String("lead_id", lead.ID),
			zap.Error(err))
	}

	s.publish(ctx, appRedis.ChannelNewMessage, map[string]interface{}{
		"message_log_id": msg.ID,
		"message_id":     msg.MessageID,
		"lead_id":        msg.LeadID,
		"from":           msg.FromNumber,
		"sender_name":    in.SenderName,
		"body":           msg.MessageContent,
	})

	logger.Base().Info("Inbound message recorded",
		zap.String("message_id", in.MessageID),
		zap.String("lead_id", lead.ID))
	return nil
}

// History returns the most recent messages for a lead, newest first.
func (s *Service) History(ctx context.Context, leadID string, limit int) ([]*domain.MessageLog, error) {
	if _, err := s.repos.Leads().GetByID(ctx, leadID); err != nil {
		return nil, err
	}
	return s.repos.MessageLogs().ListByLead(ctx, leadID, limit)
}

// SyncTemplates refreshes the local template cache from the provider,
// bucketing the platform's review states into approved/pending/rejected.
func (s *Service) SyncTemplates(ctx context.Context) (int, error) {
	templates, err := s.provider.ListTemplates(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	synced := 0
	for _, pt := range templates {
		tpl := &domain.WhatsAppTemplate{
			ID:           uuid.NewString(),
			TemplateName: pt.Name,
			Category:     pt.Category,
			Language:     pt.Language,
			Status:       domain.MapMetaTemplateStatus(pt.Status),
			Components:   string(pt.Components),
			LastSynced:   &now,
		}
		if err := s.repos.Templates().Upsert(ctx, tpl); err != nil {
			logger.Base().Error("Failed to upsert template",
				zap.String("template_name", pt.Name),
				zap.Error(err))
			continue
		}
		synced++
	}

	logger.Base().Info("Template sync complete",
		zap.Int("fetched", len(templates)),
		zap.Int("synced", synced))
	return synced, nil
}

// ListTemplates returns the cached templates, optionally only approved ones.
// An empty cache triggers a sync from the provider before listing.
func (s *Service) ListTemplates(ctx context.Context, approvedOnly bool) ([]*domain.WhatsAppTemplate, error) {
	templates, err := s.list(ctx, approvedOnly)
	if err != nil {
		return nil, err
	}
	if len(templates) > 0 {
		return templates, nil
	}

	if _, err := s.SyncTemplates(ctx); err != nil {
		logger.Base().Warn("Template sync on empty cache failed", zap.Error(err))
		return templates, nil
	}
	return s.list(ctx, approvedOnly)
}

func (s *Service) list(ctx context.Context, approvedOnly bool) ([]*domain.WhatsAppTemplate, error) {
	if approvedOnly {
		return s.repos.Templates().ListApproved(ctx)
	}
	return s.repos.Templates().ListAll(ctx)
}

// PollPendingStatuses queries the provider for messages stuck in sent state.
// The webhook path is the primary status source; this is the fallback for
// lost deliveries.
func (s *Service) PollPendingStatuses(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-domain.MessageStatusPollLookback)
	pending, err := s.repos.MessageLogs().ListPendingSent(ctx, cutoff, domain.MessageStatusPollBatch)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, msg := range pending {
		resp, err := s.provider.GetMessageStatus(ctx, msg.MessageID)
		if err != nil {
			logger.Base().Warn("Status poll failed for message",
				zap.String("message_id", msg.MessageID),
				zap.Error(err))
			continue
		}
		if resp.Status == "" {
			continue
		}
		if err := s.ApplyStatusUpdate(ctx, msg.MessageID, resp.Status, nil, resp.Error); err != nil {
			logger.Base().Warn("Failed to apply polled status",
				zap.String("message_id", msg.MessageID),
				zap.Error(err))
			continue
		}
		updated++
	}
	return updated, nil
}
