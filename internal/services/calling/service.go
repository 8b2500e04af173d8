package calling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	adapters "github.com/waluebiz/whatsapp-crm-service/internal/adapters/http"
	"github.com/waluebiz/whatsapp-crm-service/internal/domain"
	"github.com/waluebiz/whatsapp-crm-service/internal/phone"
	"github.com/waluebiz/whatsapp-crm-service/internal/repository"
	"github.com/waluebiz/whatsapp-crm-service/pkg/logger"
	appRedis "github.com/waluebiz/whatsapp-crm-service/pkg/redis"
	"go.uber.org/zap"
)

// Publisher pushes realtime events to connected CRM clients. A nil publisher
// disables realtime updates.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// Service owns the calling side: the permission state machine with its rate
// limits, call initiation and teardown, and the scheduled sweeps.
type Service struct {
	repos     repository.RepositoryManager
	provider  adapters.ProviderAPI
	publisher Publisher

	now func() time.Time
}

// NewService creates a calling service
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

// PermissionView is the read model returned to the CRM surface.
type PermissionView struct {
	Status         domain.PermissionStatus `json:"status"`
	Message        string                  `json:"message"`
	CanCall        bool                    `json:"can_call"`
	CanRequest     bool                    `json:"can_request"`
	ExpiresAt      *time.Time              `json:"expires_at,omitempty"`
	GrantedAt      *time.Time              `json:"granted_at,omitempty"`
	CallsRemaining int                     `json:"calls_remaining"`
}

// CheckPermission reports the current permission state for a lead. A granted
// permission whose expiry has passed is reconciled to expired here, so reads
// never return a stale grant.
func (s *Service) CheckPermission(ctx context.Context, leadID string) (*PermissionView, error) {
	if _, err := s.repos.Leads().GetByID(ctx, leadID); err != nil {
		return nil, err
	}

	permission, err := s.repos.CallPermissions().GetByLead(ctx, leadID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &PermissionView{
				Status:     domain.PermissionStatusNone,
				Message:    domain.MsgPermissionRequired,
				CanRequest: true,
			}, nil
		}
		return nil, err
	}

	permission, err = s.reconcile(ctx, permission)
	if err != nil {
		return nil, err
	}
	return s.view(permission), nil
}

// reconcile applies lazy expiry: a granted permission past its expires_at is
// persisted as expired before anyone acts on it.
func (s *Service) reconcile(ctx context.Context, permission *domain.CallPermission) (*domain.CallPermission, error) {
	now := s.now()
	if !permission.IsExpired(now) {
		return permission, nil
	}

	updated, err := s.repos.CallPermissions().UpdateLocked(ctx, permission.ID, func(p *domain.CallPermission) error {
		if p.IsExpired(now) {
			p.Status = domain.PermissionStatusExpired
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if updated.Status == domain.PermissionStatusExpired {
		s.propagateLeadStatus(ctx, updated)
		logger.Base().Info("Call permission expired on read",
			zap.String("permission_id", updated.ID),
			zap.String("lead_id", updated.LeadID))
	}
	return updated, nil
}

func (s *Service) view(p *domain.CallPermission) *PermissionView {
	view := &PermissionView{}
	if err := copier.Copy(view, p); err != nil {
		logger.Base().Warn("Failed to copy permission view", zap.Error(err))
	}
	view.CallsRemaining = p.CallsRemaining()

	now := s.now()
	switch p.Status {
	case domain.PermissionStatusGranted:
		ok, reason := p.CanCall(now)
		view.CanCall = ok
		if ok {
			view.Message = domain.MsgPermissionGranted
		} else {
			view.Message = reason
		}
	case domain.PermissionStatusRequested:
		view.Message = domain.MsgPermissionPending
	case domain.PermissionStatusExpired:
		view.Message = domain.MsgPermissionExpired
		view.CanRequest, _ = p.CanRequest()
	case domain.PermissionStatusRevoked:
		view.Message = domain.MsgPermissionRevoked
	default:
		view.Message = domain.MsgPermissionRequired
		view.CanRequest, _ = p.CanRequest()
	}
	return view
}

func (s *Service) propagateLeadStatus(ctx context.Context, p *domain.CallPermission) {
	if err := s.repos.Leads().SetCallPermissionStatus(ctx, p.LeadID, p.Status); err != nil {
		logger.Base().Warn("Failed to propagate permission status to lead",
			zap.String("lead_id", p.LeadID),
			zap.Error(err))
	}
	s.publish(ctx, appRedis.ChannelPermissionUpdate, map[string]interface{}{
		"lead_id": p.LeadID,
		"status":  p.Status,
	})
}

// RequestPermission sends a call permission request to the lead, enforcing
// the per-day and per-week request limits. The limit check and the counter
// increment run under the row lock so concurrent requests cannot both pass.
func (s *Service) RequestPermission(ctx context.Context, leadID string) (*PermissionView, error) {
	lead, err := s.repos.Leads().GetByID(ctx, leadID)
	if err != nil {
		return nil, err
	}
	to := lead.Phone()
	if !phone.Validate(to) {
		return nil, domain.Reject(domain.ErrInvalidInput, domain.ErrMsgInvalidPhone)
	}

	permission, err := s.repos.CallPermissions().GetByLead(ctx, leadID)
	if errors.Is(err, domain.ErrNotFound) {
		permission = &domain.CallPermission{
			ID:          uuid.NewString(),
			LeadID:      leadID,
			PhoneNumber: to,
			Status:      domain.PermissionStatusNone,
		}
		if err := s.repos.CallPermissions().Create(ctx, permission); err != nil && !errors.Is(err, domain.ErrDuplicate) {
			return nil, err
		}
		// raced another request; reload the winner
		if permission, err = s.repos.CallPermissions().GetByLead(ctx, leadID); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	permission, err = s.reconcile(ctx, permission)
	if err != nil {
		return nil, err
	}

	updated, err := s.repos.CallPermissions().UpdateLocked(ctx, permission.ID, func(p *domain.CallPermission) error {
		if ok, reason := p.CanRequest(); !ok {
			return domain.Reject(domain.ErrPermissionDenied, reason)
		}
		resp, err := s.provider.RequestCallPermission(ctx, to)
		if err != nil {
			return err
		}
		if !resp.Success {
			return domain.Rejectf(domain.ErrTransportFailure, "permission request rejected: %s", resp.Error)
		}
		p.RecordRequest(s.now())
		p.PhoneNumber = to
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.propagateLeadStatus(ctx, updated)
	logger.Base().Info("Call permission requested",
		zap.String("permission_id", updated.ID),
		zap.String("lead_id", leadID),
		zap.Int("request_count_24h", updated.RequestCount24h),
		zap.Int("request_count_7d", updated.RequestCount7d))
	return s.view(updated), nil
}

// ApplyPermissionReply applies the customer's reply to a pending permission
// request. ACCEPT moves the request to granted; DECLINE is recorded in the
// log only, the request stays pending until it is superseded or swept.
func (s *Service) ApplyPermissionReply(ctx context.Context, fromPhone, response string, expiresAt *time.Time) error {
	permission, err := s.repos.CallPermissions().GetRequestedByPhone(ctx, phone.Variants(fromPhone))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Base().Info("Permission reply without pending request, dropping",
				zap.String("from", fromPhone),
				zap.String("response", response))
			return nil
		}
		return err
	}

	switch response {
	case "ACCEPT", "accept":
		updated, err := s.repos.CallPermissions().UpdateLocked(ctx, permission.ID, func(p *domain.CallPermission) error {
			if p.Status != domain.PermissionStatusRequested {
				// superseded while we were processing; nothing to grant
				return nil
			}
			p.RecordGrant(s.now(), expiresAt)
			return nil
		})
		if err != nil {
			return err
		}
		if updated.Status == domain.PermissionStatusGranted {
			s.propagateLeadStatus(ctx, updated)
			logger.Base().Info("Call permission granted",
				zap.String("permission_id", updated.ID),
				zap.String("lead_id", updated.LeadID),
				zap.Timep("expires_at", updated.ExpiresAt))
		}
		return nil
	case "DECLINE", "decline":
		logger.Base().Info("Call permission declined by customer",
			zap.String("permission_id", permission.ID),
			zap.String("lead_id", permission.LeadID))
		return nil
	default:
		logger.Base().Warn("Unknown permission reply, dropping",
			zap.String("from", fromPhone),
			zap.String("response", response))
		return nil
	}
}

// InitiateCall starts an outbound call to the lead. The permission gate and
// the per-grant call counter are enforced under the row lock.
func (s *Service) InitiateCall(ctx context.Context, leadID string) (*domain.CallLog, error) {
	lead, err := s.repos.Leads().GetByID(ctx, leadID)
	if err != nil {
		return nil, err
	}
	to := lead.Phone()
	if !phone.Validate(to) {
		return nil, domain.Reject(domain.ErrInvalidInput, domain.ErrMsgInvalidPhone)
	}

	permission, err := s.repos.CallPermissions().GetByLead(ctx, leadID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Reject(domain.ErrPermissionDenied, domain.ErrMsgNoPermission)
		}
		return nil, err
	}
	permission, err = s.reconcile(ctx, permission)
	if err != nil {
		return nil, err
	}

	now := s.now()
	call := &domain.CallLog{
		ID:        uuid.NewString(),
		LeadID:    leadID,
		Direction: domain.CallDirectionOutbound,
		ToNumber:  to,
		Status:    domain.CallStatusInitiating,
		StartedAt: now,
	}
	if err := s.repos.CallLogs().Create(ctx, call); err != nil {
		return nil, err
	}

	_, err = s.repos.CallPermissions().UpdateLocked(ctx, permission.ID, func(p *domain.CallPermission) error {
		if ok, reason := p.CanCall(s.now()); !ok {
			return domain.Reject(domain.ErrPermissionDenied, reason)
		}
		resp, err := s.provider.InitiateCall(ctx, to)
		if err != nil {
			return err
		}
		if !resp.Success {
			return domain.Rejectf(domain.ErrTransportFailure, "call initiation rejected: %s", resp.Error)
		}
		call.CallSessionID = resp.CallSessionID
		p.RecordCall(s.now())
		return nil
	})
	if err != nil {
		failed, updErr := s.repos.CallLogs().UpdateLocked(ctx, call.ID, func(c *domain.CallLog) error {
			c.Status = domain.CallStatusFailed
			c.Notes = err.Error()
			ended := s.now()
			c.EndedAt = &ended
			return nil
		})
		if updErr != nil {
			logger.Base().Error("Failed to mark call as failed",
				zap.String("call_log_id", call.ID),
				zap.Error(updErr))
		} else {
			call = failed
		}
		return call, err
	}

	updated, err := s.repos.CallLogs().UpdateLocked(ctx, call.ID, func(c *domain.CallLog) error {
		c.CallSessionID = call.CallSessionID
		c.Status = domain.CallStatusRinging
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.repos.Leads().RecordCallActivity(ctx, leadID, now); err != nil {
		logger.Base().Warn("Failed to record lead call activity",
			zap.String("lead_id", leadID),
			zap.Error(err))
	}

	s.publish(ctx, appRedis.ChannelCallStatus, map[string]interface{}{
		"call_log_id":     updated.ID,
		"call_session_id": updated.CallSessionID,
		"lead_id":         updated.LeadID,
		"status":          updated.Status,
	})

	logger.Base().Info("Outbound call initiated",
		zap.String("call_log_id", updated.ID),
		zap.String("call_session_id", updated.CallSessionID),
		zap.String("lead_id", leadID))
	return updated, nil
}

// EndCall terminates an in-progress call and finalizes its duration. Ending
// an already-ended call is a no-op.
func (s *Service) EndCall(ctx context.Context, callLogID string) (*domain.CallLog, error) {
	call, err := s.repos.CallLogs().GetByID(ctx, callLogID)
	if err != nil {
		return nil, err
	}
	if call.Status == domain.CallStatusEnded || call.Status == domain.CallStatusFailed {
		return call, nil
	}

	if call.CallSessionID != "" {
		if resp, err := s.provider.EndCall(ctx, call.CallSessionID); err != nil {
			logger.Base().Warn("Provider end-call failed, finalizing locally",
				zap.String("call_session_id", call.CallSessionID),
				zap.Error(err))
		} else if resp.Cost > 0 {
			call.Cost = resp.Cost
		}
	}

	cost := call.Cost
	updated, err := s.repos.CallLogs().UpdateLocked(ctx, call.ID, func(c *domain.CallLog) error {
		if c.Status == domain.CallStatusEnded || c.Status == domain.CallStatusFailed {
			return nil
		}
		c.Status = domain.CallStatusEnded
		ended := s.now()
		c.EndedAt = &ended
		if cost > 0 {
			c.Cost = cost
		}
		c.RecomputeDuration()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, appRedis.ChannelCallStatus, map[string]interface{}{
		"call_log_id":     updated.ID,
		"call_session_id": updated.CallSessionID,
		"lead_id":         updated.LeadID,
		"status":          updated.Status,
		"duration":        updated.DurationSeconds,
	})

	logger.Base().Info("Call ended",
		zap.String("call_log_id", updated.ID),
		zap.Int("duration_seconds", updated.DurationSeconds))
	return updated, nil
}

// ApplyCallStatus reconciles an asynchronous call status webhook against the
// stored call log. Unknown sessions are logged and dropped.
func (s *Service) ApplyCallStatus(ctx context.Context, callSessionID, statusStr string, durationSeconds int) error {
	status, ok := domain.ParseCallStatus(statusStr)
	if !ok {
		logger.Base().Warn("Ignoring unknown call status",
			zap.String("call_session_id", callSessionID),
			zap.String("status", statusStr))
		return nil
	}

	call, err := s.repos.CallLogs().GetBySessionID(ctx, callSessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Base().Info("Call status for unknown session, dropping",
				zap.String("call_session_id", callSessionID),
				zap.String("status", statusStr))
			return nil
		}
		return err
	}

	updated, err := s.repos.CallLogs().UpdateLocked(ctx, call.ID, func(c *domain.CallLog) error {
		if c.Status == domain.CallStatusEnded || c.Status == domain.CallStatusFailed {
			return nil
		}
		c.Status = status
		switch status {
		case domain.CallStatusEnded, domain.CallStatusNoAnswer, domain.CallStatusMissed, domain.CallStatusFailed:
			if c.EndedAt == nil {
				ended := s.now()
				if durationSeconds > 0 {
					ended = c.StartedAt.Add(time.Duration(durationSeconds) * time.Second)
				}
				c.EndedAt = &ended
			}
			c.RecomputeDuration()
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, appRedis.ChannelCallStatus, map[string]interface{}{
		"call_log_id":     updated.ID,
		"call_session_id": updated.CallSessionID,
		"lead_id":         updated.LeadID,
		"status":          updated.Status,
	})
	return nil
}

// History returns the most recent calls for a lead, newest first.
func (s *Service) History(ctx context.Context, leadID string, limit int) ([]*domain.CallLog, error) {
	if _, err := s.repos.Leads().GetByID(ctx, leadID); err != nil {
		return nil, err
	}
	return s.repos.CallLogs().ListByLead(ctx, leadID, limit)
}

// SweepExpired transitions all granted permissions past their expiry to
// expired and propagates the change to the leads. The scheduled complement
// of the reconcile-on-read path.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	expired, err := s.repos.CallPermissions().ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, permission := range expired {
		updated, err := s.repos.CallPermissions().UpdateLocked(ctx, permission.ID, func(p *domain.CallPermission) error {
			if p.IsExpired(now) {
				p.Status = domain.PermissionStatusExpired
			}
			return nil
		})
		if err != nil {
			logger.Base().Error("Failed to expire permission",
				zap.String("permission_id", permission.ID),
				zap.Error(err))
			continue
		}
		if updated.Status == domain.PermissionStatusExpired {
			s.propagateLeadStatus(ctx, updated)
			swept++
		}
	}

	if swept > 0 {
		logger.Base().Info("Expired call permissions swept", zap.Int("count", swept))
	}
	return swept, nil
}

// ResetDailyCounters zeroes the 24h request counters and per-grant call
// counters across all permissions.
func (s *Service) ResetDailyCounters(ctx context.Context) (int64, error) {
	n, err := s.repos.CallPermissions().ResetDailyCounters(ctx)
	if err != nil {
		return 0, err
	}
	logger.Base().Info("Daily permission counters reset", zap.Int64("rows", n))
	return n, nil
}

// ResetWeeklyCounters zeroes the 7d request counters across all permissions.
func (s *Service) ResetWeeklyCounters(ctx context.Context) (int64, error) {
	n, err := s.repos.CallPermissions().ResetWeeklyCounters(ctx)
	if err != nil {
		return 0, err
	}
	logger.Base().Info("Weekly permission counters reset", zap.Int64("rows", n))
	return n, nil
}
