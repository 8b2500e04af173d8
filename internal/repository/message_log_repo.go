package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/waluebiz/whatsapp-crm-service/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormMessageLogRepository implements MessageLogRepository using GORM
type GormMessageLogRepository struct {
	db *gorm.DB
}

// NewGormMessageLogRepository creates a new GORM message log repository
func NewGormMessageLogRepository(db *gorm.DB) *GormMessageLogRepository {
	return &GormMessageLogRepository{db: db}
}

// Create inserts a message row. The partial unique index on message_id is the
// inbound dedupe barrier; a collision comes back as domain.ErrDuplicate.
func (r *GormMessageLogRepository) Create(ctx context.Context, msg *domain.MessageLog) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.Rejectf(domain.ErrDuplicate, "message %s already recorded", msg.MessageID)
		}
		return fmt.Errorf("failed to create message log: %w", err)
	}
	return nil
}

// GetByID retrieves a message log by ID
func (r *GormMessageLogRepository) GetByID(ctx context.Context, id string) (*domain.MessageLog, error) {
	var msg domain.MessageLog
	if err := r.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.Rejectf(domain.ErrNotFound, "message log not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get message log: %w", err)
	}
	return &msg, nil
}

// GetByMessageID retrieves a message log by provider message ID
func (r *GormMessageLogRepository) GetByMessageID(ctx context.Context, messageID string) (*domain.MessageLog, error) {
	if messageID == "" {
		return nil, domain.Reject(domain.ErrInvalidInput, "empty message id")
	}
	var msg domain.MessageLog
	if err := r.db.WithContext(ctx).First(&msg, "message_id = ?", messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.Rejectf(domain.ErrNotFound, "no message log for message id %s", messageID)
		}
		return nil, fmt.Errorf("failed to get message log by message id: %w", err)
	}
	return &msg, nil
}

// ExistsByMessageID reports whether a provider message ID is already recorded
func (r *GormMessageLogRepository) ExistsByMessageID(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.MessageLog{}).
		Where("message_id = ?", messageID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check message existence: %w", err)
	}
	return count > 0, nil
}

// UpdateLocked applies fn to the row under SELECT ... FOR UPDATE. Status
// transitions run here so concurrent webhook and poller updates serialize.
func (r *GormMessageLogRepository) UpdateLocked(ctx context.Context, id string, fn func(m *domain.MessageLog) error) (*domain.MessageLog, error) {
	var msg domain.MessageLog
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&msg, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.Rejectf(domain.ErrNotFound, "message log not found: %s", id)
			}
			return fmt.Errorf("failed to lock message log: %w", err)
		}
		if err := fn(&msg); err != nil {
			return err
		}
		if err := tx.Save(&msg).Error; err != nil {
			return fmt.Errorf("failed to save message log: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// LastInboundAfter returns the newest inbound message from any of the phone
// variants since the cutoff, or nil when none exists.
func (r *GormMessageLogRepository) LastInboundAfter(ctx context.Context, variants []string, cutoff time.Time) (*domain.MessageLog, error) {
	if len(variants) == 0 {
		return nil, nil
	}
	var msg domain.MessageLog
	err := r.db.WithContext(ctx).
		Where("direction = ? AND from_number IN ? AND sent_at > ?", domain.DirectionInbound, variants, cutoff).
		Order("sent_at DESC").
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query last inbound message: %w", err)
	}
	return &msg, nil
}

// ListByLead returns the most recent messages for a lead, newest first
func (r *GormMessageLogRepository) ListByLead(ctx context.Context, leadID string, limit int) ([]*domain.MessageLog, error) {
	var msgs []*domain.MessageLog
	query := r.db.WithContext(ctx).
		Where("lead_id = ?", leadID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages by lead: %w", err)
	}
	return msgs, nil
}

// ListPendingSent returns outbound messages stuck in sent state older than the
// cutoff, oldest first. These feed the status poll fallback.
func (r *GormMessageLogRepository) ListPendingSent(ctx context.Context, cutoff time.Time, limit int) ([]*domain.MessageLog, error) {
	var msgs []*domain.MessageLog
	query := r.db.WithContext(ctx).
		Where("direction = ? AND status = ? AND message_id <> '' AND sent_at < ?",
			domain.DirectionOutbound, domain.MessageStatusSent, cutoff).
		Order("sent_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending sent messages: %w", err)
	}
	return msgs, nil
}

// CountOutboundSince counts outbound messages sent after the cutoff. Rows
// without a sent_at never left the provider and do not count as usage.
func (r *GormMessageLogRepository) CountOutboundSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.MessageLog{}).
		Where("direction = ? AND sent_at >= ?", domain.DirectionOutbound, since).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count outbound messages: %w", err)
	}
	return count, nil
}
