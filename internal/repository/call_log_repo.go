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

// GormCallLogRepository implements CallLogRepository using GORM
type GormCallLogRepository struct {
	db *gorm.DB
}

// NewGormCallLogRepository creates a new GORM call log repository
func NewGormCallLogRepository(db *gorm.DB) *GormCallLogRepository {
	return &GormCallLogRepository{db: db}
}

// Create creates a new call log record
func (r *GormCallLogRepository) Create(ctx context.Context, call *domain.CallLog) error {
	if err := r.db.WithContext(ctx).Create(call).Error; err != nil {
		return fmt.Errorf("failed to create call log: %w", err)
	}
	return nil
}

// GetByID retrieves a call log by ID
func (r *GormCallLogRepository) GetByID(ctx context.Context, id string) (*domain.CallLog, error) {
	var call domain.CallLog
	if err := r.db.WithContext(ctx).First(&call, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.Rejectf(domain.ErrNotFound, "call log not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get call log: %w", err)
	}
	return &call, nil
}

// GetBySessionID retrieves a call log by the provider call session ID
func (r *GormCallLogRepository) GetBySessionID(ctx context.Context, sessionID string) (*domain.CallLog, error) {
	if sessionID == "" {
		return nil, domain.Reject(domain.ErrInvalidInput, "empty call session id")
	}
	var call domain.CallLog
	if err := r.db.WithContext(ctx).First(&call, "call_session_id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.Rejectf(domain.ErrNotFound, "no call log for session %s", sessionID)
		}
		return nil, fmt.Errorf("failed to get call log by session: %w", err)
	}
	return &call, nil
}

// UpdateLocked applies fn to the row under SELECT ... FOR UPDATE
func (r *GormCallLogRepository) UpdateLocked(ctx context.Context, id string, fn func(c *domain.CallLog) error) (*domain.CallLog, error) {
	var call domain.CallLog
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&call, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.Rejectf(domain.ErrNotFound, "call log not found: %s", id)
			}
			return fmt.Errorf("failed to lock call log: %w", err)
		}
		if err := fn(&call); err != nil {
			return err
		}
		if err := tx.Save(&call).Error; err != nil {
			return fmt.Errorf("failed to save call log: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &call, nil
}

// ListByLead returns the most recent calls for a lead, newest first
func (r *GormCallLogRepository) ListByLead(ctx context.Context, leadID string, limit int) ([]*domain.CallLog, error) {
	var calls []*domain.CallLog
	query := r.db.WithContext(ctx).
		Where("lead_id = ?", leadID).
		Order("started_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&calls).Error; err != nil {
		return nil, fmt.Errorf("failed to list calls by lead: %w", err)
	}
	return calls, nil
}

// CountSince counts calls started after the cutoff
func (r *GormCallLogRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.CallLog{}).
		Where("started_at >= ?", since).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count calls: %w", err)
	}
	return count, nil
}

// SumDurationSince sums the duration of calls started after the cutoff
func (r *GormCallLogRepository) SumDurationSince(ctx context.Context, since time.Time) (int64, error) {
	var total *int64
	if err := r.db.WithContext(ctx).Model(&domain.CallLog{}).
		Select("SUM(duration_seconds)").
		Where("started_at >= ?", since).
		Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("failed to sum call duration: %w", err)
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}
