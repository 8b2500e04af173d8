package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/waluebiz/whatsapp-crm-service/internal/domain"
	"gorm.io/gorm"
)

// GormLeadRepository implements LeadRepository using GORM
type GormLeadRepository struct {
	db *gorm.DB
}

// NewGormLeadRepository creates a new GORM lead repository
func NewGormLeadRepository(db *gorm.DB) *GormLeadRepository {
	return &GormLeadRepository{db: db}
}

// GetByID retrieves a lead by ID
func (r *GormLeadRepository) GetByID(ctx context.Context, id string) (*domain.Lead, error) {
	var lead domain.Lead
	if err := r.db.WithContext(ctx).First(&lead, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.Rejectf(domain.ErrNotFound, "lead not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}
	return &lead, nil
}

// FindByPhone resolves a lead from any of the phone variants, whatsapp_number
// first, then mobile_no. Webhook senders report numbers in inconsistent
// formats, hence the variant list.
func (r *GormLeadRepository) FindByPhone(ctx context.Context, variants []string) (*domain.Lead, error) {
	if len(variants) == 0 {
		return nil, domain.Reject(domain.ErrInvalidInput, "no phone variants to match")
	}

	var lead domain.Lead
	err := r.db.WithContext(ctx).First(&lead, "whatsapp_number IN ?", variants).Error
	if err == nil {
		return &lead, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to find lead by whatsapp number: %w", err)
	}

	err = r.db.WithContext(ctx).First(&lead, "mobile_no IN ?", variants).Error
	if err == nil {
		return &lead, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.Rejectf(domain.ErrNotFound, "no lead for phone %s", variants[0])
	}
	return nil, fmt.Errorf("failed to find lead by mobile number: %w", err)
}

// SetCallPermissionStatus updates the denormalized permission status column
func (r *GormLeadRepository) SetCallPermissionStatus(ctx context.Context, leadID string, status domain.PermissionStatus) error {
	if err := r.db.WithContext(ctx).Model(&domain.Lead{}).
		Where("id = ?", leadID).
		Update("whatsapp_call_permission_status", status).Error; err != nil {
		return fmt.Errorf("failed to update lead permission status: %w", err)
	}
	return nil
}

// RecordMessageActivity stamps the last message time and bumps the lifetime
// message counter.
func (r *GormLeadRepository) RecordMessageActivity(ctx context.Context, leadID string, at time.Time) error {
	if err := r.db.WithContext(ctx).Model(&domain.Lead{}).
		Where("id = ?", leadID).
		Updates(map[string]interface{}{
			"last_whatsapp_message":   at,
			"total_whatsapp_messages": gorm.Expr("total_whatsapp_messages + 1"),
		}).Error; err != nil {
		return fmt.Errorf("failed to record lead message activity: %w", err)
	}
	return nil
}

// RecordCallActivity stamps the last call time and bumps the lifetime call
// counter.
func (r *GormLeadRepository) RecordCallActivity(ctx context.Context, leadID string, at time.Time) error {
	if err := r.db.WithContext(ctx).Model(&domain.Lead{}).
		Where("id = ?", leadID).
		Updates(map[string]interface{}{
			"last_whatsapp_call":   at,
			"total_whatsapp_calls": gorm.Expr("total_whatsapp_calls + 1"),
		}).Error; err != nil {
		return fmt.Errorf("failed to record lead call activity: %w", err)
	}
	return nil
}
