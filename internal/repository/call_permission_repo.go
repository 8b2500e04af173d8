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

// GormCallPermissionRepository implements CallPermissionRepository using GORM
type GormCallPermissionRepository struct {
	db *gorm.DB
}

// NewGormCallPermissionRepository creates a new GORM call permission repository
func NewGormCallPermissionRepository(db *gorm.DB) *GormCallPermissionRepository {
	return &GormCallPermissionRepository{db: db}
}

// Create creates a new call permission record
func (r *GormCallPermissionRepository) Create(ctx context.Context, permission *domain.CallPermission) error {
	if err := r.db.WithContext(ctx).Create(permission).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.Rejectf(domain.ErrDuplicate, "permission already exists for lead %s", permission.LeadID)
		}
		return fmt.Errorf("failed to create call permission: %w", err)
	}
	return nil
}

// GetByID retrieves a call permission by ID
func (r *GormCallPermissionRepository) GetByID(ctx context.Context, id string) (*domain.CallPermission, error) {
	var permission domain.CallPermission
	if err := r.db.WithContext(ctx).First(&permission, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.Rejectf(domain.ErrNotFound, "call permission not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get call permission: %w", err)
	}
	return &permission, nil
}

// GetByLead retrieves the call permission for a lead
func (r *GormCallPermissionRepository) GetByLead(ctx context.Context, leadID string) (*domain.CallPermission, error) {
	var permission domain.CallPermission
	if err := r.db.WithContext(ctx).First(&permission, "lead_id = ?", leadID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.Rejectf(domain.ErrNotFound, "no call permission for lead %s", leadID)
		}
		return nil, fmt.Errorf("failed to get call permission by lead: %w", err)
	}
	return &permission, nil
}

// GetRequestedByPhone finds the pending (requested) permission for any of the
// phone variants. Permission replies arrive keyed by phone, not by lead.
func (r *GormCallPermissionRepository) GetRequestedByPhone(ctx context.Context, variants []string) (*domain.CallPermission, error) {
	if len(variants) == 0 {
		return nil, domain.Reject(domain.ErrInvalidInput, "no phone variants to match")
	}

	var permission domain.CallPermission
	err := r.db.WithContext(ctx).
		Where("phone_number IN ? AND status = ?", variants, domain.PermissionStatusRequested).
		Order("last_request_sent_at DESC").
		First(&permission).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.Rejectf(domain.ErrNotFound, "no pending permission request for phone %s", variants[0])
		}
		return nil, fmt.Errorf("failed to get pending permission by phone: %w", err)
	}
	return &permission, nil
}

// UpdateLocked applies fn to the row under SELECT ... FOR UPDATE so limit
// checks and counter increments cannot race concurrent webhooks or requests.
func (r *GormCallPermissionRepository) UpdateLocked(ctx context.Context, id string, fn func(p *domain.CallPermission) error) (*domain.CallPermission, error) {
	var permission domain.CallPermission
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&permission, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.Rejectf(domain.ErrNotFound, "call permission not found: %s", id)
			}
			return fmt.Errorf("failed to lock call permission: %w", err)
		}
		if err := fn(&permission); err != nil {
			return err
		}
		if err := tx.Save(&permission).Error; err != nil {
			return fmt.Errorf("failed to save call permission: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &permission, nil
}

// ListExpired returns granted permissions whose expiry has passed
func (r *GormCallPermissionRepository) ListExpired(ctx context.Context, now time.Time) ([]*domain.CallPermission, error) {
	var permissions []*domain.CallPermission
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", domain.PermissionStatusGranted, now).
		Find(&permissions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expired permissions: %w", err)
	}
	return permissions, nil
}

// ResetDailyCounters zeroes the 24h request counters and the per-grant call
// counters across all permission rows, returning the number touched.
func (r *GormCallPermissionRepository) ResetDailyCounters(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Model(&domain.CallPermission{}).
		Where("request_count_24h > 0 OR calls_made_count > 0").
		Updates(map[string]interface{}{
			"request_count_24h": 0,
			"calls_made_count":  0,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reset daily counters: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ResetWeeklyCounters zeroes the 7d request counters across all permission
// rows, returning the number touched.
func (r *GormCallPermissionRepository) ResetWeeklyCounters(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Model(&domain.CallPermission{}).
		Where("request_count_7d > 0").
		Update("request_count_7d", 0)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reset weekly counters: %w", result.Error)
	}
	return result.RowsAffected, nil
}
