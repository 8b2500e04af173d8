package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/waluebiz/whatsapp-crm-service/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormTemplateRepository implements TemplateRepository using GORM
type GormTemplateRepository struct {
	db *gorm.DB
}

// NewGormTemplateRepository creates a new GORM template repository
func NewGormTemplateRepository(db *gorm.DB) *GormTemplateRepository {
	return &GormTemplateRepository{db: db}
}

// Upsert inserts or refreshes a template row keyed by template_name
func (r *GormTemplateRepository) Upsert(ctx context.Context, tpl *domain.WhatsAppTemplate) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "template_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"category", "language", "status", "components", "last_synced", "updated_at",
		}),
	}).Create(tpl).Error
	if err != nil {
		return fmt.Errorf("failed to upsert template: %w", err)
	}
	return nil
}

// GetByName retrieves a template by name
func (r *GormTemplateRepository) GetByName(ctx context.Context, name string) (*domain.WhatsAppTemplate, error) {
	var tpl domain.WhatsAppTemplate
	if err := r.db.WithContext(ctx).First(&tpl, "template_name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.Rejectf(domain.ErrNotFound, "template not found: %s", name)
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return &tpl, nil
}

// ListApproved retrieves all approved templates
func (r *GormTemplateRepository) ListApproved(ctx context.Context) ([]*domain.WhatsAppTemplate, error) {
	var templates []*domain.WhatsAppTemplate
	if err := r.db.WithContext(ctx).
		Where("status = ?", domain.TemplateStatusApproved).
		Order("template_name ASC").
		Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("failed to list approved templates: %w", err)
	}
	return templates, nil
}

// ListAll retrieves all cached templates
func (r *GormTemplateRepository) ListAll(ctx context.Context) ([]*domain.WhatsAppTemplate, error) {
	var templates []*domain.WhatsAppTemplate
	if err := r.db.WithContext(ctx).
		Order("template_name ASC").
		Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return templates, nil
}
