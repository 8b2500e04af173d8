package repository

import (
	"context"
	"time"

	"github.com/waluebiz/whatsapp-crm-service/internal/domain"
	"gorm.io/gorm"
)

// LeadRepository defines read access to CRM leads plus the denormalized
// WhatsApp summary columns this service maintains on them.
type LeadRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Lead, error)

	// FindByPhone resolves a lead from any of the given phone variants,
	// matching whatsapp_number first and falling back to mobile_no.
	FindByPhone(ctx context.Context, variants []string) (*domain.Lead, error)

	SetCallPermissionStatus(ctx context.Context, leadID string, status domain.PermissionStatus) error
	RecordMessageActivity(ctx context.Context, leadID string, at time.Time) error
	RecordCallActivity(ctx context.Context, leadID string, at time.Time) error
}

// CallPermissionRepository defines the interface for call permission operations
type CallPermissionRepository interface {
	Create(ctx context.Context, permission *domain.CallPermission) error
	GetByID(ctx context.Context, id string) (*domain.CallPermission, error)
	GetByLead(ctx context.Context, leadID string) (*domain.CallPermission, error)
	GetRequestedByPhone(ctx context.Context, variants []string) (*domain.CallPermission, error)

	// UpdateLocked loads the row under a write lock, applies fn, and persists
	// the result in one transaction. All counter and state transitions go
	// through here.
	UpdateLocked(ctx context.Context, id string, fn func(p *domain.CallPermission) error) (*domain.CallPermission, error)

	ListExpired(ctx context.Context, now time.Time) ([]*domain.CallPermission, error)
	ResetDailyCounters(ctx context.Context) (int64, error)
	ResetWeeklyCounters(ctx context.Context) (int64, error)
}

// MessageLogRepository defines the interface for message log operations
type MessageLogRepository interface {
	// Create inserts a new message row. A unique-index collision on
	// message_id surfaces as domain.ErrDuplicate.
	Create(ctx context.Context, msg *domain.MessageLog) error
	GetByID(ctx context.Context, id string) (*domain.MessageLog, error)
	GetByMessageID(ctx context.Context, messageID string) (*domain.MessageLog, error)
	ExistsByMessageID(ctx context.Context, messageID string) (bool, error)

	UpdateLocked(ctx context.Context, id string, fn func(m *domain.MessageLog) error) (*domain.MessageLog, error)

	// LastInboundAfter returns the newest inbound message from the phone
	// since the cutoff, or nil when the conversation window is closed.
	LastInboundAfter(ctx context.Context, variants []string, cutoff time.Time) (*domain.MessageLog, error)

	ListByLead(ctx context.Context, leadID string, limit int) ([]*domain.MessageLog, error)
	ListPendingSent(ctx context.Context, cutoff time.Time, limit int) ([]*domain.MessageLog, error)
	CountOutboundSince(ctx context.Context, since time.Time) (int64, error)
}

// CallLogRepository defines the interface for call log operations
type CallLogRepository interface {
	Create(ctx context.Context, call *domain.CallLog) error
	GetByID(ctx context.Context, id string) (*domain.CallLog, error)
	GetBySessionID(ctx context.Context, sessionID string) (*domain.CallLog, error)

	UpdateLocked(ctx context.Context, id string, fn func(c *domain.CallLog) error) (*domain.CallLog, error)

	ListByLead(ctx context.Context, leadID string, limit int) ([]*domain.CallLog, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
	SumDurationSince(ctx context.Context, since time.Time) (int64, error)
}

// TemplateRepository defines the interface for template cache operations
type TemplateRepository interface {
	Upsert(ctx context.Context, tpl *domain.WhatsAppTemplate) error
	GetByName(ctx context.Context, name string) (*domain.WhatsAppTemplate, error)
	ListApproved(ctx context.Context) ([]*domain.WhatsAppTemplate, error)
	ListAll(ctx context.Context) ([]*domain.WhatsAppTemplate, error)
}

// RepositoryManager combines all repositories
type RepositoryManager interface {
	Leads() LeadRepository
	CallPermissions() CallPermissionRepository
	MessageLogs() MessageLogRepository
	CallLogs() CallLogRepository
	Templates() TemplateRepository

	// Transaction support
	WithTx(ctx context.Context, fn func(ctx context.Context, repos RepositoryManager) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connection
	Close() error
}

// GormRepositoryManager implements RepositoryManager using GORM
type GormRepositoryManager struct {
	db                 *gorm.DB
	leadRepo           *GormLeadRepository
	callPermissionRepo *GormCallPermissionRepository
	messageLogRepo     *GormMessageLogRepository
	callLogRepo        *GormCallLogRepository
	templateRepo       *GormTemplateRepository
}

// NewGormRepositoryManager creates a new GORM repository manager
func NewGormRepositoryManager(db *gorm.DB) *GormRepositoryManager {
	return &GormRepositoryManager{
		db:                 db,
		leadRepo:           NewGormLeadRepository(db),
		callPermissionRepo: NewGormCallPermissionRepository(db),
		messageLogRepo:     NewGormMessageLogRepository(db),
		callLogRepo:        NewGormCallLogRepository(db),
		templateRepo:       NewGormTemplateRepository(db),
	}
}

func (m *GormRepositoryManager) Leads() LeadRepository                     { return m.leadRepo }
func (m *GormRepositoryManager) CallPermissions() CallPermissionRepository { return m.callPermissionRepo }
func (m *GormRepositoryManager) MessageLogs() MessageLogRepository         { return m.messageLogRepo }
func (m *GormRepositoryManager) CallLogs() CallLogRepository               { return m.callLogRepo }
func (m *GormRepositoryManager) Templates() TemplateRepository             { return m.templateRepo }

// WithTx executes a function within a database transaction
func (m *GormRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, repos RepositoryManager) error) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, NewGormRepositoryManager(tx))
	})
}

// Ping checks the database connection
func (m *GormRepositoryManager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (m *GormRepositoryManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
