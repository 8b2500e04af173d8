package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/waluebiz/whatsapp-crm-service/internal/domain"
)

// In-memory repository implementations backing the unit tests. They mirror
// the GORM repos' error semantics (domain.ErrNotFound, domain.ErrDuplicate)
// so services behave identically against either backend.

// MemoryRepositoryManager implements RepositoryManager with in-process maps
type MemoryRepositoryManager struct {
	leads       *MemoryLeadRepository
	permissions *MemoryCallPermissionRepository
	messages    *MemoryMessageLogRepository
	calls       *MemoryCallLogRepository
	templates   *MemoryTemplateRepository
}

// NewMemoryRepositoryManager creates an empty in-memory repository manager
func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{
		leads:       NewMemoryLeadRepository(),
		permissions: NewMemoryCallPermissionRepository(),
		messages:    NewMemoryMessageLogRepository(),
		calls:       NewMemoryCallLogRepository(),
		templates:   NewMemoryTemplateRepository(),
	}
}

func (m *MemoryRepositoryManager) Leads() LeadRepository                     { return m.leads }
func (m *MemoryRepositoryManager) CallPermissions() CallPermissionRepository { return m.permissions }
func (m *MemoryRepositoryManager) MessageLogs() MessageLogRepository         { return m.messages }
func (m *MemoryRepositoryManager) CallLogs() CallLogRepository               { return m.calls }
func (m *MemoryRepositoryManager) Templates() TemplateRepository             { return m.templates }

// WithTx runs fn against the same repositories; the in-memory backend has no
// transactional isolation.
func (m *MemoryRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, repos RepositoryManager) error) error {
	return fn(ctx, m)
}

func (m *MemoryRepositoryManager) Ping(ctx context.Context) error { return nil }
func (m *MemoryRepositoryManager) Close() error                   { return nil }

// SeedLead inserts a lead directly, for test setup
func (m *MemoryRepositoryManager) SeedLead(lead *domain.Lead) {
	m.leads.mu.Lock()
	defer m.leads.mu.Unlock()
	cp := *lead
	m.leads.leads[lead.ID] = &cp
}

// MemoryLeadRepository is the map-backed LeadRepository
type MemoryLeadRepository struct {
	mu    sync.RWMutex
	leads map[string]*domain.Lead
}

func NewMemoryLeadRepository() *MemoryLeadRepository {
	return &MemoryLeadRepository{leads: make(map[string]*domain.Lead)}
}

func (r *MemoryLeadRepository) GetByID(ctx context.Context, id string) (*domain.Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lead, ok := r.leads[id]
	if !ok {
		return nil, domain.Rejectf(domain.ErrNotFound, "lead not found: %s", id)
	}
	cp := *lead
	return &cp, nil
}

func (r *MemoryLeadRepository) FindByPhone(ctx context.Context, variants []string) (*domain.Lead, error) {
	if len(variants) == 0 {
		return nil, domain.Reject(domain.ErrInvalidInput, "no phone variants to match")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range variants {
		for _, lead := range r.leads {
			if lead.WhatsAppNumber == v {
				cp := *lead
				return &cp, nil
			}
		}
	}
	for _, v := range variants {
		for _, lead := range r.leads {
			if lead.MobileNo == v {
				cp := *lead
				return &cp, nil
			}
		}
	}
	return nil, domain.Rejectf(domain.ErrNotFound, "no lead for phone %s", variants[0])
}

func (r *MemoryLeadRepository) SetCallPermissionStatus(ctx context.Context, leadID string, status domain.PermissionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lead, ok := r.leads[leadID]; ok {
		lead.WhatsAppCallPermissionStatus = status
	}
	return nil
}

func (r *MemoryLeadRepository) RecordMessageActivity(ctx context.Context, leadID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lead, ok := r.leads[leadID]; ok {
		t := at
		lead.LastWhatsAppMessage = &t
		lead.TotalWhatsAppMessages++
	}
	return nil
}

func (r *MemoryLeadRepository) RecordCallActivity(ctx context.Context, leadID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lead, ok := r.leads[leadID]; ok {
		t := at
		lead.LastWhatsAppCall = &t
		lead.TotalWhatsAppCalls++
	}
	return nil
}

// MemoryCallPermissionRepository is the map-backed CallPermissionRepository
type MemoryCallPermissionRepository struct {
	mu          sync.Mutex
	permissions map[string]*domain.CallPermission
}

func NewMemoryCallPermissionRepository() *MemoryCallPermissionRepository {
	return &MemoryCallPermissionRepository{permissions: make(map[string]*domain.CallPermission)}
}

func (r *MemoryCallPermissionRepository) Create(ctx context.Context, permission *domain.CallPermission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.permissions {
		if p.LeadID == permission.LeadID {
			return domain.Rejectf(domain.ErrDuplicate, "permission already exists for lead %s", permission.LeadID)
		}
	}
	cp := *permission
	r.permissions[permission.ID] = &cp
	return nil
}

func (r *MemoryCallPermissionRepository) GetByID(ctx context.Context, id string) (*domain.CallPermission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.permissions[id]
	if !ok {
		return nil, domain.Rejectf(domain.ErrNotFound, "call permission not found: %s", id)
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryCallPermissionRepository) GetByLead(ctx context.Context, leadID string) (*domain.CallPermission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.permissions {
		if p.LeadID == leadID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.Rejectf(domain.ErrNotFound, "no call permission for lead %s", leadID)
}

func (r *MemoryCallPermissionRepository) GetRequestedByPhone(ctx context.Context, variants []string) (*domain.CallPermission, error) {
	if len(variants) == 0 {
		return nil, domain.Reject(domain.ErrInvalidInput, "no phone variants to match")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var newest *domain.CallPermission
	for _, p := range r.permissions {
		if p.Status != domain.PermissionStatusRequested {
			continue
		}
		for _, v := range variants {
			if p.PhoneNumber == v {
				if newest == nil || later(p.LastRequestSentAt, newest.LastRequestSentAt) {
					newest = p
				}
			}
		}
	}
	if newest == nil {
		return nil, domain.Rejectf(domain.ErrNotFound, "no pending permission request for phone %s", variants[0])
	}
	cp := *newest
	return &cp, nil
}

func (r *MemoryCallPermissionRepository) UpdateLocked(ctx context.Context, id string, fn func(p *domain.CallPermission) error) (*domain.CallPermission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.permissions[id]
	if !ok {
		return nil, domain.Rejectf(domain.ErrNotFound, "call permission not found: %s", id)
	}
	work := *p
	if err := fn(&work); err != nil {
		return nil, err
	}
	r.permissions[id] = &work
	cp := work
	return &cp, nil
}

func (r *MemoryCallPermissionRepository) ListExpired(ctx context.Context, now time.Time) ([]*domain.CallPermission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []*domain.CallPermission
	for _, p := range r.permissions {
		if p.IsExpired(now) {
			cp := *p
			expired = append(expired, &cp)
		}
	}
	return expired, nil
}

func (r *MemoryCallPermissionRepository) ResetDailyCounters(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, p := range r.permissions {
		if p.RequestCount24h > 0 || p.CallsMadeCount > 0 {
			p.RequestCount24h = 0
			p.CallsMadeCount = 0
			n++
		}
	}
	return n, nil
}

func (r *MemoryCallPermissionRepository) ResetWeeklyCounters(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, p := range r.permissions {
		if p.RequestCount7d > 0 {
			p.RequestCount7d = 0
			n++
		}
	}
	return n, nil
}

// MemoryMessageLogRepository is the map-backed MessageLogRepository
type MemoryMessageLogRepository struct {
	mu       sync.Mutex
	messages map[string]*domain.MessageLog
}

func NewMemoryMessageLogRepository() *MemoryMessageLogRepository {
	return &MemoryMessageLogRepository{messages: make(map[string]*domain.MessageLog)}
}

func (r *MemoryMessageLogRepository) Create(ctx context.Context, msg *domain.MessageLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.MessageID != "" {
		for _, m := range r.messages {
			if m.MessageID == msg.MessageID {
				return domain.Rejectf(domain.ErrDuplicate, "message %s already recorded", msg.MessageID)
			}
		}
	}
	cp := *msg
	r.messages[msg.ID] = &cp
	return nil
}

func (r *MemoryMessageLogRepository) GetByID(ctx context.Context, id string) (*domain.MessageLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, domain.Rejectf(domain.ErrNotFound, "message log not found: %s", id)
	}
	cp := *m
	return &cp, nil
}

func (r *MemoryMessageLogRepository) GetByMessageID(ctx context.Context, messageID string) (*domain.MessageLog, error) {
	if messageID == "" {
		return nil, domain.Reject(domain.ErrInvalidInput, "empty message id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.MessageID == messageID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, domain.Rejectf(domain.ErrNotFound, "no message log for message id %s", messageID)
}

func (r *MemoryMessageLogRepository) ExistsByMessageID(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.MessageID == messageID {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryMessageLogRepository) UpdateLocked(ctx context.Context, id string, fn func(m *domain.MessageLog) error) (*domain.MessageLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, domain.Rejectf(domain.ErrNotFound, "message log not found: %s", id)
	}
	work := *m
	if err := fn(&work); err != nil {
		return nil, err
	}
	r.messages[id] = &work
	cp := work
	return &cp, nil
}

func (r *MemoryMessageLogRepository) LastInboundAfter(ctx context.Context, variants []string, cutoff time.Time) (*domain.MessageLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var newest *domain.MessageLog
	for _, m := range r.messages {
		if m.Direction != domain.DirectionInbound || m.SentAt == nil || !m.SentAt.After(cutoff) {
			continue
		}
		for _, v := range variants {
			if m.FromNumber == v {
				if newest == nil || m.SentAt.After(*newest.SentAt) {
					newest = m
				}
			}
		}
	}
	if newest == nil {
		return nil, nil
	}
	cp := *newest
	return &cp, nil
}

func (r *MemoryMessageLogRepository) ListByLead(ctx context.Context, leadID string, limit int) ([]*domain.MessageLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var msgs []*domain.MessageLog
	for _, m := range r.messages {
		if m.LeadID == leadID {
			cp := *m
			msgs = append(msgs, &cp)
		}
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.After(msgs[j].CreatedAt) })
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (r *MemoryMessageLogRepository) ListPendingSent(ctx context.Context, cutoff time.Time, limit int) ([]*domain.MessageLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var msgs []*domain.MessageLog
	for _, m := range r.messages {
		if m.Direction == domain.DirectionOutbound && m.Status == domain.MessageStatusSent &&
			m.MessageID != "" && m.SentAt != nil && m.SentAt.Before(cutoff) {
			cp := *m
			msgs = append(msgs, &cp)
		}
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].SentAt.Before(*msgs[j].SentAt) })
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (r *MemoryMessageLogRepository) CountOutboundSince(ctx context.Context, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, m := range r.messages {
		if m.Direction == domain.DirectionOutbound && m.SentAt != nil && !m.SentAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// MemoryCallLogRepository is the map-backed CallLogRepository
type MemoryCallLogRepository struct {
	mu    sync.Mutex
	calls map[string]*domain.CallLog
}

func NewMemoryCallLogRepository() *MemoryCallLogRepository {
	return &MemoryCallLogRepository{calls: make(map[string]*domain.CallLog)}
}

func (r *MemoryCallLogRepository) Create(ctx context.Context, call *domain.CallLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *call
	r.calls[call.ID] = &cp
	return nil
}

func (r *MemoryCallLogRepository) GetByID(ctx context.Context, id string) (*domain.CallLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return nil, domain.Rejectf(domain.ErrNotFound, "call log not found: %s", id)
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryCallLogRepository) GetBySessionID(ctx context.Context, sessionID string) (*domain.CallLog, error) {
	if sessionID == "" {
		return nil, domain.Reject(domain.ErrInvalidInput, "empty call session id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.CallSessionID == sessionID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.Rejectf(domain.ErrNotFound, "no call log for session %s", sessionID)
}

func (r *MemoryCallLogRepository) UpdateLocked(ctx context.Context, id string, fn func(c *domain.CallLog) error) (*domain.CallLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return nil, domain.Rejectf(domain.ErrNotFound, "call log not found: %s", id)
	}
	work := *c
	if err := fn(&work); err != nil {
		return nil, err
	}
	r.calls[id] = &work
	cp := work
	return &cp, nil
}

func (r *MemoryCallLogRepository) ListByLead(ctx context.Context, leadID string, limit int) ([]*domain.CallLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var calls []*domain.CallLog
	for _, c := range r.calls {
		if c.LeadID == leadID {
			cp := *c
			calls = append(calls, &cp)
		}
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].StartedAt.After(calls[j].StartedAt) })
	if limit > 0 && len(calls) > limit {
		calls = calls[:limit]
	}
	return calls, nil
}

func (r *MemoryCallLogRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, c := range r.calls {
		if !c.StartedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (r *MemoryCallLogRepository) SumDurationSince(ctx context.Context, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, c := range r.calls {
		if !c.StartedAt.Before(since) {
			total += int64(c.DurationSeconds)
		}
	}
	return total, nil
}

// MemoryTemplateRepository is the map-backed TemplateRepository
type MemoryTemplateRepository struct {
	mu        sync.Mutex
	templates map[string]*domain.WhatsAppTemplate
}

func NewMemoryTemplateRepository() *MemoryTemplateRepository {
	return &MemoryTemplateRepository{templates: make(map[string]*domain.WhatsAppTemplate)}
}

func (r *MemoryTemplateRepository) Upsert(ctx context.Context, tpl *domain.WhatsAppTemplate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *tpl
	if existing, ok := r.templates[tpl.TemplateName]; ok {
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
	}
	r.templates[tpl.TemplateName] = &cp
	return nil
}

func (r *MemoryTemplateRepository) GetByName(ctx context.Context, name string) (*domain.WhatsAppTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tpl, ok := r.templates[name]
	if !ok {
		return nil, domain.Rejectf(domain.ErrNotFound, "template not found: %s", name)
	}
	cp := *tpl
	return &cp, nil
}

func (r *MemoryTemplateRepository) ListApproved(ctx context.Context) ([]*domain.WhatsAppTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var templates []*domain.WhatsAppTemplate
	for _, tpl := range r.templates {
		if tpl.Status == domain.TemplateStatusApproved {
			cp := *tpl
			templates = append(templates, &cp)
		}
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].TemplateName < templates[j].TemplateName })
	return templates, nil
}

func (r *MemoryTemplateRepository) ListAll(ctx context.Context) ([]*domain.WhatsAppTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var templates []*domain.WhatsAppTemplate
	for _, tpl := range r.templates {
		cp := *tpl
		templates = append(templates, &cp)
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].TemplateName < templates[j].TemplateName })
	return templates, nil
}

func later(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}
