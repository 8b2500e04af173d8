package usage

import (
	"context"
	"time"

	adapters "github.com/waluebiz/whatsapp-crm-service/internal/adapters/http"
	"github.com/waluebiz/whatsapp-crm-service/internal/domain"
	"github.com/waluebiz/whatsapp-crm-service/internal/repository"
	"github.com/waluebiz/whatsapp-crm-service/pkg/logger"
	"go.uber.org/zap"
)

// Service aggregates call and message usage over a trailing window and
// reports it to the provider for billing. Aggregates only; no per-customer
// data leaves the system.
type Service struct {
	repos    repository.RepositoryManager
	provider adapters.ProviderAPI

	now func() time.Time
}

// NewService creates a usage service
func NewService(repos repository.RepositoryManager, provider adapters.ProviderAPI) *Service {
	return &Service{
		repos:    repos,
		provider: provider,
		now:      time.Now,
	}
}

// Summary is the usage aggregate for one reporting window.
type Summary struct {
	PeriodStart          time.Time `json:"period_start"`
	PeriodEnd            time.Time `json:"period_end"`
	CallCount            int64     `json:"call_count"`
	CallDurationSeconds  int64     `json:"call_duration_seconds"`
	OutboundMessageCount int64     `json:"outbound_message_count"`
}

// Collect computes the usage aggregate for the trailing reporting window.
func (s *Service) Collect(ctx context.Context) (*Summary, error) {
	end := s.now()
	start := end.Add(-domain.UsageReportWindow)

	callCount, err := s.repos.CallLogs().CountSince(ctx, start)
	if err != nil {
		return nil, err
	}
	duration, err := s.repos.CallLogs().SumDurationSince(ctx, start)
	if err != nil {
		return nil, err
	}
	messages, err := s.repos.MessageLogs().CountOutboundSince(ctx, start)
	if err != nil {
		return nil, err
	}

	return &Summary{
		PeriodStart:          start,
		PeriodEnd:            end,
		CallCount:            callCount,
		CallDurationSeconds:  duration,
		OutboundMessageCount: messages,
	}, nil
}

// Report collects the trailing window and pushes it to the provider. Windows
// with zero activity are skipped entirely.
func (s *Service) Report(ctx context.Context) (bool, error) {
	summary, err := s.Collect(ctx)
	if err != nil {
		return false, err
	}

	if summary.CallCount == 0 && summary.CallDurationSeconds == 0 && summary.OutboundMessageCount == 0 {
		logger.Base().Debug("No usage in reporting window, skipping report")
		return false, nil
	}

	report := &adapters.UsageReport{
		PeriodStart:          summary.PeriodStart,
		PeriodEnd:            summary.PeriodEnd,
		CallCount:            summary.CallCount,
		CallDurationSeconds:  summary.CallDurationSeconds,
		OutboundMessageCount: summary.OutboundMessageCount,
	}
	if err := s.provider.ReportUsage(ctx, report); err != nil {
		return false, err
	}

	logger.Base().Info("Usage reported to provider",
		zap.Int64("calls", summary.CallCount),
		zap.Int64("call_duration_seconds", summary.CallDurationSeconds),
		zap.Int64("outbound_messages", summary.OutboundMessageCount))
	return true, nil
}
