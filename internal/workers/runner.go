package workers

import (
	"context"
	"time"

	"github.com/waluebiz/whatsapp-crm-service/internal/config"
	"github.com/waluebiz/whatsapp-crm-service/internal/services/calling"
	"github.com/waluebiz/whatsapp-crm-service/internal/services/messaging"
	"github.com/waluebiz/whatsapp-crm-service/internal/services/usage"
	"github.com/waluebiz/whatsapp-crm-service/pkg/logger"
	"go.uber.org/zap"
)

// Runner drives the scheduled jobs: status-poll fallback, template sync,
// usage reporting, permission expiry sweeps, and the calendar counter
// resets. Each job runs on its own ticker goroutine until the context ends.
type Runner struct {
	cfg       *config.Config
	messaging *messaging.Service
	calling   *calling.Service
	usage     *usage.Service
}

// NewRunner creates a worker runner
func NewRunner(cfg *config.Config, messagingSvc *messaging.Service, callingSvc *calling.Service, usageSvc *usage.Service) *Runner {
	return &Runner{
		cfg:       cfg,
		messaging: messagingSvc,
		calling:   callingSvc,
		usage:     usageSvc,
	}
}

// Start launches all worker loops. They stop when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	if r.cfg.MessagingEnabled {
		go r.loop(ctx, "message_status_poll", r.cfg.PollInterval, false, func(ctx context.Context) error {
			_, err := r.messaging.PollPendingStatuses(ctx)
			return err
		})
		go r.loop(ctx, "template_sync", r.cfg.TemplateSyncEvery, true, func(ctx context.Context) error {
			_, err := r.messaging.SyncTemplates(ctx)
			return err
		})
	}

	if r.cfg.CallingEnabled {
		go r.loop(ctx, "permission_expiry_sweep", r.cfg.ExpirySweepEvery, true, func(ctx context.Context) error {
			_, err := r.calling.SweepExpired(ctx)
			return err
		})
		go r.loop(ctx, "daily_counter_reset", r.cfg.DailyResetEvery, false, func(ctx context.Context) error {
			_, err := r.calling.ResetDailyCounters(ctx)
			return err
		})
		go r.loop(ctx, "weekly_counter_reset", r.cfg.WeeklyResetEvery, false, func(ctx context.Context) error {
			_, err := r.calling.ResetWeeklyCounters(ctx)
			return err
		})
	}

	go r.loop(ctx, "usage_report", r.cfg.UsageReportEvery, false, func(ctx context.Context) error {
		_, err := r.usage.Report(ctx)
		return err
	})

	logger.Base().Info("workers started",
		zap.Duration("poll_interval", r.cfg.PollInterval),
		zap.Duration("template_sync_interval", r.cfg.TemplateSyncEvery),
		zap.Duration("usage_report_interval", r.cfg.UsageReportEvery),
		zap.Duration("expiry_sweep_interval", r.cfg.ExpirySweepEvery))
}

// loop runs job on a fixed ticker. runOnStart triggers an immediate first
// run; counter resets and usage reports wait for their first full interval.
func (r *Runner) loop(ctx context.Context, name string, interval time.Duration, runOnStart bool, job func(ctx context.Context) error) {
	if interval <= 0 {
		logger.Base().Warn("worker disabled by non-positive interval", zap.String("worker", name))
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run := func() {
		if err := job(ctx); err != nil {
			logger.Base().Error("worker run failed",
				zap.String("worker", name),
				zap.Error(err))
		}
	}

	if runOnStart {
		run()
	}

	for {
		select {
		case <-ctx.Done():
			logger.Base().Info("worker stopping", zap.String("worker", name))
			return
		case <-ticker.C:
			run()
		}
	}
}
