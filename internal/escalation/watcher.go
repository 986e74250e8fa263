package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/safewalk-io/safewalk/internal/config"
)

// QuotaResetter rolls every user's weekly SMS counter back to zero.
type QuotaResetter interface {
	ResetWeeklySMS(ctx context.Context) (int64, error)
}

// RetentionPurger strips payload content from completed check-ins past the
// retention window.
type RetentionPurger interface {
	PurgeCompleted(ctx context.Context, window time.Duration) (int64, error)
}

// EphemeralPurger deletes expired ephemeral contact rows. Expiry is already
// enforced lazily on every read; this only reclaims storage.
type EphemeralPurger interface {
	PurgeExpiredEphemeral(ctx context.Context) (int64, error)
}

// Weekly SMS counters reset at the start of Monday; the retention purge runs
// nightly off-peak.
const (
	smsResetPattern = "0 0 * * 1"
	purgePattern    = "30 3 * * *"
)

// Watcher owns the background cron jobs: the deadline scan, the weekly SMS
// quota reset, and the nightly retention purge.
type Watcher struct {
	engine          *Engine
	quota           QuotaResetter
	purger          RetentionPurger
	ephemeral       EphemeralPurger
	cron            *cron.Cron
	scanInterval    time.Duration
	retentionWindow time.Duration
	logger          *slog.Logger
}

func NewWatcher(log *slog.Logger, cfg config.CheckInConfig, engine *Engine, quota QuotaResetter, purger RetentionPurger, ephemeral EphemeralPurger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	scanInterval, err := time.ParseDuration(cfg.WatchInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid watch_interval: %w", err)
	}
	if scanInterval < time.Second {
		return nil, fmt.Errorf("watch_interval must be at least 1s, got %s", cfg.WatchInterval)
	}
	retentionWindow, err := time.ParseDuration(cfg.RetentionWindow)
	if err != nil {
		return nil, fmt.Errorf("invalid retention_window: %w", err)
	}
	return &Watcher{
		engine:          engine,
		quota:           quota,
		purger:          purger,
		ephemeral:       ephemeral,
		cron:            cron.New(),
		scanInterval:    scanInterval,
		retentionWindow: retentionWindow,
		logger:          log.With(slog.String("service", "watcher")),
	}, nil
}

// Start registers the jobs and starts the cron scheduler.
func (w *Watcher) Start() error {
	if _, err := w.cron.AddFunc(fmt.Sprintf("@every %s", w.scanInterval), w.scanDue); err != nil {
		return fmt.Errorf("schedule deadline scan: %w", err)
	}
	if _, err := w.cron.AddFunc(smsResetPattern, w.resetSMSQuota); err != nil {
		return fmt.Errorf("schedule sms reset: %w", err)
	}
	if _, err := w.cron.AddFunc(purgePattern, w.purgeCompleted); err != nil {
		return fmt.Errorf("schedule retention purge: %w", err)
	}
	w.cron.Start()
	w.logger.Info("watcher started", slog.Duration("scan_interval", w.scanInterval))
	return nil
}

// Stop halts the scheduler and waits for running jobs to finish.
func (w *Watcher) Stop(ctx context.Context) error {
	done := w.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Watcher) scanDue() {
	ctx, cancel := context.WithTimeout(context.Background(), w.scanInterval)
	defer cancel()
	escalated, err := w.engine.ScanDue(ctx)
	if err != nil {
		w.logger.Error("deadline scan failed", slog.Any("error", err))
		return
	}
	if escalated > 0 {
		w.logger.Info("deadline scan escalated check-ins", slog.Int("count", escalated))
	}
}

func (w *Watcher) resetSMSQuota() {
	if w.quota == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	affected, err := w.quota.ResetWeeklySMS(ctx)
	if err != nil {
		w.logger.Error("weekly sms reset failed", slog.Any("error", err))
		return
	}
	w.logger.Info("weekly sms quota reset", slog.Int64("users", affected))
}

func (w *Watcher) purgeCompleted() {
	if w.purger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	purged, err := w.purger.PurgeCompleted(ctx, w.retentionWindow)
	if err != nil {
		w.logger.Error("retention purge failed", slog.Any("error", err))
		return
	}
	if purged > 0 {
		w.logger.Info("retention purge stripped check-ins", slog.Int64("count", purged))
	}

	if w.ephemeral == nil {
		return
	}
	deleted, err := w.ephemeral.PurgeExpiredEphemeral(ctx)
	if err != nil {
		w.logger.Error("ephemeral contact purge failed", slog.Any("error", err))
		return
	}
	if deleted > 0 {
		w.logger.Info("expired ephemeral contacts deleted", slog.Int64("count", deleted))
	}
}
