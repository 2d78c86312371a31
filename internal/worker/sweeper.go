package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/presencepro/platform/internal/service"
	"github.com/presencepro/platform/pkg/config"
)

// Sweeper runs the periodic maintenance jobs: re-queueing due retries,
// compiling digests and reports, and purging expired rows. Redis leases keep
// each job single-flight across notifier replicas.
type Sweeper struct {
	notifications *service.NotificationService
	dispatch      *service.DispatchService
	metrics       *service.MetricsService
	rdb           *redis.Client
	logger        *zap.Logger
	cfg           config.NotifierConfig
}

// NewSweeper constructs a Sweeper instance.
func NewSweeper(
	notifications *service.NotificationService,
	dispatch *service.DispatchService,
	metrics *service.MetricsService,
	rdb *redis.Client,
	logger *zap.Logger,
	cfg config.NotifierConfig,
) *Sweeper {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.SweepLeaseTTL <= 0 {
		cfg.SweepLeaseTTL = 30 * time.Second
	}
	return &Sweeper{
		notifications: notifications,
		dispatch:      dispatch,
		metrics:       metrics,
		rdb:           rdb,
		logger:        logger,
		cfg:           cfg,
	}
}

// Run blocks until the context is cancelled, ticking every sweep interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", zap.Duration("interval", s.cfg.SweepInterval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	now := time.Now().UTC()

	s.runLeased(ctx, "retry_resubmit", leaseKey("retry", now.Format("200601021504")), s.cfg.SweepLeaseTTL, func() error {
		n, err := s.notifications.ResubmitDueRetries(ctx)
		if n > 0 {
			s.logger.Info("resubmitted due retries", zap.Int("count", n))
		}
		return err
	})

	if now.Hour() == s.cfg.DigestHour {
		s.runLeased(ctx, "daily_digest", leaseKey("digest", now.Format("20060102")), dailyLeaseTTL, func() error {
			n, err := s.notifications.CompileDigests(ctx)
			s.logger.Info("compiled daily digests", zap.Int("count", n))
			return err
		})

		if now.Weekday() == time.Monday {
			s.runLeased(ctx, "weekly_report", leaseKey("weekly", now.Format("20060102")), dailyLeaseTTL, func() error {
				n, err := s.notifications.CompileWeeklyReports(ctx)
				s.logger.Info("compiled weekly reports", zap.Int("count", n))
				return err
			})
		}
	}

	if now.Hour() == 3 {
		s.runLeased(ctx, "retention_cleanup", leaseKey("cleanup", now.Format("20060102")), dailyLeaseTTL, func() error {
			tasks, err := s.notifications.Cleanup(ctx)
			if err != nil {
				return err
			}
			events, err := s.dispatch.Cleanup(ctx)
			if err != nil {
				return err
			}
			if tasks > 0 || events > 0 {
				s.logger.Info("purged expired rows", zap.Int64("notifications", tasks), zap.Int64("events", events))
			}
			return nil
		})
	}
}

// dailyLeaseTTL outlives the day so a date-scoped job that already ran is
// not repeated by a replica ticking later in the same window.
const dailyLeaseTTL = 25 * time.Hour

// runLeased executes job only if this replica wins the lease.
func (s *Sweeper) runLeased(ctx context.Context, name, key string, ttl time.Duration, job func() error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		s.logger.Warn("sweep lease check failed", zap.String("job", name), zap.Error(err))
		s.record(name, "lease_error")
		return
	}
	if !ok {
		return
	}

	if err := job(); err != nil {
		s.logger.Error("sweep job failed", zap.String("job", name), zap.Error(err))
		s.record(name, "error")
		return
	}
	s.record(name, "ok")
}

func (s *Sweeper) record(job, result string) {
	if s.metrics != nil {
		s.metrics.RecordSweep(job, result)
	}
}

func leaseKey(job, window string) string {
	return fmt.Sprintf("sweep:lease:%s:%s", job, window)
}
