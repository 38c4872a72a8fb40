package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/supauth/supauth/internal/models"
	"github.com/supauth/supauth/internal/security"
	"github.com/supauth/supauth/pkg/logger"
	"github.com/supauth/supauth/pkg/metrics"
)

const (
	defaultAttemptSpec = "@hourly"
	defaultDeviceSpec  = "@daily"
)

// Cleaner coordinates background maintenance: purging aged rate-limit
// attempts and removing expired trusted devices.
type Cleaner struct {
	db      *gorm.DB
	limiter *security.RateLimiter
	cron    *cron.Cron
	now     func() time.Time
	log     *zap.Logger

	attemptSchedule string
	deviceSchedule  string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithAttemptSchedule overrides the cron specification for rate-limit sweeps.
func WithAttemptSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.attemptSchedule = spec
		}
	}
}

// WithDeviceSchedule overrides the cron specification for device sweeps.
func WithDeviceSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.deviceSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults.
func NewCleaner(db *gorm.DB, limiter *security.RateLimiter, opts ...Option) (*Cleaner, error) {
	if db == nil {
		return nil, errors.New("maintenance: db is required")
	}
	if limiter == nil {
		return nil, errors.New("maintenance: rate limiter is required")
	}

	cleaner := &Cleaner{
		db:              db,
		limiter:         limiter,
		now:             time.Now,
		attemptSchedule: defaultAttemptSpec,
		deviceSchedule:  defaultDeviceSpec,
		log:             logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner, nil
}

// Start registers cleanup jobs with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if _, err := c.cron.AddFunc(c.attemptSchedule, func() {
		if _, err := c.limiter.CleanupExpired(context.Background()); err != nil {
			c.log.Warn("rate-limit attempt cleanup failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	if _, err := c.cron.AddFunc(c.deviceSchedule, func() {
		if _, err := CleanupExpiredDevices(context.Background(), c.db, c.now()); err != nil {
			c.log.Warn("trusted device cleanup failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all cleanup routines sequentially. Used in tests and
// during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if _, err := c.limiter.CleanupExpired(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}

	if _, err := CleanupExpiredDevices(ctx, c.db, c.now()); err != nil {
		errs = multierr.Append(errs, err)
	}

	return errs
}

// CleanupExpiredDevices removes trusted devices past their expiry and
// refreshes the live-devices gauge.
func CleanupExpiredDevices(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("cleanup devices: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.TrustedDevice{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup devices: %w", result.Error)
	}

	var remaining int64
	if err := db.WithContext(ctx).Model(&models.TrustedDevice{}).Count(&remaining).Error; err == nil {
		metrics.TrustedDevices.Set(float64(remaining))
	}

	return result.RowsAffected, nil
}
