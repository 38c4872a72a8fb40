package security

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/supauth/supauth/internal/models"
	"github.com/supauth/supauth/pkg/logger"
	"github.com/supauth/supauth/pkg/metrics"
)

// attemptRetention bounds how long admitted attempts are kept before the
// maintenance sweep removes them. Correctness only needs the largest window;
// 24 hours keeps the table small without tuning per action.
const attemptRetention = 24 * time.Hour

// RateLimitResult reports the outcome of a CheckLimit call.
type RateLimitResult struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
}

// AttemptMeta captures request context stored with each admitted attempt.
type AttemptMeta struct {
	IPAddress string
	UserAgent string
}

// RateLimiterOption customises the RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithRateLimiterClock injects a custom time source, primarily for testing.
func WithRateLimiterClock(clock func() time.Time) RateLimiterOption {
	return func(l *RateLimiter) {
		if clock != nil {
			l.now = clock
		}
	}
}

// RateLimiter admits or denies sensitive-action attempts using a sliding
// window of persisted attempt records keyed by (identifier, action).
type RateLimiter struct {
	db  *gorm.DB
	now func() time.Time
	log *zap.Logger
}

// NewRateLimiter constructs a RateLimiter backed by the provided database.
func NewRateLimiter(db *gorm.DB, opts ...RateLimiterOption) (*RateLimiter, error) {
	if db == nil {
		return nil, errors.New("ratelimiter: db is required")
	}

	limiter := &RateLimiter{
		db:  db,
		now: time.Now,
		log: logger.WithModule("ratelimit"),
	}

	for _, opt := range opts {
		opt(limiter)
	}

	return limiter, nil
}

// CheckLimit counts attempts for (identifier, action) within the window. At
// or over maxAttempts the call is denied and nothing is written, so a denial
// never consumes a slot. Otherwise one attempt record is inserted and the
// call is admitted. Count and insert run in one transaction; see DESIGN.md
// for the concurrency decision.
func (l *RateLimiter) CheckLimit(ctx context.Context, identifier, action string, maxAttempts int, window time.Duration, meta AttemptMeta) (RateLimitResult, error) {
	if identifier == "" || action == "" {
		return RateLimitResult{}, errors.New("ratelimiter: identifier and action are required")
	}
	if maxAttempts <= 0 {
		return RateLimitResult{}, errors.New("ratelimiter: maxAttempts must be positive")
	}
	if window <= 0 {
		window = time.Minute
	}

	now := l.now()
	windowStart := now.Add(-window)
	// Approximation of window expiry, not a per-record expiry.
	resetTime := now.Add(window)

	result := RateLimitResult{ResetTime: resetTime}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.RateLimitAttempt{}).
			Where("identifier = ? AND action = ? AND created_at >= ?", identifier, action, windowStart).
			Count(&count).Error; err != nil {
			return err
		}

		if count >= int64(maxAttempts) {
			result.Allowed = false
			result.Remaining = 0
			return nil
		}

		attempt := models.RateLimitAttempt{
			BaseModel:  models.BaseModel{CreatedAt: now, UpdatedAt: now},
			Identifier: identifier,
			Action:     action,
			IPAddress:  meta.IPAddress,
			UserAgent:  meta.UserAgent,
		}
		if err := tx.Create(&attempt).Error; err != nil {
			return err
		}

		result.Allowed = true
		result.Remaining = maxAttempts - int(count) - 1
		return nil
	})
	if err != nil {
		return RateLimitResult{}, err
	}

	if !result.Allowed {
		metrics.RateLimitDenials.WithLabelValues(action).Inc()
		l.log.Warn("rate limit exceeded",
			zap.String("action", action),
			zap.Time("reset_time", resetTime),
		)
	}

	return result, nil
}

// CleanupExpired removes attempt records older than the retention horizon.
// It runs from the maintenance scheduler, independent of the request path.
func (l *RateLimiter) CleanupExpired(ctx context.Context) (int64, error) {
	cutoff := l.now().Add(-attemptRetention)

	res := l.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.RateLimitAttempt{})
	if res.Error != nil {
		return 0, res.Error
	}

	return res.RowsAffected, nil
}
