package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/supauth/supauth/internal/database/testutil"
	"github.com/supauth/supauth/internal/models"
)

func TestCheckLimitSlidingWindow(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	current := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	limiter, err := NewRateLimiter(db, WithRateLimiterClock(func() time.Time { return current }))
	require.NoError(t, err)

	meta := AttemptMeta{IPAddress: "203.0.113.7", UserAgent: "test-agent"}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.CheckLimit(ctx, "user-rl-1", "2fa_verify", 3, time.Minute, meta)
		require.NoError(t, err)
		require.True(t, result.Allowed, "attempt %d", i+1)
		require.Equal(t, 3-i-1, result.Remaining)
	}

	denied, err := limiter.CheckLimit(ctx, "user-rl-1", "2fa_verify", 3, time.Minute, meta)
	require.NoError(t, err)
	require.False(t, denied.Allowed)
	require.Zero(t, denied.Remaining)
	require.Equal(t, current.Add(time.Minute), denied.ResetTime)

	// The denial itself must not consume a slot.
	var count int64
	require.NoError(t, db.Model(&models.RateLimitAttempt{}).
		Where("identifier = ? AND action = ?", "user-rl-1", "2fa_verify").
		Count(&count).Error)
	require.EqualValues(t, 3, count)

	// Once the window elapses, attempts are admitted again.
	current = current.Add(time.Minute + time.Second)
	allowed, err := limiter.CheckLimit(ctx, "user-rl-1", "2fa_verify", 3, time.Minute, meta)
	require.NoError(t, err)
	require.True(t, allowed.Allowed)
}

func TestCheckLimitIsolatesIdentifierAndAction(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	limiter, err := NewRateLimiter(db)
	require.NoError(t, err)

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.CheckLimit(ctx, "user-rl-2", "2fa_setup", 3, time.Hour, AttemptMeta{})
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}

	denied, err := limiter.CheckLimit(ctx, "user-rl-2", "2fa_setup", 3, time.Hour, AttemptMeta{})
	require.NoError(t, err)
	require.False(t, denied.Allowed)

	// A different action for the same user has its own budget.
	other, err := limiter.CheckLimit(ctx, "user-rl-2", "2fa_disable", 3, time.Hour, AttemptMeta{})
	require.NoError(t, err)
	require.True(t, other.Allowed)

	// As does the same action for a different user.
	otherUser, err := limiter.CheckLimit(ctx, "user-rl-3", "2fa_setup", 3, time.Hour, AttemptMeta{})
	require.NoError(t, err)
	require.True(t, otherUser.Allowed)
}

func TestCheckLimitValidatesArguments(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	limiter, err := NewRateLimiter(db)
	require.NoError(t, err)

	_, err = limiter.CheckLimit(context.Background(), "", "2fa_verify", 5, time.Minute, AttemptMeta{})
	require.Error(t, err)

	_, err = limiter.CheckLimit(context.Background(), "user", "", 5, time.Minute, AttemptMeta{})
	require.Error(t, err)

	_, err = limiter.CheckLimit(context.Background(), "user", "2fa_verify", 0, time.Minute, AttemptMeta{})
	require.Error(t, err)
}

func TestCleanupExpiredRemovesOldAttempts(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	current := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)

	limiter, err := NewRateLimiter(db, WithRateLimiterClock(func() time.Time { return current }))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = limiter.CheckLimit(ctx, "user-rl-4", "trust_device", 10, time.Hour, AttemptMeta{})
	require.NoError(t, err)

	// Nothing is old enough yet.
	removed, err := limiter.CleanupExpired(ctx)
	require.NoError(t, err)
	require.Zero(t, removed)

	current = current.Add(25 * time.Hour)
	removed, err = limiter.CleanupExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	var count int64
	require.NoError(t, db.Model(&models.RateLimitAttempt{}).
		Where("identifier = ?", "user-rl-4").
		Count(&count).Error)
	require.Zero(t, count)
}

func TestNewRateLimiterRequiresDB(t *testing.T) {
	_, err := NewRateLimiter(nil)
	require.Error(t, err)
}
