package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openModelTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&TwoFactorCredential{}, &TrustedDevice{}, &RateLimitAttempt{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

func TestBaseModelGeneratesUUID(t *testing.T) {
	db := openModelTestDB(t)

	attempt := RateLimitAttempt{Identifier: "user-1", Action: "2fa_verify"}
	require.NoError(t, db.Create(&attempt).Error)
	require.NotEmpty(t, attempt.ID)
	require.False(t, attempt.CreatedAt.IsZero())
}

func TestTwoFactorCredentialUniquePerUser(t *testing.T) {
	db := openModelTestDB(t)

	first := TwoFactorCredential{UserID: "user-1", EncryptedSecret: "env1", EncryptedBackupCodes: "env2"}
	require.NoError(t, db.Create(&first).Error)

	duplicate := TwoFactorCredential{UserID: "user-1", EncryptedSecret: "env3", EncryptedBackupCodes: "env4"}
	require.Error(t, db.Create(&duplicate).Error)
}

func TestTrustedDeviceUniquePerUserFingerprint(t *testing.T) {
	db := openModelTestDB(t)

	now := time.Now()
	device := TrustedDevice{
		UserID:            "user-1",
		DeviceFingerprint: "fp-1",
		Name:              "Mac",
		LastUsed:          now,
		ExpiresAt:         now.Add(30 * 24 * time.Hour),
	}
	require.NoError(t, db.Create(&device).Error)

	clash := TrustedDevice{
		UserID:            "user-1",
		DeviceFingerprint: "fp-1",
		Name:              "Mac again",
		LastUsed:          now,
		ExpiresAt:         now.Add(30 * 24 * time.Hour),
	}
	require.Error(t, db.Create(&clash).Error)

	// Same fingerprint under another user is a separate device.
	other := TrustedDevice{
		UserID:            "user-2",
		DeviceFingerprint: "fp-1",
		LastUsed:          now,
		ExpiresAt:         now.Add(30 * 24 * time.Hour),
	}
	require.NoError(t, db.Create(&other).Error)
}

func TestTableNames(t *testing.T) {
	require.Equal(t, "user_two_factor", TwoFactorCredential{}.TableName())
	require.Equal(t, "trusted_devices", TrustedDevice{}.TableName())
	require.Equal(t, "rate_limit_attempts", RateLimitAttempt{}.TableName())
}
