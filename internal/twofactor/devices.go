package twofactor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/supauth/supauth/internal/models"
	"github.com/supauth/supauth/internal/security"
	"github.com/supauth/supauth/pkg/crypto"
	appErrors "github.com/supauth/supauth/pkg/errors"
	"github.com/supauth/supauth/pkg/logger"
	"github.com/supauth/supauth/pkg/validator"
)

const (
	actionTrustDevice = "trust_device"
	trustMaxAttempts  = 10
	trustWindow       = time.Hour

	// deviceTrustTTL is how long a trusted device stays exempt from
	// challenges; refreshed every time the device is re-trusted.
	deviceTrustTTL = 30 * 24 * time.Hour
)

// Device is the API representation of a trusted device.
type Device struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	UserAgent         string    `json:"user_agent"`
	IPAddress         string    `json:"ip_address"`
	DeviceFingerprint string    `json:"device_fingerprint"`
	LastUsed          time.Time `json:"last_used"`
	ExpiresAt         time.Time `json:"expires_at"`
	IsCurrent         bool      `json:"is_current"`
}

// TrustInput describes the device being trusted.
type TrustInput struct {
	Name    string
	Signals security.DeviceSignals
	Meta    RequestMeta
}

// DeviceServiceOption customises the DeviceService.
type DeviceServiceOption func(*DeviceService)

// WithDeviceClock injects a custom clock, primarily for testing.
func WithDeviceClock(clock func() time.Time) DeviceServiceOption {
	return func(s *DeviceService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithIPLookup injects the public-IP lookup client used when the request
// meta carries no address.
func WithIPLookup(client *security.IPLookupClient) DeviceServiceOption {
	return func(s *DeviceService) {
		s.ipLookup = client
	}
}

// DeviceService manages the per-user registry of trusted devices. Device
// identity is the environment fingerprint; expiry is lazy, enforced when the
// registry is read.
type DeviceService struct {
	db       *gorm.DB
	limiter  *security.RateLimiter
	fp       *security.Fingerprinter
	ipLookup *security.IPLookupClient
	now      func() time.Time
	log      *zap.Logger
}

// NewDeviceService constructs a trusted-device registry.
func NewDeviceService(db *gorm.DB, limiter *security.RateLimiter, fp *security.Fingerprinter, opts ...DeviceServiceOption) (*DeviceService, error) {
	if db == nil {
		return nil, errors.New("devices: db is required")
	}
	if limiter == nil {
		return nil, errors.New("devices: rate limiter is required")
	}
	if fp == nil {
		return nil, errors.New("devices: fingerprinter is required")
	}

	service := &DeviceService{
		db:      db,
		limiter: limiter,
		fp:      fp,
		now:     time.Now,
		log:     logger.WithModule("devices"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Trust marks the calling device as trusted for 30 days. When a row for the
// same (user, fingerprint) already exists it is refreshed in place rather
// than duplicated.
func (s *DeviceService) Trust(ctx context.Context, userID string, input TrustInput) (*models.TrustedDevice, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("devices: user id is required")
	}

	gate, err := s.limiter.CheckLimit(ctx, userID, actionTrustDevice, trustMaxAttempts, trustWindow, security.AttemptMeta(input.Meta))
	if err != nil {
		return nil, fmt.Errorf("devices: rate limit check: %w", err)
	}
	if !gate.Allowed {
		return nil, appErrors.ErrRateLimit.WithMessage("Too many device trust attempts. Please try again later.")
	}

	fingerprint := s.fp.Generate(input.Signals)
	userAgent := input.Signals.UserAgent
	if userAgent == "" {
		userAgent = input.Meta.UserAgent
	}

	ipAddress := input.Meta.IPAddress
	if ipAddress == "" {
		if s.ipLookup != nil {
			ipAddress = s.ipLookup.Lookup(ctx)
		} else {
			ipAddress = security.UnknownIP
		}
	}

	now := s.now()
	expiresAt := now.Add(deviceTrustTTL)

	var device models.TrustedDevice
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND device_fingerprint = ?", userID, fingerprint).
		First(&device).Error
	switch {
	case err == nil:
		updates := map[string]any{
			"last_used":  now,
			"expires_at": expiresAt,
			"ip_address": ipAddress,
			"user_agent": userAgent,
		}
		if err := s.db.WithContext(ctx).Model(&device).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("devices: refresh device: %w", err)
		}
		s.log.Info("trusted device refreshed", zap.String("user_id", userID), zap.String("device_id", device.ID))

	case errors.Is(err, gorm.ErrRecordNotFound):
		name := strings.TrimSpace(validator.Sanitize(input.Name))
		if name == "" {
			name = deriveDeviceName(userAgent)
		}

		signalsJSON, err := json.Marshal(input.Signals)
		if err != nil {
			return nil, fmt.Errorf("devices: marshal signals: %w", err)
		}

		device = models.TrustedDevice{
			UserID:            userID,
			DeviceFingerprint: fingerprint,
			Name:              name,
			UserAgent:         userAgent,
			IPAddress:         ipAddress,
			Signals:           datatypes.JSON(signalsJSON),
			LastUsed:          now,
			ExpiresAt:         expiresAt,
		}
		if err := s.db.WithContext(ctx).Create(&device).Error; err != nil {
			return nil, fmt.Errorf("devices: create device: %w", err)
		}
		s.log.Info("trusted device added", zap.String("user_id", userID), zap.String("device_id", device.ID))

	default:
		return nil, fmt.Errorf("devices: load device: %w", err)
	}

	return &device, nil
}

// List prunes expired rows for the user, then returns the remaining devices
// ordered by most recent use. Each entry is annotated with whether it
// matches the caller's current fingerprint.
func (s *DeviceService) List(ctx context.Context, userID string, current security.DeviceSignals) ([]Device, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("devices: user id is required")
	}

	now := s.now()
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND expires_at < ?", userID, now).
		Delete(&models.TrustedDevice{}).Error; err != nil {
		return nil, fmt.Errorf("devices: prune expired: %w", err)
	}

	var rows []models.TrustedDevice
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_used DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("devices: list devices: %w", err)
	}

	currentFingerprint := s.fp.Generate(current)

	devices := make([]Device, len(rows))
	for i, row := range rows {
		devices[i] = Device{
			ID:                row.ID,
			Name:              row.Name,
			UserAgent:         row.UserAgent,
			IPAddress:         row.IPAddress,
			DeviceFingerprint: row.DeviceFingerprint,
			LastUsed:          row.LastUsed,
			ExpiresAt:         row.ExpiresAt,
			IsCurrent:         crypto.SafeCompare(row.DeviceFingerprint, currentFingerprint),
		}
	}

	return devices, nil
}

// Remove deletes exactly the device matching both the user and device ID.
// Removing an absent device is a no-op.
func (s *DeviceService) Remove(ctx context.Context, userID, deviceID string) error {
	userID = strings.TrimSpace(userID)
	deviceID = strings.TrimSpace(deviceID)
	if userID == "" || deviceID == "" {
		return errors.New("devices: user id and device id are required")
	}

	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, deviceID).
		Delete(&models.TrustedDevice{}).Error; err != nil {
		return fmt.Errorf("devices: remove device: %w", err)
	}

	return nil
}

// IsTrusted reports whether a non-expired trusted-device row exists for the
// caller's current fingerprint.
func (s *DeviceService) IsTrusted(ctx context.Context, userID string, current security.DeviceSignals) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, errors.New("devices: user id is required")
	}

	fingerprint := s.fp.Generate(current)

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.TrustedDevice{}).
		Where("user_id = ? AND device_fingerprint = ? AND expires_at > ?", userID, fingerprint, s.now()).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("devices: lookup device: %w", err)
	}

	return count > 0, nil
}

// deriveDeviceName classifies a user agent into a human-readable label.
func deriveDeviceName(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "iphone"):
		return "iPhone"
	case strings.Contains(ua, "ipad"):
		return "iPad"
	case strings.Contains(ua, "android"):
		return "Android Device"
	case strings.Contains(ua, "mac"):
		return "Mac"
	case strings.Contains(ua, "windows"):
		return "Windows PC"
	case strings.Contains(ua, "linux"):
		return "Linux PC"
	default:
		return "Unknown Device"
	}
}
