package twofactor

import (
	"context"
	cryptoRand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/supauth/supauth/internal/models"
	"github.com/supauth/supauth/internal/security"
	"github.com/supauth/supauth/pkg/crypto"
	appErrors "github.com/supauth/supauth/pkg/errors"
	"github.com/supauth/supauth/pkg/logger"
	"github.com/supauth/supauth/pkg/metrics"
	"github.com/supauth/supauth/pkg/validator"
)

const (
	defaultIssuer          = "Supauth"
	defaultBackupCodeCount = 10
	defaultQRCodeSize      = 256

	// replayWindow rejects a token identical to the last successfully used
	// one when resubmitted within this interval.
	replayWindow = 30 * time.Second

	actionSetup   = "2fa_setup"
	actionVerify  = "2fa_verify"
	actionDisable = "2fa_disable"

	setupMaxAttempts   = 3
	setupWindow        = time.Hour
	verifyMaxAttempts  = 5
	verifyWindow       = 15 * time.Minute
	disableMaxAttempts = 3
	disableWindow      = time.Hour
)

var (
	totpTokenPattern  = regexp.MustCompile(`^\d{6}$`)
	backupCodePattern = regexp.MustCompile(`^[A-Fa-f0-9]{8}$`)
	whitespacePattern = regexp.MustCompile(`\s`)
)

// RequestMeta carries request attribution recorded with setup and
// verification events.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// Setup is returned from Enable for one-time display. The plaintext secret
// and backup codes are never persisted.
type Setup struct {
	Secret      string   `json:"secret"`
	OtpauthURL  string   `json:"otpauth_url"`
	QRCodePNG   []byte   `json:"qr_code_png"`
	BackupCodes []string `json:"backup_codes"`
}

// Option allows customising the Service.
type Option func(*Service)

// WithIssuer overrides the issuer string encoded in provisioning URIs.
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		if strings.TrimSpace(issuer) != "" {
			s.issuer = issuer
		}
	}
}

// WithBackupCodeCount overrides the number of backup codes generated.
func WithBackupCodeCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.backupCodes = count
		}
	}
}

// WithQRCodeSize controls the pixel size of generated QR codes.
func WithQRCodeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.qrCodeSize = size
		}
	}
}

// WithClock injects a custom clock, primarily for testing.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// Service orchestrates two-factor enrolment, verification, and teardown.
// The credential lifecycle is: no credential, pending (enabled=false) after
// Enable, active (enabled=true) after the first successful TOTP
// verification, and gone again after Disable.
type Service struct {
	db      *gorm.DB
	cipher  *crypto.Cipher
	limiter *security.RateLimiter

	issuer      string
	backupCodes int
	qrCodeSize  int
	now         func() time.Time
	log         *zap.Logger
}

// NewService constructs a two-factor service backed by the provided database.
func NewService(db *gorm.DB, cipher *crypto.Cipher, limiter *security.RateLimiter, opts ...Option) (*Service, error) {
	if db == nil {
		return nil, errors.New("twofactor: db is required")
	}
	if cipher == nil {
		return nil, errors.New("twofactor: cipher is required")
	}
	if limiter == nil {
		return nil, errors.New("twofactor: rate limiter is required")
	}

	service := &Service{
		db:          db,
		cipher:      cipher,
		limiter:     limiter,
		issuer:      defaultIssuer,
		backupCodes: defaultBackupCodeCount,
		qrCodeSize:  defaultQRCodeSize,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	service.log = logger.WithModule("twofactor")

	return service, nil
}

// Enable provisions a fresh TOTP secret and backup codes for a user and
// stores them encrypted with enabled=false. Re-running Enable replaces any
// previous enrolment. The returned plaintext material is for one-time
// display only.
func (s *Service) Enable(ctx context.Context, userID string, meta RequestMeta) (*Setup, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("twofactor: user id is required")
	}

	gate, err := s.limiter.CheckLimit(ctx, userID, actionSetup, setupMaxAttempts, setupWindow, security.AttemptMeta(meta))
	if err != nil {
		return nil, fmt.Errorf("twofactor: rate limit check: %w", err)
	}
	if !gate.Allowed {
		return nil, appErrors.ErrRateLimit.WithMessage("Too many 2FA setup attempts. Please try again later.")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: "user-" + userID,
	})
	if err != nil {
		return nil, fmt.Errorf("twofactor: generate key: %w", err)
	}

	backupCodes, err := generateBackupCodes(s.backupCodes)
	if err != nil {
		return nil, fmt.Errorf("twofactor: generate backup codes: %w", err)
	}

	encryptedSecret, err := s.cipher.EncryptForUser(key.Secret(), userID)
	if err != nil {
		return nil, fmt.Errorf("twofactor: encrypt secret: %w", err)
	}

	codesJSON, err := json.Marshal(backupCodes)
	if err != nil {
		return nil, fmt.Errorf("twofactor: marshal backup codes: %w", err)
	}

	encryptedCodes, err := s.cipher.EncryptForUser(string(codesJSON), userID)
	if err != nil {
		return nil, fmt.Errorf("twofactor: encrypt backup codes: %w", err)
	}

	var credential models.TwoFactorCredential
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&credential).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("twofactor: load credential: %w", err)
		}

		credential = models.TwoFactorCredential{
			UserID:               userID,
			EncryptedSecret:      encryptedSecret,
			EncryptedBackupCodes: encryptedCodes,
			Enabled:              false,
			SetupIP:              meta.IPAddress,
			SetupUserAgent:       meta.UserAgent,
		}

		if err := s.db.WithContext(ctx).Create(&credential).Error; err != nil {
			return nil, fmt.Errorf("twofactor: create credential: %w", err)
		}
	} else {
		updates := map[string]any{
			"encrypted_secret":       encryptedSecret,
			"encrypted_backup_codes": encryptedCodes,
			"enabled":                false,
			"last_used_code":         "",
			"last_verified_at":       nil,
			"setup_ip":               meta.IPAddress,
			"setup_user_agent":       meta.UserAgent,
		}
		if err := s.db.WithContext(ctx).Model(&credential).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("twofactor: update credential: %w", err)
		}
	}

	png, err := qrcode.Encode(key.String(), qrcode.Medium, s.qrCodeSize)
	if err != nil {
		return nil, fmt.Errorf("twofactor: render qr code: %w", err)
	}

	s.log.Info("two-factor setup issued", zap.String("user_id", userID))

	return &Setup{
		Secret:      key.Secret(),
		OtpauthURL:  key.String(),
		QRCodePNG:   png,
		BackupCodes: backupCodes,
	}, nil
}

// Verify checks a submitted token, either a 6-digit TOTP code or an
// 8-character hex backup code. Malformed tokens fail before the rate limit
// or store is touched. A matched backup code is consumed and cannot be
// replayed; only a TOTP success flips the credential to enabled.
func (s *Service) Verify(ctx context.Context, userID, token string, meta RequestMeta) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, errors.New("twofactor: user id is required")
	}

	token = whitespacePattern.ReplaceAllString(validator.Sanitize(token), "")
	isTOTP := totpTokenPattern.MatchString(token)
	if !isTOTP && !backupCodePattern.MatchString(token) {
		return false, nil
	}

	gate, err := s.limiter.CheckLimit(ctx, userID, actionVerify, verifyMaxAttempts, verifyWindow, security.AttemptMeta(meta))
	if err != nil {
		return false, fmt.Errorf("twofactor: rate limit check: %w", err)
	}
	if !gate.Allowed {
		return false, appErrors.ErrRateLimit.WithMessage("Too many verification attempts. Please try again later.")
	}

	var credential models.TwoFactorCredential
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&credential).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("twofactor: load credential: %w", err)
	}

	secret, err := s.cipher.DecryptForUser(credential.EncryptedSecret, userID)
	if err != nil {
		return false, appErrors.ErrDecryption.WithInternal(err)
	}

	codesJSON, err := s.cipher.DecryptForUser(credential.EncryptedBackupCodes, userID)
	if err != nil {
		return false, appErrors.ErrDecryption.WithInternal(err)
	}

	var backupCodes []string
	if err := json.Unmarshal([]byte(codesJSON), &backupCodes); err != nil {
		return false, appErrors.ErrDecryption.WithInternal(fmt.Errorf("unmarshal backup codes: %w", err))
	}

	now := s.now()

	// Replay guard: the last successfully used code is rejected when
	// resubmitted inside the replay window.
	if credential.LastVerifiedAt != nil &&
		crypto.SafeCompare(token, credential.LastUsedCode) &&
		now.Sub(*credential.LastVerifiedAt) < replayWindow {
		metrics.VerificationAttempts.WithLabelValues(methodLabel(isTOTP), "failure").Inc()
		return false, nil
	}

	if !isTOTP {
		valid, err := s.consumeBackupCode(ctx, &credential, backupCodes, token, now)
		if err != nil {
			return false, err
		}
		metrics.VerificationAttempts.WithLabelValues("backup_code", verdictLabel(valid)).Inc()
		return valid, nil
	}

	valid, err := totp.ValidateCustom(token, secret, now.UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("twofactor: validate totp: %w", err)
	}

	if valid {
		updates := map[string]any{
			"enabled":                 true,
			"last_used_code":          token,
			"last_verified_at":        now,
			"verification_ip":         meta.IPAddress,
			"verification_user_agent": meta.UserAgent,
		}
		if err := s.db.WithContext(ctx).Model(&credential).Updates(updates).Error; err != nil {
			return false, fmt.Errorf("twofactor: record verification: %w", err)
		}
		s.log.Info("totp verification succeeded", zap.String("user_id", userID))
	}

	metrics.VerificationAttempts.WithLabelValues("totp", verdictLabel(valid)).Inc()
	return valid, nil
}

// consumeBackupCode matches token against the stored backup codes and, on a
// match, persists the reduced list with a compare-and-swap on the previous
// ciphertext. Envelopes are unique per encryption, so a concurrent consumer
// of the same code loses the swap and the verification fails: each code
// succeeds at most once. Backup-code success deliberately does not flip
// enabled; only TOTP proves possession of the enrolled authenticator.
func (s *Service) consumeBackupCode(ctx context.Context, credential *models.TwoFactorCredential, backupCodes []string, token string, now time.Time) (bool, error) {
	upper := strings.ToUpper(token)

	matched := -1
	for i, code := range backupCodes {
		if crypto.SafeCompare(strings.ToUpper(code), upper) {
			matched = i
			break
		}
	}
	if matched == -1 {
		return false, nil
	}

	remaining := make([]string, 0, len(backupCodes)-1)
	remaining = append(remaining, backupCodes[:matched]...)
	remaining = append(remaining, backupCodes[matched+1:]...)

	remainingJSON, err := json.Marshal(remaining)
	if err != nil {
		return false, fmt.Errorf("twofactor: marshal backup codes: %w", err)
	}

	encrypted, err := s.cipher.EncryptForUser(string(remainingJSON), credential.UserID)
	if err != nil {
		return false, fmt.Errorf("twofactor: encrypt backup codes: %w", err)
	}

	res := s.db.WithContext(ctx).Model(&models.TwoFactorCredential{}).
		Where("user_id = ? AND encrypted_backup_codes = ?", credential.UserID, credential.EncryptedBackupCodes).
		Updates(map[string]any{
			"encrypted_backup_codes": encrypted,
			"last_used_code":         token,
			"last_verified_at":       now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("twofactor: consume backup code: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Lost the swap to a concurrent verification.
		return false, nil
	}

	s.log.Info("backup code consumed",
		zap.String("user_id", credential.UserID),
		zap.Int("codes_remaining", len(remaining)),
	)

	return true, nil
}

// Disable removes the credential and every trusted device for the user.
// Device trust is meaningless without two-factor, so the cascade is
// unconditional.
func (s *Service) Disable(ctx context.Context, userID string, meta RequestMeta) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("twofactor: user id is required")
	}

	gate, err := s.limiter.CheckLimit(ctx, userID, actionDisable, disableMaxAttempts, disableWindow, security.AttemptMeta(meta))
	if err != nil {
		return fmt.Errorf("twofactor: rate limit check: %w", err)
	}
	if !gate.Allowed {
		return appErrors.ErrRateLimit.WithMessage("Too many disable attempts. Please try again later.")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&models.TwoFactorCredential{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&models.TrustedDevice{}).Error
	})
	if err != nil {
		return fmt.Errorf("twofactor: disable: %w", err)
	}

	s.log.Info("two-factor disabled", zap.String("user_id", userID))
	return nil
}

// RenderQR encodes an otpauth provisioning URL as a PNG image.
func (s *Service) RenderQR(otpauthURL string) ([]byte, error) {
	png, err := qrcode.Encode(otpauthURL, qrcode.Medium, s.qrCodeSize)
	if err != nil {
		return nil, fmt.Errorf("twofactor: render qr code: %w", err)
	}
	return png, nil
}

// Status reports whether a credential exists and whether setup completed.
func (s *Service) Status(ctx context.Context, userID string) (configured, enabled bool, err error) {
	var credential models.TwoFactorCredential
	if err := s.db.WithContext(ctx).Where("user_id = ?", strings.TrimSpace(userID)).First(&credential).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("twofactor: load credential: %w", err)
	}
	return true, credential.Enabled, nil
}

func methodLabel(isTOTP bool) string {
	if isTOTP {
		return "totp"
	}
	return "backup_code"
}

func verdictLabel(valid bool) string {
	if valid {
		return "success"
	}
	return "failure"
}

// generateBackupCodes returns single-use codes, each 4 cryptographically
// random bytes rendered as 8 uppercase hex characters. Duplicates are
// regenerated so every code in the list is distinct.
func generateBackupCodes(count int) ([]string, error) {
	codes := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	buf := make([]byte, 4)
	for len(codes) < count {
		if _, err := cryptoRand.Read(buf); err != nil {
			return nil, err
		}
		code := strings.ToUpper(hex.EncodeToString(buf))
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}
