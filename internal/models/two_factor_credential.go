package models

import "time"

// TwoFactorCredential holds a user's TOTP enrolment. At most one row exists
// per user. The secret and backup codes are stored only as encrypted
// envelopes; Enabled stays false until the first successful TOTP
// verification completes setup.
type TwoFactorCredential struct {
	BaseModel

	UserID               string `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	EncryptedSecret      string `gorm:"not null" json:"-"`
	EncryptedBackupCodes string `gorm:"not null" json:"-"`
	Enabled              bool   `gorm:"not null;default:false" json:"enabled"`

	// Anti-replay state: the last successfully used code and when it was used.
	LastUsedCode   string     `json:"-"`
	LastVerifiedAt *time.Time `json:"last_verified_at"`

	SetupIP               string `json:"-"`
	SetupUserAgent        string `json:"-"`
	VerificationIP        string `json:"-"`
	VerificationUserAgent string `json:"-"`
}

// TableName maps the model onto the user_two_factor table.
func (TwoFactorCredential) TableName() string {
	return "user_two_factor"
}
