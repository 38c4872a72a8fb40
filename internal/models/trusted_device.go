package models

import (
	"time"

	"gorm.io/datatypes"
)

// TrustedDevice grants one device a time-limited exemption from two-factor
// challenges. A user never holds two live rows for the same fingerprint;
// re-trusting refreshes the existing row instead.
type TrustedDevice struct {
	BaseModel

	UserID            string `gorm:"type:uuid;uniqueIndex:idx_trusted_devices_user_fp,priority:1;not null" json:"user_id"`
	DeviceFingerprint string `gorm:"uniqueIndex:idx_trusted_devices_user_fp,priority:2;not null" json:"device_fingerprint"`

	Name      string `json:"name"`
	UserAgent string `json:"user_agent"`
	IPAddress string `json:"ip_address"`

	// Signals keeps the raw signal set the fingerprint was derived from, for
	// display and support purposes. Never used for matching.
	Signals datatypes.JSON `json:"-"`

	LastUsed  time.Time `gorm:"index" json:"last_used"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}

// TableName maps the model onto the trusted_devices table.
func (TrustedDevice) TableName() string {
	return "trusted_devices"
}
