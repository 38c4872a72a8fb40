package models

// RateLimitAttempt records one admitted attempt for an (identifier, action)
// pair. Rows are append-only; the sliding window is computed from CreatedAt
// and old rows are swept by the maintenance cleaner.
type RateLimitAttempt struct {
	BaseModel

	Identifier string `gorm:"index:idx_rate_limit_key,priority:1;not null" json:"identifier"`
	Action     string `gorm:"index:idx_rate_limit_key,priority:2;not null" json:"action"`
	IPAddress  string `json:"ip_address"`
	UserAgent  string `json:"user_agent"`
}

// TableName maps the model onto the rate_limit_attempts table.
func (RateLimitAttempt) TableName() string {
	return "rate_limit_attempts"
}
