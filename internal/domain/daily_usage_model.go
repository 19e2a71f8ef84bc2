package domain

import "time"

// DailyUsage is one row per calendar day of portal-wide usage, keyed by the
// upstream's YYYY-MM-DD date string.
type DailyUsage struct {
	Date          string    `gorm:"primaryKey;size:10" json:"date"`
	TotalRequests int64     `gorm:"not null" json:"total_requests"`
	SuccessCount  int64     `gorm:"not null" json:"success_count"`
	FailureCount  int64     `gorm:"not null" json:"failure_count"`
	TotalTokens   int64     `gorm:"not null" json:"total_tokens"`
	InputTokens   int64     `gorm:"not null" json:"input_tokens"`
	OutputTokens  int64     `gorm:"not null" json:"output_tokens"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"-"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"-"`
}

func (DailyUsage) TableName() string {
	return "daily_usage"
}
