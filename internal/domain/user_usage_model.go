package domain

import "time"

// UserUsage accumulates one row per (day, user, api key). Unmapped keys are
// recorded under the sentinel user email "unknown".
type UserUsage struct {
	Date          string    `gorm:"primaryKey;size:10" json:"date"`
	UserEmail     string    `gorm:"primaryKey;size:255;index" json:"user_email"`
	APIKey        string    `gorm:"primaryKey;size:128;column:api_key" json:"api_key"`
	TotalRequests int64     `gorm:"not null" json:"total_requests"`
	SuccessCount  int64     `gorm:"not null" json:"success_count"`
	FailureCount  int64     `gorm:"not null" json:"failure_count"`
	TotalTokens   int64     `gorm:"not null" json:"total_tokens"`
	InputTokens   int64     `gorm:"not null" json:"input_tokens"`
	OutputTokens  int64     `gorm:"not null" json:"output_tokens"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"-"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"-"`
}

func (UserUsage) TableName() string {
	return "user_usage"
}
