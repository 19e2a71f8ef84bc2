package dto

import "keyportal/internal/domain"

// UserPeriodUsage is one aggregated row of per-user usage for a day, month or
// year period key.
type UserPeriodUsage struct {
	UserEmail     string `json:"user_email"`
	Period        string `json:"period"`
	TotalRequests int64  `json:"total_requests"`
	SuccessCount  int64  `json:"success_count"`
	FailureCount  int64  `json:"failure_count"`
	TotalTokens   int64  `json:"total_tokens"`
	InputTokens   int64  `json:"input_tokens"`
	OutputTokens  int64  `json:"output_tokens"`
	KeyCount      int64  `json:"key_count"`
}

type UserUsageTotals struct {
	UserEmail     string `json:"user_email"`
	TotalRequests int64  `json:"total_requests"`
	SuccessCount  int64  `json:"success_count"`
	FailureCount  int64  `json:"failure_count"`
	TotalTokens   int64  `json:"total_tokens"`
	InputTokens   int64  `json:"input_tokens"`
	OutputTokens  int64  `json:"output_tokens"`
	KeyCount      int64  `json:"key_count"`
	DayCount      int64  `json:"day_count"`
}

type PeriodTotals struct {
	TotalTokens   int64 `json:"total_tokens"`
	TotalRequests int64 `json:"total_requests"`
}

type UsageAggregates struct {
	History []domain.DailyUsage     `json:"history"`
	ByMonth map[string]PeriodTotals `json:"by_month"`
	ByYear  map[string]PeriodTotals `json:"by_year"`

	// Hourly series are passed through from the live upstream response and
	// are not persisted.
	TokensByHour   map[string]int64 `json:"tokens_by_hour,omitempty"`
	RequestsByHour map[string]int64 `json:"requests_by_hour,omitempty"`
}
