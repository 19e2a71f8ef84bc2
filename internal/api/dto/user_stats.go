package dto

// UserStats aggregates live usage across all of one user's keys.
type UserStats struct {
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	TotalRequests int64     `json:"total_requests"`
	TotalTokens   int64     `json:"total_tokens"`
	Keys          []KeyInfo `json:"keys"`
	KeyCount      int       `json:"key_count"`
}

// PeriodUserStats is the per-period variant served by the admin view.
type PeriodUserStats struct {
	Email         string `json:"email"`
	Name          string `json:"name"`
	Period        string `json:"period"`
	TotalRequests int64  `json:"total_requests"`
	TotalTokens   int64  `json:"total_tokens"`
	KeyCount      int64  `json:"key_count"`
}

type UsageSummary struct {
	TotalUsers    int   `json:"total_users"`
	TotalRequests int64 `json:"total_requests"`
	TotalTokens   int64 `json:"total_tokens"`
	TotalKeys     int64 `json:"total_keys"`
}

// UsagePush is the payload fanned out to live usage stream subscribers.
type UsagePush struct {
	TotalTokens   int64  `json:"total_tokens"`
	TotalRequests int64  `json:"total_requests"`
	TodayTokens   int64  `json:"today_tokens"`
	TodayRequests int64  `json:"today_requests"`
	SuccessCount  int64  `json:"success_count"`
	Timestamp     string `json:"timestamp"`
}
