package dto

// KeyInfo is one key row in the per-user views, combining registry metadata
// with live usage counters.
type KeyInfo struct {
	Key           string           `json:"key"`
	Label         string           `json:"label"`
	CreatedAt     string           `json:"created_at"`
	TotalRequests int64            `json:"total_requests"`
	TotalTokens   int64            `json:"total_tokens"`
	Models        map[string]any   `json:"models,omitempty"`
}

type UserKeysResponse struct {
	Email string    `json:"email"`
	Name  string    `json:"name"`
	Keys  []KeyInfo `json:"keys"`
}

type KeyOwnerResponse struct {
	Identifier    string    `json:"identifier"`
	TotalRequests int64     `json:"total_requests"`
	TotalTokens   int64     `json:"total_tokens"`
	AllKeys       []KeyInfo `json:"all_keys"`
}

type PoolStatus struct {
	Total    int `json:"total"`
	Unused   int `json:"unused"`
	Assigned int `json:"assigned"`
}
