package upstream

// Usage is the cumulative statistics block returned by the management API.
// Counters only grow while the upstream process is alive; a decrease means it
// restarted and lost its in-memory state.
type Usage struct {
	TotalTokens    int64               `json:"total_tokens"`
	TotalRequests  int64               `json:"total_requests"`
	SuccessCount   int64               `json:"success_count"`
	FailureCount   int64               `json:"failure_count"`
	TokensByDay    map[string]int64    `json:"tokens_by_day"`
	RequestsByDay  map[string]int64    `json:"requests_by_day"`
	TokensByHour   map[string]int64    `json:"tokens_by_hour"`
	RequestsByHour map[string]int64    `json:"requests_by_hour"`
	APIs           map[string]KeyUsage `json:"apis"`
}

type UsageResponse struct {
	Usage Usage `json:"usage"`
}

type KeyUsage struct {
	TotalRequests int64                 `json:"total_requests"`
	TotalTokens   int64                 `json:"total_tokens"`
	Models        map[string]ModelUsage `json:"models"`
}

type ModelUsage struct {
	Details []RequestDetail `json:"details"`
}

type RequestDetail struct {
	Timestamp string      `json:"timestamp"`
	Failed    bool        `json:"failed"`
	Tokens    TokenCounts `json:"tokens"`
}

type TokenCounts struct {
	TotalTokens  int64 `json:"total_tokens"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// SnapshotSummary is the part of an exported snapshot the portal inspects.
// The full payload is carried opaquely so the import endpoint receives
// exactly what the export produced.
type SnapshotSummary struct {
	ExportedAt string `json:"exported_at"`
	Usage      struct {
		TotalTokens   int64 `json:"total_tokens"`
		TotalRequests int64 `json:"total_requests"`
	} `json:"usage"`
}

type ImportResult struct {
	Added         int64 `json:"added"`
	Skipped       int64 `json:"skipped"`
	TotalRequests int64 `json:"total_requests"`
}

type AuthFile struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Provider    string `json:"provider"`
	Type        string `json:"type"`
	Email       string `json:"email"`
	Account     string `json:"account"`
	Label       string `json:"label"`
	Status      string `json:"status"`
	Unavailable bool   `json:"unavailable"`
	Disabled    bool   `json:"disabled"`
	ModTime     string `json:"modtime"`
	UpdatedAt   string `json:"updated_at"`
}

// ProviderName returns the provider, falling back to the legacy type field.
func (f AuthFile) ProviderName() string {
	if f.Provider != "" {
		return f.Provider
	}
	return f.Type
}

// OwnerEmail picks the best available identity for the credential.
func (f AuthFile) OwnerEmail() string {
	switch {
	case f.Email != "":
		return f.Email
	case f.Account != "":
		return f.Account
	case f.Label != "":
		return f.Label
	default:
		return "Unknown"
	}
}

// Modified returns the most recent modification timestamp the upstream
// reported for the file.
func (f AuthFile) Modified() string {
	if f.ModTime != "" {
		return f.ModTime
	}
	return f.UpdatedAt
}

type AuthFileDetail struct {
	// Expired carries an explicit expiry timestamp on some upstream
	// versions; ExpiresAt on others. ExpiryTimestamp merges the two.
	Expired   string `json:"expired"`
	ExpiresAt string `json:"expires_at"`
}

func (d AuthFileDetail) ExpiryTimestamp() string {
	if d.Expired != "" {
		return d.Expired
	}
	return d.ExpiresAt
}

type OAuthResult struct {
	Account string `json:"account"`
}

type AuthURLResponse struct {
	URL   string `json:"url"`
	State string `json:"state,omitempty"`
}
