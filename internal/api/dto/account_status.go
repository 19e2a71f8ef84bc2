package dto

const (
	AccountStatusNoKey   = "no_key"
	AccountStatusActive  = "active"
	AccountStatusExpired = "expired"
)

// AccountStatus describes one mapped team member and the state of the
// credential they contributed, if any.
type AccountStatus struct {
	Name        string   `json:"name"`
	ClaudeEmail string   `json:"claude_email"`
	FeishuEmail string   `json:"feishu_email"`
	Status      string   `json:"status"`
	ExpiresAt   string   `json:"expires_at,omitempty"`
	HoursLeft   *float64 `json:"hours_left,omitempty"`
}

// CredentialStatus is one row on the public key status page.
type CredentialStatus struct {
	Email       string `json:"email"`
	Path        string `json:"path"`
	Expired     bool   `json:"expired"`
	Unavailable bool   `json:"unavailable"`
	Status      string `json:"status"`
	Modified    string `json:"modified"`
}

type ExpiringKey struct {
	Email     string  `json:"email"`
	HoursLeft float64 `json:"hours_left"`
	ExpiresAt string  `json:"expires_at"`
}
