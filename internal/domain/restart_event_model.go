package domain

import "time"

const (
	RecoveryOutcomeRestored    = "restored"
	RecoveryOutcomeNoSnapshot  = "no_snapshot"
	RecoveryOutcomeImportError = "import_failed"
)

// RestartEvent is the audit record written whenever the monitor sees an
// upstream counter reset. The lost totals are the baseline minus the freshly
// observed values at detection time.
type RestartEvent struct {
	ID               uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	DetectedAt       time.Time `gorm:"not null;index" json:"detected_at"`
	PreviousTokens   int64     `gorm:"not null" json:"previous_tokens"`
	PreviousRequests int64     `gorm:"not null" json:"previous_requests"`
	CurrentTokens    int64     `gorm:"not null" json:"current_tokens"`
	CurrentRequests  int64     `gorm:"not null" json:"current_requests"`
	RestartNumber    int       `gorm:"not null" json:"restart_number"`
	RecoveryOutcome  string    `gorm:"size:32" json:"recovery_outcome"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"-"`
}
