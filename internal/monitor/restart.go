package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"keyportal/internal/snapshot"
	"keyportal/internal/upstream"
)

// Outcome reports how a recovery attempt ended.
type Outcome int

const (
	OutcomeRestored Outcome = iota
	OutcomeNoSnapshot
	OutcomeImportFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRestored:
		return "restored"
	case OutcomeNoSnapshot:
		return "no_snapshot"
	case OutcomeImportFailed:
		return "import_failed"
	default:
		return "unknown"
	}
}

// State is the monitor's baseline: the last observed counter pair plus
// bookkeeping. A zero LastCheckTime means no observation has ever been made,
// which is how a cold start is told apart from counters that are simply zero.
type State struct {
	LastTotalTokens   int64
	LastTotalRequests int64
	LastCheckTime     time.Time
	RestartCount      int
}

// Detection is the result of a single observation.
type Detection struct {
	Restarted    bool
	RestartCount int
	Previous     State
	LostTokens   int64
	LostRequests int64
}

type Upstream interface {
	Usage(ctx context.Context) (*upstream.UsageResponse, error)
	ImportUsage(ctx context.Context, snapshot json.RawMessage) (*upstream.ImportResult, error)
}

type SnapshotLoader interface {
	Load() (json.RawMessage, error)
}

// Monitor watches the upstream's cumulative token and request counters. The
// counters never decrease while the upstream process is alive, so any
// decrease is proof of a restart that wiped its in-memory statistics.
//
// The baseline lives only in process memory. If the portal itself restarts
// the monitor returns to its uninitialized state and the first observation
// after that cannot be classified.
type Monitor struct {
	mu        sync.Mutex
	state     State
	upstream  Upstream
	snapshots SnapshotLoader
}

func New(up Upstream, snapshots SnapshotLoader) *Monitor {
	return &Monitor{
		upstream:  up,
		snapshots: snapshots,
	}
}

// Observe compares the latest counter pair against the stored baseline and
// reports whether a restart happened. After every call the baseline equals
// the observed values, so repeating an observation never re-signals.
func (m *Monitor) Observe(currentTokens, currentRequests int64) Detection {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()

	// First observation: a cold start is indistinguishable from a restart,
	// so just take the values as the baseline.
	if m.state.LastCheckTime.IsZero() {
		m.state.LastTotalTokens = currentTokens
		m.state.LastTotalRequests = currentRequests
		m.state.LastCheckTime = now
		log.Info("Restart monitoring initialized",
			"tokens", currentTokens,
			"requests", currentRequests)
		return Detection{}
	}

	previous := m.state
	tokensDecreased := currentTokens < previous.LastTotalTokens
	requestsDecreased := currentRequests < previous.LastTotalRequests

	detection := Detection{Previous: previous}

	if tokensDecreased || requestsDecreased {
		m.state.RestartCount++
		detection.Restarted = true
		detection.RestartCount = m.state.RestartCount
		detection.LostTokens = previous.LastTotalTokens - currentTokens
		detection.LostRequests = previous.LastTotalRequests - currentRequests

		log.Warn("Upstream restart detected",
			"restart_count", m.state.RestartCount,
			"previous_tokens", previous.LastTotalTokens,
			"previous_requests", previous.LastTotalRequests,
			"current_tokens", currentTokens,
			"current_requests", currentRequests,
			"lost_tokens", detection.LostTokens,
			"lost_requests", detection.LostRequests,
			"previous_check", previous.LastCheckTime)
	}

	detection.RestartCount = m.state.RestartCount

	// The baseline is reset identically whether or not a restart fired.
	m.state.LastTotalTokens = currentTokens
	m.state.LastTotalRequests = currentRequests
	m.state.LastCheckTime = now

	return detection
}

// Recover replays the most recent snapshot into the upstream. It is best
// effort: usage accumulated between the last export and the restart is
// permanently lost, and snapshot freshness is not validated before import.
// The upstream merge is idempotent and tolerates stale payloads.
func (m *Monitor) Recover(ctx context.Context) (Outcome, error) {
	payload, err := m.snapshots.Load()
	if err != nil {
		if errors.Is(err, snapshot.ErrNoSnapshot) {
			log.Warn("No snapshot available for recovery")
			return OutcomeNoSnapshot, nil
		}
		log.Error("Failed to load snapshot", "error", err)
		return OutcomeImportFailed, err
	}

	var summary upstream.SnapshotSummary
	if err := json.Unmarshal(payload, &summary); err == nil {
		log.Info("Importing snapshot into upstream",
			"exported_at", summary.ExportedAt,
			"tokens", summary.Usage.TotalTokens,
			"requests", summary.Usage.TotalRequests)
	}

	result, err := m.upstream.ImportUsage(ctx, payload)
	if err != nil {
		log.Error("Snapshot import failed", "error", err)
		return OutcomeImportFailed, err
	}

	log.Info("Snapshot import completed",
		"added", result.Added,
		"skipped", result.Skipped,
		"total_requests", result.TotalRequests)

	// Confirm the restored totals. A failed re-read does not change the
	// outcome; the next periodic observation will pick the state up anyway.
	if usage, err := m.upstream.Usage(ctx); err != nil {
		log.Warn("Failed to re-read usage after restore", "error", err)
	} else {
		log.Info("Restored upstream state",
			"tokens", usage.Usage.TotalTokens,
			"requests", usage.Usage.TotalRequests)
	}

	return OutcomeRestored, nil
}

// Snapshot returns a copy of the current baseline for status reporting.
func (m *Monitor) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
