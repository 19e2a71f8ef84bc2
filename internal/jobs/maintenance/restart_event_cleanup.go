package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"keyportal/internal/database"
	"keyportal/internal/support"
)

const (
	envCleanupInterval    = "RESTART_EVENT_CLEAN_INTERVAL"
	envRetentionDays      = "RESTART_EVENT_RETENTION_DAYS"
	defaultCleanupHours   = 24
	defaultRetentionDays  = 90
	restartCleanupLockKey = "keyportal:leader:restart_event_cleanup"
)

// StartRestartEventCleanupRoutine prunes old restart audit rows on one
// instance at a time. It blocks until ctx is cancelled.
func StartRestartEventCleanupRoutine(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	err := support.RunWithLeader(ctx, restartCleanupLockKey, support.DefaultLeadershipTTL, func(leaderCtx context.Context) {
		runCleanupLoop(leaderCtx)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Restart event cleanup routine stopped", "error", err)
	}
}

func runCleanupLoop(ctx context.Context) {
	interval := resolveCleanupInterval()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runCleanup()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCleanup()
		}
	}
}

func resolveCleanupInterval() time.Duration {
	if raw := support.GetEnv(envCleanupInterval, ""); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			return parsed
		}
		log.Warn("Invalid RESTART_EVENT_CLEAN_INTERVAL value, using default", "value", raw)
	}

	return time.Duration(defaultCleanupHours) * time.Hour
}

func retentionCutoff() time.Time {
	days := support.GetEnvInt(envRetentionDays, defaultRetentionDays)
	if days <= 0 {
		days = defaultRetentionDays
	}

	return time.Now().AddDate(0, 0, -days)
}

func runCleanup() {
	start := time.Now()

	removed, err := database.PruneRestartEvents(retentionCutoff())
	if err != nil {
		log.Error("Failed to prune restart events", "error", err)
		return
	}

	if removed == 0 {
		return
	}

	log.Info(
		"Restart event cleanup completed",
		"removed", removed,
		"duration", time.Since(start),
	)
}
