package runtime

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"keyportal/internal/api/dto"
	"keyportal/internal/config"
	"keyportal/internal/database"
	"keyportal/internal/domain"
	"keyportal/internal/monitor"
	"keyportal/internal/stream"
	"keyportal/internal/upstream"
)

// UsageBroadcaster polls the upstream on the broadcast interval, feeds every
// reading to the restart monitor, recovers from detected restarts, and fans
// changed totals out to stream subscribers.
type UsageBroadcaster struct {
	upstream UsageSource
	monitor  *monitor.Monitor
	hub      *stream.Hub

	lastTokens   int64
	lastRequests int64
	seeded       bool
}

func NewUsageBroadcaster(source UsageSource, mon *monitor.Monitor, hub *stream.Hub) *UsageBroadcaster {
	return &UsageBroadcaster{upstream: source, monitor: mon, hub: hub}
}

// Start runs the broadcast loop until the context is canceled. The interval
// follows configuration updates without restarting the loop.
func (b *UsageBroadcaster) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	b.Tick(ctx)

	interval := config.GetUsageBroadcastInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	updates := config.BroadcastIntervalUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case next := <-updates:
			if next != interval {
				interval = next
				ticker.Reset(interval)
				log.Info("Usage broadcast interval updated", "interval", interval)
			}
		case <-ticker.C:
			b.Tick(ctx)
		}
	}
}

// Tick performs one poll, restart check, and broadcast pass.
func (b *UsageBroadcaster) Tick(ctx context.Context) {
	resp, err := b.upstream.Usage(ctx)
	if err != nil {
		log.Warn("Failed to poll upstream usage", "error", err)
		return
	}
	usage := resp.Usage

	detection := b.monitor.Observe(usage.TotalTokens, usage.TotalRequests)
	if detection.Restarted {
		usage = b.recover(ctx, detection, usage)
	}

	b.publish(usage)
}

// recover runs snapshot recovery after a detected restart and records the
// event with its outcome. The returned usage reflects the restored state
// when the re-read succeeds.
func (b *UsageBroadcaster) recover(ctx context.Context, detection monitor.Detection, current upstream.Usage) upstream.Usage {
	event := &domain.RestartEvent{
		DetectedAt:       time.Now().UTC(),
		PreviousTokens:   detection.Previous.LastTotalTokens,
		PreviousRequests: detection.Previous.LastTotalRequests,
		CurrentTokens:    current.TotalTokens,
		CurrentRequests:  current.TotalRequests,
		RestartNumber:    detection.RestartCount,
	}
	if err := database.SaveRestartEvent(event); err != nil {
		log.Error("Failed to record restart event", "error", err)
	}

	outcome, err := b.monitor.Recover(ctx)
	if err != nil {
		log.Error("Snapshot recovery failed", "outcome", outcome, "error", err)
	}

	if event.ID != 0 {
		if err := database.UpdateRestartEventOutcome(event.ID, outcome.String()); err != nil {
			log.Error("Failed to update restart event outcome", "id", event.ID, "error", err)
		}
	}

	if outcome == monitor.OutcomeRestored {
		if resp, err := b.upstream.Usage(ctx); err == nil {
			return resp.Usage
		}
	}
	return current
}

func (b *UsageBroadcaster) publish(usage upstream.Usage) {
	if b.seeded && usage.TotalTokens == b.lastTokens && usage.TotalRequests == b.lastRequests {
		return
	}
	b.lastTokens = usage.TotalTokens
	b.lastRequests = usage.TotalRequests
	b.seeded = true

	today := time.Now().Format("2006-01-02")
	b.hub.Publish(dto.UsagePush{
		TotalTokens:   usage.TotalTokens,
		TotalRequests: usage.TotalRequests,
		TodayTokens:   usage.TokensByDay[today],
		TodayRequests: usage.RequestsByDay[today],
		SuccessCount:  usage.SuccessCount,
		Timestamp:     time.Now().Format(time.RFC3339),
	})
}
