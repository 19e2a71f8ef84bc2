package runtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/charmbracelet/log"

	"keyportal/internal/snapshot"
	"keyportal/internal/upstream"
)

// SnapshotSource exports the upstream's complete usage state.
type SnapshotSource interface {
	ExportUsage(ctx context.Context) (json.RawMessage, error)
}

// ExportSnapshot captures the upstream's full usage export and overwrites
// the single snapshot slot. The payload is stored verbatim so a later import
// replays exactly what the upstream produced.
func ExportSnapshot(ctx context.Context, source SnapshotSource, store *snapshot.Store) error {
	start := time.Now()

	payload, err := source.ExportUsage(ctx)
	if err != nil {
		log.Error("Snapshot export failed", "error", err)
		return err
	}

	if err := store.Save(payload); err != nil {
		log.Error("Failed to persist snapshot", "path", store.Path(), "error", err)
		return err
	}

	var summary upstream.SnapshotSummary
	if err := json.Unmarshal(payload, &summary); err == nil {
		log.Info("Snapshot exported",
			"total_tokens", summary.Usage.TotalTokens,
			"total_requests", summary.Usage.TotalRequests,
			"duration", time.Since(start),
		)
	} else {
		log.Info("Snapshot exported", "bytes", len(payload), "duration", time.Since(start))
	}
	return nil
}
