package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"keyportal/internal/snapshot"
)

type stubExporter struct {
	payload json.RawMessage
	err     error
}

func (s *stubExporter) ExportUsage(ctx context.Context) (json.RawMessage, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.payload, nil
}

func TestExportSnapshotOverwritesSlot(t *testing.T) {
	store := snapshot.NewStore(filepath.Join(t.TempDir(), "data", "usage_snapshot.json"))

	first := json.RawMessage(`{"exported_at":"2025-06-01T00:00:00Z","usage":{"total_tokens":100,"total_requests":5}}`)
	if err := ExportSnapshot(context.Background(), &stubExporter{payload: first}, store); err != nil {
		t.Fatalf("first export: %v", err)
	}

	second := json.RawMessage(`{"exported_at":"2025-06-01T00:05:00Z","usage":{"total_tokens":200,"total_requests":9}}`)
	if err := ExportSnapshot(context.Background(), &stubExporter{payload: second}, store); err != nil {
		t.Fatalf("second export: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(loaded) != string(second) {
		t.Fatal("slot does not hold the most recent export")
	}
}

func TestExportSnapshotKeepsOldSlotOnFailure(t *testing.T) {
	store := snapshot.NewStore(filepath.Join(t.TempDir(), "usage_snapshot.json"))

	payload := json.RawMessage(`{"usage":{"total_tokens":1}}`)
	if err := ExportSnapshot(context.Background(), &stubExporter{payload: payload}, store); err != nil {
		t.Fatalf("seed export: %v", err)
	}

	exportErr := errors.New("upstream unavailable")
	if err := ExportSnapshot(context.Background(), &stubExporter{err: exportErr}, store); !errors.Is(err, exportErr) {
		t.Fatalf("export error = %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(loaded) != string(payload) {
		t.Fatal("failed export clobbered the previous snapshot")
	}
}
