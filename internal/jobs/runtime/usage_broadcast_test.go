package runtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"keyportal/internal/database"
	"keyportal/internal/domain"
	"keyportal/internal/monitor"
	"keyportal/internal/snapshot"
	"keyportal/internal/stream"
	"keyportal/internal/upstream"
)

type scriptedUpstream struct {
	responses []upstream.Usage
	index     int
	imports   int
}

func (s *scriptedUpstream) Usage(ctx context.Context) (*upstream.UsageResponse, error) {
	usage := s.responses[s.index]
	if s.index < len(s.responses)-1 {
		s.index++
	}
	return &upstream.UsageResponse{Usage: usage}, nil
}

func (s *scriptedUpstream) ImportUsage(ctx context.Context, payload json.RawMessage) (*upstream.ImportResult, error) {
	s.imports++
	return &upstream.ImportResult{Added: 1}, nil
}

type memoryLoader struct {
	payload json.RawMessage
	err     error
}

func (m *memoryLoader) Load() (json.RawMessage, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.payload, nil
}

var errNoSnapshotForTest = snapshot.ErrNoSnapshot

func TestTickBroadcastsOnChange(t *testing.T) {
	setupJobTestDB(t)

	source := &scriptedUpstream{responses: []upstream.Usage{
		{TotalTokens: 100, TotalRequests: 10, SuccessCount: 9},
		{TotalTokens: 100, TotalRequests: 10, SuccessCount: 9},
		{TotalTokens: 150, TotalRequests: 12, SuccessCount: 11},
	}}
	mon := monitor.New(source, &memoryLoader{err: errNoSnapshotForTest})
	hub := stream.NewHub()

	updates, cancel := hub.Subscribe()
	defer cancel()

	broadcaster := NewUsageBroadcaster(source, mon, hub)

	broadcaster.Tick(context.Background())
	select {
	case push := <-updates:
		if push.TotalTokens != 100 {
			t.Fatalf("first push = %+v", push)
		}
	case <-time.After(time.Second):
		t.Fatal("no push after first tick")
	}

	// Unchanged totals produce no second push.
	broadcaster.Tick(context.Background())
	select {
	case push := <-updates:
		t.Fatalf("unexpected push for unchanged totals: %+v", push)
	default:
	}

	broadcaster.Tick(context.Background())
	select {
	case push := <-updates:
		if push.TotalTokens != 150 || push.TotalRequests != 12 {
			t.Fatalf("third push = %+v", push)
		}
	case <-time.After(time.Second):
		t.Fatal("no push after totals changed")
	}
}

func TestTickRecoversAndAuditsRestart(t *testing.T) {
	setupJobTestDB(t)

	payload := json.RawMessage(`{"exported_at":"2025-06-01T00:00:00Z","usage":{"total_tokens":900,"total_requests":45}}`)
	source := &scriptedUpstream{responses: []upstream.Usage{
		{TotalTokens: 1000, TotalRequests: 50}, // baseline
		{TotalTokens: 20, TotalRequests: 2},    // restart detected here
		{TotalTokens: 920, TotalRequests: 47},  // state after snapshot import
	}}
	mon := monitor.New(source, &memoryLoader{payload: payload})
	hub := stream.NewHub()
	broadcaster := NewUsageBroadcaster(source, mon, hub)

	broadcaster.Tick(context.Background()) // establishes the baseline
	broadcaster.Tick(context.Background()) // sees the drop and recovers

	if source.imports != 1 {
		t.Fatalf("snapshot imported %d times, want 1", source.imports)
	}

	events, err := database.RecentRestartEvents(10)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %+v", events)
	}

	event := events[0]
	if event.PreviousTokens != 1000 || event.CurrentTokens != 20 {
		t.Fatalf("event counters = %+v", event)
	}
	if event.RestartNumber != 1 {
		t.Fatalf("restart number = %d", event.RestartNumber)
	}
	if event.RecoveryOutcome != domain.RecoveryOutcomeRestored {
		t.Fatalf("outcome = %q", event.RecoveryOutcome)
	}
}

func TestTickRecordsNoSnapshotOutcome(t *testing.T) {
	setupJobTestDB(t)

	source := &scriptedUpstream{responses: []upstream.Usage{
		{TotalTokens: 1000, TotalRequests: 50},
		{TotalTokens: 20, TotalRequests: 2},
	}}
	mon := monitor.New(source, &memoryLoader{err: errNoSnapshotForTest})
	broadcaster := NewUsageBroadcaster(source, mon, stream.NewHub())

	broadcaster.Tick(context.Background())
	broadcaster.Tick(context.Background())

	events, err := database.RecentRestartEvents(10)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(events) != 1 || events[0].RecoveryOutcome != domain.RecoveryOutcomeNoSnapshot {
		t.Fatalf("events = %+v", events)
	}
	if source.imports != 0 {
		t.Fatal("import attempted without a snapshot")
	}
}
