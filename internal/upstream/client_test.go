package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(server.URL, "test-management-key", 5*time.Second)
}

func TestUsageSendsManagementKey(t *testing.T) {
	var gotKey string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Management-Key")
		if r.URL.Path != "/v0/management/usage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(UsageResponse{
			Usage: Usage{TotalTokens: 12345, TotalRequests: 67},
		})
	})

	resp, err := client.Usage(context.Background())
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}

	if gotKey != "test-management-key" {
		t.Fatalf("management key header = %q", gotKey)
	}
	if resp.Usage.TotalTokens != 12345 || resp.Usage.TotalRequests != 67 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
}

func TestNonOKStatusReturnsAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "state not pending", http.StatusBadRequest)
	})

	_, err := client.Usage(context.Background())
	if err == nil {
		t.Fatal("expected error for 400 response")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", apiErr.StatusCode)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	snapshot := `{"exported_at":"2025-06-01T00:00:00Z","usage":{"total_tokens":500,"total_requests":10}}`

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v0/management/usage/export":
			_, _ = w.Write([]byte(snapshot))
		case "/v0/management/usage/import":
			var got map[string]any
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("import body not valid JSON: %v", err)
			}
			_ = json.NewEncoder(w).Encode(ImportResult{Added: 10, Skipped: 2, TotalRequests: 12})
		default:
			http.NotFound(w, r)
		}
	})

	raw, err := client.ExportUsage(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	var summary SnapshotSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		t.Fatalf("summary decode: %v", err)
	}
	if summary.Usage.TotalTokens != 500 {
		t.Fatalf("summary tokens = %d, want 500", summary.Usage.TotalTokens)
	}

	result, err := client.ImportUsage(context.Background(), raw)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.Added != 10 || result.Skipped != 2 {
		t.Fatalf("unexpected import result: %+v", result)
	}
}

func TestAuthFileHelpers(t *testing.T) {
	f := AuthFile{Type: "claude", Account: "user@example.com", ModTime: "2025-06-01T10:00:00Z"}

	if got := f.ProviderName(); got != "claude" {
		t.Fatalf("ProviderName = %q", got)
	}
	if got := f.OwnerEmail(); got != "user@example.com" {
		t.Fatalf("OwnerEmail = %q", got)
	}
	if got := f.Modified(); got != "2025-06-01T10:00:00Z" {
		t.Fatalf("Modified = %q", got)
	}

	empty := AuthFile{}
	if got := empty.OwnerEmail(); got != "Unknown" {
		t.Fatalf("empty OwnerEmail = %q", got)
	}

	detail := AuthFileDetail{ExpiresAt: "2025-06-02T00:00:00Z"}
	if got := detail.ExpiryTimestamp(); got != "2025-06-02T00:00:00Z" {
		t.Fatalf("ExpiryTimestamp = %q", got)
	}

	detail.Expired = "2025-06-01T00:00:00Z"
	if got := detail.ExpiryTimestamp(); got != "2025-06-01T00:00:00Z" {
		t.Fatalf("ExpiryTimestamp with expired field = %q", got)
	}
}

func TestPutAPIKeys(t *testing.T) {
	var received []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode keys: %v", err)
		}
		_, _ = w.Write([]byte(`{}`))
	})

	if err := client.PutAPIKeys(context.Background(), []string{"a", "b"}); err != nil {
		t.Fatalf("PutAPIKeys: %v", err)
	}
	if len(received) != 2 || received[0] != "a" {
		t.Fatalf("received keys = %v", received)
	}
}
