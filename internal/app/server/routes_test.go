package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"keyportal/internal/api/dto"
	"keyportal/internal/database"
	"keyportal/internal/domain"
	"keyportal/internal/keys"
	"keyportal/internal/monitor"
	"keyportal/internal/snapshot"
	"keyportal/internal/stats"
	"keyportal/internal/stream"
	"keyportal/internal/upstream"
)

type stubKeyLister struct {
	keys []string
}

func (s *stubKeyLister) APIKeys(ctx context.Context) ([]string, error) {
	return append([]string(nil), s.keys...), nil
}

func (s *stubKeyLister) PutAPIKeys(ctx context.Context, keys []string) error {
	s.keys = append([]string(nil), keys...)
	return nil
}

type stubFetcher struct {
	usage upstream.Usage
}

func (s *stubFetcher) Usage(ctx context.Context) (*upstream.UsageResponse, error) {
	return &upstream.UsageResponse{Usage: s.usage}, nil
}

func (s *stubFetcher) ImportUsage(ctx context.Context, snapshot json.RawMessage) (*upstream.ImportResult, error) {
	return &upstream.ImportResult{}, nil
}

type emptySnapshots struct{}

func (emptySnapshots) Load() (json.RawMessage, error) {
	return nil, snapshot.ErrNoSnapshot
}

func setupRouterTestDB(t *testing.T) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := db.AutoMigrate(&domain.DailyUsage{}, &domain.UserUsage{}, &domain.RestartEvent{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	database.DB = db
	t.Cleanup(func() { database.DB = nil })
}

func newTestRouter(t *testing.T, poolKeys []string, usage upstream.Usage) http.Handler {
	t.Helper()

	dir := t.TempDir()

	pool := keys.NewPool(filepath.Join(dir, "key_pool.json"))
	if len(poolKeys) > 0 {
		if err := pool.Add(poolKeys); err != nil {
			t.Fatalf("seed pool: %v", err)
		}
	}

	registry := keys.NewRegistry(filepath.Join(dir, "user_keys.json"))
	mapping := keys.NewMapping(filepath.Join(dir, "user_mapping.json"))

	fetcher := &stubFetcher{usage: usage}

	Configure(Dependencies{
		Keys:    keys.NewService(pool, registry, &stubKeyLister{}),
		Stats:   stats.NewService(fetcher, registry, time.Minute),
		Mapping: mapping,
		Hub:     stream.NewHub(),
		Monitor: monitor.New(fetcher, emptySnapshots{}),
	})

	return Router()
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func getPath(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestKeyLifecycleRoutes(t *testing.T) {
	const seededKey = "usr_pool_0001_0123456789ab"

	usage := upstream.Usage{
		TotalTokens:   500,
		TotalRequests: 7,
		APIs: map[string]upstream.KeyUsage{
			seededKey: {TotalRequests: 7, TotalTokens: 500},
		},
	}
	router := newTestRouter(t, []string{seededKey}, usage)

	rec := postJSON(t, router, "/api/register-key", dto.RegisterKeyRequest{Email: "alice@example.com", Name: "Alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("register returned %d: %s", rec.Code, rec.Body.String())
	}

	var registered struct {
		Success bool   `json:"success"`
		APIKey  string `json:"api_key"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &registered); err != nil {
		t.Fatal(err)
	}
	if !registered.Success || registered.APIKey != seededKey {
		t.Fatalf("unexpected register response: %+v", registered)
	}

	rec = postJSON(t, router, "/api/my-keys", dto.EmailRequest{Email: "Alice@Example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("my-keys returned %d: %s", rec.Code, rec.Body.String())
	}

	var mine dto.UserKeysResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &mine); err != nil {
		t.Fatal(err)
	}
	if mine.Email != "alice@example.com" || mine.Name != "Alice" {
		t.Fatalf("unexpected owner in my-keys response: %+v", mine)
	}
	if len(mine.Keys) != 1 || mine.Keys[0].Key != seededKey {
		t.Fatalf("unexpected keys in my-keys response: %+v", mine.Keys)
	}
	if mine.Keys[0].TotalTokens != 500 || mine.Keys[0].TotalRequests != 7 {
		t.Fatalf("usage not attributed to key: %+v", mine.Keys[0])
	}

	rec = postJSON(t, router, "/api/query-by-key", dto.QueryByKeyRequest{APIKey: seededKey})
	if rec.Code != http.StatusOK {
		t.Fatalf("query-by-key returned %d: %s", rec.Code, rec.Body.String())
	}

	var owner dto.KeyOwnerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &owner); err != nil {
		t.Fatal(err)
	}
	if owner.Identifier != "alice@example.com" {
		t.Fatalf("query-by-key identified %q", owner.Identifier)
	}

	rec = postJSON(t, router, "/api/revoke-key", dto.RevokeKeyRequest{Key: seededKey})
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = getPath(t, router, "/api/key-pool-status")
	if rec.Code != http.StatusOK {
		t.Fatalf("pool status returned %d: %s", rec.Code, rec.Body.String())
	}

	var status dto.PoolStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Total != 1 || status.Unused != 1 || status.Assigned != 0 {
		t.Fatalf("pool not restored after revoke: %+v", status)
	}
}

func TestRegisterKeyEmptyPool(t *testing.T) {
	router := newTestRouter(t, nil, upstream.Usage{})

	rec := postJSON(t, router, "/api/register-key", dto.RegisterKeyRequest{Email: "bob@example.com"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("register on empty pool returned %d", rec.Code)
	}

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error != "Key pool is empty, please generate more keys" {
		t.Fatalf("unexpected error message %q", body.Error)
	}
}

func TestRegisterKeyRequiresIdentifier(t *testing.T) {
	router := newTestRouter(t, nil, upstream.Usage{})

	rec := postJSON(t, router, "/api/register-key", dto.RegisterKeyRequest{Email: "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("register without identifier returned %d", rec.Code)
	}
}

func TestGetMyKeysUnknownUser(t *testing.T) {
	router := newTestRouter(t, nil, upstream.Usage{})

	rec := postJSON(t, router, "/api/my-keys", dto.EmailRequest{Email: "ghost@example.com"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("my-keys for unknown user returned %d", rec.Code)
	}
}

func TestGenerateKeysRoute(t *testing.T) {
	router := newTestRouter(t, nil, upstream.Usage{})

	rec := postJSON(t, router, "/api/generate-keys", dto.GenerateKeysRequest{Count: 3})
	if rec.Code != http.StatusOK {
		t.Fatalf("generate-keys returned %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Success bool     `json:"success"`
		Count   int      `json:"count"`
		Keys    []string `json:"keys"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.Success || body.Count != 3 || len(body.Keys) != 3 {
		t.Fatalf("unexpected generate response: %+v", body)
	}

	keyFormat := regexp.MustCompile(`^usr_pool_\d{4}_[0-9a-f]{12}$`)
	for _, key := range body.Keys {
		if !keyFormat.MatchString(key) {
			t.Fatalf("generated key %q has wrong shape", key)
		}
	}

	rec = getPath(t, router, "/api/key-pool-status")
	var status dto.PoolStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Total != 3 || status.Unused != 3 {
		t.Fatalf("pool not grown by generation: %+v", status)
	}
}

func TestGenerateKeysRejectsBadCount(t *testing.T) {
	router := newTestRouter(t, nil, upstream.Usage{})

	for _, count := range []int{0, -1, maxGeneratedKeys + 1} {
		rec := postJSON(t, router, "/api/generate-keys", dto.GenerateKeysRequest{Count: count})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("count %d returned %d", count, rec.Code)
		}
	}
}

func TestSyncUsageRouteRefreshesCache(t *testing.T) {
	setupRouterTestDB(t)
	t.Chdir(t.TempDir())

	var fetches atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v0/management/usage" {
			http.NotFound(w, r)
			return
		}
		fetches.Add(1)
		_ = json.NewEncoder(w).Encode(upstream.UsageResponse{
			Usage: upstream.Usage{TotalTokens: 100, TotalRequests: 2},
		})
	}))
	defer srv.Close()

	client := upstream.NewClient(srv.URL, "mk", time.Second)

	dir := t.TempDir()
	registry := keys.NewRegistry(filepath.Join(dir, "user_keys.json"))

	Configure(Dependencies{
		Upstream: client,
		Keys:     keys.NewService(keys.NewPool(filepath.Join(dir, "key_pool.json")), registry, &stubKeyLister{}),
		Stats:    stats.NewService(client, registry, time.Minute),
		Mapping:  keys.NewMapping(filepath.Join(dir, "user_mapping.json")),
		Hub:      stream.NewHub(),
		Monitor:  monitor.New(client, emptySnapshots{}),
	})
	router := Router()

	if rec := getPath(t, router, "/api/usage"); rec.Code != http.StatusOK {
		t.Fatalf("usage returned %d", rec.Code)
	}
	if got := fetches.Load(); got != 1 {
		t.Fatalf("fetches after first usage read = %d", got)
	}

	if rec := postJSON(t, router, "/api/sync-usage", map[string]any{}); rec.Code != http.StatusOK {
		t.Fatalf("sync-usage returned %d: %s", rec.Code, rec.Body.String())
	}
	afterSync := fetches.Load()

	if rec := getPath(t, router, "/api/usage"); rec.Code != http.StatusOK {
		t.Fatalf("usage returned %d", rec.Code)
	}
	if got := fetches.Load(); got != afterSync+1 {
		t.Fatal("usage served from stale cache after manual sync")
	}
}

func TestGetRestartEvents(t *testing.T) {
	setupRouterTestDB(t)
	router := newTestRouter(t, nil, upstream.Usage{})

	event := domain.RestartEvent{
		DetectedAt:       time.Now().UTC(),
		PreviousTokens:   1000,
		PreviousRequests: 50,
		CurrentTokens:    20,
		CurrentRequests:  1,
		RestartNumber:    1,
		RecoveryOutcome:  "restored",
	}
	if err := database.SaveRestartEvent(&event); err != nil {
		t.Fatal(err)
	}

	rec := getPath(t, router, "/api/restart-events")
	if rec.Code != http.StatusOK {
		t.Fatalf("restart-events returned %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Events       []domain.RestartEvent `json:"events"`
		RestartCount int                   `json:"restart_count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Events) != 1 || body.Events[0].PreviousTokens != 1000 {
		t.Fatalf("unexpected events payload: %+v", body.Events)
	}
	if body.RestartCount != 0 {
		t.Fatalf("restart count %d before any observation", body.RestartCount)
	}
}

func TestGetRestartEventsRejectsBadLimit(t *testing.T) {
	setupRouterTestDB(t)
	router := newTestRouter(t, nil, upstream.Usage{})

	rec := getPath(t, router, "/api/restart-events?limit=zero")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit returned %d", rec.Code)
	}
}

func TestVersionRoute(t *testing.T) {
	router := newTestRouter(t, nil, upstream.Usage{})

	rec := getPath(t, router, "/api/version")
	if rec.Code != http.StatusOK {
		t.Fatalf("version returned %d", rec.Code)
	}

	var body struct {
		BuildVersion string `json:"buildVersion"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.BuildVersion != "dev" {
		t.Fatalf("unexpected build version %q", body.BuildVersion)
	}
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(t, nil, upstream.Usage{})

	req := httptest.NewRequest(http.MethodOptions, "/api/usage", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight returned %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header on preflight")
	}
}
