package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"

	"keyportal/internal/keys"
	"keyportal/internal/monitor"
	"keyportal/internal/notify"
	"keyportal/internal/stats"
	"keyportal/internal/stream"
	"keyportal/internal/upstream"
)

// Dependencies carries everything the handlers need. Configure must run
// before OpenRoutes.
type Dependencies struct {
	Upstream *upstream.Client
	Keys     *keys.Service
	Stats    *stats.Service
	Mapping  *keys.Mapping
	Notifier *notify.Feishu
	Hub      *stream.Hub
	Monitor  *monitor.Monitor
}

var deps Dependencies

func Configure(d Dependencies) {
	deps = d
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "Invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Router builds the portal's full route table.
func Router() http.Handler {
	router := http.NewServeMux()

	// Pages
	router.HandleFunc("GET /{$}", indexPage)
	router.HandleFunc("GET /register", registerPage)
	router.HandleFunc("GET /my-keys", myKeysPage)
	router.HandleFunc("GET /admin/users", adminUsersPage)
	router.HandleFunc("GET /login", loginPage)
	router.HandleFunc("GET /status", statusPage)
	router.HandleFunc("GET /callback", oauthCallbackPage)

	// OAuth
	router.HandleFunc("GET /api/auth-url", getAuthURL)
	router.HandleFunc("POST /api/submit-callback", submitCallback)

	// Usage
	router.HandleFunc("GET /api/usage", getUsage)
	router.HandleFunc("GET /api/usage-history", getUsageHistory)
	router.HandleFunc("POST /api/sync-usage", triggerUsageSync)
	router.HandleFunc("GET /api/restart-events", getRestartEvents)

	// Keys
	router.HandleFunc("GET /api/keys", getCredentialStatuses)
	router.HandleFunc("POST /api/register-key", registerKey)
	router.HandleFunc("POST /api/my-keys", getMyKeys)
	router.HandleFunc("POST /api/revoke-key", revokeKey)
	router.HandleFunc("POST /api/generate-keys", generatePoolKeys)
	router.HandleFunc("GET /api/key-pool-status", getKeyPoolStatus)
	router.HandleFunc("POST /api/query-by-key", queryByKey)

	// Stats and accounts
	router.HandleFunc("GET /api/user-stats/{email}", getUserStats)
	router.HandleFunc("GET /api/all-users-stats", getAllUsersStats)
	router.HandleFunc("GET /api/accounts", getAccounts)
	router.HandleFunc("POST /api/send-notification", sendNotification)
	router.HandleFunc("GET /api/check-expiry", checkExpiry)

	// Live stream
	router.Handle("GET /ws/usage", deps.Hub)

	router.HandleFunc("GET /api/version", getVersion)

	return enableCORS(router)
}

// OpenRoutes starts the portal's HTTP server and blocks until it exits.
func OpenRoutes(port int) error {
	server := http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: Router(),
	}

	log.Infof("Starting key portal on port :%d", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("portal server failed: %w", err)
	}
	return nil
}
