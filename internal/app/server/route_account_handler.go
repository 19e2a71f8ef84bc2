package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"keyportal/internal/api/dto"
	"keyportal/internal/config"
	"keyportal/internal/jobs/runtime"
	"keyportal/internal/stats"
)

func getUserStats(w http.ResponseWriter, r *http.Request) {
	email := strings.ToLower(strings.TrimSpace(r.PathValue("email")))

	userStats, err := deps.Stats.UserStats(r.Context(), email)
	if err != nil {
		writeError(w, "User not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, userStats)
}

func getAllUsersStats(w http.ResponseWriter, r *http.Request) {
	aggregation := strings.TrimSpace(r.URL.Query().Get("aggregation"))
	if aggregation == "" {
		aggregation = "month"
	}

	switch aggregation {
	case "day", "month", "year":
		rows, err := deps.Stats.PeriodStats(aggregation)
		if err != nil {
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"users":       rows,
			"summary":     stats.SummarizePeriods(rows),
			"aggregation": aggregation,
		})
	default:
		all, err := deps.Stats.AllUsersStats(r.Context())
		if err != nil {
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"users":       all,
			"summary":     stats.Summarize(all),
			"aggregation": "total",
		})
	}
}

// getAccounts reports every mapped team member together with the state of
// the credential they contributed.
func getAccounts(w http.ResponseWriter, r *http.Request) {
	files, err := deps.Upstream.AuthFiles(r.Context())
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	accounts := []dto.AccountStatus{}

	for _, user := range deps.Mapping.Users() {
		if user.ClaudeEmail == "" {
			continue
		}

		account := dto.AccountStatus{
			Name:        user.Name,
			ClaudeEmail: user.ClaudeEmail,
			FeishuEmail: user.FeishuEmail,
			Status:      dto.AccountStatusNoKey,
		}
		if account.Name == "" {
			account.Name = user.ClaudeEmail
		}
		if account.FeishuEmail == "" {
			account.FeishuEmail = user.ClaudeEmail
		}

		for _, file := range files {
			email := file.Email
			if email == "" {
				email = file.Account
			}
			if !strings.EqualFold(email, user.ClaudeEmail) {
				continue
			}

			if file.Disabled || file.Status == "disabled" {
				account.Status = dto.AccountStatusExpired
			} else {
				account.Status = dto.AccountStatusActive
			}

			if detail, err := deps.Upstream.AuthFileDetail(r.Context(), file.Path); err == nil && detail != nil {
				if expiresAt := detail.ExpiryTimestamp(); expiresAt != "" {
					if expiry, err := parseAccountExpiry(expiresAt); err == nil {
						hoursLeft := roundTenth(expiry.Sub(now).Hours())
						account.ExpiresAt = expiresAt
						account.HoursLeft = &hoursLeft

						// One hour of grace so a key mid auto-refresh is not
						// flagged as expired.
						if hoursLeft <= -1 {
							account.Status = dto.AccountStatusExpired
						}
					}
				}
			}
			break
		}

		accounts = append(accounts, account)
	}

	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func getCredentialStatuses(w http.ResponseWriter, r *http.Request) {
	files, err := deps.Upstream.AuthFiles(r.Context())
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	statuses := []dto.CredentialStatus{}
	for _, file := range files {
		provider := file.ProviderName()
		if provider != "claude" && provider != "anthropic" {
			continue
		}

		statuses = append(statuses, dto.CredentialStatus{
			Email:       file.OwnerEmail(),
			Path:        file.Path,
			Expired:     file.Disabled || file.Status == "disabled",
			Unavailable: file.Unavailable,
			Status:      file.Status,
			Modified:    file.Modified(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"keys": statuses})
}

func sendNotification(w http.ResponseWriter, r *http.Request) {
	var req dto.SendNotificationRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Type == "" {
		writeError(w, "Missing email or type", http.StatusBadRequest)
		return
	}

	receiver := deps.Mapping.FeishuID(req.Email)
	name := deps.Mapping.DisplayName(req.Email)
	loginURL := config.GetConfig().Feishu.LoginURL

	var title, content string
	switch req.Type {
	case "remind_contribute":
		title = "Share a Key With the Pool"
		content = fmt.Sprintf(
			"Hi **%s**,\n\nPlease consider contributing a key to the shared pool so the whole team can use it.\n\n"+
				"**Steps**:\n1. Visit %s\n2. Click the authorization button\n3. Complete the flow",
			name, loginURL,
		)
	case "remind_renew":
		title = "Key Expired, Please Re-activate"
		content = fmt.Sprintf(
			"Hi **%s**,\n\nYour key has expired and needs to be re-activated.\n\n"+
				"**Steps**:\n1. Visit %s\n2. Click the authorization button\n3. Complete the flow",
			name, loginURL,
		)
	default:
		writeError(w, "Invalid notification type", http.StatusBadRequest)
		return
	}

	if err := deps.Notifier.Send(r.Context(), receiver, title, content); err != nil {
		writeError(w, "Failed to send notification", http.StatusInternalServerError)
		return
	}

	log.Info("Manual notification sent", "type", req.Type, "email", req.Email)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Notification sent", "success": true})
}

func checkExpiry(w http.ResponseWriter, r *http.Request) {
	expiring, err := runtime.CheckExpiry(r.Context(), deps.Upstream, deps.Notifier, deps.Mapping,
		runtime.ExpiryOptionsFromConfig(true))
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"checked_at":    time.Now().UTC().Format(time.RFC3339),
		"expiring_keys": expiring,
	})
}

func parseAccountExpiry(value string) (time.Time, error) {
	trimmed := strings.TrimSuffix(value, "Z")
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized expiry %q", value)
}

func roundTenth(v float64) float64 {
	if v < 0 {
		return float64(int(v*10-0.5)) / 10
	}
	return float64(int(v*10+0.5)) / 10
}
