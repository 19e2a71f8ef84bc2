package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"keyportal/internal/api/dto"
	"keyportal/internal/oauth"
	"keyportal/internal/upstream"
)

func getAuthURL(w http.ResponseWriter, r *http.Request) {
	payload, err := deps.Upstream.AuthURL(r.Context())
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func submitCallback(w http.ResponseWriter, r *http.Request) {
	var req dto.SubmitCallbackRequest
	if !readJSON(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.CallbackURL) == "" {
		writeError(w, "Callback URL is required", http.StatusBadRequest)
		return
	}

	code, state := oauth.ParseCallback(req.CallbackURL)
	if problems := oauth.Validate(code, state); len(problems) > 0 {
		writeError(w, strings.Join(problems, "; "), http.StatusBadRequest)
		return
	}

	if _, err := deps.Upstream.CompleteOAuth(r.Context(), "anthropic", code, state); err != nil {
		writeError(w, friendlyOAuthError(err), oauthErrorStatus(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Authorization complete. The key becomes active within seconds.",
		"status":  "ok",
	})
}

// friendlyOAuthError rewrites common upstream failures into messages a user
// pasting callback URLs can act on.
func friendlyOAuthError(err error) string {
	raw := err.Error()
	if body, ok := upstreamErrorBody(err); ok {
		raw = body
	}

	msg := strings.ToLower(raw)
	switch {
	case strings.Contains(msg, "expired"), strings.Contains(msg, "unknown"):
		return "The authorization expired, please start over from the login page"
	case strings.Contains(msg, "not pending"):
		return "This authorization was already completed or is no longer valid, please re-authorize"
	default:
		return raw
	}
}

func oauthErrorStatus(err error) int {
	raw := err.Error()
	if body, ok := upstreamErrorBody(err); ok {
		raw = body
	}

	msg := strings.ToLower(raw)
	if strings.Contains(msg, "expired") || strings.Contains(msg, "unknown") || strings.Contains(msg, "not pending") {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// oauthCallbackPage handles the provider redirecting straight to the portal
// and completes the flow server side.
func oauthCallbackPage(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	if code == "" || state == "" {
		renderCallbackResult(w, callbackResultData{Error: "Missing code or state parameter"})
		return
	}

	result, err := deps.Upstream.CompleteOAuth(r.Context(), "anthropic", code, state)
	if err != nil {
		renderCallbackResult(w, callbackResultData{Error: friendlyOAuthError(err)})
		return
	}

	account := result.Account
	if account == "" {
		account = "Unknown"
	}
	renderCallbackResult(w, callbackResultData{Success: true, Account: account})
}

// upstreamErrorBody extracts the upstream response body when the error came
// from the management API, for handlers that pass messages through.
func upstreamErrorBody(err error) (string, bool) {
	var apiErr *upstream.APIError
	if errors.As(err, &apiErr) {
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal([]byte(apiErr.Body), &payload) == nil && payload.Error != "" {
			return payload.Error, true
		}
		return apiErr.Body, true
	}
	return "", false
}
