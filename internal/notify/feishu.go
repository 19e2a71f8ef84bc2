// Package notify delivers portal alerts to users through Feishu.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const defaultFeishuBaseURL = "https://open.feishu.cn"

// ErrNotConfigured is returned when the app credentials are missing, so
// callers can treat notification delivery as best effort.
var ErrNotConfigured = errors.New("feishu credentials not configured")

// Feishu sends interactive card messages addressed by email. The tenant
// access token is cached until shortly before it expires.
type Feishu struct {
	appID      string
	appSecret  string
	loginURL   string
	baseURL    string
	httpClient *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewFeishu(appID, appSecret, loginURL string) *Feishu {
	return &Feishu{
		appID:      appID,
		appSecret:  appSecret,
		loginURL:   loginURL,
		baseURL:    defaultFeishuBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Configured reports whether app credentials are present.
func (f *Feishu) Configured() bool {
	return f.appID != "" && f.appSecret != ""
}

type tokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int    `json:"expire"`
}

func (f *Feishu) accessToken(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.token != "" && time.Now().Before(f.expiresAt) {
		return f.token, nil
	}
	if !f.Configured() {
		return "", ErrNotConfigured
	}

	payload, _ := json.Marshal(map[string]string{
		"app_id":     f.appID,
		"app_secret": f.appSecret,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		f.baseURL+"/open-apis/auth/v3/tenant_access_token/internal", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", err
	}
	if token.Code != 0 {
		return "", fmt.Errorf("feishu token request failed: code %d: %s", token.Code, token.Msg)
	}

	expire := token.Expire
	if expire == 0 {
		expire = 7200
	}

	f.token = token.TenantAccessToken
	// Refresh a minute early so an in-flight send never carries a stale token.
	f.expiresAt = time.Now().Add(time.Duration(expire-60) * time.Second)
	return f.token, nil
}

type sendResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Send delivers an interactive card with the given title and markdown body
// to the user addressed by email. A re-authorize button linking to the
// portal login page is attached.
func (f *Feishu) Send(ctx context.Context, receiverEmail, title, content string) error {
	token, err := f.accessToken(ctx)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			log.Info("Feishu not configured, skipping notification", "receiver", receiverEmail, "title", title)
		}
		return err
	}

	card := map[string]any{
		"config": map[string]any{"wide_screen_mode": true},
		"header": map[string]any{
			"title":    map[string]string{"tag": "plain_text", "content": title},
			"template": "orange",
		},
		"elements": []any{
			map[string]any{
				"tag":  "div",
				"text": map[string]string{"tag": "lark_md", "content": content},
			},
			map[string]any{
				"tag": "action",
				"actions": []any{
					map[string]any{
						"tag":  "button",
						"text": map[string]string{"tag": "plain_text", "content": "重新授权"},
						"type": "primary",
						"url":  f.loginURL,
					},
				},
			},
		},
	}

	cardJSON, err := json.Marshal(card)
	if err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]string{
		"receive_id": receiverEmail,
		"msg_type":   "interactive",
		"content":    string(cardJSON),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		f.baseURL+"/open-apis/im/v1/messages?receive_id_type=email", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var result sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	if result.Code != 0 {
		return fmt.Errorf("feishu send failed: code %d: %s", result.Code, result.Msg)
	}

	log.Info("Sent Feishu notification", "receiver", receiverEmail, "title", title)
	return nil
}
