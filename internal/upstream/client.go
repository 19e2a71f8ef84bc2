package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	managementKeyHeader = "X-Management-Key"
	defaultTimeout      = 30 * time.Second
)

// APIError is returned for any non-200 management API response. The body is
// kept so callers can map upstream messages to friendlier ones.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream: API error: %d - %s", e.StatusCode, e.Body)
}

// Client talks to the upstream proxy's management API. All calls are
// synchronous point-to-point requests with a short timeout; callers treat a
// failure as a skipped cycle and retry on their next tick.
type Client struct {
	baseURL       string
	managementKey string
	httpClient    *http.Client
}

func NewClient(baseURL, managementKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:       baseURL,
		managementKey: managementKey,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Usage(ctx context.Context) (*UsageResponse, error) {
	var out UsageResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v0/management/usage", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExportUsage returns the raw snapshot payload. The bytes are persisted and
// replayed verbatim so nothing is lost to partial struct mappings.
func (c *Client) ExportUsage(ctx context.Context) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, "/v0/management/usage/export", nil, nil)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) ImportUsage(ctx context.Context, snapshot json.RawMessage) (*ImportResult, error) {
	body, err := c.do(ctx, http.MethodPost, "/v0/management/usage/import", nil, bytes.NewReader(snapshot))
	if err != nil {
		return nil, err
	}

	var out ImportResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("upstream: decode import result: %w", err)
	}
	return &out, nil
}

func (c *Client) AuthFiles(ctx context.Context) ([]AuthFile, error) {
	var out struct {
		Files []AuthFile `json:"files"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v0/management/auth-files", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

func (c *Client) AuthFileDetail(ctx context.Context, path string) (*AuthFileDetail, error) {
	query := url.Values{"path": {path}}

	var out AuthFileDetail
	if err := c.doJSON(ctx, http.MethodGet, "/v0/management/auth-files/download", query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) APIKeys(ctx context.Context) ([]string, error) {
	var out struct {
		APIKeys []string `json:"api_keys"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v0/management/api-keys", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.APIKeys, nil
}

func (c *Client) PutAPIKeys(ctx context.Context, keys []string) error {
	payload, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("upstream: encode api keys: %w", err)
	}

	_, err = c.do(ctx, http.MethodPut, "/v0/management/api-keys", nil, bytes.NewReader(payload))
	return err
}

func (c *Client) AuthURL(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v0/management/anthropic-auth-url", nil, nil)
}

func (c *Client) CompleteOAuth(ctx context.Context, provider, code, state string) (*OAuthResult, error) {
	payload, err := json.Marshal(map[string]string{
		"provider": provider,
		"code":     code,
		"state":    state,
	})
	if err != nil {
		return nil, fmt.Errorf("upstream: encode oauth callback: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/v0/management/oauth-callback", nil, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	var out OAuthResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("upstream: decode oauth result: %w", err)
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body io.Reader, out any) error {
	raw, err := c.do(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("upstream: decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}

	req.Header.Set(managementKeyHeader, c.managementKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upstream: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	return raw, nil
}
