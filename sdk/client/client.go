// Package client is a small HTTP client for the devserver plugin bridge.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client calls the plugin bridge.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// New returns a client with a default HTTP timeout.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Error is a failed plugin call as reported by the bridge.
type Error struct {
	Status   int    `json:"-"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("bridge error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Server is the origin reported by the server calls.
type Server struct {
	URL     string `json:"url"`
	Persist bool   `json:"persist"`
}

// ServerOptions is the host launch server block.
type ServerOptions struct {
	URL           string `json:"url"`
	Cleartext     bool   `json:"cleartext"`
	AndroidScheme string `json:"androidScheme"`
}

// Options is the host launch override.
type Options struct {
	Server *ServerOptions `json:"server,omitempty"`
}

// AssetInfo describes an installed bundle.
type AssetInfo struct {
	Name    string    `json:"name"`
	Dir     string    `json:"dir"`
	Created time.Time `json:"created"`
}

// DownloadRequest asks the bridge to install an archive.
type DownloadRequest struct {
	URL       string `json:"url"`
	Overwrite bool   `json:"overwrite,omitempty"`
	Checksum  string `json:"checksum,omitempty"`
}

func (c *Client) SetServer(ctx context.Context, url string, persist, autoRestart bool) (*Server, error) {
	var out Server
	req := map[string]any{"url": url, "persist": persist, "autoRestart": autoRestart}
	if err := c.call(ctx, "setServer", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetServer(ctx context.Context) (*Server, error) {
	var out Server
	if err := c.call(ctx, "getServer", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ClearServer(ctx context.Context, autoRestart bool) error {
	return c.call(ctx, "clearServer", map[string]any{"autoRestart": autoRestart}, nil)
}

func (c *Client) ApplyServer(ctx context.Context) (*Server, error) {
	var out Server
	if err := c.call(ctx, "applyServer", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadAsset installs an archive. It blocks until the install finishes.
func (c *Client) DownloadAsset(ctx context.Context, req DownloadRequest) error {
	return c.call(ctx, "downloadAsset", req, nil)
}

func (c *Client) GetAssetList(ctx context.Context) ([]string, error) {
	var out struct {
		Assets []string `json:"assets"`
	}
	if err := c.call(ctx, "getAssetList", nil, &out); err != nil {
		return nil, err
	}
	return out.Assets, nil
}

func (c *Client) GetAssetInfo(ctx context.Context, name string) (*AssetInfo, error) {
	var out AssetInfo
	if err := c.call(ctx, "getAssetInfo", map[string]any{"assetName": name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ApplyAsset(ctx context.Context, name string, persist bool) error {
	return c.call(ctx, "applyAsset", map[string]any{"assetName": name, "persist": persist}, nil)
}

func (c *Client) RemoveAsset(ctx context.Context, name string) error {
	return c.call(ctx, "removeAsset", map[string]any{"assetName": name}, nil)
}

func (c *Client) RestoreDefaultAsset(ctx context.Context) error {
	return c.call(ctx, "restoreDefaultAsset", nil, nil)
}

func (c *Client) GetOptions(ctx context.Context) (*Options, error) {
	var out Options
	if err := c.call(ctx, "getOptions", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetDevMode toggles the developer switcher flag.
func (c *Client) SetDevMode(ctx context.Context, enabled bool) error {
	method := "disableDevMode"
	if enabled {
		method = "enableDevMode"
	}
	return c.call(ctx, method, nil, nil)
}

func (c *Client) DevModeEnabled(ctx context.Context) (bool, error) {
	var out struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.call(ctx, "isDevModeEnabled", nil, &out); err != nil {
		return false, err
	}
	return out.Enabled, nil
}

// SetCleartext records an explicit cleartext override for the launch options.
func (c *Client) SetCleartext(ctx context.Context, allow bool) error {
	return c.call(ctx, "setCleartext", map[string]any{"allow": allow}, nil)
}

func (c *Client) Cleartext(ctx context.Context) (bool, error) {
	var out struct {
		Cleartext bool `json:"cleartext"`
	}
	if err := c.call(ctx, "getCleartext", nil, &out); err != nil {
		return false, err
	}
	return out.Cleartext, nil
}

// SetAndroidScheme records an explicit scheme override for the launch options.
func (c *Client) SetAndroidScheme(ctx context.Context, scheme string) error {
	return c.call(ctx, "setAndroidScheme", map[string]any{"scheme": scheme}, nil)
}

func (c *Client) AndroidScheme(ctx context.Context) (string, error) {
	var out struct {
		Scheme string `json:"scheme"`
	}
	if err := c.call(ctx, "getAndroidScheme", nil, &out); err != nil {
		return "", err
	}
	return out.Scheme, nil
}

// Health checks that the bridge is up.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) call(ctx context.Context, method string, body any, out any) error {
	var env struct {
		Result json.RawMessage `json:"result"`
	}
	if body == nil {
		body = struct{}{}
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/plugin/"+method, body, &env); err != nil {
		return err
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var payload io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		payload = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), payload)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(status int, data []byte) error {
	var env struct {
		Error *Error `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err == nil && env.Error != nil {
		env.Error.Status = status
		return env.Error
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &Error{Status: status, Message: msg}
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}
