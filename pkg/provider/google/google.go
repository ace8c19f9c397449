// Package google implements the provider adapters for the Google reporting
// APIs: GA4 analytics, Search Console and Ads. All three share one OAuth
// refresh flow and one JSON-over-HTTP client.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Default API endpoints. Tests point these at httptest servers.
const (
	defaultTokenURL          = "https://oauth2.googleapis.com/token"
	defaultAdminBaseURL      = "https://analyticsadmin.googleapis.com"
	defaultDataBaseURL       = "https://analyticsdata.googleapis.com"
	defaultWebmastersBaseURL = "https://www.googleapis.com"
	defaultAdsBaseURL        = "https://googleads.googleapis.com"
)

// Config carries the OAuth client settings and endpoint overrides shared by
// the adapters.
type Config struct {
	ClientID     string
	ClientSecret string

	// TokenURL overrides the OAuth token endpoint.
	TokenURL string

	// Base URL overrides, one per API family.
	AdminBaseURL      string
	DataBaseURL       string
	WebmastersBaseURL string
	AdsBaseURL        string

	// DeveloperToken is required by the ads reporting API only.
	DeveloperToken string

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

func (c *Config) applyDefaults() {
	if c.TokenURL == "" {
		c.TokenURL = defaultTokenURL
	}
	if c.AdminBaseURL == "" {
		c.AdminBaseURL = defaultAdminBaseURL
	}
	if c.DataBaseURL == "" {
		c.DataBaseURL = defaultDataBaseURL
	}
	if c.WebmastersBaseURL == "" {
		c.WebmastersBaseURL = defaultWebmastersBaseURL
	}
	if c.AdsBaseURL == "" {
		c.AdsBaseURL = defaultAdsBaseURL
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
}

// client is the shared JSON-over-HTTP transport of the adapters.
type client struct {
	cfg    Config
	logger *zap.Logger
}

func newClient(cfg Config, logger *zap.Logger) client {
	cfg.applyDefaults()
	return client{cfg: cfg, logger: logger}
}

// getJSON performs an authorized GET and decodes the response into out.
func (c *client) getJSON(ctx context.Context, accessSecret, url string, out interface{}) error {
	return c.doJSON(ctx, http.MethodGet, accessSecret, url, nil, out, nil)
}

// postJSON performs an authorized POST with a JSON body and decodes the
// response into out.
func (c *client) postJSON(ctx context.Context, accessSecret, url string, body, out interface{}) error {
	return c.doJSON(ctx, http.MethodPost, accessSecret, url, body, out, nil)
}

func (c *client) doJSON(ctx context.Context, method, accessSecret, url string, body, out interface{}, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessSecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, snippet)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
