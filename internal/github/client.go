// Package github talks to the GitHub REST API and raw content host.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/profile-email-enricher/internal/httpclient"
)

// Default upstream locations.
const (
	DefaultAPIBaseURL = "https://api.github.com"
	DefaultRawBaseURL = "https://raw.githubusercontent.com"
	DefaultReadmePath = "{user}/{user}/main/README.md"
	DefaultUserAgent  = "profile-email-enricher/1.0"
)

// Getter issues retried GET requests.
type Getter interface {
	Get(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
}

// Config locates the upstream endpoints.
type Config struct {
	APIBaseURL string
	RawBaseURL string
	// ReadmePath is joined to RawBaseURL; every {user} is replaced by the username.
	ReadmePath string
	UserAgent  string
}

// User is the subset of the profile payload the enricher reads.
type User struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

type rateLimitPayload struct {
	Rate struct {
		Limit     int `json:"limit"`
		Remaining int `json:"remaining"`
	} `json:"rate"`
}

// Client wraps the endpoints used for enrichment.
type Client struct {
	http   Getter
	cfg    Config
	logger *zap.Logger
}

// NewClient creates a Client. Empty config fields fall back to the public GitHub endpoints.
func NewClient(getter Getter, cfg Config, logger *zap.Logger) (*Client, error) {
	if getter == nil {
		return nil, fmt.Errorf("http client is required")
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.RawBaseURL == "" {
		cfg.RawBaseURL = DefaultRawBaseURL
	}
	if cfg.ReadmePath == "" {
		cfg.ReadmePath = DefaultReadmePath
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	cfg.RawBaseURL = strings.TrimRight(cfg.RawBaseURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{http: getter, cfg: cfg, logger: logger}, nil
}

// Remaining probes the rate limit endpoint for credential.
// Any non-success status is reported as an error so the caller can treat it as exhausted.
func (c *Client) Remaining(ctx context.Context, credential string) (int, error) {
	resp, err := c.http.Get(ctx, httpclient.Request{
		URL:      c.cfg.APIBaseURL + "/rate_limit",
		Header:   c.apiHeader(credential),
		Endpoint: "rate_limit",
	})
	if err != nil {
		return 0, fmt.Errorf("probe rate limit: %w", err)
	}
	if !resp.OK() {
		return 0, fmt.Errorf("probe rate limit: status %d", resp.StatusCode)
	}
	var payload rateLimitPayload
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return 0, fmt.Errorf("decode rate limit: %w", err)
	}
	return payload.Rate.Remaining, nil
}

// User looks up a profile by username. The returned status is the upstream
// HTTP status; the User is only populated for a success status.
func (c *Client) User(ctx context.Context, credential, username string) (User, int, error) {
	resp, err := c.http.Get(ctx, httpclient.Request{
		URL:      c.cfg.APIBaseURL + "/users/" + url.PathEscape(username),
		Header:   c.apiHeader(credential),
		Endpoint: "users",
	})
	if err != nil {
		return User{}, 0, fmt.Errorf("get user %s: %w", username, err)
	}
	if !resp.OK() {
		return User{}, resp.StatusCode, nil
	}
	var user User
	if err := json.Unmarshal(resp.Body, &user); err != nil {
		return User{}, resp.StatusCode, fmt.Errorf("decode user %s: %w", username, err)
	}
	return user, resp.StatusCode, nil
}

// Readme fetches the user's profile README. The request is unauthenticated.
// The boolean is false when the document does not exist.
func (c *Client) Readme(ctx context.Context, username string) (string, bool, error) {
	resp, err := c.http.Get(ctx, httpclient.Request{
		URL:      c.ReadmeURL(username),
		Header:   http.Header{"User-Agent": []string{c.cfg.UserAgent}},
		Endpoint: "readme",
	})
	if err != nil {
		return "", false, fmt.Errorf("get readme %s: %w", username, err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("readme not available",
			zap.String("username", username),
			zap.Int("status", resp.StatusCode),
		)
		return "", false, nil
	}
	return string(resp.Body), true, nil
}

// ReadmeURL builds the conventional README location for username.
func (c *Client) ReadmeURL(username string) string {
	path := strings.ReplaceAll(c.cfg.ReadmePath, "{user}", url.PathEscape(username))
	return c.cfg.RawBaseURL + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) apiHeader(credential string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "token "+credential)
	h.Set("Accept", "application/vnd.github+json")
	h.Set("User-Agent", c.cfg.UserAgent)
	return h
}
