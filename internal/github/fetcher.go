package github

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/profile-email-enricher/internal/extract"
)

// Credentials hands out the API credential to use for the next request.
type Credentials interface {
	Acquire(ctx context.Context) (string, error)
}

// Fetcher resolves an email address for a profile identifier.
type Fetcher struct {
	api      *Client
	keys     Credentials
	logger   *zap.Logger
	requests int
}

// NewFetcher wires a Fetcher.
func NewFetcher(api *Client, keys Credentials, logger *zap.Logger) (*Fetcher, error) {
	if api == nil {
		return nil, fmt.Errorf("api client is required")
	}
	if keys == nil {
		return nil, fmt.Errorf("credential pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{api: api, keys: keys, logger: logger}, nil
}

// Requests returns the number of profile lookups issued.
func (f *Fetcher) Requests() int {
	return f.requests
}

// FetchEmail returns the public email for identifier, a username or a profile URL.
// The profile's email field wins; otherwise the profile README is scanned.
// A non-success profile response is a miss, not an error.
func (f *Fetcher) FetchEmail(ctx context.Context, identifier string) (string, bool, error) {
	username := Username(identifier)
	if username == "" {
		return "", false, fmt.Errorf("empty identifier %q", identifier)
	}

	credential, err := f.keys.Acquire(ctx)
	if err != nil {
		return "", false, fmt.Errorf("acquire credential: %w", err)
	}
	f.requests++

	user, status, err := f.api.User(ctx, credential, username)
	if err != nil {
		return "", false, err
	}
	if status < 200 || status >= 300 {
		f.logger.Info("failed to fetch user info",
			zap.String("identifier", identifier),
			zap.Int("status", status),
		)
		return "", false, nil
	}
	if email := strings.TrimSpace(user.Email); email != "" {
		return email, true, nil
	}

	readme, found, err := f.api.Readme(ctx, username)
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", false, nil
	}
	email, ok := extract.Email(readme)
	return email, ok, nil
}

// Username normalizes a profile URL to its trailing path segment.
// Anything that is not an absolute http(s) URL is returned trimmed.
func Username(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	lower := strings.ToLower(identifier)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return identifier
	}
	path := identifier
	if u, err := url.Parse(identifier); err == nil {
		path = u.Path
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	return segments[len(segments)-1]
}
