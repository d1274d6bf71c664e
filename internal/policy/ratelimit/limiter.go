// Package ratelimit rotates API credentials ahead of upstream quota exhaustion.
//
// Before each upstream call the caller asks the KeyPool to probe the remaining
// quota of the active credential. A low reading advances to the next credential;
// once every credential has been found exhausted enough times in a row the pool
// blocks for a cooldown so the upstream quota window can reset.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/profile-email-enricher/internal/metrics"
)

// Defaults match the upstream's hourly quota window.
const (
	DefaultMinRemaining       = 10
	DefaultMaxFailedRotations = 18
	DefaultCooldown           = 3900 * time.Second
)

// ErrNoCredentials is returned when the pool is built without any credential.
var ErrNoCredentials = errors.New("no api credentials configured")

// Prober reports the remaining request quota for a credential.
type Prober interface {
	Remaining(ctx context.Context, credential string) (int, error)
}

// Sleeper blocks for the cooldown.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Config holds rotation thresholds.
type Config struct {
	// MinRemaining is the quota below which the active credential is rotated out.
	MinRemaining int
	// MaxFailedRotations is the number of consecutive rotations that triggers a cooldown.
	MaxFailedRotations int
	// Cooldown is how long to block once MaxFailedRotations is reached.
	Cooldown time.Duration
}

// KeyPool owns the ordered credential list and the rotation state.
// It is not safe for concurrent use; the enrichment loop is single-threaded.
type KeyPool struct {
	credentials    []string
	current        int
	failedAttempts int
	cfg            Config
	prober         Prober
	sleeper        Sleeper
	logger         *zap.Logger
}

// DefaultConfig returns the rotation thresholds used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MinRemaining:       DefaultMinRemaining,
		MaxFailedRotations: DefaultMaxFailedRotations,
		Cooldown:           DefaultCooldown,
	}
}

// New creates a KeyPool. Config values are used as given: a zero MinRemaining
// never rotates and a zero Cooldown resumes immediately.
func New(credentials []string, prober Prober, sleeper Sleeper, cfg Config, logger *zap.Logger) (*KeyPool, error) {
	if len(credentials) == 0 {
		return nil, ErrNoCredentials
	}
	if prober == nil {
		return nil, fmt.Errorf("quota prober is required")
	}
	if sleeper == nil {
		return nil, fmt.Errorf("sleeper is required")
	}
	if cfg.MinRemaining < 0 {
		return nil, fmt.Errorf("min remaining must be >= 0, got %d", cfg.MinRemaining)
	}
	if cfg.MaxFailedRotations <= 0 {
		return nil, fmt.Errorf("max failed rotations must be > 0, got %d", cfg.MaxFailedRotations)
	}
	if cfg.Cooldown < 0 {
		return nil, fmt.Errorf("cooldown must be >= 0, got %s", cfg.Cooldown)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyPool{
		credentials: append([]string(nil), credentials...),
		cfg:         cfg,
		prober:      prober,
		sleeper:     sleeper,
		logger:      logger,
	}, nil
}

// ParseCredentials splits a comma-separated token list, dropping blanks.
func ParseCredentials(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if token := strings.TrimSpace(part); token != "" {
			out = append(out, token)
		}
	}
	return out
}

// Size returns the number of credentials in the pool.
func (p *KeyPool) Size() int {
	return len(p.credentials)
}

// Current returns the active credential.
func (p *KeyPool) Current() string {
	return p.credentials[p.current]
}

// CurrentIndex returns the position of the active credential.
func (p *KeyPool) CurrentIndex() int {
	return p.current
}

// FailedAttempts returns the rotations performed since the last recovery or cooldown.
func (p *KeyPool) FailedAttempts() int {
	return p.failedAttempts
}

// Acquire checks the quota, rotating if needed, and returns the credential to use.
func (p *KeyPool) Acquire(ctx context.Context) (string, error) {
	if err := p.CheckAndRotate(ctx); err != nil {
		return "", err
	}
	return p.Current(), nil
}

// CheckAndRotate probes the active credential and rotates once when it is low.
// A failed probe counts as zero remaining. Reaching the rotation ceiling blocks
// for the cooldown and resets the counter; only a canceled context ends the wait early.
func (p *KeyPool) CheckAndRotate(ctx context.Context) error {
	remaining, err := p.prober.Remaining(ctx, p.Current())
	if err != nil {
		p.logger.Warn("quota probe failed; treating as exhausted",
			zap.Int("key_index", p.current),
			zap.Error(err),
		)
		remaining = 0
	}
	metrics.SetQuotaRemaining(remaining)
	p.logger.Info("remaining requests for current key",
		zap.Int("key_index", p.current),
		zap.Int("remaining", remaining),
	)

	if remaining >= p.cfg.MinRemaining {
		p.failedAttempts = 0
		return nil
	}

	p.current = (p.current + 1) % len(p.credentials)
	p.failedAttempts++
	metrics.ObserveRotation()
	p.logger.Info("switched to next api key",
		zap.Int("key_index", p.current),
		zap.Int("failed_attempts", p.failedAttempts),
	)

	if p.failedAttempts < p.cfg.MaxFailedRotations {
		return nil
	}

	p.logger.Warn("rate limit hit for all keys; cooling down",
		zap.Duration("cooldown", p.cfg.Cooldown),
		zap.Int("keys", len(p.credentials)),
	)
	metrics.ObserveCooldown(p.cfg.Cooldown)
	if err := p.sleeper.Sleep(ctx, p.cfg.Cooldown); err != nil {
		return fmt.Errorf("quota cooldown: %w", err)
	}
	p.failedAttempts = 0
	return nil
}
