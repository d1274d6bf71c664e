// Package config loads and validates enricher configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/profile-email-enricher/internal/github"
	"github.com/JakeFAU/profile-email-enricher/internal/httpclient"
	"github.com/JakeFAU/profile-email-enricher/internal/logging"
	"github.com/JakeFAU/profile-email-enricher/internal/policy/ratelimit"
	"github.com/JakeFAU/profile-email-enricher/internal/storage/gcs"
	"github.com/JakeFAU/profile-email-enricher/internal/storage/local"
	"github.com/JakeFAU/profile-email-enricher/internal/storage/postgres"
	"github.com/JakeFAU/profile-email-enricher/internal/storage/sheets"
)

// Mode selects where rows are read from and written to.
type Mode string

// Supported modes. Each reads credentials from its own environment variable
// in addition to ENRICHER_GITHUB_API_KEYS.
const (
	ModeFile   Mode = "file"
	ModeSheets Mode = "sheets"
)

var modeKeyEnv = map[Mode]string{
	ModeFile:   "MY_GITHUB_API_KEYS",
	ModeSheets: "MY_GITHUB_API_KEYS2",
}

// ErrUnknownMode is returned by Load for modes other than file and sheets.
var ErrUnknownMode = errors.New("unknown mode")

// Config captures all enricher configuration knobs loaded via Viper.
type Config struct {
	Mode     Mode           `mapstructure:"-"`
	Logging  logging.Config `mapstructure:"logging"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Run      RunConfig      `mapstructure:"run"`
	Input    local.Config   `mapstructure:"input"`
	Sheets   sheets.Config  `mapstructure:"sheets"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// GitHubConfig holds credentials, endpoints and the key-rotation thresholds.
type GitHubConfig struct {
	// APIKeys is a comma-separated token list.
	APIKeys            string        `mapstructure:"api_keys"`
	APIBaseURL         string        `mapstructure:"api_base_url"`
	RawBaseURL         string        `mapstructure:"raw_base_url"`
	ReadmePath         string        `mapstructure:"readme_path"`
	UserAgent          string        `mapstructure:"user_agent"`
	MinRemaining       int           `mapstructure:"min_remaining"`
	MaxFailedRotations int           `mapstructure:"max_failed_rotations"`
	Cooldown           time.Duration `mapstructure:"cooldown"`
}

// HTTPConfig configures HTTP client retry behavior.
type HTTPConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	RetryStatuses     []int         `mapstructure:"retry_statuses"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
}

// RunConfig bounds a single invocation. Zero MaxRuntime disables the budget.
type RunConfig struct {
	MaxRuntime time.Duration `mapstructure:"max_runtime"`
}

// PostgresConfig enables the optional mirror table.
type PostgresConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	postgres.Config `mapstructure:",squash"`
}

// ArchiveConfig enables uploading the finished local table to GCS.
type ArchiveConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	gcs.Config `mapstructure:",squash"`
}

// MetricsConfig controls the optional Prometheus listener. Empty disables it.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load builds a Config for mode from disk and environment. Overrides are keyed
// like the config file ("input.path") and take precedence over every other source.
func Load(path string, mode Mode, overrides map[string]any) (Config, error) {
	modeEnv, ok := modeKeyEnv[mode]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	v := viper.New()
	v.SetEnvPrefix("ENRICHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("github.api_keys", "ENRICHER_GITHUB_API_KEYS", modeEnv); err != nil {
		return Config{}, fmt.Errorf("bind credentials env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Mode = mode

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so that AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")

	v.SetDefault("github.api_base_url", github.DefaultAPIBaseURL)
	v.SetDefault("github.raw_base_url", github.DefaultRawBaseURL)
	v.SetDefault("github.readme_path", github.DefaultReadmePath)
	v.SetDefault("github.user_agent", github.DefaultUserAgent)
	v.SetDefault("github.min_remaining", ratelimit.DefaultMinRemaining)
	v.SetDefault("github.max_failed_rotations", ratelimit.DefaultMaxFailedRotations)
	v.SetDefault("github.cooldown", ratelimit.DefaultCooldown)

	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.max_retries", httpclient.DefaultMaxRetries)
	v.SetDefault("http.backoff_base", httpclient.DefaultBackoffBase)
	v.SetDefault("http.retry_statuses", httpclient.DefaultRetryStatuses)
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("http.max_body_bytes", 0)

	v.SetDefault("run.max_runtime", 5*time.Hour+50*time.Minute)

	v.SetDefault("input.path", "")
	v.SetDefault("input.sheet", "")
	v.SetDefault("input.save_every_row", true)

	v.SetDefault("sheets.spreadsheet_id", "")
	v.SetDefault("sheets.credentials_file", "")
	v.SetDefault("sheets.input_range", sheets.DefaultInputRange)
	v.SetDefault("sheets.output_sheet", sheets.DefaultOutputSheet)
	v.SetDefault("sheets.resume_from_output", true)

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.table", "profile_emails")
	v.SetDefault("postgres.max_conns", 2)
	v.SetDefault("postgres.min_conns", 0)
	v.SetDefault("postgres.max_conn_lifetime", 30*time.Minute)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "enricher")

	v.SetDefault("metrics.listen_addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Credentials()) == 0 {
		return fmt.Errorf("%w: set %s or ENRICHER_GITHUB_API_KEYS", ratelimit.ErrNoCredentials, modeKeyEnv[c.Mode])
	}
	if c.GitHub.MinRemaining < 0 {
		return fmt.Errorf("github.min_remaining must be >= 0")
	}
	if c.GitHub.MaxFailedRotations <= 0 {
		return fmt.Errorf("github.max_failed_rotations must be > 0")
	}
	if c.GitHub.Cooldown < 0 {
		return fmt.Errorf("github.cooldown must be >= 0")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http.requests_per_second must be >= 0")
	}
	if c.Run.MaxRuntime < 0 {
		return fmt.Errorf("run.max_runtime must be >= 0")
	}

	switch c.Mode {
	case ModeFile:
		if strings.TrimSpace(c.Input.Path) == "" {
			return fmt.Errorf("input.path is required in file mode")
		}
	case ModeSheets:
		if strings.TrimSpace(c.Sheets.SpreadsheetID) == "" {
			return fmt.Errorf("sheets.spreadsheet_id is required in sheets mode")
		}
		if c.Archive.Enabled {
			return fmt.Errorf("archive is only supported in file mode")
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, c.Mode)
	}

	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn must be set when postgres is enabled")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket must be set when archive is enabled")
	}
	return nil
}

// Credentials returns the parsed token list.
func (c Config) Credentials() []string {
	return ratelimit.ParseCredentials(c.GitHub.APIKeys)
}

// RateLimit converts the rotation thresholds.
func (c Config) RateLimit() ratelimit.Config {
	return ratelimit.Config{
		MinRemaining:       c.GitHub.MinRemaining,
		MaxFailedRotations: c.GitHub.MaxFailedRotations,
		Cooldown:           c.GitHub.Cooldown,
	}
}

// HTTPClient converts the retry and pacing settings.
func (c Config) HTTPClient() httpclient.Config {
	return httpclient.Config{
		MaxRetries:        c.HTTP.MaxRetries,
		BackoffBase:       c.HTTP.BackoffBase,
		RetryStatuses:     c.HTTP.RetryStatuses,
		Timeout:           c.HTTP.Timeout,
		RequestsPerSecond: c.HTTP.RequestsPerSecond,
		MaxBodyBytes:      c.HTTP.MaxBodyBytes,
	}
}

// GitHubClient converts the endpoint settings.
func (c Config) GitHubClient() github.Config {
	return github.Config{
		APIBaseURL: c.GitHub.APIBaseURL,
		RawBaseURL: c.GitHub.RawBaseURL,
		ReadmePath: c.GitHub.ReadmePath,
		UserAgent:  c.GitHub.UserAgent,
	}
}
