// Package config manages bulkops configuration and the .bulkops directory.
// It handles loading, saving and initializing the project configuration and
// reading secrets from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/storeops/bulkops/internal/batch"
	"github.com/storeops/bulkops/internal/history"
	"github.com/storeops/bulkops/internal/remote"
	"github.com/storeops/bulkops/internal/store"
)

const (
	Dir        = ".bulkops"
	ConfigFile = "config"
	BoltFile   = "history.db"
	SQLiteFile = "history.sqlite"
	EnvFile    = ".env"

	// EnvAccessToken holds the Shopify Admin API access token.
	EnvAccessToken = "SHOPIFY_ACCESS_TOKEN"
	// EnvAPIToken holds the bearer token required by the HTTP API.
	EnvAPIToken = "BULKOPS_API_TOKEN"

	DefaultRateProfile = "standard"
	DefaultListen      = "127.0.0.1:8730"
)

// ErrNotInitialized is returned when no .bulkops directory is found.
var ErrNotInitialized = errors.New("not a bulkops project (or any parent up to root); run 'bulkops init'")

// RateProfile is the group size and inter-group delay for one store plan.
type RateProfile struct {
	GroupSize     int `toml:"group_size"`
	WindowDelayMS int `toml:"window_delay_ms"`
}

// builtinProfiles match the REST Admin API leaky bucket of each plan.
var builtinProfiles = map[string]RateProfile{
	"standard": {GroupSize: batch.DefaultGroupSize, WindowDelayMS: int(batch.DefaultWindowDelay / time.Millisecond)},
	"plus":     {GroupSize: 10, WindowDelayMS: 1100},
}

// RetrySettings configures transport retries of remote calls.
type RetrySettings struct {
	MaxRetries       int `toml:"max_retries"`
	InitialBackoffMS int `toml:"initial_backoff_ms"`
	MaxBackoffMS     int `toml:"max_backoff_ms"`
}

// ServerSettings configures `bulkops serve`.
type ServerSettings struct {
	Listen               string   `toml:"listen"`
	WebhookURLs          []string `toml:"webhook_urls,omitempty"`
	RequestsPerMinute    int      `toml:"requests_per_minute"`
	ExpirySweepIntervalS int      `toml:"expiry_sweep_interval_s"`
}

// Config represents the bulkops configuration.
type Config struct {
	ShopDomain        string                 `toml:"shop_domain"`
	APIVersion        string                 `toml:"api_version"`
	HistoryBackend    string                 `toml:"history_backend"`
	MaxHistoryEntries int                    `toml:"max_history_entries"`
	RateProfile       string                 `toml:"rate_profile"`
	RateLimits        map[string]RateProfile `toml:"rate_limits,omitempty"`
	Retry             RetrySettings          `toml:"retry"`
	Server            ServerSettings         `toml:"server"`

	path string // path to .bulkops directory
}

// Secrets are read from the environment and never written to the config file.
type Secrets struct {
	AccessToken string
	APIToken    string
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.APIVersion == "" {
		c.APIVersion = remote.DefaultAPIVersion
	}
	if c.HistoryBackend == "" {
		c.HistoryBackend = store.BackendBolt
	}
	if c.MaxHistoryEntries == 0 {
		c.MaxHistoryEntries = history.DefaultMaxEntries
	}
	if c.RateProfile == "" {
		c.RateProfile = DefaultRateProfile
	}
	def := remote.DefaultRetryConfig()
	if c.Retry.MaxRetries == 0 && c.Retry.InitialBackoffMS == 0 && c.Retry.MaxBackoffMS == 0 {
		c.Retry = RetrySettings{
			MaxRetries:       def.MaxRetries,
			InitialBackoffMS: int(def.InitialBackoff / time.Millisecond),
			MaxBackoffMS:     int(def.MaxBackoff / time.Millisecond),
		}
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Server.RequestsPerMinute == 0 {
		c.Server.RequestsPerMinute = 300
	}
}

// FindRoot finds the .bulkops directory by walking up from the current directory.
func FindRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return FindRootFrom(dir)
}

// FindRootFrom finds the .bulkops directory by walking up from dir.
func FindRootFrom(dir string) (string, error) {
	for {
		p := filepath.Join(dir, Dir)
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotInitialized
		}
		dir = parent
	}
}

// Load loads the configuration of the project containing the current directory.
func Load() (*Config, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return LoadFrom(dir)
}

// LoadFrom loads the configuration of the project containing dir.
func LoadFrom(dir string) (*Config, error) {
	root, err := FindRootFrom(dir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(root, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.path = root
	return &cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.HistoryBackend {
	case store.BackendBolt, store.BackendSQLite:
	default:
		return fmt.Errorf("history_backend: unknown backend %q (use %s or %s)", c.HistoryBackend, store.BackendBolt, store.BackendSQLite)
	}
	if c.MaxHistoryEntries < 0 {
		return fmt.Errorf("max_history_entries: must not be negative")
	}
	if _, err := c.BatchOptions(); err != nil {
		return err
	}
	if c.Retry.MaxRetries < 0 || c.Retry.InitialBackoffMS < 0 || c.Retry.MaxBackoffMS < 0 {
		return fmt.Errorf("retry: values must not be negative")
	}
	return nil
}

// Save saves the configuration to disk.
func (c *Config) Save() error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(c.path, ConfigFile), data, 0644)
}

// Path returns the path to the .bulkops directory.
func (c *Config) Path() string {
	return c.path
}

// ProjectRoot returns the directory containing .bulkops.
func (c *Config) ProjectRoot() string {
	return filepath.Dir(c.path)
}

// HistoryPath returns the database file of the configured backend.
func (c *Config) HistoryPath() string {
	if c.HistoryBackend == store.BackendSQLite {
		return filepath.Join(c.path, SQLiteFile)
	}
	return filepath.Join(c.path, BoltFile)
}

// Profiles returns the names of the built-in and configured rate profiles.
func (c *Config) Profiles() []string {
	seen := make(map[string]bool)
	var names []string
	for name := range builtinProfiles {
		seen[name] = true
		names = append(names, name)
	}
	for name := range c.RateLimits {
		if !seen[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Profile resolves a rate profile by name. Configured profiles override
// built-ins of the same name.
func (c *Config) Profile(name string) (RateProfile, error) {
	p, ok := c.RateLimits[name]
	if !ok {
		p, ok = builtinProfiles[name]
	}
	if !ok {
		return RateProfile{}, fmt.Errorf("rate_profile: unknown profile %q", name)
	}
	if p.GroupSize <= 0 {
		return RateProfile{}, fmt.Errorf("rate_limits.%s: group_size must be positive", name)
	}
	if p.WindowDelayMS < 0 {
		return RateProfile{}, fmt.Errorf("rate_limits.%s: window_delay_ms must not be negative", name)
	}
	return p, nil
}

// BatchOptions returns the orchestrator options of the selected rate profile.
func (c *Config) BatchOptions() (batch.Options, error) {
	p, err := c.Profile(c.RateProfile)
	if err != nil {
		return batch.Options{}, err
	}
	return batch.Options{
		GroupSize:   p.GroupSize,
		WindowDelay: time.Duration(p.WindowDelayMS) * time.Millisecond,
	}, nil
}

// RetryConfig returns the transport retry settings.
func (c *Config) RetryConfig() *remote.RetryConfig {
	rc := remote.DefaultRetryConfig()
	rc.MaxRetries = c.Retry.MaxRetries
	if c.Retry.InitialBackoffMS > 0 {
		rc.InitialBackoff = time.Duration(c.Retry.InitialBackoffMS) * time.Millisecond
	}
	if c.Retry.MaxBackoffMS > 0 {
		rc.MaxBackoff = time.Duration(c.Retry.MaxBackoffMS) * time.Millisecond
	}
	return rc
}

// SweepInterval returns the discount expiry sweep interval, zero when disabled.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Server.ExpirySweepIntervalS) * time.Second
}

// LoadSecrets loads .env from the project root, if present, and reads the
// secrets from the environment. Variables already set take precedence over
// the file.
func (c *Config) LoadSecrets() (Secrets, error) {
	envPath := filepath.Join(c.ProjectRoot(), EnvFile)
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return Secrets{}, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}
	return Secrets{
		AccessToken: os.Getenv(EnvAccessToken),
		APIToken:    os.Getenv(EnvAPIToken),
	}, nil
}

// Initialize creates a new .bulkops directory in dir with the default
// configuration.
func Initialize(dir, shopDomain string) (*Config, error) {
	p := filepath.Join(dir, Dir)

	// Check if already initialized
	if _, err := os.Stat(p); err == nil {
		return nil, fmt.Errorf("bulkops project already exists in %s", dir)
	}

	if err := os.MkdirAll(p, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s directory: %w", Dir, err)
	}

	cfg := Default()
	cfg.ShopDomain = shopDomain
	cfg.path = p

	if err := cfg.Save(); err != nil {
		// Cleanup on failure
		os.RemoveAll(p)
		return nil, err
	}

	return cfg, nil
}
