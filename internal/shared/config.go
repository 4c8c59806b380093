package shared

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/oauth2"
)

//go:embed config.example.toml
var exampleConf []byte

// ConfigEnv names the environment variable that points at a config file.
const ConfigEnv = "AUDIOARCHITECT_CONFIG"

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Server    ServerConfig    `toml:"server"`
	Sync      SyncConfig      `toml:"sync"`
	Retention RetentionConfig `toml:"retention"`
	Execution ExecutionConfig `toml:"execution"`
	Cache     CacheConfig     `toml:"cache"`
	Spotify   SpotifyConfig   `toml:"spotify"`
	Proxy     ProxyConfig     `toml:"proxy"`
	Groups    []GroupConfig   `toml:"groups"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	ReadTimeout  string `toml:"read_timeout"`
	WriteTimeout string `toml:"write_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SyncConfig controls the orchestrator.
type SyncConfig struct {
	DefaultPolicy      string  `toml:"default_policy"`
	DuplicateThreshold float64 `toml:"duplicate_threshold"`
	LeaseTTL           string  `toml:"lease_ttl"`
	Reorder            bool    `toml:"reorder"`
}

// RetentionConfig bounds how many snapshots are kept per playlist.
//
// Zero disables a bound. The newest snapshot is always kept.
type RetentionConfig struct {
	KeepLast int    `toml:"keep_last"`
	MaxAge   string `toml:"max_age"`
}

// ExecutionConfig controls retries and pacing of mutation ops.
type ExecutionConfig struct {
	MaxAttempts     int     `toml:"max_attempts"`
	InitialInterval string  `toml:"initial_interval"`
	MaxInterval     string  `toml:"max_interval"`
	RateLimit       float64 `toml:"rate_limit"`
	Burst           int     `toml:"burst"`
}

// CacheConfig sizes in-memory caches.
type CacheConfig struct {
	LatestSize int `toml:"latest_size"`
}

// SpotifyConfig contains Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
	AccessToken  string `toml:"access_token"`
	RefreshToken string `toml:"refresh_token"`
	TokenExpiry  string `toml:"token_expiry"`
}

// ProxyConfig describes an HTTP proxy that fronts a platform without a public write API.
type ProxyConfig struct {
	Name        string `toml:"name"`
	BaseURL     string `toml:"base_url"`
	Token       string `toml:"token"`
	HeadersPath string `toml:"headers_path"`
}

// GroupConfig declares a sync group: one logical playlist mirrored on several platforms.
//
// Members use the "platform:playlist_id" form.
type GroupConfig struct {
	ID      string   `toml:"id"`
	Name    string   `toml:"name"`
	Members []string `toml:"members"`
}

// Map returns the credentials in the form expected by the Spotify adapter.
func (s SpotifyConfig) Map() map[string]string {
	return map[string]string{
		"client_id":     s.ClientID,
		"client_secret": s.ClientSecret,
		"redirect_uri":  s.RedirectURI,
		"access_token":  s.AccessToken,
		"refresh_token": s.RefreshToken,
		"token_expiry":  s.TokenExpiry,
	}
}

// Update stores the tokens of a completed OAuth exchange.
func (s *SpotifyConfig) Update(token *oauth2.Token) error {
	if token == nil || token.AccessToken == "" {
		return fmt.Errorf("%w: empty token", ErrMissingCredentials)
	}
	s.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		s.RefreshToken = token.RefreshToken
	}
	if !token.Expiry.IsZero() {
		s.TokenExpiry = token.Expiry.Format(time.RFC3339)
	}
	return nil
}

// Map returns the credentials in the form expected by the proxy adapter.
func (p ProxyConfig) Map() map[string]string {
	return map[string]string{"token": p.Token, "headers_path": p.HeadersPath}
}

// LeaseDuration parses [SyncConfig.LeaseTTL].
func (c *Config) LeaseDuration() time.Duration {
	return parseDuration(c.Sync.LeaseTTL, 10*time.Minute)
}

// RetentionMaxAge parses [RetentionConfig.MaxAge]. Zero means unbounded.
func (c *Config) RetentionMaxAge() time.Duration {
	return parseDuration(c.Retention.MaxAge, 0)
}

// RetryIntervals returns the initial and maximum backoff intervals.
func (c *Config) RetryIntervals() (time.Duration, time.Duration) {
	return parseDuration(c.Execution.InitialInterval, 500*time.Millisecond),
		parseDuration(c.Execution.MaxInterval, 30*time.Second)
}

// ServerTimeouts returns read and write timeouts for the HTTP server.
func (c *Config) ServerTimeouts() (time.Duration, time.Duration) {
	return parseDuration(c.Server.ReadTimeout, 15*time.Second),
		parseDuration(c.Server.WriteTimeout, 30*time.Second)
}

// Group finds a configured sync group by ID.
func (c *Config) Group(id string) (GroupConfig, bool) {
	for _, g := range c.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return GroupConfig{}, false
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Sync.DuplicateThreshold < 0 || c.Sync.DuplicateThreshold > 1 {
		return fmt.Errorf("%w: duplicate_threshold must be within [0, 1]", ErrInvalidConfig)
	}
	if c.Execution.MaxAttempts < 0 {
		return fmt.Errorf("%w: max_attempts must not be negative", ErrInvalidConfig)
	}
	for _, raw := range []string{c.Sync.LeaseTTL, c.Retention.MaxAge, c.Execution.InitialInterval, c.Execution.MaxInterval} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	seen := make(map[string]bool, len(c.Groups))
	for _, g := range c.Groups {
		if g.ID == "" {
			return fmt.Errorf("%w: sync group without id", ErrInvalidConfig)
		}
		if seen[g.ID] {
			return fmt.Errorf("%w: duplicate sync group %q", ErrInvalidConfig, g.ID)
		}
		seen[g.ID] = true
		for _, m := range g.Members {
			if !strings.Contains(m, ":") {
				return fmt.Errorf("%w: group %q member %q is not platform:id", ErrInvalidConfig, g.ID, m)
			}
		}
	}
	return nil
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ResolveConfig loads the file at path, falling back to $AUDIOARCHITECT_CONFIG and then to defaults.
func ResolveConfig(path string) (*Config, string, error) {
	if path == "" {
		path = os.Getenv(ConfigEnv)
	}
	if path == "" {
		path = "config.toml"
	}
	if _, err := os.Stat(path); err != nil {
		return DefaultConfig(), path, nil
	}
	config, err := LoadConfig(path)
	return config, path, err
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveConfig writes config to path, replacing any existing file.
func SaveConfig(path string, config *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
