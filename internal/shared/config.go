package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Database       DatabaseConfig       `toml:"database"`
	Credentials    CredentialsConfig    `toml:"credentials"`
	MusicBrainz    MusicBrainzConfig    `toml:"musicbrainz"`
	AcousticBrainz AcousticBrainzConfig `toml:"acousticbrainz"`
	Fetch          FetchConfig          `toml:"fetch"`
	Sync           SyncConfig           `toml:"sync"`
	Metrics        MetricsConfig        `toml:"metrics"`
	Log            LogConfig            `toml:"log"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains Spotify API credentials and the location of the stored OAuth2 token.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
	TokenPath    string `toml:"token_path"`
}

// MusicBrainzConfig identifies this application to the MusicBrainz lookup API.
type MusicBrainzConfig struct {
	BaseURL string `toml:"base_url"`
	AppName string `toml:"app_name"`
	Email   string `toml:"email"`
}

// UserAgent returns the "app (email)" User-Agent MusicBrainz asks clients to send.
func (c MusicBrainzConfig) UserAgent() string {
	return fmt.Sprintf("%s (%s)", c.AppName, c.Email)
}

// AcousticBrainzConfig contains the feature API location.
type AcousticBrainzConfig struct {
	BaseURL string `toml:"base_url"`
}

// FetchConfig controls throttling, retry and circuit breaking for all external API calls.
type FetchConfig struct {
	Timeout           time.Duration `toml:"timeout"`
	MaxAttempts       int           `toml:"max_attempts"`
	BaseDelay         time.Duration `toml:"base_delay"`
	MaxDelay          time.Duration `toml:"max_delay"`
	BreakerThreshold  int           `toml:"breaker_threshold"`
	BreakerTimeout    time.Duration `toml:"breaker_timeout"`
	RequestsPerSecond RatesConfig   `toml:"requests_per_second"`
}

// RatesConfig holds the fixed request rate for each external API.
type RatesConfig struct {
	Spotify        float64 `toml:"spotify"`
	MusicBrainz    float64 `toml:"musicbrainz"`
	AcousticBrainz float64 `toml:"acousticbrainz"`
}

// SyncConfig controls how far back the recently played endpoint is read.
type SyncConfig struct {
	Lookback  time.Duration `toml:"lookback"`
	PageLimit int           `toml:"page_limit"`
	MaxPages  int           `toml:"max_pages"`
}

// MetricsConfig contains the optional Prometheus textfile destination.
type MetricsConfig struct {
	Textfile string `toml:"textfile"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the defaults from the embedded example config.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrMissingConfig, err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	return config, nil
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

// Validate checks the settings every pipeline run depends on.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is empty", ErrInvalidConfig)
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("%w: fetch.max_attempts must be positive", ErrInvalidConfig)
	}
	if c.Sync.PageLimit <= 0 || c.Sync.PageLimit > 50 {
		return fmt.Errorf("%w: sync.page_limit must be between 1 and 50", ErrInvalidConfig)
	}
	return nil
}

// ValidateSpotify checks that the streaming-service credentials are present.
func (c *Config) ValidateSpotify() error {
	sp := c.Credentials.Spotify
	if sp.ClientID == "" || sp.ClientSecret == "" {
		return fmt.Errorf("%w: spotify client_id and client_secret are required", ErrMissingCredentials)
	}
	if sp.TokenPath == "" {
		return fmt.Errorf("%w: spotify token_path is required", ErrMissingCredentials)
	}
	return nil
}

// ValidateMusicBrainz checks that MusicBrainz can identify the caller.
func (c *Config) ValidateMusicBrainz() error {
	if c.MusicBrainz.AppName == "" || c.MusicBrainz.Email == "" {
		return fmt.Errorf("%w: musicbrainz app_name and email are required", ErrMissingCredentials)
	}
	return nil
}
