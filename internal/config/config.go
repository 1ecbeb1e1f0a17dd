package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "ELMO"
	defaultHTTPAddress       = "0.0.0.0:5000"
	defaultDatabasePath      = "elmo.db"
	defaultLogLevel          = "info"
	defaultLogEncoding       = "json"
	defaultRedirectURI       = "http://localhost:5000/user_token_exchange"
	defaultAuthorizeURL      = "https://www.strava.com/oauth/authorize"
	defaultTokenURL          = "https://www.strava.com/api/v3/oauth/token"
	defaultAPIBaseURL        = "https://www.strava.com/api/v3"
	defaultRequestTimeout    = 15 * time.Second
	defaultSyncWorkers       = 2
	defaultSyncQueueSize     = 64
	defaultSyncJobRetention  = time.Hour
	defaultSyncInterval      = 0
	defaultRequestsPerSecond = 0
)

// AppConfig captures runtime configuration for the API server and sync workers.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string
	LogEncoding  string

	StravaClientID          string
	StravaClientSecret      string
	StravaRedirectURI       string
	StravaAuthorizeURL      string
	StravaTokenURL          string
	StravaAPIBaseURL        string
	StravaRequestTimeout    time.Duration
	StravaRequestsPerSecond float64

	StateSigningSecret string

	SyncWorkers      int
	SyncQueueSize    int
	SyncInterval     time.Duration
	SyncJobRetention time.Duration
	SyncOnRead       bool
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.encoding", defaultLogEncoding)
	configViper.SetDefault("strava.redirect_uri", defaultRedirectURI)
	configViper.SetDefault("strava.authorize_url", defaultAuthorizeURL)
	configViper.SetDefault("strava.token_url", defaultTokenURL)
	configViper.SetDefault("strava.api_base_url", defaultAPIBaseURL)
	configViper.SetDefault("strava.request_timeout", defaultRequestTimeout)
	configViper.SetDefault("strava.requests_per_second", defaultRequestsPerSecond)
	configViper.SetDefault("sync.workers", defaultSyncWorkers)
	configViper.SetDefault("sync.queue_size", defaultSyncQueueSize)
	configViper.SetDefault("sync.interval", defaultSyncInterval)
	configViper.SetDefault("sync.job_retention", defaultSyncJobRetention)
	configViper.SetDefault("sync.on_read", true)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		DatabasePath: configViper.GetString("database.path"),
		LogLevel:     configViper.GetString("log.level"),
		LogEncoding:  configViper.GetString("log.encoding"),

		StravaClientID:          configViper.GetString("strava.client_id"),
		StravaClientSecret:      configViper.GetString("strava.client_secret"),
		StravaRedirectURI:       configViper.GetString("strava.redirect_uri"),
		StravaAuthorizeURL:      configViper.GetString("strava.authorize_url"),
		StravaTokenURL:          configViper.GetString("strava.token_url"),
		StravaAPIBaseURL:        configViper.GetString("strava.api_base_url"),
		StravaRequestTimeout:    configViper.GetDuration("strava.request_timeout"),
		StravaRequestsPerSecond: configViper.GetFloat64("strava.requests_per_second"),

		StateSigningSecret: configViper.GetString("auth.state_secret"),

		SyncWorkers:      configViper.GetInt("sync.workers"),
		SyncQueueSize:    configViper.GetInt("sync.queue_size"),
		SyncInterval:     configViper.GetDuration("sync.interval"),
		SyncJobRetention: configViper.GetDuration("sync.job_retention"),
		SyncOnRead:       configViper.GetBool("sync.on_read"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.StravaClientID) == "" {
		return fmt.Errorf("strava.client_id is required")
	}
	if strings.TrimSpace(c.StravaClientSecret) == "" {
		return fmt.Errorf("strava.client_secret is required")
	}
	if strings.TrimSpace(c.StravaRedirectURI) == "" {
		return fmt.Errorf("strava.redirect_uri is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.StravaRequestTimeout <= 0 {
		return fmt.Errorf("strava.request_timeout must be positive")
	}
	if c.StravaRequestsPerSecond < 0 {
		return fmt.Errorf("strava.requests_per_second must not be negative")
	}
	if c.SyncWorkers <= 0 {
		return fmt.Errorf("sync.workers must be positive")
	}
	if c.SyncQueueSize <= 0 {
		return fmt.Errorf("sync.queue_size must be positive")
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("sync.interval must not be negative")
	}
	return nil
}
