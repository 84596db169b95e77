package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "RELAY"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "relay.db"
	defaultLogLevel      = "info"
	defaultSweepSeconds  = 30
	defaultStaleSeconds  = 90
	defaultTokenTTLMin   = 60
	defaultSigningIssuer = "relay-auth"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	TokenTTL      time.Duration
	SweepInterval time.Duration
	StaleAfter    time.Duration
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
	configViper.SetDefault("hub.sweep_seconds", defaultSweepSeconds)
	configViper.SetDefault("hub.stale_seconds", defaultStaleSeconds)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMin)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		TokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		SweepInterval: time.Duration(configViper.GetInt("hub.sweep_seconds")) * time.Second,
		StaleAfter:    time.Duration(configViper.GetInt("hub.stale_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("hub.sweep_seconds must be positive")
	}
	if c.StaleAfter <= c.SweepInterval {
		return fmt.Errorf("hub.stale_seconds must exceed hub.sweep_seconds")
	}
	return nil
}

// Issuer is the token issuer name stamped into backend tokens.
func (c AppConfig) Issuer() string {
	return defaultSigningIssuer
}
