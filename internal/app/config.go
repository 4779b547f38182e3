package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/graphbridge/internal/identity"
	"github.com/florianilch/graphbridge/internal/observability"
	"github.com/florianilch/graphbridge/internal/proxy"
	"github.com/florianilch/graphbridge/internal/secretstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// SecretStorageType selects the primary secret store backend. The file
// fallback is always present.
type SecretStorageType string

const (
	SecretStorageTypeKeyring SecretStorageType = "keyring"
	SecretStorageTypeEnv     SecretStorageType = "env"
	SecretStorageTypeNone    SecretStorageType = "none"
)

// Default configuration values
const (
	DefaultConfigLogFormat          = LogFormatText
	DefaultConfigServerHost         = "127.0.0.1"
	DefaultConfigServerPort         = 4100
	DefaultConfigShutdownTimeout    = 5 * time.Second
	DefaultConfigAuthAuthority      = identity.DefaultAuthority
	DefaultConfigAuthStorage        = SecretStorageTypeKeyring
	DefaultConfigAuthKeyringService = "graphbridge"
	DefaultConfigAuthEnvPrefix      = "GRAPHBRIDGE_SECRET_"
	DefaultConfigGraphBaseURL       = proxy.DefaultBaseURL
	DefaultConfigTelemetryExporter  = observability.ExporterNone
)

// DefaultConfigAuthScopes are requested when no scopes are configured.
var DefaultConfigAuthScopes = []string{"User.Read"}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// GraphConfig holds Microsoft Graph configuration.
type GraphConfig struct {
	BaseURL string `json:"base_url" validate:"required,url"`
}

// TelemetryConfig holds OpenTelemetry log export configuration.
type TelemetryConfig struct {
	Exporter observability.Exporter `json:"exporter" validate:"oneof=none stdout otlp-grpc otlp-http"`
}

// AuthConfig describes the identity provider registration and where
// credentials are persisted.
type AuthConfig struct {
	// ClientID of the public client application registration.
	ClientID  string   `json:"client_id" validate:"required"`
	Authority string   `json:"authority" validate:"required,url"`
	Scopes    []string `json:"scopes" validate:"required,min=1,dive,required"`

	// Storage is the primary backend; DataDir holds the fallback files
	Storage        SecretStorageType `json:"storage" validate:"required,oneof=keyring env none"`
	KeyringService string            `json:"keyring_service,omitempty"`
	EnvPrefix      string            `json:"env_prefix,omitempty"`
	DataDir        string            `json:"data_dir" validate:"required"`
}

// NewSecretStore creates the SecretStore described by the configuration.
func (a *AuthConfig) NewSecretStore() (*secretstore.Store, error) {
	fallback, err := secretstore.NewFileBackend(a.DataDir)
	if err != nil {
		return nil, fmt.Errorf("creating file backend: %w", err)
	}

	var primary secretstore.Backend
	switch a.Storage {
	case SecretStorageTypeKeyring:
		primary, err = secretstore.NewKeyringBackend(a.KeyringService)
	case SecretStorageTypeEnv:
		primary, err = secretstore.NewEnvBackend(a.EnvPrefix)
	case SecretStorageTypeNone:
		// file only
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", a.Storage)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s backend: %w", a.Storage, err)
	}

	return secretstore.New(primary, fallback)
}

// NewIdentityClient creates the identity provider client for the configuration.
func (a *AuthConfig) NewIdentityClient(opts ...identity.Option) (*identity.Client, error) {
	return identity.NewClient(a.ClientID, a.Authority, opts...)
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level      `json:"log_level"`
	LogFormat LogFormat       `json:"log_format" validate:"oneof=text json"`
	Server    ServerConfig    `json:"server"`
	Shutdown  ShutdownConfig  `json:"shutdown"`
	Graph     GraphConfig     `json:"graph"`
	Auth      AuthConfig      `json:"auth"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Graph.BaseURL == "" {
		c.Graph.BaseURL = DefaultConfigGraphBaseURL
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = DefaultConfigTelemetryExporter
	}
	if c.Auth.Authority == "" {
		c.Auth.Authority = DefaultConfigAuthAuthority
	}
	if len(c.Auth.Scopes) == 0 {
		c.Auth.Scopes = append([]string(nil), DefaultConfigAuthScopes...)
	}
	if c.Auth.Storage == "" {
		c.Auth.Storage = DefaultConfigAuthStorage
	}
	if c.Auth.KeyringService == "" {
		c.Auth.KeyringService = DefaultConfigAuthKeyringService
	}
	if c.Auth.EnvPrefix == "" {
		c.Auth.EnvPrefix = DefaultConfigAuthEnvPrefix
	}

	if c.Auth.DataDir == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("auth.data_dir required (auto-detect failed: %w)", err)
		}
		c.Auth.DataDir = filepath.Join(configDir, "graphbridge")
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	switch c.Auth.Storage {
	case SecretStorageTypeKeyring:
		if c.Auth.KeyringService == "" {
			return fmt.Errorf("keyring_service required for keyring storage")
		}
	case SecretStorageTypeEnv:
		if c.Auth.EnvPrefix == "" {
			return fmt.Errorf("env_prefix required for env storage")
		}
	}

	return nil
}
