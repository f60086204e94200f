package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Replay policies applied when a client resubscribes to a running task
const (
	ReplayPolicyNone     = "none"
	ReplayPolicySnapshot = "snapshot"
)

// Config holds all application configuration
type Config struct {
	AgentName           string              // Build-time metadata, not configurable via environment
	AgentDescription    string              // Build-time metadata, not configurable via environment
	AgentVersion        string              // Build-time metadata, not configurable via environment
	AgentURL            string              `env:"AGENT_URL"`
	AgentCardFilePath   string              `env:"AGENT_CARD_FILE_PATH" description:"Path to JSON file containing static agent card definition"`
	Debug               bool                `env:"DEBUG,default=false"`
	Timezone            string              `env:"TIMEZONE,default=UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York, Europe/London)"`
	CapabilitiesConfig  CapabilitiesConfig  `env:",prefix=CAPABILITIES_"`
	AuthConfig          AuthConfig          `env:",prefix=AUTH_"`
	StorageConfig       StorageConfig       `env:",prefix=STORAGE_"`
	StreamingConfig     StreamingConfig     `env:",prefix=STREAMING_"`
	PushConfig          PushConfig          `env:",prefix=PUSH_NOTIFICATIONS_"`
	TaskRetentionConfig TaskRetentionConfig `env:",prefix=TASK_RETENTION_"`
	ServerConfig        ServerConfig        `env:",prefix=SERVER_"`
	TelemetryConfig     TelemetryConfig     `env:",prefix=TELEMETRY_"`
	ArtifactsConfig     ArtifactsConfig     `env:",prefix=ARTIFACTS_"`
}

// CapabilitiesConfig defines agent capabilities
type CapabilitiesConfig struct {
	Streaming              bool `env:"STREAMING,default=true" description:"Enable streaming support"`
	PushNotifications      bool `env:"PUSH_NOTIFICATIONS,default=true" description:"Enable push notifications"`
	StateTransitionHistory bool `env:"STATE_TRANSITION_HISTORY,default=false" description:"Enable state transition history"`
}

// TLSConfig holds TLS configuration
type TLSConfig struct {
	Enable   bool   `env:"ENABLE,default=false"`
	CertPath string `env:"CERT_PATH" description:"TLS certificate path"`
	KeyPath  string `env:"KEY_PATH" description:"TLS key path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Enable                            bool   `env:"ENABLE,default=false"`
	IssuerURL                         string `env:"ISSUER_URL,default=http://keycloak:8080/realms/ark"`
	ClientID                          string `env:"CLIENT_ID,default=ark-agent-client"`
	ClientSecret                      string `env:"CLIENT_SECRET"`
	SupportsAuthenticatedExtendedCard bool   `env:"SUPPORTS_AUTHENTICATED_EXTENDED_CARD,default=false" description:"Advertise an authenticated extended agent card"`
	EnableAPIKey                      bool   `env:"ENABLE_API_KEY,default=false" description:"Enable API key authentication"`
	APIKeyHeader                      string `env:"API_KEY_HEADER,default=X-API-Key" description:"Header name carrying the API key"`
	EnableMutualTLS                   bool   `env:"ENABLE_MUTUAL_TLS,default=false" description:"Enable mutual TLS authentication"`
}

// StorageConfig holds task and message storage configuration
type StorageConfig struct {
	Provider        string            `env:"PROVIDER,default=memory" description:"Storage provider (memory, redis)"`
	URL             string            `env:"URL" description:"Connection URL for the storage backend"`
	KeyPrefix       string            `env:"KEY_PREFIX,default=a2a" description:"Key prefix for shared storage backends"`
	CleanupInterval time.Duration     `env:"CLEANUP_INTERVAL,default=120s"`
	Credentials     map[string]string `env:"CREDENTIALS" description:"Provider-specific credentials"`
	Options         map[string]string `env:"OPTIONS" description:"Provider-specific configuration options"`
}

// StreamingConfig holds streaming delivery configuration
type StreamingConfig struct {
	SubscriberBufferSize int    `env:"SUBSCRIBER_BUFFER,default=64" description:"Buffered events per streaming subscriber before the subscriber is dropped"`
	ResubscribeReplay    string `env:"RESUBSCRIBE_REPLAY,default=snapshot" description:"Replay policy for tasks/resubscribe (none, snapshot)"`
}

// PushConfig holds push notification delivery configuration
type PushConfig struct {
	Timeout time.Duration `env:"TIMEOUT,default=30s" description:"HTTP client timeout for push notification delivery"`
}

// TaskRetentionConfig defines how long terminal tasks are retained
type TaskRetentionConfig struct {
	MaxAge          time.Duration `env:"MAX_AGE,default=24h" description:"Maximum age for terminal tasks before cleanup (0 = keep forever)"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL,default=5m" description:"How often to run cleanup (0 = manual cleanup only)"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                  string        `env:"PORT,default=8080" description:"HTTP server port"`
	ReadTimeout           time.Duration `env:"READ_TIMEOUT,default=120s" description:"HTTP server read timeout"`
	WriteTimeout          time.Duration `env:"WRITE_TIMEOUT,default=120s" description:"HTTP server write timeout"`
	IdleTimeout           time.Duration `env:"IDLE_TIMEOUT,default=120s" description:"HTTP server idle timeout"`
	DisableHealthcheckLog bool          `env:"DISABLE_HEALTHCHECK_LOG,default=true" description:"Disable logging for health check requests"`
	TLSConfig             TLSConfig     `env:",prefix=TLS_"`
}

// MetricsConfig holds metrics server configuration
type MetricsConfig struct {
	Port         string        `env:"PORT,default=9090" description:"Metrics server port"`
	Host         string        `env:"HOST,default=" description:"Metrics server host (empty for all interfaces)"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT,default=30s" description:"Metrics server read timeout"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT,default=30s" description:"Metrics server write timeout"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT,default=60s" description:"Metrics server idle timeout"`
}

// TelemetryConfig holds telemetry configuration
type TelemetryConfig struct {
	Enable        bool          `env:"ENABLE,default=false" description:"Enable telemetry collection"`
	MetricsConfig MetricsConfig `env:",prefix=METRICS_"`
}

// ArtifactsConfig holds artifacts server configuration
type ArtifactsConfig struct {
	Enable          bool                    `env:"ENABLE,default=false" description:"Enable artifacts server"`
	ServerConfig    ArtifactsServerConfig   `env:",prefix=SERVER_" description:"HTTP server configuration for artifacts server"`
	StorageConfig   ArtifactsStorageConfig  `env:",prefix=STORAGE_" description:"Storage configuration for artifacts"`
	RetentionConfig ArtifactRetentionConfig `env:",prefix=RETENTION_" description:"Artifact retention and cleanup configuration"`
}

// ArtifactsServerConfig holds artifacts HTTP server configuration
type ArtifactsServerConfig struct {
	Host         string        `env:"HOST,default=localhost" description:"Artifacts server host"`
	Port         string        `env:"PORT,default=8081" description:"Artifacts server port"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT,default=30s" description:"Artifacts server read timeout"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT,default=30s" description:"Artifacts server write timeout"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT,default=60s" description:"Artifacts server idle timeout"`
	TLSConfig    TLSConfig     `env:",prefix=TLS_" description:"TLS configuration for artifacts server"`
}

// ArtifactsStorageConfig holds storage configuration for artifacts
type ArtifactsStorageConfig struct {
	Provider    string            `env:"PROVIDER,default=filesystem" description:"Storage provider (filesystem, minio)"`
	BasePath    string            `env:"BASE_PATH,default=./artifacts" description:"Base path for filesystem storage"`
	BaseURL     string            `env:"BASE_URL" description:"Base URL for accessing artifacts (e.g., https://api.example.com). If not set, will be auto-generated from server config"`
	Endpoint    string            `env:"ENDPOINT" description:"Storage endpoint URL (for MinIO, S3, etc.)"`
	AccessKey   string            `env:"ACCESS_KEY" description:"Storage access key"`
	SecretKey   string            `env:"SECRET_KEY" description:"Storage secret key"`
	BucketName  string            `env:"BUCKET_NAME,default=artifacts" description:"Storage bucket name"`
	Region      string            `env:"REGION,default=us-east-1" description:"Storage region"`
	UseSSL      bool              `env:"USE_SSL,default=true" description:"Use SSL for storage connections"`
	Credentials map[string]string `env:"CREDENTIALS" description:"Additional provider-specific credentials"`
}

// ArtifactRetentionConfig defines artifact cleanup policies
type ArtifactRetentionConfig struct {
	MaxArtifacts    int           `env:"MAX_ARTIFACTS,default=5" description:"Maximum artifacts to retain per task (0 = unlimited)"`
	MaxAge          time.Duration `env:"MAX_AGE,default=168h" description:"Maximum age for artifacts (0 = no age limit)"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL,default=24h" description:"How often to run cleanup (0 = manual cleanup only)"`
}

// Load loads configuration from environment variables, merging with the provided base config.
func Load(ctx context.Context, baseConfig *Config) (*Config, error) {
	return LoadWithLookuper(ctx, baseConfig, envconfig.OsLookuper())
}

// LoadWithLookuper creates and loads configuration using a custom lookuper and merges with user config
func LoadWithLookuper(ctx context.Context, baseConfig *Config, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config

	if baseConfig != nil {
		cfg = *baseConfig
	}

	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	})
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// NewWithDefaults creates a new config with defaults applied from struct tags.
func NewWithDefaults(ctx context.Context, baseConfig *Config) (*Config, error) {
	return LoadWithLookuper(ctx, baseConfig, &emptyLookuper{})
}

// emptyLookuper ensures that only default values from struct tags are used
type emptyLookuper struct{}

func (e *emptyLookuper) Lookup(key string) (string, bool) {
	return "", false
}

// Validate validates the configuration and applies corrections for invalid values
func (c *Config) Validate() error {
	if c.StreamingConfig.SubscriberBufferSize < 1 {
		c.StreamingConfig.SubscriberBufferSize = 64
	}

	switch c.StreamingConfig.ResubscribeReplay {
	case ReplayPolicyNone, ReplayPolicySnapshot:
	default:
		return fmt.Errorf("invalid resubscribe replay policy '%s': must be one of none, snapshot", c.StreamingConfig.ResubscribeReplay)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
	}

	return nil
}

// GetTimezone returns the timezone location for timestamps
func (c *Config) GetTimezone() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// GetCurrentTime returns the current time in the configured timezone
func (c *Config) GetCurrentTime() (time.Time, error) {
	loc, err := c.GetTimezone()
	if err != nil {
		return time.Time{}, err
	}
	return time.Now().In(loc), nil
}
