package config_test

import (
	"context"
	"testing"
	"time"

	envconfig "github.com/sethvargo/go-envconfig"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"

	config "github.com/a2akit/ark/server/config"
)

func TestLoadWithLookuper_Defaults(t *testing.T) {
	ctx := context.Background()

	cfg, err := config.LoadWithLookuper(ctx, nil, envconfig.MapLookuper(nil))
	require.NoError(t, err)

	assert.False(t, cfg.Debug)
	assert.Equal(t, "UTC", cfg.Timezone)

	assert.True(t, cfg.CapabilitiesConfig.Streaming)
	assert.True(t, cfg.CapabilitiesConfig.PushNotifications)
	assert.False(t, cfg.CapabilitiesConfig.StateTransitionHistory)

	assert.Equal(t, "memory", cfg.StorageConfig.Provider)
	assert.Equal(t, "a2a", cfg.StorageConfig.KeyPrefix)

	assert.Equal(t, 64, cfg.StreamingConfig.SubscriberBufferSize)
	assert.Equal(t, config.ReplayPolicySnapshot, cfg.StreamingConfig.ResubscribeReplay)

	assert.Equal(t, 30*time.Second, cfg.PushConfig.Timeout)
	assert.Equal(t, 24*time.Hour, cfg.TaskRetentionConfig.MaxAge)
	assert.Equal(t, 5*time.Minute, cfg.TaskRetentionConfig.CleanupInterval)

	assert.Equal(t, "8080", cfg.ServerConfig.Port)
	assert.Equal(t, 120*time.Second, cfg.ServerConfig.ReadTimeout)
	assert.False(t, cfg.ServerConfig.TLSConfig.Enable)

	assert.False(t, cfg.AuthConfig.Enable)
	assert.False(t, cfg.TelemetryConfig.Enable)
	assert.False(t, cfg.ArtifactsConfig.Enable)
	assert.Equal(t, "filesystem", cfg.ArtifactsConfig.StorageConfig.Provider)
}

func TestLoadWithLookuper_EnvironmentOverrides(t *testing.T) {
	ctx := context.Background()

	cfg, err := config.LoadWithLookuper(ctx, nil, envconfig.MapLookuper(map[string]string{
		"DEBUG":                          "true",
		"AGENT_URL":                      "https://agent.example.com",
		"SERVER_PORT":                    "9000",
		"STORAGE_PROVIDER":               "redis",
		"STORAGE_URL":                    "redis://localhost:6379",
		"STREAMING_SUBSCRIBER_BUFFER":    "128",
		"STREAMING_RESUBSCRIBE_REPLAY":   "none",
		"PUSH_NOTIFICATIONS_TIMEOUT":     "10s",
		"TASK_RETENTION_MAX_AGE":         "1h",
		"CAPABILITIES_STREAMING":         "false",
		"AUTH_ENABLE":                    "true",
		"AUTH_ISSUER_URL":                "https://sso.example.com/realms/test",
		"TELEMETRY_ENABLE":               "true",
		"TELEMETRY_METRICS_PORT":         "9999",
		"ARTIFACTS_ENABLE":               "true",
		"ARTIFACTS_STORAGE_PROVIDER":     "minio",
		"ARTIFACTS_STORAGE_BUCKET_NAME":  "results",
	}))
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	assert.Equal(t, "https://agent.example.com", cfg.AgentURL)
	assert.Equal(t, "9000", cfg.ServerConfig.Port)
	assert.Equal(t, "redis", cfg.StorageConfig.Provider)
	assert.Equal(t, "redis://localhost:6379", cfg.StorageConfig.URL)
	assert.Equal(t, 128, cfg.StreamingConfig.SubscriberBufferSize)
	assert.Equal(t, config.ReplayPolicyNone, cfg.StreamingConfig.ResubscribeReplay)
	assert.Equal(t, 10*time.Second, cfg.PushConfig.Timeout)
	assert.Equal(t, time.Hour, cfg.TaskRetentionConfig.MaxAge)
	assert.False(t, cfg.CapabilitiesConfig.Streaming)
	assert.True(t, cfg.AuthConfig.Enable)
	assert.Equal(t, "https://sso.example.com/realms/test", cfg.AuthConfig.IssuerURL)
	assert.Equal(t, "9999", cfg.TelemetryConfig.MetricsConfig.Port)
	assert.Equal(t, "minio", cfg.ArtifactsConfig.StorageConfig.Provider)
	assert.Equal(t, "results", cfg.ArtifactsConfig.StorageConfig.BucketName)
}

func TestLoadWithLookuper_BaseConfigMerge(t *testing.T) {
	ctx := context.Background()

	base := &config.Config{
		AgentName:        "my-agent",
		AgentDescription: "does things",
		AgentVersion:     "1.2.3",
	}

	cfg, err := config.LoadWithLookuper(ctx, base, envconfig.MapLookuper(map[string]string{
		"SERVER_PORT": "7777",
	}))
	require.NoError(t, err)

	// Build-time metadata is not environment-configurable and must survive.
	assert.Equal(t, "my-agent", cfg.AgentName)
	assert.Equal(t, "does things", cfg.AgentDescription)
	assert.Equal(t, "1.2.3", cfg.AgentVersion)
	assert.Equal(t, "7777", cfg.ServerConfig.Port)
}

func TestConfigValidate(t *testing.T) {
	t.Run("invalid replay policy is rejected", func(t *testing.T) {
		_, err := config.LoadWithLookuper(context.Background(), nil, envconfig.MapLookuper(map[string]string{
			"STREAMING_RESUBSCRIBE_REPLAY": "everything",
		}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "replay policy")
	})

	t.Run("invalid timezone is rejected", func(t *testing.T) {
		_, err := config.LoadWithLookuper(context.Background(), nil, envconfig.MapLookuper(map[string]string{
			"TIMEZONE": "Mars/Olympus_Mons",
		}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timezone")
	})

	t.Run("subscriber buffer below one is normalized", func(t *testing.T) {
		cfg, err := config.LoadWithLookuper(context.Background(), nil, envconfig.MapLookuper(map[string]string{
			"STREAMING_SUBSCRIBER_BUFFER": "0",
		}))
		require.NoError(t, err)
		assert.Equal(t, 64, cfg.StreamingConfig.SubscriberBufferSize)
	})
}

func TestGetCurrentTime(t *testing.T) {
	cfg, err := config.NewWithDefaults(context.Background(), nil)
	require.NoError(t, err)

	now, err := cfg.GetCurrentTime()
	require.NoError(t, err)
	assert.Equal(t, "UTC", now.Location().String())
}
