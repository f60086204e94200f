package server

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	zap "go.uber.org/zap"

	config "github.com/a2akit/ark/server/config"
	otel "github.com/a2akit/ark/server/otel"
	types "github.com/a2akit/ark/types"
)

// A2AServerBuilder provides a fluent interface for building A2A servers with custom configurations.
// Use NewA2AServerBuilder to create an instance, then chain method calls to configure the server.
//
// Example:
//
//	server := NewA2AServerBuilder(config, logger).
//	  WithAgentExecutor(executor).
//	  WithAgentCard(card).
//	  Build()
type A2AServerBuilder interface {
	// WithAgentExecutor sets the executor that runs agent logic for sessions.
	// Every message/send and message/stream request drives one Execute call.
	WithAgentExecutor(executor AgentExecutor) A2AServerBuilder

	// WithAgentCard sets a custom agent card that overrides the default card generation.
	// This gives full control over the agent's advertised capabilities and metadata.
	WithAgentCard(agentCard types.AgentCard) A2AServerBuilder

	// WithAgentCardFromFile loads and sets an agent card from a JSON file.
	// The optional overrides map allows dynamic replacement of JSON attribute values.
	WithAgentCardFromFile(filePath string, overrides map[string]interface{}) A2AServerBuilder

	// WithSecurityConfiguredAgentCard sets an agent card and automatically configures security
	// based on the server's authentication configuration.
	WithSecurityConfiguredAgentCard(agentCard types.AgentCard) A2AServerBuilder

	// WithExtendedAgentCard sets the card returned by agent/getAuthenticatedExtendedCard.
	WithExtendedAgentCard(agentCard types.AgentCard) A2AServerBuilder

	// WithLogger sets a custom logger for the builder and resulting server.
	// This allows using a logger configured with appropriate level based on the Debug config.
	WithLogger(logger *zap.Logger) A2AServerBuilder

	// Build creates and returns the configured A2A server.
	// This method applies configuration defaults and initializes all components.
	Build() (A2AServer, error)
}

var _ A2AServerBuilder = (*A2AServerBuilderImpl)(nil)

// A2AServerBuilderImpl is the concrete implementation of the A2AServerBuilder interface.
// It holds the configuration and optional components used to create the server.
type A2AServerBuilderImpl struct {
	cfg           config.Config
	logger        *zap.Logger
	agentExecutor AgentExecutor
	agentCard     *types.AgentCard
	extendedCard  *types.AgentCard
}

// NewA2AServerBuilder creates a new server builder with required dependencies.
// Any nil nested configuration objects will be populated with sensible defaults when Build() is called.
func NewA2AServerBuilder(cfg config.Config, logger *zap.Logger) A2AServerBuilder {
	if isCapabilitiesConfigEmpty(cfg.CapabilitiesConfig) || cfg.StreamingConfig.SubscriberBufferSize == 0 {
		defaultCfg, err := config.NewWithDefaults(context.Background(), nil)
		if err == nil {
			if isCapabilitiesConfigEmpty(cfg.CapabilitiesConfig) {
				cfg.CapabilitiesConfig = defaultCfg.CapabilitiesConfig
			}
			if cfg.StreamingConfig.SubscriberBufferSize == 0 {
				cfg.StreamingConfig = defaultCfg.StreamingConfig
			}
		}
	}

	return &A2AServerBuilderImpl{
		cfg:    cfg,
		logger: logger,
	}
}

// isCapabilitiesConfigEmpty checks if the capabilities config has all zero values
func isCapabilitiesConfigEmpty(capabilities config.CapabilitiesConfig) bool {
	return !capabilities.Streaming && !capabilities.PushNotifications && !capabilities.StateTransitionHistory
}

// WithAgentExecutor sets the executor that runs agent logic for sessions
func (b *A2AServerBuilderImpl) WithAgentExecutor(executor AgentExecutor) A2AServerBuilder {
	b.agentExecutor = executor
	return b
}

// WithAgentCard sets a custom agent card that overrides the default card generation
func (b *A2AServerBuilderImpl) WithAgentCard(agentCard types.AgentCard) A2AServerBuilder {
	b.agentCard = &agentCard
	return b
}

// WithSecurityConfiguredAgentCard sets an agent card and automatically configures security
func (b *A2AServerBuilderImpl) WithSecurityConfiguredAgentCard(agentCard types.AgentCard) A2AServerBuilder {
	securityConfig := CreateSecurityConfigFromAuthConfig(b.cfg.AuthConfig)
	ConfigureAgentCardSecurity(&agentCard, securityConfig)

	b.agentCard = &agentCard
	return b
}

// WithExtendedAgentCard sets the card returned by agent/getAuthenticatedExtendedCard
func (b *A2AServerBuilderImpl) WithExtendedAgentCard(agentCard types.AgentCard) A2AServerBuilder {
	b.extendedCard = &agentCard
	return b
}

// WithAgentCardFromFile loads and sets an agent card from a JSON file
// The optional overrides map allows dynamic replacement of JSON attribute values
func (b *A2AServerBuilderImpl) WithAgentCardFromFile(filePath string, overrides map[string]interface{}) A2AServerBuilder {
	if filePath == "" {
		return b
	}

	b.logger.Info("loading agent card from file", zap.String("file_path", filePath))

	data, err := os.ReadFile(filePath)
	if err != nil {
		b.logger.Error("failed to read agent card file", zap.String("file_path", filePath), zap.Error(err))
		return b
	}

	var rawData map[string]interface{}
	if err := json.Unmarshal(data, &rawData); err != nil {
		b.logger.Error("failed to parse agent card JSON", zap.String("file_path", filePath), zap.Error(err))
		return b
	}

	for key, value := range overrides {
		b.logger.Debug("overriding agent card attribute",
			zap.String("key", key),
			zap.Any("value", value))
		rawData[key] = value
	}

	modifiedData, err := json.Marshal(rawData)
	if err != nil {
		b.logger.Error("failed to marshal modified agent card data", zap.String("file_path", filePath), zap.Error(err))
		return b
	}

	var agentCard types.AgentCard
	if err := json.Unmarshal(modifiedData, &agentCard); err != nil {
		b.logger.Error("failed to parse modified agent card JSON", zap.String("file_path", filePath), zap.Error(err))
		return b
	}

	b.logger.Info("successfully loaded agent card from file",
		zap.String("name", agentCard.Name),
		zap.String("version", agentCard.Version),
		zap.Int("overrides_count", len(overrides)))
	b.agentCard = &agentCard
	return b
}

// WithLogger sets a custom logger for the builder
func (b *A2AServerBuilderImpl) WithLogger(logger *zap.Logger) A2AServerBuilder {
	b.logger = logger
	return b
}

// Build creates and returns the configured A2A server.
func (b *A2AServerBuilderImpl) Build() (A2AServer, error) {
	if b.agentCard == nil {
		return nil, fmt.Errorf("agent card must be configured before building the server - use WithAgentCard() or WithAgentCardFromFile()")
	}
	if b.agentExecutor == nil {
		return nil, fmt.Errorf("agent executor must be configured before building the server - use WithAgentExecutor()")
	}

	var telemetryInstance otel.OpenTelemetry
	if b.cfg.TelemetryConfig.Enable {
		var err error
		telemetryInstance, err = otel.NewOpenTelemetry(&b.cfg, b.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		metricsAddr := b.cfg.TelemetryConfig.MetricsConfig.Host + ":" + b.cfg.TelemetryConfig.MetricsConfig.Port
		b.logger.Info("telemetry enabled - metrics will be available", zap.String("metrics_url", metricsAddr+"/metrics"))
	}

	server := NewA2AServer(&b.cfg, b.logger, telemetryInstance)

	server.SetAgentExecutor(b.agentExecutor)
	server.SetAgentCard(*b.agentCard)

	if b.extendedCard != nil {
		server.SetExtendedAgentCard(*b.extendedCard)
	} else if b.cfg.AuthConfig.SupportsAuthenticatedExtendedCard {
		extended := *b.agentCard
		extended.SupportsAuthenticatedExtendedCard = BoolPtr(true)
		server.SetExtendedAgentCard(extended)
	}

	return server, nil
}

// SimpleA2AServer creates a basic A2A server with an agent executor and card.
// This is a convenience function for straightforward use cases.
func SimpleA2AServer(cfg config.Config, logger *zap.Logger, executor AgentExecutor, agentCard types.AgentCard) (A2AServer, error) {
	return NewA2AServerBuilder(cfg, logger).
		WithAgentExecutor(executor).
		WithAgentCard(agentCard).
		Build()
}
