package server

import (
	"fmt"

	zap "go.uber.org/zap"

	config "github.com/a2akit/ark/server/config"
)

// ArtifactsServerBuilder assembles an artifacts server from configuration,
// creating the artifact service and its storage provider along the way.
//
// Example:
//
//	artifactsServer, err := NewArtifactsServerBuilder(cfg, logger).
//	  WithService(customService).
//	  Build()
type ArtifactsServerBuilder interface {
	// WithLogger sets a custom logger for the resulting server
	WithLogger(logger *zap.Logger) ArtifactsServerBuilder

	// WithService sets a pre-built artifact service, skipping the
	// configuration-driven one
	WithService(service ArtifactService) ArtifactsServerBuilder

	// Build creates and returns the configured artifacts server
	Build() (ArtifactsServer, error)
}

var _ ArtifactsServerBuilder = (*ArtifactsServerBuilderImpl)(nil)

// ArtifactsServerBuilderImpl is the concrete implementation of the
// ArtifactsServerBuilder interface
type ArtifactsServerBuilderImpl struct {
	cfg     *config.ArtifactsConfig
	logger  *zap.Logger
	service ArtifactService
}

// NewArtifactsServerBuilder creates a builder for the given artifacts
// configuration
func NewArtifactsServerBuilder(cfg *config.ArtifactsConfig, logger *zap.Logger) ArtifactsServerBuilder {
	return &ArtifactsServerBuilderImpl{
		cfg:    cfg,
		logger: logger,
	}
}

// WithLogger sets a custom logger for the resulting server
func (b *ArtifactsServerBuilderImpl) WithLogger(logger *zap.Logger) ArtifactsServerBuilder {
	b.logger = logger
	return b
}

// WithService sets a pre-built artifact service
func (b *ArtifactsServerBuilderImpl) WithService(service ArtifactService) ArtifactsServerBuilder {
	b.service = service
	return b
}

// Build creates and returns the configured artifacts server
func (b *ArtifactsServerBuilderImpl) Build() (ArtifactsServer, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("artifacts configuration must be provided")
	}
	if !b.cfg.Enable {
		return nil, fmt.Errorf("artifacts server is not enabled in configuration")
	}

	service := b.service
	if service == nil {
		var err error
		service, err = NewArtifactService(b.cfg, b.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create artifact service: %w", err)
		}
	}

	return NewArtifactsServer(b.cfg, b.logger, service), nil
}
