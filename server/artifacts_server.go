package server

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	gin "github.com/gin-gonic/gin"
	zap "go.uber.org/zap"

	config "github.com/a2akit/ark/server/config"
	middlewares "github.com/a2akit/ark/server/middlewares"
	types "github.com/a2akit/ark/types"
)

// ArtifactsServer hosts artifact file downloads over HTTP, separate from the
// A2A protocol endpoint, and runs the artifact retention loop.
type ArtifactsServer interface {
	// Start starts the artifacts server and blocks until it stops
	Start(ctx context.Context) error

	// Stop gracefully stops the artifacts server
	Stop(ctx context.Context) error
}

// ArtifactsServerImpl implements the ArtifactsServer interface
type ArtifactsServerImpl struct {
	cfg     *config.ArtifactsConfig
	logger  *zap.Logger
	service ArtifactService

	server        *http.Server
	cleanupCancel context.CancelFunc
}

// NewArtifactsServer creates an artifacts server over the given service
func NewArtifactsServer(cfg *config.ArtifactsConfig, logger *zap.Logger, service ArtifactService) ArtifactsServer {
	return &ArtifactsServerImpl{
		cfg:     cfg,
		logger:  logger,
		service: service,
	}
}

// Start starts the artifacts server and blocks until ctx is canceled or the
// listener fails
func (s *ArtifactsServerImpl) Start(ctx context.Context) error {
	if s.service == nil {
		return fmt.Errorf("artifact service must be set before starting the artifacts server")
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middlewares.LoggingMiddleware(s.logger, true))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": types.HealthStatusHealthy})
	})
	router.GET("/artifacts/:artifactId/:filename", s.handleDownload)

	addr := fmt.Sprintf("0.0.0.0:%s", s.cfg.ServerConfig.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  s.cfg.ServerConfig.ReadTimeout,
		WriteTimeout: s.cfg.ServerConfig.WriteTimeout,
		IdleTimeout:  s.cfg.ServerConfig.IdleTimeout,
	}

	cleanupCtx, cancel := context.WithCancel(context.Background())
	s.cleanupCancel = cancel
	go s.runRetentionLoop(cleanupCtx)

	s.logger.Info("starting artifacts server", zap.String("address", addr))

	errChan := make(chan error, 1)
	go func() {
		if s.cfg.ServerConfig.TLSConfig.Enable {
			errChan <- s.server.ListenAndServeTLS(
				s.cfg.ServerConfig.TLSConfig.CertPath,
				s.cfg.ServerConfig.TLSConfig.KeyPath,
			)
		} else {
			errChan <- s.server.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("artifacts server context canceled, shutting down")
		return s.Stop(context.Background())
	case err := <-errChan:
		if err != http.ErrServerClosed {
			return fmt.Errorf("artifacts server failed: %w", err)
		}
		return nil
	}
}

// Stop gracefully stops the artifacts server and the retention loop
func (s *ArtifactsServerImpl) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.logger.Info("stopping artifacts server")

	if s.cleanupCancel != nil {
		s.cleanupCancel()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("failed to shut down artifacts server", zap.Error(err))
		return err
	}

	if err := s.service.Close(); err != nil {
		s.logger.Error("failed to close artifact service", zap.Error(err))
	}
	return nil
}

// handleDownload streams one stored artifact file to the caller
func (s *ArtifactsServerImpl) handleDownload(c *gin.Context) {
	artifactID := c.Param("artifactId")
	filename := c.Param("filename")

	ctx := c.Request.Context()

	// StatObject-style probe first: S3 reads surface missing keys lazily.
	exists, err := s.service.Exists(ctx, artifactID, filename)
	if err != nil {
		s.logger.Error("failed to check artifact",
			zap.String("artifact_id", artifactID),
			zap.String("filename", filename),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check artifact"})
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact not found"})
		return
	}

	reader, err := s.service.Retrieve(ctx, artifactID, filename)
	if err != nil {
		s.logger.Error("failed to retrieve artifact",
			zap.String("artifact_id", artifactID),
			zap.String("filename", filename),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve artifact"})
		return
	}
	defer func() {
		if closeErr := reader.Close(); closeErr != nil {
			s.logger.Error("failed to close artifact reader", zap.Error(closeErr))
		}
	}()

	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.DataFromReader(http.StatusOK, -1, contentType, reader, nil)
}

// runRetentionLoop periodically removes expired and surplus artifact files
func (s *ArtifactsServerImpl) runRetentionLoop(ctx context.Context) {
	retention := s.cfg.RetentionConfig
	if retention.CleanupInterval <= 0 {
		s.logger.Info("artifact retention disabled", zap.Duration("cleanup_interval", retention.CleanupInterval))
		return
	}

	s.logger.Info("starting artifact retention loop", zap.Duration("cleanup_interval", retention.CleanupInterval))

	ticker := time.NewTicker(retention.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("artifact retention loop shutting down")
			return
		case <-ticker.C:
			s.cleanupOnce(ctx, retention)
		}
	}
}

func (s *ArtifactsServerImpl) cleanupOnce(ctx context.Context, retention config.ArtifactRetentionConfig) {
	total := 0

	if retention.MaxAge > 0 {
		removed, err := s.service.CleanupExpiredArtifacts(ctx, retention.MaxAge)
		if err != nil {
			s.logger.Error("failed to clean up expired artifacts", zap.Error(err))
		} else {
			total += removed
		}
	}

	if retention.MaxArtifacts > 0 {
		removed, err := s.service.CleanupOldestArtifacts(ctx, retention.MaxArtifacts)
		if err != nil {
			s.logger.Error("failed to clean up surplus artifacts", zap.Error(err))
		} else {
			total += removed
		}
	}

	if total > 0 {
		s.logger.Info("artifact retention removed files", zap.Int("removed", total))
	}
}
