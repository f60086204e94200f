package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	gin "github.com/gin-gonic/gin"
	uuid "github.com/google/uuid"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
	envconfig "github.com/sethvargo/go-envconfig"
	zap "go.uber.org/zap"

	config "github.com/a2akit/ark/server/config"
	middlewares "github.com/a2akit/ark/server/middlewares"
	otel "github.com/a2akit/ark/server/otel"
	types "github.com/a2akit/ark/types"
)

// A2AServer defines the interface for an A2A-compatible server
type A2AServer interface {
	// Start starts the A2A server on the configured port
	Start(ctx context.Context) error

	// Stop gracefully stops the A2A server
	Stop(ctx context.Context) error

	// GetAgentCard returns the agent's capabilities and metadata
	// Returns nil if no agent card has been explicitly set
	GetAgentCard() *types.AgentCard

	// SetAgentCard sets the agent card served at the well-known endpoint
	SetAgentCard(agentCard types.AgentCard)

	// SetExtendedAgentCard sets the card returned by
	// agent/getAuthenticatedExtendedCard
	SetExtendedAgentCard(agentCard types.AgentCard)

	// LoadAgentCardFromFile loads and sets an agent card from a JSON file
	// The optional overrides map allows dynamic replacement of JSON attribute values
	LoadAgentCardFromFile(filePath string, overrides map[string]any) error

	// SetAgentExecutor sets the executor that runs agent logic for sessions
	SetAgentExecutor(executor AgentExecutor)

	// GetAgentExecutor returns the configured agent executor
	GetAgentExecutor() AgentExecutor

	// SessionManager returns the server's session manager
	SessionManager() SessionManager

	// Storage returns the server's storage bundle
	Storage() *StorageBundle

	// SetAgentName sets the agent's name dynamically
	SetAgentName(name string)

	// SetAgentDescription sets the agent's description dynamically
	SetAgentDescription(description string)

	// SetAgentURL sets the agent's URL dynamically
	SetAgentURL(url string)

	// SetAgentVersion sets the agent's version dynamically
	SetAgentVersion(version string)
}

type A2AServerImpl struct {
	cfg            *config.Config
	logger         *zap.Logger
	storage        *StorageBundle
	sessionManager SessionManager
	pushSender     PushNotificationSender
	responseSender ResponseSender
	otel           otel.OpenTelemetry

	// Server state
	httpServer    *http.Server
	metricsServer *http.Server

	// Session scope: canceling it cancels every running session
	sessionCtx    context.Context
	sessionCancel context.CancelFunc

	agentExecutor AgentExecutor

	customAgentCard   *types.AgentCard
	extendedAgentCard *types.AgentCard

	// Protocol handler, built at Start once the card and executor are known
	protocolHandler A2AProtocolHandler
}

var _ A2AServer = (*A2AServerImpl)(nil)

// NewA2AServer creates a new A2A server with the provided configuration and logger
func NewA2AServer(cfg *config.Config, logger *zap.Logger, otel otel.OpenTelemetry) *A2AServerImpl {
	if cfg.AgentName == "" {
		cfg.AgentName = BuildAgentName
	}
	if cfg.AgentDescription == "" {
		cfg.AgentDescription = BuildAgentDescription
	}
	if cfg.AgentVersion == "" {
		cfg.AgentVersion = BuildAgentVersion
	}

	ctx := context.Background()
	storage, err := CreateStorage(ctx, cfg.StorageConfig, logger)
	if err != nil {
		if cfg.StorageConfig.Provider == "" {
			logger.Info("no storage provider configured, using in-memory storage")
		} else {
			logger.Warn("failed to create configured storage, falling back to in-memory",
				zap.String("provider", cfg.StorageConfig.Provider),
				zap.Error(err))
		}

		storage = &StorageBundle{
			Tasks:       NewInMemoryTaskStorage(logger),
			Messages:    NewInMemoryMessageStorage(logger),
			PushConfigs: NewInMemoryPushNotificationConfigStorage(logger, 0),
		}
	}

	sessionCtx, sessionCancel := context.WithCancel(context.Background())

	server := &A2AServerImpl{
		cfg:           cfg,
		logger:        logger,
		storage:       storage,
		otel:          otel,
		sessionCtx:    sessionCtx,
		sessionCancel: sessionCancel,
	}

	server.pushSender = NewHTTPPushNotificationSender(logger, cfg.PushConfig.Timeout)
	server.sessionManager = NewSessionManager(logger, storage.Tasks, storage.PushConfigs, server.pushSender)
	server.responseSender = NewDefaultResponseSender(logger)

	return server
}

// NewDefaultA2AServer creates a new default A2A server implementation
func NewDefaultA2AServer(cfg *config.Config) *A2AServerImpl {
	var finalCfg *config.Config
	var err error

	finalCfg, err = config.LoadWithLookuper(context.Background(), cfg, envconfig.OsLookuper())
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	var logger *zap.Logger
	if finalCfg.Debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}

	var telemetryInstance otel.OpenTelemetry
	if finalCfg.TelemetryConfig.Enable {
		telemetryInstance, err = otel.NewOpenTelemetry(finalCfg, logger)
		if err != nil {
			logger.Fatal("failed to initialize telemetry", zap.Error(err))
		}
		metricsAddr := finalCfg.TelemetryConfig.MetricsConfig.Host + ":" + finalCfg.TelemetryConfig.MetricsConfig.Port
		logger.Info("telemetry enabled - metrics will be available", zap.String("metrics_url", metricsAddr+"/metrics"))
	}

	return NewA2AServer(finalCfg, logger, telemetryInstance)
}

// NewA2AServerEnvironmentAware creates a new A2A server with environment-aware configuration.
func NewA2AServerEnvironmentAware(cfg *config.Config, logger *zap.Logger, otel otel.OpenTelemetry) *A2AServerImpl {
	var err error
	cfg, err = config.LoadWithLookuper(context.Background(), cfg, envconfig.OsLookuper())
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	return NewA2AServer(cfg, logger, otel)
}

// SetAgentExecutor sets the executor that runs agent logic for sessions
func (s *A2AServerImpl) SetAgentExecutor(executor AgentExecutor) {
	s.agentExecutor = executor
}

// GetAgentExecutor returns the configured agent executor
func (s *A2AServerImpl) GetAgentExecutor() AgentExecutor {
	return s.agentExecutor
}

// SessionManager returns the server's session manager
func (s *A2AServerImpl) SessionManager() SessionManager {
	return s.sessionManager
}

// Storage returns the server's storage bundle
func (s *A2AServerImpl) Storage() *StorageBundle {
	return s.storage
}

// SetAgentName sets the agent's name dynamically
func (s *A2AServerImpl) SetAgentName(name string) {
	s.cfg.AgentName = name
}

// SetAgentDescription sets the agent's description dynamically
func (s *A2AServerImpl) SetAgentDescription(description string) {
	s.cfg.AgentDescription = description
}

// SetAgentURL sets the agent's URL dynamically
func (s *A2AServerImpl) SetAgentURL(url string) {
	s.cfg.AgentURL = url
}

// SetAgentVersion sets the agent's version dynamically
func (s *A2AServerImpl) SetAgentVersion(version string) {
	s.cfg.AgentVersion = version
}

// SetAgentCard sets the agent card served at the well-known endpoint
func (s *A2AServerImpl) SetAgentCard(agentCard types.AgentCard) {
	s.customAgentCard = &agentCard
}

// SetExtendedAgentCard sets the card returned by agent/getAuthenticatedExtendedCard
func (s *A2AServerImpl) SetExtendedAgentCard(agentCard types.AgentCard) {
	s.extendedAgentCard = &agentCard
}

// GetAgentCard returns the agent's capabilities and metadata
// Returns nil if no agent card has been explicitly set
func (s *A2AServerImpl) GetAgentCard() *types.AgentCard {
	return s.customAgentCard
}

// LoadAgentCardFromFile loads and sets an agent card from a JSON file
// The optional overrides map allows dynamic replacement of JSON attribute values
func (s *A2AServerImpl) LoadAgentCardFromFile(filePath string, overrides map[string]any) error {
	if filePath == "" {
		return nil
	}

	s.logger.Info("loading agent card from file", zap.String("file_path", filePath))

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read agent card file: %w", err)
	}

	var rawData map[string]any
	if err := json.Unmarshal(data, &rawData); err != nil {
		return fmt.Errorf("failed to parse agent card JSON: %w", err)
	}

	for key, value := range overrides {
		s.logger.Debug("overriding agent card attribute",
			zap.String("key", key),
			zap.Any("value", value))
		rawData[key] = value
	}

	modifiedData, err := json.Marshal(rawData)
	if err != nil {
		return fmt.Errorf("failed to marshal modified agent card data: %w", err)
	}

	var agentCard types.AgentCard
	if err := json.Unmarshal(modifiedData, &agentCard); err != nil {
		return fmt.Errorf("failed to parse modified agent card JSON: %w", err)
	}

	s.logger.Info("successfully loaded agent card from file",
		zap.String("name", agentCard.Name),
		zap.String("version", agentCard.Version),
		zap.Int("overrides_count", len(overrides)))
	s.customAgentCard = &agentCard
	return nil
}

// buildProtocolHandler assembles the request handler chain. The agent card
// and executor must be configured first.
func (s *A2AServerImpl) buildProtocolHandler() A2AProtocolHandler {
	now := func() time.Time {
		t, err := s.cfg.GetCurrentTime()
		if err != nil {
			return time.Now()
		}
		return t
	}

	requestHandler := NewDefaultRequestHandler(
		s.logger,
		s.cfg,
		*s.customAgentCard,
		s.extendedAgentCard,
		s.storage,
		s.sessionManager,
		s.agentExecutor,
		s.pushSender,
		s.sessionCtx,
		now,
	)

	return NewDefaultA2AProtocolHandler(s.logger, requestHandler, s.responseSender)
}

// setupRouter configures the HTTP router with A2A endpoints
func (s *A2AServerImpl) setupRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middlewares.LoggingMiddleware(s.logger, cfg.ServerConfig.DisableHealthcheckLog))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": types.HealthStatusHealthy})
	})

	r.GET("/.well-known/agent-card.json", s.handleAgentInfo)

	var telemetryMiddleware gin.HandlerFunc
	if s.cfg.TelemetryConfig.Enable && s.otel != nil {
		telemetryMw, err := middlewares.NewTelemetryMiddleware(*s.cfg, s.otel, s.logger)
		if err != nil {
			s.logger.Error("failed to create telemetry middleware", zap.Error(err))
		} else {
			telemetryMiddleware = telemetryMw.Middleware()
		}
	}

	if !cfg.AuthConfig.Enable {
		if telemetryMiddleware != nil {
			r.POST("/a2a", telemetryMiddleware, s.handleA2ARequest)
		} else {
			r.POST("/a2a", s.handleA2ARequest)
		}
		s.logger.Warn("authentication is disabled, oidcAuthenticator will be nil")
		return r
	}
	oidcAuthenticator, err := middlewares.NewOIDCAuthenticatorMiddleware(s.logger, *s.cfg)
	if err != nil {
		s.logger.Error("failed to create OIDC authenticator", zap.Error(err))
		return r
	}

	s.logger.Info("oidcAuthenticator is valid, setting up authentication")
	securityValidator := middlewares.NewSecurityValidator(s.logger, *s.cfg)
	cardSecurity := securityValidator.ValidateSecurityRequirements(s.customAgentCard)
	if telemetryMiddleware != nil {
		r.POST("/a2a", telemetryMiddleware, oidcAuthenticator.Middleware(), cardSecurity, s.handleA2ARequest)
	} else {
		r.POST("/a2a", oidcAuthenticator.Middleware(), cardSecurity, s.handleA2ARequest)
	}

	return r
}

// Start starts the A2A server
func (s *A2AServerImpl) Start(ctx context.Context) error {
	if s.customAgentCard == nil {
		return fmt.Errorf("agent card must be configured before starting the server - use SetAgentCard() or LoadAgentCardFromFile()")
	}
	if s.agentExecutor == nil {
		return fmt.Errorf("agent executor must be configured before starting the server - use SetAgentExecutor()")
	}

	s.protocolHandler = s.buildProtocolHandler()

	router := s.setupRouter(s.cfg)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%s", s.cfg.ServerConfig.Port),
		Handler:      router,
		ReadTimeout:  s.cfg.ServerConfig.ReadTimeout,
		WriteTimeout: s.cfg.ServerConfig.WriteTimeout,
		IdleTimeout:  s.cfg.ServerConfig.IdleTimeout,
	}

	s.logger.Info("starting A2A server",
		zap.String("port", s.cfg.ServerConfig.Port),
		zap.String("agent_name", s.cfg.AgentName),
		zap.String("agent_description", s.cfg.AgentDescription),
		zap.String("agent_version", s.cfg.AgentVersion))

	if s.cfg.TelemetryConfig.Enable && s.otel != nil {
		go func() {
			metricsRouter := gin.Default()
			metricsRouter.GET("/metrics", gin.WrapH(promhttp.Handler()))

			metricsAddr := s.cfg.TelemetryConfig.MetricsConfig.Host + ":" + s.cfg.TelemetryConfig.MetricsConfig.Port
			s.metricsServer = &http.Server{
				Addr:         metricsAddr,
				Handler:      metricsRouter,
				ReadTimeout:  s.cfg.TelemetryConfig.MetricsConfig.ReadTimeout,
				WriteTimeout: s.cfg.TelemetryConfig.MetricsConfig.WriteTimeout,
				IdleTimeout:  s.cfg.TelemetryConfig.MetricsConfig.IdleTimeout,
			}

			s.logger.Info("starting metrics server", zap.String("port", s.cfg.TelemetryConfig.MetricsConfig.Port))
			if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	go s.consumeLifecycleEvents(s.sessionCtx)
	go s.startTaskCleanup(s.sessionCtx)

	if s.cfg.ServerConfig.TLSConfig.Enable {
		return s.httpServer.ListenAndServeTLS(s.cfg.ServerConfig.TLSConfig.CertPath, s.cfg.ServerConfig.TLSConfig.KeyPath)
	}

	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the A2A server
func (s *A2AServerImpl) Stop(ctx context.Context) error {
	s.logger.Info("stopping A2A server")

	var err error

	if s.httpServer != nil {
		if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil {
			s.logger.Error("error stopping HTTP server", zap.Error(shutdownErr))
			err = shutdownErr
		}
	}

	if s.metricsServer != nil {
		if shutdownErr := s.metricsServer.Shutdown(ctx); shutdownErr != nil {
			s.logger.Error("error stopping metrics server", zap.Error(shutdownErr))
			if err == nil {
				err = shutdownErr
			}
		}
	}

	if shutdownErr := s.sessionManager.Shutdown(ctx); shutdownErr != nil {
		s.logger.Error("error draining sessions", zap.Error(shutdownErr))
		if err == nil {
			err = shutdownErr
		}
	}
	s.sessionCancel()

	if s.otel != nil {
		if shutdownErr := s.otel.ShutDown(ctx); shutdownErr != nil {
			s.logger.Error("error shutting down telemetry", zap.Error(shutdownErr))
			if err == nil {
				err = shutdownErr
			}
		}
	}

	defer func() {
		if syncErr := s.logger.Sync(); syncErr != nil {
			s.logger.Error("failed to sync logger on shutdown", zap.Error(syncErr))
		}
	}()

	return err
}

// consumeLifecycleEvents bridges the session manager's CloudEvents hook to
// structured logs and task metrics
func (s *A2AServerImpl) consumeLifecycleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-s.sessionManager.LifecycleEvents():
			s.recordLifecycleEvent(ctx, event)
		}
	}
}

func (s *A2AServerImpl) recordLifecycleEvent(ctx context.Context, event cloudevents.Event) {
	s.logger.Debug("lifecycle event",
		zap.String("type", event.Type()),
		zap.String("id", event.ID()))

	if s.otel == nil {
		return
	}

	switch event.Type() {
	case types.EventSessionStarted:
		s.otel.RecordSessionStarted(ctx)
	case types.EventSessionCompleted:
		s.otel.RecordSessionOutcome(ctx, "completed")
	case types.EventSessionFailed:
		s.otel.RecordSessionOutcome(ctx, "failed")
	case types.EventSessionCanceled:
		s.otel.RecordSessionOutcome(ctx, "canceled")
	case types.EventTaskTerminal:
		state, _ := event.Extensions()["taskstate"].(string)
		s.otel.RecordTaskTerminal(ctx, state)
	case types.EventPushDelivered:
		s.otel.RecordPushDelivery(ctx, true)
	case types.EventPushFailed:
		s.otel.RecordPushDelivery(ctx, false)
	}
}

// startTaskCleanup runs the terminal-task retention loop
func (s *A2AServerImpl) startTaskCleanup(ctx context.Context) {
	cleanupInterval := s.cfg.TaskRetentionConfig.CleanupInterval

	if cleanupInterval <= 0 {
		s.logger.Info("task cleanup disabled", zap.Duration("cleanup_interval", cleanupInterval))
		return
	}

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("task cleanup shutting down")
			return
		case <-ticker.C:
			removed, err := s.storage.Tasks.CleanupTerminalTasks(ctx, s.cfg.TaskRetentionConfig.MaxAge)
			if err != nil {
				s.logger.Error("task cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				s.logger.Info("cleaned up terminal tasks", zap.Int("removed", removed))
			}
		}
	}
}

// handleAgentInfo returns agent capabilities and metadata
func (s *A2AServerImpl) handleAgentInfo(c *gin.Context) {
	agentCard := s.GetAgentCard()
	if agentCard == nil {
		s.logger.Error("no agent card configured")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Agent card not configured",
			"message": "This server requires an agent card to be explicitly set via JSON file or programmatically",
		})
		return
	}
	c.JSON(http.StatusOK, *agentCard)
}

// handleA2ARequest processes A2A protocol requests
func (s *A2AServerImpl) handleA2ARequest(c *gin.Context) {
	var req types.JSONRPCRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Error("failed to parse json request", zap.Error(err))
		s.responseSender.SendError(c, nil, int(ErrParseError), "parse error")
		return
	}

	if req.JSONRPC != "2.0" {
		s.responseSender.SendError(c, req.ID, int(ErrInvalidRequest), "invalid jsonrpc version")
		return
	}
	if req.Method == "" {
		s.responseSender.SendError(c, req.ID, int(ErrInvalidRequest), "missing method")
		return
	}
	if req.ID == nil {
		req.ID = uuid.New().String()
	}

	s.logger.Debug("received a2a request",
		zap.String("method", req.Method),
		zap.Any("id", req.ID))

	call := NewServerCallContext(c.Request.Header.Clone())
	for key, value := range c.Keys {
		call.SetState(key, value)
	}

	switch req.Method {
	case "message/send":
		s.protocolHandler.HandleMessageSend(c, call, req)
	case "message/stream":
		s.protocolHandler.HandleMessageStream(c, call, req)
	case "tasks/get":
		s.protocolHandler.HandleTaskGet(c, call, req)
	case "tasks/cancel":
		s.protocolHandler.HandleTaskCancel(c, call, req)
	case "tasks/resubscribe":
		s.protocolHandler.HandleTaskResubscribe(c, call, req)
	case "tasks/pushNotificationConfig/set":
		s.protocolHandler.HandleTaskPushNotificationConfigSet(c, call, req)
	case "tasks/pushNotificationConfig/get":
		s.protocolHandler.HandleTaskPushNotificationConfigGet(c, call, req)
	case "tasks/pushNotificationConfig/list":
		s.protocolHandler.HandleTaskPushNotificationConfigList(c, call, req)
	case "tasks/pushNotificationConfig/delete":
		s.protocolHandler.HandleTaskPushNotificationConfigDelete(c, call, req)
	case "agent/getAuthenticatedExtendedCard":
		s.protocolHandler.HandleAgentGetAuthenticatedExtendedCard(c, call, req)
	default:
		s.logger.Warn("unknown method requested", zap.String("method", req.Method))
		s.responseSender.SendError(c, req.ID, int(ErrMethodNotFound), "method not found")
	}
}
