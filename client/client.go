package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/a2akit/ark/types"
)

// A2AClient defines the interface for an A2A protocol client
type A2AClient interface {
	// Agent discovery
	GetAgentCard(ctx context.Context) (*types.AgentCard, error)
	GetAuthenticatedExtendedCard(ctx context.Context) (*types.AgentCard, error)
	GetHealth(ctx context.Context) (*HealthResponse, error)

	// Message operations
	SendMessage(ctx context.Context, params types.MessageSendParams) (types.Event, error)
	SendMessageStream(ctx context.Context, params types.MessageSendParams, events chan<- types.Event) error

	// Task operations
	GetTask(ctx context.Context, params types.TaskQueryParams) (*types.Task, error)
	CancelTask(ctx context.Context, params types.TaskIdParams) (*types.Task, error)
	Resubscribe(ctx context.Context, params types.TaskIdParams, events chan<- types.Event) error

	// Push notification configuration
	SetTaskPushNotificationConfig(ctx context.Context, params types.TaskPushNotificationConfig) (*types.TaskPushNotificationConfig, error)
	GetTaskPushNotificationConfig(ctx context.Context, params types.GetTaskPushNotificationConfigParams) (*types.TaskPushNotificationConfig, error)
	ListTaskPushNotificationConfig(ctx context.Context, params types.ListTaskPushNotificationConfigParams) ([]types.TaskPushNotificationConfig, error)
	DeleteTaskPushNotificationConfig(ctx context.Context, params types.DeleteTaskPushNotificationConfigParams) error

	// Configuration
	SetTimeout(timeout time.Duration)
	SetHTTPClient(client *http.Client)
	GetBaseURL() string

	// Logger configuration
	SetLogger(logger *zap.Logger)
	GetLogger() *zap.Logger
}

var _ A2AClient = (*Client)(nil)

// HealthResponse represents the response from the health endpoint
type HealthResponse struct {
	Status string `json:"status"`
}

// ProtocolError is a JSON-RPC error response surfaced as a Go error. Callers
// can unwrap it with errors.As to inspect the protocol error code.
type ProtocolError struct {
	Code    int
	Message string
	Data    any
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("a2a error %d: %s", e.Code, e.Message)
}

// Config holds configuration options for the A2A client
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	UserAgent  string
	Headers    map[string]string
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// DefaultConfig returns a default configuration
func DefaultConfig(baseURL string) *Config {
	return &Config{
		BaseURL:    baseURL,
		Timeout:    30 * time.Second,
		UserAgent:  "ark-a2a-client/1.0",
		Headers:    make(map[string]string),
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
		Logger:     zap.NewNop(),
	}
}

// Option customizes the client configuration.
type Option func(*Config)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Config) { c.HTTPClient = httpClient }
}

// WithTimeout sets the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) { c.Timeout = timeout }
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithHeader adds a header sent on every request.
func WithHeader(key, value string) Option {
	return func(c *Config) { c.Headers[key] = value }
}

// WithMaxRetries sets the number of retry attempts for failed requests.
func WithMaxRetries(maxRetries int) Option {
	return func(c *Config) { c.MaxRetries = maxRetries }
}

// Client represents an A2A protocol client
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new A2A client for the given base URL
func NewClient(baseURL string, opts ...Option) A2AClient {
	config := DefaultConfig(baseURL)
	for _, opt := range opts {
		opt(config)
	}
	return NewClientWithConfig(config)
}

// NewClientWithConfig creates a new A2A client with custom configuration
func NewClientWithConfig(config *Config) A2AClient {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: config.Timeout,
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
	}
}

// getA2AEndpointURL constructs the A2A endpoint URL by appending /a2a to the base URL
func (c *Client) getA2AEndpointURL() string {
	baseURL := c.config.BaseURL

	if strings.HasSuffix(baseURL, "/a2a") {
		return baseURL
	}

	if strings.HasSuffix(baseURL, "/") {
		return baseURL + "a2a"
	}
	return baseURL + "/a2a"
}

// SendMessage sends a message to the agent and returns the resulting Message
// or Task, depending on the blocking configuration
func (c *Client) SendMessage(ctx context.Context, params types.MessageSendParams) (types.Event, error) {
	c.logger.Debug("sending message",
		zap.String("method", "message/send"),
		zap.String("message_id", params.Message.MessageID))

	result, err := c.call(ctx, "message/send", params)
	if err != nil {
		c.logger.Error("failed to send message", zap.Error(err), zap.String("message_id", params.Message.MessageID))
		return nil, err
	}

	event, err := types.UnmarshalEvent(result)
	if err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}

	c.logger.Debug("message sent", zap.String("result_kind", event.EventKind()))
	return event, nil
}

// SendMessageStream sends a message and streams the agent's events into the
// given channel until the stream terminates. The channel is not closed.
func (c *Client) SendMessageStream(ctx context.Context, params types.MessageSendParams, events chan<- types.Event) error {
	c.logger.Debug("starting message stream",
		zap.String("method", "message/stream"),
		zap.String("message_id", params.Message.MessageID))

	return c.stream(ctx, "message/stream", params, events)
}

// GetTask retrieves the current snapshot of a task
func (c *Client) GetTask(ctx context.Context, params types.TaskQueryParams) (*types.Task, error) {
	c.logger.Debug("retrieving task", zap.String("method", "tasks/get"), zap.String("task_id", params.ID))

	result, err := c.call(ctx, "tasks/get", params)
	if err != nil {
		c.logger.Error("failed to retrieve task", zap.Error(err), zap.String("task_id", params.ID))
		return nil, err
	}

	var task types.Task
	if err := json.Unmarshal(result, &task); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	return &task, nil
}

// CancelTask requests cancellation of a task and returns its final snapshot
func (c *Client) CancelTask(ctx context.Context, params types.TaskIdParams) (*types.Task, error) {
	c.logger.Debug("cancelling task", zap.String("method", "tasks/cancel"), zap.String("task_id", params.ID))

	result, err := c.call(ctx, "tasks/cancel", params)
	if err != nil {
		c.logger.Error("failed to cancel task", zap.Error(err), zap.String("task_id", params.ID))
		return nil, err
	}

	var task types.Task
	if err := json.Unmarshal(result, &task); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	return &task, nil
}

// Resubscribe reattaches to a running task's event stream
func (c *Client) Resubscribe(ctx context.Context, params types.TaskIdParams, events chan<- types.Event) error {
	c.logger.Debug("resubscribing to task", zap.String("method", "tasks/resubscribe"), zap.String("task_id", params.ID))

	return c.stream(ctx, "tasks/resubscribe", params, events)
}

// SetTaskPushNotificationConfig registers a push notification configuration for a task
func (c *Client) SetTaskPushNotificationConfig(ctx context.Context, params types.TaskPushNotificationConfig) (*types.TaskPushNotificationConfig, error) {
	result, err := c.call(ctx, "tasks/pushNotificationConfig/set", params)
	if err != nil {
		return nil, err
	}

	var stored types.TaskPushNotificationConfig
	if err := json.Unmarshal(result, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode push notification config: %w", err)
	}
	return &stored, nil
}

// GetTaskPushNotificationConfig retrieves a push notification configuration for a task
func (c *Client) GetTaskPushNotificationConfig(ctx context.Context, params types.GetTaskPushNotificationConfigParams) (*types.TaskPushNotificationConfig, error) {
	result, err := c.call(ctx, "tasks/pushNotificationConfig/get", params)
	if err != nil {
		return nil, err
	}

	var stored types.TaskPushNotificationConfig
	if err := json.Unmarshal(result, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode push notification config: %w", err)
	}
	return &stored, nil
}

// ListTaskPushNotificationConfig lists the push notification configurations of a task
func (c *Client) ListTaskPushNotificationConfig(ctx context.Context, params types.ListTaskPushNotificationConfigParams) ([]types.TaskPushNotificationConfig, error) {
	result, err := c.call(ctx, "tasks/pushNotificationConfig/list", params)
	if err != nil {
		return nil, err
	}

	var configs []types.TaskPushNotificationConfig
	if err := json.Unmarshal(result, &configs); err != nil {
		return nil, fmt.Errorf("failed to decode push notification configs: %w", err)
	}
	return configs, nil
}

// DeleteTaskPushNotificationConfig removes a push notification configuration from a task
func (c *Client) DeleteTaskPushNotificationConfig(ctx context.Context, params types.DeleteTaskPushNotificationConfigParams) error {
	_, err := c.call(ctx, "tasks/pushNotificationConfig/delete", params)
	return err
}

// GetAgentCard retrieves the agent card via HTTP GET to the well-known endpoint
func (c *Client) GetAgentCard(ctx context.Context) (*types.AgentCard, error) {
	c.logger.Debug("retrieving agent card", zap.String("endpoint", "/.well-known/agent-card.json"))

	agentCardURL := c.config.BaseURL + "/.well-known/agent-card.json"

	httpReq, err := http.NewRequestWithContext(ctx, "GET", agentCardURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent card request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.config.UserAgent)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("agent card request failed", zap.Error(err))
		return nil, fmt.Errorf("agent card request failed: %w", err)
	}
	defer func() {
		if closeErr := httpResp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close agent card response body", zap.Error(closeErr))
		}
	}()

	if httpResp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(httpResp.Body)
		c.logger.Error("unexpected status code for agent card",
			zap.Int("status_code", httpResp.StatusCode),
			zap.String("response_body", string(bodyBytes)))
		return nil, fmt.Errorf("unexpected status code for agent card: %d, body: %s", httpResp.StatusCode, string(bodyBytes))
	}

	var agentCard types.AgentCard
	if err := json.NewDecoder(httpResp.Body).Decode(&agentCard); err != nil {
		c.logger.Error("failed to decode agent card response", zap.Error(err))
		return nil, fmt.Errorf("failed to decode agent card response: %w", err)
	}

	c.logger.Debug("agent card retrieved",
		zap.String("name", agentCard.Name),
		zap.String("version", agentCard.Version))
	return &agentCard, nil
}

// GetAuthenticatedExtendedCard retrieves the extended agent card via the
// agent/getAuthenticatedExtendedCard RPC. Credentials are supplied through
// request headers configured on the client.
func (c *Client) GetAuthenticatedExtendedCard(ctx context.Context) (*types.AgentCard, error) {
	result, err := c.call(ctx, "agent/getAuthenticatedExtendedCard", nil)
	if err != nil {
		return nil, err
	}

	var card types.AgentCard
	if err := json.Unmarshal(result, &card); err != nil {
		return nil, fmt.Errorf("failed to decode extended agent card: %w", err)
	}
	return &card, nil
}

// GetHealth retrieves the health status of the agent via HTTP GET to /health
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	c.logger.Debug("retrieving agent health", zap.String("endpoint", "/health"))

	healthURL := c.config.BaseURL + "/health"

	httpReq, err := http.NewRequestWithContext(ctx, "GET", healthURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create health request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.config.UserAgent)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("health request failed", zap.Error(err))
		return nil, fmt.Errorf("health request failed: %w", err)
	}
	defer func() {
		if closeErr := httpResp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close health response body", zap.Error(closeErr))
		}
	}()

	if httpResp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("unexpected status code for health check: %d, body: %s", httpResp.StatusCode, string(bodyBytes))
	}

	var healthResp HealthResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&healthResp); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}

	if healthResp.Status == "" {
		return nil, fmt.Errorf("health response missing status field")
	}

	c.logger.Debug("health check completed", zap.String("status", healthResp.Status))
	return &healthResp, nil
}

// rpcResponse is the wire shape of either a success or an error response.
type rpcResponse struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      any                 `json:"id,omitempty"`
	Result  json.RawMessage     `json:"result,omitempty"`
	Error   *types.JSONRPCError `json:"error,omitempty"`
}

// call performs a unary JSON-RPC request and returns the raw result payload.
// Protocol error responses are returned as *ProtocolError.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	requestID := uuid.New().String()
	req := types.JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      requestID,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpResp, err := c.doWithRetry(ctx, method, body, "")
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := httpResp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close response body", zap.Error(closeErr))
		}
	}()

	if httpResp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(httpResp.Body)
		c.logger.Error("unexpected status code",
			zap.String("method", method),
			zap.Int("status_code", httpResp.StatusCode),
			zap.String("response_body", string(bodyBytes)))
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", httpResp.StatusCode, string(bodyBytes))
	}

	var resp rpcResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.Error != nil {
		c.logger.Debug("received protocol error response",
			zap.String("method", method),
			zap.Int("error_code", resp.Error.Code),
			zap.String("error_message", resp.Error.Message))
		return nil, &ProtocolError{
			Code:    resp.Error.Code,
			Message: resp.Error.Message,
			Data:    resp.Error.Data,
		}
	}

	if id, ok := resp.ID.(string); ok && id != requestID {
		c.logger.Warn("response id does not match request id",
			zap.String("request_id", requestID),
			zap.String("response_id", id))
	}

	return resp.Result, nil
}

// stream performs a streaming JSON-RPC request and forwards decoded events
// until the server sends the [DONE] terminator or the context is cancelled.
func (c *Client) stream(ctx context.Context, method string, params any, events chan<- types.Event) error {
	req := types.JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      uuid.New().String(),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpResp, err := c.doWithRetry(ctx, method, body, "text/event-stream")
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := httpResp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close response body", zap.Error(closeErr))
		}
	}()

	if httpResp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(httpResp.Body)
		return fmt.Errorf("unexpected status code: %d, body: %s", httpResp.StatusCode, string(bodyBytes))
	}

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	eventCount := 0
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("streaming context cancelled", zap.Int("events_received", eventCount))
			return ctx.Err()
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("failed to scan response: %w", err)
			}
			c.logger.Debug("streaming completed", zap.Int("events_received", eventCount))
			return nil
		}

		line := scanner.Text()
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}

		if strings.TrimSpace(line) == "data: [DONE]" {
			c.logger.Debug("received stream termination signal", zap.Int("events_received", eventCount))
			return nil
		}

		var frame rpcResponse
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame); err != nil {
			return fmt.Errorf("failed to decode event frame: %w", err)
		}

		if frame.Error != nil {
			return &ProtocolError{
				Code:    frame.Error.Code,
				Message: frame.Error.Message,
				Data:    frame.Error.Data,
			}
		}

		event, err := types.UnmarshalEvent(frame.Result)
		if err != nil {
			return fmt.Errorf("failed to decode event: %w", err)
		}

		eventCount++
		select {
		case events <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// doWithRetry sends the request body, rebuilding the request on each attempt,
// and retries transport-level failures with linear backoff.
func (c *Client) doWithRetry(ctx context.Context, method string, body []byte, accept string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.config.RetryDelay * time.Duration(attempt)
			c.logger.Debug("retrying request",
				zap.String("method", method),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.getA2AEndpointURL(), bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		c.setHeaders(httpReq)
		if accept != "" {
			httpReq.Header.Set("Accept", accept)
		}

		httpResp, err := c.httpClient.Do(httpReq)
		if err == nil {
			return httpResp, nil
		}
		lastErr = err
		c.logger.Warn("request failed",
			zap.String("method", method),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return nil, fmt.Errorf("failed to send request after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// setHeaders sets the common headers for HTTP requests
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	for key, value := range c.config.Headers {
		req.Header.Set(key, value)
	}
}

// SetHTTPClient allows customizing the HTTP client
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
	c.config.HTTPClient = client
}

// SetTimeout sets the timeout for HTTP requests
func (c *Client) SetTimeout(timeout time.Duration) {
	c.config.Timeout = timeout
	if c.httpClient != nil {
		c.httpClient.Timeout = timeout
	}
}

// GetBaseURL returns the base URL of the client
func (c *Client) GetBaseURL() string {
	return c.config.BaseURL
}

// SetHeader sets a custom header for all requests
func (c *Client) SetHeader(key, value string) {
	if c.config.Headers == nil {
		c.config.Headers = make(map[string]string)
	}
	c.config.Headers[key] = value
}

// RemoveHeader removes a custom header
func (c *Client) RemoveHeader(key string) {
	if c.config.Headers != nil {
		delete(c.config.Headers, key)
	}
}

// GetConfig returns a copy of the client configuration
func (c *Client) GetConfig() Config {
	config := *c.config
	if c.config.Headers != nil {
		config.Headers = make(map[string]string)
		for k, v := range c.config.Headers {
			config.Headers[k] = v
		}
	}
	return config
}

// SetLogger sets the logger for the client
func (c *Client) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c.logger = logger
	c.config.Logger = logger
}

// GetLogger returns the current logger
func (c *Client) GetLogger() *zap.Logger {
	return c.logger
}
