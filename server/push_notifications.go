package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	types "github.com/a2akit/ark/types"
	zap "go.uber.org/zap"
)

// PushNotificationConfigStorage stores push notification configs keyed by
// (taskId, configId). Configs persist across task completion until deleted.
type PushNotificationConfigStorage interface {
	// Save stores a config for a task and returns the stored value. A config
	// without an id is assigned the task id.
	Save(ctx context.Context, taskID string, pushConfig types.PushNotificationConfig) (*types.PushNotificationConfig, error)

	// Get returns the config with configID for a task
	Get(ctx context.Context, taskID string, configID string) (*types.PushNotificationConfig, error)

	// GetAll returns all configs stored for a task, ordered by config id
	GetAll(ctx context.Context, taskID string) ([]types.PushNotificationConfig, error)

	// Delete removes the config with configID for a task. Deleting an absent
	// config is not an error.
	Delete(ctx context.Context, taskID string, configID string) error
}

// InMemoryPushNotificationConfigStorage implements PushNotificationConfigStorage using in-memory maps
type InMemoryPushNotificationConfigStorage struct {
	logger     *zap.Logger
	configs    map[string]map[string]types.PushNotificationConfig
	maxPerTask int
	mu         sync.RWMutex
}

// NewInMemoryPushNotificationConfigStorage creates a new in-memory push config storage.
// maxPerTask bounds the number of configs per task (0 = unlimited).
func NewInMemoryPushNotificationConfigStorage(logger *zap.Logger, maxPerTask int) *InMemoryPushNotificationConfigStorage {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &InMemoryPushNotificationConfigStorage{
		logger:     logger,
		configs:    make(map[string]map[string]types.PushNotificationConfig),
		maxPerTask: maxPerTask,
	}
}

// Save stores a config for a task
func (s *InMemoryPushNotificationConfigStorage) Save(ctx context.Context, taskID string, pushConfig types.PushNotificationConfig) (*types.PushNotificationConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pushConfig.ID == nil || *pushConfig.ID == "" {
		pushConfig.ID = StringPtr(taskID)
	}

	taskConfigs := s.configs[taskID]
	if taskConfigs == nil {
		taskConfigs = make(map[string]types.PushNotificationConfig)
		s.configs[taskID] = taskConfigs
	}

	if _, exists := taskConfigs[*pushConfig.ID]; !exists && s.maxPerTask > 0 && len(taskConfigs) >= s.maxPerTask {
		return nil, fmt.Errorf("push notification config limit reached for task %s (%d)", taskID, s.maxPerTask)
	}

	taskConfigs[*pushConfig.ID] = pushConfig

	s.logger.Debug("push notification config saved",
		zap.String("task_id", taskID),
		zap.String("config_id", *pushConfig.ID),
		zap.String("url", pushConfig.URL))

	stored := pushConfig
	return &stored, nil
}

// Get returns the config with configID for a task
func (s *InMemoryPushNotificationConfigStorage) Get(ctx context.Context, taskID string, configID string) (*types.PushNotificationConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pushConfig, exists := s.configs[taskID][configID]
	if !exists {
		return nil, NewPushConfigNotFoundError(taskID, configID)
	}

	result := pushConfig
	return &result, nil
}

// GetAll returns all configs stored for a task
func (s *InMemoryPushNotificationConfigStorage) GetAll(ctx context.Context, taskID string) ([]types.PushNotificationConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	taskConfigs := s.configs[taskID]
	if len(taskConfigs) == 0 {
		return []types.PushNotificationConfig{}, nil
	}

	ids := make([]string, 0, len(taskConfigs))
	for id := range taskConfigs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result := make([]types.PushNotificationConfig, 0, len(ids))
	for _, id := range ids {
		result = append(result, taskConfigs[id])
	}

	return result, nil
}

// Delete removes the config with configID for a task
func (s *InMemoryPushNotificationConfigStorage) Delete(ctx context.Context, taskID string, configID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	taskConfigs, exists := s.configs[taskID]
	if !exists {
		return nil
	}

	delete(taskConfigs, configID)
	if len(taskConfigs) == 0 {
		delete(s.configs, taskID)
	}

	s.logger.Debug("push notification config deleted",
		zap.String("task_id", taskID),
		zap.String("config_id", configID))

	return nil
}

// PushNotificationSender delivers task snapshots to registered webhooks
type PushNotificationSender interface {
	// SendTaskUpdate delivers the task snapshot to the webhook described by
	// config. Delivery is best-effort; callers log failures and move on.
	SendTaskUpdate(ctx context.Context, config types.PushNotificationConfig, task *types.Task) error
}

// HTTPPushNotificationSender implements push notifications via HTTP webhooks
type HTTPPushNotificationSender struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPPushNotificationSender creates a new HTTP-based push notification sender.
// timeout bounds each delivery attempt (0 = 30s).
func NewHTTPPushNotificationSender(logger *zap.Logger, timeout time.Duration) *HTTPPushNotificationSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPPushNotificationSender{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// SendTaskUpdate posts the task snapshot as JSON to the webhook URL
func (s *HTTPPushNotificationSender) SendTaskUpdate(ctx context.Context, config types.PushNotificationConfig, task *types.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task snapshot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", config.URL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ark-a2a-server/1.0")

	if config.Token != nil && *config.Token != "" {
		req.Header.Set("X-A2A-Notification-Token", *config.Token)
	}

	if config.Authentication != nil {
		for _, scheme := range config.Authentication.Schemes {
			switch scheme {
			case "bearer":
				if config.Authentication.Credentials != nil {
					req.Header.Set("Authorization", "Bearer "+*config.Authentication.Credentials)
				}
			case "basic":
				if config.Authentication.Credentials != nil {
					req.Header.Set("Authorization", "Basic "+*config.Authentication.Credentials)
				}
			}
		}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send push notification: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Warn("failed to close response body", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push notification webhook returned status %d", resp.StatusCode)
	}

	s.logger.Info("push notification sent",
		zap.String("task_id", task.ID),
		zap.String("webhook_url", config.URL),
		zap.String("state", string(task.Status.State)),
		zap.Int("status_code", resp.StatusCode))

	return nil
}
