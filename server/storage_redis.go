package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/a2akit/ark/server/config"
	"github.com/a2akit/ark/types"
)

// RedisStorageFactory implements StorageFactory for Redis storage
type RedisStorageFactory struct{}

// SupportedProvider returns the provider name
func (f *RedisStorageFactory) SupportedProvider() string {
	return "redis"
}

// ValidateConfig validates the configuration for Redis storage
func (f *RedisStorageFactory) ValidateConfig(config config.StorageConfig) error {
	if config.URL == "" {
		return fmt.Errorf("URL is required for Redis storage provider")
	}
	return nil
}

// CreateStorage creates a Redis storage bundle
func (f *RedisStorageFactory) CreateStorage(ctx context.Context, config config.StorageConfig, logger *zap.Logger) (*StorageBundle, error) {
	opt, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	if dbStr, exists := config.Options["db"]; exists {
		if db, err := strconv.Atoi(dbStr); err == nil {
			opt.DB = db
		}
	}

	if maxRetriesStr, exists := config.Options["max_retries"]; exists {
		if maxRetries, err := strconv.Atoi(maxRetriesStr); err == nil {
			opt.MaxRetries = maxRetries
		}
	}

	if timeoutStr, exists := config.Options["timeout"]; exists {
		if timeout, err := time.ParseDuration(timeoutStr); err == nil {
			opt.DialTimeout = timeout
			opt.ReadTimeout = timeout
			opt.WriteTimeout = timeout
		}
	}

	if username, exists := config.Credentials["username"]; exists {
		opt.Username = username
	}
	if password, exists := config.Credentials["password"]; exists {
		opt.Password = password
	}

	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("connected to Redis",
		zap.String("addr", opt.Addr),
		zap.Int("db", opt.DB))

	maxPushConfigsPerTask := 0
	if maxStr, exists := config.Options["max_push_configs_per_task"]; exists {
		if max, err := strconv.Atoi(maxStr); err == nil && max > 0 {
			maxPushConfigsPerTask = max
		}
	}

	storage := &RedisStorage{
		client:                client,
		logger:                logger,
		keyPrefix:             config.KeyPrefix,
		maxPushConfigsPerTask: maxPushConfigsPerTask,
	}
	if storage.keyPrefix == "" {
		storage.keyPrefix = "a2a"
	}

	return &StorageBundle{
		Tasks:       storage,
		Messages:    storage,
		PushConfigs: storage,
	}, nil
}

// RedisStorage implements the task, message, and push config storage
// interfaces on a shared Redis client. Writes for a task are serialized by
// the owning session, so read-modify-write without WATCH is sufficient.
type RedisStorage struct {
	client                *redis.Client
	logger                *zap.Logger
	keyPrefix             string
	maxPushConfigsPerTask int
}

var (
	_ TaskStorage                   = (*RedisStorage)(nil)
	_ MessageStorage                = (*RedisStorage)(nil)
	_ PushNotificationConfigStorage = (*RedisStorage)(nil)
)

func (s *RedisStorage) taskKey(taskID string) string {
	return s.keyPrefix + ":task:" + taskID
}

func (s *RedisStorage) contextTasksKey(contextID string) string {
	return s.keyPrefix + ":context:" + contextID + ":tasks"
}

func (s *RedisStorage) historyKey(contextID string) string {
	return s.keyPrefix + ":history:" + contextID
}

func (s *RedisStorage) pushConfigKey(taskID string) string {
	return s.keyPrefix + ":push:" + taskID
}

func (s *RedisStorage) updatedIndexKey() string {
	return s.keyPrefix + ":tasks:updated"
}

// GetTask retrieves a task snapshot by ID
func (s *RedisStorage) GetTask(ctx context.Context, taskID string, historyLength *int, includeArtifacts bool) (*types.Task, error) {
	data, err := s.client.Get(ctx, s.taskKey(taskID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, NewTaskNotFoundError(taskID)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	var task types.Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, fmt.Errorf("failed to deserialize task: %w", err)
	}

	trimTaskHistory(&task, historyLength)
	if !includeArtifacts {
		task.Artifacts = nil
	}

	return &task, nil
}

// ApplyEvent applies a task event to the stored state
func (s *RedisStorage) ApplyEvent(ctx context.Context, event types.Event) error {
	switch e := event.(type) {
	case *types.Task:
		return s.insertTask(ctx, e)
	case *types.TaskStatusUpdateEvent:
		return s.applyStatusUpdate(ctx, e)
	case *types.TaskArtifactUpdateEvent:
		return s.applyArtifactUpdate(ctx, e)
	default:
		return fmt.Errorf("event kind %s cannot be applied to task storage", event.EventKind())
	}
}

func (s *RedisStorage) insertTask(ctx context.Context, task *types.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to serialize task: %w", err)
	}

	inserted, err := s.client.SetNX(ctx, s.taskKey(task.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store task: %w", err)
	}
	if !inserted {
		return NewTaskAlreadyExistsError(task.ID)
	}

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, s.contextTasksKey(task.ContextID), task.ID)
	pipe.ZAdd(ctx, s.updatedIndexKey(), redis.Z{Score: float64(time.Now().Unix()), Member: task.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index task: %w", err)
	}

	s.logger.Debug("task stored",
		zap.String("task_id", task.ID),
		zap.String("context_id", task.ContextID),
		zap.String("state", string(task.Status.State)))

	return nil
}

func (s *RedisStorage) applyStatusUpdate(ctx context.Context, event *types.TaskStatusUpdateEvent) error {
	task, err := s.GetTask(ctx, event.TaskID, nil, true)
	if err != nil {
		return err
	}
	if task.ContextID != event.ContextID {
		return fmt.Errorf("context mismatch for task %s: have %s, event carries %s", event.TaskID, task.ContextID, event.ContextID)
	}
	if task.Status.State.IsTerminal() {
		return fmt.Errorf("task %s: %w", event.TaskID, errTerminalTask)
	}

	task.Status = event.Status
	if event.Status.Message != nil {
		task.History = append(task.History, *event.Status.Message)
	}

	if err := s.writeTask(ctx, task); err != nil {
		return err
	}

	s.logger.Debug("task status updated",
		zap.String("task_id", event.TaskID),
		zap.String("context_id", event.ContextID),
		zap.String("state", string(event.Status.State)),
		zap.Bool("final", event.Final))

	return nil
}

func (s *RedisStorage) applyArtifactUpdate(ctx context.Context, event *types.TaskArtifactUpdateEvent) error {
	task, err := s.GetTask(ctx, event.TaskID, nil, true)
	if err != nil {
		return err
	}
	if task.Status.State.IsTerminal() {
		return fmt.Errorf("task %s: %w", event.TaskID, errTerminalTask)
	}

	applyArtifactUpdate(task, event)

	if err := s.writeTask(ctx, task); err != nil {
		return err
	}

	s.logger.Debug("task artifact updated",
		zap.String("task_id", event.TaskID),
		zap.String("artifact_id", event.Artifact.ArtifactID),
		zap.Bool("append", event.Append != nil && *event.Append))

	return nil
}

func (s *RedisStorage) writeTask(ctx context.Context, task *types.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to serialize task: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.taskKey(task.ID), data, 0)
	pipe.ZAdd(ctx, s.updatedIndexKey(), redis.Z{Score: float64(time.Now().Unix()), Member: task.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	return nil
}

// ListTasksByContext returns all tasks for a context in insertion order
func (s *RedisStorage) ListTasksByContext(ctx context.Context, contextID string) ([]types.Task, error) {
	taskIDs, err := s.client.LRange(ctx, s.contextTasksKey(contextID), 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return []types.Task{}, nil
		}
		return nil, fmt.Errorf("failed to get context tasks: %w", err)
	}

	tasks := make([]types.Task, 0, len(taskIDs))
	for _, taskID := range taskIDs {
		task, err := s.GetTask(ctx, taskID, nil, true)
		if err != nil {
			s.logger.Warn("task indexed for context but not found",
				zap.String("task_id", taskID),
				zap.String("context_id", contextID))
			continue
		}
		tasks = append(tasks, *task)
	}

	return tasks, nil
}

// CleanupTerminalTasks removes terminal tasks older than maxAge
func (s *RedisStorage) CleanupTerminalTasks(ctx context.Context, maxAge time.Duration) (int, error) {
	max := "+inf"
	if maxAge > 0 {
		max = strconv.FormatInt(time.Now().Add(-maxAge).Unix(), 10)
	}

	taskIDs, err := s.client.ZRangeByScore(ctx, s.updatedIndexKey(), &redis.ZRangeBy{Min: "-inf", Max: max}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get tasks for cleanup: %w", err)
	}

	removed := 0
	for _, taskID := range taskIDs {
		task, err := s.GetTask(ctx, taskID, nil, false)
		if err != nil {
			s.client.ZRem(ctx, s.updatedIndexKey(), taskID)
			continue
		}
		if !task.Status.State.IsTerminal() {
			continue
		}

		pipe := s.client.Pipeline()
		pipe.Del(ctx, s.taskKey(taskID))
		pipe.LRem(ctx, s.contextTasksKey(task.ContextID), 0, taskID)
		pipe.ZRem(ctx, s.updatedIndexKey(), taskID)
		pipe.Del(ctx, s.pushConfigKey(taskID))
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, fmt.Errorf("failed to cleanup task %s: %w", taskID, err)
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("cleaned up terminal tasks", zap.Int("count", removed))
	}

	return removed, nil
}

// AppendMessage appends a message to the log of its context
func (s *RedisStorage) AppendMessage(ctx context.Context, message types.Message) error {
	if message.ContextID == nil || *message.ContextID == "" {
		return fmt.Errorf("message %s has no context id", message.MessageID)
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	if err := s.client.RPush(ctx, s.historyKey(*message.ContextID), data).Err(); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	s.logger.Debug("message appended",
		zap.String("context_id", *message.ContextID),
		zap.String("message_id", message.MessageID),
		zap.String("role", string(message.Role)))

	return nil
}

// ListMessages returns the ordered message log for a context
func (s *RedisStorage) ListMessages(ctx context.Context, contextID string) ([]types.Message, error) {
	entries, err := s.client.LRange(ctx, s.historyKey(contextID), 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return []types.Message{}, nil
		}
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	messages := make([]types.Message, 0, len(entries))
	for _, entry := range entries {
		var message types.Message
		if err := json.Unmarshal([]byte(entry), &message); err != nil {
			return nil, fmt.Errorf("failed to deserialize message: %w", err)
		}
		messages = append(messages, message)
	}

	return messages, nil
}

// DeleteContext removes the message log for a context
func (s *RedisStorage) DeleteContext(ctx context.Context, contextID string) error {
	removed, err := s.client.Del(ctx, s.historyKey(contextID)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete context: %w", err)
	}
	if removed == 0 {
		return fmt.Errorf("context not found: %s", contextID)
	}

	s.logger.Debug("context deleted", zap.String("context_id", contextID))
	return nil
}

// Save stores a push notification config for a task
func (s *RedisStorage) Save(ctx context.Context, taskID string, pushConfig types.PushNotificationConfig) (*types.PushNotificationConfig, error) {
	if pushConfig.ID == nil || *pushConfig.ID == "" {
		pushConfig.ID = StringPtr(taskID)
	}

	key := s.pushConfigKey(taskID)

	if s.maxPushConfigsPerTask > 0 {
		exists, err := s.client.HExists(ctx, key, *pushConfig.ID).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check push config existence: %w", err)
		}
		if !exists {
			count, err := s.client.HLen(ctx, key).Result()
			if err != nil {
				return nil, fmt.Errorf("failed to count push configs: %w", err)
			}
			if int(count) >= s.maxPushConfigsPerTask {
				return nil, fmt.Errorf("push notification config limit reached for task %s (%d)", taskID, s.maxPushConfigsPerTask)
			}
		}
	}

	data, err := json.Marshal(pushConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize push config: %w", err)
	}

	if err := s.client.HSet(ctx, key, *pushConfig.ID, data).Err(); err != nil {
		return nil, fmt.Errorf("failed to save push config: %w", err)
	}

	s.logger.Debug("push notification config saved",
		zap.String("task_id", taskID),
		zap.String("config_id", *pushConfig.ID),
		zap.String("url", pushConfig.URL))

	stored := pushConfig
	return &stored, nil
}

// Get returns the push config with configID for a task
func (s *RedisStorage) Get(ctx context.Context, taskID string, configID string) (*types.PushNotificationConfig, error) {
	data, err := s.client.HGet(ctx, s.pushConfigKey(taskID), configID).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, NewPushConfigNotFoundError(taskID, configID)
		}
		return nil, fmt.Errorf("failed to get push config: %w", err)
	}

	var pushConfig types.PushNotificationConfig
	if err := json.Unmarshal([]byte(data), &pushConfig); err != nil {
		return nil, fmt.Errorf("failed to deserialize push config: %w", err)
	}

	return &pushConfig, nil
}

// GetAll returns all push configs stored for a task
func (s *RedisStorage) GetAll(ctx context.Context, taskID string) ([]types.PushNotificationConfig, error) {
	entries, err := s.client.HGetAll(ctx, s.pushConfigKey(taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list push configs: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	configs := make([]types.PushNotificationConfig, 0, len(ids))
	for _, id := range ids {
		var pushConfig types.PushNotificationConfig
		if err := json.Unmarshal([]byte(entries[id]), &pushConfig); err != nil {
			return nil, fmt.Errorf("failed to deserialize push config: %w", err)
		}
		configs = append(configs, pushConfig)
	}

	return configs, nil
}

// Delete removes the push config with configID for a task
func (s *RedisStorage) Delete(ctx context.Context, taskID string, configID string) error {
	if err := s.client.HDel(ctx, s.pushConfigKey(taskID), configID).Err(); err != nil {
		return fmt.Errorf("failed to delete push config: %w", err)
	}

	s.logger.Debug("push notification config deleted",
		zap.String("task_id", taskID),
		zap.String("config_id", configID))

	return nil
}

// init registers the Redis storage provider
func init() {
	RegisterStorageProvider("redis", &RedisStorageFactory{})
}
