package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	types "github.com/a2akit/ark/types"
	zap "go.uber.org/zap"
)

// errTerminalTask guards the append-after-terminal invariant: once a task
// reaches a terminal state no further events may be applied to it
var errTerminalTask = errors.New("task is in a terminal state")

// TaskStorage defines the interface for persisting task snapshots and applying
// event deltas. Implementations must be safe for concurrent readers; writes for
// a given task are serialized by the owning session.
type TaskStorage interface {
	// GetTask returns the stored snapshot for taskID. historyLength bounds the
	// returned history to the last N messages (0 = none, nil = all) and
	// includeArtifacts controls whether artifacts are returned.
	GetTask(ctx context.Context, taskID string, historyLength *int, includeArtifacts bool) (*types.Task, error)

	// ApplyEvent applies a Task, TaskStatusUpdateEvent, or TaskArtifactUpdateEvent
	// to the stored state. A Task event inserts and must not already exist; a
	// status update replaces the status and appends status.message to history; an
	// artifact update appends to or replaces the artifact with the same artifactId.
	ApplyEvent(ctx context.Context, event types.Event) error

	// ListTasksByContext returns all tasks recorded for a context in insertion order
	ListTasksByContext(ctx context.Context, contextID string) ([]types.Task, error)

	// CleanupTerminalTasks removes terminal tasks older than maxAge (0 = all
	// terminal tasks) and returns the number removed
	CleanupTerminalTasks(ctx context.Context, maxAge time.Duration) (int, error)
}

// MessageStorage defines the interface for the append-only per-context message log
type MessageStorage interface {
	// AppendMessage appends a message to the log of its context
	AppendMessage(ctx context.Context, message types.Message) error

	// ListMessages returns the ordered message log for a context
	ListMessages(ctx context.Context, contextID string) ([]types.Message, error)

	// DeleteContext removes the message log for a context
	DeleteContext(ctx context.Context, contextID string) error
}

// InMemoryTaskStorage implements TaskStorage using in-memory maps
type InMemoryTaskStorage struct {
	logger         *zap.Logger
	tasks          map[string]*taskRecord
	tasksByContext map[string][]string
	mu             sync.RWMutex
}

// taskRecord pairs a stored task with its last write time for retention cleanup
type taskRecord struct {
	task      *types.Task
	updatedAt time.Time
}

// NewInMemoryTaskStorage creates a new in-memory task storage instance
func NewInMemoryTaskStorage(logger *zap.Logger) *InMemoryTaskStorage {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &InMemoryTaskStorage{
		logger:         logger,
		tasks:          make(map[string]*taskRecord),
		tasksByContext: make(map[string][]string),
	}
}

// GetTask retrieves a task snapshot by ID
func (s *InMemoryTaskStorage) GetTask(ctx context.Context, taskID string, historyLength *int, includeArtifacts bool) (*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.tasks[taskID]
	if !exists {
		return nil, NewTaskNotFoundError(taskID)
	}

	task := cloneTask(record.task)
	trimTaskHistory(task, historyLength)
	if !includeArtifacts {
		task.Artifacts = nil
	}

	return task, nil
}

// ApplyEvent applies a task event to the stored state
func (s *InMemoryTaskStorage) ApplyEvent(ctx context.Context, event types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := event.(type) {
	case *types.Task:
		if _, exists := s.tasks[e.ID]; exists {
			return NewTaskAlreadyExistsError(e.ID)
		}

		s.tasks[e.ID] = &taskRecord{task: cloneTask(e), updatedAt: time.Now()}
		s.tasksByContext[e.ContextID] = append(s.tasksByContext[e.ContextID], e.ID)

		s.logger.Debug("task stored",
			zap.String("task_id", e.ID),
			zap.String("context_id", e.ContextID),
			zap.String("state", string(e.Status.State)))

	case *types.TaskStatusUpdateEvent:
		record, exists := s.tasks[e.TaskID]
		if !exists {
			return NewTaskNotFoundError(e.TaskID)
		}
		if record.task.ContextID != e.ContextID {
			return fmt.Errorf("context mismatch for task %s: have %s, event carries %s", e.TaskID, record.task.ContextID, e.ContextID)
		}
		if record.task.Status.State.IsTerminal() {
			return fmt.Errorf("task %s: %w", e.TaskID, errTerminalTask)
		}

		record.task.Status = e.Status
		if e.Status.Message != nil {
			record.task.History = append(record.task.History, *e.Status.Message)
		}
		record.updatedAt = time.Now()

		s.logger.Debug("task status updated",
			zap.String("task_id", e.TaskID),
			zap.String("context_id", e.ContextID),
			zap.String("state", string(e.Status.State)),
			zap.Bool("final", e.Final))

	case *types.TaskArtifactUpdateEvent:
		record, exists := s.tasks[e.TaskID]
		if !exists {
			return NewTaskNotFoundError(e.TaskID)
		}
		if record.task.Status.State.IsTerminal() {
			return fmt.Errorf("task %s: %w", e.TaskID, errTerminalTask)
		}

		applyArtifactUpdate(record.task, e)
		record.updatedAt = time.Now()

		s.logger.Debug("task artifact updated",
			zap.String("task_id", e.TaskID),
			zap.String("artifact_id", e.Artifact.ArtifactID),
			zap.Bool("append", e.Append != nil && *e.Append))

	default:
		return fmt.Errorf("event kind %s cannot be applied to task storage", event.EventKind())
	}

	return nil
}

// ListTasksByContext returns all tasks for a context in insertion order
func (s *InMemoryTaskStorage) ListTasksByContext(ctx context.Context, contextID string) ([]types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	taskIDs, exists := s.tasksByContext[contextID]
	if !exists {
		return []types.Task{}, nil
	}

	tasks := make([]types.Task, 0, len(taskIDs))
	for _, taskID := range taskIDs {
		record, exists := s.tasks[taskID]
		if !exists {
			s.logger.Warn("task not found in tasks map but exists in context mapping",
				zap.String("task_id", taskID),
				zap.String("context_id", contextID))
			continue
		}
		tasks = append(tasks, *cloneTask(record.task))
	}

	return tasks, nil
}

// CleanupTerminalTasks removes terminal tasks older than maxAge
func (s *InMemoryTaskStorage) CleanupTerminalTasks(ctx context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)

	var toRemove []string
	for taskID, record := range s.tasks {
		if !record.task.Status.State.IsTerminal() {
			continue
		}
		if maxAge > 0 && record.updatedAt.After(cutoff) {
			continue
		}
		toRemove = append(toRemove, taskID)
	}

	for _, taskID := range toRemove {
		contextID := s.tasks[taskID].task.ContextID
		delete(s.tasks, taskID)

		contextTasks := s.tasksByContext[contextID]
		for i, existingTaskID := range contextTasks {
			if existingTaskID == taskID {
				s.tasksByContext[contextID] = append(contextTasks[:i], contextTasks[i+1:]...)
				break
			}
		}
		if len(s.tasksByContext[contextID]) == 0 {
			delete(s.tasksByContext, contextID)
		}
	}

	if len(toRemove) > 0 {
		s.logger.Info("cleaned up terminal tasks", zap.Int("count", len(toRemove)))
	}

	return len(toRemove), nil
}

// InMemoryMessageStorage implements MessageStorage using in-memory maps
type InMemoryMessageStorage struct {
	logger   *zap.Logger
	messages map[string][]types.Message
	mu       sync.RWMutex
}

// NewInMemoryMessageStorage creates a new in-memory message storage instance
func NewInMemoryMessageStorage(logger *zap.Logger) *InMemoryMessageStorage {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &InMemoryMessageStorage{
		logger:   logger,
		messages: make(map[string][]types.Message),
	}
}

// AppendMessage appends a message to the log of its context
func (s *InMemoryMessageStorage) AppendMessage(ctx context.Context, message types.Message) error {
	if message.ContextID == nil || *message.ContextID == "" {
		return fmt.Errorf("message %s has no context id", message.MessageID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	contextID := *message.ContextID
	for _, existing := range s.messages[contextID] {
		if existing.MessageID == message.MessageID {
			s.logger.Warn("attempted to append duplicate message",
				zap.String("context_id", contextID),
				zap.String("message_id", message.MessageID))
			return nil
		}
	}

	s.messages[contextID] = append(s.messages[contextID], message)

	s.logger.Debug("message appended",
		zap.String("context_id", contextID),
		zap.String("message_id", message.MessageID),
		zap.String("role", string(message.Role)),
		zap.Int("total_messages", len(s.messages[contextID])))

	return nil
}

// ListMessages returns the ordered message log for a context
func (s *InMemoryMessageStorage) ListMessages(ctx context.Context, contextID string) ([]types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, exists := s.messages[contextID]
	if !exists {
		return []types.Message{}, nil
	}

	result := make([]types.Message, len(history))
	copy(result, history)
	return result, nil
}

// DeleteContext removes the message log for a context
func (s *InMemoryMessageStorage) DeleteContext(ctx context.Context, contextID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[contextID]; !exists {
		return fmt.Errorf("context not found: %s", contextID)
	}

	delete(s.messages, contextID)
	s.logger.Debug("context deleted", zap.String("context_id", contextID))

	return nil
}

// ContextTaskStorage is a read-only TaskStorage view bound to a single context,
// handed to agent executors so they cannot observe tasks of other contexts
type ContextTaskStorage struct {
	contextID string
	storage   TaskStorage
}

// NewContextTaskStorage creates a task storage view bound to contextID
func NewContextTaskStorage(contextID string, storage TaskStorage) *ContextTaskStorage {
	return &ContextTaskStorage{contextID: contextID, storage: storage}
}

// ContextID returns the context this view is bound to
func (s *ContextTaskStorage) ContextID() string {
	return s.contextID
}

// GetTask returns the task snapshot if the task belongs to the bound context
func (s *ContextTaskStorage) GetTask(ctx context.Context, taskID string, historyLength *int, includeArtifacts bool) (*types.Task, error) {
	task, err := s.storage.GetTask(ctx, taskID, historyLength, includeArtifacts)
	if err != nil {
		return nil, err
	}
	if task.ContextID != s.contextID {
		return nil, NewTaskNotFoundError(taskID)
	}
	return task, nil
}

// ListTasks returns all tasks of the bound context
func (s *ContextTaskStorage) ListTasks(ctx context.Context) ([]types.Task, error) {
	return s.storage.ListTasksByContext(ctx, s.contextID)
}

// ContextMessageStorage is a MessageStorage view bound to a single context
type ContextMessageStorage struct {
	contextID string
	storage   MessageStorage
}

// NewContextMessageStorage creates a message storage view bound to contextID
func NewContextMessageStorage(contextID string, storage MessageStorage) *ContextMessageStorage {
	return &ContextMessageStorage{contextID: contextID, storage: storage}
}

// ContextID returns the context this view is bound to
func (s *ContextMessageStorage) ContextID() string {
	return s.contextID
}

// AppendMessage appends a message, rejecting messages for other contexts
func (s *ContextMessageStorage) AppendMessage(ctx context.Context, message types.Message) error {
	if message.ContextID == nil {
		message.ContextID = StringPtr(s.contextID)
	} else if *message.ContextID != s.contextID {
		return fmt.Errorf("message %s belongs to context %s, view is bound to %s", message.MessageID, *message.ContextID, s.contextID)
	}
	return s.storage.AppendMessage(ctx, message)
}

// ListMessages returns the ordered message log of the bound context
func (s *ContextMessageStorage) ListMessages(ctx context.Context) ([]types.Message, error) {
	return s.storage.ListMessages(ctx, s.contextID)
}

// cloneTask returns a copy of task safe to hand to callers while the original
// keeps receiving event deltas
func cloneTask(task *types.Task) *types.Task {
	clone := *task

	if task.History != nil {
		clone.History = make([]types.Message, len(task.History))
		copy(clone.History, task.History)
	}
	if task.Artifacts != nil {
		clone.Artifacts = make([]types.Artifact, len(task.Artifacts))
		copy(clone.Artifacts, task.Artifacts)
	}

	return &clone
}

// trimTaskHistory bounds the task history to the last historyLength messages.
// nil keeps the full history, zero and negative values drop it entirely.
func trimTaskHistory(task *types.Task, historyLength *int) {
	if historyLength == nil {
		return
	}

	limit := *historyLength
	if limit <= 0 {
		task.History = nil
		return
	}

	if len(task.History) > limit {
		trimmed := make([]types.Message, limit)
		copy(trimmed, task.History[len(task.History)-limit:])
		task.History = trimmed
	}
}

// applyArtifactUpdate merges an artifact update event into the task snapshot.
// append=true concatenates parts onto the artifact with the same artifactId,
// anything else inserts or replaces it.
func applyArtifactUpdate(task *types.Task, event *types.TaskArtifactUpdateEvent) {
	artifact := event.Artifact

	if event.Append != nil && *event.Append {
		for i := range task.Artifacts {
			if task.Artifacts[i].ArtifactID == artifact.ArtifactID {
				task.Artifacts[i].Parts = append(task.Artifacts[i].Parts, artifact.Parts...)
				return
			}
		}
	}

	for i := range task.Artifacts {
		if task.Artifacts[i].ArtifactID == artifact.ArtifactID {
			task.Artifacts[i] = artifact
			return
		}
	}

	task.Artifacts = append(task.Artifacts, artifact)
}
