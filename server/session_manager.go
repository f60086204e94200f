package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	zap "go.uber.org/zap"

	types "github.com/a2akit/ark/types"
)

// SessionManager tracks live sessions, serializes per-task work, and reacts
// to session completion (push delivery, lifecycle events).
type SessionManager interface {
	// AddSession registers a started-or-about-to-start session and begins
	// watching its event stream
	AddSession(ctx context.Context, session *Session, opts SessionOptions) error

	// SessionForTask returns the live session currently driving taskID, or nil
	SessionForTask(taskID string) *Session

	// TaskLock acquires the named task lock, queuing FIFO behind other waiters
	TaskLock(ctx context.Context, taskID string) error

	// TaskUnlock releases the named task lock, waking the oldest waiter
	TaskUnlock(taskID string) error

	// IsTaskLocked reports whether the named task lock is currently held
	IsTaskLocked(taskID string) bool

	// ActiveSessions returns the number of sessions being watched
	ActiveSessions() int

	// LifecycleEvents exposes the manager's CloudEvents hook channel
	LifecycleEvents() <-chan cloudevents.Event

	// Shutdown cancels every live session and waits for their watchers
	Shutdown(ctx context.Context) error
}

// SessionOptions tunes session registration. InitialTaskID claims a task id
// before the session emits its first event, closing the window where a second
// send for the same task could slip past the one-session rule.
// PendingPushConfig is saved for the first task the session materializes.
type SessionOptions struct {
	InitialTaskID     string
	PendingPushConfig *types.PushNotificationConfig
}

// taskLock is a FIFO-fair named mutex entry. Waiters are granted strictly in
// arrival order.
type taskLock struct {
	held    bool
	waiters []chan struct{}
}

// DefaultSessionManager is the in-process SessionManager implementation
type DefaultSessionManager struct {
	logger      *zap.Logger
	tasks       TaskStorage
	pushConfigs PushNotificationConfigStorage
	pushSender  PushNotificationSender

	mu           sync.Mutex
	sessions     map[string]*Session
	liveSessions map[*Session]struct{}
	locks        map[string]*taskLock
	watchers     sync.WaitGroup

	lifecycle chan cloudevents.Event
}

// lifecycleHookBuffer bounds the CloudEvents hook channel; emission never
// blocks session watchers.
const lifecycleHookBuffer = 64

// NewSessionManager creates a DefaultSessionManager. pushConfigs and
// pushSender may be nil, in which case completion skips push delivery.
func NewSessionManager(logger *zap.Logger, tasks TaskStorage, pushConfigs PushNotificationConfigStorage, pushSender PushNotificationSender) *DefaultSessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DefaultSessionManager{
		logger:       logger,
		tasks:        tasks,
		pushConfigs:  pushConfigs,
		pushSender:   pushSender,
		sessions:     make(map[string]*Session),
		liveSessions: make(map[*Session]struct{}),
		locks:        make(map[string]*taskLock),
		lifecycle:    make(chan cloudevents.Event, lifecycleHookBuffer),
	}
}

// AddSession begins watching the session's event stream on a background
// goroutine. Task ids observed in the stream are indexed so that
// SessionForTask can enforce the one-session-per-task rule; on stream
// termination the watcher delivers push notifications for terminal tasks and
// emits lifecycle events before removing the index entries.
func (m *DefaultSessionManager) AddSession(ctx context.Context, session *Session, opts SessionOptions) error {
	if session == nil {
		return fmt.Errorf("session must not be nil")
	}

	sub := session.Subscribe(false)
	indexed := make(map[string]bool)
	pendingPushConfig := opts.PendingPushConfig

	if opts.InitialTaskID != "" {
		if err := m.indexTask(opts.InitialTaskID, session); err != nil {
			sub.Cancel()
			return err
		}
		indexed[opts.InitialTaskID] = true

		if pendingPushConfig != nil && m.pushConfigs != nil {
			if _, err := m.pushConfigs.Save(ctx, opts.InitialTaskID, *pendingPushConfig); err != nil {
				m.logger.Error("failed to save push notification config",
					zap.String("task_id", opts.InitialTaskID),
					zap.Error(err))
			}
			pendingPushConfig = nil
		}
	}

	m.mu.Lock()
	m.liveSessions[session] = struct{}{}
	m.mu.Unlock()

	m.emitLifecycle(types.NewSessionLifecycleEvent(types.EventSessionStarted, session.ContextID(), nil))

	m.watchers.Add(1)
	go m.watchSession(session, sub, indexed, pendingPushConfig)

	return nil
}

func (m *DefaultSessionManager) watchSession(session *Session, sub *EventSubscription, indexed map[string]bool, pendingPushConfig *types.PushNotificationConfig) {
	defer m.watchers.Done()

	ctx := context.Background()

	for event := range sub.Events() {
		taskID, ok := types.EventTaskID(event)
		if !ok || indexed[taskID] {
			continue
		}

		if err := m.indexTask(taskID, session); err != nil {
			m.logger.Error("failed to index task for session",
				zap.String("task_id", taskID),
				zap.String("context_id", session.ContextID()),
				zap.Error(err))
			session.processor.CloseWithError(err)
			continue
		}
		indexed[taskID] = true

		if pendingPushConfig != nil && m.pushConfigs != nil {
			if _, err := m.pushConfigs.Save(ctx, taskID, *pendingPushConfig); err != nil {
				m.logger.Error("failed to save push notification config",
					zap.String("task_id", taskID),
					zap.Error(err))
			}
			pendingPushConfig = nil
		}
	}

	m.finishSession(session, indexed, sub.Err())
}

// indexTask claims taskID for session. A task id already claimed by a
// different live session violates the one-session rule.
func (m *DefaultSessionManager) indexTask(taskID string, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[taskID]; ok && existing != session {
		return NewInternalError(fmt.Errorf("task %s is already owned by another session", taskID))
	}
	m.sessions[taskID] = session

	return nil
}

// finishSession runs once the session stream has terminated: push delivery
// for terminal tasks, lifecycle events, index cleanup.
func (m *DefaultSessionManager) finishSession(session *Session, indexed map[string]bool, streamErr error) {
	ctx := context.Background()
	contextID := session.ContextID()

	taskIDs := make([]string, 0, len(indexed))
	for taskID := range indexed {
		taskIDs = append(taskIDs, taskID)

		task, err := m.tasks.GetTask(ctx, taskID, nil, true)
		if err != nil {
			m.logger.Error("failed to load task snapshot on session completion",
				zap.String("task_id", taskID),
				zap.Error(err))
			continue
		}

		if task.Status.State.IsTerminal() {
			m.emitLifecycle(types.NewTaskLifecycleEvent(types.EventTaskTerminal, task))
			m.dispatchPushNotifications(ctx, task)
		} else if task.Status.State.IsPaused() {
			m.emitLifecycle(types.NewTaskLifecycleEvent(types.EventTaskPaused, task))
		}
	}

	switch {
	case streamErr == nil:
		m.emitLifecycle(types.NewSessionLifecycleEvent(types.EventSessionCompleted, contextID, taskIDs))
	case errors.Is(streamErr, context.Canceled):
		m.emitLifecycle(types.NewSessionLifecycleEvent(types.EventSessionCanceled, contextID, taskIDs))
	default:
		m.logger.Warn("session stream terminated with error",
			zap.String("context_id", contextID),
			zap.Error(streamErr))
		m.emitLifecycle(types.NewSessionLifecycleEvent(types.EventSessionFailed, contextID, taskIDs))
	}

	m.mu.Lock()
	for taskID := range indexed {
		if m.sessions[taskID] == session {
			delete(m.sessions, taskID)
		}
	}
	delete(m.liveSessions, session)
	m.mu.Unlock()
}

// dispatchPushNotifications delivers the terminal task snapshot to every
// stored config, concurrently and fire-and-forget. Delivery failures are
// logged, never surfaced to protocol callers.
func (m *DefaultSessionManager) dispatchPushNotifications(ctx context.Context, task *types.Task) {
	if m.pushConfigs == nil || m.pushSender == nil {
		return
	}

	configs, err := m.pushConfigs.GetAll(ctx, task.ID)
	if err != nil {
		m.logger.Error("failed to load push notification configs",
			zap.String("task_id", task.ID),
			zap.Error(err))
		return
	}

	for _, config := range configs {
		go func(config types.PushNotificationConfig) {
			if err := m.pushSender.SendTaskUpdate(context.Background(), config, task); err != nil {
				m.logger.Warn("push notification delivery failed",
					zap.String("task_id", task.ID),
					zap.String("config_id", stringValue(config.ID)),
					zap.Error(err))
				m.emitLifecycle(types.NewTaskLifecycleEvent(types.EventPushFailed, task))
				return
			}
			m.emitLifecycle(types.NewTaskLifecycleEvent(types.EventPushDelivered, task))
		}(config)
	}
}

// SessionForTask returns the live session driving taskID, or nil
func (m *DefaultSessionManager) SessionForTask(taskID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[taskID]
}

// ActiveSessions returns the number of sessions currently being watched
func (m *DefaultSessionManager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.liveSessions)
}

// TaskLock acquires the named lock for taskID, waiting FIFO behind earlier
// acquirers. The wait is abandoned when ctx is done.
func (m *DefaultSessionManager) TaskLock(ctx context.Context, taskID string) error {
	m.mu.Lock()
	l, ok := m.locks[taskID]
	if !ok {
		l = &taskLock{}
		m.locks[taskID] = l
	}

	if !l.held && len(l.waiters) == 0 {
		l.held = true
		m.mu.Unlock()
		return nil
	}

	grant := make(chan struct{})
	l.waiters = append(l.waiters, grant)
	m.mu.Unlock()

	select {
	case <-grant:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		for i, w := range l.waiters {
			if w == grant {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				m.mu.Unlock()
				return ctx.Err()
			}
		}
		// The grant raced the cancellation; pass ownership along.
		m.unlockLocked(taskID, l)
		m.mu.Unlock()
		return ctx.Err()
	}
}

// TaskUnlock releases the named lock. Releasing a lock that is not held is an
// illegal state and returns an error.
func (m *DefaultSessionManager) TaskUnlock(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[taskID]
	if !ok || !l.held {
		return fmt.Errorf("task lock %s is not held", taskID)
	}

	m.unlockLocked(taskID, l)
	return nil
}

// unlockLocked hands the lock to the oldest waiter or releases it. Caller
// holds m.mu.
func (m *DefaultSessionManager) unlockLocked(taskID string, l *taskLock) {
	if len(l.waiters) > 0 {
		grant := l.waiters[0]
		l.waiters = l.waiters[1:]
		close(grant)
		return
	}

	l.held = false
	delete(m.locks, taskID)
}

// IsTaskLocked reports whether the named lock is currently held
func (m *DefaultSessionManager) IsTaskLocked(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[taskID]
	return ok && l.held
}

// TaskLockWaiters returns the number of acquirers queued behind the named lock
func (m *DefaultSessionManager) TaskLockWaiters(taskID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[taskID]
	if !ok {
		return 0
	}
	return len(l.waiters)
}

// LifecycleEvents exposes the CloudEvents hook channel. Events are dropped
// when the channel is saturated.
func (m *DefaultSessionManager) LifecycleEvents() <-chan cloudevents.Event {
	return m.lifecycle
}

func (m *DefaultSessionManager) emitLifecycle(event cloudevents.Event) {
	select {
	case m.lifecycle <- event:
	default:
		m.logger.Debug("lifecycle hook saturated, dropping event",
			zap.String("event_type", event.Type()))
	}
}

// Shutdown cancels every live session and waits for their watchers to drain
// or for ctx to expire.
func (m *DefaultSessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	live := make([]*Session, 0, len(m.liveSessions))
	for session := range m.liveSessions {
		live = append(live, session)
	}
	m.mu.Unlock()

	for _, session := range live {
		if err := session.Close(ctx); err != nil {
			m.logger.Warn("failed to close session during shutdown", zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		m.watchers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
