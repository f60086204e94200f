package server_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
	zap "go.uber.org/zap"

	server "github.com/a2akit/ark/server"
	types "github.com/a2akit/ark/types"
)

// managedSession wires a session and its processor to shared task storage so
// the manager observes the same snapshots the session writes.
func managedSession(t *testing.T, tasks server.TaskStorage, contextID string, execute func(ctx context.Context, processor *server.DefaultSessionEventProcessor) error) *server.Session {
	t.Helper()
	logger := zap.NewNop()
	processor := server.NewDefaultSessionEventProcessor(
		logger, contextID, nil, tasks, server.NewInMemoryMessageStorage(logger), 16, nil)
	return server.NewSession(context.Background(), logger, processor, func(ctx context.Context) error {
		return execute(ctx, processor)
	})
}

func collectLifecycleEvents(t *testing.T, manager *server.DefaultSessionManager, count int) []cloudevents.Event {
	t.Helper()

	events := make([]cloudevents.Event, 0, count)
	timeout := time.After(2 * time.Second)
	for len(events) < count {
		select {
		case event := <-manager.LifecycleEvents():
			events = append(events, event)
		case <-timeout:
			t.Fatalf("timed out, got %d of %d lifecycle events", len(events), count)
		}
	}
	return events
}

func lifecycleTypes(events []cloudevents.Event) []string {
	typeNames := make([]string, len(events))
	for i, event := range events {
		typeNames[i] = event.Type()
	}
	return typeNames
}

func TestDefaultSessionManager_AddSession(t *testing.T) {
	ctx := context.Background()

	t.Run("indexes tasks observed in the stream", func(t *testing.T) {
		tasks := server.NewInMemoryTaskStorage(zap.NewNop())
		manager := server.NewSessionManager(zap.NewNop(), tasks, nil, nil)

		release := make(chan struct{})
		session := managedSession(t, tasks, "ctx-1", func(ctx context.Context, processor *server.DefaultSessionEventProcessor) error {
			if err := processor.SendTaskEvent(ctx, &types.Task{
				ID: "task-1", Status: types.TaskStatus{State: types.TaskStateWorking},
			}); err != nil {
				return err
			}
			<-release
			return processor.SendTaskEvent(ctx, &types.TaskStatusUpdateEvent{
				TaskID: "task-1", Final: true,
				Status: types.TaskStatus{State: types.TaskStateCompleted},
			})
		})

		require.NoError(t, manager.AddSession(ctx, session, server.SessionOptions{}))
		assert.Equal(t, 1, manager.ActiveSessions())

		session.Start()
		require.Eventually(t, func() bool {
			return manager.SessionForTask("task-1") == session
		}, 2*time.Second, 5*time.Millisecond)

		close(release)
		require.Eventually(t, func() bool {
			return manager.SessionForTask("task-1") == nil && manager.ActiveSessions() == 0
		}, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("initial task id claims ownership before the first event", func(t *testing.T) {
		tasks := server.NewInMemoryTaskStorage(zap.NewNop())
		manager := server.NewSessionManager(zap.NewNop(), tasks, nil, nil)

		release := make(chan struct{})
		holder := managedSession(t, tasks, "ctx-1", func(ctx context.Context, processor *server.DefaultSessionEventProcessor) error {
			<-release
			return nil
		})
		require.NoError(t, manager.AddSession(ctx, holder, server.SessionOptions{InitialTaskID: "task-1"}))
		assert.Equal(t, holder, manager.SessionForTask("task-1"))

		rival := managedSession(t, tasks, "ctx-1", func(ctx context.Context, processor *server.DefaultSessionEventProcessor) error {
			return nil
		})
		err := manager.AddSession(ctx, rival, server.SessionOptions{InitialTaskID: "task-1"})
		require.Error(t, err)

		close(release)
		holder.Start()
	})

	t.Run("nil session is rejected", func(t *testing.T) {
		manager := server.NewSessionManager(zap.NewNop(), server.NewInMemoryTaskStorage(zap.NewNop()), nil, nil)
		assert.Error(t, manager.AddSession(ctx, nil, server.SessionOptions{}))
	})

	t.Run("pending push config is saved for the first observed task", func(t *testing.T) {
		logger := zap.NewNop()
		tasks := server.NewInMemoryTaskStorage(logger)
		pushConfigs := server.NewInMemoryPushNotificationConfigStorage(logger, 0)
		manager := server.NewSessionManager(logger, tasks, pushConfigs, nil)

		session := managedSession(t, tasks, "ctx-1", func(ctx context.Context, processor *server.DefaultSessionEventProcessor) error {
			return processor.SendTaskEvent(ctx, &types.Task{
				ID: "task-1", Status: types.TaskStatus{State: types.TaskStateCompleted},
			})
		})

		require.NoError(t, manager.AddSession(ctx, session, server.SessionOptions{
			PendingPushConfig: &types.PushNotificationConfig{URL: "https://example.com/hook"},
		}))
		session.Start()

		require.Eventually(t, func() bool {
			configs, err := pushConfigs.GetAll(ctx, "task-1")
			return err == nil && len(configs) == 1
		}, 2*time.Second, 5*time.Millisecond)
	})
}

func TestDefaultSessionManager_LifecycleEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("clean run emits started, terminal, completed", func(t *testing.T) {
		tasks := server.NewInMemoryTaskStorage(zap.NewNop())
		manager := server.NewSessionManager(zap.NewNop(), tasks, nil, nil)

		session := managedSession(t, tasks, "ctx-1", func(ctx context.Context, processor *server.DefaultSessionEventProcessor) error {
			return processor.SendTaskEvent(ctx, &types.Task{
				ID: "task-1", Status: types.TaskStatus{State: types.TaskStateCompleted},
			})
		})
		require.NoError(t, manager.AddSession(ctx, session, server.SessionOptions{}))
		session.Start()

		events := collectLifecycleEvents(t, manager, 3)
		assert.Equal(t, []string{
			types.EventSessionStarted,
			types.EventTaskTerminal,
			types.EventSessionCompleted,
		}, lifecycleTypes(events))
	})

	t.Run("paused task emits paused, completed", func(t *testing.T) {
		tasks := server.NewInMemoryTaskStorage(zap.NewNop())
		manager := server.NewSessionManager(zap.NewNop(), tasks, nil, nil)

		session := managedSession(t, tasks, "ctx-1", func(ctx context.Context, processor *server.DefaultSessionEventProcessor) error {
			return processor.SendTaskEvent(ctx, &types.Task{
				ID: "task-1", Status: types.TaskStatus{State: types.TaskStateInputRequired},
			})
		})
		require.NoError(t, manager.AddSession(ctx, session, server.SessionOptions{}))
		session.Start()

		events := collectLifecycleEvents(t, manager, 3)
		assert.Equal(t, []string{
			types.EventSessionStarted,
			types.EventTaskPaused,
			types.EventSessionCompleted,
		}, lifecycleTypes(events))
	})

	t.Run("wrapped cancellation emits session canceled", func(t *testing.T) {
		tasks := server.NewInMemoryTaskStorage(zap.NewNop())
		manager := server.NewSessionManager(zap.NewNop(), tasks, nil, nil)

		session := managedSession(t, tasks, "ctx-1", func(ctx context.Context, processor *server.DefaultSessionEventProcessor) error {
			return fmt.Errorf("agent run interrupted: %w", context.Canceled)
		})
		require.NoError(t, manager.AddSession(ctx, session, server.SessionOptions{}))
		session.Start()

		events := collectLifecycleEvents(t, manager, 2)
		assert.Equal(t, []string{
			types.EventSessionStarted,
			types.EventSessionCanceled,
		}, lifecycleTypes(events))
	})

	t.Run("failed run emits session failed", func(t *testing.T) {
		tasks := server.NewInMemoryTaskStorage(zap.NewNop())
		manager := server.NewSessionManager(zap.NewNop(), tasks, nil, nil)

		session := managedSession(t, tasks, "ctx-1", func(ctx context.Context, processor *server.DefaultSessionEventProcessor) error {
			return server.NewInternalError(context.DeadlineExceeded)
		})
		require.NoError(t, manager.AddSession(ctx, session, server.SessionOptions{}))
		session.Start()

		events := collectLifecycleEvents(t, manager, 2)
		assert.Equal(t, []string{
			types.EventSessionStarted,
			types.EventSessionFailed,
		}, lifecycleTypes(events))
	})
}

func TestDefaultSessionManager_PushDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("terminal task snapshot is delivered to every config", func(t *testing.T) {
		logger := zap.NewNop()
		tasks := server.NewInMemoryTaskStorage(logger)
		pushConfigs := server.NewInMemoryPushNotificationConfigStorage(logger, 0)
		sender := &fakePushSender{}
		manager := server.NewSessionManager(logger, tasks, pushConfigs, sender)

		_, err := pushConfigs.Save(ctx, "task-1", types.PushNotificationConfig{ID: server.StringPtr("cfg-1"), URL: "https://example.com/1"})
		require.NoError(t, err)
		_, err = pushConfigs.Save(ctx, "task-1", types.PushNotificationConfig{ID: server.StringPtr("cfg-2"), URL: "https://example.com/2"})
		require.NoError(t, err)

		session := managedSession(t, tasks, "ctx-1", func(ctx context.Context, processor *server.DefaultSessionEventProcessor) error {
			return processor.SendTaskEvent(ctx, &types.Task{
				ID: "task-1", Status: types.TaskStatus{State: types.TaskStateCompleted},
			})
		})
		require.NoError(t, manager.AddSession(ctx, session, server.SessionOptions{}))
		session.Start()

		require.Eventually(t, func() bool {
			return len(sender.deliveries()) == 2
		}, 2*time.Second, 5*time.Millisecond)
		for _, delivered := range sender.deliveries() {
			assert.Equal(t, "task-1", delivered.task.ID)
		}
	})

	t.Run("paused task is not pushed", func(t *testing.T) {
		logger := zap.NewNop()
		tasks := server.NewInMemoryTaskStorage(logger)
		pushConfigs := server.NewInMemoryPushNotificationConfigStorage(logger, 0)
		sender := &fakePushSender{}
		manager := server.NewSessionManager(logger, tasks, pushConfigs, sender)

		_, err := pushConfigs.Save(ctx, "task-1", types.PushNotificationConfig{URL: "https://example.com/hook"})
		require.NoError(t, err)

		session := managedSession(t, tasks, "ctx-1", func(ctx context.Context, processor *server.DefaultSessionEventProcessor) error {
			return processor.SendTaskEvent(ctx, &types.Task{
				ID: "task-1", Status: types.TaskStatus{State: types.TaskStateInputRequired},
			})
		})
		require.NoError(t, manager.AddSession(ctx, session, server.SessionOptions{}))
		session.Start()

		require.Eventually(t, func() bool {
			return manager.ActiveSessions() == 0
		}, 2*time.Second, 5*time.Millisecond)
		assert.Empty(t, sender.deliveries())
	})
}

func TestDefaultSessionManager_TaskLock(t *testing.T) {
	ctx := context.Background()

	t.Run("lock and unlock", func(t *testing.T) {
		manager := server.NewSessionManager(zap.NewNop(), server.NewInMemoryTaskStorage(zap.NewNop()), nil, nil)

		require.NoError(t, manager.TaskLock(ctx, "task-1"))
		assert.True(t, manager.IsTaskLocked("task-1"))
		assert.False(t, manager.IsTaskLocked("task-2"))

		require.NoError(t, manager.TaskUnlock("task-1"))
		assert.False(t, manager.IsTaskLocked("task-1"))
	})

	t.Run("unlocking an unheld lock fails", func(t *testing.T) {
		manager := server.NewSessionManager(zap.NewNop(), server.NewInMemoryTaskStorage(zap.NewNop()), nil, nil)
		assert.Error(t, manager.TaskUnlock("task-1"))
	})

	t.Run("waiters are granted in arrival order", func(t *testing.T) {
		manager := server.NewSessionManager(zap.NewNop(), server.NewInMemoryTaskStorage(zap.NewNop()), nil, nil)
		require.NoError(t, manager.TaskLock(ctx, "task-1"))

		var mu sync.Mutex
		var order []int
		var wg sync.WaitGroup
		started := make(chan struct{}, 3)

		for i := 1; i <= 3; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				started <- struct{}{}
				require.NoError(t, manager.TaskLock(ctx, "task-1"))
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				require.NoError(t, manager.TaskUnlock("task-1"))
			}(i)
			<-started
			// Wait until the goroutine is queued before starting the next one.
			require.Eventually(t, func() bool {
				return manager.TaskLockWaiters("task-1") == i
			}, 2*time.Second, time.Millisecond)
		}

		require.NoError(t, manager.TaskUnlock("task-1"))
		wg.Wait()

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []int{1, 2, 3}, order)
	})

	t.Run("canceled waiter abandons the queue", func(t *testing.T) {
		manager := server.NewSessionManager(zap.NewNop(), server.NewInMemoryTaskStorage(zap.NewNop()), nil, nil)
		require.NoError(t, manager.TaskLock(ctx, "task-1"))

		waitCtx, cancel := context.WithCancel(ctx)
		errs := make(chan error, 1)
		go func() {
			errs <- manager.TaskLock(waitCtx, "task-1")
		}()

		require.Eventually(t, func() bool {
			return manager.TaskLockWaiters("task-1") == 1
		}, 2*time.Second, time.Millisecond)

		cancel()
		assert.ErrorIs(t, <-errs, context.Canceled)

		// The lock is still held by the original owner and releasable.
		assert.True(t, manager.IsTaskLocked("task-1"))
		require.NoError(t, manager.TaskUnlock("task-1"))
		assert.False(t, manager.IsTaskLocked("task-1"))
	})
}

func TestDefaultSessionManager_Shutdown(t *testing.T) {
	ctx := context.Background()

	tasks := server.NewInMemoryTaskStorage(zap.NewNop())
	manager := server.NewSessionManager(zap.NewNop(), tasks, nil, nil)

	session := managedSession(t, tasks, "ctx-1", func(ctx context.Context, processor *server.DefaultSessionEventProcessor) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, manager.AddSession(ctx, session, server.SessionOptions{}))
	session.Start()

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, manager.Shutdown(shutdownCtx))
	assert.Equal(t, 0, manager.ActiveSessions())
}

// fakePushSender records deliveries instead of performing HTTP requests.
type fakePushSender struct {
	mu   sync.Mutex
	sent []pushDelivery
}

type pushDelivery struct {
	config types.PushNotificationConfig
	task   *types.Task
}

func (s *fakePushSender) SendTaskUpdate(ctx context.Context, config types.PushNotificationConfig, task *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, pushDelivery{config: config, task: task})
	return nil
}

func (s *fakePushSender) deliveries() []pushDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]pushDelivery, len(s.sent))
	copy(result, s.sent)
	return result
}
