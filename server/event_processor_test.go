package server_test

import (
	"context"
	"errors"
	"testing"
	"time"

	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
	zap "go.uber.org/zap"

	server "github.com/a2akit/ark/server"
	types "github.com/a2akit/ark/types"
)

func newTestProcessor(t *testing.T, contextID string, currentTask *types.Task, bufferSize int) *server.DefaultSessionEventProcessor {
	t.Helper()
	logger := zap.NewNop()
	return server.NewDefaultSessionEventProcessor(
		logger,
		contextID,
		currentTask,
		server.NewInMemoryTaskStorage(logger),
		server.NewInMemoryMessageStorage(logger),
		bufferSize,
		func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	)
}

// drainEvents reads all buffered events from a subscription after the stream
// has been closed.
func drainEvents(t *testing.T, sub *server.EventSubscription) []types.Event {
	t.Helper()

	var events []types.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return events
			}
			events = append(events, event)
		case <-timeout:
			t.Fatal("timed out waiting for subscription to close")
		}
	}
}

func TestDefaultSessionEventProcessor_SendMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("stamps context and broadcasts in order", func(t *testing.T) {
		processor := newTestProcessor(t, "ctx-1", nil, 8)
		sub := processor.Subscribe(false)

		message := types.NewAgentTextMessage("msg-1", "hello")
		require.NoError(t, processor.SendMessage(ctx, *message))
		require.NoError(t, processor.Close())

		events := drainEvents(t, sub)
		require.Len(t, events, 1)
		received, ok := events[0].(*types.Message)
		require.True(t, ok)
		assert.Equal(t, "msg-1", received.MessageID)
		require.NotNil(t, received.ContextID)
		assert.Equal(t, "ctx-1", *received.ContextID)
		assert.NoError(t, sub.Err())
	})

	t.Run("rejects message bound to a different context", func(t *testing.T) {
		processor := newTestProcessor(t, "ctx-1", nil, 8)

		message := types.NewAgentTextMessage("msg-1", "stray")
		message.ContextID = server.StringPtr("ctx-other")
		err := processor.SendMessage(ctx, *message)
		require.Error(t, err)

		var invalid *server.InvalidAgentResponseError
		assert.True(t, errors.As(err, &invalid))
	})

	t.Run("second message without a task is rejected", func(t *testing.T) {
		processor := newTestProcessor(t, "ctx-1", nil, 8)

		require.NoError(t, processor.SendMessage(ctx, *types.NewAgentTextMessage("msg-1", "first")))

		err := processor.SendMessage(ctx, *types.NewAgentTextMessage("msg-2", "second"))
		require.Error(t, err)

		var invalid *server.InvalidAgentResponseError
		assert.True(t, errors.As(err, &invalid))
	})

	t.Run("second message allowed once a task exists", func(t *testing.T) {
		processor := newTestProcessor(t, "ctx-1", nil, 8)

		require.NoError(t, processor.SendMessage(ctx, *types.NewAgentTextMessage("msg-1", "first")))
		require.NoError(t, processor.SendTaskEvent(ctx, &types.Task{
			ID: "task-1", Kind: types.KindTask,
			Status: types.TaskStatus{State: types.TaskStateCompleted},
		}))
		assert.NoError(t, processor.SendMessage(ctx, *types.NewAgentTextMessage("msg-2", "second")))
	})
}

func TestDefaultSessionEventProcessor_SendTaskEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("task event is stamped and stored", func(t *testing.T) {
		processor := newTestProcessor(t, "ctx-1", nil, 8)
		sub := processor.Subscribe(false)

		require.NoError(t, processor.SendTaskEvent(ctx, &types.Task{
			ID:     "task-1",
			Status: types.TaskStatus{State: types.TaskStateCompleted},
		}))
		require.NoError(t, processor.Close())

		events := drainEvents(t, sub)
		require.Len(t, events, 1)
		task, ok := events[0].(*types.Task)
		require.True(t, ok)
		assert.Equal(t, "ctx-1", task.ContextID)
		assert.Equal(t, types.KindTask, task.Kind)
		require.NotNil(t, task.Status.Timestamp)
		assert.Equal(t, "2025-06-01T12:00:00Z", *task.Status.Timestamp)

		assert.Equal(t, []string{"task-1"}, processor.TaskIDs())
	})

	t.Run("duplicate initial task event is rejected", func(t *testing.T) {
		processor := newTestProcessor(t, "ctx-1", nil, 8)

		require.NoError(t, processor.SendTaskEvent(ctx, &types.Task{
			ID: "task-1", Status: types.TaskStatus{State: types.TaskStateWorking},
		}))

		err := processor.SendTaskEvent(ctx, &types.Task{
			ID: "task-1", Status: types.TaskStatus{State: types.TaskStateWorking},
		})
		require.Error(t, err)

		var invalid *server.InvalidAgentResponseError
		assert.True(t, errors.As(err, &invalid))
	})

	t.Run("events after a final status update are rejected", func(t *testing.T) {
		processor := newTestProcessor(t, "ctx-1", nil, 8)

		require.NoError(t, processor.SendTaskEvent(ctx, &types.Task{
			ID: "task-1", Status: types.TaskStatus{State: types.TaskStateWorking},
		}))
		require.NoError(t, processor.SendTaskEvent(ctx, &types.TaskStatusUpdateEvent{
			TaskID: "task-1", Final: true,
			Status: types.TaskStatus{State: types.TaskStateCompleted},
		}))

		err := processor.SendTaskEvent(ctx, &types.TaskStatusUpdateEvent{
			TaskID: "task-1",
			Status: types.TaskStatus{State: types.TaskStateWorking},
		})
		require.Error(t, err)

		var invalid *server.InvalidAgentResponseError
		assert.True(t, errors.As(err, &invalid))

		err = processor.SendTaskEvent(ctx, &types.TaskArtifactUpdateEvent{
			TaskID:   "task-1",
			Artifact: types.Artifact{ArtifactID: "a-1"},
		})
		assert.Error(t, err)
	})

	t.Run("status update for unknown task surfaces as invalid agent response", func(t *testing.T) {
		processor := newTestProcessor(t, "ctx-1", nil, 8)

		err := processor.SendTaskEvent(ctx, &types.TaskStatusUpdateEvent{
			TaskID: "never-created",
			Status: types.TaskStatus{State: types.TaskStateWorking},
		})
		require.Error(t, err)

		var invalid *server.InvalidAgentResponseError
		assert.True(t, errors.As(err, &invalid))
	})

	t.Run("events preserve emission order across kinds", func(t *testing.T) {
		processor := newTestProcessor(t, "ctx-1", nil, 16)
		sub := processor.Subscribe(false)

		require.NoError(t, processor.SendTaskEvent(ctx, &types.Task{
			ID: "task-1", Status: types.TaskStatus{State: types.TaskStateWorking},
		}))
		require.NoError(t, processor.SendTaskEvent(ctx, &types.TaskArtifactUpdateEvent{
			TaskID:   "task-1",
			Artifact: types.Artifact{ArtifactID: "a-1", Parts: []types.Part{types.NewTextPart("chunk")}},
		}))
		require.NoError(t, processor.SendTaskEvent(ctx, &types.TaskStatusUpdateEvent{
			TaskID: "task-1", Final: true,
			Status: types.TaskStatus{State: types.TaskStateCompleted},
		}))
		require.NoError(t, processor.Close())

		events := drainEvents(t, sub)
		require.Len(t, events, 3)
		assert.Equal(t, types.KindTask, events[0].EventKind())
		assert.Equal(t, types.KindArtifactUpdate, events[1].EventKind())
		assert.Equal(t, types.KindStatusUpdate, events[2].EventKind())
	})
}

func TestDefaultSessionEventProcessor_Subscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("replay seeds latest task snapshot and status", func(t *testing.T) {
		processor := newTestProcessor(t, "ctx-1", nil, 16)

		require.NoError(t, processor.SendTaskEvent(ctx, &types.Task{
			ID: "task-1", Status: types.TaskStatus{State: types.TaskStateSubmitted},
		}))
		require.NoError(t, processor.SendTaskEvent(ctx, &types.TaskStatusUpdateEvent{
			TaskID: "task-1",
			Status: types.TaskStatus{State: types.TaskStateWorking},
		}))

		sub := processor.Subscribe(true)
		require.NoError(t, processor.SendTaskEvent(ctx, &types.TaskStatusUpdateEvent{
			TaskID: "task-1", Final: true,
			Status: types.TaskStatus{State: types.TaskStateCompleted},
		}))
		require.NoError(t, processor.Close())

		events := drainEvents(t, sub)
		require.Len(t, events, 3)
		assert.Equal(t, types.KindTask, events[0].EventKind())

		replayed, ok := events[1].(*types.TaskStatusUpdateEvent)
		require.True(t, ok)
		assert.Equal(t, types.TaskStateWorking, replayed.Status.State)

		live, ok := events[2].(*types.TaskStatusUpdateEvent)
		require.True(t, ok)
		assert.Equal(t, types.TaskStateCompleted, live.Status.State)
	})

	t.Run("replay with resumed task seeds the stored snapshot", func(t *testing.T) {
		resumed := &types.Task{
			ID: "task-1", ContextID: "ctx-1", Kind: types.KindTask,
			Status: types.TaskStatus{State: types.TaskStateInputRequired},
		}
		processor := newTestProcessor(t, "ctx-1", resumed, 8)

		sub := processor.Subscribe(true)
		processor.CloseWithError(nil)

		events := drainEvents(t, sub)
		require.Len(t, events, 1)
		task, ok := events[0].(*types.Task)
		require.True(t, ok)
		assert.Equal(t, "task-1", task.ID)
	})

	t.Run("subscribe without replay skips history", func(t *testing.T) {
		processor := newTestProcessor(t, "ctx-1", nil, 8)

		require.NoError(t, processor.SendTaskEvent(ctx, &types.Task{
			ID: "task-1", Status: types.TaskStatus{State: types.TaskStateCompleted},
		}))

		sub := processor.Subscribe(false)
		require.NoError(t, processor.Close())

		events := drainEvents(t, sub)
		assert.Empty(t, events)
	})

	t.Run("subscribing after close returns a closed subscription", func(t *testing.T) {
		processor := newTestProcessor(t, "ctx-1", nil, 8)
		require.NoError(t, processor.Close())

		sub := processor.Subscribe(false)
		_, open := <-sub.Events()
		assert.False(t, open)
		assert.NoError(t, sub.Err())
	})

	t.Run("slow subscriber is dropped with an internal error", func(t *testing.T) {
		processor := newTestProcessor(t, "ctx-1", nil, 1)
		slow := processor.Subscribe(false)

		require.NoError(t, processor.SendTaskEvent(ctx, &types.Task{
			ID: "task-1", Status: types.TaskStatus{State: types.TaskStateWorking},
		}))
		// Buffer of one is now full; the next publish drops the subscriber.
		require.NoError(t, processor.SendTaskEvent(ctx, &types.TaskStatusUpdateEvent{
			TaskID: "task-1", Final: true,
			Status: types.TaskStatus{State: types.TaskStateCompleted},
		}))

		events := drainEvents(t, slow)
		assert.Len(t, events, 1)

		err := slow.Err()
		require.Error(t, err)
		var internal *server.InternalError
		assert.True(t, errors.As(err, &internal))
	})

	t.Run("cancel detaches only the canceled subscription", func(t *testing.T) {
		processor := newTestProcessor(t, "ctx-1", nil, 8)
		first := processor.Subscribe(false)
		second := processor.Subscribe(false)

		first.Cancel()

		require.NoError(t, processor.SendTaskEvent(ctx, &types.Task{
			ID: "task-1", Status: types.TaskStatus{State: types.TaskStateCompleted},
		}))
		require.NoError(t, processor.Close())

		assert.Empty(t, drainEvents(t, first))
		assert.Len(t, drainEvents(t, second), 1)
	})
}

func TestDefaultSessionEventProcessor_Close(t *testing.T) {
	ctx := context.Background()

	t.Run("close with non-final task fails and poisons the stream", func(t *testing.T) {
		processor := newTestProcessor(t, "ctx-1", nil, 8)
		sub := processor.Subscribe(false)

		require.NoError(t, processor.SendTaskEvent(ctx, &types.Task{
			ID: "task-1", Status: types.TaskStatus{State: types.TaskStateWorking},
		}))

		err := processor.Close()
		require.Error(t, err)
		var internal *server.InternalError
		assert.True(t, errors.As(err, &internal))

		drainEvents(t, sub)
		assert.Error(t, sub.Err())
	})

	t.Run("close with paused task succeeds", func(t *testing.T) {
		processor := newTestProcessor(t, "ctx-1", nil, 8)

		require.NoError(t, processor.SendTaskEvent(ctx, &types.Task{
			ID: "task-1", Status: types.TaskStatus{State: types.TaskStateInputRequired},
		}))
		assert.NoError(t, processor.Close())
	})

	t.Run("close is idempotent", func(t *testing.T) {
		processor := newTestProcessor(t, "ctx-1", nil, 8)
		require.NoError(t, processor.Close())
		require.NoError(t, processor.Close())
	})

	t.Run("send after close fails", func(t *testing.T) {
		processor := newTestProcessor(t, "ctx-1", nil, 8)
		require.NoError(t, processor.Close())

		assert.Error(t, processor.SendMessage(ctx, *types.NewAgentTextMessage("msg-1", "late")))
		assert.Error(t, processor.SendTaskEvent(ctx, &types.Task{
			ID: "task-1", Status: types.TaskStatus{State: types.TaskStateWorking},
		}))
	})

	t.Run("close with error reaches subscribers", func(t *testing.T) {
		processor := newTestProcessor(t, "ctx-1", nil, 8)
		sub := processor.Subscribe(false)

		processor.CloseWithError(errors.New("executor exploded"))

		drainEvents(t, sub)
		require.Error(t, sub.Err())
		assert.Contains(t, sub.Err().Error(), "executor exploded")
	})
}
