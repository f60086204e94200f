package server

import (
	"context"
	"fmt"
	"time"

	zap "go.uber.org/zap"

	config "github.com/a2akit/ark/server/config"
	types "github.com/a2akit/ark/types"
)

// RequestHandler implements the protocol semantics of the ten A2A RPC
// methods, independent of any transport. Every method either returns a result
// or one of the typed protocol errors from errors.go.
type RequestHandler interface {
	HandleMessageSend(ctx context.Context, call *ServerCallContext, params types.MessageSendParams) (types.Event, error)
	HandleMessageStream(ctx context.Context, call *ServerCallContext, params types.MessageSendParams) (*EventSubscription, error)
	HandleTaskGet(ctx context.Context, call *ServerCallContext, params types.TaskQueryParams) (*types.Task, error)
	HandleTaskCancel(ctx context.Context, call *ServerCallContext, params types.TaskIdParams) (*types.Task, error)
	HandleTaskResubscribe(ctx context.Context, call *ServerCallContext, params types.TaskIdParams) (*EventSubscription, error)
	HandleSetTaskPushNotificationConfig(ctx context.Context, call *ServerCallContext, params types.TaskPushNotificationConfig) (*types.TaskPushNotificationConfig, error)
	HandleGetTaskPushNotificationConfig(ctx context.Context, call *ServerCallContext, params types.GetTaskPushNotificationConfigParams) (*types.TaskPushNotificationConfig, error)
	HandleListTaskPushNotificationConfig(ctx context.Context, call *ServerCallContext, params types.ListTaskPushNotificationConfigParams) ([]types.TaskPushNotificationConfig, error)
	HandleDeleteTaskPushNotificationConfig(ctx context.Context, call *ServerCallContext, params types.DeleteTaskPushNotificationConfigParams) error
	HandleGetAuthenticatedExtendedCard(ctx context.Context, call *ServerCallContext) (*types.AgentCard, error)
}

// DefaultRequestHandler wires storage, the session manager, and the agent
// executor into the protocol methods.
type DefaultRequestHandler struct {
	logger         *zap.Logger
	cfg            *config.Config
	agentCard      types.AgentCard
	extendedCard   *types.AgentCard
	storage        *StorageBundle
	sessionManager SessionManager
	agentExecutor  AgentExecutor
	pushSender     PushNotificationSender
	now            NowFunc

	// sessionCtx outlives individual requests so non-blocking sends keep
	// running after their HTTP request returns
	sessionCtx context.Context
}

// NewDefaultRequestHandler creates the protocol handler. sessionCtx bounds
// the lifetime of agent runs; canceling it cancels every session started
// afterwards.
func NewDefaultRequestHandler(
	logger *zap.Logger,
	cfg *config.Config,
	agentCard types.AgentCard,
	extendedCard *types.AgentCard,
	storage *StorageBundle,
	sessionManager SessionManager,
	agentExecutor AgentExecutor,
	pushSender PushNotificationSender,
	sessionCtx context.Context,
	now NowFunc,
) *DefaultRequestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sessionCtx == nil {
		sessionCtx = context.Background()
	}
	if now == nil {
		now = time.Now
	}

	return &DefaultRequestHandler{
		logger:         logger,
		cfg:            cfg,
		agentCard:      agentCard,
		extendedCard:   extendedCard,
		storage:        storage,
		sessionManager: sessionManager,
		agentExecutor:  agentExecutor,
		pushSender:     pushSender,
		sessionCtx:     sessionCtx,
		now:            now,
	}
}

func (h *DefaultRequestHandler) streamingEnabled() bool {
	return h.agentCard.Capabilities.Streaming != nil && *h.agentCard.Capabilities.Streaming
}

func (h *DefaultRequestHandler) pushEnabled() bool {
	return h.agentCard.Capabilities.PushNotifications != nil &&
		*h.agentCard.Capabilities.PushNotifications &&
		h.storage != nil && h.storage.PushConfigs != nil &&
		h.pushSender != nil
}

// startedSession pairs a running session with the subscription taken before
// Start, so callers observe the run from its first event.
type startedSession struct {
	session *Session
	sub     *EventSubscription
}

// startSession performs the shared message/send and message/stream setup:
// resolve the conversation scope, build the processor and request context,
// register the session, start the run.
func (h *DefaultRequestHandler) startSession(ctx context.Context, call *ServerCallContext, params types.MessageSendParams) (*startedSession, error) {
	if len(params.Message.Parts) == 0 {
		return nil, NewInvalidParamsError("message must contain at least one part")
	}

	var contextID string
	var currentTask *types.Task
	var resumeTaskID string

	if params.Message.TaskID != nil && *params.Message.TaskID != "" {
		resumeTaskID = *params.Message.TaskID

		if err := h.sessionManager.TaskLock(ctx, resumeTaskID); err != nil {
			return nil, err
		}
		defer func() {
			if err := h.sessionManager.TaskUnlock(resumeTaskID); err != nil {
				h.logger.Error("failed to release task lock", zap.String("task_id", resumeTaskID), zap.Error(err))
			}
		}()

		if h.sessionManager.SessionForTask(resumeTaskID) != nil {
			return nil, NewUnsupportedOperationError(fmt.Sprintf("task %s is still running", resumeTaskID))
		}

		task, err := h.storage.Tasks.GetTask(ctx, resumeTaskID, nil, true)
		if err != nil {
			return nil, err
		}

		if params.Message.ContextID != nil && *params.Message.ContextID != task.ContextID {
			return nil, NewInvalidParamsError(fmt.Sprintf("message contextId %s does not match task contextId %s", *params.Message.ContextID, task.ContextID))
		}

		contextID = task.ContextID
		currentTask = task
	} else if params.Message.ContextID != nil && *params.Message.ContextID != "" {
		contextID = *params.Message.ContextID
	} else {
		contextID = GenerateContextID()
	}

	message := params.Message
	if message.MessageID == "" {
		message.MessageID = GenerateMessageID()
	}
	if message.Kind == "" {
		message.Kind = types.KindMessage
	}
	if message.Role == "" {
		message.Role = types.RoleUser
	}
	message.ContextID = &contextID
	params.Message = message

	if err := h.storage.Messages.AppendMessage(ctx, message); err != nil {
		return nil, NewInternalError(fmt.Errorf("failed to record incoming message: %w", err))
	}

	processor := NewDefaultSessionEventProcessor(
		h.logger,
		contextID,
		currentTask,
		h.storage.Tasks,
		h.storage.Messages,
		h.cfg.StreamingConfig.SubscriberBufferSize,
		h.now,
	)

	reqCtx := &RequestContext{
		ContextID:   contextID,
		TaskID:      resumeTaskID,
		Params:      &params,
		CallContext: call,
		Tasks:       NewContextTaskStorage(contextID, h.storage.Tasks),
		Messages:    NewContextMessageStorage(contextID, h.storage.Messages),
	}

	session := NewSession(h.sessionCtx, h.logger, processor, func(runCtx context.Context) error {
		return h.agentExecutor.Execute(runCtx, reqCtx, processor)
	})

	sub := session.Subscribe(false)

	opts := SessionOptions{InitialTaskID: resumeTaskID}
	if params.Configuration != nil && params.Configuration.PushNotificationConfig != nil && h.pushEnabled() {
		opts.PendingPushConfig = params.Configuration.PushNotificationConfig
	}

	if err := h.sessionManager.AddSession(h.sessionCtx, session, opts); err != nil {
		sub.Cancel()
		processor.CloseWithError(err)
		return nil, err
	}

	session.Start()

	return &startedSession{session: session, sub: sub}, nil
}

// HandleMessageSend runs the agent for one message and returns either the
// agent's reply Message or a Task snapshot. With configuration.blocking the
// run is awaited to completion; otherwise the first event decides the
// response and the run continues in the background.
func (h *DefaultRequestHandler) HandleMessageSend(ctx context.Context, call *ServerCallContext, params types.MessageSendParams) (types.Event, error) {
	started, err := h.startSession(ctx, call, params)
	if err != nil {
		return nil, err
	}

	blocking := params.Configuration != nil &&
		params.Configuration.Blocking != nil &&
		*params.Configuration.Blocking

	if blocking {
		return h.awaitFinalEvent(ctx, started, params)
	}

	return h.awaitFirstEvent(ctx, started)
}

// awaitFinalEvent drains the session stream and returns the last Message, or
// the final task snapshot trimmed to configuration.historyLength.
func (h *DefaultRequestHandler) awaitFinalEvent(ctx context.Context, started *startedSession, params types.MessageSendParams) (types.Event, error) {
	var lastMessage *types.Message
	var lastTaskID string
	lastWasMessage := false

	for {
		select {
		case event, ok := <-started.sub.Events():
			if !ok {
				if err := started.sub.Err(); err != nil {
					return nil, err
				}
				if lastWasMessage && lastMessage != nil {
					return lastMessage, nil
				}
				if lastTaskID != "" {
					var historyLength *int
					if params.Configuration != nil {
						historyLength = params.Configuration.HistoryLength
					}
					return h.storage.Tasks.GetTask(ctx, lastTaskID, historyLength, true)
				}
				if lastMessage != nil {
					return lastMessage, nil
				}
				return nil, NewInternalError(fmt.Errorf("session produced no events"))
			}

			switch e := event.(type) {
			case *types.Message:
				lastMessage = e
				lastWasMessage = true
			default:
				if taskID, ok := types.EventTaskID(event); ok {
					lastTaskID = taskID
				}
				lastWasMessage = false
			}
		case <-ctx.Done():
			started.sub.Cancel()
			return nil, ctx.Err()
		}
	}
}

// awaitFirstEvent returns the run's first event, which must be a Message or a
// Task. The run keeps going after the response is written.
func (h *DefaultRequestHandler) awaitFirstEvent(ctx context.Context, started *startedSession) (types.Event, error) {
	select {
	case event, ok := <-started.sub.Events():
		started.sub.Cancel()
		if !ok {
			if err := started.sub.Err(); err != nil {
				return nil, err
			}
			return nil, NewInternalError(fmt.Errorf("session produced no events"))
		}

		switch e := event.(type) {
		case *types.Message:
			return e, nil
		case *types.Task:
			return e, nil
		default:
			return nil, NewInternalError(fmt.Errorf("unexpected event type %s as first session event", event.EventKind()))
		}
	case <-ctx.Done():
		started.sub.Cancel()
		return nil, ctx.Err()
	}
}

// HandleMessageStream runs the agent for one message and returns the live
// event stream.
func (h *DefaultRequestHandler) HandleMessageStream(ctx context.Context, call *ServerCallContext, params types.MessageSendParams) (*EventSubscription, error) {
	if !h.streamingEnabled() {
		return nil, NewUnsupportedOperationError("streaming is not supported by this agent")
	}

	started, err := h.startSession(ctx, call, params)
	if err != nil {
		return nil, err
	}

	return started.sub, nil
}

// HandleTaskGet returns the stored task snapshot
func (h *DefaultRequestHandler) HandleTaskGet(ctx context.Context, call *ServerCallContext, params types.TaskQueryParams) (*types.Task, error) {
	return h.storage.Tasks.GetTask(ctx, params.ID, params.HistoryLength, true)
}

// HandleTaskCancel cancels a running task, or marks a non-terminal task
// canceled. Cancel of an already-canceled task is idempotent; cancel of any
// other terminal state fails with TaskNotCancelable.
func (h *DefaultRequestHandler) HandleTaskCancel(ctx context.Context, call *ServerCallContext, params types.TaskIdParams) (*types.Task, error) {
	if err := h.sessionManager.TaskLock(ctx, params.ID); err != nil {
		return nil, err
	}
	defer func() {
		if err := h.sessionManager.TaskUnlock(params.ID); err != nil {
			h.logger.Error("failed to release task lock", zap.String("task_id", params.ID), zap.Error(err))
		}
	}()

	task, err := h.storage.Tasks.GetTask(ctx, params.ID, nil, true)
	if err != nil {
		return nil, err
	}

	if session := h.sessionManager.SessionForTask(params.ID); session != nil {
		reqCtx := &RequestContext{
			ContextID:   session.ContextID(),
			TaskID:      params.ID,
			CallContext: call,
			Tasks:       NewContextTaskStorage(session.ContextID(), h.storage.Tasks),
			Messages:    NewContextMessageStorage(session.ContextID(), h.storage.Messages),
		}

		if err := h.agentExecutor.Cancel(ctx, reqCtx, session); err != nil {
			h.logger.Warn("agent executor cancel failed", zap.String("task_id", params.ID), zap.Error(err))
		}
		if err := session.Close(ctx); err != nil {
			return nil, err
		}

		task, err = h.storage.Tasks.GetTask(ctx, params.ID, nil, true)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case task.Status.State == types.TaskStateCanceled:
		return task, nil
	case task.Status.State.IsTerminal():
		return nil, NewTaskNotCancelableError(params.ID, task.Status.State)
	}

	update := &types.TaskStatusUpdateEvent{
		Kind:      types.KindStatusUpdate,
		TaskID:    params.ID,
		ContextID: task.ContextID,
		Final:     true,
		Status: types.TaskStatus{
			State:     types.TaskStateCanceled,
			Timestamp: StringPtr(h.now().UTC().Format(time.RFC3339Nano)),
		},
	}
	if err := h.storage.Tasks.ApplyEvent(ctx, update); err != nil {
		return nil, NewInternalError(fmt.Errorf("failed to record canceled state: %w", err))
	}

	return h.storage.Tasks.GetTask(ctx, params.ID, nil, true)
}

// HandleTaskResubscribe reattaches to the live session driving a task
func (h *DefaultRequestHandler) HandleTaskResubscribe(ctx context.Context, call *ServerCallContext, params types.TaskIdParams) (*EventSubscription, error) {
	if !h.streamingEnabled() {
		return nil, NewUnsupportedOperationError("streaming is not supported by this agent")
	}

	// An unknown task and a finished one look the same here: neither has a
	// live session to reattach to.
	session := h.sessionManager.SessionForTask(params.ID)
	if session == nil {
		return nil, NewUnsupportedOperationError(fmt.Sprintf("task %s has no active session", params.ID))
	}

	withReplay := h.cfg.StreamingConfig.ResubscribeReplay == config.ReplayPolicySnapshot
	return session.Subscribe(withReplay), nil
}

// HandleSetTaskPushNotificationConfig stores a push config for a task
func (h *DefaultRequestHandler) HandleSetTaskPushNotificationConfig(ctx context.Context, call *ServerCallContext, params types.TaskPushNotificationConfig) (*types.TaskPushNotificationConfig, error) {
	if !h.pushEnabled() {
		return nil, NewPushNotificationNotSupportedError()
	}

	if _, err := h.storage.Tasks.GetTask(ctx, params.TaskID, IntPtr(0), false); err != nil {
		return nil, err
	}

	saved, err := h.storage.PushConfigs.Save(ctx, params.TaskID, params.PushNotificationConfig)
	if err != nil {
		return nil, NewInternalError(fmt.Errorf("failed to save push notification config: %w", err))
	}

	return &types.TaskPushNotificationConfig{TaskID: params.TaskID, PushNotificationConfig: *saved}, nil
}

// HandleGetTaskPushNotificationConfig returns one stored push config. An
// absent pushNotificationConfigId falls back to the taskId-named default.
func (h *DefaultRequestHandler) HandleGetTaskPushNotificationConfig(ctx context.Context, call *ServerCallContext, params types.GetTaskPushNotificationConfigParams) (*types.TaskPushNotificationConfig, error) {
	if !h.pushEnabled() {
		return nil, NewPushNotificationNotSupportedError()
	}

	if _, err := h.storage.Tasks.GetTask(ctx, params.ID, IntPtr(0), false); err != nil {
		return nil, err
	}

	configID := params.ID
	if params.PushNotificationConfigID != nil && *params.PushNotificationConfigID != "" {
		configID = *params.PushNotificationConfigID
	}

	found, err := h.storage.PushConfigs.Get(ctx, params.ID, configID)
	if err != nil {
		return nil, err
	}

	return &types.TaskPushNotificationConfig{TaskID: params.ID, PushNotificationConfig: *found}, nil
}

// HandleListTaskPushNotificationConfig returns every push config stored for a
// task
func (h *DefaultRequestHandler) HandleListTaskPushNotificationConfig(ctx context.Context, call *ServerCallContext, params types.ListTaskPushNotificationConfigParams) ([]types.TaskPushNotificationConfig, error) {
	if !h.pushEnabled() {
		return nil, NewPushNotificationNotSupportedError()
	}

	if _, err := h.storage.Tasks.GetTask(ctx, params.ID, IntPtr(0), false); err != nil {
		return nil, err
	}

	configs, err := h.storage.PushConfigs.GetAll(ctx, params.ID)
	if err != nil {
		return nil, NewInternalError(fmt.Errorf("failed to list push notification configs: %w", err))
	}

	result := make([]types.TaskPushNotificationConfig, 0, len(configs))
	for _, pushConfig := range configs {
		result = append(result, types.TaskPushNotificationConfig{TaskID: params.ID, PushNotificationConfig: pushConfig})
	}

	return result, nil
}

// HandleDeleteTaskPushNotificationConfig removes a stored push config.
// Deleting an absent config is a no-op.
func (h *DefaultRequestHandler) HandleDeleteTaskPushNotificationConfig(ctx context.Context, call *ServerCallContext, params types.DeleteTaskPushNotificationConfigParams) error {
	if !h.pushEnabled() {
		return NewPushNotificationNotSupportedError()
	}

	if _, err := h.storage.Tasks.GetTask(ctx, params.ID, IntPtr(0), false); err != nil {
		return err
	}

	if err := h.storage.PushConfigs.Delete(ctx, params.ID, params.PushNotificationConfigID); err != nil {
		return NewInternalError(fmt.Errorf("failed to delete push notification config: %w", err))
	}

	return nil
}

// HandleGetAuthenticatedExtendedCard returns the extended agent card when one
// is configured and the base card advertises it
func (h *DefaultRequestHandler) HandleGetAuthenticatedExtendedCard(ctx context.Context, call *ServerCallContext) (*types.AgentCard, error) {
	advertised := h.agentCard.SupportsAuthenticatedExtendedCard != nil &&
		*h.agentCard.SupportsAuthenticatedExtendedCard
	if h.extendedCard == nil || !advertised {
		return nil, NewExtendedCardNotConfiguredError()
	}

	card := *h.extendedCard
	return &card, nil
}
