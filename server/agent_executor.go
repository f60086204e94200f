package server

import (
	"context"
	"net/http"
	"sync"

	types "github.com/a2akit/ark/types"
)

// AgentExecutor is the interface agent implementations provide to the server
// runtime. Execute drives one agent run against its event processor; Cancel
// must cause a running Execute to return promptly.
type AgentExecutor interface {
	// Execute runs the agent for one request. The run must drive the processor
	// until every task it touched is terminal or paused, then return.
	// Returning context.Canceled signals cooperative cancellation.
	Execute(ctx context.Context, reqCtx *RequestContext, processor SessionEventProcessor) error

	// Cancel requests cancellation of the run owning session. It must cause
	// the corresponding Execute to return promptly.
	Cancel(ctx context.Context, reqCtx *RequestContext, session *Session) error
}

// RequestContext carries everything an agent run may consult: the bound
// context id, the task being resumed (if any), the raw request params, the
// transport call context, and storage views scoped to the run's context.
type RequestContext struct {
	// ContextID is the conversation scope of this run
	ContextID string

	// TaskID is the task being resumed, empty for a fresh run
	TaskID string

	// Params holds the message/send or message/stream parameters that
	// triggered the run, nil for server-initiated runs
	Params *types.MessageSendParams

	// CallContext carries the transport-level call metadata
	CallContext *ServerCallContext

	// Tasks is a task storage view bound to ContextID
	Tasks *ContextTaskStorage

	// Messages is a message storage view bound to ContextID
	Messages *ContextMessageStorage
}

// ServerCallContext carries opaque per-call transport metadata into protocol
// handlers and agent runs. The core never interprets header semantics;
// middlewares populate State for downstream consumers.
type ServerCallContext struct {
	// Headers holds the request headers as received by the transport
	Headers http.Header

	mu    sync.RWMutex
	state map[string]any
}

// NewServerCallContext creates a call context carrying the given headers
func NewServerCallContext(headers http.Header) *ServerCallContext {
	if headers == nil {
		headers = make(http.Header)
	}

	return &ServerCallContext{
		Headers: headers,
		state:   make(map[string]any),
	}
}

// SetState stores an opaque value under key
func (c *ServerCallContext) SetState(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[key] = value
}

// State returns the value stored under key
func (c *ServerCallContext) State(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	value, ok := c.state[key]
	return value, ok
}

// AgentExecutorFunc adapts plain functions to the AgentExecutor interface.
// Cancel falls back to canceling the session scope.
type AgentExecutorFunc func(ctx context.Context, reqCtx *RequestContext, processor SessionEventProcessor) error

// Execute runs the wrapped function
func (f AgentExecutorFunc) Execute(ctx context.Context, reqCtx *RequestContext, processor SessionEventProcessor) error {
	return f(ctx, reqCtx, processor)
}

// Cancel cancels the session scope, which propagates to the run's context
func (f AgentExecutorFunc) Cancel(ctx context.Context, reqCtx *RequestContext, session *Session) error {
	return session.Close(ctx)
}
