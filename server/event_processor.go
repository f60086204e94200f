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

// defaultSubscriberBufferSize bounds the per-subscriber event buffer when no
// size is configured
const defaultSubscriberBufferSize = 64

// NowFunc supplies timestamps for task status updates and server-synthesized
// events. The zero value falls back to the system clock.
type NowFunc func() time.Time

// SessionEventProcessor is the event sink handed to an agent executor. It is
// bound to one context: it validates the event sequence, applies each event to
// storage, and re-broadcasts it to all stream subscribers in emission order.
type SessionEventProcessor interface {
	// ContextID returns the context this processor is bound to
	ContextID() string

	// CurrentTask returns the stored task snapshot this processor was started
	// for, or nil when the run is not resuming an existing task
	CurrentTask() *types.Task

	// TaskIDs returns the ids of all tasks observed during this run in
	// observation order
	TaskIDs() []string

	// SendMessage stores an agent message in the context log and broadcasts it
	SendMessage(ctx context.Context, message types.Message) error

	// SendTaskEvent applies a Task, TaskStatusUpdateEvent, or
	// TaskArtifactUpdateEvent to task storage and broadcasts it
	SendTaskEvent(ctx context.Context, event types.Event) error

	// Subscribe attaches a new subscriber to the event stream. When withReplay
	// is true the subscription is seeded with the most recent Task snapshot and
	// status update per observed task before live events.
	Subscribe(withReplay bool) *EventSubscription

	// Close terminates the stream. Closing is legal only when every observed
	// task is final or paused; otherwise the stream is closed with an
	// InternalError, which is also returned.
	Close() error

	// CloseWithError terminates the stream with err
	CloseWithError(err error)
}

// DefaultSessionEventProcessor implements the SessionEventProcessor interface
type DefaultSessionEventProcessor struct {
	logger      *zap.Logger
	contextID   string
	currentTask *types.Task
	tasks       TaskStorage
	messages    MessageStorage
	broadcaster *eventBroadcaster
	now         NowFunc

	mu          sync.Mutex
	closed      bool
	taskOrder   []string
	taskStates  map[string]types.TaskState
	finalized   map[string]bool
	lastTask    map[string]*types.Task
	lastStatus  map[string]*types.TaskStatusUpdateEvent
	messageSent bool
}

// NewDefaultSessionEventProcessor creates a processor bound to contextID.
// currentTask is the stored snapshot when resuming an existing task, nil for a
// fresh run. bufferSize bounds each subscriber's event buffer (0 = default).
func NewDefaultSessionEventProcessor(logger *zap.Logger, contextID string, currentTask *types.Task, tasks TaskStorage, messages MessageStorage, bufferSize int, now NowFunc) *DefaultSessionEventProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBufferSize
	}
	if now == nil {
		now = time.Now
	}

	p := &DefaultSessionEventProcessor{
		logger:      logger,
		contextID:   contextID,
		currentTask: currentTask,
		tasks:       tasks,
		messages:    messages,
		broadcaster: newEventBroadcaster(bufferSize),
		now:         now,
		taskStates:  make(map[string]types.TaskState),
		finalized:   make(map[string]bool),
		lastTask:    make(map[string]*types.Task),
		lastStatus:  make(map[string]*types.TaskStatusUpdateEvent),
	}

	if currentTask != nil {
		p.taskOrder = append(p.taskOrder, currentTask.ID)
		p.taskStates[currentTask.ID] = currentTask.Status.State
		p.lastTask[currentTask.ID] = currentTask
		if currentTask.Status.State.IsTerminal() {
			p.finalized[currentTask.ID] = true
		}
	}

	return p
}

// ContextID returns the context this processor is bound to
func (p *DefaultSessionEventProcessor) ContextID() string {
	return p.contextID
}

// CurrentTask returns the task snapshot the processor was started for
func (p *DefaultSessionEventProcessor) CurrentTask() *types.Task {
	return p.currentTask
}

// TaskIDs returns the ids of all tasks observed during this run
func (p *DefaultSessionEventProcessor) TaskIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, len(p.taskOrder))
	copy(ids, p.taskOrder)
	return ids
}

// SendMessage stores an agent message in the context log and broadcasts it
func (p *DefaultSessionEventProcessor) SendMessage(ctx context.Context, message types.Message) error {
	if message.ContextID == nil {
		message.ContextID = StringPtr(p.contextID)
	} else if *message.ContextID != p.contextID {
		return NewInvalidAgentResponseError(fmt.Sprintf("message %s carries context %s, session is bound to %s", message.MessageID, *message.ContextID, p.contextID))
	}
	if message.Kind == "" {
		message.Kind = types.KindMessage
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("event processor is closed")
	}
	if p.messageSent && len(p.taskOrder) == 0 {
		return NewInvalidAgentResponseError("only one message may be sent per turn unless the session yields a task")
	}

	if err := p.messages.AppendMessage(ctx, message); err != nil {
		return err
	}

	p.messageSent = true
	p.broadcaster.publish(&message)

	p.logger.Debug("message event broadcast",
		zap.String("context_id", p.contextID),
		zap.String("message_id", message.MessageID))

	return nil
}

// SendTaskEvent applies a task event to storage and broadcasts it
func (p *DefaultSessionEventProcessor) SendTaskEvent(ctx context.Context, event types.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("event processor is closed")
	}

	var taskID string

	switch e := event.(type) {
	case *types.Task:
		if e.ContextID == "" {
			e.ContextID = p.contextID
		} else if e.ContextID != p.contextID {
			return NewInvalidAgentResponseError(fmt.Sprintf("task %s carries context %s, session is bound to %s", e.ID, e.ContextID, p.contextID))
		}
		if e.Kind == "" {
			e.Kind = types.KindTask
		}
		if _, seen := p.taskStates[e.ID]; seen {
			return NewInvalidAgentResponseError(fmt.Sprintf("initial task event already emitted for task %s", e.ID))
		}
		if e.Status.Timestamp == nil {
			e.Status.Timestamp = StringPtr(p.now().UTC().Format(time.RFC3339Nano))
		}
		taskID = e.ID

	case *types.TaskStatusUpdateEvent:
		if e.ContextID == "" {
			e.ContextID = p.contextID
		} else if e.ContextID != p.contextID {
			return NewInvalidAgentResponseError(fmt.Sprintf("status update for task %s carries context %s, session is bound to %s", e.TaskID, e.ContextID, p.contextID))
		}
		if e.Kind == "" {
			e.Kind = types.KindStatusUpdate
		}
		if p.finalized[e.TaskID] {
			return NewInvalidAgentResponseError(fmt.Sprintf("task %s already received a final event", e.TaskID))
		}
		if e.Status.Timestamp == nil {
			e.Status.Timestamp = StringPtr(p.now().UTC().Format(time.RFC3339Nano))
		}
		taskID = e.TaskID

	case *types.TaskArtifactUpdateEvent:
		if e.ContextID == "" {
			e.ContextID = p.contextID
		} else if e.ContextID != p.contextID {
			return NewInvalidAgentResponseError(fmt.Sprintf("artifact update for task %s carries context %s, session is bound to %s", e.TaskID, e.ContextID, p.contextID))
		}
		if e.Kind == "" {
			e.Kind = types.KindArtifactUpdate
		}
		if p.finalized[e.TaskID] {
			return NewInvalidAgentResponseError(fmt.Sprintf("task %s already received a final event", e.TaskID))
		}
		taskID = e.TaskID

	default:
		return NewInvalidAgentResponseError(fmt.Sprintf("event kind %s is not a task event", event.EventKind()))
	}

	if err := p.tasks.ApplyEvent(ctx, event); err != nil {
		var notFound *TaskNotFoundError
		var exists *TaskAlreadyExistsError
		if errors.As(err, &notFound) || errors.As(err, &exists) || errors.Is(err, errTerminalTask) {
			return NewInvalidAgentResponseError(err.Error())
		}
		return err
	}

	if _, seen := p.taskStates[taskID]; !seen {
		p.taskOrder = append(p.taskOrder, taskID)
	}

	switch e := event.(type) {
	case *types.Task:
		p.taskStates[taskID] = e.Status.State
		p.lastTask[taskID] = e
	case *types.TaskStatusUpdateEvent:
		p.taskStates[taskID] = e.Status.State
		p.lastStatus[taskID] = e
		if e.Final {
			p.finalized[taskID] = true
		}
	case *types.TaskArtifactUpdateEvent:
		if _, tracked := p.taskStates[taskID]; !tracked {
			p.taskStates[taskID] = types.TaskStateUnknown
		}
	}

	p.broadcaster.publish(event)

	p.logger.Debug("task event broadcast",
		zap.String("context_id", p.contextID),
		zap.String("task_id", taskID),
		zap.String("kind", event.EventKind()))

	return nil
}

// Subscribe attaches a new subscriber to the event stream
func (p *DefaultSessionEventProcessor) Subscribe(withReplay bool) *EventSubscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	var replay []types.Event
	if withReplay {
		for _, taskID := range p.taskOrder {
			if task, ok := p.lastTask[taskID]; ok {
				replay = append(replay, task)
			}
			if status, ok := p.lastStatus[taskID]; ok {
				replay = append(replay, status)
			}
		}
	}

	return p.broadcaster.subscribe(replay)
}

// Close terminates the stream, verifying every observed task is final or paused
func (p *DefaultSessionEventProcessor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	for _, taskID := range p.taskOrder {
		if p.finalized[taskID] {
			continue
		}
		if p.taskStates[taskID].IsPaused() {
			continue
		}

		err := NewInternalError(fmt.Errorf("session ended with task %s in non-final state %s", taskID, p.taskStates[taskID]))
		p.broadcaster.close(err)
		return err
	}

	p.broadcaster.close(nil)
	return nil
}

// CloseWithError terminates the stream with err
func (p *DefaultSessionEventProcessor) CloseWithError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	p.broadcaster.close(err)
}

// EventSubscription is one subscriber's view of a session event stream. The
// channel returned by Events closes when the session ends, the subscription is
// canceled, or the subscriber falls too far behind; Err reports why.
type EventSubscription struct {
	broadcaster *eventBroadcaster
	events      chan types.Event
	err         error
	closed      bool
}

// Events returns the subscriber's event channel
func (s *EventSubscription) Events() <-chan types.Event {
	return s.events
}

// Err returns the terminal error of the subscription, valid once the events
// channel is closed. A clean session end yields nil.
func (s *EventSubscription) Err() error {
	s.broadcaster.mu.Lock()
	defer s.broadcaster.mu.Unlock()
	return s.err
}

// Cancel detaches the subscription from the stream. Other subscribers are
// unaffected.
func (s *EventSubscription) Cancel() {
	s.broadcaster.unsubscribe(s)
}

// eventBroadcaster fans events out to subscribers, each with its own bounded
// buffer. Slow subscribers are dropped rather than blocking the producer.
type eventBroadcaster struct {
	mu          sync.Mutex
	subscribers map[*EventSubscription]struct{}
	bufferSize  int
	closed      bool
	closeErr    error
}

func newEventBroadcaster(bufferSize int) *eventBroadcaster {
	return &eventBroadcaster{
		subscribers: make(map[*EventSubscription]struct{}),
		bufferSize:  bufferSize,
	}
}

// subscribe registers a new subscription, seeding its buffer with replay
// events before any live event can interleave
func (b *eventBroadcaster) subscribe(replay []types.Event) *EventSubscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := b.bufferSize
	if len(replay) > size {
		size = len(replay)
	}

	sub := &EventSubscription{
		broadcaster: b,
		events:      make(chan types.Event, size),
	}

	for _, event := range replay {
		sub.events <- event
	}

	if b.closed {
		sub.err = b.closeErr
		sub.closed = true
		close(sub.events)
		return sub
	}

	b.subscribers[sub] = struct{}{}
	return sub
}

// publish delivers an event to every subscriber, dropping any whose buffer is full
func (b *eventBroadcaster) publish(event types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for sub := range b.subscribers {
		select {
		case sub.events <- event:
		default:
			sub.err = NewInternalError(fmt.Errorf("subscriber fell behind, event buffer full (%d)", cap(sub.events)))
			sub.closed = true
			close(sub.events)
			delete(b.subscribers, sub)
		}
	}
}

// close terminates every subscription with err (nil = clean end)
func (b *eventBroadcaster) close(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.closeErr = err

	for sub := range b.subscribers {
		sub.err = err
		sub.closed = true
		close(sub.events)
		delete(b.subscribers, sub)
	}
}

// unsubscribe detaches a single subscription
func (b *eventBroadcaster) unsubscribe(sub *EventSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.closed {
		return
	}

	sub.closed = true
	close(sub.events)
	delete(b.subscribers, sub)
}
