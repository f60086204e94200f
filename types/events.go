package types

import (
	"encoding/json"
	"fmt"
)

// Kind discriminator values used on the wire for events and messages.
const (
	KindMessage        = "message"
	KindTask           = "task"
	KindStatusUpdate   = "status-update"
	KindArtifactUpdate = "artifact-update"
)

// Event is the closed set of values an agent run may emit on its stream:
// Message, Task, TaskStatusUpdateEvent, or TaskArtifactUpdateEvent.
type Event interface {
	// EventKind returns the wire kind discriminator of the event.
	EventKind() string
}

// EventKind returns the wire kind discriminator for a Message.
func (m *Message) EventKind() string { return KindMessage }

// EventKind returns the wire kind discriminator for a Task.
func (t *Task) EventKind() string { return KindTask }

// EventKind returns the wire kind discriminator for a TaskStatusUpdateEvent.
func (e *TaskStatusUpdateEvent) EventKind() string { return KindStatusUpdate }

// EventKind returns the wire kind discriminator for a TaskArtifactUpdateEvent.
func (e *TaskArtifactUpdateEvent) EventKind() string { return KindArtifactUpdate }

// IsCommunicationEvent reports whether the event is a Message or a Task,
// the subset a non-blocking message/send may return directly.
func IsCommunicationEvent(e Event) bool {
	switch e.(type) {
	case *Message, *Task:
		return true
	default:
		return false
	}
}

// EventTaskID returns the task id an event refers to. Messages without a
// task id and nil events report false.
func EventTaskID(e Event) (string, bool) {
	switch ev := e.(type) {
	case *Task:
		return ev.ID, true
	case *TaskStatusUpdateEvent:
		return ev.TaskID, true
	case *TaskArtifactUpdateEvent:
		return ev.TaskID, true
	case *Message:
		if ev.TaskID != nil && *ev.TaskID != "" {
			return *ev.TaskID, true
		}
	}
	return "", false
}

// EventContextID returns the context id an event carries, or empty when unset.
func EventContextID(e Event) string {
	switch ev := e.(type) {
	case *Task:
		return ev.ContextID
	case *TaskStatusUpdateEvent:
		return ev.ContextID
	case *TaskArtifactUpdateEvent:
		return ev.ContextID
	case *Message:
		if ev.ContextID != nil {
			return *ev.ContextID
		}
	}
	return ""
}

// UnmarshalEvent decodes a single event from JSON, dispatching on the kind
// discriminator.
func UnmarshalEvent(data []byte) (Event, error) {
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to probe event kind: %w", err)
	}

	switch probe.Kind {
	case KindMessage:
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message event: %w", err)
		}
		return &m, nil
	case KindTask:
		var t Task
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task event: %w", err)
		}
		return &t, nil
	case KindStatusUpdate:
		var e TaskStatusUpdateEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal status update event: %w", err)
		}
		return &e, nil
	case KindArtifactUpdate:
		var e TaskArtifactUpdateEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal artifact update event: %w", err)
		}
		return &e, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", probe.Kind)
	}
}

// IsTerminal reports whether the state ends a task's lifecycle. No further
// events may be recorded for a task in a terminal state.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateCanceled, TaskStateFailed, TaskStateRejected:
		return true
	default:
		return false
	}
}

// IsPaused reports whether the state yields control back to the client
// without ending the task (input-required or auth-required).
func (s TaskState) IsPaused() bool {
	switch s {
	case TaskStateInputRequired, TaskStateAuthRequired:
		return true
	default:
		return false
	}
}

// String returns the wire representation of the state.
func (s TaskState) String() string {
	return string(s)
}
