package types

import (
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// CloudEvent type constants for session and task lifecycle notifications.
const (
	EventSessionStarted   = "a2a.session.started"
	EventSessionCompleted = "a2a.session.completed"
	EventSessionFailed    = "a2a.session.failed"
	EventSessionCanceled  = "a2a.session.canceled"
	EventTaskTerminal     = "a2a.task.terminal"
	EventTaskPaused       = "a2a.task.paused"
	EventPushDelivered    = "a2a.push.delivered"
	EventPushFailed       = "a2a.push.failed"
)

// NewLifecycleEvent creates a CloudEvent for session lifecycle transitions.
func NewLifecycleEvent(eventType, eventID string, data map[string]any) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(eventID)
	event.SetType(eventType)
	event.SetSource("ark/server")
	event.SetTime(time.Now())
	_ = event.SetData(cloudevents.ApplicationJSON, data)

	return event
}

// NewTaskLifecycleEvent creates a CloudEvent carrying a task snapshot, with
// the task and context ids exposed as extensions for filtering.
func NewTaskLifecycleEvent(eventType string, task *Task) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(task.ID)
	event.SetType(eventType)
	event.SetSource("ark/server")
	event.SetTime(time.Now())

	event.SetExtension("taskid", task.ID)
	event.SetExtension("contextid", task.ContextID)
	event.SetExtension("taskstate", string(task.Status.State))
	_ = event.SetData(cloudevents.ApplicationJSON, task)

	return event
}

// NewSessionLifecycleEvent creates a CloudEvent for a session transition,
// annotated with the session's context id.
func NewSessionLifecycleEvent(eventType, contextID string, taskIDs []string) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(contextID)
	event.SetType(eventType)
	event.SetSource("ark/server")
	event.SetTime(time.Now())

	event.SetExtension("contextid", contextID)
	_ = event.SetData(cloudevents.ApplicationJSON, map[string]any{
		"contextId": contextID,
		"taskIds":   taskIDs,
	})

	return event
}
