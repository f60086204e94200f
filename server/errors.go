package server

import (
	"errors"
	"fmt"

	types "github.com/a2akit/ark/types"
)

// JRPCErrorCode represents JSON-RPC error codes
type JRPCErrorCode int

// Standard JSON-RPC 2.0 error codes plus the A2A reserved range
const (
	ErrParseError     JRPCErrorCode = -32700
	ErrInvalidRequest JRPCErrorCode = -32600
	ErrMethodNotFound JRPCErrorCode = -32601
	ErrInvalidParams  JRPCErrorCode = -32602
	ErrInternalError  JRPCErrorCode = -32603

	ErrTaskNotFound                           JRPCErrorCode = -32001
	ErrTaskNotCancelable                      JRPCErrorCode = -32002
	ErrPushNotificationNotSupported           JRPCErrorCode = -32003
	ErrUnsupportedOperation                   JRPCErrorCode = -32004
	ErrContentTypeNotSupported                JRPCErrorCode = -32005
	ErrInvalidAgentResponse                   JRPCErrorCode = -32006
	ErrAuthenticatedExtendedCardNotConfigured JRPCErrorCode = -32007
)

// TaskNotFoundError represents an error when a task is not found
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return "task not found: " + e.TaskID
}

// NewTaskNotFoundError creates a new TaskNotFoundError
func NewTaskNotFoundError(taskID string) error {
	return &TaskNotFoundError{TaskID: taskID}
}

// TaskAlreadyExistsError represents an error when inserting a task that already exists
type TaskAlreadyExistsError struct {
	TaskID string
}

func (e *TaskAlreadyExistsError) Error() string {
	return "task already exists: " + e.TaskID
}

// NewTaskAlreadyExistsError creates a new TaskAlreadyExistsError
func NewTaskAlreadyExistsError(taskID string) error {
	return &TaskAlreadyExistsError{TaskID: taskID}
}

// TaskNotCancelableError represents an error when a task cannot be canceled due to its current state
type TaskNotCancelableError struct {
	TaskID string
	State  types.TaskState
}

func (e *TaskNotCancelableError) Error() string {
	return fmt.Sprintf("task %s cannot be canceled: current state is %s", e.TaskID, e.State)
}

// NewTaskNotCancelableError creates a new TaskNotCancelableError
func NewTaskNotCancelableError(taskID string, state types.TaskState) error {
	return &TaskNotCancelableError{TaskID: taskID, State: state}
}

// PushNotificationNotSupportedError represents an error when the server has no push notification support configured
type PushNotificationNotSupportedError struct{}

func (e *PushNotificationNotSupportedError) Error() string {
	return "push notifications are not supported"
}

// NewPushNotificationNotSupportedError creates a new PushNotificationNotSupportedError
func NewPushNotificationNotSupportedError() error {
	return &PushNotificationNotSupportedError{}
}

// PushConfigNotFoundError represents an error when a push notification config does not exist for a task
type PushConfigNotFoundError struct {
	TaskID   string
	ConfigID string
}

func (e *PushConfigNotFoundError) Error() string {
	if e.ConfigID == "" {
		return "push notification config not found for task " + e.TaskID
	}
	return fmt.Sprintf("push notification config %s not found for task %s", e.ConfigID, e.TaskID)
}

// NewPushConfigNotFoundError creates a new PushConfigNotFoundError
func NewPushConfigNotFoundError(taskID, configID string) error {
	return &PushConfigNotFoundError{TaskID: taskID, ConfigID: configID}
}

// UnsupportedOperationError represents an error when the requested operation is not supported
type UnsupportedOperationError struct {
	Operation string
}

func (e *UnsupportedOperationError) Error() string {
	if e.Operation == "" {
		return "operation not supported"
	}
	return "operation not supported: " + e.Operation
}

// NewUnsupportedOperationError creates a new UnsupportedOperationError
func NewUnsupportedOperationError(operation string) error {
	return &UnsupportedOperationError{Operation: operation}
}

// ContentTypeNotSupportedError represents an error when the provided content types are incompatible with the agent
type ContentTypeNotSupportedError struct {
	ContentType string
}

func (e *ContentTypeNotSupportedError) Error() string {
	if e.ContentType == "" {
		return "incompatible content types"
	}
	return "content type not supported: " + e.ContentType
}

// NewContentTypeNotSupportedError creates a new ContentTypeNotSupportedError
func NewContentTypeNotSupportedError(contentType string) error {
	return &ContentTypeNotSupportedError{ContentType: contentType}
}

// InvalidAgentResponseError represents an error when the agent produced an event the runtime cannot accept
type InvalidAgentResponseError struct {
	Reason string
}

func (e *InvalidAgentResponseError) Error() string {
	return "invalid agent response: " + e.Reason
}

// NewInvalidAgentResponseError creates a new InvalidAgentResponseError
func NewInvalidAgentResponseError(reason string) error {
	return &InvalidAgentResponseError{Reason: reason}
}

// ExtendedCardNotConfiguredError represents an error when no authenticated extended card is configured
type ExtendedCardNotConfiguredError struct{}

func (e *ExtendedCardNotConfiguredError) Error() string {
	return "authenticated extended card not configured"
}

// NewExtendedCardNotConfiguredError creates a new ExtendedCardNotConfiguredError
func NewExtendedCardNotConfiguredError() error {
	return &ExtendedCardNotConfiguredError{}
}

// InvalidParamsError represents an error when request parameters fail validation
type InvalidParamsError struct {
	Reason string
}

func (e *InvalidParamsError) Error() string {
	return "invalid parameters: " + e.Reason
}

// NewInvalidParamsError creates a new InvalidParamsError
func NewInvalidParamsError(reason string) error {
	return &InvalidParamsError{Reason: reason}
}

// InvalidRequestError represents an error when the request envelope fails validation
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return "invalid request: " + e.Reason
}

// NewInvalidRequestError creates a new InvalidRequestError
func NewInvalidRequestError(reason string) error {
	return &InvalidRequestError{Reason: reason}
}

// MethodNotFoundError represents an error when the requested JSON-RPC method does not exist
type MethodNotFoundError struct {
	Method string
}

func (e *MethodNotFoundError) Error() string {
	return "method not found: " + e.Method
}

// NewMethodNotFoundError creates a new MethodNotFoundError
func NewMethodNotFoundError(method string) error {
	return &MethodNotFoundError{Method: method}
}

// InternalError represents an unexpected server-side failure surfaced to the client
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return "internal error"
	}
	return "internal error: " + e.Err.Error()
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// NewInternalError creates a new InternalError wrapping err
func NewInternalError(err error) error {
	return &InternalError{Err: err}
}

// isProtocolError reports whether err is one of the typed protocol errors,
// which carry their own wire codes and must not be re-wrapped
func isProtocolError(err error) bool {
	var (
		taskNotFound    *TaskNotFoundError
		notCancelable   *TaskNotCancelableError
		pushUnsupported *PushNotificationNotSupportedError
		pushNotFound    *PushConfigNotFoundError
		unsupportedOp   *UnsupportedOperationError
		contentType     *ContentTypeNotSupportedError
		agentResponse   *InvalidAgentResponseError
		extendedCard    *ExtendedCardNotConfiguredError
		invalidParams   *InvalidParamsError
		invalidRequest  *InvalidRequestError
		methodNotFound  *MethodNotFoundError
		internal        *InternalError
	)

	return errors.As(err, &taskNotFound) ||
		errors.As(err, &notCancelable) ||
		errors.As(err, &pushUnsupported) ||
		errors.As(err, &pushNotFound) ||
		errors.As(err, &unsupportedOp) ||
		errors.As(err, &contentType) ||
		errors.As(err, &agentResponse) ||
		errors.As(err, &extendedCard) ||
		errors.As(err, &invalidParams) ||
		errors.As(err, &invalidRequest) ||
		errors.As(err, &methodNotFound) ||
		errors.As(err, &internal)
}

// JRPCErrorFromError resolves err to the JSON-RPC error object sent on the
// wire. Typed protocol errors keep their reserved codes; anything else is
// reported as an internal error without leaking details.
func JRPCErrorFromError(err error) *types.JSONRPCError {
	var (
		taskNotFound    *TaskNotFoundError
		notCancelable   *TaskNotCancelableError
		pushUnsupported *PushNotificationNotSupportedError
		pushNotFound    *PushConfigNotFoundError
		unsupportedOp   *UnsupportedOperationError
		contentType     *ContentTypeNotSupportedError
		agentResponse   *InvalidAgentResponseError
		extendedCard    *ExtendedCardNotConfiguredError
		invalidParams   *InvalidParamsError
		invalidRequest  *InvalidRequestError
		methodNotFound  *MethodNotFoundError
		internal        *InternalError
	)

	switch {
	case errors.As(err, &taskNotFound):
		return &types.JSONRPCError{Code: int(ErrTaskNotFound), Message: "Task not found", Data: taskNotFound.TaskID}
	case errors.As(err, &notCancelable):
		return &types.JSONRPCError{Code: int(ErrTaskNotCancelable), Message: "Task cannot be canceled", Data: notCancelable.Error()}
	case errors.As(err, &pushUnsupported):
		return &types.JSONRPCError{Code: int(ErrPushNotificationNotSupported), Message: "Push Notification is not supported"}
	case errors.As(err, &pushNotFound):
		return &types.JSONRPCError{Code: int(ErrInvalidParams), Message: "Invalid parameters", Data: pushNotFound.Error()}
	case errors.As(err, &unsupportedOp):
		return &types.JSONRPCError{Code: int(ErrUnsupportedOperation), Message: "This operation is not supported", Data: unsupportedOp.Operation}
	case errors.As(err, &contentType):
		return &types.JSONRPCError{Code: int(ErrContentTypeNotSupported), Message: "Incompatible content types", Data: contentType.ContentType}
	case errors.As(err, &agentResponse):
		return &types.JSONRPCError{Code: int(ErrInvalidAgentResponse), Message: "Invalid agent response", Data: agentResponse.Reason}
	case errors.As(err, &extendedCard):
		return &types.JSONRPCError{Code: int(ErrAuthenticatedExtendedCardNotConfigured), Message: "Authenticated Extended Card not configured"}
	case errors.As(err, &invalidParams):
		return &types.JSONRPCError{Code: int(ErrInvalidParams), Message: "Invalid parameters", Data: invalidParams.Reason}
	case errors.As(err, &invalidRequest):
		return &types.JSONRPCError{Code: int(ErrInvalidRequest), Message: "Request payload validation error", Data: invalidRequest.Reason}
	case errors.As(err, &methodNotFound):
		return &types.JSONRPCError{Code: int(ErrMethodNotFound), Message: "Method not found", Data: methodNotFound.Method}
	case errors.As(err, &internal):
		return &types.JSONRPCError{Code: int(ErrInternalError), Message: "Internal error", Data: internal.Error()}
	default:
		return &types.JSONRPCError{Code: int(ErrInternalError), Message: "Internal error"}
	}
}
