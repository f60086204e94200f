package server

import (
	"encoding/json"

	gin "github.com/gin-gonic/gin"
	zap "go.uber.org/zap"

	types "github.com/a2akit/ark/types"
)

// A2AProtocolHandler bridges the HTTP transport and the protocol methods:
// it decodes request params, invokes the request handler, and writes the
// JSON-RPC response or SSE stream.
type A2AProtocolHandler interface {
	HandleMessageSend(c *gin.Context, call *ServerCallContext, req types.JSONRPCRequest)
	HandleMessageStream(c *gin.Context, call *ServerCallContext, req types.JSONRPCRequest)
	HandleTaskGet(c *gin.Context, call *ServerCallContext, req types.JSONRPCRequest)
	HandleTaskCancel(c *gin.Context, call *ServerCallContext, req types.JSONRPCRequest)
	HandleTaskResubscribe(c *gin.Context, call *ServerCallContext, req types.JSONRPCRequest)
	HandleTaskPushNotificationConfigSet(c *gin.Context, call *ServerCallContext, req types.JSONRPCRequest)
	HandleTaskPushNotificationConfigGet(c *gin.Context, call *ServerCallContext, req types.JSONRPCRequest)
	HandleTaskPushNotificationConfigList(c *gin.Context, call *ServerCallContext, req types.JSONRPCRequest)
	HandleTaskPushNotificationConfigDelete(c *gin.Context, call *ServerCallContext, req types.JSONRPCRequest)
	HandleAgentGetAuthenticatedExtendedCard(c *gin.Context, call *ServerCallContext, req types.JSONRPCRequest)
}

// DefaultA2AProtocolHandler implements A2AProtocolHandler on top of a
// RequestHandler
type DefaultA2AProtocolHandler struct {
	logger         *zap.Logger
	requestHandler RequestHandler
	responseSender ResponseSender
}

// NewDefaultA2AProtocolHandler creates a protocol handler
func NewDefaultA2AProtocolHandler(logger *zap.Logger, requestHandler RequestHandler, responseSender ResponseSender) *DefaultA2AProtocolHandler {
	return &DefaultA2AProtocolHandler{
		logger:         logger,
		requestHandler: requestHandler,
		responseSender: responseSender,
	}
}

var _ A2AProtocolHandler = (*DefaultA2AProtocolHandler)(nil)

// decodeParams rebinds the loosely-typed JSON-RPC params into target.
// Failures are invalid-params errors.
func decodeParams(params any, target any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return NewInvalidParamsError(err.Error())
	}
	return nil
}

// HandleMessageSend handles the message/send method
func (h *DefaultA2AProtocolHandler) HandleMessageSend(c *gin.Context, call *ServerCallContext, req types.JSONRPCRequest) {
	var params types.MessageSendParams
	if err := decodeParams(req.Params, &params); err != nil {
		h.responseSender.SendProtocolError(c, req.ID, err)
		return
	}

	event, err := h.requestHandler.HandleMessageSend(c.Request.Context(), call, params)
	if err != nil {
		h.responseSender.SendProtocolError(c, req.ID, err)
		return
	}

	h.responseSender.SendSuccess(c, req.ID, event)
}

// HandleMessageStream handles the message/stream method
func (h *DefaultA2AProtocolHandler) HandleMessageStream(c *gin.Context, call *ServerCallContext, req types.JSONRPCRequest) {
	var params types.MessageSendParams
	if err := decodeParams(req.Params, &params); err != nil {
		h.responseSender.SendProtocolError(c, req.ID, err)
		return
	}

	sub, err := h.requestHandler.HandleMessageStream(c.Request.Context(), call, params)
	if err != nil {
		h.responseSender.SendProtocolError(c, req.ID, err)
		return
	}

	h.streamEvents(c, req.ID, sub)
}

// HandleTaskGet handles the tasks/get method
func (h *DefaultA2AProtocolHandler) HandleTaskGet(c *gin.Context, call *ServerCallContext, req types.JSONRPCRequest) {
	var params types.TaskQueryParams
	if err := decodeParams(req.Params, &params); err != nil {
		h.responseSender.SendProtocolError(c, req.ID, err)
		return
	}

	task, err := h.requestHandler.HandleTaskGet(c.Request.Context(), call, params)
	if err != nil {
		h.responseSender.SendProtocolError(c, req.ID, err)
		return
	}

	h.responseSender.SendSuccess(c, req.ID, task)
}

// HandleTaskCancel handles the tasks/cancel method
func (h *DefaultA2AProtocolHandler) HandleTaskCancel(c *gin.Context, call *ServerCallContext, req types.JSONRPCRequest) {
	var params types.TaskIdParams
	if err := decodeParams(req.Params, &params); err != nil {
		h.responseSender.SendProtocolError(c, req.ID, err)
		return
	}

	task, err := h.requestHandler.HandleTaskCancel(c.Request.Context(), call, params)
	if err != nil {
		h.responseSender.SendProtocolError(c, req.ID, err)
		return
	}

	h.responseSender.SendSuccess(c, req.ID, task)
}

// HandleTaskResubscribe handles the tasks/resubscribe method
func (h *DefaultA2AProtocolHandler) HandleTaskResubscribe(c *gin.Context, call *ServerCallContext, req types.JSONRPCRequest) {
	var params types.TaskIdParams
	if err := decodeParams(req.Params, &params); err != nil {
		h.responseSender.SendProtocolError(c, req.ID, err)
		return
	}

	sub, err := h.requestHandler.HandleTaskResubscribe(c.Request.Context(), call, params)
	if err != nil {
		h.responseSender.SendProtocolError(c, req.ID, err)
		return
	}

	h.streamEvents(c, req.ID, sub)
}

// HandleTaskPushNotificationConfigSet handles tasks/pushNotificationConfig/set
func (h *DefaultA2AProtocolHandler) HandleTaskPushNotificationConfigSet(c *gin.Context, call *ServerCallContext, req types.JSONRPCRequest) {
	var params types.TaskPushNotificationConfig
	if err := decodeParams(req.Params, &params); err != nil {
		h.responseSender.SendProtocolError(c, req.ID, err)
		return
	}

	result, err := h.requestHandler.HandleSetTaskPushNotificationConfig(c.Request.Context(), call, params)
	if err != nil {
		h.responseSender.SendProtocolError(c, req.ID, err)
		return
	}

	h.responseSender.SendSuccess(c, req.ID, result)
}

// HandleTaskPushNotificationConfigGet handles tasks/pushNotificationConfig/get
func (h *DefaultA2AProtocolHandler) HandleTaskPushNotificationConfigGet(c *gin.Context, call *ServerCallContext, req types.JSONRPCRequest) {
	var params types.GetTaskPushNotificationConfigParams
	if err := decodeParams(req.Params, &params); err != nil {
		h.responseSender.SendProtocolError(c, req.ID, err)
		return
	}

	result, err := h.requestHandler.HandleGetTaskPushNotificationConfig(c.Request.Context(), call, params)
	if err != nil {
		h.responseSender.SendProtocolError(c, req.ID, err)
		return
	}

	h.responseSender.SendSuccess(c, req.ID, result)
}

// HandleTaskPushNotificationConfigList handles tasks/pushNotificationConfig/list
func (h *DefaultA2AProtocolHandler) HandleTaskPushNotificationConfigList(c *gin.Context, call *ServerCallContext, req types.JSONRPCRequest) {
	var params types.ListTaskPushNotificationConfigParams
	if err := decodeParams(req.Params, &params); err != nil {
		h.responseSender.SendProtocolError(c, req.ID, err)
		return
	}

	result, err := h.requestHandler.HandleListTaskPushNotificationConfig(c.Request.Context(), call, params)
	if err != nil {
		h.responseSender.SendProtocolError(c, req.ID, err)
		return
	}

	h.responseSender.SendSuccess(c, req.ID, result)
}

// HandleTaskPushNotificationConfigDelete handles tasks/pushNotificationConfig/delete
func (h *DefaultA2AProtocolHandler) HandleTaskPushNotificationConfigDelete(c *gin.Context, call *ServerCallContext, req types.JSONRPCRequest) {
	var params types.DeleteTaskPushNotificationConfigParams
	if err := decodeParams(req.Params, &params); err != nil {
		h.responseSender.SendProtocolError(c, req.ID, err)
		return
	}

	if err := h.requestHandler.HandleDeleteTaskPushNotificationConfig(c.Request.Context(), call, params); err != nil {
		h.responseSender.SendProtocolError(c, req.ID, err)
		return
	}

	h.responseSender.SendSuccess(c, req.ID, nil)
}

// HandleAgentGetAuthenticatedExtendedCard handles agent/getAuthenticatedExtendedCard
func (h *DefaultA2AProtocolHandler) HandleAgentGetAuthenticatedExtendedCard(c *gin.Context, call *ServerCallContext, req types.JSONRPCRequest) {
	card, err := h.requestHandler.HandleGetAuthenticatedExtendedCard(c.Request.Context(), call)
	if err != nil {
		h.responseSender.SendProtocolError(c, req.ID, err)
		return
	}

	h.responseSender.SendSuccess(c, req.ID, card)
}

// streamEvents writes the subscription to the client as Server-Sent Events.
// Each frame is one JSONRPCSuccessResponse wrapping one event; a stream error
// produces one JSONRPCErrorResponse frame before the terminator.
func (h *DefaultA2AProtocolHandler) streamEvents(c *gin.Context, id any, sub *EventSubscription) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					h.writeStreamingErrorResponse(c, id, err)
				}
				h.writeStreamingDone(c)
				return
			}
			h.writeStreamingResponse(c, id, event)
		case <-clientGone:
			sub.Cancel()
			return
		}
	}
}

func (h *DefaultA2AProtocolHandler) writeStreamingResponse(c *gin.Context, id any, event types.Event) {
	resp := types.JSONRPCSuccessResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  event,
	}

	data, err := json.Marshal(resp)
	if err != nil {
		h.logger.Error("failed to marshal streaming response", zap.Error(err))
		return
	}

	if _, err := c.Writer.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
		h.logger.Debug("failed to write streaming frame", zap.Error(err))
		return
	}
	c.Writer.Flush()
}

func (h *DefaultA2AProtocolHandler) writeStreamingErrorResponse(c *gin.Context, id any, err error) {
	resp := types.JSONRPCErrorResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   JRPCErrorFromError(err),
	}

	data, marshalErr := json.Marshal(resp)
	if marshalErr != nil {
		h.logger.Error("failed to marshal streaming error response", zap.Error(marshalErr))
		return
	}

	if _, writeErr := c.Writer.Write([]byte("data: " + string(data) + "\n\n")); writeErr != nil {
		h.logger.Debug("failed to write streaming error frame", zap.Error(writeErr))
		return
	}
	c.Writer.Flush()
}

func (h *DefaultA2AProtocolHandler) writeStreamingDone(c *gin.Context) {
	if _, err := c.Writer.Write([]byte("data: [DONE]\n\n")); err != nil {
		h.logger.Debug("failed to write stream terminator", zap.Error(err))
		return
	}
	c.Writer.Flush()
}
