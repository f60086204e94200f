package server

import (
	gin "github.com/gin-gonic/gin"
	zap "go.uber.org/zap"

	types "github.com/a2akit/ark/types"
)

// ResponseSender defines how to send JSON-RPC responses
type ResponseSender interface {
	// SendSuccess sends a JSON-RPC success response
	SendSuccess(c *gin.Context, id any, result any)

	// SendError sends a JSON-RPC error response with an explicit code
	SendError(c *gin.Context, id any, code int, message string)

	// SendProtocolError maps a handler error to its JSON-RPC error object
	SendProtocolError(c *gin.Context, id any, err error)
}

// DefaultResponseSender implements the ResponseSender interface
type DefaultResponseSender struct {
	logger *zap.Logger
}

// NewDefaultResponseSender creates a new default response sender
func NewDefaultResponseSender(logger *zap.Logger) *DefaultResponseSender {
	return &DefaultResponseSender{
		logger: logger,
	}
}

// SendSuccess sends a JSON-RPC success response
func (rs *DefaultResponseSender) SendSuccess(c *gin.Context, id any, result any) {
	resp := types.JSONRPCSuccessResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
	c.JSON(200, resp)
	rs.logger.Debug("sending success response", zap.Any("id", id))
}

// SendError sends a JSON-RPC error response
func (rs *DefaultResponseSender) SendError(c *gin.Context, id any, code int, message string) {
	resp := types.JSONRPCErrorResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &types.JSONRPCError{
			Code:    code,
			Message: message,
		},
	}
	c.JSON(200, resp) // JSON-RPC always returns 200 OK, errors are in the response body
	rs.logger.Warn("sending error response", zap.Int("code", code), zap.String("message", message))
}

// SendProtocolError resolves err through the protocol error taxonomy and
// sends the resulting JSON-RPC error object
func (rs *DefaultResponseSender) SendProtocolError(c *gin.Context, id any, err error) {
	rpcErr := JRPCErrorFromError(err)
	resp := types.JSONRPCErrorResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   rpcErr,
	}
	c.JSON(200, resp)
	rs.logger.Warn("sending error response",
		zap.Int("code", rpcErr.Code),
		zap.String("message", rpcErr.Message),
		zap.Error(err))
}
