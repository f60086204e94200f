package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
	zap "go.uber.org/zap"

	config "github.com/a2akit/ark/server/config"
	types "github.com/a2akit/ark/types"
)

// echoExecutor completes one task carrying the incoming text back as an artifact.
type echoExecutor struct{}

func (echoExecutor) Execute(ctx context.Context, reqCtx *RequestContext, processor SessionEventProcessor) error {
	taskID := GenerateTaskID()
	if err := processor.SendTaskEvent(ctx, &types.Task{
		ID: taskID, Status: types.TaskStatus{State: types.TaskStateSubmitted},
	}); err != nil {
		return err
	}

	text := ""
	if reqCtx.Params != nil {
		text = types.TextFromParts(reqCtx.Params.Message.Parts)
	}
	if err := processor.SendTaskEvent(ctx, &types.TaskArtifactUpdateEvent{
		TaskID:   taskID,
		Artifact: types.Artifact{ArtifactID: "echo", Parts: []types.Part{types.NewTextPart(text)}},
	}); err != nil {
		return err
	}

	return processor.SendTaskEvent(ctx, &types.TaskStatusUpdateEvent{
		TaskID: taskID, Final: true,
		Status: types.TaskStatus{State: types.TaskStateCompleted},
	})
}

func (echoExecutor) Cancel(ctx context.Context, reqCtx *RequestContext, session *Session) error {
	return session.Close(ctx)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		AgentName:    "echo-agent",
		AgentVersion: "0.1.0",
		StreamingConfig: config.StreamingConfig{
			SubscriberBufferSize: 64,
			ResubscribeReplay:    config.ReplayPolicySnapshot,
		},
	}

	srv := NewA2AServer(cfg, zap.NewNop(), nil)
	srv.SetAgentCard(types.AgentCard{
		Name:            "echo-agent",
		Description:     "echoes text back",
		ProtocolVersion: "0.3.0",
		Capabilities: types.AgentCapabilities{
			Streaming:         BoolPtr(true),
			PushNotifications: BoolPtr(true),
		},
	})
	srv.SetAgentExecutor(echoExecutor{})
	srv.protocolHandler = srv.buildProtocolHandler()

	ts := httptest.NewServer(srv.setupRouter(srv.cfg))
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.sessionManager.Shutdown(ctx)
		srv.sessionCancel()
	})
	return ts
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()

	resp, err := http.Post(url+"/a2a", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	return resp
}

func decodeRPC(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return decoded
}

func rpcErrorCode(t *testing.T, decoded map[string]any) int {
	t.Helper()

	errObj, ok := decoded["error"].(map[string]any)
	require.True(t, ok, "expected an error object, got %v", decoded)
	code, ok := errObj["code"].(float64)
	require.True(t, ok)
	return int(code)
}

func TestServerHealthAndAgentCard(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cardResp, err := http.Get(ts.URL + "/.well-known/agent-card.json")
	require.NoError(t, err)
	defer func() { _ = cardResp.Body.Close() }()
	require.Equal(t, http.StatusOK, cardResp.StatusCode)

	var card types.AgentCard
	require.NoError(t, json.NewDecoder(cardResp.Body).Decode(&card))
	assert.Equal(t, "echo-agent", card.Name)
	require.NotNil(t, card.Capabilities.Streaming)
	assert.True(t, *card.Capabilities.Streaming)
}

func TestServerJSONRPCValidation(t *testing.T) {
	ts := newTestServer(t)

	t.Run("malformed json is a parse error", func(t *testing.T) {
		decoded := decodeRPC(t, postJSON(t, ts.URL, `{not json`))
		assert.Equal(t, int(ErrParseError), rpcErrorCode(t, decoded))
	})

	t.Run("wrong jsonrpc version is an invalid request", func(t *testing.T) {
		decoded := decodeRPC(t, postJSON(t, ts.URL, `{"jsonrpc":"1.0","id":1,"method":"tasks/get"}`))
		assert.Equal(t, int(ErrInvalidRequest), rpcErrorCode(t, decoded))
	})

	t.Run("missing method is an invalid request", func(t *testing.T) {
		decoded := decodeRPC(t, postJSON(t, ts.URL, `{"jsonrpc":"2.0","id":1}`))
		assert.Equal(t, int(ErrInvalidRequest), rpcErrorCode(t, decoded))
	})

	t.Run("unknown method is method not found", func(t *testing.T) {
		decoded := decodeRPC(t, postJSON(t, ts.URL, `{"jsonrpc":"2.0","id":1,"method":"tasks/explode"}`))
		assert.Equal(t, int(ErrMethodNotFound), rpcErrorCode(t, decoded))
	})

	t.Run("request id is echoed", func(t *testing.T) {
		decoded := decodeRPC(t, postJSON(t, ts.URL, `{"jsonrpc":"2.0","id":"req-42","method":"tasks/get","params":{"id":"ghost"}}`))
		assert.Equal(t, "req-42", decoded["id"])
		assert.Equal(t, int(ErrTaskNotFound), rpcErrorCode(t, decoded))
	})
}

func TestServerMessageSendRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	body := `{
		"jsonrpc": "2.0",
		"id": 1,
		"method": "message/send",
		"params": {
			"configuration": {"blocking": true},
			"message": {
				"kind": "message",
				"messageId": "msg-1",
				"role": "user",
				"parts": [{"kind": "text", "text": "ping"}]
			}
		}
	}`
	decoded := decodeRPC(t, postJSON(t, ts.URL, body))

	result, ok := decoded["result"].(map[string]any)
	require.True(t, ok, "expected a result, got %v", decoded)
	assert.Equal(t, "task", result["kind"])

	status, ok := result["status"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(types.TaskStateCompleted), status["state"])

	artifacts, ok := result["artifacts"].([]any)
	require.True(t, ok)
	require.Len(t, artifacts, 1)
}

func TestServerMessageStreamSSE(t *testing.T) {
	ts := newTestServer(t)

	body := `{
		"jsonrpc": "2.0",
		"id": "stream-1",
		"method": "message/stream",
		"params": {
			"message": {
				"kind": "message",
				"messageId": "msg-1",
				"role": "user",
				"parts": [{"kind": "text", "text": "ping"}]
			}
		}
	}`
	resp := postJSON(t, ts.URL, body)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	var frames []string
	sawDone := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			sawDone = true
			break
		}
		frames = append(frames, payload)
	}

	require.True(t, sawDone, "stream did not terminate with [DONE]")
	require.Len(t, frames, 3)

	kinds := make([]string, 0, len(frames))
	for _, frame := range frames {
		var rpcFrame struct {
			JSONRPC string              `json:"jsonrpc"`
			ID      any                 `json:"id"`
			Result  json.RawMessage     `json:"result"`
			Error   *types.JSONRPCError `json:"error"`
		}
		require.NoError(t, json.Unmarshal([]byte(frame), &rpcFrame))
		assert.Equal(t, "2.0", rpcFrame.JSONRPC)
		assert.Equal(t, "stream-1", rpcFrame.ID)
		require.Nil(t, rpcFrame.Error)

		event, err := types.UnmarshalEvent(rpcFrame.Result)
		require.NoError(t, err)
		kinds = append(kinds, event.EventKind())
	}

	assert.Equal(t, []string{types.KindTask, types.KindArtifactUpdate, types.KindStatusUpdate}, kinds)
}

func TestServerPushConfigRPC(t *testing.T) {
	ts := newTestServer(t)

	// Create a task first so the push config has something to attach to.
	send := `{
		"jsonrpc": "2.0",
		"id": 1,
		"method": "message/send",
		"params": {
			"configuration": {"blocking": true},
			"message": {"kind": "message", "messageId": "msg-1", "role": "user", "parts": [{"kind": "text", "text": "ping"}]}
		}
	}`
	decoded := decodeRPC(t, postJSON(t, ts.URL, send))
	result := decoded["result"].(map[string]any)
	taskID := result["id"].(string)

	set := `{
		"jsonrpc": "2.0",
		"id": 2,
		"method": "tasks/pushNotificationConfig/set",
		"params": {
			"taskId": "` + taskID + `",
			"pushNotificationConfig": {"url": "https://example.com/hook"}
		}
	}`
	setResp := decodeRPC(t, postJSON(t, ts.URL, set))
	setResult, ok := setResp["result"].(map[string]any)
	require.True(t, ok, "expected a result, got %v", setResp)
	assert.Equal(t, taskID, setResult["taskId"])

	list := `{
		"jsonrpc": "2.0",
		"id": 3,
		"method": "tasks/pushNotificationConfig/list",
		"params": {"id": "` + taskID + `"}
	}`
	listResp := decodeRPC(t, postJSON(t, ts.URL, list))
	configs, ok := listResp["result"].([]any)
	require.True(t, ok)
	assert.Len(t, configs, 1)
}

func TestServerExtendedCardRPC(t *testing.T) {
	ts := newTestServer(t)

	decoded := decodeRPC(t, postJSON(t, ts.URL, `{"jsonrpc":"2.0","id":1,"method":"agent/getAuthenticatedExtendedCard"}`))
	assert.Equal(t, int(ErrAuthenticatedExtendedCardNotConfigured), rpcErrorCode(t, decoded))
}
