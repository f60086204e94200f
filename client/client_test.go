package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"

	client "github.com/a2akit/ark/client"
	types "github.com/a2akit/ark/types"
)

// rpcTestServer serves canned JSON-RPC responses keyed by method and records
// received requests.
func rpcTestServer(t *testing.T, respond func(t *testing.T, req types.JSONRPCRequest, w http.ResponseWriter)) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/a2a" {
			http.NotFound(w, r)
			return
		}

		var req types.JSONRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "2.0", req.JSONRPC)
		respond(t, req, w)
	}))
}

func writeResult(t *testing.T, w http.ResponseWriter, id any, result any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(types.JSONRPCSuccessResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}))
}

func writeError(t *testing.T, w http.ResponseWriter, id any, code int, message string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(types.JSONRPCErrorResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &types.JSONRPCError{Code: code, Message: message},
	}))
}

func TestClient_SendMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("decodes a message result", func(t *testing.T) {
		ts := rpcTestServer(t, func(t *testing.T, req types.JSONRPCRequest, w http.ResponseWriter) {
			assert.Equal(t, "message/send", req.Method)
			writeResult(t, w, req.ID, types.NewAgentTextMessage("msg-reply", "pong"))
		})
		defer ts.Close()

		event, err := client.NewClient(ts.URL).SendMessage(ctx, types.MessageSendParams{
			Message: *types.NewUserTextMessage("msg-1", "ping"),
		})
		require.NoError(t, err)

		reply, ok := event.(*types.Message)
		require.True(t, ok)
		assert.Equal(t, "msg-reply", reply.MessageID)
		assert.Equal(t, "pong", types.TextFromParts(reply.Parts))
	})

	t.Run("decodes a task result", func(t *testing.T) {
		ts := rpcTestServer(t, func(t *testing.T, req types.JSONRPCRequest, w http.ResponseWriter) {
			writeResult(t, w, req.ID, types.Task{
				ID: "task-1", ContextID: "ctx-1", Kind: types.KindTask,
				Status: types.TaskStatus{State: types.TaskStateCompleted},
			})
		})
		defer ts.Close()

		event, err := client.NewClient(ts.URL).SendMessage(ctx, types.MessageSendParams{
			Message: *types.NewUserTextMessage("msg-1", "ping"),
		})
		require.NoError(t, err)

		task, ok := event.(*types.Task)
		require.True(t, ok)
		assert.Equal(t, "task-1", task.ID)
	})

	t.Run("protocol errors surface with their code", func(t *testing.T) {
		ts := rpcTestServer(t, func(t *testing.T, req types.JSONRPCRequest, w http.ResponseWriter) {
			writeError(t, w, req.ID, -32001, "task not found")
		})
		defer ts.Close()

		_, err := client.NewClient(ts.URL).GetTask(ctx, types.TaskQueryParams{ID: "ghost"})
		require.Error(t, err)

		var protocolErr *client.ProtocolError
		require.True(t, errors.As(err, &protocolErr))
		assert.Equal(t, -32001, protocolErr.Code)
		assert.Equal(t, "task not found", protocolErr.Message)
		assert.Contains(t, err.Error(), "-32001")
	})

	t.Run("non-200 responses are transport errors", func(t *testing.T) {
		fail := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer fail.Close()

		c := client.NewClient(fail.URL, client.WithMaxRetries(0))
		_, err := c.SendMessage(ctx, types.MessageSendParams{
			Message: *types.NewUserTextMessage("msg-1", "ping"),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
	})

	t.Run("transport failures are retried", func(t *testing.T) {
		var attempts atomic.Int32
		flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if attempts.Add(1) == 1 {
				// Drop the first connection mid-request.
				hj, ok := w.(http.Hijacker)
				require.True(t, ok)
				conn, _, err := hj.Hijack()
				require.NoError(t, err)
				_ = conn.Close()
				return
			}
			var req types.JSONRPCRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			writeResult(t, w, req.ID, types.NewAgentTextMessage("msg-reply", "recovered"))
		}))
		defer flaky.Close()

		c := client.NewClientWithConfig(&client.Config{
			BaseURL:    flaky.URL,
			Timeout:    5 * time.Second,
			MaxRetries: 2,
			RetryDelay: 10 * time.Millisecond,
		})

		event, err := c.SendMessage(ctx, types.MessageSendParams{
			Message: *types.NewUserTextMessage("msg-1", "ping"),
		})
		require.NoError(t, err)
		assert.Equal(t, types.KindMessage, event.EventKind())
		assert.Equal(t, int32(2), attempts.Load())
	})
}

func TestClient_SendMessageStream(t *testing.T) {
	ctx := context.Background()

	sseFrame := func(t *testing.T, id any, event types.Event) string {
		t.Helper()
		data, err := json.Marshal(types.JSONRPCSuccessResponse{JSONRPC: "2.0", ID: id, Result: event})
		require.NoError(t, err)
		return "data: " + string(data) + "\n\n"
	}

	t.Run("forwards decoded events until the terminator", func(t *testing.T) {
		ts := rpcTestServer(t, func(t *testing.T, req types.JSONRPCRequest, w http.ResponseWriter) {
			assert.Equal(t, "message/stream", req.Method)
			w.Header().Set("Content-Type", "text/event-stream")

			task := &types.Task{ID: "task-1", ContextID: "ctx-1", Kind: types.KindTask, Status: types.TaskStatus{State: types.TaskStateWorking}}
			final := &types.TaskStatusUpdateEvent{Kind: types.KindStatusUpdate, TaskID: "task-1", ContextID: "ctx-1", Final: true, Status: types.TaskStatus{State: types.TaskStateCompleted}}

			_, _ = w.Write([]byte(sseFrame(t, req.ID, task)))
			_, _ = w.Write([]byte(sseFrame(t, req.ID, final)))
			_, _ = w.Write([]byte("data: [DONE]\n\n"))
		})
		defer ts.Close()

		events := make(chan types.Event, 8)
		err := client.NewClient(ts.URL).SendMessageStream(ctx, types.MessageSendParams{
			Message: *types.NewUserTextMessage("msg-1", "ping"),
		}, events)
		require.NoError(t, err)

		require.Len(t, events, 2)
		first := <-events
		assert.Equal(t, types.KindTask, first.EventKind())

		second := <-events
		update, ok := second.(*types.TaskStatusUpdateEvent)
		require.True(t, ok)
		assert.True(t, update.Final)
	})

	t.Run("error frame terminates the stream with a protocol error", func(t *testing.T) {
		ts := rpcTestServer(t, func(t *testing.T, req types.JSONRPCRequest, w http.ResponseWriter) {
			w.Header().Set("Content-Type", "text/event-stream")

			errData, err := json.Marshal(types.JSONRPCErrorResponse{
				JSONRPC: "2.0",
				ID:      req.ID,
				Error:   &types.JSONRPCError{Code: -32603, Message: "session exploded"},
			})
			require.NoError(t, err)
			_, _ = w.Write([]byte("data: " + string(errData) + "\n\n"))
			_, _ = w.Write([]byte("data: [DONE]\n\n"))
		})
		defer ts.Close()

		events := make(chan types.Event, 8)
		err := client.NewClient(ts.URL).SendMessageStream(ctx, types.MessageSendParams{
			Message: *types.NewUserTextMessage("msg-1", "ping"),
		}, events)
		require.Error(t, err)

		var protocolErr *client.ProtocolError
		require.True(t, errors.As(err, &protocolErr))
		assert.Equal(t, -32603, protocolErr.Code)
		assert.Empty(t, events)
	})

	t.Run("resubscribe streams over the same framing", func(t *testing.T) {
		ts := rpcTestServer(t, func(t *testing.T, req types.JSONRPCRequest, w http.ResponseWriter) {
			assert.Equal(t, "tasks/resubscribe", req.Method)
			w.Header().Set("Content-Type", "text/event-stream")

			final := &types.TaskStatusUpdateEvent{Kind: types.KindStatusUpdate, TaskID: "task-1", ContextID: "ctx-1", Final: true, Status: types.TaskStatus{State: types.TaskStateCompleted}}
			_, _ = w.Write([]byte(sseFrame(t, req.ID, final)))
			_, _ = w.Write([]byte("data: [DONE]\n\n"))
		})
		defer ts.Close()

		events := make(chan types.Event, 8)
		err := client.NewClient(ts.URL).Resubscribe(ctx, types.TaskIdParams{ID: "task-1"}, events)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})
}

func TestClient_TaskOperations(t *testing.T) {
	ctx := context.Background()

	t.Run("get task passes params through", func(t *testing.T) {
		ts := rpcTestServer(t, func(t *testing.T, req types.JSONRPCRequest, w http.ResponseWriter) {
			assert.Equal(t, "tasks/get", req.Method)

			params, ok := req.Params.(map[string]any)
			require.True(t, ok)
			assert.Equal(t, "task-1", params["id"])
			assert.Equal(t, float64(5), params["historyLength"])

			writeResult(t, w, req.ID, types.Task{
				ID: "task-1", ContextID: "ctx-1", Kind: types.KindTask,
				Status: types.TaskStatus{State: types.TaskStateWorking},
			})
		})
		defer ts.Close()

		historyLength := 5
		task, err := client.NewClient(ts.URL).GetTask(ctx, types.TaskQueryParams{ID: "task-1", HistoryLength: &historyLength})
		require.NoError(t, err)
		assert.Equal(t, types.TaskStateWorking, task.Status.State)
	})

	t.Run("cancel task returns the canceled snapshot", func(t *testing.T) {
		ts := rpcTestServer(t, func(t *testing.T, req types.JSONRPCRequest, w http.ResponseWriter) {
			assert.Equal(t, "tasks/cancel", req.Method)
			writeResult(t, w, req.ID, types.Task{
				ID: "task-1", ContextID: "ctx-1", Kind: types.KindTask,
				Status: types.TaskStatus{State: types.TaskStateCanceled},
			})
		})
		defer ts.Close()

		task, err := client.NewClient(ts.URL).CancelTask(ctx, types.TaskIdParams{ID: "task-1"})
		require.NoError(t, err)
		assert.Equal(t, types.TaskStateCanceled, task.Status.State)
	})
}

func TestClient_PushNotificationConfigs(t *testing.T) {
	ctx := context.Background()

	configID := "cfg-1"
	stored := types.TaskPushNotificationConfig{
		TaskID: "task-1",
		PushNotificationConfig: types.PushNotificationConfig{
			ID:  &configID,
			URL: "https://example.com/hook",
		},
	}

	ts := rpcTestServer(t, func(t *testing.T, req types.JSONRPCRequest, w http.ResponseWriter) {
		switch req.Method {
		case "tasks/pushNotificationConfig/set", "tasks/pushNotificationConfig/get":
			writeResult(t, w, req.ID, stored)
		case "tasks/pushNotificationConfig/list":
			writeResult(t, w, req.ID, []types.TaskPushNotificationConfig{stored})
		case "tasks/pushNotificationConfig/delete":
			writeResult(t, w, req.ID, nil)
		default:
			t.Errorf("unexpected method %s", req.Method)
		}
	})
	defer ts.Close()

	c := client.NewClient(ts.URL)

	saved, err := c.SetTaskPushNotificationConfig(ctx, stored)
	require.NoError(t, err)
	assert.Equal(t, "task-1", saved.TaskID)

	found, err := c.GetTaskPushNotificationConfig(ctx, types.GetTaskPushNotificationConfigParams{ID: "task-1"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/hook", found.PushNotificationConfig.URL)

	configs, err := c.ListTaskPushNotificationConfig(ctx, types.ListTaskPushNotificationConfigParams{ID: "task-1"})
	require.NoError(t, err)
	require.Len(t, configs, 1)

	require.NoError(t, c.DeleteTaskPushNotificationConfig(ctx, types.DeleteTaskPushNotificationConfigParams{
		ID:                       "task-1",
		PushNotificationConfigID: configID,
	}))
}

func TestClient_Discovery(t *testing.T) {
	ctx := context.Background()

	t.Run("agent card from the well-known endpoint", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/.well-known/agent-card.json", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			require.NoError(t, json.NewEncoder(w).Encode(types.AgentCard{
				Name:            "remote-agent",
				ProtocolVersion: "0.3.0",
			}))
		}))
		defer ts.Close()

		card, err := client.NewClient(ts.URL).GetAgentCard(ctx)
		require.NoError(t, err)
		assert.Equal(t, "remote-agent", card.Name)
	})

	t.Run("extended card via rpc", func(t *testing.T) {
		ts := rpcTestServer(t, func(t *testing.T, req types.JSONRPCRequest, w http.ResponseWriter) {
			assert.Equal(t, "agent/getAuthenticatedExtendedCard", req.Method)
			writeResult(t, w, req.ID, types.AgentCard{Name: "remote-agent-extended"})
		})
		defer ts.Close()

		card, err := client.NewClient(ts.URL).GetAuthenticatedExtendedCard(ctx)
		require.NoError(t, err)
		assert.Equal(t, "remote-agent-extended", card.Name)
	})

	t.Run("health endpoint", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/health", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"healthy"}`))
		}))
		defer ts.Close()

		health, err := client.NewClient(ts.URL).GetHealth(ctx)
		require.NoError(t, err)
		assert.Equal(t, types.HealthStatusHealthy, health.Status)
	})

	t.Run("health without status field fails", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))
		defer ts.Close()

		_, err := client.NewClient(ts.URL).GetHealth(ctx)
		require.Error(t, err)
	})
}

func TestClient_Configuration(t *testing.T) {
	t.Run("custom headers reach the server", func(t *testing.T) {
		var gotHeader, gotUserAgent string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotHeader = r.Header.Get("X-API-Key")
			gotUserAgent = r.Header.Get("User-Agent")

			var req types.JSONRPCRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			writeResult(t, w, req.ID, types.NewAgentTextMessage("msg-1", "ok"))
		}))
		defer ts.Close()

		c := client.NewClient(ts.URL, client.WithHeader("X-API-Key", "secret"))
		_, err := c.SendMessage(context.Background(), types.MessageSendParams{
			Message: *types.NewUserTextMessage("msg-1", "ping"),
		})
		require.NoError(t, err)
		assert.Equal(t, "secret", gotHeader)
		assert.Equal(t, "ark-a2a-client/1.0", gotUserAgent)
	})

	t.Run("base url already ending in /a2a is not doubled", func(t *testing.T) {
		var gotPath string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path

			var req types.JSONRPCRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			writeResult(t, w, req.ID, types.NewAgentTextMessage("msg-1", "ok"))
		}))
		defer ts.Close()

		c := client.NewClient(ts.URL + "/a2a")
		_, err := c.SendMessage(context.Background(), types.MessageSendParams{
			Message: *types.NewUserTextMessage("msg-1", "ping"),
		})
		require.NoError(t, err)
		assert.Equal(t, "/a2a", gotPath)
		assert.Equal(t, ts.URL+"/a2a", c.GetBaseURL())
	})
}
