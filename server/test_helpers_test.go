package server_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	zap "go.uber.org/zap"

	server "github.com/a2akit/ark/server"
	config "github.com/a2akit/ark/server/config"
	types "github.com/a2akit/ark/types"
)

// scriptedExecutor runs a caller-supplied script as the agent. release, when
// set, gates the script so tests can observe the run mid-flight.
type scriptedExecutor struct {
	script  func(ctx context.Context, reqCtx *server.RequestContext, processor server.SessionEventProcessor) error
	release chan struct{}
}

func (e *scriptedExecutor) Execute(ctx context.Context, reqCtx *server.RequestContext, processor server.SessionEventProcessor) error {
	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return e.script(ctx, reqCtx, processor)
}

func (e *scriptedExecutor) Cancel(ctx context.Context, reqCtx *server.RequestContext, session *server.Session) error {
	return session.Close(ctx)
}

// handlerFixture bundles a request handler with the collaborators tests poke at.
type handlerFixture struct {
	handler  *server.DefaultRequestHandler
	storage  *server.StorageBundle
	manager  *server.DefaultSessionManager
	executor *scriptedExecutor
}

type fixtureOptions struct {
	streaming    bool
	push         bool
	extendedCard *types.AgentCard
	// extendedCardUnadvertised keeps the base card's
	// supportsAuthenticatedExtendedCard flag unset even when extendedCard is
	// configured
	extendedCardUnadvertised bool
	replayPolicy             string
}

func newHandlerFixture(t *testing.T, executor *scriptedExecutor, opts fixtureOptions) *handlerFixture {
	t.Helper()
	logger := zap.NewNop()

	storage := &server.StorageBundle{
		Tasks:    server.NewInMemoryTaskStorage(logger),
		Messages: server.NewInMemoryMessageStorage(logger),
	}

	var pushSender server.PushNotificationSender
	if opts.push {
		storage.PushConfigs = server.NewInMemoryPushNotificationConfigStorage(logger, 0)
		pushSender = &fakePushSender{}
	}

	manager := server.NewSessionManager(logger, storage.Tasks, storage.PushConfigs, pushSender)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})

	replayPolicy := opts.replayPolicy
	if replayPolicy == "" {
		replayPolicy = config.ReplayPolicySnapshot
	}

	cfg := &config.Config{
		AgentName: "test-agent",
		StreamingConfig: config.StreamingConfig{
			SubscriberBufferSize: 64,
			ResubscribeReplay:    replayPolicy,
		},
	}

	card := types.AgentCard{
		Name: "test-agent",
		Capabilities: types.AgentCapabilities{
			Streaming:         server.BoolPtr(opts.streaming),
			PushNotifications: server.BoolPtr(opts.push),
		},
	}
	if opts.extendedCard != nil && !opts.extendedCardUnadvertised {
		card.SupportsAuthenticatedExtendedCard = server.BoolPtr(true)
	}

	handler := server.NewDefaultRequestHandler(
		logger, cfg, card, opts.extendedCard,
		storage, manager, executor, pushSender,
		context.Background(), nil,
	)

	return &handlerFixture{
		handler:  handler,
		storage:  storage,
		manager:  manager,
		executor: executor,
	}
}

func testCall() *server.ServerCallContext {
	return server.NewServerCallContext(http.Header{"User-Agent": []string{"test"}})
}

// sendParams builds message/send params carrying a single text part.
func sendParams(text string, mutate ...func(*types.MessageSendParams)) types.MessageSendParams {
	params := types.MessageSendParams{
		Message: *types.NewUserTextMessage(server.GenerateMessageID(), text),
	}
	for _, fn := range mutate {
		fn(&params)
	}
	return params
}

func blockingConfig() func(*types.MessageSendParams) {
	return func(params *types.MessageSendParams) {
		params.Configuration = &types.MessageSendConfiguration{Blocking: server.BoolPtr(true)}
	}
}
