package server

import (
	"context"
	"errors"
	"sync"

	types "github.com/a2akit/ark/types"
	zap "go.uber.org/zap"
)

// Session wraps one invocation of an agent executor. It owns the execution
// scope: starting the run, exposing its event stream, and closing the
// processor with the right error class when the run ends.
type Session struct {
	logger    *zap.Logger
	processor SessionEventProcessor
	execute   func(ctx context.Context) error

	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	doneOnce  sync.Once
	done      chan struct{}
	err       error
}

// NewSession creates a session around execute. The session's scope derives
// from parent, so shutting the parent down cancels the run cooperatively.
func NewSession(parent context.Context, logger *zap.Logger, processor SessionEventProcessor, execute func(ctx context.Context) error) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if parent == nil {
		parent = context.Background()
	}

	ctx, cancel := context.WithCancel(parent)

	return &Session{
		logger:    logger,
		processor: processor,
		execute:   execute,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// ContextID returns the context the session is bound to
func (s *Session) ContextID() string {
	return s.processor.ContextID()
}

// TaskIDs returns the ids of all tasks observed by this session's run
func (s *Session) TaskIDs() []string {
	return s.processor.TaskIDs()
}

// CurrentTask returns the task snapshot the session was started for, if any
func (s *Session) CurrentTask() *types.Task {
	return s.processor.CurrentTask()
}

// Subscribe attaches a new subscriber to the session's event stream
func (s *Session) Subscribe(withReplay bool) *EventSubscription {
	return s.processor.Subscribe(withReplay)
}

// Start schedules the execute block on the session's scope. Subsequent calls
// are no-ops.
func (s *Session) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

func (s *Session) run() {
	err := s.execute(s.ctx)

	switch {
	case err == nil:
		// a clean return is only legal when every observed task is final or
		// paused; Close enforces that and reports the violation
		s.err = s.processor.Close()
	case errors.Is(err, context.Canceled):
		s.processor.CloseWithError(err)
		s.err = err
	case isProtocolError(err):
		s.processor.CloseWithError(err)
		s.err = err
	default:
		wrapped := NewInternalError(err)
		s.processor.CloseWithError(wrapped)
		s.err = wrapped
	}

	if s.err != nil && !errors.Is(s.err, context.Canceled) {
		s.logger.Warn("session ended with error",
			zap.String("context_id", s.processor.ContextID()),
			zap.Error(s.err))
	} else {
		s.logger.Debug("session completed",
			zap.String("context_id", s.processor.ContextID()))
	}

	s.doneOnce.Do(func() { close(s.done) })
}

// Done returns a channel closed when the run has finished and the stream is closed
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the session outcome. Valid once Done is closed; nil means the
// run ended cleanly.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Join blocks until the run finishes or ctx is done, returning the session
// outcome or the context error
func (s *Session) Join(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close requests cooperative cancellation of the run and waits for it to
// finish, which closes the processor stream. A session that was never started
// is closed immediately.
func (s *Session) Close(ctx context.Context) error {
	started := true
	s.startOnce.Do(func() { started = false })

	s.cancel()

	if !started {
		s.processor.CloseWithError(context.Canceled)
		s.doneOnce.Do(func() {
			s.err = context.Canceled
			close(s.done)
		})
		return nil
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
