package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/as4-gateway/internal/datastore"
	"github.com/sirosfoundation/as4-gateway/pkg/pipeline"
)

// feedReceiver hands its messages to the agent once and then blocks until
// cancelled, signalling done after the feed.
type feedReceiver struct {
	msgs []*ReceivedMessage
	done chan struct{}
}

func newFeedReceiver(msgs ...*ReceivedMessage) *feedReceiver {
	return &feedReceiver{msgs: msgs, done: make(chan struct{})}
}

func (r *feedReceiver) StartReceiving(ctx context.Context, onReceived OnReceived) error {
	for _, m := range r.msgs {
		onReceived(ctx, m)
	}
	close(r.done)
	<-ctx.Done()
	return ctx.Err()
}

func (r *feedReceiver) StopReceiving() {}

type stubTransformer struct {
	err error
}

func (t *stubTransformer) Transform(_ context.Context, msg *ReceivedMessage) (*pipeline.MessagingContext, error) {
	if t.err != nil {
		return nil, t.err
	}
	return &pipeline.MessagingContext{
		InMessage: &datastore.InMessage{EbmsMessageID: string(msg.Payload)},
	}, nil
}

type recordingHandler struct {
	mu             sync.Mutex
	transformation int
	execution      int
	errPipeline    int
}

func (h *recordingHandler) HandleTransformationError(_ context.Context, _ error, _ *ReceivedMessage) *pipeline.MessagingContext {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transformation++
	return nil
}

func (h *recordingHandler) HandleExecutionError(_ context.Context, _ error, msg *pipeline.MessagingContext) *pipeline.MessagingContext {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.execution++
	return msg
}

func (h *recordingHandler) HandleErrorPipelineError(_ context.Context, _ error, msg *pipeline.MessagingContext) *pipeline.MessagingContext {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errPipeline++
	return msg
}

func countingStep(n *int) pipeline.StepFunc {
	return func(_ context.Context, msg *pipeline.MessagingContext) pipeline.StepResult {
		*n++
		return pipeline.Success(msg)
	}
}

func failingStep() pipeline.StepFunc {
	return func(_ context.Context, msg *pipeline.MessagingContext) pipeline.StepResult {
		return pipeline.Failed(errors.New("step failed"), msg)
	}
}

// runAgent drives one feed cycle through the agent and shuts it down.
func runAgent(t *testing.T, cfg Config, receiver *feedReceiver) {
	t.Helper()

	a, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	<-receiver.done
	require.NoError(t, a.Stop())
}

func TestNewValidatesConfig(t *testing.T) {
	receiver := newFeedReceiver()
	transformer := &stubTransformer{}
	normal := pipeline.New("normal", nil)

	_, err := New(Config{Transformer: transformer, NormalPipeline: normal})
	assert.Error(t, err)

	_, err = New(Config{Receiver: receiver, NormalPipeline: normal})
	assert.Error(t, err)

	_, err = New(Config{Receiver: receiver, Transformer: transformer})
	assert.Error(t, err)

	_, err = New(Config{Receiver: receiver, Transformer: transformer, NormalPipeline: normal})
	assert.NoError(t, err)
}

func TestAgentLifecycle(t *testing.T) {
	a, err := New(Config{
		Name:           "test",
		Receiver:       newFeedReceiver(),
		Transformer:    &stubTransformer{},
		NormalPipeline: pipeline.New("normal", nil),
	})
	require.NoError(t, err)
	assert.Equal(t, StateNotStarted, a.State())

	require.ErrorIs(t, a.Stop(), ErrAgentNotStarted)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	assert.Equal(t, StateRunning, a.State())
	require.ErrorIs(t, a.Start(ctx), ErrAgentAlreadyStarted)

	require.NoError(t, a.Stop())
	assert.Equal(t, StateStopped, a.State())
	require.ErrorIs(t, a.Stop(), ErrAgentNotStarted)
}

func TestAgentProcessesReceivedMessages(t *testing.T) {
	receiver := newFeedReceiver(
		&ReceivedMessage{Payload: []byte("msg-1@test")},
		&ReceivedMessage{Payload: []byte("msg-2@test")},
	)

	var processed int
	runAgent(t, Config{
		Name:           "test",
		Receiver:       receiver,
		Transformer:    &stubTransformer{},
		NormalPipeline: pipeline.New("normal", nil, countingStep(&processed)),
	}, receiver)

	assert.Equal(t, 2, processed)
}

func TestAgentTransformationErrorSkipsPipeline(t *testing.T) {
	receiver := newFeedReceiver(&ReceivedMessage{Payload: []byte("bad")})
	handler := &recordingHandler{}

	var processed int
	runAgent(t, Config{
		Name:             "test",
		Receiver:         receiver,
		Transformer:      &stubTransformer{err: errors.New("unreadable")},
		NormalPipeline:   pipeline.New("normal", nil, countingStep(&processed)),
		ExceptionHandler: handler,
	}, receiver)

	assert.Equal(t, 0, processed)
	assert.Equal(t, 1, handler.transformation)
}

func TestAgentRoutesFailureToErrorPipeline(t *testing.T) {
	receiver := newFeedReceiver(&ReceivedMessage{Payload: []byte("msg-1@test")})
	handler := &recordingHandler{}

	var recovered int
	runAgent(t, Config{
		Name:             "test",
		Receiver:         receiver,
		Transformer:      &stubTransformer{},
		NormalPipeline:   pipeline.New("normal", nil, failingStep()),
		ErrorPipeline:    pipeline.New("error", nil, countingStep(&recovered)),
		ExceptionHandler: handler,
	}, receiver)

	assert.Equal(t, 1, recovered)
	assert.Equal(t, 0, handler.execution, "a handled failure never reaches the handler")
}

func TestAgentWithoutErrorPipelineDelegatesToHandler(t *testing.T) {
	receiver := newFeedReceiver(&ReceivedMessage{Payload: []byte("msg-1@test")})
	handler := &recordingHandler{}

	runAgent(t, Config{
		Name:             "test",
		Receiver:         receiver,
		Transformer:      &stubTransformer{},
		NormalPipeline:   pipeline.New("normal", nil, failingStep()),
		ExceptionHandler: handler,
	}, receiver)

	assert.Equal(t, 1, handler.execution)
}

func TestAgentErrorPipelineFailureEndsAtHandler(t *testing.T) {
	receiver := newFeedReceiver(&ReceivedMessage{Payload: []byte("msg-1@test")})
	handler := &recordingHandler{}

	runAgent(t, Config{
		Name:             "test",
		Receiver:         receiver,
		Transformer:      &stubTransformer{},
		NormalPipeline:   pipeline.New("normal", nil, failingStep()),
		ErrorPipeline:    pipeline.New("error", nil, failingStep()),
		ExceptionHandler: handler,
	}, receiver)

	assert.Equal(t, 1, handler.errPipeline)
}

func TestAgentRecoversFromStepPanic(t *testing.T) {
	receiver := newFeedReceiver(
		&ReceivedMessage{Payload: []byte("msg-1@test")},
		&ReceivedMessage{Payload: []byte("msg-2@test")},
	)

	var processed int
	panicking := pipeline.StepFunc(func(_ context.Context, msg *pipeline.MessagingContext) pipeline.StepResult {
		if msg.EbmsMessageID() == "msg-1@test" {
			panic("corrupt payload")
		}
		processed++
		return pipeline.Success(msg)
	})

	// The panic on the first message must not take down the receive loop.
	runAgent(t, Config{
		Name:           "test",
		Receiver:       receiver,
		Transformer:    &stubTransformer{},
		NormalPipeline: pipeline.New("normal", nil, panicking),
	}, receiver)

	assert.Equal(t, 1, processed)
}

func TestPollingReceiverClaimsBatches(t *testing.T) {
	var mu sync.Mutex
	var claims int
	var received []string

	claim := func(_ context.Context, limit int) ([]*ReceivedMessage, error) {
		mu.Lock()
		defer mu.Unlock()
		claims++
		if claims > 1 {
			return nil, nil
		}
		msgs := make([]*ReceivedMessage, 0, limit)
		for i := 0; i < limit; i++ {
			msgs = append(msgs, &ReceivedMessage{Payload: []byte("claimed")})
		}
		return msgs, nil
	}

	r := NewPollingReceiver(time.Millisecond, 3, claim, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- r.StartReceiving(ctx, func(_ context.Context, msg *ReceivedMessage) {
			mu.Lock()
			received = append(received, string(msg.Payload))
			mu.Unlock()
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 3
	}, time.Second, time.Millisecond)

	r.StopReceiving()
	require.NoError(t, <-done)
}

func TestPollingReceiverToleratesClaimFailures(t *testing.T) {
	var mu sync.Mutex
	var claims int

	claim := func(_ context.Context, _ int) ([]*ReceivedMessage, error) {
		mu.Lock()
		defer mu.Unlock()
		claims++
		if claims == 1 {
			return nil, errors.New("store unavailable")
		}
		return []*ReceivedMessage{{Payload: []byte("claimed")}}, nil
	}

	r := NewPollingReceiver(time.Millisecond, 1, claim, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan struct{})
	var once sync.Once
	go func() {
		_ = r.StartReceiving(ctx, func(_ context.Context, _ *ReceivedMessage) {
			once.Do(func() { close(got) })
		})
	}()

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("receiver never recovered from the claim failure")
	}
	r.StopReceiving()
}
