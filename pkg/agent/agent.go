// Package agent implements the long-running processing agents of the AS4
// gateway.
//
// An Agent couples a Receiver (the blocking source of work), a Transformer
// (raw input to MessagingContext) and a step pipeline pair. Each agent runs
// on its own goroutine and is an isolated failure domain: exceptions never
// cross agent boundaries, they are delegated to the agent's
// ExceptionHandler and surface only as persisted exception records and
// logs.
//
// # Lifecycle
//
//	NotStarted -> Running -> Stopped
//
// Start spawns the receive loop; Stop cancels it and waits for in-flight
// work to finish. A claimed-but-unprocessed row left behind by a crash
// stays visible through its claim marker and is released by the stale-claim
// janitor.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sirosfoundation/as4-gateway/pkg/pipeline"
)

var (
	// ErrAgentAlreadyStarted is returned when Start is called twice.
	ErrAgentAlreadyStarted = errors.New("agent already started")
	// ErrAgentNotStarted is returned when Stop is called before Start.
	ErrAgentNotStarted = errors.New("agent not started")
)

// State is the lifecycle state of an agent.
type State int32

const (
	StateNotStarted State = iota
	StateRunning
	StateStopped
)

// String renders the state for logs.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	}
	return "Unknown"
}

// ReceivedMessage is one raw unit of work handed to an agent by its
// receiver: an envelope from a transport front-end or a claimed entity from
// a datastore poller.
type ReceivedMessage struct {
	Payload     []byte
	ContentType string

	// Entity carries the claimed datastore row for store-backed receivers.
	Entity interface{}
}

// OnReceived is the callback a receiver invokes for each unit of work.
type OnReceived func(ctx context.Context, msg *ReceivedMessage)

// Receiver is the blocking source of work for an agent.
type Receiver interface {
	// StartReceiving blocks, invoking onReceived for each unit of work,
	// until the context is cancelled or StopReceiving is called.
	StartReceiving(ctx context.Context, onReceived OnReceived) error

	// StopReceiving makes StartReceiving return without waiting for the
	// context.
	StopReceiving()
}

// Transformer converts a raw received message into a MessagingContext. A
// transformation error is terminal for the unit of work; it never reaches
// the pipeline.
type Transformer interface {
	Transform(ctx context.Context, msg *ReceivedMessage) (*pipeline.MessagingContext, error)
}

// ExceptionHandler classifies failures escaping the pipelines into one of
// three terminal callbacks. Each returns the terminal context, typically
// carrying a persisted exception record.
type ExceptionHandler interface {
	HandleTransformationError(ctx context.Context, err error, msg *ReceivedMessage) *pipeline.MessagingContext
	HandleExecutionError(ctx context.Context, err error, msg *pipeline.MessagingContext) *pipeline.MessagingContext
	HandleErrorPipelineError(ctx context.Context, err error, msg *pipeline.MessagingContext) *pipeline.MessagingContext
}

// Config wires an agent together. Receiver, Transformer and NormalPipeline
// are required; the others default to safe no-ops.
type Config struct {
	Name             string
	Receiver         Receiver
	Transformer      Transformer
	NormalPipeline   *pipeline.Pipeline
	ErrorPipeline    *pipeline.Pipeline
	ExceptionHandler ExceptionHandler
	Logger           *slog.Logger
}

// Agent is a long-running polling worker feeding received messages through
// its pipelines.
type Agent struct {
	name        string
	receiver    Receiver
	transformer Transformer
	normal      *pipeline.Pipeline
	errPipeline *pipeline.Pipeline
	handler     ExceptionHandler
	logger      *slog.Logger

	state  atomic.Int32
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an agent from its configuration.
func New(cfg Config) (*Agent, error) {
	if cfg.Receiver == nil {
		return nil, errors.New("receiver is required")
	}
	if cfg.Transformer == nil {
		return nil, errors.New("transformer is required")
	}
	if cfg.NormalPipeline == nil {
		return nil, errors.New("normal pipeline is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	handler := cfg.ExceptionHandler
	if handler == nil {
		handler = loggingHandler{logger: logger}
	}
	return &Agent{
		name:        cfg.Name,
		receiver:    cfg.Receiver,
		transformer: cfg.Transformer,
		normal:      cfg.NormalPipeline,
		errPipeline: cfg.ErrorPipeline,
		handler:     handler,
		logger:      logger.With("agent", cfg.Name),
	}, nil
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// State returns the current lifecycle state.
func (a *Agent) State() State { return State(a.state.Load()) }

// Start spawns the receive loop on a dedicated goroutine.
func (a *Agent) Start(ctx context.Context) error {
	if !a.state.CompareAndSwap(int32(StateNotStarted), int32(StateRunning)) {
		return ErrAgentAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.receiver.StartReceiving(runCtx, a.onReceived); err != nil &&
			!errors.Is(err, context.Canceled) {
			a.logger.Error("receiver stopped with error", "error", err)
		}
	}()

	a.logger.Info("agent started")
	return nil
}

// Stop signals the receiver to cease polling and waits for in-flight work.
func (a *Agent) Stop() error {
	if !a.state.CompareAndSwap(int32(StateRunning), int32(StateStopped)) {
		return ErrAgentNotStarted
	}

	a.cancel()
	a.receiver.StopReceiving()
	a.wg.Wait()

	a.logger.Info("agent stopped")
	return nil
}

// Run starts the agent, blocks until the context is cancelled and stops it.
// It is the supervision entry point used by the agent fleet.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return a.Stop()
}

// onReceived transforms one unit of work and feeds it through the pipeline
// pair. It never lets a failure escape: the agent is the exception
// boundary.
func (a *Agent) onReceived(ctx context.Context, msg *ReceivedMessage) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("panic while processing message", "panic", r)
		}
	}()

	msgCtx, err := a.transformer.Transform(ctx, msg)
	if err != nil {
		a.logger.Warn("message transformation failed", "error", err)
		a.handler.HandleTransformationError(ctx, err, msg)
		return
	}

	result := a.normal.Execute(ctx, msgCtx)
	if result.Succeeded {
		return
	}

	if a.errPipeline.Empty() {
		a.handler.HandleExecutionError(ctx, result.Error, result.Context)
		return
	}

	errResult := a.errPipeline.Execute(ctx, result.Context)
	if !errResult.Succeeded {
		// The error pipeline must never recurse into itself; its failures
		// end at the final handler callback.
		a.handler.HandleErrorPipelineError(ctx, errResult.Error, errResult.Context)
	}
}

// loggingHandler is the fallback exception handler for agents wired without
// one.
type loggingHandler struct {
	logger *slog.Logger
}

func (h loggingHandler) HandleTransformationError(_ context.Context, err error, _ *ReceivedMessage) *pipeline.MessagingContext {
	h.logger.Error("unhandled transformation error", "error", err)
	return nil
}

func (h loggingHandler) HandleExecutionError(_ context.Context, err error, msg *pipeline.MessagingContext) *pipeline.MessagingContext {
	h.logger.Error("unhandled execution error", "error", err, "message_id", msg.EbmsMessageID())
	return msg
}

func (h loggingHandler) HandleErrorPipelineError(_ context.Context, err error, msg *pipeline.MessagingContext) *pipeline.MessagingContext {
	h.logger.Error("unhandled error-pipeline error", "error", err, "message_id", msg.EbmsMessageID())
	return msg
}
