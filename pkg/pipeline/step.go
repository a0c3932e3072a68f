package pipeline

import "context"

// Step is one unit of message processing. Implementations register into a
// pipeline's step list; expected branching travels through the StepResult
// tag, never through panics. A step that has nothing to change returns a
// nil Context and the engine keeps threading the previous one.
type Step interface {
	Execute(ctx context.Context, msg *MessagingContext) StepResult
}

// StepResult is the tagged outcome of a step execution.
type StepResult struct {
	// Succeeded is false when the step failed and the error pipeline must
	// take over.
	Succeeded bool

	// CanProceed is false when execution of the current pipeline must stop
	// after this step, even on success.
	CanProceed bool

	// Context is the possibly-updated messaging context. Nil means the step
	// left the context untouched.
	Context *MessagingContext

	// Error carries the failure of an unsuccessful step.
	Error error
}

// Success continues the pipeline with the given context.
func Success(msg *MessagingContext) StepResult {
	return StepResult{Succeeded: true, CanProceed: true, Context: msg}
}

// StopExecution ends the pipeline successfully after this step.
func StopExecution(msg *MessagingContext) StepResult {
	return StepResult{Succeeded: true, CanProceed: false, Context: msg}
}

// Failed stops the pipeline and routes the context to the error pipeline.
func Failed(err error, msg *MessagingContext) StepResult {
	return StepResult{Succeeded: false, CanProceed: false, Context: msg, Error: err}
}

// StepFunc adapts a function to the Step interface.
type StepFunc func(ctx context.Context, msg *MessagingContext) StepResult

// Execute runs the function.
func (f StepFunc) Execute(ctx context.Context, msg *MessagingContext) StepResult {
	return f(ctx, msg)
}
