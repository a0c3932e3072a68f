// Package pipeline implements the ordered step execution engine of the AS4
// gateway.
//
// # Execution Model
//
// A Pipeline runs its steps strictly in configured order over one
// MessagingContext. After each step the engine inspects the StepResult: when
// Succeeded or CanProceed is false, execution stops immediately and the
// possibly-updated context is handed back to the caller. A step returning a
// nil context keeps the previous context alive for the remaining steps.
//
// Agents pair a "normal" pipeline with an "error" pipeline: the error
// pipeline receives the context whenever the normal pipeline fails, and must
// never feed back into itself.
//
// # Step Registration
//
// Steps are wired by name through a Registry of factories, so agent
// pipelines stay configurable without runtime reflection.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
)

// Pipeline is an ordered, short-circuiting list of steps.
type Pipeline struct {
	name   string
	steps  []Step
	logger *slog.Logger
}

// New creates a pipeline. A nil logger defaults to slog.Default().
func New(name string, logger *slog.Logger, steps ...Step) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{name: name, steps: steps, logger: logger}
}

// Name returns the configured pipeline name.
func (p *Pipeline) Name() string { return p.name }

// Empty reports whether the pipeline has no steps.
func (p *Pipeline) Empty() bool { return p == nil || len(p.steps) == 0 }

// Execute runs the steps in order over the given context. Cancellation is
// checked at step boundaries only; a step already executing runs to
// completion so persistence writes are never interrupted midway.
func (p *Pipeline) Execute(ctx context.Context, msg *MessagingContext) StepResult {
	current := msg
	result := Success(current)

	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return Failed(err, current)
		}

		result = step.Execute(ctx, current)
		if result.Context != nil {
			current = result.Context
		} else {
			result.Context = current
		}

		if !result.Succeeded {
			p.logger.Debug("pipeline step failed",
				"pipeline", p.name,
				"step", i,
				"message_id", current.EbmsMessageID(),
				"error", result.Error,
			)
			return result
		}
		if !result.CanProceed {
			p.logger.Debug("pipeline stopped early",
				"pipeline", p.name,
				"step", i,
				"message_id", current.EbmsMessageID(),
			)
			return result
		}
	}
	return result
}

// Registry maps step names to factories, populated at startup. It replaces
// type-name reflection with an explicit construction table.
type Registry struct {
	factories map[string]func() Step
}

// NewRegistry creates an empty step registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]func() Step)}
}

// Register binds a step name to its factory. Registering a duplicate name
// returns an error so configuration mistakes surface at startup.
func (r *Registry) Register(name string, factory func() Step) error {
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("step %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Build constructs the named steps in order. Unknown names fail.
func (r *Registry) Build(names []string) ([]Step, error) {
	steps := make([]Step, 0, len(names))
	for _, name := range names {
		factory, ok := r.factories[name]
		if !ok {
			return nil, fmt.Errorf("unknown step %q", name)
		}
		steps = append(steps, factory())
	}
	return steps, nil
}
