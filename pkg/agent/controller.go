package agent

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Controller supervises a fleet of agents. Each agent runs on its own
// goroutine; cancelling the context stops the whole fleet gracefully.
type Controller struct {
	agents []*Agent
	logger *slog.Logger
}

// NewController creates a controller for the given agents.
func NewController(logger *slog.Logger, agents ...*Agent) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{agents: agents, logger: logger}
}

// Run starts every agent and blocks until the context is cancelled and all
// agents have stopped. A failure to start one agent stops the fleet.
func (c *Controller) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, a := range c.agents {
		a := a
		g.Go(func() error {
			return a.Run(gctx)
		})
	}

	c.logger.Info("agent fleet running", "agents", len(c.agents))
	return g.Wait()
}
