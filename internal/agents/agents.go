// Package agents wires the gateway's processing agents: each one couples a
// datastore polling receiver, an entity transformer and a step pipeline
// pair built from the shared registry.
package agents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sirosfoundation/as4-gateway/internal/datastore"
	"github.com/sirosfoundation/as4-gateway/internal/steps"
	"github.com/sirosfoundation/as4-gateway/pkg/agent"
	"github.com/sirosfoundation/as4-gateway/pkg/pipeline"
)

// Agent names.
const (
	NameProcess            = "process"
	NameDeliver            = "deliver"
	NameSend               = "send"
	NameNotifyIn           = "notify-in"
	NameNotifyOut          = "notify-out"
	NameReceptionAwareness = "reception-awareness"
	NameRetry              = "retry"
)

// Settings are the polling parameters of one agent.
type Settings struct {
	PollInterval time.Duration
	BatchSize    int
}

// FleetConfig holds the per-agent settings and the pipeline step lists.
// Zero-valued step lists fall back to the shipped defaults.
type FleetConfig struct {
	Process            Settings
	Deliver            Settings
	Send               Settings
	Notify             Settings
	ReceptionAwareness Settings
	Retry              Settings

	ProcessSteps      []string
	ProcessErrorSteps []string
	DeliverSteps      []string
	DeliverErrorSteps []string
	SendSteps         []string
	SendErrorSteps    []string
	NotifySteps       []string
	NotifyErrorSteps  []string
}

// BuildFleet constructs every store-backed agent of the gateway.
func BuildFleet(cfg FleetConfig, store datastore.Datastore, registry *pipeline.Registry, logger *slog.Logger) ([]*agent.Agent, error) {
	if logger == nil {
		logger = slog.Default()
	}
	handler := NewStoreExceptionHandler(store, logger)

	type spec struct {
		name        string
		settings    Settings
		claim       agent.ClaimFunc
		transformer agent.Transformer
		steps       []string
		errorSteps  []string
	}
	specs := []spec{
		{
			name:        NameProcess,
			settings:    cfg.Process,
			claim:       claimInMessages(store, datastore.OperationToBeProcessed),
			transformer: &InMessageTransformer{Mode: pipeline.ModeReceive, Logger: logger},
			steps:       orDefault(cfg.ProcessSteps, steps.DefaultProcessPipeline),
			errorSteps:  orDefault(cfg.ProcessErrorSteps, steps.DefaultProcessErrorPipeline),
		},
		{
			name:        NameDeliver,
			settings:    cfg.Deliver,
			claim:       claimInMessages(store, datastore.OperationToBeDelivered),
			transformer: &InMessageTransformer{Mode: pipeline.ModeDeliver, Logger: logger},
			steps:       orDefault(cfg.DeliverSteps, steps.DefaultDeliverPipeline),
			errorSteps:  orDefault(cfg.DeliverErrorSteps, steps.DefaultDeliverErrorPipeline),
		},
		{
			name:        NameSend,
			settings:    cfg.Send,
			claim:       claimOutMessages(store, datastore.OperationToBeSent),
			transformer: &OutMessageTransformer{Mode: pipeline.ModeSend, Logger: logger},
			steps:       orDefault(cfg.SendSteps, steps.DefaultSendPipeline),
			errorSteps:  orDefault(cfg.SendErrorSteps, steps.DefaultSendErrorPipeline),
		},
		{
			name:        NameNotifyIn,
			settings:    cfg.Notify,
			claim:       claimInMessages(store, datastore.OperationToBeNotified),
			transformer: &InMessageTransformer{Mode: pipeline.ModeNotify, Logger: logger},
			steps:       orDefault(cfg.NotifySteps, steps.DefaultNotifyPipeline),
			errorSteps:  orDefault(cfg.NotifyErrorSteps, steps.DefaultNotifyErrorPipeline),
		},
		{
			name:        NameNotifyOut,
			settings:    cfg.Notify,
			claim:       claimOutMessages(store, datastore.OperationToBeNotified),
			transformer: &OutMessageTransformer{Mode: pipeline.ModeNotify, Logger: logger},
			steps:       orDefault(cfg.NotifySteps, steps.DefaultNotifyPipeline),
			errorSteps:  orDefault(cfg.NotifyErrorSteps, steps.DefaultNotifyErrorPipeline),
		},
		{
			name:        NameReceptionAwareness,
			settings:    cfg.ReceptionAwareness,
			claim:       claimDueReceptionAwareness(store),
			transformer: &ReceptionAwarenessTransformer{},
			steps:       steps.DefaultReceptionAwarenessPipeline,
		},
		{
			name:        NameRetry,
			settings:    cfg.Retry,
			claim:       claimDueRetryReliability(store),
			transformer: &RetryReliabilityTransformer{},
			steps:       steps.DefaultRetryPipeline,
		},
	}

	fleet := make([]*agent.Agent, 0, len(specs))
	for _, s := range specs {
		normal, err := buildPipeline(registry, s.name, s.steps, logger)
		if err != nil {
			return nil, err
		}
		var errPipeline *pipeline.Pipeline
		if len(s.errorSteps) > 0 {
			errPipeline, err = buildPipeline(registry, s.name+"-error", s.errorSteps, logger)
			if err != nil {
				return nil, err
			}
		}

		a, err := agent.New(agent.Config{
			Name:             s.name,
			Receiver:         agent.NewPollingReceiver(s.settings.PollInterval, s.settings.BatchSize, s.claim, logger),
			Transformer:      s.transformer,
			NormalPipeline:   normal,
			ErrorPipeline:    errPipeline,
			ExceptionHandler: handler,
			Logger:           logger,
		})
		if err != nil {
			return nil, fmt.Errorf("building agent %s: %w", s.name, err)
		}
		fleet = append(fleet, a)
	}
	return fleet, nil
}

func buildPipeline(registry *pipeline.Registry, name string, names []string, logger *slog.Logger) (*pipeline.Pipeline, error) {
	built, err := registry.Build(names)
	if err != nil {
		return nil, fmt.Errorf("building pipeline %s: %w", name, err)
	}
	return pipeline.New(name, logger, built...), nil
}

func orDefault(configured, fallback []string) []string {
	if len(configured) > 0 {
		return configured
	}
	return fallback
}

func claimInMessages(store datastore.InMessageRepository, op datastore.Operation) agent.ClaimFunc {
	return func(ctx context.Context, limit int) ([]*agent.ReceivedMessage, error) {
		claimed, err := store.ClaimInMessages(ctx, op, limit)
		if err != nil {
			return nil, err
		}
		return wrapEntities(claimed), nil
	}
}

func claimOutMessages(store datastore.OutMessageRepository, op datastore.Operation) agent.ClaimFunc {
	return func(ctx context.Context, limit int) ([]*agent.ReceivedMessage, error) {
		claimed, err := store.ClaimOutMessages(ctx, op, limit)
		if err != nil {
			return nil, err
		}
		return wrapEntities(claimed), nil
	}
}

func claimDueReceptionAwareness(store datastore.ReceptionAwarenessRepository) agent.ClaimFunc {
	return func(ctx context.Context, limit int) ([]*agent.ReceivedMessage, error) {
		claimed, err := store.ClaimDueReceptionAwareness(ctx, time.Now().UTC(), limit)
		if err != nil {
			return nil, err
		}
		return wrapEntities(claimed), nil
	}
}

func claimDueRetryReliability(store datastore.RetryReliabilityRepository) agent.ClaimFunc {
	return func(ctx context.Context, limit int) ([]*agent.ReceivedMessage, error) {
		claimed, err := store.ClaimDueRetryReliability(ctx, time.Now().UTC(), limit)
		if err != nil {
			return nil, err
		}
		return wrapEntities(claimed), nil
	}
}

func wrapEntities[T any](entities []T) []*agent.ReceivedMessage {
	msgs := make([]*agent.ReceivedMessage, len(entities))
	for i, e := range entities {
		msgs[i] = &agent.ReceivedMessage{Entity: e}
	}
	return msgs
}
