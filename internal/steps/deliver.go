package steps

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sirosfoundation/as4-gateway/internal/builders"
	"github.com/sirosfoundation/as4-gateway/internal/datastore"
	"github.com/sirosfoundation/as4-gateway/internal/services"
	"github.com/sirosfoundation/as4-gateway/pkg/ebms"
	"github.com/sirosfoundation/as4-gateway/pkg/pipeline"
)

// DeliverMessageStep hands the received payload to the business consumer.
type DeliverMessageStep struct {
	Sender DeliverSender
}

func (s *DeliverMessageStep) Execute(ctx context.Context, msg *pipeline.MessagingContext) pipeline.StepResult {
	m := msg.InMessage
	if m == nil {
		return pipeline.Failed(fmt.Errorf("deliver: no received message in context"), msg)
	}
	if err := s.Sender.Deliver(ctx, m); err != nil {
		msg.WithError(ebms.ErrorDeliveryFailure, err.Error())
		return pipeline.Failed(fmt.Errorf("delivering message %s: %w", m.EbmsMessageID, err), msg)
	}
	return pipeline.Success(msg)
}

// MarkMessageDeliveredStep closes the delivery: status Delivered, no
// follow-up operation.
type MarkMessageDeliveredStep struct {
	Store datastore.InMessageRepository
}

func (s *MarkMessageDeliveredStep) Execute(ctx context.Context, msg *pipeline.MessagingContext) pipeline.StepResult {
	m := msg.InMessage
	if m == nil {
		return pipeline.Failed(fmt.Errorf("mark delivered: no received message in context"), msg)
	}
	err := s.Store.UpdateInMessage(ctx, m.EbmsMessageID, func(in *datastore.InMessage) {
		in.Status = datastore.InStatusDelivered
		in.Operation = datastore.OperationNotApplicable
	})
	if err != nil {
		return pipeline.Failed(err, msg)
	}
	m.Status = datastore.InStatusDelivered
	m.Operation = datastore.OperationNotApplicable
	return pipeline.Success(msg)
}

// ScheduleDeliveryRetryStep is the first step of the delivery error
// pipeline. When the receiving PMode carries an enabled retry policy the
// message is parked and retry bookkeeping opened; the retry scheduler will
// requeue it once the interval elapses. Without a policy the step lets the
// pipeline proceed to exception recording.
type ScheduleDeliveryRetryStep struct {
	Store   datastore.InMessageRepository
	Retries *services.RetryService
	Logger  *slog.Logger
}

func (s *ScheduleDeliveryRetryStep) Execute(ctx context.Context, msg *pipeline.MessagingContext) pipeline.StepResult {
	m := msg.InMessage
	if m == nil {
		return pipeline.Failed(fmt.Errorf("schedule delivery retry: no received message in context"), msg)
	}

	pm := receivingPModeOf(msg, s.Logger)
	if pm == nil || !pm.MessageHandling.Deliver.Retry.Enabled {
		return pipeline.Success(msg)
	}

	if err := s.Retries.RegisterRetry(ctx, m.EbmsMessageID, datastore.RetryTypeDelivery, pm.MessageHandling.Deliver.Retry); err != nil {
		return pipeline.Failed(err, msg)
	}
	// Parked: no agent claims Undetermined, the retry scheduler owns the
	// message until its deadline passes.
	err := s.Store.UpdateInMessage(ctx, m.EbmsMessageID, func(in *datastore.InMessage) {
		in.Operation = datastore.OperationUndetermined
	})
	if err != nil {
		return pipeline.Failed(err, msg)
	}
	m.Operation = datastore.OperationUndetermined
	return pipeline.StopExecution(msg)
}

// CreateInExceptionStep records a receive-side failure: the message flips
// to Exception and an InException row preserves the failure for
// notification and audit.
type CreateInExceptionStep struct {
	Store  services.RetryStore
	Logger *slog.Logger
}

func (s *CreateInExceptionStep) Execute(ctx context.Context, msg *pipeline.MessagingContext) pipeline.StepResult {
	m := msg.InMessage
	if m == nil {
		return pipeline.Failed(fmt.Errorf("create in exception: no received message in context"), msg)
	}

	exception, err := builders.BuildInException(m.EbmsMessageID, errorOf(msg), receivingPModeOf(msg, s.Logger))
	if err != nil {
		return pipeline.Failed(err, msg)
	}
	if err := s.Store.InsertInException(ctx, exception); err != nil {
		return pipeline.Failed(err, msg)
	}

	// The exception row carries the PMode's notification routing; the
	// message follows it so the notify agent can pick the failure up.
	err = s.Store.UpdateInMessage(ctx, m.EbmsMessageID, func(in *datastore.InMessage) {
		in.Status = datastore.InStatusException
		in.Operation = exception.Operation
	})
	if err != nil {
		return pipeline.Failed(err, msg)
	}
	m.Status = datastore.InStatusException
	m.Operation = exception.Operation
	return pipeline.Success(msg)
}

// errorOf extracts the failure the error pipeline is handling.
func errorOf(msg *pipeline.MessagingContext) error {
	if msg.ErrorResult != nil {
		return fmt.Errorf("%s: %s", msg.ErrorResult.Error.ShortDescription, msg.ErrorResult.Description)
	}
	return fmt.Errorf("%s", ebms.ErrorOther.ShortDescription)
}
