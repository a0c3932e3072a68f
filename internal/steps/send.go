package steps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sirosfoundation/as4-gateway/internal/builders"
	"github.com/sirosfoundation/as4-gateway/internal/datastore"
	"github.com/sirosfoundation/as4-gateway/pkg/ebms"
	"github.com/sirosfoundation/as4-gateway/pkg/pipeline"
)

// SendStore is the datastore surface of the sending flow.
type SendStore interface {
	datastore.OutMessageRepository
	datastore.ReceptionAwarenessRepository
	datastore.ExceptionRepository
}

// SendMessageStep pushes the claimed outgoing message to the partner
// endpoint.
type SendMessageStep struct {
	Dispatcher MessageDispatcher
}

func (s *SendMessageStep) Execute(ctx context.Context, msg *pipeline.MessagingContext) pipeline.StepResult {
	m := msg.OutMessage
	if m == nil {
		return pipeline.Failed(fmt.Errorf("send: no outgoing message in context"), msg)
	}
	if err := s.Dispatcher.Dispatch(ctx, m); err != nil {
		msg.WithError(ebms.ErrorOther, err.Error())
		return pipeline.Failed(fmt.Errorf("dispatching message %s: %w", m.EbmsMessageID, err), msg)
	}
	return pipeline.Success(msg)
}

// SetReceptionAwarenessStep opens retry state for a sent UserMessage whose
// sending PMode enables reception awareness. On a resend the row already
// exists and the reception awareness scheduler maintains it, so the step
// only ever inserts the first one.
type SetReceptionAwarenessStep struct {
	Store  SendStore
	Logger *slog.Logger
}

func (s *SetReceptionAwarenessStep) Execute(ctx context.Context, msg *pipeline.MessagingContext) pipeline.StepResult {
	m := msg.OutMessage
	if m == nil {
		return pipeline.Failed(fmt.Errorf("set reception awareness: no outgoing message in context"), msg)
	}
	if m.MessageType != datastore.MessageTypeUserMessage {
		return pipeline.Success(msg)
	}

	pm := sendingPModeOf(msg, s.Logger)
	if pm == nil || !pm.Reliability.ReceptionAwareness.Enabled {
		return pipeline.Success(msg)
	}

	if _, err := s.Store.GetReceptionAwareness(ctx, m.ID); err == nil {
		return pipeline.Success(msg)
	} else if !errors.Is(err, datastore.ErrNotFound) {
		return pipeline.Failed(err, msg)
	}

	entry, err := builders.BuildReceptionAwareness(m.ID, pm, time.Now().UTC())
	if err != nil {
		return pipeline.Failed(err, msg)
	}
	if err := s.Store.InsertReceptionAwareness(ctx, entry); err != nil {
		return pipeline.Failed(err, msg)
	}
	msg.ReceptionAwareness = entry
	return pipeline.Success(msg)
}

// MarkMessageSentStep closes the send attempt: status Sent, and the
// operation parks until either a reply signal or the reception awareness
// scheduler decides what happens next. Messages sent without reception
// awareness are fire-and-forget and finish here.
type MarkMessageSentStep struct {
	Store  SendStore
	Logger *slog.Logger
}

func (s *MarkMessageSentStep) Execute(ctx context.Context, msg *pipeline.MessagingContext) pipeline.StepResult {
	m := msg.OutMessage
	if m == nil {
		return pipeline.Failed(fmt.Errorf("mark sent: no outgoing message in context"), msg)
	}

	next := datastore.OperationNotApplicable
	if pm := sendingPModeOf(msg, s.Logger); pm != nil && pm.Reliability.ReceptionAwareness.Enabled {
		next = datastore.OperationUndetermined
	}

	err := s.Store.UpdateOutMessage(ctx, m.ID, func(out *datastore.OutMessage) {
		out.Status = datastore.OutStatusSent
		out.Operation = next
	})
	if err != nil {
		return pipeline.Failed(err, msg)
	}
	m.Status = datastore.OutStatusSent
	m.Operation = next
	return pipeline.Success(msg)
}

// ParkForResendStep is the first step of the sending error pipeline. A
// failed send of a reception-aware message is not fatal: the step makes
// sure retry state exists, parks the message and leaves the resend to the
// scheduler. Messages without reception awareness proceed to exception
// recording.
type ParkForResendStep struct {
	Store  SendStore
	Logger *slog.Logger
}

func (s *ParkForResendStep) Execute(ctx context.Context, msg *pipeline.MessagingContext) pipeline.StepResult {
	m := msg.OutMessage
	if m == nil {
		return pipeline.Failed(fmt.Errorf("park for resend: no outgoing message in context"), msg)
	}

	pm := sendingPModeOf(msg, s.Logger)
	if m.MessageType != datastore.MessageTypeUserMessage ||
		pm == nil || !pm.Reliability.ReceptionAwareness.Enabled {
		return pipeline.Success(msg)
	}

	if _, err := s.Store.GetReceptionAwareness(ctx, m.ID); errors.Is(err, datastore.ErrNotFound) {
		entry, err := builders.BuildReceptionAwareness(m.ID, pm, time.Now().UTC())
		if err != nil {
			return pipeline.Failed(err, msg)
		}
		if err := s.Store.InsertReceptionAwareness(ctx, entry); err != nil {
			return pipeline.Failed(err, msg)
		}
	} else if err != nil {
		return pipeline.Failed(err, msg)
	}

	err := s.Store.UpdateOutMessage(ctx, m.ID, func(out *datastore.OutMessage) {
		out.Operation = datastore.OperationUndetermined
	})
	if err != nil {
		return pipeline.Failed(err, msg)
	}
	m.Operation = datastore.OperationUndetermined
	return pipeline.StopExecution(msg)
}

// CreateOutExceptionStep records a send-side failure: the message flips to
// Exception and an OutException row preserves the failure for notification
// and audit.
type CreateOutExceptionStep struct {
	Store  SendStore
	Logger *slog.Logger
}

func (s *CreateOutExceptionStep) Execute(ctx context.Context, msg *pipeline.MessagingContext) pipeline.StepResult {
	m := msg.OutMessage
	if m == nil {
		return pipeline.Failed(fmt.Errorf("create out exception: no outgoing message in context"), msg)
	}

	exception, err := builders.BuildOutException(m.EbmsMessageID, errorOf(msg), sendingPModeOf(msg, s.Logger))
	if err != nil {
		return pipeline.Failed(err, msg)
	}
	if err := s.Store.InsertOutException(ctx, exception); err != nil {
		return pipeline.Failed(err, msg)
	}

	err = s.Store.UpdateOutMessage(ctx, m.ID, func(out *datastore.OutMessage) {
		out.Status = datastore.OutStatusException
		out.Operation = exception.Operation
	})
	if err != nil {
		return pipeline.Failed(err, msg)
	}
	m.Status = datastore.OutStatusException
	m.Operation = exception.Operation
	return pipeline.Success(msg)
}
