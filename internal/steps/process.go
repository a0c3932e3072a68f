package steps

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sirosfoundation/as4-gateway/internal/datastore"
	"github.com/sirosfoundation/as4-gateway/internal/services"
	"github.com/sirosfoundation/as4-gateway/pkg/pipeline"
	"github.com/sirosfoundation/as4-gateway/pkg/pmode"
)

// UpdateReceptionAwarenessStep applies a received Receipt or Error signal
// to the sent message it references: the referenced OutMessage becomes Ack
// or Nack and its reception awareness entry completes. Non-signal units
// pass through untouched.
type UpdateReceptionAwarenessStep struct {
	Signals *services.SignalService
	Store   datastore.InMessageRepository
}

func (s *UpdateReceptionAwarenessStep) Execute(ctx context.Context, msg *pipeline.MessagingContext) pipeline.StepResult {
	m := msg.InMessage
	if m == nil || !m.MessageType.IsSignal() {
		return pipeline.Success(msg)
	}

	if err := s.Signals.ProcessSignal(ctx, m.MessageType, m.EbmsRefToMessageID); err != nil {
		return pipeline.Failed(fmt.Errorf("processing %s signal: %w", m.MessageType, err), msg)
	}

	err := s.Store.UpdateInMessage(ctx, m.EbmsMessageID, func(in *datastore.InMessage) {
		in.Operation = datastore.OperationNotApplicable
		in.Status = datastore.InStatusDelivered
	})
	if err != nil {
		return pipeline.Failed(err, msg)
	}
	// A signal's lifecycle ends here; the rest of the pipeline is for
	// UserMessages.
	return pipeline.StopExecution(msg)
}

// DetermineDeliveryStep decides what happens to a processed UserMessage:
// queue it for consumer delivery when the receiving PMode enables deliver,
// otherwise close its operation.
type DetermineDeliveryStep struct {
	Store  datastore.InMessageRepository
	Logger *slog.Logger
}

func (s *DetermineDeliveryStep) Execute(ctx context.Context, msg *pipeline.MessagingContext) pipeline.StepResult {
	m := msg.InMessage
	if m == nil {
		return pipeline.Failed(fmt.Errorf("determine delivery: no received message in context"), msg)
	}

	next := datastore.OperationNotApplicable
	if pm := receivingPModeOf(msg, s.Logger); pm != nil && pm.MessageHandling.Deliver.Enabled {
		next = datastore.OperationToBeDelivered
	}

	err := s.Store.UpdateInMessage(ctx, m.EbmsMessageID, func(in *datastore.InMessage) {
		in.Operation = next
	})
	if err != nil {
		return pipeline.Failed(err, msg)
	}
	m.Operation = next
	return pipeline.Success(msg)
}

// receivingPModeOf resolves the receiving PMode for the context, preferring
// the one the agent resolved and falling back to the snapshot persisted on
// the message.
func receivingPModeOf(msg *pipeline.MessagingContext, logger *slog.Logger) *pmode.ReceivingProcessingMode {
	if msg.ReceivingPMode != nil {
		return msg.ReceivingPMode
	}
	if msg.InMessage == nil || msg.InMessage.PMode == "" {
		return nil
	}
	pm, err := pmode.DeserializeReceiving(msg.InMessage.PMode)
	if err != nil {
		if logger != nil {
			logger.Warn("unreadable pmode snapshot",
				"ebms_message_id", msg.InMessage.EbmsMessageID, "error", err)
		}
		return nil
	}
	msg.ReceivingPMode = pm
	return pm
}

// sendingPModeOf resolves the sending PMode for the context, preferring the
// one the agent resolved and falling back to the snapshot persisted on the
// message.
func sendingPModeOf(msg *pipeline.MessagingContext, logger *slog.Logger) *pmode.SendingProcessingMode {
	if msg.SendingPMode != nil {
		return msg.SendingPMode
	}
	if msg.OutMessage == nil || msg.OutMessage.PMode == "" {
		return nil
	}
	pm, err := pmode.DeserializeSending(msg.OutMessage.PMode)
	if err != nil {
		if logger != nil {
			logger.Warn("unreadable pmode snapshot",
				"ebms_message_id", msg.OutMessage.EbmsMessageID, "error", err)
		}
		return nil
	}
	msg.SendingPMode = pm
	return pm
}
