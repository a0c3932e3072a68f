package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sirosfoundation/as4-gateway/internal/datastore"
	"github.com/sirosfoundation/as4-gateway/pkg/pmode"
)

// SignalService applies received Receipt and Error signals to the sent
// messages they reference: the OutMessage status becomes Ack or Nack and
// the matching reception awareness entry is completed.
type SignalService struct {
	store  ReliabilityStore
	logger *slog.Logger
}

// NewSignalService creates the service. A nil logger defaults to
// slog.Default().
func NewSignalService(store ReliabilityStore, logger *slog.Logger) *SignalService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignalService{store: store, logger: logger}
}

// ProcessSignal records the outcome a signal reports about the referenced
// message. Receipts acknowledge (Ack), Errors reject (Nack). A signal
// referencing an unknown message is logged and skipped; the reply may
// belong to a partner conversation this node never sent.
func (s *SignalService) ProcessSignal(ctx context.Context, signalType datastore.MessageType, refToMessageID string) error {
	var status datastore.OutStatus
	switch signalType {
	case datastore.MessageTypeReceipt:
		status = datastore.OutStatusAck
	case datastore.MessageTypeError:
		status = datastore.OutStatusNack
	default:
		return nil
	}
	if refToMessageID == "" {
		s.logger.Warn("signal without reference, skipping", "signal_type", signalType)
		return nil
	}

	referenced, err := s.store.GetOutMessagesByEbmsIDs(ctx, []string{refToMessageID})
	if err != nil {
		return err
	}
	if len(referenced) == 0 {
		s.logger.Warn("signal references unknown message, skipping",
			"ref_to_message_id", refToMessageID, "signal_type", signalType)
		return nil
	}

	for _, m := range referenced {
		notify := notifyOnAnswer(m)
		err := s.store.UpdateOutMessage(ctx, m.ID, func(out *datastore.OutMessage) {
			out.Status = status
			if notify {
				out.Operation = datastore.OperationToBeNotified
			}
		})
		if err != nil {
			return err
		}

		err = s.store.UpdateReceptionAwareness(ctx, m.ID, func(r *datastore.ReceptionAwareness) {
			r.Status = datastore.RetryStatusCompleted
		})
		if err != nil && !errors.Is(err, datastore.ErrNotFound) {
			return err
		}
	}
	return nil
}

// notifyOnAnswer reports whether the sending PMode asks for the business
// consumer to be notified once the message is answered.
func notifyOnAnswer(m *datastore.OutMessage) bool {
	if m.PMode == "" {
		return false
	}
	pm, err := pmode.DeserializeSending(m.PMode)
	if err != nil {
		return false
	}
	return pm.ErrorHandling.NotifyConsumer
}
