package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sirosfoundation/as4-gateway/internal/builders"
	"github.com/sirosfoundation/as4-gateway/internal/datastore"
	"github.com/sirosfoundation/as4-gateway/pkg/ebms"
	"github.com/sirosfoundation/as4-gateway/pkg/pmode"
)

// ReliabilityStore is the datastore surface the reception awareness
// machinery needs.
type ReliabilityStore interface {
	datastore.OutMessageRepository
	datastore.ReceptionAwarenessRepository
	datastore.ExceptionRepository
}

// ReceptionAwarenessService drives the per-sent-message retry state
// machine. The resend decision itself is the pure function
// [MessageNeedsToBeResend]; the service methods apply the resulting state
// transitions through the store's update-with-action interface.
type ReceptionAwarenessService struct {
	store  ReliabilityStore
	logger *slog.Logger
}

// NewReceptionAwarenessService creates the service. A nil logger defaults
// to slog.Default().
func NewReceptionAwarenessService(store ReliabilityStore, logger *slog.Logger) *ReceptionAwarenessService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReceptionAwarenessService{store: store, logger: logger}
}

// MessageNeedsToBeResend decides whether the referenced message is due for
// another send attempt. Evaluated in order: a completed entry never
// resends; an entry past its total retry count never resends; an entry
// whose next deadline lies beyond now is not yet due. The function is pure
// so it can be tested against constructed entries.
func MessageNeedsToBeResend(entry *datastore.ReceptionAwareness, now time.Time) bool {
	if entry.Status == datastore.RetryStatusCompleted {
		return false
	}
	if entry.CurrentRetryCount > entry.TotalRetryCount {
		return false
	}
	deadline := entry.LastSendTime.Add(entry.RetryInterval)
	return !deadline.After(now)
}

// RetriesExhausted reports whether the entry has used up its retry budget:
// true only once the retry at CurrentRetryCount == TotalRetryCount has
// already run.
func RetriesExhausted(entry *datastore.ReceptionAwareness) bool {
	return entry.CurrentRetryCount > entry.TotalRetryCount
}

// IsMessageAlreadyAnswered projects the status of the referenced
// OutMessage and reports whether a business reply arrived: true exactly
// for Ack and Nack. A missing OutMessage row is tolerated as "not yet
// answered" since creation may race the first scheduler pass.
func (s *ReceptionAwarenessService) IsMessageAlreadyAnswered(ctx context.Context, entry *datastore.ReceptionAwareness) (bool, error) {
	status, err := s.store.GetOutMessageStatus(ctx, entry.InternalMessageID)
	if errors.Is(err, datastore.ErrNotFound) {
		s.logger.Warn("referenced out message not found, treating as unanswered",
			"internal_message_id", entry.InternalMessageID)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status == datastore.OutStatusAck || status == datastore.OutStatusNack, nil
}

// MarkReferencedMessageAsComplete closes the retry state of an answered or
// exhausted entry.
func (s *ReceptionAwarenessService) MarkReferencedMessageAsComplete(ctx context.Context, entry *datastore.ReceptionAwareness) error {
	return s.store.UpdateReceptionAwareness(ctx, entry.InternalMessageID, func(r *datastore.ReceptionAwareness) {
		r.Status = datastore.RetryStatusCompleted
	})
}

// MarkReferencedMessageForResend queues the referenced OutMessage for
// another send attempt and reopens the retry entry. The two updates are
// deliberately independent: a crash in between leaves a state that the
// next scheduler pass repairs, giving at-least-once resend semantics.
func (s *ReceptionAwarenessService) MarkReferencedMessageForResend(ctx context.Context, entry *datastore.ReceptionAwareness) error {
	err := s.store.UpdateOutMessage(ctx, entry.InternalMessageID, func(m *datastore.OutMessage) {
		m.Operation = datastore.OperationToBeSent
	})
	if err != nil {
		return fmt.Errorf("queueing out message %d for resend: %w", entry.InternalMessageID, err)
	}

	now := time.Now().UTC()
	return s.store.UpdateReceptionAwareness(ctx, entry.InternalMessageID, func(r *datastore.ReceptionAwareness) {
		r.Status = datastore.RetryStatusPending
		r.CurrentRetryCount++
		r.LastSendTime = now
	})
}

// ResetReferencedMessage forces the retry entry back to Pending. This is
// the administrative reset path.
func (s *ReceptionAwarenessService) ResetReferencedMessage(ctx context.Context, entry *datastore.ReceptionAwareness) error {
	return s.store.UpdateReceptionAwareness(ctx, entry.InternalMessageID, func(r *datastore.ReceptionAwareness) {
		r.Status = datastore.RetryStatusPending
	})
}

// CompleteWithFailure closes an exhausted entry and dead-letters the
// referenced OutMessage: its status flips to Exception and an OutException
// row preserves the missing-receipt failure for notification and audit.
func (s *ReceptionAwarenessService) CompleteWithFailure(ctx context.Context, entry *datastore.ReceptionAwareness) error {
	if err := s.MarkReferencedMessageAsComplete(ctx, entry); err != nil {
		return err
	}

	m, err := s.store.GetOutMessage(ctx, entry.InternalMessageID)
	if errors.Is(err, datastore.ErrNotFound) {
		s.logger.Warn("referenced out message not found, skipping dead-letter",
			"internal_message_id", entry.InternalMessageID)
		return nil
	}
	if err != nil {
		return err
	}

	var sendingPMode *pmode.SendingProcessingMode
	if m.PMode != "" {
		sendingPMode, err = pmode.DeserializeSending(m.PMode)
		if err != nil {
			s.logger.Warn("unreadable pmode snapshot on dead-lettered message",
				"ebms_message_id", m.EbmsMessageID, "error", err)
		}
	}

	failure := fmt.Errorf("%s: no receipt after %d retries",
		ebms.ErrorMissingReceipt.ShortDescription, entry.TotalRetryCount)
	exception, err := builders.BuildOutException(m.EbmsMessageID, failure, sendingPMode)
	if err != nil {
		return err
	}
	if err := s.store.InsertOutException(ctx, exception); err != nil {
		return err
	}

	return s.store.UpdateOutMessage(ctx, entry.InternalMessageID, func(out *datastore.OutMessage) {
		out.Status = datastore.OutStatusException
		out.Operation = exception.Operation
	})
}
