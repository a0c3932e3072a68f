package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sirosfoundation/as4-gateway/internal/builders"
	"github.com/sirosfoundation/as4-gateway/internal/datastore"
	"github.com/sirosfoundation/as4-gateway/pkg/ebms"
	"github.com/sirosfoundation/as4-gateway/pkg/pmode"
)

// RetryStore is the datastore surface the generic retry machinery needs.
type RetryStore interface {
	datastore.InMessageRepository
	datastore.OutMessageRepository
	datastore.ExceptionRepository
	datastore.RetryReliabilityRepository
}

// RetryService drives the generic retry bookkeeping for failed delivery
// and notification attempts. A claimed due entry either requeues the
// referenced message for another attempt or, once the budget is spent,
// closes the entry and dead-letters the message.
type RetryService struct {
	store  RetryStore
	logger *slog.Logger
}

// NewRetryService creates the service. A nil logger defaults to
// slog.Default().
func NewRetryService(store RetryStore, logger *slog.Logger) *RetryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryService{store: store, logger: logger}
}

// RegisterRetry opens retry bookkeeping for a failed delivery or
// notification attempt. Registration is idempotent per message and retry
// type: a second failure while an open entry exists leaves that entry in
// charge.
func (s *RetryService) RegisterRetry(ctx context.Context, ebmsRefToMessageID string, retryType datastore.RetryType, policy pmode.RetryPolicy) error {
	exists, err := s.store.RetryReliabilityExists(ctx, ebmsRefToMessageID, retryType)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	now := time.Now().UTC()
	entry := &datastore.RetryReliability{
		EbmsRefToMessageID: ebmsRefToMessageID,
		Type:               retryType,
		Status:             datastore.RetryStatusPending,
		CurrentRetryCount:  0,
		MaxRetryCount:      policy.MaxRetryCount,
		RetryInterval:      policy.RetryInterval.Std(),
		LastRetryTime:      now,
		InsertionTime:      now,
	}
	entry.RefreshNextRetryTime()
	return s.store.InsertRetryReliability(ctx, entry)
}

// HandleDueEntry processes one claimed retry entry. Within budget the
// referenced message is queued for another attempt and the entry reopened
// with its deadline pushed out; past budget the entry completes and the
// message is dead-lettered.
func (s *RetryService) HandleDueEntry(ctx context.Context, entry *datastore.RetryReliability) error {
	if entry.CurrentRetryCount >= entry.MaxRetryCount {
		return s.exhaust(ctx, entry)
	}

	if err := s.requeueReferencedMessage(ctx, entry); err != nil {
		return err
	}

	now := time.Now().UTC()
	return s.store.UpdateRetryReliability(ctx, entry.ID, func(r *datastore.RetryReliability) {
		r.Status = datastore.RetryStatusPending
		r.CurrentRetryCount++
		r.LastRetryTime = now
	})
}

// requeueReferencedMessage puts the message the entry references back into
// the queue of the operation that failed. Delivery retries always target a
// received message; notification retries may target either side, so both
// tables are addressed and the miss on one of them is expected.
func (s *RetryService) requeueReferencedMessage(ctx context.Context, entry *datastore.RetryReliability) error {
	ids := []string{entry.EbmsRefToMessageID}
	switch entry.Type {
	case datastore.RetryTypeDelivery:
		return s.store.UpdateInMessages(ctx, ids, func(m *datastore.InMessage) {
			m.Operation = datastore.OperationToBeDelivered
		})
	case datastore.RetryTypeNotification:
		err := s.store.UpdateInMessages(ctx, ids, func(m *datastore.InMessage) {
			m.Operation = datastore.OperationToBeNotified
		})
		if err != nil {
			return err
		}
		return s.store.UpdateOutMessages(ctx, ids, func(m *datastore.OutMessage) {
			m.Operation = datastore.OperationToBeNotified
		})
	default:
		return fmt.Errorf("services: unknown retry type %q", entry.Type)
	}
}

// exhaust closes a spent entry and dead-letters the referenced message:
// its status flips to Exception and an exception row preserves the failure.
func (s *RetryService) exhaust(ctx context.Context, entry *datastore.RetryReliability) error {
	if err := s.store.UpdateRetryReliability(ctx, entry.ID, func(r *datastore.RetryReliability) {
		r.Status = datastore.RetryStatusCompleted
	}); err != nil {
		return err
	}

	s.logger.Warn("retry budget exhausted, dead-lettering message",
		"ebms_ref_to_message_id", entry.EbmsRefToMessageID,
		"retry_type", entry.Type,
		"max_retry_count", entry.MaxRetryCount)

	failure := fmt.Errorf("%s: %s failed after %d retries",
		ebms.ErrorDeliveryFailure.ShortDescription, entry.Type, entry.MaxRetryCount)
	ids := []string{entry.EbmsRefToMessageID}

	switch entry.Type {
	case datastore.RetryTypeDelivery:
		var snapshot string
		if err := s.store.UpdateInMessages(ctx, ids, func(m *datastore.InMessage) {
			snapshot = m.PMode
			m.Status = datastore.InStatusException
		}); err != nil {
			return err
		}

		exception, err := builders.BuildInException(entry.EbmsRefToMessageID, failure, s.receivingPModeFromSnapshot(snapshot, entry))
		if err != nil {
			return err
		}
		if err := s.store.InsertInException(ctx, exception); err != nil {
			return err
		}
		// The exception's operation carries the PMode's notification routing;
		// the message follows it so the notify agent can pick the failure up.
		return s.store.UpdateInMessages(ctx, ids, func(m *datastore.InMessage) {
			m.Operation = exception.Operation
		})

	case datastore.RetryTypeNotification:
		// The message itself already reached its business outcome; only the
		// notification is abandoned. Close the operation without touching the
		// status and keep the failure as an exception row.
		referenced, err := s.store.GetOutMessagesByEbmsIDs(ctx, ids)
		if err != nil {
			return err
		}
		var snapshot string
		if err := s.store.UpdateInMessages(ctx, ids, func(m *datastore.InMessage) {
			snapshot = m.PMode
			m.Operation = datastore.OperationNotApplicable
		}); err != nil {
			return err
		}
		if err := s.store.UpdateOutMessages(ctx, ids, func(m *datastore.OutMessage) {
			m.Operation = datastore.OperationNotApplicable
		}); err != nil {
			return err
		}

		if len(referenced) > 0 {
			exception, err := builders.BuildOutException(entry.EbmsRefToMessageID, failure, nil)
			if err != nil {
				return err
			}
			exception.Operation = datastore.OperationNotApplicable
			return s.store.InsertOutException(ctx, exception)
		}
		exception, err := builders.BuildInException(entry.EbmsRefToMessageID, failure, s.receivingPModeFromSnapshot(snapshot, entry))
		if err != nil {
			return err
		}
		exception.Operation = datastore.OperationNotApplicable
		return s.store.InsertInException(ctx, exception)

	default:
		return fmt.Errorf("services: unknown retry type %q", entry.Type)
	}
}

func (s *RetryService) receivingPModeFromSnapshot(snapshot string, entry *datastore.RetryReliability) *pmode.ReceivingProcessingMode {
	if snapshot == "" {
		return nil
	}
	pm, err := pmode.DeserializeReceiving(snapshot)
	if err != nil {
		s.logger.Warn("unreadable pmode snapshot on dead-lettered message",
			"ebms_ref_to_message_id", entry.EbmsRefToMessageID, "error", err)
		return nil
	}
	return pm
}
