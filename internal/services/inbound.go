package services

import (
	"context"
	"log/slog"

	"github.com/sirosfoundation/as4-gateway/internal/builders"
	"github.com/sirosfoundation/as4-gateway/internal/datastore"
	"github.com/sirosfoundation/as4-gateway/pkg/ebms"
	"github.com/sirosfoundation/as4-gateway/pkg/pmode"
)

// InboundMessageService persists the message units of a received protocol
// message. Every unit is stored, duplicates included: a duplicate gets
// IsDuplicate=true and no follow-up operation, so it is visible for audit
// but excluded from processing.
type InboundMessageService struct {
	store      datastore.InMessageRepository
	duplicates *DuplicateDetector
	logger     *slog.Logger
}

// NewInboundMessageService creates the service. A nil logger defaults to
// slog.Default().
func NewInboundMessageService(store datastore.InMessageRepository, logger *slog.Logger) *InboundMessageService {
	if logger == nil {
		logger = slog.Default()
	}
	return &InboundMessageService{
		store:      store,
		duplicates: NewDuplicateDetector(store),
		logger:     logger,
	}
}

// StoreReceivedMessage persists every unit of the protocol message under
// the given receiving PMode and returns the stored records in unit order.
func (s *InboundMessageService) StoreReceivedMessage(ctx context.Context, msg *ebms.Message, pm *pmode.ReceivingProcessingMode) ([]*datastore.InMessage, error) {
	if msg == nil || !msg.HasUnits() {
		return nil, builders.ErrEmptyMessage
	}

	userIDs, signalRefIDs := collectUnitIDs(msg)
	userVerdicts, err := s.duplicates.DetermineDuplicateUserMessageIDs(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	signalVerdicts, err := s.duplicates.DetermineDuplicateSignalMessageIDs(ctx, signalRefIDs)
	if err != nil {
		return nil, err
	}

	stored := make([]*datastore.InMessage, 0, len(msg.MessageUnits()))
	for _, unit := range msg.MessageUnits() {
		record, err := builders.BuildInMessage(unit, msg, pm)
		if err != nil {
			return nil, err
		}

		if isDuplicateUnit(unit, userVerdicts, signalVerdicts) {
			record.IsDuplicate = true
			record.Operation = datastore.OperationNotApplicable
			s.logger.Info("received duplicate message unit",
				"ebms_message_id", record.EbmsMessageID,
				"message_type", record.MessageType)
		}

		if err := s.store.InsertInMessage(ctx, record); err != nil {
			return nil, err
		}
		stored = append(stored, record)
	}
	return stored, nil
}

// collectUnitIDs splits the units into the two duplicate search spaces:
// UserMessages are matched on their own id, signals on the id they
// reference.
func collectUnitIDs(msg *ebms.Message) (userIDs, signalRefIDs []string) {
	for _, unit := range msg.MessageUnits() {
		switch u := unit.(type) {
		case *ebms.UserMessage:
			userIDs = append(userIDs, u.GetMessageID())
		case *ebms.SignalMessage:
			if u.Kind == ebms.SignalPullRequest {
				continue
			}
			if ref := u.GetRefToMessageID(); ref != "" {
				signalRefIDs = append(signalRefIDs, ref)
			}
		}
	}
	return userIDs, signalRefIDs
}

func isDuplicateUnit(unit ebms.MessageUnit, userVerdicts, signalVerdicts map[string]bool) bool {
	switch u := unit.(type) {
	case *ebms.UserMessage:
		return userVerdicts[u.GetMessageID()]
	case *ebms.SignalMessage:
		if u.Kind == ebms.SignalPullRequest {
			return false
		}
		return signalVerdicts[u.GetRefToMessageID()]
	}
	return false
}
