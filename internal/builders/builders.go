// Package builders constructs persisted entity records from protocol
// messages and the processing mode in effect. Builders are pure: they
// derive the message type, exchange pattern and initial operation by rule
// and snapshot the PMode, but never touch the datastore.
//
// A nil message unit or a protocol message without units is a contract
// violation upstream; builders fail loudly and callers must not continue
// past the error.
package builders

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirosfoundation/as4-gateway/internal/datastore"
	"github.com/sirosfoundation/as4-gateway/pkg/ebms"
	"github.com/sirosfoundation/as4-gateway/pkg/pmode"
)

var (
	// ErrNoMessageUnit is returned when the source message unit is nil.
	ErrNoMessageUnit = errors.New("builders: message unit is required")
	// ErrEmptyMessage is returned when the protocol message carries no
	// message unit data.
	ErrEmptyMessage = errors.New("builders: protocol message carries no message units")
)

// BuildInMessage constructs the persisted record of a received message
// unit.
func BuildInMessage(unit ebms.MessageUnit, msg *ebms.Message, pm *pmode.ReceivingProcessingMode) (*datastore.InMessage, error) {
	if unit == nil {
		return nil, ErrNoMessageUnit
	}
	if msg == nil || !msg.HasUnits() {
		return nil, ErrEmptyMessage
	}

	messageType, mpc := classify(unit)
	record := &datastore.InMessage{
		EbmsMessageID:      unit.GetMessageID(),
		EbmsRefToMessageID: unit.GetRefToMessageID(),
		MessageType:        messageType,
		ContentType:        msg.ContentType,
		MPC:                mpc,
		SoapEnvelope:       msg.SoapEnvelope,
		Operation:          initialInOperation(messageType),
		Status:             datastore.InStatusReceived,
		InsertionTime:      time.Now().UTC(),
	}

	if pm != nil {
		snapshot, err := pmode.Serialize(pm)
		if err != nil {
			return nil, err
		}
		record.PModeID = pm.ID
		record.PMode = snapshot
	}
	return record, nil
}

// BuildOutMessage constructs the persisted record of a message unit this
// node will send.
func BuildOutMessage(unit ebms.MessageUnit, msg *ebms.Message, pm *pmode.SendingProcessingMode) (*datastore.OutMessage, error) {
	if unit == nil {
		return nil, ErrNoMessageUnit
	}
	if msg == nil || !msg.HasUnits() {
		return nil, ErrEmptyMessage
	}
	if pm == nil {
		return nil, errors.New("builders: sending pmode is required")
	}

	snapshot, err := pmode.Serialize(pm)
	if err != nil {
		return nil, err
	}

	messageType, mpc := classify(unit)
	if mpc == "" {
		mpc = pm.MPC
	}
	record := &datastore.OutMessage{
		EbmsMessageID:      unit.GetMessageID(),
		EbmsRefToMessageID: unit.GetRefToMessageID(),
		MessageType:        messageType,
		ContentType:        msg.ContentType,
		MPC:                mpc,
		MEP:                mepOf(pm),
		URL:                pm.PushConfiguration.URL,
		SoapEnvelope:       msg.SoapEnvelope,
		PModeID:            pm.ID,
		PMode:              snapshot,
		Operation:          initialOutOperation(messageType, pm),
		Status:             datastore.OutStatusCreated,
		InsertionTime:      time.Now().UTC(),
	}
	return record, nil
}

// BuildInException records a receive-side processing failure.
func BuildInException(refToMessageID string, failure error, pm *pmode.ReceivingProcessingMode) (*datastore.InException, error) {
	if failure == nil {
		return nil, errors.New("builders: failure is required")
	}

	record := &datastore.InException{
		EbmsRefToMessageID: refToMessageID,
		Exception:          failure.Error(),
		Operation:          datastore.OperationNotApplicable,
		InsertionTime:      time.Now().UTC(),
	}
	if pm != nil {
		snapshot, err := pmode.Serialize(pm)
		if err != nil {
			return nil, err
		}
		record.PModeID = pm.ID
		record.PMode = snapshot
		if pm.ExceptionHandling.NotifyConsumer {
			record.Operation = datastore.OperationToBeNotified
		}
	}
	return record, nil
}

// BuildOutException records a send-side processing failure.
func BuildOutException(refToMessageID string, failure error, pm *pmode.SendingProcessingMode) (*datastore.OutException, error) {
	if failure == nil {
		return nil, errors.New("builders: failure is required")
	}

	record := &datastore.OutException{
		EbmsRefToMessageID: refToMessageID,
		Exception:          failure.Error(),
		Operation:          datastore.OperationNotApplicable,
		InsertionTime:      time.Now().UTC(),
	}
	if pm != nil {
		snapshot, err := pmode.Serialize(pm)
		if err != nil {
			return nil, err
		}
		record.PModeID = pm.ID
		record.PMode = snapshot
		if pm.ErrorHandling.NotifyConsumer {
			record.Operation = datastore.OperationToBeNotified
		}
	}
	return record, nil
}

// BuildReceptionAwareness constructs the retry state row anchored to a sent
// UserMessage.
func BuildReceptionAwareness(internalMessageID int64, pm *pmode.SendingProcessingMode, lastSendTime time.Time) (*datastore.ReceptionAwareness, error) {
	if pm == nil {
		return nil, errors.New("builders: sending pmode is required")
	}
	ra := pm.Reliability.ReceptionAwareness
	if !ra.Enabled {
		return nil, fmt.Errorf("builders: reception awareness disabled in pmode %q", pm.ID)
	}

	record := &datastore.ReceptionAwareness{
		InternalMessageID: internalMessageID,
		Status:            datastore.RetryStatusPending,
		CurrentRetryCount: 0,
		TotalRetryCount:   ra.RetryCount,
		RetryInterval:     ra.RetryInterval.Std(),
		LastSendTime:      lastSendTime,
		InsertionTime:     time.Now().UTC(),
	}
	record.RefreshNextRetryTime()
	return record, nil
}

func classify(unit ebms.MessageUnit) (datastore.MessageType, string) {
	switch u := unit.(type) {
	case *ebms.UserMessage:
		return datastore.MessageTypeUserMessage, u.MPC
	case *ebms.SignalMessage:
		switch u.Kind {
		case ebms.SignalReceipt:
			return datastore.MessageTypeReceipt, ""
		case ebms.SignalError:
			return datastore.MessageTypeError, ""
		case ebms.SignalPullRequest:
			return datastore.MessageTypePullRequest, u.MPC
		}
	}
	return datastore.MessageTypeUserMessage, ""
}

func initialInOperation(messageType datastore.MessageType) datastore.Operation {
	// PullRequests are answered synchronously by the transport front-end;
	// everything else waits for the processing agent.
	if messageType == datastore.MessageTypePullRequest {
		return datastore.OperationNotApplicable
	}
	return datastore.OperationToBeProcessed
}

func initialOutOperation(messageType datastore.MessageType, pm *pmode.SendingProcessingMode) datastore.Operation {
	// Signals on a pull binding wait to ride on the response of an
	// incoming PullRequest instead of being pushed out.
	if messageType.IsSignal() && pm.MEPBinding == pmode.Pull {
		return datastore.OperationToBePiggyBacked
	}
	return datastore.OperationToBeSent
}

func mepOf(pm *pmode.SendingProcessingMode) datastore.MEP {
	if pm.MEPBinding == pmode.Pull {
		return datastore.MEPPull
	}
	return datastore.MEPPush
}
