// Package ebms holds the in-memory model of ebMS3 message units exchanged
// through the gateway. Envelope (de)serialization lives behind the
// Serializer interface; this package only carries the identifiers and
// routing metadata the reliability engine needs.
package ebms

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageUnit is implemented by every ebMS message unit variant.
type MessageUnit interface {
	// GetMessageID returns the ebMS message id of the unit.
	GetMessageID() string

	// GetRefToMessageID returns the id of the message this unit refers to,
	// or the empty string.
	GetRefToMessageID() string
}

// UserMessage is a business payload message unit.
type UserMessage struct {
	MessageID      string
	RefToMessageID string
	ConversationID string
	MPC            string

	FromParty string
	ToParty   string
	Service   string
	Action    string

	Timestamp time.Time
}

// GetMessageID returns the ebMS message id.
func (m *UserMessage) GetMessageID() string { return m.MessageID }

// GetRefToMessageID returns the referenced message id.
func (m *UserMessage) GetRefToMessageID() string { return m.RefToMessageID }

// SignalKind distinguishes the signal message variants.
type SignalKind string

const (
	SignalReceipt     SignalKind = "Receipt"
	SignalError       SignalKind = "Error"
	SignalPullRequest SignalKind = "PullRequest"
)

// SignalMessage is a protocol signal: a Receipt, an Error or a PullRequest.
type SignalMessage struct {
	MessageID      string
	RefToMessageID string
	Kind           SignalKind

	// MPC is set on PullRequest signals only.
	MPC string

	// Errors carries the ebMS error entries of an Error signal.
	Errors []Error

	Timestamp time.Time
}

// GetMessageID returns the ebMS message id.
func (m *SignalMessage) GetMessageID() string { return m.MessageID }

// GetRefToMessageID returns the referenced message id.
func (m *SignalMessage) GetRefToMessageID() string { return m.RefToMessageID }

// Message is a protocol message: the unit(s) carried by one envelope plus
// the wire-level metadata the engine persists.
type Message struct {
	ContentType  string
	SoapEnvelope []byte

	UserMessages   []*UserMessage
	SignalMessages []*SignalMessage
}

// MessageUnits returns all units of the message, user messages first.
func (m *Message) MessageUnits() []MessageUnit {
	units := make([]MessageUnit, 0, len(m.UserMessages)+len(m.SignalMessages))
	for _, um := range m.UserMessages {
		units = append(units, um)
	}
	for _, sm := range m.SignalMessages {
		units = append(units, sm)
	}
	return units
}

// HasUnits reports whether the message carries any message unit.
func (m *Message) HasUnits() bool {
	return len(m.UserMessages)+len(m.SignalMessages) > 0
}

// NewMessageID generates a unique ebMS message id.
func NewMessageID() string {
	return fmt.Sprintf("%s@as4-gateway", uuid.NewString())
}
