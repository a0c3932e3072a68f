// Package steps holds the concrete pipeline steps of the gateway's
// processing flows. Steps carry out one state transition each and persist
// it through the datastore before returning; a step result only ever
// reports what already happened.
//
// Outbound side effects go through the three dispatcher contracts so the
// transport, the consumer endpoint and the notification broker stay
// swappable in tests.
package steps

import (
	"context"
	"time"

	"github.com/sirosfoundation/as4-gateway/internal/datastore"
)

// MessageDispatcher pushes a stored outgoing message to the partner
// endpoint recorded on it.
type MessageDispatcher interface {
	Dispatch(ctx context.Context, m *datastore.OutMessage) error
}

// DeliverSender hands a received message payload to the business consumer.
type DeliverSender interface {
	Deliver(ctx context.Context, m *datastore.InMessage) error
}

// Notification is the processing outcome surfaced to the business
// consumer.
type Notification struct {
	EbmsMessageID string    `json:"ebmsMessageId"`
	Direction     string    `json:"direction"`
	Outcome       string    `json:"outcome"`
	Detail        string    `json:"detail,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Notification directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Notification outcomes.
const (
	OutcomeAcknowledged = "acknowledged"
	OutcomeRejected     = "rejected"
	OutcomeFailure      = "failure"
)

// NotificationPublisher publishes notifications to the consumer-facing
// channel.
type NotificationPublisher interface {
	Publish(ctx context.Context, n Notification) error
}
