package datastore

// Operation drives the store-and-forward state machine for every persisted
// message unit. Each "ToBeX" value has a paired "Xing" claim marker: a poller
// moves a row out of contention by flipping ToBeX to Xing inside the claim
// transaction, processes it, and finally records the terminal value.
type Operation string

const (
	OperationNotApplicable   Operation = "NotApplicable"
	OperationUndetermined    Operation = "Undetermined"
	OperationToBeProcessed   Operation = "ToBeProcessed"
	OperationProcessing      Operation = "Processing"
	OperationToBeSent        Operation = "ToBeSent"
	OperationSending         Operation = "Sending"
	OperationSent            Operation = "Sent"
	OperationToBeDelivered   Operation = "ToBeDelivered"
	OperationDelivering      Operation = "Delivering"
	OperationDelivered       Operation = "Delivered"
	OperationToBeNotified    Operation = "ToBeNotified"
	OperationNotifying       Operation = "Notifying"
	OperationNotified        Operation = "Notified"
	OperationToBeForwarded   Operation = "ToBeForwarded"
	OperationForwarding      Operation = "Forwarding"
	OperationForwarded       Operation = "Forwarded"
	OperationToBePiggyBacked Operation = "ToBePiggyBacked"
)

var claimMarkers = map[Operation]Operation{
	OperationToBeProcessed: OperationProcessing,
	OperationToBeSent:      OperationSending,
	OperationToBeDelivered: OperationDelivering,
	OperationToBeNotified:  OperationNotifying,
	OperationToBeForwarded: OperationForwarding,
}

var claimReleases = func() map[Operation]Operation {
	m := make(map[Operation]Operation, len(claimMarkers))
	for pending, busy := range claimMarkers {
		m[busy] = pending
	}
	return m
}()

// ClaimMarker returns the exclusive-claim marker paired with a "ToBeX"
// operation. The second return value is false when the operation is not
// claimable.
func (o Operation) ClaimMarker() (Operation, bool) {
	busy, ok := claimMarkers[o]
	return busy, ok
}

// Released returns the "ToBeX" operation paired with a claim marker, used
// when a stale claim is handed back for another poller to pick up.
func (o Operation) Released() (Operation, bool) {
	pending, ok := claimReleases[o]
	return pending, ok
}

// IsClaimMarker reports whether the operation marks a row as claimed by an
// in-flight worker.
func (o Operation) IsClaimMarker() bool {
	_, ok := claimReleases[o]
	return ok
}

// IsTerminal reports whether the operation is a resting state that the
// retention job is allowed to purge.
func (o Operation) IsTerminal() bool {
	switch o {
	case OperationDelivered, OperationForwarded, OperationNotified,
		OperationSent, OperationNotApplicable, OperationUndetermined:
		return true
	}
	return false
}

// MessageType distinguishes the ebMS message unit variants.
type MessageType string

const (
	MessageTypeUserMessage MessageType = "UserMessage"
	MessageTypeReceipt     MessageType = "Receipt"
	MessageTypeError       MessageType = "Error"
	MessageTypePullRequest MessageType = "PullRequest"
)

// IsSignal reports whether the message type is a protocol signal rather
// than a business payload.
func (t MessageType) IsSignal() bool {
	return t != MessageTypeUserMessage
}

// MEP is the message exchange pattern binding of an outgoing message.
type MEP string

const (
	MEPPush MEP = "Push"
	MEPPull MEP = "Pull"
)

// InStatus is the lifecycle status of a received message.
type InStatus string

const (
	InStatusReceived  InStatus = "Received"
	InStatusDelivered InStatus = "Delivered"
	InStatusException InStatus = "Exception"
)

// OutStatus is the lifecycle status of a message this node sends.
type OutStatus string

const (
	OutStatusCreated   OutStatus = "Created"
	OutStatusSent      OutStatus = "Sent"
	OutStatusAck       OutStatus = "Ack"
	OutStatusNack      OutStatus = "Nack"
	OutStatusException OutStatus = "Exception"
)

// RetryStatus is the claim state of a retry bookkeeping row. It applies to
// both ReceptionAwareness and RetryReliability entries.
type RetryStatus string

const (
	RetryStatusPending   RetryStatus = "Pending"
	RetryStatusBusy      RetryStatus = "Busy"
	RetryStatusCompleted RetryStatus = "Completed"
)

// RetryType identifies the operation a RetryReliability row retries.
type RetryType string

const (
	RetryTypeDelivery     RetryType = "Delivery"
	RetryTypeNotification RetryType = "Notification"
)
