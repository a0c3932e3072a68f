package pipeline

import (
	"github.com/sirosfoundation/as4-gateway/internal/datastore"
	"github.com/sirosfoundation/as4-gateway/pkg/ebms"
	"github.com/sirosfoundation/as4-gateway/pkg/pmode"
)

// Mode tells steps which processing flow the context travels through.
type Mode string

const (
	ModeSend    Mode = "Send"
	ModeReceive Mode = "Receive"
	ModeDeliver Mode = "Deliver"
	ModeNotify  Mode = "Notify"
	ModeRetry   Mode = "Retry"
)

// MessagingContext is the mutable unit of work threaded through a pipeline.
// Exactly which fields are populated depends on the agent that created it;
// steps read what they need and may hand back an updated context through
// their StepResult.
type MessagingContext struct {
	Mode Mode

	// Persisted entities the context operates on.
	InMessage          *datastore.InMessage
	OutMessage         *datastore.OutMessage
	ReceptionAwareness *datastore.ReceptionAwareness
	RetryReliability   *datastore.RetryReliability

	// Protocol message, populated on receive/submit flows.
	Message *ebms.Message

	// Processing modes in effect for this unit of work.
	SendingPMode   *pmode.SendingProcessingMode
	ReceivingPMode *pmode.ReceivingProcessingMode

	// ErrorResult is set when a step fails with a protocol-level error; the
	// error pipeline turns it into a persisted exception record.
	ErrorResult *ErrorResult
}

// ErrorResult is the protocol-level failure a step reports through its
// context.
type ErrorResult struct {
	Error       ebms.Error
	Description string
}

// EbmsMessageID returns the ebMS id of whichever message entity the context
// carries, preferring the received side.
func (c *MessagingContext) EbmsMessageID() string {
	switch {
	case c.InMessage != nil:
		return c.InMessage.EbmsMessageID
	case c.OutMessage != nil:
		return c.OutMessage.EbmsMessageID
	}
	return ""
}

// WithError returns the context with an error result attached.
func (c *MessagingContext) WithError(err ebms.Error, description string) *MessagingContext {
	c.ErrorResult = &ErrorResult{Error: err, Description: description}
	return c
}
