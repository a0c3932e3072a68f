package steps

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sirosfoundation/as4-gateway/internal/datastore"
	"github.com/sirosfoundation/as4-gateway/internal/services"
	"github.com/sirosfoundation/as4-gateway/pkg/pipeline"
	"github.com/sirosfoundation/as4-gateway/pkg/pmode"
)

// NotifyConsumerStep publishes the processing outcome of the claimed
// message to the consumer-facing notification channel.
type NotifyConsumerStep struct {
	Publisher NotificationPublisher
}

func (s *NotifyConsumerStep) Execute(ctx context.Context, msg *pipeline.MessagingContext) pipeline.StepResult {
	n, err := notificationOf(msg)
	if err != nil {
		return pipeline.Failed(err, msg)
	}
	if err := s.Publisher.Publish(ctx, n); err != nil {
		return pipeline.Failed(fmt.Errorf("publishing notification for %s: %w", n.EbmsMessageID, err), msg)
	}
	return pipeline.Success(msg)
}

// notificationOf projects the claimed entity into its consumer
// notification.
func notificationOf(msg *pipeline.MessagingContext) (Notification, error) {
	now := time.Now().UTC()
	switch {
	case msg.OutMessage != nil:
		m := msg.OutMessage
		n := Notification{
			EbmsMessageID: m.EbmsMessageID,
			Direction:     DirectionOut,
			Timestamp:     now,
		}
		switch m.Status {
		case datastore.OutStatusAck:
			n.Outcome = OutcomeAcknowledged
		case datastore.OutStatusNack:
			n.Outcome = OutcomeRejected
			n.Detail = "partner reported an ebMS error"
		default:
			n.Outcome = OutcomeFailure
			n.Detail = "message could not be sent"
		}
		return n, nil
	case msg.InMessage != nil:
		m := msg.InMessage
		return Notification{
			EbmsMessageID: m.EbmsMessageID,
			Direction:     DirectionIn,
			Outcome:       OutcomeFailure,
			Detail:        "message could not be delivered",
			Timestamp:     now,
		}, nil
	}
	return Notification{}, fmt.Errorf("notify: no message in context")
}

// MarkMessageNotifiedStep closes the notification, moving the claimed
// message to its terminal Notified operation.
type MarkMessageNotifiedStep struct {
	Store services.RetryStore
}

func (s *MarkMessageNotifiedStep) Execute(ctx context.Context, msg *pipeline.MessagingContext) pipeline.StepResult {
	switch {
	case msg.OutMessage != nil:
		err := s.Store.UpdateOutMessage(ctx, msg.OutMessage.ID, func(out *datastore.OutMessage) {
			out.Operation = datastore.OperationNotified
		})
		if err != nil {
			return pipeline.Failed(err, msg)
		}
		msg.OutMessage.Operation = datastore.OperationNotified
		return pipeline.Success(msg)
	case msg.InMessage != nil:
		err := s.Store.UpdateInMessage(ctx, msg.InMessage.EbmsMessageID, func(in *datastore.InMessage) {
			in.Operation = datastore.OperationNotified
		})
		if err != nil {
			return pipeline.Failed(err, msg)
		}
		msg.InMessage.Operation = datastore.OperationNotified
		return pipeline.Success(msg)
	}
	return pipeline.Failed(fmt.Errorf("mark notified: no message in context"), msg)
}

// ScheduleNotifyRetryStep is the notification error pipeline. A failed
// publish parks the message and opens retry bookkeeping under the
// configured policy; the retry scheduler requeues it later. Past that the
// message is closed, a notification is best effort once its retries are
// spent.
type ScheduleNotifyRetryStep struct {
	Store   services.RetryStore
	Retries *services.RetryService
	Policy  pmode.RetryPolicy
	Logger  *slog.Logger
}

func (s *ScheduleNotifyRetryStep) Execute(ctx context.Context, msg *pipeline.MessagingContext) pipeline.StepResult {
	id := msg.EbmsMessageID()
	if id == "" {
		return pipeline.Failed(fmt.Errorf("schedule notify retry: no message in context"), msg)
	}

	next := datastore.OperationNotApplicable
	if s.Policy.Enabled {
		if err := s.Retries.RegisterRetry(ctx, id, datastore.RetryTypeNotification, s.Policy); err != nil {
			return pipeline.Failed(err, msg)
		}
		next = datastore.OperationUndetermined
	} else if s.Logger != nil {
		s.Logger.Warn("notification dropped, no retry policy configured", "ebms_message_id", id)
	}

	switch {
	case msg.OutMessage != nil:
		err := s.Store.UpdateOutMessage(ctx, msg.OutMessage.ID, func(out *datastore.OutMessage) {
			out.Operation = next
		})
		if err != nil {
			return pipeline.Failed(err, msg)
		}
		msg.OutMessage.Operation = next
	case msg.InMessage != nil:
		err := s.Store.UpdateInMessage(ctx, id, func(in *datastore.InMessage) {
			in.Operation = next
		})
		if err != nil {
			return pipeline.Failed(err, msg)
		}
		msg.InMessage.Operation = next
	}
	return pipeline.StopExecution(msg)
}
