package steps

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sirosfoundation/as4-gateway/internal/services"
	"github.com/sirosfoundation/as4-gateway/pkg/pipeline"
)

// ReceptionAwarenessUpdateStep decides the fate of one claimed reception
// awareness entry: complete it when the referenced message is already
// answered, dead-letter it when its retries are spent, queue a resend when
// one is due, or hand it back otherwise.
type ReceptionAwarenessUpdateStep struct {
	Service *services.ReceptionAwarenessService
	Logger  *slog.Logger

	// Now is the clock of the resend decision, swappable in tests. Nil
	// means time.Now.
	Now func() time.Time
}

func (s *ReceptionAwarenessUpdateStep) Execute(ctx context.Context, msg *pipeline.MessagingContext) pipeline.StepResult {
	entry := msg.ReceptionAwareness
	if entry == nil {
		return pipeline.Failed(fmt.Errorf("reception awareness update: no entry in context"), msg)
	}
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now()
	}

	answered, err := s.Service.IsMessageAlreadyAnswered(ctx, entry)
	if err != nil {
		return pipeline.Failed(err, msg)
	}

	// Exhaustion is checked before dueness: an entry past its budget closes
	// right away instead of cycling through Pending until its deadline, and
	// an entry exactly at the budget still gets its final resend below.
	switch {
	case answered:
		err = s.Service.MarkReferencedMessageAsComplete(ctx, entry)
	case services.RetriesExhausted(entry):
		if s.Logger != nil {
			s.Logger.Warn("reception awareness retries exhausted",
				"internal_message_id", entry.InternalMessageID,
				"total_retry_count", entry.TotalRetryCount)
		}
		err = s.Service.CompleteWithFailure(ctx, entry)
	case !services.MessageNeedsToBeResend(entry, now):
		err = s.Service.ResetReferencedMessage(ctx, entry)
	default:
		err = s.Service.MarkReferencedMessageForResend(ctx, entry)
	}
	if err != nil {
		return pipeline.Failed(err, msg)
	}
	return pipeline.Success(msg)
}

// RetryUpdateStep applies one claimed generic retry entry: requeue the
// referenced message within budget, dead-letter past it.
type RetryUpdateStep struct {
	Service *services.RetryService
}

func (s *RetryUpdateStep) Execute(ctx context.Context, msg *pipeline.MessagingContext) pipeline.StepResult {
	entry := msg.RetryReliability
	if entry == nil {
		return pipeline.Failed(fmt.Errorf("retry update: no entry in context"), msg)
	}
	if err := s.Service.HandleDueEntry(ctx, entry); err != nil {
		return pipeline.Failed(err, msg)
	}
	return pipeline.Success(msg)
}
