package agents

import (
	"context"
	"log/slog"

	"github.com/sirosfoundation/as4-gateway/internal/builders"
	"github.com/sirosfoundation/as4-gateway/internal/datastore"
	"github.com/sirosfoundation/as4-gateway/pkg/agent"
	"github.com/sirosfoundation/as4-gateway/pkg/pipeline"
)

// StoreExceptionHandler is the terminal failure handler of store-backed
// agents: whatever escapes the pipelines ends as a persisted exception row
// on the side the context carries. Persistence failures at this point can
// only be logged; the claimed row stays in its busy marker until the
// stale-claim janitor releases it.
type StoreExceptionHandler struct {
	Store  datastore.ExceptionRepository
	Logger *slog.Logger
}

// NewStoreExceptionHandler creates the handler. A nil logger defaults to
// slog.Default().
func NewStoreExceptionHandler(store datastore.ExceptionRepository, logger *slog.Logger) *StoreExceptionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreExceptionHandler{Store: store, Logger: logger}
}

func (h *StoreExceptionHandler) HandleTransformationError(_ context.Context, err error, _ *agent.ReceivedMessage) *pipeline.MessagingContext {
	// No context exists yet, so there is no entity to tie a row to.
	h.Logger.Error("message transformation failed terminally", "error", err)
	return nil
}

func (h *StoreExceptionHandler) HandleExecutionError(ctx context.Context, err error, msg *pipeline.MessagingContext) *pipeline.MessagingContext {
	h.persist(ctx, err, msg, "execution")
	return msg
}

func (h *StoreExceptionHandler) HandleErrorPipelineError(ctx context.Context, err error, msg *pipeline.MessagingContext) *pipeline.MessagingContext {
	h.persist(ctx, err, msg, "error pipeline")
	return msg
}

func (h *StoreExceptionHandler) persist(ctx context.Context, failure error, msg *pipeline.MessagingContext, origin string) {
	if msg == nil || failure == nil {
		return
	}
	h.Logger.Error("pipeline failure reached agent boundary",
		"origin", origin, "message_id", msg.EbmsMessageID(), "error", failure)

	switch {
	case msg.InMessage != nil:
		record, err := builders.BuildInException(msg.InMessage.EbmsMessageID, failure, msg.ReceivingPMode)
		if err == nil {
			err = h.Store.InsertInException(ctx, record)
		}
		if err != nil {
			h.Logger.Error("persisting in exception failed", "error", err)
		}
	case msg.OutMessage != nil:
		record, err := builders.BuildOutException(msg.OutMessage.EbmsMessageID, failure, msg.SendingPMode)
		if err == nil {
			err = h.Store.InsertOutException(ctx, record)
		}
		if err != nil {
			h.Logger.Error("persisting out exception failed", "error", err)
		}
	}
}
