package steps

import (
	"log/slog"

	"github.com/sirosfoundation/as4-gateway/internal/datastore"
	"github.com/sirosfoundation/as4-gateway/internal/services"
	"github.com/sirosfoundation/as4-gateway/pkg/pipeline"
	"github.com/sirosfoundation/as4-gateway/pkg/pmode"
)

// Step names as used in pipeline configuration.
const (
	NameUpdateReceptionAwareness = "UpdateReceptionAwareness"
	NameDetermineDelivery        = "DetermineDelivery"
	NameDeliverMessage           = "DeliverMessage"
	NameMarkMessageDelivered     = "MarkMessageDelivered"
	NameScheduleDeliveryRetry    = "ScheduleDeliveryRetry"
	NameCreateInException        = "CreateInException"
	NameSendMessage              = "SendMessage"
	NameSetReceptionAwareness    = "SetReceptionAwareness"
	NameMarkMessageSent          = "MarkMessageSent"
	NameParkForResend            = "ParkForResend"
	NameCreateOutException       = "CreateOutException"
	NameNotifyConsumer           = "NotifyConsumer"
	NameMarkMessageNotified      = "MarkMessageNotified"
	NameScheduleNotifyRetry      = "ScheduleNotifyRetry"
	NameReceptionAwarenessUpdate = "ReceptionAwarenessUpdate"
	NameRetryUpdate              = "RetryUpdate"
)

// Default pipeline compositions per flow. Configuration may override the
// step lists; these are the shipped defaults.
var (
	DefaultProcessPipeline      = []string{NameUpdateReceptionAwareness, NameDetermineDelivery}
	DefaultProcessErrorPipeline = []string{NameCreateInException}

	DefaultDeliverPipeline      = []string{NameDeliverMessage, NameMarkMessageDelivered}
	DefaultDeliverErrorPipeline = []string{NameScheduleDeliveryRetry, NameCreateInException}

	DefaultSendPipeline      = []string{NameSendMessage, NameSetReceptionAwareness, NameMarkMessageSent}
	DefaultSendErrorPipeline = []string{NameParkForResend, NameCreateOutException}

	DefaultNotifyPipeline      = []string{NameNotifyConsumer, NameMarkMessageNotified}
	DefaultNotifyErrorPipeline = []string{NameScheduleNotifyRetry}

	DefaultReceptionAwarenessPipeline = []string{NameReceptionAwarenessUpdate}
	DefaultRetryPipeline              = []string{NameRetryUpdate}
)

// Deps bundles everything step factories close over.
type Deps struct {
	Store datastore.Datastore

	Signals            *services.SignalService
	ReceptionAwareness *services.ReceptionAwarenessService
	Retries            *services.RetryService

	Dispatcher MessageDispatcher
	Deliverer  DeliverSender
	Publisher  NotificationPublisher

	// NotifyRetryPolicy governs the retry of failed consumer notifications.
	NotifyRetryPolicy pmode.RetryPolicy

	Logger *slog.Logger
}

// RegisterAll binds every step of the gateway into the registry.
func RegisterAll(reg *pipeline.Registry, d Deps) error {
	factories := map[string]func() pipeline.Step{
		NameUpdateReceptionAwareness: func() pipeline.Step {
			return &UpdateReceptionAwarenessStep{Signals: d.Signals, Store: d.Store}
		},
		NameDetermineDelivery: func() pipeline.Step {
			return &DetermineDeliveryStep{Store: d.Store, Logger: d.Logger}
		},
		NameDeliverMessage: func() pipeline.Step {
			return &DeliverMessageStep{Sender: d.Deliverer}
		},
		NameMarkMessageDelivered: func() pipeline.Step {
			return &MarkMessageDeliveredStep{Store: d.Store}
		},
		NameScheduleDeliveryRetry: func() pipeline.Step {
			return &ScheduleDeliveryRetryStep{Store: d.Store, Retries: d.Retries, Logger: d.Logger}
		},
		NameCreateInException: func() pipeline.Step {
			return &CreateInExceptionStep{Store: d.Store, Logger: d.Logger}
		},
		NameSendMessage: func() pipeline.Step {
			return &SendMessageStep{Dispatcher: d.Dispatcher}
		},
		NameSetReceptionAwareness: func() pipeline.Step {
			return &SetReceptionAwarenessStep{Store: d.Store, Logger: d.Logger}
		},
		NameMarkMessageSent: func() pipeline.Step {
			return &MarkMessageSentStep{Store: d.Store, Logger: d.Logger}
		},
		NameParkForResend: func() pipeline.Step {
			return &ParkForResendStep{Store: d.Store, Logger: d.Logger}
		},
		NameCreateOutException: func() pipeline.Step {
			return &CreateOutExceptionStep{Store: d.Store, Logger: d.Logger}
		},
		NameNotifyConsumer: func() pipeline.Step {
			return &NotifyConsumerStep{Publisher: d.Publisher}
		},
		NameMarkMessageNotified: func() pipeline.Step {
			return &MarkMessageNotifiedStep{Store: d.Store}
		},
		NameScheduleNotifyRetry: func() pipeline.Step {
			return &ScheduleNotifyRetryStep{Store: d.Store, Retries: d.Retries, Policy: d.NotifyRetryPolicy, Logger: d.Logger}
		},
		NameReceptionAwarenessUpdate: func() pipeline.Step {
			return &ReceptionAwarenessUpdateStep{Service: d.ReceptionAwareness, Logger: d.Logger}
		},
		NameRetryUpdate: func() pipeline.Step {
			return &RetryUpdateStep{Service: d.Retries}
		},
	}
	for name, factory := range factories {
		if err := reg.Register(name, factory); err != nil {
			return err
		}
	}
	return nil
}
