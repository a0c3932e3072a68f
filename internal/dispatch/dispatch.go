// Package dispatch implements the outbound HTTP adapters of the gateway:
// pushing stored messages to partner endpoints and handing received
// payloads to the consumer endpoint.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sirosfoundation/as4-gateway/internal/datastore"
	"github.com/sirosfoundation/as4-gateway/pkg/transport"
)

// ResponseHandler consumes the synchronous reply body of a pushed message.
// On a push exchange the partner may answer with a Receipt or Error signal
// in the response; the handler feeds it back into the receive flow.
type ResponseHandler func(ctx context.Context, body []byte, contentType string) error

// HTTPDispatcher pushes stored outgoing messages to the endpoint recorded
// on each message.
type HTTPDispatcher struct {
	client  *transport.HTTPSClient
	onReply ResponseHandler
	logger  *slog.Logger
}

// NewHTTPDispatcher creates a dispatcher. onReply may be nil when
// synchronous replies should be ignored. A nil logger defaults to
// slog.Default().
func NewHTTPDispatcher(client *transport.HTTPSClient, onReply ResponseHandler, logger *slog.Logger) *HTTPDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPDispatcher{client: client, onReply: onReply, logger: logger}
}

// Dispatch pushes the message to its recorded endpoint.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, m *datastore.OutMessage) error {
	if m.URL == "" {
		return fmt.Errorf("message %s has no endpoint", m.EbmsMessageID)
	}

	resp, err := d.client.Send(ctx, m.URL, m.SoapEnvelope, m.ContentType)
	if err != nil {
		return err
	}

	if d.onReply != nil && len(resp.Body) > 0 {
		// A reply that cannot be stored must not fail the send: the message
		// went out, and reception awareness covers the missing receipt.
		if err := d.onReply(ctx, resp.Body, resp.ContentType); err != nil {
			d.logger.Warn("handling synchronous reply failed",
				"ebms_message_id", m.EbmsMessageID, "error", err)
		}
	}
	return nil
}

// HTTPDeliverer hands received payloads to the configured consumer
// endpoint.
type HTTPDeliverer struct {
	client   *transport.HTTPSClient
	endpoint string
}

// NewHTTPDeliverer creates a deliverer for the given consumer endpoint.
func NewHTTPDeliverer(client *transport.HTTPSClient, endpoint string) *HTTPDeliverer {
	return &HTTPDeliverer{client: client, endpoint: endpoint}
}

// Deliver posts the stored message to the consumer endpoint.
func (d *HTTPDeliverer) Deliver(ctx context.Context, m *datastore.InMessage) error {
	if d.endpoint == "" {
		return fmt.Errorf("no consumer endpoint configured")
	}
	_, err := d.client.Send(ctx, d.endpoint, m.SoapEnvelope, m.ContentType)
	return err
}
