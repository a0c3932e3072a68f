package ebms

import (
	"context"
	"encoding/json"
	"fmt"
)

// Serializer converts between the in-memory message model and its on-wire
// representation, keyed by content type. SOAP/MIME codecs plug in through
// this interface; the reliability engine never looks inside an envelope.
type Serializer interface {
	// Serialize renders the message, returning the raw bytes and the
	// content type describing them.
	Serialize(ctx context.Context, msg *Message) ([]byte, string, error)

	// Deserialize parses raw bytes into a message. It fails on malformed
	// input; such failures are terminal for the unit of work.
	Deserialize(ctx context.Context, data []byte, contentType string) (*Message, error)
}

// ContentTypeJSON is the content type of the JSON envelope codec.
const ContentTypeJSON = "application/vnd.as4-gateway+json"

type jsonEnvelope struct {
	UserMessages   []*UserMessage   `json:"userMessages,omitempty"`
	SignalMessages []*SignalMessage `json:"signalMessages,omitempty"`
}

// JSONSerializer is the built-in envelope codec: a plain JSON rendering of
// the message units. It serves development setups and tests; production
// deployments plug a SOAP/MIME codec into the same interface.
type JSONSerializer struct{}

// Serialize renders the message units as JSON.
func (JSONSerializer) Serialize(_ context.Context, msg *Message) ([]byte, string, error) {
	if msg == nil || !msg.HasUnits() {
		return nil, "", fmt.Errorf("ebms: message carries no units")
	}
	data, err := json.Marshal(jsonEnvelope{
		UserMessages:   msg.UserMessages,
		SignalMessages: msg.SignalMessages,
	})
	if err != nil {
		return nil, "", fmt.Errorf("ebms: encoding envelope: %w", err)
	}
	return data, ContentTypeJSON, nil
}

// Deserialize parses a JSON envelope.
func (JSONSerializer) Deserialize(_ context.Context, data []byte, contentType string) (*Message, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("ebms: decoding envelope: %w", err)
	}
	msg := &Message{
		ContentType:    contentType,
		SoapEnvelope:   data,
		UserMessages:   env.UserMessages,
		SignalMessages: env.SignalMessages,
	}
	if !msg.HasUnits() {
		return nil, fmt.Errorf("ebms: envelope carries no units")
	}
	return msg, nil
}
