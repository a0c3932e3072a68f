package ebms

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONSerializerRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := JSONSerializer{}

	original := &Message{
		UserMessages: []*UserMessage{{
			MessageID:      "user-1@test",
			ConversationID: "conv-1",
			MPC:            "mpc-default",
			FromParty:      "sender",
			ToParty:        "receiver",
			Service:        "invoice",
			Action:         "submit",
			Timestamp:      time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		}},
		SignalMessages: []*SignalMessage{{
			MessageID:      "receipt-1@test",
			RefToMessageID: "older@test",
			Kind:           SignalReceipt,
		}},
	}

	data, contentType, err := s.Serialize(ctx, original)
	require.NoError(t, err)
	assert.Equal(t, ContentTypeJSON, contentType)

	decoded, err := s.Deserialize(ctx, data, contentType)
	require.NoError(t, err)

	require.Len(t, decoded.UserMessages, 1)
	assert.Equal(t, original.UserMessages[0], decoded.UserMessages[0])
	require.Len(t, decoded.SignalMessages, 1)
	assert.Equal(t, original.SignalMessages[0], decoded.SignalMessages[0])
	assert.Equal(t, data, decoded.SoapEnvelope)
	assert.Equal(t, contentType, decoded.ContentType)
}

func TestJSONSerializerRejectsEmptyMessage(t *testing.T) {
	ctx := context.Background()
	s := JSONSerializer{}

	_, _, err := s.Serialize(ctx, nil)
	assert.Error(t, err)

	_, _, err = s.Serialize(ctx, &Message{})
	assert.Error(t, err)
}

func TestJSONSerializerDeserializeErrors(t *testing.T) {
	ctx := context.Background()
	s := JSONSerializer{}

	_, err := s.Deserialize(ctx, []byte("{not json"), ContentTypeJSON)
	assert.Error(t, err)

	_, err = s.Deserialize(ctx, []byte(`{}`), ContentTypeJSON)
	assert.Error(t, err, "an envelope without units is malformed")
}

func TestNewMessageID(t *testing.T) {
	first := NewMessageID()
	second := NewMessageID()

	assert.NotEqual(t, first, second)
	assert.Contains(t, first, "@as4-gateway")
}

func TestMessageUnitsOrder(t *testing.T) {
	msg := &Message{
		UserMessages:   []*UserMessage{{MessageID: "user-1@test"}},
		SignalMessages: []*SignalMessage{{MessageID: "receipt-1@test", Kind: SignalReceipt}},
	}

	units := msg.MessageUnits()
	require.Len(t, units, 2)
	assert.Equal(t, "user-1@test", units[0].GetMessageID(), "user messages come first")
	assert.Equal(t, "receipt-1@test", units[1].GetMessageID())
	assert.True(t, msg.HasUnits())
	assert.False(t, (&Message{}).HasUnits())
}
