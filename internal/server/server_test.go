package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/as4-gateway/internal/datastore"
	"github.com/sirosfoundation/as4-gateway/internal/datastore/inmemory"
	"github.com/sirosfoundation/as4-gateway/internal/services"
	"github.com/sirosfoundation/as4-gateway/pkg/ebms"
	"github.com/sirosfoundation/as4-gateway/pkg/pmode"
)

func newTestServer(store *inmemory.Store, pmodes pmode.Provider) *Server {
	if pmodes == nil {
		pmodes = &pmode.StaticProvider{}
	}
	return New(
		ebms.JSONSerializer{},
		services.NewInboundMessageService(store, nil),
		store,
		pmodes,
		nil,
	)
}

func envelope(t *testing.T, msg *ebms.Message) ([]byte, string) {
	t.Helper()

	body, contentType, err := ebms.JSONSerializer{}.Serialize(context.Background(), msg)
	require.NoError(t, err)
	return body, contentType
}

func TestHandleMessage_StoresUnitsAndAnswersReceipt(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	srv := newTestServer(store, &pmode.StaticProvider{
		Receiving: []*pmode.ReceivingProcessingMode{{
			ID:  "pm-recv",
			MPC: "mpc-default",
			MessageHandling: pmode.MessageHandling{
				Deliver: pmode.Deliver{Enabled: true},
			},
		}},
	})

	body, contentType := envelope(t, &ebms.Message{
		UserMessages: []*ebms.UserMessage{{MessageID: "user-1@test", MPC: "mpc-default"}},
	})

	respBody, respContentType, err := srv.HandleMessage(ctx, body, contentType)
	require.NoError(t, err)
	require.NotEmpty(t, respBody)
	assert.Equal(t, ebms.ContentTypeJSON, respContentType)

	// The response is a Receipt referencing the received UserMessage.
	reply, err := ebms.JSONSerializer{}.Deserialize(ctx, respBody, respContentType)
	require.NoError(t, err)
	require.Len(t, reply.SignalMessages, 1)
	assert.Equal(t, ebms.SignalReceipt, reply.SignalMessages[0].Kind)
	assert.Equal(t, "user-1@test", reply.SignalMessages[0].RefToMessageID)

	stored := store.InMessages()
	require.Len(t, stored, 1)
	assert.Equal(t, datastore.OperationToBeProcessed, stored[0].Operation)
	assert.Equal(t, "pm-recv", stored[0].PModeID)

	// The answered receipt is persisted for audit.
	sent := store.OutMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, datastore.MessageTypeReceipt, sent[0].MessageType)
	assert.Equal(t, datastore.OutStatusSent, sent[0].Status)
	assert.Equal(t, datastore.OperationNotApplicable, sent[0].Operation)
}

func TestHandleMessage_DuplicateGetsFreshReceipt(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	srv := newTestServer(store, nil)

	body, contentType := envelope(t, &ebms.Message{
		UserMessages: []*ebms.UserMessage{{MessageID: "user-1@test"}},
	})

	_, _, err := srv.HandleMessage(ctx, body, contentType)
	require.NoError(t, err)

	// A partner that lost the receipt retries the whole message; it gets a
	// fresh receipt while the duplicate stays out of processing.
	respBody, respContentType, err := srv.HandleMessage(ctx, body, contentType)
	require.NoError(t, err)
	require.NotEmpty(t, respBody)

	reply, err := ebms.JSONSerializer{}.Deserialize(ctx, respBody, respContentType)
	require.NoError(t, err)
	require.Len(t, reply.SignalMessages, 1)

	stored := store.InMessages()
	require.Len(t, stored, 2)
	assert.False(t, stored[0].IsDuplicate)
	assert.True(t, stored[1].IsDuplicate)
	assert.Equal(t, datastore.OperationNotApplicable, stored[1].Operation)
}

func TestHandleMessage_SignalOnlyMessageHasNoReceipt(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	srv := newTestServer(store, nil)

	body, contentType := envelope(t, &ebms.Message{
		SignalMessages: []*ebms.SignalMessage{{
			MessageID:      "receipt-1@test",
			RefToMessageID: "sent-1@test",
			Kind:           ebms.SignalReceipt,
		}},
	})

	respBody, _, err := srv.HandleMessage(ctx, body, contentType)
	require.NoError(t, err)
	assert.Empty(t, respBody, "receipts are never acknowledged")
	assert.Len(t, store.InMessages(), 1)
}

func TestHandleMessage_PullRequestServesWaitingSignal(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	srv := newTestServer(store, nil)

	// A receipt queued on a pull binding waits for the partner's PullRequest.
	waiting, waitingContentType := envelope(t, &ebms.Message{
		SignalMessages: []*ebms.SignalMessage{{
			MessageID:      "receipt-9@test",
			RefToMessageID: "user-9@test",
			Kind:           ebms.SignalReceipt,
		}},
	})
	require.NoError(t, store.InsertOutMessage(ctx, &datastore.OutMessage{
		EbmsMessageID:      "receipt-9@test",
		EbmsRefToMessageID: "user-9@test",
		MessageType:        datastore.MessageTypeReceipt,
		ContentType:        waitingContentType,
		MPC:                "mpc-pull",
		MEP:                datastore.MEPPull,
		SoapEnvelope:       waiting,
		Operation:          datastore.OperationToBePiggyBacked,
		Status:             datastore.OutStatusCreated,
	}))

	body, contentType := envelope(t, &ebms.Message{
		SignalMessages: []*ebms.SignalMessage{{
			MessageID: "pull-1@test",
			Kind:      ebms.SignalPullRequest,
			MPC:       "mpc-pull",
		}},
	})

	respBody, respContentType, err := srv.HandleMessage(ctx, body, contentType)
	require.NoError(t, err)
	assert.Equal(t, waiting, respBody, "the waiting signal rides on the pull response")
	assert.Equal(t, waitingContentType, respContentType)

	sent := store.OutMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, datastore.OutStatusSent, sent[0].Status)
	assert.Equal(t, datastore.OperationNotApplicable, sent[0].Operation)

	// The pull request itself is stored but never queued for processing.
	stored := store.InMessages()
	require.Len(t, stored, 1)
	assert.Equal(t, datastore.MessageTypePullRequest, stored[0].MessageType)
	assert.Equal(t, datastore.OperationNotApplicable, stored[0].Operation)
}

func TestHandleMessage_PullRequestOnEmptyChannel(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	srv := newTestServer(store, nil)

	body, contentType := envelope(t, &ebms.Message{
		SignalMessages: []*ebms.SignalMessage{{
			MessageID: "pull-1@test",
			Kind:      ebms.SignalPullRequest,
			MPC:       "mpc-empty",
		}},
	})

	respBody, respContentType, err := srv.HandleMessage(ctx, body, contentType)
	require.NoError(t, err)
	require.NotEmpty(t, respBody)

	reply, err := ebms.JSONSerializer{}.Deserialize(ctx, respBody, respContentType)
	require.NoError(t, err)
	require.Len(t, reply.SignalMessages, 1)
	assert.Equal(t, ebms.SignalError, reply.SignalMessages[0].Kind)
	assert.Equal(t, "pull-1@test", reply.SignalMessages[0].RefToMessageID)
	require.Len(t, reply.SignalMessages[0].Errors, 1)
	assert.Equal(t, "EBMS:0006", reply.SignalMessages[0].Errors[0].Code)
	assert.Contains(t, reply.SignalMessages[0].Errors[0].Detail, "mpc-empty")
}

func TestHandleMessage_MalformedEnvelope(t *testing.T) {
	srv := newTestServer(inmemory.NewStore(), nil)

	_, _, err := srv.HandleMessage(context.Background(), []byte("{not json"), ebms.ContentTypeJSON)
	assert.Error(t, err)
}

func TestSubmitHandler(t *testing.T) {
	store := inmemory.NewStore()
	srv := newTestServer(store, &pmode.StaticProvider{
		Sending: map[string]*pmode.SendingProcessingMode{
			"pm-push": {
				ID:                "pm-push",
				MEPBinding:        pmode.Push,
				MPC:               "mpc-default",
				PushConfiguration: pmode.PushConfiguration{URL: "https://partner.example/msh"},
			},
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(
		`{"pmodeId":"pm-push","service":"invoice","action":"submit"}`))
	rec := httptest.NewRecorder()
	srv.SubmitHandler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp SubmitResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.EbmsMessageID)

	queued := store.OutMessages()
	require.Len(t, queued, 1)
	assert.Equal(t, resp.EbmsMessageID, queued[0].EbmsMessageID)
	assert.Equal(t, datastore.OperationToBeSent, queued[0].Operation)
	assert.Equal(t, datastore.OutStatusCreated, queued[0].Status)
	assert.Equal(t, "https://partner.example/msh", queued[0].URL)
	assert.Equal(t, "mpc-default", queued[0].MPC)
}

func TestSubmitHandler_Validation(t *testing.T) {
	srv := newTestServer(inmemory.NewStore(), nil)

	t.Run("wrong method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.SubmitHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/submit", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("bad body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.SubmitHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader("{")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing pmode id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.SubmitHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown pmode", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.SubmitHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/submit",
			strings.NewReader(`{"pmodeId":"missing"}`)))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHealthHandler(t *testing.T) {
	srv := newTestServer(inmemory.NewStore(), nil)

	rec := httptest.NewRecorder()
	srv.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
