// Package server provides the HTTP front-end of the AS4 gateway.
//
// The server exposes three surfaces:
//
// # Message Exchange
//
// POST /msh - Receives inbound AS4 messages. Every message unit is stored
// through the inbound service (duplicates flagged, never rejected) and a
// Receipt for each received UserMessage is returned synchronously. A
// PullRequest is answered with the oldest signal waiting on its MPC, or an
// EBMS:0006 warning when the channel is empty.
//
// # Submit API
//
// POST /submit - Accepts a business message from the local consumer and
// queues it for sending under the named sending PMode. The response carries
// the generated ebMS message id; actual transmission is asynchronous.
//
// # Health
//
// GET /health - Liveness probe, checks datastore connectivity.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sirosfoundation/as4-gateway/internal/builders"
	"github.com/sirosfoundation/as4-gateway/internal/datastore"
	"github.com/sirosfoundation/as4-gateway/internal/services"
	"github.com/sirosfoundation/as4-gateway/pkg/ebms"
	"github.com/sirosfoundation/as4-gateway/pkg/pmode"
)

// Server handles the gateway's HTTP surfaces. It implements the transport
// layer's MessageHandler for the /msh endpoint.
type Server struct {
	serializer ebms.Serializer
	inbound    *services.InboundMessageService
	store      datastore.Datastore
	pmodes     pmode.Provider
	logger     *slog.Logger
}

// New creates the front-end. A nil logger defaults to slog.Default().
func New(serializer ebms.Serializer, inbound *services.InboundMessageService, store datastore.Datastore, pmodes pmode.Provider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		serializer: serializer,
		inbound:    inbound,
		store:      store,
		pmodes:     pmodes,
		logger:     logger,
	}
}

// HandleMessage processes one inbound AS4 message: store every unit, then
// answer with a Receipt per received UserMessage. Duplicates are stored
// flagged and acknowledged again, so a partner retrying a lost receipt gets
// a fresh one without the message being processed twice.
func (s *Server) HandleMessage(ctx context.Context, raw []byte, contentType string) ([]byte, string, error) {
	msg, err := s.serializer.Deserialize(ctx, raw, contentType)
	if err != nil {
		return nil, "", fmt.Errorf("parsing inbound message: %w", err)
	}
	msg.SoapEnvelope = raw
	msg.ContentType = contentType

	stored, err := s.inbound.StoreReceivedMessage(ctx, msg, s.resolveReceivingPMode(msg))
	if err != nil {
		return nil, "", fmt.Errorf("storing inbound message: %w", err)
	}

	if pull := pullRequestOf(msg); pull != nil {
		return s.servePullRequest(ctx, pull)
	}

	receipts := s.buildReceipts(msg)
	if receipts == nil {
		return nil, "", nil
	}
	body, respContentType, err := s.serializer.Serialize(ctx, receipts)
	if err != nil {
		return nil, "", fmt.Errorf("rendering receipts: %w", err)
	}
	s.storeSentReceipts(ctx, receipts, body, respContentType)

	s.logger.Info("inbound message stored",
		"units", len(stored), "receipts", len(receipts.SignalMessages))
	return body, respContentType, nil
}

// resolveReceivingPMode picks the receiving PMode for the message: the
// first one matching the MPC of a UserMessage, else the first configured.
func (s *Server) resolveReceivingPMode(msg *ebms.Message) *pmode.ReceivingProcessingMode {
	configured := s.pmodes.GetReceivingPModes()
	if len(configured) == 0 {
		return nil
	}
	for _, um := range msg.UserMessages {
		for _, pm := range configured {
			if pm.MPC != "" && pm.MPC == um.MPC {
				return pm
			}
		}
	}
	return configured[0]
}

// pullRequestOf returns the PullRequest signal of a signal-only message, or
// nil. A message carrying UserMessages is answered with receipts instead.
func pullRequestOf(msg *ebms.Message) *ebms.SignalMessage {
	if len(msg.UserMessages) > 0 {
		return nil
	}
	for _, sig := range msg.SignalMessages {
		if sig.Kind == ebms.SignalPullRequest {
			return sig
		}
	}
	return nil
}

// servePullRequest answers a PullRequest synchronously: the oldest signal
// waiting on the requested MPC goes out on the response and is marked sent.
// An empty channel is answered with an EBMS:0006 warning so the puller can
// back off.
func (s *Server) servePullRequest(ctx context.Context, pull *ebms.SignalMessage) ([]byte, string, error) {
	claimed, err := s.store.ClaimPiggybackedSignal(ctx, pull.MPC)
	if err != nil {
		return nil, "", fmt.Errorf("claiming piggybacked signal: %w", err)
	}
	if claimed == nil {
		return s.answerEmptyChannel(ctx, pull)
	}

	err = s.store.UpdateOutMessage(ctx, claimed.ID, func(out *datastore.OutMessage) {
		out.Status = datastore.OutStatusSent
		out.Operation = datastore.OperationNotApplicable
	})
	if err != nil {
		return nil, "", fmt.Errorf("marking piggybacked signal sent: %w", err)
	}

	s.logger.Info("pull request served",
		"mpc", pull.MPC, "ebms_message_id", claimed.EbmsMessageID)
	return claimed.SoapEnvelope, claimed.ContentType, nil
}

func (s *Server) answerEmptyChannel(ctx context.Context, pull *ebms.SignalMessage) ([]byte, string, error) {
	warning := ebms.ErrorEmptyMessagePartition.WithDetail(
		fmt.Sprintf("no message awaits pulling on mpc %q", pull.MPC))
	reply := &ebms.Message{SignalMessages: []*ebms.SignalMessage{{
		MessageID:      ebms.NewMessageID(),
		RefToMessageID: pull.MessageID,
		Kind:           ebms.SignalError,
		Errors:         []ebms.Error{warning},
		Timestamp:      time.Now().UTC(),
	}}}
	body, contentType, err := s.serializer.Serialize(ctx, reply)
	if err != nil {
		return nil, "", fmt.Errorf("rendering empty channel warning: %w", err)
	}
	return body, contentType, nil
}

func (s *Server) buildReceipts(msg *ebms.Message) *ebms.Message {
	if len(msg.UserMessages) == 0 {
		return nil
	}
	receipts := &ebms.Message{}
	now := time.Now().UTC()
	for _, um := range msg.UserMessages {
		receipts.SignalMessages = append(receipts.SignalMessages, &ebms.SignalMessage{
			MessageID:      ebms.NewMessageID(),
			RefToMessageID: um.MessageID,
			Kind:           ebms.SignalReceipt,
			Timestamp:      now,
		})
	}
	return receipts
}

// storeSentReceipts records the synchronously answered receipts. The
// response already went on the wire, so a persistence failure here is
// logged, not surfaced.
func (s *Server) storeSentReceipts(ctx context.Context, receipts *ebms.Message, body []byte, contentType string) {
	now := time.Now().UTC()
	for _, sig := range receipts.SignalMessages {
		record := &datastore.OutMessage{
			EbmsMessageID:      sig.MessageID,
			EbmsRefToMessageID: sig.RefToMessageID,
			MessageType:        datastore.MessageTypeReceipt,
			ContentType:        contentType,
			MEP:                datastore.MEPPush,
			SoapEnvelope:       body,
			Operation:          datastore.OperationNotApplicable,
			Status:             datastore.OutStatusSent,
			InsertionTime:      now,
		}
		if err := s.store.InsertOutMessage(ctx, record); err != nil {
			s.logger.Error("storing sent receipt failed",
				"ebms_message_id", sig.MessageID, "error", err)
		}
	}
}

// SubmitRequest is the consumer-facing submission payload.
type SubmitRequest struct {
	PModeID        string `json:"pmodeId"`
	ConversationID string `json:"conversationId,omitempty"`
	FromParty      string `json:"fromParty,omitempty"`
	ToParty        string `json:"toParty,omitempty"`
	Service        string `json:"service,omitempty"`
	Action         string `json:"action,omitempty"`
}

// SubmitResponse carries the id assigned to the queued message.
type SubmitResponse struct {
	EbmsMessageID string `json:"ebmsMessageId"`
}

// SubmitHandler returns the HTTP handler of the /submit endpoint.
func (s *Server) SubmitHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.PModeID == "" {
			http.Error(w, "pmodeId is required", http.StatusBadRequest)
			return
		}

		pm, err := s.pmodes.GetSendingPMode(req.PModeID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		record, err := s.queueSubmission(r.Context(), &req, pm)
		if err != nil {
			s.logger.Error("submission failed", "pmode_id", req.PModeID, "error", err)
			http.Error(w, "Failed to queue message", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(SubmitResponse{EbmsMessageID: record.EbmsMessageID})
	})
}

func (s *Server) queueSubmission(ctx context.Context, req *SubmitRequest, pm *pmode.SendingProcessingMode) (*datastore.OutMessage, error) {
	um := &ebms.UserMessage{
		MessageID:      ebms.NewMessageID(),
		ConversationID: req.ConversationID,
		MPC:            pm.MPC,
		FromParty:      req.FromParty,
		ToParty:        req.ToParty,
		Service:        req.Service,
		Action:         req.Action,
		Timestamp:      time.Now().UTC(),
	}
	msg := &ebms.Message{UserMessages: []*ebms.UserMessage{um}}

	body, contentType, err := s.serializer.Serialize(ctx, msg)
	if err != nil {
		return nil, err
	}
	msg.SoapEnvelope = body
	msg.ContentType = contentType

	record, err := builders.BuildOutMessage(um, msg, pm)
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertOutMessage(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// HealthHandler returns the HTTP handler of the /health endpoint.
func (s *Server) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.store.Ping(r.Context()); err != nil {
			http.Error(w, "datastore unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
}
