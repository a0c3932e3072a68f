package transport

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDefaultHTTPSConfig(t *testing.T) {
	config := DefaultHTTPSConfig()

	if config == nil {
		t.Fatal("expected non-nil config")
	}

	if config.MinTLSVersion != TLS12 {
		t.Errorf("expected MinTLSVersion TLS12, got %d", config.MinTLSVersion)
	}
	if config.MaxTLSVersion != TLS13 {
		t.Errorf("expected MaxTLSVersion TLS13, got %d", config.MaxTLSVersion)
	}
	if len(config.CipherSuites) == 0 {
		t.Error("expected CipherSuites to be set")
	}
	if config.ClientAuth != tls.NoClientCert {
		t.Errorf("expected NoClientCert, got %d", config.ClientAuth)
	}
	if config.Timeout != 30*time.Second {
		t.Errorf("expected Timeout 30s, got %v", config.Timeout)
	}
	if config.IdleConnTimeout != 90*time.Second {
		t.Errorf("expected IdleConnTimeout 90s, got %v", config.IdleConnTimeout)
	}
}

func TestRecommendedTLS12CipherSuites(t *testing.T) {
	if len(RecommendedTLS12CipherSuites) == 0 {
		t.Error("expected recommended cipher suites to be defined")
	}

	for _, suite := range RecommendedTLS12CipherSuites {
		name := tls.CipherSuiteName(suite)
		if name == "" {
			t.Errorf("unknown cipher suite: %d", suite)
		}
	}
}

func TestNewHTTPSClient_NilConfig(t *testing.T) {
	client := NewHTTPSClient(nil)

	if client == nil {
		t.Fatal("expected non-nil client")
	}
	if client.client == nil {
		t.Error("expected http.Client to be initialized")
	}
	if client.config == nil {
		t.Error("expected config to be set to default")
	}
}

func TestHTTPSClient_Send(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/soap+xml" {
			t.Errorf("expected content-type 'application/soap+xml', got '%s'", ct)
		}
		if r.Header.Get("User-Agent") != "as4-gateway/1.0" {
			t.Errorf("expected User-Agent 'as4-gateway/1.0'")
		}

		w.Header().Set("Content-Type", "application/soap+xml; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<Receipt/>"))
	}))
	defer server.Close()

	client := NewHTTPSClient(nil)

	response, err := client.Send(context.Background(), server.URL, []byte("<Request/>"), "application/soap+xml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(response.Body) != "<Receipt/>" {
		t.Errorf("unexpected response body: %s", string(response.Body))
	}
	if response.ContentType != "application/soap+xml; charset=utf-8" {
		t.Errorf("unexpected response content type: %s", response.ContentType)
	}
}

func TestHTTPSClient_Send_AcceptedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewHTTPSClient(nil)

	response, err := client.Send(context.Background(), server.URL, []byte("<Request/>"), "application/soap+xml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(response.Body) != 0 {
		t.Errorf("expected empty body, got %q", response.Body)
	}
}

func TestHTTPSClient_Send_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
	}))
	defer server.Close()

	client := NewHTTPSClient(nil)

	_, err := client.Send(context.Background(), server.URL, []byte("<Request/>"), "application/soap+xml")
	if err == nil {
		t.Error("expected error for non-success status")
	}
}

func TestHTTPSClient_Send_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second) // Simulate slow response
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPSClient(&HTTPSConfig{
		Timeout: 10 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	_, err := client.Send(ctx, server.URL, []byte("<Request/>"), "application/soap+xml")
	if err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestNewHTTPSServer_NilConfig(t *testing.T) {
	handler := &mockMessageHandler{}
	server := NewHTTPSServer(":8443", nil, handler)

	if server == nil {
		t.Fatal("expected non-nil server")
	}
	if server.config == nil {
		t.Error("expected config to be set to default")
	}
	if server.handler != handler {
		t.Error("expected handler to be set")
	}
}

func TestHTTPSServer_handleMessage_MethodNotAllowed(t *testing.T) {
	handler := &mockMessageHandler{}
	server := NewHTTPSServer(":8443", nil, handler)

	req := httptest.NewRequest(http.MethodGet, "/msh", nil)
	w := httptest.NewRecorder()

	server.handleMessage(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", w.Code)
	}
}

func TestHTTPSServer_handleMessage_Success(t *testing.T) {
	handler := &mockMessageHandler{
		response:    []byte("<Receipt/>"),
		contentType: "application/soap+xml; charset=utf-8",
	}
	server := NewHTTPSServer(":8443", nil, handler)

	req := httptest.NewRequest(http.MethodPost, "/msh", nil)
	req.Body = http.NoBody
	w := httptest.NewRecorder()

	server.handleMessage(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/soap+xml; charset=utf-8" {
		t.Errorf("expected content-type 'application/soap+xml; charset=utf-8', got '%s'", ct)
	}
}

func TestHTTPSServer_handleMessage_NoResponse(t *testing.T) {
	handler := &mockMessageHandler{}
	server := NewHTTPSServer(":8443", nil, handler)

	req := httptest.NewRequest(http.MethodPost, "/msh", nil)
	req.Body = http.NoBody
	w := httptest.NewRecorder()

	server.handleMessage(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", w.Code)
	}
}

func TestHTTPSServer_handleMessage_HandlerError(t *testing.T) {
	handler := &mockMessageHandler{
		err: http.ErrAbortHandler,
	}
	server := NewHTTPSServer(":8443", nil, handler)

	req := httptest.NewRequest(http.MethodPost, "/msh", nil)
	req.Body = http.NoBody
	w := httptest.NewRecorder()

	server.handleMessage(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
}

func TestHTTPSServer_Start_NoCertificates(t *testing.T) {
	server := NewHTTPSServer(":0", &HTTPSConfig{}, nil)

	err := server.Start()
	if err == nil {
		t.Error("expected error when no certificates configured")
	}
}

// mockMessageHandler is a test implementation of MessageHandler
type mockMessageHandler struct {
	response    []byte
	contentType string
	err         error
}

func (h *mockMessageHandler) HandleMessage(ctx context.Context, message []byte, contentType string) ([]byte, string, error) {
	if h.err != nil {
		return nil, "", h.err
	}
	return h.response, h.contentType, nil
}
