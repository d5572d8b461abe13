package mcp

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewTransportStdio(t *testing.T) {
	cfg := &ServerConfig{
		ID:        "test",
		Transport: TransportStdio,
		Command:   "echo",
	}

	transport := NewTransport(cfg)
	if transport == nil {
		t.Fatal("expected non-nil transport")
	}

	_, ok := transport.(*StdioTransport)
	if !ok {
		t.Error("expected StdioTransport")
	}
}

func TestNewTransportHTTP(t *testing.T) {
	cfg := &ServerConfig{
		ID:        "test",
		Transport: TransportHTTP,
		URL:       "https://example.com/mcp",
	}

	transport := NewTransport(cfg)
	if transport == nil {
		t.Fatal("expected non-nil transport")
	}

	_, ok := transport.(*HTTPTransport)
	if !ok {
		t.Error("expected HTTPTransport")
	}
}

func TestNewTransportDefault(t *testing.T) {
	cfg := &ServerConfig{
		ID:      "test",
		Command: "echo",
		// No transport type specified, should default to stdio
	}

	transport := NewTransport(cfg)
	if transport == nil {
		t.Fatal("expected non-nil transport")
	}

	_, ok := transport.(*StdioTransport)
	if !ok {
		t.Error("expected StdioTransport as default")
	}
}

func TestNewStdioTransport(t *testing.T) {
	cfg := &ServerConfig{
		ID:      "test-stdio",
		Command: "mcp-server",
		Args:    []string{"--config", "test.yaml"},
		Env:     map[string]string{"DEBUG": "true"},
		WorkDir: "/tmp",
		Timeout: 30 * time.Second,
	}

	transport := NewStdioTransport(cfg)
	if transport == nil {
		t.Fatal("expected non-nil transport")
	}

	if transport.config != cfg {
		t.Error("expected config to be set")
	}
	if transport.pending == nil {
		t.Error("expected pending map to be initialized")
	}
	if transport.events == nil {
		t.Error("expected events channel to be initialized")
	}
	if transport.requests == nil {
		t.Error("expected requests channel to be initialized")
	}
}

func TestStdioTransportConnected(t *testing.T) {
	cfg := &ServerConfig{
		ID:      "test",
		Command: "echo",
	}

	transport := NewStdioTransport(cfg)

	if transport.Connected() {
		t.Error("expected Connected() to return false before Connect()")
	}
}

func TestStdioTransportEvents(t *testing.T) {
	cfg := &ServerConfig{
		ID:      "test",
		Command: "echo",
	}

	transport := NewStdioTransport(cfg)

	events := transport.Events()
	if events == nil {
		t.Error("expected non-nil events channel")
	}
}

func TestStdioTransportRequests(t *testing.T) {
	cfg := &ServerConfig{
		ID:      "test",
		Command: "echo",
	}

	transport := NewStdioTransport(cfg)

	requests := transport.Requests()
	if requests == nil {
		t.Error("expected non-nil requests channel")
	}
}

func TestNewHTTPTransport(t *testing.T) {
	cfg := &ServerConfig{
		ID:      "test-http",
		URL:     "https://mcp.example.com/api",
		Headers: map[string]string{"Authorization": "Bearer token"},
		Timeout: 60 * time.Second,
	}

	transport := NewHTTPTransport(cfg)
	if transport == nil {
		t.Fatal("expected non-nil transport")
	}

	if transport.config != cfg {
		t.Error("expected config to be set")
	}
	if transport.events == nil {
		t.Error("expected events channel to be initialized")
	}
	if transport.requests == nil {
		t.Error("expected requests channel to be initialized")
	}
}

func TestHTTPTransportDefaultTimeout(t *testing.T) {
	cfg := &ServerConfig{
		ID:  "test",
		URL: "https://mcp.example.com",
		// No timeout specified
	}

	transport := NewHTTPTransport(cfg)

	if transport.client.Timeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %v", transport.client.Timeout)
	}
}

func TestHTTPTransportCustomTimeout(t *testing.T) {
	cfg := &ServerConfig{
		ID:      "test",
		URL:     "https://mcp.example.com",
		Timeout: 60 * time.Second,
	}

	transport := NewHTTPTransport(cfg)

	if transport.client.Timeout != 60*time.Second {
		t.Errorf("expected timeout 60s, got %v", transport.client.Timeout)
	}
}

func TestHTTPTransportConnected(t *testing.T) {
	cfg := &ServerConfig{
		ID:  "test",
		URL: "https://mcp.example.com",
	}

	transport := NewHTTPTransport(cfg)

	if transport.Connected() {
		t.Error("expected Connected() to return false before Connect()")
	}
}

func TestHTTPTransportEvents(t *testing.T) {
	cfg := &ServerConfig{
		ID:  "test",
		URL: "https://mcp.example.com",
	}

	transport := NewHTTPTransport(cfg)

	events := transport.Events()
	if events == nil {
		t.Error("expected non-nil events channel")
	}
}

func TestHTTPTransportRequests(t *testing.T) {
	cfg := &ServerConfig{
		ID:  "test",
		URL: "https://mcp.example.com",
	}

	transport := NewHTTPTransport(cfg)

	requests := transport.Requests()
	if requests == nil {
		t.Error("expected non-nil requests channel")
	}
}

func TestStdioTransportConnectNoCommand(t *testing.T) {
	cfg := &ServerConfig{
		ID:      "test",
		Command: "", // No command
	}

	transport := NewStdioTransport(cfg)

	err := transport.Connect(nil)
	if err == nil {
		t.Error("expected error for missing command")
	}
}

func TestHTTPTransportConnectNoURL(t *testing.T) {
	cfg := &ServerConfig{
		ID:        "test",
		Transport: TransportHTTP,
		URL:       "", // No URL
	}

	transport := NewHTTPTransport(cfg)

	err := transport.Connect(nil)
	if err == nil {
		t.Error("expected error for missing URL")
	}
}

func TestStdioTransportCallNotConnected(t *testing.T) {
	cfg := &ServerConfig{
		ID:      "test",
		Command: "echo",
	}

	transport := NewStdioTransport(cfg)

	_, err := transport.Call(nil, "test", nil)
	if err == nil {
		t.Error("expected error when not connected")
	}
}

func TestHTTPTransportCallNotConnected(t *testing.T) {
	cfg := &ServerConfig{
		ID:  "test",
		URL: "https://mcp.example.com",
	}

	transport := NewHTTPTransport(cfg)

	_, err := transport.Call(nil, "test", nil)
	if err == nil {
		t.Error("expected error when not connected")
	}
}

func TestStdioTransportNotifyNotConnected(t *testing.T) {
	cfg := &ServerConfig{
		ID:      "test",
		Command: "echo",
	}

	transport := NewStdioTransport(cfg)

	err := transport.Notify(nil, "test", nil)
	if err == nil {
		t.Error("expected error when not connected")
	}
}

func TestHTTPTransportNotifyNotConnected(t *testing.T) {
	cfg := &ServerConfig{
		ID:  "test",
		URL: "https://mcp.example.com",
	}

	transport := NewHTTPTransport(cfg)

	err := transport.Notify(nil, "test", nil)
	if err == nil {
		t.Error("expected error when not connected")
	}
}

func TestStdioTransportRespondNotConnected(t *testing.T) {
	cfg := &ServerConfig{
		ID:      "test",
		Command: "echo",
	}

	transport := NewStdioTransport(cfg)

	err := transport.Respond(nil, 1, nil, nil)
	if err == nil {
		t.Error("expected error when not connected")
	}
}

func TestHTTPTransportRespondNotConnected(t *testing.T) {
	cfg := &ServerConfig{
		ID:  "test",
		URL: "https://mcp.example.com",
	}

	transport := NewHTTPTransport(cfg)

	err := transport.Respond(nil, 1, nil, nil)
	if err == nil {
		t.Error("expected error when not connected")
	}
}

func TestStdioTransportReadFrameParsesContentLength(t *testing.T) {
	transport := NewStdioTransport(&ServerConfig{ID: "test", Command: "echo"})
	body := `{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`
	wire := "Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body

	transport.stdout = bufio.NewReader(strings.NewReader(wire))
	frame, err := transport.readFrame()
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if string(frame) != body {
		t.Errorf("expected body %q, got %q", body, string(frame))
	}
}

func TestStdioTransportReadFrameMissingContentLength(t *testing.T) {
	transport := NewStdioTransport(&ServerConfig{ID: "test", Command: "echo"})
	transport.stdout = bufio.NewReader(strings.NewReader("X-Other: 1\r\n\r\nbody"))

	_, err := transport.readFrame()
	if err == nil {
		t.Error("expected error for missing Content-Length header")
	}
}

func TestStdioTransportReadFrameReadsTwoMessagesInSequence(t *testing.T) {
	transport := NewStdioTransport(&ServerConfig{ID: "test", Command: "echo"})
	first := `{"jsonrpc":"2.0","method":"ping"}`
	second := `{"jsonrpc":"2.0","method":"pong"}`
	wire := "Content-Length: " + strconv.Itoa(len(first)) + "\r\n\r\n" + first +
		"Content-Length: " + strconv.Itoa(len(second)) + "\r\n\r\n" + second

	transport.stdout = bufio.NewReader(strings.NewReader(wire))
	f1, err := transport.readFrame()
	if err != nil {
		t.Fatalf("readFrame 1: %v", err)
	}
	if string(f1) != first {
		t.Errorf("expected %q, got %q", first, string(f1))
	}
	f2, err := transport.readFrame()
	if err != nil {
		t.Fatalf("readFrame 2: %v", err)
	}
	if string(f2) != second {
		t.Errorf("expected %q, got %q", second, string(f2))
	}
}

func TestHTTPTransportCallRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{"ok":true}}`))
	}))
	defer server.Close()

	cfg := &ServerConfig{
		ID:         "test",
		URL:        server.URL,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	}
	transport := NewHTTPTransport(cfg)
	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer transport.Close()

	result, err := transport.Call(context.Background(), "ping", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(result) != `{"ok":true}` {
		t.Errorf("unexpected result: %s", result)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestHTTPTransportCallExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := &ServerConfig{
		ID:         "test",
		URL:        server.URL,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}
	transport := NewHTTPTransport(cfg)
	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer transport.Close()

	_, err := transport.Call(context.Background(), "ping", nil)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", calls.Load())
	}
}
