package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-dbinstance/pkg/platform"
)

const (
	fmtConnectFailed  = "Connect failed: %v"
	fmtCallToolFailed = "CallTool failed: %v"
)

// authRoundTripper adds an X-API-Key header to all outgoing requests.
type authRoundTripper struct {
	key  string
	base http.RoundTripper
}

func (a *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("X-API-Key", a.key)
	resp, err := a.base.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("round trip: %w", err)
	}
	return resp, nil
}

func newTestHTTPServer(t *testing.T, cfg *platform.Config) (*httptest.Server, *platform.Platform) {
	t.Helper()

	p, err := platform.New(platform.WithConfig(cfg))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	streamHandler := mcp.NewStreamableHTTPHandler(
		func(*http.Request) *mcp.Server { return p.MCPServer() }, nil)
	handler, err := wrapWithAuth(streamHandler, cfg.Auth)
	if err != nil {
		t.Fatalf("wrapWithAuth() error = %v", err)
	}

	httpServer := httptest.NewServer(corsMiddleware(handler))
	t.Cleanup(httpServer.Close)
	return httpServer, p
}

// TestStreamableHTTP_ServerInfo exercises the server_info tool over the
// Streamable HTTP transport without auth. This is the baseline.
func TestStreamableHTTP_ServerInfo(t *testing.T) {
	ctx := context.Background()
	httpServer, _ := newTestHTTPServer(t, platform.DefaultConfig())

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: httpServer.URL}, nil)
	if err != nil {
		t.Fatalf(fmtConnectFailed, err)
	}
	defer func() { _ = session.Close() }()

	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "server_info"})
	if err != nil {
		t.Fatalf(fmtCallToolFailed, err)
	}
	if len(result.Content) == 0 {
		t.Fatal("empty content")
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}

	var info struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(tc.Text), &info); err != nil {
		t.Fatalf("unmarshal info: %v", err)
	}
	if info.Name != "mcp-dbinstance" {
		t.Errorf("name = %q, want %q", info.Name, "mcp-dbinstance")
	}
}

// TestStreamableHTTP_WithAPIKey exercises the full auth chain: requests
// without a key are rejected, requests with the configured key pass.
func TestStreamableHTTP_WithAPIKey(t *testing.T) {
	ctx := context.Background()
	apiKey := "test-key-12345"

	cfg := platform.DefaultConfig()
	cfg.Auth.APIKeys.Enabled = true
	cfg.Auth.APIKeys.Keys = []platform.APIKeyDef{{Key: apiKey, Name: "ci"}}

	httpServer, _ := newTestHTTPServer(t, cfg)

	t.Run("rejects missing key", func(t *testing.T) {
		client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
		_, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: httpServer.URL}, nil)
		if err == nil {
			t.Fatal("expected connect error without API key")
		}
	})

	t.Run("accepts configured key", func(t *testing.T) {
		httpClient := &http.Client{
			Transport: &authRoundTripper{key: apiKey, base: http.DefaultTransport},
		}
		client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
		session, err := client.Connect(ctx, &mcp.StreamableClientTransport{
			Endpoint:   httpServer.URL,
			HTTPClient: httpClient,
		}, nil)
		if err != nil {
			t.Fatalf(fmtConnectFailed, err)
		}
		defer func() { _ = session.Close() }()

		if _, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "server_info"}); err != nil {
			t.Fatalf(fmtCallToolFailed, err)
		}
	})
}

// TestStreamableHTTP_ListContexts exercises list_contexts end to end with
// no instances configured.
func TestStreamableHTTP_ListContexts(t *testing.T) {
	ctx := context.Background()
	httpServer, _ := newTestHTTPServer(t, platform.DefaultConfig())

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: httpServer.URL}, nil)
	if err != nil {
		t.Fatalf(fmtConnectFailed, err)
	}
	defer func() { _ = session.Close() }()

	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "list_contexts"})
	if err != nil {
		t.Fatalf(fmtCallToolFailed, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}

	var out struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(tc.Text), &out); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if out.Count != 0 {
		t.Errorf("count = %d, want 0", out.Count)
	}
}
