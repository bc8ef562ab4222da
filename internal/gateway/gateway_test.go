package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/mcpmux/mcpmux/internal/composer"
	"github.com/mcpmux/mcpmux/internal/config"
	"github.com/mcpmux/mcpmux/internal/domain"
)

func testLogger() hclog.Logger {
	return hclog.NewNullLogger()
}

// fakeCore is a scripted composition core: a fixed capability set and
// canned invocation results, recording what the gateway asked for.
type fakeCore struct {
	mu   sync.Mutex
	caps []domain.Capability

	toolResult     json.RawMessage
	toolErr        error
	resourceResult json.RawMessage
	promptResult   json.RawMessage

	lastTool       string
	lastArgs       map[string]any
	lastURI        string
	lastPrompt     string
	lastPromptArgs map[string]string
}

var _ Core = (*fakeCore)(nil)

func (f *fakeCore) setCaps(caps []domain.Capability) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.caps = caps
}

func (f *fakeCore) Capabilities() []domain.Capability {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Capability(nil), f.caps...)
}

func (f *fakeCore) CapabilitiesByKind(kind domain.CapabilityKind) []domain.Capability {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.Capability
	for _, c := range f.caps {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeCore) Resolve(kind domain.CapabilityKind, qualifiedName string) (domain.Capability, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range f.caps {
		if c.Kind == kind && c.QualifiedName == qualifiedName {
			return c, true
		}
	}
	return domain.Capability{}, false
}

func (f *fakeCore) CallTool(_ context.Context, qualifiedName string, args map[string]any) (json.RawMessage, error) {
	f.mu.Lock()
	f.lastTool = qualifiedName
	f.lastArgs = args
	f.mu.Unlock()

	if f.toolErr != nil {
		return nil, f.toolErr
	}
	return f.toolResult, nil
}

func (f *fakeCore) ReadResource(_ context.Context, qualifiedURI string) (json.RawMessage, error) {
	f.mu.Lock()
	f.lastURI = qualifiedURI
	f.mu.Unlock()

	return f.resourceResult, nil
}

func (f *fakeCore) GetPrompt(_ context.Context, qualifiedName string, args map[string]string) (json.RawMessage, error) {
	f.mu.Lock()
	f.lastPrompt = qualifiedName
	f.lastPromptArgs = args
	f.mu.Unlock()

	return f.promptResult, nil
}

func toolCap(qualified, server, original string) domain.Capability {
	return domain.Capability{
		QualifiedName: qualified,
		OriginalName:  original,
		ServerName:    server,
		Kind:          domain.CapabilityTool,
		Description:   "tool " + original,
		Schema:        json.RawMessage(`{"type":"object","properties":{"a":{"type":"number"}}}`),
	}
}

// rpcResponse is the envelope HandleMessage answers with.
type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// handle drives one raw JSON-RPC message through the front server.
func handle(t *testing.T, g *Gateway, raw string) rpcResponse {
	t.Helper()

	msg := g.front.HandleMessage(context.Background(), json.RawMessage(raw))
	if msg == nil {
		return rpcResponse{}
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	return resp
}

func initSession(t *testing.T, g *Gateway) {
	t.Helper()

	resp := handle(t, g, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test-client","version":"0.0.1"}}}`)
	require.Nil(t, resp.Error)
	handle(t, g, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
}

func listToolNames(t *testing.T, g *Gateway) map[string]json.RawMessage {
	t.Helper()

	resp := handle(t, g, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	require.Nil(t, resp.Error)

	var result struct {
		Tools []struct {
			Name        string          `json:"name"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))

	out := make(map[string]json.RawMessage, len(result.Tools))
	for _, tool := range result.Tools {
		out[tool.Name] = tool.InputSchema
	}
	return out
}

type toolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

func callTool(t *testing.T, g *Gateway, name, args string) toolResult {
	t.Helper()

	resp := handle(t, g, fmt.Sprintf(
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"%s","arguments":%s}}`, name, args))
	require.Nil(t, resp.Error)

	var result toolResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	return result
}

func TestGateway_SyncPublishesTools(t *testing.T) {
	t.Parallel()

	core := &fakeCore{caps: []domain.Capability{
		toolCap("calc:add", "calc", "add"),
		toolCap("calc:subtract", "calc", "subtract"),
	}}
	g := New(testLogger(), config.GatewayConfig{}, core)
	g.Sync()
	initSession(t, g)

	tools := listToolNames(t, g)
	require.Len(t, tools, 2)
	require.Contains(t, tools, "calc:add")
	require.Contains(t, tools, "calc:subtract")

	// The backend's schema is advertised verbatim.
	var schema struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(tools["calc:add"], &schema))
	require.Contains(t, schema.Properties, "a")
}

func TestGateway_SyncRemovesDeparted(t *testing.T) {
	t.Parallel()

	core := &fakeCore{caps: []domain.Capability{
		toolCap("calc:add", "calc", "add"),
		toolCap("echo:ping", "echo", "ping"),
	}}
	g := New(testLogger(), config.GatewayConfig{}, core)
	g.Sync()
	initSession(t, g)
	require.Len(t, listToolNames(t, g), 2)

	core.setCaps([]domain.Capability{toolCap("echo:ping", "echo", "ping")})
	g.Sync()

	tools := listToolNames(t, g)
	require.Len(t, tools, 1)
	require.Contains(t, tools, "echo:ping")
}

func TestGateway_SyncReplacesChangedSchema(t *testing.T) {
	t.Parallel()

	entry := toolCap("calc:add", "calc", "add")
	core := &fakeCore{caps: []domain.Capability{entry}}
	g := New(testLogger(), config.GatewayConfig{}, core)
	g.Sync()
	initSession(t, g)

	entry.Schema = json.RawMessage(`{"type":"object","properties":{"b":{"type":"number"}}}`)
	core.setCaps([]domain.Capability{entry})
	g.Sync()

	tools := listToolNames(t, g)
	var schema struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(tools["calc:add"], &schema))
	require.Contains(t, schema.Properties, "b")
	require.NotContains(t, schema.Properties, "a")
}

func TestGateway_ToolCallDelegates(t *testing.T) {
	t.Parallel()

	core := &fakeCore{
		caps:       []domain.Capability{toolCap("calc:add", "calc", "add")},
		toolResult: json.RawMessage(`{"content":[{"type":"text","text":"5"}]}`),
	}
	g := New(testLogger(), config.GatewayConfig{}, core)
	g.Sync()
	initSession(t, g)

	result := callTool(t, g, "calc:add", `{"a":2,"b":3}`)
	require.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	require.Equal(t, "5", result.Content[0].Text)

	require.Equal(t, "calc:add", core.lastTool)
	require.Equal(t, map[string]any{"a": float64(2), "b": float64(3)}, core.lastArgs)
}

func TestGateway_ToolCallErrorStaysInBand(t *testing.T) {
	t.Parallel()

	core := &fakeCore{
		caps:    []domain.Capability{toolCap("calc:add", "calc", "add")},
		toolErr: fmt.Errorf("server 'calc' is not running"),
	}
	g := New(testLogger(), config.GatewayConfig{}, core)
	g.Sync()
	initSession(t, g)

	result := callTool(t, g, "calc:add", `{"a":1}`)
	require.True(t, result.IsError)
	require.Contains(t, result.Content[0].Text, "not running")
}

func TestGateway_ResourceRead(t *testing.T) {
	t.Parallel()

	core := &fakeCore{
		caps: []domain.Capability{{
			QualifiedName: "files:docs://readme",
			OriginalName:  "docs://readme",
			ServerName:    "files",
			Kind:          domain.CapabilityResource,
			Description:   "project readme",
			Schema:        json.RawMessage(`{"uri":"docs://readme","name":"readme","mimeType":"text/plain"}`),
		}},
		resourceResult: json.RawMessage(`{"contents":[{"uri":"docs://readme","mimeType":"text/plain","text":"read me first"}]}`),
	}
	g := New(testLogger(), config.GatewayConfig{}, core)
	g.Sync()
	initSession(t, g)

	resp := handle(t, g, `{"jsonrpc":"2.0","id":4,"method":"resources/list"}`)
	require.Nil(t, resp.Error)
	var listing struct {
		Resources []struct {
			URI  string `json:"uri"`
			Name string `json:"name"`
		} `json:"resources"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &listing))
	require.Len(t, listing.Resources, 1)
	require.Equal(t, "files:docs://readme", listing.Resources[0].URI)
	require.Equal(t, "readme", listing.Resources[0].Name)

	resp = handle(t, g, `{"jsonrpc":"2.0","id":5,"method":"resources/read","params":{"uri":"files:docs://readme"}}`)
	require.Nil(t, resp.Error)
	var read struct {
		Contents []struct {
			Text string `json:"text"`
		} `json:"contents"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &read))
	require.Len(t, read.Contents, 1)
	require.Equal(t, "read me first", read.Contents[0].Text)
	require.Equal(t, "files:docs://readme", core.lastURI)
}

func TestGateway_PromptGet(t *testing.T) {
	t.Parallel()

	core := &fakeCore{
		caps: []domain.Capability{{
			QualifiedName: "chat:greet",
			OriginalName:  "greet",
			ServerName:    "chat",
			Kind:          domain.CapabilityPrompt,
			Description:   "greeting prompt",
			Schema:        json.RawMessage(`{"name":"greet","description":"say hi","arguments":[{"name":"name","required":true}]}`),
		}},
		promptResult: json.RawMessage(`{"description":"greeting","messages":[{"role":"user","content":{"type":"text","text":"Hello, Ada!"}}]}`),
	}
	g := New(testLogger(), config.GatewayConfig{}, core)
	g.Sync()
	initSession(t, g)

	resp := handle(t, g, `{"jsonrpc":"2.0","id":6,"method":"prompts/list"}`)
	require.Nil(t, resp.Error)
	var listing struct {
		Prompts []struct {
			Name string `json:"name"`
		} `json:"prompts"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &listing))
	require.Len(t, listing.Prompts, 1)
	require.Equal(t, "chat:greet", listing.Prompts[0].Name)

	resp = handle(t, g, `{"jsonrpc":"2.0","id":7,"method":"prompts/get","params":{"name":"chat:greet","arguments":{"name":"Ada"}}}`)
	require.Nil(t, resp.Error)
	var prompt struct {
		Messages []struct {
			Content struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &prompt))
	require.Len(t, prompt.Messages, 1)
	require.Equal(t, "Hello, Ada!", prompt.Messages[0].Content.Text)

	require.Equal(t, "chat:greet", core.lastPrompt)
	require.Equal(t, map[string]string{"name": "Ada"}, core.lastPromptArgs)
}

func TestGateway_FollowsComposerLifecycle(t *testing.T) {
	t.Parallel()

	comp, err := composer.NewComposer(testLogger(), config.ComposerConfig{})
	require.NoError(t, err)

	g := New(testLogger(), config.GatewayConfig{}, comp)
	comp.SetCapabilityListener(g.Sync)

	require.NoError(t, comp.AddServer(config.ServerEntry{
		Name:   "calc",
		Kind:   domain.ServerKindEmbedded,
		Module: "calc",
	}))

	ctx := context.Background()
	comp.Supervisor().StartAll(ctx)
	t.Cleanup(func() { comp.Supervisor().StopAll(context.Background()) })

	initSession(t, g)

	tools := listToolNames(t, g)
	require.Len(t, tools, 4)
	require.Contains(t, tools, "calc:add")

	result := callTool(t, g, "calc:add", `{"a":2,"b":3}`)
	require.False(t, result.IsError)
	require.Equal(t, "5", result.Content[0].Text)

	// Stopping the backend prunes the front server through the listener.
	_, err = comp.Supervisor().Stop(ctx, "calc")
	require.NoError(t, err)
	require.Empty(t, listToolNames(t, g))

	// Bringing it back republishes.
	_, err = comp.Supervisor().Start(ctx, "calc")
	require.NoError(t, err)
	require.Len(t, listToolNames(t, g), 4)
}

func TestGateway_StreamableHTTPEndpoint(t *testing.T) {
	t.Parallel()

	core := &fakeCore{caps: []domain.Capability{toolCap("calc:add", "calc", "add")}}
	g := New(testLogger(), config.GatewayConfig{
		Transport: config.GatewayTransportStreamableHTTP,
		Addr:      "127.0.0.1:0",
	}, core)
	g.Sync()

	require.True(t, g.Enabled())
	require.NoError(t, g.Start(context.Background()))
	t.Cleanup(func() { _ = g.Stop(context.Background()) })

	addr := g.Addr()
	require.NotEmpty(t, addr)

	require.Error(t, g.Start(context.Background()))

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"probe","version":"0"}}}`
	req, err := http.NewRequest(http.MethodPost, "http://"+addr+endpointPath, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(payload), "protocolVersion")

	require.NoError(t, g.Stop(context.Background()))
	require.Empty(t, g.Addr())

	// The endpoint refuses connections once stopped.
	require.Eventually(t, func() bool {
		_, dialErr := http.Post("http://"+addr+endpointPath, "application/json", strings.NewReader(body))
		return dialErr != nil
	}, 5*time.Second, 50*time.Millisecond)
}

func TestGateway_DisabledTransportIsNoop(t *testing.T) {
	t.Parallel()

	g := New(testLogger(), config.GatewayConfig{}, &fakeCore{})
	require.False(t, g.Enabled())
	require.NoError(t, g.Start(context.Background()))
	require.Empty(t, g.Addr())
	require.NoError(t, g.Stop(context.Background()))
}

func TestGateway_UnknownTransportRejected(t *testing.T) {
	t.Parallel()

	g := New(testLogger(), config.GatewayConfig{Transport: "carrier-pigeon"}, &fakeCore{})
	err := g.Start(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown gateway transport")
}
