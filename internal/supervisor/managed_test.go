package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/jsonrpc2"

	"github.com/mcpmux/mcpmux/internal/config"
	"github.com/mcpmux/mcpmux/internal/domain"
	internalerrors "github.com/mcpmux/mcpmux/internal/errors"
	"github.com/mcpmux/mcpmux/internal/transport"
)

func intPtr(v int) *int {
	return &v
}

func pairSchema() mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"a": map[string]interface{}{"type": "number"},
			"b": map[string]interface{}{"type": "number"},
		},
		Required: []string{"a", "b"},
	}
}

func bindPair(request mcp.CallToolRequest) (float64, float64, error) {
	args := struct {
		A float64 `json:"a"`
		B float64 `json:"b"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return 0, 0, err
	}
	return args.A, args.B, nil
}

// calcBackend builds an in-process backend advertising two tools.
func calcBackend() *server.MCPServer {
	s := server.NewMCPServer("calc-backend", "1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s.AddTool(mcp.Tool{
		Name:        "add",
		Description: "Adds two numbers.",
		InputSchema: pairSchema(),
	}, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		a, b, err := bindPair(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("%g", a+b)), nil
	})

	s.AddTool(mcp.Tool{
		Name:        "subtract",
		Description: "Subtracts b from a.",
		InputSchema: pairSchema(),
	}, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		a, b, err := bindPair(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("%g", a-b)), nil
	})

	return s
}

type transitionRecorder struct {
	mu     sync.Mutex
	events []TransitionEvent
}

func (r *transitionRecorder) handle(ev TransitionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *transitionRecorder) states() []domain.ServerState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.ServerState, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.To)
	}
	return out
}

// silentTransport accepts writes but never produces a frame, so handshakes
// against it time out.
type silentTransport struct {
	frames chan jsonrpc2.Message
	done   chan struct{}
	once   sync.Once
}

func newSilentTransport() *silentTransport {
	return &silentTransport{
		frames: make(chan jsonrpc2.Message),
		done:   make(chan struct{}),
	}
}

func (s *silentTransport) Start(context.Context) error             { return nil }
func (s *silentTransport) Send(context.Context, jsonrpc2.Message) error { return nil }
func (s *silentTransport) Frames() <-chan jsonrpc2.Message         { return s.frames }
func (s *silentTransport) Done() <-chan struct{}                   { return s.done }
func (s *silentTransport) Err() error                              { return nil }

func (s *silentTransport) Close() error {
	s.once.Do(func() {
		close(s.frames)
		close(s.done)
	})
	return nil
}

func inprocEntry(name string) config.ServerEntry {
	return config.ServerEntry{
		Name:   name,
		Kind:   domain.ServerKindEmbedded,
		Module: "calc",
	}
}

func TestManagedServer_Lifecycle(t *testing.T) {
	t.Parallel()

	rec := &transitionRecorder{}

	var regMu sync.Mutex
	var registered []domain.Capability

	ms := NewManagedServer(hclog.NewNullLogger(), inprocEntry("calc"),
		func() (transport.Transport, error) {
			return transport.NewInProc(hclog.NewNullLogger(), calcBackend()), nil
		},
		WithTransitionHandler(rec.handle),
		WithRegisterHook(func(name string, caps []domain.Capability) error {
			regMu.Lock()
			defer regMu.Unlock()
			registered = caps
			return nil
		}),
	)

	require.Equal(t, domain.ServerStateStopped, ms.State())

	require.NoError(t, ms.Start(context.Background()))

	status := ms.Status()
	require.Equal(t, domain.ServerStateRunning, status.State)
	require.Equal(t, 2, status.Capabilities)
	require.NotNil(t, status.StartedAt)
	require.Empty(t, status.LastExitReason)

	caps := ms.Capabilities()
	require.Len(t, caps, 2)
	require.Equal(t, "add", caps[0].OriginalName)
	require.Equal(t, domain.CapabilityTool, caps[0].Kind)
	require.Equal(t, "calc", caps[0].ServerName)
	require.NotEmpty(t, caps[0].Schema)

	regMu.Lock()
	require.Len(t, registered, 2)
	regMu.Unlock()

	_, ok := ms.Conn()
	require.True(t, ok)

	err := ms.Start(context.Background())
	require.ErrorIs(t, err, internalerrors.ErrAlreadyInState)

	require.NoError(t, ms.Stop(context.Background()))
	require.Equal(t, domain.ServerStateStopped, ms.State())

	_, ok = ms.Conn()
	require.False(t, ok)

	require.Equal(t, []domain.ServerState{
		domain.ServerStateStarting,
		domain.ServerStateRunning,
		domain.ServerStateStopping,
		domain.ServerStateStopped,
	}, rec.states())
}

func TestManagedServer_InvokesToolOverConn(t *testing.T) {
	t.Parallel()

	ms := NewManagedServer(hclog.NewNullLogger(), inprocEntry("calc"),
		func() (transport.Transport, error) {
			return transport.NewInProc(hclog.NewNullLogger(), calcBackend()), nil
		},
	)
	require.NoError(t, ms.Start(context.Background()))
	t.Cleanup(func() { _ = ms.Stop(context.Background()) })

	conn, ok := ms.Conn()
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := conn.Call(ctx, "tools/call", map[string]any{
		"name":      "add",
		"arguments": map[string]any{"a": 2, "b": 3},
	})
	require.NoError(t, err)
	require.Contains(t, string(raw), "5")
}

func TestManagedServer_CrashAndRestart(t *testing.T) {
	t.Parallel()

	entry := inprocEntry("crashy")
	entry.RestartPolicy = domain.RestartAlways
	entry.MaxRestarts = intPtr(3)
	entry.RestartDelay = config.Duration{Duration: 10 * time.Millisecond}

	var mu sync.Mutex
	var made []transport.Transport

	ms := NewManagedServer(hclog.NewNullLogger(), entry,
		func() (transport.Transport, error) {
			tr := transport.NewInProc(hclog.NewNullLogger(), calcBackend())
			mu.Lock()
			made = append(made, tr)
			mu.Unlock()
			return tr, nil
		},
	)

	require.NoError(t, ms.Start(context.Background()))
	t.Cleanup(func() { _ = ms.Stop(context.Background()) })

	// Kill the live transport out from under the server.
	mu.Lock()
	first := made[0]
	mu.Unlock()
	require.NoError(t, first.Close())

	require.Eventually(t, func() bool {
		status := ms.Status()
		return status.State == domain.ServerStateRunning && status.RestartCount == 1
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	require.Len(t, made, 2)
	mu.Unlock()
}

func TestManagedServer_RestartBudgetExhausted(t *testing.T) {
	t.Parallel()

	entry := inprocEntry("flaky")
	entry.RestartPolicy = domain.RestartOnFailure
	entry.MaxRestarts = intPtr(1)
	entry.RestartDelay = config.Duration{Duration: 10 * time.Millisecond}

	var calls atomic.Int32

	ms := NewManagedServer(hclog.NewNullLogger(), entry,
		func() (transport.Transport, error) {
			if calls.Add(1) == 2 {
				return nil, fmt.Errorf("spawn refused")
			}
			return transport.NewInProc(hclog.NewNullLogger(), calcBackend()), nil
		},
	)

	require.NoError(t, ms.Start(context.Background()))
	require.Equal(t, domain.ServerStateRunning, ms.State())

	// Crash it; the single restart attempt hits the refusing factory.
	require.NoError(t, currentTransport(t, ms).Close())

	require.Eventually(t, func() bool {
		st := ms.Status()
		return st.State == domain.ServerStateCrashed && st.RestartCount == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Budget is spent; no further attempts happen.
	time.Sleep(50 * time.Millisecond)
	st := ms.Status()
	require.Equal(t, domain.ServerStateCrashed, st.State)
	require.Equal(t, 1, st.RestartCount)
	require.Contains(t, st.LastExitReason, "spawn refused")

	// A manual start gets a fresh budget and a healthy factory again.
	require.NoError(t, ms.Start(context.Background()))
	st = ms.Status()
	require.Equal(t, domain.ServerStateRunning, st.State)
	require.Equal(t, 0, st.RestartCount)

	_ = ms.Stop(context.Background())
}

func TestManagedServer_NeverPolicyStaysCrashed(t *testing.T) {
	t.Parallel()

	entry := inprocEntry("oneshot")
	entry.RestartPolicy = domain.RestartNever
	entry.RestartDelay = config.Duration{Duration: 10 * time.Millisecond}

	var spawns atomic.Int32
	ms := NewManagedServer(hclog.NewNullLogger(), entry,
		func() (transport.Transport, error) {
			spawns.Add(1)
			return transport.NewInProc(hclog.NewNullLogger(), calcBackend()), nil
		},
	)

	require.NoError(t, ms.Start(context.Background()))
	require.NoError(t, currentTransport(t, ms).Close())

	require.Eventually(t, func() bool {
		return ms.State() == domain.ServerStateCrashed
	}, 5*time.Second, 10*time.Millisecond)

	// Well past the delay a restart would have used.
	time.Sleep(100 * time.Millisecond)
	st := ms.Status()
	require.Equal(t, domain.ServerStateCrashed, st.State)
	require.Equal(t, 0, st.RestartCount)
	require.Equal(t, int32(1), spawns.Load())
}

// currentTransport digs the live transport out for crash simulation.
func currentTransport(t *testing.T, ms *ManagedServer) transport.Transport {
	t.Helper()

	ms.mu.Lock()
	defer ms.mu.Unlock()
	require.NotNil(t, ms.tr)

	return ms.tr
}

func TestManagedServer_HandshakeTimeoutCrashes(t *testing.T) {
	t.Parallel()

	ms := NewManagedServer(hclog.NewNullLogger(), inprocEntry("mute"),
		func() (transport.Transport, error) {
			return newSilentTransport(), nil
		},
		WithStartupTimeout(150*time.Millisecond),
	)

	err := ms.Start(context.Background())
	require.ErrorIs(t, err, internalerrors.ErrStartupFailed)

	status := ms.Status()
	require.Equal(t, domain.ServerStateCrashed, status.State)
	require.Contains(t, status.LastExitReason, "handshake")
}

func TestManagedServer_RegistrationConflictVetoesRunning(t *testing.T) {
	t.Parallel()

	entry := inprocEntry("dupe")
	entry.RestartPolicy = domain.RestartAlways
	entry.RestartDelay = config.Duration{Duration: 10 * time.Millisecond}

	var calls atomic.Int32

	ms := NewManagedServer(hclog.NewNullLogger(), entry,
		func() (transport.Transport, error) {
			calls.Add(1)
			return transport.NewInProc(hclog.NewNullLogger(), calcBackend()), nil
		},
		WithRegisterHook(func(name string, caps []domain.Capability) error {
			return fmt.Errorf("%w: tool 'add' already registered", internalerrors.ErrCapabilityConflict)
		}),
	)

	err := ms.Start(context.Background())
	require.ErrorIs(t, err, internalerrors.ErrCapabilityConflict)
	require.Equal(t, domain.ServerStateCrashed, ms.State())

	// Conflicts are deterministic, so the restart policy must not retry.
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, domain.ServerStateCrashed, ms.State())
	require.Equal(t, int32(1), calls.Load())
}

func TestManagedServer_RefreshPicksUpNewTools(t *testing.T) {
	t.Parallel()

	backend := calcBackend()

	ms := NewManagedServer(hclog.NewNullLogger(), inprocEntry("calc"),
		func() (transport.Transport, error) {
			return transport.NewInProc(hclog.NewNullLogger(), backend), nil
		},
	)
	require.NoError(t, ms.Start(context.Background()))
	t.Cleanup(func() { _ = ms.Stop(context.Background()) })

	require.Equal(t, 2, ms.Status().Capabilities)

	backend.AddTool(mcp.Tool{
		Name:        "multiply",
		Description: "Multiplies two numbers.",
		InputSchema: pairSchema(),
	}, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("0"), nil
	})
	ms.handleNotification("notifications/tools/list_changed", nil)

	require.Eventually(t, func() bool {
		return ms.Status().Capabilities == 3
	}, 5*time.Second, 10*time.Millisecond)
}
