package api

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpmux/mcpmux/internal/config"
	"github.com/mcpmux/mcpmux/internal/contracts"
	"github.com/mcpmux/mcpmux/internal/domain"
	"github.com/mcpmux/mcpmux/internal/errors"
)

// mockServerAccessor implements the contracts.ServerAccessor interface for testing.
type mockServerAccessor struct {
	servers map[string]domain.ServerStatus

	startErr   error
	stopErr    error
	restartErr error

	started   []string
	stopped   []string
	restarted []string
}

func newMockServerAccessor(statuses ...domain.ServerStatus) *mockServerAccessor {
	m := &mockServerAccessor{servers: make(map[string]domain.ServerStatus)}
	for _, s := range statuses {
		m.servers[s.Name] = s
	}
	return m
}

func (m *mockServerAccessor) Servers() []domain.ServerStatus {
	out := make([]domain.ServerStatus, 0, len(m.servers))
	for _, s := range m.servers {
		out = append(out, s)
	}
	return out
}

func (m *mockServerAccessor) Server(name string) (domain.ServerStatus, error) {
	s, ok := m.servers[name]
	if !ok {
		return domain.ServerStatus{}, fmt.Errorf("%w: '%s'", errors.ErrServerNotFound, name)
	}
	return s, nil
}

func (m *mockServerAccessor) Start(_ context.Context, name string) (domain.ServerStatus, error) {
	s, ok := m.servers[name]
	if !ok {
		return domain.ServerStatus{}, fmt.Errorf("%w: '%s'", errors.ErrServerNotFound, name)
	}
	if m.startErr != nil {
		return s, m.startErr
	}
	s.State = domain.ServerStateRunning
	m.servers[name] = s
	m.started = append(m.started, name)
	return s, nil
}

func (m *mockServerAccessor) Stop(_ context.Context, name string) (domain.ServerStatus, error) {
	s, ok := m.servers[name]
	if !ok {
		return domain.ServerStatus{}, fmt.Errorf("%w: '%s'", errors.ErrServerNotFound, name)
	}
	if m.stopErr != nil {
		return s, m.stopErr
	}
	s.State = domain.ServerStateStopped
	m.servers[name] = s
	m.stopped = append(m.stopped, name)
	return s, nil
}

func (m *mockServerAccessor) Restart(_ context.Context, name string) (domain.ServerStatus, error) {
	s, ok := m.servers[name]
	if !ok {
		return domain.ServerStatus{}, fmt.Errorf("%w: '%s'", errors.ErrServerNotFound, name)
	}
	if m.restartErr != nil {
		return s, m.restartErr
	}
	s.State = domain.ServerStateRunning
	s.RestartCount++
	m.servers[name] = s
	m.restarted = append(m.restarted, name)
	return s, nil
}

// mockCapabilityView implements the contracts.CapabilityView interface for testing.
type mockCapabilityView struct {
	caps []domain.Capability
}

func (m *mockCapabilityView) Capabilities() []domain.Capability {
	out := make([]domain.Capability, len(m.caps))
	copy(out, m.caps)
	return out
}

func (m *mockCapabilityView) CapabilitiesByKind(kind domain.CapabilityKind) []domain.Capability {
	out := make([]domain.Capability, 0, len(m.caps))
	for _, c := range m.caps {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func (m *mockCapabilityView) Resolve(kind domain.CapabilityKind, qualifiedName string) (domain.Capability, bool) {
	for _, c := range m.caps {
		if c.Kind == kind && c.QualifiedName == qualifiedName {
			return c, true
		}
	}
	return domain.Capability{}, false
}

// mockInvoker implements the contracts.Invoker interface for testing.
type mockInvoker struct {
	callResult json.RawMessage
	callErr    error

	lastTool string
	lastArgs map[string]any
}

func (m *mockInvoker) CallTool(_ context.Context, qualifiedName string, args map[string]any) (json.RawMessage, error) {
	m.lastTool = qualifiedName
	m.lastArgs = args
	if m.callErr != nil {
		return nil, m.callErr
	}
	return m.callResult, nil
}

func (m *mockInvoker) ReadResource(_ context.Context, _ string) (json.RawMessage, error) {
	return nil, nil
}

func (m *mockInvoker) GetPrompt(_ context.Context, _ string, _ map[string]string) (json.RawMessage, error) {
	return nil, nil
}

// mockHealthMonitor implements the contracts.HealthMonitor interface for testing.
type mockHealthMonitor struct {
	records map[string]domain.ServerHealth
}

func newMockHealthMonitor(records ...domain.ServerHealth) *mockHealthMonitor {
	m := &mockHealthMonitor{records: make(map[string]domain.ServerHealth)}
	for _, r := range records {
		m.records[r.Name] = r
	}
	return m
}

func (m *mockHealthMonitor) Status(name string) (domain.ServerHealth, error) {
	r, ok := m.records[name]
	if !ok {
		return domain.ServerHealth{}, fmt.Errorf("%w: '%s'", errors.ErrHealthNotTracked, name)
	}
	return r, nil
}

func (m *mockHealthMonitor) List() []domain.ServerHealth {
	out := make([]domain.ServerHealth, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	return out
}

func (m *mockHealthMonitor) Update(name string, status domain.HealthStatus, latency *time.Duration) error {
	r := m.records[name]
	r.Name = name
	r.Status = status
	r.Latency = latency
	m.records[name] = r
	return nil
}

// mockReloader implements the contracts.Reloader interface for testing.
type mockReloader struct {
	summary domain.ReloadSummary
	err     error

	lastEntries []config.ServerEntry
}

func (m *mockReloader) Reload(_ context.Context, servers []config.ServerEntry) (domain.ReloadSummary, error) {
	m.lastEntries = servers
	if m.err != nil {
		return domain.ReloadSummary{}, m.err
	}
	return m.summary, nil
}

// mockConfigSource implements the contracts.ConfigSource interface for testing.
type mockConfigSource struct {
	entries []config.ServerEntry
	err     error
}

func (m *mockConfigSource) ServerEntries() ([]config.ServerEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.entries, nil
}

var (
	_ contracts.ServerAccessor = (*mockServerAccessor)(nil)
	_ contracts.CapabilityView = (*mockCapabilityView)(nil)
	_ contracts.Invoker        = (*mockInvoker)(nil)
	_ contracts.HealthMonitor  = (*mockHealthMonitor)(nil)
	_ contracts.Reloader       = (*mockReloader)(nil)
	_ contracts.ConfigSource   = (*mockConfigSource)(nil)
)

func TestHandleServers_SortedByName(t *testing.T) {
	t.Parallel()

	accessor := newMockServerAccessor(
		domain.ServerStatus{Name: "zeta", Kind: domain.ServerKindStdio, State: domain.ServerStateRunning},
		domain.ServerStatus{Name: "alpha", Kind: domain.ServerKindEmbedded, State: domain.ServerStateRunning},
		domain.ServerStatus{Name: "mid", Kind: domain.ServerKindSSE, State: domain.ServerStateStopped},
	)

	result, err := handleServers(accessor, "", "")
	require.NoError(t, err)
	require.Len(t, result.Body.Servers, 3)

	assert.Equal(t, "alpha", result.Body.Servers[0].Name)
	assert.Equal(t, "mid", result.Body.Servers[1].Name)
	assert.Equal(t, "zeta", result.Body.Servers[2].Name)
}

func TestHandleServers_FilterByState(t *testing.T) {
	t.Parallel()

	accessor := newMockServerAccessor(
		domain.ServerStatus{Name: "up", State: domain.ServerStateRunning},
		domain.ServerStatus{Name: "down", State: domain.ServerStateStopped},
		domain.ServerStatus{Name: "dead", State: domain.ServerStateCrashed},
	)

	result, err := handleServers(accessor, "running", "")
	require.NoError(t, err)
	require.Len(t, result.Body.Servers, 1)
	assert.Equal(t, "up", result.Body.Servers[0].Name)
}

func TestHandleServers_FilterByKind(t *testing.T) {
	t.Parallel()

	accessor := newMockServerAccessor(
		domain.ServerStatus{Name: "child", Kind: domain.ServerKindStdio, State: domain.ServerStateRunning},
		domain.ServerStatus{Name: "inproc", Kind: domain.ServerKindEmbedded, State: domain.ServerStateRunning},
		domain.ServerStatus{Name: "remote", Kind: domain.ServerKindSSE, State: domain.ServerStateRunning},
	)

	result, err := handleServers(accessor, "", "stdio-process")
	require.NoError(t, err)
	require.Len(t, result.Body.Servers, 1)
	assert.Equal(t, "child", result.Body.Servers[0].Name)
}

func TestHandleServer_NotFound(t *testing.T) {
	t.Parallel()

	accessor := newMockServerAccessor()

	result, err := handleServer(accessor, "ghost")
	require.Error(t, err)
	require.Nil(t, result)

	assert.ErrorIs(t, err, errors.ErrServerNotFound)
}

func TestHandleServerStart(t *testing.T) {
	t.Parallel()

	accessor := newMockServerAccessor(
		domain.ServerStatus{Name: "github", Kind: domain.ServerKindStdio, State: domain.ServerStateStopped},
	)

	result, err := handleServerStart(context.Background(), accessor, "github")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, string(domain.ServerStateRunning), result.Body.State)
	assert.Equal(t, []string{"github"}, accessor.started)
}

func TestHandleServerStop(t *testing.T) {
	t.Parallel()

	accessor := newMockServerAccessor(
		domain.ServerStatus{Name: "github", Kind: domain.ServerKindStdio, State: domain.ServerStateRunning},
	)

	result, err := handleServerStop(context.Background(), accessor, "github")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, string(domain.ServerStateStopped), result.Body.State)
	assert.Equal(t, []string{"github"}, accessor.stopped)
}

func TestHandleServerRestart(t *testing.T) {
	t.Parallel()

	accessor := newMockServerAccessor(
		domain.ServerStatus{Name: "github", Kind: domain.ServerKindStdio, State: domain.ServerStateRunning},
	)

	result, err := handleServerRestart(context.Background(), accessor, "github")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, string(domain.ServerStateRunning), result.Body.State)
	assert.Equal(t, 1, result.Body.RestartCount)
	assert.Equal(t, []string{"github"}, accessor.restarted)
}

func TestHandleServerStart_ErrorPassthrough(t *testing.T) {
	t.Parallel()

	accessor := newMockServerAccessor(
		domain.ServerStatus{Name: "github", State: domain.ServerStateStopped},
	)
	accessor.startErr = fmt.Errorf("%w: spawn failed", errors.ErrStartupFailed)

	result, err := handleServerStart(context.Background(), accessor, "github")
	require.Error(t, err)
	require.Nil(t, result)

	assert.ErrorIs(t, err, errors.ErrStartupFailed)
}

func TestDomainServerStatus_ToAPIType(t *testing.T) {
	t.Parallel()

	startedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	status := domain.ServerStatus{
		Name:           "github",
		Kind:           domain.ServerKindStreamableHTTP,
		State:          domain.ServerStateRunning,
		StartedAt:      &startedAt,
		RestartCount:   2,
		LastExitReason: "process exited with code 1",
		Capabilities:   7,
	}

	data, err := DomainServerStatus(status).ToAPIType()
	require.NoError(t, err)

	assert.Equal(t, "github", data.Name)
	assert.Equal(t, "streamable-http-remote", data.Kind)
	assert.Equal(t, "running", data.State)
	require.NotNil(t, data.StartedAt)
	assert.Equal(t, startedAt, *data.StartedAt)
	assert.Equal(t, 2, data.RestartCount)
	assert.Equal(t, "process exited with code 1", data.LastExitReason)
	assert.Equal(t, 7, data.Capabilities)
}
