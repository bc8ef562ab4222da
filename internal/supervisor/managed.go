// Package supervisor owns backend server lifecycles: spawning transports,
// running the discovery handshake, detecting crashes and applying restart
// policies. State changes are pushed outward through transition events; the
// supervisor never reaches into the registry or composer directly.
package supervisor

import (
	"context"
	stdErrors "errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hashicorp/go-hclog"

	"github.com/mcpmux/mcpmux/internal/config"
	"github.com/mcpmux/mcpmux/internal/domain"
	"github.com/mcpmux/mcpmux/internal/errors"
	"github.com/mcpmux/mcpmux/internal/router"
	"github.com/mcpmux/mcpmux/internal/transport"
)

// TransportFactory creates a fresh transport for one server incarnation. A
// restart always tears the old transport down before the factory is invoked
// again, so at most one live transport exists per server.
type TransportFactory func() (transport.Transport, error)

// TransitionEvent records one state machine transition.
type TransitionEvent struct {
	Server string
	From   domain.ServerState
	To     domain.ServerState

	// Reason carries the exit reason on transitions into Crashed.
	Reason string
}

// TransitionHandler observes state transitions. Handlers run on the
// goroutine driving the transition and should return quickly.
type TransitionHandler func(TransitionEvent)

// RegisterHook publishes a server's discovered capabilities while it is
// still Starting. A non-nil error vetoes the transition to Running.
type RegisterHook func(server string, caps []domain.Capability) error

// DefaultStartupTimeout bounds the spawn-plus-discovery phase of a start.
func DefaultStartupTimeout() time.Duration {
	return 30 * time.Second
}

// ManagedOption configures a ManagedServer.
type ManagedOption func(*ManagedServer)

// WithTransitionHandler registers the transition observer.
func WithTransitionHandler(fn TransitionHandler) ManagedOption {
	return func(m *ManagedServer) {
		m.onTransition = fn
	}
}

// WithRegisterHook registers the capability publication hook.
func WithRegisterHook(fn RegisterHook) ManagedOption {
	return func(m *ManagedServer) {
		m.onRegister = fn
	}
}

// WithStartupTimeout overrides the handshake deadline.
func WithStartupTimeout(d time.Duration) ManagedOption {
	return func(m *ManagedServer) {
		if d > 0 {
			m.startupTimeout = d
		}
	}
}

// WithClientInfo overrides the identity announced to backends.
func WithClientInfo(name, version string) ManagedOption {
	return func(m *ManagedServer) {
		m.client = implementation{Name: name, Version: version}
	}
}

// ManagedServer drives one backend through its lifecycle. All operations
// are safe for concurrent use; Start, Stop and Restart serialize against
// each other and against automatic restart attempts.
type ManagedServer struct {
	logger  hclog.Logger
	name    string
	entry   config.ServerEntry
	factory TransportFactory

	startupTimeout time.Duration
	client         implementation
	onTransition   TransitionHandler
	onRegister     RegisterHook

	// opMu serializes lifecycle operations end to end.
	opMu     sync.Mutex
	sections backendCapabilities

	mu             sync.Mutex
	state          domain.ServerState
	gen            int
	tr             transport.Transport
	conn           *router.Conn
	caps           []domain.Capability
	startedAt      *time.Time
	restartCount   int
	lastExitReason string
	restartActive  bool
	restartCancel  context.CancelFunc
}

// NewManagedServer creates a managed server in the Stopped state.
func NewManagedServer(logger hclog.Logger, entry config.ServerEntry, factory TransportFactory, opts ...ManagedOption) *ManagedServer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	m := &ManagedServer{
		logger:         logger.Named("server").Named(entry.Name),
		name:           entry.Name,
		entry:          entry,
		factory:        factory,
		startupTimeout: DefaultStartupTimeout(),
		client:         implementation{Name: "mcpmux", Version: "0.1.0"},
		state:          domain.ServerStateStopped,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// Name returns the server's unique identifier.
func (m *ManagedServer) Name() string {
	return m.name
}

// Entry returns the configuration the server was built from.
func (m *ManagedServer) Entry() config.ServerEntry {
	return m.entry
}

// Status returns a point-in-time snapshot of the server.
func (m *ManagedServer) Status() domain.ServerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	return domain.ServerStatus{
		Name:           m.name,
		Kind:           m.entry.Kind,
		State:          m.state,
		StartedAt:      m.startedAt,
		RestartCount:   m.restartCount,
		LastExitReason: m.lastExitReason,
		Capabilities:   len(m.caps),
	}
}

// State returns the current lifecycle state.
func (m *ManagedServer) State() domain.ServerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Capabilities returns a copy of the server's discovered capabilities.
func (m *ManagedServer) Capabilities() []domain.Capability {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.caps)
}

// Conn returns the live connection, or false when the server is not
// Running. Callers must not retain the connection across state changes.
func (m *ManagedServer) Conn() (*router.Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != domain.ServerStateRunning || m.conn == nil {
		return nil, false
	}
	return m.conn, true
}

// Start brings the server up. Starting an already-Running server reports
// ErrAlreadyInState. A manual start resets the automatic restart budget;
// if the start fails, the restart policy takes over.
func (m *ManagedServer) Start(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.cancelPendingRestart()

	m.mu.Lock()
	m.restartCount = 0
	m.mu.Unlock()

	err := m.start(ctx)
	if err != nil && !stdErrors.Is(err, errors.ErrAlreadyInState) && !stdErrors.Is(err, errors.ErrCapabilityConflict) {
		m.maybeScheduleRestart()
	}

	return err
}

// Stop gracefully tears the server down and cancels any pending automatic
// restart. Stopping an already-Stopped server reports ErrAlreadyInState.
func (m *ManagedServer) Stop(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	return m.stop(ctx)
}

// Restart tears the server down if needed and starts it fresh.
func (m *ManagedServer) Restart(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.stop(ctx); err != nil && !stdErrors.Is(err, errors.ErrAlreadyInState) {
		return err
	}

	m.mu.Lock()
	m.restartCount = 0
	m.mu.Unlock()

	err := m.start(ctx)
	if err != nil && !stdErrors.Is(err, errors.ErrAlreadyInState) && !stdErrors.Is(err, errors.ErrCapabilityConflict) {
		m.maybeScheduleRestart()
	}

	return err
}

// start performs one start attempt. Callers must hold opMu.
func (m *ManagedServer) start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	switch m.state {
	case domain.ServerStateRunning, domain.ServerStateStarting:
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: '%s' is already %s", errors.ErrAlreadyInState, m.name, state)
	}
	from := m.state
	m.state = domain.ServerStateStarting
	m.mu.Unlock()

	m.emit(from, domain.ServerStateStarting, "")
	m.logger.Info("starting server", "kind", m.entry.Kind)

	tr, err := m.factory()
	if err != nil {
		return m.toCrashed(fmt.Errorf("%w: create transport: %v", errors.ErrStartupFailed, err))
	}
	if err := tr.Start(ctx); err != nil {
		return m.toCrashed(fmt.Errorf("%w: open transport: %v", errors.ErrStartupFailed, err))
	}

	conn := router.NewConn(m.logger, tr)
	conn.SetNotificationHandler(m.handleNotification)
	conn.Start()

	hctx, cancel := context.WithTimeout(ctx, m.startupTimeout)
	defer cancel()

	init, err := handshake(hctx, conn, m.client)
	if err != nil {
		_ = tr.Close()
		return m.toCrashed(fmt.Errorf("%w: handshake: %v", errors.ErrStartupFailed, err))
	}

	caps, err := listCapabilities(hctx, conn, m.name, init.Capabilities)
	if err != nil {
		_ = tr.Close()
		return m.toCrashed(fmt.Errorf("%w: discovery: %v", errors.ErrStartupFailed, err))
	}

	// Publication happens while still Starting so a registration conflict
	// under the error policy vetoes the Running transition.
	if m.onRegister != nil {
		if err := m.onRegister(m.name, caps); err != nil {
			_ = tr.Close()
			return m.toCrashed(fmt.Errorf("register capabilities: %w", err))
		}
	}

	m.sections = init.Capabilities

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.tr = tr
	m.conn = conn
	m.caps = caps
	now := time.Now().UTC()
	m.startedAt = &now
	m.state = domain.ServerStateRunning
	m.lastExitReason = ""
	m.mu.Unlock()

	go m.watch(gen, tr)

	m.logger.Info("server running",
		"backend", init.ServerInfo.Name,
		"backend_version", init.ServerInfo.Version,
		"capabilities", len(caps),
	)
	m.emit(domain.ServerStateStarting, domain.ServerStateRunning, "")

	return nil
}

// stop performs the teardown. Callers must hold opMu.
func (m *ManagedServer) stop(_ context.Context) error {
	m.cancelPendingRestart()

	m.mu.Lock()
	switch m.state {
	case domain.ServerStateStopped:
		m.mu.Unlock()
		return fmt.Errorf("%w: '%s' is already stopped", errors.ErrAlreadyInState, m.name)

	case domain.ServerStateCrashed:
		m.state = domain.ServerStateStopped
		m.mu.Unlock()
		m.emit(domain.ServerStateCrashed, domain.ServerStateStopped, "")
		return nil
	}

	from := m.state
	m.state = domain.ServerStateStopping
	tr := m.tr
	m.mu.Unlock()

	m.emit(from, domain.ServerStateStopping, "")
	m.logger.Info("stopping server")

	if tr != nil {
		_ = tr.Close()
	}

	m.mu.Lock()
	m.state = domain.ServerStateStopped
	m.tr = nil
	m.conn = nil
	m.caps = nil
	m.startedAt = nil
	m.mu.Unlock()

	m.emit(domain.ServerStateStopping, domain.ServerStateStopped, "")
	m.logger.Info("server stopped")

	return nil
}

// toCrashed records a failed start attempt.
func (m *ManagedServer) toCrashed(cause error) error {
	m.mu.Lock()
	from := m.state
	m.state = domain.ServerStateCrashed
	m.lastExitReason = cause.Error()
	m.startedAt = nil
	m.tr = nil
	m.conn = nil
	m.caps = nil
	m.mu.Unlock()

	m.logger.Error("server failed to start", "error", cause)
	m.emit(from, domain.ServerStateCrashed, cause.Error())

	return cause
}

// watch waits for the transport of one incarnation to die and folds the
// unexpected cases into a Crashed transition.
func (m *ManagedServer) watch(gen int, tr transport.Transport) {
	<-tr.Done()

	m.mu.Lock()
	if m.gen != gen || m.state != domain.ServerStateRunning {
		// Stale incarnation or an intentional stop in progress.
		m.mu.Unlock()
		return
	}

	reason := "transport closed unexpectedly"
	if err := tr.Err(); err != nil {
		reason = err.Error()
	}

	m.state = domain.ServerStateCrashed
	m.lastExitReason = reason
	m.startedAt = nil
	m.tr = nil
	m.conn = nil
	m.caps = nil
	m.mu.Unlock()

	m.logger.Warn("server crashed", "reason", reason)
	m.emit(domain.ServerStateRunning, domain.ServerStateCrashed, reason)

	m.maybeScheduleRestart()
}

// maybeScheduleRestart kicks off the automatic restart loop if the policy
// allows it and budget remains.
func (m *ManagedServer) maybeScheduleRestart() {
	m.mu.Lock()

	if m.restartActive || m.state != domain.ServerStateCrashed {
		m.mu.Unlock()
		return
	}

	policy := m.entry.EffectiveRestartPolicy()
	if policy == domain.RestartNever {
		m.mu.Unlock()
		m.logger.Debug("no automatic restart", "policy", policy)
		return
	}

	remaining := m.entry.EffectiveMaxRestarts() - m.restartCount
	if remaining <= 0 {
		m.mu.Unlock()
		m.logger.Warn("restart budget exhausted", "max_restarts", m.entry.EffectiveMaxRestarts())
		return
	}

	rctx, cancel := context.WithCancel(context.Background())
	m.restartActive = true
	m.restartCancel = cancel
	m.mu.Unlock()

	go m.restartLoop(rctx, remaining)
}

// restartLoop runs delayed restart attempts until one succeeds, the budget
// is spent, or an operator supersedes it with an explicit start or stop.
func (m *ManagedServer) restartLoop(rctx context.Context, remaining int) {
	defer func() {
		m.mu.Lock()
		m.restartActive = false
		m.restartCancel = nil
		m.mu.Unlock()
	}()

	delay := m.entry.EffectiveRestartDelay()

	// The delay precedes the first attempt too, to avoid restart storms.
	select {
	case <-time.After(delay):
	case <-rctx.Done():
		return
	}

	operation := func() (struct{}, error) {
		m.opMu.Lock()
		defer m.opMu.Unlock()

		if err := rctx.Err(); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}

		m.mu.Lock()
		if m.state != domain.ServerStateCrashed {
			state := m.state
			m.mu.Unlock()
			return struct{}{}, backoff.Permanent(fmt.Errorf("restart superseded: server is %s", state))
		}
		m.restartCount++
		attempt := m.restartCount
		m.mu.Unlock()

		m.logger.Info("automatic restart", "attempt", attempt)

		if err := m.start(rctx); err != nil {
			if stdErrors.Is(err, errors.ErrCapabilityConflict) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}

		return struct{}{}, nil
	}

	_, err := backoff.Retry(rctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(delay)),
		backoff.WithMaxTries(uint(remaining)),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.logger.Warn("restart attempt failed", "error", err, "next_attempt_in", next)
		}),
	)
	if err != nil && rctx.Err() == nil {
		m.logger.Error("automatic restart abandoned", "error", err)
	}
}

// cancelPendingRestart aborts the automatic restart loop, if one is active.
// Callers must hold opMu.
func (m *ManagedServer) cancelPendingRestart() {
	m.mu.Lock()
	cancel := m.restartCancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// handleNotification reacts to server-initiated notifications from the
// backend. List-changed notifications trigger an asynchronous re-discovery.
func (m *ManagedServer) handleNotification(method string, _ []byte) {
	switch method {
	case "notifications/tools/list_changed",
		"notifications/resources/list_changed",
		"notifications/prompts/list_changed":
		m.logger.Debug("capability change announced", "method", method)
		go m.refresh()
	default:
		m.logger.Debug("ignoring notification", "method", method)
	}
}

// refresh re-discovers capabilities on the live connection and republishes
// them. A publication failure keeps the previous capability set.
func (m *ManagedServer) refresh() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.state != domain.ServerStateRunning || m.conn == nil {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	gen := m.gen
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.startupTimeout)
	defer cancel()

	caps, err := listCapabilities(ctx, conn, m.name, m.sections)
	if err != nil {
		m.logger.Warn("capability refresh failed", "error", err)
		return
	}

	if m.onRegister != nil {
		if err := m.onRegister(m.name, caps); err != nil {
			m.logger.Warn("capability refresh rejected", "error", err)
			return
		}
	}

	m.mu.Lock()
	if m.gen == gen && m.state == domain.ServerStateRunning {
		m.caps = caps
	}
	m.mu.Unlock()

	m.logger.Info("capabilities refreshed", "capabilities", len(caps))
}

func (m *ManagedServer) emit(from, to domain.ServerState, reason string) {
	if m.onTransition == nil {
		return
	}
	m.onTransition(TransitionEvent{Server: m.name, From: from, To: to, Reason: reason})
}
