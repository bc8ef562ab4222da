// Package composer assembles the pieces of the gateway: it owns the
// capability registry, the supervisor and the protocol translators, wires
// capability publication and pruning to server lifecycle transitions, and
// routes invocations from the merged namespace to the owning backend.
package composer

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mcpmux/mcpmux/internal/config"
	"github.com/mcpmux/mcpmux/internal/contracts"
	"github.com/mcpmux/mcpmux/internal/domain"
	"github.com/mcpmux/mcpmux/internal/metrics"
	"github.com/mcpmux/mcpmux/internal/registry"
	"github.com/mcpmux/mcpmux/internal/supervisor"
	"github.com/mcpmux/mcpmux/internal/translator"
)

// Ensure Composer satisfies the interfaces the API layer consumes.
var (
	_ contracts.Invoker        = (*Composer)(nil)
	_ contracts.CapabilityView = (*Composer)(nil)
	_ contracts.Reloader       = (*Composer)(nil)
)

// Option configures a Composer.
type Option func(*Composer)

// WithStartupTimeout overrides the handshake deadline for every server.
func WithStartupTimeout(d time.Duration) Option {
	return func(c *Composer) {
		if d > 0 {
			c.startupTimeout = d
		}
	}
}

// WithClientInfo overrides the identity announced to backends.
func WithClientInfo(name, version string) Option {
	return func(c *Composer) {
		c.clientName = name
		c.clientVersion = version
	}
}

// Composer coordinates the registry, the supervisor, the health tracker and
// the protocol translators. It is safe for concurrent use by multiple
// goroutines.
type Composer struct {
	logger      hclog.Logger
	reg         *registry.Registry
	sup         *supervisor.Supervisor
	tracker     *supervisor.HealthTracker
	translators *translator.Manager

	invokeTimeout  time.Duration
	validateArgs   bool
	startupTimeout time.Duration
	clientName     string
	clientVersion  string

	// reloadMu serializes configuration reloads.
	reloadMu sync.Mutex

	// listenerMu guards the capability listener.
	listenerMu sync.RWMutex
	listener   func()
}

// NewComposer creates a composer with an empty server set. Servers are added
// with AddServer and brought up through the supervisor.
func NewComposer(logger hclog.Logger, cfg config.ComposerConfig, opts ...Option) (*Composer, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("composer")

	reg, err := registry.NewRegistry(logger, cfg.EffectiveConflictResolution())
	if err != nil {
		return nil, err
	}

	c := &Composer{
		logger:        logger,
		reg:           reg,
		sup:           supervisor.NewSupervisor(logger),
		tracker:       supervisor.NewHealthTracker(nil),
		translators:   translator.NewManager(logger),
		invokeTimeout: cfg.EffectiveInvokeTimeout(),
		validateArgs:  cfg.ValidateArguments,
		clientName:    "mcpmux",
		clientVersion: "0.1.0",
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c, nil
}

// Supervisor returns the lifecycle manager for the composed servers.
func (c *Composer) Supervisor() *supervisor.Supervisor {
	return c.sup
}

// Tracker returns the health tracker for the composed servers.
func (c *Composer) Tracker() *supervisor.HealthTracker {
	return c.tracker
}

// Translators returns the protocol bridges registered with this composer.
func (c *Composer) Translators() *translator.Manager {
	return c.translators
}

// Policy returns the conflict resolution policy in effect.
func (c *Composer) Policy() domain.ConflictPolicy {
	return c.reg.Policy()
}

// AddServer registers a server entry with the supervisor without starting
// it. The entry's transport configuration is validated here so that broken
// references fail at load time.
func (c *Composer) AddServer(entry config.ServerEntry) error {
	factory, err := transportFactory(c.logger.Named("transport").Named(entry.Name), entry)
	if err != nil {
		return err
	}

	ms := supervisor.NewManagedServer(c.logger, entry, factory,
		c.managedOptions()...,
	)

	if err := c.sup.Add(ms); err != nil {
		return err
	}
	c.tracker.Track(entry.Name)

	return nil
}

// AddTranslator registers a protocol bridge. Translators follow the managed
// server lifecycle contract but advertise no capabilities, so they never
// touch the registry.
func (c *Composer) AddTranslator(entry config.TranslatorEntry) error {
	tl, err := translator.New(c.logger, entry)
	if err != nil {
		return err
	}

	return c.translators.Add(tl)
}

// managedOptions wires lifecycle hooks shared by every managed server.
func (c *Composer) managedOptions() []supervisor.ManagedOption {
	opts := []supervisor.ManagedOption{
		supervisor.WithRegisterHook(c.publish),
		supervisor.WithTransitionHandler(c.onTransition),
		supervisor.WithClientInfo(c.clientName, c.clientVersion),
	}
	if c.startupTimeout > 0 {
		opts = append(opts, supervisor.WithStartupTimeout(c.startupTimeout))
	}

	return opts
}

// SetCapabilityListener registers a callback invoked after every change to
// the merged namespace: publication during startup, refresh republication,
// and pruning when a server leaves Running. The gateway uses it to keep its
// front server in step with the registry.
func (c *Composer) SetCapabilityListener(fn func()) {
	c.listenerMu.Lock()
	c.listener = fn
	c.listenerMu.Unlock()
}

func (c *Composer) notifyCapabilityListener() {
	c.listenerMu.RLock()
	fn := c.listener
	c.listenerMu.RUnlock()

	if fn != nil {
		fn()
	}
}

// publish is the register hook: it pushes a server's discovered capabilities
// into the registry. A conflict under the error policy propagates up and
// vetoes the server's transition to Running.
func (c *Composer) publish(server string, caps []domain.Capability) error {
	if err := c.reg.Register(server, caps); err != nil {
		return err
	}
	c.updateCapabilityGauges()
	c.notifyCapabilityListener()

	return nil
}

// onTransition reacts to lifecycle changes: leaving Running prunes the
// server's capabilities, and every transition feeds the metrics.
func (c *Composer) onTransition(ev supervisor.TransitionEvent) {
	metrics.RecordTransition(ev.Server, ev.From, ev.To)
	if ev.From == domain.ServerStateCrashed && ev.To == domain.ServerStateStarting {
		metrics.RecordRestart(ev.Server)
	}

	if ev.From == domain.ServerStateRunning {
		c.reg.Unregister(ev.Server)
		c.updateCapabilityGauges()
		c.notifyCapabilityListener()
	}
}

func (c *Composer) updateCapabilityGauges() {
	for kind, count := range c.reg.Counts() {
		metrics.SetCapabilityCount(kind, count)
	}
}

// Capabilities returns every registered capability, across all kinds.
func (c *Composer) Capabilities() []domain.Capability {
	return c.reg.Capabilities()
}

// CapabilitiesByKind returns the registered capabilities of one kind.
func (c *Composer) CapabilitiesByKind(kind domain.CapabilityKind) []domain.Capability {
	return c.reg.CapabilitiesByKind(kind)
}

// Resolve looks up one capability by kind and qualified name.
func (c *Composer) Resolve(kind domain.CapabilityKind, qualifiedName string) (domain.Capability, bool) {
	return c.reg.Resolve(kind, qualifiedName)
}
