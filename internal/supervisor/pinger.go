package supervisor

import (
	"context"
	stdErrors "errors"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mcpmux/mcpmux/internal/domain"
	"github.com/mcpmux/mcpmux/internal/errors"
)

// DefaultPingTimeout bounds a single health-check ping.
func DefaultPingTimeout() time.Duration {
	return 3 * time.Second
}

// pingResolution is how often the pinger looks for servers whose
// health-check interval has elapsed.
const pingResolution = 1 * time.Second

// PingerOption configures a Pinger.
type PingerOption func(*Pinger)

// WithPingTimeout overrides the per-ping deadline.
func WithPingTimeout(d time.Duration) PingerOption {
	return func(p *Pinger) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// Pinger periodically pings servers that configure a health-check interval
// and records the outcome in the health tracker. Servers without an
// interval are never pinged and stay at their last recorded status.
type Pinger struct {
	logger     hclog.Logger
	sup        *Supervisor
	tracker    *HealthTracker
	timeout    time.Duration
	resolution time.Duration

	lastPing map[string]time.Time
}

// NewPinger creates a pinger over the given supervisor and tracker.
func NewPinger(logger hclog.Logger, sup *Supervisor, tracker *HealthTracker, opts ...PingerOption) *Pinger {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	p := &Pinger{
		logger:     logger.Named("pinger"),
		sup:        sup,
		tracker:    tracker,
		timeout:    DefaultPingTimeout(),
		resolution: pingResolution,
		lastPing:   make(map[string]time.Time),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	return p
}

// Run drives the health checks until ctx is cancelled.
func (p *Pinger) Run(ctx context.Context) {
	ticker := time.NewTicker(p.resolution)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("stopping health checks")
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// sweep dispatches pings for every server whose interval has elapsed.
func (p *Pinger) sweep(ctx context.Context) {
	now := time.Now()

	for _, ms := range p.sup.All() {
		interval := ms.Entry().HealthInterval.Duration
		if interval <= 0 {
			continue
		}

		name := ms.Name()
		if now.Sub(p.lastPing[name]) < interval {
			continue
		}
		p.lastPing[name] = now

		conn, ok := ms.Conn()
		if !ok {
			// Not Running; nothing to ping.
			if err := p.tracker.Update(name, domain.HealthStatusUnreachable, nil); err != nil {
				p.logger.Debug("health update skipped", "server", name, "error", err)
			}
			continue
		}

		go p.ping(ctx, name, conn)
	}
}

func (p *Pinger) ping(ctx context.Context, name string, conn pingConn) {
	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	_, err := conn.Call(pctx, "ping", nil)
	latency := time.Since(start)

	var status domain.HealthStatus
	var measured *time.Duration
	switch {
	case err == nil:
		status = domain.HealthStatusOK
		measured = &latency
	case stdErrors.Is(err, errors.ErrInvokeTimeout):
		status = domain.HealthStatusTimeout
	default:
		status = domain.HealthStatusUnreachable
	}

	if err != nil {
		p.logger.Debug("ping failed", "server", name, "error", err)
	}

	if err := p.tracker.Update(name, status, measured); err != nil {
		p.logger.Debug("health update skipped", "server", name, "error", err)
	}
}

// pingConn is the slice of the connection the pinger needs.
type pingConn interface {
	Call(ctx context.Context, method string, params any) ([]byte, error)
}
