package supervisor

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/mcpmux/mcpmux/internal/contracts"
	"github.com/mcpmux/mcpmux/internal/domain"
	"github.com/mcpmux/mcpmux/internal/errors"
	"github.com/mcpmux/mcpmux/internal/router"
)

// startConcurrency bounds how many servers are brought up in parallel.
const startConcurrency = 8

var _ contracts.ServerAccessor = (*Supervisor)(nil)

// Supervisor holds the managed servers in configuration order.
// It is safe for concurrent use by multiple goroutines.
type Supervisor struct {
	logger hclog.Logger

	mu      sync.RWMutex
	servers map[string]*ManagedServer
	order   []string
}

// NewSupervisor creates an empty, concurrency-safe Supervisor.
func NewSupervisor(logger hclog.Logger) *Supervisor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Supervisor{
		logger:  logger.Named("supervisor"),
		servers: make(map[string]*ManagedServer),
	}
}

// Add registers a managed server. Names must be unique.
func (s *Supervisor) Add(ms *ManagedServer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.servers[ms.Name()]; exists {
		return fmt.Errorf("server '%s' already managed", ms.Name())
	}

	s.servers[ms.Name()] = ms
	s.order = append(s.order, ms.Name())

	return nil
}

// Remove unregisters a managed server and returns it for teardown.
func (s *Supervisor) Remove(name string) (*ManagedServer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.servers[name]
	if !ok {
		return nil, false
	}

	delete(s.servers, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	return ms, true
}

// Get returns the managed server for the given name.
func (s *Supervisor) Get(name string) (*ManagedServer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ms, ok := s.servers[name]
	return ms, ok
}

// Names returns all managed server names in configuration order.
func (s *Supervisor) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.order))
	copy(out, s.order)

	return out
}

// All returns the managed servers in configuration order.
func (s *Supervisor) All() []*ManagedServer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ManagedServer, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.servers[name])
	}

	return out
}

// Conn returns the live connection for a Running server.
func (s *Supervisor) Conn(name string) (*router.Conn, bool) {
	ms, ok := s.Get(name)
	if !ok {
		return nil, false
	}

	return ms.Conn()
}

// Servers returns a snapshot of every managed server.
func (s *Supervisor) Servers() []domain.ServerStatus {
	all := s.All()

	out := make([]domain.ServerStatus, 0, len(all))
	for _, ms := range all {
		out = append(out, ms.Status())
	}

	return out
}

// Server returns a snapshot of one managed server by name.
func (s *Supervisor) Server(name string) (domain.ServerStatus, error) {
	ms, ok := s.Get(name)
	if !ok {
		return domain.ServerStatus{}, fmt.Errorf("%w: '%s'", errors.ErrServerNotFound, name)
	}

	return ms.Status(), nil
}

// Start brings a server up. Starting an already-Running server is a no-op
// reporting the current status.
func (s *Supervisor) Start(ctx context.Context, name string) (domain.ServerStatus, error) {
	ms, ok := s.Get(name)
	if !ok {
		return domain.ServerStatus{}, fmt.Errorf("%w: '%s'", errors.ErrServerNotFound, name)
	}

	if err := ms.Start(ctx); err != nil && !stdErrors.Is(err, errors.ErrAlreadyInState) {
		return ms.Status(), err
	}

	return ms.Status(), nil
}

// Stop tears a server down. Stopping an already-Stopped server is a no-op
// reporting the current status.
func (s *Supervisor) Stop(ctx context.Context, name string) (domain.ServerStatus, error) {
	ms, ok := s.Get(name)
	if !ok {
		return domain.ServerStatus{}, fmt.Errorf("%w: '%s'", errors.ErrServerNotFound, name)
	}

	if err := ms.Stop(ctx); err != nil && !stdErrors.Is(err, errors.ErrAlreadyInState) {
		return ms.Status(), err
	}

	return ms.Status(), nil
}

// Restart stops then starts a server.
func (s *Supervisor) Restart(ctx context.Context, name string) (domain.ServerStatus, error) {
	ms, ok := s.Get(name)
	if !ok {
		return domain.ServerStatus{}, fmt.Errorf("%w: '%s'", errors.ErrServerNotFound, name)
	}

	if err := ms.Restart(ctx); err != nil && !stdErrors.Is(err, errors.ErrAlreadyInState) {
		return ms.Status(), err
	}

	return ms.Status(), nil
}

// StartAll brings every managed server up in parallel. A failed start is
// logged and never interrupts the other servers; the restart policy of the
// failed server decides what happens next.
func (s *Supervisor) StartAll(ctx context.Context) {
	g := &errgroup.Group{}
	g.SetLimit(startConcurrency)

	for _, ms := range s.All() {
		g.Go(func() error {
			if err := ms.Start(ctx); err != nil && !stdErrors.Is(err, errors.ErrAlreadyInState) {
				s.logger.Error("failed to start server", "server", ms.Name(), "error", err)
			}
			return nil
		})
	}

	_ = g.Wait()
}

// StopAll tears every managed server down in parallel and waits for all of
// them.
func (s *Supervisor) StopAll(ctx context.Context) {
	g := &errgroup.Group{}

	for _, ms := range s.All() {
		g.Go(func() error {
			if err := ms.Stop(ctx); err != nil && !stdErrors.Is(err, errors.ErrAlreadyInState) {
				s.logger.Error("failed to stop server", "server", ms.Name(), "error", err)
			}
			return nil
		})
	}

	_ = g.Wait()
}
