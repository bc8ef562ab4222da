package composer

import (
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/mcpmux/mcpmux/internal/config"
	"github.com/mcpmux/mcpmux/internal/domain"
	"github.com/mcpmux/mcpmux/internal/embedded"
	"github.com/mcpmux/mcpmux/internal/supervisor"
	"github.com/mcpmux/mcpmux/internal/transport"
)

// transportFactory builds the kind-specific transport factory for one server
// entry. The factory is invoked once per incarnation, so restarts always get
// a fresh process, connection, or module instance.
func transportFactory(logger hclog.Logger, entry config.ServerEntry) (supervisor.TransportFactory, error) {
	switch entry.Kind {
	case domain.ServerKindEmbedded:
		// Fail unknown modules at build time, not on first start.
		if _, err := embedded.Build(entry.Module); err != nil {
			return nil, err
		}
		return func() (transport.Transport, error) {
			srv, err := embedded.Build(entry.Module)
			if err != nil {
				return nil, err
			}
			return transport.NewInProc(logger, srv), nil
		}, nil

	case domain.ServerKindStdio:
		if entry.Command == "" {
			return nil, fmt.Errorf("server '%s': stdio-process requires a command", entry.Name)
		}
		return func() (transport.Transport, error) {
			return transport.NewStdio(logger, entry.Command, entry.Args, entry.Env), nil
		}, nil

	case domain.ServerKindSSE:
		if entry.URL == "" {
			return nil, fmt.Errorf("server '%s': sse-remote requires a url", entry.Name)
		}
		return func() (transport.Transport, error) {
			var sseOpts []transport.SSEOption
			if entry.IdleTimeout.Duration > 0 {
				sseOpts = append(sseOpts, transport.WithIdleTimeout(entry.IdleTimeout.Duration))
			}
			return transport.NewSSE(logger, entry.URL, sseOpts...), nil
		}, nil

	case domain.ServerKindStreamableHTTP:
		if entry.URL == "" {
			return nil, fmt.Errorf("server '%s': streamable-http-remote requires a url", entry.Name)
		}
		return func() (transport.Transport, error) {
			return transport.NewStreamableHTTP(logger, entry.URL), nil
		}, nil

	default:
		return nil, fmt.Errorf("server '%s': unknown kind '%s'", entry.Name, entry.Kind)
	}
}
