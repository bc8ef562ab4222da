package api

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mcpmux/mcpmux/internal/contracts"
	"github.com/mcpmux/mcpmux/internal/domain"
	"github.com/mcpmux/mcpmux/internal/filter"
)

// DomainServerStatus is a wrapper that allows receivers to be declared in the API package that deal with domain types.
type DomainServerStatus domain.ServerStatus

// Server describes one managed backend server and its lifecycle state.
type Server struct {
	// Name is the unique identifier of the server.
	Name string `doc:"Name of the server" json:"name"`

	// Kind is the transport the server is built with.
	Kind string `doc:"Transport kind" json:"kind"`

	// State is the current lifecycle state.
	State string `doc:"Lifecycle state" json:"state"`

	// StartedAt is when the server last entered the running state.
	StartedAt *time.Time `doc:"Time the server last became running" json:"startedAt,omitempty"`

	// RestartCount is the number of automatic restarts since the last explicit start.
	RestartCount int `doc:"Automatic restarts since the last explicit start" json:"restartCount"`

	// LastExitReason describes the most recent exit, if any.
	LastExitReason string `doc:"Most recent exit reason" json:"lastExitReason,omitempty"`

	// Capabilities is the number of capabilities the server currently contributes.
	Capabilities int `doc:"Number of registered capabilities" json:"capabilities"`
}

// ServersResponse represents the wrapped API response for a list of servers.
type ServersResponse struct {
	Body struct {
		Servers []Server `doc:"Managed backend servers" json:"servers"`
	}
}

// ServersRequest represents the incoming API request for listing servers with optional filters.
type ServersRequest struct {
	State string `doc:"Filter by lifecycle state" example:"running" query:"state"`
	Kind  string `doc:"Filter by transport kind" example:"stdio-process" query:"kind"`
}

// ServerRequest represents the incoming API request for a single server by name.
type ServerRequest struct {
	Name string `doc:"Name of the server" example:"github" path:"name"`
}

// ServerResponse represents the wrapped API response for a single server.
type ServerResponse struct {
	Body Server
}

// ToAPIType can be used to convert a wrapped domain type to an API-safe type.
func (d DomainServerStatus) ToAPIType() (Server, error) {
	return Server{
		Name:           d.Name,
		Kind:           string(d.Kind),
		State:          string(d.State),
		StartedAt:      d.StartedAt,
		RestartCount:   d.RestartCount,
		LastExitReason: d.LastExitReason,
		Capabilities:   d.Capabilities,
	}, nil
}

// RegisterServerRoutes sets up server lifecycle API endpoint routes.
func RegisterServerRoutes(routerAPI huma.API, accessor contracts.ServerAccessor, apiPathPrefix string) {
	serversAPI := huma.NewGroup(routerAPI, apiPathPrefix)
	tags := []string{"Servers"}

	// Add route at the root of the group (no path specified).
	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "listServers",
			Method:      http.MethodGet,
			Summary:     "List all servers",
			Tags:        tags,
		},
		func(ctx context.Context, input *ServersRequest) (*ServersResponse, error) {
			return handleServers(accessor, input.State, input.Kind)
		},
	)

	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "getServer",
			Method:      http.MethodGet,
			Path:        "/{name}",
			Summary:     "Get a server",
			Tags:        tags,
		},
		func(ctx context.Context, input *ServerRequest) (*ServerResponse, error) {
			return handleServer(accessor, input.Name)
		},
	)

	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "startServer",
			Method:      http.MethodPost,
			Path:        "/{name}/start",
			Summary:     "Start a server",
			Tags:        tags,
		},
		func(ctx context.Context, input *ServerRequest) (*ServerResponse, error) {
			return handleServerStart(ctx, accessor, input.Name)
		},
	)

	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "stopServer",
			Method:      http.MethodPost,
			Path:        "/{name}/stop",
			Summary:     "Stop a server",
			Tags:        tags,
		},
		func(ctx context.Context, input *ServerRequest) (*ServerResponse, error) {
			return handleServerStop(ctx, accessor, input.Name)
		},
	)

	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "restartServer",
			Method:      http.MethodPost,
			Path:        "/{name}/restart",
			Summary:     "Restart a server",
			Tags:        tags,
		},
		func(ctx context.Context, input *ServerRequest) (*ServerResponse, error) {
			return handleServerRestart(ctx, accessor, input.Name)
		},
	)
}

// handleServers returns a snapshot of every managed server, optionally
// narrowed by lifecycle state and transport kind.
func handleServers(accessor contracts.ServerAccessor, state string, kind string) (*ServersResponse, error) {
	servers := accessor.Servers()

	slices.SortFunc(servers, func(a, b domain.ServerStatus) int {
		return strings.Compare(a.Name, b.Name)
	})

	filters := map[string]string{}
	if state != "" {
		filters["state"] = state
	}
	if kind != "" {
		filters["kind"] = kind
	}

	matchers := filter.WithMatchers(map[string]filter.Predicate[domain.ServerStatus]{
		"state": filter.Equals(func(s domain.ServerStatus) string { return string(s.State) }),
		"kind":  filter.Equals(func(s domain.ServerStatus) string { return string(s.Kind) }),
	})

	apiServers := make([]Server, 0, len(servers))
	for _, s := range servers {
		ok, err := filter.Match(s, filters, matchers)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		data, err := DomainServerStatus(s).ToAPIType()
		if err != nil {
			return nil, err
		}
		apiServers = append(apiServers, data)
	}

	resp := &ServersResponse{}
	resp.Body.Servers = apiServers

	return resp, nil
}

// handleServer returns the snapshot for a single managed server.
func handleServer(accessor contracts.ServerAccessor, name string) (*ServerResponse, error) {
	status, err := accessor.Server(name)
	if err != nil {
		return nil, err
	}

	return serverResponse(status)
}

// handleServerStart brings a stopped or crashed server up. Starting a server
// that is already running reports the current status without error.
func handleServerStart(ctx context.Context, accessor contracts.ServerAccessor, name string) (*ServerResponse, error) {
	status, err := accessor.Start(ctx, name)
	if err != nil {
		return nil, err
	}

	return serverResponse(status)
}

// handleServerStop tears a server down. Stopping an already stopped server
// reports the current status without error.
func handleServerStop(ctx context.Context, accessor contracts.ServerAccessor, name string) (*ServerResponse, error) {
	status, err := accessor.Stop(ctx, name)
	if err != nil {
		return nil, err
	}

	return serverResponse(status)
}

// handleServerRestart stops then starts a server.
func handleServerRestart(ctx context.Context, accessor contracts.ServerAccessor, name string) (*ServerResponse, error) {
	status, err := accessor.Restart(ctx, name)
	if err != nil {
		return nil, err
	}

	return serverResponse(status)
}

func serverResponse(status domain.ServerStatus) (*ServerResponse, error) {
	data, err := DomainServerStatus(status).ToAPIType()
	if err != nil {
		return nil, err
	}

	resp := &ServerResponse{}
	resp.Body = data

	return resp, nil
}
