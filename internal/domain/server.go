// Package domain holds the shared vocabulary of the gateway: server lifecycle
// states, restart policies, health records, and capability descriptors.
// It has no dependencies on other internal packages so that every layer can
// speak the same types without import cycles.
package domain

import (
	"fmt"
	"time"
)

const (
	// ServerStateStopped is the initial and terminal lifecycle state.
	ServerStateStopped ServerState = "stopped"

	// ServerStateStarting covers transport allocation, process spawn and the
	// initialization handshake, up to the point where discovery succeeded.
	ServerStateStarting ServerState = "starting"

	// ServerStateRunning means the transport is live and the server's
	// capabilities are registered.
	ServerStateRunning ServerState = "running"

	// ServerStateStopping covers graceful teardown until the process exits
	// or the grace period elapses and a hard kill is issued.
	ServerStateStopping ServerState = "stopping"

	// ServerStateCrashed means the transport closed without a stop request,
	// the process failed to spawn, or the handshake failed.
	ServerStateCrashed ServerState = "crashed"
)

// ServerState is the lifecycle state of a managed server.
type ServerState string

const (
	// RestartNever leaves a crashed server down until an explicit start.
	RestartNever RestartPolicy = "never"

	// RestartOnFailure restarts after a crash, up to the configured maximum.
	RestartOnFailure RestartPolicy = "on-failure"

	// RestartAlways restarts after any exit, up to the configured maximum.
	RestartAlways RestartPolicy = "always"
)

// RestartPolicy controls whether a crashed server is automatically restarted.
type RestartPolicy string

// Valid reports whether p is one of the known restart policies.
func (p RestartPolicy) Valid() bool {
	switch p {
	case RestartNever, RestartOnFailure, RestartAlways:
		return true
	default:
		return false
	}
}

const (
	// ServerKindEmbedded runs the backend in-process via a module reference.
	ServerKindEmbedded ServerKind = "embedded"

	// ServerKindStdio launches the backend as a child process speaking
	// newline-delimited JSON-RPC on its standard streams.
	ServerKindStdio ServerKind = "stdio-process"

	// ServerKindSSE dials a remote server-sent-events endpoint.
	ServerKindSSE ServerKind = "sse-remote"

	// ServerKindStreamableHTTP dials a remote streamable HTTP endpoint.
	ServerKindStreamableHTTP ServerKind = "streamable-http-remote"
)

// ServerKind selects the transport adapter a managed server is built with.
type ServerKind string

// Valid reports whether k is one of the known server kinds.
func (k ServerKind) Valid() bool {
	switch k {
	case ServerKindEmbedded, ServerKindStdio, ServerKindSSE, ServerKindStreamableHTTP:
		return true
	default:
		return false
	}
}

// ServerStatus is a point-in-time snapshot of one managed server, safe to
// hand to API callers after the originating lock is released.
type ServerStatus struct {
	Name           string      `json:"name"`
	Kind           ServerKind  `json:"kind"`
	State          ServerState `json:"state"`
	StartedAt      *time.Time  `json:"startedAt,omitempty"`
	RestartCount   int         `json:"restartCount"`
	LastExitReason string      `json:"lastExitReason,omitempty"`
	Capabilities   int         `json:"capabilities"`
}

// String implements fmt.Stringer.
func (s ServerStatus) String() string {
	return fmt.Sprintf("%s (%s, %s)", s.Name, s.Kind, s.State)
}
