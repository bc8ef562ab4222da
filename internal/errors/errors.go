// Package errors defines domain-level errors used throughout the application.
// These errors represent composition and routing failures and are mapped to
// appropriate HTTP status codes at the API boundary.
//
// NOTE: Important for developers
// When adding a new error here, you MUST consider how it should be handled when returned from API endpoints.
//
// Unmapped errors will default to HTTP 500 Internal Server Error.
//
// Don't forget to:
// 1. Add your error to mapError (internal/daemon/api_server.go)
// 2. Add a test case to TestMapError (internal/daemon/api_server_test.go)
// 3. Consider if existing handler tests need updates
package errors

import (
	"errors"
)

var (
	// ErrBadRequest indicates that the client provided invalid input or made a malformed request.
	// This typically results from validation failures or incorrect request parameters.
	// Recommended to map to HTTP 400 Bad Request.
	ErrBadRequest = errors.New("bad request")

	// ErrConfigInvalid indicates that the loaded configuration is malformed or inconsistent.
	// Fatal at load time, never retried.
	// Recommended to map to HTTP 400 Bad Request.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrServerNotFound indicates that the requested server does not exist or is not configured.
	// This occurs when trying to access operations on a server that hasn't been registered.
	// Recommended to map to HTTP 404 Not Found.
	ErrServerNotFound = errors.New("server not found")

	// ErrCapabilityNotFound indicates that no capability is registered under the qualified name.
	// Returned to the caller directly, no retry.
	// Recommended to map to HTTP 404 Not Found.
	ErrCapabilityNotFound = errors.New("capability not found")

	// ErrServerUnavailable indicates that the qualified name resolves but the owning server
	// is not running. The caller may retry once the server is back.
	// Recommended to map to HTTP 503 Service Unavailable.
	ErrServerUnavailable = errors.New("server unavailable")

	// ErrStartupFailed indicates that a server failed to spawn or its discovery handshake
	// failed or timed out. Surfaced as a Crashed state, subject to the restart policy.
	// Recommended to map to HTTP 502 Bad Gateway.
	ErrStartupFailed = errors.New("server startup failed")

	// ErrTransportClosed indicates a write or read failure mid-session on a server transport.
	// Folded into the Crashed state, subject to the restart policy.
	// Recommended to map to HTTP 502 Bad Gateway.
	ErrTransportClosed = errors.New("transport closed")

	// ErrInvokeTimeout indicates that an invocation deadline elapsed with no response.
	// The backend call is abandoned and any late response is discarded.
	// Recommended to map to HTTP 504 Gateway Timeout.
	ErrInvokeTimeout = errors.New("invocation timed out")

	// ErrCapabilityConflict indicates that a capability registration collided with an
	// existing entry under the "error" conflict policy. Fails the offending server's
	// startup, other servers are unaffected.
	// Recommended to map to HTTP 409 Conflict.
	ErrCapabilityConflict = errors.New("capability name conflict")

	// ErrInvalidArguments indicates that tool call arguments failed schema validation
	// before any transport I/O took place.
	// Recommended to map to HTTP 400 Bad Request.
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrToolCallFailed indicates that a backend reported an error executing a tool call.
	// This represents a communication or execution error with the backend server.
	// Recommended to map to HTTP 502 Bad Gateway.
	ErrToolCallFailed = errors.New("tool call failed")

	// ErrHealthNotTracked indicates that health monitoring is not enabled for the specified server.
	// This occurs when trying to get health status for a server that isn't being monitored.
	// Recommended to map to HTTP 404 Not Found.
	ErrHealthNotTracked = errors.New("server health is not being tracked")

	// ErrAlreadyInState reports an idempotent lifecycle no-op, for example stopping a
	// server that is already stopped. Carries no failure semantics.
	// Recommended to map to HTTP 200 with a status message, not an error response.
	ErrAlreadyInState = errors.New("server already in requested state")
)
