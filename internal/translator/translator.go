// Package translator bridges one MCP transport to another: a stdio child
// process exposed as an SSE endpoint, or a remote SSE endpoint exposed on
// this process's own standard streams. Bridges relay frames without
// inspecting them; neither side is aware of the bridge. Translators share
// the managed-server lifecycle states but advertise no capabilities, so they
// never touch the registry.
package translator

import (
	"context"
	"fmt"
	"time"

	"github.com/mcpmux/mcpmux/internal/config"
	"github.com/mcpmux/mcpmux/internal/domain"
)

const (
	ssePath     = "/sse"
	messagePath = "/messages"

	// subscriberQueueSize bounds each SSE subscriber's outbound queue. A
	// subscriber that falls this far behind is dropped, never waited on.
	subscriberQueueSize = 100

	keepAliveInterval   = 30 * time.Second
	httpShutdownTimeout = 5 * time.Second
)

// Translator is one configured bridge. Start and Stop follow the managed
// server contract: Start fails on a translator that is already up, Stop is
// idempotent, and closing tears down both sides of the bridge.
type Translator interface {
	Name() string
	Status() Status
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Status is a point-in-time view of one translator.
type Status struct {
	Name  string                `json:"name"`
	Mode  config.TranslatorMode `json:"mode"`
	State domain.ServerState    `json:"state"`

	// Addr is the live listen address of a stdio-to-sse bridge.
	Addr string `json:"addr,omitempty"`

	// LastError records why the bridge last crashed.
	LastError string `json:"lastError,omitempty"`
}

// formatEvent renders one SSE event. JSON-RPC frames never contain raw
// newlines, so the data is always a single line.
func formatEvent(event, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
}
