package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/exp/jsonrpc2"

	"github.com/mcpmux/mcpmux/internal/errors"
)

var _ Transport = (*InProc)(nil)

// InProc adapts an in-process MCP server to the transport contract. Every
// sent frame is dispatched straight into the server's message handler and
// the reply, if any, comes back on the frame channel. There is no process
// to crash, so the transport only ever goes down through Close.
type InProc struct {
	logger hclog.Logger
	srv    *server.MCPServer

	frames chan jsonrpc2.Message
	done   chan struct{}
	stop   chan struct{}

	mu      sync.Mutex
	closing bool
	started bool
	lifeCtx context.Context
	cancel  context.CancelFunc

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewInProc creates a transport backed by the given in-process server.
func NewInProc(logger hclog.Logger, srv *server.MCPServer) *InProc {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &InProc{
		logger: logger.Named("inproc"),
		srv:    srv,
		frames: make(chan jsonrpc2.Message, frameBuffer),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
}

// Start marks the transport ready.
func (t *InProc) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return fmt.Errorf("inproc transport already started")
	}
	t.started = true

	lifeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.lifeCtx = lifeCtx
	t.cancel = cancel

	return nil
}

// Send dispatches one message into the server. Handlers run asynchronously
// so Send never blocks on slow tools.
func (t *InProc) Send(_ context.Context, msg jsonrpc2.Message) error {
	t.mu.Lock()
	if t.closing || !t.started {
		t.mu.Unlock()
		return fmt.Errorf("%w: inproc transport is not open", errors.ErrTransportClosed)
	}
	t.wg.Add(1)
	ctx := t.lifeCtx
	t.mu.Unlock()

	raw, err := jsonrpc2.EncodeMessage(msg)
	if err != nil {
		t.wg.Done()
		return fmt.Errorf("encode message: %w", err)
	}

	go func() {
		defer t.wg.Done()

		reply := t.srv.HandleMessage(ctx, json.RawMessage(raw))
		if reply == nil {
			return
		}

		encoded, err := json.Marshal(reply)
		if err != nil {
			t.logger.Warn("dropping unencodable reply", "error", err)
			return
		}
		decoded, err := jsonrpc2.DecodeMessage(encoded)
		if err != nil {
			t.logger.Warn("dropping undecodable reply", "error", err)
			return
		}

		select {
		case t.frames <- decoded:
		case <-t.stop:
		}
	}()

	return nil
}

// Frames returns the inbound frame channel.
func (t *InProc) Frames() <-chan jsonrpc2.Message {
	return t.frames
}

// Done is closed once the transport has shut down.
func (t *InProc) Done() <-chan struct{} {
	return t.done
}

// Err always returns nil; an in-process server cannot fail underneath us.
func (t *InProc) Err() error {
	return nil
}

// Close stops dispatching and waits for in-flight handlers. Safe to call
// more than once.
func (t *InProc) Close() error {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		<-t.done
		return nil
	}
	t.closing = true
	cancel := t.cancel
	t.mu.Unlock()

	t.stopOnce.Do(func() { close(t.stop) })

	if cancel != nil {
		cancel()
	}

	t.wg.Wait()
	close(t.frames)
	close(t.done)
	return nil
}
