// Package router correlates concurrent in-flight requests with their
// responses over a single backend connection. Requests are multiplexed over
// one transport using generated correlation ids, so backends may answer out
// of order; matching is always by id, never by arrival order. Request state
// lives here and only here; transports carry frames and nothing else.
package router

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/exp/jsonrpc2"

	"github.com/mcpmux/mcpmux/internal/errors"
	"github.com/mcpmux/mcpmux/internal/transport"
)

// codeMethodNotFound is the JSON-RPC error code returned to backends that
// try to issue client-side requests this gateway does not serve.
const codeMethodNotFound = -32601

// NotificationHandler receives server-initiated notifications. Handlers run
// on the pump goroutine and must not block.
type NotificationHandler func(method string, params []byte)

// Conn owns the in-flight request table for one backend connection. It pumps
// frames off the transport, delivers responses to waiting callers and hands
// notifications to the registered handler.
type Conn struct {
	logger hclog.Logger
	tr     transport.Transport

	onNotification NotificationHandler

	mu      sync.Mutex
	pending map[jsonrpc2.ID]chan *jsonrpc2.Response
	flushed bool
	started bool
}

// NewConn creates a correlation layer over the given transport. The
// transport must already be started.
func NewConn(logger hclog.Logger, tr transport.Transport) *Conn {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Conn{
		logger:  logger.Named("conn"),
		tr:      tr,
		pending: make(map[jsonrpc2.ID]chan *jsonrpc2.Response),
	}
}

// SetNotificationHandler registers the handler for server-initiated
// notifications. It must be called before Start.
func (c *Conn) SetNotificationHandler(fn NotificationHandler) {
	c.onNotification = fn
}

// Start launches the frame pump. It returns immediately; the pump runs until
// the transport's frame channel closes.
func (c *Conn) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go c.pump()
}

// Call sends a request with a fresh correlation id and waits for the
// matching response. The context deadline bounds the wait: on expiry the
// in-flight entry is released and the backend's eventual late response, if
// any, is discarded on arrival.
func (c *Conn) Call(ctx context.Context, method string, params any) ([]byte, error) {
	id := jsonrpc2.StringID(uuid.NewString())

	req, err := jsonrpc2.NewCall(id, method, params)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}

	ch := make(chan *jsonrpc2.Response, 1)

	c.mu.Lock()
	if c.flushed {
		c.mu.Unlock()
		return nil, c.closedErr()
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.tr.Send(ctx, req); err != nil {
		c.release(id)
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, c.closedErr()
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("backend rejected %s: %w", method, resp.Error)
		}
		return resp.Result, nil

	case <-ctx.Done():
		c.release(id)
		if stdErrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: no response to %s before deadline", errors.ErrInvokeTimeout, method)
		}
		return nil, ctx.Err()
	}
}

// Notify sends a fire-and-forget notification.
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	msg, err := jsonrpc2.NewNotification(method, params)
	if err != nil {
		return fmt.Errorf("build %s notification: %w", method, err)
	}

	return c.tr.Send(ctx, msg)
}

// Pending reports the number of in-flight requests, for observability.
func (c *Conn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// pump routes every inbound frame: responses to their waiting caller,
// notifications to the handler, and backend-initiated requests to a
// method-not-found rejection.
func (c *Conn) pump() {
	defer c.flush()

	for msg := range c.tr.Frames() {
		switch m := msg.(type) {
		case *jsonrpc2.Response:
			c.deliver(m)

		case *jsonrpc2.Request:
			if m.ID.Raw() == nil {
				if c.onNotification != nil {
					c.onNotification(m.Method, m.Params)
				}
				continue
			}
			c.reject(m)

		default:
			c.logger.Warn("dropping frame of unknown shape")
		}
	}
}

func (c *Conn) deliver(resp *jsonrpc2.Response) {
	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("discarding late response", "id", fmt.Sprint(resp.ID.Raw()))
		return
	}

	ch <- resp
}

// reject answers a backend-initiated request; this gateway offers no
// client-side methods such as sampling.
func (c *Conn) reject(req *jsonrpc2.Request) {
	c.logger.Debug("rejecting backend-initiated request", "method", req.Method)

	resp, err := jsonrpc2.NewResponse(req.ID, nil, jsonrpc2.NewError(codeMethodNotFound, "method not supported"))
	if err != nil {
		return
	}
	if err := c.tr.Send(context.Background(), resp); err != nil {
		c.logger.Debug("could not reject request", "method", req.Method, "error", err)
	}
}

// flush fails every in-flight request once the connection is gone.
func (c *Conn) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.flushed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Conn) release(id jsonrpc2.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

// closedErr folds the transport's terminal error into the failure returned
// to callers whose requests died with the connection.
func (c *Conn) closedErr() error {
	if err := c.tr.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: connection closed", errors.ErrTransportClosed)
}
