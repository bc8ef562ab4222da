package translator

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/exp/jsonrpc2"

	"github.com/mcpmux/mcpmux/internal/config"
	"github.com/mcpmux/mcpmux/internal/domain"
	"github.com/mcpmux/mcpmux/internal/errors"
	"github.com/mcpmux/mcpmux/internal/transport"
)

var _ Translator = (*StdioToSSE)(nil)

// StdioToSSE launches a stdio-speaking server as a child process and exposes
// it as an SSE endpoint. Every frame read from the child's stdout is pushed
// to all connected subscribers in arrival order; every message posted by any
// subscriber is written to the child's stdin. All subscribers see the same
// ordered feed.
type StdioToSSE struct {
	logger hclog.Logger
	entry  config.TranslatorEntry

	// opMu serializes Start and Stop.
	opMu sync.Mutex

	mu      sync.Mutex
	state   domain.ServerState
	lastErr string
	gen     int
	tr      transport.Transport
	server  *http.Server
	hub     *hub
	addr    string
}

// NewStdioToSSE builds the bridge without starting the child process or the
// HTTP listener.
func NewStdioToSSE(logger hclog.Logger, entry config.TranslatorEntry) *StdioToSSE {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &StdioToSSE{
		logger: logger.Named("translator").Named(entry.Name),
		entry:  entry,
		state:  domain.ServerStateStopped,
	}
}

// Name returns the translator's configured name.
func (t *StdioToSSE) Name() string {
	return t.entry.Name
}

// Addr returns the live listen address, or empty when the bridge is down.
func (t *StdioToSSE) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addr
}

// Status returns a snapshot of the bridge.
func (t *StdioToSSE) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Status{
		Name:      t.entry.Name,
		Mode:      config.TranslatorStdioToSSE,
		State:     t.state,
		Addr:      t.addr,
		LastError: t.lastErr,
	}
}

// Start spawns the child process and opens the SSE endpoint.
func (t *StdioToSSE) Start(ctx context.Context) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.Lock()
	switch t.state {
	case domain.ServerStateStopped, domain.ServerStateCrashed:
	default:
		state := t.state
		t.mu.Unlock()
		return fmt.Errorf("%w: translator '%s' is %s", errors.ErrAlreadyInState, t.entry.Name, state)
	}
	t.state = domain.ServerStateStarting
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	tr := transport.NewStdio(t.logger, t.entry.Command, t.entry.Args, t.entry.Env)
	if err := tr.Start(ctx); err != nil {
		err = fmt.Errorf("%w: %v", errors.ErrStartupFailed, err)
		t.toCrashed(err)
		return err
	}

	listener, err := net.Listen("tcp", t.entry.Addr)
	if err != nil {
		_ = tr.Close()
		err = fmt.Errorf("%w: listen on %s: %v", errors.ErrStartupFailed, t.entry.Addr, err)
		t.toCrashed(err)
		return err
	}

	h := newHub(t.logger)
	mux := http.NewServeMux()
	mux.HandleFunc(ssePath, t.handleSubscribe(h))
	mux.HandleFunc(messagePath, t.handlePost(h, tr))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	t.mu.Lock()
	t.tr = tr
	t.hub = h
	t.server = srv
	t.addr = listener.Addr().String()
	t.state = domain.ServerStateRunning
	t.lastErr = ""
	addr := t.addr
	t.mu.Unlock()

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			t.logger.Error("sse endpoint failed", "error", serveErr)
		}
	}()
	go t.pump(tr, h)
	go t.watch(gen, tr)

	t.logger.Info("translator running",
		"mode", config.TranslatorStdioToSSE,
		"command", t.entry.Command,
		"addr", addr,
	)

	return nil
}

// Stop tears down both sides: subscribers are disconnected, the endpoint
// closes, and the child process is shut down. Stopping a bridge that is not
// running is a no-op.
func (t *StdioToSSE) Stop(ctx context.Context) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.Lock()
	if t.state != domain.ServerStateRunning {
		t.mu.Unlock()
		return nil
	}
	t.state = domain.ServerStateStopping
	t.gen++
	srv, h, tr := t.server, t.hub, t.tr
	t.server, t.hub, t.tr = nil, nil, nil
	t.addr = ""
	t.mu.Unlock()

	t.teardownHTTP(ctx, srv, h)
	if tr != nil {
		_ = tr.Close()
	}

	t.mu.Lock()
	t.state = domain.ServerStateStopped
	t.mu.Unlock()

	t.logger.Info("translator stopped")

	return nil
}

func (t *StdioToSSE) toCrashed(cause error) {
	t.mu.Lock()
	t.state = domain.ServerStateCrashed
	t.lastErr = cause.Error()
	t.mu.Unlock()
}

// pump relays child stdout frames to the subscriber hub. A single goroutine
// reads the frame channel, so broadcast order is arrival order.
func (t *StdioToSSE) pump(tr transport.Transport, h *hub) {
	for msg := range tr.Frames() {
		data, err := jsonrpc2.EncodeMessage(msg)
		if err != nil {
			t.logger.Warn("dropping unencodable frame", "error", err)
			continue
		}
		h.broadcast(formatEvent("message", string(data)))
	}
}

// watch crashes the bridge when the child dies underneath it.
func (t *StdioToSSE) watch(gen int, tr transport.Transport) {
	<-tr.Done()

	t.mu.Lock()
	if t.gen != gen || t.state != domain.ServerStateRunning {
		t.mu.Unlock()
		return
	}
	t.state = domain.ServerStateCrashed
	reason := "child process exited unexpectedly"
	if err := tr.Err(); err != nil {
		reason = err.Error()
	}
	t.lastErr = reason
	srv, h := t.server, t.hub
	t.server, t.hub, t.tr = nil, nil, nil
	t.addr = ""
	t.mu.Unlock()

	t.logger.Error("translator crashed", "reason", reason)
	t.teardownHTTP(context.Background(), srv, h)
}

// teardownHTTP disconnects every subscriber and then closes the endpoint.
// Closing the hub first lets the long-lived subscriber handlers return, so
// the server shutdown is not held hostage by them.
func (t *StdioToSSE) teardownHTTP(ctx context.Context, srv *http.Server, h *hub) {
	if h != nil {
		h.closeAll()
	}
	if srv == nil {
		return
	}

	sctx, cancel := context.WithTimeout(ctx, httpShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		t.logger.Warn("forcing sse endpoint closed", "error", err)
		_ = srv.Close()
	}
}

// handleSubscribe serves one SSE subscriber: announce the message endpoint,
// then stream broadcast events until the client leaves or the bridge stops.
func (t *StdioToSSE) handleSubscribe(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		id := uuid.NewString()
		ch, err := h.add(id)
		if err != nil {
			http.Error(w, "translator is shutting down", http.StatusServiceUnavailable)
			return
		}
		defer h.remove(id)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		// The endpoint is relative; clients resolve it against the stream URL.
		fmt.Fprint(w, formatEvent("endpoint", fmt.Sprintf("%s?session_id=%s", messagePath, id)))
		flusher.Flush()

		t.logger.Debug("subscriber connected", "session", id)

		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()

		for {
			select {
			case <-r.Context().Done():
				t.logger.Debug("subscriber disconnected", "session", id)
				return
			case event, open := <-ch:
				if !open {
					return
				}
				fmt.Fprint(w, event)
				flusher.Flush()
			case <-keepAlive.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
			}
		}
	}
}

// handlePost accepts one JSON-RPC message from a subscriber and forwards it
// to the child.
func (t *StdioToSSE) handlePost(h *hub, tr transport.Transport) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		session := r.URL.Query().Get("session_id")
		if session == "" {
			http.Error(w, "session_id is required", http.StatusBadRequest)
			return
		}
		if !h.has(session) {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, fmt.Sprintf("read body: %v", err), http.StatusInternalServerError)
			return
		}
		msg, err := jsonrpc2.DecodeMessage(body)
		if err != nil {
			http.Error(w, fmt.Sprintf("parse message: %v", err), http.StatusBadRequest)
			return
		}

		if err := tr.Send(r.Context(), msg); err != nil {
			t.logger.Error("forward to child failed", "error", err)
			http.Error(w, "failed to forward message", http.StatusBadGateway)
			return
		}

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("Accepted"))
	}
}

// hub fans frames out to SSE subscribers. Sends and channel closes are
// serialized under one mutex, so a subscriber channel is never written after
// it closes. Each subscriber's queue preserves arrival order; a subscriber
// whose queue is full is dropped so one stalled consumer cannot hold back
// the feed for the others.
type hub struct {
	logger hclog.Logger

	mu     sync.Mutex
	subs   map[string]chan string
	closed bool
}

func newHub(logger hclog.Logger) *hub {
	return &hub{
		logger: logger,
		subs:   make(map[string]chan string),
	}
}

func (h *hub) add(id string) (<-chan string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, fmt.Errorf("hub is closed")
	}

	ch := make(chan string, subscriberQueueSize)
	h.subs[id] = ch

	return ch, nil
}

func (h *hub) has(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.subs[id]
	return ok
}

func (h *hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *hub) broadcast(event string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			h.logger.Warn("subscriber cannot keep up, dropping", "session", id)
			delete(h.subs, id)
			close(ch)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
