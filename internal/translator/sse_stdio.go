package translator

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/mcpmux/mcpmux/internal/config"
	"github.com/mcpmux/mcpmux/internal/domain"
	"github.com/mcpmux/mcpmux/internal/errors"
	"github.com/mcpmux/mcpmux/internal/transport"
)

var _ Translator = (*SSEToStdio)(nil)

// SSEToStdioOption configures an SSEToStdio bridge.
type SSEToStdioOption func(*SSEToStdio)

// WithStreams overrides the standard streams the bridge is exposed on.
func WithStreams(in io.Reader, out io.Writer) SSEToStdioOption {
	return func(t *SSEToStdio) {
		if in != nil {
			t.in = in
		}
		if out != nil {
			t.out = out
		}
	}
}

// SSEToStdio dials a remote SSE endpoint and exposes it on this process's
// standard streams, so stdio-only clients can reach an SSE-only backend.
// Frames from the remote stream are written to stdout in arrival order;
// newline-delimited frames read from stdin are posted to the remote in
// arrival order.
type SSEToStdio struct {
	logger hclog.Logger
	entry  config.TranslatorEntry

	in  io.Reader
	out io.Writer

	// opMu serializes Start and Stop.
	opMu sync.Mutex

	mu      sync.Mutex
	state   domain.ServerState
	lastErr string
	gen     int
	tr      transport.Transport
}

// NewSSEToStdio builds the bridge without dialing the remote endpoint. By
// default it owns the process's real stdin and stdout.
func NewSSEToStdio(logger hclog.Logger, entry config.TranslatorEntry, opts ...SSEToStdioOption) *SSEToStdio {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	t := &SSEToStdio{
		logger: logger.Named("translator").Named(entry.Name),
		entry:  entry,
		in:     os.Stdin,
		out:    os.Stdout,
		state:  domain.ServerStateStopped,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}

	return t
}

// Name returns the translator's configured name.
func (t *SSEToStdio) Name() string {
	return t.entry.Name
}

// Status returns a snapshot of the bridge.
func (t *SSEToStdio) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Status{
		Name:      t.entry.Name,
		Mode:      config.TranslatorSSEToStdio,
		State:     t.state,
		LastError: t.lastErr,
	}
}

// Start dials the remote event stream and begins relaying in both
// directions.
func (t *SSEToStdio) Start(ctx context.Context) error {
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

	tr := transport.NewSSE(t.logger, t.entry.URL)
	if err := tr.Start(ctx); err != nil {
		err = fmt.Errorf("%w: dial %s: %v", errors.ErrStartupFailed, t.entry.URL, err)
		t.mu.Lock()
		t.state = domain.ServerStateCrashed
		t.lastErr = err.Error()
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	t.tr = tr
	t.state = domain.ServerStateRunning
	t.lastErr = ""
	t.mu.Unlock()

	go t.pumpOut(gen, tr)
	go t.pumpIn(gen, tr)
	go t.watch(gen, tr)

	t.logger.Info("translator running",
		"mode", config.TranslatorSSEToStdio,
		"url", t.entry.URL,
	)

	return nil
}

// Stop closes the remote stream and winds the relays down. Stopping a
// bridge that is not running is a no-op. A relay goroutine blocked reading
// stdin is released when the input stream closes.
func (t *SSEToStdio) Stop(_ context.Context) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.Lock()
	if t.state != domain.ServerStateRunning {
		t.mu.Unlock()
		return nil
	}
	t.state = domain.ServerStateStopping
	t.gen++
	tr := t.tr
	t.tr = nil
	t.mu.Unlock()

	if tr != nil {
		_ = tr.Close()
	}

	t.mu.Lock()
	t.state = domain.ServerStateStopped
	t.mu.Unlock()

	t.logger.Info("translator stopped")

	return nil
}

// pumpOut relays remote frames to the output stream, one frame per line.
func (t *SSEToStdio) pumpOut(gen int, tr transport.Transport) {
	for msg := range tr.Frames() {
		frame, err := transport.EncodeFrame(msg)
		if err != nil {
			t.logger.Warn("dropping unencodable frame", "error", err)
			continue
		}
		if _, err := t.out.Write(frame); err != nil {
			t.fail(gen, tr, fmt.Errorf("write to output: %w", err))
			return
		}
	}
}

// pumpIn relays newline-delimited frames from the input stream to the
// remote. EOF means the local client went away and stops the bridge
// cleanly; a malformed frame poisons the stream and crashes it.
func (t *SSEToStdio) pumpIn(gen int, tr transport.Transport) {
	fr := transport.NewFrameReader(t.in)
	for {
		msg, err := fr.Next()
		if err != nil {
			if stdErrors.Is(err, io.EOF) {
				t.logger.Info("input stream closed, stopping")
				_ = t.Stop(context.Background())
				return
			}
			t.fail(gen, tr, fmt.Errorf("read input: %w", err))
			return
		}

		if err := tr.Send(context.Background(), msg); err != nil {
			t.fail(gen, tr, fmt.Errorf("forward to remote: %w", err))
			return
		}
	}
}

// watch crashes the bridge when the remote stream dies underneath it.
func (t *SSEToStdio) watch(gen int, tr transport.Transport) {
	<-tr.Done()

	reason := fmt.Errorf("remote stream closed unexpectedly")
	if err := tr.Err(); err != nil {
		reason = err
	}
	t.fail(gen, tr, reason)
}

// fail records a crash unless the bridge already left Running through Stop
// or an earlier failure.
func (t *SSEToStdio) fail(gen int, tr transport.Transport, cause error) {
	t.mu.Lock()
	if t.gen != gen || t.state != domain.ServerStateRunning {
		t.mu.Unlock()
		return
	}
	t.state = domain.ServerStateCrashed
	t.lastErr = cause.Error()
	t.tr = nil
	t.mu.Unlock()

	t.logger.Error("translator crashed", "reason", cause.Error())
	_ = tr.Close()
}
