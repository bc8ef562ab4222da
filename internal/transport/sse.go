package transport

import (
	"bufio"
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/exp/jsonrpc2"

	"github.com/mcpmux/mcpmux/internal/errors"
)

var _ Transport = (*SSE)(nil)

// DefaultEndpointTimeout bounds the wait for the server's endpoint event
// after the event stream opens.
func DefaultEndpointTimeout() time.Duration {
	return 10 * time.Second
}

// SSEOption configures an SSE transport.
type SSEOption func(*SSE)

// WithHTTPClient overrides the HTTP client used for the event stream and
// message posts. The client must not set a global timeout, because the
// event stream is long-lived.
func WithHTTPClient(client *http.Client) SSEOption {
	return func(s *SSE) {
		if client != nil {
			s.client = client
		}
	}
}

// WithEndpointTimeout overrides the wait for the endpoint event.
func WithEndpointTimeout(d time.Duration) SSEOption {
	return func(s *SSE) {
		if d > 0 {
			s.endpointTimeout = d
		}
	}
}

// WithIdleTimeout fails the transport when the event stream stays silent
// for the given window. Zero disables the guard; only enable it against
// servers that send periodic keep-alive comments.
func WithIdleTimeout(d time.Duration) SSEOption {
	return func(s *SSE) {
		s.idleTimeout = d
	}
}

// SSE speaks the HTTP+SSE client side: a long-lived GET carries frames from
// the server, and requests are POSTed to the message endpoint announced by
// the initial endpoint event.
type SSE struct {
	logger hclog.Logger
	url    string
	client *http.Client

	endpointTimeout time.Duration
	idleTimeout     time.Duration

	frames chan jsonrpc2.Message
	done   chan struct{}
	stop   chan struct{}

	endpointReady chan struct{}
	endpointOnce  sync.Once

	mu         sync.Mutex
	err        error
	closing    bool
	started    bool
	messageURL string
	cancel     context.CancelFunc

	stopOnce sync.Once
	idle     *time.Timer
}

// NewSSE creates an SSE transport for the given event stream URL.
func NewSSE(logger hclog.Logger, streamURL string, opts ...SSEOption) *SSE {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	s := &SSE{
		logger:          logger.Named("sse"),
		url:             streamURL,
		client:          &http.Client{},
		endpointTimeout: DefaultEndpointTimeout(),
		frames:          make(chan jsonrpc2.Message, frameBuffer),
		done:            make(chan struct{}),
		stop:            make(chan struct{}),
		endpointReady:   make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

// Start opens the event stream and blocks until the server announces its
// message endpoint, the timeout elapses, or ctx is cancelled.
func (s *SSE) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("sse transport already started")
	}
	s.started = true
	s.mu.Unlock()

	// The stream outlives the Start call; its lifetime is bound to Close.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, s.url, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("open event stream: unexpected status %s", resp.Status)
	}

	go s.readLoop(resp.Body)

	timer := time.NewTimer(s.endpointTimeout)
	defer timer.Stop()

	select {
	case <-s.endpointReady:
		return nil
	case <-s.done:
		err := s.Err()
		if err == nil {
			err = fmt.Errorf("event stream closed before endpoint event")
		}
		return err
	case <-timer.C:
		s.fail(fmt.Errorf("no endpoint event within %s", s.endpointTimeout))
		<-s.done
		return fmt.Errorf("no endpoint event within %s", s.endpointTimeout)
	case <-ctx.Done():
		s.fail(ctx.Err())
		<-s.done
		return ctx.Err()
	}
}

// Send posts one message to the announced endpoint. A connection-level
// failure takes the transport down; an HTTP error status is reported to the
// caller but leaves the stream intact.
func (s *SSE) Send(ctx context.Context, msg jsonrpc2.Message) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return fmt.Errorf("%w: sse transport is not open", errors.ErrTransportClosed)
	}
	target := s.messageURL
	s.mu.Unlock()

	if target == "" {
		return fmt.Errorf("%w: no message endpoint announced", errors.ErrTransportClosed)
	}

	body, err := jsonrpc2.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("build message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		failErr := fmt.Errorf("%w: post message: %v", errors.ErrTransportClosed, err)
		s.fail(failErr)
		return failErr
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("message endpoint returned %s", resp.Status)
	}

	return nil
}

// Frames returns the inbound frame channel.
func (s *SSE) Frames() <-chan jsonrpc2.Message {
	return s.frames
}

// Done is closed once the event stream has ended.
func (s *SSE) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error recorded when the transport went down.
func (s *SSE) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close cancels the event stream. Safe to call more than once.
func (s *SSE) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closing = true
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()

	s.signalStop()

	if !started || cancel == nil {
		close(s.frames)
		close(s.done)
		return nil
	}

	cancel()
	<-s.done
	return nil
}

// fail records the terminal error and cancels the stream.
func (s *SSE) fail(err error) {
	s.mu.Lock()
	if s.err == nil && !s.closing {
		s.err = err
	}
	s.closing = true
	cancel := s.cancel
	s.mu.Unlock()

	s.signalStop()

	if cancel != nil {
		cancel()
	}
}

func (s *SSE) signalStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// readLoop parses server-sent events off the stream until it ends. Only the
// endpoint and message events matter; comments and unknown events are
// skipped.
func (s *SSE) readLoop(body io.ReadCloser) {
	defer close(s.done)
	defer close(s.frames)
	defer body.Close()

	if s.idleTimeout > 0 {
		s.idle = time.AfterFunc(s.idleTimeout, func() {
			s.fail(fmt.Errorf("%w: event stream silent for %s", errors.ErrTransportClosed, s.idleTimeout))
		})
		defer s.idle.Stop()
	}

	var event, data string
	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if !s.isClosing() && !stdErrors.Is(err, io.EOF) {
				s.setErr(fmt.Errorf("%w: event stream: %v", errors.ErrTransportClosed, err))
			} else if !s.isClosing() {
				s.setErr(fmt.Errorf("%w: event stream ended", errors.ErrTransportClosed))
			}
			return
		}

		if s.idle != nil {
			s.idle.Reset(s.idleTimeout)
		}

		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			s.dispatch(event, data)
			event, data = "", ""
		case strings.HasPrefix(line, ":"):
			// Keep-alive comment.
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			chunk := strings.TrimPrefix(line, "data:")
			chunk = strings.TrimPrefix(chunk, " ")
			if data != "" {
				data += "\n"
			}
			data += chunk
		}
	}
}

// dispatch handles one complete event.
func (s *SSE) dispatch(event, data string) {
	if data == "" {
		return
	}

	switch event {
	case "endpoint":
		target, err := s.resolveEndpoint(data)
		if err != nil {
			s.logger.Warn("ignoring unusable endpoint event", "data", data, "error", err)
			return
		}
		s.mu.Lock()
		s.messageURL = target
		s.mu.Unlock()
		s.endpointOnce.Do(func() { close(s.endpointReady) })
		s.logger.Debug("message endpoint announced", "url", target)

	case "message", "":
		msg, err := jsonrpc2.DecodeMessage([]byte(data))
		if err != nil {
			s.logger.Warn("dropping undecodable frame", "error", err)
			return
		}
		select {
		case s.frames <- msg:
		case <-s.stop:
		}

	default:
		s.logger.Debug("ignoring event", "event", event)
	}
}

// resolveEndpoint turns the announced endpoint, which may be relative, into
// an absolute URL against the stream URL.
func (s *SSE) resolveEndpoint(data string) (string, error) {
	base, err := url.Parse(s.url)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	ref, err := url.Parse(strings.TrimSpace(data))
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (s *SSE) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// setErr records the terminal error and marks the transport closed; it is
// called on the way out of the read loop, when the stream is already gone.
func (s *SSE) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.closing = true
	s.mu.Unlock()

	s.signalStop()
}
