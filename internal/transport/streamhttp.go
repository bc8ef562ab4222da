package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/exp/jsonrpc2"

	"github.com/mcpmux/mcpmux/internal/errors"
)

var _ Transport = (*StreamableHTTP)(nil)

const sessionHeader = "Mcp-Session-Id"

// listenRetryDelay paces reconnect attempts for the optional notification
// stream.
const listenRetryDelay = 5 * time.Second

// StreamableHTTPOption configures a StreamableHTTP transport.
type StreamableHTTPOption func(*StreamableHTTP)

// WithStreamableHTTPClient overrides the HTTP client used for posts and the
// notification stream.
func WithStreamableHTTPClient(client *http.Client) StreamableHTTPOption {
	return func(s *StreamableHTTP) {
		if client != nil {
			s.client = client
		}
	}
}

// StreamableHTTP speaks the streamable HTTP client side: every message is a
// POST to the endpoint, responses arrive in the POST body as plain JSON or
// as a per-request event stream, and a background GET stream carries
// server-initiated notifications when the server supports one.
type StreamableHTTP struct {
	logger hclog.Logger
	url    string
	client *http.Client

	frames chan jsonrpc2.Message
	done   chan struct{}
	stop   chan struct{}

	mu        sync.Mutex
	err       error
	closing   bool
	started   bool
	sessionID string
	cancel    context.CancelFunc
	lifeCtx   context.Context

	stopOnce   sync.Once
	listenOnce sync.Once
	wg         sync.WaitGroup
}

// NewStreamableHTTP creates a streamable HTTP transport for the given
// endpoint URL.
func NewStreamableHTTP(logger hclog.Logger, endpointURL string, opts ...StreamableHTTPOption) *StreamableHTTP {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	s := &StreamableHTTP{
		logger: logger.Named("streamhttp"),
		url:    endpointURL,
		client: &http.Client{},
		frames: make(chan jsonrpc2.Message, frameBuffer),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

// Start prepares the transport. No connection is made until the first Send;
// the endpoint is only probed by actual traffic.
func (s *StreamableHTTP) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("streamable http transport already started")
	}
	s.started = true

	lifeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.lifeCtx = lifeCtx
	s.cancel = cancel

	go s.finisher(lifeCtx)

	return nil
}

// finisher closes the transport channels once the lifecycle context ends and
// all background streams have drained.
func (s *StreamableHTTP) finisher(ctx context.Context) {
	<-ctx.Done()
	s.wg.Wait()
	close(s.frames)
	close(s.done)
}

// Send posts one message. Responses delivered in the POST body are pushed
// onto the frame channel, so callers observe them exactly as they would on
// a socket transport.
func (s *StreamableHTTP) Send(ctx context.Context, msg jsonrpc2.Message) error {
	s.mu.Lock()
	if s.closing || !s.started {
		s.mu.Unlock()
		return fmt.Errorf("%w: streamable http transport is not open", errors.ErrTransportClosed)
	}
	session := s.sessionID
	s.mu.Unlock()

	body, err := jsonrpc2.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if session != "" {
		req.Header.Set(sessionHeader, session)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		failErr := fmt.Errorf("%w: post: %v", errors.ErrTransportClosed, err)
		s.fail(failErr)
		return failErr
	}

	if sid := resp.Header.Get(sessionHeader); sid != "" {
		s.rememberSession(sid)
	}

	switch {
	case resp.StatusCode == http.StatusAccepted:
		resp.Body.Close()
		return nil

	case resp.StatusCode == http.StatusNotFound && session != "":
		resp.Body.Close()
		// The server expired our session; only a fresh handshake can
		// recover, so the whole transport goes down.
		failErr := fmt.Errorf("%w: session expired", errors.ErrTransportClosed)
		s.fail(failErr)
		return failErr

	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("endpoint returned %s", resp.Status)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mediaType {
	case "text/event-stream":
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer resp.Body.Close()
			s.pumpEvents(resp.Body)
		}()
		return nil

	case "application/json":
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if len(raw) == 0 {
			return nil
		}
		reply, err := jsonrpc2.DecodeMessage(raw)
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		s.deliver(reply)
		return nil

	default:
		resp.Body.Close()
		return fmt.Errorf("endpoint returned unsupported content type %q", resp.Header.Get("Content-Type"))
	}
}

// rememberSession stores the server-issued session id and, on first sight,
// opens the notification stream.
func (s *StreamableHTTP) rememberSession(sid string) {
	s.mu.Lock()
	s.sessionID = sid
	ctx := s.lifeCtx
	s.mu.Unlock()

	s.listenOnce.Do(func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.listen(ctx)
		}()
	})
}

// listen maintains a GET stream for server-initiated messages. Servers are
// allowed to refuse it, in which case there is nothing to listen to.
func (s *StreamableHTTP) listen(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		session := s.sessionID
		s.mu.Unlock()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
		if err != nil {
			return
		}
		req.Header.Set("Accept", "text/event-stream")
		if session != "" {
			req.Header.Set(sessionHeader, session)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Debug("notification stream unavailable", "error", err)
		} else {
			switch resp.StatusCode {
			case http.StatusOK:
				s.pumpEvents(resp.Body)
				resp.Body.Close()
			case http.StatusMethodNotAllowed, http.StatusNotFound:
				resp.Body.Close()
				s.logger.Debug("server offers no notification stream", "status", resp.Status)
				return
			default:
				resp.Body.Close()
				s.logger.Debug("notification stream refused", "status", resp.Status)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(listenRetryDelay):
		}
	}
}

// pumpEvents reads server-sent events off a body and delivers each message
// frame.
func (s *StreamableHTTP) pumpEvents(body io.Reader) {
	var data string
	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if data != "" {
				s.decodeAndDeliver(data)
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if data != "" {
				s.decodeAndDeliver(data)
				data = ""
			}
		case strings.HasPrefix(line, ":"):
			// Keep-alive comment.
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

func (s *StreamableHTTP) decodeAndDeliver(data string) {
	msg, err := jsonrpc2.DecodeMessage([]byte(data))
	if err != nil {
		s.logger.Warn("dropping undecodable frame", "error", err)
		return
	}
	s.deliver(msg)
}

func (s *StreamableHTTP) deliver(msg jsonrpc2.Message) {
	select {
	case s.frames <- msg:
	case <-s.stop:
	}
}

// Frames returns the inbound frame channel.
func (s *StreamableHTTP) Frames() <-chan jsonrpc2.Message {
	return s.frames
}

// Done is closed once the transport has shut down.
func (s *StreamableHTTP) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error recorded when the transport went down.
func (s *StreamableHTTP) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close cancels all outstanding streams. Safe to call more than once.
func (s *StreamableHTTP) Close() error {
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

// fail records the terminal error and shuts the transport down.
func (s *StreamableHTTP) fail(err error) {
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

func (s *StreamableHTTP) signalStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}
