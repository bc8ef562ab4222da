package transport

import (
	"bufio"
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/exp/jsonrpc2"

	"github.com/mcpmux/mcpmux/internal/errors"
)

var _ Transport = (*Stdio)(nil)

// DefaultWriteTimeout bounds how long a stdio write may block before the
// child is considered stalled and the transport is failed.
func DefaultWriteTimeout() time.Duration {
	return 10 * time.Second
}

// DefaultStopTimeout is the grace period between SIGTERM and SIGKILL during
// Close.
func DefaultStopTimeout() time.Duration {
	return 5 * time.Second
}

// StdioOption configures a Stdio transport.
type StdioOption func(*Stdio)

// WithWriteTimeout overrides the stalled-write guard.
func WithWriteTimeout(d time.Duration) StdioOption {
	return func(s *Stdio) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithStopTimeout overrides the SIGTERM grace period.
func WithStopTimeout(d time.Duration) StdioOption {
	return func(s *Stdio) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// Stdio runs a backend as a child process and frames newline-delimited
// JSON-RPC messages over its standard streams. The child's stderr is drained
// and logged; its last line is folded into the exit reason.
type Stdio struct {
	logger  hclog.Logger
	command string
	args    []string
	env     map[string]string

	writeTimeout time.Duration
	stopTimeout  time.Duration

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	cancel context.CancelFunc

	frames chan jsonrpc2.Message
	done   chan struct{}
	stop   chan struct{}

	readDone   chan struct{}
	stderrDone chan struct{}

	mu         sync.Mutex
	err        error
	closing    bool
	started    bool
	lastStderr string

	writeMu  sync.Mutex
	stopOnce sync.Once
}

// NewStdio creates a stdio transport for the given command line. The child
// inherits the daemon's environment with env merged on top.
func NewStdio(logger hclog.Logger, command string, args []string, env map[string]string, opts ...StdioOption) *Stdio {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	s := &Stdio{
		logger:       logger.Named("stdio"),
		command:      command,
		args:         args,
		env:          env,
		writeTimeout: DefaultWriteTimeout(),
		stopTimeout:  DefaultStopTimeout(),
		frames:       make(chan jsonrpc2.Message, frameBuffer),
		done:         make(chan struct{}),
		stop:         make(chan struct{}),
		readDone:     make(chan struct{}),
		stderrDone:   make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

// Start spawns the child process and begins pumping its streams.
func (s *Stdio) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("stdio transport already started")
	}
	s.started = true
	s.mu.Unlock()

	// The process outlives the Start call; its lifetime is bound to Close,
	// not to the caller's context.
	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	cmd := exec.CommandContext(procCtx, s.command, s.args...)
	cmd.Env = mergedEnv(s.env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("spawn %s: %w", s.command, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.stdout = stdout
	s.stderr = stderr
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Debug("process started", "command", s.command, "pid", cmd.Process.Pid)

	go s.readLoop(stdout)
	go s.drainStderr(stderr)
	go s.monitor()

	return nil
}

// Send writes one newline-delimited frame to the child's stdin. A write that
// blocks longer than the configured timeout fails the whole transport, since
// a child that stopped reading cannot be trusted with further traffic.
func (s *Stdio) Send(_ context.Context, msg jsonrpc2.Message) error {
	s.mu.Lock()
	if s.closing || s.stdin == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: stdio transport is not open", errors.ErrTransportClosed)
	}
	stdin := s.stdin
	s.mu.Unlock()

	frame, err := EncodeFrame(msg)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		_, writeErr := stdin.Write(frame)
		errCh <- writeErr
	}()

	timer := time.NewTimer(s.writeTimeout)
	defer timer.Stop()

	select {
	case writeErr := <-errCh:
		if writeErr != nil {
			err := fmt.Errorf("%w: write: %v", errors.ErrTransportClosed, writeErr)
			s.fail(err)
			return err
		}
		return nil
	case <-timer.C:
		err := fmt.Errorf("%w: write stalled for %s", errors.ErrTransportClosed, s.writeTimeout)
		s.fail(err)
		return err
	}
}

// Frames returns the inbound frame channel. It is closed when the child's
// stdout ends.
func (s *Stdio) Frames() <-chan jsonrpc2.Message {
	return s.frames
}

// Done is closed once the child has exited and been reaped.
func (s *Stdio) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error recorded when the transport went down.
func (s *Stdio) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tears the child down: stdin is closed, SIGTERM is sent, and after
// the grace period the process is killed. Safe to call more than once.
func (s *Stdio) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closing = true
	cmd := s.cmd
	stdin := s.stdin
	s.mu.Unlock()

	s.signalStop()

	if cmd == nil {
		s.finishUnstarted()
		return nil
	}

	// Closing stdin asks well-behaved servers to exit on their own.
	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}

	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()

	select {
	case <-s.done:
	case <-timer.C:
		s.logger.Warn("process did not exit in time, killing", "command", s.command)
		s.kill(cmd)
		<-s.done
	}

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	return nil
}

// fail records the terminal error and force-closes the transport without the
// graceful SIGTERM dance.
func (s *Stdio) fail(err error) {
	s.mu.Lock()
	if s.err == nil && !s.closing {
		s.err = err
	}
	s.closing = true
	cmd := s.cmd
	cancel := s.cancel
	s.mu.Unlock()

	s.signalStop()

	if cmd != nil {
		s.kill(cmd)
	}
	if cancel != nil {
		cancel()
	}
}

// kill terminates the process and force-closes its pipes so the stream
// goroutines cannot stay blocked on a read.
func (s *Stdio) kill(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}

	s.mu.Lock()
	stdout := s.stdout
	stderr := s.stderr
	s.mu.Unlock()

	if stdout != nil {
		_ = stdout.Close()
	}
	if stderr != nil {
		_ = stderr.Close()
	}
}

func (s *Stdio) signalStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// finishUnstarted completes shutdown for a transport closed before Start.
func (s *Stdio) finishUnstarted() {
	close(s.frames)
	close(s.done)
}

// readLoop decodes frames from the child's stdout until the stream ends. A
// malformed frame is unrecoverable because the stream can no longer be
// re-synchronised, so it fails the whole transport.
func (s *Stdio) readLoop(stdout io.ReadCloser) {
	defer close(s.readDone)
	defer close(s.frames)

	fr := NewFrameReader(stdout)
	for {
		msg, err := fr.Next()
		if err != nil {
			if !stdErrors.Is(err, io.EOF) && !s.isClosing() {
				s.fail(fmt.Errorf("%w: read: %v", errors.ErrTransportClosed, err))
			}
			return
		}

		select {
		case s.frames <- msg:
		case <-s.stop:
			return
		}
	}
}

func (s *Stdio) drainStderr(stderr io.ReadCloser) {
	defer close(s.stderrDone)

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.logger.Debug("stderr", "line", line)
		s.mu.Lock()
		s.lastStderr = line
		s.mu.Unlock()
	}
}

// monitor reaps the child once its output streams are drained, records the
// exit reason, and closes done. Draining first keeps Wait from closing the
// stdout pipe while a final frame is still in flight.
func (s *Stdio) monitor() {
	<-s.readDone
	<-s.stderrDone

	err := s.cmd.Wait()

	s.mu.Lock()
	if !s.closing && s.err == nil {
		reason := "process exited unexpectedly"
		if err != nil {
			reason = fmt.Sprintf("process exited: %v", err)
		}
		if s.lastStderr != "" {
			reason = fmt.Sprintf("%s (stderr: %s)", reason, s.lastStderr)
		}
		s.err = fmt.Errorf("%w: %s", errors.ErrTransportClosed, reason)
	}
	s.closing = true
	s.mu.Unlock()

	s.signalStop()
	close(s.done)
}

func (s *Stdio) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// mergedEnv layers entries on top of the daemon's environment in a stable
// order.
func mergedEnv(env map[string]string) []string {
	merged := os.Environ()
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		merged = append(merged, k+"="+env[k])
	}
	return merged
}
