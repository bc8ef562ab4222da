package transport

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"golang.org/x/exp/jsonrpc2"
)

// EncodeFrame marshals a JSON-RPC message and appends the newline delimiter
// used by stdio framing.
func EncodeFrame(msg jsonrpc2.Message) ([]byte, error) {
	data, err := jsonrpc2.EncodeMessage(msg)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeFrame parses one JSON-RPC message from a single line.
func DecodeFrame(line []byte) (jsonrpc2.Message, error) {
	msg, err := jsonrpc2.DecodeMessage(line)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return msg, nil
}

// FrameReader reads newline-delimited JSON-RPC messages from a byte stream.
// Empty lines are skipped; a malformed line is a hard error because the
// stream can no longer be trusted to be aligned on frame boundaries.
type FrameReader struct {
	r *bufio.Reader
}

// NewFrameReader wraps r for frame-by-frame reading.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r)}
}

// Next blocks until one complete frame is available and returns it.
// It returns io.EOF once the underlying stream closes cleanly.
func (f *FrameReader) Next() (jsonrpc2.Message, error) {
	for {
		line, err := f.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && strings.TrimSpace(line) != "" {
				// Final frame without a trailing newline.
				return DecodeFrame([]byte(strings.TrimSpace(line)))
			}
			return nil, err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		return DecodeFrame([]byte(line))
	}
}

// IsNotification reports whether msg is a request carrying no id, which per
// JSON-RPC expects no response.
func IsNotification(msg jsonrpc2.Message) bool {
	req, ok := msg.(*jsonrpc2.Request)
	return ok && req.ID.Raw() == nil
}
