// Package transport provides the line-framed stdio transport: one JSON-RPC
// frame per newline-terminated UTF-8 line, read from stdin and written to
// stdout.
//
// Protocol rules (must be followed exactly):
//   - Absolutely no non-protocol output may reach the outbound stream. ALL
//     diagnostic output goes to stderr.
//   - Every raw frame, in both directions, is handed to the capture hook:
//     inbound before the router ever sees it, outbound before the write.
//   - A write error is fatal to the connection; the byte-exact stream
//     contract is unrecoverable once broken mid-write.
package transport

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/scrypster/cogwire/internal/capture"
	"github.com/scrypster/cogwire/internal/protocol"
)

// ErrClosed is returned by ReadFrame and WriteFrame after Close.
var ErrClosed = errors.New("transport: closed")

// maxLine caps a single frame line (4 MB). A longer line is an input
// error, not a protocol error: the read loop stops with bufio.ErrTooLong.
const maxLine = 4 * 1024 * 1024

// CaptureFunc receives every raw frame crossing the transport boundary.
// frame is nil when the line failed to decode; errText carries the decode
// error. parentHint tags outbound frames with the correlation id of the
// request they answer.
type CaptureFunc func(raw []byte, frame *protocol.Frame, timestampNS int64, dir capture.Direction, parentHint, errText string)

// Stdio is the line-framed transport over an input/output byte stream
// pair. It is single-peer: one reader, one writer, strict ordering.
type Stdio struct {
	in  io.Reader
	out io.Writer

	mu      sync.Mutex
	scanner *bufio.Scanner
	writer  *bufio.Writer
	started bool
	closed  bool

	onCapture CaptureFunc
	log       *log.Logger
}

// New constructs a transport over in/out. The capture hook must be
// non-nil; the transport is the guarantee that capture happens even when
// the router never runs.
func New(in io.Reader, out io.Writer, onCapture CaptureFunc) *Stdio {
	return &Stdio{
		in:        in,
		out:       out,
		onCapture: onCapture,
		log:       log.New(os.Stderr, "cogwire-transport: ", log.LstdFlags),
	}
}

// Start acquires the streams. It must be called exactly once before reads
// begin and fails if the transport was already started or closed.
func (t *Stdio) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.started {
		return errors.New("transport: already started")
	}
	sc := bufio.NewScanner(t.in)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	t.scanner = sc
	t.writer = bufio.NewWriter(t.out)
	t.started = true
	t.log.Println("transport initialized")
	return nil
}

// ReadFrame blocks until one line is available or the stream is closed.
//
// Returns:
//   - (frame, nil) on a decoded frame, after the capture hook has run;
//   - (nil, nil) for a line that failed to decode; the malformed input is
//     captured with an error marker and never dispatched;
//   - (nil, io.EOF) when the input stream ends, the server's sole normal
//     termination signal;
//   - (nil, err) for any other read failure.
func (t *Stdio) ReadFrame() (*protocol.Frame, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	if !t.started {
		t.mu.Unlock()
		return nil, errors.New("transport: not started")
	}
	sc := t.scanner
	t.mu.Unlock()

	for {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return nil, fmt.Errorf("transport: read: %w", err)
			}
			return nil, io.EOF
		}

		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		// Scanner reuses its buffer; the capture record owns its bytes.
		raw := make([]byte, len(line))
		copy(raw, line)

		ts := time.Now().UnixNano()

		var frame protocol.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.log.Printf("frame decode error: %v", err)
			t.onCapture(raw, nil, ts, capture.DirectionIn, "", fmt.Sprintf("frame decode error: %v", err))
			return nil, nil
		}

		// Capture before returning control to the router, guaranteeing the
		// inbound record exists even if dispatch never happens.
		t.onCapture(raw, &frame, ts, capture.DirectionIn, "", "")
		return &frame, nil
	}
}

// WriteFrame serializes the frame into its exact on-wire encoding, runs
// the capture hook (tagged with correlationID so lineage resolves), then
// performs the write and flush. The write is atomic with respect to other
// writes on the same stream.
func (t *Stdio) WriteFrame(frame *protocol.Frame, correlationID string) error {
	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if !t.started {
		return errors.New("transport: not started")
	}

	raw := append(data, '\n')
	t.onCapture(raw, frame, time.Now().UnixNano(), capture.DirectionOut, correlationID, "")

	if _, err := t.writer.Write(raw); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("transport: flush: %w", err)
	}
	return nil
}

// Close marks the transport inactive. Subsequent reads and writes fail
// fast with ErrClosed; Close is idempotent.
func (t *Stdio) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.log.Println("transport closed")
	return nil
}
