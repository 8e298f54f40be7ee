package transport

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/cogwire/internal/capture"
	"github.com/scrypster/cogwire/internal/protocol"
)

type capturedFrame struct {
	raw        string
	decoded    bool
	dir        capture.Direction
	parentHint string
	errText    string
}

type captureRecorder struct {
	mu     sync.Mutex
	frames []capturedFrame
}

func (r *captureRecorder) hook(raw []byte, frame *protocol.Frame, _ int64, dir capture.Direction, parentHint, errText string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, capturedFrame{
		raw:        string(raw),
		decoded:    frame != nil,
		dir:        dir,
		parentHint: parentHint,
		errText:    errText,
	})
}

func (r *captureRecorder) all() []capturedFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]capturedFrame(nil), r.frames...)
}

func startedTransport(t *testing.T, input string) (*Stdio, *bytes.Buffer, *captureRecorder) {
	t.Helper()
	rec := &captureRecorder{}
	out := &bytes.Buffer{}
	tr := New(strings.NewReader(input), out, rec.hook)
	require.NoError(t, tr.Start())
	return tr, out, rec
}

func TestReadFrameDecodesAndCaptures(t *testing.T) {
	tr, _, rec := startedTransport(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n")

	frame, err := tr.ReadFrame()
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Equal(t, "ping", frame.Method)

	frames := rec.all()
	require.Len(t, frames, 1)
	assert.True(t, frames[0].decoded)
	assert.Equal(t, capture.DirectionIn, frames[0].dir)
	assert.Empty(t, frames[0].errText)

	_, err = tr.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameSkipsEmptyLines(t *testing.T) {
	tr, _, rec := startedTransport(t, "\n\n"+`{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n")

	frame, err := tr.ReadFrame()
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Len(t, rec.all(), 1, "blank lines are not captured")
}

func TestReadFrameCapturesMalformedLine(t *testing.T) {
	tr, _, rec := startedTransport(t, "this is not json\n"+`{"jsonrpc":"2.0","id":2,"method":"ping"}`+"\n")

	// Malformed line: captured with an error marker, never surfaced.
	frame, err := tr.ReadFrame()
	require.NoError(t, err)
	assert.Nil(t, frame)

	frames := rec.all()
	require.Len(t, frames, 1)
	assert.False(t, frames[0].decoded)
	assert.Equal(t, "this is not json", frames[0].raw)
	assert.Contains(t, frames[0].errText, "frame decode error")

	// The stream continues; the next line decodes normally.
	frame, err = tr.ReadFrame()
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Equal(t, "2", frame.CorrelationID())
}

func TestWriteFrameAppendsNewlineAndCaptures(t *testing.T) {
	tr, out, rec := startedTransport(t, "")

	resp, err := protocol.MakeResponse([]byte(`1`), map[string]any{"ok": true})
	require.NoError(t, err)
	require.NoError(t, tr.WriteFrame(resp, "1"))

	written := out.String()
	assert.True(t, strings.HasSuffix(written, "\n"))
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`, strings.TrimSpace(written))

	frames := rec.all()
	require.Len(t, frames, 1)
	assert.Equal(t, capture.DirectionOut, frames[0].dir)
	assert.Equal(t, "1", frames[0].parentHint)
	assert.Equal(t, written, frames[0].raw)
}

func TestLifecycleGuards(t *testing.T) {
	rec := &captureRecorder{}
	tr := New(strings.NewReader(""), &bytes.Buffer{}, rec.hook)

	_, err := tr.ReadFrame()
	require.Error(t, err, "reads before Start fail")

	require.NoError(t, tr.Start())
	require.Error(t, tr.Start(), "double start fails")

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close(), "close is idempotent")

	_, err = tr.ReadFrame()
	assert.ErrorIs(t, err, ErrClosed)

	resp, err := protocol.MakeResponse([]byte(`1`), map[string]any{})
	require.NoError(t, err)
	assert.ErrorIs(t, tr.WriteFrame(resp, "1"), ErrClosed)

	assert.ErrorIs(t, tr.Start(), ErrClosed)
}
