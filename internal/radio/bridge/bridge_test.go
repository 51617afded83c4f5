package bridge

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort hands out queued reads one chunk at a time; an empty queue reads as a timeout.
type fakePort struct {
	reads   [][]byte
	readErr error
	written bytes.Buffer
	closed  bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.readErr != nil {
		return 0, p.readErr
	}
	if len(p.reads) == 0 {
		return 0, nil
	}
	n := copy(b, p.reads[0])
	if n < len(p.reads[0]) {
		p.reads[0] = p.reads[0][n:]
	} else {
		p.reads = p.reads[1:]
	}
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error)        { return p.written.Write(b) }
func (p *fakePort) Close() error                       { p.closed = true; return nil }
func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }

var _ Port = (*fakePort)(nil)
var _ io.Reader = (*fakePort)(nil)

func TestBridgeFrames(t *testing.T) {
	port := &fakePort{reads: [][]byte{
		[]byte("# nRF24 bridge ready\r\n1 01:00:00:80"),
		[]byte(":41:00:00:48:42\r\n"),
		[]byte("garbage\n2 0102030405\n"),
	}}
	e := New(port, nil)

	ready, err := e.DataReady()
	require.NoError(t, err)
	assert.False(t, ready, "partial line is not a frame")

	ready, err = e.DataReady()
	require.NoError(t, err)
	assert.True(t, ready)
	ready, _ = e.DataReady()
	assert.True(t, ready, "polling again must not consume")

	pipe, payload, err := e.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, 1, pipe)
	assert.Equal(t, []byte{0x01, 0x00, 0x00, 0x80, 0x41, 0x00, 0x00, 0x48, 0x42}, payload)

	ready, err = e.DataReady()
	require.NoError(t, err)
	require.True(t, ready)

	pipe, payload, err = e.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, 2, pipe)
	assert.Len(t, payload, 5)

	ready, err = e.DataReady()
	require.NoError(t, err)
	assert.False(t, ready)

	_, _, err = e.ReadFrame()
	assert.Error(t, err)
}

func TestBridgeReadError(t *testing.T) {
	port := &fakePort{readErr: errors.New("device disconnected")}
	_, err := New(port, nil).DataReady()
	assert.ErrorIs(t, err, port.readErr)
}

func TestBridgePowerDown(t *testing.T) {
	port := &fakePort{}
	require.NoError(t, New(port, nil).PowerDown())
	assert.Equal(t, "PD\n", port.written.String())
	assert.True(t, port.closed)
}

func TestBridgeReportsBadLines(t *testing.T) {
	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelInfo}))

	port := &fakePort{reads: [][]byte{
		[]byte("1 " + strings.Repeat("01", 33) + "\n9 0102\n"),
	}}
	e := New(port, log)

	ready, err := e.DataReady()
	require.NoError(t, err)
	require.True(t, ready, "oversized payload is passed on")

	pipe, payload, err := e.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, 1, pipe)
	assert.Empty(t, payload)

	ready, err = e.DataReady()
	require.NoError(t, err)
	assert.False(t, ready)

	out := logs.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "bridge: oversized payload")
	assert.Contains(t, out, "pipe=1")
	assert.Contains(t, out, "bridge: malformed frame line")
	assert.Contains(t, out, `line="9 0102"`)
}
