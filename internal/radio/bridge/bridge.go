// Package bridge receives frames from a microcontroller that owns the radio
// and forwards every received payload over USB serial as a text line:
//
//	<pipe> <hex payload>
//
// Lines starting with '#' are firmware chatter and are skipped. Lines that do
// not parse are reported as warnings and skipped. A payload longer than the
// radio FIFO is passed on as an empty frame, which the decoder rejects.
package bridge

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.bug.st/serial"
	"go.uber.org/multierr"

	"nrf-collector/internal/radio"
)

// pollTimeout bounds how long DataReady waits for serial input.
const pollTimeout = 5 * time.Millisecond

// powerDownCommand asks the bridge firmware to power its radio down.
const powerDownCommand = "PD\n"

// Port is the subset of serial.Port used by the endpoint.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

type frame struct {
	pipe    int
	payload []byte
}

// Endpoint is a radio.Endpoint backed by a serial bridge.
type Endpoint struct {
	port    Port
	log     *slog.Logger
	buf     []byte
	pending []frame
	chunk   []byte
}

// Open opens the serial device and returns the endpoint.
func Open(portName string, baudRate int, log *slog.Logger) (*Endpoint, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open bridge port %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(pollTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", portName, err)
	}

	return New(port, log), nil
}

// New wraps an already open port. The port must have a short read timeout.
func New(port Port, log *slog.Logger) *Endpoint {
	if log == nil {
		log = slog.Default()
	}
	return &Endpoint{
		port:  port,
		log:   log,
		chunk: make([]byte, 256),
	}
}

// DataReady reports whether a complete frame line has been received.
// Serial input is buffered internally; no frame is consumed.
func (e *Endpoint) DataReady() (bool, error) {
	if len(e.pending) > 0 {
		return true, nil
	}
	for {
		n, err := e.port.Read(e.chunk)
		if err != nil {
			return false, fmt.Errorf("serial read: %w", err)
		}
		e.buf = append(e.buf, e.chunk[:n]...)
		e.splitLines()
		if n < len(e.chunk) || len(e.pending) > 0 {
			break
		}
	}
	return len(e.pending) > 0, nil
}

func (e *Endpoint) splitLines() {
	for {
		i := bytes.IndexByte(e.buf, '\n')
		if i < 0 {
			if len(e.buf) > 4096 {
				e.log.Warn("bridge: discarding unterminated input", "bytes", len(e.buf))
				e.buf = e.buf[:0]
			}
			return
		}
		line := string(bytes.TrimRight(e.buf[:i], "\r"))
		e.buf = e.buf[i+1:]

		if radio.IsCommentLine(line) {
			if line != "" {
				e.log.Debug("bridge: firmware message", "line", line)
			}
			continue
		}
		pipe, payload, err := radio.ParseFrameLine(line)
		if errors.Is(err, radio.ErrPayloadTooLong) {
			e.log.Warn("bridge: oversized payload", "pipe", pipe, "line", line, "error", err)
			payload, err = []byte{}, nil
		}
		if err != nil {
			e.log.Warn("bridge: malformed frame line", "line", line, "error", err)
			continue
		}
		e.pending = append(e.pending, frame{pipe: pipe, payload: payload})
	}
}

// ReadFrame returns the oldest received frame.
func (e *Endpoint) ReadFrame() (int, []byte, error) {
	if len(e.pending) == 0 {
		return 0, nil, fmt.Errorf("no frame pending")
	}
	f := e.pending[0]
	e.pending = e.pending[1:]
	return f.pipe, f.payload, nil
}

// PowerDown tells the bridge to power its radio down and closes the port.
func (e *Endpoint) PowerDown() error {
	var errs error
	if _, err := e.port.Write([]byte(powerDownCommand)); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("failed to send power down: %w", err))
	}
	return multierr.Append(errs, e.port.Close())
}
