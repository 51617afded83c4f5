// Package radio reads raw frames from a packet radio endpoint.
//
// An Endpoint is the hardware side: the nrf24 package drives an SPI attached
// nRF24L01+, bridge talks to a microcontroller over USB serial and replay plays
// back captured frames. Reader sits on top of an Endpoint and is what the
// reception loop uses: it stamps each frame with its arrival time, copies the
// payload and turns endpoint failures into HardwareError.
package radio

import (
	"fmt"
	"time"

	"nrf-collector/internal/protocol"
)

// Endpoint is a receive-only radio.
type Endpoint interface {
	// DataReady reports whether at least one frame is queued. It must not consume anything.
	DataReady() (bool, error)
	// ReadFrame returns the next queued frame and the pipe it arrived on.
	// Only valid after DataReady returned true.
	ReadFrame() (pipe int, payload []byte, err error)
	// PowerDown stops reception and releases the hardware.
	PowerDown() error
}

// Clock supplies arrival timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the local wall clock.
var SystemClock Clock = systemClock{}

// HardwareError is a failure of the radio endpoint. It is not recoverable.
type HardwareError struct {
	Op  string
	Err error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("radio %s failed: %v", e.Op, e.Err)
}

func (e *HardwareError) Unwrap() error {
	return e.Err
}

// Reader is the frame reader used by the reception loop.
type Reader struct {
	endpoint Endpoint
	clock    Clock
	down     bool
}

// NewReader wraps endpoint. A nil clock means SystemClock.
func NewReader(endpoint Endpoint, clock Clock) *Reader {
	if clock == nil {
		clock = SystemClock
	}
	return &Reader{endpoint: endpoint, clock: clock}
}

// Poll reports whether a frame is waiting. It has no side effects.
func (r *Reader) Poll() (bool, error) {
	if r.down {
		return false, &HardwareError{Op: "poll", Err: fmt.Errorf("endpoint is powered down")}
	}
	ready, err := r.endpoint.DataReady()
	if err != nil {
		return false, &HardwareError{Op: "poll", Err: err}
	}
	return ready, nil
}

// Read takes the next frame off the endpoint. The arrival time is taken
// before the hardware is touched.
func (r *Reader) Read() (protocol.RawFrame, error) {
	if r.down {
		return protocol.RawFrame{}, &HardwareError{Op: "read", Err: fmt.Errorf("endpoint is powered down")}
	}

	now := r.clock.Now()
	pipe, payload, err := r.endpoint.ReadFrame()
	if err != nil {
		return protocol.RawFrame{}, &HardwareError{Op: "read", Err: err}
	}
	if len(payload) > protocol.MaxPayload {
		return protocol.RawFrame{}, &HardwareError{
			Op:  "read",
			Err: fmt.Errorf("pipe %d delivered %d bytes, more than the %d byte maximum", pipe, len(payload), protocol.MaxPayload),
		}
	}

	data := make([]byte, len(payload))
	copy(data, payload)

	return protocol.RawFrame{
		ArrivalTime: now,
		Pipe:        pipe,
		Bytes:       data,
	}, nil
}

// PowerDown releases the endpoint. Only the first call reaches the hardware.
func (r *Reader) PowerDown() error {
	if r.down {
		return nil
	}
	r.down = true
	if err := r.endpoint.PowerDown(); err != nil {
		return &HardwareError{Op: "power down", Err: err}
	}
	return nil
}
