// Package replay plays back captured frames as a radio endpoint, for bench
// testing the collector without hardware. The capture format is the bridge
// line format, one "<pipe> <hex payload>" per line, '#' comments allowed.
//
// Once the capture is exhausted the endpoint keeps reporting no data, like an
// idle radio, and Done is closed. Callers that want to stop at the end of the
// capture wait on Done.
package replay

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"nrf-collector/internal/radio"
)

type frame struct {
	pipe    int
	payload []byte
}

// Endpoint is a radio.Endpoint reading from a capture.
type Endpoint struct {
	scanner *bufio.Scanner
	closer  io.Closer
	next    *frame
	line    int
	eof     bool
	done    chan struct{}
}

// Open opens a capture file.
func Open(path string) (*Endpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture %s: %w", path, err)
	}
	e := New(f)
	e.closer = f
	return e, nil
}

// New reads frames from r.
func New(r io.Reader) *Endpoint {
	return &Endpoint{scanner: bufio.NewScanner(r), done: make(chan struct{})}
}

// Done is closed once every frame of the capture has been read.
func (e *Endpoint) Done() <-chan struct{} {
	return e.done
}

// DataReady reports whether another frame remains. A malformed line is an error.
func (e *Endpoint) DataReady() (bool, error) {
	if e.next != nil {
		return true, nil
	}
	for !e.eof {
		if !e.scanner.Scan() {
			e.eof = true
			if err := e.scanner.Err(); err != nil {
				return false, fmt.Errorf("capture read: %w", err)
			}
			close(e.done)
			break
		}
		e.line++
		text := e.scanner.Text()
		if radio.IsCommentLine(text) {
			continue
		}
		pipe, payload, err := radio.ParseFrameLine(text)
		if err != nil {
			return false, fmt.Errorf("capture line %d: %w", e.line, err)
		}
		e.next = &frame{pipe: pipe, payload: payload}
		return true, nil
	}
	return false, nil
}

// ReadFrame returns the next captured frame.
func (e *Endpoint) ReadFrame() (int, []byte, error) {
	if e.next == nil {
		return 0, nil, fmt.Errorf("no frame pending")
	}
	f := e.next
	e.next = nil
	return f.pipe, f.payload, nil
}

// PowerDown closes the capture.
func (e *Endpoint) PowerDown() error {
	if e.closer != nil {
		return e.closer.Close()
	}
	return nil
}
