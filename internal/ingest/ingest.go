// Package ingest runs the reception loop: poll the radio, decode each frame,
// tag it with its sensor and append it to the sink.
//
// The loop drains every queued frame before sleeping. Malformed frames are
// reported and dropped. Radio and sink failures are fatal: the loop powers the
// radio down, closes the sink and returns the error.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"nrf-collector/internal/protocol"
	"nrf-collector/internal/sensor"
	"nrf-collector/internal/sink"
)

// DefaultIdleInterval is the sleep between polls of an empty radio.
const DefaultIdleInterval = 100 * time.Millisecond

// diagLayout timestamps frame diagnostics.
const diagLayout = "2006-01-02 15:04:05.000000"

// State is the loop phase.
type State int

const (
	Draining State = iota
	Idle
	Shutdown
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Draining:
		return "draining"
	case Idle:
		return "idle"
	case Shutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// FrameSource is the radio side of the loop. *radio.Reader implements it.
type FrameSource interface {
	Poll() (bool, error)
	Read() (protocol.RawFrame, error)
	PowerDown() error
}

// Stats counts what the loop has seen.
type Stats struct {
	Frames          uint64
	Decoded         uint64
	LengthMismatch  uint64
	VersionMismatch uint64
	UnknownPipe     uint64
	Dropped         uint64
	Written         uint64
}

// Rejected is the number of frames that failed to decode.
func (s Stats) Rejected() uint64 {
	return s.LengthMismatch + s.VersionMismatch
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the diagnostic logger. The default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(l *Loop) {
		if log != nil {
			l.log = log
		}
	}
}

// WithIdleInterval sets the sleep between polls of an empty radio.
func WithIdleInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.idle = d
		}
	}
}

// WithDropUnknown discards samples from pipes without a sensor instead of
// writing them tagged unknown.
func WithDropUnknown(drop bool) Option {
	return func(l *Loop) {
		l.dropUnknown = drop
	}
}

// WithRunID tags loop diagnostics with the run id.
func WithRunID(id string) Option {
	return func(l *Loop) {
		l.runID = id
	}
}

// Loop owns the frame source and the sink until Run returns.
type Loop struct {
	source      FrameSource
	sensors     sensor.Map
	sink        sink.Sink
	log         *slog.Logger
	idle        time.Duration
	dropUnknown bool
	runID       string

	state State
	stats Stats
	done  bool
}

// New returns an idle loop over source, sensors and s.
func New(source FrameSource, sensors sensor.Map, s sink.Sink, opts ...Option) *Loop {
	l := &Loop{
		source:  source,
		sensors: sensors,
		sink:    s,
		log:     slog.Default(),
		idle:    DefaultIdleInterval,
		state:   Idle,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the current phase.
func (l *Loop) State() State {
	return l.state
}

// Stats returns the counters so far.
func (l *Loop) Stats() Stats {
	return l.stats
}

// Run receives until ctx is cancelled or a fatal error occurs. Either way the
// radio is powered down and then the sink is closed before Run returns.
// Cancellation is an orderly stop and returns nil unless cleanup fails.
func (l *Loop) Run(ctx context.Context) error {
	if l.done {
		return fmt.Errorf("ingest loop already shut down")
	}

	l.log.Info("ingest: started", "run_id", l.runID, "idle_interval", l.idle, "sensors", l.sensors.Len())
	cause := l.receive(ctx)
	return l.shutdown(cause)
}

func (l *Loop) receive(ctx context.Context) error {
	timer := time.NewTimer(l.idle)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}

		handled, err := l.step()
		if err != nil {
			return err
		}
		if handled {
			continue
		}

		l.state = Idle
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(l.idle)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}

// step handles at most one frame. A panic is converted into a fatal error.
func (l *Loop) step() (handled bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			handled, err = false, fmt.Errorf("internal fault: %v", r)
		}
	}()

	ready, err := l.source.Poll()
	if err != nil {
		return false, err
	}
	if !ready {
		return false, nil
	}

	l.state = Draining
	frame, err := l.source.Read()
	if err != nil {
		return false, err
	}
	return true, l.handle(frame)
}

func (l *Loop) handle(frame protocol.RawFrame) error {
	l.stats.Frames++
	l.log.Info("frame received",
		"at", frame.ArrivalTime.Format(diagLayout),
		"pipe", frame.Pipe,
		"len", frame.Len(),
		"bytes", protocol.HexDump(frame.Bytes))

	reading, err := protocol.Decode(frame)
	if err != nil {
		var reject *protocol.RejectError
		if !errors.As(err, &reject) {
			return err
		}
		switch {
		case errors.Is(err, protocol.ErrLengthMismatch):
			l.stats.LengthMismatch++
		case errors.Is(err, protocol.ErrVersionMismatch):
			l.stats.VersionMismatch++
		}
		l.log.Warn("frame rejected",
			"pipe", frame.Pipe,
			"reason", reject.Reason,
			"error", err,
			"bytes", protocol.HexDump(frame.Bytes))
		return nil
	}
	l.stats.Decoded++

	id := l.sensors.Lookup(frame.Pipe)
	sample := sensor.Sample{
		CapturedAt:  frame.ArrivalTime,
		Pipe:        frame.Pipe,
		Sensor:      id,
		Temperature: reading.Temperature,
		Humidity:    reading.Humidity,
	}

	if !id.Known() {
		l.stats.UnknownPipe++
		l.log.Warn("frame from unmapped pipe", "pipe", frame.Pipe, "dropped", l.dropUnknown)
		if l.dropUnknown {
			l.stats.Dropped++
			return nil
		}
	}

	l.log.Info("sample decoded",
		"version", reading.Version,
		"sensor", id.String(),
		"temperature", reading.Temperature,
		"humidity", reading.Humidity)

	if err := l.sink.Append(sample); err != nil {
		return err
	}
	l.stats.Written++
	return nil
}

// shutdown releases the radio first, then the sink. It runs once.
func (l *Loop) shutdown(cause error) error {
	if l.done {
		return cause
	}
	l.done = true
	l.state = Shutdown

	if cause != nil {
		l.log.Error("ingest: fatal error", "error", cause)
	}

	errs := cause
	if err := l.source.PowerDown(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := l.sink.Close(); err != nil {
		errs = multierr.Append(errs, err)
	}

	l.log.Info("ingest: stopped",
		"frames", l.stats.Frames,
		"decoded", l.stats.Decoded,
		"rejected", l.stats.Rejected(),
		"unknown_pipe", l.stats.UnknownPipe,
		"written", l.stats.Written)
	return errs
}
