// Package gps provides a GPS-disciplined clock for timestamping frames on
// gateways without a real-time clock. The receiver is read either directly as
// NMEA over serial or through a gpsd daemon.
package gps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/stratoberry/go-gpsd"
	"go.bug.st/serial"
)

type Position struct {
	Latitude   float64
	Longitude  float64
	Altitude   float64
	Timestamp  time.Time
	FixQuality int
	Satellites int
}

// Clock reports local time corrected by the offset to GPS UTC. Until the
// receiver delivers a valid time the local clock is returned unchanged.
type Clock struct {
	mu       sync.RWMutex
	offset   time.Duration
	synced   bool
	position Position
	fixChan  chan Position

	now    func() time.Time
	log    *slog.Logger
	closer io.Closer
}

func newClock(log *slog.Logger) *Clock {
	if log == nil {
		log = slog.Default()
	}
	return &Clock{
		fixChan: make(chan Position, 10),
		now:     time.Now,
		log:     log,
	}
}

// NewNMEA opens a serial GPS receiver and starts reading NMEA sentences.
func NewNMEA(portName string, baudRate int, log *slog.Logger) (*Clock, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open GPS port %s: %w", portName, err)
	}

	c := newClock(log)
	c.closer = port
	c.configureUblox(port)
	go c.readNMEA(port)
	return c, nil
}

// configureUblox enables GGA and RMC output on UART1 of u-blox receivers.
// Other receivers ignore UBX frames.
func (c *Clock) configureUblox(w io.Writer) {
	// UBX-CFG-MSG class 0xF0 id 0x00 (GGA) and 0x04 (RMC), rate 1 on port 1.
	ggaCmd := []byte{0xB5, 0x62, 0x06, 0x01, 0x08, 0x00, 0xF0, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x01, 0x31}
	rmcCmd := []byte{0xB5, 0x62, 0x06, 0x01, 0x08, 0x00, 0xF0, 0x04, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x05, 0x3B}

	for _, cmd := range [][]byte{ggaCmd, rmcCmd} {
		if _, err := w.Write(cmd); err != nil {
			c.log.Debug("gps: u-blox configuration failed", "error", err)
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	c.log.Debug("gps: sent u-blox GGA/RMC enable")
}

func (c *Clock) readNMEA(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		c.handleSentence(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		c.log.Warn("gps: NMEA read loop ended", "error", err)
		return
	}
	c.log.Debug("gps: NMEA read loop ended")
}

func (c *Clock) handleSentence(line string) {
	if len(line) == 0 || line[0] != '$' {
		return
	}
	for _, r := range line {
		if r < 32 || r > 126 {
			return
		}
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		c.log.Debug("gps: NMEA parse error", "error", err, "line", line)
		return
	}

	switch s := sentence.(type) {
	case nmea.GGA:
		c.processGGA(s)
	case nmea.RMC:
		c.processRMC(s)
	}
}

var fixQualities = map[string]int{
	nmea.GPS:    1,
	nmea.DGPS:   2,
	nmea.PPS:    3,
	nmea.RTK:    4,
	nmea.FRTK:   5,
	nmea.Manual: 7,
}

func (c *Clock) processGGA(s nmea.GGA) {
	quality := fixQualities[s.FixQuality]
	if quality == 0 {
		return
	}
	c.updatePosition(Position{
		Latitude:   s.Latitude,
		Longitude:  s.Longitude,
		Altitude:   s.Altitude,
		Timestamp:  c.now(),
		FixQuality: quality,
		Satellites: int(s.NumSatellites),
	})
}

func (c *Clock) processRMC(s nmea.RMC) {
	if s.Validity != nmea.ValidRMC || !s.Time.Valid || !s.Date.Valid {
		return
	}
	utc := time.Date(
		2000+s.Date.YY, time.Month(s.Date.MM), s.Date.DD,
		s.Time.Hour, s.Time.Minute, s.Time.Second,
		s.Time.Millisecond*int(time.Millisecond),
		time.UTC,
	)
	c.sync(utc)
}

// NewGPSD connects to a gpsd daemon and starts watching TPV reports.
func NewGPSD(host, port string, log *slog.Logger) (*Clock, error) {
	address := gpsd.DefaultAddress
	if host != "" && port != "" {
		address = net.JoinHostPort(host, port)
	}

	session, err := gpsd.Dial(address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gpsd at %s: %w", address, err)
	}

	c := newClock(log)
	c.closer = sessionCloser{session}
	session.AddFilter("TPV", func(r interface{}) {
		if tpv, ok := r.(*gpsd.TPVReport); ok {
			c.handleTPV(tpv)
		}
	})
	session.AddFilter("SKY", func(r interface{}) {
		if sky, ok := r.(*gpsd.SKYReport); ok {
			c.mu.Lock()
			c.position.Satellites = len(sky.Satellites)
			c.mu.Unlock()
		}
	})
	session.Watch()
	return c, nil
}

type sessionCloser struct{ s *gpsd.Session }

func (s sessionCloser) Close() error {
	s.s.Close()
	return nil
}

func (c *Clock) handleTPV(tpv *gpsd.TPVReport) {
	// Modes 2 and 3 are 2D and 3D fixes.
	if tpv.Mode < 2 {
		return
	}
	if !tpv.Time.IsZero() {
		c.sync(tpv.Time)
	}
	if tpv.Lat == 0 && tpv.Lon == 0 {
		return
	}

	c.mu.RLock()
	sats := c.position.Satellites
	c.mu.RUnlock()

	c.updatePosition(Position{
		Latitude:   tpv.Lat,
		Longitude:  tpv.Lon,
		Altitude:   tpv.Alt,
		Timestamp:  tpv.Time,
		FixQuality: 1,
		Satellites: sats,
	})
}

func (c *Clock) sync(utc time.Time) {
	offset := utc.Sub(c.now())

	c.mu.Lock()
	first := !c.synced
	c.offset = offset
	c.synced = true
	c.mu.Unlock()

	if first {
		c.log.Info("gps: clock synchronized", "utc", utc.Format(time.RFC3339Nano), "offset", offset)
	}
}

func (c *Clock) updatePosition(pos Position) {
	c.mu.Lock()
	c.position = pos
	c.mu.Unlock()

	select {
	case c.fixChan <- pos:
	default:
	}
}

// Now returns the corrected time.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	offset := c.offset
	c.mu.RUnlock()
	return c.now().Add(offset)
}

// Synced reports whether a GPS time has been received.
func (c *Clock) Synced() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.synced
}

func (c *Clock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// WaitForFix blocks until a position fix arrives, the timeout elapses or ctx is done.
func (c *Clock) WaitForFix(ctx context.Context, timeout time.Duration) (*Position, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case pos := <-c.fixChan:
			if pos.FixQuality > 0 {
				return &pos, nil
			}
		case <-timer.C:
			return nil, fmt.Errorf("GPS fix timeout after %v", timeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Clock) Position() (*Position, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.position.FixQuality == 0 {
		return nil, fmt.Errorf("no GPS fix available")
	}
	pos := c.position
	return &pos, nil
}

func (c *Clock) FixQualityString() string {
	c.mu.RLock()
	quality := c.position.FixQuality
	c.mu.RUnlock()

	switch quality {
	case 0:
		return "Invalid"
	case 1:
		return "GPS fix (SPS)"
	case 2:
		return "DGPS fix"
	case 3:
		return "PPS fix"
	case 4:
		return "Real Time Kinematic"
	case 5:
		return "Float RTK"
	case 7:
		return "Manual input mode"
	default:
		return "Unknown"
	}
}

func (c *Clock) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}
