// Package nrf24 drives an nRF24L01+ transceiver attached to Linux SPI as a receive-only endpoint.
package nrf24

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// DataRate is the air data rate.
type DataRate uint8

const (
	DataRate250Kbps DataRate = iota
	DataRate1Mbps
	DataRate2Mbps
)

func (r DataRate) String() string {
	switch r {
	case DataRate250Kbps:
		return "250kbps"
	case DataRate1Mbps:
		return "1mbps"
	case DataRate2Mbps:
		return "2mbps"
	default:
		return fmt.Sprintf("DataRate(%d)", uint8(r))
	}
}

// ParseDataRate accepts "250kbps", "1mbps" or "2mbps".
func ParseDataRate(s string) (DataRate, error) {
	switch strings.ToLower(s) {
	case "250kbps":
		return DataRate250Kbps, nil
	case "1mbps":
		return DataRate1Mbps, nil
	case "2mbps":
		return DataRate2Mbps, nil
	default:
		return 0, fmt.Errorf("invalid data rate: %q (must be '250kbps', '1mbps' or '2mbps')", s)
	}
}

// PALevel is the power amplifier setting.
type PALevel uint8

const (
	PAMin PALevel = iota // -18 dBm
	PALow                // -12 dBm
	PAHigh               // -6 dBm
	PAMax                // 0 dBm
)

func (p PALevel) String() string {
	switch p {
	case PAMin:
		return "min"
	case PALow:
		return "low"
	case PAHigh:
		return "high"
	case PAMax:
		return "max"
	default:
		return fmt.Sprintf("PALevel(%d)", uint8(p))
	}
}

// ParsePALevel accepts "min", "low", "high" or "max".
func ParsePALevel(s string) (PALevel, error) {
	switch strings.ToLower(s) {
	case "min":
		return PAMin, nil
	case "low":
		return PALow, nil
	case "high":
		return PAHigh, nil
	case "max":
		return PAMax, nil
	default:
		return 0, fmt.Errorf("invalid PA level: %q (must be 'min', 'low', 'high' or 'max')", s)
	}
}

// Pipe is a reading pipe. Address is least significant byte first; pipes 2-5
// only get their first byte programmed and share the rest with pipe 1.
type Pipe struct {
	Number  int
	Address []byte
}

// Options is the radio setup.
type Options struct {
	RFChannel    uint8
	DataRate     DataRate
	PALevel      PALevel
	AddressWidth int
	Pipes        []Pipe
}

// Wiring is how the chip is attached to the host.
type Wiring struct {
	SPIDevice string // spireg name, empty for the first port
	SpeedHz   int64
	CEPin     string // gpioreg name, e.g. "GPIO25"
}

// bus is the part of spi.Conn the driver uses.
type bus interface {
	Tx(w, r []byte) error
}

type outPin interface {
	Out(l gpio.Level) error
}

// Device is a configured nRF24L01+ in receive mode.
type Device struct {
	conn   bus
	ce     outPin
	closer io.Closer
	opts   Options

	// settle is the power up delay (Tpd2stby is 1.5 ms with the crystal running).
	settle time.Duration
}

// Open initializes the host drivers, connects to the chip and starts listening.
func Open(w Wiring, opts Options) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize host drivers: %w", err)
	}

	port, err := spireg.Open(w.SPIDevice)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %q: %w", w.SPIDevice, err)
	}

	conn, err := port.Connect(physic.Frequency(w.SpeedHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to connect SPI port: %w", err)
	}

	ce := gpioreg.ByName(w.CEPin)
	if ce == nil {
		port.Close()
		return nil, fmt.Errorf("CE pin %q not found", w.CEPin)
	}

	d := newDevice(conn, ce, port, opts)
	if err := d.configure(); err != nil {
		port.Close()
		return nil, err
	}
	return d, nil
}

func newDevice(conn bus, ce outPin, closer io.Closer, opts Options) *Device {
	return &Device{
		conn:   conn,
		ce:     ce,
		closer: closer,
		opts:   opts,
		settle: 5 * time.Millisecond,
	}
}

func (d *Device) configure() error {
	if err := d.validate(); err != nil {
		return err
	}

	if err := d.ce.Out(gpio.Low); err != nil {
		return fmt.Errorf("failed to drive CE low: %w", err)
	}

	// Powered down with 16 bit CRC while the rest is set up.
	steps := []struct {
		reg  byte
		vals []byte
	}{
		{regConfig, []byte{configEnCRC | configCRCO}},
		{regSetupAW, []byte{byte(d.opts.AddressWidth - 2)}},
		{regRFChannel, []byte{d.opts.RFChannel}},
		{regRFSetup, []byte{d.rfSetup()}},
	}
	for _, s := range steps {
		if err := d.writeRegister(s.reg, s.vals...); err != nil {
			return err
		}
	}

	ch, err := d.readRegister(regRFChannel)
	if err != nil {
		return err
	}
	if ch != d.opts.RFChannel {
		return fmt.Errorf("nRF24L01+ not responding: RF_CH reads back 0x%02x, wrote 0x%02x", ch, d.opts.RFChannel)
	}

	var enabled byte
	base := d.opts.Pipes[0].Address
	for _, p := range d.opts.Pipes {
		if p.Number == 1 {
			base = p.Address
		}
	}
	if err := d.writeRegister(regRxAddrP1, base...); err != nil {
		return err
	}
	for _, p := range d.opts.Pipes {
		if p.Number != 1 {
			if err := d.writeRegister(regRxAddrP0+byte(p.Number), p.Address[0]); err != nil {
				return err
			}
		}
		enabled |= 1 << p.Number
	}

	// Dynamic payloads need auto-ack on the pipe.
	steps = []struct {
		reg  byte
		vals []byte
	}{
		{regEnRxAddr, []byte{enabled}},
		{regEnAA, []byte{enabled}},
		{regFeature, []byte{featureEnDPL}},
		{regDynPD, []byte{enabled}},
	}
	for _, s := range steps {
		if err := d.writeRegister(s.reg, s.vals...); err != nil {
			return err
		}
	}

	if _, _, err := d.command(cmdFlushRX, nil); err != nil {
		return err
	}
	if _, _, err := d.command(cmdFlushTX, nil); err != nil {
		return err
	}
	if err := d.writeRegister(regStatus, statusRxDR|statusTxDS|statusMaxRT); err != nil {
		return err
	}
	if err := d.writeRegister(regConfig, configEnCRC|configCRCO|configPwrUp|configPrimRX); err != nil {
		return err
	}
	time.Sleep(d.settle)

	if err := d.ce.Out(gpio.High); err != nil {
		return fmt.Errorf("failed to drive CE high: %w", err)
	}
	return nil
}

func (d *Device) validate() error {
	o := d.opts
	if o.RFChannel > maxRFChannel {
		return fmt.Errorf("RF channel %d out of range (0-%d)", o.RFChannel, maxRFChannel)
	}
	if o.AddressWidth < 3 || o.AddressWidth > 5 {
		return fmt.Errorf("address width %d out of range (3-5)", o.AddressWidth)
	}
	if len(o.Pipes) == 0 {
		return fmt.Errorf("no reading pipes configured")
	}
	var base []byte
	for _, p := range o.Pipes {
		if p.Number < 1 || p.Number > maxPipeNumber {
			return fmt.Errorf("pipe %d out of range (1-%d)", p.Number, maxPipeNumber)
		}
		if len(p.Address) != o.AddressWidth {
			return fmt.Errorf("pipe %d address is %d bytes, width is %d", p.Number, len(p.Address), o.AddressWidth)
		}
		if base == nil {
			base = p.Address[1:]
		} else if !bytes.Equal(base, p.Address[1:]) {
			return fmt.Errorf("pipe %d address does not share its upper bytes with the other pipes", p.Number)
		}
	}
	return nil
}

func (d *Device) rfSetup() byte {
	v := byte(d.opts.PALevel&0x03) << rfSetupPwrPos
	switch d.opts.DataRate {
	case DataRate250Kbps:
		v |= rfSetupDRLow
	case DataRate2Mbps:
		v |= rfSetupDRHigh
	}
	return v
}

// DataReady reports whether the RX FIFO holds a frame. It only reads FIFO_STATUS.
func (d *Device) DataReady() (bool, error) {
	fifo, err := d.readRegister(regFIFOStatus)
	if err != nil {
		return false, err
	}
	return fifo&fifoRxEmpty == 0, nil
}

// ReadFrame pops the frame at the head of the RX FIFO. A corrupt payload
// width (over 32) means the FIFO content cannot be trusted: it is flushed
// and an empty frame is returned so the caller still sees the event.
func (d *Device) ReadFrame() (int, []byte, error) {
	status, _, err := d.command(cmdNOP, nil)
	if err != nil {
		return 0, nil, err
	}
	pipe := int(status&statusPipeMask) >> 1
	if pipe == pipeEmpty {
		return 0, nil, fmt.Errorf("RX FIFO is empty")
	}

	_, width, err := d.command(cmdReadWidth, []byte{cmdNOP})
	if err != nil {
		return 0, nil, err
	}

	var payload []byte
	if width[0] > maxPayload {
		if _, _, err := d.command(cmdFlushRX, nil); err != nil {
			return 0, nil, err
		}
		payload = []byte{}
	} else {
		_, payload, err = d.command(cmdReadPayload, bytes.Repeat([]byte{cmdNOP}, int(width[0])))
		if err != nil {
			return 0, nil, err
		}
	}

	if err := d.writeRegister(regStatus, statusRxDR); err != nil {
		return 0, nil, err
	}
	return pipe, payload, nil
}

// PowerDown leaves receive mode, clears PWR_UP and closes the SPI port.
// Every step is attempted even if an earlier one fails.
func (d *Device) PowerDown() error {
	var errs error
	if err := d.ce.Out(gpio.Low); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("failed to drive CE low: %w", err))
	}
	cfg, err := d.readRegister(regConfig)
	if err == nil {
		err = d.writeRegister(regConfig, cfg&^configPwrUp)
	}
	errs = multierr.Append(errs, err)
	if d.closer != nil {
		errs = multierr.Append(errs, d.closer.Close())
	}
	return errs
}

func (d *Device) command(cmd byte, data []byte) (byte, []byte, error) {
	w := make([]byte, 1+len(data))
	w[0] = cmd
	copy(w[1:], data)
	r := make([]byte, len(w))
	if err := d.conn.Tx(w, r); err != nil {
		return 0, nil, fmt.Errorf("SPI command 0x%02x: %w", cmd, err)
	}
	return r[0], r[1:], nil
}

func (d *Device) readRegister(reg byte) (byte, error) {
	_, v, err := d.command(cmdReadRegister|(reg&registerMask), []byte{cmdNOP})
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

func (d *Device) writeRegister(reg byte, vals ...byte) error {
	_, _, err := d.command(cmdWriteRegister|(reg&registerMask), vals)
	return err
}

// String describes the radio setup.
func (d *Device) String() string {
	return fmt.Sprintf("nRF24L01+ channel %d (%d MHz), %s, PA %s, %d pipe(s)",
		d.opts.RFChannel, 2400+int(d.opts.RFChannel), d.opts.DataRate, d.opts.PALevel, len(d.opts.Pipes))
}
