// Package config provides configuration structures and defaults for the nRF24 collector
package config

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	"nrf-collector/internal/radio/nrf24"
)

// Config represents the complete application configuration
type Config struct {
	Radio   RadioConfig   `mapstructure:"radio" yaml:"radio"`     // Radio endpoint settings
	GPS     GPSConfig     `mapstructure:"gps" yaml:"gps"`         // Time source settings
	Sink    SinkConfig    `mapstructure:"sink" yaml:"sink"`       // Sample log settings
	Ingest  IngestConfig  `mapstructure:"ingest" yaml:"ingest"`   // Reception loop settings
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"` // Diagnostic logging
}

// RadioConfig contains radio endpoint configuration parameters
type RadioConfig struct {
	Driver       string       `mapstructure:"driver" yaml:"driver"`               // Endpoint driver: "nrf24", "bridge" or "replay"
	RFChannel    int          `mapstructure:"rf_channel" yaml:"rf_channel"`       // RF channel 0-125 (2400 MHz + n)
	DataRate     string       `mapstructure:"data_rate" yaml:"data_rate"`         // Air data rate: "250kbps", "1mbps" or "2mbps"
	PALevel      string       `mapstructure:"pa_level" yaml:"pa_level"`           // Power amplifier level: "min", "low", "high" or "max"
	AddressWidth int          `mapstructure:"address_width" yaml:"address_width"` // Pipe address width in bytes (3-5)
	Pipes        []PipeConfig `mapstructure:"pipes" yaml:"pipes"`                 // Reading pipes and the sensors behind them
	SPI          SPIConfig    `mapstructure:"spi" yaml:"spi"`                     // SPI wiring (nrf24 driver)
	Bridge       BridgeConfig `mapstructure:"bridge" yaml:"bridge"`               // Serial bridge (bridge driver)
	Replay       ReplayConfig `mapstructure:"replay" yaml:"replay"`               // Capture file (replay driver)
}

// PipeConfig binds a reading pipe to its address and sensor identity
type PipeConfig struct {
	Pipe    int    `mapstructure:"pipe" yaml:"pipe"`       // Pipe number 1-5
	Address string `mapstructure:"address" yaml:"address"` // Address bytes, least significant byte first
	Sensor  int    `mapstructure:"sensor" yaml:"sensor"`   // Sensor identity written to the log
}

// SPIConfig contains Linux SPI wiring for a directly attached nRF24L01+
type SPIConfig struct {
	Device  string `mapstructure:"device" yaml:"device"`     // SPI port name, empty for the first available
	SpeedHz int64  `mapstructure:"speed_hz" yaml:"speed_hz"` // SPI clock
	CEPin   string `mapstructure:"ce_pin" yaml:"ce_pin"`     // Chip enable GPIO name
}

// BridgeConfig contains serial settings for a USB radio bridge
type BridgeConfig struct {
	Port     string `mapstructure:"port" yaml:"port"`           // Serial device path
	BaudRate int    `mapstructure:"baud_rate" yaml:"baud_rate"` // Serial baud rate
}

// ReplayConfig contains settings for replaying captured frames
type ReplayConfig struct {
	File      string `mapstructure:"file" yaml:"file"`               // Capture file, one "<pipe> <hex>" line per frame
	ExitAtEOF bool   `mapstructure:"exit_at_eof" yaml:"exit_at_eof"` // Shut down once the capture is exhausted
}

// GPSConfig contains time source configuration parameters
type GPSConfig struct {
	Mode     string        `mapstructure:"mode" yaml:"mode"`           // Time source: "system", "nmea" or "gpsd"
	Port     string        `mapstructure:"port" yaml:"port"`           // Serial port device path (for NMEA mode)
	BaudRate int           `mapstructure:"baud_rate" yaml:"baud_rate"` // Serial baud rate (for NMEA mode)
	GPSDHost string        `mapstructure:"gpsd_host" yaml:"gpsd_host"` // GPSD host address (for gpsd mode)
	GPSDPort string        `mapstructure:"gpsd_port" yaml:"gpsd_port"` // GPSD port (for gpsd mode)
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`     // How long to wait for a fix at startup
}

// SinkConfig contains sample log configuration parameters
type SinkConfig struct {
	Path        string `mapstructure:"path" yaml:"path"`                 // Append-only log path
	Format      string `mapstructure:"format" yaml:"format"`             // Record format: "text", "jsonl" or "cbor"
	DropUnknown bool   `mapstructure:"drop_unknown" yaml:"drop_unknown"` // Do not persist samples from unmapped pipes
}

// IngestConfig contains reception loop parameters
type IngestConfig struct {
	IdleInterval time.Duration `mapstructure:"idle_interval" yaml:"idle_interval"` // Sleep when no frame is queued
	RunID        string        `mapstructure:"run_id" yaml:"run_id"`               // Run identifier, generated when empty
}

// LoggingConfig contains logging configuration parameters
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // Log level (debug, info, warn, error)
	Format string `mapstructure:"format" yaml:"format"` // Handler: "text" or "json"
	File   string `mapstructure:"file" yaml:"file"`     // Log file path, stdout when empty
}

// DefaultConfig returns the reference deployment: two sensors on pipes 1 and 2
func DefaultConfig() *Config {
	return &Config{
		Radio: RadioConfig{
			Driver:       "nrf24",   // SPI attached radio
			RFChannel:    100,       // 2500 MHz, above Wi-Fi
			DataRate:     "250kbps", // Best range
			PALevel:      "min",     // Receiver only, sensors are close
			AddressWidth: 5,         // 5 byte addresses
			Pipes: []PipeConfig{
				{Pipe: 1, Address: "0IWSO", Sensor: 0},
				{Pipe: 2, Address: "1IWSO", Sensor: 1},
			},
			SPI: SPIConfig{
				Device:  "",        // First SPI bus
				SpeedHz: 8_000_000, // 8 MHz, well under the 10 MHz limit
				CEPin:   "GPIO25",  // BCM 25
			},
			Bridge: BridgeConfig{
				Port:     "/dev/ttyUSB0", // Common USB serial device path
				BaudRate: 115200,
			},
		},
		GPS: GPSConfig{
			Mode:     "system",         // Local clock by default
			Port:     "/dev/ttyACM0",   // Common USB GPS device path
			BaudRate: 9600,             // Standard NMEA baud rate
			GPSDHost: "localhost",      // Default gpsd host
			GPSDPort: "2947",           // Default gpsd port
			Timeout:  30 * time.Second, // 30 second GPS fix timeout
		},
		Sink: SinkConfig{
			Path:        "/home/pi/temp.txt",
			Format:      "text",
			DropUnknown: false,
		},
		Ingest: IngestConfig{
			IdleInterval: 100 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
	}
}

// Pipe numbers that can be opened for reading. Pipe 0 is reserved for
// auto-ack replies on the transmit side and is not used here.
const (
	MinPipe = 1
	MaxPipe = 5
)

// Validate checks the configuration and reports every problem found
func (c *Config) Validate() error {
	var errs error

	switch c.Radio.Driver {
	case "nrf24":
		if c.Radio.SPI.CEPin == "" {
			errs = multierr.Append(errs, fmt.Errorf("radio.spi.ce_pin is required for the nrf24 driver"))
		}
		if c.Radio.SPI.SpeedHz <= 0 || c.Radio.SPI.SpeedHz > 10_000_000 {
			errs = multierr.Append(errs, fmt.Errorf("radio.spi.speed_hz %d out of range (1-10000000)", c.Radio.SPI.SpeedHz))
		}
	case "bridge":
		if c.Radio.Bridge.Port == "" {
			errs = multierr.Append(errs, fmt.Errorf("radio.bridge.port is required for the bridge driver"))
		}
		if c.Radio.Bridge.BaudRate <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("radio.bridge.baud_rate must be positive"))
		}
	case "replay":
		if c.Radio.Replay.File == "" {
			errs = multierr.Append(errs, fmt.Errorf("radio.replay.file is required for the replay driver"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("invalid radio driver: %q (must be 'nrf24', 'bridge' or 'replay')", c.Radio.Driver))
	}

	if c.Radio.RFChannel < 0 || c.Radio.RFChannel > 125 {
		errs = multierr.Append(errs, fmt.Errorf("radio.rf_channel %d out of range (0-125)", c.Radio.RFChannel))
	}
	if _, err := nrf24.ParseDataRate(c.Radio.DataRate); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := nrf24.ParsePALevel(c.Radio.PALevel); err != nil {
		errs = multierr.Append(errs, err)
	}
	if c.Radio.AddressWidth < 3 || c.Radio.AddressWidth > 5 {
		errs = multierr.Append(errs, fmt.Errorf("radio.address_width %d out of range (3-5)", c.Radio.AddressWidth))
	}
	errs = multierr.Append(errs, c.validatePipes())

	switch c.GPS.Mode {
	case "system":
	case "nmea":
		if c.GPS.Port == "" {
			errs = multierr.Append(errs, fmt.Errorf("GPS port not specified for NMEA mode"))
		}
	case "gpsd":
		if c.GPS.GPSDHost == "" || c.GPS.GPSDPort == "" {
			errs = multierr.Append(errs, fmt.Errorf("GPSD host and port must be specified for gpsd mode"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("invalid GPS mode: %q (must be 'system', 'nmea' or 'gpsd')", c.GPS.Mode))
	}

	if c.Sink.Path == "" {
		errs = multierr.Append(errs, fmt.Errorf("sink.path is required"))
	}
	switch c.Sink.Format {
	case "text", "jsonl", "cbor":
	default:
		errs = multierr.Append(errs, fmt.Errorf("invalid sink format: %q (must be 'text', 'jsonl' or 'cbor')", c.Sink.Format))
	}

	if c.Ingest.IdleInterval <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("ingest.idle_interval must be positive"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = multierr.Append(errs, fmt.Errorf("invalid log level: %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = multierr.Append(errs, fmt.Errorf("invalid log format: %q (must be 'text' or 'json')", c.Logging.Format))
	}

	return errs
}

func (c *Config) validatePipes() error {
	if len(c.Radio.Pipes) == 0 {
		return fmt.Errorf("at least one reading pipe must be configured")
	}

	var errs error
	pipes := make(map[int]bool)
	sensors := make(map[int]bool)
	var base string // shared upper address bytes of pipes 1-5

	for _, p := range c.Radio.Pipes {
		if p.Pipe < MinPipe || p.Pipe > MaxPipe {
			errs = multierr.Append(errs, fmt.Errorf("pipe %d out of range (%d-%d)", p.Pipe, MinPipe, MaxPipe))
			continue
		}
		if pipes[p.Pipe] {
			errs = multierr.Append(errs, fmt.Errorf("pipe %d configured more than once", p.Pipe))
		}
		pipes[p.Pipe] = true

		if p.Sensor < 0 {
			errs = multierr.Append(errs, fmt.Errorf("pipe %d: sensor id %d must not be negative", p.Pipe, p.Sensor))
		} else if sensors[p.Sensor] {
			errs = multierr.Append(errs, fmt.Errorf("pipe %d: sensor id %d already used by another pipe", p.Pipe, p.Sensor))
		}
		sensors[p.Sensor] = true

		if len(p.Address) != c.Radio.AddressWidth {
			errs = multierr.Append(errs, fmt.Errorf("pipe %d: address %q is %d bytes, address width is %d",
				p.Pipe, p.Address, len(p.Address), c.Radio.AddressWidth))
			continue
		}
		if base == "" {
			base = p.Address[1:]
		} else if p.Address[1:] != base {
			errs = multierr.Append(errs, fmt.Errorf("pipe %d: address %q must share bytes 2-%d with the other pipes (%q)",
				p.Pipe, p.Address, c.Radio.AddressWidth, base))
		}
	}

	return errs
}

// SensorMap returns the pipe -> sensor pairs of the configured pipes
func (c *Config) SensorMap() map[int]int {
	m := make(map[int]int, len(c.Radio.Pipes))
	for _, p := range c.Radio.Pipes {
		m[p.Pipe] = p.Sensor
	}
	return m
}
