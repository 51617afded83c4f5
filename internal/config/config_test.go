package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 100, cfg.Radio.RFChannel)
	assert.Equal(t, "/home/pi/temp.txt", cfg.Sink.Path)
	assert.Equal(t, 100*time.Millisecond, cfg.Ingest.IdleInterval)
	assert.Equal(t, map[int]int{1: 0, 2: 1}, cfg.SensorMap())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Radio.Driver = "usb"
	cfg.Radio.RFChannel = 200
	cfg.Radio.DataRate = "fast"
	cfg.Sink.Format = "xml"
	cfg.Ingest.IdleInterval = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 5)
	assert.Contains(t, err.Error(), "invalid radio driver")
	assert.Contains(t, err.Error(), "rf_channel 200")
	assert.Contains(t, err.Error(), "invalid data rate")
	assert.Contains(t, err.Error(), "invalid sink format")
	assert.Contains(t, err.Error(), "idle_interval")
}

func TestValidatePipes(t *testing.T) {
	tests := []struct {
		name  string
		pipes []PipeConfig
		want  string
	}{
		{"none", nil, "at least one reading pipe"},
		{"pipe zero", []PipeConfig{{Pipe: 0, Address: "0IWSO", Sensor: 0}}, "pipe 0 out of range"},
		{"duplicate pipe", []PipeConfig{{1, "0IWSO", 0}, {1, "1IWSO", 1}}, "configured more than once"},
		{"duplicate sensor", []PipeConfig{{1, "0IWSO", 0}, {2, "1IWSO", 0}}, "already used"},
		{"negative sensor", []PipeConfig{{1, "0IWSO", -1}}, "must not be negative"},
		{"short address", []PipeConfig{{1, "0IW", 0}}, "address width is 5"},
		{"different base", []PipeConfig{{1, "0IWSO", 0}, {2, "1ABCD", 1}}, "must share bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Radio.Pipes = tt.pipes
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDriverRequirements(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Radio.Driver = "replay"
	assert.ErrorContains(t, cfg.Validate(), "radio.replay.file is required")
	cfg.Radio.Replay.File = "capture.txt"
	assert.NoError(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Radio.Driver = "bridge"
	cfg.Radio.Bridge.Port = ""
	assert.ErrorContains(t, cfg.Validate(), "radio.bridge.port is required")

	cfg = DefaultConfig()
	cfg.GPS.Mode = "gpsd"
	cfg.GPS.GPSDPort = ""
	assert.ErrorContains(t, cfg.Validate(), "GPSD host and port")
}

func TestYAMLDump(t *testing.T) {
	out, err := yaml.Marshal(DefaultConfig())
	require.NoError(t, err)

	s := string(out)
	assert.True(t, strings.HasPrefix(s, "radio:\n"))
	assert.Contains(t, s, "rf_channel: 100")
	assert.Contains(t, s, "address: 0IWSO")
	assert.Contains(t, s, "idle_interval: 100ms")
	assert.Contains(t, s, "path: /home/pi/temp.txt")
}
