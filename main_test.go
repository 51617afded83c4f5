package main

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nrf-collector/internal/config"
	"nrf-collector/internal/radio/nrf24"
	"nrf-collector/internal/radio/replay"
	"nrf-collector/internal/sensor"
)

func TestNRF24OptionsFromDefaults(t *testing.T) {
	cfg := config.DefaultConfig()

	opts, err := nrf24Options(cfg.Radio)
	require.NoError(t, err)
	assert.Equal(t, uint8(100), opts.RFChannel)
	assert.Equal(t, nrf24.DataRate250Kbps, opts.DataRate)
	assert.Equal(t, nrf24.PAMin, opts.PALevel)
	assert.Equal(t, 5, opts.AddressWidth)
	assert.Equal(t, []nrf24.Pipe{
		{Number: 1, Address: []byte("0IWSO")},
		{Number: 2, Address: []byte("1IWSO")},
	}, opts.Pipes)

	cfg.Radio.DataRate = "9600baud"
	_, err = nrf24Options(cfg.Radio)
	assert.Error(t, err)
}

func TestSensorMapFromDefaults(t *testing.T) {
	m := sensorMap(config.DefaultConfig())
	assert.Equal(t, sensor.ID(0), m.Lookup(1))
	assert.Equal(t, sensor.ID(1), m.Lookup(2))
	assert.Equal(t, sensor.Unknown, m.Lookup(3))
}

func TestSubcommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["config"])
	assert.True(t, names["version"])

	for _, flag := range []string{"driver", "rf-channel", "log-path", "format", "gps-mode", "idle-interval", "exit-at-eof"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestStopAtEndOfCapture(t *testing.T) {
	ep := replay.New(strings.NewReader("1 0102\n"))
	ctx, cancel := stopAtEndOfCapture(context.Background(), ep, slog.Default())
	defer cancel()

	ready, err := ep.DataReady()
	require.NoError(t, err)
	require.True(t, ready)
	_, _, err = ep.ReadFrame()
	require.NoError(t, err)
	assert.NoError(t, ctx.Err(), "capture not yet exhausted")

	ready, err = ep.DataReady()
	require.NoError(t, err)
	require.False(t, ready)

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled at end of capture")
	}
}
