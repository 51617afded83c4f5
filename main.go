// nRF24 Collector - temperature and humidity logger for nRF24L01+ sensor nodes.
// This program receives telemetry frames from battery powered sensors on a
// Raspberry Pi gateway and appends every decoded sample to a log file.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"nrf-collector/internal/config"
	"nrf-collector/internal/gps"
	"nrf-collector/internal/ingest"
	"nrf-collector/internal/logging"
	"nrf-collector/internal/radio"
	"nrf-collector/internal/radio/bridge"
	"nrf-collector/internal/radio/nrf24"
	"nrf-collector/internal/radio/replay"
	"nrf-collector/internal/sensor"
	"nrf-collector/internal/sink"
	"nrf-collector/internal/version"
)

// Command line flag variables
var (
	cfgFile string // Configuration file path
	verbose bool   // Enable debug logging
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nrf-collector",
	Short: "nRF24L01+ sensor telemetry collector",
	Long: `nRF24 Collector receives temperature and humidity frames from nRF24L01+
sensor nodes, tags each sample with the sensor it came from and appends it
to a log file.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runCollector(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(string(out))
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Configuration is invalid: %v\n", err)
			os.Exit(1)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Get().Describe("nrf-collector"))
	},
}

// init initializes the CLI flags and configuration
func init() {
	cobra.OnInitialize(initConfig)
	defaults := config.DefaultConfig()

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "./config.yaml", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")

	flags := rootCmd.PersistentFlags()

	// Radio
	flags.String("driver", defaults.Radio.Driver, "radio driver: nrf24, bridge or replay")
	flags.Int("rf-channel", defaults.Radio.RFChannel, "RF channel (0-125)")
	flags.String("data-rate", defaults.Radio.DataRate, "air data rate: 250kbps, 1mbps or 2mbps")
	flags.String("pa-level", defaults.Radio.PALevel, "PA level: min, low, high or max")
	flags.String("ce-pin", defaults.Radio.SPI.CEPin, "CE GPIO pin (nrf24 driver)")
	flags.String("spi-device", defaults.Radio.SPI.Device, "SPI port, empty for the first bus (nrf24 driver)")
	flags.String("bridge-port", defaults.Radio.Bridge.Port, "serial port of the radio bridge (bridge driver)")
	flags.String("replay-file", defaults.Radio.Replay.File, "capture file to replay (replay driver)")
	flags.Bool("exit-at-eof", defaults.Radio.Replay.ExitAtEOF, "stop once the capture is exhausted (replay driver)")

	// Sink
	flags.StringP("log-path", "o", defaults.Sink.Path, "sample log file")
	flags.StringP("format", "f", defaults.Sink.Format, "sample log format: text, jsonl or cbor")
	flags.Bool("drop-unknown", defaults.Sink.DropUnknown, "do not log samples from unmapped pipes")
	flags.Duration("idle-interval", defaults.Ingest.IdleInterval, "sleep between polls when no frame is queued")

	// Time source
	flags.String("gps-mode", defaults.GPS.Mode, "time source: system, nmea or gpsd")
	flags.String("gps-port", defaults.GPS.Port, "GPS serial port (for NMEA mode)")
	flags.String("gpsd-host", defaults.GPS.GPSDHost, "GPSD host address (for gpsd mode)")
	flags.String("gpsd-port", defaults.GPS.GPSDPort, "GPSD port (for gpsd mode)")

	// Diagnostics
	flags.String("log-level", defaults.Logging.Level, "diagnostic log level: debug, info, warn or error")
	flags.String("log-file", defaults.Logging.File, "diagnostic log file, stdout when empty")

	// Bind command line flags to viper configuration keys
	viper.BindPFlag("radio.driver", flags.Lookup("driver"))
	viper.BindPFlag("radio.rf_channel", flags.Lookup("rf-channel"))
	viper.BindPFlag("radio.data_rate", flags.Lookup("data-rate"))
	viper.BindPFlag("radio.pa_level", flags.Lookup("pa-level"))
	viper.BindPFlag("radio.spi.ce_pin", flags.Lookup("ce-pin"))
	viper.BindPFlag("radio.spi.device", flags.Lookup("spi-device"))
	viper.BindPFlag("radio.bridge.port", flags.Lookup("bridge-port"))
	viper.BindPFlag("radio.replay.file", flags.Lookup("replay-file"))
	viper.BindPFlag("radio.replay.exit_at_eof", flags.Lookup("exit-at-eof"))
	viper.BindPFlag("sink.path", flags.Lookup("log-path"))
	viper.BindPFlag("sink.format", flags.Lookup("format"))
	viper.BindPFlag("sink.drop_unknown", flags.Lookup("drop-unknown"))
	viper.BindPFlag("ingest.idle_interval", flags.Lookup("idle-interval"))
	viper.BindPFlag("gps.mode", flags.Lookup("gps-mode"))
	viper.BindPFlag("gps.port", flags.Lookup("gps-port"))
	viper.BindPFlag("gps.gpsd_host", flags.Lookup("gpsd-host"))
	viper.BindPFlag("gps.gpsd_port", flags.Lookup("gpsd-port"))
	viper.BindPFlag("logging.level", flags.Lookup("log-level"))
	viper.BindPFlag("logging.file", flags.Lookup("log-file"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(configCmd, versionCmd)
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	// NRF_SINK_PATH overrides sink.path and so on
	viper.SetEnvPrefix("NRF")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// loadConfig layers config file, environment and flags over the defaults
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if viper.GetBool("verbose") {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// runCollector is the main application logic
func runCollector() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	runID := cfg.Ingest.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	fmt.Printf("nRF24 Collector %s starting...\n", version.Get().Short())
	fmt.Printf("Radio: %s (channel %d, %s, PA %s)\n", cfg.Radio.Driver, cfg.Radio.RFChannel, cfg.Radio.DataRate, cfg.Radio.PALevel)
	for _, p := range cfg.Radio.Pipes {
		fmt.Printf("Pipe %d: address %q -> sensor %d\n", p.Pipe, p.Address, p.Sensor)
	}
	fmt.Printf("Log: %s (%s)\n", cfg.Sink.Path, cfg.Sink.Format)
	fmt.Printf("Run: %s\n", runID)

	// Cancelled on SIGINT/SIGTERM; the loop then shuts down in order
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock, clockCloser, err := openClock(ctx, cfg.GPS, log)
	if err != nil {
		return err
	}
	defer clockCloser.Close()

	endpoint, err := openEndpoint(cfg.Radio, log)
	if err != nil {
		return fmt.Errorf("failed to initialize radio: %w", err)
	}
	reader := radio.NewReader(endpoint, clock)

	s, err := sink.Open(cfg.Sink.Path, sink.Format(cfg.Sink.Format), sink.Options{RunID: runID})
	if err != nil {
		if perr := reader.PowerDown(); perr != nil {
			log.Error("power down failed", "error", perr)
		}
		return err
	}

	if ep, ok := endpoint.(*replay.Endpoint); ok && cfg.Radio.Replay.ExitAtEOF {
		var cancel context.CancelFunc
		ctx, cancel = stopAtEndOfCapture(ctx, ep, log)
		defer cancel()
	}

	loop := ingest.New(reader, sensorMap(cfg), s,
		ingest.WithLogger(log),
		ingest.WithIdleInterval(cfg.Ingest.IdleInterval),
		ingest.WithDropUnknown(cfg.Sink.DropUnknown),
		ingest.WithRunID(runID),
	)

	err = loop.Run(ctx)
	stats := loop.Stats()
	fmt.Printf("\nStopped: %d frames, %d written, %d rejected, %d from unknown pipes\n",
		stats.Frames, stats.Written, stats.Rejected(), stats.UnknownPipe)
	return err
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openClock returns the timestamp source. A GPS that does not get a fix in
// time is only a warning: timestamps fall back to the local clock until it does.
func openClock(ctx context.Context, cfg config.GPSConfig, log *slog.Logger) (radio.Clock, io.Closer, error) {
	var clock *gps.Clock
	var err error

	switch cfg.Mode {
	case "system":
		return radio.SystemClock, nopCloser{}, nil
	case "nmea":
		fmt.Printf("Time: NMEA GPS (serial port %s)\n", cfg.Port)
		clock, err = gps.NewNMEA(cfg.Port, cfg.BaudRate, log)
	case "gpsd":
		fmt.Printf("Time: GPSD (%s:%s)\n", cfg.GPSDHost, cfg.GPSDPort)
		clock, err = gps.NewGPSD(cfg.GPSDHost, cfg.GPSDPort, log)
	default:
		return nil, nil, fmt.Errorf("invalid GPS mode: %s", cfg.Mode)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize GPS: %w", err)
	}

	fmt.Printf("Waiting for GPS fix (timeout: %v)...\n", cfg.Timeout)
	pos, err := clock.WaitForFix(ctx, cfg.Timeout)
	if err != nil {
		log.Warn("no GPS fix, using the local clock until one arrives", "error", err)
	} else {
		log.Info("station position",
			"lat", pos.Latitude, "lon", pos.Longitude, "alt", pos.Altitude,
			"quality", clock.FixQualityString(), "satellites", pos.Satellites,
			"synced", clock.Synced(), "offset", clock.Offset())
	}
	return clock, clock, nil
}

func openEndpoint(cfg config.RadioConfig, log *slog.Logger) (radio.Endpoint, error) {
	switch cfg.Driver {
	case "nrf24":
		opts, err := nrf24Options(cfg)
		if err != nil {
			return nil, err
		}
		d, err := nrf24.Open(nrf24.Wiring{
			SPIDevice: cfg.SPI.Device,
			SpeedHz:   cfg.SPI.SpeedHz,
			CEPin:     cfg.SPI.CEPin,
		}, opts)
		if err != nil {
			return nil, err
		}
		log.Info("radio configured", "device", d.String())
		return d, nil
	case "bridge":
		return bridge.Open(cfg.Bridge.Port, cfg.Bridge.BaudRate, log)
	case "replay":
		return replay.Open(cfg.Replay.File)
	}
	return nil, fmt.Errorf("invalid radio driver: %s", cfg.Driver)
}

// stopAtEndOfCapture returns a context that is cancelled once the replay
// endpoint has delivered its last frame.
func stopAtEndOfCapture(ctx context.Context, ep *replay.Endpoint, log *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-ep.Done():
			log.Info("capture exhausted, stopping")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func nrf24Options(cfg config.RadioConfig) (nrf24.Options, error) {
	rate, err := nrf24.ParseDataRate(cfg.DataRate)
	if err != nil {
		return nrf24.Options{}, err
	}
	pa, err := nrf24.ParsePALevel(cfg.PALevel)
	if err != nil {
		return nrf24.Options{}, err
	}

	opts := nrf24.Options{
		RFChannel:    uint8(cfg.RFChannel),
		DataRate:     rate,
		PALevel:      pa,
		AddressWidth: cfg.AddressWidth,
	}
	for _, p := range cfg.Pipes {
		opts.Pipes = append(opts.Pipes, nrf24.Pipe{Number: p.Pipe, Address: []byte(p.Address)})
	}
	return opts, nil
}

func sensorMap(cfg *config.Config) sensor.Map {
	m := make(map[int]sensor.ID)
	for pipe, id := range cfg.SensorMap() {
		m[pipe] = sensor.ID(id)
	}
	return sensor.NewMap(m)
}

// main is the entry point of the application
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
