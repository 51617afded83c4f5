// nRF24 Reader - Utility to display the sample log written by nrf-collector
// This program reads text, JSONL or CBOR sample logs, filters them and prints
// the samples or per-sensor statistics.
package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"nrf-collector/internal/sensor"
	"nrf-collector/internal/sink"
	"nrf-collector/internal/version"
)

var (
	outputFormat string
	inputFormat  string
	showStats    bool
	showVersion  bool
	sensorFlag   string
	sinceFlag    string
	untilFlag    string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "nrf-reader [file]",
	Short: "Display the sample log written by nrf-collector",
	Long: `nRF24 Reader displays the samples recorded by nrf-collector.
The log format is taken from the file extension (.jsonl, .cbor, anything
else is text) unless --input-format is given.

Display modes:
  (default)    Print every sample as a table, JSON or CSV
  --stats      Show per-sensor statistics`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Println(version.Get().Describe("nrf-reader"))
			return
		}

		if len(args) == 0 {
			fmt.Fprintf(os.Stderr, "Error: filename required\n")
			cmd.Usage()
			os.Exit(1)
		}

		if err := displayFile(args[0], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "show version information")
	rootCmd.Flags().StringVarP(&outputFormat, "format", "f", "table", "output format (table, json, csv)")
	rootCmd.Flags().StringVarP(&inputFormat, "input-format", "i", "", "log format (text, jsonl, cbor), detected from the extension when empty")
	rootCmd.Flags().BoolVar(&showStats, "stats", false, "show per-sensor statistics")
	rootCmd.Flags().StringVarP(&sensorFlag, "sensor", "s", "", "only show this sensor id (or \"unknown\")")
	rootCmd.Flags().StringVar(&sinceFlag, "since", "", "only show samples at or after this time (\"2006-01-02 15:04:05\" or RFC3339)")
	rootCmd.Flags().StringVar(&untilFlag, "until", "", "only show samples before this time")
}

// filter selects samples by sensor and time range. Zero fields match everything.
type filter struct {
	sensor *sensor.ID
	since  time.Time
	until  time.Time
}

func (f filter) matches(s sensor.Sample) bool {
	if f.sensor != nil && s.Sensor != *f.sensor {
		return false
	}
	if !f.since.IsZero() && s.CapturedAt.Before(f.since) {
		return false
	}
	if !f.until.IsZero() && !s.CapturedAt.Before(f.until) {
		return false
	}
	return true
}

func buildFilter(sensorArg, since, until string) (filter, error) {
	var f filter
	if sensorArg != "" {
		id, err := sensor.ParseID(sensorArg)
		if err != nil {
			return f, err
		}
		f.sensor = &id
	}

	var err error
	if f.since, err = parseTime(since); err != nil {
		return f, fmt.Errorf("invalid --since: %w", err)
	}
	if f.until, err = parseTime(until); err != nil {
		return f, fmt.Errorf("invalid --until: %w", err)
	}
	return f, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(sink.TimeLayout, s, time.Local); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", s, time.Local)
}

// displayFile reads the log and prints it to w
func displayFile(filename string, w io.Writer) error {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return fmt.Errorf("file does not exist: %s", filename)
	}

	format := sink.DetectFormat(filename)
	if inputFormat != "" {
		var err error
		if format, err = sink.ParseFormat(inputFormat); err != nil {
			return err
		}
	}

	f, err := buildFilter(sensorFlag, sinceFlag, untilFlag)
	if err != nil {
		return err
	}

	samples, err := readSamples(filename, format, f)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(filename), err)
	}

	if showStats {
		return writeStats(w, outputFormat, computeStats(samples))
	}

	switch outputFormat {
	case "table":
		return writeTable(w, samples)
	case "json":
		return writeJSON(w, samples)
	case "csv":
		return writeCSV(w, samples)
	}
	return fmt.Errorf("invalid output format: %q (must be 'table', 'json' or 'csv')", outputFormat)
}

func readSamples(filename string, format sink.Format, f filter) ([]sensor.Sample, error) {
	r, err := sink.NewReader(filename, format)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var samples []sensor.Sample
	for {
		s, err := r.Next()
		if err == io.EOF {
			return samples, nil
		}
		if err != nil {
			return samples, err
		}
		if f.matches(s) {
			samples = append(samples, s)
		}
	}
}

const displayLayout = "2006-01-02 15:04:05.000"

func writeTable(w io.Writer, samples []sensor.Sample) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "Time\tPipe\tSensor\tTemperature (°C)\tHumidity (%%)\t\n")
	for _, s := range samples {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t\n",
			s.CapturedAt.Format(displayLayout), s.Pipe, s.Sensor,
			sink.FormatValue(s.Temperature), sink.FormatValue(s.Humidity))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d samples\n", len(samples))
	return err
}

type jsonSample struct {
	Time        time.Time `json:"time"`
	Pipe        int       `json:"pipe"`
	Sensor      string    `json:"sensor"`
	Temperature any       `json:"temperature"`
	Humidity    any       `json:"humidity"`
}

// jsonNumber keeps non-finite values as strings; JSON numbers cannot hold them.
func jsonNumber(v float32) any {
	s := sink.FormatValue(v)
	if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
		return s
	}
	return json.Number(s)
}

func writeJSON(w io.Writer, samples []sensor.Sample) error {
	out := make([]jsonSample, 0, len(samples))
	for _, s := range samples {
		out = append(out, jsonSample{
			Time:        s.CapturedAt,
			Pipe:        s.Pipe,
			Sensor:      s.Sensor.String(),
			Temperature: jsonNumber(s.Temperature),
			Humidity:    jsonNumber(s.Humidity),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeCSV(w io.Writer, samples []sensor.Sample) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"time", "pipe", "sensor", "temperature", "humidity"})
	for _, s := range samples {
		cw.Write([]string{
			s.CapturedAt.Format(time.RFC3339Nano),
			strconv.Itoa(s.Pipe),
			s.Sensor.String(),
			sink.FormatValue(s.Temperature),
			sink.FormatValue(s.Humidity),
		})
	}
	cw.Flush()
	return cw.Error()
}

// main is the entry point of the application
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
