package sink

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"nrf-collector/internal/sensor"
)

// TimeLayout is the timestamp column of text records, in local time.
const TimeLayout = "2006-01-02 15:04:05"

const textSeparator = ", "

// textEncoder writes "<time>, <temperature>, <humidity>, <sensor>".
type textEncoder struct{}

func (textEncoder) encode(s sensor.Sample) ([]byte, error) {
	var b strings.Builder
	b.WriteString(s.CapturedAt.Local().Format(TimeLayout))
	b.WriteString(textSeparator)
	b.WriteString(FormatValue(s.Temperature))
	b.WriteString(textSeparator)
	b.WriteString(FormatValue(s.Humidity))
	b.WriteString(textSeparator)
	b.WriteString(s.Sensor.String())
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// FormatValue renders the shortest representation that reads back to v,
// with at least one decimal place: 16 is written "16.0".
func FormatValue(v float32) string {
	s := strconv.FormatFloat(float64(v), 'f', -1, 32)
	if !strings.ContainsAny(s, ".NI") {
		s += ".0"
	}
	return s
}

func parseValue(s string) (float32, error) {
	v, err := strconv.ParseFloat(s, 32)
	return float32(v), err
}

type textReader struct {
	file    io.Closer
	scanner *bufio.Scanner
	line    int
}

func newTextReader(rc io.ReadCloser) *textReader {
	return &textReader{file: rc, scanner: bufio.NewScanner(rc)}
}

func (r *textReader) Next() (sensor.Sample, error) {
	for r.scanner.Scan() {
		r.line++
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		s, err := parseTextRecord(line)
		if err != nil {
			return sensor.Sample{}, fmt.Errorf("line %d: %w", r.line, err)
		}
		return s, nil
	}
	if err := r.scanner.Err(); err != nil {
		return sensor.Sample{}, err
	}
	return sensor.Sample{}, io.EOF
}

func (r *textReader) Close() error {
	return r.file.Close()
}

// parseTextRecord also accepts three column records without a sensor column,
// as written by older gateways.
func parseTextRecord(line string) (sensor.Sample, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 3 && len(fields) != 4 {
		return sensor.Sample{}, fmt.Errorf("expected 3 or 4 fields, got %d", len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	ts, err := time.ParseInLocation(TimeLayout, fields[0], time.Local)
	if err != nil {
		return sensor.Sample{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	temp, err := parseValue(fields[1])
	if err != nil {
		return sensor.Sample{}, fmt.Errorf("invalid temperature: %w", err)
	}
	hum, err := parseValue(fields[2])
	if err != nil {
		return sensor.Sample{}, fmt.Errorf("invalid humidity: %w", err)
	}

	id := sensor.Unknown
	if len(fields) == 4 {
		if id, err = sensor.ParseID(fields[3]); err != nil {
			return sensor.Sample{}, err
		}
	}

	return sensor.Sample{
		CapturedAt:  ts,
		Sensor:      id,
		Temperature: temp,
		Humidity:    hum,
	}, nil
}
