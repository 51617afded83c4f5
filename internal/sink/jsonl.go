package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"nrf-collector/internal/sensor"
)

type jsonlRecord struct {
	TS          time.Time `json:"ts"`
	RunID       string    `json:"run_id,omitempty"`
	Pipe        int       `json:"pipe"`
	Sensor      *int      `json:"sensor"`
	Temperature jsonValue `json:"temperature"`
	Humidity    jsonValue `json:"humidity"`
}

// jsonValue encodes NaN and infinities as strings; JSON numbers cannot hold them.
type jsonValue float32

func (v jsonValue) MarshalJSON() ([]byte, error) {
	f := float64(v)
	s := strconv.FormatFloat(f, 'f', -1, 32)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte(strconv.Quote(s)), nil
	}
	return []byte(s), nil
}

func (v *jsonValue) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		var err error
		if s, err = strconv.Unquote(s); err != nil {
			return err
		}
	}
	f, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return fmt.Errorf("invalid value %s: %w", b, err)
	}
	*v = jsonValue(f)
	return nil
}

type jsonlEncoder struct {
	runID string
}

func (e jsonlEncoder) encode(s sensor.Sample) ([]byte, error) {
	rec := jsonlRecord{
		TS:          s.CapturedAt,
		RunID:       e.runID,
		Pipe:        s.Pipe,
		Temperature: jsonValue(s.Temperature),
		Humidity:    jsonValue(s.Humidity),
	}
	if s.Sensor.Known() {
		id := int(s.Sensor)
		rec.Sensor = &id
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

type jsonlReader struct {
	file io.Closer
	dec  *json.Decoder
}

func newJSONLReader(rc io.ReadCloser) *jsonlReader {
	return &jsonlReader{file: rc, dec: json.NewDecoder(rc)}
}

func (r *jsonlReader) Next() (sensor.Sample, error) {
	var rec jsonlRecord
	if err := r.dec.Decode(&rec); err != nil {
		return sensor.Sample{}, err
	}

	id := sensor.Unknown
	if rec.Sensor != nil {
		id = sensor.ID(*rec.Sensor)
	}
	return sensor.Sample{
		CapturedAt:  rec.TS,
		Pipe:        rec.Pipe,
		Sensor:      id,
		Temperature: float32(rec.Temperature),
		Humidity:    float32(rec.Humidity),
	}, nil
}

func (r *jsonlReader) Close() error {
	return r.file.Close()
}
