package sink

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"

	"nrf-collector/internal/sensor"
)

// cborRecord uses integer keys for compactness.
type cborRecord struct {
	TS          time.Time `cbor:"1,keyasint"`
	RunID       string    `cbor:"2,keyasint,omitempty"`
	Pipe        int       `cbor:"3,keyasint"`
	Sensor      int       `cbor:"4,keyasint"`
	Temperature float32   `cbor:"5,keyasint"`
	Humidity    float32   `cbor:"6,keyasint"`
}

var (
	recordEncMode cbor.EncMode
	recordDecMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
	}
	recordEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create record CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	recordDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create record CBOR decoder mode: %v", err))
	}
}

type cborEncoder struct {
	runID string
}

func (e cborEncoder) encode(s sensor.Sample) ([]byte, error) {
	return recordEncMode.Marshal(cborRecord{
		TS:          s.CapturedAt,
		RunID:       e.runID,
		Pipe:        s.Pipe,
		Sensor:      int(s.Sensor),
		Temperature: s.Temperature,
		Humidity:    s.Humidity,
	})
}

type cborReader struct {
	file io.Closer
	dec  *cbor.Decoder
}

func newCBORReader(rc io.ReadCloser) *cborReader {
	return &cborReader{file: rc, dec: recordDecMode.NewDecoder(rc)}
}

func (r *cborReader) Next() (sensor.Sample, error) {
	var rec cborRecord
	if err := r.dec.Decode(&rec); err != nil {
		return sensor.Sample{}, err
	}
	return sensor.Sample{
		CapturedAt:  rec.TS,
		Pipe:        rec.Pipe,
		Sensor:      sensor.ID(rec.Sensor),
		Temperature: rec.Temperature,
		Humidity:    rec.Humidity,
	}, nil
}

func (r *cborReader) Close() error {
	return r.file.Close()
}
