package sink

import (
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nrf-collector/internal/sensor"
)

func scenarioA() sensor.Sample {
	return sensor.Sample{
		CapturedAt:  time.Date(2024, 3, 1, 14, 5, 9, 0, time.Local),
		Pipe:        1,
		Sensor:      0,
		Temperature: 16,
		Humidity:    50,
	}
}

func TestTextRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "temp.txt")
	f, err := Open(path, FormatText, Options{})
	require.NoError(t, err)

	require.NoError(t, f.Append(scenarioA()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01 14:05:09, 16.0, 50.0, 0\n", string(data), "visible before Close")

	unknown := scenarioA()
	unknown.Sensor = sensor.Unknown
	unknown.Temperature = 21.3
	unknown.Humidity = float32(math.NaN())
	require.NoError(t, f.Append(unknown))
	require.NoError(t, f.Close())

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01 14:05:09, 16.0, 50.0, 0\n2024-03-01 14:05:09, 21.3, NaN, unknown\n", string(data))
}

func TestAppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "temp.txt")
	require.NoError(t, os.WriteFile(path, []byte("2024-02-29 23:59:59, 1.5, 40\n"), 0644))

	f, err := Open(path, FormatText, Options{})
	require.NoError(t, err)
	require.NoError(t, f.Append(scenarioA()))
	require.NoError(t, f.Close())

	r, err := NewReader(path, FormatText)
	require.NoError(t, err)
	defer r.Close()
	samples, err := ReadAll(r)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, sensor.Unknown, samples[0].Sensor, "three column record")
	assert.Equal(t, float32(1.5), samples[0].Temperature)
	assert.Equal(t, sensor.ID(0), samples[1].Sensor)
}

func TestRoundTrip(t *testing.T) {
	samples := []sensor.Sample{
		scenarioA(),
		{CapturedAt: time.Date(2024, 3, 1, 14, 5, 10, 0, time.Local), Pipe: 2, Sensor: 1, Temperature: -7.25, Humidity: 99.9},
		{CapturedAt: time.Date(2024, 3, 1, 14, 5, 11, 0, time.Local), Pipe: 4, Sensor: sensor.Unknown, Temperature: float32(math.Inf(1)), Humidity: float32(math.NaN())},
	}

	for _, format := range []Format{FormatText, FormatJSONL, FormatCBOR} {
		t.Run(string(format), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "samples."+string(format))
			f, err := Open(path, format, Options{RunID: "run-1"})
			require.NoError(t, err)
			for _, s := range samples {
				require.NoError(t, f.Append(s))
			}
			require.NoError(t, f.Close())

			r, err := NewReader(path, DetectFormat(path))
			require.NoError(t, err)
			defer r.Close()

			got, err := ReadAll(r)
			require.NoError(t, err)
			require.Len(t, got, len(samples))

			for i, want := range samples {
				assert.True(t, want.CapturedAt.Equal(got[i].CapturedAt), "timestamp %d", i)
				assert.Equal(t, want.Sensor, got[i].Sensor)
				assertSameValue(t, want.Temperature, got[i].Temperature)
				assertSameValue(t, want.Humidity, got[i].Humidity)
				if format != FormatText {
					assert.Equal(t, want.Pipe, got[i].Pipe)
				}
			}

			_, err = r.Next()
			assert.Equal(t, io.EOF, err)
		})
	}
}

func assertSameValue(t *testing.T, want, got float32) {
	t.Helper()
	if math.IsNaN(float64(want)) {
		assert.True(t, math.IsNaN(float64(got)), "want NaN, got %v", got)
		return
	}
	assert.Equal(t, want, got)
}

func TestJSONLRecord(t *testing.T) {
	s := scenarioA()
	s.CapturedAt = time.Date(2024, 3, 1, 14, 5, 9, 123000000, time.UTC)
	s.Humidity = float32(math.Inf(-1))

	b, err := jsonlEncoder{runID: "abc"}.encode(s)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"ts":"2024-03-01T14:05:09.123Z","run_id":"abc","pipe":1,"sensor":0,"temperature":16,"humidity":"-Inf"}`,
		string(b))

	s.Sensor = sensor.Unknown
	b, err = jsonlEncoder{}.encode(s)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"sensor":null`)
	assert.NotContains(t, string(b), "run_id")
}

func TestTextReaderRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "temp.txt")
	require.NoError(t, os.WriteFile(path, []byte("2024-03-01 14:05:09, 16.0, 50.0, 0\nnot a record\n"), 0644))

	r, err := NewReader(path, FormatText)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestWriteErrors(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "temp.txt"), FormatText, Options{})
	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "open", werr.Op)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	f, err := Open(filepath.Join(t.TempDir(), "temp.txt"), FormatText, Options{})
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close(), "Close is idempotent")

	err = f.Append(scenarioA())
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "append", werr.Op)
}

func TestFormats(t *testing.T) {
	assert.Equal(t, FormatJSONL, DetectFormat("/var/log/temp.jsonl"))
	assert.Equal(t, FormatCBOR, DetectFormat("temp.CBOR"))
	assert.Equal(t, FormatText, DetectFormat("/home/pi/temp.txt"))

	f, err := ParseFormat("JSONL")
	require.NoError(t, err)
	assert.Equal(t, FormatJSONL, f)
	_, err = ParseFormat("xml")
	assert.Error(t, err)

	_, err = Open(filepath.Join(t.TempDir(), "x"), Format("xml"), Options{})
	assert.Error(t, err)
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		v    float32
		want string
	}{
		{16, "16.0"},
		{50, "50.0"},
		{-40, "-40.0"},
		{21.3, "21.3"},
		{0.1, "0.1"},
		{float32(math.NaN()), "NaN"},
		{float32(math.Inf(1)), "+Inf"},
		{float32(math.Inf(-1)), "-Inf"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatValue(tt.v))
	}
}
