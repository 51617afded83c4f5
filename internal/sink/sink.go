// Package sink persists decoded samples to an append-only log file.
//
// Every record is written straight through and synced before Append returns,
// so a sample is durable and visible to readers as soon as it is accepted.
package sink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"nrf-collector/internal/sensor"
)

// Format selects the record encoding.
type Format string

const (
	FormatText  Format = "text"
	FormatJSONL Format = "jsonl"
	FormatCBOR  Format = "cbor"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatJSONL, FormatCBOR:
		return f, nil
	}
	return "", fmt.Errorf("invalid sink format: %q (must be 'text', 'jsonl' or 'cbor')", s)
}

// DetectFormat picks the format from the file extension.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		return FormatJSONL
	case ".cbor":
		return FormatCBOR
	default:
		return FormatText
	}
}

// Sink accepts decoded samples.
type Sink interface {
	Append(s sensor.Sample) error
	Close() error
}

// WriteError is returned for any failure to open, write, sync or close the log.
type WriteError struct {
	Path string
	Op   string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("sink %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Options configures a File.
type Options struct {
	RunID string // written into JSONL and CBOR records
}

// encoder renders one record.
type encoder interface {
	encode(s sensor.Sample) ([]byte, error)
}

// File is a Sink writing one format to an append-only file.
type File struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	enc    encoder
	closed bool
}

var _ Sink = (*File)(nil)

// Open opens or creates path for appending.
func Open(path string, format Format, opts Options) (*File, error) {
	var enc encoder
	switch format {
	case FormatText:
		enc = textEncoder{}
	case FormatJSONL:
		enc = jsonlEncoder{runID: opts.RunID}
	case FormatCBOR:
		enc = cborEncoder{runID: opts.RunID}
	default:
		return nil, &WriteError{Path: path, Op: "open", Err: fmt.Errorf("unknown format %q", format)}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, &WriteError{Path: path, Op: "open", Err: err}
	}

	return &File{
		path: path,
		file: f,
		enc:  enc,
	}, nil
}

// Append writes one record with a single write call and syncs it to disk.
func (f *File) Append(s sensor.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return &WriteError{Path: f.path, Op: "append", Err: os.ErrClosed}
	}

	rec, err := f.enc.encode(s)
	if err != nil {
		return &WriteError{Path: f.path, Op: "encode", Err: err}
	}
	if _, err := f.file.Write(rec); err != nil {
		return &WriteError{Path: f.path, Op: "write", Err: err}
	}
	if err := f.file.Sync(); err != nil {
		return &WriteError{Path: f.path, Op: "sync", Err: err}
	}
	return nil
}

func (f *File) Path() string {
	return f.path
}

// Close closes the file. It is safe to call Close multiple times.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	if err := f.file.Close(); err != nil {
		return &WriteError{Path: f.path, Op: "close", Err: err}
	}
	return nil
}

// Reader iterates over the samples of a log file.
type Reader interface {
	// Next returns io.EOF after the last sample.
	Next() (sensor.Sample, error)
	Close() error
}

// NewReader opens path for reading in the given format.
func NewReader(path string, format Format) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	switch format {
	case FormatText:
		return newTextReader(f), nil
	case FormatJSONL:
		return newJSONLReader(f), nil
	case FormatCBOR:
		return newCBORReader(f), nil
	}
	f.Close()
	return nil, fmt.Errorf("unknown format %q", format)
}

// ReadAll drains r.
func ReadAll(r Reader) ([]sensor.Sample, error) {
	var samples []sensor.Sample
	for {
		s, err := r.Next()
		if err == io.EOF {
			return samples, nil
		}
		if err != nil {
			return samples, err
		}
		samples = append(samples, s)
	}
}
