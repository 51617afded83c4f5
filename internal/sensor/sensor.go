// Package sensor maps radio reception pipes to sensor identities.
package sensor

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ID identifies a sensor node.
type ID int

// Unknown is the identity of frames received on a pipe with no mapping.
const Unknown ID = -1

func (id ID) String() string {
	if id == Unknown {
		return "unknown"
	}
	return strconv.Itoa(int(id))
}

// Known reports whether id is a mapped sensor.
func (id ID) Known() bool {
	return id != Unknown
}

// ParseID parses the form produced by ID.String.
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "unknown" {
		return Unknown, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return Unknown, fmt.Errorf("invalid sensor id %q", s)
	}
	return ID(n), nil
}

// Map is a fixed pipe to sensor mapping. The zero value maps every pipe to Unknown.
type Map struct {
	byPipe map[int]ID
}

// NewMap builds a Map from pipe -> sensor pairs. The input is copied.
func NewMap(pipes map[int]ID) Map {
	m := Map{byPipe: make(map[int]ID, len(pipes))}
	for pipe, id := range pipes {
		m.byPipe[pipe] = id
	}
	return m
}

// Lookup returns the sensor for pipe, or Unknown.
func (m Map) Lookup(pipe int) ID {
	if id, ok := m.byPipe[pipe]; ok {
		return id
	}
	return Unknown
}

// Len returns the number of mapped pipes.
func (m Map) Len() int {
	return len(m.byPipe)
}

// Sample is a decoded reading tagged with where and when it was received.
type Sample struct {
	CapturedAt  time.Time
	Pipe        int
	Sensor      ID
	Temperature float32
	Humidity    float32
}
