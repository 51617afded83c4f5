// Package protocol defines the sensor node wire format and decodes received radio frames.
package protocol

import (
	"encoding/hex"
	"strings"
	"time"
)

// RawFrame is one payload as delivered by the radio, stamped on arrival.
type RawFrame struct {
	ArrivalTime time.Time // Time the frame was pulled off the radio
	Pipe        int       // Reception pipe the frame arrived on (0-5)
	Bytes       []byte    // Payload, 0 to MaxPayload bytes
}

// Len returns the payload length.
func (f RawFrame) Len() int {
	return len(f.Bytes)
}

// HexDump renders payload bytes as colon separated lowercase hex, e.g. "01:00:00:80:41".
func HexDump(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(len(data)*3 - 1)
	for i, v := range data {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(hex.EncodeToString([]byte{v}))
	}
	return b.String()
}

// ParseHex accepts payload hex with or without ':' separators.
func ParseHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.ReplaceAll(strings.TrimSpace(s), ":", ""))
}
