package protocol

import (
	"encoding/binary"
	"math"
)

// Wire format sent by the sensor nodes:
//
//	Version(1) | Temperature float32 LE (4) | Humidity float32 LE (4)
const (
	Version     = 0x01
	FrameLength = 1 + 4 + 4

	// MaxPayload is the largest dynamic payload the nRF24L01+ delivers.
	MaxPayload = 32

	temperatureOffset = 1
	humidityOffset    = 5
)

// Reading is the decoded content of a valid frame.
type Reading struct {
	Version     byte
	Temperature float32 // degrees Celsius
	Humidity    float32 // relative humidity, percent
}

// Decode validates frame against the wire format and decodes it.
// Length is checked before the version tag. Values are not range checked;
// NaN and infinities pass through unchanged.
func Decode(frame RawFrame) (Reading, error) {
	if len(frame.Bytes) != FrameLength {
		return Reading{}, &RejectError{Reason: ErrLengthMismatch, Frame: frame}
	}
	if frame.Bytes[0] != Version {
		return Reading{}, &RejectError{Reason: ErrVersionMismatch, Frame: frame}
	}

	return Reading{
		Version:     frame.Bytes[0],
		Temperature: math.Float32frombits(binary.LittleEndian.Uint32(frame.Bytes[temperatureOffset:humidityOffset])),
		Humidity:    math.Float32frombits(binary.LittleEndian.Uint32(frame.Bytes[humidityOffset:FrameLength])),
	}, nil
}

// Encode produces the wire form of r. A zero Version is written as the current Version.
func Encode(r Reading) []byte {
	data := make([]byte, FrameLength)
	data[0] = r.Version
	if data[0] == 0 {
		data[0] = Version
	}
	binary.LittleEndian.PutUint32(data[temperatureOffset:humidityOffset], math.Float32bits(r.Temperature))
	binary.LittleEndian.PutUint32(data[humidityOffset:FrameLength], math.Float32bits(r.Humidity))
	return data
}
