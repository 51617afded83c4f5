package radio

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"nrf-collector/internal/protocol"
)

// ErrPayloadTooLong is returned by ParseFrameLine, together with the pipe,
// when the payload exceeds the 32 byte radio FIFO.
var ErrPayloadTooLong = errors.New("payload too long")

// ParseFrameLine parses the line format shared by the serial bridge and
// capture files: "<pipe> <hex payload>", e.g. "1 01:00:00:80:41:00:00:48:42".
// An empty payload is written as "<pipe> -".
func ParseFrameLine(line string) (int, []byte, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return 0, nil, fmt.Errorf("expected \"<pipe> <hex>\", got %q", line)
	}

	pipe, err := strconv.Atoi(fields[0])
	if err != nil || pipe < 0 || pipe > 5 {
		return 0, nil, fmt.Errorf("invalid pipe %q", fields[0])
	}

	if fields[1] == "-" {
		return pipe, []byte{}, nil
	}
	payload, err := protocol.ParseHex(fields[1])
	if err != nil {
		return 0, nil, fmt.Errorf("invalid payload: %w", err)
	}
	if len(payload) > protocol.MaxPayload {
		return pipe, nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLong, len(payload), protocol.MaxPayload)
	}
	return pipe, payload, nil
}

// FormatFrameLine is the inverse of ParseFrameLine.
func FormatFrameLine(pipe int, payload []byte) string {
	if len(payload) == 0 {
		return fmt.Sprintf("%d -", pipe)
	}
	return fmt.Sprintf("%d %s", pipe, protocol.HexDump(payload))
}

// IsCommentLine reports lines that carry no frame: blanks and '#' comments.
func IsCommentLine(line string) bool {
	line = strings.TrimSpace(line)
	return line == "" || strings.HasPrefix(line, "#")
}
