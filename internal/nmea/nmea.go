// Package nmea implements the framing codec for the device's
// NMEA-0183 dialect: $PAYLOAD*HH\r\n sentences with an XOR-byte
// checksum over PAYLOAD.
package nmea

import (
	"fmt"
	"regexp"

	"github.com/twpayne/flytecfs/internal/ferr"
)

const (
	minPayload = 1
	maxPayload = 79
)

var decodeRE = regexp.MustCompile(`\A\$(.{1,79})\*([0-9A-F]{2})\r\n\z`)

func printable(b byte) bool {
	return b >= 0x20 && b <= 0x7e
}

func checksum(payload []byte) byte {
	var sum byte
	for _, b := range payload {
		sum ^= b
	}
	return sum
}

// Encode wraps payload as a $PAYLOAD*HH\r\n sentence. payload must be
// 1..79 bytes of printable ASCII.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) < minPayload || len(payload) > maxPayload {
		return nil, ferr.New(ferr.InvalidPayload, fmt.Sprintf("payload length %d out of range", len(payload)))
	}
	for _, b := range payload {
		if !printable(b) {
			return nil, ferr.New(ferr.InvalidPayload, "payload contains non-printable byte")
		}
	}
	sum := checksum(payload)
	frame := make([]byte, 0, len(payload)+6)
	frame = append(frame, '$')
	frame = append(frame, payload...)
	frame = append(frame, '*')
	frame = append(frame, fmt.Sprintf("%02X", sum)...)
	frame = append(frame, '\r', '\n')
	return frame, nil
}

// Decode unwraps a $PAYLOAD*HH\r\n sentence, verifying its checksum.
func Decode(frame []byte) ([]byte, error) {
	m := decodeRE.FindSubmatch(frame)
	if m == nil {
		return nil, ferr.New(ferr.Malformed, "frame does not match nmea sentence shape")
	}
	payload := m[1]
	var want byte
	if _, err := fmt.Sscanf(string(m[2]), "%02X", &want); err != nil {
		return nil, ferr.New(ferr.Malformed, "unparsable checksum byte")
	}
	if got := checksum(payload); got != want {
		return nil, ferr.New(ferr.BadChecksum, fmt.Sprintf("checksum mismatch: got %02X want %02X", got, want))
	}
	return payload, nil
}

// ScrubPrintable replaces every non-printable or non-ASCII byte in s
// with '?'. Unlike Encode, it never fails: it is used to sanitize
// user-supplied names before they are sent to the device.
func ScrubPrintable(s string) string {
	b := []byte(s)
	for i, c := range b {
		if !printable(c) {
			b[i] = '?'
		}
	}
	return string(b)
}
