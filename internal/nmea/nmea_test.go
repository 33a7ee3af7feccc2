package nmea

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	frame, err := Encode([]byte("PBRSNP,"))
	assert.NoError(t, err)
	assert.Equal(t, byte('$'), frame[0])
	assert.Equal(t, "\r\n", string(frame[len(frame)-2:]))

	payload, err := Decode(frame)
	assert.NoError(t, err)
	assert.Equal(t, "PBRSNP,", string(payload))
}

func TestEncode_ChecksumIsXorOfPayloadBytes(t *testing.T) {
	// Independently verified: XOR of the bytes of "PBRSNP," is 0x21.
	frame, err := Encode([]byte("PBRSNP,"))
	assert.NoError(t, err)
	assert.Equal(t, "$PBRSNP,*21\r\n", string(frame))
}

func TestEncode_RejectsEmptyPayload(t *testing.T) {
	_, err := Encode(nil)
	assert.Error(t, err)
}

func TestEncode_RejectsOversizePayload(t *testing.T) {
	_, err := Encode(make([]byte, 80))
	assert.Error(t, err)
}

func TestEncode_RejectsNonPrintableByte(t *testing.T) {
	_, err := Encode([]byte{'A', 0x01, 'B'})
	assert.Error(t, err)
}

func TestDecode_RejectsBadChecksum(t *testing.T) {
	_, err := Decode([]byte("$PBRSNP,*00\r\n"))
	assert.Error(t, err)
}

func TestDecode_RejectsMalformedFrame(t *testing.T) {
	_, err := Decode([]byte("PBRSNP,*21\r\n"))
	assert.Error(t, err)
}

func TestScrubPrintable_ReplacesNonPrintableBytes(t *testing.T) {
	assert.Equal(t, "A?B", ScrubPrintable("A\x01B"))
	assert.Equal(t, "hello", ScrubPrintable("hello"))
}
