package crc16_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ammpio/ammp-edge/pkg/crc16"
)

func TestChecksumKnownRequest(t *testing.T) {
	// 01 03 00 02 00 02 -> CRC 65 CB (little-endian: 65, CB)
	req := []byte{0x01, 0x03, 0x00, 0x02, 0x00, 0x02}
	assert.Equal(t, []byte{0x65, 0xCB}, crc16.Bytes(req))
}

func TestValidateRoundTrip(t *testing.T) {
	req := []byte{0x01, 0x03, 0x00, 0x02, 0x00, 0x02}
	framed := append(append([]byte{}, req...), crc16.Bytes(req)...)
	assert.True(t, crc16.Validate(framed))

	framed[0] ^= 0x01
	assert.False(t, crc16.Validate(framed))
}
