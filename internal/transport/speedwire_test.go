package transport

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammpio/ammp-edge/internal/model"
)

// buildSpeedwireDatagram assembles a minimal 16-byte header (with the
// serial at bytes 8:12) followed by one (channel, type, value) triple.
func buildSpeedwireDatagram(serial uint32, channel uint16, typ byte, value []byte) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint32(buf[8:12], serial)

	triple := make([]byte, 4+len(value))
	binary.BigEndian.PutUint16(triple[0:2], channel)
	triple[3] = typ
	copy(triple[4:], value)

	return append(buf, triple...)
}

func TestParseSpeedwireFrame_ActualValueTriple(t *testing.T) {
	raw := buildSpeedwireDatagram(1900300123, 1, 4, []byte{0x00, 0x00, 0x01, 0x2C})

	serial, values, err := parseSpeedwireFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, "1900300123", serial)
	require.Len(t, values, 1)
	assert.Equal(t, 1, values[0].channel)
	assert.Equal(t, 4, values[0].typ)
	assert.Equal(t, []byte{0x00, 0x00, 0x01, 0x2C}, values[0].value)
}

func TestParseSpeedwireFrame_ShortDatagramErrors(t *testing.T) {
	_, _, err := parseSpeedwireFrame(make([]byte, 4))
	assert.Error(t, err)
}

func TestSpeedwireReader_ReadLooksUpBySerialChannelAndType(t *testing.T) {
	r := &speedwireReader{
		frames: map[string][]obisValue{
			"123": {{channel: 1, typ: 4, value: []byte{0x01, 0x02, 0x03, 0x04}}},
		},
	}

	v, err := r.Read(nil, model.ReadingSpec{Serial: "123", Channel: 1, SwType: 4})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, v)

	v, err = r.Read(nil, model.ReadingSpec{Serial: "123", Channel: 2, SwType: 4})
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = r.Read(nil, model.ReadingSpec{Serial: "nonexistent", Channel: 1, SwType: 4})
	require.NoError(t, err)
	assert.Nil(t, v)
}
