package codec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammpio/ammp-edge/internal/codec"
	"github.com/ammpio/ammp-edge/internal/model"
)

func mult(f float64) *float64 { return &f }

func TestProcessReading_Int32HappyPath(t *testing.T) {
	// words [0x0000, 0x3039] big-endian -> 12345
	raw := []byte{0x00, 0x00, 0x30, 0x39}
	spec := model.ReadingSpec{Datatype: "int32", Multiplier: mult(1.0)}

	v, err := codec.ProcessReading(raw, spec)
	require.NoError(t, err)
	assert.Equal(t, float64(12345), v)
}

func TestProcessReading_LSRFloat(t *testing.T) {
	// reversed words [0x489E, 0xCC5A] -> big-endian float32
	raw := []byte{0x48, 0x9E, 0xCC, 0x5A}
	spec := model.ReadingSpec{Datatype: "float"}

	v, err := codec.ProcessReading(raw, spec)
	require.NoError(t, err)
	assert.InDelta(t, 325218.8125, v.(float64), 0.001)
}

func TestProcessReading_ValuemapShortCircuitsMultiplier(t *testing.T) {
	raw := []byte{0x00, 0x01}
	spec := model.ReadingSpec{
		Datatype:   "uint16",
		Valuemap:   map[string]interface{}{"0x0001": "running", "0x0002": "stopped"},
		Multiplier: mult(10),
	}

	v, err := codec.ProcessReading(raw, spec)
	require.NoError(t, err)
	assert.Equal(t, "running", v)
}

func TestProcessReading_FallbackByLength(t *testing.T) {
	raw := []byte{0x01, 0x02, 0x03, 0x04}
	spec := model.ReadingSpec{}

	v, err := codec.ProcessReading(raw, spec)
	require.NoError(t, err)
	assert.Equal(t, float64(0x01020304), v)
}

func TestProcessReading_TypecastFailureReturnsNoValue(t *testing.T) {
	spec := model.ReadingSpec{Typecast: "int"}
	_, err := codec.ProcessReading("not-a-number", spec)
	assert.ErrorIs(t, err, codec.ErrNoValue)
}

func TestProcessReading_StringValuemapExactMatch(t *testing.T) {
	spec := model.ReadingSpec{Valuemap: map[string]interface{}{"OK": 1.0}}
	v, err := codec.ProcessReading("OK", spec)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
}
