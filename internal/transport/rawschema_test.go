package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammpio/ammp-edge/internal/model"
	"github.com/ammpio/ammp-edge/pkg/crc16"
)

// TestBuildRequest_CRC16AndInputDerivedLength covers spec §8 end-to-end
// scenario 4: a request built from unit_id/fncode/register/words plus a
// trailing CRC-16, and a response sliced by an input-derived length.
func TestBuildRequest_CRC16AndInputDerivedLength(t *testing.T) {
	schema := model.RawSchema{
		Request: []model.RequestComponent{
			{Kind: "device_arg", Name: "unit_id", Bytes: 1, BigEndian: true},
			{Kind: "const", Value: "0x03"},
			{Kind: "input", Name: "register", Bytes: 2, BigEndian: true},
			{Kind: "input", Name: "words", Bytes: 2, BigEndian: true},
			{Kind: "crc"},
		},
	}
	dev := model.DeviceConfig{Address: model.Address{UnitID: 1}}
	spec := model.ReadingSpec{Register: 2, Words: 2}

	req, err := buildRequest(schema, dev, spec)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x03, 0x00, 0x02, 0x00, 0x02, 0x65, 0xCB}, req)
}

func TestSliceResponse_InputDerivedLengthWithCRCCheck(t *testing.T) {
	resp := []byte{0x01, 0x03, 0x04, 0x12, 0x34, 0x56, 0x78}
	framed := append(append([]byte{}, resp...), crc16.Bytes(resp)...)

	rs := model.ResponseSchema{
		Pos:              3,
		LengthField:      "words",
		LengthMultiplier: 2,
		CheckCRC16:       true,
	}
	spec := model.ReadingSpec{Words: 2}

	slice, err := sliceResponse(framed, rs, spec)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x12, 0x34, 0x56, 0x78}, slice)
}

func TestSliceResponse_CRCMismatchIsRejected(t *testing.T) {
	resp := []byte{0x01, 0x03, 0x04, 0x12, 0x34, 0x56, 0x78, 0x00, 0x00}
	rs := model.ResponseSchema{Pos: 3, Length: 4, CheckCRC16: true}

	_, err := sliceResponse(resp, rs, model.ReadingSpec{})
	assert.Error(t, err)
}

func TestReverseWords(t *testing.T) {
	// order=lsr with 2 words reverses the pair.
	assert.Equal(t, []byte{0x48, 0x9E, 0xCC, 0x5A}, reverseWords([]byte{0xCC, 0x5A, 0x48, 0x9E}))
	// order=lsr with 1 word is a no-op.
	assert.Equal(t, []byte{0xAB, 0xCD}, reverseWords([]byte{0xAB, 0xCD}))
}
