package transport

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ammpio/ammp-edge/internal/model"
	"github.com/ammpio/ammp-edge/pkg/crc16"
)

// buildRequest renders a RawSchema's ordered component list into bytes.
// `input` components read numeric fields carried on the spec itself
// (register, words and fncode), `device_arg` pulls
// from the device's address block, `const` is a literal, and `crc`
// appends the CRC-16 of everything emitted so far.
func buildRequest(schema model.RawSchema, dev model.DeviceConfig, spec model.ReadingSpec) ([]byte, error) {
	var out []byte
	for _, c := range schema.Request {
		switch c.Kind {
		case "const":
			b, err := parseLiteral(c.Value)
			if err != nil {
				return nil, fmt.Errorf("rawschema: const %q: %w", c.Value, err)
			}
			out = append(out, b...)
		case "device_arg":
			v, err := deviceArg(dev, c.Name)
			if err != nil {
				return nil, err
			}
			out = append(out, packInt(v, c.Bytes, c.BigEndian)...)
		case "input":
			v, err := specInput(spec, c.Name)
			if err != nil {
				return nil, err
			}
			out = append(out, packInt(v, c.Bytes, c.BigEndian)...)
		case "crc":
			out = append(out, crc16.Bytes(out)...)
		default:
			return nil, fmt.Errorf("rawschema: unknown request component %q", c.Kind)
		}
	}
	return out, nil
}

// sliceResponse extracts the field bytes from a response per the
// ResponseSchema, optionally validating and stripping a trailing CRC-16.
func sliceResponse(resp []byte, rs model.ResponseSchema, spec model.ReadingSpec) ([]byte, error) {
	if rs.CheckCRC16 {
		if !crc16.Validate(resp) {
			return nil, fmt.Errorf("rawschema: CRC-16 mismatch")
		}
		resp = resp[:len(resp)-2]
	}

	length := rs.Length
	if rs.LengthField != "" {
		v, err := specInput(spec, rs.LengthField)
		if err != nil {
			return nil, err
		}
		mult := rs.LengthMultiplier
		if mult == 0 {
			mult = 1
		}
		length = int(float64(v)*mult + rs.LengthOffset)
	}

	if rs.Pos < 0 || rs.Pos+length > len(resp) {
		return nil, fmt.Errorf("rawschema: slice [%d:%d] out of range for response of length %d", rs.Pos, rs.Pos+length, len(resp))
	}
	return resp[rs.Pos : rs.Pos+length], nil
}

func deviceArg(dev model.DeviceConfig, name string) (int64, error) {
	switch name {
	case "unit_id":
		return int64(dev.Address.UnitID), nil
	case "slave_id":
		return int64(dev.Address.SlaveID), nil
	default:
		return 0, fmt.Errorf("rawschema: unknown device_arg %q", name)
	}
}

func specInput(spec model.ReadingSpec, name string) (int64, error) {
	switch name {
	case "register":
		return int64(spec.Register), nil
	case "words":
		return int64(spec.Words), nil
	case "fncode":
		return int64(spec.FnCode), nil
	default:
		return 0, fmt.Errorf("rawschema: unknown input field %q", name)
	}
}

func packInt(v int64, nbytes int, bigEndian bool) []byte {
	if nbytes <= 0 {
		nbytes = 2
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	b := buf[8-nbytes:]
	if !bigEndian {
		rev := make([]byte, len(b))
		for i := range b {
			rev[len(b)-1-i] = b[i]
		}
		return rev
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func parseLiteral(v string) ([]byte, error) {
	if strings.HasPrefix(v, "0x") {
		return hex.DecodeString(v[2:])
	}
	return []byte(v), nil
}
