// Package codec implements the value codec (C1): converting raw bytes or
// strings into typed values per a driver-declared datatype, value map,
// multiplier, offset and typecast. Pure; no I/O, no global state.
//
// Precedence is fixed and must not be reordered: valuemap -> numeric
// unpack -> multiplier/offset -> typecast.
package codec

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ammpio/ammp-edge/internal/elog"
	"github.com/ammpio/ammp-edge/internal/model"
)

// ErrNoValue signals a clean "no value" outcome (missing map entry, parse
// failure): callers treat it identically to a null/absent result and must
// not propagate it as a cycle-ending error.
var ErrNoValue = errors.New("codec: no value")

// formatChar is the canonical datatype -> struct format-character table.
// int16 maps to "h" and int32 to "i"; do not swap these.
var formatChar = map[string]byte{
	"int16":  'h',
	"uint16": 'H',
	"int32":  'i',
	"sint32": 'i',
	"uint32": 'I',
	"int64":  'q',
	"uint64": 'Q',
	"float":  'f',
	"single": 'f',
	"double": 'd',
}

// fallbackByLength maps a byte count to a format character when no
// datatype is declared.
var fallbackByLength = map[int]byte{
	1: 'B',
	2: 'H',
	4: 'I',
	8: 'd',
}

// ProcessReading converts a raw transport result into a typed value
// according to spec. raw may be []byte, string, a native number (as
// returned by the SNMP and system readers; it skips the valuemap and
// unpack steps and goes straight to multiplier/offset/typecast), or nil
// (meaning "no reading taken"; callers should not invoke the codec in
// that case).
func ProcessReading(raw interface{}, spec model.ReadingSpec) (interface{}, error) {
	switch v := raw.(type) {
	case []byte:
		return processBytesInput(v, spec)
	case string:
		switch spec.ParseAs {
		case "hex":
			b, err := asciiHexDecode(v)
			if err != nil {
				elog.Warnf("codec: %s/%s: hex decode: %v", spec.Reading, spec.Var, err)
				return nil, ErrNoValue
			}
			return processBytesInput(b, spec)
		default:
			// "str" or unset: treat as string input.
			return processStringInput(v, spec)
		}
	default:
		if f, ok := asFloat64(v); ok {
			return finishNumeric(f, spec)
		}
		return nil, ErrNoValue
	}
}

func processBytesInput(b []byte, spec model.ReadingSpec) (interface{}, error) {
	if spec.ParseAs == "str" {
		return processStringInput(string(b), spec)
	}

	if len(spec.Valuemap) > 0 {
		key := "0x" + strings.ToLower(hex.EncodeToString(b))
		if v, ok := spec.Valuemap[key]; ok {
			return v, nil
		}
	}

	numeric, err := unpackNumeric(b, spec.Datatype)
	if err != nil {
		elog.Warnf("codec: %s/%s: %v", spec.Reading, spec.Var, err)
		return nil, ErrNoValue
	}

	return finishNumeric(numeric, spec)
}

func processStringInput(s string, spec model.ReadingSpec) (interface{}, error) {
	if len(spec.Valuemap) > 0 {
		if v, ok := spec.Valuemap[s]; ok {
			return v, nil
		}
	}
	return applyTypecastOnly(s, spec)
}

// unpackNumeric unpacks b as big-endian per the datatype format character,
// falling back to a length-based guess when datatype is unset or unknown.
func unpackNumeric(b []byte, datatype string) (float64, error) {
	fc, ok := formatChar[datatype]
	if !ok {
		fc, ok = fallbackByLength[len(b)]
		if !ok {
			return 0, fmt.Errorf("no format for datatype %q, length %d", datatype, len(b))
		}
	}

	switch fc {
	case 'B':
		if len(b) < 1 {
			return 0, fmt.Errorf("short buffer for uint8")
		}
		return float64(b[0]), nil
	case 'H':
		if len(b) < 2 {
			return 0, fmt.Errorf("short buffer for uint16")
		}
		return float64(binary.BigEndian.Uint16(b)), nil
	case 'h':
		if len(b) < 2 {
			return 0, fmt.Errorf("short buffer for int16")
		}
		return float64(int16(binary.BigEndian.Uint16(b))), nil
	case 'I':
		if len(b) < 4 {
			return 0, fmt.Errorf("short buffer for uint32")
		}
		return float64(binary.BigEndian.Uint32(b)), nil
	case 'i':
		if len(b) < 4 {
			return 0, fmt.Errorf("short buffer for int32")
		}
		return float64(int32(binary.BigEndian.Uint32(b))), nil
	case 'Q':
		if len(b) < 8 {
			return 0, fmt.Errorf("short buffer for uint64")
		}
		return float64(binary.BigEndian.Uint64(b)), nil
	case 'q':
		if len(b) < 8 {
			return 0, fmt.Errorf("short buffer for int64")
		}
		return float64(int64(binary.BigEndian.Uint64(b))), nil
	case 'f':
		if len(b) < 4 {
			return 0, fmt.Errorf("short buffer for float32")
		}
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b))), nil
	case 'd':
		if len(b) < 8 {
			return 0, fmt.Errorf("short buffer for float64")
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	default:
		return 0, fmt.Errorf("unhandled format char %q", fc)
	}
}

func finishNumeric(numeric float64, spec model.ReadingSpec) (interface{}, error) {
	if spec.Typecast != "str" && spec.Typecast != "bool" {
		if spec.Multiplier != nil {
			numeric *= *spec.Multiplier
		}
		if spec.Offset != nil {
			numeric += *spec.Offset
		}
	}
	return ApplyTypecast(numeric, spec.Typecast)
}

func applyTypecastOnly(v interface{}, spec model.ReadingSpec) (interface{}, error) {
	return ApplyTypecast(v, spec.Typecast)
}

// ApplyTypecast applies C1's typecast step to an already-decoded value.
// Exported so other components (the output expression engine's C6 cast,
// per spec "via the same rules as C1") can typecast a native Go value
// without stringifying and re-parsing it through the codec's string path.
func ApplyTypecast(v interface{}, typecast string) (interface{}, error) {
	if typecast == "" {
		return v, nil
	}
	if f, ok := asFloat64(v); ok {
		v = f
	}
	switch typecast {
	case "int":
		switch n := v.(type) {
		case float64:
			return int64(n), nil
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
			if err != nil {
				return nil, ErrNoValue
			}
			return i, nil
		}
	case "float":
		switch n := v.(type) {
		case float64:
			return n, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return nil, ErrNoValue
			}
			return f, nil
		}
	case "str":
		switch n := v.(type) {
		case float64:
			return strconv.FormatFloat(n, 'g', -1, 64), nil
		case string:
			return n, nil
		case bool:
			return strconv.FormatBool(n), nil
		}
	case "bool":
		switch n := v.(type) {
		case float64:
			return n != 0, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(n))
			if err != nil {
				return nil, ErrNoValue
			}
			return b, nil
		case bool:
			return n, nil
		}
	}
	return nil, ErrNoValue
}

// asFloat64 normalizes the integer kinds expr-lang's VM can produce
// (int, int64, etc., as opposed to the codec's own float64-only numeric
// path) so ApplyTypecast's float64 branch covers them too.
func asFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func asciiHexDecode(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimSpace(s))
}
