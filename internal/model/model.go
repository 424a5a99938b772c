// Package model holds the shared data types passed between the reading
// engine's components: configuration, driver registry, reading specs,
// and the readout record itself.
package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// HexInt is an integer that unmarshals from either a JSON number (decimal,
// e.g. 26) or a string, where the string is parsed base-16 whether or not
// it carries a "0x" prefix ("1A" and "0x1A" both decode to 26). Modbus
// register numbers are carried this way in driver JSON.
type HexInt int

func (h *HexInt) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*h = HexInt(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("model: HexInt: %w", err)
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToLower(s), "0x") {
		v, err := strconv.ParseInt(s[2:], 16, 32)
		if err != nil {
			return err
		}
		*h = HexInt(v)
		return nil
	}
	v, err := strconv.ParseInt(s, 16, 32)
	if err != nil {
		return err
	}
	*h = HexInt(v)
	return nil
}

// Address carries the transport-specific addressing fields for a device.
// Only the fields relevant to the device's ReadingType are populated.
type Address struct {
	Host   string `json:"host,omitempty"`
	Port   int    `json:"port,omitempty"`
	UnitID int    `json:"unit_id,omitempty"`

	Device string `json:"device,omitempty"` // serial device path
	SlaveID int   `json:"slave_id,omitempty"`

	MAC string `json:"mac,omitempty"`

	Group string `json:"group,omitempty"` // multicast group (Speedwire)

	// Host, after resolution, is mutated in place by the host resolver.
}

// SerialParams carries the serial line parameters for ModbusRTU / raw-serial.
type SerialParams struct {
	Baudrate int    `json:"baudrate,omitempty"`
	Bytesize int    `json:"bytesize,omitempty"`
	Parity   string `json:"parity,omitempty"` // none | odd | even
	Stopbits int    `json:"stopbits,omitempty"`
}

// DeviceConfig describes one configured endpoint.
type DeviceConfig struct {
	Driver          string        `json:"driver"`
	ReadingType     string        `json:"reading_type"`
	Address         Address       `json:"address"`
	Enabled         *bool         `json:"enabled,omitempty"`
	Timeout         float64       `json:"timeout,omitempty"`
	VendorID        string        `json:"vendor_id,omitempty"`
	MinReadInterval float64       `json:"min_read_interval,omitempty"`
	ReadDelay       float64       `json:"read_delay,omitempty"`
	Serial          *SerialParams `json:"serial,omitempty"`
	ConnCheck       bool          `json:"conn_check,omitempty"`
	ConnRetry       int           `json:"conn_retry,omitempty"`
}

// IsEnabled returns whether the device is enabled; absent means enabled.
func (d DeviceConfig) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// ResourceKey identifies the physical resource a device's reads must be
// serialized through: a serial path, a host, or a MAC (pre-resolution).
func (d DeviceConfig) ResourceKey() string {
	switch {
	case d.Address.Device != "":
		return "serial:" + d.Address.Device
	case d.Address.MAC != "":
		return "mac:" + d.Address.MAC
	case d.Address.Host != "":
		return "host:" + d.Address.Host
	default:
		return ""
	}
}

// ReadingConfig is one entry of the `readings` configuration map.
type ReadingConfig struct {
	Device  string `json:"device"`
	Var     string `json:"var"`
	Enabled *bool  `json:"enabled,omitempty"`
}

func (r ReadingConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// OutputConfig is one entry of the ordered `output` list consumed by C6.
type OutputConfig struct {
	Source   string `json:"source"`
	Field    string `json:"field"`
	Device   string `json:"device,omitempty"`
	Typecast string `json:"typecast,omitempty"`
}

// Config is the full immutable configuration snapshot for one reading cycle.
type Config struct {
	Devices          map[string]DeviceConfig  `json:"devices"`
	Readings         map[string]ReadingConfig `json:"readings"`
	Output           []OutputConfig           `json:"output"`
	ReadInterval     float64                  `json:"read_interval,omitempty"`
	ReadRoundtime    bool                     `json:"read_roundtime,omitempty"`
	PushThrottleDelay float64                 `json:"push_throttle_delay,omitempty"`
	PushTimeout      float64                  `json:"push_timeout,omitempty"`
	VolatileQSize    int                      `json:"volatile_q_size,omitempty"`
	Drivers          map[string]Driver        `json:"drivers,omitempty"`

	// ConfigID is a digest computed over the canonical JSON encoding of the
	// Devices, Readings and Output sections; stamped into every Readout's
	// metadata.
	ConfigID string `json:"-"`
}

// RequestComponent is one ordered piece of a raw-serial/raw-TCP request.
type RequestComponent struct {
	Kind   string `json:"kind"` // input | device_arg | const | crc
	Name   string `json:"name,omitempty"`
	Value  string `json:"value,omitempty"`
	Bytes  int    `json:"bytes,omitempty"`
	BigEndian bool `json:"big_endian,omitempty"`
}

// ResponseSchema describes how to slice the reply bytes of a raw request.
type ResponseSchema struct {
	Pos            int    `json:"pos"`
	Length         int    `json:"length,omitempty"`
	LengthField    string `json:"length_field,omitempty"`
	LengthMultiplier float64 `json:"length_multiplier,omitempty"`
	LengthOffset   float64 `json:"length_offset,omitempty"`
	CheckCRC16     bool   `json:"check_crc16,omitempty"`
}

// RawSchema is the full request/response schema for a raw-serial/raw-TCP reading.
type RawSchema struct {
	Request  []RequestComponent `json:"request"`
	Response ResponseSchema     `json:"response"`

	RespTemplate    string `json:"resp_template,omitempty"`
	RespTermination string `json:"resp_termination,omitempty"`
}

// ReadingSpec is the merged, per-cycle parameter set consumed by a reader.
// It is the union of {reading, var}, the driver's common block, and the
// driver field template for var.
type ReadingSpec struct {
	Reading string `json:"-"`
	Var     string `json:"-"`

	// Modbus
	Register HexInt `json:"register,omitempty"`
	Words    int    `json:"words,omitempty"`
	FnCode   int    `json:"fncode,omitempty"`
	Order    string `json:"order,omitempty"` // "" | "lsr"

	// Raw serial/TCP
	Schema *RawSchema `json:"schema,omitempty"`

	// SNMP
	OID string `json:"oid,omitempty"`

	// MQTT-subscribe
	Topic string `json:"topic,omitempty"`

	// Speedwire
	Serial  string `json:"serial,omitempty"`
	Channel int    `json:"channel,omitempty"`
	SwType  int    `json:"type,omitempty"`

	// System introspection
	Module  string        `json:"module,omitempty"`
	Method  string        `json:"method,omitempty"`
	Args    []interface{} `json:"args,omitempty"`
	KeyPath []string      `json:"keypath,omitempty"`

	// Response post-processing, shared across transports
	ParseAs    string             `json:"parse_as,omitempty"` // bytes | str | hex
	Datatype   string             `json:"datatype,omitempty"`
	Valuemap   map[string]interface{} `json:"valuemap,omitempty"`
	Multiplier *float64           `json:"multiplier,omitempty"`
	Offset     *float64           `json:"offset,omitempty"`
	Typecast   string             `json:"typecast,omitempty"` // int | float | str | bool

	ReadDelay float64 `json:"read_delay,omitempty"`
	Deprecated bool   `json:"deprecated,omitempty"`
}

// Driver is a registry entry: a common block merged into every field, plus
// per-variable field templates.
type Driver struct {
	Common json.RawMessage            `json:"common,omitempty"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// DeviceFields is one device's contribution to a Readout: a synthetic
// device-id key, an optional vendor-id, and var -> value pairs.
type DeviceFields struct {
	DeviceID string
	VendorID string
	Fields   map[string]interface{}
}

// MarshalJSON flattens DeviceFields into the wire shape: {"_d":..., "_vid":..., var: val, ...}.
func (d DeviceFields) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(d.Fields)+2)
	for k, v := range d.Fields {
		m[k] = v
	}
	m["_d"] = d.DeviceID
	if d.VendorID != "" {
		m["_vid"] = d.VendorID
	}
	return json.Marshal(m)
}

// ReadoutMeta is the "m" block of a Readout.
type ReadoutMeta struct {
	SnapRev         int     `json:"snap_rev,omitempty"`
	ReadingDuration float64 `json:"reading_duration"`
	ConfigID        string  `json:"config_id,omitempty"`
	ReadingOffset   *int    `json:"reading_offset,omitempty"`
}

// Readout is produced once per reading cycle.
type Readout struct {
	T int64          `json:"t"`
	R []DeviceFields `json:"r"`
	M ReadoutMeta    `json:"m"`
}

// CalculatedDeviceID is the reserved synthetic device-id used by the output
// expression engine for fields not attributed to a real device.
const CalculatedDeviceID = "calc"
