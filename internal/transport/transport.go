// Package transport implements the transport readers (C2): one per
// industrial protocol, sharing the open -> read(spec) -> close lifecycle.
// Transports are a closed enumeration; the planner's ReadingSpec variant
// matches the device's configured ReadingType.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/ammpio/ammp-edge/internal/model"
)

// Reading type tags, matching DeviceConfig.ReadingType.
const (
	TypeModbusTCP = "modbustcp"
	TypeModbusRTU = "modbusrtu"
	TypeRawSerial = "rawserial"
	TypeRawTCP    = "rawtcp"
	TypeSNMP      = "snmp"
	TypeMQTT      = "mqtt"
	TypeSpeedwire = "sma_speedwire"
	TypeSystem    = "sys"
)

// ErrDeviceAbsent distinguishes a slave/device that did not answer at all
// (e.g. ModbusRTU no-response) from a generic transient I/O failure, so
// callers can log it under a dedicated class.
var ErrDeviceAbsent = errors.New("transport: device absent")

// Reader is the capability set every transport variant implements. Close
// must be safe to call exactly once, on every exit path of the caller's
// scoped acquisition (including after a panic or timeout abandonment).
type Reader interface {
	Read(ctx context.Context, spec model.ReadingSpec) (interface{}, error)
	Close() error
}

// Opener constructs a Reader from a device's configuration. Construction
// failure is not retried within a cycle; the device is skipped and the
// next cycle tries again.
type Opener func(ctx context.Context, dev model.DeviceConfig) (Reader, error)

// openers is the closed enumeration of transport variants, keyed by
// ReadingType. Registered by each transport's init().
var openers = map[string]Opener{}

func register(readingType string, o Opener) {
	openers[readingType] = o
}

// Open dispatches to the registered opener for dev.ReadingType.
func Open(ctx context.Context, dev model.DeviceConfig) (Reader, error) {
	o, ok := openers[dev.ReadingType]
	if !ok {
		return nil, fmt.Errorf("transport: unknown reading_type %q", dev.ReadingType)
	}
	return o(ctx, dev)
}
