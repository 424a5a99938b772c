package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goburrow/modbus"

	"github.com/ammpio/ammp-edge/internal/model"
)

func init() {
	register(TypeModbusRTU, openModbusRTU)
}

type modbusRTUReader struct {
	handler *modbus.RTUClientHandler
	client  modbus.Client
}

var parityCode = map[string]string{
	"none": "N",
	"odd":  "O",
	"even": "E",
}

func openModbusRTU(ctx context.Context, dev model.DeviceConfig) (Reader, error) {
	if dev.Address.Device == "" {
		return nil, fmt.Errorf("modbusrtu: device path required")
	}

	handler := modbus.NewRTUClientHandler(dev.Address.Device)
	handler.SlaveId = byte(dev.Address.SlaveID)
	if dev.Timeout > 0 {
		handler.Timeout = time.Duration(dev.Timeout * float64(time.Second))
	} else {
		handler.Timeout = 5 * time.Second
	}

	if dev.Serial != nil {
		if dev.Serial.Baudrate > 0 {
			handler.BaudRate = dev.Serial.Baudrate
		} else {
			handler.BaudRate = 9600
		}
		if dev.Serial.Bytesize > 0 {
			handler.DataBits = dev.Serial.Bytesize
		} else {
			handler.DataBits = 8
		}
		if p, ok := parityCode[dev.Serial.Parity]; ok {
			handler.Parity = p
		} else {
			handler.Parity = "N"
		}
		if dev.Serial.Stopbits > 0 {
			handler.StopBits = dev.Serial.Stopbits
		} else {
			handler.StopBits = 1
		}
	} else {
		handler.BaudRate = 9600
		handler.DataBits = 8
		handler.Parity = "N"
		handler.StopBits = 1
	}

	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("modbusrtu: could not open %s: %w", dev.Address.Device, err)
	}

	return &modbusRTUReader{handler: handler, client: modbus.NewClient(handler)}, nil
}

func (r *modbusRTUReader) Read(ctx context.Context, spec model.ReadingSpec) (interface{}, error) {
	words := uint16(spec.Words)
	if words == 0 {
		words = 1
	}

	var raw []byte
	var err error
	switch spec.FnCode {
	case 4:
		raw, err = r.client.ReadInputRegisters(uint16(spec.Register), words)
	default:
		raw, err = r.client.ReadHoldingRegisters(uint16(spec.Register), words)
	}
	if err != nil {
		if isNoResponse(err) {
			return nil, ErrDeviceAbsent
		}
		return nil, fmt.Errorf("modbusrtu: read register %d: %w", spec.Register, err)
	}

	if spec.Order == "lsr" {
		raw = reverseWords(raw)
	}
	return raw, nil
}

func (r *modbusRTUReader) Close() error {
	return r.handler.Close()
}

// isNoResponse distinguishes a silent slave (timeout, no bytes at all)
// from a malformed-but-present response, so the caller can surface a
// dedicated "device absent" log class per spec.
func isNoResponse(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
