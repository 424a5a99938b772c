package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/goburrow/modbus"

	"github.com/ammpio/ammp-edge/internal/elog"
	"github.com/ammpio/ammp-edge/internal/model"
)

func init() {
	register(TypeModbusTCP, openModbusTCP)
}

type modbusTCPReader struct {
	handler *modbus.TCPClientHandler
	client  modbus.Client
	retries int
}

func openModbusTCP(ctx context.Context, dev model.DeviceConfig) (Reader, error) {
	addr := fmt.Sprintf("%s:%d", dev.Address.Host, portOrDefault(dev.Address.Port, 502))
	handler := modbus.NewTCPClientHandler(addr)
	handler.SlaveId = byte(dev.Address.UnitID)
	if dev.Timeout > 0 {
		handler.Timeout = time.Duration(dev.Timeout * float64(time.Second))
	} else {
		handler.Timeout = 10 * time.Second
	}

	retries := dev.ConnRetry
	if retries <= 0 {
		retries = 1
	}

	var lastErr error
	for i := 0; i < retries; i++ {
		if err := handler.Connect(); err != nil {
			lastErr = err
			elog.Warnf("modbustcp: connect to %s attempt %d/%d: %v", addr, i+1, retries, err)
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, fmt.Errorf("modbustcp: could not open %s: %w", addr, lastErr)
	}

	return &modbusTCPReader{
		handler: handler,
		client:  modbus.NewClient(handler),
		retries: retries,
	}, nil
}

func (r *modbusTCPReader) Read(ctx context.Context, spec model.ReadingSpec) (interface{}, error) {
	reg := uint16(spec.Register)

	words := uint16(spec.Words)
	if words == 0 {
		words = 1
	}

	var raw []byte
	var err error
	switch spec.FnCode {
	case 4:
		raw, err = r.client.ReadInputRegisters(reg, words)
	case 3, 0:
		raw, err = r.client.ReadHoldingRegisters(reg, words)
	default:
		elog.Warnf("modbustcp: unsupported fncode %d", spec.FnCode)
		return nil, nil
	}
	if err != nil {
		// Connection loss: attempt one reconnect so the next read in this
		// cycle (or the next cycle) has a chance without abandoning the
		// whole device immediately.
		if cErr := r.handler.Connect(); cErr != nil {
			elog.Warnf("modbustcp: reconnect failed: %v", cErr)
		}
		return nil, fmt.Errorf("modbustcp: read register %d: %w", reg, err)
	}

	if spec.Order == "lsr" {
		raw = reverseWords(raw)
	}

	return raw, nil
}

func (r *modbusTCPReader) Close() error {
	return r.handler.Close()
}

// reverseWords reverses the order of 16-bit words in raw (the "lsr" flag).
func reverseWords(raw []byte) []byte {
	n := len(raw) / 2
	out := make([]byte, len(raw))
	for i := 0; i < n; i++ {
		src := i * 2
		dst := (n - 1 - i) * 2
		out[dst] = raw[src]
		out[dst+1] = raw[src+1]
	}
	return out
}

func portOrDefault(p, def int) int {
	if p == 0 {
		return def
	}
	return p
}
