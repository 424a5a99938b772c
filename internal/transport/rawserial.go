package transport

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/goburrow/serial"

	"github.com/ammpio/ammp-edge/internal/elog"
	"github.com/ammpio/ammp-edge/internal/model"
)

func init() {
	register(TypeRawSerial, openRawSerial)
}

type rawSerialReader struct {
	port serial.Port
	dev  model.DeviceConfig

	// cached holds the last response keyed by the request bytes written
	// to the wire, per session. Per the documented open question, this
	// assumes the request bytes uniquely identify the response; two
	// different readings issuing the same request bytes will share a
	// cached response.
	cached map[string][]byte
}

func openRawSerial(ctx context.Context, dev model.DeviceConfig) (Reader, error) {
	if dev.Address.Device == "" {
		return nil, fmt.Errorf("rawserial: device path required")
	}

	cfg := &serial.Config{
		Address:  dev.Address.Device,
		BaudRate: 9600,
		DataBits: 8,
		Parity:   "N",
		StopBits: 1,
		Timeout:  5 * time.Second,
	}
	if dev.Serial != nil {
		if dev.Serial.Baudrate > 0 {
			cfg.BaudRate = dev.Serial.Baudrate
		}
		if dev.Serial.Bytesize > 0 {
			cfg.DataBits = dev.Serial.Bytesize
		}
		if p, ok := parityCode[dev.Serial.Parity]; ok {
			cfg.Parity = p
		}
		if dev.Serial.Stopbits > 0 {
			cfg.StopBits = dev.Serial.Stopbits
		}
	}
	if dev.Timeout > 0 {
		cfg.Timeout = time.Duration(dev.Timeout * float64(time.Second))
	}

	port, err := serial.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("rawserial: could not open %s: %w", dev.Address.Device, err)
	}

	return &rawSerialReader{port: port, dev: dev, cached: make(map[string][]byte)}, nil
}

func (r *rawSerialReader) Read(ctx context.Context, spec model.ReadingSpec) (interface{}, error) {
	if spec.Schema == nil {
		return nil, fmt.Errorf("rawserial: reading %s has no schema", spec.Reading)
	}

	req, err := buildRequest(*spec.Schema, r.dev, spec)
	if err != nil {
		return nil, err
	}

	cacheKey := string(req)
	resp, ok := r.cached[cacheKey]
	if !ok {
		if _, err := r.port.Write(req); err != nil {
			return nil, fmt.Errorf("rawserial: write: %w", err)
		}

		resp, err = r.readResponse(spec.Schema)
		if err != nil {
			return nil, err
		}
		if len(resp) == 0 {
			elog.Warnf("rawserial: no response received from %s", r.dev.Address.Device)
			return nil, nil
		}

		if spec.Schema.RespTemplate != "" {
			re, err := regexp.Compile(spec.Schema.RespTemplate)
			if err != nil {
				return nil, fmt.Errorf("rawserial: bad resp_template: %w", err)
			}
			if !re.Match(resp) {
				elog.Warnf("rawserial: response %x does not match template %s, discarding", resp, spec.Schema.RespTemplate)
				return nil, nil
			}
		}

		r.cached[cacheKey] = resp
	}

	return sliceResponse(resp, spec.Schema.Response, spec)
}

func (r *rawSerialReader) readResponse(schema *model.RawSchema) ([]byte, error) {
	if schema.RespTermination != "" {
		return readUntil(r.port, []byte(schema.RespTermination))
	}
	// No explicit termination: allow time for the response, then drain.
	time.Sleep(1 * time.Second)
	return drainAll(r.port)
}

func (r *rawSerialReader) Close() error {
	return r.port.Close()
}

func readUntil(port serial.Port, term []byte) ([]byte, error) {
	buf := make([]byte, 0, 256)
	chunk := make([]byte, 64)
	for {
		n, err := port.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if len(term) > 0 && len(buf) >= len(term) {
				tail := buf[len(buf)-len(term):]
				match := true
				for i := range term {
					if tail[i] != term[i] {
						match = false
						break
					}
				}
				if match {
					return buf, nil
				}
			}
		}
		if err != nil {
			return buf, nil
		}
	}
}

func drainAll(port serial.Port) ([]byte, error) {
	buf := make([]byte, 0, 256)
	chunk := make([]byte, 256)
	for {
		n, err := port.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil || n == 0 {
			break
		}
	}
	return buf, nil
}
