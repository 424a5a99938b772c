package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ammpio/ammp-edge/internal/model"
)

func init() {
	register(TypeRawTCP, openRawTCP)
}

type rawTCPReader struct {
	conn   net.Conn
	dev    model.DeviceConfig
	cached map[string][]byte
}

func openRawTCP(ctx context.Context, dev model.DeviceConfig) (Reader, error) {
	addr := fmt.Sprintf("%s:%d", dev.Address.Host, portOrDefault(dev.Address.Port, 502))
	timeout := 10 * time.Second
	if dev.Timeout > 0 {
		timeout = time.Duration(dev.Timeout * float64(time.Second))
	}

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("rawtcp: could not open %s: %w", addr, err)
	}
	return &rawTCPReader{conn: conn, dev: dev, cached: make(map[string][]byte)}, nil
}

func (r *rawTCPReader) Read(ctx context.Context, spec model.ReadingSpec) (interface{}, error) {
	if spec.Schema == nil {
		return nil, fmt.Errorf("rawtcp: reading %s has no schema", spec.Reading)
	}

	req, err := buildRequest(*spec.Schema, r.dev, spec)
	if err != nil {
		return nil, err
	}

	cacheKey := string(req)
	resp, ok := r.cached[cacheKey]
	if !ok {
		if r.dev.Timeout > 0 {
			r.conn.SetDeadline(time.Now().Add(time.Duration(r.dev.Timeout * float64(time.Second))))
		} else {
			r.conn.SetDeadline(time.Now().Add(10 * time.Second))
		}

		if _, err := r.conn.Write(req); err != nil {
			return nil, fmt.Errorf("rawtcp: write: %w", err)
		}

		buf := make([]byte, 512)
		n, err := r.conn.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("rawtcp: read: %w", err)
		}
		resp = buf[:n]
		r.cached[cacheKey] = resp
	}

	return sliceResponse(resp, spec.Schema.Response, spec)
}

func (r *rawTCPReader) Close() error {
	return r.conn.Close()
}
