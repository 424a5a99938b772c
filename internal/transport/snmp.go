package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/ammpio/ammp-edge/internal/model"
)

func init() {
	register(TypeSNMP, openSNMP)
}

type snmpReader struct {
	client *gosnmp.GoSNMP
}

func openSNMP(ctx context.Context, dev model.DeviceConfig) (Reader, error) {
	timeout := 5 * time.Second
	if dev.Timeout > 0 {
		timeout = time.Duration(dev.Timeout * float64(time.Second))
	}

	client := &gosnmp.GoSNMP{
		Target:    dev.Address.Host,
		Port:      uint16(portOrDefault(dev.Address.Port, 161)),
		Community: "public",
		Version:   gosnmp.Version2c,
		Timeout:   timeout,
		Retries:   dev.ConnRetry,
	}

	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("snmp: could not open %s: %w", dev.Address.Host, err)
	}

	return &snmpReader{client: client}, nil
}

func (r *snmpReader) Read(ctx context.Context, spec model.ReadingSpec) (interface{}, error) {
	if spec.OID == "" {
		return nil, fmt.Errorf("snmp: reading %s has no oid", spec.Reading)
	}

	result, err := r.client.Get([]string{spec.OID})
	if err != nil {
		return nil, fmt.Errorf("snmp: get %s: %w", spec.OID, err)
	}
	if len(result.Variables) == 0 {
		return nil, nil
	}

	v := result.Variables[0]
	switch v.Type {
	case gosnmp.OctetString:
		return v.Value.([]byte), nil
	default:
		n, ok := v.Value.(int)
		if !ok {
			return fmt.Sprintf("%v", v.Value), nil
		}
		return float64(n), nil
	}
}

func (r *snmpReader) Close() error {
	return r.client.Conn.Close()
}
