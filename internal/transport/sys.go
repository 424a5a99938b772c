package transport

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ammpio/ammp-edge/internal/model"
)

func init() {
	register(TypeSystem, openSys)
}

// sysReader has no device; read({module, method, args, keypath}) invokes
// a platform metric call and traverses a key/index path into its result.
type sysReader struct{}

func openSys(ctx context.Context, dev model.DeviceConfig) (Reader, error) {
	return sysReader{}, nil
}

func (sysReader) Read(ctx context.Context, spec model.ReadingSpec) (interface{}, error) {
	result, err := invokeSysMethod(spec.Module, spec.Method, spec.Args)
	if err != nil {
		return nil, err
	}
	return traverseKeyPath(result, spec.KeyPath)
}

func (sysReader) Close() error { return nil }

// invokeSysMethod covers the small set of platform metrics the core
// exposes to drivers; out-of-core system introspection (env scan, Wi-Fi
// status) stays an external collaborator.
func invokeSysMethod(module, method string, args []interface{}) (interface{}, error) {
	switch module {
	case "time":
		switch method {
		case "now":
			return map[string]interface{}{"unix": time.Now().Unix()}, nil
		}
	case "os":
		switch method {
		case "hostname":
			h, err := os.Hostname()
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"hostname": h}, nil
		case "uptime":
			b, err := os.ReadFile("/proc/uptime")
			if err != nil {
				return nil, err
			}
			var secs float64
			if _, err := fmt.Sscanf(string(b), "%f", &secs); err != nil {
				return nil, fmt.Errorf("sys: parse /proc/uptime: %w", err)
			}
			return map[string]interface{}{"uptime": secs}, nil
		}
	}
	return nil, fmt.Errorf("sys: unknown method %s.%s", module, method)
}

func traverseKeyPath(v interface{}, keypath []string) (interface{}, error) {
	cur := v
	for _, k := range keypath {
		switch c := cur.(type) {
		case map[string]interface{}:
			next, ok := c[k]
			if !ok {
				return nil, nil
			}
			cur = next
		case []interface{}:
			i, err := strconv.Atoi(k)
			if err != nil {
				return nil, fmt.Errorf("sys: cannot index list with key %q", k)
			}
			if i < 0 || i >= len(c) {
				return nil, nil
			}
			cur = c[i]
		default:
			return nil, fmt.Errorf("sys: cannot index %T with key %q", cur, k)
		}
	}
	return cur, nil
}
