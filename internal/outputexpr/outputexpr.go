// Package outputexpr implements the output expression engine (C6):
// compiling declarative expressions once at plan time and evaluating them
// per cycle against the collected device readings, the same
// compile-then-run split the tagger's rule engine uses for its
// requirement/variable/rule expressions.
package outputexpr

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/ammpio/ammp-edge/internal/codec"
	"github.com/ammpio/ammp-edge/internal/elog"
	"github.com/ammpio/ammp-edge/internal/model"
)

// Compiled pairs an OutputConfig with its compiled expression program.
type Compiled struct {
	cfg     model.OutputConfig
	program *vm.Program
}

// Compile compiles every output expression once; callers should do this
// at plan time, not per cycle.
func Compile(outputs []model.OutputConfig) ([]Compiled, error) {
	out := make([]Compiled, 0, len(outputs))
	for _, o := range outputs {
		program, err := expr.Compile(o.Source)
		if err != nil {
			return nil, fmt.Errorf("outputexpr: compile %q: %w", o.Field, err)
		}
		out = append(out, Compiled{cfg: o, program: program})
	}
	return out, nil
}

// Environment is the shape exposed to output expressions: device-id ->
// var -> value, built from the cycle's collected DeviceFields.
type Environment map[string]map[string]interface{}

func BuildEnvironment(devices []model.DeviceFields) Environment {
	env := make(Environment, len(devices))
	for _, d := range devices {
		env[d.DeviceID] = d.Fields
	}
	return env
}

// Evaluate runs every compiled output expression against env, merging
// results into per-device field maps (or the reserved calculated-device
// map when OutputConfig.Device does not match a configured device).
func Evaluate(compiled []Compiled, env Environment, knownDevices map[string]bool, calcVendorID string) []model.DeviceFields {
	byDevice := make(map[string]map[string]interface{})

	for _, c := range compiled {
		result, err := expr.Run(c.program, map[string]interface{}(env))
		if err != nil {
			elog.Warnf("outputexpr: %s: %v", c.cfg.Field, err)
			continue
		}
		if result == nil {
			continue
		}

		if c.cfg.Typecast != "" {
			typed, err := codec.ApplyTypecast(result, c.cfg.Typecast)
			if err == nil {
				result = typed
			}
		}

		deviceID := model.CalculatedDeviceID
		if c.cfg.Device != "" && knownDevices[c.cfg.Device] {
			deviceID = c.cfg.Device
		}

		if byDevice[deviceID] == nil {
			byDevice[deviceID] = make(map[string]interface{})
		}
		byDevice[deviceID][c.cfg.Field] = result
	}

	out := make([]model.DeviceFields, 0, len(byDevice))
	for id, fields := range byDevice {
		vid := ""
		if id == model.CalculatedDeviceID {
			vid = calcVendorID
		}
		out = append(out, model.DeviceFields{DeviceID: id, VendorID: vid, Fields: fields})
	}
	return out
}
