package planner_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammpio/ammp-edge/internal/model"
	"github.com/ammpio/ammp-edge/internal/planner"
)

func disabled() *bool { f := false; return &f }

func TestPlan_MergesCommonAndFieldTemplate(t *testing.T) {
	cfg := model.Config{
		Devices: map[string]model.DeviceConfig{
			"meter1": {Driver: "meter", ReadingType: "modbustcp"},
		},
		Readings: map[string]model.ReadingConfig{
			"r1": {Device: "meter1", Var: "ac_power"},
		},
		Drivers: map[string]model.Driver{
			"meter": {
				Common: json.RawMessage(`{"fncode": 3, "words": 2}`),
				Fields: map[string]json.RawMessage{
					"ac_power": json.RawMessage(`{"register": 30775, "datatype": "int32"}`),
				},
			},
		},
	}

	plan := planner.Plan(cfg, []string{"r1"})
	require.Len(t, plan["meter1"], 1)

	spec := plan["meter1"][0]
	assert.Equal(t, model.HexInt(30775), spec.Register)
	assert.Equal(t, 2, spec.Words)
	assert.Equal(t, 3, spec.FnCode)
	assert.Equal(t, "int32", spec.Datatype)
	assert.Equal(t, "r1", spec.Reading)
	assert.Equal(t, "ac_power", spec.Var)
}

func TestPlan_SkipsDisabledReadingDeviceAndUnknownDriver(t *testing.T) {
	cfg := model.Config{
		Devices: map[string]model.DeviceConfig{
			"d1": {Driver: "x", Enabled: disabled()},
			"d2": {Driver: "missing"},
		},
		Readings: map[string]model.ReadingConfig{
			"disabled_reading": {Device: "d1", Var: "v", Enabled: disabled()},
			"disabled_device":  {Device: "d1", Var: "v"},
			"unknown_driver":   {Device: "d2", Var: "v"},
			"unknown_device":   {Device: "nope", Var: "v"},
		},
		Drivers: map[string]model.Driver{},
	}

	plan := planner.Plan(cfg, []string{"disabled_reading", "disabled_device", "unknown_driver", "unknown_device"})
	assert.Empty(t, plan)
}

func TestPlan_FieldTemplateWinsOverCommonOnCollision(t *testing.T) {
	cfg := model.Config{
		Devices: map[string]model.DeviceConfig{
			"d1": {Driver: "drv"},
		},
		Readings: map[string]model.ReadingConfig{
			"r1": {Device: "d1", Var: "v"},
		},
		Drivers: map[string]model.Driver{
			"drv": {
				Common: json.RawMessage(`{"multiplier": 1.0}`),
				Fields: map[string]json.RawMessage{
					"v": json.RawMessage(`{"multiplier": 2.0}`),
				},
			},
		},
	}

	plan := planner.Plan(cfg, []string{"r1"})
	require.Len(t, plan["d1"], 1)
	assert.Equal(t, 2.0, *plan["d1"][0].Multiplier)
}
