package outputexpr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammpio/ammp-edge/internal/model"
	"github.com/ammpio/ammp-edge/internal/outputexpr"
)

func TestEvaluate_AttributesToCalculatedDevice(t *testing.T) {
	compiled, err := outputexpr.Compile([]model.OutputConfig{
		{Source: "meter1.ac_power + meter2.ac_power", Field: "total_power"},
	})
	require.NoError(t, err)

	env := outputexpr.BuildEnvironment([]model.DeviceFields{
		{DeviceID: "meter1", Fields: map[string]interface{}{"ac_power": 100.0}},
		{DeviceID: "meter2", Fields: map[string]interface{}{"ac_power": 50.0}},
	})

	out := outputexpr.Evaluate(compiled, env, map[string]bool{"meter1": true, "meter2": true}, "calc-vendor")
	require.Len(t, out, 1)
	assert.Equal(t, model.CalculatedDeviceID, out[0].DeviceID)
	assert.Equal(t, "calc-vendor", out[0].VendorID)
	assert.Equal(t, 150.0, out[0].Fields["total_power"])
}

func TestEvaluate_AttributesToNamedDeviceWhenKnown(t *testing.T) {
	compiled, err := outputexpr.Compile([]model.OutputConfig{
		{Source: "meter1.raw * 2", Field: "derived", Device: "meter1"},
	})
	require.NoError(t, err)

	env := outputexpr.BuildEnvironment([]model.DeviceFields{
		{DeviceID: "meter1", Fields: map[string]interface{}{"raw": 21.0}},
	})

	out := outputexpr.Evaluate(compiled, env, map[string]bool{"meter1": true}, "")
	require.Len(t, out, 1)
	assert.Equal(t, "meter1", out[0].DeviceID)
	assert.Equal(t, 42.0, out[0].Fields["derived"])
}

func TestEvaluate_NilResultIsDropped(t *testing.T) {
	compiled, err := outputexpr.Compile([]model.OutputConfig{
		{Source: "meter1.missing_field", Field: "f"},
	})
	require.NoError(t, err)

	env := outputexpr.BuildEnvironment([]model.DeviceFields{
		{DeviceID: "meter1", Fields: map[string]interface{}{"raw": 1.0}},
	})
	out := outputexpr.Evaluate(compiled, env, map[string]bool{"meter1": true}, "")
	assert.Empty(t, out)
}
