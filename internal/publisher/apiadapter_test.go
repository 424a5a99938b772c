package publisher_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ammpio/ammp-edge/internal/model"
	"github.com/ammpio/ammp-edge/internal/publisher"
)

func TestToAPIPayload_FlattensByReadingID(t *testing.T) {
	readout := model.Readout{
		T: 1000,
		R: []model.DeviceFields{
			{DeviceID: "meter1", Fields: map[string]interface{}{"ac_power": 123.0}},
			{DeviceID: model.CalculatedDeviceID, Fields: map[string]interface{}{"total": 999.0}},
		},
		M: model.ReadoutMeta{ReadingDuration: 0.5},
	}
	readings := map[string]model.ReadingConfig{
		"r1": {Device: "meter1", Var: "ac_power"},
	}

	p := publisher.ToAPIPayload(readout, readings)
	assert.Equal(t, 123.0, p.Fields["r1"])
	assert.Equal(t, 999.0, p.Fields["total"], "calculated-device fields are merged in by field name")
	assert.Equal(t, "1970-01-01T00:16:40Z", p.Time)
}

func TestToAPIPayload_SkipsReadingsForMissingDevices(t *testing.T) {
	readout := model.Readout{T: 1000}
	readings := map[string]model.ReadingConfig{
		"r1": {Device: "nonexistent", Var: "x"},
	}
	p := publisher.ToAPIPayload(readout, readings)
	_, ok := p.Fields["r1"]
	assert.False(t, ok)
}
