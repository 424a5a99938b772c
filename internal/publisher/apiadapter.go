package publisher

import (
	"time"

	"github.com/ammpio/ammp-edge/internal/model"
)

// APIPayload is the legacy alternate wire shape: per-device maps
// flattened into a single fields map keyed by reading-id, t converted to
// ISO-8601 UTC. It is not part of the core MQTT contract; this adapter
// exists only for endpoints that still expect the old API ingestion
// shape.
type APIPayload struct {
	Time   string                 `json:"time"`
	Fields map[string]interface{} `json:"fields"`
}

// ToAPIPayload flattens a Readout using the configured reading-id ->
// (device, var) mapping, the reverse of the planner's per-device grouping.
func ToAPIPayload(r model.Readout, readings map[string]model.ReadingConfig) APIPayload {
	byDeviceVar := make(map[string]map[string]interface{}, len(r.R))
	for _, d := range r.R {
		byDeviceVar[d.DeviceID] = d.Fields
	}

	fields := make(map[string]interface{}, len(readings))
	for readingID, rc := range readings {
		dev, ok := byDeviceVar[rc.Device]
		if !ok {
			continue
		}
		if v, ok := dev[rc.Var]; ok {
			fields[readingID] = v
		}
	}
	if d, ok := byDeviceVar[model.CalculatedDeviceID]; ok {
		for k, v := range d {
			fields[k] = v
		}
	}

	fields["reading_duration"] = r.M.ReadingDuration
	fields["reading_offset"] = int(time.Now().UTC().Sub(time.Unix(r.T, 0).UTC()).Seconds() - r.M.ReadingDuration)

	return APIPayload{
		Time:   time.Unix(r.T, 0).UTC().Format(time.RFC3339),
		Fields: fields,
	}
}
