// Package planner implements the reading planner (C4): a pure function
// of (config, driver registry) that builds the per-cycle set of reading
// specs grouped by device.
package planner

import (
	"encoding/json"

	"github.com/ammpio/ammp-edge/internal/elog"
	"github.com/ammpio/ammp-edge/internal/model"
)

// Plan builds device-id -> ordered ReadingSpec list. Order within a
// device follows the caller-supplied readingOrder slice, not the order
// of the readings in the config file (Go map iteration over Readings is
// not ordered); config.ReadingOrder supplies reading-ids sorted
// alphabetically.
func Plan(cfg model.Config, readingOrder []string) map[string][]model.ReadingSpec {
	out := make(map[string][]model.ReadingSpec)

	for _, readingID := range readingOrder {
		rdg, ok := cfg.Readings[readingID]
		if !ok {
			continue
		}
		if !rdg.IsEnabled() {
			continue
		}

		dev, ok := cfg.Devices[rdg.Device]
		if !ok {
			elog.Errorf("planner: reading %s references undefined device %s", readingID, rdg.Device)
			continue
		}
		if !dev.IsEnabled() {
			elog.Warnf("planner: reading %s references disabled device %s", readingID, rdg.Device)
			continue
		}

		driver, ok := cfg.Drivers[dev.Driver]
		if !ok {
			elog.Errorf("planner: device %s references unknown driver %s", rdg.Device, dev.Driver)
			continue
		}

		fieldRaw, ok := driver.Fields[rdg.Var]
		if !ok {
			elog.Errorf("planner: driver %s has no field definition for var %s (reading %s)", dev.Driver, rdg.Var, readingID)
			continue
		}

		spec, err := mergeSpec(readingID, rdg.Var, driver.Common, fieldRaw)
		if err != nil {
			elog.Errorf("planner: reading %s: %v", readingID, err)
			continue
		}

		if spec.Deprecated {
			elog.Warnf("planner: reading %s uses deprecated field %s/%s", readingID, dev.Driver, rdg.Var)
		}

		out[rdg.Device] = append(out[rdg.Device], spec)
	}

	return out
}

// mergeSpec merges {reading, var}, the driver common block, and the
// per-field template into one ReadingSpec. The field template wins over
// common on key collision (json.Unmarshal applied in that order onto the
// same struct, field by field, is not how Go's encoding/json works for
// partial overlays, so we merge as raw maps before the final decode).
func mergeSpec(reading, v string, common, field json.RawMessage) (model.ReadingSpec, error) {
	merged := map[string]interface{}{}

	if len(common) > 0 {
		var m map[string]interface{}
		if err := json.Unmarshal(common, &m); err != nil {
			return model.ReadingSpec{}, err
		}
		for k, val := range m {
			merged[k] = val
		}
	}
	if len(field) > 0 {
		var m map[string]interface{}
		if err := json.Unmarshal(field, &m); err != nil {
			return model.ReadingSpec{}, err
		}
		for k, val := range m {
			merged[k] = val
		}
	}

	b, err := json.Marshal(merged)
	if err != nil {
		return model.ReadingSpec{}, err
	}

	var spec model.ReadingSpec
	if err := json.Unmarshal(b, &spec); err != nil {
		return model.ReadingSpec{}, err
	}
	spec.Reading = reading
	spec.Var = v
	return spec, nil
}
