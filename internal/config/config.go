// Package config loads and holds the reading engine's configuration
// snapshot: the base config (devices, readings, output, scheduling
// parameters) merged with the driver registry, decoded with
// DisallowUnknownFields so a typo in provisioned config fails loudly
// rather than silently ignoring a field, the same strictness the
// teacher's program-config loader applies.
package config

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/ammpio/ammp-edge/internal/elog"
	"github.com/ammpio/ammp-edge/internal/model"
)

// current holds the live, immutable configuration snapshot. Readers
// sample it once at cycle start via Current() and carry the value
// through the cycle; replacement is atomic.
var current atomic.Pointer[model.Config]

// Current returns the live configuration snapshot.
func Current() model.Config {
	p := current.Load()
	if p == nil {
		return model.Config{}
	}
	return *p
}

// Set atomically replaces the live configuration snapshot.
func Set(cfg model.Config) {
	current.Store(&cfg)
}

// Load reads the base config from configPath and the driver registry
// from driversDir, merges them, computes ConfigID, and returns the
// result without installing it as Current (callers call Set explicitly,
// so the first load and subsequent reloads go through the same path).
func Load(configPath, driversDir string) (model.Config, error) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return model.Config{}, fmt.Errorf("config: read %s: %w", configPath, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var cfg model.Config
	if err := dec.Decode(&cfg); err != nil {
		return model.Config{}, fmt.Errorf("config: decode %s: %w", configPath, err)
	}

	drivers, err := loadDrivers(driversDir)
	if err != nil {
		return model.Config{}, err
	}
	if cfg.Drivers == nil {
		cfg.Drivers = drivers
	} else {
		// Inline overrides win over the registry for the same driver id.
		for id, d := range drivers {
			if _, overridden := cfg.Drivers[id]; !overridden {
				cfg.Drivers[id] = d
			}
		}
	}

	cfg.ConfigID = computeConfigID(cfg)
	return cfg, nil
}

func loadDrivers(driversDir string) (map[string]model.Driver, error) {
	out := make(map[string]model.Driver)
	if driversDir == "" {
		return out, nil
	}

	entries, err := os.ReadDir(driversDir)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("config: read drivers dir %s: %w", driversDir, err)
	}

	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		id := e.Name()[:len(e.Name())-len(".json")]
		raw, err := os.ReadFile(filepath.Join(driversDir, e.Name()))
		if err != nil {
			elog.Errorf("config: could not read driver %s: %v", e.Name(), err)
			continue
		}
		var d model.Driver
		if err := json.Unmarshal(raw, &d); err != nil {
			elog.Errorf("config: malformed driver %s: %v", e.Name(), err)
			continue
		}
		out[id] = d
	}
	return out, nil
}

// ReadingOrder returns the configured reading-ids in a stable order, for
// callers that need deterministic planner output (config ordering is not
// otherwise recoverable from a Go map).
func ReadingOrder(cfg model.Config) []string {
	ids := make([]string, 0, len(cfg.Readings))
	for id := range cfg.Readings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// computeConfigID digests the canonical JSON encoding of the devices,
// readings, and output sections, truncated to match the original's
// sha1-prefix config_id shape.
func computeConfigID(cfg model.Config) string {
	canon := struct {
		Devices  map[string]model.DeviceConfig  `json:"devices"`
		Readings map[string]model.ReadingConfig `json:"readings"`
		Output   []model.OutputConfig           `json:"output"`
	}{cfg.Devices, cfg.Readings, cfg.Output}

	b, err := json.Marshal(canon)
	if err != nil {
		return ""
	}
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])[:12]
}
