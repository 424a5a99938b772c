package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammpio/ammp-edge/internal/config"
	"github.com/ammpio/ammp-edge/internal/model"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_InlineDriversOverrideRegistryByID(t *testing.T) {
	dir := t.TempDir()
	driversDir := filepath.Join(dir, "drivers")
	require.NoError(t, os.MkdirAll(driversDir, 0o755))
	writeFile(t, filepath.Join(driversDir, "meter.json"), `{"common":{},"fields":{"ac_power":{"register":1}}}`)
	writeFile(t, filepath.Join(driversDir, "genset.json"), `{"common":{},"fields":{"rpm":{"register":2}}}`)

	configPath := filepath.Join(dir, "config.json")
	writeFile(t, configPath, `{
		"devices": {"m1": {"driver": "meter", "reading_type": "modbustcp"}},
		"readings": {"r1": {"device": "m1", "var": "ac_power"}},
		"output": [],
		"drivers": {"meter": {"common": {}, "fields": {"ac_power": {"register": 999}}}}
	}`)

	cfg, err := config.Load(configPath, driversDir)
	require.NoError(t, err)

	// The inline override for "meter" wins; the registry-only "genset"
	// driver is still merged in since it was not overridden.
	assert.True(t, strings.Contains(string(cfg.Drivers["meter"].Fields["ac_power"]), "999"))
	_, ok := cfg.Drivers["genset"]
	assert.True(t, ok)
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	writeFile(t, configPath, `{"devices": {}, "readings": {}, "output": [], "not_a_real_field": true}`)

	_, err := config.Load(configPath, "")
	assert.Error(t, err)
}

func TestLoad_ConfigIDIsDeterministicForIdenticalContent(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	content := `{"devices": {"d": {"driver": "x", "reading_type": "sys"}}, "readings": {}, "output": []}`
	writeFile(t, configPath, content)

	cfg1, err := config.Load(configPath, "")
	require.NoError(t, err)
	cfg2, err := config.Load(configPath, "")
	require.NoError(t, err)

	assert.Equal(t, cfg1.ConfigID, cfg2.ConfigID)
	assert.NotEmpty(t, cfg1.ConfigID)
}

func TestReadingOrder_IsStableAndCoversAllReadings(t *testing.T) {
	cfg := model.Config{
		Readings: map[string]model.ReadingConfig{
			"zz": {}, "aa": {}, "mm": {},
		},
	}
	order := config.ReadingOrder(cfg)
	assert.Equal(t, []string{"aa", "mm", "zz"}, order)
}

func TestCurrentAndSet_AtomicReplacement(t *testing.T) {
	config.Set(model.Config{ConfigID: "v1"})
	assert.Equal(t, "v1", config.Current().ConfigID)

	config.Set(model.Config{ConfigID: "v2"})
	assert.Equal(t, "v2", config.Current().ConfigID)
}
