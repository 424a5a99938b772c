package main

import (
	"flag"
	"os"
	"path/filepath"
)

var (
	flagVersion, flagLogDateTime, flagOnce, flagGops bool
	flagConfigFile, flagDriversDir, flagVarDir, flagLogLevel string
)

// defaultVarDir, defaultDriversDir and defaultConfigFile follow the
// snap-style SNAP_COMMON (writable state) / SNAP (read-only resources)
// layout from spec §6, falling back to repo-relative paths for local
// development when those env vars are unset.
func defaultVarDir() string {
	if d := os.Getenv("SNAP_COMMON"); d != "" {
		return d
	}
	return "./var"
}

func defaultDriversDir() string {
	if d := os.Getenv("SNAP"); d != "" {
		return filepath.Join(d, "drivers")
	}
	return "./drivers"
}

func defaultConfigFile() string {
	if d := os.Getenv("SNAP_COMMON"); d != "" {
		return filepath.Join(d, "config.json")
	}
	return "./config.json"
}

// defaultLogLevel honors LOG_LEVEL, then the legacy LOGGING_LEVEL name,
// before falling back to "info".
func defaultLogLevel() string {
	if l := os.Getenv("LOG_LEVEL"); l != "" {
		return l
	}
	if l := os.Getenv("LOGGING_LEVEL"); l != "" {
		return l
	}
	return "info"
}

func cliInit() {
	flag.BoolVar(&flagVersion, "version", false, "Show version information and exit")
	flag.BoolVar(&flagLogDateTime, "logdate", false, "Set this flag to add date and time to log messages")
	flag.BoolVar(&flagOnce, "once", false, "Run a single reading cycle and exit, ignoring read_interval")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.StringVar(&flagConfigFile, "config", defaultConfigFile(), "Specify alternative path to `config.json`")
	flag.StringVar(&flagDriversDir, "drivers", defaultDriversDir(), "Directory of driver `registry` JSON files")
	flag.StringVar(&flagVarDir, "var-dir", defaultVarDir(), "Directory for sqlite state (kvstore.db, spillqueue.db)")
	flag.StringVar(&flagLogLevel, "loglevel", defaultLogLevel(), "Sets the logging level: `[debug, info, notice, warn, err, crit]`")
	flag.Parse()
}
