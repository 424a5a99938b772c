package config

import (
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ammpio/ammp-edge/internal/elog"
)

// RemoteInfo is what the (external, out-of-core) cloud activation client
// reports back about the node's config state.
type RemoteInfo struct {
	CandidateConfigID string
	ActiveConfigID    string
}

// RemoteFetcher is the narrow collaborator interface for the cloud
// config-fetch HTTPS client; implemented outside this package.
type RemoteFetcher interface {
	FetchNodeInfo() (RemoteInfo, error)
	FetchConfig() (configPath string, err error)
}

// Watcher periodically compares a digest of the local config against a
// polled remote config_id; a mismatch signals NewConfigAvailable. The
// watcher does not call FetchConfig and does not replace Current()
// itself, so a config change is only ever applied between cycles, never
// mid-cycle.
type Watcher struct {
	fetcher      RemoteFetcher
	driversDir   string
	pollInterval time.Duration

	NewConfigAvailable chan struct{}
	stop               chan struct{}
}

func NewWatcher(fetcher RemoteFetcher, driversDir string, pollInterval time.Duration) *Watcher {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Minute
	}
	return &Watcher{
		fetcher:            fetcher,
		driversDir:         driversDir,
		pollInterval:       pollInterval,
		NewConfigAvailable: make(chan struct{}, 1),
		stop:               make(chan struct{}),
	}
}

// Run polls the remote config_id on pollInterval and watches the driver
// registry directory for external rewrites, signaling
// NewConfigAvailable on either.
func (w *Watcher) Run() {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		elog.Warnf("config: watcher: could not create fsnotify watcher: %v", err)
	} else {
		defer fsw.Close()
		if w.driversDir != "" {
			if err := fsw.Add(w.driversDir); err != nil {
				elog.Warnf("config: watcher: could not watch %s: %v", w.driversDir, err)
			}
		}
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		var fsEvents <-chan fsnotify.Event
		if fsw != nil {
			fsEvents = fsw.Events
		}

		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.checkRemote()
		case ev, ok := <-fsEvents:
			if !ok {
				continue
			}
			elog.Infof("config: watcher: driver registry changed (%s), signaling reload", ev.Name)
			w.signal()
		}
	}
}

func (w *Watcher) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
}

func (w *Watcher) checkRemote() {
	info, err := w.fetcher.FetchNodeInfo()
	if err != nil {
		elog.Warnf("config: watcher: could not fetch node info: %v", err)
		return
	}

	localID := Current().ConfigID
	if newConfigAvailable(localID, info) {
		elog.Infof("config: watcher: new config available (local=%s, candidate=%s, active=%s)", localID, info.CandidateConfigID, info.ActiveConfigID)
		w.signal()
	}
}

func (w *Watcher) signal() {
	select {
	case w.NewConfigAvailable <- struct{}{}:
	default:
	}
}

// newConfigAvailable mirrors __new_config_available: when the remote
// reports a candidate id, the local config is stale if it differs from
// that candidate (a match with the active id does not count); with no
// candidate, it is stale if it differs from the active id.
func newConfigAvailable(localID string, info RemoteInfo) bool {
	if info.CandidateConfigID != "" {
		return localID != info.CandidateConfigID
	}
	if info.ActiveConfigID != "" {
		return localID != info.ActiveConfigID
	}
	return false
}
