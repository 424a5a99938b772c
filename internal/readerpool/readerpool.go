// Package readerpool implements the device reader pool (C5): per cycle,
// one worker per device, serialized on shared physical resources via
// per-resource locks, collected with a bounded overall deadline.
//
// Grounded on the original's get_readings/read_device thread-per-device,
// lock-per-resource, timeout-joined-collection pattern.
package readerpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ammpio/ammp-edge/internal/codec"
	"github.com/ammpio/ammp-edge/internal/elog"
	"github.com/ammpio/ammp-edge/internal/model"
	"github.com/ammpio/ammp-edge/internal/transport"
)

// DeviceReadMaxTimeout bounds how long the pool waits for all device
// workers to finish collecting results in one cycle. Workers not done by
// the deadline are abandoned; their slot in the readout is absent. A var
// rather than a const so tests can shrink it instead of waiting 600s.
var DeviceReadMaxTimeout = 600 * time.Second

// HostResolver is the narrow C3 capability the pool depends on.
type HostResolver interface {
	ResolveFromMAC(mac string, setHost func(ip string))
	CheckHostVsMAC(mac, host string) bool
}

// LastSuccess tracks the last successful read time per device, for the
// min_read_interval filter.
type LastSuccess struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewLastSuccess() *LastSuccess {
	return &LastSuccess{seen: make(map[string]time.Time)}
}

func (l *LastSuccess) TooRecent(deviceID string, minInterval float64, now time.Time) bool {
	if minInterval <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	last, ok := l.seen[deviceID]
	return ok && now.Sub(last) < time.Duration(minInterval*float64(time.Second))
}

func (l *LastSuccess) Mark(deviceID string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[deviceID] = at
}

// Pool builds locks once from a config snapshot, then runs cycles against it.
type Pool struct {
	resolver HostResolver
	locks    map[string]*sync.Mutex
	open     transport.Opener
}

// New pre-builds one mutex per distinct physical resource key in cfg, so
// the hot path never allocates a lock mid-cycle.
func New(resolver HostResolver, cfg model.Config) *Pool {
	locks := make(map[string]*sync.Mutex)
	for _, dev := range cfg.Devices {
		key := dev.ResourceKey()
		if key == "" {
			continue
		}
		if _, ok := locks[key]; !ok {
			locks[key] = &sync.Mutex{}
		}
	}
	return &Pool{resolver: resolver, locks: locks, open: transport.Open}
}

type deviceResult struct {
	deviceID string
	vendorID string
	fields   map[string]interface{}
	ok       bool
}

// ReadAll runs one reading cycle: one worker per device in plan, collected
// into a slice of DeviceFields in arrival order, bounded by
// DeviceReadMaxTimeout.
func (p *Pool) ReadAll(ctx context.Context, cfg model.Config, plan map[string][]model.ReadingSpec, last *LastSuccess) []model.DeviceFields {
	now := time.Now()
	results := make(chan deviceResult, len(plan))
	var started int

	for deviceID, specs := range plan {
		dev, ok := cfg.Devices[deviceID]
		if !ok {
			continue
		}
		if last.TooRecent(deviceID, dev.MinReadInterval, now) {
			elog.Debugf("readerpool: %s read too recently, skipping this cycle", deviceID)
			continue
		}

		started++
		go p.readDevice(ctx, deviceID, dev, specs, results, last)
	}

	deadline := time.After(DeviceReadMaxTimeout)
	var out []model.DeviceFields
	for i := 0; i < started; i++ {
		select {
		case r := <-results:
			if r.ok {
				out = append(out, model.DeviceFields{DeviceID: r.deviceID, VendorID: r.vendorID, Fields: r.fields})
			}
		case <-deadline:
			elog.Warnf("readerpool: DEVICE_READ_MAXTIMEOUT exceeded; %d of %d devices did not return", started-i, started)
			return out
		}
	}
	return out
}

func (p *Pool) readDevice(ctx context.Context, deviceID string, dev model.DeviceConfig, specs []model.ReadingSpec, results chan<- deviceResult, last *LastSuccess) {
	if lock, ok := p.locks[dev.ResourceKey()]; ok {
		lock.Lock()
		defer lock.Unlock()
		time.Sleep(20 * time.Millisecond) // let the bus settle after acquiring it
	}

	if p.resolver != nil && dev.Address.MAC != "" {
		p.resolver.ResolveFromMAC(dev.Address.MAC, func(ip string) { dev.Address.Host = ip })
	}

	reader, err := p.open(ctx, dev)
	if err != nil {
		elog.Warnf("readerpool: %s: could not open reader: %v", deviceID, err)
		results <- deviceResult{deviceID: deviceID, ok: false}
		return
	}
	defer func() {
		if cErr := reader.Close(); cErr != nil {
			elog.Warnf("readerpool: %s: close: %v", deviceID, cErr)
		}
	}()

	fields := make(map[string]interface{})
	for _, spec := range specs {
		if spec.ReadDelay > 0 {
			time.Sleep(time.Duration(spec.ReadDelay * float64(time.Second)))
		}

		raw, err := reader.Read(ctx, spec)
		if errors.Is(err, transport.ErrDeviceAbsent) {
			elog.Notef("readerpool: DEVICE_ABSENT: %s/%s: %v", deviceID, spec.Var, err)
			continue
		}
		if err != nil {
			elog.Warnf("readerpool: %s/%s: %v", deviceID, spec.Var, err)
			continue
		}
		if raw == nil {
			elog.Debugf("readerpool: %s/%s: no value", deviceID, spec.Var)
			continue
		}

		v, err := codec.ProcessReading(raw, spec)
		if err != nil {
			elog.Debugf("readerpool: %s/%s: codec: %v", deviceID, spec.Var, err)
			continue
		}
		fields[spec.Var] = v
	}

	if p.resolver != nil && dev.Address.MAC != "" {
		if !p.resolver.CheckHostVsMAC(dev.Address.MAC, dev.Address.Host) {
			elog.Warnf("readerpool: %s: MAC/IP mismatch after read, discarding this cycle's map", deviceID)
			results <- deviceResult{deviceID: deviceID, ok: false}
			return
		}
	}

	last.Mark(deviceID, time.Now())
	results <- deviceResult{deviceID: deviceID, vendorID: dev.VendorID, fields: fields, ok: true}
}
