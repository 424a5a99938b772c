package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/google/uuid"

	"github.com/ammpio/ammp-edge/internal/config"
	"github.com/ammpio/ammp-edge/internal/elog"
	"github.com/ammpio/ammp-edge/internal/hostresolve"
	"github.com/ammpio/ammp-edge/internal/kvstore"
	"github.com/ammpio/ammp-edge/internal/model"
	"github.com/ammpio/ammp-edge/internal/outputexpr"
	"github.com/ammpio/ammp-edge/internal/planner"
	"github.com/ammpio/ammp-edge/internal/publisher"
	"github.com/ammpio/ammp-edge/internal/readerpool"
	"github.com/ammpio/ammp-edge/internal/scheduler"
	"github.com/ammpio/ammp-edge/internal/spillqueue"
	"github.com/ammpio/ammp-edge/internal/volatilequeue"
)

var version = "manual-build"

// snapRev is stamped into every readout's m.snap_rev per spec §6; 0 if
// SNAP_REVISION is unset or non-numeric (e.g. running outside a snap).
func snapRev() int {
	n, _ := strconv.Atoi(os.Getenv("SNAP_REVISION"))
	return n
}

func main() {
	cliInit()

	if flagVersion {
		fmt.Printf("ammp-edge %s\n", version)
		return
	}

	elog.SetLogLevel(flagLogLevel)
	elog.SetLogDateTime(flagLogDateTime)

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			elog.Errorf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := os.MkdirAll(flagVarDir, 0o755); err != nil {
		elog.Critf("could not create var dir %s: %s", flagVarDir, err.Error())
		os.Exit(1)
	}

	configFile := flagConfigFile
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if snap := os.Getenv("SNAP"); snap != "" {
			provisioned := filepath.Join(snap, "provisioning", "config.json")
			if _, perr := os.Stat(provisioned); perr == nil {
				elog.Infof("%s not found; falling back to provisioned config %s", configFile, provisioned)
				configFile = provisioned
			}
		}
	}

	cfg, err := config.Load(configFile, flagDriversDir)
	if err != nil {
		elog.Critf("could not load config: %s", err.Error())
		os.Exit(1)
	}
	config.Set(cfg)
	elog.Infof("loaded config %s (config_id=%s), %d devices, %d readings", configFile, cfg.ConfigID, len(cfg.Devices), len(cfg.Readings))

	kv, err := kvstore.Open(filepath.Join(flagVarDir, "kvstore.db"))
	if err != nil {
		elog.Critf("could not open kvstore: %s", err.Error())
		os.Exit(1)
	}
	defer kv.Close()

	nodeID, err := ensureNodeIdentity(kv)
	if err != nil {
		elog.Critf("could not establish node identity: %s", err.Error())
		os.Exit(1)
	}
	elog.Infof("node id: %s", nodeID)

	resolver := hostresolve.New(kv, nil)
	pool := readerpool.New(resolver, cfg)
	lastSuccess := readerpool.NewLastSuccess()

	compiledOutputs, err := outputexpr.Compile(cfg.Output)
	if err != nil {
		elog.Critf("could not compile output expressions: %s", err.Error())
		os.Exit(1)
	}
	knownDevices := make(map[string]bool, len(cfg.Devices))
	for id := range cfg.Devices {
		knownDevices[id] = true
	}

	volQ := volatilequeue.New()

	spillQ, err := spillqueue.Open(filepath.Join(flagVarDir, "spillqueue.db"))
	if err != nil {
		elog.Critf("could not open spill queue: %s", err.Error())
		os.Exit(1)
	}
	defer spillQ.Close()

	mqttHost := envOr("MQTT_BRIDGE_HOST", "localhost")
	mqttPort, _ := strconv.Atoi(envOr("MQTT_PORT", "1883"))
	pub, err := publisher.New(publisher.Config{
		Host:              mqttHost,
		Port:              mqttPort,
		ClientID:          nodeID,
		PushThrottleDelay: durationSeconds(cfg.PushThrottleDelay, 10*time.Second),
	}, volQ)
	if err != nil {
		elog.Critf("could not start publisher: %s", err.Error())
		os.Exit(1)
	}

	spillCtl := spillqueue.NewController(volQ, spillQ, cfg.VolatileQSize, pub.InProgress)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); pub.Run() }()
	go func() { defer wg.Done(); spillCtl.Run() }()

	cycle := func(ctx context.Context) {
		runCycle(ctx, pool, lastSuccess, compiledOutputs, knownDevices, volQ)
	}

	interval := durationSeconds(config.Current().ReadInterval, 0)
	sched, err := scheduler.New(interval, config.Current().ReadRoundtime, cycle)
	if err != nil {
		elog.Critf("could not build scheduler: %s", err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	if flagOnce {
		cycle(ctx)
	} else {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigs
			elog.Infof("signal received, shutting down")
			sched.Shutdown()
			cancel()
		}()
		sched.Run(ctx)
	}

	volQ.Shutdown()
	spillCtl.Stop()
	pub.Wait()
	pub.Close()
	wg.Wait()
}

// runCycle executes one full C4->C5->C6 pass and enqueues the resulting
// readout on the volatile queue (C8). The cycle's own deadline is bounded
// inside the reader pool; this function does not impose a further one.
func runCycle(ctx context.Context, pool *readerpool.Pool, lastSuccess *readerpool.LastSuccess, compiledOutputs []outputexpr.Compiled, knownDevices map[string]bool, volQ *volatilequeue.Queue) {
	start := time.Now()
	cfg := config.Current()

	plan := planner.Plan(cfg, config.ReadingOrder(cfg))
	devices := pool.ReadAll(ctx, cfg, plan, lastSuccess)

	if len(compiledOutputs) > 0 {
		env := outputexpr.BuildEnvironment(devices)
		calculated := outputexpr.Evaluate(compiledOutputs, env, knownDevices, "")
		devices = append(devices, calculated...)
	}

	readout := model.Readout{
		T: start.Unix(),
		R: devices,
		M: model.ReadoutMeta{
			SnapRev:         snapRev(),
			ReadingDuration: time.Since(start).Seconds(),
			ConfigID:        cfg.ConfigID,
		},
	}

	volQ.Put(readout)
	elog.Infof("cycle complete: %d devices, %.2fs", len(devices), readout.M.ReadingDuration)
}

func ensureNodeIdentity(kv *kvstore.Store) (string, error) {
	id, ok, err := kv.GetNodeIdentity()
	if err != nil {
		return "", err
	}
	if ok && id.NodeID != "" {
		return id.NodeID, nil
	}

	id = kvstore.NodeIdentity{NodeID: uuid.NewString()}
	if err := kv.SetNodeIdentity(id); err != nil {
		return "", err
	}
	return id.NodeID, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationSeconds(seconds float64, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds * float64(time.Second))
}
