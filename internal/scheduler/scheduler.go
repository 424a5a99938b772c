// Package scheduler implements the reading-cycle scheduler (C7): a free
// interval mode (next fire = now + read_interval) and a round-time mode
// (next fire = ceil(now/interval) * interval, skipped boundaries skipped
// rather than queued), both driven by gocron the way the teacher's
// taskmanager drives its background jobs. Cycles never overlap.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/ammpio/ammp-edge/internal/elog"
)

// Scheduler runs a cycle function on a fixed cadence, free or round-time
// aligned, guaranteeing no overlap and a clean one-shot mode.
type Scheduler struct {
	interval  time.Duration
	roundtime bool
	cycle     func(ctx context.Context)

	sched gocron.Scheduler

	mu      sync.Mutex
	running bool

	shutdownCh chan struct{}
	doneCh     chan struct{}
}

// New builds a scheduler. If interval is zero, Run performs exactly one
// cycle and returns (the spec's "no read_interval" one-shot mode).
func New(interval time.Duration, roundtime bool, cycle func(ctx context.Context)) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		interval:   interval,
		roundtime:  roundtime,
		cycle:      cycle,
		sched:      s,
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Run blocks until ctx is cancelled or Shutdown is called. In one-shot
// mode (interval == 0) it runs a single cycle and returns immediately.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.runCycleOnce(ctx)
		return
	}

	s.sched.Start()
	s.scheduleNext(ctx)

	select {
	case <-ctx.Done():
	case <-s.shutdownCh:
	}
	_ = s.sched.Shutdown()
	close(s.doneCh)
}

// Shutdown sets the shutdown flag; the current cycle completes
// best-effort and no new cycle is started.
func (s *Scheduler) Shutdown() {
	select {
	case <-s.shutdownCh:
	default:
		close(s.shutdownCh)
	}
	<-s.doneCh
}

func (s *Scheduler) runCycleOnce(ctx context.Context) {
	s.runGuarded(ctx)
}

// scheduleNext arms a single one-time job for the next fire time, and
// re-arms itself after the cycle completes. This keeps cycles from
// overlapping (gocron's DurationJob alone would fire on a fixed cadence
// regardless of how long the previous cycle took) and gives round-time
// mode a boundary to aim for.
func (s *Scheduler) scheduleNext(ctx context.Context) {
	next := s.nextFireTime(time.Now())
	delay := time.Until(next)
	if delay < 0 {
		delay = 0
	}

	_, err := s.sched.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(time.Now().Add(delay))),
		gocron.NewTask(func() {
			select {
			case <-s.shutdownCh:
				return
			default:
			}
			s.runGuarded(ctx)
			select {
			case <-s.shutdownCh:
			default:
				s.scheduleNext(ctx)
			}
		}),
	)
	if err != nil {
		elog.Errorf("scheduler: could not schedule next cycle: %v", err)
	}
}

func (s *Scheduler) runGuarded(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.cycle(ctx)
}

// nextFireTime implements the two modes. Round-time aligns to the next
// multiple of the interval; if that boundary has already passed (cycle
// overran), it skips to the *next* boundary rather than firing
// immediately, per spec: a skipped boundary is skipped, not queued.
func (s *Scheduler) nextFireTime(now time.Time) time.Time {
	if !s.roundtime {
		return now.Add(s.interval)
	}

	sec := s.interval.Seconds()
	nowSec := float64(now.UnixNano()) / float64(time.Second)
	boundary := ceilDiv(nowSec, sec) * sec
	return time.Unix(int64(boundary), 0)
}

func ceilDiv(a, b float64) float64 {
	q := a / b
	if q == float64(int64(q)) {
		return q
	}
	if q > 0 {
		return float64(int64(q) + 1)
	}
	return float64(int64(q))
}
