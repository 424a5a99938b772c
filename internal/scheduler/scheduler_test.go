package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextFireTime_FreeInterval(t *testing.T) {
	s := &Scheduler{interval: 10 * time.Second, roundtime: false}
	now := time.Unix(1000, 0)
	assert.Equal(t, time.Unix(1010, 0), s.nextFireTime(now))
}

func TestNextFireTime_RoundTimeAlignsToBoundary(t *testing.T) {
	s := &Scheduler{interval: 10 * time.Second, roundtime: true}
	now := time.Unix(1003, 0)
	assert.Equal(t, time.Unix(1010, 0), s.nextFireTime(now))
}

func TestNextFireTime_RoundTimeExactlyOnBoundaryStaysPut(t *testing.T) {
	s := &Scheduler{interval: 10 * time.Second, roundtime: true}
	now := time.Unix(1010, 0)
	assert.Equal(t, time.Unix(1010, 0), s.nextFireTime(now))
}

func TestRun_OneShotModeRunsExactlyOnce(t *testing.T) {
	var calls int32
	s, err := New(0, false, func(ctx context.Context) {
		atomic.AddInt32(&calls, 1)
	})
	require.NoError(t, err)

	s.Run(context.Background())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRunGuarded_DoesNotOverlap(t *testing.T) {
	var running int32
	var maxObserved int32
	s, err := New(0, false, func(ctx context.Context) {
		n := atomic.AddInt32(&running, 1)
		if n > atomic.LoadInt32(&maxObserved) {
			atomic.StoreInt32(&maxObserved, n)
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() { s.runGuarded(context.Background()); close(done) }()
	s.runGuarded(context.Background()) // concurrent call should be a no-op while the first runs
	<-done

	assert.LessOrEqual(t, atomic.LoadInt32(&maxObserved), int32(1))
}
