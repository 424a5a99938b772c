package spillqueue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammpio/ammp-edge/internal/model"
	"github.com/ammpio/ammp-edge/internal/spillqueue"
	"github.com/ammpio/ammp-edge/internal/volatilequeue"
)

func openTestQueue(t *testing.T) *spillqueue.Queue {
	t.Helper()
	q, err := spillqueue.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestQueue_PutGetRoundTrip(t *testing.T) {
	q := openTestQueue(t)

	require.NoError(t, q.Put(model.Readout{T: 42}))
	n, err := q.Size()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	item, ok, err := q.Get()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(42), item.T)

	n, err = q.Size()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestQueue_GetOnEmptyReturnsFalse(t *testing.T) {
	q := openTestQueue(t)
	_, ok, err := q.Get()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueue_GetIsLIFO(t *testing.T) {
	q := openTestQueue(t)
	require.NoError(t, q.Put(model.Readout{T: 1}))
	require.NoError(t, q.Put(model.Readout{T: 2}))

	item, _, err := q.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(2), item.T)
}

func TestController_MovesFromDurableToVolatileWhenVolatileIsShallow(t *testing.T) {
	vol := volatilequeue.New()
	durable := openTestQueue(t)
	require.NoError(t, durable.Put(model.Readout{T: 99}))

	ctl := spillqueue.NewController(vol, durable, 5, func() bool { return false })
	go ctl.Run()
	defer ctl.Stop()

	got := make(chan model.Readout, 1)
	go func() {
		item, ok := vol.Get()
		if ok {
			got <- item
		}
	}()

	select {
	case item := <-got:
		assert.Equal(t, int64(99), item.T)
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not move the durable item to the volatile queue in time")
	}
}
