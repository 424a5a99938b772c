// Package volatilequeue implements the volatile queue (C8): a bounded
// LIFO of ready-to-publish readouts between the reading engine and the
// publisher. LIFO so that after a long outage the freshest readings
// drain first; older ones are expected to have spilled to the durable
// queue (C9) before that point.
package volatilequeue

import (
	"sync"

	"github.com/ammpio/ammp-edge/internal/model"
)

// MaxSize is the volatile queue's capacity.
const MaxSize = 10000

// Queue is a bounded LIFO. Put blocks above capacity (the spill queue is
// expected to absorb pressure first); Get blocks until an item or the
// shutdown sentinel is available.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    []model.Readout
	shutdown bool
}

func New() *Queue {
	q := &Queue{}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Put pushes item onto the stack, blocking while the queue is at MaxSize.
func (q *Queue) Put(item model.Readout) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) >= MaxSize {
		q.notFull.Wait()
	}
	q.items = append(q.items, item)
	q.notEmpty.Signal()
}

// Get pops the most recently pushed item (LIFO), blocking until one is
// available. The second return is false if the shutdown sentinel was
// reached instead of a real item.
func (q *Queue) Get() (model.Readout, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.shutdown {
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 && q.shutdown {
		return model.Readout{}, false
	}
	last := len(q.items) - 1
	item := q.items[last]
	q.items = q.items[:last]
	q.notFull.Signal()
	return item, true
}

// PutBack returns a failed-publish item to the head (LIFO retry order).
func (q *Queue) PutBack(item model.Readout) {
	q.Put(item)
}

// Shutdown wakes every blocked Get with the shutdown sentinel once the
// queue has drained. It does not discard items already queued.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shutdown = true
	q.notEmpty.Broadcast()
}

// Size returns the current item count.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// DrainAll removes and returns every queued item, for the spill
// controller's shutdown flush.
func (q *Queue) DrainAll() []model.Readout {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	q.notFull.Broadcast()
	return items
}

// PopOldest removes and returns the item at the tail (oldest, FIFO end),
// used by the spill controller to move the least-fresh item to durable
// storage while preserving LIFO order for the freshest.
func (q *Queue) PopOldest() (model.Readout, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return model.Readout{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	q.notFull.Signal()
	return item, true
}
