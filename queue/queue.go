/*
Package queue provides a bounded blocking FIFO of pipeline items.

Queue has exactly one producer and one consumer side in steady state. A
full queue blocks the producer, an empty one blocks the consumer. Close
releases both sides: producers fail, consumers drain what's left.

The end-of-stream marker is special. It's accepted at any time without
blocking, seals the queue for ordinary items and is delivered after all
buffered items, exactly once.
*/
package queue

import (
	"errors"
	"sync"

	"github.com/dudk/linepipe"
	"github.com/dudk/linepipe/internal/monitor"
)

var (
	// ErrClosed is returned by Push if queue doesn't accept items anymore
	// and by Pop if queue is drained and won't receive items anymore.
	ErrClosed = errors.New("queue is closed")
	// ErrDestroyed is returned by all operations after Destroy.
	ErrDestroyed = errors.New("queue is destroyed")
)

// Queue is a bounded ring buffer of items.
type Queue struct {
	mu        sync.Mutex
	items     []linepipe.Item
	head      int
	tail      int
	count     int
	closed    bool // no ordinary items accepted.
	sealed    bool // marker accepted.
	delivered bool // marker popped.
	destroyed bool

	notFull  *monitor.Monitor
	notEmpty *monitor.Monitor
}

// New returns an open queue with provided capacity.
func New(capacity int) (*Queue, error) {
	if capacity <= 0 {
		return nil, linepipe.ErrInvalidCapacity
	}
	return &Queue{
		items:    make([]linepipe.Item, capacity),
		notFull:  monitor.New(),
		notEmpty: monitor.New(),
	}, nil
}

// Push appends item to the tail. It blocks while queue is full and open.
// EndOfStream never blocks and is accepted even after Close.
func (q *Queue) Push(item linepipe.Item) error {
	if item.IsEnd() {
		return q.pushEnd()
	}
	for {
		q.mu.Lock()
		switch {
		case q.destroyed:
			q.mu.Unlock()
			return ErrDestroyed
		case q.closed || q.sealed:
			q.mu.Unlock()
			return ErrClosed
		case q.count < len(q.items):
			q.items[q.tail] = item
			q.tail = (q.tail + 1) % len(q.items)
			q.count++
			q.mu.Unlock()
			q.notEmpty.Signal()
			return nil
		}
		// full: only pops that happen after this point must wake us up.
		q.notFull.Reset()
		q.mu.Unlock()
		_ = q.notFull.Wait()
	}
}

func (q *Queue) pushEnd() error {
	q.mu.Lock()
	if q.destroyed {
		q.mu.Unlock()
		return ErrDestroyed
	}
	if q.sealed {
		q.mu.Unlock()
		return nil
	}
	q.sealed = true
	q.mu.Unlock()
	q.notEmpty.Signal()
	// blocked producers must observe the seal.
	q.notFull.Signal()
	return nil
}

// Pop removes and returns the head item. It blocks while queue is empty
// and open. ErrClosed is returned once queue is empty and nothing else
// will arrive.
func (q *Queue) Pop() (linepipe.Item, error) {
	for {
		q.mu.Lock()
		switch {
		case q.destroyed:
			q.mu.Unlock()
			return linepipe.Item{}, ErrDestroyed
		case q.count > 0:
			item := q.items[q.head]
			q.items[q.head] = linepipe.Item{}
			q.head = (q.head + 1) % len(q.items)
			q.count--
			q.mu.Unlock()
			q.notFull.Signal()
			return item, nil
		case q.sealed && !q.delivered:
			q.delivered = true
			q.mu.Unlock()
			return linepipe.EndOfStream, nil
		case q.closed || q.delivered:
			q.mu.Unlock()
			return linepipe.Item{}, ErrClosed
		}
		q.notEmpty.Reset()
		q.mu.Unlock()
		_ = q.notEmpty.Wait()
	}
}

// Close stops accepting ordinary items and wakes up all blocked
// producers and consumers. Buffered items are kept.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.notFull.Close()
	q.notEmpty.Close()
}

// Destroy releases queue storage. Caller must make sure nobody is
// blocked in Push or Pop.
func (q *Queue) Destroy() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return
	}
	q.destroyed = true
	q.closed = true
	q.items = nil
	q.count = 0
	q.notFull.Close()
	q.notEmpty.Close()
}

// Len returns number of buffered items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns queue capacity.
func (q *Queue) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed returns true if queue doesn't accept ordinary items.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed || q.sealed
}
