// Package mock provides test doubles for pipeline stages.
package mock

import (
	"sync"
	"time"

	"github.com/dudk/linepipe"
)

// Enqueuer records every item it receives. It's used as the next stage
// in stage tests.
type Enqueuer struct {
	// Delay is applied before each item is accepted. Used to emulate slow
	// downstream.
	Delay time.Duration
	// ErrorOnEnqueue is returned for every data item. Marker is always
	// accepted.
	ErrorOnEnqueue error

	mu        sync.Mutex
	items     []linepipe.Item
	once      sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// Enqueue implements linepipe.Enqueuer.
func (e *Enqueuer) Enqueue(item linepipe.Item) error {
	if e.Delay > 0 {
		time.Sleep(e.Delay)
	}
	if !item.IsEnd() && e.ErrorOnEnqueue != nil {
		return e.ErrorOnEnqueue
	}
	e.mu.Lock()
	e.items = append(e.items, item)
	e.mu.Unlock()
	if item.IsEnd() {
		e.closeOnce.Do(func() {
			close(e.doneChan())
		})
	}
	return nil
}

// Done is closed when the first marker is received.
func (e *Enqueuer) Done() <-chan struct{} {
	return e.doneChan()
}

func (e *Enqueuer) doneChan() chan struct{} {
	e.once.Do(func() {
		e.done = make(chan struct{})
	})
	return e.done
}

// Items returns a copy of received items.
func (e *Enqueuer) Items() []linepipe.Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]linepipe.Item(nil), e.items...)
}

// Lines returns received data lines without markers.
func (e *Enqueuer) Lines() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	lines := make([]string, 0, len(e.items))
	for _, item := range e.items {
		if !item.IsEnd() {
			lines = append(lines, item.String())
		}
	}
	return lines
}

// Markers returns number of received markers.
func (e *Enqueuer) Markers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	var n int
	for _, item := range e.items {
		if item.IsEnd() {
			n++
		}
	}
	return n
}

// Plugin is a synchronous pass-through plugin with scripted failures.
type Plugin struct {
	PluginName     string
	ErrorOnInit    error
	ErrorOnJoin    error
	ErrorOnEnqueue error

	mu        sync.Mutex
	next      linepipe.Enqueuer
	capacity  int
	received  []linepipe.Item
	shutdowns int
	joins     int
}

// Name implements linepipe.Plugin.
func (p *Plugin) Name() string {
	return p.PluginName
}

// Init records capacity.
func (p *Plugin) Init(capacity int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ErrorOnInit != nil {
		return p.ErrorOnInit
	}
	p.capacity = capacity
	return nil
}

// Attach records next stage.
func (p *Plugin) Attach(next linepipe.Enqueuer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next = next
}

// Enqueue records item and forwards it to next stage.
func (p *Plugin) Enqueue(item linepipe.Item) error {
	p.mu.Lock()
	if p.ErrorOnEnqueue != nil && !item.IsEnd() {
		p.mu.Unlock()
		return p.ErrorOnEnqueue
	}
	p.received = append(p.received, item)
	next := p.next
	p.mu.Unlock()
	if next != nil {
		return next.Enqueue(item)
	}
	return nil
}

// Shutdown counts calls.
func (p *Plugin) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdowns++
	return nil
}

// Join counts calls.
func (p *Plugin) Join() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.joins++
	return p.ErrorOnJoin
}

// Calls returns number of Shutdown and Join calls.
func (p *Plugin) Calls() (shutdowns, joins int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdowns, p.joins
}

// Capacity returns capacity passed to Init.
func (p *Plugin) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity
}

// Items returns a copy of received items.
func (p *Plugin) Items() []linepipe.Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]linepipe.Item(nil), p.received...)
}
