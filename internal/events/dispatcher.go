package events

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dispatcher delivers events to observers on a single goroutine, in the
// order they were pushed. The queue is unbounded so Push never blocks the
// protocol goroutine.
type Dispatcher struct {
	logger *zap.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []Event
	observers []Observer
	closed    bool
	done      chan struct{}

	onError func(kind string)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// OnError registers a callback invoked for each handler failure.
func OnError(fn func(kind string)) DispatcherOption {
	return func(d *Dispatcher) { d.onError = fn }
}

// NewDispatcher creates a dispatcher and starts its worker.
func NewDispatcher(logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		logger: logger,
		done:   make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	for _, o := range opts {
		o(d)
	}
	go d.run()
	return d
}

// Subscribe adds an observer. Observers see events in subscription order.
func (d *Dispatcher) Subscribe(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

// Push enqueues an event. It returns false once the dispatcher is closed.
func (d *Dispatcher) Push(e Event) bool {
	m := e.meta()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = time.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.queue = append(d.queue, e)
	d.cond.Signal()
	return true
}

// Len returns the number of queued, undelivered events.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Close stops accepting events, delivers what is queued and waits for the
// worker to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		d.cond.Broadcast()
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		e := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		observers := slices.Clone(d.observers)
		d.mu.Unlock()

		for _, o := range observers {
			if err := d.deliver(o, e); err != nil {
				d.logger.Warn("event dropped",
					zap.String("kind", e.Kind()),
					zap.String("event_id", e.meta().ID),
					zap.Error(err),
				)
				if d.onError != nil {
					d.onError(e.Kind())
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(o Observer, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return e.deliver(o)
}
