// Package notify delivers status-changed and task-executed events to
// observers without letting them slow down the engine.
package notify

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/loykin/taskvisor/internal/metrics"
	"github.com/loykin/taskvisor/internal/model"
)

// Observer receives lifecycle events. Implementations must be safe for use
// from the dispatcher goroutine; they may block, but only the queue waits.
type Observer interface {
	OnApplicationStatusChanged(app model.ManagedApplication)
	OnTaskExecuted(rule model.ScheduleRule)
}

// Funcs adapts plain functions to Observer. Nil fields are skipped.
type Funcs struct {
	Status func(model.ManagedApplication)
	Task   func(model.ScheduleRule)
}

func (f Funcs) OnApplicationStatusChanged(app model.ManagedApplication) {
	if f.Status != nil {
		f.Status(app)
	}
}

func (f Funcs) OnTaskExecuted(rule model.ScheduleRule) {
	if f.Task != nil {
		f.Task(rule)
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) OnApplicationStatusChanged(model.ManagedApplication) {}
func (Nop) OnTaskExecuted(model.ScheduleRule)                   {}

const DefaultQueueSize = 256

type event struct {
	app  *model.ManagedApplication
	rule *model.ScheduleRule
}

// Dispatcher is itself an Observer: calls copy the payload and enqueue it.
// A single goroutine fans each event out to the registered observers in
// registration order. When the queue is full the event is dropped and counted.
type Dispatcher struct {
	mu        sync.RWMutex
	observers []Observer
	closed    bool

	queue   chan event
	done    chan struct{}
	dropped atomic.Uint64
}

func NewDispatcher(size int) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	d := &Dispatcher{queue: make(chan event, size), done: make(chan struct{})}
	go d.run()
	return d
}

// Register adds an observer. Safe to call while events flow.
func (d *Dispatcher) Register(o Observer) {
	if o == nil {
		return
	}
	d.mu.Lock()
	d.observers = append(append([]Observer(nil), d.observers...), o)
	d.mu.Unlock()
}

func (d *Dispatcher) OnApplicationStatusChanged(app model.ManagedApplication) {
	c := app.Clone()
	d.enqueue(event{app: &c})
}

func (d *Dispatcher) OnTaskExecuted(rule model.ScheduleRule) {
	c := rule.Clone()
	d.enqueue(event{rule: &c})
}

func (d *Dispatcher) enqueue(ev event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
		metrics.IncNotificationDropped()
		slog.Warn("notification queue full, dropping event")
	}
}

// Dropped reports how many events were discarded.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Close stops accepting events and waits until queued ones are delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		d.mu.RLock()
		obs := d.observers
		d.mu.RUnlock()
		for _, o := range obs {
			deliver(o, ev)
		}
	}
}

func deliver(o Observer, ev event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("observer panicked", "panic", r)
		}
	}()
	switch {
	case ev.app != nil:
		o.OnApplicationStatusChanged(*ev.app)
	case ev.rule != nil:
		o.OnTaskExecuted(*ev.rule)
	}
}
