// Package dispatch fans a death event out to independently registered
// handlers, in registration order, isolating their failures from each other.
package dispatch

import (
	"log"
	"runtime/debug"

	"github.com/mcwarden/warden/internal/domain"
)

// Handler reacts to one death event. Handlers run sequentially inside
// Dispatch on the loop goroutine; a handler that needs concurrency spawns
// its own goroutine.
type Handler func(domain.DeathEvent)

type entry struct {
	name string
	fn   Handler
}

// Dispatcher keeps an ordered registry of named handlers. It is confined to
// the loop goroutine and needs no locking of its own.
type Dispatcher struct {
	handlers []entry
}

// New creates an empty dispatcher.
func New() *Dispatcher {
	return &Dispatcher{}
}

// Register appends a handler. Registering a name twice warns and no-ops.
func (d *Dispatcher) Register(name string, fn Handler) {
	for _, e := range d.handlers {
		if e.name == name {
			log.Printf("[dispatch] handler already registered: %s", name)
			return
		}
	}
	d.handlers = append(d.handlers, entry{name: name, fn: fn})
	log.Printf("[dispatch] handler registered: %s", name)
}

// Unregister removes a handler by name. Unknown names warn and no-op.
func (d *Dispatcher) Unregister(name string) {
	for i, e := range d.handlers {
		if e.name == name {
			d.handlers = append(d.handlers[:i], d.handlers[i+1:]...)
			log.Printf("[dispatch] handler unregistered: %s", name)
			return
		}
	}
	log.Printf("[dispatch] attempted to unregister unknown handler: %s", name)
}

// Dispatch invokes every handler in registration order. A panicking handler
// is logged and the remaining handlers still run.
func (d *Dispatcher) Dispatch(ev domain.DeathEvent) {
	log.Printf("[dispatch] dispatching death of %s to %d handlers", ev.Player, len(d.handlers))
	for _, e := range d.handlers {
		d.invoke(e, ev)
	}
}

func (d *Dispatcher) invoke(e entry, ev domain.DeathEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[dispatch] handler %s failed: %v\n%s", e.name, r, debug.Stack())
		}
	}()
	e.fn(ev)
}
