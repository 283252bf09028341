package notify

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Event is a lightweight broadcast emitted after state changes such as a new
// announcement or an order becoming ready.
type Event struct {
	Kind    string
	Subject string
	Body    string
}

// Dispatcher holds at most one active subscriber. Registering a new handler
// replaces the previous one, which keeps delivery semantics unambiguous when
// a consumer reconnects.
type Dispatcher struct {
	mu      sync.Mutex
	handler func(Event)
	gen     uint64
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register installs the handler and returns a func that removes it. The
// returned func is a no-op if another handler replaced this one in the
// meantime.
func (d *Dispatcher) Register(handler func(Event)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	d.handler = handler
	gen := d.gen

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.gen == gen {
			d.handler = nil
		}
	}
}

// Publish delivers the event to the current subscriber, if any. Delivery is
// best-effort; a panicking handler is logged and removed.
func (d *Dispatcher) Publish(event Event) {
	d.mu.Lock()
	handler := d.handler
	gen := d.gen
	d.mu.Unlock()

	if handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("kind", event.Kind).Msg("event handler panicked")
			d.mu.Lock()
			if d.gen == gen {
				d.handler = nil
			}
			d.mu.Unlock()
		}
	}()
	handler(event)
}
