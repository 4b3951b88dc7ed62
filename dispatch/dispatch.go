// Package dispatch routes decoded notifications to the synchronous call
// waiting for them.
//
// Each in-flight synchronous call owns one Waiter, keyed by its nonce. The
// receive loop hands every notification to Deliver, which looks the nonce up
// and fulfils the waiter at most once:
//
//	caller-1 ──Register(n1)──┐
//	caller-2 ──Register(n2)──┼──→ waiters{n1, n2, n3}
//	caller-3 ──Register(n3)──┘
//
//	recv loop: ←── reply(n2) → Deliver → waiters[n2] removed + signalled → caller-2 wakes up
//
// A waiter leaves the table the instant it is fulfilled, cancelled, or the
// dispatcher is closed, so a late reply can never reach an abandoned call.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"presence-rpc/logging"
	"presence-rpc/message"
	"presence-rpc/nonce"
)

var (
	// ErrDuplicateNonce means a nonce was registered twice; nonces are unique
	// per connection, so this is a programming error.
	ErrDuplicateNonce = errors.New("dispatch: nonce already registered")
	ErrClosed         = errors.New("dispatch: closed")
)

// Result is what a waiter receives: a notification, or the error that
// tore the dispatcher down.
type Result struct {
	Notification message.Notification
	Err          error
}

// Waiter is the one-shot slot of a single synchronous call.
type Waiter struct {
	nonce string
	ch    chan Result // capacity 1, written at most once
}

func (w *Waiter) Nonce() string { return w.nonce }

// Done yields exactly one Result once the waiter is fulfilled or the
// dispatcher is closed. It never yields after a successful Cancel.
func (w *Waiter) Done() <-chan Result { return w.ch }

// Disposition reports what Deliver did with a notification.
type Disposition int

const (
	Delivered Disposition = iota // handed to its waiter
	Event                        // no waiter; passed to the event handler
	Stale                        // reply to a call that is no longer waiting; dropped
)

func (d Disposition) String() string {
	switch d {
	case Delivered:
		return "delivered"
	case Event:
		return "event"
	case Stale:
		return "stale"
	}
	return fmt.Sprintf("disposition(%d)", int(d))
}

// EventHandler receives notifications that no waiter claimed: events and
// replies to asynchronous commands. It runs on the receive goroutine.
type EventHandler func(message.Notification)

// Dispatcher is the per-connection nonce → waiter table.
type Dispatcher struct {
	mu      sync.Mutex
	waiters map[string]*Waiter
	closed  error

	onEvent EventHandler
	logger  *slog.Logger
}

// New creates an empty dispatcher. onEvent and logger may be nil.
func New(onEvent EventHandler, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{
		waiters: make(map[string]*Waiter),
		onEvent: onEvent,
		logger:  logger,
	}
}

// Register inserts a waiter for n. It must be called before the request is
// sent, otherwise the reply could arrive with nobody registered for it.
func (d *Dispatcher) Register(n string) (*Waiter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed != nil {
		return nil, d.closed
	}
	if _, ok := d.waiters[n]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNonce, n)
	}
	w := &Waiter{nonce: n, ch: make(chan Result, 1)}
	d.waiters[n] = w
	return w, nil
}

// Deliver routes one notification. The waiter is removed and signalled under
// the lock, so two deliveries for one nonce can never both succeed.
func (d *Dispatcher) Deliver(n message.Notification) Disposition {
	if n.Nonce != "" {
		d.mu.Lock()
		w, ok := d.waiters[n.Nonce]
		if ok {
			delete(d.waiters, n.Nonce)
			w.ch <- Result{Notification: n} // never blocks: capacity 1, single writer
		}
		d.mu.Unlock()
		if ok {
			return Delivered
		}
		if !nonce.IsAsync(n.Nonce) {
			d.logger.Debug("dropping stale reply",
				slog.String(logging.FieldNonce, n.Nonce),
				slog.String(logging.FieldCommand, string(n.Cmd)))
			return Stale
		}
	}

	if d.onEvent != nil {
		d.onEvent(n)
	}
	return Event
}

// Fail fulfils the waiter for n with err instead of a notification. It is
// used for replies whose nonce is readable but whose body is not.
func (d *Dispatcher) Fail(n string, err error) Disposition {
	d.mu.Lock()
	w, ok := d.waiters[n]
	if ok {
		delete(d.waiters, n)
		w.ch <- Result{Err: err}
	}
	d.mu.Unlock()
	if ok {
		return Delivered
	}
	return Stale
}

// Cancel removes the waiter for n without fulfilling it. It reports whether
// the waiter was still pending; false means it was already fulfilled (its
// Result is waiting on Done) or never registered.
func (d *Dispatcher) Cancel(n string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.waiters[n]; !ok {
		return false
	}
	delete(d.waiters, n)
	return true
}

// Close fails every pending waiter with err and rejects later registrations.
// Only the first call has an effect.
func (d *Dispatcher) Close(err error) {
	if err == nil {
		err = ErrClosed
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed != nil {
		return
	}
	d.closed = err
	for n, w := range d.waiters {
		w.ch <- Result{Err: err}
		delete(d.waiters, n)
	}
}

// Pending returns the number of registered waiters.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.waiters)
}
