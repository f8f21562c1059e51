// Package vehicle connects to a vehicle over a bridge link, routes decoded
// notifications to listeners and sends paced commands.
package vehicle

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/kwv/trackmesh/protocol"
)

var (
	// ErrNoCapability is returned by Add for a value that implements none of
	// the listener interfaces.
	ErrNoCapability = errors.New("vehicle: listener implements no capability")
	// ErrNotComparable is returned by Add for a listener that cannot be
	// matched by Remove.
	ErrNotComparable = errors.New("vehicle: listener is not comparable")
)

// DispatchError reports a listener that failed or panicked while handling a
// notification. Delivery to the remaining listeners is not affected.
type DispatchError struct {
	Kind     protocol.Kind
	Listener any
	Err      error
	Panicked bool
}

func (e *DispatchError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("dispatching %s to %T: panic: %v", e.Kind, e.Listener, e.Err)
	}
	return fmt.Sprintf("dispatching %s to %T: %v", e.Kind, e.Listener, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

type entry struct {
	listener any
	handle   handler
}

// Router fans notifications out to the listeners registered for their kind.
//
// Each kind has its own slot. Slots are replaced, never mutated, so Dispatch
// iterates a snapshot and listeners may Add or Remove from inside a callback.
// A listener added during a dispatch does not see the event in flight; one
// removed during a dispatch may still see it.
type Router struct {
	mu      sync.Mutex
	slots   [protocol.NumKinds][]entry
	onError func(*DispatchError)

	connected atomic.Bool
	onCharger atomic.Bool
}

// connectionState and chargerState are the built-in listeners behind
// Connected and OnCharger.
type connectionState struct{ r *Router }

func (c *connectionState) OnConnectionChange(connected bool) error {
	c.r.connected.Store(connected)
	return nil
}

type chargerState struct{ r *Router }

func (c *chargerState) OnChargerInfo(info protocol.ChargerInfo) error {
	c.r.onCharger.Store(info.OnCharger)
	return nil
}

// NewRouter creates a router with the built-in state listeners registered.
func NewRouter() *Router {
	r := &Router{}
	r.onError = r.logError
	// Both built-ins are pointers with a capability, so Add cannot fail.
	_ = r.Add(&connectionState{r: r})
	_ = r.Add(&chargerState{r: r})
	return r
}

func (r *Router) logError(err *DispatchError) {
	Logf("[ROUTER] %v", err)
}

// SetErrorHandler replaces the handler that receives listener failures.
// Passing nil restores the default, which logs through Logf.
func (r *Router) SetErrorHandler(fn func(*DispatchError)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn == nil {
		fn = r.logError
	}
	r.onError = fn
}

// Add registers l in the slot of every kind whose capability it implements.
// Capabilities are resolved here once.
func (r *Router) Add(l any) error {
	if l == nil {
		return ErrNoCapability
	}
	if !reflect.TypeOf(l).Comparable() {
		return fmt.Errorf("%w: %T", ErrNotComparable, l)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	added := false
	for kind, bind := range binders {
		if bind == nil {
			continue
		}
		h, ok := bind(l)
		if !ok {
			continue
		}
		old := r.slots[kind]
		next := make([]entry, len(old), len(old)+1)
		copy(next, old)
		r.slots[kind] = append(next, entry{listener: l, handle: h})
		added = true
	}
	if !added {
		return fmt.Errorf("%w: %T", ErrNoCapability, l)
	}
	return nil
}

// Remove unregisters every registration of l. Unknown listeners are ignored.
func (r *Router) Remove(l any) {
	if l == nil || !reflect.TypeOf(l).Comparable() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for kind, old := range r.slots {
		if len(old) == 0 {
			continue
		}
		next := make([]entry, 0, len(old))
		for _, e := range old {
			if e.listener != l {
				next = append(next, e)
			}
		}
		if len(next) != len(old) {
			r.slots[kind] = next
		}
	}
}

// Listeners returns the number of listeners registered for kind, built-ins
// included.
func (r *Router) Listeners(kind protocol.Kind) int {
	if int(kind) >= protocol.NumKinds {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots[kind])
}

// Dispatch delivers n to the listeners of its kind in registration order.
// Listener failures are reported to the error handler and returned joined;
// they never stop delivery to the other listeners. A kind with no listeners is
// a no-op.
func (r *Router) Dispatch(n protocol.Notification) error {
	if int(n.Kind) >= protocol.NumKinds {
		return nil
	}

	r.mu.Lock()
	snapshot := r.slots[n.Kind]
	report := r.onError
	r.mu.Unlock()

	var errs []error
	for _, e := range snapshot {
		panicked, err := invoke(e.handle, n)
		if err == nil {
			continue
		}
		de := &DispatchError{Kind: n.Kind, Listener: e.listener, Err: err, Panicked: panicked}
		report(de)
		errs = append(errs, de)
	}
	return errors.Join(errs...)
}

func invoke(h handler, n protocol.Notification) (panicked bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			panicked = true
			err = fmt.Errorf("%v", p)
		}
	}()
	return false, h(n)
}

// Connected reports the last connection state dispatched through the router.
func (r *Router) Connected() bool {
	return r.connected.Load()
}

// OnCharger reports the OnCharger flag of the last ChargerInfo dispatched.
func (r *Router) OnCharger() bool {
	return r.onCharger.Load()
}
