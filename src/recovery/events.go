package recovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/orchestra-mcp/liveconn/src/types"
)

// Listener receives controller events. An error returned from a listener of
// a restoration event aborts the reconnection sequence in progress.
type Listener func(ctx context.Context, ev types.Event) error

type listenerEntry struct {
	id uint64
	fn Listener
}

// registry maps event names to their ordered listeners.
type registry struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[types.EventName][]listenerEntry
}

func newRegistry() *registry {
	return &registry{listeners: make(map[types.EventName][]listenerEntry)}
}

func (r *registry) on(name types.EventName, fn Listener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.listeners[name] = append(r.listeners[name], listenerEntry{id: id, fn: fn})

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		entries := r.listeners[name]
		for i, e := range entries {
			if e.id == id {
				r.listeners[name] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

// snapshot copies the listener list so callbacks run without the lock held.
func (r *registry) snapshot(name types.EventName) []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.listeners[name]
	out := make([]Listener, len(entries))
	for i, e := range entries {
		out[i] = e.fn
	}
	return out
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, entries := range r.listeners {
		n += len(entries)
	}
	return n
}

func (r *registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = make(map[types.EventName][]listenerEntry)
}

// dispatch calls listeners in registration order. When stopOnErr is set the
// first error ends delivery and is returned; otherwise every listener runs and
// all errors are handed to onErr.
func (r *registry) dispatch(ctx context.Context, ev types.Event, stopOnErr bool, onErr func(error)) error {
	for _, fn := range r.snapshot(ev.Name) {
		err := call(ctx, fn, ev)
		if err == nil {
			continue
		}
		if stopOnErr {
			return err
		}
		if onErr != nil {
			onErr(err)
		}
	}
	return nil
}

func call(ctx context.Context, fn Listener, ev types.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener for %s panicked: %v", ev.Name, r)
		}
	}()
	return fn(ctx, ev)
}
