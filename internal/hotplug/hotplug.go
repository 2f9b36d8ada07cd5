// Package hotplug delivers CPU online/offline notifications to
// registered subsystem callbacks.
package hotplug

import (
	"fmt"
	"sync"
)

// Callback is invoked with the CPU id that changed state.
type Callback func(cpu int) error

// ID identifies a registration for later removal.
type ID int

type entry struct {
	id      ID
	name    string
	onStart Callback
	onStop  Callback
}

// Notifier tracks online CPUs and fans state changes out to callbacks.
type Notifier struct {
	mu      sync.Mutex
	nextID  ID
	entries []entry
	online  map[int]bool
}

// NewNotifier returns a notifier with no CPUs online.
func NewNotifier() *Notifier {
	return &Notifier{nextID: 1, online: make(map[int]bool)}
}

// Register adds start/stop callbacks. The start callback is replayed
// immediately for every CPU already online, matching dynamic-state
// hot-plug registration semantics. Either callback may be nil.
func (n *Notifier) Register(name string, onStart, onStop Callback) (ID, error) {
	if name == "" {
		return 0, fmt.Errorf("hotplug: registration name is empty")
	}

	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.entries = append(n.entries, entry{id: id, name: name, onStart: onStart, onStop: onStop})
	replay := make([]int, 0, len(n.online))
	for cpu := range n.online {
		replay = append(replay, cpu)
	}
	n.mu.Unlock()

	if onStart != nil {
		for _, cpu := range replay {
			if err := onStart(cpu); err != nil {
				n.Unregister(id)
				return 0, fmt.Errorf("hotplug: %s start on cpu %d: %w", name, cpu, err)
			}
		}
	}
	return id, nil
}

// Unregister removes a registration. Unknown ids are ignored.
func (n *Notifier) Unregister(id ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, e := range n.entries {
		if e.id == id {
			n.entries = append(n.entries[:i], n.entries[i+1:]...)
			return
		}
	}
}

// Online marks cpu active and runs start callbacks in registration order.
func (n *Notifier) Online(cpu int) error {
	n.mu.Lock()
	if n.online[cpu] {
		n.mu.Unlock()
		return nil
	}
	n.online[cpu] = true
	callbacks := n.snapshotLocked()
	n.mu.Unlock()

	for _, e := range callbacks {
		if e.onStart == nil {
			continue
		}
		if err := e.onStart(cpu); err != nil {
			return fmt.Errorf("hotplug: %s start on cpu %d: %w", e.name, cpu, err)
		}
	}
	return nil
}

// Offline marks cpu inactive and runs stop callbacks in reverse
// registration order.
func (n *Notifier) Offline(cpu int) error {
	n.mu.Lock()
	if !n.online[cpu] {
		n.mu.Unlock()
		return nil
	}
	delete(n.online, cpu)
	callbacks := n.snapshotLocked()
	n.mu.Unlock()

	for i := len(callbacks) - 1; i >= 0; i-- {
		e := callbacks[i]
		if e.onStop == nil {
			continue
		}
		if err := e.onStop(cpu); err != nil {
			return fmt.Errorf("hotplug: %s stop on cpu %d: %w", e.name, cpu, err)
		}
	}
	return nil
}

// IsOnline reports whether cpu is currently online.
func (n *Notifier) IsOnline(cpu int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online[cpu]
}

func (n *Notifier) snapshotLocked() []entry {
	out := make([]entry, len(n.entries))
	copy(out, n.entries)
	return out
}
