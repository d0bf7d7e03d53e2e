// Package hydration holds the per-session state registry and the payload
// encoding handed to the client. A registry belongs to exactly one render
// session; concurrent sessions never share one, so no locking crosses
// session boundaries.
package hydration

import (
	"fmt"
	"sort"
	"sync"
)

// Entry is one resolved node's contribution to the hydration payload
type Entry struct {
	// Slot is the node's stable index assigned at discovery time
	Slot int

	// State is the serialized resolved state
	State []byte
}

// Registry is an append-only, order-preserving store mapping each resolved
// bridge node to its slot index and serialized payload. Slots are assigned
// in pre-order traversal order before any resolution starts; Put may be
// called from resolution goroutines in any completion order, and Entries
// always reports slot order.
type Registry struct {
	mu      sync.Mutex
	entries map[int][]byte
	sealed  bool
}

// NewRegistry creates an empty registry for one render session
func NewRegistry() *Registry {
	return &Registry{entries: make(map[int][]byte)}
}

// Put stores the serialized state for a slot. It returns an error if the
// registry is sealed or the slot was already written; both indicate a
// scheduler bug, not a recoverable condition.
func (r *Registry) Put(slot int, state []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("registry is sealed")
	}
	if slot < 0 {
		return fmt.Errorf("invalid slot index %d", slot)
	}
	if _, ok := r.entries[slot]; ok {
		return fmt.Errorf("slot %d already populated", slot)
	}
	r.entries[slot] = state
	return nil
}

// Seal marks the registry complete. Further Put calls fail; Entries and
// Payload become safe to call without racing resolution goroutines.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Len returns the number of populated slots
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Entries returns the populated entries ordered by slot index, independent
// of the order resolutions completed in.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.entries))
	for slot, state := range r.entries {
		out = append(out, Entry{Slot: slot, State: state})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// Payload encodes the registry's entries into the serialized hydration
// payload (see Encode).
func (r *Registry) Payload() ([]byte, error) {
	return Encode(r.Entries())
}
