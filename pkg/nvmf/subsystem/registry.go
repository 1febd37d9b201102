package subsystem

import (
	"sync"

	"github.com/nexusd/nexusd/pkg/nexuserrors"
)

// Registry is the process-wide table of Subsystems and device claims. The
// Target owns one Registry; it is mutated only on the management reactor,
// per the concurrency model's shared-resource policy, but guards itself
// with a mutex so misuse fails safe.
type Registry struct {
	mu      sync.RWMutex
	byNQN   map[string]*Subsystem
	order   []string // insertion order, for first()/iteration.
	claimed map[string]string // deviceID -> claiming NQN.
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byNQN:   make(map[string]*Subsystem),
		claimed: make(map[string]string),
	}
}

func (r *Registry) add(ss *Subsystem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byNQN[ss.nqn]; exists {
		return nexuserrors.ErrSubsystemExists
	}
	r.byNQN[ss.nqn] = ss
	r.order = append(r.order, ss.nqn)
	return nil
}

func (r *Registry) remove(nqn string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byNQN, nqn)
	for i, n := range r.order {
		if n == nqn {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) claim(deviceID, nqn string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, claimed := r.claimed[deviceID]; claimed && owner != nqn {
		return nexuserrors.ErrDeviceClaimed
	}
	r.claimed[deviceID] = nqn
	return nil
}

func (r *Registry) release(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claimed, deviceID)
}

// First yields the first Subsystem registered, in insertion order (often
// the discovery controller in a real target).
func (r *Registry) First() (*Subsystem, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return nil, false
	}
	return r.byNQN[r.order[0]], true
}

// All returns every registered Subsystem in insertion order.
func (r *Registry) All() []*Subsystem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subsystem, 0, len(r.order))
	for _, nqn := range r.order {
		out = append(out, r.byNQN[nqn])
	}
	return out
}

// Lookup finds the Subsystem for a nexus UUID by its derived NQN.
func (r *Registry) Lookup(uuid string) (*Subsystem, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ss, ok := r.byNQN[NQN(uuid)]
	return ss, ok
}
