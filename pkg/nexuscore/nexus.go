package nexuscore

import (
	"sync"

	"github.com/google/uuid"
	"github.com/nexusd/nexusd/pkg/metrics"
	"github.com/nexusd/nexusd/pkg/nexuserrors"
	"k8s.io/klog/v2"
)

// State is the nexus-level lifecycle state, re-derived from its children's
// states every time a child is faulted.
type State int

const (
	Online State = iota
	Degraded
	Faulted
)

func (s State) String() string {
	switch s {
	case Degraded:
		return "Degraded"
	case Faulted:
		return "Faulted"
	default:
		return "Online"
	}
}

// StateChangeEvent is emitted whenever a nexus's derived State changes.
type StateChangeEvent struct {
	NexusName string
	Old       State
	New       State
}

// Nexus is a container of an ordered, non-empty set of Children, identified
// by name and UUID. The nexus exclusively owns its children.
type Nexus struct {
	mu       sync.RWMutex
	Name     string
	UUID     uuid.UUID
	Size     uint64
	children []*Child
	// activeDispatch tracks which children currently receive I/O; a
	// faulted child is removed from this set but remains in children for
	// bookkeeping/rebuild purposes.
	activeDispatch map[string]bool
	State          State
}

// NewNexus builds a nexus from a non-empty, ordered set of children, all of
// which start Online/Open and in the active I/O dispatch set. size is the
// nexus's advertised block size in bytes, reported back verbatim by
// list_nexus; it is not validated against the children's own sizes, which
// is the rebuild collaborator's concern.
func NewNexus(name string, id uuid.UUID, size uint64, children []*Child) (*Nexus, error) {
	if len(children) == 0 {
		return nil, nexuserrors.New(nexuserrors.KindInvalidInput, "nexus must have at least one child")
	}
	active := make(map[string]bool, len(children))
	for _, c := range children {
		active[c.Name] = true
	}
	n := &Nexus{
		Name:           name,
		UUID:           id,
		Size:           size,
		children:       children,
		activeDispatch: active,
		State:          Online,
	}
	metrics.SetNexusState(name, int(Online))
	return n, nil
}

// Children returns the nexus's children in insertion order. The slice is a
// copy; callers must not use it to mutate nexus membership.
func (n *Nexus) Children() []*Child {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Child, len(n.children))
	copy(out, n.children)
	return out
}

// ChildByName looks up a child by name.
func (n *Nexus) ChildByName(name string) (*Child, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, c := range n.children {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// ChildByDeviceID looks up a child by its device handle identity, which is
// how the dispatcher's record() call identifies the child that owns a
// completion (it only has a device pointer/ID, not a name).
func (n *Nexus) ChildByDeviceID(deviceID string) (*Child, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, c := range n.children {
		if c.DeviceID == deviceID {
			return c, true
		}
	}
	return nil, false
}

// IsActive reports whether childName is currently in the active I/O
// dispatch set.
func (n *Nexus) IsActive(childName string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.activeDispatch[childName]
}

// removeFromDispatch takes childName out of the active I/O dispatch set.
// Callers must hold n.mu for writing.
func (n *Nexus) removeFromDispatch(childName string) {
	delete(n.activeDispatch, childName)
}

// rederiveState recomputes Online/Degraded/Faulted from current child
// states. Callers must hold n.mu for writing. Returns the event to emit, if
// the state actually changed.
func (n *Nexus) rederiveState() *StateChangeEvent {
	openCount, faultedCount := 0, 0
	for _, c := range n.children {
		switch c.State {
		case ChildOpen:
			openCount++
		case ChildFaulted:
			faultedCount++
		}
	}

	var next State
	switch {
	case faultedCount == 0:
		next = Online
	case openCount == 0:
		next = Faulted
	default:
		next = Degraded
	}

	if next == n.State {
		return nil
	}
	old := n.State
	n.State = next
	metrics.SetNexusState(n.Name, int(next))
	klog.Infof("nexus %s: state %s -> %s", n.Name, old, next)
	return &StateChangeEvent{NexusName: n.Name, Old: old, New: next}
}
