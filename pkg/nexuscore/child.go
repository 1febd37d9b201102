// Package nexuscore implements the nexus/child data model and the nexus
// child fault controller (C4): the component that owns per-child lifecycle
// transitions triggered by the health assessor and re-derives nexus state.
package nexuscore

import "github.com/nexusd/nexusd/pkg/ioerr"

// ChildState is a child's membership state in its nexus's active I/O
// dispatch set. Only Open <-> Faulted transitions are in scope here; Init
// exists so a child can be constructed before it has been opened.
type ChildState int

const (
	ChildInit ChildState = iota
	ChildOpen
	ChildFaulted
)

func (s ChildState) String() string {
	switch s {
	case ChildOpen:
		return "Open"
	case ChildFaulted:
		return "Faulted"
	default:
		return "Init"
	}
}

// Child is a member backing device of a nexus. A child exclusively owns
// its error Ring: Ring is nil unless error monitoring is enabled for this
// child.
type Child struct {
	Name     string
	DeviceID string
	Ring     *ioerr.Ring
	State    ChildState
}

// NewChild builds a child in the Open state. ringCapacity <= 0 means error
// monitoring is disabled for this child and it is built without a ring, as
// spec.md's ConfigurationError ("child lacks error store when monitoring
// is enabled") implies is a legal, if misconfigured, state.
func NewChild(name, deviceID string, ringCapacity int) (*Child, error) {
	c := &Child{Name: name, DeviceID: deviceID, State: ChildOpen}
	if ringCapacity > 0 {
		r, err := ioerr.NewRing(ringCapacity)
		if err != nil {
			return nil, err
		}
		c.Ring = r
	}
	return c, nil
}
