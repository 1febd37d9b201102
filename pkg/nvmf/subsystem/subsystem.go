// Package subsystem implements the NVMe-oF Subsystem Manager (C6): the
// per-subsystem state machine and the process-wide device claim registry.
package subsystem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nexusd/nexusd/pkg/metrics"
	"github.com/nexusd/nexusd/pkg/nexuserrors"
	"github.com/nexusd/nexusd/pkg/nvmf/transport"
	"github.com/sony/gobreaker"
	"k8s.io/klog/v2"
)

// These are fixed, wire-visible identity constants, not configuration.
// The serial comes straight from the original target implementation's
// "it's a race car" literal; changing it would break existing initiators
// that key off of it.
const (
	fixedSerial = "33' ~'~._`o##o>"
	fixedModel  = "Mayastor NVMe controller"
	nqnPrefix   = "nqn.2019-05.io.openebs:"
)

// NQN derives the canonical subsystem NQN for a nexus UUID.
func NQN(uuid string) string {
	return nqnPrefix + uuid
}

// State is a Subsystem's position in the C6 state machine.
type State int

const (
	Inexistent State = iota
	Created
	NSAttached
	Listening
	Active
	Paused
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case NSAttached:
		return "NSAttached"
	case Listening:
		return "Listening"
	case Active:
		return "Active"
	case Paused:
		return "Paused"
	default:
		return "Inexistent"
	}
}

// Namespace binds a claimed device at a fixed NSID to a Subsystem.
type Namespace struct {
	NSID     uint32
	DeviceID string
	NGUID    string // copied from the device's UUID, per add_namespace().
}

// Listener binds a Subsystem to a Transport.
type Listener struct {
	Transport transport.Transport
}

// transitioner is a narrow seam over the simulated asynchronous SPDK RPC
// completion (add_listener/start/stop) so that flakiness in that call can
// be wrapped in a circuit breaker, and so tests can substitute a fake.
// A real target backend would issue the SPDK call here and wait on its
// one-shot completion callback; the call boundary itself is out of scope.
type transitioner interface {
	Do(ctx context.Context, op string) error
}

type defaultTransitioner struct{}

func (defaultTransitioner) Do(ctx context.Context, op string) error { return nil }

// Subsystem is one exported NVMe-oF subsystem, identified by its NQN. Every
// state-changing operation is serialised by mu, held for the whole
// transition rather than modelling a separate async completion channel,
// since from the caller's point of view the operation already blocks until
// completion. A concurrent second transition is not rejected outright: it
// waits for mu and is then checked against the state the first one left.
type Subsystem struct {
	mu           sync.Mutex
	nqn          string
	state        State
	namespace    *Namespace
	listeners    []Listener
	allowAnyHost bool
	breaker      *gobreaker.CircuitBreaker
	transition   transitioner
}

// New allocates a Subsystem for uuid. Fails with ErrSubsystemExists if reg
// already has a subsystem for this NQN.
func New(reg *Registry, uuid string) (*Subsystem, error) {
	nqn := NQN(uuid)
	ss := &Subsystem{
		nqn:          nqn,
		state:        Created,
		allowAnyHost: false,
		transition:   defaultTransitioner{},
	}
	ss.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    nqn,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			klog.Infof("subsystem %s transport breaker: %s -> %s", name, from, to)
		},
	})
	if err := reg.add(ss); err != nil {
		return nil, err
	}
	metrics.SetSubsystemState(nqn, int(Created))
	return ss, nil
}

// NQN returns the subsystem's identity.
func (ss *Subsystem) NQN() string { return ss.nqn }

// Serial and Model report the fixed controller identity strings every
// subsystem advertises, matched on the initiator side via ID_MODEL.
func (ss *Subsystem) Serial() string { return fixedSerial }
func (ss *Subsystem) Model() string  { return fixedModel }

// State returns the subsystem's current state.
func (ss *Subsystem) State() State {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.state
}

// AddNamespace binds deviceID/deviceUUID at NSID 1, claiming the device on
// reg. Fails if the device is already claimed elsewhere or the subsystem
// is not in the Created state.
func (ss *Subsystem) AddNamespace(reg *Registry, deviceID, deviceUUID string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.state != Created {
		return nexuserrors.New(nexuserrors.KindConflict, fmt.Sprintf("add_namespace: subsystem %s not in Created state (in %s)", ss.nqn, ss.state))
	}
	if err := reg.claim(deviceID, ss.nqn); err != nil {
		return err
	}
	ss.namespace = &Namespace{NSID: 1, DeviceID: deviceID, NGUID: deviceUUID}
	ss.state = NSAttached
	metrics.SetSubsystemState(ss.nqn, int(NSAttached))
	return nil
}

// AddListener binds this subsystem to t. The completion is simulated
// synchronously through the transitioner seam documented above.
func (ss *Subsystem) AddListener(ctx context.Context, t transport.Transport) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.state != NSAttached {
		return nexuserrors.New(nexuserrors.KindConflict, fmt.Sprintf("add_listener: subsystem %s not in NSAttached state (in %s)", ss.nqn, ss.state))
	}
	start := time.Now()
	_, err := ss.breaker.Execute(func() (interface{}, error) {
		return nil, ss.transition.Do(ctx, "add_listener")
	})
	metrics.ObserveSubsystemTransition("add_listener", statusLabel(err), start)
	if err != nil {
		return nexuserrors.Wrap(nexuserrors.KindTransport, "add_listener failed", err)
	}
	ss.listeners = append(ss.listeners, Listener{Transport: t})
	ss.state = Listening
	metrics.SetSubsystemState(ss.nqn, int(Listening))
	return nil
}

// Start transitions Listening -> Active. If the underlying completion
// fails, the subsystem is torn down via destroyLocked before the error is
// surfaced, so a half-initialised export is never left Listening.
func (ss *Subsystem) Start(ctx context.Context, reg *Registry) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.state != Listening {
		return nexuserrors.New(nexuserrors.KindConflict, fmt.Sprintf("start: subsystem %s not in Listening state (in %s)", ss.nqn, ss.state))
	}
	start := time.Now()
	_, err := ss.breaker.Execute(func() (interface{}, error) {
		return nil, ss.transition.Do(ctx, "start")
	})
	metrics.ObserveSubsystemTransition("start", statusLabel(err), start)
	if err != nil {
		klog.Errorf("start: subsystem %s failed, destroying to avoid a half-initialised export: %v", ss.nqn, err)
		ss.destroyLocked(reg)
		return nexuserrors.Wrap(nexuserrors.KindTransport, "start failed", err)
	}
	ss.state = Active
	metrics.SetSubsystemState(ss.nqn, int(Active))
	return nil
}

// Stop transitions Active -> Paused, draining in-flight admin/IO and
// refusing new connections.
func (ss *Subsystem) Stop(ctx context.Context) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.state != Active {
		return nexuserrors.New(nexuserrors.KindConflict, fmt.Sprintf("stop: subsystem %s not Active (in %s)", ss.nqn, ss.state))
	}
	start := time.Now()
	_, err := ss.breaker.Execute(func() (interface{}, error) {
		return nil, ss.transition.Do(ctx, "stop")
	})
	metrics.ObserveSubsystemTransition("stop", statusLabel(err), start)
	if err != nil {
		return nexuserrors.Wrap(nexuserrors.KindTransport, "stop failed", err)
	}
	ss.state = Paused
	metrics.SetSubsystemState(ss.nqn, int(Paused))
	return nil
}

// Pause is an alias of Stop reserved for namespace reconfiguration that
// does not drop listeners; Resume is the corresponding Paused -> Active
// transition. Both are reserved call boundaries: the spec only requires
// them to exist and preserve listeners, not to implement reconfiguration.
func (ss *Subsystem) Pause(ctx context.Context) error  { return ss.Stop(ctx) }
func (ss *Subsystem) Resume(ctx context.Context) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.state != Paused {
		return nexuserrors.New(nexuserrors.KindConflict, fmt.Sprintf("resume: subsystem %s not Paused (in %s)", ss.nqn, ss.state))
	}
	ss.state = Active
	metrics.SetSubsystemState(ss.nqn, int(Active))
	return nil
}

// Destroy tears the subsystem down fully: removes listeners and the
// namespace, releases the device claim, and removes it from reg.
func (ss *Subsystem) Destroy(reg *Registry) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.destroyLocked(reg)
}

func (ss *Subsystem) destroyLocked(reg *Registry) {
	if ss.namespace != nil {
		reg.release(ss.namespace.DeviceID)
		ss.namespace = nil
	}
	ss.listeners = nil
	ss.state = Inexistent
	metrics.SetSubsystemState(ss.nqn, int(Inexistent))
	reg.remove(ss.nqn)
}

// URIEndpoints returns one nvme+tcp://<ip>:<port>/<nqn> string per
// Listener, in listener-insertion order.
func (ss *Subsystem) URIEndpoints() []string {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	out := make([]string, 0, len(ss.listeners))
	for _, l := range ss.listeners {
		out = append(out, fmt.Sprintf("nvme+tcp://%s:%d/%s", l.Transport.Address, l.Transport.Port, ss.nqn))
	}
	return out
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
