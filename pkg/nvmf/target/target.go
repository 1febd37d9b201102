// Package target implements the Target State Machine (C7): the
// process-wide driver that advances NVMe-oF export bring-up and teardown.
package target

import (
	"context"
	"fmt"

	"github.com/nexusd/nexusd/pkg/nexuserrors"
	"github.com/nexusd/nexusd/pkg/nvmf/subsystem"
	"github.com/nexusd/nexusd/pkg/nvmf/transport"
	"k8s.io/klog/v2"
)

// State is the Target's position in its bring-up/shutdown state machine.
type State int

const (
	Init State = iota
	ConfiguringTransports
	AcceptingConnections
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case ConfiguringTransports:
		return "ConfiguringTransports"
	case AcceptingConnections:
		return "AcceptingConnections"
	case ShuttingDown:
		return "ShuttingDown"
	case Stopped:
		return "Stopped"
	default:
		return "Init"
	}
}

// Target is the process-wide singleton composing the configured Transports
// and the set of exported Subsystems.
type Target struct {
	state      State
	table      *transport.Table
	registry   *subsystem.Registry
	transports []transport.Transport
}

// New builds a Target in the Init state, configured with the transports it
// will create during bring-up and pollGroupCount poll groups.
func New(transports []transport.Transport, pollGroupCount int) *Target {
	return &Target{
		state:      Init,
		table:      transport.NewTable(pollGroupCount),
		registry:   subsystem.NewRegistry(),
		transports: transports,
	}
}

// Registry exposes the Target's subsystem registry to the RPC collaborator.
func (t *Target) Registry() *subsystem.Registry { return t.registry }

// Transports exposes the Target's transport table.
func (t *Target) Transports() *transport.Table { return t.table }

// State returns the Target's current lifecycle state.
func (t *Target) State() State { return t.state }

// Start drives the Target through Init -> ConfiguringTransports ->
// AcceptingConnections. On fatal failure it jumps to ShuttingDown and
// runs best-effort teardown before returning the error, mirroring the
// spec's "on fatal failure, jumps to ShuttingDown" rule for next_state().
func (t *Target) Start(ctx context.Context) error {
	if t.state != Init {
		return nexuserrors.New(nexuserrors.KindConfiguration, fmt.Sprintf("target start: not in Init state (in %s)", t.state))
	}
	if len(t.transports) == 0 {
		return nexuserrors.New(nexuserrors.KindConfiguration, "target start: empty transport table")
	}

	t.state = ConfiguringTransports
	for _, tr := range t.transports {
		t.table.AddTransport(tr)
	}
	klog.Infof("target: configured %d transport(s)", len(t.transports))

	if !t.table.ReadyForConnections() {
		klog.Errorf("target start: no poll groups configured, cannot accept connections")
		t.state = ShuttingDown
		t.teardownBestEffort(ctx)
		return nexuserrors.New(nexuserrors.KindConfiguration, "target start: at least one poll group is required before accepting connections")
	}

	t.state = AcceptingConnections
	klog.Infof("target: accepting connections")
	return nil
}

// Stop drives the reverse sequence: AcceptingConnections -> ShuttingDown ->
// Stopped. Teardown is best-effort: individual step failures are logged
// but do not abort the sequence, since shutdown must always reach Stopped.
func (t *Target) Stop(ctx context.Context) {
	if t.state == Stopped {
		return
	}
	t.state = ShuttingDown
	t.teardownBestEffort(ctx)
	t.state = Stopped
	klog.Infof("target: stopped")
}

// DestroyAll destroys every registered Subsystem before the Target
// advances its own shutdown sequence.
func (t *Target) DestroyAll(reg *subsystem.Registry) {
	for _, ss := range reg.All() {
		ss.Destroy(reg)
	}
}

func (t *Target) teardownBestEffort(ctx context.Context) {
	t.DestroyAll(t.registry)
	if err := t.table.Teardown(ctx, nil); err != nil {
		klog.Errorf("target teardown: transport table teardown failed, continuing best-effort: %v", err)
	}
}
