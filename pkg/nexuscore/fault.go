package nexuscore

import (
	"github.com/nexusd/nexusd/pkg/metrics"
	"github.com/nexusd/nexusd/pkg/nexuserrors"
	"k8s.io/klog/v2"
)

// RebuildState mirrors the original implementation's rebuild job states
// (original_source/mayastor/src/bdev/nexus/nexus_rpc.rs calls out to
// RebuildJob::count()/state()/progress()). The rebuild engine itself stays
// out of scope; this enum only gives get_rebuild_state/get_rebuild_progress
// something real to return.
type RebuildState int

const (
	RebuildInit RebuildState = iota
	RebuildRunning
	RebuildPaused
	RebuildStopped
	RebuildCompleted
	RebuildFailed
)

func (s RebuildState) String() string {
	switch s {
	case RebuildRunning:
		return "running"
	case RebuildPaused:
		return "paused"
	case RebuildStopped:
		return "stopped"
	case RebuildCompleted:
		return "completed"
	case RebuildFailed:
		return "failed"
	default:
		return "init"
	}
}

// RebuildNotifier is the rebuild collaborator's call boundary. The rebuild
// engine that actually copies data onto a faulted-then-recovered child is
// out of scope for this spec; only the notification hook is implemented.
type RebuildNotifier interface {
	// NotifyChildFaulted is called once a child has been transitioned to
	// Faulted and removed from the active I/O dispatch set, making it
	// eligible for rebuild. Per spec.md section 9 ("fault_child does not
	// wait for rebuild initiation"), this call is fire-and-forget from
	// the fault controller's point of view: its return value, if any,
	// must never block or fail the fault transition itself.
	NotifyChildFaulted(nexusName, childName string)
}

// NopRebuildNotifier discards fault notifications. Useful for tests and
// for configurations that have not wired a rebuild collaborator.
type NopRebuildNotifier struct{}

func (NopRebuildNotifier) NotifyChildFaulted(string, string) {}

// FaultController owns per-child lifecycle transitions triggered by the
// health assessor (C4). It holds no state of its own beyond the rebuild
// notifier and an event sink; the nexus/child it acts on is always passed
// in by the caller (the dispatcher's management-reactor task).
type FaultController struct {
	notifier RebuildNotifier
	onEvent  func(StateChangeEvent)
}

// NewFaultController builds a FaultController. onEvent may be nil if the
// caller does not want state-change notifications.
func NewFaultController(notifier RebuildNotifier, onEvent func(StateChangeEvent)) *FaultController {
	if notifier == nil {
		notifier = NopRebuildNotifier{}
	}
	return &FaultController{notifier: notifier, onEvent: onEvent}
}

// Fault transitions childName on nexus n to Faulted, removes it from the
// active I/O dispatch set, notifies the rebuild collaborator, and
// re-derives the nexus's overall state. A child already Faulted is a
// no-op. Fault is irreversible from this controller's point of view;
// returning a child to service is the rebuild collaborator's job.
func (fc *FaultController) Fault(n *Nexus, childName string) error {
	n.mu.Lock()

	child, ok := n.ChildByNameLocked(childName)
	if !ok {
		n.mu.Unlock()
		return nexuserrors.ErrChildNotFound
	}
	if child.State == ChildFaulted {
		n.mu.Unlock()
		return nil
	}

	child.State = ChildFaulted
	n.removeFromDispatch(childName)
	event := n.rederiveState()

	n.mu.Unlock()

	metrics.ChildFaultsTotal.WithLabelValues(n.Name, childName).Inc()
	klog.Infof("nexus %s: child %s faulted", n.Name, childName)

	fc.notifier.NotifyChildFaulted(n.Name, childName)

	if event != nil && fc.onEvent != nil {
		fc.onEvent(*event)
	}
	return nil
}

// ChildByNameLocked is ChildByName for callers that already hold n.mu.
func (n *Nexus) ChildByNameLocked(name string) (*Child, bool) {
	for _, c := range n.children {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}
