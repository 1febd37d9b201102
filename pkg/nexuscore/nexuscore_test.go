package nexuscore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nexusd/nexusd/pkg/dispatch"
	"github.com/nexusd/nexusd/pkg/ioerr"
)

func newTestManager(t *testing.T) (*Manager, *dispatch.Dispatcher) {
	t.Helper()
	d := dispatch.New(64)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	d.Start(ctx)
	t.Cleanup(d.Stop)
	m := NewManager(d, NopRebuildNotifier{}, nil)
	return m, d
}

// waitQuiesced gives the single management reactor a chance to drain
// everything submitted so far before the test asserts on nexus state.
func waitQuiesced(d *dispatch.Dispatcher) {
	done := make(chan struct{})
	d.Submit(0, func() { close(done) })
	<-done
}

func TestManagerFaultsChildAfterRepeatedErrors(t *testing.T) {
	m, d := newTestManager(t)

	good, err := NewChild("child-0", "dev-0", 256)
	if err != nil {
		t.Fatalf("NewChild: %v", err)
	}
	bad, err := NewChild("child-1", "dev-1", 256)
	if err != nil {
		t.Fatalf("NewChild: %v", err)
	}

	n, err := NewNexus("nexus-0", uuid.New(), 1<<20, []*Child{good, bad})
	if err != nil {
		t.Fatalf("NewNexus: %v", err)
	}

	opts := ErrorMonitoringOptions{
		MaxRetryErrors:  4,
		MaxErrorAgeNS:   uint64(time.Second),
		FaultChildOnMax: true,
	}
	if err := m.Register(n, opts); err != nil {
		t.Fatalf("Register: %v", err)
	}
	m.SetProcessStart(time.Now().Add(-time.Hour))

	base := time.Now()
	// AttemptNo only accumulates across a contiguous run of failures that
	// share (op, status, offset, length) (pkg/ioerr's invariant 2), so four
	// consecutive read failures at the same offset/length build attempt_no
	// 1,2,3,4 - at the boundary, not yet past max_retry_errors=4.
	for i := 0; i < 4; i++ {
		ts := base.Add(time.Duration(i) * time.Millisecond)
		m.RecordFailure(1, "nexus-0", "dev-1", ioerr.OpRead, ioerr.StatusFailed, 0, 4096, ts)
	}
	waitQuiesced(d)

	if got, _ := n.ChildByName("child-1"); got.State != ChildOpen {
		t.Fatalf("child-1 state = %s after 4 consecutive failures, want Open (boundary not yet crossed)", got.State)
	}
	if n.State != Online {
		t.Fatalf("nexus state = %s after 4 consecutive failures, want Online", n.State)
	}

	// A fifth consecutive failure pushes attempt_no to 5, crossing the
	// strict ">" fault boundary.
	m.RecordFailure(1, "nexus-0", "dev-1", ioerr.OpRead, ioerr.StatusFailed, 0, 4096, base.Add(4*time.Millisecond))
	waitQuiesced(d)

	faulted, _ := n.ChildByName("child-1")
	if faulted.State != ChildFaulted {
		t.Fatalf("child-1 state = %s after 5 consecutive failures, want Faulted", faulted.State)
	}
	if n.State != Degraded {
		t.Fatalf("nexus state = %s, want Degraded with one of two children faulted", n.State)
	}
	if n.IsActive("child-1") {
		t.Fatal("child-1 must be removed from the active dispatch set once faulted")
	}
	if !n.IsActive("child-0") {
		t.Fatal("child-0 must remain active and serving I/O")
	}

	survivor, _ := n.ChildByName("child-0")
	if survivor.State != ChildOpen {
		t.Fatalf("child-0 state = %s, want Open (unaffected by child-1's failures)", survivor.State)
	}
}

func TestManagerFaultIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)

	child, _ := NewChild("child-0", "dev-0", 16)
	n, err := NewNexus("nexus-0", uuid.New(), 1<<20, []*Child{child})
	if err != nil {
		t.Fatalf("NewNexus: %v", err)
	}

	if err := m.fault.Fault(n, "child-0"); err != nil {
		t.Fatalf("Fault: %v", err)
	}
	if n.State != Faulted {
		t.Fatalf("nexus state = %s, want Faulted (sole child faulted)", n.State)
	}
	// Second fault of the same child must be a no-op, not an error.
	if err := m.fault.Fault(n, "child-0"); err != nil {
		t.Fatalf("second Fault: %v", err)
	}
}

func TestManagerRecordFailureIgnoresUnknownNexus(t *testing.T) {
	m, d := newTestManager(t)
	m.RecordFailure(0, "does-not-exist", "dev-0", ioerr.OpRead, ioerr.StatusFailed, 0, 1, time.Now())
	waitQuiesced(d)
	// No panic, no registered nexus mutated: nothing to assert beyond
	// reaching this point without the management reactor wedging.
}
