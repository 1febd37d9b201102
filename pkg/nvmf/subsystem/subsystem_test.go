package subsystem

import (
	"context"
	"errors"
	"testing"

	"github.com/nexusd/nexusd/pkg/nvmf/transport"
)

const testUUID = "1a2b3c4d-0000-0000-0000-000000000001"

func newReadySubsystem(t *testing.T) (*Registry, *Subsystem) {
	t.Helper()
	reg := NewRegistry()
	ss, err := New(reg, testUUID)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return reg, ss
}

func TestNewRejectsDuplicateNQN(t *testing.T) {
	reg := NewRegistry()
	if _, err := New(reg, testUUID); err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := New(reg, testUUID); err == nil {
		t.Fatal("expected error creating a second subsystem with the same NQN")
	}
}

func TestNQNFormat(t *testing.T) {
	want := "nqn.2019-05.io.openebs:" + testUUID
	if got := NQN(testUUID); got != want {
		t.Fatalf("NQN() = %q, want %q", got, want)
	}
}

func TestFullLifecycleHappyPath(t *testing.T) {
	reg, ss := newReadySubsystem(t)
	ctx := context.Background()

	if err := ss.AddNamespace(reg, "dev-0", "uuid-0"); err != nil {
		t.Fatalf("AddNamespace: %v", err)
	}
	if ss.State() != NSAttached {
		t.Fatalf("state = %s, want NSAttached", ss.State())
	}

	tr := transport.Transport{Kind: transport.TCP, Address: "10.0.0.5", Port: 4420}
	if err := ss.AddListener(ctx, tr); err != nil {
		t.Fatalf("AddListener: %v", err)
	}
	if ss.State() != Listening {
		t.Fatalf("state = %s, want Listening", ss.State())
	}

	if err := ss.Start(ctx, reg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ss.State() != Active {
		t.Fatalf("state = %s, want Active", ss.State())
	}

	endpoints := ss.URIEndpoints()
	want := "nvme+tcp://10.0.0.5:4420/" + ss.NQN()
	if len(endpoints) != 1 || endpoints[0] != want {
		t.Fatalf("URIEndpoints() = %v, want [%s]", endpoints, want)
	}

	if err := ss.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if ss.State() != Paused {
		t.Fatalf("state = %s, want Paused", ss.State())
	}

	if err := ss.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if ss.State() != Active {
		t.Fatalf("state = %s, want Active after resume", ss.State())
	}
}

func TestAddNamespaceFailsWhenDeviceAlreadyClaimed(t *testing.T) {
	reg := NewRegistry()
	ssA, _ := New(reg, "aaaaaaaa-0000-0000-0000-000000000001")
	ssB, _ := New(reg, "bbbbbbbb-0000-0000-0000-000000000002")

	if err := ssA.AddNamespace(reg, "dev-shared", "uuid-shared"); err != nil {
		t.Fatalf("AddNamespace on ssA: %v", err)
	}
	if err := ssB.AddNamespace(reg, "dev-shared", "uuid-shared"); err == nil {
		t.Fatal("expected error claiming an already-claimed device")
	}
}

type failingTransitioner struct{}

func (failingTransitioner) Do(ctx context.Context, op string) error {
	return errors.New("simulated SPDK completion failure")
}

func TestStartFailureDestroysSubsystemBeforeSurfacingError(t *testing.T) {
	reg, ss := newReadySubsystem(t)
	ctx := context.Background()

	if err := ss.AddNamespace(reg, "dev-0", "uuid-0"); err != nil {
		t.Fatalf("AddNamespace: %v", err)
	}
	tr := transport.Transport{Kind: transport.TCP, Address: "10.0.0.5", Port: 4420}
	if err := ss.AddListener(ctx, tr); err != nil {
		t.Fatalf("AddListener: %v", err)
	}

	ss.transition = failingTransitioner{}
	if err := ss.Start(ctx, reg); err == nil {
		t.Fatal("expected Start to surface the simulated completion failure")
	}
	if ss.State() != Inexistent {
		t.Fatalf("state = %s, want Inexistent after a failed start tears the subsystem down", ss.State())
	}
	if _, ok := reg.Lookup(testUUID); ok {
		t.Fatal("expected subsystem to be removed from the registry after failed start")
	}
	// The device claim must be released too, so a retry can reclaim it.
	if err := reg.claim("dev-0", "someone-else"); err != nil {
		t.Fatalf("expected device claim to be released after teardown: %v", err)
	}
}

func TestDestroyReleasesDeviceClaim(t *testing.T) {
	reg, ss := newReadySubsystem(t)
	if err := ss.AddNamespace(reg, "dev-0", "uuid-0"); err != nil {
		t.Fatalf("AddNamespace: %v", err)
	}
	ss.Destroy(reg)
	if err := reg.claim("dev-0", "anyone"); err != nil {
		t.Fatalf("expected device claim released after Destroy: %v", err)
	}
}

func TestRegistryFirstAndAllPreserveInsertionOrder(t *testing.T) {
	reg := NewRegistry()
	ssA, _ := New(reg, "aaaaaaaa-0000-0000-0000-000000000001")
	_, _ = New(reg, "bbbbbbbb-0000-0000-0000-000000000002")

	first, ok := reg.First()
	if !ok || first != ssA {
		t.Fatal("expected First() to return the first-registered subsystem")
	}
	if len(reg.All()) != 2 {
		t.Fatalf("All() returned %d subsystems, want 2", len(reg.All()))
	}
}
