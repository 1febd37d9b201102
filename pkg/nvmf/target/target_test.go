package target

import (
	"context"
	"testing"

	"github.com/nexusd/nexusd/pkg/nvmf/subsystem"
	"github.com/nexusd/nexusd/pkg/nvmf/transport"
)

func TestStartAdvancesToAcceptingConnections(t *testing.T) {
	tg := New([]transport.Transport{{Kind: transport.TCP, Address: "10.0.0.5", Port: 4420}}, 2)
	if err := tg.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if tg.State() != AcceptingConnections {
		t.Fatalf("state = %s, want AcceptingConnections", tg.State())
	}
}

func TestStartFailsWithEmptyTransportTable(t *testing.T) {
	tg := New(nil, 2)
	if err := tg.Start(context.Background()); err == nil {
		t.Fatal("expected error starting a target with no configured transports")
	}
}

func TestStartFailsWithZeroPollGroups(t *testing.T) {
	tg := New([]transport.Transport{{Kind: transport.TCP, Address: "10.0.0.5", Port: 4420}}, 0)
	if err := tg.Start(context.Background()); err == nil {
		t.Fatal("expected error starting a target with no poll groups")
	}
	if tg.State() != ShuttingDown {
		t.Fatalf("state = %s, want ShuttingDown after fatal start failure", tg.State())
	}
}

func TestStopDestroysSubsystemsBeforeReachingStopped(t *testing.T) {
	tg := New([]transport.Transport{{Kind: transport.TCP, Address: "10.0.0.5", Port: 4420}}, 1)
	if err := tg.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ss, err := subsystem.New(tg.Registry(), "aaaaaaaa-0000-0000-0000-000000000001")
	if err != nil {
		t.Fatalf("subsystem.New: %v", err)
	}

	tg.Stop(context.Background())
	if tg.State() != Stopped {
		t.Fatalf("state = %s, want Stopped", tg.State())
	}
	if ss.State() != subsystem.Inexistent {
		t.Fatalf("subsystem state = %s, want Inexistent after target Stop", ss.State())
	}
	if len(tg.Registry().All()) != 0 {
		t.Fatal("expected all subsystems destroyed after target Stop")
	}
}
