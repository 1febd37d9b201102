package transport

import (
	"context"
	"sync/atomic"
	"testing"
)

func TestNewTableHasNoPollGroupsWhenZeroRequested(t *testing.T) {
	tbl := NewTable(0)
	if tbl.ReadyForConnections() {
		t.Fatal("table with zero poll groups must not be ready for connections")
	}
}

func TestAssignPollGroupFailsWithNoPollGroups(t *testing.T) {
	tbl := NewTable(0)
	_, err := tbl.AssignPollGroup(Transport{Kind: TCP, Address: "10.0.0.1", Port: 4420})
	if err == nil {
		t.Fatal("expected error assigning a poll group with none configured")
	}
}

func TestAssignPollGroupSpreadsAcrossGroups(t *testing.T) {
	tbl := NewTable(4)
	if !tbl.ReadyForConnections() {
		t.Fatal("table with poll groups must be ready for connections")
	}
	seen := make(map[int]bool)
	for i := 0; i < 200; i++ {
		pg, err := tbl.AssignPollGroup(Transport{Kind: TCP, Address: "10.0.0.1", Port: uint16(4420 + i)})
		if err != nil {
			t.Fatalf("AssignPollGroup: %v", err)
		}
		seen[pg.ID] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected spreading across multiple poll groups, only saw %d", len(seen))
	}
}

func TestTransportCanonicalString(t *testing.T) {
	tr := Transport{Kind: TCP, Address: "10.0.0.5", Port: 4420}
	want := "trtype:TCP adrfam:IPv4 traddr:10.0.0.5 trsvcid:4420"
	if got := tr.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestTeardownDrainsAllPollGroupsBeforeFreeingTransports(t *testing.T) {
	tbl := NewTable(3)
	tbl.AddTransport(Transport{Kind: TCP, Address: "10.0.0.5", Port: 4420})

	var drained int32
	err := tbl.Teardown(context.Background(), func(ctx context.Context, pg PollGroup) error {
		atomic.AddInt32(&drained, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if drained != 3 {
		t.Fatalf("drained %d poll groups, want 3", drained)
	}
	if len(tbl.Transports()) != 0 {
		t.Fatal("expected transports to be released after teardown")
	}
	if tbl.ReadyForConnections() {
		t.Fatal("expected no poll groups to remain after teardown")
	}
}
