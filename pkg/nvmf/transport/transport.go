// Package transport implements the NVMe-oF Transport Table (C5): the
// process-wide registry of configured transports and their poll-group
// assignments.
package transport

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/nexusd/nexusd/pkg/nexuserrors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Kind identifies a transport type. TCP is the only kind this spec wires
// up; the type exists so a second kind never requires a signature change.
type Kind string

const TCP Kind = "TCP"

// Transport is a single configured NVMe-oF transport endpoint. Its String
// form is the canonical identity used for lookups and logging.
type Transport struct {
	Kind    Kind
	Address string
	Port    uint16
}

// String renders the canonical form, e.g.
// "trtype:TCP adrfam:IPv4 traddr:10.0.0.5 trsvcid:4420".
func (t Transport) String() string {
	return fmt.Sprintf("trtype:%s adrfam:IPv4 traddr:%s trsvcid:%d", t.Kind, t.Address, t.Port)
}

// PollGroup is a per-reactor handle that a Listener's connections get
// assigned to. Go has no reactor/core pinning of its own; a PollGroup here
// is identified by an ordinal that stands in for "the reactor that owns
// this poll group" the way pkg/dispatch's reactor IDs do.
type PollGroup struct {
	ID int
}

// Table holds the process's configured Transports and their poll groups.
// It is mutated only on the management reactor per the concurrency model;
// Table itself still guards with a mutex so misuse from a test or a
// not-yet-wired caller fails safe rather than racing.
type Table struct {
	mu          sync.Mutex
	transports  map[string]Transport
	pollGroups  []PollGroup
	assignments map[string]int // transport key -> poll group ID, last assignment
}

// NewTable builds an empty transport table with pollGroupCount poll groups
// pre-created (normally one per configured reactor/core).
func NewTable(pollGroupCount int) *Table {
	groups := make([]PollGroup, pollGroupCount)
	for i := range groups {
		groups[i] = PollGroup{ID: i}
	}
	return &Table{
		transports:  make(map[string]Transport),
		pollGroups:  groups,
		assignments: make(map[string]int),
	}
}

// AddTransport registers t under its canonical string key. Re-adding an
// identical transport is a no-op.
func (tbl *Table) AddTransport(t Transport) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	tbl.transports[t.String()] = t
}

// Transports returns the configured transports, in no particular order.
func (tbl *Table) Transports() []Transport {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	out := make([]Transport, 0, len(tbl.transports))
	for _, t := range tbl.transports {
		out = append(out, t)
	}
	return out
}

// AssignPollGroup picks a poll group for a newly-arrived connection on t
// via pseudo-random spreading across the available poll groups. This is a
// best-effort load-balance, not a guarantee of even distribution.
func (tbl *Table) AssignPollGroup(t Transport) (PollGroup, error) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	if len(tbl.pollGroups) == 0 {
		return PollGroup{}, nexuserrors.New(nexuserrors.KindConfiguration, "no poll groups exist, cannot accept connections")
	}
	pg := tbl.pollGroups[rand.IntN(len(tbl.pollGroups))]
	tbl.assignments[t.String()] = pg.ID
	return pg, nil
}

// ReadyForConnections reports whether at least one poll group exists, the
// invariant required before the Target advances to AcceptingConnections.
func (tbl *Table) ReadyForConnections() bool {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	return len(tbl.pollGroups) > 0
}

// Teardown drains all poll groups before releasing the configured
// transports, per the C5 invariant that teardown order matters. Draining
// a poll group here means running its drain function, if any is supplied;
// groups are drained concurrently through an errgroup, since they are
// independent by construction.
func (tbl *Table) Teardown(ctx context.Context, drain func(ctx context.Context, pg PollGroup) error) error {
	tbl.mu.Lock()
	groups := make([]PollGroup, len(tbl.pollGroups))
	copy(groups, tbl.pollGroups)
	tbl.mu.Unlock()

	if drain != nil {
		g, gctx := errgroup.WithContext(ctx)
		for _, pg := range groups {
			pg := pg
			g.Go(func() error { return drain(gctx, pg) })
		}
		if err := g.Wait(); err != nil {
			klog.Errorf("transport table teardown: poll group drain failed: %v", err)
			return err
		}
	}

	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	tbl.pollGroups = nil
	tbl.transports = make(map[string]Transport)
	tbl.assignments = make(map[string]int)
	return nil
}
