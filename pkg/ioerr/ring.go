package ioerr

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrZeroCapacity is returned by NewRing when asked to build a ring that
// cannot hold any records.
var ErrZeroCapacity = errors.New("ioerr: ring capacity must be > 0")

// QueryMode selects how Query folds matching records into its result.
type QueryMode int

const (
	// Total counts the number of matching records.
	Total QueryMode = iota
	// MostAttempts yields the largest AttemptNo among matching records.
	MostAttempts
)

// Ring is a fixed-capacity circular log of Records, owned exclusively by a
// single child. Every mutation must happen on the owning child's management
// reactor (see pkg/dispatch); Ring itself only guards against concurrent
// misuse with a mutex so tests and callers outside the dispatcher do not
// corrupt it, not as a substitute for that single-writer discipline.
type Ring struct {
	mu       sync.Mutex
	capacity int
	count    int
	next     int
	records  []Record
}

// NewRing builds a Ring able to hold capacity records. Capacity must be a
// power of two if a future implementation wants to replace the modulo in
// the index arithmetic with a mask; this implementation does not require
// it, but callers are encouraged to pick one anyway.
func NewRing(capacity int) (*Ring, error) {
	if capacity <= 0 {
		return nil, ErrZeroCapacity
	}
	return &Ring{
		capacity: capacity,
		records:  make([]Record, capacity),
	}, nil
}

// Capacity returns the fixed capacity the ring was built with.
func (r *Ring) Capacity() int {
	return r.capacity
}

// Count returns the number of live records, always <= Capacity().
func (r *Ring) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Add appends a new record at the write cursor, overwriting the oldest
// entry once the ring is full. If the newest existing record matches
// (op, status, offset, length), the new record's AttemptNo is one more
// than that record's AttemptNo; otherwise it is 1. A run of identical
// failures therefore keeps counting even after its earliest records have
// been overwritten. Returns the record as stored, including its derived
// AttemptNo.
func (r *Ring) Add(op OpCode, status Status, offset, length uint64, timestamp time.Time) Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	attempt := uint32(1)
	if r.count > 0 {
		idx := r.next - 1
		if idx < 0 {
			idx = len(r.records) - 1
		}
		if prev := r.records[idx]; prev.matches(op, status, offset, length) {
			attempt = prev.AttemptNo + 1
		}
	}

	rec := Record{
		Op:        op,
		Status:    status,
		Offset:    offset,
		Length:    length,
		Timestamp: timestamp,
		AttemptNo: attempt,
	}

	r.records[r.next] = rec
	if r.count < r.capacity {
		r.count++
	}
	r.next = (r.next + 1) % r.capacity

	return rec
}

// Query walks live records newest-to-oldest, stopping as soon as a record
// older than since is reached (since == nil disables the age bound). Every
// record whose Op is set in opMask and whose Status is set in statusMask is
// folded into the result according to mode.
func (r *Ring) Query(opMask, statusMask uint32, since *time.Time, mode QueryMode) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var acc uint32
	idx := r.next
	for i := 0; i < r.count; i++ {
		if idx > 0 {
			idx--
		} else {
			idx = len(r.records) - 1
		}
		rec := r.records[idx]
		if since != nil && rec.Timestamp.Before(*since) {
			break
		}
		if opFlag(rec.Op)&opMask == 0 || statusFlag(rec.Status)&statusMask == 0 {
			continue
		}
		switch mode {
		case MostAttempts:
			if rec.AttemptNo > acc {
				acc = rec.AttemptNo
			}
		default:
			acc++
		}
	}
	return acc
}

// Newest returns the most recently inserted record, if any.
func (r *Ring) Newest() (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return Record{}, false
	}
	idx := r.next - 1
	if idx < 0 {
		idx = len(r.records) - 1
	}
	return r.records[idx], true
}

// Summarize returns, for every operation kind, the Total failed-record
// count currently live in the ring. It is a diagnostic helper, not part
// of the I/O path; no RPC method or CLI command calls it.
func (r *Ring) Summarize() map[OpCode]uint32 {
	out := make(map[OpCode]uint32, 5)
	for _, op := range []OpCode{OpRead, OpWrite, OpUnmap, OpFlush, OpReset} {
		out[op] = r.Query(opFlag(op), FailedFlag, nil, Total)
	}
	return out
}

// String renders a short human-readable summary, mirroring the debug
// Display the original error store exposed to operators.
func (r *Ring) String() string {
	r.mu.Lock()
	count := r.count
	r.mu.Unlock()
	return fmt.Sprintf("ioerr.Ring(count=%d, capacity=%d)", count, r.capacity)
}
