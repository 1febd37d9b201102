package ioerr

import (
	"testing"
	"time"
)

func TestNewRingRejectsZeroCapacity(t *testing.T) {
	if _, err := NewRing(0); err == nil {
		t.Fatal("expected error for zero capacity")
	}
}

func TestAddCountSaturatesAtCapacity(t *testing.T) {
	ring, err := NewRing(4)
	if err != nil {
		t.Fatal(err)
	}
	base := time.Now()
	for i := 0; i < 10; i++ {
		ring.Add(OpRead, StatusFailed, uint64(i), 1, base.Add(time.Duration(i)*time.Millisecond))
	}
	if got := ring.Count(); got != 4 {
		t.Fatalf("count = %d, want 4", got)
	}
}

// TestNewestFirstIterationOrder is invariant 1 from spec.md section 8:
// newest-first iteration yields the last min(|S|, C) inserts in reverse
// insertion order.
func TestNewestFirstIterationOrder(t *testing.T) {
	ring, err := NewRing(3)
	if err != nil {
		t.Fatal(err)
	}
	base := time.Now()
	for i := 0; i < 5; i++ {
		// distinct (offset) per insert so each record is identifiable by
		// its offset when the order is checked below.
		ring.Add(OpRead, StatusFailed, uint64(i), 1, base.Add(time.Duration(i)*time.Millisecond))
	}
	// Only offsets 2,3,4 should remain live (capacity 3, 5 inserts).
	since := base.Add(-time.Hour)
	if n := ring.Query(AllIO, FailedFlag, &since, Total); n != 3 {
		t.Fatalf("expected 3 live records total, got %d", n)
	}
	// Newest-first iteration visits (next-1-k) mod capacity for k in [0, count).
	for k, want := range []uint64{4, 3, 2} {
		idx := ((ring.next-1-k)%ring.capacity + ring.capacity) % ring.capacity
		if got := ring.records[idx].Offset; got != want {
			t.Fatalf("newest-first position %d: offset = %d, want %d", k, got, want)
		}
	}
	newest, ok := ring.Newest()
	if !ok || newest.Offset != 4 {
		t.Fatalf("newest = %+v, ok=%v, want offset 4", newest, ok)
	}
}

// TestAttemptAccumulation is E2 from spec.md section 8.
func TestAttemptAccumulation(t *testing.T) {
	ring, err := NewRing(4)
	if err != nil {
		t.Fatal(err)
	}
	base := time.Now()
	for i := 0; i < 10; i++ {
		ring.Add(OpRead, StatusFailed, 0, 8, base.Add(time.Duration(i)*time.Millisecond))
	}
	if got := ring.Query(ReadFlag, FailedFlag, nil, MostAttempts); got != 10 {
		t.Fatalf("MostAttempts = %d, want 10", got)
	}
	if got := ring.Query(ReadFlag, FailedFlag, nil, Total); got != 4 {
		t.Fatalf("Total = %d, want 4", got)
	}
}

// TestAttemptNoResetsOnDifferentRecord verifies invariant 2: attempt_no
// counts only a *contiguous* newest-first streak of identical records.
func TestAttemptNoResetsOnDifferentRecord(t *testing.T) {
	ring, err := NewRing(8)
	if err != nil {
		t.Fatal(err)
	}
	base := time.Now()
	ring.Add(OpRead, StatusFailed, 0, 8, base)
	ring.Add(OpRead, StatusFailed, 0, 8, base.Add(time.Millisecond))
	ring.Add(OpWrite, StatusFailed, 0, 8, base.Add(2*time.Millisecond)) // breaks the streak
	rec := ring.Add(OpRead, StatusFailed, 0, 8, base.Add(3*time.Millisecond))
	if rec.AttemptNo != 1 {
		t.Fatalf("attempt_no = %d, want 1 (streak broken by interleaved WRITE)", rec.AttemptNo)
	}
}

// TestQueryTotalMatchesFailedCountInMask is invariant 3.
func TestQueryTotalMatchesFailedCountInMask(t *testing.T) {
	ring, err := NewRing(16)
	if err != nil {
		t.Fatal(err)
	}
	base := time.Now()
	ring.Add(OpRead, StatusFailed, 0, 1, base)
	ring.Add(OpWrite, StatusFailed, 0, 1, base.Add(time.Millisecond))
	ring.Add(OpRead, StatusFailed, 8, 1, base.Add(2*time.Millisecond))

	if got := ring.Query(AllIO, FailedFlag, nil, Total); got != 3 {
		t.Fatalf("Total(AllIO) = %d, want 3", got)
	}
	if got := ring.Query(ReadFlag, FailedFlag, nil, Total); got != 2 {
		t.Fatalf("Total(READ) = %d, want 2", got)
	}
}

// TestAgeBoundExcludesOlderRecords is E3 from spec.md section 8.
func TestAgeBoundExcludesOlderRecords(t *testing.T) {
	ring, err := NewRing(4)
	if err != nil {
		t.Fatal(err)
	}
	t0 := time.Now()
	ring.Add(OpRead, StatusFailed, 0, 1, t0)

	since := t0.Add(60 * time.Millisecond) // well after t0: record is now "too old"
	if got := ring.Query(AllIO, FailedFlag, &since, Total); got != 0 {
		t.Fatalf("Total with age bound = %d, want 0", got)
	}
}

func TestQueryStopsAtFirstOldRecord(t *testing.T) {
	ring, err := NewRing(4)
	if err != nil {
		t.Fatal(err)
	}
	base := time.Now()
	ring.Add(OpRead, StatusFailed, 0, 1, base)                    // old
	ring.Add(OpRead, StatusFailed, 1, 1, base.Add(time.Second))    // recent
	ring.Add(OpRead, StatusFailed, 2, 1, base.Add(2*time.Second))  // recent

	since := base.Add(500 * time.Millisecond)
	if got := ring.Query(AllIO, FailedFlag, &since, Total); got != 2 {
		t.Fatalf("Total = %d, want 2 (oldest excluded)", got)
	}
}

func TestSummarizePerOp(t *testing.T) {
	ring, err := NewRing(8)
	if err != nil {
		t.Fatal(err)
	}
	base := time.Now()
	ring.Add(OpRead, StatusFailed, 0, 1, base)
	ring.Add(OpRead, StatusFailed, 1, 1, base)
	ring.Add(OpWrite, StatusFailed, 0, 1, base)

	sum := ring.Summarize()
	if sum[OpRead] != 2 {
		t.Fatalf("summary[READ] = %d, want 2", sum[OpRead])
	}
	if sum[OpWrite] != 1 {
		t.Fatalf("summary[WRITE] = %d, want 1", sum[OpWrite])
	}
	if sum[OpUnmap] != 0 {
		t.Fatalf("summary[UNMAP] = %d, want 0", sum[OpUnmap])
	}
}
