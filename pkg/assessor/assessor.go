// Package assessor implements the child health policy (C2): given a
// child's error ring and the process-wide error-monitoring thresholds, it
// decides whether the child should be faulted.
package assessor

import (
	"time"

	"github.com/nexusd/nexusd/pkg/ioerr"
	"k8s.io/klog/v2"
)

// Verdict is the outcome of Assess.
type Verdict int

const (
	// Healthy means the child should keep serving I/O.
	Healthy Verdict = iota
	// Fault means the child has exceeded its retry budget and should be
	// removed from the active I/O dispatch set.
	Fault
)

func (v Verdict) String() string {
	if v == Fault {
		return "FAULT"
	}
	return "HEALTHY"
}

// Ring is the subset of *ioerr.Ring the assessor depends on, so tests can
// substitute a double without building a real ring.
type Ring interface {
	Query(opMask, statusMask uint32, since *time.Time, mode ioerr.QueryMode) uint32
}

// Assess evaluates a child's ring against the configured retry/age policy.
// A nil ring is a misconfiguration (error monitoring enabled for a child
// that was never given a ring) and is treated as Healthy so a bug in wiring
// never faults a child it can't actually assess.
//
// since is derived by the caller as now - maxAgeNS, saturating: if the
// process has been up for less than maxAgeNS, pass a nil since so the
// bound does not wrongly exclude every record the process has ever seen.
func Assess(ring Ring, maxRetryErrors uint32, since *time.Time, childName string) Verdict {
	if ring == nil {
		klog.Warningf("assessor: child %q has no error ring, treating as healthy", childName)
		return Healthy
	}

	n := ring.Query(ioerr.ReadFlag|ioerr.WriteFlag, ioerr.FailedFlag, since, ioerr.MostAttempts)
	if n > maxRetryErrors {
		return Fault
	}
	return Healthy
}

// SinceFromAge computes the `since` bound for Assess given a process start
// time, the current time, and a max age in nanoseconds. It saturates to nil
// (no bound) when the process has not been alive long enough for the
// subtraction to be meaningful, matching the open question in spec.md
// section 9: clock resolution is an implementation choice, but we must not
// manufacture a since point earlier than the process itself existed.
func SinceFromAge(processStart, now time.Time, maxAgeNS uint64) *time.Time {
	if maxAgeNS == 0 {
		return nil
	}
	since := now.Add(-time.Duration(maxAgeNS))
	if since.Before(processStart) {
		return nil
	}
	return &since
}
