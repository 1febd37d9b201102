// Package dispatch implements the cross-core dispatcher (C3): it forwards
// error-record insertions produced on any reactor to the single designated
// management reactor, preserving submission order per source reactor.
//
// Reactors are modeled as single goroutines draining a bounded channel,
// mirroring the single-threaded-cooperative-executor model of spec.md
// section 5. Go gives no portable way to actually pin a goroutine to a CPU
// core, so "pinning" here is a naming convention (reactor index == the core
// it conceptually owns), not a scheduler guarantee.
package dispatch

import (
	"context"
	"sync"

	"github.com/nexusd/nexusd/pkg/metrics"
	"k8s.io/klog/v2"
)

// ManagementReactorID is the fixed index of the reactor that owns every
// ring mutation and fault evaluation.
const ManagementReactorID = 0

// Task is a unit of work delivered to the management reactor. Tasks must
// never return an error to the dispatcher: per spec.md section 7, I/O-path
// failures are counted and logged, never propagated.
type Task func()

// Dispatcher owns one bounded channel into the management reactor, shared
// by every source reactor, and a single goroutine draining it in
// submission order.
type Dispatcher struct {
	queueSize int

	mu      sync.Mutex
	started bool
	mgmtCh  chan Task
	done    chan struct{}
}

// New builds a Dispatcher whose management-reactor channel can hold
// queueSize pending tasks before Submit starts dropping work.
func New(queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Dispatcher{
		queueSize: queueSize,
		mgmtCh:    make(chan Task, queueSize),
		done:      make(chan struct{}),
	}
}

// Start launches the management reactor's drain loop. It is idempotent.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	go d.run(ctx)
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		case task, ok := <-d.mgmtCh:
			if !ok {
				return
			}
			task()
		}
	}
}

// drain runs any tasks still queued at shutdown time so management-reactor
// work submitted just before cancellation is not silently lost, without
// blocking shutdown on new submissions.
func (d *Dispatcher) drain() {
	for {
		select {
		case task := <-d.mgmtCh:
			task()
		default:
			return
		}
	}
}

// Stop closes the management channel and waits for the drain loop to
// finish processing whatever was already queued.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	close(d.mgmtCh)
	<-d.done
}

// Submit enqueues task on the management reactor. It never blocks: if the
// channel is full the task is dropped and a counter is incremented, so the
// calling reactor's hot path is never coupled to management-reactor
// latency. sourceReactor is only used in the drop log message; FIFO
// ordering per source reactor falls out naturally because each source
// reactor is itself single-threaded and therefore submits in program
// order, and the shared channel never reorders sends relative to each
// other.
func (d *Dispatcher) Submit(sourceReactor int, task Task) {
	select {
	case d.mgmtCh <- task:
		metrics.DispatchQueueDepth.Set(float64(len(d.mgmtCh)))
	default:
		metrics.DispatchDropped.Inc()
		klog.V(4).Infof("dispatch: management reactor queue full, dropping task from reactor %d", sourceReactor)
	}
}

// QueueDepth reports how many tasks are currently queued, for metrics and
// tests. It is inherently racy with concurrent Submit/drain calls and is
// meant only as an approximate gauge.
func (d *Dispatcher) QueueDepth() int {
	return len(d.mgmtCh)
}
