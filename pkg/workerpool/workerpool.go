// Package workerpool implements a named, fixed-capacity worker pool: lazy
// worker creation, a shared FIFO queue, and idle-worker reaping driven by
// the delayed-call service. Workers are goroutines coordinated through a
// single pool monitor (mutex + condition variable).
package workerpool

import (
	"container/list"
	"sync"
	"time"

	"github.com/netpool/dispatch/pkg/delayedcall"
	srverrors "github.com/netpool/dispatch/pkg/errors"
	"github.com/netpool/dispatch/pkg/invocation"
	"github.com/netpool/dispatch/pkg/tplog"
)

const (
	// IdleThreshold is the wall-clock duration after which a non-working
	// worker becomes eligible for reaping.
	IdleThreshold = 10 * time.Second
	// ReapInterval is how often the idle-worker collector runs.
	ReapInterval = 15 * time.Second
)

// Pool is a named, bounded set of workers draining one shared FIFO queue.
type Pool struct {
	name string
	size int

	mu       sync.Mutex
	cond     *sync.Cond
	queue    *list.List // of *invocation.Invocation
	workers  map[*worker]struct{}
	idle     int // workers currently parked in cond.Wait with nothing to do
	disposed bool

	reapKey invocation.Key
}

type worker struct {
	pool         *Pool
	mu           sync.Mutex
	working      bool
	lastActivity time.Time
	stop         chan struct{}
}

// Create constructs a pool named name with the given fixed size. Both a
// zero size and an empty name are rejected.
func Create(name string, size int) (*Pool, error) {
	if name == "" {
		return nil, srverrors.NewInvalidArgumentError("pool name must not be empty")
	}
	if size <= 0 {
		return nil, srverrors.NewInvalidArgumentError("pool size must be positive, got %d", size)
	}
	p := &Pool{
		name:    name,
		size:    size,
		queue:   list.New(),
		workers: make(map[*worker]struct{}),
		reapKey: invocation.Key{Target: new(int), Selector: "reap"},
	}
	p.cond = sync.NewCond(&p.mu)
	p.armReaper()
	return p, nil
}

// Name returns the pool's diagnostic name.
func (p *Pool) Name() string { return p.name }

// Schedule enqueues fn for execution and returns its Invocation handle
// immediately; it never blocks on capacity. An idle worker is woken first;
// a new worker is spawned only when none is idle and fewer than size
// workers are currently live.
func (p *Pool) Schedule(fn func()) (*invocation.Invocation, error) {
	if fn == nil {
		return nil, srverrors.NewInvalidArgumentError("schedule: callable must not be nil")
	}
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return nil, srverrors.NewDisposedError("worker pool " + p.name)
	}
	inv := invocation.New(invocation.Key{}, fn)
	p.queue.PushBack(inv)
	if p.idle > 0 {
		p.cond.Signal()
		p.mu.Unlock()
		return inv, nil
	}
	if len(p.workers) < p.size {
		w := p.newWorkerLocked()
		live := p.liveCount()
		p.mu.Unlock()
		go w.run()
		tplog.Logf(tplog.ThreadPool, p.name, "spawned worker, live=%d", live)
		return inv, nil
	}
	p.cond.Signal()
	p.mu.Unlock()
	return inv, nil
}

// QueueSize returns the current length of the shared pending queue.
func (p *Pool) QueueSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

// LiveWorkers returns the number of currently live workers.
func (p *Pool) LiveWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.liveCount()
}

func (p *Pool) liveCount() int {
	return len(p.workers)
}

// WorkingWorkers returns the number of workers currently executing an
// invocation.
func (p *Pool) WorkingWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for w := range p.workers {
		w.mu.Lock()
		if w.working {
			n++
		}
		w.mu.Unlock()
	}
	return n
}

// Dispose marks the pool disposed and wakes every worker; each worker
// finishes draining the shared queue and then terminates. No further
// submissions are accepted.
func (p *Pool) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	delayedcall.Shared().Cancel(p.reapKey)
}

func (p *Pool) newWorkerLocked() *worker {
	w := &worker{pool: p, lastActivity: time.Now(), stop: make(chan struct{})}
	p.workers[w] = struct{}{}
	return w
}

// run is the worker's loop: pull from the shared FIFO while available,
// otherwise wait on the pool condition until it is signalled (new work,
// dispose, or the reaper's broadcast), and exit if reaped or the pool is
// disposed. The wait itself has no timeout; idle workers are reclaimed only
// by the reaper.
func (w *worker) run() {
	p := w.pool
	for {
		p.mu.Lock()
		for p.queue.Len() == 0 && !p.disposed {
			select {
			case <-w.stop:
				p.mu.Unlock()
				p.removeWorker(w)
				return
			default:
			}
			p.idle++
			p.cond.Wait()
			p.idle--
		}
		if p.queue.Len() == 0 {
			// Disposed with nothing left to drain.
			p.mu.Unlock()
			p.removeWorker(w)
			return
		}
		front := p.queue.Remove(p.queue.Front())
		p.mu.Unlock()

		inv := front.(*invocation.Invocation)
		w.mu.Lock()
		w.working = true
		w.lastActivity = time.Now()
		w.mu.Unlock()

		runSafely(p.name, inv)

		w.mu.Lock()
		w.working = false
		w.lastActivity = time.Now()
		w.mu.Unlock()

		select {
		case <-w.stop:
			// Reaped mid-burst; keep draining the shared queue first so no
			// enqueued invocation is stranded.
			p.mu.Lock()
			empty := p.queue.Len() == 0
			p.mu.Unlock()
			if empty {
				p.removeWorker(w)
				return
			}
		default:
		}
	}
}

func (p *Pool) removeWorker(w *worker) {
	p.mu.Lock()
	delete(p.workers, w)
	live := p.liveCount()
	p.mu.Unlock()
	tplog.Logf(tplog.ThreadPool, p.name, "worker terminated, live=%d", live)
}

// runSafely executes inv. Invocation.Run already recovers panics and fires
// the completion latch exactly once; this only adds pool-scoped logging.
func runSafely(poolName string, inv *invocation.Invocation) {
	inv.Run()
	if err := inv.Err(); err != nil {
		tplog.Logf(tplog.ThreadPool, poolName, "invocation failed: %v", err)
	}
}

// armReaper schedules the idle-worker collector via the shared delayed-call
// service; the collector re-arms itself every ReapInterval.
func (p *Pool) armReaper() {
	if _, err := delayedcall.Shared().Perform(p.reapKey, p.reap, ReapInterval); err != nil {
		tplog.Logf(tplog.ThreadPool, p.name, "failed to arm reaper: %v", err)
	}
}

func (p *Pool) reap() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	now := time.Now()
	var idle []*worker
	for w := range p.workers {
		w.mu.Lock()
		if !w.working && now.Sub(w.lastActivity) >= IdleThreshold {
			idle = append(idle, w)
		}
		w.mu.Unlock()
	}
	p.mu.Unlock()

	for _, w := range idle {
		select {
		case <-w.stop:
		default:
			close(w.stop)
		}
	}
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()

	p.armReaper()
}
