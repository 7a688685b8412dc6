// Package delayedcall implements a process-wide delayed-execution service: a
// singleton scheduler that fires callbacks after a delay without requiring
// a host event loop, with cancellation by identity. A dedicated goroutine
// owns a time-ordered queue of entries and sleeps until the earliest one is
// due or a new entry changes that deadline.
package delayedcall

import (
	"container/heap"
	"sync"
	"time"

	srverrors "github.com/netpool/dispatch/pkg/errors"
	"github.com/netpool/dispatch/pkg/invocation"
	"github.com/netpool/dispatch/pkg/tplog"
)

// entry is one pending delayed call, ordered by fireAt.
type entry struct {
	inv    *invocation.Invocation
	fireAt time.Time
	seq    uint64 // insertion order, tie-breaker
	index  int    // heap index, maintained by container/heap
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].fireAt.Equal(h[j].fireAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].fireAt.Before(h[j].fireAt)
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Service is one instance of the Delayed-Call Service. Production code
// normally uses the process-wide singleton via Shared, but Service is
// exported so tests can construct isolated instances.
type Service struct {
	mu      sync.Mutex
	cond    *sync.Cond
	heap    entryHeap
	nextSeq uint64
	closed  bool
	done    chan struct{}
}

var (
	sharedMu sync.Mutex
	shared   *Service
)

// Shared returns the process-wide Delayed-Call Service, lazily creating it
// if it has never existed or was disposed.
func Shared() *Service {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		shared = newService()
	}
	return shared
}

func newService() *Service {
	s := &Service{done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	go s.loop()
	return s
}

// Perform schedules fn to run after delay on the scheduler goroutine. A nil
// fn is rejected. key is used only for later cancellation; pass a zero Key
// if the call will never need to be cancelled by identity.
func (s *Service) Perform(key invocation.Key, fn func(), delay time.Duration) (*invocation.Invocation, error) {
	if fn == nil {
		return nil, srverrors.NewInvalidArgumentError("perform: callable must not be nil")
	}
	inv := invocation.New(key, fn)
	s.schedule(inv, delay)
	return inv, nil
}

func (s *Service) schedule(inv *invocation.Invocation, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		inv.MarkCompleted()
		return
	}
	e := &entry{inv: inv, fireAt: time.Now().Add(delay), seq: s.nextSeq}
	s.nextSeq++
	heap.Push(&s.heap, e)
	s.cond.Signal()
}

// Cancel removes every pending entry whose key matches filter, per the
// matching rules in invocation.Key.Matches. It has no effect on entries
// already executing or completed.
func (s *Service) Cancel(filter invocation.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.heap[:0:0]
	for _, e := range s.heap {
		if e.inv.Key.Matches(filter) {
			e.inv.MarkCompleted()
			continue
		}
		kept = append(kept, e)
	}
	s.heap = kept
	heap.Init(&s.heap)
	s.cond.Signal()
}

// Dispose stops the scheduler goroutine. Any subsequent call to Shared
// reinitializes a fresh service. Entries still pending at dispose time are
// marked completed without running.
func Dispose() {
	sharedMu.Lock()
	s := shared
	shared = nil
	sharedMu.Unlock()
	if s != nil {
		s.dispose()
	}
}

func (s *Service) dispose() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.heap
	s.heap = nil
	s.cond.Signal()
	s.mu.Unlock()
	<-s.done
	for _, e := range pending {
		e.inv.MarkCompleted()
	}
}

func (s *Service) loop() {
	defer close(s.done)
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.closed {
			return
		}
		if len(s.heap) == 0 {
			s.cond.Wait()
			continue
		}
		now := time.Now()
		wait := s.heap[0].fireAt.Sub(now)
		if wait > 0 {
			s.waitWithTimeout(wait)
			continue
		}
		var due []*entry
		for len(s.heap) > 0 && !s.heap[0].fireAt.After(now) {
			due = append(due, heap.Pop(&s.heap).(*entry))
		}
		s.mu.Unlock()
		for _, e := range due {
			runSafely(e.inv)
		}
		s.mu.Lock()
	}
}

// waitWithTimeout blocks on the condition for up to d, relying on Signal
// (from schedule/Cancel/dispose) to wake it early. It must be called with
// s.mu held and returns with s.mu held.
func (s *Service) waitWithTimeout(d time.Duration) {
	woken := make(chan struct{})
	timer := time.AfterFunc(d, func() {
		s.mu.Lock()
		s.cond.Signal()
		s.mu.Unlock()
		close(woken)
	})
	s.cond.Wait()
	timer.Stop()
	select {
	case <-woken:
	default:
	}
}

func runSafely(inv *invocation.Invocation) {
	defer func() {
		if r := recover(); r != nil {
			tplog.Logf(tplog.Timer, "delayedcall", "recovered panic in delayed call: %v", r)
		}
	}()
	inv.Run()
	if err := inv.Err(); err != nil {
		tplog.Logf(tplog.Timer, "delayedcall", "delayed call failed: %v", err)
	}
}
