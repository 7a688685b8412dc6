package dispatcher

import (
	"container/list"
	"net/url"
	"sync"
)

// endpointKey derives the canonical host:port key for u. Scheme, path, and
// query are not part of the key; the port defaults per scheme when absent.
func endpointKey(u *url.URL) string {
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https":
			port = "443"
		default:
			port = "80"
		}
	}
	return host + ":" + port
}

// waiter is a single admission-queue entry, woken by exactly one slot
// release.
type waiter struct {
	mu        sync.Mutex
	cancelled bool
	ch        chan struct{}
}

func newWaiter() *waiter {
	return &waiter{ch: make(chan struct{})}
}

func (w *waiter) cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelled = true
}

func (w *waiter) isCancelled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancelled
}

func (w *waiter) wake() {
	close(w.ch)
}

// endpointState holds the admission counters and waiter queues for one
// host:port. All mutation happens under mu.
type endpointState struct {
	mu    sync.Mutex
	short int
	long  int

	shortWaiters *list.List // of *waiter, FIFO
	longWaiters  *list.List // of *waiter, FIFO
}

func newEndpointState() *endpointState {
	return &endpointState{
		shortWaiters: list.New(),
		longWaiters:  list.New(),
	}
}

func (e *endpointState) tryAdmitShortLocked(m int) bool {
	if e.short+e.long < m {
		e.short++
		return true
	}
	return false
}

func (e *endpointState) tryAdmitLongLocked(m, l int) bool {
	if e.long < l && e.short+e.long < m {
		e.long++
		return true
	}
	return false
}

// release decrements the slot held for isLong, then admits at most one
// waiter: a long waiter is preferred over a short waiter when both a long
// slot and general slot are available, otherwise a short waiter is
// admitted when general capacity allows. The winning waiter's slot is
// already accounted for by this call before it is woken.
func (e *endpointState) release(isLong bool, m, l int) {
	e.mu.Lock()
	if isLong {
		e.long--
	} else {
		e.short--
	}

	for e.longWaiters.Len() > 0 {
		front := e.longWaiters.Front()
		w := front.Value.(*waiter)
		e.longWaiters.Remove(front)
		if w.isCancelled() {
			continue
		}
		if !e.tryAdmitLongLocked(m, l) {
			// No long slot available right now; put it back at the front
			// and fall through to try a short waiter instead so the
			// release isn't wasted.
			e.longWaiters.PushFront(w)
			break
		}
		e.mu.Unlock()
		w.wake()
		return
	}

	for e.shortWaiters.Len() > 0 {
		front := e.shortWaiters.Front()
		w := front.Value.(*waiter)
		e.shortWaiters.Remove(front)
		if w.isCancelled() {
			continue
		}
		if !e.tryAdmitShortLocked(m) {
			e.shortWaiters.PushFront(w)
			break
		}
		e.mu.Unlock()
		w.wake()
		return
	}

	e.mu.Unlock()
}

// cancelWaiter removes w from waiters if it is still pending admission,
// reporting whether the removal happened. release pops a waiter, checks
// isCancelled, and only then commits its slot, all under e.mu — so if
// cancelWaiter finds w still in the list, no slot has been granted for it
// yet, and marking it cancelled here is safe. If release has already
// popped w (cancelWaiter returns false), the slot has already been
// committed and release is guaranteed to call w.wake() regardless of
// anything this call does; the caller must honor that grant rather than
// report a cancellation, or the endpoint's counters would leak a slot.
func (e *endpointState) cancelWaiter(waiters *list.List, w *waiter) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for el := waiters.Front(); el != nil; el = el.Next() {
		if el.Value.(*waiter) == w {
			waiters.Remove(el)
			w.cancel()
			return true
		}
	}
	return false
}
