package dispatcher_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/netpool/dispatch/pkg/dispatcher"
	srverrors "github.com/netpool/dispatch/pkg/errors"
)

func TestDispatcher(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Endpoint Dispatcher Suite")
}

// recordingDelegate captures every callback it receives; safe for
// concurrent use by the dispatcher's internal goroutines.
type recordingDelegate struct {
	mu         sync.Mutex
	responses  int
	dataChunks int
	failures   int
	finishes   int
	lastErr    error
	finished   chan struct{}
}

func newRecordingDelegate() *recordingDelegate {
	return &recordingDelegate{finished: make(chan struct{}, 1)}
}

func (r *recordingDelegate) DidReceiveResponse(op *dispatcher.Operation, resp *http.Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses++
}

func (r *recordingDelegate) DidReceiveData(op *dispatcher.Operation, chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dataChunks++
}

func (r *recordingDelegate) DidFail(op *dispatcher.Operation, err error) {
	r.mu.Lock()
	r.failures++
	r.lastErr = err
	r.mu.Unlock()
	r.finished <- struct{}{}
}

func (r *recordingDelegate) DidFinish(op *dispatcher.Operation) {
	r.mu.Lock()
	r.finishes++
	r.mu.Unlock()
	r.finished <- struct{}{}
}

// blockingHandler serves requests that hang until release is closed, so
// tests can pin a configurable number of requests in flight at once.
func blockingHandler(release <-chan struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

var _ = Describe("Dispatcher", func() {
	It("rejects constructing with L > M", func() {
		_, err := dispatcher.New(dispatcher.Options{MaxPerEndpoint: 2, MaxLongPerEndpoint: 3})
		Expect(err).To(HaveOccurred())
	})

	It("rejects SetMaxLongPerEndpoint above M", func() {
		d, err := dispatcher.New(dispatcher.Options{MaxPerEndpoint: 4, MaxLongPerEndpoint: 2})
		Expect(err).NotTo(HaveOccurred())
		Expect(d.SetMaxLongPerEndpoint(5)).To(HaveOccurred())
	})

	// S4 — Short admission backpressure.
	It("admits at most M short requests concurrently and lets the rest wait", func() {
		const m = 4
		release := make(chan struct{})
		server := httptest.NewServer(blockingHandler(release))
		defer server.Close()

		d, err := dispatcher.New(dispatcher.Options{MaxPerEndpoint: m, MaxLongPerEndpoint: 2})
		Expect(err).NotTo(HaveOccurred())

		delegates := make([]*recordingDelegate, 6)
		for i := range delegates {
			delegates[i] = newRecordingDelegate()
		}

		for i := 0; i < 6; i++ {
			req, err := http.NewRequest(http.MethodGet, server.URL, nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = d.DispatchShortRequest(req, delegates[i])
			Expect(err).NotTo(HaveOccurred())
		}

		// Give the async admission goroutines a moment to settle, then
		// confirm no more than M ever made it to the server concurrently.
		Consistently(func() int64 {
			stats := d.Stats(endpointKeyFor(server.URL))
			return int64(stats.RunningShort)
		}, 300*time.Millisecond, 20*time.Millisecond).Should(BeNumerically("<=", m))

		stats := d.Stats(endpointKeyFor(server.URL))
		Expect(stats.RunningShort).To(Equal(m))

		close(release)

		for _, del := range delegates {
			Eventually(del.finished, 2*time.Second).Should(Receive())
		}

		final := d.Stats(endpointKeyFor(server.URL))
		Expect(final.RunningShort).To(Equal(0))
	})

	// S5 — Long limit Throw.
	It("throws LongLimitExceededError synchronously once L is saturated", func() {
		const m, l = 4, 2
		release := make(chan struct{})
		server := httptest.NewServer(blockingHandler(release))
		defer server.Close()
		defer close(release)

		d, err := dispatcher.New(dispatcher.Options{
			MaxPerEndpoint:     m,
			MaxLongPerEndpoint: l,
			OverflowPolicy:     dispatcher.Throw,
		})
		Expect(err).NotTo(HaveOccurred())

		for i := 0; i < l; i++ {
			req, err := http.NewRequest(http.MethodGet, server.URL, nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = d.DispatchLongRequest(req, newRecordingDelegate())
			Expect(err).NotTo(HaveOccurred())
		}

		Eventually(func() int {
			return d.Stats(endpointKeyFor(server.URL)).RunningLong
		}, time.Second).Should(Equal(l))

		req, err := http.NewRequest(http.MethodGet, server.URL, nil)
		Expect(err).NotTo(HaveOccurred())
		before := d.Stats(endpointKeyFor(server.URL))

		_, err = d.DispatchLongRequest(req, newRecordingDelegate())
		Expect(err).To(HaveOccurred())
		var longErr *srverrors.LongLimitExceededError
		Expect(stderrors.As(err, &longErr)).To(BeTrue())

		after := d.Stats(endpointKeyFor(server.URL))
		Expect(after).To(Equal(before))
	})

	// S6 — Long limit Enqueue with FIFO. Only the first l requests to reach
	// the server block; once one holder is released, a single long slot
	// frees at a time, so the waiters' admission order is observable.
	It("enqueues long overflow and admits waiters FIFO as slots free up", func() {
		const m, l = 4, 2
		releases := []chan struct{}{make(chan struct{}), make(chan struct{})}
		var served atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if n := served.Add(1); int(n) <= len(releases) {
				<-releases[n-1]
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		d, err := dispatcher.New(dispatcher.Options{
			MaxPerEndpoint:     m,
			MaxLongPerEndpoint: l,
			OverflowPolicy:     dispatcher.Enqueue,
		})
		Expect(err).NotTo(HaveOccurred())

		running := make([]*recordingDelegate, l)
		for i := 0; i < l; i++ {
			req, err := http.NewRequest(http.MethodGet, server.URL, nil)
			Expect(err).NotTo(HaveOccurred())
			running[i] = newRecordingDelegate()
			_, err = d.DispatchLongRequest(req, running[i])
			Expect(err).NotTo(HaveOccurred())
		}
		Eventually(func() int {
			return d.Stats(endpointKeyFor(server.URL)).RunningLong
		}, time.Second).Should(Equal(l))

		var order []int
		var orderMu sync.Mutex
		waiterCount := 3
		for i := 0; i < waiterCount; i++ {
			i := i
			req, err := http.NewRequest(http.MethodGet, server.URL, nil)
			Expect(err).NotTo(HaveOccurred())
			del := &orderingDelegate{
				n: i,
				onStart: func(n int) {
					orderMu.Lock()
					order = append(order, n)
					orderMu.Unlock()
				},
			}
			_, err = d.DispatchLongRequest(req, del)
			Expect(err).NotTo(HaveOccurred())
			time.Sleep(5 * time.Millisecond) // preserve submission order
		}

		// Release one holder: its slot admits waiter 0, whose completion
		// admits waiter 1, and so on, while the second holder stays pinned.
		close(releases[0])

		Eventually(func() []int {
			orderMu.Lock()
			defer orderMu.Unlock()
			return append([]int(nil), order...)
		}, 2*time.Second).Should(HaveLen(waiterCount))

		orderMu.Lock()
		Expect(order).To(Equal([]int{0, 1, 2}))
		orderMu.Unlock()

		close(releases[1])
		for _, del := range running {
			Eventually(del.finished, 2*time.Second).Should(Receive())
		}
	})

	// Cancelling a long request still sitting in the Enqueue overflow queue
	// must actually remove it and unblock its caller, not leak a goroutine
	// waiting forever for a slot it will never claim.
	It("cancels a long operation still waiting in the Enqueue overflow queue", func() {
		const m, l = 4, 1
		release := make(chan struct{})
		server := httptest.NewServer(blockingHandler(release))
		defer server.Close()

		d, err := dispatcher.New(dispatcher.Options{
			MaxPerEndpoint:     m,
			MaxLongPerEndpoint: l,
			OverflowPolicy:     dispatcher.Enqueue,
		})
		Expect(err).NotTo(HaveOccurred())

		holder := newRecordingDelegate()
		req, err := http.NewRequest(http.MethodGet, server.URL, nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = d.DispatchLongRequest(req, holder)
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() int {
			return d.Stats(endpointKeyFor(server.URL)).RunningLong
		}, time.Second).Should(Equal(l))

		waiting := newRecordingDelegate()
		waitReq, err := http.NewRequest(http.MethodGet, server.URL, nil)
		Expect(err).NotTo(HaveOccurred())
		waitOp, err := d.DispatchLongRequest(waitReq, waiting)
		Expect(err).NotTo(HaveOccurred())
		Expect(waitOp.State()).To(Equal(dispatcher.Created))

		waitOp.Cancel()

		Eventually(waitOp.Done(), time.Second).Should(BeClosed())
		Expect(waitOp.State()).To(Equal(dispatcher.Cancelled))
		waiting.mu.Lock()
		Expect(waiting.failures).To(Equal(1))
		waiting.mu.Unlock()

		// The holder's eventual release must not find the cancelled waiter
		// still queued and try to admit it.
		close(release)
		Eventually(holder.finished, 2*time.Second).Should(Receive())
		Consistently(func() int {
			return d.Stats(endpointKeyFor(server.URL)).RunningLong
		}, 200*time.Millisecond, 20*time.Millisecond).Should(Equal(0))
	})

	It("synchronous dispatch returns the response body", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("hello"))
		}))
		defer server.Close()

		d, err := dispatcher.New(dispatcher.Options{})
		Expect(err).NotTo(HaveOccurred())

		req, err := http.NewRequest(http.MethodGet, server.URL, nil)
		Expect(err).NotTo(HaveOccurred())

		body, resp, err := d.DispatchSynchronousRequest(req)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(string(body)).To(Equal("hello"))
	})

	It("releases exactly one slot and delivers exactly one terminal callback per operation", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		d, err := dispatcher.New(dispatcher.Options{MaxPerEndpoint: 2, MaxLongPerEndpoint: 1})
		Expect(err).NotTo(HaveOccurred())

		del := newRecordingDelegate()
		req, err := http.NewRequest(http.MethodGet, server.URL, nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = d.DispatchShortRequest(req, del)
		Expect(err).NotTo(HaveOccurred())

		Eventually(del.finished, time.Second).Should(Receive())

		del.mu.Lock()
		defer del.mu.Unlock()
		Expect(del.finishes + del.failures).To(Equal(1))

		Eventually(func() int {
			return d.Stats(endpointKeyFor(server.URL)).RunningShort
		}, time.Second).Should(Equal(0))
	})

	It("lowering L does not abort already-running long operations", func() {
		release := make(chan struct{})
		server := httptest.NewServer(blockingHandler(release))
		defer server.Close()
		defer close(release)

		d, err := dispatcher.New(dispatcher.Options{MaxPerEndpoint: 4, MaxLongPerEndpoint: 2})
		Expect(err).NotTo(HaveOccurred())

		del := newRecordingDelegate()
		req, err := http.NewRequest(http.MethodGet, server.URL, nil)
		Expect(err).NotTo(HaveOccurred())
		op, err := d.DispatchLongRequest(req, del)
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() int {
			return d.Stats(endpointKeyFor(server.URL)).RunningLong
		}, time.Second).Should(Equal(1))

		Expect(d.SetMaxLongPerEndpoint(1)).NotTo(HaveOccurred())

		Consistently(func() dispatcher.State { return op.State() }, 100*time.Millisecond).Should(Equal(dispatcher.Running))
	})

	It("delivers an OverflowFailError asynchronously under the Fail policy", func() {
		release := make(chan struct{})
		server := httptest.NewServer(blockingHandler(release))
		defer server.Close()
		defer close(release)

		d, err := dispatcher.New(dispatcher.Options{
			MaxPerEndpoint:     4,
			MaxLongPerEndpoint: 1,
			OverflowPolicy:     dispatcher.Fail,
		})
		Expect(err).NotTo(HaveOccurred())

		req, err := http.NewRequest(http.MethodGet, server.URL, nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = d.DispatchLongRequest(req, newRecordingDelegate())
		Expect(err).NotTo(HaveOccurred())
		Eventually(func() int {
			return d.Stats(endpointKeyFor(server.URL)).RunningLong
		}, time.Second).Should(Equal(1))

		del := newRecordingDelegate()
		overflowReq, err := http.NewRequest(http.MethodGet, server.URL, nil)
		Expect(err).NotTo(HaveOccurred())
		op, err := d.DispatchLongRequest(overflowReq, del)
		Expect(err).NotTo(HaveOccurred())

		Eventually(del.finished, time.Second).Should(Receive())
		Expect(op.State()).To(Equal(dispatcher.Failed))
		del.mu.Lock()
		var overflowErr *srverrors.OverflowFailError
		Expect(stderrors.As(del.lastErr, &overflowErr)).To(BeTrue())
		del.mu.Unlock()

		// The synthesized failure never held a slot, so counters are
		// untouched.
		Expect(d.Stats(endpointKeyFor(server.URL)).RunningLong).To(Equal(1))
	})

	It("cancels an in-flight operation through the transport and reports Cancelled", func() {
		release := make(chan struct{})
		server := httptest.NewServer(blockingHandler(release))
		defer server.Close()
		defer close(release)

		d, err := dispatcher.New(dispatcher.Options{MaxPerEndpoint: 4, MaxLongPerEndpoint: 2})
		Expect(err).NotTo(HaveOccurred())

		del := newRecordingDelegate()
		req, err := http.NewRequest(http.MethodGet, server.URL, nil)
		Expect(err).NotTo(HaveOccurred())
		op, err := d.DispatchLongRequest(req, del)
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() int {
			return d.Stats(endpointKeyFor(server.URL)).RunningLong
		}, time.Second).Should(Equal(1))

		op.Cancel()
		op.Cancel() // idempotent

		Eventually(del.finished, 2*time.Second).Should(Receive())
		Expect(op.State()).To(Equal(dispatcher.Cancelled))
		Eventually(func() int {
			return d.Stats(endpointKeyFor(server.URL)).RunningLong
		}, time.Second).Should(Equal(0))
	})

	It("offers a 401 to a challenge-capable delegate and retries with its credential", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != "alice" || pass != "secret" {
				w.Header().Set("WWW-Authenticate", `Basic realm="ops"`)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte("authorized"))
		}))
		defer server.Close()

		d, err := dispatcher.New(dispatcher.Options{})
		Expect(err).NotTo(HaveOccurred())

		del := &challengingDelegate{
			recordingDelegate: newRecordingDelegate(),
			cred:              dispatcher.Credential{Username: "alice", Password: "secret"},
		}
		req, err := http.NewRequest(http.MethodGet, server.URL, nil)
		Expect(err).NotTo(HaveOccurred())

		body, resp, err := d.DispatchSynchronousRequestWithDelegate(req, del)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(string(body)).To(Equal("authorized"))
	})

	It("delivers a 401 untouched when the delegate lacks the challenge capability", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		d, err := dispatcher.New(dispatcher.Options{})
		Expect(err).NotTo(HaveOccurred())

		del := newRecordingDelegate()
		req, err := http.NewRequest(http.MethodGet, server.URL, nil)
		Expect(err).NotTo(HaveOccurred())

		_, resp, err := d.DispatchSynchronousRequestWithDelegate(req, del)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		Eventually(del.finished, time.Second).Should(Receive())
	})
})

// orderingDelegate records the order in which its operation actually starts
// running (via DidReceiveResponse, the first callback after admission).
type orderingDelegate struct {
	n       int
	once    sync.Once
	onStart func(n int)
}

func (o *orderingDelegate) DidReceiveResponse(op *dispatcher.Operation, resp *http.Response) {
	o.once.Do(func() { o.onStart(o.n) })
}
func (o *orderingDelegate) DidReceiveData(op *dispatcher.Operation, chunk []byte) {}
func (o *orderingDelegate) DidFail(op *dispatcher.Operation, err error)           {}
func (o *orderingDelegate) DidFinish(op *dispatcher.Operation)                    {}

// challengingDelegate answers every authentication challenge with a fixed
// basic-auth credential.
type challengingDelegate struct {
	*recordingDelegate
	cred dispatcher.Credential
}

func (c *challengingDelegate) WillSendRequestForAuthenticationChallenge(op *dispatcher.Operation, sender *dispatcher.ChallengeSender) {
	sender.UseCredential(c.cred)
}

// endpointKeyFor mirrors the dispatcher's internal host:port derivation for
// a server's advertised URL, so tests can query Stats without exporting the
// dispatcher's keying function.
func endpointKeyFor(rawURL string) string {
	var host string
	fmt.Sscanf(rawURL, "http://%s", &host)
	return host
}
