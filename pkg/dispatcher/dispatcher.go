// Package dispatcher implements the per-endpoint HTTP request dispatcher.
// It caps concurrent requests per host:port, distinguishes short from
// long-running requests, and offers synchronous and asynchronous submission
// modes with delegate callbacks. The HTTP transport itself (TLS, framing,
// auth negotiation) is an external collaborator reached through net/http;
// the dispatcher owns admission, event demultiplexing, and slot release.
package dispatcher

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	srverrors "github.com/netpool/dispatch/pkg/errors"
	"github.com/netpool/dispatch/pkg/tplog"
	"github.com/netpool/dispatch/pkg/workerpool"
)

const (
	DefaultMaxPerEndpoint     = 4
	DefaultMaxLongPerEndpoint = 2
	DefaultOverflowPolicy     = Throw
	// DefaultMaxLongWaiters bounds the Enqueue overflow policy's waiter
	// queue depth; a submission beyond the bound fails instead of growing
	// the queue without limit.
	DefaultMaxLongWaiters = 64
)

// Dispatcher is the singleton endpoint admission engine.
type Dispatcher struct {
	httpClient *http.Client

	mu             sync.RWMutex
	m              int
	l              int
	policy         OverflowPolicy
	maxLongWaiters int

	endpoints map[string]*endpointState

	opsMu sync.Mutex
	opID  atomic.Uint64
	ops   map[uint64]*Operation

	// shortAsyncPool runs the submitter-side blocking-wait step for async
	// short submissions so the caller's goroutine never blocks.
	shortAsyncPool *workerpool.Pool
}

var (
	sharedMu sync.Mutex
	shared   *Dispatcher
)

// Shared returns the process-wide Dispatcher, constructing it with default
// (M, L, policy) on first use or after Dispose.
func Shared() *Dispatcher {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		d, err := New(Options{})
		if err != nil {
			panic(err) // defaults are always valid
		}
		shared = d
	}
	return shared
}

// InitShared constructs the process-wide Dispatcher with opts, replacing
// any existing shared instance. Intended for startup wiring (cmd/dispatchd);
// library code should prefer Shared.
func InitShared(opts Options) (*Dispatcher, error) {
	d, err := New(opts)
	if err != nil {
		return nil, err
	}
	sharedMu.Lock()
	shared = d
	sharedMu.Unlock()
	return d, nil
}

// Dispose tears down the process-wide Dispatcher. A subsequent call to
// Shared reinitializes a fresh one.
func Dispose() {
	sharedMu.Lock()
	d := shared
	shared = nil
	sharedMu.Unlock()
	if d != nil {
		d.shortAsyncPool.Dispose()
	}
}

// Options configures a Dispatcher constructed with New.
type Options struct {
	MaxPerEndpoint     int
	MaxLongPerEndpoint int
	OverflowPolicy     OverflowPolicy
	MaxLongWaiters     int
	Transport          http.RoundTripper
}

// New constructs an independent Dispatcher; most callers want Shared
// instead. Exported for tests and for composing multiple dispatchers
// against distinct transports.
func New(opts Options) (*Dispatcher, error) {
	m := opts.MaxPerEndpoint
	if m == 0 {
		m = DefaultMaxPerEndpoint
	}
	l := opts.MaxLongPerEndpoint
	if l == 0 {
		l = DefaultMaxLongPerEndpoint
	}
	if l > m {
		return nil, srverrors.NewInvalidArgumentError("max_long_per_endpoint (%d) > max_per_endpoint (%d)", l, m)
	}
	maxWaiters := opts.MaxLongWaiters
	if maxWaiters == 0 {
		maxWaiters = DefaultMaxLongWaiters
	}
	pool, err := workerpool.Create("dispatcher-short-async", m*4)
	if err != nil {
		return nil, err
	}
	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{MaxConnsPerHost: m}
	}
	return &Dispatcher{
		httpClient:     &http.Client{Transport: transport},
		m:              m,
		l:              l,
		policy:         opts.OverflowPolicy,
		maxLongWaiters: maxWaiters,
		endpoints:      make(map[string]*endpointState),
		ops:            make(map[uint64]*Operation),
		shortAsyncPool: pool,
	}, nil
}

func (d *Dispatcher) endpointFor(key string) *endpointState {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.endpoints[key]
	if !ok {
		e = newEndpointState()
		d.endpoints[key] = e
	}
	return e
}

func (d *Dispatcher) limits() (m, l int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.m, d.l
}

// SetMaxLongPerEndpoint updates L at runtime. Setting it above M fails with
// InvalidArgumentError. Lowering it does not cancel excess running long
// operations; it only gates future admissions.
func (d *Dispatcher) SetMaxLongPerEndpoint(l int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l > d.m {
		return srverrors.NewInvalidArgumentError("max_long_per_endpoint (%d) > max_per_endpoint (%d)", l, d.m)
	}
	d.l = l
	return nil
}

// IsLongAllowed reports whether a long request to u could be admitted right
// now: long(e) < L and short(e)+long(e) < M.
func (d *Dispatcher) IsLongAllowed(u *url.URL) bool {
	key := endpointKey(u)
	e := d.endpointFor(key)
	m, l := d.limits()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.long < l && e.short+e.long < m
}

// CountRunningLong returns long(e) for the endpoint derived from u.
func (d *Dispatcher) CountRunningLong(u *url.URL) int {
	key := endpointKey(u)
	e := d.endpointFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.long
}

// EndpointStats is a point-in-time snapshot for introspection surfaces.
type EndpointStats struct {
	Endpoint       string
	RunningShort   int
	RunningLong    int
	IsLongAllowed  bool
	MaxPerEndpoint int
	MaxLong        int
}

// Stats returns a snapshot for the given endpoint key (host:port).
func (d *Dispatcher) Stats(key string) EndpointStats {
	e := d.endpointFor(key)
	m, l := d.limits()
	e.mu.Lock()
	defer e.mu.Unlock()
	return EndpointStats{
		Endpoint:       key,
		RunningShort:   e.short,
		RunningLong:    e.long,
		IsLongAllowed:  e.long < l && e.short+e.long < m,
		MaxPerEndpoint: m,
		MaxLong:        l,
	}
}

// registerOp assigns an operation ID and registers it in the task map.
func (d *Dispatcher) registerOp(op *Operation) {
	op.id = d.opID.Add(1)
	d.opsMu.Lock()
	d.ops[op.id] = op
	d.opsMu.Unlock()
}

// Lookup returns a previously submitted operation by ID, for polling
// surfaces.
func (d *Dispatcher) Lookup(id uint64) (*Operation, bool) {
	d.opsMu.Lock()
	defer d.opsMu.Unlock()
	op, ok := d.ops[id]
	return op, ok
}

// newOperation builds an unregistered Operation for req.
func (d *Dispatcher) newOperation(req *http.Request, delegate Delegate, gather, isLong bool) *Operation {
	key := endpointKey(req.URL)
	ctx, cancel := context.WithCancel(req.Context())
	return &Operation{
		request:  req.WithContext(ctx),
		endpoint: key,
		delegate: delegate,
		gather:   gather,
		isLong:   isLong,
		state:    Created,
		done:     make(chan struct{}),
		cancelFn: cancel,
		disp:     d,
	}
}

// DispatchSynchronousRequest submits req as a short request and blocks
// until terminal, returning the accumulated body exactly like
// http.Client.Do plus buffering.
func (d *Dispatcher) DispatchSynchronousRequest(req *http.Request) ([]byte, *http.Response, error) {
	return d.DispatchSynchronousRequestWithDelegate(req, nil)
}

// DispatchSynchronousRequestWithDelegate behaves like
// DispatchSynchronousRequest but additionally streams events to delegate
// (which may be nil) while the caller blocks.
func (d *Dispatcher) DispatchSynchronousRequestWithDelegate(req *http.Request, delegate Delegate) ([]byte, *http.Response, error) {
	op := d.newOperation(req, delegate, true, false)
	if err := d.acquireShortBlocking(op.request.Context(), op.endpoint); err != nil {
		return nil, nil, err
	}
	d.registerOp(op)
	d.run(op)
	op.WaitForCompletion()
	return op.Data(), op.Response(), op.Error()
}

// DispatchShortRequest submits req as a short asynchronous request: it
// returns immediately with an Operation descriptor, streaming events to
// delegate. If all endpoint slots are busy, the blocking wait for a slot
// happens on an internal pool so the caller never blocks.
func (d *Dispatcher) DispatchShortRequest(req *http.Request, delegate Delegate) (*Operation, error) {
	if delegate == nil {
		return nil, srverrors.NewInvalidArgumentError("dispatch short request: delegate must not be nil")
	}
	op := d.newOperation(req, delegate, false, false)
	d.registerOp(op)
	_, err := d.shortAsyncPool.Schedule(func() {
		if err := d.acquireShortBlocking(op.request.Context(), op.endpoint); err != nil {
			d.finishWithError(op, err)
			return
		}
		d.run(op)
	})
	if err != nil {
		return nil, err
	}
	return op, nil
}

// DispatchLongRequest submits req as a long asynchronous request, counted
// against L in addition to M. Admission denial is handled per the
// dispatcher's configured OverflowPolicy.
func (d *Dispatcher) DispatchLongRequest(req *http.Request, delegate Delegate) (*Operation, error) {
	if delegate == nil {
		return nil, srverrors.NewInvalidArgumentError("dispatch long request: delegate must not be nil")
	}
	key := endpointKey(req.URL)
	e := d.endpointFor(key)
	m, l := d.limits()

	op := d.newOperation(req, delegate, false, true)

	e.mu.Lock()
	if e.tryAdmitLongLocked(m, l) {
		e.mu.Unlock()
		d.registerOp(op)
		op.mu.Lock()
		op.state = Running
		op.acquired = true
		op.mu.Unlock()
		go d.run(op)
		return op, nil
	}
	e.mu.Unlock()

	switch d.policyFor() {
	case Throw:
		return nil, srverrors.NewLongLimitExceededError(key)

	case Fail:
		d.registerOp(op)
		go d.finishWithError(op, srverrors.NewOverflowFailError(key))
		return op, nil

	case Enqueue:
		e.mu.Lock()
		if e.longWaiters.Len() >= d.maxLongWaiters {
			e.mu.Unlock()
			return nil, srverrors.NewOverflowFailError(key)
		}
		w := newWaiter()
		e.longWaiters.PushBack(w)
		e.mu.Unlock()
		d.registerOp(op)
		go func() {
			select {
			case <-w.ch:
				d.run(op)
			case <-op.request.Context().Done():
				if e.cancelWaiter(e.longWaiters, w) {
					d.finishWithError(op, srverrors.NewCancelledError(key))
					return
				}
				// release already popped and admitted this waiter; the
				// slot is committed regardless, so honor it.
				<-w.ch
				d.run(op)
			}
		}()
		return op, nil

	default:
		return nil, srverrors.NewInvalidArgumentError("unknown overflow policy %v", d.policyFor())
	}
}

func (d *Dispatcher) policyFor() OverflowPolicy {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.policy
}

// acquireShortBlocking blocks the calling goroutine until a short slot is
// available at key, honoring ctx cancellation.
func (d *Dispatcher) acquireShortBlocking(ctx context.Context, key string) error {
	e := d.endpointFor(key)
	m, _ := d.limits()

	e.mu.Lock()
	if e.tryAdmitShortLocked(m) {
		e.mu.Unlock()
		return nil
	}
	w := newWaiter()
	e.shortWaiters.PushBack(w)
	e.mu.Unlock()

	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		if e.cancelWaiter(e.shortWaiters, w) {
			return srverrors.NewCancelledError(key)
		}
		// release already popped and admitted this waiter before the
		// cancellation was observed; the slot is committed regardless of
		// what we do here, so honor it instead of leaking it.
		<-w.ch
		return nil
	}
}

// run starts the transport task for op and wires the response into the
// dispatcher's event demultiplexing.
func (d *Dispatcher) run(op *Operation) {
	op.mu.Lock()
	op.state = Running
	op.acquired = true
	op.mu.Unlock()

	tplog.Logf(tplog.URLDispatcher, op.endpoint, "starting %s %s (long=%v)", op.request.Method, op.request.URL, op.isLong)

	resp, err := d.httpClient.Do(op.request)
	if err != nil {
		cancelled := op.request.Context().Err() != nil
		var terr error
		if cancelled {
			terr = srverrors.NewCancelledError(op.endpoint)
		} else {
			terr = srverrors.NewTransportError(op.endpoint, err)
		}
		d.finishWithError(op, terr)
		return
	}

	if resp.StatusCode == http.StatusUnauthorized {
		replacement, cancelled := d.handleAuthenticationChallenge(op, resp)
		if cancelled {
			d.finishWithError(op, srverrors.NewCancelledError(op.endpoint))
			return
		}
		if replacement != nil {
			resp = replacement
		}
	}

	d.deliverResponse(op, resp)

	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			d.deliverData(op, chunk)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			resp.Body.Close()
			if op.request.Context().Err() != nil {
				d.finishWithError(op, srverrors.NewCancelledError(op.endpoint))
			} else {
				d.finishWithError(op, srverrors.NewTransportError(op.endpoint, readErr))
			}
			return
		}
	}
	resp.Body.Close()
	d.finishSuccess(op)
}

// handleAuthenticationChallenge forwards a 401 response to op's delegate if
// it implements ChallengeDelegate and lets it decide the disposition; a
// delegate without that capability gets default handling (the 401 response
// is delivered as-is). Returns a replacement response on a successful
// credentialed retry, or cancelled=true if the delegate chose to cancel.
func (d *Dispatcher) handleAuthenticationChallenge(op *Operation, resp *http.Response) (replacement *http.Response, cancelled bool) {
	challenger, ok := op.delegate.(ChallengeDelegate)
	if !ok {
		return nil, false
	}

	sender := newChallengeSender()
	challenger.WillSendRequestForAuthenticationChallenge(op, sender)
	disposition, cred := sender.wait()

	switch disposition {
	case UseCredential:
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if cred != nil {
			op.request.SetBasicAuth(cred.Username, cred.Password)
		}
		retryResp, err := d.httpClient.Do(op.request)
		if err != nil {
			return nil, false
		}
		return retryResp, false

	case CancelChallenge:
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, true

	default: // ContinueWithoutCredential, RejectProtectionSpace, PerformDefaultHandling
		return nil, false
	}
}

func (d *Dispatcher) deliverResponse(op *Operation, resp *http.Response) {
	op.mu.Lock()
	op.resp = resp
	op.mu.Unlock()
	if op.delegate != nil {
		op.delegate.DidReceiveResponse(op, resp)
	}
}

func (d *Dispatcher) deliverData(op *Operation, chunk []byte) {
	op.mu.Lock()
	if op.gather {
		op.buf.Write(chunk)
	}
	op.mu.Unlock()
	if op.delegate != nil {
		op.delegate.DidReceiveData(op, chunk)
	}
}

func (d *Dispatcher) finishSuccess(op *Operation) {
	op.mu.Lock()
	if op.state.terminal() {
		op.mu.Unlock()
		return
	}
	op.state = Succeeded
	op.mu.Unlock()
	close(op.done)

	if op.delegate != nil {
		op.delegate.DidFinish(op)
	}
	d.releaseSlot(op)
}

func (d *Dispatcher) finishWithError(op *Operation, err error) {
	op.mu.Lock()
	if op.state.terminal() {
		op.mu.Unlock()
		return
	}
	var transportErr *srverrors.TransportError
	if stderrors.As(err, &transportErr) && transportErr.IsCancelled() {
		op.state = Cancelled
	} else {
		op.state = Failed
	}
	op.err = err
	op.mu.Unlock()
	close(op.done)

	if op.delegate != nil {
		op.delegate.DidFail(op, err)
	}
	d.releaseSlot(op)
}

// releaseSlot releases the endpoint slot this operation held, if it ever
// acquired one. Operations that were synthesized by the Fail overflow
// policy, or that failed admission before acquiring a slot, hold none.
func (d *Dispatcher) releaseSlot(op *Operation) {
	op.mu.Lock()
	acquired := op.acquired
	op.mu.Unlock()
	if !acquired {
		return
	}
	e := d.endpointFor(op.endpoint)
	m, l := d.limits()
	e.release(op.isLong, m, l)
}
