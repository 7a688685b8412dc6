package delayedcall_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/netpool/dispatch/pkg/delayedcall"
	"github.com/netpool/dispatch/pkg/invocation"
)

func TestDelayedCall(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Delayed-Call Service Suite")
}

var _ = Describe("Delayed-Call Service", func() {
	var svc *delayedcall.Service

	BeforeEach(func() {
		svc = delayedcall.Shared()
	})

	AfterEach(func() {
		delayedcall.Dispose()
	})

	It("rejects a nil callable", func() {
		_, err := svc.Perform(invocation.Key{}, nil, time.Millisecond)
		Expect(err).To(HaveOccurred())
	})

	It("fires a scheduled call after its delay", func() {
		var fired atomic.Bool
		svc.Perform(invocation.Key{}, func() { fired.Store(true) }, 20*time.Millisecond)

		Consistently(fired.Load, 10*time.Millisecond).Should(BeFalse())
		Eventually(fired.Load, time.Second).Should(BeTrue())
	})

	// S3 — Delayed cancel: schedule, immediately cancel, confirm it never fires.
	It("never executes a call cancelled before its fire time", func() {
		target := new(int)
		var fired atomic.Bool
		key := invocation.KeyWithArg(target, "S", "A")

		svc.Perform(key, func() { fired.Store(true) }, 500*time.Millisecond)
		svc.Cancel(invocation.KeyWithArg(target, "S", "A"))

		Consistently(fired.Load, 2*time.Second).Should(BeFalse())
	})

	It("cancels only entries matching the full (target, selector, arg) key", func() {
		target := new(int)
		var firedA, firedB atomic.Bool

		svc.Perform(invocation.KeyWithArg(target, "S", "A"), func() { firedA.Store(true) }, 30*time.Millisecond)
		svc.Perform(invocation.KeyWithArg(target, "S", "B"), func() { firedB.Store(true) }, 30*time.Millisecond)

		svc.Cancel(invocation.KeyWithArg(target, "S", "A"))

		Eventually(firedB.Load, time.Second).Should(BeTrue())
		Expect(firedA.Load()).To(BeFalse())
	})

	It("cancel(target, selector) removes only the entry scheduled without an argument", func() {
		target := new(int)
		var firedNoArg, firedWithArg atomic.Bool

		svc.Perform(invocation.Key{Target: target, Selector: "S"}, func() { firedNoArg.Store(true) }, 30*time.Millisecond)
		svc.Perform(invocation.KeyWithArg(target, "S", "X"), func() { firedWithArg.Store(true) }, 30*time.Millisecond)

		svc.Cancel(invocation.Key{Target: target, Selector: "S"})

		Eventually(firedWithArg.Load, time.Second).Should(BeTrue())
		Expect(firedNoArg.Load()).To(BeFalse())
	})

	It("cancel(target) removes every entry for that target regardless of selector", func() {
		target := new(int)
		var fired1, fired2 atomic.Bool

		svc.Perform(invocation.Key{Target: target, Selector: "one"}, func() { fired1.Store(true) }, 30*time.Millisecond)
		svc.Perform(invocation.Key{Target: target, Selector: "two"}, func() { fired2.Store(true) }, 30*time.Millisecond)

		svc.Cancel(invocation.Key{Target: target})

		Consistently(func() bool { return fired1.Load() || fired2.Load() }, 200*time.Millisecond).Should(BeFalse())
	})

	It("fires entries in fire-time order", func() {
		var mu sync.Mutex
		var order []int

		record := func(n int) func() {
			return func() {
				mu.Lock()
				defer mu.Unlock()
				order = append(order, n)
			}
		}

		svc.Perform(invocation.Key{}, record(3), 30*time.Millisecond)
		svc.Perform(invocation.Key{}, record(1), 10*time.Millisecond)
		svc.Perform(invocation.Key{}, record(2), 20*time.Millisecond)

		Eventually(func() int {
			mu.Lock()
			defer mu.Unlock()
			return len(order)
		}, time.Second).Should(Equal(3))

		mu.Lock()
		defer mu.Unlock()
		Expect(order).To(Equal([]int{1, 2, 3}))
	})

	It("survives a panicking call without killing the scheduler", func() {
		var after atomic.Bool
		svc.Perform(invocation.Key{}, func() { panic("boom") }, 10*time.Millisecond)
		svc.Perform(invocation.Key{}, func() { after.Store(true) }, 20*time.Millisecond)

		Eventually(after.Load, time.Second).Should(BeTrue())
	})

	It("reinitializes a fresh scheduler after Dispose", func() {
		delayedcall.Dispose()
		fresh := delayedcall.Shared()
		Expect(fresh).NotTo(BeNil())

		var fired atomic.Bool
		fresh.Perform(invocation.Key{}, func() { fired.Store(true) }, 10*time.Millisecond)
		Eventually(fired.Load, time.Second).Should(BeTrue())
	})
})
