package tplog_test

import (
	"strings"
	"sync"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/netpool/dispatch/pkg/tplog"
)

func TestTplog(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Tplog Suite")
}

type recordingDelegate struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingDelegate) AppendLogLine(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *recordingDelegate) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

var _ = Describe("Logging sink", func() {
	AfterEach(func() {
		tplog.DisableAll()
		tplog.SetDelegate(nil)
	})

	It("is disabled by default", func() {
		Expect(tplog.IsEnabled(tplog.Timer)).To(BeFalse())
	})

	It("enables and disables a single source independently of the others", func() {
		tplog.Enable(tplog.Timer)
		Expect(tplog.IsEnabled(tplog.Timer)).To(BeTrue())
		Expect(tplog.IsEnabled(tplog.URLDispatcher)).To(BeFalse())

		tplog.Disable(tplog.Timer)
		Expect(tplog.IsEnabled(tplog.Timer)).To(BeFalse())
	})

	It("enables and disables every source at once", func() {
		tplog.EnableAll()
		Expect(tplog.IsEnabled(tplog.Timer)).To(BeTrue())
		Expect(tplog.IsEnabled(tplog.URLDispatcher)).To(BeTrue())
		Expect(tplog.IsEnabled(tplog.ThreadPool)).To(BeTrue())

		tplog.DisableAll()
		Expect(tplog.IsEnabled(tplog.Timer)).To(BeFalse())
	})

	It("keeps the documented source bit values stable", func() {
		Expect(int(tplog.Timer)).To(Equal(8))
		Expect(int(tplog.URLDispatcher)).To(Equal(16))
		Expect(int(tplog.ThreadPool)).To(Equal(32))
	})

	It("routes formatted lines to an installed delegate instead of the console", func() {
		delegate := &recordingDelegate{}
		tplog.SetDelegate(delegate)
		tplog.Enable(tplog.ThreadPool)

		tplog.Logf(tplog.ThreadPool, "pool-a", "worker spawned: %d", 3)

		Expect(delegate.Lines()).To(HaveLen(1))
		Expect(delegate.Lines()[0]).To(ContainSubstring("THREAD_POOL"))
		Expect(delegate.Lines()[0]).To(ContainSubstring("pool-a"))
		Expect(delegate.Lines()[0]).To(ContainSubstring("worker spawned: 3"))
		Expect(delegate.Lines()[0]).To(MatchRegexp(`^\[goroutine \d+\]`))
		Expect(strings.HasSuffix(delegate.Lines()[0], "\n")).To(BeFalse())
	})

	It("tags each line with the emitting goroutine's id", func() {
		delegate := &recordingDelegate{}
		tplog.SetDelegate(delegate)
		tplog.Enable(tplog.Timer)

		done := make(chan struct{})
		go func() {
			defer close(done)
			tplog.Logf(tplog.Timer, "timer-a", "tick from another goroutine")
		}()
		<-done

		tplog.Logf(tplog.Timer, "timer-a", "tick from this goroutine")

		Expect(delegate.Lines()).To(HaveLen(2))
		Expect(delegate.Lines()[0]).To(MatchRegexp(`^\[goroutine \d+\]`))
		Expect(delegate.Lines()[1]).To(MatchRegexp(`^\[goroutine \d+\]`))
		Expect(delegate.Lines()[0]).NotTo(Equal(delegate.Lines()[1]))
	})

	It("suppresses lines for a disabled source even with a delegate installed", func() {
		delegate := &recordingDelegate{}
		tplog.SetDelegate(delegate)

		tplog.Logf(tplog.Timer, "timer-a", "tick")

		Expect(delegate.Lines()).To(BeEmpty())
	})
})
