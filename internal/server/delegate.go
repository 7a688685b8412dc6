package server

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/netpool/dispatch/internal/store"
	"github.com/netpool/dispatch/pkg/dispatcher"
)

// hostPortKey derives the same canonical host:port key the Dispatcher uses
// internally, for labeling audit records from handler code that only has a
// *url.URL, not an Operation.
func hostPortKey(u *url.URL) string {
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return host + ":" + port
}

// recordSynchronousFetch appends one dispatch_audit row for a synchronous
// POST /fetch, run in its own goroutine so the HTTP response is never
// delayed by the write.
func recordSynchronousFetch(s *store.Store, endpoint string, started time.Time, statusCode int, byteCount int, err error) {
	rec := store.AuditRecord{
		Endpoint:   endpoint,
		StartedAt:  started,
		FinishedAt: time.Now(),
		ByteCount:  int64(byteCount),
	}
	switch {
	case err != nil:
		rec.Outcome = store.Failed
		rec.ErrorText = err.Error()
	default:
		rec.Outcome = store.Succeeded
	}
	if writeErr := s.Audit().Append(context.Background(), rec); writeErr != nil {
		zap.S().Named("http").Warnw("failed to append audit record", "endpoint", endpoint, "error", writeErr)
	}
}

// auditingDelegate wraps a long-running POST /fetch operation: it
// accumulates the response body (long operations are not gathered by the
// dispatcher itself) and, on the terminal callback, appends one
// dispatch_audit row from its own goroutine, so the callback (and the slot
// release that follows it) never waits on the write.
type auditingDelegate struct {
	audit *store.Store

	mu        sync.Mutex
	buf       bytes.Buffer
	startedAt time.Time
}

func newAuditingDelegate(audit *store.Store) *auditingDelegate {
	return &auditingDelegate{audit: audit, startedAt: time.Now()}
}

func (d *auditingDelegate) DidReceiveResponse(op *dispatcher.Operation, resp *http.Response) {}

func (d *auditingDelegate) DidReceiveData(op *dispatcher.Operation, chunk []byte) {
	d.mu.Lock()
	d.buf.Write(chunk)
	d.mu.Unlock()
}

func (d *auditingDelegate) DidFail(op *dispatcher.Operation, err error) {
	d.finish(op, err)
}

func (d *auditingDelegate) DidFinish(op *dispatcher.Operation) {
	d.finish(op, nil)
}

func (d *auditingDelegate) finish(op *dispatcher.Operation, err error) {
	d.mu.Lock()
	n := d.buf.Len()
	d.mu.Unlock()

	rec := store.AuditRecord{
		Endpoint:   op.Endpoint(),
		StartedAt:  d.startedAt,
		FinishedAt: time.Now(),
		ByteCount:  int64(n),
	}
	switch {
	case err != nil && op.State() == dispatcher.Cancelled:
		rec.Outcome = store.Cancelled
		rec.ErrorText = err.Error()
	case err != nil:
		rec.Outcome = store.Failed
		rec.ErrorText = err.Error()
	default:
		rec.Outcome = store.Succeeded
	}
	go func() {
		if writeErr := d.audit.Audit().Append(context.Background(), rec); writeErr != nil {
			zap.S().Named("http").Warnw("failed to append audit record", "endpoint", rec.Endpoint, "error", writeErr)
		}
	}()
}
