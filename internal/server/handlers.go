package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/netpool/dispatch/internal/store"
	"github.com/netpool/dispatch/pkg/dispatcher"
	srvErrors "github.com/netpool/dispatch/pkg/errors"
)

type handler struct {
	disp  *dispatcher.Dispatcher
	audit *store.Store
	pools PoolLookup
}

// getPool handles GET /pools/:name: live/working worker counts and queue
// depth for a named pool (Testable property 1).
func (h *handler) getPool(c *gin.Context) {
	name := c.Param("name")
	pool, ok := h.pools(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown pool " + name})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":           pool.Name(),
		"liveWorkers":    pool.LiveWorkers(),
		"workingWorkers": pool.WorkingWorkers(),
		"queueSize":      pool.QueueSize(),
	})
}

// getEndpoint handles GET /endpoints/:key: running-short/running-long
// counts and is_long_allowed for an endpoint (Testable property 2).
func (h *handler) getEndpoint(c *gin.Context) {
	key := c.Param("key")
	c.JSON(http.StatusOK, h.disp.Stats(key))
}

type fetchRequest struct {
	URL string `json:"url" binding:"required"`
}

// postFetch handles POST /fetch: submits url through the Dispatcher as a
// synchronous short request by default, returning status code and byte
// count; ?long=true instead submits a long asynchronous request whose
// operation ID is returned immediately for later polling.
func (h *handler) postFetch(c *gin.Context) {
	var body fetchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	target, err := url.Parse(body.URL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid url: " + err.Error()})
		return
	}

	if c.Query("long") == "true" {
		// net/http cancels the inbound request's Context() the instant
		// ServeHTTP returns for it, which happens right after this handler
		// returns its 202. A long operation must outlive that, so its
		// outgoing request gets a context detached from the caller's HTTP
		// lifetime; Operation.Cancel remains the only way to abort it.
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, target.String(), nil)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		delegate := newAuditingDelegate(h.audit)
		op, err := h.disp.DispatchLongRequest(req, delegate)
		if err != nil {
			writeDispatchError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"operationId": op.ID(), "endpoint": op.Endpoint()})
		return
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	started := time.Now()
	data, resp, err := h.disp.DispatchSynchronousRequest(req)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	go recordSynchronousFetch(h.audit, hostPortKey(target), started, status, len(data), err)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"statusCode": status, "byteCount": len(data)})
}

// getOperation handles GET /operations/:id: polls a previously submitted
// long-running operation for its current state and, once terminal, its
// outcome.
func (h *handler) getOperation(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid operation id"})
		return
	}
	op, ok := h.disp.Lookup(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown operation"})
		return
	}

	resp := gin.H{
		"id":       op.ID(),
		"endpoint": op.Endpoint(),
		"state":    op.State().String(),
		"isLong":   op.IsLong(),
	}
	if err := op.Error(); err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func writeDispatchError(c *gin.Context, err error) {
	var invalidArg *srvErrors.InvalidArgumentError
	var longLimit *srvErrors.LongLimitExceededError
	var overflow *srvErrors.OverflowFailError
	switch {
	case errors.As(err, &invalidArg):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &longLimit), errors.As(err, &overflow):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}
