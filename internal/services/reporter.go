// Package services implements the application-level logic wired on top of
// the dispatchd primitives.
package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/netpool/dispatch/internal/config"
	"github.com/netpool/dispatch/pkg/dispatcher"
	"github.com/netpool/dispatch/pkg/workerpool"
)

// statusPayload is the periodic payload pushed to the configured collector
// endpoint.
type statusPayload struct {
	AgentID   string `json:"agentId"`
	Timestamp string `json:"timestamp"`
}

// Reporter periodically pushes a status payload to a remote collector
// through the shared Dispatcher: a ticker-driven run loop with exponential
// backoff on transport failure.
type Reporter struct {
	cfg     config.Reporter
	disp    *dispatcher.Dispatcher
	pool    *workerpool.Pool
	agentID uuid.UUID
	bearer  string

	closeOnce sync.Once
	close     chan struct{}

	mu      sync.Mutex
	lastErr error
}

// NewReporter constructs a Reporter with its own worker pool, sized from
// poolSize, reporting to disp on cfg.ReportInterval. auth controls whether a
// bearer token is attached to outgoing requests and where it comes from.
func NewReporter(cfg config.Reporter, auth config.Auth, poolName string, poolSize int, disp *dispatcher.Dispatcher) (*Reporter, error) {
	pool, err := workerpool.Create(poolName, poolSize)
	if err != nil {
		return nil, err
	}

	bearer, err := bearerToken(auth, cfg.JWTSigningKey)
	if err != nil {
		pool.Dispose()
		return nil, fmt.Errorf("resolving reporter bearer token: %w", err)
	}

	r := &Reporter{
		cfg:     cfg,
		disp:    disp,
		pool:    pool,
		agentID: uuid.New(),
		bearer:  bearer,
		close:   make(chan struct{}),
	}
	go r.run()
	return r, nil
}

// bearerToken resolves the reporter's bearer credential. Disabled auth
// yields no token; a configured token file is read as-is; otherwise a token
// is minted from the signing key.
func bearerToken(auth config.Auth, signingKey string) (string, error) {
	if !auth.Enabled {
		return "", nil
	}
	if auth.JWTFilePath != "" {
		data, err := os.ReadFile(auth.JWTFilePath)
		if err != nil {
			return "", fmt.Errorf("reading jwt file %s: %w", auth.JWTFilePath, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return mintBearerToken(signingKey)
}

// mintBearerToken signs an HS256 JWT identifying the reporter, minted once
// at startup instead of read from a credential store. An empty signing key
// disables bearer attachment.
func mintBearerToken(signingKey string) (string, error) {
	if signingKey == "" {
		return "", nil
	}
	claims := jwt.MapClaims{
		"iss": "dispatchd-reporter",
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(signingKey))
}

// Pool returns the reporter's internal worker pool, for admin introspection.
func (r *Reporter) Pool() *workerpool.Pool {
	return r.pool
}

// Status returns the most recent transport error observed by the report
// loop, or nil if the last attempt (or no attempt yet) succeeded.
func (r *Reporter) Status() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *Reporter) setErr(err error) {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
}

// run is the reporter's main loop: tick every ReportInterval, skip ticks
// while backed off, schedule one report invocation on the internal pool per
// tick, and adjust the backoff interval based on the outcome.
func (r *Reporter) run() {
	tick := time.NewTicker(r.cfg.ReportInterval)
	defer tick.Stop()

	nextAllowed := time.Time{}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.ReportInterval
	b.MaxInterval = 60 * time.Second

	for {
		select {
		case <-tick.C:
		case <-r.close:
			return
		}

		now := time.Now()
		if !now.After(nextAllowed) {
			continue
		}

		inv, err := r.pool.Schedule(func() {
			r.setErr(r.report())
		})
		if err != nil {
			zap.S().Named("reporter").Errorw("failed to schedule report", "error", err)
			continue
		}

		select {
		case <-inv.Done():
		case <-r.close:
			return
		}

		if r.Status() != nil {
			nextAllowed = now.Add(b.NextBackOff())
			zap.S().Named("reporter").Warnw("report failed, backing off", "next-allowed-time", nextAllowed)
		} else {
			b.Reset()
			nextAllowed = time.Time{}
		}
	}
}

// report builds the status payload and submits it as a short synchronous
// request to the configured collector endpoint.
func (r *Reporter) report() error {
	body, err := json.Marshal(statusPayload{
		AgentID:   r.agentID.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, r.cfg.CollectorURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+r.bearer)
	}

	_, _, err = r.disp.DispatchSynchronousRequest(req)
	return err
}

// Close stops the report loop and disposes the reporter's worker pool. It is
// idempotent.
func (r *Reporter) Close() {
	r.closeOnce.Do(func() {
		close(r.close)
		r.pool.Dispose()
	})
}
