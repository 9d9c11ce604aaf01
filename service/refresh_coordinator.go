package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/layer-3/sessionkit/core"
	"github.com/layer-3/sessionkit/logging"
	"github.com/layer-3/sessionkit/metrics"
)

// DefaultRenewalTimeout bounds a single renewal call
const DefaultRenewalTimeout = 15 * time.Second

// RenewFunc performs one renewal against the issuing server
type RenewFunc func(ctx context.Context) (core.Credential, error)

type renewalResult struct {
	cred core.Credential
	err  error
}

// RefreshCoordinator guarantees at most one renewal in flight. Triggers
// arriving while one runs wait for its result instead of starting their own.
type RefreshCoordinator struct {
	mu       sync.Mutex
	inFlight bool
	waiters  []chan renewalResult

	timeout time.Duration
	logger  logging.Logger
	metrics metrics.Recorder
}

// CoordinatorOption customizes a RefreshCoordinator
type CoordinatorOption func(*RefreshCoordinator)

// WithRenewalTimeout bounds each renewal call. A timeout counts as failure.
func WithRenewalTimeout(d time.Duration) CoordinatorOption {
	return func(c *RefreshCoordinator) { c.timeout = d }
}

// WithCoordinatorLogger sets the logger
func WithCoordinatorLogger(l logging.Logger) CoordinatorOption {
	return func(c *RefreshCoordinator) { c.logger = l }
}

// WithCoordinatorMetrics sets the metrics recorder
func WithCoordinatorMetrics(m metrics.Recorder) CoordinatorOption {
	return func(c *RefreshCoordinator) { c.metrics = m }
}

// NewRefreshCoordinator creates a coordinator. One instance is shared by
// everything that can trigger a renewal.
func NewRefreshCoordinator(opts ...CoordinatorOption) *RefreshCoordinator {
	c := &RefreshCoordinator{
		timeout: DefaultRenewalTimeout,
		logger:  logging.Nop,
		metrics: metrics.Nop,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do runs fn unless a renewal is already in flight, in which case it waits
// for that renewal's result. fn runs detached from the caller's
// cancellation, bounded by the renewal timeout; a caller whose ctx ends
// stops waiting but does not abort the renewal other callers share.
func (c *RefreshCoordinator) Do(ctx context.Context, fn RenewFunc) (core.Credential, error) {
	c.mu.Lock()
	if c.inFlight {
		ch := make(chan renewalResult, 1)
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()

		c.metrics.WaiterQueued()
		select {
		case res := <-ch:
			return res.cred, res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	c.inFlight = true
	c.mu.Unlock()

	// Waiters are released even if fn panics; they then see this error.
	res := renewalResult{err: fmt.Errorf("%w: renewal aborted", core.ErrRenewalFailed)}
	defer c.finish(&res)

	res.cred, res.err = c.run(ctx, fn)
	return res.cred, res.err
}

// finish hands the leader's result to every waiter. The flag is cleared only
// after every waiter has its result, so a trigger arriving meanwhile either
// joins this renewal or starts after it.
func (c *RefreshCoordinator) finish(res *renewalResult) {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	for _, ch := range waiters {
		ch <- *res
	}
	c.inFlight = false
	c.mu.Unlock()

	if res.err != nil {
		c.logger.Warnf("renewal failed, rejected %d waiting request(s): %v", len(waiters), res.err)
	} else if len(waiters) > 0 {
		c.logger.Debugf("renewal succeeded, resumed %d waiting request(s)", len(waiters))
	}
}

func (c *RefreshCoordinator) run(ctx context.Context, fn RenewFunc) (core.Credential, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	c.metrics.RenewalStarted()
	start := time.Now()

	cred, err := fn(ctx)

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailure
	}
	c.metrics.RenewalFinished(outcome, time.Since(start))

	return cred, err
}

// InFlight reports whether a renewal is currently running
func (c *RefreshCoordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Waiting returns the number of triggers queued behind the running renewal
func (c *RefreshCoordinator) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
