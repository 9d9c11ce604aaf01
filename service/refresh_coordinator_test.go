package service_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/layer-3/sessionkit/core"
	"github.com/layer-3/sessionkit/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// startGated starts a leader whose renewal blocks until release is closed,
// then queues waiters behind it.
func startGated(
	t *testing.T,
	c *service.RefreshCoordinator,
	waiters int,
	fn service.RenewFunc,
) (*errgroup.Group, []core.Credential, []error, chan struct{}) {
	t.Helper()

	release := make(chan struct{})
	creds := make([]core.Credential, waiters+1)
	errs := make([]error, waiters+1)

	gated := func(ctx context.Context) (core.Credential, error) {
		<-release
		return fn(ctx)
	}

	var g errgroup.Group
	g.Go(func() error {
		creds[0], errs[0] = c.Do(context.Background(), gated)
		return nil
	})
	require.Eventually(t, c.InFlight, time.Second, time.Millisecond)

	for i := 1; i <= waiters; i++ {
		g.Go(func() error {
			creds[i], errs[i] = c.Do(context.Background(), gated)
			return nil
		})
	}
	require.Eventually(t, func() bool { return c.Waiting() == waiters }, time.Second, time.Millisecond)

	return &g, creds, errs, release
}

func TestCoordinatorSharesOneRenewal(t *testing.T) {
	c := service.NewRefreshCoordinator()
	var calls atomic.Int32

	g, creds, errs, release := startGated(t, c, 9, func(context.Context) (core.Credential, error) {
		calls.Add(1)
		return "fresh", nil
	})
	close(release)
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), calls.Load())
	for i := range creds {
		assert.NoError(t, errs[i])
		assert.Equal(t, core.Credential("fresh"), creds[i])
	}
	assert.False(t, c.InFlight())
	assert.Zero(t, c.Waiting())
}

func TestCoordinatorRejectsAllWaitersOnFailure(t *testing.T) {
	c := service.NewRefreshCoordinator()
	boom := errors.New("refresh rejected")

	g, creds, errs, release := startGated(t, c, 4, func(context.Context) (core.Credential, error) {
		return "", boom
	})
	close(release)
	require.NoError(t, g.Wait())

	for i := range errs {
		assert.ErrorIs(t, errs[i], boom)
		assert.True(t, creds[i].IsZero())
	}
}

func TestCoordinatorRunsAgainAfterCompletion(t *testing.T) {
	c := service.NewRefreshCoordinator()
	var calls atomic.Int32
	fn := func(context.Context) (core.Credential, error) {
		calls.Add(1)
		return "x", nil
	}

	for range 3 {
		_, err := c.Do(context.Background(), fn)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestCoordinatorTimeoutCountsAsFailure(t *testing.T) {
	c := service.NewRefreshCoordinator(service.WithRenewalTimeout(20 * time.Millisecond))

	_, err := c.Do(context.Background(), func(ctx context.Context) (core.Credential, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, c.InFlight())
}

func TestCoordinatorLeaderCancellationDoesNotAbortRenewal(t *testing.T) {
	c := service.NewRefreshCoordinator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cred, err := c.Do(ctx, func(ctx context.Context) (core.Credential, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "fresh", nil
	})
	require.NoError(t, err)
	assert.Equal(t, core.Credential("fresh"), cred)
}

func TestCoordinatorWaiterGivesUpOnOwnContext(t *testing.T) {
	c := service.NewRefreshCoordinator()
	release := make(chan struct{})

	var g errgroup.Group
	g.Go(func() error {
		_, err := c.Do(context.Background(), func(context.Context) (core.Credential, error) {
			<-release
			return "fresh", nil
		})
		return err
	})
	require.Eventually(t, c.InFlight, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Do(ctx, func(context.Context) (core.Credential, error) {
		t.Error("waiter must not run its own renewal")
		return "", nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, g.Wait())
}

func TestCoordinatorSurvivesPanickingRenewal(t *testing.T) {
	c := service.NewRefreshCoordinator()
	release := make(chan struct{})

	leader := make(chan any, 1)
	go func() {
		defer func() { leader <- recover() }()
		_, _ = c.Do(context.Background(), func(context.Context) (core.Credential, error) {
			<-release
			panic("issuer client bug")
		})
	}()
	require.Eventually(t, c.InFlight, time.Second, time.Millisecond)

	waiter := make(chan error, 1)
	go func() {
		_, err := c.Do(context.Background(), func(context.Context) (core.Credential, error) {
			return "unused", nil
		})
		waiter <- err
	}()
	require.Eventually(t, func() bool { return c.Waiting() == 1 }, time.Second, time.Millisecond)

	close(release)
	assert.Equal(t, "issuer client bug", <-leader)
	assert.ErrorIs(t, <-waiter, core.ErrRenewalFailed)
	assert.False(t, c.InFlight())

	cred, err := c.Do(context.Background(), func(context.Context) (core.Credential, error) {
		return "fresh", nil
	})
	require.NoError(t, err)
	assert.Equal(t, core.Credential("fresh"), cred)
}
