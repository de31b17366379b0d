package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errRedis = errors.New("redis: connection refused")

func TestBreakerLifecycle(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var changes []string
	cb := NewCircuitBreaker("term-cache", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Second,
		OnStateChange: func(name string, from, to State) {
			changes = append(changes, name+":"+from.String()+"->"+to.String())
		},
		now: clock.Now,
	})
	fail := func() error { return errRedis }
	ok := func() error { return nil }

	assert.ErrorIs(t, cb.Execute(fail), errRedis)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(fail), errRedis)
	assert.Equal(t, StateOpen, cb.State())

	ran := false
	err := cb.Execute(func() error { ran = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, ran)

	clock.Advance(time.Second)
	assert.ErrorIs(t, cb.Execute(fail), errRedis)
	assert.Equal(t, StateOpen, cb.State())

	clock.Advance(time.Second)
	require.NoError(t, cb.Execute(ok))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []string{
		"term-cache:closed->open",
		"term-cache:open->half-open",
		"term-cache:half-open->open",
		"term-cache:open->half-open",
		"term-cache:half-open->closed",
	}, changes)
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker("t", CircuitBreakerConfig{FailureThreshold: 2})
	cb.Execute(func() error { return errRedis })
	cb.Execute(func() error { return nil })
	cb.Execute(func() error { return errRedis })
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenLimitsProbes(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := NewCircuitBreaker("t", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second, now: clock.Now})
	cb.Execute(func() error { return errRedis })
	clock.Advance(time.Second)

	inProbe := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- cb.Execute(func() error {
			close(inProbe)
			<-release
			return nil
		})
	}()
	<-inProbe
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker("t", CircuitBreakerConfig{FailureThreshold: 1})
	cb.Execute(func() error { return errRedis })
	require.Equal(t, StateOpen, cb.State())
	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}

func fast() RetryConfig {
	return RetryConfig{MaxAttempts: 4, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetryEventuallySucceeds(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "publish", fast(), func() error {
		calls++
		if calls < 3 {
			return errRedis
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUp(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "publish", fast(), func() error {
		calls++
		return errRedis
	})
	require.ErrorIs(t, err, errRedis)
	assert.Equal(t, 4, calls)
	assert.Contains(t, err.Error(), "after 4 attempts")
}

func TestRetryStopsOnPermanent(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "publish", fast(), func() error {
		calls++
		return Permanent(errRedis)
	})
	assert.Equal(t, errRedis, err)
	assert.Equal(t, 1, calls)
	assert.NoError(t, Permanent(nil))
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 10, InitialDelay: time.Hour, MaxDelay: time.Hour}
	calls := 0
	err := Retry(ctx, "publish", cfg, func() error {
		calls++
		cancel()
		return errRedis
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryDelayIsCapped(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}.withDefaults()
	assert.LessOrEqual(t, cfg.delay(1), 110*time.Millisecond)
	assert.GreaterOrEqual(t, cfg.delay(1), 90*time.Millisecond)
	assert.LessOrEqual(t, cfg.delay(10), 300*time.Millisecond)
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, "lookup-id", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "lookup-id", te.Op)

	err = WithTimeout(context.Background(), time.Second, "lookup-id", func(context.Context) error { return errRedis })
	assert.Equal(t, errRedis, err)

	assert.NoError(t, WithTimeout(context.Background(), 0, "x", func(context.Context) error { return nil }))
}

func TestWithTimeoutParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithTimeout(ctx, time.Second, "lookup-range", func(ctx context.Context) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}
