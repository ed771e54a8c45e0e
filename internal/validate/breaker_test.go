package validate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testBreaker() (*Breaker, *time.Time) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker("test", BreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Cooldown:         time.Minute,
		FailureWindow:    time.Minute,
	}, nil)
	b.now = func() time.Time { return now }
	return b, &now
}

var errDown = errors.New("down")

func fail(context.Context) error    { return errDown }
func succeed(context.Context) error { return nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := testBreaker()
	ctx := context.Background()

	assert.ErrorIs(t, b.Do(ctx, fail), errDown)
	assert.Equal(t, BreakerClosed, b.State())
	assert.ErrorIs(t, b.Do(ctx, fail), errDown)
	assert.Equal(t, BreakerOpen, b.State())

	called := false
	err := b.Do(ctx, func(context.Context) error { called = true; return nil })
	var openErr *BreakerOpenError
	assert.ErrorAs(t, err, &openErr)
	assert.False(t, called)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b, now := testBreaker()
	ctx := context.Background()
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)

	*now = now.Add(2 * time.Minute)
	assert.NoError(t, b.Do(ctx, succeed))
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, now := testBreaker()
	ctx := context.Background()
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)

	*now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, b.Do(ctx, fail), errDown)
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreakerFailuresOutsideWindowExpire(t *testing.T) {
	b, now := testBreaker()
	ctx := context.Background()
	_ = b.Do(ctx, fail)

	*now = now.Add(5 * time.Minute)
	_ = b.Do(ctx, fail)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	b, _ := testBreaker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 3; i++ {
		_ = b.Do(ctx, func(ctx context.Context) error { return ctx.Err() })
	}
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerReset(t *testing.T) {
	b, _ := testBreaker()
	_ = b.Do(context.Background(), fail)
	_ = b.Do(context.Background(), fail)
	b.Reset()
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, "half-open", BreakerHalfOpen.String())
}
