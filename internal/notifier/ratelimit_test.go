package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(max int, window time.Duration) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(RateLimitConfig{MaxPerWindow: max, Window: window, Enabled: true})
	rl.now = clock.Now
	return rl, clock
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl, clock := newTestLimiter(3, time.Minute)

	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	clock.Advance(30 * time.Second)
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow(), "fourth send inside the window")
	assert.Equal(t, int64(1), rl.Dropped())

	// The first two timestamps leave the window.
	clock.Advance(31 * time.Second)
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())
}

func TestRateLimiterRelease(t *testing.T) {
	rl, _ := newTestLimiter(1, time.Minute)
	require.True(t, rl.Allow())
	rl.Release()
	assert.Equal(t, 0, rl.Stats().CurrentCount)
	assert.True(t, rl.Allow())
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxPerWindow: 1, Window: time.Second})
	for i := 0; i < 50; i++ {
		require.True(t, rl.Allow())
	}
	assert.Zero(t, rl.Dropped())
}

func TestRateLimiterDefaultsAndReset(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: true})
	stats := rl.Stats()
	assert.Equal(t, 10, stats.MaxPerWindow)
	assert.Equal(t, time.Minute, stats.Window)

	for i := 0; i < 11; i++ {
		rl.Allow()
	}
	assert.Equal(t, int64(1), rl.Dropped())
	rl.Reset()
	assert.Zero(t, rl.Stats().CurrentCount)
	assert.Zero(t, rl.Dropped())
}

type stubAdapter struct {
	channel models.Channel
	err     error
	calls   int
}

func (s *stubAdapter) Channel() models.Channel { return s.channel }
func (s *stubAdapter) Timeout() time.Duration  { return time.Second }
func (s *stubAdapter) Close() error            { return nil }
func (s *stubAdapter) Send(ctx context.Context, msg *Message) (*Receipt, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Receipt{ProviderID: "ok"}, nil
}

func TestThrottled(t *testing.T) {
	inner := &stubAdapter{channel: models.ChannelTextMessage}
	th := Throttle(inner, RateLimitConfig{MaxPerWindow: 1, Window: time.Hour, Enabled: true})

	_, err := th.Send(context.Background(), &Message{})
	require.NoError(t, err)

	_, err = th.Send(context.Background(), &Message{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.False(t, IsPermanent(err))
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, models.ChannelTextMessage, th.Channel())
}

func TestThrottledRefundsOnFailure(t *testing.T) {
	inner := &stubAdapter{channel: models.ChannelMobilePush, err: errors.New("boom")}
	th := Throttle(inner, RateLimitConfig{MaxPerWindow: 1, Window: time.Hour, Enabled: true})

	for i := 0; i < 3; i++ {
		_, err := th.Send(context.Background(), &Message{})
		assert.EqualError(t, err, "boom")
	}
	assert.Equal(t, 3, inner.calls)
	assert.Zero(t, th.Stats().Dropped)
}

func TestRateLimiterReserveReportsWait(t *testing.T) {
	rl, clock := newTestLimiter(2, time.Minute)
	ok, _ := rl.Reserve()
	require.True(t, ok)
	clock.Advance(20 * time.Second)
	ok, _ = rl.Reserve()
	require.True(t, ok)

	clock.Advance(10 * time.Second)
	ok, wait := rl.Reserve()
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, wait)
}
