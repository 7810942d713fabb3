package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datashield/vault/pkg/store"
)

func newTestBreaker(t *testing.T, clock *fakeClock) *Breaker {
	t.Helper()
	b := New("test", Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}, nil)
	b.now = clock.Now
	return b
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newTestBreaker(t, clock)

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.Failure()
	}
	assert.Equal(t, StateClosed, b.State())

	require.NoError(t, b.Allow())
	b.Failure()
	assert.Equal(t, StateOpen, b.State())

	err := b.Allow()
	require.Error(t, err)

	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Greater(t, openErr.Remaining, time.Duration(0))
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newTestBreaker(t, clock)

	b.Failure()
	b.Failure()
	b.Success()

	// Two more failures are below the threshold again.
	b.Failure()
	b.Failure()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newTestBreaker(t, clock)

	for i := 0; i < 3; i++ {
		b.Failure()
	}
	require.Equal(t, StateOpen, b.State())

	clock.Advance(31 * time.Second)

	require.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())

	b.Success()
	assert.Equal(t, StateHalfOpen, b.State())

	b.Success()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newTestBreaker(t, clock)

	for i := 0; i < 3; i++ {
		b.Failure()
	}
	clock.Advance(31 * time.Second)
	require.NoError(t, b.Allow())
	require.Equal(t, StateHalfOpen, b.State())

	b.Failure()
	assert.Equal(t, StateOpen, b.State())

	// Cooldown restarts from the reopen.
	err := b.Allow()
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, 30*time.Second, openErr.Remaining)
}

func TestBreakerRejectionsDoNotCountAsFailures(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newTestBreaker(t, clock)

	for i := 0; i < 3; i++ {
		b.Failure()
	}
	require.Equal(t, StateOpen, b.State())

	for i := 0; i < 10; i++ {
		require.Error(t, b.Allow())
	}

	// Still recoverable after cooldown despite the rejections.
	clock.Advance(31 * time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreakerStateCallback(t *testing.T) {
	var states []State
	b := New("test", Config{FailureThreshold: 1, SuccessThreshold: 1, Cooldown: time.Millisecond}, func(s State) {
		states = append(states, s)
	})
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b.now = clock.Now

	b.Failure()
	clock.Advance(time.Second)
	require.NoError(t, b.Allow())
	b.Success()

	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, states)
}

func TestBreakerStatusSnapshot(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newTestBreaker(t, clock)

	b.Failure()
	st := b.Status()
	assert.Equal(t, StateClosed, st.State)
	assert.Equal(t, 1, st.ConsecutiveFails)
	assert.Zero(t, st.CooldownLeft)

	b.Failure()
	b.Failure()
	clock.Advance(10 * time.Second)

	st = b.Status()
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, 20*time.Second, st.CooldownLeft)
}

type fakeStore struct {
	store.ObjectStore
	putErr    error
	deleteErr error
	puts      int
	deletes   int
}

func (f *fakeStore) Put(ctx context.Context, key, localPath string) error {
	f.puts++
	return f.putErr
}

func (f *fakeStore) Delete(ctx context.Context, key string) (bool, error) {
	f.deletes++
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	return true, nil
}

func TestGuardedStoreShortCircuitsWrites(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	inner := &fakeStore{putErr: errors.New("boom")}
	b := New("store", Config{FailureThreshold: 2, SuccessThreshold: 1, Cooldown: 30 * time.Second}, nil)
	b.now = clock.Now
	g := NewGuardedStore(inner, b)

	ctx := context.Background()
	require.Error(t, g.Put(ctx, "c/a", "/tmp/a"))
	require.Error(t, g.Put(ctx, "c/a", "/tmp/a"))
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, 2, inner.puts)

	// Open breaker rejects without touching the store.
	err := g.Put(ctx, "c/a", "/tmp/a")
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, 2, inner.puts)

	_, err = g.Delete(ctx, "c/a")
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, 0, inner.deletes)

	// Recovery: one good write closes it again (success threshold 1).
	clock.Advance(31 * time.Second)
	inner.putErr = nil
	require.NoError(t, g.Put(ctx, "c/a", "/tmp/a"))
	assert.Equal(t, StateClosed, b.State())
}
