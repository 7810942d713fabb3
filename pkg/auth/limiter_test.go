package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(clock *fakeClock, onBlock func()) *Limiter {
	l := NewLimiter(LimiterConfig{
		MaxFailures:   3,
		Window:        60 * time.Second,
		BlockDuration: 300 * time.Second,
	}, onBlock)
	l.now = clock.Now
	return l
}

func TestLimiterBlocksAfterMaxFailures(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	blocks := 0
	l := newTestLimiter(clock, func() { blocks++ })

	require.NoError(t, l.Check("10.0.0.1", "reports"))

	l.RecordFailure("10.0.0.1", "reports")
	l.RecordFailure("10.0.0.1", "reports")
	require.NoError(t, l.Check("10.0.0.1", "reports"))

	l.RecordFailure("10.0.0.1", "reports")

	err := l.Check("10.0.0.1", "reports")
	var blockedErr *BlockedError
	require.ErrorAs(t, err, &blockedErr)
	assert.Equal(t, 300*time.Second, blockedErr.RetryAfter)
	assert.Equal(t, 1, blocks)
}

func TestLimiterBlockExpires(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := newTestLimiter(clock, nil)

	for i := 0; i < 3; i++ {
		l.RecordFailure("10.0.0.1", "reports")
	}
	require.Error(t, l.Check("10.0.0.1", "reports"))

	clock.Advance(301 * time.Second)
	assert.NoError(t, l.Check("10.0.0.1", "reports"))
}

func TestLimiterWindowSlides(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := newTestLimiter(clock, nil)

	l.RecordFailure("10.0.0.1", "reports")
	l.RecordFailure("10.0.0.1", "reports")

	// Old failures age out before the third lands.
	clock.Advance(61 * time.Second)
	l.RecordFailure("10.0.0.1", "reports")

	assert.NoError(t, l.Check("10.0.0.1", "reports"))
}

func TestLimiterSuccessClearsFailures(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := newTestLimiter(clock, nil)

	l.RecordFailure("10.0.0.1", "reports")
	l.RecordFailure("10.0.0.1", "reports")
	l.RecordSuccess("10.0.0.1", "reports")

	l.RecordFailure("10.0.0.1", "reports")
	l.RecordFailure("10.0.0.1", "reports")
	assert.NoError(t, l.Check("10.0.0.1", "reports"))
}

func TestLimiterPairsAreIndependent(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := newTestLimiter(clock, nil)

	for i := 0; i < 3; i++ {
		l.RecordFailure("10.0.0.1", "reports")
	}

	require.Error(t, l.Check("10.0.0.1", "reports"))
	assert.NoError(t, l.Check("10.0.0.1", "invoices"))
	assert.NoError(t, l.Check("10.0.0.2", "reports"))
}

func TestLimiterPrune(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := newTestLimiter(clock, nil)

	l.RecordFailure("10.0.0.1", "reports")
	for i := 0; i < 3; i++ {
		l.RecordFailure("10.0.0.2", "reports")
	}
	require.Equal(t, 2, l.TrackedPairs())

	clock.Advance(61 * time.Second)

	// The blocked pair survives pruning, the idle one does not.
	assert.Equal(t, 1, l.Prune())
	assert.Equal(t, 1, l.TrackedPairs())

	clock.Advance(300 * time.Second)
	assert.Equal(t, 1, l.Prune())
	assert.Equal(t, 0, l.TrackedPairs())
}
