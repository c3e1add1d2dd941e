// ABOUTME: Tests for correlation: fulfillment, timeout safety, mismatch discard, and dedup.
// ABOUTME: Covers the at-most-once guarantee with a fake ledger standing in for Redis/SQLite.

package correlate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLedger is an in-memory MarkOnce for tests.
type fakeLedger struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{seen: make(map[string]bool)}
}

func (f *fakeLedger) MarkOnce(_ context.Context, requestID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.seen[requestID] {
		return false, nil
	}
	f.seen[requestID] = true
	return true, nil
}

func TestCorrelator_AwaitFulfilled(t *testing.T) {
	c := New(nil, nil)
	c.Register("req-1")

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Resolve(context.Background(), "req-1", "forty-two")
	}()

	answer, ok := c.Await(context.Background(), "req-1", time.Second)
	assert.True(t, ok)
	assert.Equal(t, "forty-two", answer)
	assert.Equal(t, 0, c.Outstanding())
}

func TestCorrelator_TimeoutReturnsEmpty(t *testing.T) {
	// No answer in time means "" and the entry is removed.
	c := New(nil, nil)
	c.Register("req-1")

	answer, ok := c.Await(context.Background(), "req-1", 20*time.Millisecond)
	assert.False(t, ok)
	assert.Equal(t, "", answer)
	assert.Equal(t, 0, c.Outstanding())

	// A late answer after timeout is a no-op.
	assert.False(t, c.Resolve(context.Background(), "req-1", "too late"))
}

func TestCorrelator_MismatchedResponseDiscarded(t *testing.T) {
	// A response for A while awaiting B is discarded; B times out.
	c := New(nil, nil)
	c.Register("B")

	assert.False(t, c.Resolve(context.Background(), "A", "wrong request"))

	answer, ok := c.Await(context.Background(), "B", 20*time.Millisecond)
	assert.False(t, ok)
	assert.Equal(t, "", answer)
}

func TestCorrelator_DuplicateDeliveryIsNoOp(t *testing.T) {
	// With a ledger, two deliveries of the same response fulfill exactly once.
	c := New(newFakeLedger(), nil)
	c.Register("req-1")

	assert.True(t, c.Resolve(context.Background(), "req-1", "first"))
	assert.False(t, c.Resolve(context.Background(), "req-1", "second"))

	answer, ok := c.Await(context.Background(), "req-1", time.Second)
	require.True(t, ok)
	assert.Equal(t, "first", answer)
}

func TestCorrelator_DuplicateAfterTimeoutIsNoOp(t *testing.T) {
	c := New(newFakeLedger(), nil)
	c.Register("req-1")

	_, ok := c.Await(context.Background(), "req-1", 10*time.Millisecond)
	require.False(t, ok)

	assert.False(t, c.Resolve(context.Background(), "req-1", "late"))
	assert.False(t, c.Resolve(context.Background(), "req-1", "later still"))
}

func TestCorrelator_LedgerFailureDoesNotStall(t *testing.T) {
	l := newFakeLedger()
	l.err = context.DeadlineExceeded
	c := New(l, nil)
	c.Register("req-1")

	// The conversation keeps going without dedup for this delivery.
	assert.True(t, c.Resolve(context.Background(), "req-1", "answer"))
}

func TestCorrelator_ContextCancellationReleasesWait(t *testing.T) {
	c := New(nil, nil)
	c.Register("req-1")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	answer, ok := c.Await(ctx, "req-1", time.Minute)
	assert.False(t, ok)
	assert.Equal(t, "", answer)
	assert.Equal(t, 0, c.Outstanding())
}

func TestCorrelator_ConcurrentRequestsDoNotCollide(t *testing.T) {
	c := New(nil, nil)
	const n = 20

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		id := NewRequestID()
		c.Register(id)
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			answer, ok := c.Await(context.Background(), id, time.Second)
			assert.True(t, ok)
			assert.Equal(t, "answer:"+id, answer)
		}(id)
		go c.Resolve(context.Background(), id, "answer:"+id)
	}
	wg.Wait()
	assert.Equal(t, 0, c.Outstanding())
}

func TestNewRequestID_Unique(t *testing.T) {
	a, b := NewRequestID(), NewRequestID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
