// ABOUTME: The Correlator: pending-request table, blocking Await, and Resolve with dedup.
// ABOUTME: The lock guards only check-and-insert steps, never the blocking wait itself.

package correlate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout is how long Await blocks when the caller has no opinion.
const DefaultTimeout = 120 * time.Second

// Ledger is the dedup capability consulted on every Resolve. MarkOnce
// reports whether this is the first sighting of the request id.
type Ledger interface {
	MarkOnce(ctx context.Context, requestID string) (bool, error)
}

// Correlator issues correlation ids and matches inbound answers to the
// callers blocked on them. It is safe for concurrent use.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]chan string
	ledger  Ledger // optional; nil disables dedup
	logger  *slog.Logger
}

// New creates a correlator. ledger may be nil when the transport cannot
// re-deliver (console, single socket). Pass nil logger for default.
func New(ledger Ledger, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		pending: make(map[string]chan string),
		ledger:  ledger,
		logger:  logger.With("component", "correlate"),
	}
}

// NewRequestID returns a fresh opaque correlation id.
func NewRequestID() string {
	return uuid.New().String()
}

// Register creates the wait entry for a request id. It must be called before
// the input_request envelope is published, or a fast answer could race the
// registration and be discarded.
func (c *Correlator) Register(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[requestID] = make(chan string, 1)
}

// Await blocks until the registered request is resolved, the timeout
// elapses, or ctx is cancelled. On timeout or cancellation the registration
// is removed and ("", false) is returned; a matching answer arriving later is
// a silent no-op.
func (c *Correlator) Await(ctx context.Context, requestID string, timeout time.Duration) (string, bool) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c.mu.Lock()
	ch, ok := c.pending[requestID]
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("await on unregistered request", "request_id", requestID)
		return "", false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case answer := <-ch:
		c.remove(requestID)
		return answer, true
	case <-timer.C:
		c.logger.Info("input request timed out", "request_id", requestID, "timeout", timeout)
		c.remove(requestID)
		return "", false
	case <-ctx.Done():
		c.logger.Info("input request cancelled", "request_id", requestID)
		c.remove(requestID)
		return "", false
	}
}

// Resolve hands an answer to the caller awaiting requestID. Returns true iff
// a pending wait was fulfilled. Duplicate deliveries (per the ledger) and
// answers for unknown request ids are logged and discarded, never queued:
// responses are point-to-point, and a mismatch is evidence of wire confusion
// rather than something to buffer.
func (c *Correlator) Resolve(ctx context.Context, requestID, answer string) bool {
	if c.ledger != nil {
		first, err := c.ledger.MarkOnce(ctx, requestID)
		if err != nil {
			// A broken ledger must not stall the conversation; proceed
			// without dedup for this delivery.
			c.logger.Warn("dedup ledger unavailable", "request_id", requestID, "error", err)
		} else if !first {
			c.logger.Info("duplicate response discarded", "request_id", requestID)
			return false
		}
	}

	c.mu.Lock()
	ch, ok := c.pending[requestID]
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("response for unknown request discarded", "request_id", requestID)
		return false
	}

	select {
	case ch <- answer:
		return true
	default:
		// Already fulfilled; a second in-flight answer for the same id.
		c.logger.Info("request already fulfilled, answer discarded", "request_id", requestID)
		return false
	}
}

// Outstanding reports how many requests are currently awaiting answers.
func (c *Correlator) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) remove(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, requestID)
}
