// ABOUTME: The Ledger interface shared by the in-memory, SQLite, and Redis-held implementations.
// ABOUTME: MarkOnce is the atomic first-sighting check; Prune is the retention backpressure.

package ledger

import (
	"context"
	"time"
)

// Ledger records request ids whose responses have been consumed.
type Ledger interface {
	// MarkOnce atomically records requestID and reports whether this is its
	// first sighting within the retention window.
	MarkOnce(ctx context.Context, requestID string) (bool, error)

	// Prune drops entries first seen more than olderThan ago.
	Prune(ctx context.Context, olderThan time.Duration) error

	Close() error
}

var (
	_ Ledger = (*Memory)(nil)
	_ Ledger = (*SQLite)(nil)
)
