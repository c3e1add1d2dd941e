// ABOUTME: In-memory dedup ledger: TTL-based, size-limited, with background cleanup.
// ABOUTME: Uses a doubly-linked list for O(1) eviction of the oldest entry at capacity.

package ledger

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultRetention is how long a request id stays in the ledger before the
// periodic cleanup drops it.
const DefaultRetention = 24 * time.Hour

// DefaultMaxSize caps ledger growth between cleanups.
const DefaultMaxSize = 10000

// memoryEntry stores the first-seen timestamp and list element for an id.
type memoryEntry struct {
	firstSeen time.Time
	element   *list.Element
}

// Memory is a thread-safe, retention-bounded, size-limited dedup ledger.
// A background goroutine periodically prunes expired entries.
type Memory struct {
	mu        sync.Mutex
	seen      map[string]*memoryEntry
	order     *list.List // ids in first-seen order, oldest at front
	retention time.Duration
	maxSize   int
	done      chan struct{}
	closed    bool
}

// NewMemory creates an in-memory ledger. Zero values select the defaults
// (24h retention, 10000 entries).
func NewMemory(retention time.Duration, maxSize int) *Memory {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	m := &Memory{
		seen:      make(map[string]*memoryEntry),
		order:     list.New(),
		retention: retention,
		maxSize:   maxSize,
		done:      make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// MarkOnce atomically records the request id and reports whether this is its
// first sighting. A second call with the same id returns false until the
// entry expires.
func (m *Memory) MarkOnce(_ context.Context, requestID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.seen[requestID]; ok {
		if time.Since(entry.firstSeen) < m.retention {
			return false, nil
		}
		// Expired: drop the stale entry so the id can be re-marked fresh.
		m.order.Remove(entry.element)
		delete(m.seen, requestID)
	}

	if len(m.seen) >= m.maxSize {
		m.evictOldest()
	}

	elem := m.order.PushBack(requestID)
	m.seen[requestID] = &memoryEntry{firstSeen: time.Now(), element: elem}
	return true, nil
}

// Prune removes entries first seen more than olderThan ago.
func (m *Memory) Prune(_ context.Context, olderThan time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, entry := range m.seen {
		if now.Sub(entry.firstSeen) > olderThan {
			m.order.Remove(entry.element)
			delete(m.seen, id)
		}
	}
	return nil
}

// Len reports how many ids are currently tracked.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		close(m.done)
		m.closed = true
	}
	return nil
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (m *Memory) evictOldest() {
	front := m.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	m.order.Remove(front)
	delete(m.seen, id)
}

// cleanup prunes expired entries once a minute until Close.
func (m *Memory) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = m.Prune(context.Background(), m.retention)
		case <-m.done:
			return
		}
	}
}
