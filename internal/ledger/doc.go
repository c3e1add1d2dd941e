// ABOUTME: Package ledger tracks already-processed request ids so duplicate responses are rejected.
// ABOUTME: In-memory and SQLite implementations; the Redis backend keeps its ledger in Redis itself.

// Package ledger implements the dedup ledger: a per-task record of request
// ids whose responses have already been consumed. At-least-once transports
// (pub/sub, broker topics) re-deliver; the ledger turns re-delivery into
// at-most-once processing. Entries are pruned after a retention window;
// this is the backpressure control on the ledger.
package ledger
