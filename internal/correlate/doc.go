// ABOUTME: Package correlate matches asynchronous input responses to the request that asked.
// ABOUTME: One pending wait per request id; late, duplicate, or mismatched answers are discarded.

// Package correlate implements the request/response correlator.
//
// A request moves through CREATED -> AWAITING -> FULFILLED or TIMED_OUT.
// Timeout is a first-class non-error outcome: Await returns ("", false) and
// removes the registration, so a stale answer arriving afterward cannot
// resurrect it. With a dedup ledger attached, a response is processed at most
// once per request id even when the transport re-delivers it.
package correlate
