// ABOUTME: Package bridge is the facade the host runtime talks to: Print, Input, Send.
// ABOUTME: Binds one task to one transport backend and applies the shared failure semantics.

// Package bridge wires a task to a transport backend.
//
// Print and Send never fail the caller: publish errors are logged and
// swallowed, because the agent conversation must keep running even when a
// status message is lost. Input blocks for an answer and returns "" on
// timeout; timeout is an outcome, not an error. At most one input request
// is outstanding per task at any time.
package bridge
