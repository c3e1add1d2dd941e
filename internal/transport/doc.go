// ABOUTME: Package transport defines the two-operation adapter every wire backend is driven through.
// ABOUTME: SendText may fail; ReceiveText never does: faults and timeouts become empty strings.

// Package transport decouples bridge logic from the concrete wire library.
//
// An Adapter is a deliberately tiny capability: send one text frame, receive
// one text frame within a timeout. ReceiveText converts every lower-level
// failure into an empty string; callers treat "" as "no answer given", never
// as valid input. Construction, by contrast, fails loudly: an unsupported
// kind or a mismatched connection type is an integration mistake the caller
// must fix before running.
package transport
