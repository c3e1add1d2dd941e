// ABOUTME: Package envelope defines the JSON wire unit shared by every transport backend.
// ABOUTME: All bridge traffic is an Envelope: print output, input requests, and input responses.

// Package envelope implements the uniform wire protocol of the bridge.
//
// Every message on the wire is a JSON object carrying at least "id",
// "timestamp" and "type". The "type" field drives interpretation of the
// remaining fields; unknown fields are ignored for forward compatibility.
package envelope
