// ABOUTME: Package media models the typed content union carried in input responses.
// ABOUTME: Normalizes loosely-typed wire payloads and renders content to canonical strings.

// Package media implements the content model of the bridge: a closed,
// discriminated union of text, image, video, audio, and file payloads.
//
// Producers send content in wildly varying shapes: a plain string, a
// JSON-encoded string (sometimes double-encoded), a mapping, or a list of
// the above. Normalize turns any of those into validated Content values and
// never lets a malformed payload escape as an error; bad input degrades to
// text carrying a bounded preview of the original.
package media
