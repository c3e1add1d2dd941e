// ABOUTME: The Content union: one variant per media kind, selected by a type tag.
// ABOUTME: Each variant knows how to render itself through a Renderer.

package media

// Kind tags the variant of a Content value. Tag strings are part of the wire
// contract.
type Kind string

// Known content kinds, in detection priority order (see DetectKind).
const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindImageURL Kind = "image_url"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindFile     Kind = "file"
)

// detectionOrder is the fixed tie-break order used when a mapping carries no
// explicit type tag. A mapping containing both "image" and "text" keys is
// classified text. This order is a wire-level contract; do not reorder.
var detectionOrder = []Kind{KindText, KindImage, KindImageURL, KindVideo, KindAudio, KindFile}

// Content is the closed union of media payloads, dispatched by type switch
// in the Renderer. Exactly one of URL/inline payload is authoritative for
// rendering, URL taking priority; absence of both renders a literal "None"
// placeholder, never an error.
type Content interface {
	Kind() Kind
}

// Text is plain text content. It renders verbatim.
type Text struct {
	Text string
}

// Kind implements Content.
func (t Text) Kind() Kind { return KindText }

// Image is image content referenced by URL or carried inline.
type Image struct {
	URL  string
	File string // inline payload: base64 data, optionally a data: URI
	Alt  string
}

// Kind implements Content.
func (i Image) Kind() Kind { return KindImage }

// ImageURL has the same shape as Image but a distinct tag: some producers
// send a bare "url" meaning image_url rather than image, and the two must
// survive round-trips without merging.
type ImageURL struct {
	URL  string
	File string
	Alt  string
}

// Kind implements Content.
func (i ImageURL) Kind() Kind { return KindImageURL }

// Video is video content with optional playback metadata.
type Video struct {
	URL          string
	File         string
	Duration     int // seconds
	ThumbnailURL string
	MimeType     string
}

// Kind implements Content.
func (v Video) Kind() Kind { return KindVideo }

// Audio is audio content with an optional transcript.
type Audio struct {
	URL        string
	File       string
	Duration   int // seconds
	Transcript string
}

// Kind implements Content.
func (a Audio) Kind() Kind { return KindAudio }

// File is an arbitrary attachment. Name is required; everything else is
// optional metadata.
type File struct {
	URL        string
	FileData   string
	Name       string
	Size       int
	MimeType   string
	PreviewURL string
}

// Kind implements Content.
func (f File) Kind() Kind { return KindFile }
