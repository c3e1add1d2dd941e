// ABOUTME: Normalization engine: turns arbitrary producer input into validated Content values.
// ABOUTME: Handles JSON-encoded strings, bare mappings, lists, and degrades malformed input to text.

package media

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// previewLimit bounds how much of a malformed payload is echoed back in the
// degraded text marker.
const previewLimit = 120

// ErrUnknownKind indicates an explicit type tag that is not a known kind.
var ErrUnknownKind = fmt.Errorf("media: unknown content type")

// UserInput wraps the result of normalizing one producer payload: a single
// Content or a multi-part list of them.
type UserInput struct {
	items []Content
}

// Contents returns all parts of the input.
func (u UserInput) Contents() []Content { return u.items }

// Value returns the single Content when the input has exactly one part, or
// the full slice otherwise. A single-element list always collapses to its one
// element; this is a deliberate ergonomic rule, not error hiding.
func (u UserInput) Value() any {
	if len(u.items) == 1 {
		return u.items[0]
	}
	return u.items
}

// Render renders every part through r, joining multi-part input with newlines.
func (u UserInput) Render(r *Renderer) string {
	switch len(u.items) {
	case 0:
		return ""
	case 1:
		return r.Render(u.items[0])
	}
	out := ""
	for i, c := range u.items {
		if i > 0 {
			out += "\n"
		}
		out += r.Render(c)
	}
	return out
}

// DetectKind classifies a mapping. An explicit "type" key must name a known
// tag or detection fails; otherwise the mapping's own keys are scanned in the
// fixed priority order text, image, image_url, video, audio, file and the
// first match wins.
func DetectKind(m map[string]any) (Kind, error) {
	if tag, ok := m["type"]; ok {
		s, ok := tag.(string)
		if !ok {
			return "", fmt.Errorf("%w: non-string tag %v", ErrUnknownKind, tag)
		}
		for _, k := range detectionOrder {
			if Kind(s) == k {
				return k, nil
			}
		}
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	for _, k := range detectionOrder {
		if _, ok := m[string(k)]; ok {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: no recognizable keys", ErrUnknownKind)
}

// Normalize converts arbitrary producer input into validated content. It
// never returns an error: malformed input degrades to Text carrying a
// bounded preview of the original payload.
func Normalize(v any) UserInput {
	switch t := v.(type) {
	case nil:
		return UserInput{}
	case Content:
		return UserInput{items: []Content{t}}
	case string:
		return normalizeString(t)
	case map[string]any:
		// Some UIs wrap the answer payload as {"content": ...}; unwrap it
		// when the outer mapping is not itself recognizable content.
		if inner, ok := t["content"]; ok {
			if _, err := DetectKind(t); err != nil {
				return Normalize(inner)
			}
		}
		return UserInput{items: []Content{normalizeMap(t)}}
	case []any:
		items := make([]Content, 0, len(t))
		for _, el := range t {
			items = append(items, Normalize(el).items...)
		}
		return UserInput{items: items}
	default:
		return UserInput{items: []Content{invalid("Invalid data", fmt.Sprint(v))}}
	}
}

// normalizeString attempts one JSON decode. A value that decodes to a string
// keeps the ORIGINAL string as literal text (exactly one unwrap attempt, no
// deeper); a mapping or list recurses; a failed decode is literal text.
func normalizeString(s string) UserInput {
	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		return UserInput{items: []Content{Text{Text: s}}}
	}
	switch t := decoded.(type) {
	case string:
		return UserInput{items: []Content{Text{Text: s}}}
	case map[string]any:
		return UserInput{items: []Content{normalizeMap(t)}}
	case []any:
		return Normalize(t)
	default:
		// Numbers, booleans, null: the original text is the content.
		return UserInput{items: []Content{Text{Text: s}}}
	}
}

func normalizeMap(m map[string]any) Content {
	kind, err := DetectKind(m)
	if err != nil {
		return invalid("Invalid content", stringifyMap(m))
	}

	c, err := buildContent(kind, m)
	if err != nil {
		return invalid("Invalid content", stringifyMap(m))
	}
	return c
}

// buildContent constructs the variant for a detected kind from loosely-typed
// mapping fields. A mapping classified by a bare tag key (no standard fields)
// takes that key's string value as the payload.
func buildContent(kind Kind, m map[string]any) (Content, error) {
	switch kind {
	case KindText:
		if s, ok := m["text"].(string); ok {
			return Text{Text: s}, nil
		}
		if v, ok := m["text"]; ok {
			return Text{Text: fmt.Sprint(v)}, nil
		}
		return nil, fmt.Errorf("text content without text field")
	case KindImage:
		img := Image{URL: str(m, "url"), File: str(m, "file"), Alt: str(m, "alt")}
		if img.URL == "" && img.File == "" {
			img.URL = str(m, "image") // bare {"image": "<ref>"} shorthand
		}
		return img, nil
	case KindImageURL:
		img := ImageURL{URL: str(m, "url"), File: str(m, "file"), Alt: str(m, "alt")}
		if img.URL == "" && img.File == "" {
			img.URL = str(m, "image_url")
		}
		return img, nil
	case KindVideo:
		vid := Video{
			URL:          str(m, "url"),
			File:         str(m, "file"),
			Duration:     intField(m, "duration"),
			ThumbnailURL: str(m, "thumbnailUrl"),
			MimeType:     str(m, "mimeType"),
		}
		if vid.URL == "" && vid.File == "" {
			vid.URL = str(m, "video")
		}
		return vid, nil
	case KindAudio:
		aud := Audio{
			URL:        str(m, "url"),
			File:       str(m, "file"),
			Duration:   intField(m, "duration"),
			Transcript: str(m, "transcript"),
		}
		if aud.URL == "" && aud.File == "" {
			aud.URL = str(m, "audio")
		}
		return aud, nil
	case KindFile:
		f := File{
			URL:        str(m, "url"),
			FileData:   str(m, "file"),
			Name:       str(m, "name"),
			Size:       intField(m, "size"),
			MimeType:   str(m, "type"),
			PreviewURL: str(m, "previewUrl"),
		}
		if f.Name == "" {
			return nil, fmt.Errorf("file content requires a name")
		}
		return f, nil
	}
	return nil, fmt.Errorf("unhandled kind %q", kind)
}

// invalid produces the degraded text marker for malformed input.
func invalid(marker, payload string) Text {
	runes := []rune(payload)
	if len(runes) > previewLimit {
		payload = string(runes[:previewLimit])
	}
	return Text{Text: marker + ": " + payload}
}

func stringifyMap(m map[string]any) string {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprint(m)
	}
	return string(raw)
}

// str extracts a string field, tolerating absence.
func str(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// intField extracts an integer from JSON numbers, ints, or numeric strings.
func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}
