// ABOUTME: Envelope types, constructors, and the JSON codec for the bridge wire protocol.
// ABOUTME: Includes the best-effort pass-through serializer for opaque host messages.

package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope type tags. The type field is always present on the wire and
// selects how the remaining fields are interpreted.
const (
	TypePrint         = "print"
	TypeInputRequest  = "input_request"
	TypeInputResponse = "input_response"
	TypeError         = "error"
)

// ErrMissingType indicates an inbound payload without a "type" field.
var ErrMissingType = fmt.Errorf("envelope: missing type field")

// Envelope is the unit on the wire. Envelopes are immutable once constructed;
// exact key names are part of the wire contract and must not change.
type Envelope struct {
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	TaskID    string          `json:"task_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Prompt    string          `json:"prompt,omitempty"`
	Password  bool            `json:"password,omitempty"`
}

// NewPrint builds a print envelope carrying free-form text. The text may
// itself be JSON-encoded, since hosts sometimes wrap already-serialized
// structured messages.
func NewPrint(taskID, text string) *Envelope {
	data, _ := json.Marshal(text)
	return &Envelope{
		ID:        uuid.New().String(),
		Timestamp: now(),
		Type:      TypePrint,
		TaskID:    taskID,
		Data:      data,
	}
}

// NewInputRequest builds an input_request envelope for the given correlation id.
func NewInputRequest(taskID, requestID, prompt string, password bool) *Envelope {
	return &Envelope{
		ID:        uuid.New().String(),
		Timestamp: now(),
		Type:      TypeInputRequest,
		TaskID:    taskID,
		RequestID: requestID,
		Prompt:    prompt,
		Password:  password,
	}
}

// NewInputResponse builds an input_response envelope. Data may be a string, a
// media mapping, or a list of media mappings; it is serialized as-is.
func NewInputResponse(taskID, requestID string, data any) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding response data: %w", err)
	}
	return &Envelope{
		ID:        uuid.New().String(),
		Timestamp: now(),
		Type:      TypeInputResponse,
		TaskID:    taskID,
		RequestID: requestID,
		Data:      raw,
	}, nil
}

// Marshal encodes the envelope for transmission.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a wire payload into an Envelope. Unknown extra fields are
// ignored, never rejected. A payload without a type field is an error.
func Decode(raw []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if e.Type == "" {
		return nil, ErrMissingType
	}
	return &e, nil
}

// DataValue decodes the envelope's data field into a generic value
// (string, map, or list). A missing data field decodes to nil.
func (e *Envelope) DataValue() any {
	if len(e.Data) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(e.Data, &v); err != nil {
		// Not valid JSON; hand back the raw bytes as text.
		return string(e.Data)
	}
	return v
}

// DataText returns the data payload in the shape the media normalizer
// consumes: a JSON-string payload decodes to its value (one unwrap, so
// double-encoded producers work and triple-encoded ones stay literal),
// anything else is handed over as raw JSON text.
func (e *Envelope) DataText() string {
	if len(e.Data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Data, &s); err == nil {
		return s
	}
	return string(e.Data)
}

// MarshalMessage serializes an opaque host message for the generic
// pass-through path. The message is stamped with an id, timestamp, and the
// owning task's identifier. Serialization never fails upward: if the message
// cannot be marshaled, a best-effort fallback stringifies unserializable
// leaves, and if that also fails a synthetic error envelope is emitted.
func MarshalMessage(taskID string, msg any) []byte {
	raw, err := json.Marshal(msg)
	if err != nil {
		raw, err = json.Marshal(fallback(msg))
	}
	if err != nil {
		out, _ := json.Marshal(map[string]string{
			"type":  TypeError,
			"error": err.Error(),
		})
		return out
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		// Non-object payloads are wrapped so the stamps have a place to live.
		fields = map[string]any{"type": "message", "data": json.RawMessage(raw)}
	}
	if _, ok := fields["id"]; !ok {
		fields["id"] = uuid.New().String()
	}
	if _, ok := fields["timestamp"]; !ok {
		fields["timestamp"] = now()
	}
	if taskID != "" {
		fields["task_id"] = taskID
	}

	out, err := json.Marshal(fields)
	if err != nil {
		out, _ = json.Marshal(map[string]string{
			"type":  TypeError,
			"error": err.Error(),
		})
	}
	return out
}

// fallback produces a JSON-compatible shape from a value that failed direct
// marshaling, stringifying any leaf that cannot be serialized on its own.
func fallback(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, leaf := range t {
			if _, err := json.Marshal(leaf); err != nil {
				out[k] = fmt.Sprint(leaf)
			} else {
				out[k] = leaf
			}
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, leaf := range t {
			if _, err := json.Marshal(leaf); err != nil {
				out[i] = fmt.Sprint(leaf)
			} else {
				out[i] = leaf
			}
		}
		return out
	default:
		return fmt.Sprint(v)
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
