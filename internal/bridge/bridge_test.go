// ABOUTME: Tests for the bridge facade against a fake backend.
// ABOUTME: Validates envelope emission, answer decoding, and the swallow-and-log failure policy.

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopgate/loopgate/internal/envelope"
)

// fakeBackend records published payloads and serves canned input answers.
type fakeBackend struct {
	mu         sync.Mutex
	published  [][]byte
	requests   []*envelope.Envelope
	answer     string
	answerOK   bool
	publishErr error
	closed     bool
}

func (f *fakeBackend) Publish(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, payload)
	return f.publishErr
}

func (f *fakeBackend) Input(_ context.Context, env *envelope.Envelope, _ time.Duration) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, env)
	return f.answer, f.answerOK
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeBackend) lastPublished(t *testing.T) map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.published)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(f.published[len(f.published)-1], &fields))
	return fields
}

func TestBridge_PrintPublishesEnvelope(t *testing.T) {
	fb := &fakeBackend{}
	b := New(Task{ID: "task-1"}, fb, nil, nil)

	b.Print(context.Background(), "working on it")

	fields := fb.lastPublished(t)
	assert.Equal(t, "print", fields["type"])
	assert.Equal(t, "working on it", fields["data"])
	assert.Equal(t, "task-1", fields["task_id"])
}

func TestBridge_PrintSwallowsPublishFailure(t *testing.T) {
	fb := &fakeBackend{publishErr: errors.New("broker down")}
	b := New(Task{ID: "task-1"}, fb, nil, nil)

	// Must not panic or surface the error; the conversation keeps running.
	b.Print(context.Background(), "lost but fine")
}

func TestBridge_InputPlainAnswer(t *testing.T) {
	fb := &fakeBackend{answer: "blue", answerOK: true}
	b := New(Task{ID: "task-1"}, fb, nil, nil)

	got := b.Input(context.Background(), "Favorite color?")
	assert.Equal(t, "blue", got)

	require.Len(t, fb.requests, 1)
	req := fb.requests[0]
	assert.Equal(t, envelope.TypeInputRequest, req.Type)
	assert.Equal(t, "Favorite color?", req.Prompt)
	assert.False(t, req.Password)
	assert.NotEmpty(t, req.RequestID)
}

func TestBridge_InputSecretSetsPasswordFlag(t *testing.T) {
	fb := &fakeBackend{answer: "hunter2", answerOK: true}
	b := New(Task{ID: "task-1"}, fb, nil, nil)

	got := b.InputSecret(context.Background(), "API key?")
	assert.Equal(t, "hunter2", got)
	require.Len(t, fb.requests, 1)
	assert.True(t, fb.requests[0].Password)
}

func TestBridge_InputMediaAnswerRendered(t *testing.T) {
	fb := &fakeBackend{answer: `{"type":"image","url":"https://x/y.jpg"}`, answerOK: true}
	b := New(Task{ID: "task-1"}, fb, nil, nil)

	got := b.Input(context.Background(), "Upload a picture")
	assert.Equal(t, "<img https://x/y.jpg>", got)
}

func TestBridge_InputMultiPartAnswerRendered(t *testing.T) {
	fb := &fakeBackend{
		answer:   `[{"type":"text","text":"here"},{"type":"file","name":"doc.pdf","url":"https://x/doc.pdf"}]`,
		answerOK: true,
	}
	b := New(Task{ID: "task-1"}, fb, nil, nil)

	got := b.Input(context.Background(), "Attach the doc")
	assert.Equal(t, "here\n<a href='https://x/doc.pdf'>doc.pdf</a>", got)
}

func TestBridge_InputTimeoutReturnsEmpty(t *testing.T) {
	fb := &fakeBackend{answerOK: false}
	b := New(Task{ID: "task-1", Timeout: 10 * time.Millisecond}, fb, nil, nil)

	assert.Equal(t, "", b.Input(context.Background(), "Anyone there?"))
}

func TestBridge_InputsAreSerialized(t *testing.T) {
	// At most one input_request outstanding per task: concurrent Input calls
	// must not interleave their backend requests.
	fb := &fakeBackend{answer: "ok", answerOK: true}
	b := New(Task{ID: "task-1"}, fb, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Input(context.Background(), "q")
		}()
	}
	wg.Wait()
	assert.Len(t, fb.requests, 8)
}

func TestBridge_SendPassThrough(t *testing.T) {
	fb := &fakeBackend{}
	b := New(Task{ID: "task-9"}, fb, nil, nil)

	b.Send(context.Background(), map[string]any{"type": "progress", "pct": 50})

	fields := fb.lastPublished(t)
	assert.Equal(t, "progress", fields["type"])
	assert.Equal(t, float64(50), fields["pct"])
	assert.Equal(t, "task-9", fields["task_id"])
	assert.NotEmpty(t, fields["timestamp"])
}

func TestBridge_CloseClosesBackend(t *testing.T) {
	fb := &fakeBackend{}
	b := New(Task{ID: "task-1"}, fb, nil, nil)

	require.NoError(t, b.Close())
	assert.True(t, fb.closed)
}
