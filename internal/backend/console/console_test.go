// ABOUTME: Tests for the console backend using a fake terminal reader.
// ABOUTME: Validates print rendering, prompt routing, masking, and input timeout.

package console

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopgate/loopgate/internal/envelope"
)

// fakeReader serves scripted lines and records prompts.
type fakeReader struct {
	line        string
	err         error
	delay       time.Duration
	lastPrompt  string
	secretAsked bool
	closed      bool
}

func (f *fakeReader) ReadLine(prompt string) (string, error) {
	f.lastPrompt = prompt
	time.Sleep(f.delay)
	return f.line, f.err
}

func (f *fakeReader) ReadSecret(prompt string) (string, error) {
	f.lastPrompt = prompt
	f.secretAsked = true
	time.Sleep(f.delay)
	return f.line, f.err
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

func TestConsole_PublishPrintRendersText(t *testing.T) {
	var out strings.Builder
	c := newWith(&fakeReader{}, &out, nil)

	env := envelope.NewPrint("task-1", "thinking...")
	payload, err := env.Marshal()
	require.NoError(t, err)

	require.NoError(t, c.Publish(context.Background(), payload))
	assert.Equal(t, "thinking...\n", out.String())
}

func TestConsole_PublishPassThroughWritesRaw(t *testing.T) {
	var out strings.Builder
	c := newWith(&fakeReader{}, &out, nil)

	payload := []byte(`{"type":"progress","pct":50}`)
	require.NoError(t, c.Publish(context.Background(), payload))
	assert.Equal(t, `{"type":"progress","pct":50}`+"\n", out.String())
}

func TestConsole_InputReadsLine(t *testing.T) {
	reader := &fakeReader{line: "blue"}
	c := newWith(reader, &strings.Builder{}, nil)

	env := envelope.NewInputRequest("task-1", "req-1", "Favorite color?", false)
	answer, ok := c.Input(context.Background(), env, time.Second)

	assert.True(t, ok)
	assert.Equal(t, "blue", answer)
	assert.Equal(t, "Favorite color? ", reader.lastPrompt)
	assert.False(t, reader.secretAsked)
}

func TestConsole_PasswordRequestMasks(t *testing.T) {
	reader := &fakeReader{line: "hunter2"}
	c := newWith(reader, &strings.Builder{}, nil)

	env := envelope.NewInputRequest("task-1", "req-1", "API key?", true)
	answer, ok := c.Input(context.Background(), env, time.Second)

	assert.True(t, ok)
	assert.Equal(t, "hunter2", answer)
	assert.True(t, reader.secretAsked)
}

func TestConsole_InputTimeout(t *testing.T) {
	reader := &fakeReader{line: "too slow", delay: 200 * time.Millisecond}
	c := newWith(reader, &strings.Builder{}, nil)

	env := envelope.NewInputRequest("task-1", "req-1", "Anyone?", false)
	answer, ok := c.Input(context.Background(), env, 20*time.Millisecond)

	assert.False(t, ok)
	assert.Equal(t, "", answer)
}

func TestConsole_InputReadErrorYieldsNoAnswer(t *testing.T) {
	reader := &fakeReader{err: errors.New("terminal gone")}
	c := newWith(reader, &strings.Builder{}, nil)

	env := envelope.NewInputRequest("task-1", "req-1", "Q?", false)
	answer, ok := c.Input(context.Background(), env, time.Second)

	assert.False(t, ok)
	assert.Equal(t, "", answer)
}

func TestConsole_Close(t *testing.T) {
	reader := &fakeReader{}
	c := newWith(reader, &strings.Builder{}, nil)

	require.NoError(t, c.Close())
	assert.True(t, reader.closed)
}
