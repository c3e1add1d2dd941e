// ABOUTME: The Bridge facade and the Backend interface every transport implements.
// ABOUTME: Owns the per-task input gate and response decoding through the media engine.

package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loopgate/loopgate/internal/correlate"
	"github.com/loopgate/loopgate/internal/envelope"
	"github.com/loopgate/loopgate/internal/media"
)

// Backend is the transport capability the bridge drives. Implementations
// wrap one concrete wire channel (console, websocket, redis, mqtt).
type Backend interface {
	// Publish emits an already-serialized envelope payload. Failures are the
	// caller's to log and swallow; they must never crash the run.
	Publish(ctx context.Context, payload []byte) error

	// Input publishes the input_request envelope and blocks until a matching
	// response arrives or timeout elapses. The returned string is the raw
	// response payload (plain text or JSON-encoded media); ok is false on
	// timeout.
	Input(ctx context.Context, env *envelope.Envelope, timeout time.Duration) (string, bool)

	Close() error
}

// Task identifies one agent run and its interaction settings. Passing the
// task explicitly (rather than ambient globals) lets multiple tasks run
// concurrently without collision.
type Task struct {
	ID      string
	Timeout time.Duration
}

// Bridge binds a Task to a Backend and exposes the host-facing operations.
type Bridge struct {
	task     Task
	backend  Backend
	renderer *media.Renderer
	logger   *slog.Logger

	// inputMu serializes inputs: at most one input_request is outstanding
	// per task. Print and Send are not gated.
	inputMu sync.Mutex
}

// New creates a bridge for the given task. Pass nil renderer to render
// without image materialization, nil logger for default.
func New(task Task, backend Backend, renderer *media.Renderer, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if renderer == nil {
		renderer = media.NewRenderer("", logger)
	}
	if task.Timeout <= 0 {
		task.Timeout = correlate.DefaultTimeout
	}
	return &Bridge{
		task:     task,
		backend:  backend,
		renderer: renderer,
		logger:   logger.With("component", "bridge", "task_id", task.ID),
	}
}

// Task returns the bound task.
func (b *Bridge) Task() Task { return b.task }

// Print emits free-form output. Publish failures are logged, never returned.
func (b *Bridge) Print(ctx context.Context, text string) {
	env := envelope.NewPrint(b.task.ID, text)
	payload, err := env.Marshal()
	if err != nil {
		b.logger.Error("encoding print envelope", "error", err)
		return
	}
	if err := b.backend.Publish(ctx, payload); err != nil {
		b.logger.Warn("publishing print failed", "error", err)
	}
}

// Input requests text from the external party and blocks until an answer
// arrives or the task timeout elapses. Returns "" when no answer was given.
func (b *Bridge) Input(ctx context.Context, prompt string) string {
	return b.input(ctx, prompt, false)
}

// InputSecret is Input with UI-side masking requested.
func (b *Bridge) InputSecret(ctx context.Context, prompt string) string {
	return b.input(ctx, prompt, true)
}

func (b *Bridge) input(ctx context.Context, prompt string, password bool) string {
	b.inputMu.Lock()
	defer b.inputMu.Unlock()

	requestID := correlate.NewRequestID()
	env := envelope.NewInputRequest(b.task.ID, requestID, prompt, password)

	raw, ok := b.backend.Input(ctx, env, b.task.Timeout)
	if !ok {
		return ""
	}
	return media.Normalize(raw).Render(b.renderer)
}

// Send serializes an opaque host message through the generic pass-through
// shape and publishes it. Like Print, it never fails the caller.
func (b *Bridge) Send(ctx context.Context, msg any) {
	payload := envelope.MarshalMessage(b.task.ID, msg)
	if err := b.backend.Publish(ctx, payload); err != nil {
		b.logger.Warn("publishing message failed", "error", err)
	}
}

// Close releases the underlying backend.
func (b *Bridge) Close() error {
	return b.backend.Close()
}
