// ABOUTME: Console backend: direct blocking read/write on the local terminal.
// ABOUTME: Prompts via readline, with masked input for password requests.

// Package console implements the local stdio transport backend. There is a
// single caller and no re-delivery, so it needs no dedup ledger and no
// concurrency coordination beyond the input timeout.
package console

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/chzyer/readline"

	"github.com/loopgate/loopgate/internal/envelope"
)

// lineReader abstracts the terminal so tests can stand in for readline.
type lineReader interface {
	ReadLine(prompt string) (string, error)
	ReadSecret(prompt string) (string, error)
	Close() error
}

// Console is the stdio backend.
type Console struct {
	reader lineReader
	out    io.Writer
	logger *slog.Logger
}

// New creates a console backend reading from the controlling terminal and
// writing to stdout.
func New(logger *slog.Logger) (*Console, error) {
	rl, err := readline.New("")
	if err != nil {
		return nil, fmt.Errorf("initializing readline: %w", err)
	}
	return newWith(&readlineReader{rl: rl}, os.Stdout, logger), nil
}

func newWith(reader lineReader, out io.Writer, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		reader: reader,
		out:    out,
		logger: logger.With("component", "console"),
	}
}

// Publish writes the envelope's text to the terminal. Print envelopes render
// their data; anything else (pass-through messages) is written raw.
func (c *Console) Publish(_ context.Context, payload []byte) error {
	env, err := envelope.Decode(payload)
	if err == nil && env.Type == envelope.TypePrint {
		if text, ok := env.DataValue().(string); ok {
			_, werr := fmt.Fprintln(c.out, text)
			return werr
		}
	}
	_, werr := fmt.Fprintln(c.out, string(payload))
	return werr
}

// Input prompts on the terminal and blocks for a line, up to timeout. The
// reader goroutine may outlive a timed-out request until the user's next
// keystroke; its late line is then discarded.
func (c *Console) Input(ctx context.Context, env *envelope.Envelope, timeout time.Duration) (string, bool) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	prompt := env.Prompt + " "

	go func() {
		var line string
		var err error
		if env.Password {
			line, err = c.reader.ReadSecret(prompt)
		} else {
			line, err = c.reader.ReadLine(prompt)
		}
		ch <- result{line, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			c.logger.Debug("console read yielded no answer", "error", res.err)
			return "", false
		}
		return res.line, true
	case <-timer.C:
		c.logger.Info("console input timed out", "request_id", env.RequestID, "timeout", timeout)
		return "", false
	case <-ctx.Done():
		return "", false
	}
}

// Close releases the terminal.
func (c *Console) Close() error {
	return c.reader.Close()
}

// readlineReader adapts chzyer/readline to the lineReader interface.
type readlineReader struct {
	rl *readline.Instance
}

func (r *readlineReader) ReadLine(prompt string) (string, error) {
	r.rl.SetPrompt(prompt)
	return r.rl.Readline()
}

func (r *readlineReader) ReadSecret(prompt string) (string, error) {
	pw, err := r.rl.ReadPassword(prompt)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

func (r *readlineReader) Close() error {
	return r.rl.Close()
}
