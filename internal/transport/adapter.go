// ABOUTME: Adapter interface plus the per-kind constructors and the explicit factory.
// ABOUTME: WebSocket frames via gorilla, newline-delimited frames over any io.ReadWriter.

package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrUnsupportedTransport indicates the factory was handed a kind or
// connection type it does not know how to wrap.
var ErrUnsupportedTransport = errors.New("transport: unsupported connection")

// Kind selects a concrete adapter in the factory. Explicit kinds replace
// structural sniffing so the boundary stays statically checkable.
type Kind string

// Supported adapter kinds.
const (
	KindWebSocket Kind = "websocket"
	KindStream    Kind = "stream"
)

// Adapter is the minimal uniform capability every transport implements.
// ReceiveText returns "" on timeout or on any transport failure; it never
// returns an error to the caller.
type Adapter interface {
	SendText(ctx context.Context, text string) error
	ReceiveText(ctx context.Context, timeout time.Duration) string
}

// New wraps a concrete connection in the adapter matching kind. It fails
// loudly on an unknown kind or a connection of the wrong type.
func New(kind Kind, conn any, logger *slog.Logger) (Adapter, error) {
	switch kind {
	case KindWebSocket:
		ws, ok := conn.(*websocket.Conn)
		if !ok {
			return nil, fmt.Errorf("%w: kind websocket requires *websocket.Conn, got %T", ErrUnsupportedTransport, conn)
		}
		return NewWebSocket(ws, logger), nil
	case KindStream:
		rw, ok := conn.(io.ReadWriter)
		if !ok {
			return nil, fmt.Errorf("%w: kind stream requires io.ReadWriter, got %T", ErrUnsupportedTransport, conn)
		}
		return NewStream(rw, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrUnsupportedTransport, kind)
	}
}

// WebSocketAdapter drives one gorilla websocket connection. Writes are
// serialized behind a mutex since gorilla permits a single concurrent writer.
type WebSocketAdapter struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	logger  *slog.Logger
}

// NewWebSocket wraps an established websocket connection. Pass nil logger
// for default.
func NewWebSocket(conn *websocket.Conn, logger *slog.Logger) *WebSocketAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketAdapter{conn: conn, logger: logger.With("component", "transport")}
}

// SendText writes one text frame.
func (a *WebSocketAdapter) SendText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// ReceiveText reads one frame within timeout. Timeouts, closed connections,
// and read faults all yield "".
func (a *WebSocketAdapter) ReceiveText(ctx context.Context, timeout time.Duration) string {
	if err := ctx.Err(); err != nil {
		return ""
	}
	if err := a.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		a.logger.Warn("setting read deadline failed", "error", err)
		return ""
	}
	_, data, err := a.conn.ReadMessage()
	if err != nil {
		a.logger.Debug("websocket receive yielded no answer", "error", err)
		return ""
	}
	return string(data)
}

// StreamAdapter frames text as newline-delimited lines over any
// io.ReadWriter (a TCP connection, a pipe, stdio).
type StreamAdapter struct {
	rw      io.ReadWriter
	writeMu sync.Mutex
	logger  *slog.Logger
	lines   chan string
}

// NewStream wraps a bidirectional byte stream and starts draining inbound
// lines immediately, so a peer's write never blocks on our first receive.
// Pass nil logger for default.
func NewStream(rw io.ReadWriter, logger *slog.Logger) *StreamAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &StreamAdapter{
		rw:     rw,
		logger: logger.With("component", "transport"),
		lines:  make(chan string, 16),
	}
	go a.readLoop()
	return a
}

// SendText writes one line. Embedded newlines are flattened to spaces so the
// frame boundary survives; envelope payloads are JSON and never contain raw
// newlines anyway.
func (a *StreamAdapter) SendText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_, err := io.WriteString(a.rw, strings.ReplaceAll(text, "\n", " ")+"\n")
	return err
}

// ReceiveText returns the next line, or "" once timeout elapses or the
// stream errors out.
func (a *StreamAdapter) ReceiveText(ctx context.Context, timeout time.Duration) string {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case line, ok := <-a.lines:
		if !ok {
			return ""
		}
		return line
	case <-timer.C:
		return ""
	case <-ctx.Done():
		return ""
	}
}

// readLoop feeds inbound lines to ReceiveText until the stream ends. The
// lines channel is closed on any read error so waiters drain cleanly.
func (a *StreamAdapter) readLoop() {
	scanner := bufio.NewScanner(a.rw)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		a.lines <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		a.logger.Debug("stream read ended", "error", err)
	}
	close(a.lines)
}
