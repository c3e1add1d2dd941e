// ABOUTME: WebSocket backend: one long-lived bidirectional connection per session.
// ABOUTME: One request outstanding at a time; the socket itself serializes ordering.

// Package socket implements the socket-stream transport backend over a
// single WebSocket session. Because the connection already serializes
// message order and only one request is outstanding at a time, correlation
// is a thin inline pass-through: mismatched responses are logged and
// discarded, and the wait simply continues until its deadline.
package socket

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loopgate/loopgate/internal/envelope"
	"github.com/loopgate/loopgate/internal/transport"
)

// receivePoll bounds each individual adapter read so the overall deadline
// and ctx cancellation are observed between frames.
const receivePoll = time.Second

// Socket is the WebSocket session backend.
type Socket struct {
	adapter transport.Adapter
	closer  func() error
	logger  *slog.Logger
}

// Dial connects to a bridge UI at the given ws:// or wss:// URL.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Socket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	adapter, err := transport.New(transport.KindWebSocket, conn, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return NewWithAdapter(adapter, conn.Close, logger), nil
}

// Listen binds addr and waits for a single UI session to connect, then
// stops accepting. The bridge side owns exactly one session at a time.
func Listen(ctx context.Context, addr string, logger *slog.Logger) (*Socket, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}

	accepted := make(chan *websocket.Conn, 1)
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				logger.Warn("websocket upgrade failed", "error", err)
				return
			}
			select {
			case accepted <- conn:
			default:
				// Session already established; refuse extras.
				conn.Close()
			}
		}),
	}
	go srv.Serve(ln)

	logger.Info("waiting for session", "addr", addr)

	select {
	case conn := <-accepted:
		adapter, err := transport.New(transport.KindWebSocket, conn, logger)
		if err != nil {
			conn.Close()
			srv.Close()
			return nil, err
		}
		closer := func() error {
			conn.Close()
			return srv.Close()
		}
		return NewWithAdapter(adapter, closer, logger), nil
	case <-ctx.Done():
		srv.Close()
		return nil, ctx.Err()
	}
}

// NewWithAdapter wraps an already-established session. closer may be nil.
func NewWithAdapter(adapter transport.Adapter, closer func() error, logger *slog.Logger) *Socket {
	if logger == nil {
		logger = slog.Default()
	}
	return &Socket{
		adapter: adapter,
		closer:  closer,
		logger:  logger.With("component", "socket"),
	}
}

// Publish writes one envelope frame to the session.
func (s *Socket) Publish(ctx context.Context, payload []byte) error {
	return s.adapter.SendText(ctx, string(payload))
}

// Input sends the request and reads frames until the matching response
// arrives or the deadline passes. Frames that are not the awaited response
// are logged and discarded, never queued.
func (s *Socket) Input(ctx context.Context, env *envelope.Envelope, timeout time.Duration) (string, bool) {
	payload, err := env.Marshal()
	if err != nil {
		s.logger.Error("encoding input request", "error", err)
		return "", false
	}
	if err := s.adapter.SendText(ctx, string(payload)); err != nil {
		s.logger.Warn("sending input request failed", "error", err)
		// The request never went out, but the caller still gets the uniform
		// empty-answer outcome rather than an error.
		return "", false
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			return "", false
		}
		if remaining > receivePoll {
			remaining = receivePoll
		}

		frame := s.adapter.ReceiveText(ctx, remaining)
		if frame == "" {
			continue
		}

		resp, err := envelope.Decode([]byte(frame))
		if err != nil {
			s.logger.Warn("undecodable frame discarded", "error", err)
			continue
		}
		if resp.Type != envelope.TypeInputResponse {
			s.logger.Debug("non-response frame discarded", "type", resp.Type)
			continue
		}
		if resp.RequestID != env.RequestID {
			s.logger.Warn("response for mismatched request discarded",
				"got", resp.RequestID, "want", env.RequestID)
			continue
		}
		return resp.DataText(), true
	}
}

// Close tears down the session.
func (s *Socket) Close() error {
	if s.closer != nil {
		return s.closer()
	}
	return nil
}
