// ABOUTME: Tests for the WebSocket session backend using an in-memory stream adapter.
// ABOUTME: Validates answer matching, mismatch discard, timeout, and send-failure semantics.

package socket

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopgate/loopgate/internal/envelope"
	"github.com/loopgate/loopgate/internal/transport"
)

// peerPair returns the backend under test and the remote end of its session.
func peerPair(t *testing.T) (*Socket, transport.Adapter) {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() {
		local.Close()
		remote.Close()
	})

	backend := NewWithAdapter(transport.NewStream(local, nil), local.Close, nil)
	return backend, transport.NewStream(remote, nil)
}

// respond reads the next request on the peer side and answers it.
func respond(t *testing.T, peer transport.Adapter, mutate func(req *envelope.Envelope) *envelope.Envelope) {
	t.Helper()
	frame := peer.ReceiveText(context.Background(), time.Second)
	require.NotEmpty(t, frame)

	req, err := envelope.Decode([]byte(frame))
	require.NoError(t, err)
	require.Equal(t, envelope.TypeInputRequest, req.Type)

	resp := mutate(req)
	payload, err := resp.Marshal()
	require.NoError(t, err)
	require.NoError(t, peer.SendText(context.Background(), string(payload)))
}

func TestSocket_InputRoundTrip(t *testing.T) {
	backend, peer := peerPair(t)

	go respond(t, peer, func(req *envelope.Envelope) *envelope.Envelope {
		resp, err := envelope.NewInputResponse("task-1", req.RequestID, "the answer")
		require.NoError(t, err)
		return resp
	})

	env := envelope.NewInputRequest("task-1", "req-1", "Q?", false)
	answer, ok := backend.Input(context.Background(), env, 2*time.Second)

	assert.True(t, ok)
	assert.Equal(t, "the answer", answer)
}

func TestSocket_MediaAnswerPassedRaw(t *testing.T) {
	backend, peer := peerPair(t)

	go respond(t, peer, func(req *envelope.Envelope) *envelope.Envelope {
		resp, err := envelope.NewInputResponse("task-1", req.RequestID,
			map[string]any{"type": "image", "url": "https://x/y.jpg"})
		require.NoError(t, err)
		return resp
	})

	env := envelope.NewInputRequest("task-1", "req-1", "Q?", false)
	answer, ok := backend.Input(context.Background(), env, 2*time.Second)

	require.True(t, ok)
	assert.JSONEq(t, `{"type":"image","url":"https://x/y.jpg"}`, answer)
}

func TestSocket_MismatchedResponseDiscarded(t *testing.T) {
	// An answer for a request we are not awaiting is discarded and the
	// outstanding wait times out empty.
	backend, peer := peerPair(t)

	go respond(t, peer, func(req *envelope.Envelope) *envelope.Envelope {
		resp, err := envelope.NewInputResponse("task-1", "A", "wrong one")
		require.NoError(t, err)
		return resp
	})

	env := envelope.NewInputRequest("task-1", "B", "Q?", false)
	answer, ok := backend.Input(context.Background(), env, 300*time.Millisecond)

	assert.False(t, ok)
	assert.Equal(t, "", answer)
}

func TestSocket_NonResponseFramesIgnored(t *testing.T) {
	backend, peer := peerPair(t)

	go func() {
		frame := peer.ReceiveText(context.Background(), time.Second)
		require.NotEmpty(t, frame)
		req, err := envelope.Decode([]byte(frame))
		require.NoError(t, err)

		// Noise first, then the real answer.
		printEnv := envelope.NewPrint("task-1", "chatter")
		payload, _ := printEnv.Marshal()
		require.NoError(t, peer.SendText(context.Background(), string(payload)))

		resp, err := envelope.NewInputResponse("task-1", req.RequestID, "real")
		require.NoError(t, err)
		payload, _ = resp.Marshal()
		require.NoError(t, peer.SendText(context.Background(), string(payload)))
	}()

	env := envelope.NewInputRequest("task-1", "req-1", "Q?", false)
	answer, ok := backend.Input(context.Background(), env, 2*time.Second)

	assert.True(t, ok)
	assert.Equal(t, "real", answer)
}

func TestSocket_InputTimesOutEmpty(t *testing.T) {
	backend, peer := peerPair(t)
	_ = peer // nobody answers

	env := envelope.NewInputRequest("task-1", "req-1", "Q?", false)
	answer, ok := backend.Input(context.Background(), env, 50*time.Millisecond)

	assert.False(t, ok)
	assert.Equal(t, "", answer)
}

func TestSocket_PublishWritesFrame(t *testing.T) {
	backend, peer := peerPair(t)

	env := envelope.NewPrint("task-1", "hello")
	payload, err := env.Marshal()
	require.NoError(t, err)
	require.NoError(t, backend.Publish(context.Background(), payload))

	frame := peer.ReceiveText(context.Background(), time.Second)
	got, err := envelope.Decode([]byte(frame))
	require.NoError(t, err)
	assert.Equal(t, envelope.TypePrint, got.Type)
}

func TestSocket_SendFailureYieldsEmptyAnswer(t *testing.T) {
	local, remote := net.Pipe()
	local.Close()
	remote.Close()

	backend := NewWithAdapter(transport.NewStream(local, nil), nil, nil)

	env := envelope.NewInputRequest("task-1", "req-1", "Q?", false)
	answer, ok := backend.Input(context.Background(), env, time.Second)

	assert.False(t, ok)
	assert.Equal(t, "", answer)
}
