// ABOUTME: MQTT backend: per-task topics, a persistent dedup ledger, and supervised reconnect.
// ABOUTME: Backoff doubles from 1s to a 60s cap and gives up after 12 attempts.

// Package mqtt implements the broker-topic transport backend.
//
// The backend subscribes once at startup to the task's response topic and
// owns its own reconnection policy: paho's auto-reconnect is disabled and an
// unexpected connection loss starts a supervised retry task with exponential
// backoff, cancelled by backend shutdown. A graceful Close never triggers
// reconnection. After the final attempt fails the backend is marked failed
// and every subsequent publish surfaces ErrBackendFailed.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/loopgate/loopgate/internal/config"
	"github.com/loopgate/loopgate/internal/correlate"
	"github.com/loopgate/loopgate/internal/envelope"
	"github.com/loopgate/loopgate/internal/ledger"
)

// Reconnect policy bounds.
const (
	initialBackoff = time.Second
	maxBackoff     = 60 * time.Second
	maxAttempts    = 12

	connectTimeout = 30 * time.Second
	publishTimeout = 10 * time.Second
)

// ErrBackendFailed indicates the reconnect policy was exhausted; the backend
// is permanently down for this process.
var ErrBackendFailed = errors.New("mqtt: backend failed after reconnect attempts exhausted")

// Topic naming scheme, shared with the UI side of the deployment.

// OutputTopic carries print and pass-through envelopes for a task.
func OutputTopic(taskID string) string { return "task/" + taskID + "/output" }

// RequestTopic carries input_request envelopes for a task.
func RequestTopic(taskID string) string { return "task/" + taskID + "/input_request" }

// ResponseTopic is the topic the backend subscribes to at startup.
func ResponseTopic(taskID string) string { return "task/" + taskID + "/input_response" }

// MQTT is the broker-topic backend.
type MQTT struct {
	client pahomqtt.Client
	taskID string
	qos    byte
	corr   *correlate.Correlator
	led    ledger.Ledger
	logger *slog.Logger

	closing   atomic.Bool
	failed    atomic.Bool
	shutdown  chan struct{}
	closeOnce sync.Once

	// backoff is injectable for tests; defaults to backoffDelay.
	backoff func(attempt int) time.Duration
}

// New connects to the broker, opens the dedup ledger (SQLite when a path is
// configured, in-memory otherwise), and subscribes to the response topic.
// Connect and subscribe failures at construction are loud.
func New(ctx context.Context, cfg config.MQTTConfig, taskID string, logger *slog.Logger) (*MQTT, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mqtt", "task_id", taskID)

	var led ledger.Ledger
	var err error
	if cfg.LedgerPath != "" {
		led, err = ledger.NewSQLite(cfg.LedgerPath, taskID, logger)
		if err != nil {
			return nil, fmt.Errorf("opening dedup ledger: %w", err)
		}
	} else {
		led = ledger.NewMemory(0, 0)
	}

	m := newWith(nil, taskID, cfg.QoS, led, logger)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "loopgate-" + taskID
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(false).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			m.connectionLost(err)
		})
	m.client = pahomqtt.NewClient(opts)

	token := m.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		led.Close()
		return nil, fmt.Errorf("connecting to broker %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		led.Close()
		return nil, fmt.Errorf("connecting to broker %s: %w", cfg.Broker, err)
	}

	if err := m.subscribe(); err != nil {
		m.client.Disconnect(250)
		led.Close()
		return nil, err
	}

	logger.Info("mqtt backend ready", "broker", cfg.Broker, "response_topic", ResponseTopic(taskID))
	return m, nil
}

// newWith builds the backend around an existing client. Used by New and by
// tests that substitute a fake client.
func newWith(client pahomqtt.Client, taskID string, qos byte, led ledger.Ledger, logger *slog.Logger) *MQTT {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTT{
		client:   client,
		taskID:   taskID,
		qos:      qos,
		corr:     correlate.New(led, logger),
		led:      led,
		logger:   logger,
		shutdown: make(chan struct{}),
		backoff:  backoffDelay,
	}
}

// Publish routes the envelope to its topic. Once the backend has failed,
// every publish reports ErrBackendFailed.
func (m *MQTT) Publish(_ context.Context, payload []byte) error {
	if m.failed.Load() {
		return ErrBackendFailed
	}

	topic := OutputTopic(m.taskID)
	if env, err := envelope.Decode(payload); err == nil && env.Type == envelope.TypeInputRequest {
		topic = RequestTopic(m.taskID)
	}

	token := m.client.Publish(topic, m.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publishing to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Input publishes the request and parks the caller on the correlator.
func (m *MQTT) Input(ctx context.Context, env *envelope.Envelope, timeout time.Duration) (string, bool) {
	payload, err := env.Marshal()
	if err != nil {
		m.logger.Error("encoding input request", "error", err)
		return "", false
	}

	// Register before publishing so a fast answer cannot race the wait.
	m.corr.Register(env.RequestID)

	if err := m.Publish(ctx, payload); err != nil {
		m.logger.Warn("publishing input request failed", "error", err)
	}
	return m.corr.Await(ctx, env.RequestID, timeout)
}

// Close disconnects gracefully. The closing flag keeps the lost-connection
// handler from starting a reconnect for our own disconnect. Safe to call
// more than once.
func (m *MQTT) Close() error {
	m.closing.Store(true)
	m.closeOnce.Do(func() { close(m.shutdown) })
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	return m.led.Close()
}

// subscribe registers the single response-topic subscription.
func (m *MQTT) subscribe() error {
	token := m.client.Subscribe(ResponseTopic(m.taskID), m.qos, m.onMessage)
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("subscribing to %s: timeout", ResponseTopic(m.taskID))
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribing to %s: %w", ResponseTopic(m.taskID), err)
	}
	return nil
}

// onMessage decodes a response and hands it to the correlator; the ledger
// makes re-delivered responses a no-op.
func (m *MQTT) onMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	env, err := envelope.Decode(msg.Payload())
	if err != nil {
		m.logger.Warn("undecodable response discarded", "error", err)
		return
	}
	if env.Type != envelope.TypeInputResponse {
		m.logger.Debug("non-response envelope on response topic discarded", "type", env.Type)
		return
	}
	m.corr.Resolve(context.Background(), env.RequestID, env.DataText())
}

// connectionLost starts the supervised reconnect task, unless the loss was
// our own graceful shutdown.
func (m *MQTT) connectionLost(err error) {
	if m.closing.Load() {
		return
	}
	m.logger.Warn("connection lost, starting reconnect", "error", err)
	go m.reconnect()
}

// reconnect retries with exponential backoff (1s doubling to a 60s cap) and
// abandons after maxAttempts, marking the backend failed. Shutdown cancels
// the retry task.
func (m *MQTT) reconnect() {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		delay := m.backoff(attempt)

		select {
		case <-m.shutdown:
			return
		case <-time.After(delay):
		}

		m.logger.Info("reconnect attempt", "attempt", attempt+1, "delay", delay)

		token := m.client.Connect()
		if !token.WaitTimeout(connectTimeout) || token.Error() != nil {
			continue
		}
		if err := m.subscribe(); err != nil {
			m.logger.Warn("resubscribe failed", "error", err)
			continue
		}

		m.logger.Info("reconnected", "attempts", attempt+1)
		return
	}

	m.failed.Store(true)
	m.logger.Error("reconnect abandoned, backend failed", "attempts", maxAttempts)
}

// backoffDelay is the retry schedule: 1s, 2s, 4s, ... capped at 60s.
func backoffDelay(attempt int) time.Duration {
	d := initialBackoff << uint(attempt)
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}
