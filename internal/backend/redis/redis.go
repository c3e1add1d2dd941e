// ABOUTME: Redis backend: per-task pub/sub channels, bounded stream logs, and a Redis-held dedup ledger.
// ABOUTME: Re-delivered responses are fulfilled exactly once via ZADD NX on the processed-requests set.

// Package redis implements the pub/sub + append-log transport backend.
//
// Requests go out on per-task channels and responses come back on a per-task
// response channel. Because pub/sub is at-least-once in practice (UIs retry,
// operators replay), every response is checked against a dedup ledger kept
// in Redis itself. Every envelope is also appended to two bounded streams
// (per-task and shared) for observability and replay.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/loopgate/loopgate/internal/config"
	"github.com/loopgate/loopgate/internal/correlate"
	"github.com/loopgate/loopgate/internal/envelope"
)

// pruneInterval is how often the ledger retention window is enforced.
const pruneInterval = time.Hour

// Channel and key naming scheme. Exact shapes are part of the integration
// contract with UIs and operators.

// OutputChannel is the per-task channel print and pass-through messages go to.
func OutputChannel(taskID string) string { return "task/" + taskID + "/output" }

// RequestChannel is the per-task channel input_request envelopes go to.
func RequestChannel(taskID string) string { return "task/" + taskID + "/input_request" }

// ResponseChannel is the per-task channel the backend subscribes to.
func ResponseChannel(taskID string) string { return "task/" + taskID + "/input_response" }

// StreamKey is the per-task bounded output log.
func StreamKey(taskID string) string { return "task:" + taskID + ":output" }

// SharedStreamKey is the cross-task bounded output log.
const SharedStreamKey = "task-output"

// LedgerKey is the sorted set of processed request ids for a task.
func LedgerKey(taskID string) string { return "processed_requests:" + taskID }

// commander is the slice of the go-redis client the backend issues commands
// through. Tests substitute a recording implementation.
type commander interface {
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
	XAdd(ctx context.Context, a *goredis.XAddArgs) *goredis.StringCmd
	ZAddNX(ctx context.Context, key string, members ...goredis.Z) *goredis.IntCmd
	ZRemRangeByScore(ctx context.Context, key, min, max string) *goredis.IntCmd
}

// Redis is the pub/sub + stream-log backend.
type Redis struct {
	client    *goredis.Client
	cmd       commander
	taskID    string
	corr      *correlate.Correlator
	ledger    *redisLedger
	pubsub    *goredis.PubSub
	maxLen    int64
	retention time.Duration
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New connects to Redis, subscribes to the task's response channel, and
// starts the receive and prune loops. Connection failure is loud: a broker
// that is down before the bridge is wired up is an integration mistake.
func New(ctx context.Context, cfg config.RedisConfig, taskID string, logger *slog.Logger) (*Redis, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "redis", "task_id", taskID)

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r := newWith(client, taskID, cfg.StreamMaxLen, cfg.Retention, logger)
	r.client = client
	r.pubsub = client.Subscribe(ctx, ResponseChannel(taskID))
	r.cancel = cancel

	r.wg.Add(2)
	go r.receiveLoop(loopCtx)
	go r.pruneLoop(loopCtx)

	logger.Info("redis backend ready", "addr", cfg.Addr, "response_channel", ResponseChannel(taskID))
	return r, nil
}

// newWith builds the backend around an existing command issuer, without the
// pub/sub loops. Used by New and by tests that substitute a recording client.
func newWith(cmd commander, taskID string, maxLen int64, retention time.Duration, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	ledger := &redisLedger{cmd: cmd, key: LedgerKey(taskID)}
	return &Redis{
		cmd:       cmd,
		taskID:    taskID,
		corr:      correlate.New(ledger, logger),
		ledger:    ledger,
		maxLen:    maxLen,
		retention: retention,
		logger:    logger,
	}
}

// Publish routes the envelope to its per-task channel and appends it to both
// output logs. Log-append failures are swallowed and logged: losing an
// observability record must not fail the conversation.
func (r *Redis) Publish(ctx context.Context, payload []byte) error {
	channel := OutputChannel(r.taskID)
	if env, err := envelope.Decode(payload); err == nil && env.Type == envelope.TypeInputRequest {
		channel = RequestChannel(r.taskID)
	}

	err := r.cmd.Publish(ctx, channel, payload).Err()
	r.appendLogs(ctx, payload)
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", channel, err)
	}
	return nil
}

// Input publishes the request and parks the caller on the correlator until
// the receive loop resolves it or the timeout fires.
func (r *Redis) Input(ctx context.Context, env *envelope.Envelope, timeout time.Duration) (string, bool) {
	payload, err := env.Marshal()
	if err != nil {
		r.logger.Error("encoding input request", "error", err)
		return "", false
	}

	// Register before publishing so a fast answer cannot race the wait.
	r.corr.Register(env.RequestID)

	if err := r.Publish(ctx, payload); err != nil {
		r.logger.Warn("publishing input request failed", "error", err)
	}
	return r.corr.Await(ctx, env.RequestID, timeout)
}

// Close stops the loops and releases the connection.
func (r *Redis) Close() error {
	r.cancel()
	err := r.pubsub.Close()
	r.wg.Wait()
	if cerr := r.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// receiveLoop decodes inbound response envelopes, logs them, and hands them
// to the correlator (which consults the ledger for dedup).
func (r *Redis) receiveLoop(ctx context.Context) {
	defer r.wg.Done()

	ch := r.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.handleResponse(ctx, []byte(msg.Payload))
		}
	}
}

func (r *Redis) handleResponse(ctx context.Context, payload []byte) {
	env, err := envelope.Decode(payload)
	if err != nil {
		r.logger.Warn("undecodable response discarded", "error", err)
		return
	}
	if env.Type != envelope.TypeInputResponse {
		r.logger.Debug("non-response envelope on response channel discarded", "type", env.Type)
		return
	}

	r.appendLogs(ctx, payload)
	r.corr.Resolve(ctx, env.RequestID, env.DataText())
}

// appendLogs appends the envelope to the per-task and shared streams, each
// independently bounded with approximate trimming so writers never block on
// exact length enforcement.
func (r *Redis) appendLogs(ctx context.Context, payload []byte) {
	for _, key := range []string{StreamKey(r.taskID), SharedStreamKey} {
		err := r.cmd.XAdd(ctx, &goredis.XAddArgs{
			Stream: key,
			MaxLen: r.maxLen,
			Approx: true,
			Values: map[string]any{"envelope": string(payload)},
		}).Err()
		if err != nil {
			r.logger.Warn("appending to output log failed", "stream", key, "error", err)
		}
	}
}

// pruneLoop enforces the ledger retention window until shutdown.
func (r *Redis) pruneLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.ledger.Prune(ctx, r.retention); err != nil {
				r.logger.Warn("ledger prune failed", "error", err)
			}
		}
	}
}

// redisLedger keeps the processed-request set in Redis: a sorted set scored
// by first-seen time, so pruning is a range deletion.
type redisLedger struct {
	cmd commander
	key string
}

// MarkOnce adds the request id with NX semantics; the add succeeding means
// this is the first sighting.
func (l *redisLedger) MarkOnce(ctx context.Context, requestID string) (bool, error) {
	added, err := l.cmd.ZAddNX(ctx, l.key, goredis.Z{
		Score:  float64(time.Now().Unix()),
		Member: requestID,
	}).Result()
	if err != nil {
		return false, fmt.Errorf("marking request: %w", err)
	}
	return added == 1, nil
}

// Prune drops entries first seen before the retention cutoff.
func (l *redisLedger) Prune(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan).Unix()
	if err := l.cmd.ZRemRangeByScore(ctx, l.key, "-inf", fmt.Sprintf("%d", cutoff)).Err(); err != nil {
		return fmt.Errorf("pruning ledger: %w", err)
	}
	return nil
}

func (l *redisLedger) Close() error { return nil }
