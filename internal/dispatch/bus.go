package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	requestStream = "loom:dispatch:req"
	replyPrefix   = "loom:dispatch:reply:"
)

// busRequest is one mediated invocation on the wire.
type busRequest struct {
	ID        string            `json:"id"`
	Skill     string            `json:"skill"`
	Params    map[string]string `json:"params"`
	TimeoutMS int64             `json:"timeout_ms"`
}

// busReply carries the Observation back to the caller.
type busReply struct {
	ID          string `json:"id"`
	Observation Observation
}

// Bus forwards skill invocations to a remote worker over Redis Streams.
// Each request gets its own reply stream keyed by request id; the reply
// stream expires so abandoned calls do not accumulate keys.
type Bus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewBus connects to Redis and verifies the connection.
func NewBus(redisURL string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Bus{rdb: rdb, logger: logger}, nil
}

// Call publishes one invocation and blocks for its reply. A worker that
// never answers within the timeout yields the timed-out Observation, the
// same one a hung local handler would produce.
func (b *Bus) Call(ctx context.Context, skill string, params map[string]string, timeout time.Duration) Observation {
	req := busRequest{
		ID:        uuid.New().String(),
		Skill:     skill,
		Params:    params,
		TimeoutMS: timeout.Milliseconds(),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return Failure(fmt.Sprintf("marshal request: %v", err))
	}

	if err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: requestStream,
		Values: map[string]interface{}{"data": string(data)},
	}).Err(); err != nil {
		return Failure(fmt.Sprintf("publish request: %v", err))
	}

	replyStream := replyPrefix + req.ID
	deadline := time.Now().Add(timeout)
	lastID := "0"

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Failure(ErrTimedOut)
		}

		results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{replyStream, lastID},
			Count:   1,
			Block:   remaining,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				return Failure(ErrTimedOut)
			}
			if ctx.Err() != nil {
				return Failure(ctx.Err().Error())
			}
			return Failure(fmt.Sprintf("read reply: %v", err))
		}

		for _, r := range results {
			for _, msg := range r.Messages {
				lastID = msg.ID
				data, ok := msg.Values["data"].(string)
				if !ok {
					continue
				}
				var reply busReply
				if json.Unmarshal([]byte(data), &reply) == nil && reply.ID == req.ID {
					b.rdb.Del(context.Background(), replyStream)
					return reply.Observation
				}
			}
		}
	}
}

// Serve consumes invocation requests and executes them with exec,
// publishing each Observation to the caller's reply stream. Blocks until
// the context is cancelled. exec receives a context already bounded by
// the request's timeout.
func (b *Bus) Serve(ctx context.Context, exec func(ctx context.Context, skill string, params map[string]string) Observation) error {
	lastID := "$"

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{requestStream, lastID},
			Count:   10,
			Block:   2 * time.Second,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		for _, r := range results {
			for _, msg := range r.Messages {
				lastID = msg.ID
				data, ok := msg.Values["data"].(string)
				if !ok {
					continue
				}
				var req busRequest
				if err := json.Unmarshal([]byte(data), &req); err != nil {
					b.logger.Warn("malformed dispatch request", zap.Error(err))
					continue
				}
				b.handle(ctx, &req, exec)
			}
		}
	}
}

func (b *Bus) handle(ctx context.Context, req *busRequest, exec func(ctx context.Context, skill string, params map[string]string) Observation) {
	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = DefaultTimeoutMS * time.Millisecond
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	obs := exec(execCtx, req.Skill, req.Params)
	cancel()

	data, err := json.Marshal(busReply{ID: req.ID, Observation: obs})
	if err != nil {
		b.logger.Error("marshal reply", zap.Error(err))
		return
	}

	replyStream := replyPrefix + req.ID
	pipe := b.rdb.Pipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: replyStream,
		Values: map[string]interface{}{"data": string(data)},
	})
	pipe.Expire(ctx, replyStream, 2*timeout+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		b.logger.Error("publish reply", zap.String("skill", req.Skill), zap.Error(err))
	}
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}
