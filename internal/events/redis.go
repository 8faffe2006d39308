package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// streamMaxLen caps the event stream; older entries are trimmed approximately.
const streamMaxLen = 100000

// RedisPublisher appends events to a Redis stream as single-field entries
// {data: <json>}.
type RedisPublisher struct {
	client *redis.Client
	Stream string
}

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(redisURL, stream string) (*RedisPublisher, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisPublisher{client: c, Stream: stream}, nil
}

func (p *RedisPublisher) Close() error { return p.client.Close() }

// Ping checks redis connectivity.
func (p *RedisPublisher) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }

// Client exposes the connection so the category locker can share it.
func (p *RedisPublisher) Client() *redis.Client { return p.client }

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if ev.RunID == "" {
		ev.RunID = RunID(ctx)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.Stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"data": string(data)},
	}).Err()
}

// Read returns up to count events after the given stream id ("0" for the
// beginning), with the id of the last entry read.
func (p *RedisPublisher) Read(ctx context.Context, after string, count int64) ([]Event, string, error) {
	start := "-"
	if after != "" && after != "0" {
		start = "(" + after
	}
	res, err := p.client.XRangeN(ctx, p.Stream, start, "+", count).Result()
	if err != nil {
		return nil, after, err
	}
	out := make([]Event, 0, len(res))
	last := after
	for _, msg := range res {
		last = msg.ID
		raw, ok := msg.Values["data"]
		if !ok {
			continue
		}
		var data []byte
		switch t := raw.(type) {
		case string:
			data = []byte(t)
		case []byte:
			data = t
		default:
			continue
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, after, fmt.Errorf("decode event %s: %w", msg.ID, err)
		}
		out = append(out, ev)
	}
	return out, last, nil
}
