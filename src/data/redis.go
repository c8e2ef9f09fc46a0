package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stake-plus/questdao/src/types"
)

const (
	// StreamEvents is the Redis stream that receives quest transition events.
	StreamEvents = "questdao.events"
	noncePrefix  = "questdao:nonce:"
)

// ConnectRedis parses url and returns a client after a ping.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// EventStream appends payloads to a Redis stream.
type EventStream struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

func NewEventStream(rdb *redis.Client) *EventStream {
	return &EventStream{rdb: rdb, stream: StreamEvents, maxLen: 100000}
}

func (s *EventStream) Publish(ctx context.Context, payload map[string]interface{}) error {
	_, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: payload,
	}).Result()
	return err
}

// Nonces keeps one login challenge per wallet in Redis.
type Nonces struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewNonces(rdb *redis.Client, ttl time.Duration) *Nonces {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Nonces{rdb: rdb, ttl: ttl}
}

func (n *Nonces) Set(ctx context.Context, addr, nonce string) error {
	return n.rdb.Set(ctx, noncePrefix+addr, nonce, n.ttl).Err()
}

// Take returns and deletes the challenge of addr, so each is usable once.
func (n *Nonces) Take(ctx context.Context, addr string) (string, error) {
	nonce, err := n.rdb.GetDel(ctx, noncePrefix+addr).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("nonce for %s: %w", addr, types.ErrNotFound)
	}
	return nonce, err
}
