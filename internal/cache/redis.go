package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dom/livechat/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisCache stores each chat's window as a Redis list of JSON messages,
// newest at the head, under chat:{id}:messages.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps an existing client. The client's lifecycle stays with
// the caller.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// NewRedisClient parses a redis:// URL and checks the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func key(chatID uuid.UUID) string {
	return "chat:" + chatID.String() + ":messages"
}

func (c *RedisCache) Get(ctx context.Context, chatID uuid.UUID) ([]domain.Message, error) {
	raw, err := c.client.LRange(ctx, key(chatID), 0, domain.RecentMessageLimit-1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("read cached messages: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrCacheMiss
	}

	msgs := make([]domain.Message, 0, len(raw))
	for _, item := range raw {
		var m domain.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("decode cached message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (c *RedisCache) PopulateFromStore(ctx context.Context, chatID uuid.UUID, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	msgs = window(msgs)

	values := make([]any, 0, len(msgs))
	for i := range msgs {
		b, err := json.Marshal(&msgs[i])
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		values = append(values, b)
	}

	k := key(chatID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.RPush(ctx, k, values...)
		pipe.Expire(ctx, k, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("populate cache: %w", err)
	}
	return nil
}

func (c *RedisCache) AppendAndRefresh(ctx context.Context, chatID uuid.UUID, msg domain.Message) error {
	b, err := json.Marshal(&msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	k := key(chatID)
	// LPUSHX only touches an existing list and leaves its TTL alone.
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPushX(ctx, k, b)
		pipe.LTrim(ctx, k, 0, domain.RecentMessageLimit-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append to cache: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, chatID uuid.UUID) error {
	if err := c.client.Del(ctx, key(chatID)).Err(); err != nil {
		return fmt.Errorf("invalidate cache: %w", err)
	}
	return nil
}
