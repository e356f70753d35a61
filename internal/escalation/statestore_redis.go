package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStateStore struct {
	Client *redis.Client
	TTL    time.Duration
}

var _ StateStore = (*RedisStateStore)(nil)

func NewRedisStateStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStateStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStateStore{Client: rdb, TTL: ttl}, nil
}

func redisStateKey(sessionID string) string {
	return "vigil/escalation/" + sessionID
}

func (s *RedisStateStore) Load(ctx context.Context, sessionID string) (State, bool, error) {
	raw, err := s.Client.Get(ctx, redisStateKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("get escalation state: %w", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, false, fmt.Errorf("decode escalation state: %w", err)
	}
	return st, true, nil
}

func (s *RedisStateStore) Save(ctx context.Context, sessionID string, st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode escalation state: %w", err)
	}
	return s.Client.Set(ctx, redisStateKey(sessionID), raw, s.TTL).Err()
}

func (s *RedisStateStore) Delete(ctx context.Context, sessionID string) error {
	return s.Client.Del(ctx, redisStateKey(sessionID)).Err()
}

func (s *RedisStateStore) Close() error {
	return s.Client.Close()
}
