package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-client/internal/models"
)

// RedisStore persists the current ride as JSON under one known key.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(addr, password, key string) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisStore{client: c, key: key}
}

func (s *RedisStore) SaveCurrent(ctx context.Context, r models.RideRecord) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, b, 0).Err(); err != nil {
		return fmt.Errorf("store: save current ride: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadCurrent(ctx context.Context) (models.RideRecord, bool, error) {
	b, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.RideRecord{}, false, nil
	}
	if err != nil {
		return models.RideRecord{}, false, fmt.Errorf("store: load current ride: %w", err)
	}
	var r models.RideRecord
	if err := json.Unmarshal(b, &r); err != nil {
		// A corrupt blob should not wedge the session forever.
		_ = s.client.Del(ctx, s.key).Err()
		return models.RideRecord{}, false, nil
	}
	return r, true, nil
}

func (s *RedisStore) ClearCurrent(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("store: clear current ride: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
