package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dontdude/imgcap/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Redis stores each result under <prefix><id>.
type Redis struct {
	client *redis.Client
	prefix string
}

var _ domain.ResultStore = (*Redis)(nil)

// NewRedis returns a store using client. The store owns the client and closes it.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (s *Redis) Put(ctx context.Context, id string, data []byte) error {
	if err := s.client.Set(ctx, s.prefix+id, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *Redis) Get(ctx context.Context, id string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

func (s *Redis) Close() error {
	return s.client.Close()
}
