package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// Store keeps one redis hash per bucket under a key prefix.
type Store struct {
	client *goredis.Client
	prefix string
}

// NewStore connects to addr and pings it.
func NewStore(ctx context.Context, addr, password string, db int, prefix string) (*Store, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if prefix == "" {
		prefix = "keeper"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Store{client: client, prefix: prefix}, nil
}

func (s *Store) key(bucket string) string {
	return s.prefix + ":" + bucket
}

func (s *Store) Put(ctx context.Context, bucket, key string, value []byte) error {
	return s.client.HSet(ctx, s.key(bucket), key, value).Err()
}

// Replace swaps the bucket hash inside a MULTI/EXEC block.
func (s *Store) Replace(ctx context.Context, bucket string, entries map[string][]byte) error {
	hash := s.key(bucket)
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, hash)
		if len(entries) == 0 {
			return nil
		}
		values := make([]interface{}, 0, len(entries)*2)
		for key, value := range entries {
			values = append(values, key, value)
		}
		pipe.HSet(ctx, hash, values...)
		return nil
	})
	return err
}

func (s *Store) List(ctx context.Context, bucket string) (map[string][]byte, error) {
	raw, err := s.client.HGetAll(ctx, s.key(bucket)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(raw))
	for key, value := range raw {
		out[key] = []byte(value)
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
