// Package redisstore backs the Storage capability with Redis, for
// deployments where cache entries and idempotency records must survive
// process restarts and be shared across instances.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/paybridge/paybridge/storage"
)

// Store is a Redis-backed storage.Storage. Entries are written without a
// Redis TTL; freshness is the cache layer's concern, not the store's.
type Store struct {
	client *redis.Client
	ctx    context.Context
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// New connects to Redis and verifies the connection with a ping.
func New(opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Store{client: client, ctx: context.Background()}, nil
}

func (s *Store) GetString(key string) (string, error) {
	v, err := s.client.Get(s.ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", storage.ErrKeyNotFound
	}
	return v, err
}

func (s *Store) SetString(key, value string) error {
	return s.client.Set(s.ctx, key, value, 0).Err()
}

func (s *Store) GetInt(key string) (int64, error) {
	v, err := s.client.Get(s.ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, storage.ErrKeyNotFound
	}
	return v, err
}

func (s *Store) SetInt(key string, value int64) error {
	return s.client.Set(s.ctx, key, value, 0).Err()
}

func (s *Store) GetBool(key string) (bool, error) {
	v, err := s.client.Get(s.ctx, key).Bool()
	if errors.Is(err, redis.Nil) {
		return false, storage.ErrKeyNotFound
	}
	return v, err
}

func (s *Store) SetBool(key string, value bool) error {
	return s.client.Set(s.ctx, key, value, 0).Err()
}

func (s *Store) GetObject(key string, out any, decode func([]byte, any) error) error {
	v, err := s.client.Get(s.ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return storage.ErrKeyNotFound
	}
	if err != nil {
		return err
	}
	return decode(v, out)
}

func (s *Store) SetObject(key string, value any, encode func(any) ([]byte, error)) error {
	b, err := encode(value)
	if err != nil {
		return err
	}
	return s.client.Set(s.ctx, key, b, 0).Err()
}

func (s *Store) Remove(key string) error {
	return s.client.Del(s.ctx, key).Err()
}

func (s *Store) ContainsKey(key string) (bool, error) {
	n, err := s.client.Exists(s.ctx, key).Result()
	return n > 0, err
}

func (s *Store) Keys(prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(s.ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(s.ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

// Clear removes every key in the selected database. Use a dedicated DB
// index for this store.
func (s *Store) Clear() error {
	return s.client.FlushDB(s.ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.client.Close() }
