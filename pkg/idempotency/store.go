// Package idempotency remembers processed broker messages in Redis.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// Store records processed message keys with a TTL.
type Store struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewStore returns a Store whose keys expire after ttl.
func NewStore(rdb redis.UniversalClient, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// Key identifies a message by its log position.
func (s *Store) Key(topic string, partition int, offset int64) string {
	return fmt.Sprintf("idem:%s:%d:%d", topic, partition, offset)
}

// Seen reports whether key was marked.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, errors.Wrap(err, "check idempotency key")
	}
	return n > 0, nil
}

// Mark records key as processed.
func (s *Store) Mark(ctx context.Context, key string) error {
	if err := s.rdb.SetNX(ctx, key, "1", s.ttl).Err(); err != nil {
		return errors.Wrap(err, "mark idempotency key")
	}
	return nil
}
