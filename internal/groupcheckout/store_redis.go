package groupcheckout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	id "splitpay/pkg/domain"
	"splitpay/pkg/platform/sentinel"
)

const correlationKeyPrefix = "group_checkout:nonce:"

// RedisStore is a CorrelationStore shared across instances. Entries expire
// with the key TTL; Take uses GETDEL so the read and the delete are one
// atomic command.
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultCorrelationTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, nonce id.Nonce, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode correlation entry: %w", err)
	}
	return s.client.Set(ctx, correlationKeyPrefix+nonce.String(), payload, s.ttl).Err()
}

func (s *RedisStore) Take(ctx context.Context, nonce id.Nonce) (*Entry, error) {
	raw, err := s.client.GetDel(ctx, correlationKeyPrefix+nonce.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode correlation entry: %w", err)
	}
	return &entry, nil
}
