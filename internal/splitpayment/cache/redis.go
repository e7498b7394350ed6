// Package cache keeps short-lived split-payment snapshots in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"splitpay/internal/splitpayment/models"
	id "splitpay/pkg/domain"
	"splitpay/pkg/platform/sentinel"
)

const (
	keyPrefix = "split_payment:"

	// DefaultTTL bounds how long a snapshot may be served.
	DefaultTTL = 10 * time.Minute
)

// Redis caches snapshots under split_payment:<id>.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedis builds a snapshot cache. A non-positive ttl uses DefaultTTL.
func NewRedis(client redis.Cmdable, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func key(paymentID id.SplitPaymentID) string {
	return keyPrefix + paymentID.String()
}

// Get returns the cached snapshot or sentinel.ErrNotFound on a miss.
func (c *Redis) Get(ctx context.Context, paymentID id.SplitPaymentID) (*models.SplitPayment, error) {
	raw, err := c.client.Get(ctx, key(paymentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get cached split payment: %w", err)
	}
	var sp models.SplitPayment
	if err := json.Unmarshal(raw, &sp); err != nil {
		return nil, fmt.Errorf("decode cached split payment: %w", err)
	}
	return &sp, nil
}

// Set stores a snapshot with the cache TTL.
func (c *Redis) Set(ctx context.Context, sp *models.SplitPayment) error {
	raw, err := json.Marshal(sp)
	if err != nil {
		return fmt.Errorf("encode split payment: %w", err)
	}
	if err := c.client.Set(ctx, key(sp.ID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache split payment: %w", err)
	}
	return nil
}

// Delete evicts a snapshot. Missing keys are not an error.
func (c *Redis) Delete(ctx context.Context, paymentID id.SplitPaymentID) error {
	if err := c.client.Del(ctx, key(paymentID)).Err(); err != nil {
		return fmt.Errorf("evict split payment: %w", err)
	}
	return nil
}
