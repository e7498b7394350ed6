// Package wallet serves wallet address lookups with a short-lived cache.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"splitpay/internal/openpayments"
	dErrors "splitpay/pkg/domain-errors"
	"splitpay/pkg/platform/sentinel"
)

// DefaultTTL is how long a resolved wallet is served from cache.
const DefaultTTL = 5 * time.Minute

const keyPrefix = "wallet_info:"

type Resolver interface {
	ResolveWallet(ctx context.Context, ref string) (*openpayments.WalletAddress, error)
}

// Cache stores resolved wallets keyed by normalized reference.
type Cache interface {
	Get(ctx context.Context, ref string) (*openpayments.WalletAddress, error)
	Set(ctx context.Context, ref string, w *openpayments.WalletAddress) error
}

// RedisCache keeps wallets under wallet_info:<ref>.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, ref string) (*openpayments.WalletAddress, error) {
	raw, err := c.client.Get(ctx, keyPrefix+ref).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get cached wallet: %w", err)
	}
	var w openpayments.WalletAddress
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode cached wallet: %w", err)
	}
	return &w, nil
}

func (c *RedisCache) Set(ctx context.Context, ref string, w *openpayments.WalletAddress) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode wallet: %w", err)
	}
	return c.client.Set(ctx, keyPrefix+ref, raw, c.ttl).Err()
}

type memoryEntry struct {
	wallet    openpayments.WalletAddress
	expiresAt time.Time
}

// MemoryCache is the in-process fallback when Redis is not configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{entries: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, ref string) (*openpayments.WalletAddress, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ref]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, ref)
		return nil, sentinel.ErrNotFound
	}
	w := e.wallet
	return &w, nil
}

func (c *MemoryCache) Set(_ context.Context, ref string, w *openpayments.WalletAddress) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ref] = memoryEntry{wallet: *w, expiresAt: c.now().Add(c.ttl)}
	return nil
}

// Info is a wallet address plus whether it came from cache.
type Info struct {
	openpayments.WalletAddress
	Cached bool `json:"cached"`
}

type Service struct {
	resolver Resolver
	cache    Cache
	logger   *slog.Logger
}

func NewService(resolver Resolver, cache Cache, logger *slog.Logger) *Service {
	return &Service{resolver: resolver, cache: cache, logger: logger}
}

// Info resolves ref, preferring the cache. Cache failures degrade to a live
// lookup.
func (s *Service) Info(ctx context.Context, ref string) (*Info, error) {
	key := openpayments.NormalizeWalletRef(strings.TrimSpace(ref))
	if key == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "walletUrl is required")
	}

	w, err := s.cache.Get(ctx, key)
	if err == nil {
		return &Info{WalletAddress: *w, Cached: true}, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		s.logger.WarnContext(ctx, "wallet cache read failed", "wallet", key, "error", err)
	}

	w, err = s.resolver.ResolveWallet(ctx, key)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "wallet lookup timed out")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUpstream, "could not resolve wallet "+key)
	}
	if err := s.cache.Set(ctx, key, w); err != nil {
		s.logger.WarnContext(ctx, "wallet cache write failed", "wallet", key, "error", err)
	}
	return &Info{WalletAddress: *w}, nil
}
