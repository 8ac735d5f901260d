package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tweet-digest/internal/domain"
	"tweet-digest/internal/infra/metrics"
)

const accountKeyPrefix = "account:"

// AccountCache — кэш резолва хэндлов: Redis поверх постоянного хранилища.
// Ошибки Redis не критичны, запрос всегда уходит в постоянное хранилище.
type AccountCache struct {
	client *redis.Client
	store  domain.AccountCache
	ttl    time.Duration
	log    zerolog.Logger
}

var _ domain.AccountCache = (*AccountCache)(nil)

// NewAccountCache создаёт двухуровневый кэш аккаунтов.
func NewAccountCache(client *redis.Client, store domain.AccountCache, ttl time.Duration, logger zerolog.Logger) *AccountCache {
	return &AccountCache{client: client, store: store, ttl: ttl, log: logger}
}

type cachedAccount struct {
	AccountID   string    `json:"account_id"`
	DisplayName string    `json:"display_name"`
	CachedAt    time.Time `json:"cached_at"`
}

// GetAccount ищет хэндл сначала в Redis, затем в постоянном хранилище.
func (c *AccountCache) GetAccount(ctx context.Context, handle string) (domain.AccountCacheEntry, bool, error) {
	key := accountKeyPrefix + handle
	start := time.Now()
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveNetworkRequest("redis", "get", "account", start, nil)
	} else {
		metrics.ObserveNetworkRequest("redis", "get", "account", start, err)
	}
	switch {
	case err == nil:
		var cached cachedAccount
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil && cached.AccountID != "" {
			return domain.AccountCacheEntry{
				Handle:      handle,
				AccountID:   cached.AccountID,
				DisplayName: cached.DisplayName,
				CachedAt:    cached.CachedAt,
			}, true, nil
		}
	case !errors.Is(err, redis.Nil):
		c.log.Warn().Err(err).Str("handle", handle).Msg("cache: redis get failed")
	}

	entry, found, err := c.store.GetAccount(ctx, handle)
	if err != nil || !found {
		return entry, found, err
	}
	c.remember(ctx, entry)
	return entry, true, nil
}

// UpsertAccount сохраняет запись в обоих уровнях.
func (c *AccountCache) UpsertAccount(ctx context.Context, entry domain.AccountCacheEntry) error {
	if err := c.store.UpsertAccount(ctx, entry); err != nil {
		return err
	}
	c.remember(ctx, entry)
	return nil
}

// DeleteAccounts удаляет записи из обоих уровней.
func (c *AccountCache) DeleteAccounts(ctx context.Context, handles []string) error {
	if len(handles) == 0 {
		return nil
	}
	keys := make([]string, 0, len(handles))
	for _, h := range handles {
		keys = append(keys, accountKeyPrefix+h)
	}
	start := time.Now()
	err := c.client.Del(ctx, keys...).Err()
	metrics.ObserveNetworkRequest("redis", "del", "account", start, err)
	if err != nil {
		c.log.Warn().Err(err).Str("handles", strings.Join(handles, ",")).Msg("cache: redis del failed")
	}
	return c.store.DeleteAccounts(ctx, handles)
}

func (c *AccountCache) remember(ctx context.Context, entry domain.AccountCacheEntry) {
	payload, err := json.Marshal(cachedAccount{
		AccountID:   entry.AccountID,
		DisplayName: entry.DisplayName,
		CachedAt:    entry.CachedAt,
	})
	if err != nil {
		return
	}
	start := time.Now()
	err = c.client.Set(ctx, accountKeyPrefix+entry.Handle, payload, c.ttl).Err()
	metrics.ObserveNetworkRequest("redis", "set", "account", start, err)
	if err != nil {
		c.log.Warn().Err(err).Str("handle", entry.Handle).Msg("cache: redis set failed")
	}
}
