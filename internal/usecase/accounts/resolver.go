package accounts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tweet-digest/internal/domain"
	"tweet-digest/internal/infra/metrics"
)

// Resolver превращает хэндл в идентификатор аккаунта с кэшированием.
type Resolver struct {
	cache  domain.AccountCache
	source domain.PostSource
	log    zerolog.Logger
	now    func() time.Time
}

// NewResolver создаёт резолвер.
func NewResolver(cache domain.AccountCache, source domain.PostSource, logger zerolog.Logger) *Resolver {
	return &Resolver{cache: cache, source: source, log: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Resolve возвращает идентификатор аккаунта. Попадание в кэш не приводит к
// внешнему запросу; неудачный поиск не пишет в кэш.
func (r *Resolver) Resolve(ctx context.Context, handle string) (string, error) {
	key := NormalizeHandle(handle)
	if key == "" {
		return "", fmt.Errorf("%w: пустой хэндл", domain.ErrAccountNotFound)
	}

	entry, found, err := r.cache.GetAccount(ctx, key)
	if err != nil {
		r.log.Warn().Err(err).Str("handle", key).Msg("resolver: кэш недоступен")
	}
	if err == nil && found && entry.AccountID != "" {
		metrics.ObserveCacheLookup(true)
		return entry.AccountID, nil
	}
	metrics.ObserveCacheLookup(false)

	info, err := r.source.LookupAccount(ctx, key)
	if err != nil {
		return "", fmt.Errorf("%w: @%s: %v", domain.ErrAccountNotFound, key, err)
	}
	if info.ID == "" {
		return "", fmt.Errorf("%w: @%s", domain.ErrAccountNotFound, key)
	}

	name := info.Name
	if name == "" {
		name = key
	}
	if err := r.cache.UpsertAccount(ctx, domain.AccountCacheEntry{
		Handle:      key,
		AccountID:   info.ID,
		DisplayName: name,
		CachedAt:    r.now(),
	}); err != nil {
		r.log.Warn().Err(err).Str("handle", key).Msg("resolver: не удалось сохранить в кэш")
	}
	return info.ID, nil
}
