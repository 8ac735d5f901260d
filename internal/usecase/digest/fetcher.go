package digest

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"tweet-digest/internal/domain"
	"tweet-digest/internal/infra/metrics"
)

// AccountResolver превращает хэндл в идентификатор аккаунта.
type AccountResolver interface {
	Resolve(ctx context.Context, handle string) (string, error)
}

// Fetcher обходит аккаунты пачками и собирает их последние посты.
// Внутри пачки запросы идут строго последовательно с паузой между ними.
type Fetcher struct {
	resolver  AccountResolver
	source    domain.PostSource
	batchSize int
	delay     time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	log       zerolog.Logger
}

// NewFetcher создаёт сборщик постов.
func NewFetcher(resolver AccountResolver, source domain.PostSource, batchSize int, delay time.Duration, logger zerolog.Logger) *Fetcher {
	if batchSize <= 0 {
		batchSize = 10
	}
	if delay < 0 {
		delay = 0
	}
	return &Fetcher{resolver: resolver, source: source, batchSize: batchSize, delay: delay, sleep: sleepContext, log: logger}
}

type fetchStats struct {
	Batches  int
	Delays   int
	Failures int
}

// FetchAll возвращает посты всех аккаунтов в порядке обхода. Ошибка по
// одному аккаунту даёт пустой вклад и не прерывает обход.
func (f *Fetcher) FetchAll(ctx context.Context, handles []string) []domain.Post {
	posts, stats := f.fetchAll(ctx, handles)
	f.log.Info().
		Int("accounts", len(handles)).
		Int("batches", stats.Batches).
		Int("failures", stats.Failures).
		Int("posts", len(posts)).
		Msg("fetcher: сбор постов завершён")
	return posts
}

func (f *Fetcher) fetchAll(ctx context.Context, handles []string) ([]domain.Post, fetchStats) {
	var (
		all   []domain.Post
		stats fetchStats
	)
	last := len(handles) - 1
	for start := 0; start < len(handles); start += f.batchSize {
		end := min(start+f.batchSize, len(handles))
		stats.Batches++
		f.log.Debug().Int("batch", stats.Batches).Int("size", end-start).Msg("fetcher: обработка пачки")

		for idx := start; idx < end; idx++ {
			posts, err := f.fetchOne(ctx, handles[idx])
			if err != nil {
				stats.Failures++
				f.log.Warn().Err(err).Str("handle", handles[idx]).Msg("fetcher: аккаунт пропущен")
			}
			all = append(all, posts...)

			if idx == last {
				continue
			}
			if err := f.sleep(ctx, f.delay); err != nil {
				return all, stats
			}
			stats.Delays++
		}
	}
	return all, stats
}

func (f *Fetcher) fetchOne(ctx context.Context, handle string) ([]domain.Post, error) {
	accountID, err := f.resolver.Resolve(ctx, handle)
	if err != nil {
		reason := "resolve"
		if !errors.Is(err, domain.ErrAccountNotFound) {
			reason = "resolve_error"
		}
		metrics.FetchErrors.WithLabelValues(reason).Inc()
		return nil, err
	}
	posts, err := f.source.FetchRecentPosts(ctx, accountID)
	if err != nil {
		metrics.FetchErrors.WithLabelValues("fetch").Inc()
		return nil, err
	}
	metrics.FetchedPostsTotal.Add(float64(len(posts)))
	return posts, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
