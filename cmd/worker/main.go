package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"tweet-digest/internal/adapters/llm"
	"tweet-digest/internal/adapters/mailer"
	"tweet-digest/internal/adapters/repo"
	"tweet-digest/internal/adapters/twitter"
	"tweet-digest/internal/domain"
	"tweet-digest/internal/infra/cache"
	"tweet-digest/internal/infra/config"
	"tweet-digest/internal/infra/db"
	applog "tweet-digest/internal/infra/log"
	"tweet-digest/internal/infra/metrics"
	"tweet-digest/internal/infra/openai"
	"tweet-digest/internal/infra/queue"
	"tweet-digest/internal/usecase/accounts"
	digestusecase "tweet-digest/internal/usecase/digest"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	var redisClient *redis.Client
	var accountCache domain.AccountCache = repoAdapter
	if cfg.RedisAddr != "" {
		redisClient, err = cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: нет подключения к Redis")
		}
		defer redisClient.Close()
		accountCache = cache.NewAccountCache(redisClient, repoAdapter, cfg.Cache.AccountTTL, applog.Component(logger, "account_cache"))
	}

	digestQueue, closeQueue, err := queue.Open(cfg.Queues.Backend, cfg.RabbitURL, redisClient, cfg.Queues.Digest, cfg.Worker.Concurrency)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось инициализировать очередь")
	}
	defer closeQueue()

	if cfg.Twitter.APIKey == "" {
		logger.Fatal().Msg("worker: не указан ключ API Twitter (TWITTER_API_KEY)")
	}
	twitterClient, err := twitter.New(cfg.Twitter.BaseURL, cfg.Twitter.APIKey, twitter.WithTimeout(cfg.Twitter.Timeout))
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось создать клиента Twitter")
	}

	if cfg.OpenAI.APIKey == "" {
		logger.Fatal().Msg("worker: не указан ключ OpenAI (OPENAI_API_KEY)")
	}
	openaiClient := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)

	resolver := accounts.NewResolver(accountCache, twitterClient, applog.Component(logger, "resolver"))
	fetcher := digestusecase.NewFetcher(resolver, twitterClient, cfg.Fetch.BatchSize, cfg.Fetch.RequestDelay, applog.Component(logger, "fetcher"))
	noiseFilter := llm.NewNoiseFilter(openaiClient, cfg.OpenAI.FilterModel, cfg.OpenAI.Timeout, applog.Component(logger, "noise_filter"))
	formatter := llm.NewFormatter(openaiClient, cfg.OpenAI.FormatModel, cfg.OpenAI.Timeout, applog.Component(logger, "formatter"))
	delivery := digestusecase.NewDelivery(
		digestusecase.NewRenderer(cfg.Location()),
		mailer.NewGmail(0),
		applog.Component(logger, "delivery"),
	)
	processor := digestusecase.NewProcessor(repoAdapter, repoAdapter, fetcher, noiseFilter, formatter, delivery, applog.Component(logger, "pipeline"))

	worker := digestusecase.NewWorker(digestQueue, repoAdapter, repoAdapter, repoAdapter, processor, cfg.Worker.Concurrency, applog.Component(logger, "worker"))

	logger.Info().Int("concurrency", cfg.Worker.Concurrency).Msg("worker: запуск обработки очереди")
	if err := worker.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("worker: остановлен с ошибкой")
		return
	}
	logger.Info().Msg("worker: остановлен")
}
