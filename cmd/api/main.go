package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"tweet-digest/internal/adapters/api"
	"tweet-digest/internal/adapters/repo"
	"tweet-digest/internal/domain"
	"tweet-digest/internal/infra/cache"
	"tweet-digest/internal/infra/config"
	"tweet-digest/internal/infra/db"
	httpinfra "tweet-digest/internal/infra/http"
	applog "tweet-digest/internal/infra/log"
	"tweet-digest/internal/infra/metrics"
	"tweet-digest/internal/infra/queue"
	"tweet-digest/internal/usecase/accounts"
	"tweet-digest/internal/usecase/schedule"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	migrateCtx, migrateCancel := context.WithTimeout(ctx, 30*time.Second)
	err = repoAdapter.Migrate(migrateCtx)
	migrateCancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось применить миграции")
	}

	var redisClient *redis.Client
	var accountCache domain.AccountCache = repoAdapter
	if cfg.RedisAddr != "" {
		redisClient, err = cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: нет подключения к Redis")
		}
		defer redisClient.Close()
		accountCache = cache.NewAccountCache(redisClient, repoAdapter, cfg.Cache.AccountTTL, applog.Component(logger, "account_cache"))
	}

	digestQueue, closeQueue, err := queue.Open(cfg.Queues.Backend, cfg.RabbitURL, redisClient, cfg.Queues.Digest, 1)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось инициализировать очередь")
	}
	defer closeQueue()

	scheduleService := schedule.NewService(repoAdapter, repoAdapter, digestQueue, repoAdapter, cfg.Location(), applog.Component(logger, "schedule"))
	accountService := accounts.NewService(repoAdapter, accountCache, applog.Component(logger, "accounts"))
	handler := api.NewHandler(scheduleService, accountService, repoAdapter, cfg.Auth.CronSecret, cfg.Auth.APIToken, applog.Component(logger, "api"))

	server := httpinfra.NewServer(logger)
	handler.Register(server.Router)

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)
	go func() {
		logger.Info().Int("port", cfg.Port).Msg("api: старт")
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}
