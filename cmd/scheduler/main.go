package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"tweet-digest/internal/adapters/repo"
	"tweet-digest/internal/infra/cache"
	"tweet-digest/internal/infra/config"
	"tweet-digest/internal/infra/db"
	applog "tweet-digest/internal/infra/log"
	"tweet-digest/internal/infra/metrics"
	"tweet-digest/internal/infra/queue"
	"tweet-digest/internal/usecase/schedule"
)

const sweepSchedule = "0 * * * *"

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	var (
		redisClient *redis.Client
		locker      *cache.Locker
	)
	if cfg.RedisAddr != "" {
		redisClient, err = cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: нет подключения к Redis")
		}
		defer redisClient.Close()
		locker = cache.NewLocker(redisClient)
	}

	digestQueue, closeQueue, err := queue.Open(cfg.Queues.Backend, cfg.RabbitURL, redisClient, cfg.Queues.Digest, 1)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось инициализировать очередь")
	}
	defer closeQueue()

	tz, err := schedule.NormalizeTimezone(cfg.TZ)
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.TZ).Msg("scheduler: некорректный часовой пояс")
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		logger.Fatal().Err(err).Str("tz", tz).Msg("scheduler: не удалось загрузить часовой пояс")
	}

	scheduleService := schedule.NewService(repoAdapter, repoAdapter, digestQueue, repoAdapter, loc, applog.Component(logger, "schedule"))

	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(sweepSchedule, func() {
		sweep(ctx, scheduleService, locker, loc, logger)
	}); err != nil {
		logger.Fatal().Err(err).Msg("scheduler: некорректное расписание")
	}
	c.Start()
	logger.Info().Str("schedule", sweepSchedule).Str("tz", tz).Msg("scheduler: старт")

	<-ctx.Done()
	logger.Info().Msg("scheduler: остановка")
	<-c.Stop().Done()
}

// sweep выполняет обход не более одного раза за час, даже если запущено
// несколько экземпляров планировщика.
func sweep(ctx context.Context, svc *schedule.Service, locker *cache.Locker, loc *time.Location, logger zerolog.Logger) {
	now := time.Now()
	run := func(ctx context.Context) error {
		report, err := svc.Sweep(ctx, now)
		if err != nil {
			return err
		}
		logger.Info().Int("processed", report.ProcessedCount).Msg("scheduler: дайджесты поставлены в очередь")
		return nil
	}
	if locker == nil {
		if err := run(ctx); err != nil {
			logger.Error().Err(err).Msg("scheduler: ошибка обхода")
		}
		return
	}
	key := "sweep:" + now.In(loc).Format("2006-01-02T15")
	ran, err := locker.Once(ctx, key, 2*time.Hour, run)
	if err != nil {
		logger.Error().Err(err).Msg("scheduler: ошибка обхода")
		return
	}
	if !ran {
		logger.Debug().Str("key", key).Msg("scheduler: обход уже выполнен другим экземпляром")
	}
}
