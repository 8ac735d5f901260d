package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	FetchedPostsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fetched_posts_total",
		Help: "Посты, полученные из источника данных",
	})
	FetchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_errors_total",
		Help: "Ошибки при получении постов по аккаунтам",
	}, []string{"reason"})
	AccountCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "account_cache_lookups_total",
		Help: "Обращения к кэшу аккаунтов",
	}, []string{"result"})
	PipelineSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "digest_pipeline_seconds",
		Help:    "Время выполнения пайплайна дайджеста",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 900},
	})
	DigestRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_runs_total",
		Help: "Запуски пайплайна по итоговому статусу",
	}, []string{"status"})
	NoiseFilterFailOpen = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "noise_filter_fail_open_total",
		Help: "Случаи, когда фильтр шума вернул исходный набор из-за ошибки",
	})
	FabricatedURLsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_fabricated_urls_dropped_total",
		Help: "Позиции ответа LLM со ссылками вне входного набора",
	}, []string{"stage"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})

	DigestJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_jobs_total",
		Help: "Задачи дайджеста, поставленные в очередь",
	}, []string{"cause"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		FetchedPostsTotal,
		FetchErrors,
		AccountCacheLookups,
		PipelineSeconds,
		DigestRunsTotal,
		NoiseFilterFailOpen,
		FabricatedURLsDropped,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
		DigestJobsTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// ObserveCacheLookup учитывает попадание или промах кэша аккаунтов.
func ObserveCacheLookup(hit bool) {
	if hit {
		AccountCacheLookups.WithLabelValues("hit").Inc()
		return
	}
	AccountCacheLookups.WithLabelValues("miss").Inc()
}

// ObserveRun учитывает завершённый запуск пайплайна.
func ObserveRun(status string, duration time.Duration) {
	DigestRunsTotal.WithLabelValues(status).Inc()
	PipelineSeconds.Observe(duration.Seconds())
}
