package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	TZ          string `envconfig:"TZ" default:"UTC"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Backend string `envconfig:"QUEUE_BACKEND" default:"rabbitmq"`
		Digest  string `envconfig:"DIGEST_QUEUE_KEY" default:"digest_jobs"`
	} `envconfig:""`

	Twitter struct {
		APIKey  string        `envconfig:"TWITTER_API_KEY"`
		BaseURL string        `envconfig:"TWITTER_API_BASE_URL" default:"https://api.twitterapi.io"`
		Timeout time.Duration `envconfig:"TWITTER_TIMEOUT" default:"20s"`
	} `envconfig:""`

	Fetch struct {
		BatchSize    int           `envconfig:"FETCH_BATCH_SIZE" default:"10"`
		RequestDelay time.Duration `envconfig:"FETCH_REQUEST_DELAY" default:"100ms"`
	} `envconfig:""`

	OpenAI struct {
		APIKey      string        `envconfig:"OPENAI_API_KEY"`
		BaseURL     string        `envconfig:"OPENAI_BASE_URL"`
		FilterModel string        `envconfig:"OPENAI_FILTER_MODEL" default:"gpt-4o-mini"`
		FormatModel string        `envconfig:"OPENAI_FORMAT_MODEL" default:"gpt-4o"`
		Timeout     time.Duration `envconfig:"OPENAI_TIMEOUT" default:"120s"`
	} `envconfig:""`

	Auth struct {
		CronSecret string `envconfig:"CRON_SECRET"`
		APIToken   string `envconfig:"API_TOKEN"`
	} `envconfig:""`

	Worker struct {
		Concurrency int `envconfig:"WORKER_CONCURRENCY" default:"4"`
	} `envconfig:""`

	Cache struct {
		AccountTTL time.Duration `envconfig:"ACCOUNT_CACHE_TTL" default:"168h"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Parse читает конфиг из окружения и возвращает ошибку вместо остановки процесса.
func Parse() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Location возвращает часовой пояс расписания; при ошибке — UTC.
func (c AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.TZ)
	if err != nil {
		return time.UTC
	}
	return loc
}
