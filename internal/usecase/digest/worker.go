package digest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tweet-digest/internal/domain"
)

const maxJobAttempts = 5

// RunProcessor выполняет один запуск пайплайна.
type RunProcessor interface {
	Process(ctx context.Context, inv domain.Invocation) RunResult
}

// Worker читает задачи из очереди и запускает пайплайн с ограниченной
// параллельностью.
type Worker struct {
	queue       domain.DigestQueue
	jobs        domain.DigestJobRepo
	creds       domain.CredentialRepo
	analytics   domain.BusinessMetricRepo
	processor   RunProcessor
	concurrency int
	log         zerolog.Logger
	retryDelay  time.Duration

	mu               sync.Mutex
	registryFailures map[string]int
}

// NewWorker создаёт обработчик очереди.
func NewWorker(queue domain.DigestQueue, jobs domain.DigestJobRepo, creds domain.CredentialRepo, analytics domain.BusinessMetricRepo, processor RunProcessor, concurrency int, logger zerolog.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{
		queue:       queue,
		jobs:        jobs,
		creds:       creds,
		analytics:   analytics,
		processor:   processor,
		concurrency: concurrency,
		log:         logger,
		retryDelay:  time.Second,

		registryFailures: make(map[string]int),
	}
}

// Run обрабатывает задачи, пока не отменён контекст. Возвращает после
// завершения всех уже начатых запусков.
func (w *Worker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.log.Error().Err(err).Msg("worker: ошибка чтения очереди")
			if sleepContext(ctx, w.retryDelay) != nil {
				break
			}
			continue
		}
		g.Go(func() error {
			w.handle(gctx, job, ack)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) handle(ctx context.Context, job domain.DigestJob, ack domain.DigestAckFunc) {
	jobLog := w.log.With().
		Str("job_id", job.ID).
		Str("digest_id", job.DigestID).
		Str("cause", string(job.Cause)).
		Logger()

	if job.ID == "" || job.DigestID == "" {
		jobLog.Error().Msg("worker: получена неполная задача, подтверждаем и пропускаем")
		w.ack(jobLog, ack, true)
		return
	}

	delivered, attempt, err := w.jobs.EnsureDigestJob(ctx, job.ID)
	if err != nil {
		failures := w.registryFailure(job.ID)
		jobLog.Error().Err(err).Int("failures", failures).Msg("worker: не удалось зарегистрировать задачу")
		if failures < maxJobAttempts {
			w.retry(ctx, jobLog, ack)
			return
		}
		jobLog.Error().Msg("worker: реестр задач недоступен, достигнут предел попыток, задача отброшена")
		w.forgetRegistryFailures(job.ID)
		w.ack(jobLog, ack, true)
		return
	}
	w.forgetRegistryFailures(job.ID)
	jobLog = jobLog.With().Int("attempt", attempt).Logger()
	if delivered {
		jobLog.Info().Msg("worker: задача уже обработана, подтверждаем")
		w.ack(jobLog, ack, true)
		return
	}

	creds, err := w.creds.GetCredentials(ctx, job.UserID)
	if err != nil && !errors.Is(err, domain.ErrNoCredentials) {
		jobLog.Error().Err(err).Msg("worker: не удалось получить токены")
		if attempt < maxJobAttempts {
			w.retry(ctx, jobLog, ack)
			return
		}
		jobLog.Error().Msg("worker: достигнут предел попыток, запускаем без токенов")
	}

	// Итог пайплайна записан в журнал запусков, повтор не нужен.
	res := w.processor.Process(ctx, domain.Invocation{
		DigestID:    job.DigestID,
		JobID:       job.ID,
		Credentials: creds,
	})
	if !res.Recorded() {
		if attempt < maxJobAttempts {
			jobLog.Warn().Err(res.Err).Msg("worker: запуск не попал в журнал, повторим позже")
			w.retry(ctx, jobLog, ack)
			return
		}
		jobLog.Error().Err(res.Err).Msg("worker: запуск не попал в журнал, достигнут предел попыток")
	}
	w.observe(ctx, job, attempt, res)

	if err := w.jobs.MarkDigestJobDelivered(context.WithoutCancel(ctx), job.ID); err != nil {
		jobLog.Error().Err(err).Msg("worker: не удалось пометить задачу обработанной")
	}
	w.ack(jobLog, ack, true)
}

func (w *Worker) registryFailure(jobID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.registryFailures[jobID]++
	return w.registryFailures[jobID]
}

func (w *Worker) forgetRegistryFailures(jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.registryFailures, jobID)
}

func (w *Worker) retry(ctx context.Context, logger zerolog.Logger, ack domain.DigestAckFunc) {
	w.ack(logger, ack, false)
	_ = sleepContext(ctx, w.retryDelay)
}

func (w *Worker) ack(logger zerolog.Logger, ack domain.DigestAckFunc, success bool) {
	if err := ack(success); err != nil {
		logger.Error().Err(err).Bool("success", success).Msg("worker: не удалось подтвердить задачу")
	}
}

func (w *Worker) observe(ctx context.Context, job domain.DigestJob, attempt int, res RunResult) {
	if w.analytics == nil {
		return
	}
	event := domain.BusinessMetricEventDigestDelivered
	meta := map[string]any{
		"job_id":       job.ID,
		"run_id":       res.RunID,
		"cause":        string(job.Cause),
		"attempt":      attempt,
		"scanned":      res.TotalScanned,
		"selected":     res.TotalSelected,
		"requested_at": job.RequestedAt,
	}
	if res.Status != domain.RunStatusSuccess {
		event = domain.BusinessMetricEventDigestFailed
		if res.Err != nil {
			meta["error"] = res.Err.Error()
		}
	} else {
		meta["message_id"] = res.MessageID
	}
	metric := domain.BusinessMetric{
		Event:      event,
		DigestID:   job.DigestID,
		UserID:     job.UserID,
		Metadata:   meta,
		OccurredAt: time.Now().UTC(),
	}
	if err := w.analytics.RecordBusinessMetric(context.WithoutCancel(ctx), metric); err != nil {
		w.log.Error().Err(err).Str("event", event).Msg("worker: не удалось сохранить бизнес-метрику")
	}
}
