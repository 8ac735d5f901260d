package digest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tweet-digest/internal/domain"
	"tweet-digest/internal/infra/metrics"
)

// Сообщения, которые попадают в историю запусков и видны пользователю.
const (
	MsgDigestNotFound  = "Digest not found"
	MsgNoRecentPosts   = "No recent tweets found"
	MsgNoValuablePosts = "No valuable tweets after filtering"
	MsgReauthorize     = "Google authorization expired, please reconnect your Google account"
)

// PostFetcher собирает посты по списку хэндлов.
type PostFetcher interface {
	FetchAll(ctx context.Context, handles []string) []domain.Post
}

// Deliverer отправляет готовый дайджест.
type Deliverer interface {
	Deliver(ctx context.Context, digest domain.StructuredDigest, recipient string, scanned, selected int, creds domain.Credentials) (string, error)
}

// ErrRunNotRecorded возвращается в RunResult, если запись журнала запуска не
// удалось создать и пайплайн не выполнялся.
var ErrRunNotRecorded = errors.New("run log was not created")

// RunResult описывает итог одного запуска.
type RunResult struct {
	RunID         string
	Status        domain.RunStatus
	TotalScanned  int
	TotalSelected int
	MessageID     string
	Err           error
}

// Processor выполняет пайплайн дайджеста и ведёт журнал запуска.
type Processor struct {
	digests   domain.DigestRepo
	runs      domain.RunLogRepo
	fetcher   PostFetcher
	filter    domain.NoiseFilter
	formatter domain.DigestFormatter
	delivery  Deliverer
	log       zerolog.Logger
	now       func() time.Time
}

// NewProcessor создаёт пайплайн.
func NewProcessor(digests domain.DigestRepo, runs domain.RunLogRepo, fetcher PostFetcher, filter domain.NoiseFilter, formatter domain.DigestFormatter, delivery Deliverer, logger zerolog.Logger) *Processor {
	return &Processor{
		digests:   digests,
		runs:      runs,
		fetcher:   fetcher,
		filter:    filter,
		formatter: formatter,
		delivery:  delivery,
		log:       logger,
		now:       time.Now,
	}
}

type outcome struct {
	update    domain.RunLogUpdate
	messageID string
	err       error
}

func failed(msg string, scanned, selected int, err error) outcome {
	if err == nil {
		err = errors.New(msg)
	}
	return outcome{
		update: domain.RunLogUpdate{
			Status:        domain.RunStatusFailed,
			TotalScanned:  scanned,
			TotalSelected: selected,
			ErrorMessage:  msg,
		},
		err: err,
	}
}

// Process выполняет один запуск. Запись журнала создаётся до любых внешних
// вызовов и получает ровно одно конечное обновление. Ошибки и паники не
// выходят за пределы метода, итог отражается в RunResult и журнале.
func (p *Processor) Process(ctx context.Context, inv domain.Invocation) RunResult {
	start := time.Now()
	logger := p.log.With().Str("digest_id", inv.DigestID).Str("job_id", inv.JobID).Logger()

	run, err := p.runs.CreateRun(ctx, inv.DigestID)
	if err != nil {
		logger.Error().Err(err).Msg("pipeline: не удалось создать запись запуска")
		metrics.ObserveRun(string(domain.RunStatusFailed), time.Since(start))
		return RunResult{Status: domain.RunStatusFailed, Err: fmt.Errorf("%w: %v", ErrRunNotRecorded, err)}
	}
	logger = logger.With().Str("run_id", run.ID).Logger()

	res := p.execute(ctx, inv, logger)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.runs.UpdateRun(writeCtx, run.ID, res.update); err != nil {
		logger.Error().Err(err).Str("status", string(res.update.Status)).Msg("pipeline: не удалось обновить запись запуска")
	}

	metrics.ObserveRun(string(res.update.Status), time.Since(start))
	event := logger.Info()
	if res.update.Status == domain.RunStatusFailed {
		event = logger.Warn().Err(res.err)
	}
	event.
		Str("status", string(res.update.Status)).
		Int("scanned", res.update.TotalScanned).
		Int("selected", res.update.TotalSelected).
		Dur("duration", time.Since(start)).
		Msg("pipeline: запуск завершён")

	return RunResult{
		RunID:         run.ID,
		Status:        res.update.Status,
		TotalScanned:  res.update.TotalScanned,
		TotalSelected: res.update.TotalSelected,
		MessageID:     res.messageID,
		Err:           res.err,
	}
}

// Recorded сообщает, попал ли запуск в журнал.
func (r RunResult) Recorded() bool {
	return r.RunID != "" && !errors.Is(r.Err, ErrRunNotRecorded)
}

func (p *Processor) execute(ctx context.Context, inv domain.Invocation, logger zerolog.Logger) (res outcome) {
	scanned, selected := 0, 0
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("pipeline: паника при выполнении")
			res = failed(fmt.Sprintf("internal error: %v", r), scanned, selected, fmt.Errorf("panic: %v", r))
		}
	}()

	digest, err := p.digests.GetDigest(ctx, inv.DigestID)
	if errors.Is(err, domain.ErrDigestNotFound) {
		return failed(MsgDigestNotFound, 0, 0, err)
	}
	if err != nil {
		return failed(err.Error(), 0, 0, err)
	}
	logger.Info().
		Strs("accounts", digest.AccountHandles).
		Int("window_hours", digest.WindowHours).
		Msg("pipeline: старт обработки")

	posts := p.fetcher.FetchAll(ctx, digest.AccountHandles)
	scanned = len(posts)

	recent := FilterRecent(posts, digest.WindowHours, p.now())
	logger.Info().Int("fetched", len(posts)).Int("recent", len(recent)).Msg("pipeline: посты отфильтрованы по времени")
	if len(recent) == 0 {
		return failed(MsgNoRecentPosts, len(posts), 0, nil)
	}
	scanned = len(recent)

	meta := domain.RunMeta{
		DigestID:    digest.ID,
		UserID:      digest.UserID,
		Accounts:    digest.AccountHandles,
		WindowHours: digest.WindowHours,
	}
	valuable := p.filter.FilterNoise(ctx, ToValuable(recent), meta)
	if len(valuable) == 0 {
		return failed(MsgNoValuablePosts, len(recent), 0, nil)
	}
	selected = len(valuable)

	structured, err := p.formatter.FormatDigest(ctx, valuable, len(recent), meta)
	if err != nil {
		return failed(err.Error(), scanned, selected, err)
	}

	messageID, err := p.delivery.Deliver(ctx, structured, digest.RecipientEmail, scanned, selected, inv.Credentials)
	if errors.Is(err, domain.ErrDeliveryUnauthorized) {
		return failed(MsgReauthorize, scanned, selected, err)
	}
	if err != nil {
		return failed(err.Error(), scanned, selected, err)
	}

	content, err := json.Marshal(structured)
	if err != nil {
		logger.Warn().Err(err).Msg("pipeline: не удалось сериализовать дайджест")
	}
	return outcome{
		update: domain.RunLogUpdate{
			Status:        domain.RunStatusSuccess,
			TotalScanned:  scanned,
			TotalSelected: selected,
			DigestContent: content,
		},
		messageID: messageID,
	}
}
