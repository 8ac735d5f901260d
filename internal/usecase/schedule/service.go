package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tweet-digest/internal/domain"
	"tweet-digest/internal/infra/metrics"
)

var (
	// ErrInvalidTimezone возвращается, если указан некорректный часовой пояс.
	ErrInvalidTimezone = errors.New("invalid timezone")
	// ErrNoHandles возвращается при ручном запуске дайджеста без аккаунтов.
	ErrNoHandles = errors.New("No Twitter usernames configured")
	// ErrNotConnected возвращается, если владелец не подключил почту.
	ErrNotConnected = errors.New("Google account not connected")
)

// MsgNoAccessToken попадает в отчёт обхода для дайджестов без подключённой почты.
const MsgNoAccessToken = "No Google access token"

// SweepResult описывает решение по одному дайджесту.
type SweepResult struct {
	DigestID string `json:"digestId"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// SweepReport описывает итог планового обхода.
type SweepReport struct {
	ProcessedCount int           `json:"processedCount"`
	Results        []SweepResult `json:"results"`
}

// Service ставит дайджесты в очередь по расписанию и по запросу владельца.
type Service struct {
	digests   domain.DigestRepo
	creds     domain.CredentialRepo
	queue     domain.DigestQueue
	analytics domain.BusinessMetricRepo
	log       zerolog.Logger
	loc       *time.Location
	newID     func() string
}

// NewService создаёт сервис.
func NewService(digests domain.DigestRepo, creds domain.CredentialRepo, queue domain.DigestQueue, analytics domain.BusinessMetricRepo, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		digests:   digests,
		creds:     creds,
		queue:     queue,
		analytics: analytics,
		log:       logger,
		loc:       loc,
		newID:     uuid.NewString,
	}
}

// Sweep выбирает активные дайджесты, у которых текущий час совпадает с часом
// доставки, и ставит их в очередь. Обход не ждёт завершения пайплайна.
func (s *Service) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	hour := now.In(s.loc).Hour()
	due, err := s.digests.ListDueDigests(ctx, hour)
	if err != nil {
		return SweepReport{}, fmt.Errorf("выборка дайджестов: %w", err)
	}
	report := SweepReport{Results: make([]SweepResult, 0, len(due))}
	for _, d := range due {
		result := SweepResult{DigestID: d.ID, Status: string(domain.RunStatusProcessing)}
		if err := s.enqueue(ctx, d, domain.DigestCauseScheduled, now); err != nil {
			result.Status = string(domain.RunStatusFailed)
			result.Error = err.Error()
			if errors.Is(err, ErrNotConnected) {
				result.Error = MsgNoAccessToken
			}
			s.log.Warn().Err(err).Str("digest_id", d.ID).Msg("schedule: дайджест не поставлен в очередь")
		}
		report.Results = append(report.Results, result)
	}
	report.ProcessedCount = len(report.Results)
	s.log.Info().Int("hour", hour).Int("due", len(due)).Msg("schedule: обход завершён")
	return report, nil
}

// RunNow ставит дайджест в очередь вне расписания.
func (s *Service) RunNow(ctx context.Context, digestID string) error {
	d, err := s.digests.GetDigest(ctx, digestID)
	if err != nil {
		return err
	}
	if len(d.AccountHandles) == 0 {
		return ErrNoHandles
	}
	return s.enqueue(ctx, d, domain.DigestCauseManual, time.Now())
}

func (s *Service) enqueue(ctx context.Context, d domain.DigestConfig, cause domain.DigestJobCause, now time.Time) error {
	creds, err := s.creds.GetCredentials(ctx, d.UserID)
	if errors.Is(err, domain.ErrNoCredentials) || (err == nil && creds.AccessToken == "") {
		return ErrNotConnected
	}
	if err != nil {
		return fmt.Errorf("получение токенов: %w", err)
	}
	job := domain.DigestJob{
		ID:          s.newID(),
		DigestID:    d.ID,
		UserID:      d.UserID,
		RequestedAt: now.UTC(),
		Cause:       cause,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("постановка в очередь: %w", err)
	}
	metrics.DigestJobsTotal.WithLabelValues(string(cause)).Inc()

	event := domain.BusinessMetricEventDigestScheduled
	if cause == domain.DigestCauseManual {
		event = domain.BusinessMetricEventDigestRequested
	}
	s.recordMetric(ctx, domain.BusinessMetric{
		Event:    event,
		DigestID: d.ID,
		UserID:   d.UserID,
		Metadata: map[string]any{
			"job_id":       job.ID,
			"cause":        string(cause),
			"accounts":     len(d.AccountHandles),
			"requested_at": job.RequestedAt,
		},
		OccurredAt: job.RequestedAt,
	})
	return nil
}

func (s *Service) recordMetric(ctx context.Context, metric domain.BusinessMetric) {
	if s.analytics == nil {
		return
	}
	if err := s.analytics.RecordBusinessMetric(ctx, metric); err != nil {
		s.log.Error().Err(err).Str("event", metric.Event).Msg("schedule: не удалось сохранить бизнес-метрику")
	}
}

// NormalizeTimezone приводит пользовательский ввод к имени из базы tz.
func NormalizeTimezone(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", ErrInvalidTimezone
	}
	candidate = strings.ReplaceAll(candidate, " ", "_")
	if _, err := time.LoadLocation(candidate); err == nil {
		return candidate, nil
	}

	lower := strings.ToLower(candidate)
	parts := strings.Split(lower, "/")
	for i, part := range parts {
		segments := strings.Split(part, "_")
		for j, segment := range segments {
			pieces := strings.Split(segment, "-")
			for k, piece := range pieces {
				if piece == "" {
					continue
				}
				pieces[k] = strings.ToUpper(piece[:1]) + piece[1:]
			}
			segments[j] = strings.Join(pieces, "-")
		}
		parts[i] = strings.Join(segments, "_")
	}
	normalized := strings.Join(parts, "/")
	if _, err := time.LoadLocation(normalized); err == nil {
		return normalized, nil
	}
	return "", ErrInvalidTimezone
}
