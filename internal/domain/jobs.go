package domain

import (
	"context"
	"time"
)

// DigestJobCause описывает источник запроса на дайджест.
type DigestJobCause string

const (
	// DigestCauseManual — пользователь запустил дайджест вручную.
	DigestCauseManual DigestJobCause = "manual"
	// DigestCauseScheduled — дайджест запущен по расписанию.
	DigestCauseScheduled DigestJobCause = "scheduled"
)

// DigestJob содержит информацию о задаче построения дайджеста.
// Токены в задачу не попадают: воркер читает их из CredentialRepo.
type DigestJob struct {
	ID          string         `json:"job_id"`
	DigestID    string         `json:"digest_id"`
	UserID      string         `json:"user_id"`
	RequestedAt time.Time      `json:"requested_at"`
	Cause       DigestJobCause `json:"cause"`
}

// DigestQueue описывает очередь задач на построение дайджестов.
type DigestQueue interface {
	Enqueue(ctx context.Context, job DigestJob) error
	Receive(ctx context.Context) (DigestJob, DigestAckFunc, error)
}

// DigestAckFunc подтверждает обработку или возвращает задачу в очередь.
type DigestAckFunc func(success bool) error

// DigestJobRepo отслеживает попытки обработки задач, чтобы повторная
// доставка сообщения из очереди не приводила к повторной отправке письма.
type DigestJobRepo interface {
	EnsureDigestJob(ctx context.Context, jobID string) (delivered bool, attempts int, err error)
	MarkDigestJobDelivered(ctx context.Context, jobID string) error
}
