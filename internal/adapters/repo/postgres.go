package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tweet-digest/internal/domain"
	"tweet-digest/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var (
	_ domain.DigestRepo         = (*Postgres)(nil)
	_ domain.CredentialRepo     = (*Postgres)(nil)
	_ domain.AccountCache       = (*Postgres)(nil)
	_ domain.RunLogRepo         = (*Postgres)(nil)
	_ domain.DigestJobRepo      = (*Postgres)(nil)
	_ domain.BusinessMetricRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// RecordBusinessMetric сохраняет бизнесовую метрику в БД.
func (p *Postgres) RecordBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}
	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = p.now()
	}

	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var payload []byte
	if metric.Metadata != nil {
		if data, err := json.Marshal(metric.Metadata); err == nil {
			payload = data
		}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO business_metrics (event, digest_id, user_id, metadata, occurred_at)
VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5)
`, metric.Event, metric.DigestID, metric.UserID, payload, metric.OccurredAt)
	metrics.ObserveNetworkRequest("postgres", "business_metrics_insert", "business_metrics", start, err)
	return err
}

const digestColumns = `id, user_id, name, account_handles, schedule_hour, window_hours, recipient_email, is_active, created_at, updated_at`

func scanDigest(row pgx.Row) (domain.DigestConfig, error) {
	var d domain.DigestConfig
	err := row.Scan(&d.ID, &d.UserID, &d.Name, &d.AccountHandles, &d.ScheduleHour, &d.WindowHours, &d.RecipientEmail, &d.IsActive, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

// GetDigest возвращает настройки дайджеста по идентификатору.
func (p *Postgres) GetDigest(ctx context.Context, digestID string) (domain.DigestConfig, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	d, err := scanDigest(p.pool.QueryRow(ctx, `SELECT `+digestColumns+` FROM digests WHERE id=$1`, digestID))
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "digests_get", "digests", start, nil)
		return domain.DigestConfig{}, domain.ErrDigestNotFound
	}
	metrics.ObserveNetworkRequest("postgres", "digests_get", "digests", start, err)
	if err != nil {
		return domain.DigestConfig{}, err
	}
	return d, nil
}

// ListDueDigests возвращает активные дайджесты, запланированные на указанный час.
func (p *Postgres) ListDueDigests(ctx context.Context, hour int) ([]domain.DigestConfig, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+digestColumns+`
FROM digests WHERE is_active AND schedule_hour=$1
ORDER BY created_at
`, hour)
	metrics.ObserveNetworkRequest("postgres", "digests_list_due", "digests", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var digests []domain.DigestConfig
	for rows.Next() {
		d, err := scanDigest(rows)
		if err != nil {
			return nil, err
		}
		digests = append(digests, d)
	}
	return digests, rows.Err()
}

// UpdateDigest сохраняет изменённые настройки дайджеста.
func (p *Postgres) UpdateDigest(ctx context.Context, d domain.DigestConfig) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE digests
SET name=$2, account_handles=$3, schedule_hour=$4, window_hours=$5, recipient_email=$6, is_active=$7, updated_at=now()
WHERE id=$1
`, d.ID, d.Name, d.AccountHandles, d.ScheduleHour, d.WindowHours, d.RecipientEmail, d.IsActive)
	metrics.ObserveNetworkRequest("postgres", "digests_update", "digests", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDigestNotFound
	}
	return nil
}

// GetCredentials возвращает токены почты, подключённой пользователем.
func (p *Postgres) GetCredentials(ctx context.Context, userID string) (domain.Credentials, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		access  sql.NullString
		refresh sql.NullString
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT access_token, refresh_token
FROM mail_accounts WHERE user_id=$1 AND provider='google'
ORDER BY updated_at DESC
LIMIT 1
`, userID).Scan(&access, &refresh)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "mail_accounts_get", "mail_accounts", start, nil)
		return domain.Credentials{}, domain.ErrNoCredentials
	}
	metrics.ObserveNetworkRequest("postgres", "mail_accounts_get", "mail_accounts", start, err)
	if err != nil {
		return domain.Credentials{}, err
	}
	if !access.Valid || access.String == "" {
		return domain.Credentials{}, domain.ErrNoCredentials
	}
	return domain.Credentials{AccessToken: access.String, RefreshToken: refresh.String}, nil
}

// GetAccount ищет закэшированный идентификатор аккаунта.
func (p *Postgres) GetAccount(ctx context.Context, handle string) (domain.AccountCacheEntry, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		entry       domain.AccountCacheEntry
		displayName sql.NullString
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT handle, account_id, display_name, cached_at
FROM account_cache WHERE handle=$1
`, handle).Scan(&entry.Handle, &entry.AccountID, &displayName, &entry.CachedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "account_cache_get", "account_cache", start, nil)
		return domain.AccountCacheEntry{}, false, nil
	}
	metrics.ObserveNetworkRequest("postgres", "account_cache_get", "account_cache", start, err)
	if err != nil {
		return domain.AccountCacheEntry{}, false, err
	}
	entry.DisplayName = displayName.String
	return entry, true, nil
}

// UpsertAccount сохраняет результат резолва. Последняя запись побеждает.
func (p *Postgres) UpsertAccount(ctx context.Context, entry domain.AccountCacheEntry) error {
	if entry.CachedAt.IsZero() {
		entry.CachedAt = p.now()
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO account_cache (handle, account_id, display_name, cached_at)
VALUES ($1, $2, NULLIF($3, ''), $4)
ON CONFLICT (handle) DO UPDATE SET account_id=EXCLUDED.account_id, display_name=EXCLUDED.display_name, cached_at=EXCLUDED.cached_at
`, entry.Handle, entry.AccountID, entry.DisplayName, entry.CachedAt)
	metrics.ObserveNetworkRequest("postgres", "account_cache_upsert", "account_cache", start, err)
	return err
}

// DeleteAccounts удаляет записи кэша для перечисленных хэндлов.
func (p *Postgres) DeleteAccounts(ctx context.Context, handles []string) error {
	if len(handles) == 0 {
		return nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM account_cache WHERE handle = ANY($1)`, handles)
	metrics.ObserveNetworkRequest("postgres", "account_cache_delete", "account_cache", start, err)
	return err
}

// CreateRun создаёт запись запуска в состоянии processing.
func (p *Postgres) CreateRun(ctx context.Context, digestID string) (domain.RunLog, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	run := domain.RunLog{
		ID:         uuid.NewString(),
		DigestID:   digestID,
		Status:     domain.RunStatusProcessing,
		ExecutedAt: p.now(),
	}
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO digest_logs (id, digest_id, status, total_scanned, total_selected, executed_at)
VALUES ($1, $2, $3, 0, 0, $4)
`, run.ID, run.DigestID, string(run.Status), run.ExecutedAt)
	metrics.ObserveNetworkRequest("postgres", "digest_logs_create", "digest_logs", start, err)
	if err != nil {
		return domain.RunLog{}, fmt.Errorf("create run log: %w", err)
	}
	return run, nil
}

// UpdateRun переводит запись запуска в конечное состояние. Запись, уже
// покинувшая processing, не изменяется.
func (p *Postgres) UpdateRun(ctx context.Context, runID string, update domain.RunLogUpdate) error {
	if !update.Status.Terminal() {
		return fmt.Errorf("run status %q is not terminal", update.Status)
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE digest_logs
SET status=$2, total_scanned=$3, total_selected=$4, error_message=NULLIF($5, ''), digest_content=$6
WHERE id=$1 AND status='processing'
`, runID, string(update.Status), update.TotalScanned, update.TotalSelected, update.ErrorMessage, nullJSON(update.DigestContent))
	metrics.ObserveNetworkRequest("postgres", "digest_logs_update", "digest_logs", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s is not in processing state", runID)
	}
	return nil
}

// ListRuns возвращает последние запуски дайджеста, новые первыми.
func (p *Postgres) ListRuns(ctx context.Context, digestID string, limit int) ([]domain.RunLog, error) {
	if limit <= 0 {
		limit = 20
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, digest_id, status, total_scanned, total_selected, error_message, digest_content, executed_at
FROM digest_logs WHERE digest_id=$1
ORDER BY executed_at DESC
LIMIT $2
`, digestID, limit)
	metrics.ObserveNetworkRequest("postgres", "digest_logs_list", "digest_logs", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []domain.RunLog
	for rows.Next() {
		var (
			run    domain.RunLog
			status string
			errMsg sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.DigestID, &status, &run.TotalScanned, &run.TotalSelected, &errMsg, &run.DigestContent, &run.ExecutedAt); err != nil {
			return nil, err
		}
		run.Status = domain.RunStatus(status)
		run.ErrorMessage = errMsg.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// EnsureDigestJob регистрирует попытку обработки задачи дайджеста.
func (p *Postgres) EnsureDigestJob(ctx context.Context, jobID string) (bool, int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		delivered sql.NullTime
		attempts  int
	)

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO digest_job_statuses (job_id, attempts, updated_at)
VALUES ($1, 1, now())
ON CONFLICT (job_id) DO UPDATE
    SET attempts = digest_job_statuses.attempts + 1,
        updated_at = now()
RETURNING delivered_at, attempts
`, jobID).Scan(&delivered, &attempts)
	metrics.ObserveNetworkRequest("postgres", "digest_job_statuses_upsert", "digest_job_statuses", start, err)
	if err != nil {
		return false, 0, err
	}

	return delivered.Valid, attempts, nil
}

// MarkDigestJobDelivered помечает задачу как обработанную.
func (p *Postgres) MarkDigestJobDelivered(ctx context.Context, jobID string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE digest_job_statuses
SET delivered_at = COALESCE(delivered_at, now()),
    updated_at = now()
WHERE job_id = $1
`, jobID)
	metrics.ObserveNetworkRequest("postgres", "digest_job_statuses_mark_delivered", "digest_job_statuses", start, err)
	return err
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
