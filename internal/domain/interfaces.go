package domain

import (
	"context"
	"errors"
)

var (
	// ErrDigestNotFound возвращается, когда дайджест не найден.
	ErrDigestNotFound = errors.New("digest not found")

	// ErrAccountNotFound возвращается, когда хэндл не удалось разрешить в аккаунт.
	ErrAccountNotFound = errors.New("account not found")

	// ErrNoCredentials возвращается, когда у владельца нет подключённой почты.
	ErrNoCredentials = errors.New("mail credentials not found")

	// ErrDeliveryUnauthorized возвращается, когда почтовый транспорт отклонил токен.
	ErrDeliveryUnauthorized = errors.New("mail delivery unauthorized")

	// ErrEmptyDigest возвращается, когда после форматирования не осталось ни одной позиции.
	ErrEmptyDigest = errors.New("formatted digest is empty")
)

// DigestRepo управляет настройками дайджестов.
type DigestRepo interface {
	GetDigest(ctx context.Context, digestID string) (DigestConfig, error)
	ListDueDigests(ctx context.Context, hour int) ([]DigestConfig, error)
	UpdateDigest(ctx context.Context, digest DigestConfig) error
}

// CredentialRepo возвращает делегированные токены почты владельца дайджеста.
type CredentialRepo interface {
	GetCredentials(ctx context.Context, userID string) (Credentials, error)
}

// AccountCache хранит соответствие хэндла и идентификатора аккаунта.
// Промах кэша не является ошибкой: found=false.
type AccountCache interface {
	GetAccount(ctx context.Context, handle string) (entry AccountCacheEntry, found bool, err error)
	UpsertAccount(ctx context.Context, entry AccountCacheEntry) error
	DeleteAccounts(ctx context.Context, handles []string) error
}

// RunLogRepo сохраняет историю запусков пайплайна.
type RunLogRepo interface {
	CreateRun(ctx context.Context, digestID string) (RunLog, error)
	UpdateRun(ctx context.Context, runID string, update RunLogUpdate) error
	ListRuns(ctx context.Context, digestID string, limit int) ([]RunLog, error)
}

// PostSource описывает внешний источник постов.
type PostSource interface {
	LookupAccount(ctx context.Context, handle string) (AccountInfo, error)
	FetchRecentPosts(ctx context.Context, accountID string) ([]Post, error)
}

// NoiseFilter отбирает ценные посты. Никогда не возвращает ошибку:
// при сбое возвращает входной набор.
type NoiseFilter interface {
	FilterNoise(ctx context.Context, candidates []ValuablePost, meta RunMeta) []ValuablePost
}

// DigestFormatter строит структурированный дайджест из ценных постов.
type DigestFormatter interface {
	FormatDigest(ctx context.Context, posts []ValuablePost, totalScanned int, meta RunMeta) (StructuredDigest, error)
}

// MailMessage — готовое к отправке письмо.
type MailMessage struct {
	To        string
	Subject   string
	HTMLBody  string
	PlainBody string
}

// Mailer отправляет письма от имени владельца дайджеста.
type Mailer interface {
	Send(ctx context.Context, creds Credentials, msg MailMessage) (messageID string, err error)
}
