package domain

import "time"

// DigestConfig описывает настройки дайджеста пользователя.
type DigestConfig struct {
	ID             string
	UserID         string
	Name           string
	AccountHandles []string
	ScheduleHour   int
	WindowHours    int
	RecipientEmail string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AccountCacheEntry хранит результат резолва хэндла в идентификатор аккаунта.
type AccountCacheEntry struct {
	Handle      string
	AccountID   string
	DisplayName string
	CachedAt    time.Time
}

// AccountInfo возвращается источником данных при поиске аккаунта.
type AccountInfo struct {
	ID   string
	Name string
}

// Author описывает автора поста.
type Author struct {
	Name   string
	Handle string
}

// Post представляет пост из источника данных. Не сохраняется.
type Post struct {
	Text       string
	CreatedAt  string
	URL        string
	Author     Author
	ReshareRef string
}

// IsReshare сообщает, является ли пост репостом чужого поста.
func (p Post) IsReshare() bool {
	return p.ReshareRef != ""
}

// AuthorLabel возвращает отображаемое имя автора с запасными вариантами.
func (p Post) AuthorLabel() string {
	if p.Author.Name != "" {
		return p.Author.Name
	}
	if p.Author.Handle != "" {
		return p.Author.Handle
	}
	return "Unknown"
}

// ValuablePost содержит минимальную проекцию поста для AI-этапов.
type ValuablePost struct {
	AuthorName string `json:"author_name"`
	Text       string `json:"text"`
	URL        string `json:"url"`
}

// DigestItem описывает одну позицию дайджеста.
type DigestItem struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// StructuredDigest строится вторым AI-этапом.
type StructuredDigest struct {
	GeneralUpdates      []DigestItem `json:"generalUpdates"`
	Launches            []DigestItem `json:"launches"`
	Tools               []DigestItem `json:"tools"`
	ProductInspirations []DigestItem `json:"productInspirations"`
	MarketingIdeas      []DigestItem `json:"marketingIdeas"`
}

// Len возвращает суммарное количество позиций во всех разделах.
func (d StructuredDigest) Len() int {
	return len(d.GeneralUpdates) + len(d.Launches) + len(d.Tools) + len(d.ProductInspirations) + len(d.MarketingIdeas)
}

// RunStatus описывает состояние запуска пайплайна.
type RunStatus string

const (
	// RunStatusProcessing — начальное состояние, запуск выполняется.
	RunStatusProcessing RunStatus = "processing"
	// RunStatusSuccess — дайджест доставлен.
	RunStatusSuccess RunStatus = "success"
	// RunStatusFailed — запуск завершился ошибкой.
	RunStatusFailed RunStatus = "failed"
)

// Terminal сообщает, является ли статус конечным.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed
}

// RunLog хранит запись об одном запуске пайплайна.
type RunLog struct {
	ID            string
	DigestID      string
	Status        RunStatus
	TotalScanned  int
	TotalSelected int
	ErrorMessage  string
	DigestContent []byte
	ExecutedAt    time.Time
}

// RunLogUpdate содержит терминальное обновление записи запуска.
type RunLogUpdate struct {
	Status        RunStatus
	TotalScanned  int
	TotalSelected int
	ErrorMessage  string
	DigestContent []byte
}

// Credentials — делегированные пользователем токены почтового транспорта.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Invocation содержит входные данные запуска.
type Invocation struct {
	DigestID    string
	JobID       string
	Credentials Credentials
}

// RunMeta передаётся AI-этапам для логирования.
type RunMeta struct {
	DigestID    string
	UserID      string
	Accounts    []string
	WindowHours int
}
