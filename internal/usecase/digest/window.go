package digest

import (
	"fmt"
	"strings"
	"time"

	"tweet-digest/internal/domain"
)

var postTimeLayouts = []string{
	time.RubyDate,
	time.RFC3339Nano,
	time.UnixDate,
	time.RFC1123Z,
	time.RFC1123,
}

// ParsePostTime разбирает время создания поста. Основной формат источника:
// "Mon Jan 01 12:00:00 +0000 2024".
func ParsePostTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range postTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("неизвестный формат времени %q", value)
}

// FilterRecent оставляет оригинальные посты не старше hoursBack часов.
// Граница включительна; пост с нераспознанным временем отбрасывается.
func FilterRecent(posts []domain.Post, hoursBack int, now time.Time) []domain.Post {
	cutoff := now.Add(-time.Duration(hoursBack) * time.Hour)
	out := make([]domain.Post, 0, len(posts))
	for _, p := range posts {
		if p.IsReshare() {
			continue
		}
		created, err := ParsePostTime(p.CreatedAt)
		if err != nil {
			continue
		}
		if created.Before(cutoff) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ToValuable проецирует посты в минимальный вид для AI-этапов.
func ToValuable(posts []domain.Post) []domain.ValuablePost {
	out := make([]domain.ValuablePost, 0, len(posts))
	for _, p := range posts {
		out = append(out, domain.ValuablePost{AuthorName: p.AuthorLabel(), Text: p.Text, URL: p.URL})
	}
	return out
}
