package accounts

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrHandleInvalid возвращается для строки, которая не похожа на хэндл.
var ErrHandleInvalid = errors.New("некорректный хэндл")

var handleRegex = regexp.MustCompile(`(?i)^(?:@|https?://(?:www\.)?(?:x|twitter)\.com/|(?:x|twitter)\.com/)?([a-z0-9_]{1,15})/?$`)

// NormalizeHandle убирает ведущий @ и приводит хэндл к нижнему регистру.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}

// ParseHandle приводит ввод пользователя к каноничному хэндлу.
// Принимает "@name", "name" и ссылки на профиль.
func ParseHandle(input string) (string, error) {
	matches := handleRegex.FindStringSubmatch(strings.TrimSpace(input))
	if len(matches) < 2 {
		return "", ErrHandleInvalid
	}
	return strings.ToLower(matches[1]), nil
}

// NormalizeHandles разбирает список хэндлов, удаляя пустые значения и
// дубликаты без учёта регистра. Порядок сохраняется.
func NormalizeHandles(handles []string) ([]string, error) {
	seen := make(map[string]struct{}, len(handles))
	cleaned := make([]string, 0, len(handles))
	for _, h := range handles {
		if strings.TrimSpace(h) == "" {
			continue
		}
		parsed, err := ParseHandle(h)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", err, h)
		}
		if _, ok := seen[parsed]; ok {
			continue
		}
		seen[parsed] = struct{}{}
		cleaned = append(cleaned, parsed)
	}
	return cleaned, nil
}

// RemovedHandles возвращает нормализованные хэндлы, которые есть в before,
// но отсутствуют в after.
func RemovedHandles(before, after []string) []string {
	keep := make(map[string]struct{}, len(after))
	for _, h := range after {
		keep[NormalizeHandle(h)] = struct{}{}
	}
	seen := make(map[string]struct{}, len(before))
	var removed []string
	for _, h := range before {
		key := NormalizeHandle(h)
		if key == "" {
			continue
		}
		if _, ok := keep[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		removed = append(removed, key)
	}
	return removed
}
