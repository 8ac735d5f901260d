package accounts

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/rs/zerolog"

	"tweet-digest/internal/domain"
)

// ErrInvalidDigest возвращается при некорректных настройках дайджеста.
var ErrInvalidDigest = errors.New("некорректные настройки дайджеста")

// DigestPatch описывает изменения настроек. Nil-поля не меняются.
type DigestPatch struct {
	Name           *string  `json:"name,omitempty"`
	AccountHandles []string `json:"twitterUsernames,omitempty"`
	ScheduleHour   *int     `json:"scheduleHour,omitempty"`
	WindowHours    *int     `json:"timeWindowHours,omitempty"`
	RecipientEmail *string  `json:"recipientEmail,omitempty"`
	IsActive       *bool    `json:"isActive,omitempty"`
}

// Service управляет настройками дайджестов.
type Service struct {
	digests domain.DigestRepo
	cache   domain.AccountCache
	log     zerolog.Logger
}

// NewService создаёт сервис настроек.
func NewService(digests domain.DigestRepo, cache domain.AccountCache, logger zerolog.Logger) *Service {
	return &Service{digests: digests, cache: cache, log: logger}
}

// UpdateDigest применяет изменения и удаляет из кэша хэндлы, которые
// пропали из списка.
func (s *Service) UpdateDigest(ctx context.Context, digestID string, patch DigestPatch) (domain.DigestConfig, error) {
	current, err := s.digests.GetDigest(ctx, digestID)
	if err != nil {
		return domain.DigestConfig{}, err
	}
	updated, err := applyPatch(current, patch)
	if err != nil {
		return domain.DigestConfig{}, err
	}
	if err := s.digests.UpdateDigest(ctx, updated); err != nil {
		return domain.DigestConfig{}, fmt.Errorf("сохранение дайджеста: %w", err)
	}

	if removed := RemovedHandles(current.AccountHandles, updated.AccountHandles); len(removed) > 0 {
		if err := s.cache.DeleteAccounts(ctx, removed); err != nil {
			s.log.Warn().Err(err).Strs("handles", removed).Msg("accounts: не удалось очистить кэш")
		} else {
			s.log.Info().Strs("handles", removed).Str("digest_id", digestID).Msg("accounts: кэш очищен")
		}
	}
	return updated, nil
}

func applyPatch(d domain.DigestConfig, patch DigestPatch) (domain.DigestConfig, error) {
	if patch.Name != nil {
		d.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.AccountHandles != nil {
		handles, err := NormalizeHandles(patch.AccountHandles)
		if err != nil {
			return d, fmt.Errorf("%w: %v", ErrInvalidDigest, err)
		}
		d.AccountHandles = handles
	}
	if patch.ScheduleHour != nil {
		d.ScheduleHour = *patch.ScheduleHour
	}
	if patch.WindowHours != nil {
		d.WindowHours = *patch.WindowHours
	}
	if patch.RecipientEmail != nil {
		d.RecipientEmail = strings.TrimSpace(*patch.RecipientEmail)
	}
	if patch.IsActive != nil {
		d.IsActive = *patch.IsActive
	}
	return d, Validate(d)
}

// Validate проверяет инварианты настроек дайджеста.
func Validate(d domain.DigestConfig) error {
	if d.ScheduleHour < 0 || d.ScheduleHour > 23 {
		return fmt.Errorf("%w: час отправки должен быть от 0 до 23", ErrInvalidDigest)
	}
	if d.WindowHours < 1 {
		return fmt.Errorf("%w: окно должно быть не меньше часа", ErrInvalidDigest)
	}
	if _, err := mail.ParseAddress(d.RecipientEmail); err != nil {
		return fmt.Errorf("%w: адрес получателя: %v", ErrInvalidDigest, err)
	}
	return nil
}
