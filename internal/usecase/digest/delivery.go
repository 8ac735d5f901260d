package digest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tweet-digest/internal/domain"
)

// Delivery рендерит дайджест и отправляет его через почтовый транспорт.
// Повторов и обновления токенов здесь нет.
type Delivery struct {
	renderer *Renderer
	mailer   domain.Mailer
	log      zerolog.Logger
	now      func() time.Time
}

// NewDelivery создаёт адаптер доставки.
func NewDelivery(renderer *Renderer, mailer domain.Mailer, logger zerolog.Logger) *Delivery {
	return &Delivery{renderer: renderer, mailer: mailer, log: logger, now: time.Now}
}

// Deliver отправляет дайджест получателю и возвращает идентификатор письма.
// Ошибка авторизации возвращается как domain.ErrDeliveryUnauthorized.
func (d *Delivery) Deliver(ctx context.Context, digest domain.StructuredDigest, recipient string, scanned, selected int, creds domain.Credentials) (string, error) {
	msg, err := d.renderer.Render(digest, recipient, scanned, selected, d.now())
	if err != nil {
		return "", err
	}
	id, err := d.mailer.Send(ctx, creds, msg)
	if err != nil {
		return "", fmt.Errorf("отправка письма: %w", err)
	}
	d.log.Info().Str("message_id", id).Str("subject", msg.Subject).Msg("delivery: письмо отправлено")
	return id, nil
}
