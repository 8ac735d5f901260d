package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"tweet-digest/internal/domain"
	"tweet-digest/internal/infra/metrics"
)

// Gmail отправляет письма через Gmail API от имени владельца дайджеста.
// Токен не обновляется: истёкший токен даёт ErrDeliveryUnauthorized.
type Gmail struct {
	httpClient *http.Client
	endpoint   string
	now        func() time.Time
}

var _ domain.Mailer = (*Gmail)(nil)

// Option настраивает клиент Gmail.
type Option func(*Gmail)

// WithHTTPClient задаёт базовый http.Client, поверх которого добавляется авторизация.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gmail) {
		if client != nil {
			g.httpClient = client
		}
	}
}

// WithEndpoint переопределяет адрес API.
func WithEndpoint(endpoint string) Option {
	return func(g *Gmail) {
		g.endpoint = endpoint
	}
}

// NewGmail создаёт почтовый транспорт.
func NewGmail(timeout time.Duration, opts ...Option) *Gmail {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	g := &Gmail{
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Send отправляет письмо и возвращает идентификатор сообщения Gmail.
func (g *Gmail) Send(ctx context.Context, creds domain.Credentials, msg domain.MailMessage) (string, error) {
	if creds.AccessToken == "" {
		return "", domain.ErrDeliveryUnauthorized
	}
	raw, err := BuildRawMessage(msg, g.now())
	if err != nil {
		return "", err
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    "Bearer",
	})
	authCtx := context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	authClient := oauth2.NewClient(authCtx, ts)
	authClient.Timeout = g.httpClient.Timeout
	opts := []option.ClientOption{option.WithHTTPClient(authClient)}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("create gmail service: %w", err)
	}

	start := time.Now()
	sent, err := svc.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
	metrics.ObserveNetworkRequest("gmail", "messages_send", "gmail", start, err)
	if err != nil {
		return "", classifyError(err)
	}
	return sent.Id, nil
}

func classifyError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", domain.ErrDeliveryUnauthorized, apiErr.Message)
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return fmt.Errorf("%w: %v", domain.ErrDeliveryUnauthorized, retrieveErr)
	}
	return fmt.Errorf("gmail send: %w", err)
}

// BuildRawMessage собирает письмо в формате RFC 2822 с текстовой и HTML
// частями и кодирует его в base64url для поля raw.
func BuildRawMessage(msg domain.MailMessage, now time.Time) (string, error) {
	if strings.TrimSpace(msg.To) == "" {
		return "", errors.New("recipient is empty")
	}
	if strings.ContainsAny(msg.To, "\r\n") {
		return "", fmt.Errorf("recipient %q contains a line break", msg.To)
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	var head bytes.Buffer
	writeHeader(&head, "From", msg.To)
	writeHeader(&head, "To", msg.To)
	writeHeader(&head, "Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader(&head, "Date", now.Format(time.RFC1123Z))
	writeHeader(&head, "MIME-Version", "1.0")
	writeHeader(&head, "Content-Type", "multipart/alternative; boundary="+mw.Boundary())
	head.WriteString("\r\n")

	parts := []struct {
		contentType string
		content     string
	}{
		{contentType: "text/plain; charset=utf-8", content: msg.PlainBody},
		{contentType: "text/html; charset=utf-8", content: msg.HTMLBody},
	}
	for _, p := range parts {
		if p.content == "" {
			continue
		}
		pw, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return "", fmt.Errorf("create mime part: %w", err)
		}
		qp := quotedprintable.NewWriter(pw)
		if _, err := qp.Write([]byte(p.content)); err != nil {
			return "", fmt.Errorf("write mime part: %w", err)
		}
		if err := qp.Close(); err != nil {
			return "", fmt.Errorf("close mime part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	head.Write(body.Bytes())
	return base64.RawURLEncoding.EncodeToString(head.Bytes()), nil
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}
