package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tweet-digest/internal/domain"
	"tweet-digest/internal/infra/metrics"
	openai "tweet-digest/internal/infra/openai"
)

// NoiseFilter — первый AI-этап: отсев шума среди кандидатов.
// При любой ошибке возвращает входной набор без изменений.
type NoiseFilter struct {
	client  chatCompletionClient
	model   string
	timeout time.Duration
	log     zerolog.Logger
}

var _ domain.NoiseFilter = (*NoiseFilter)(nil)

// NewNoiseFilter создаёт фильтр шума.
func NewNoiseFilter(client chatCompletionClient, model string, timeout time.Duration, logger zerolog.Logger) *NoiseFilter {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &NoiseFilter{client: client, model: model, timeout: timeout, log: logger}
}

// FilterNoise отбирает ценные посты одним запросом к модели.
func (f *NoiseFilter) FilterNoise(ctx context.Context, candidates []domain.ValuablePost, meta domain.RunMeta) []domain.ValuablePost {
	if len(candidates) == 0 {
		return candidates
	}
	logger := f.log.With().
		Str("digest_id", meta.DigestID).
		Str("user_id", meta.UserID).
		Strs("accounts", meta.Accounts).
		Int("input_posts", len(candidates)).
		Logger()

	selected, err := f.filter(ctx, candidates)
	if err != nil {
		metrics.NoiseFilterFailOpen.Inc()
		logger.Warn().Err(err).Msg("llm: фильтр шума недоступен, используем исходный набор")
		return candidates
	}
	logger.Info().Int("selected", len(selected)).Msg("llm: фильтр шума завершён")
	return selected
}

func (f *NoiseFilter) filter(ctx context.Context, candidates []domain.ValuablePost) ([]domain.ValuablePost, error) {
	body, err := json.MarshalIndent(candidates, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal posts: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	resp, err := f.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       f.model,
		Temperature: openai.Temperature(0.3),
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: noiseFilterSystemPrompt},
			{Role: openai.RoleUser, Content: fmt.Sprintf(noiseFilterPrompt, string(body))},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	content, err := resp.Content()
	if errors.Is(err, openai.ErrEmptyResponse) || (err == nil && content == "") {
		content = "[]"
	} else if err != nil {
		return nil, err
	}

	var parsed []domain.ValuablePost
	if err := json.Unmarshal([]byte(StripCodeFence(content)), &parsed); err != nil {
		return nil, fmt.Errorf("распаковка ответа LLM: %w", err)
	}
	return keepKnownURLs(parsed, candidates), nil
}

// keepKnownURLs оставляет только позиции, ссылающиеся на кандидатов, и
// восстанавливает их исходный текст и автора.
func keepKnownURLs(parsed, candidates []domain.ValuablePost) []domain.ValuablePost {
	known := make(map[string]domain.ValuablePost, len(candidates))
	for _, c := range candidates {
		known[c.URL] = c
	}
	seen := make(map[string]struct{}, len(parsed))
	out := make([]domain.ValuablePost, 0, len(parsed))
	for _, p := range parsed {
		url := strings.TrimSpace(p.URL)
		original, ok := known[url]
		if url == "" || !ok {
			metrics.FabricatedURLsDropped.WithLabelValues("noise_filter").Inc()
			continue
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		out = append(out, original)
	}
	return out
}
