package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tweet-digest/internal/domain"
	"tweet-digest/internal/infra/metrics"
	openai "tweet-digest/internal/infra/openai"
)

// Formatter — второй AI-этап: построение структурированного дайджеста.
// Любая ошибка возвращается вызывающему.
type Formatter struct {
	client  chatCompletionClient
	model   string
	timeout time.Duration
	log     zerolog.Logger
}

var _ domain.DigestFormatter = (*Formatter)(nil)

// NewFormatter создаёт форматтер дайджеста.
func NewFormatter(client chatCompletionClient, model string, timeout time.Duration, logger zerolog.Logger) *Formatter {
	if model == "" {
		model = "gpt-4o"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Formatter{client: client, model: model, timeout: timeout, log: logger}
}

type llmDigestItem struct {
	Text    string `json:"text"`
	Keyword string `json:"keyword"`
	Summary string `json:"summary"`
	Insight string `json:"insight"`
	Idea    string `json:"idea"`
	URL     string `json:"url"`
}

func (i llmDigestItem) primaryText() string {
	for _, v := range []string{i.Text, i.Keyword, i.Summary, i.Insight, i.Idea} {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

type llmDigestResponse struct {
	GeneralUpdates      []llmDigestItem `json:"generalUpdates"`
	Launches            []llmDigestItem `json:"launches"`
	Tools               []llmDigestItem `json:"tools"`
	ProductInspirations []llmDigestItem `json:"productInspirations"`
	MarketingIdeas      []llmDigestItem `json:"marketingIdeas"`
}

// FormatDigest строит дайджест из ценных постов. Позиции со ссылками вне
// входного набора отбрасываются; пустой результат считается ошибкой.
func (f *Formatter) FormatDigest(ctx context.Context, posts []domain.ValuablePost, totalScanned int, meta domain.RunMeta) (domain.StructuredDigest, error) {
	logger := f.log.With().
		Str("digest_id", meta.DigestID).
		Str("user_id", meta.UserID).
		Strs("accounts", meta.Accounts).
		Int("filtered_posts", len(posts)).
		Int("total_scanned", totalScanned).
		Logger()

	payload := make([]domain.ValuablePost, 0, len(posts))
	for _, p := range posts {
		p.Text = truncate(p.Text, 4000)
		payload = append(payload, p)
	}
	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return domain.StructuredDigest{}, fmt.Errorf("marshal posts: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	resp, err := f.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       f.model,
		Temperature: openai.Temperature(0.5),
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: formatterSystemPrompt},
			{Role: openai.RoleUser, Content: fmt.Sprintf(formatterPrompt, windowHours(meta), totalScanned, len(posts), string(body))},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject},
	})
	if err != nil {
		logger.Error().Err(err).Msg("llm: форматирование дайджеста не удалось")
		return domain.StructuredDigest{}, fmt.Errorf("openai completion: %w", err)
	}
	content, err := resp.Content()
	if err != nil {
		return domain.StructuredDigest{}, fmt.Errorf("openai completion: %w", err)
	}

	var parsed llmDigestResponse
	if err := json.Unmarshal([]byte(StripCodeFence(content)), &parsed); err != nil {
		logger.Error().Err(err).Msg("llm: ответ форматтера не является JSON")
		return domain.StructuredDigest{}, fmt.Errorf("распаковка ответа LLM: %w", err)
	}

	known := make(map[string]struct{}, len(posts))
	for _, p := range posts {
		known[p.URL] = struct{}{}
	}
	digest := domain.StructuredDigest{
		GeneralUpdates:      keepItems(parsed.GeneralUpdates, known),
		Launches:            keepItems(parsed.Launches, known),
		Tools:               keepItems(parsed.Tools, known),
		ProductInspirations: keepItems(parsed.ProductInspirations, known),
		MarketingIdeas:      keepItems(parsed.MarketingIdeas, known),
	}
	if digest.Len() == 0 {
		return domain.StructuredDigest{}, domain.ErrEmptyDigest
	}
	logger.Info().Int("items", digest.Len()).Msg("llm: дайджест сформирован")
	return digest, nil
}

func keepItems(items []llmDigestItem, known map[string]struct{}) []domain.DigestItem {
	out := make([]domain.DigestItem, 0, len(items))
	for _, item := range items {
		url := strings.TrimSpace(item.URL)
		if _, ok := known[url]; !ok {
			metrics.FabricatedURLsDropped.WithLabelValues("formatter").Inc()
			continue
		}
		text := item.primaryText()
		if text == "" {
			continue
		}
		out = append(out, domain.DigestItem{Text: text, URL: url})
	}
	return out
}

func windowHours(meta domain.RunMeta) int {
	if meta.WindowHours > 0 {
		return meta.WindowHours
	}
	return 24
}
