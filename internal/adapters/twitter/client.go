package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"tweet-digest/internal/domain"
	"tweet-digest/internal/infra/metrics"
)

// ErrRateLimited возвращается, когда источник ответил 429.
var ErrRateLimited = errors.New("twitter api rate limited")

// Client обращается к HTTP API источника постов.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
}

var _ domain.PostSource = (*Client)(nil)

// Option настраивает клиент.
type Option func(*Client)

// WithHTTPClient подменяет http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout задаёт таймаут одного запроса.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// New создаёт клиент API.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	client := &Client{
		baseURL:    parsed,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type userInfoResponse struct {
	Status  string `json:"status"`
	Message string `json:"msg"`
	Data    *struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		UserName string `json:"userName"`
	} `json:"data"`
}

type lastTweetsResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    *struct {
		Tweets []tweetPayload `json:"tweets"`
	} `json:"data"`
}

type tweetPayload struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
	URL       string `json:"url"`
	Author    struct {
		Name     string `json:"name"`
		UserName string `json:"userName"`
	} `json:"author"`
	RetweetedTweet json.RawMessage `json:"retweeted_tweet"`
}

// LookupAccount резолвит хэндл в идентификатор аккаунта.
// Ответ без идентификатора считается ошибкой.
func (c *Client) LookupAccount(ctx context.Context, handle string) (domain.AccountInfo, error) {
	var resp userInfoResponse
	if err := c.get(ctx, "user_info", "/twitter/user/info", url.Values{"userName": {handle}}, &resp); err != nil {
		return domain.AccountInfo{}, err
	}
	if resp.Data == nil || resp.Data.ID == "" {
		return domain.AccountInfo{}, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, handle)
	}
	name := resp.Data.Name
	if name == "" {
		name = handle
	}
	return domain.AccountInfo{ID: resp.Data.ID, Name: name}, nil
}

// FetchRecentPosts возвращает последние посты аккаунта вместе с ответами.
// Конверт со статусом, отличным от success, возвращается как ошибка.
func (c *Client) FetchRecentPosts(ctx context.Context, accountID string) ([]domain.Post, error) {
	var resp lastTweetsResponse
	query := url.Values{"userId": {accountID}, "includeReplies": {"true"}}
	if err := c.get(ctx, "last_tweets", "/twitter/user/last_tweets", query, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		msg := resp.Message
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("twitter api status %q: %s", resp.Status, msg)
	}
	if resp.Data == nil {
		return nil, nil
	}
	posts := make([]domain.Post, 0, len(resp.Data.Tweets))
	for _, t := range resp.Data.Tweets {
		posts = append(posts, domain.Post{
			Text:       t.Text,
			CreatedAt:  t.CreatedAt,
			URL:        t.URL,
			Author:     domain.Author{Name: t.Author.Name, Handle: t.Author.UserName},
			ReshareRef: reshareRef(t.RetweetedTweet),
		})
	}
	return posts, nil
}

func reshareRef(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", "false", `""`, "0":
		return ""
	}
	var ref struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(trimmed, &ref); err == nil {
		if ref.ID != "" {
			return ref.ID
		}
		if ref.URL != "" {
			return ref.URL
		}
	}
	return string(trimmed)
}

func (c *Client) get(ctx context.Context, op, endpoint string, query url.Values, out any) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveNetworkRequest("twitter", op, c.baseURL.Host, start, err)
	}()

	resolved := *c.baseURL
	resolved.Path = path.Clean(strings.TrimSuffix(c.baseURL.Path, "/") + endpoint)
	resolved.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("twitter api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrRateLimited
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("twitter api error: status=%d message=%s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
