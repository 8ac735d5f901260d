package llm

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"tweet-digest/internal/domain"
	openai "tweet-digest/internal/infra/openai"
)

type stubChatClient struct {
	content string
	err     error
	calls   int
	last    openai.ChatCompletionRequest
}

func (s *stubChatClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.calls++
	s.last = req
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatMessage{Content: s.content}}}}, nil
}

var candidates = []domain.ValuablePost{
	{AuthorName: "Alice", Text: "New model released", URL: "https://x.com/alice/1"},
	{AuthorName: "Bob", Text: "gm", URL: "https://x.com/bob/2"},
	{AuthorName: "Carol", Text: "Agent workflow demo", URL: "https://x.com/carol/3"},
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"[1]":                   "[1]",
		"```json\n[1]\n```":     "[1]",
		"```\n{\"a\":1}\n```":   `{"a":1}`,
		"  ```json[1]```  ":     "[1]",
		"```JSON\n[]\n```\n":    "[]",
		"no fence ```inside```": "no fence ```inside```",
	}
	for in, want := range cases {
		if got := StripCodeFence(in); got != want {
			t.Errorf("StripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFilterNoiseKeepsSelected(t *testing.T) {
	client := &stubChatClient{content: "```json\n[{\"author_name\":\"Alice\",\"text\":\"rewritten\",\"url\":\"https://x.com/alice/1\"},{\"author_name\":\"Carol\",\"text\":\"Agent workflow demo\",\"url\":\"https://x.com/carol/3\"}]\n```"}
	f := NewNoiseFilter(client, "", 0, zerolog.Nop())

	got := f.FilterNoise(context.Background(), candidates, domain.RunMeta{DigestID: "d1"})
	want := []domain.ValuablePost{candidates[0], candidates[2]}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if client.last.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected model %q", client.last.Model)
	}
	if client.last.Temperature == nil || *client.last.Temperature != 0.3 {
		t.Fatalf("unexpected temperature")
	}
	if !strings.Contains(client.last.Messages[1].Content, "https://x.com/bob/2") {
		t.Fatalf("prompt must contain all candidates")
	}
}

func TestFilterNoiseFailsOpen(t *testing.T) {
	cases := []struct {
		name   string
		client *stubChatClient
	}{
		{name: "call error", client: &stubChatClient{err: errors.New("timeout")}},
		{name: "not json", client: &stubChatClient{content: "I think all of them are great"}},
		{name: "object instead of array", client: &stubChatClient{content: `{"posts":[]}`}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := NewNoiseFilter(tc.client, "", 0, zerolog.Nop())
			got := f.FilterNoise(context.Background(), candidates, domain.RunMeta{})
			if !reflect.DeepEqual(got, candidates) {
				t.Fatalf("expected input unchanged, got %+v", got)
			}
		})
	}
}

func TestFilterNoiseDropsUnknownURLs(t *testing.T) {
	client := &stubChatClient{content: `[{"author_name":"X","text":"made up","url":"https://example.com/fake"},{"author_name":"Bob","text":"gm","url":""},{"author_name":"Alice","text":"New model released","url":"https://x.com/alice/1"},{"author_name":"Alice","text":"dup","url":"https://x.com/alice/1"}]`}
	f := NewNoiseFilter(client, "", 0, zerolog.Nop())

	got := f.FilterNoise(context.Background(), candidates, domain.RunMeta{})
	if len(got) != 1 || got[0] != candidates[0] {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestFilterNoiseEmptyAnswer(t *testing.T) {
	f := NewNoiseFilter(&stubChatClient{content: ""}, "", 0, zerolog.Nop())
	if got := f.FilterNoise(context.Background(), candidates, domain.RunMeta{}); len(got) != 0 {
		t.Fatalf("expected empty selection, got %+v", got)
	}
}

func TestFormatDigest(t *testing.T) {
	client := &stubChatClient{content: "```json\n" + `{
		"generalUpdates":[{"text":"A new model shipped.","url":"https://x.com/alice/1"},{"text":"Invented.","url":"https://example.com/fake"}],
		"launches":[{"keyword":"new model pricing","url":"https://x.com/alice/1"}],
		"tools":[{"summary":"Agent workflow demo.","url":"https://x.com/carol/3"}],
		"productInspirations":[],
		"marketingIdeas":[{"idea":"Explain agents simply.","url":"https://x.com/carol/3"}]
	}` + "\n```"}
	f := NewFormatter(client, "", 0, zerolog.Nop())

	digest, err := f.FormatDigest(context.Background(), candidates, 10, domain.RunMeta{WindowHours: 12})
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	want := domain.StructuredDigest{
		GeneralUpdates:      []domain.DigestItem{{Text: "A new model shipped.", URL: "https://x.com/alice/1"}},
		Launches:            []domain.DigestItem{{Text: "new model pricing", URL: "https://x.com/alice/1"}},
		Tools:               []domain.DigestItem{{Text: "Agent workflow demo.", URL: "https://x.com/carol/3"}},
		ProductInspirations: []domain.DigestItem{},
		MarketingIdeas:      []domain.DigestItem{{Text: "Explain agents simply.", URL: "https://x.com/carol/3"}},
	}
	if !reflect.DeepEqual(digest, want) {
		t.Fatalf("got %+v, want %+v", digest, want)
	}
	if client.last.Model != "gpt-4o" {
		t.Fatalf("unexpected model %q", client.last.Model)
	}
	if !strings.Contains(client.last.Messages[1].Content, "last 12 hours") {
		t.Fatalf("prompt must mention the window")
	}
}

func TestFormatDigestFailsClosed(t *testing.T) {
	cases := []struct {
		name    string
		client  *stubChatClient
		wantErr error
	}{
		{name: "call error", client: &stubChatClient{err: errors.New("boom")}},
		{name: "not json", client: &stubChatClient{content: "sorry"}},
		{name: "only fabricated urls", client: &stubChatClient{content: `{"generalUpdates":[{"text":"x","url":"https://example.com"}]}`}, wantErr: domain.ErrEmptyDigest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := NewFormatter(tc.client, "", 0, zerolog.Nop())
			digest, err := f.FormatDigest(context.Background(), candidates, 3, domain.RunMeta{})
			if err == nil {
				t.Fatalf("expected error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if digest.Len() != 0 {
				t.Fatalf("no digest must be produced")
			}
		})
	}
}
