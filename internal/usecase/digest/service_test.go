package digest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"tweet-digest/internal/adapters/llm"
	"tweet-digest/internal/domain"
	"tweet-digest/internal/infra/openai"
)

var fixedNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

type pipeline struct {
	processor *Processor
	runs      *recordingRuns
	resolver  *stubResolver
	filter    *stubFilter
	formatter *stubFormatter
	mailer    *stubMailer
}

func newPipeline(t *testing.T, source *stubSource, ids map[string]string, filter domain.NoiseFilter) *pipeline {
	t.Helper()
	digests := &stubDigests{digests: map[string]domain.DigestConfig{
		"d1": {
			ID:             "d1",
			UserID:         "u1",
			AccountHandles: []string{"alice", "bob"},
			WindowHours:    24,
			RecipientEmail: "owner@example.com",
			IsActive:       true,
		},
	}}
	p := &pipeline{
		runs:      newRecordingRuns(),
		resolver:  &stubResolver{ids: ids},
		formatter: &stubFormatter{},
		mailer:    &stubMailer{},
	}
	if filter == nil {
		p.filter = &stubFilter{}
		filter = p.filter
	}
	fetcher := NewFetcher(p.resolver, source, 10, 0, zerolog.Nop())
	fetcher.sleep = noSleep
	delivery := NewDelivery(NewRenderer(time.UTC), p.mailer, zerolog.Nop())
	p.processor = NewProcessor(digests, p.runs, fetcher, filter, p.formatter, delivery, zerolog.Nop())
	p.processor.now = func() time.Time { return fixedNow }
	return p
}

func (p *pipeline) singleUpdate(t *testing.T) domain.RunLogUpdate {
	t.Helper()
	require.Len(t, p.runs.created, 1)
	updates := p.runs.updates[p.runs.created[0].ID]
	require.Len(t, updates, 1, "run log must get exactly one terminal update")
	require.True(t, updates[0].Status.Terminal())
	return updates[0]
}

func aliceSource() *stubSource {
	return &stubSource{posts: map[string][]domain.Post{
		"id-alice": {
			post("first original", "https://x.com/alice/1", fixedNow.Add(-time.Hour)),
			post("second original", "https://x.com/alice/2", fixedNow.Add(-3*time.Hour)),
			{
				Text:       "reshared",
				URL:        "https://x.com/alice/3",
				CreatedAt:  fixedNow.Add(-2 * time.Hour).Format(time.RubyDate),
				ReshareRef: "77",
			},
		},
	}}
}

func TestProcessPartialResolution(t *testing.T) {
	p := newPipeline(t, aliceSource(), map[string]string{"alice": "id-alice"}, nil)

	res := p.processor.Process(context.Background(), domain.Invocation{
		DigestID:    "d1",
		JobID:       "job-1",
		Credentials: domain.Credentials{AccessToken: "token"},
	})

	require.NoError(t, res.Err)
	require.Equal(t, domain.RunStatusSuccess, res.Status)
	require.Equal(t, "msg-1", res.MessageID)
	require.Equal(t, []string{"alice", "bob"}, p.resolver.calls)

	update := p.singleUpdate(t)
	require.Equal(t, domain.RunStatusSuccess, update.Status)
	require.Equal(t, 2, update.TotalScanned)
	require.Equal(t, 2, update.TotalSelected)
	require.Empty(t, update.ErrorMessage)

	var stored domain.StructuredDigest
	require.NoError(t, json.Unmarshal(update.DigestContent, &stored))
	require.Len(t, stored.GeneralUpdates, 2)

	require.Equal(t, 2, p.formatter.scanned)
	require.Equal(t, 1, p.mailer.calls)
	require.Equal(t, "token", p.mailer.creds.AccessToken)
	require.Equal(t, "owner@example.com", p.mailer.last.To)
	require.Contains(t, p.mailer.last.PlainBody, "Scanned 2 total posts → Selected 2 key updates")
}

func TestProcessNoRecentPosts(t *testing.T) {
	source := &stubSource{posts: map[string][]domain.Post{
		"id-alice": {
			post("old", "https://x.com/alice/1", fixedNow.Add(-48*time.Hour)),
			post("older", "https://x.com/alice/2", fixedNow.Add(-72*time.Hour)),
		},
	}}
	p := newPipeline(t, source, map[string]string{"alice": "id-alice"}, nil)

	res := p.processor.Process(context.Background(), domain.Invocation{DigestID: "d1"})

	require.Equal(t, domain.RunStatusFailed, res.Status)
	update := p.singleUpdate(t)
	require.Equal(t, domain.RunStatusFailed, update.Status)
	require.Equal(t, MsgNoRecentPosts, update.ErrorMessage)
	require.Equal(t, 2, update.TotalScanned)
	require.Zero(t, p.filter.calls)
	require.Zero(t, p.formatter.calls)
	require.Zero(t, p.mailer.calls)
}

type failingChat struct{}

func (failingChat) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{}, errors.New("upstream unavailable")
}

func TestProcessNoiseFilterFailsOpen(t *testing.T) {
	filter := llm.NewNoiseFilter(failingChat{}, "", time.Second, zerolog.Nop())
	p := newPipeline(t, aliceSource(), map[string]string{"alice": "id-alice"}, filter)

	res := p.processor.Process(context.Background(), domain.Invocation{DigestID: "d1", Credentials: domain.Credentials{AccessToken: "t"}})

	require.Equal(t, domain.RunStatusSuccess, res.Status)
	update := p.singleUpdate(t)
	require.Equal(t, 2, update.TotalScanned)
	require.Equal(t, 2, update.TotalSelected, "selected equals the pre-filter count")
	require.Len(t, p.formatter.received, 2)
}

func TestProcessNoValuablePosts(t *testing.T) {
	p := newPipeline(t, aliceSource(), map[string]string{"alice": "id-alice"}, nil)
	p.filter.keep = func([]domain.ValuablePost) []domain.ValuablePost { return nil }

	res := p.processor.Process(context.Background(), domain.Invocation{DigestID: "d1"})

	require.Equal(t, domain.RunStatusFailed, res.Status)
	update := p.singleUpdate(t)
	require.Equal(t, MsgNoValuablePosts, update.ErrorMessage)
	require.Equal(t, 2, update.TotalScanned)
	require.Zero(t, update.TotalSelected)
	require.Zero(t, p.formatter.calls)
}

func TestProcessFormatterFailsClosed(t *testing.T) {
	p := newPipeline(t, aliceSource(), map[string]string{"alice": "id-alice"}, nil)
	p.formatter.err = fmt.Errorf("распаковка ответа LLM: %w", errors.New("unexpected end of JSON input"))

	res := p.processor.Process(context.Background(), domain.Invocation{DigestID: "d1"})

	require.Error(t, res.Err)
	update := p.singleUpdate(t)
	require.Equal(t, domain.RunStatusFailed, update.Status)
	require.Contains(t, update.ErrorMessage, "unexpected end of JSON input")
	require.Equal(t, 2, update.TotalScanned)
	require.Equal(t, 2, update.TotalSelected)
	require.Nil(t, update.DigestContent)
	require.Zero(t, p.mailer.calls)
}

func TestProcessDeliveryErrors(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{name: "unauthorized", err: fmt.Errorf("%w: Invalid Credentials", domain.ErrDeliveryUnauthorized), wantMsg: MsgReauthorize},
		{name: "transport", err: errors.New("connection reset"), wantMsg: "connection reset"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newPipeline(t, aliceSource(), map[string]string{"alice": "id-alice"}, nil)
			p.mailer.err = tc.err

			res := p.processor.Process(context.Background(), domain.Invocation{DigestID: "d1"})

			require.Equal(t, domain.RunStatusFailed, res.Status)
			update := p.singleUpdate(t)
			require.Contains(t, update.ErrorMessage, tc.wantMsg)
			require.Equal(t, 1, p.mailer.calls, "delivery is not retried")
		})
	}
}

func TestProcessDigestNotFound(t *testing.T) {
	p := newPipeline(t, aliceSource(), map[string]string{"alice": "id-alice"}, nil)

	res := p.processor.Process(context.Background(), domain.Invocation{DigestID: "missing"})

	require.ErrorIs(t, res.Err, domain.ErrDigestNotFound)
	update := p.singleUpdate(t)
	require.Equal(t, MsgDigestNotFound, update.ErrorMessage)
	require.Empty(t, p.resolver.calls)
}

func TestProcessRecoversPanic(t *testing.T) {
	p := newPipeline(t, aliceSource(), map[string]string{"alice": "id-alice"}, nil)
	p.formatter.panicMsg = "nil map"

	var res RunResult
	require.NotPanics(t, func() {
		res = p.processor.Process(context.Background(), domain.Invocation{DigestID: "d1"})
	})

	require.Equal(t, domain.RunStatusFailed, res.Status)
	update := p.singleUpdate(t)
	require.Contains(t, update.ErrorMessage, "nil map")
	require.Equal(t, 2, update.TotalScanned)
}

func TestProcessRecordsRunWhenContextCancelled(t *testing.T) {
	p := newPipeline(t, aliceSource(), map[string]string{"alice": "id-alice"}, nil)
	p.formatter.err = context.Canceled
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := p.processor.Process(ctx, domain.Invocation{DigestID: "d1"})

	require.Equal(t, domain.RunStatusFailed, res.Status)
	p.singleUpdate(t)
}
