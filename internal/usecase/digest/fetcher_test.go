package digest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"tweet-digest/internal/domain"
)

func TestFetchAllPacing(t *testing.T) {
	handles := make([]string, 25)
	ids := make(map[string]string, 25)
	for i := range handles {
		handles[i] = fmt.Sprintf("user%d", i)
		ids[handles[i]] = fmt.Sprintf("id%d", i)
	}
	resolver := &stubResolver{ids: ids}
	f := NewFetcher(resolver, &stubSource{}, 10, 100*time.Millisecond, zerolog.Nop())
	var delays []time.Duration
	f.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	_, stats := f.fetchAll(context.Background(), handles)

	require.Equal(t, 3, stats.Batches)
	require.Equal(t, 24, stats.Delays)
	require.Len(t, delays, 24)
	for _, d := range delays {
		require.Equal(t, 100*time.Millisecond, d)
	}
	require.Equal(t, handles, resolver.calls, "handles must be processed sequentially in input order")
}

func TestFetchAllSingleHandleHasNoDelay(t *testing.T) {
	f := NewFetcher(&stubResolver{ids: map[string]string{"a": "1"}}, &stubSource{}, 10, time.Second, zerolog.Nop())
	calls := 0
	f.sleep = func(context.Context, time.Duration) error {
		calls++
		return nil
	}

	_, stats := f.fetchAll(context.Background(), []string{"a"})

	require.Equal(t, 1, stats.Batches)
	require.Zero(t, calls)
}

func TestFetchAllSkipsFailures(t *testing.T) {
	now := time.Now()
	source := &stubSource{
		posts: map[string][]domain.Post{
			"1": {post("a1", "https://x.com/a/1", now)},
			"3": {post("c1", "https://x.com/c/1", now), post("c2", "https://x.com/c/2", now)},
		},
		errs: map[string]error{"2": errors.New("status error")},
	}
	resolver := &stubResolver{ids: map[string]string{"a": "1", "b": "2", "c": "3"}}
	f := NewFetcher(resolver, source, 2, time.Millisecond, zerolog.Nop())
	delays := 0
	f.sleep = func(context.Context, time.Duration) error {
		delays++
		return nil
	}

	posts, stats := f.fetchAll(context.Background(), []string{"a", "ghost", "b", "c"})

	require.Len(t, posts, 3)
	require.Equal(t, "a1", posts[0].Text)
	require.Equal(t, "c2", posts[2].Text)
	require.Equal(t, 2, stats.Failures)
	require.Equal(t, 2, stats.Batches)
	require.Equal(t, 3, delays, "failed handles are still paced")
}

func TestFetchAllStopsOnCancel(t *testing.T) {
	resolver := &stubResolver{ids: map[string]string{"a": "1", "b": "2"}}
	f := NewFetcher(resolver, &stubSource{}, 10, time.Millisecond, zerolog.Nop())
	f.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	_, _ = f.fetchAll(context.Background(), []string{"a", "b"})

	require.Equal(t, []string{"a"}, resolver.calls)
}
