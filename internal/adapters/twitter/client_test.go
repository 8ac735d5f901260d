package twitter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"tweet-digest/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(srv.URL, "test-key", WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestLookupAccount(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/twitter/user/info" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.URL.Query().Get("userName"); got != "alice" {
			t.Errorf("userName = %q", got)
		}
		_, _ = w.Write([]byte(`{"status":"success","data":{"id":"42","name":"Alice","userName":"alice"}}`))
	})

	info, err := client.LookupAccount(context.Background(), "alice")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if info.ID != "42" || info.Name != "Alice" {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestLookupAccountMissingID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error","msg":"user not found"}`))
	})

	_, err := client.LookupAccount(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestFetchRecentPosts(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("includeReplies") != "true" {
			t.Errorf("replies must be requested")
		}
		_, _ = w.Write([]byte(`{"status":"success","data":{"tweets":[
			{"text":"original","createdAt":"Mon Jan 01 12:00:00 +0000 2024","url":"https://x.com/a/1","author":{"name":"Alice","userName":"alice"},"retweeted_tweet":null},
			{"text":"RT","createdAt":"Mon Jan 01 13:00:00 +0000 2024","url":"https://x.com/a/2","author":{"name":"Alice","userName":"alice"},"retweeted_tweet":{"id":"99"}}
		]}}`))
	})

	posts, err := client.FetchRecentPosts(context.Background(), "42")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}
	if posts[0].IsReshare() {
		t.Fatalf("first post must be original")
	}
	if !posts[1].IsReshare() || posts[1].ReshareRef != "99" {
		t.Fatalf("second post must be a reshare, got %+v", posts[1])
	}
	if posts[0].Author.Handle != "alice" {
		t.Fatalf("unexpected author %+v", posts[0].Author)
	}
}

func TestFetchRecentPostsErrors(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "error envelope", status: http.StatusOK, body: `{"status":"error","message":"boom"}`},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{}`, wantErr: ErrRateLimited},
		{name: "server error", status: http.StatusBadGateway, body: `oops`},
		{name: "malformed", status: http.StatusOK, body: `{"status":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			posts, err := client.FetchRecentPosts(context.Background(), "42")
			if err == nil {
				t.Fatalf("expected error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if len(posts) != 0 {
				t.Fatalf("expected no posts")
			}
		})
	}
}

func TestReshareRefFalsyValues(t *testing.T) {
	cases := map[string]string{
		``:                        "",
		`null`:                    "",
		`false`:                   "",
		`""`:                      "",
		`0`:                       "",
		`{"id":"99"}`:             "99",
		`{"url":"https://x.com"}`: "https://x.com",
		`{}`:                      "{}",
	}
	for raw, want := range cases {
		if got := reshareRef([]byte(raw)); got != want {
			t.Fatalf("reshareRef(%q) = %q, want %q", raw, got, want)
		}
	}
}
