package accounts

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"tweet-digest/internal/domain"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]domain.AccountCacheEntry
	deleted []string
	getErr  error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string]domain.AccountCacheEntry{}}
}

func (c *memoryCache) GetAccount(_ context.Context, handle string) (domain.AccountCacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return domain.AccountCacheEntry{}, false, c.getErr
	}
	e, ok := c.entries[handle]
	return e, ok, nil
}

func (c *memoryCache) UpsertAccount(_ context.Context, entry domain.AccountCacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.Handle] = entry
	return nil
}

func (c *memoryCache) DeleteAccounts(_ context.Context, handles []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range handles {
		delete(c.entries, h)
	}
	c.deleted = append(c.deleted, handles...)
	return nil
}

type stubSource struct {
	mu      sync.Mutex
	ids     map[string]string
	lookups int
}

func (s *stubSource) LookupAccount(_ context.Context, handle string) (domain.AccountInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	id, ok := s.ids[handle]
	if !ok {
		return domain.AccountInfo{}, errors.New("user not found")
	}
	return domain.AccountInfo{ID: id, Name: "Name " + handle}, nil
}

func (s *stubSource) FetchRecentPosts(context.Context, string) ([]domain.Post, error) {
	return nil, nil
}

func TestNormalizeHandle(t *testing.T) {
	cases := map[string]string{
		"@OpenAI":  "openai",
		"  Sama ":  "sama",
		"karpathy": "karpathy",
		"@":        "",
		"@@double": "@double",
	}
	for input, want := range cases {
		if got := NormalizeHandle(input); got != want {
			t.Fatalf("NormalizeHandle(%q) = %q, ожидали %q", input, got, want)
		}
	}
}

func TestParseHandle(t *testing.T) {
	cases := map[string]string{
		"@Example":                 "example",
		"https://x.com/OpenAI":     "openai",
		"twitter.com/karpathy/":    "karpathy",
		"has space":                "",
		"@waytoolonghandle_over15": "",
	}
	for input, want := range cases {
		got, err := ParseHandle(input)
		if want == "" {
			if err == nil {
				t.Fatalf("ожидали ошибку для %q", input)
			}
			continue
		}
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		if got != want {
			t.Fatalf("ожидали %s, получили %s", want, got)
		}
	}
}

func TestRemovedHandles(t *testing.T) {
	got := RemovedHandles([]string{"Alice", "@bob", "carol", "BOB"}, []string{"alice", "dave"})
	want := []string{"bob", "carol"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("получили %v, ожидали %v", got, want)
	}
}

func TestResolveCachesResult(t *testing.T) {
	cache := newMemoryCache()
	source := &stubSource{ids: map[string]string{"alice": "42"}}
	r := NewResolver(cache, source, zerolog.Nop())

	first, err := r.Resolve(context.Background(), "@Alice")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := r.Resolve(context.Background(), "alice")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if first != "42" || second != "42" {
		t.Fatalf("ожидали 42, получили %s и %s", first, second)
	}
	if source.lookups != 1 {
		t.Fatalf("ожидали один внешний запрос, получили %d", source.lookups)
	}
	entry := cache.entries["alice"]
	if entry.DisplayName != "Name alice" || entry.CachedAt.IsZero() {
		t.Fatalf("неполная запись кэша: %+v", entry)
	}
}

func TestResolveNotFoundDoesNotCache(t *testing.T) {
	cache := newMemoryCache()
	source := &stubSource{ids: map[string]string{}}
	r := NewResolver(cache, source, zerolog.Nop())

	_, err := r.Resolve(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("ожидали ErrAccountNotFound, получили %v", err)
	}
	if len(cache.entries) != 0 {
		t.Fatalf("кэш не должен меняться при ошибке")
	}
}

func TestResolveCacheErrorFallsBackToSource(t *testing.T) {
	cache := newMemoryCache()
	cache.getErr = errors.New("redis down")
	source := &stubSource{ids: map[string]string{"alice": "42"}}
	r := NewResolver(cache, source, zerolog.Nop())

	id, err := r.Resolve(context.Background(), "alice")
	if err != nil || id != "42" {
		t.Fatalf("ожидали 42, получили %q (%v)", id, err)
	}
}

type memoryDigests struct {
	digest domain.DigestConfig
	saved  []domain.DigestConfig
}

func (m *memoryDigests) GetDigest(_ context.Context, id string) (domain.DigestConfig, error) {
	if id != m.digest.ID {
		return domain.DigestConfig{}, domain.ErrDigestNotFound
	}
	return m.digest, nil
}

func (m *memoryDigests) ListDueDigests(context.Context, int) ([]domain.DigestConfig, error) {
	return nil, nil
}

func (m *memoryDigests) UpdateDigest(_ context.Context, d domain.DigestConfig) error {
	m.saved = append(m.saved, d)
	m.digest = d
	return nil
}

func intPtr(v int) *int { return &v }

func TestUpdateDigestCleansRemovedHandles(t *testing.T) {
	digests := &memoryDigests{digest: domain.DigestConfig{
		ID:             "d1",
		AccountHandles: []string{"alice", "Bob"},
		ScheduleHour:   9,
		WindowHours:    24,
		RecipientEmail: "owner@example.com",
	}}
	cache := newMemoryCache()
	cache.entries["bob"] = domain.AccountCacheEntry{Handle: "bob", AccountID: "7"}
	svc := NewService(digests, cache, zerolog.Nop())

	updated, err := svc.UpdateDigest(context.Background(), "d1", DigestPatch{
		AccountHandles: []string{"@Alice", "carol", "alice"},
		ScheduleHour:   intPtr(18),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !reflect.DeepEqual(updated.AccountHandles, []string{"alice", "carol"}) {
		t.Fatalf("неожиданные хэндлы %v", updated.AccountHandles)
	}
	if updated.ScheduleHour != 18 {
		t.Fatalf("час не обновлён")
	}
	if !reflect.DeepEqual(cache.deleted, []string{"bob"}) {
		t.Fatalf("ожидали удаление bob из кэша, получили %v", cache.deleted)
	}
}

func TestUpdateDigestValidates(t *testing.T) {
	base := domain.DigestConfig{ID: "d1", ScheduleHour: 9, WindowHours: 24, RecipientEmail: "owner@example.com"}
	bad := "not-an-email"
	cases := []struct {
		name  string
		patch DigestPatch
	}{
		{name: "hour", patch: DigestPatch{ScheduleHour: intPtr(24)}},
		{name: "window", patch: DigestPatch{WindowHours: intPtr(0)}},
		{name: "recipient", patch: DigestPatch{RecipientEmail: &bad}},
		{name: "handle", patch: DigestPatch{AccountHandles: []string{"bad handle!"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			digests := &memoryDigests{digest: base}
			svc := NewService(digests, newMemoryCache(), zerolog.Nop())
			_, err := svc.UpdateDigest(context.Background(), "d1", tc.patch)
			if !errors.Is(err, ErrInvalidDigest) {
				t.Fatalf("ожидали ErrInvalidDigest, получили %v", err)
			}
			if len(digests.saved) != 0 {
				t.Fatalf("некорректные настройки не должны сохраняться")
			}
		})
	}
}
