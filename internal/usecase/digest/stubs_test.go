package digest

import (
	"context"
	"errors"
	"sync"
	"time"

	"tweet-digest/internal/domain"
)

type stubDigests struct {
	digests map[string]domain.DigestConfig
}

func (s *stubDigests) GetDigest(_ context.Context, id string) (domain.DigestConfig, error) {
	d, ok := s.digests[id]
	if !ok {
		return domain.DigestConfig{}, domain.ErrDigestNotFound
	}
	return d, nil
}

func (s *stubDigests) ListDueDigests(context.Context, int) ([]domain.DigestConfig, error) {
	return nil, nil
}

func (s *stubDigests) UpdateDigest(context.Context, domain.DigestConfig) error { return nil }

type recordingRuns struct {
	mu      sync.Mutex
	created []domain.RunLog
	updates map[string][]domain.RunLogUpdate
}

func newRecordingRuns() *recordingRuns {
	return &recordingRuns{updates: map[string][]domain.RunLogUpdate{}}
}

func (r *recordingRuns) CreateRun(_ context.Context, digestID string) (domain.RunLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run := domain.RunLog{ID: "run-" + digestID, DigestID: digestID, Status: domain.RunStatusProcessing}
	r.created = append(r.created, run)
	return run, nil
}

func (r *recordingRuns) UpdateRun(_ context.Context, runID string, update domain.RunLogUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates[runID] = append(r.updates[runID], update)
	return nil
}

func (r *recordingRuns) ListRuns(context.Context, string, int) ([]domain.RunLog, error) {
	return nil, nil
}

type stubResolver struct {
	ids   map[string]string
	calls []string
}

func (s *stubResolver) Resolve(_ context.Context, handle string) (string, error) {
	s.calls = append(s.calls, handle)
	id, ok := s.ids[handle]
	if !ok {
		return "", domain.ErrAccountNotFound
	}
	return id, nil
}

type stubSource struct {
	posts map[string][]domain.Post
	errs  map[string]error
}

func (s *stubSource) LookupAccount(context.Context, string) (domain.AccountInfo, error) {
	return domain.AccountInfo{}, errors.New("not used")
}

func (s *stubSource) FetchRecentPosts(_ context.Context, accountID string) ([]domain.Post, error) {
	if err := s.errs[accountID]; err != nil {
		return nil, err
	}
	return s.posts[accountID], nil
}

type stubFilter struct {
	calls int
	keep  func([]domain.ValuablePost) []domain.ValuablePost
}

func (s *stubFilter) FilterNoise(_ context.Context, candidates []domain.ValuablePost, _ domain.RunMeta) []domain.ValuablePost {
	s.calls++
	if s.keep != nil {
		return s.keep(candidates)
	}
	return candidates
}

type stubFormatter struct {
	calls    int
	received []domain.ValuablePost
	scanned  int
	err      error
	panicMsg string
}

func (s *stubFormatter) FormatDigest(_ context.Context, posts []domain.ValuablePost, totalScanned int, _ domain.RunMeta) (domain.StructuredDigest, error) {
	s.calls++
	s.received = posts
	s.scanned = totalScanned
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.err != nil {
		return domain.StructuredDigest{}, s.err
	}
	var d domain.StructuredDigest
	for _, p := range posts {
		d.GeneralUpdates = append(d.GeneralUpdates, domain.DigestItem{Text: "Summary of " + p.Text, URL: p.URL})
	}
	return d, nil
}

type stubMailer struct {
	calls int
	last  domain.MailMessage
	creds domain.Credentials
	err   error
}

func (s *stubMailer) Send(_ context.Context, creds domain.Credentials, msg domain.MailMessage) (string, error) {
	s.calls++
	s.last = msg
	s.creds = creds
	if s.err != nil {
		return "", s.err
	}
	return "msg-1", nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func post(text, url string, created time.Time) domain.Post {
	return domain.Post{
		Text:      text,
		URL:       url,
		CreatedAt: created.Format(time.RubyDate),
		Author:    domain.Author{Name: "Alice", Handle: "alice"},
	}
}
