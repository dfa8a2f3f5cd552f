package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/contextqa/internal/answer"
	"github.com/ashureev/contextqa/internal/chunker"
	"github.com/ashureev/contextqa/internal/domain"
	"github.com/ashureev/contextqa/internal/embedding"
	"github.com/ashureev/contextqa/internal/metrics"
	"github.com/ashureev/contextqa/internal/session"
	"github.com/ashureev/contextqa/internal/vectorstore"
	"github.com/ashureev/contextqa/internal/vectorstore/memory"
)

type stubTranscripts map[string]string

func (s stubTranscripts) Fetch(_ context.Context, videoID string) string { return s[videoID] }

type stubPages struct {
	title   string
	content string
	err     error
	calls   int
}

func (s *stubPages) Fetch(_ context.Context, _ string) (string, string, error) {
	s.calls++
	return s.title, s.content, s.err
}

// echoSynth answers with the joined retrieved text so tests can see what was retrieved.
type echoSynth struct{}

func (echoSynth) Answer(_ context.Context, _ string, docs []domain.Document) string {
	ctx := answer.FormatContext(docs)
	if strings.TrimSpace(ctx) == "" {
		return answer.NoInformation
	}
	return ctx
}

type failingGateway struct {
	indexErr  error
	queryErr  error
	deleteErr error

	mu      sync.Mutex
	deleted []string
}

func (g *failingGateway) Index(context.Context, string, []domain.Chunk, map[string]string) (int, error) {
	return 0, g.indexErr
}

func (g *failingGateway) Query(context.Context, string, string, int) ([]domain.Document, error) {
	return nil, g.queryErr
}

func (g *failingGateway) DeleteSession(_ context.Context, id string) error {
	g.mu.Lock()
	g.deleted = append(g.deleted, id)
	g.mu.Unlock()
	return g.deleteErr
}

type fixture struct {
	svc      *Service
	store    *memory.Store
	registry *session.MemoryRegistry
	pages    *stubPages
}

func newFixture(t *testing.T, transcripts stubTranscripts) *fixture {
	t.Helper()
	store := memory.New()
	registry := session.NewMemory(100, time.Hour, nil)
	t.Cleanup(func() { _ = registry.Close() })
	pages := &stubPages{}
	svc := NewService(Deps{
		Transcripts: transcripts,
		Pages:       pages,
		Chunker:     chunker.New(500, 100),
		Gateway:     vectorstore.NewGateway(embedding.NewHashEmbedder(4096), store, 5),
		Synthesizer: echoSynth{},
		Registry:    registry,
		Metrics:     &metrics.Counters{},
	}, Config{K: 5})
	return &fixture{svc: svc, store: store, registry: registry, pages: pages}
}

func TestInitYouTubeAndAsk(t *testing.T) {
	f := newFixture(t, stubTranscripts{"abc123": "The quick brown fox jumps over the lazy dog."})
	ctx := context.Background()

	sess, err := f.svc.InitYouTube(ctx, "abc123")
	if err != nil {
		t.Fatalf("InitYouTube failed: %v", err)
	}
	if sess.ID != "yt_abc123" {
		t.Errorf("Expected session id yt_abc123, got %s", sess.ID)
	}
	if n := f.store.Count("yt_abc123"); n != 1 {
		t.Errorf("Expected 1 stored chunk, got %d", n)
	}

	reply, err := f.svc.Ask(ctx, "yt_abc123", "What animal is mentioned?")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if reply.Context != domain.ContextYouTube || reply.VideoID != "abc123" {
		t.Errorf("Unexpected reply metadata: %+v", reply)
	}
	if !strings.Contains(reply.Text, "fox") {
		t.Errorf("Expected retrieved transcript in reply, got %q", reply.Text)
	}
	if got := f.svc.Metrics().YouTubeInits.Load(); got != 1 {
		t.Errorf("Expected youtube_inits 1, got %d", got)
	}
}

func TestInitYouTubeWithoutTranscript(t *testing.T) {
	f := newFixture(t, stubTranscripts{})

	_, err := f.svc.InitYouTube(context.Background(), "zzz")
	if !errors.Is(err, ErrTranscriptUnavailable) {
		t.Fatalf("Expected ErrTranscriptUnavailable, got %v", err)
	}
	if n := f.svc.ActiveSessions(context.Background()); n != 0 {
		t.Errorf("Expected no sessions, got %d", n)
	}
	if got := f.svc.Metrics().TranscriptFailures.Load(); got != 1 {
		t.Errorf("Expected transcript_failures 1, got %d", got)
	}
}

func TestInitYouTubeRejectsBadIDs(t *testing.T) {
	f := newFixture(t, stubTranscripts{})
	for _, id := range []string{"", "   ", "../etc/passwd", "a b"} {
		if _, err := f.svc.InitYouTube(context.Background(), id); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput for %q, got %v", id, err)
		}
	}
}

func TestInitPage(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sess, err := f.svc.InitPage(ctx, domain.PageData{
		Title:   "Docs",
		URL:     "https://x.test/a",
		Content: "Alpha is the first letter. Beta is the second letter.",
	})
	if err != nil {
		t.Fatalf("InitPage failed: %v", err)
	}
	if !strings.HasPrefix(sess.ID, "page_") {
		t.Errorf("Expected page_ prefix, got %s", sess.ID)
	}
	if f.pages.calls != 0 {
		t.Errorf("Expected no page fetch when content is supplied")
	}

	reply, err := f.svc.Ask(ctx, sess.ID, "What is the second letter?")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if reply.Context != domain.ContextPage || reply.PageTitle != "Docs" {
		t.Errorf("Unexpected reply metadata: %+v", reply)
	}
	if !strings.Contains(reply.Text, "Beta") {
		t.Errorf("Expected page text in reply, got %q", reply.Text)
	}
}

func TestInitPageFetchesMissingContent(t *testing.T) {
	f := newFixture(t, nil)
	f.pages.title = "Fetched"
	f.pages.content = "Fetched body text about gophers."

	sess, err := f.svc.InitPage(context.Background(), domain.PageData{URL: "https://x.test/b"})
	if err != nil {
		t.Fatalf("InitPage failed: %v", err)
	}
	if f.pages.calls != 1 {
		t.Errorf("Expected one page fetch, got %d", f.pages.calls)
	}
	if sess.Title() != "Fetched" {
		t.Errorf("Expected fetched title, got %q", sess.Title())
	}
}

func TestInitPageRejectsEmpty(t *testing.T) {
	f := newFixture(t, nil)
	f.pages.err = errors.New("connection refused")

	if _, err := f.svc.InitPage(context.Background(), domain.PageData{Content: "text"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for missing url, got %v", err)
	}
	if _, err := f.svc.InitPage(context.Background(), domain.PageData{URL: "https://x.test"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for empty content, got %v", err)
	}
}

func TestAskUnknownSession(t *testing.T) {
	f := newFixture(t, nil)

	reply, err := f.svc.Ask(context.Background(), "yt_never", "hello?")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Expected ErrSessionNotFound, got %v", err)
	}
	if reply.Context != domain.ContextNone {
		t.Errorf("Expected context none, got %q", reply.Context)
	}
}

func TestAskEmptyQuestion(t *testing.T) {
	f := newFixture(t, stubTranscripts{"v1": "some words"})
	if _, err := f.svc.InitYouTube(context.Background(), "v1"); err != nil {
		t.Fatalf("InitYouTube failed: %v", err)
	}
	if _, err := f.svc.Ask(context.Background(), "yt_v1", "  "); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestSessionIsolation(t *testing.T) {
	f := newFixture(t, stubTranscripts{
		"a": "Zebras have black and white stripes.",
		"b": "Volcanoes erupt molten lava.",
	})
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if _, err := f.svc.InitYouTube(ctx, id); err != nil {
			t.Fatalf("InitYouTube(%s) failed: %v", id, err)
		}
	}

	reply, err := f.svc.Ask(ctx, "yt_a", "Tell me about lava and volcanoes")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if strings.Contains(reply.Text, "lava") {
		t.Errorf("Reply leaked another session's content: %q", reply.Text)
	}
}

func TestClearCascades(t *testing.T) {
	f := newFixture(t, stubTranscripts{"abc": "Some transcript text."})
	ctx := context.Background()
	if _, err := f.svc.InitYouTube(ctx, "abc"); err != nil {
		t.Fatalf("InitYouTube failed: %v", err)
	}

	found, err := f.svc.Clear(ctx, "yt_abc")
	if err != nil || !found {
		t.Fatalf("Expected session cleared, got found=%v err=%v", found, err)
	}
	f.svc.Wait()

	if n := f.store.Count("yt_abc"); n != 0 {
		t.Errorf("Expected vectors deleted, got %d", n)
	}
	if _, err := f.svc.Ask(ctx, "yt_abc", "anything?"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected cleared session to be unknown, got %v", err)
	}

	found, err = f.svc.Clear(ctx, "yt_abc")
	if err != nil || found {
		t.Errorf("Expected second clear to report not found, got found=%v err=%v", found, err)
	}
}

func TestIndexFailureDoesNotRegister(t *testing.T) {
	registry := session.NewMemory(10, time.Hour, nil)
	defer registry.Close()
	svc := NewService(Deps{
		Transcripts: stubTranscripts{"v": "text"},
		Chunker:     chunker.New(500, 100),
		Gateway:     &failingGateway{indexErr: errors.New("backend down")},
		Synthesizer: echoSynth{},
		Registry:    registry,
	}, Config{})

	if _, err := svc.InitYouTube(context.Background(), "v"); err == nil {
		t.Fatal("Expected index error")
	}
	if n := svc.ActiveSessions(context.Background()); n != 0 {
		t.Errorf("Expected no sessions after failed index, got %d", n)
	}
	if got := svc.Metrics().IndexFailures.Load(); got != 1 {
		t.Errorf("Expected index_failures 1, got %d", got)
	}
}

func TestRetrievalFailureFallsBack(t *testing.T) {
	registry := session.NewMemory(10, time.Hour, nil)
	defer registry.Close()
	gw := &failingGateway{queryErr: errors.New("timeout"), deleteErr: errors.New("gone")}
	svc := NewService(Deps{
		Chunker:     chunker.New(500, 100),
		Gateway:     gw,
		Synthesizer: echoSynth{},
		Registry:    registry,
	}, Config{})

	ctx := context.Background()
	if err := registry.Put(ctx, domain.NewYouTubeSession("v", time.Now())); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	reply, err := svc.Ask(ctx, "yt_v", "question?")
	if err != nil {
		t.Fatalf("Expected fail-soft reply, got %v", err)
	}
	if reply.Text != answer.NoInformation {
		t.Errorf("Expected fallback answer, got %q", reply.Text)
	}
	if got := svc.Metrics().RetrievalFailures.Load(); got != 1 {
		t.Errorf("Expected retrieval_failures 1, got %d", got)
	}

	if _, err := svc.Clear(ctx, "yt_v"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	svc.Wait()
	if got := svc.Metrics().CascadeFailures.Load(); got != 1 {
		t.Errorf("Expected cascade_failures 1, got %d", got)
	}
}

// slowDeleteGateway delays DeleteSession so a re-init can overlap it.
type slowDeleteGateway struct {
	Gateway
	delay time.Duration
}

func (g slowDeleteGateway) DeleteSession(ctx context.Context, id string) error {
	time.Sleep(g.delay)
	return g.Gateway.DeleteSession(ctx, id)
}

func TestReinitAfterClearKeepsNewChunks(t *testing.T) {
	store := memory.New()
	registry := session.NewMemory(10, time.Hour, nil)
	defer registry.Close()
	svc := NewService(Deps{
		Transcripts: stubTranscripts{"abc123": "The quick brown fox jumps."},
		Chunker:     chunker.New(500, 100),
		Gateway: slowDeleteGateway{
			Gateway: vectorstore.NewGateway(embedding.NewHashEmbedder(512), store, 5),
			delay:   100 * time.Millisecond,
		},
		Synthesizer: echoSynth{},
		Registry:    registry,
	}, Config{})
	ctx := context.Background()

	if _, err := svc.InitYouTube(ctx, "abc123"); err != nil {
		t.Fatalf("InitYouTube failed: %v", err)
	}
	if _, err := svc.Clear(ctx, "yt_abc123"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, err := svc.InitYouTube(ctx, "abc123"); err != nil {
		t.Fatalf("Re-init failed: %v", err)
	}
	svc.Wait()

	if n := store.Count("yt_abc123"); n != 1 {
		t.Fatalf("Expected the re-indexed chunk to survive the delete, got %d chunks", n)
	}
	reply, err := svc.Ask(ctx, "yt_abc123", "What animal is mentioned?")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if !strings.Contains(reply.Text, "fox") {
		t.Errorf("Expected transcript in reply, got %q", reply.Text)
	}
}

func TestInitGivesUpWaitingOnCancel(t *testing.T) {
	registry := session.NewMemory(10, time.Hour, nil)
	defer registry.Close()
	gw := &failingGateway{}
	svc := NewService(Deps{
		Transcripts: stubTranscripts{"v": "text"},
		Chunker:     chunker.New(500, 100),
		Gateway:     slowDeleteGateway{Gateway: gw, delay: time.Second},
		Synthesizer: echoSynth{},
		Registry:    registry,
	}, Config{})
	defer svc.Wait()

	svc.PurgeVectors("yt_v")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := svc.InitYouTube(ctx, "v"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline error while delete is pending, got %v", err)
	}
}

func TestCloseStopsPurges(t *testing.T) {
	registry := session.NewMemory(10, time.Hour, nil)
	defer registry.Close()
	gw := &failingGateway{}
	svc := NewService(Deps{
		Chunker:     chunker.New(500, 100),
		Gateway:     gw,
		Synthesizer: echoSynth{},
		Registry:    registry,
	}, Config{})

	svc.PurgeVectors("yt_a")
	svc.Close()
	svc.PurgeVectors("yt_b")
	svc.Wait()

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.deleted) != 1 || gw.deleted[0] != "yt_a" {
		t.Errorf("Expected only the pre-close delete to run, got %v", gw.deleted)
	}
}
