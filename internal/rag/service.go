// Package rag runs the session workflows: capture content, index it, and
// answer questions from the indexed content of one session.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/anatolykoptev/go-kit/strutil"

	"github.com/ashureev/contextqa/internal/answer"
	"github.com/ashureev/contextqa/internal/domain"
	"github.com/ashureev/contextqa/internal/metrics"
	"github.com/ashureev/contextqa/internal/session"
)

var (
	// ErrInvalidInput marks requests with missing or malformed fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrTranscriptUnavailable is returned when a video has no usable transcript.
	ErrTranscriptUnavailable = errors.New("transcript not found")
	// ErrSessionNotFound is returned when a question names an unknown session.
	ErrSessionNotFound = errors.New("session not found")
)

var videoIDRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

const defaultPurgeTimeout = 30 * time.Second

// TranscriptFetcher returns the transcript of a video, or "" when there is none.
type TranscriptFetcher interface {
	Fetch(ctx context.Context, videoID string) string
}

// PageFetcher downloads a page and extracts its title and text.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (title, content string, err error)
}

// Chunker splits text into chunks.
type Chunker interface {
	Split(text string) []domain.Chunk
}

// Gateway stores and retrieves chunks per session.
type Gateway interface {
	Index(ctx context.Context, sessionID string, chunks []domain.Chunk, metadata map[string]string) (int, error)
	Query(ctx context.Context, sessionID, question string, k int) ([]domain.Document, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Synthesizer produces an answer from retrieved documents. It never fails.
type Synthesizer interface {
	Answer(ctx context.Context, question string, docs []domain.Document) string
}

// Deps are the collaborators of a Service. Pages may be nil, which disables
// the server-side page fetch.
type Deps struct {
	Transcripts TranscriptFetcher
	Pages       PageFetcher
	Chunker     Chunker
	Gateway     Gateway
	Synthesizer Synthesizer
	Registry    session.Registry
	Metrics     *metrics.Counters
}

// Config tunes a Service.
type Config struct {
	// K is the number of chunks retrieved per question.
	K int
	// PurgeTimeout bounds each background vector delete.
	PurgeTimeout time.Duration
	// Now overrides the clock used for session timestamps.
	Now func() time.Time
}

// Reply is the outcome of a question.
type Reply struct {
	Text      string
	Context   domain.ContextType
	VideoID   string
	PageTitle string
}

// Service wires the collaborators into the init, ask and clear workflows.
type Service struct {
	deps         Deps
	k            int
	purgeTimeout time.Duration
	now          func() time.Time
	purges       sync.WaitGroup

	// pending holds, per session, a channel closed when the latest queued
	// vector delete has finished. Deletes of one session run in order.
	mu      sync.Mutex
	pending map[string]chan struct{}
	closed  bool
}

// NewService creates a Service.
func NewService(deps Deps, cfg Config) *Service {
	if deps.Metrics == nil {
		deps.Metrics = &metrics.Counters{}
	}
	if cfg.PurgeTimeout <= 0 {
		cfg.PurgeTimeout = defaultPurgeTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		deps:         deps,
		k:            cfg.K,
		purgeTimeout: cfg.PurgeTimeout,
		now:          cfg.Now,
		pending:      make(map[string]chan struct{}),
	}
}

// Metrics returns the service counters.
func (s *Service) Metrics() *metrics.Counters { return s.deps.Metrics }

// InitYouTube fetches, chunks and indexes a video transcript, then registers
// the session. A missing transcript leaves the session untouched.
func (s *Service) InitYouTube(ctx context.Context, videoID string) (*domain.Session, error) {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return nil, fmt.Errorf("%w: videoId is required", ErrInvalidInput)
	}
	if !videoIDRE.MatchString(videoID) {
		return nil, fmt.Errorf("%w: videoId contains invalid characters", ErrInvalidInput)
	}

	text := s.deps.Transcripts.Fetch(ctx, videoID)
	if strings.TrimSpace(text) == "" {
		s.deps.Metrics.TranscriptFailures.Add(1)
		return nil, ErrTranscriptUnavailable
	}

	sess := domain.NewYouTubeSession(videoID, s.now())
	if err := s.index(ctx, sess, text); err != nil {
		return nil, err
	}
	s.deps.Metrics.YouTubeInits.Add(1)
	return sess, nil
}

// InitPage chunks and indexes captured page text, then registers the
// session. Empty content is fetched from the page URL when a PageFetcher is set.
func (s *Service) InitPage(ctx context.Context, page domain.PageData) (*domain.Session, error) {
	page.URL = strings.TrimSpace(page.URL)
	if page.URL == "" {
		return nil, fmt.Errorf("%w: pageData.url is required", ErrInvalidInput)
	}

	if strings.TrimSpace(page.Content) == "" && s.deps.Pages != nil {
		s.deps.Metrics.PageFetches.Add(1)
		title, content, err := s.deps.Pages.Fetch(ctx, page.URL)
		if err != nil {
			slog.Warn("Page fetch failed", "url", page.URL, "error", err)
		} else {
			page.Content = content
			if page.Title == "" {
				page.Title = title
			}
		}
	}
	if strings.TrimSpace(page.Content) == "" {
		return nil, fmt.Errorf("%w: page content is empty", ErrInvalidInput)
	}

	sess := domain.NewPageSession(page, s.now())
	if err := s.index(ctx, sess, page.Content); err != nil {
		return nil, err
	}
	s.deps.Metrics.PageInits.Add(1)
	return sess, nil
}

func (s *Service) index(ctx context.Context, sess *domain.Session, text string) error {
	// A clear followed by a quick re-init must not let the old delete
	// remove the new chunks.
	if err := s.awaitPurge(ctx, sess.ID); err != nil {
		return fmt.Errorf("wait for pending delete: %w", err)
	}
	chunks := s.deps.Chunker.Split(text)
	n, err := s.deps.Gateway.Index(ctx, sess.ID, chunks, sess.Metadata())
	if err != nil {
		s.deps.Metrics.IndexFailures.Add(1)
		slog.Error("Failed to index content", "session_id", sess.ID, "type", sess.Type, "error", err)
		return fmt.Errorf("index content: %w", err)
	}
	if err := s.deps.Registry.Put(ctx, sess); err != nil {
		return fmt.Errorf("register session: %w", err)
	}
	slog.Info("Session initialized", "session_id", sess.ID, "type", sess.Type, "chunks", n)
	return nil
}

// Ask answers question from the chunks of sessionID. Retrieval and model
// failures degrade to the fallback answer instead of an error.
func (s *Service) Ask(ctx context.Context, sessionID, question string) (Reply, error) {
	sess, err := s.deps.Registry.Get(ctx, sessionID)
	if err != nil {
		return Reply{}, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		slog.Info("Question for unknown session", "session_id", sessionID)
		return Reply{Context: domain.ContextNone}, ErrSessionNotFound
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return Reply{}, fmt.Errorf("%w: message is required", ErrInvalidInput)
	}
	s.deps.Metrics.Asks.Add(1)

	docs, err := s.deps.Gateway.Query(ctx, sess.ID, question, s.k)
	if err != nil {
		s.deps.Metrics.RetrievalFailures.Add(1)
		slog.Error("Retrieval failed, answering without context",
			"session_id", sess.ID,
			"question", strutil.TruncateWith(question, 120, "..."),
			"error", err)
		docs = nil
	}

	text := s.deps.Synthesizer.Answer(ctx, question, docs)
	if text == answer.NoInformation {
		s.deps.Metrics.AnswerFallbacks.Add(1)
	}
	slog.Debug("Question answered", "session_id", sess.ID, "documents", len(docs))

	reply := Reply{Text: text, Context: sess.Type}
	switch sess.Type {
	case domain.ContextYouTube:
		reply.VideoID = sess.VideoID
	case domain.ContextPage:
		reply.PageTitle = sess.Title()
	}
	return reply, nil
}

// Clear removes the session from the registry and reports whether it
// existed. Stored chunks are deleted in the background either way.
func (s *Service) Clear(ctx context.Context, sessionID string) (bool, error) {
	found, err := s.deps.Registry.Delete(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	if found {
		s.deps.Metrics.Clears.Add(1)
		slog.Info("Session cleared", "session_id", sessionID)
	}
	s.PurgeVectors(sessionID)
	return found, nil
}

// PurgeVectors deletes the stored chunks of sessionID in the background.
// Failures are logged and counted, never surfaced. After Close it is a no-op.
func (s *Service) PurgeVectors(sessionID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		slog.Warn("Skipping vector delete during shutdown", "session_id", sessionID)
		return
	}
	prev := s.pending[sessionID]
	done := make(chan struct{})
	s.pending[sessionID] = done
	s.purges.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.purges.Done()
		defer s.finishPurge(sessionID, done)
		if prev != nil {
			<-prev
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.purgeTimeout)
		defer cancel()

		if err := s.deps.Gateway.DeleteSession(ctx, sessionID); err != nil {
			s.deps.Metrics.CascadeFailures.Add(1)
			slog.Error("Failed to delete session vectors", "session_id", sessionID, "error", err)
			return
		}
		slog.Debug("Session vectors deleted", "session_id", sessionID)
	}()
}

func (s *Service) finishPurge(sessionID string, done chan struct{}) {
	s.mu.Lock()
	if s.pending[sessionID] == done {
		delete(s.pending, sessionID)
	}
	s.mu.Unlock()
	close(done)
}

// awaitPurge blocks until queued vector deletes of sessionID have finished.
func (s *Service) awaitPurge(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	done := s.pending[sessionID]
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveSessions returns the number of registered sessions.
func (s *Service) ActiveSessions(ctx context.Context) int {
	n, err := s.deps.Registry.Len(ctx)
	if err != nil {
		slog.Warn("Failed to count sessions", "error", err)
		return 0
	}
	return n
}

// Wait blocks until background vector deletes have finished.
func (s *Service) Wait() {
	s.purges.Wait()
}

// Close stops accepting vector deletes and waits for the queued ones.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.purges.Wait()
}
