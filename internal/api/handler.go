// Package api provides HTTP handlers for the ContextQA API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/contextqa/internal/domain"
	"github.com/ashureev/contextqa/internal/metrics"
	"github.com/ashureev/contextqa/internal/rag"
)

const defaultMaxBodyBytes = 5 << 20

// Service is the session workflow the handlers drive.
type Service interface {
	InitYouTube(ctx context.Context, videoID string) (*domain.Session, error)
	InitPage(ctx context.Context, page domain.PageData) (*domain.Session, error)
	Ask(ctx context.Context, sessionID, question string) (rag.Reply, error)
	Clear(ctx context.Context, sessionID string) (bool, error)
	ActiveSessions(ctx context.Context) int
}

// Options configures a Handler.
type Options struct {
	// VectorStore is the backend name reported by /health.
	VectorStore  string
	MaxBodyBytes int64
	Metrics      *metrics.Counters
	Now          func() time.Time
	// AllowedOrigins limits which pages may open /ws/ask. Empty or "*"
	// allows any origin.
	AllowedOrigins []string
}

// Handler serves the extension API.
type Handler struct {
	svc          Service
	conns        *ConnManager
	metrics      *metrics.Counters
	vectorStore  string
	maxBodyBytes int64
	now          func() time.Time
	// originPatterns are host patterns for the WebSocket origin check.
	originPatterns []string
}

// NewHandler creates a new Handler.
func NewHandler(svc Service, opts Options) *Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.Metrics == nil {
		opts.Metrics = &metrics.Counters{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{
		svc:          svc,
		conns:        NewConnManager(),
		metrics:      opts.Metrics,
		vectorStore:  opts.VectorStore,
		maxBodyBytes: opts.MaxBodyBytes,
		now:          opts.Now,

		originPatterns: originPatterns(opts.AllowedOrigins),
	}
}

// originPatterns converts CORS origins into the host patterns the
// WebSocket handshake matches against.
func originPatterns(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, o)
	}
	return patterns
}

// Conns returns the registry of open WebSocket connections.
func (h *Handler) Conns() *ConnManager { return h.conns }

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/metrics", h.Metrics)

	r.Post("/youtube", h.YouTube)
	r.Post("/page", h.Page)
	r.Post("/ask", h.Ask)
	r.Delete("/clear/{sessionId}", h.Clear)
	r.Post("/clear/{sessionId}", h.Clear)

	r.Get("/ws/ask", h.AskSocket)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decode reads a size-limited JSON body into v.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return errInvalidJSON
	}
	return nil
}

var (
	errInvalidJSON  = errors.New("invalid JSON body")
	errBodyTooLarge = errors.New("request body too large")
)

func decodeStatus(err error) int {
	if errors.Is(err, errBodyTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}
