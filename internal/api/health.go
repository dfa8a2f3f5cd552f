package api

import (
	"net/http"
	"time"
)

// Health reports liveness and the number of active sessions.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"timestamp":       h.now().UTC().Format(time.RFC3339),
		"active_sessions": h.svc.ActiveSessions(r.Context()),
		"vector_store":    h.vectorStore,
		"endpoints": map[string]string{
			"youtube_init": "/youtube",
			"page_init":    "/page",
			"ask":          "/ask",
			"clear":        "/clear/{sessionId}",
			"ws":           "/ws/ask",
		},
	})
}

// Metrics writes the operational counters as plain text.
func (h *Handler) Metrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(h.metrics.Format()))
}
