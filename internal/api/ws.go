package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/contextqa/internal/rag"
)

// ConnManager tracks open WebSocket connections per session so clearing a
// session can hang up its clients.
type ConnManager struct {
	mu     sync.Mutex
	active map[string]map[*websocket.Conn]struct{}
}

// NewConnManager creates an empty ConnManager.
func NewConnManager() *ConnManager {
	return &ConnManager{active: make(map[string]map[*websocket.Conn]struct{})}
}

// Register binds conn to sessionID.
func (m *ConnManager) Register(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[sessionID]; !ok {
		m.active[sessionID] = make(map[*websocket.Conn]struct{})
	}
	m.active[sessionID][conn] = struct{}{}
}

// Unregister removes conn from sessionID.
func (m *ConnManager) Unregister(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns, ok := m.active[sessionID]
	if !ok {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(m.active, sessionID)
	}
}

// Count returns the number of connections bound to sessionID.
func (m *ConnManager) Count(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active[sessionID])
}

// CloseSession closes every connection bound to sessionID.
func (m *ConnManager) CloseSession(sessionID string) {
	m.mu.Lock()
	conns := m.active[sessionID]
	delete(m.active, sessionID)
	m.mu.Unlock()

	for conn := range conns {
		_ = conn.Close(websocket.StatusNormalClosure, "session cleared")
		slog.Info("WebSocket closed for cleared session", "session_id", sessionID)
	}
}

// AskSocket answers a stream of questions over one WebSocket. Each frame is
// an ask request; sessionId may be omitted when given as a query parameter.
func (h *Handler) AskSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "bye"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()
	ws.SetReadLimit(h.maxBodyBytes)

	ctx := r.Context()
	bound := r.URL.Query().Get("sessionId")
	if bound != "" {
		h.conns.Register(bound, ws)
	}
	defer func() {
		if bound != "" {
			h.conns.Unregister(bound, ws)
		}
	}()

	for {
		var req askRequest
		if err := wsjson.Read(ctx, ws, &req); err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", bound)
			} else {
				slog.Warn("WebSocket read error", "error", err, "session_id", bound)
			}
			return
		}

		sessionID := strings.TrimSpace(req.SessionID)
		if sessionID == "" {
			sessionID = bound
		}
		if sessionID != bound && sessionID != "" {
			if bound != "" {
				h.conns.Unregister(bound, ws)
			}
			bound = sessionID
			h.conns.Register(bound, ws)
		}

		var out interface{}
		if sessionID == "" {
			out = notFoundReply()
		} else {
			reply, err := h.svc.Ask(ctx, sessionID, req.Message)
			switch {
			case errors.Is(err, rag.ErrSessionNotFound):
				out = notFoundReply()
			case err != nil:
				slog.Warn("WebSocket ask failed", "endpoint", "/ws/ask", "session_id", sessionID, "error", err)
				out = map[string]string{"error": err.Error()}
			default:
				out = newAskResponse(reply)
			}
		}

		if err := wsjson.Write(ctx, ws, out); err != nil {
			slog.Warn("WebSocket write error", "error", err, "session_id", sessionID)
			return
		}
	}
}
