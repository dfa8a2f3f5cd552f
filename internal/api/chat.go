package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/contextqa/internal/domain"
	"github.com/ashureev/contextqa/internal/rag"
)

const (
	msgTranscriptLoaded = "Transcript loaded, chunked, and embedded"
	msgTranscriptAbsent = "Transcript not found"
	msgPageLoaded       = "Page context loaded"
	msgSessionCleared   = "Session cleared"
	msgSessionNotFound  = "Session not found"
	msgReloadExtension  = "Sorry, I couldn't find the context for this conversation. Please reload the extension."
)

type youtubeRequest struct {
	VideoID string `json:"videoId"`
}

type pageRequest struct {
	PageData *domain.PageData `json:"pageData"`
}

type askRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type initResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message"`
}

type askResponse struct {
	Reply     string             `json:"reply"`
	Context   domain.ContextType `json:"context"`
	VideoID   string             `json:"videoId,omitempty"`
	PageTitle string             `json:"pageTitle,omitempty"`
}

func newAskResponse(reply rag.Reply) askResponse {
	return askResponse{
		Reply:     reply.Text,
		Context:   reply.Context,
		VideoID:   reply.VideoID,
		PageTitle: reply.PageTitle,
	}
}

func notFoundReply() askResponse {
	return askResponse{Reply: msgReloadExtension, Context: domain.ContextNone}
}

// YouTube loads a video transcript into a new session.
func (h *Handler) YouTube(w http.ResponseWriter, r *http.Request) {
	var req youtubeRequest
	if err := h.decode(w, r, &req); err != nil {
		JSON(w, decodeStatus(err), initResponse{Message: err.Error()})
		return
	}

	sess, err := h.svc.InitYouTube(r.Context(), req.VideoID)
	switch {
	case errors.Is(err, rag.ErrTranscriptUnavailable):
		slog.Warn("Transcript unavailable", "endpoint", "/youtube", "video_id", req.VideoID)
		JSON(w, http.StatusBadRequest, initResponse{
			SessionID: domain.YouTubeSessionID(strings.TrimSpace(req.VideoID)),
			Message:   msgTranscriptAbsent,
		})
		return
	case errors.Is(err, rag.ErrInvalidInput):
		JSON(w, http.StatusBadRequest, initResponse{Message: err.Error()})
		return
	case err != nil:
		slog.Error("Failed to initialize video session", "endpoint", "/youtube", "video_id", req.VideoID, "error", err)
		JSON(w, http.StatusInternalServerError, initResponse{Message: err.Error()})
		return
	}

	JSON(w, http.StatusOK, initResponse{Success: true, SessionID: sess.ID, Message: msgTranscriptLoaded})
}

// Page loads captured page content into a new session.
func (h *Handler) Page(w http.ResponseWriter, r *http.Request) {
	var req pageRequest
	if err := h.decode(w, r, &req); err != nil {
		JSON(w, decodeStatus(err), initResponse{Message: err.Error()})
		return
	}
	if req.PageData == nil {
		JSON(w, http.StatusBadRequest, initResponse{Message: "pageData is required"})
		return
	}

	sess, err := h.svc.InitPage(r.Context(), *req.PageData)
	switch {
	case errors.Is(err, rag.ErrInvalidInput):
		JSON(w, http.StatusBadRequest, initResponse{Message: err.Error()})
		return
	case err != nil:
		slog.Error("Failed to initialize page session", "endpoint", "/page", "url", req.PageData.URL, "error", err)
		JSON(w, http.StatusInternalServerError, initResponse{Message: err.Error()})
		return
	}

	JSON(w, http.StatusOK, initResponse{Success: true, SessionID: sess.ID, Message: msgPageLoaded})
}

// Ask answers a question from the session's content.
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := h.decode(w, r, &req); err != nil {
		Error(w, decodeStatus(err), err.Error())
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		JSON(w, http.StatusNotFound, notFoundReply())
		return
	}

	reply, err := h.svc.Ask(r.Context(), req.SessionID, req.Message)
	switch {
	case errors.Is(err, rag.ErrSessionNotFound):
		JSON(w, http.StatusNotFound, notFoundReply())
		return
	case errors.Is(err, rag.ErrInvalidInput):
		Error(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		slog.Error("Failed to answer question", "endpoint", "/ask", "session_id", req.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	JSON(w, http.StatusOK, newAskResponse(reply))
}

// Clear removes a session and closes its sockets.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	found, err := h.svc.Clear(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to clear session", "endpoint", "/clear", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.conns.CloseSession(sessionID)

	if !found {
		JSON(w, http.StatusNotFound, map[string]string{"message": msgSessionNotFound})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": msgSessionCleared})
}
