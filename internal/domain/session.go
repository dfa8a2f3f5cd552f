// Package domain contains core domain types for the contextqa service.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ContextType identifies the kind of source a session was built from.
type ContextType string

const (
	ContextYouTube ContextType = "youtube"
	ContextPage    ContextType = "page"
	// ContextNone is reported when a question arrives for an unknown session.
	ContextNone ContextType = "none"
)

// PageData is the page snapshot sent by the browser extension.
type PageData struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Content     string `json:"content"`
	Description string `json:"description,omitempty"`
}

// Session holds the context metadata for one conversation.
type Session struct {
	ID        string      `json:"id"`
	Type      ContextType `json:"type"`
	VideoID   string      `json:"videoId,omitempty"`
	URL       string      `json:"url,omitempty"`
	Page      *PageData   `json:"pageData,omitempty"`
	CreatedAt time.Time   `json:"initialized_at"`
}

// YouTubeSessionID derives the session id for a video.
func YouTubeSessionID(videoID string) string {
	return "yt_" + videoID
}

// PageSessionID derives a stable session id from a page URL.
func PageSessionID(url string) string {
	sum := sha256.Sum256([]byte(url))
	return "page_" + hex.EncodeToString(sum[:8])
}

// YouTubeWatchURL returns the canonical watch URL for a video.
func YouTubeWatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// NewYouTubeSession builds a session for a video transcript.
func NewYouTubeSession(videoID string, now time.Time) *Session {
	return &Session{
		ID:        YouTubeSessionID(videoID),
		Type:      ContextYouTube,
		VideoID:   videoID,
		URL:       YouTubeWatchURL(videoID),
		CreatedAt: now,
	}
}

// NewPageSession builds a session for a captured web page.
func NewPageSession(page PageData, now time.Time) *Session {
	p := page
	return &Session{
		ID:        PageSessionID(page.URL),
		Type:      ContextPage,
		URL:       page.URL,
		Page:      &p,
		CreatedAt: now,
	}
}

// Title returns the page title, or "" for non-page sessions.
func (s *Session) Title() string {
	if s.Page == nil {
		return ""
	}
	return s.Page.Title
}

// Metadata returns the source identifiers attached to every chunk of the session.
func (s *Session) Metadata() map[string]string {
	md := map[string]string{"session_id": s.ID}
	switch s.Type {
	case ContextYouTube:
		md["video_id"] = s.VideoID
		md["url"] = s.URL
	case ContextPage:
		md["url"] = s.URL
		if s.Page != nil {
			md["title"] = s.Page.Title
			if s.Page.Description != "" {
				md["description"] = s.Page.Description
			}
		}
	}
	return md
}
