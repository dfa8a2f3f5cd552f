// Package extractor pulls plain text out of YouTube videos and web pages.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	defaultWatchURL  = "https://www.youtube.com/watch?v="
	defaultPlayerURL = "https://www.youtube.com/youtubei/v1/player"
	ytAndroidVersion = "20.10.38"
	ytAndroidUA      = "com.google.android.youtube/" + ytAndroidVersion + " (Linux; U; Android 11) gzip"
	browserUA        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"

	// playerResponseMarker marks the start of the player response JSON in watch page HTML.
	playerResponseMarker = "ytInitialPlayerResponse = "
)

var htmlTagRE = regexp.MustCompile(`<[^>]*>`)

// YouTubeConfig configures the transcript fetcher.
type YouTubeConfig struct {
	// Languages lists preferred caption languages, most preferred first.
	Languages  []string
	HTTPClient *http.Client
	Timeout    time.Duration
	// WatchURL and PlayerURL override the YouTube endpoints.
	WatchURL  string
	PlayerURL string
}

// YouTube fetches video transcripts from public caption tracks.
type YouTube struct {
	langs     []string
	client    *http.Client
	watchURL  string
	playerURL string
}

// NewYouTube creates a transcript fetcher.
func NewYouTube(cfg YouTubeConfig) *YouTube {
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"en"}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.WatchURL == "" {
		cfg.WatchURL = defaultWatchURL
	}
	if cfg.PlayerURL == "" {
		cfg.PlayerURL = defaultPlayerURL
	}
	return &YouTube{langs: cfg.Languages, client: client, watchURL: cfg.WatchURL, playerURL: cfg.PlayerURL}
}

// Fetch returns the transcript text of videoID, or "" when no transcript can
// be retrieved for any reason. Failures are logged, never retried.
func (y *YouTube) Fetch(ctx context.Context, videoID string) string {
	text, err := y.FetchTranscript(ctx, videoID)
	if err != nil {
		slog.Warn("Transcript unavailable", "video_id", videoID, "error", err)
		return ""
	}
	return text
}

// FetchTranscript tries the watch page first, then the ANDROID player endpoint.
func (y *YouTube) FetchTranscript(ctx context.Context, videoID string) (string, error) {
	text, scrapeErr := y.viaWatchPage(ctx, videoID)
	if scrapeErr == nil && text != "" {
		return text, nil
	}
	slog.Debug("Watch page scrape failed, trying player endpoint", "video_id", videoID, "error", scrapeErr)

	text, playerErr := y.viaPlayer(ctx, videoID)
	if playerErr != nil {
		return "", errors.Join(scrapeErr, playerErr)
	}
	if text == "" {
		return "", errors.New("transcript is empty")
	}
	return text, nil
}

type playerResponse struct {
	Captions *struct {
		PlayerCaptionsTracklistRenderer struct {
			CaptionTracks []captionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
	PlayabilityStatus *struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"` // "asr" = auto-generated
}

func (p playerResponse) tracks() ([]captionTrack, error) {
	if p.Captions == nil {
		if p.PlayabilityStatus != nil && p.PlayabilityStatus.Reason != "" {
			return nil, fmt.Errorf("captions unavailable: %s", p.PlayabilityStatus.Reason)
		}
		return nil, errors.New("no captions in player response")
	}
	tracks := p.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks
	if len(tracks) == 0 {
		return nil, errors.New("no caption tracks")
	}
	return tracks, nil
}

func (y *YouTube) viaWatchPage(ctx context.Context, videoID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.watchURL+videoID, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	body, err := y.do(req, 6<<20)
	if err != nil {
		return "", fmt.Errorf("watch page: %w", err)
	}

	idx := bytes.Index(body, []byte(playerResponseMarker))
	if idx < 0 {
		return "", errors.New("ytInitialPlayerResponse not found in watch page")
	}
	raw := extractJSON(body[idx+len(playerResponseMarker):])
	if raw == nil {
		return "", errors.New("failed to extract ytInitialPlayerResponse JSON")
	}

	var resp playerResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode ytInitialPlayerResponse: %w", err)
	}
	return y.fromTracks(ctx, resp)
}

func (y *YouTube) viaPlayer(ctx context.Context, videoID string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"videoId": videoID,
		"context": map[string]any{
			"client": map[string]any{
				"clientName":        "ANDROID",
				"clientVersion":     ytAndroidVersion,
				"androidSdkVersion": 30,
				"hl":                "en",
				"gl":                "US",
			},
		},
		"racyCheckOk":    true,
		"contentCheckOk": true,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, y.playerURL+"?prettyPrint=false", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", ytAndroidUA)
	req.Header.Set("X-Youtube-Client-Name", "3")
	req.Header.Set("X-Youtube-Client-Version", ytAndroidVersion)

	body, err := y.do(req, 4<<20)
	if err != nil {
		return "", fmt.Errorf("android player: %w", err)
	}
	var resp playerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode player: %w", err)
	}
	return y.fromTracks(ctx, resp)
}

func (y *YouTube) fromTracks(ctx context.Context, resp playerResponse) (string, error) {
	tracks, err := resp.tracks()
	if err != nil {
		return "", err
	}
	track, ok := pickBestTrack(tracks, y.langs)
	if !ok {
		return "", errors.New("all caption tracks require a browser token")
	}
	return y.fetchTimedText(ctx, track.BaseURL)
}

// timedText covers both the legacy <transcript><text> and the srv3
// <timedtext><body><p> caption formats.
type timedText struct {
	Lines      []string `xml:"text"`
	Paragraphs []string `xml:"body>p"`
}

func (y *YouTube) fetchTimedText(ctx context.Context, baseURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", browserUA)

	body, err := y.do(req, 4<<20)
	if err != nil {
		return "", fmt.Errorf("fetch timedtext: %w", err)
	}

	var tt timedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return "", fmt.Errorf("parse timedtext XML: %w", err)
	}
	return joinCaptions(append(tt.Lines, tt.Paragraphs...)), nil
}

func (y *YouTube) do(req *http.Request, limit int64) ([]byte, error) {
	resp, err := y.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}

// joinCaptions unescapes caption segments and joins them with single spaces.
func joinCaptions(segments []string) string {
	var sb strings.Builder
	for _, seg := range segments {
		text := html.UnescapeString(seg)
		text = htmlTagRE.ReplaceAllString(text, "")
		text = strings.Join(strings.Fields(text), " ")
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(text)
	}
	return sb.String()
}

// needsPoToken reports whether a caption URL only works inside a browser.
func needsPoToken(baseURL string) bool {
	return strings.Contains(baseURL, "&exp=xpe")
}

// pickBestTrack prefers a manual track in a preferred language, then an
// auto-generated one, then any English track, then the first usable track.
func pickBestTrack(tracks []captionTrack, langs []string) (captionTrack, bool) {
	usable := make([]captionTrack, 0, len(tracks))
	for _, t := range tracks {
		if !needsPoToken(t.BaseURL) {
			usable = append(usable, t)
		}
	}
	if len(usable) == 0 {
		return captionTrack{}, false
	}
	for _, lang := range langs {
		for _, t := range usable {
			if t.LanguageCode == lang && t.Kind != "asr" {
				return t, true
			}
		}
	}
	for _, lang := range langs {
		for _, t := range usable {
			if t.LanguageCode == lang {
				return t, true
			}
		}
	}
	for _, t := range usable {
		if strings.HasPrefix(t.LanguageCode, "en") {
			return t, true
		}
	}
	return usable[0], true
}

// extractJSON returns the balanced JSON object at the start of b.
func extractJSON(b []byte) []byte {
	if len(b) == 0 || b[0] != '{' {
		return nil
	}
	depth := 0
	inStr := false
	escaped := false
	for i, c := range b {
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return b[:i+1]
			}
		}
	}
	return nil
}
