package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/anatolykoptev/go-kit/strutil"
)

// DefaultMaxContentChars caps extracted page text.
const DefaultMaxContentChars = 200000

var (
	multiSpaceRE   = regexp.MustCompile(`[ \t]+`)
	multiNewlineRE = regexp.MustCompile(`\n{3,}`)
)

// removeSelectors strips page chrome before extracting content.
var removeSelectors = []string{
	"script", "style", "noscript", "iframe", "svg", "template",
	"header", "footer", "nav", "aside", "form",
	".advertisement", ".ad", ".sidebar", ".comments",
	"[role=navigation]", "[role=banner]", "[role=contentinfo]",
}

// PageConfig configures the page fetcher.
type PageConfig struct {
	HTTPClient      *http.Client
	Timeout         time.Duration
	MaxContentChars int
}

// Page downloads a URL and extracts its readable text as markdown.
type Page struct {
	client   *http.Client
	maxChars int
}

// NewPage creates a page fetcher.
func NewPage(cfg PageConfig) *Page {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxContentChars <= 0 {
		cfg.MaxContentChars = DefaultMaxContentChars
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Page{client: client, maxChars: cfg.MaxContentChars}
}

// Fetch downloads rawURL and returns its title and main content.
func (p *Page) Fetch(ctx context.Context, rawURL string) (title, content string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("fetch page: unexpected status %s", resp.Status)
	}

	title, content, err = p.Extract(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", "", err
	}
	if content == "" {
		return title, "", errors.New("page has no readable content")
	}
	return title, content, nil
}

// Extract parses an HTML document and returns its title and main content.
func (p *Page) Extract(r io.Reader) (title, content string, err error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
			title = strings.TrimSpace(og)
		}
	}

	doc.Find(strings.Join(removeSelectors, ", ")).Remove()

	body := doc.Find("article, main, [role=main], .content, .post-content, .article-content, #content").First()
	if body.Length() == 0 {
		body = doc.Find("body")
	}

	content = p.toMarkdown(body)
	return title, strutil.TruncateWith(content, p.maxChars, "..."), nil
}

func (p *Page) toMarkdown(sel *goquery.Selection) string {
	fragment, err := goquery.OuterHtml(sel)
	if err == nil {
		if md, err := htmltomarkdown.ConvertString(fragment); err == nil {
			if md = strings.TrimSpace(md); md != "" {
				return md
			}
		}
	}
	// Fall back to plain text when conversion fails.
	text := multiSpaceRE.ReplaceAllString(sel.Text(), " ")
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	text = multiNewlineRE.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(text)
}
