// Package fetch downloads web pages, extracts readable text, and
// exposes the page fetch capability used for web research.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nugget/reeve/internal/capability"
	"github.com/nugget/reeve/internal/httpkit"
)

// maxBodyBytes caps the downloaded response body (5 MB).
const maxBodyBytes int64 = 5 * 1024 * 1024

// defaultMaxChars is the default character limit for extracted text.
const defaultMaxChars = 20000

// Page holds the fetched and extracted content from a URL.
type Page struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
	StatusCode  int    `json:"status_code"`
}

// Fetcher downloads and extracts readable content from web pages.
type Fetcher struct {
	client *http.Client
}

// New creates a Fetcher with default settings.
func New() *Fetcher {
	return &Fetcher{
		client: httpkit.NewClient(
			httpkit.WithTimeout(30 * time.Second),
		),
	}
}

// Fetch downloads the URL and extracts readable text. maxChars limits
// the output length; 0 uses the default.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxChars int) (*Page, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("url is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,text/plain;q=0.8,*/*;q=0.7")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")

	var title, content string
	switch {
	case isHTML(contentType):
		title, content = extractHTML(string(body))
	case utf8.Valid(body):
		content = string(body)
	default:
		return &Page{
			URL:         rawURL,
			ContentType: contentType,
			StatusCode:  resp.StatusCode,
			Content:     fmt.Sprintf("Binary content (%s), %d bytes", contentType, len(body)),
		}, nil
	}

	truncated := false
	if len(content) > maxChars {
		content = truncateUTF8(content, maxChars)
		truncated = true
	}

	return &Page{
		URL:         rawURL,
		Title:       title,
		Content:     content,
		ContentType: contentType,
		Truncated:   truncated,
		StatusCode:  resp.StatusCode,
	}, nil
}

func isHTML(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

// truncateUTF8 cuts a string to maxChars runes without splitting a
// multi-byte character.
func truncateUTF8(s string, maxChars int) string {
	count := 0
	for i := range s {
		if count >= maxChars {
			return s[:i]
		}
		count++
	}
	return s
}

// NewBuilder returns the capability builder for web page fetching.
func NewBuilder() capability.Builder {
	return capability.Builder{
		Name: "fetch",
		Build: func(ctx context.Context) ([]*capability.Capability, error) {
			return New().Capabilities(), nil
		},
	}
}

// Capabilities returns the web fetch capability.
func (f *Fetcher) Capabilities() []*capability.Capability {
	return []*capability.Capability{
		{
			Name:        "web_fetch",
			Description: "Fetch a web page and return its readable text content.",
			Domain:      capability.DomainGeneral,
			Params: []capability.Param{
				{Name: "url", Type: "string", Description: "Page URL", Required: true},
				{Name: "max_chars", Type: "integer", Description: "Character limit for extracted text", Default: defaultMaxChars},
			},
			Handler: f.handleFetch,
		},
	}
}

func (f *Fetcher) handleFetch(ctx context.Context, args map[string]any) (any, error) {
	rawURL, _ := args["url"].(string)
	maxChars := 0
	if v, ok := args["max_chars"].(float64); ok {
		maxChars = int(v)
	}

	page, err := f.Fetch(ctx, rawURL, maxChars)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	if page.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", page.Title)
	}
	b.WriteString(page.Content)
	if page.Truncated {
		b.WriteString("\n\n[content truncated]")
	}
	return b.String(), nil
}
