// Package search queries a SearXNG metasearch instance and exposes
// the web search capability.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nugget/reeve/internal/capability"
	"github.com/nugget/reeve/internal/config"
	"github.com/nugget/reeve/internal/httpkit"
)

// Result is a single search hit.
type Result struct {
	Title   string
	URL     string
	Snippet string
}

// Client queries a SearXNG instance's JSON API. The baseURL should be
// the root URL of the instance (e.g., "http://localhost:8080").
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a SearXNG client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15 * time.Second),
		),
	}
}

type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search runs a query and returns at most count results.
func (c *Client) Search(ctx context.Context, query string, count int) ([]Result, error) {
	if count <= 0 {
		count = 5
	}

	params := url.Values{
		"q":      {query},
		"format": {"json"},
	}

	reqURL := fmt.Sprintf("%s/search?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("searxng: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searxng: request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("searxng: HTTP %d: %s", resp.StatusCode, body)
	}

	var sr searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("searxng: decode response: %w", err)
	}

	results := make([]Result, 0, count)
	for i, r := range sr.Results {
		if i >= count {
			break
		}
		results = append(results, Result{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Content,
		})
	}
	return results, nil
}

// FormatResults builds a human-readable result string.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}

	var buf []byte
	for i, r := range results {
		if i > 0 {
			buf = append(buf, '\n', '\n')
		}
		buf = append(buf, strconv.Itoa(i+1)...)
		buf = append(buf, ". "...)
		buf = append(buf, r.Title...)
		buf = append(buf, '\n')
		buf = append(buf, "   "...)
		buf = append(buf, r.URL...)
		if r.Snippet != "" {
			buf = append(buf, '\n')
			buf = append(buf, "   "...)
			buf = append(buf, r.Snippet...)
		}
	}
	return string(buf)
}

// NewBuilder returns the capability builder for web search.
func NewBuilder(cfg config.SearchConfig) capability.Builder {
	return capability.Builder{
		Name: "search",
		Build: func(ctx context.Context) ([]*capability.Capability, error) {
			if cfg.SearXNGURL == "" {
				return nil, fmt.Errorf("searxng not configured")
			}
			c := NewClient(cfg.SearXNGURL)
			return c.Capabilities(), nil
		},
	}
}

// Capabilities returns the web search capability backed by this
// client.
func (c *Client) Capabilities() []*capability.Capability {
	return []*capability.Capability{
		{
			Name:        "web_search",
			Description: "Search the web. Returns titles, URLs and snippets.",
			Domain:      capability.DomainGeneral,
			Params: []capability.Param{
				{Name: "query", Type: "string", Description: "Search query", Required: true},
				{Name: "count", Type: "integer", Description: "Max results", Default: 5},
			},
			Handler: c.handleSearch,
		},
	}
}

func (c *Client) handleSearch(ctx context.Context, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	count := 5
	if v, ok := args["count"].(float64); ok && v > 0 {
		count = int(v)
	}

	results, err := c.Search(ctx, query, count)
	if err != nil {
		return nil, err
	}
	return FormatResults(results), nil
}
