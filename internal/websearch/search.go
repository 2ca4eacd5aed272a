// Package websearch provides the built-in web search capability. It queries
// the DuckDuckGo HTML endpoint and extracts result titles, links, and
// snippets. Search stays available even when every external provider fails,
// so the assistant always has at least one tool.
package websearch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"opsbot/internal/config"
)

const defaultEndpoint = "https://html.duckduckgo.com/html/"

// DefaultMaxBytes is the maximum response body size (2 MB).
const DefaultMaxBytes int64 = 2 * 1024 * 1024

// ErrRateLimited reports that the search service is throttling us;
// recoverable by waiting, not by retrying immediately.
var ErrRateLimited = errors.New("search rate limit reached")

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher queries the web search backend.
type Searcher struct {
	client   *http.Client
	endpoint string
	cfg      config.SearchConfig
}

// New creates a Searcher with default settings.
func New(cfg config.SearchConfig) *Searcher {
	return &Searcher{
		client:   &http.Client{Timeout: 30 * time.Second},
		endpoint: defaultEndpoint,
		cfg:      cfg,
	}
}

// Search runs a query and returns at most maxResults hits. Values outside
// (0, MaxResultsLimit] clamp to the configured default for faster responses.
func (s *Searcher) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("websearch: query is required")
	}

	if maxResults <= 0 || maxResults > s.cfg.MaxResultsLimit {
		maxResults = s.cfg.MaxResults
	}

	form := url.Values{}
	form.Set("q", query)
	if s.cfg.Region != "" {
		form.Set("kl", s.cfg.Region)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+form.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("websearch: invalid request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) opsbot/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusAccepted:
		// DuckDuckGo answers 202 when it wants a backoff.
		return nil, ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("websearch: service error (status=%d)", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, DefaultMaxBytes))
	if err != nil {
		return nil, fmt.Errorf("websearch: failed to read response: %w", err)
	}

	results, err := parseResults(string(body))
	if err != nil {
		return nil, fmt.Errorf("websearch: failed to parse results: %w", err)
	}

	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// Format renders results as plain text for the model and the terminal.
func Format(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
