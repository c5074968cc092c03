package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"voice-assistant/backend/internal/constants"
)

const (
	defaultSearchEndpoint = "https://html.duckduckgo.com/html/"
	searchUserAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// SearchResult is one web search hit
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearchConfig configures the DuckDuckGo search skill
type WebSearchConfig struct {
	Endpoint   string
	MaxResults int
	CacheTTL   time.Duration
	Timeout    time.Duration
}

type cachedSearch struct {
	results []SearchResult
	at      time.Time
}

// WebSearch queries the DuckDuckGo HTML endpoint and caches results per
// normalised query
type WebSearch struct {
	endpoint   string
	maxResults int
	ttl        time.Duration
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time

	mu    sync.Mutex
	cache map[string]cachedSearch
}

// NewWebSearch creates the search skill. Zero config fields take defaults.
func NewWebSearch(cfg WebSearchConfig, logger *zap.Logger) *WebSearch {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultSearchEndpoint
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 3
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &WebSearch{
		endpoint:   cfg.Endpoint,
		maxResults: cfg.MaxResults,
		ttl:        cfg.CacheTTL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		now:        time.Now,
		cache:      make(map[string]cachedSearch),
	}
}

func (w *WebSearch) Name() string { return SkillWebSearch }

func (w *WebSearch) Description() string {
	return "Searches the web and returns the top results as prompt context"
}

// Execute searches and formats the results for the prompt. No results gives
// an empty string.
func (w *WebSearch) Execute(ctx context.Context, query string) (string, error) {
	results, err := w.Search(ctx, query)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", nil
	}
	return FormatSearchResults(query, results), nil
}

// Search returns up to MaxResults hits, served from cache when fresh
func (w *WebSearch) Search(ctx context.Context, query string) ([]SearchResult, error) {
	key := normalizeQuery(query)
	if key == "" {
		return nil, fmt.Errorf("query is required")
	}

	if results, ok := w.cached(key); ok {
		w.logger.Debug("Using cached search results", zap.String("query", query))
		return results, nil
	}

	w.logger.Info("Searching web", zap.String("query", query))

	searchURL := w.endpoint + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", searchUserAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search failed: HTTP %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}

	results := parseSearchResults(doc, w.maxResults)
	w.store(key, results)

	w.logger.Info("Web search complete", zap.String("query", query), zap.Int("results", len(results)))
	return results, nil
}

// ClearCache drops every cached query
func (w *WebSearch) ClearCache() {
	w.mu.Lock()
	w.cache = make(map[string]cachedSearch)
	w.mu.Unlock()
}

func (w *WebSearch) cached(key string) ([]SearchResult, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, ok := w.cache[key]
	if !ok {
		return nil, false
	}
	if w.now().Sub(entry.at) >= w.ttl {
		delete(w.cache, key)
		return nil, false
	}
	return entry.results, true
}

func (w *WebSearch) store(key string, results []SearchResult) {
	w.mu.Lock()
	w.cache[key] = cachedSearch{results: results, at: w.now()}
	w.mu.Unlock()
}

// parseSearchResults extracts hits from a DuckDuckGo HTML results page
func parseSearchResults(doc *goquery.Document, max int) []SearchResult {
	var results []SearchResult

	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		link := s.Find(".result__a").First()
		title := strings.Join(strings.Fields(link.Text()), " ")
		if title == "" {
			return true
		}

		href, _ := link.Attr("href")
		results = append(results, SearchResult{
			Title:   title,
			URL:     unwrapRedirect(href),
			Snippet: strings.Join(strings.Fields(s.Find(".result__snippet").First().Text()), " "),
		})
		return len(results) < max
	})

	return results
}

// unwrapRedirect returns the target of a DuckDuckGo /l/?uddg= redirect link
func unwrapRedirect(href string) string {
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}

// FormatSearchResults renders hits as the context block placed ahead of the
// user's question
func FormatSearchResults(query string, results []SearchResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "WEB SEARCH RESULTS FOR: %s\n\n", query)
	for i, r := range results {
		content := r.Snippet
		if len(content) > constants.MaxSearchSnippetChars {
			content = truncateUTF8(content, constants.MaxSearchSnippetChars) + "..."
		}
		fmt.Fprintf(&sb, "RESULT %d:\nTitle: %s\nURL: %s\nContent: %s\n\n", i+1, r.Title, r.URL, content)
	}
	sb.WriteString("Please use these search results to provide accurate information to the user.")
	return sb.String()
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
