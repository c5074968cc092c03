package tools

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"voice-assistant/backend/internal/constants"
)

const (
	defaultFeedBase = "https://feeds.bbci.co.uk"
	newsSourceName  = "BBC News"
	maxFeedBytes    = 2 << 20
)

// News categories
const (
	CategoryGeneral       = "general"
	CategoryBusiness      = "business"
	CategoryTechnology    = "technology"
	CategorySports        = "sports"
	CategoryEntertainment = "entertainment"
	CategoryHealth        = "health"
	CategoryScience       = "science"
)

var feedPaths = map[string]string{
	CategoryGeneral:       "/news/rss.xml",
	CategoryTechnology:    "/news/technology/rss.xml",
	CategoryBusiness:      "/news/business/rss.xml",
	CategorySports:        "/news/sport/rss.xml",
	CategoryEntertainment: "/news/entertainment_and_arts/rss.xml",
	CategoryHealth:        "/news/health/rss.xml",
	CategoryScience:       "/news/science_and_environment/rss.xml",
}

var newsKeywords = []string{"news", "headlines", "latest news", "current events", "breaking news"}

// checked in order, first match wins
var categoryKeywords = []struct {
	category string
	words    []string
}{
	{CategoryBusiness, []string{"business", "finance", "economy", "market", "stock"}},
	{CategoryTechnology, []string{"technology", "tech", "ai", "artificial intelligence", "computer"}},
	{CategorySports, []string{"sports", "football", "basketball", "soccer", "baseball"}},
	{CategoryEntertainment, []string{"entertainment", "movie", "music", "celebrity", "hollywood"}},
	{CategoryHealth, []string{"health", "medical", "medicine", "covid", "pandemic"}},
	{CategoryScience, []string{"science", "research", "discovery", "space", "nasa"}},
}

// ErrNoHeadlines is returned when a feed parses but has no items
var ErrNoHeadlines = errors.New("feed has no headlines")

// Headline is one news item
type Headline struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	PublishedAt string `json:"published_at"`
	Source      string `json:"source"`
}

type rssFeed struct {
	Channel struct {
		Items []struct {
			Title       string `xml:"title"`
			Link        string `xml:"link"`
			Description string `xml:"description"`
			PubDate     string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

// News reads category headlines from public RSS feeds
type News struct {
	feedBase   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewNews creates the news skill. An empty feedBase uses the BBC feeds.
func NewNews(feedBase string, logger *zap.Logger) *News {
	if feedBase == "" {
		feedBase = defaultFeedBase
	}
	return &News{
		feedBase:   strings.TrimRight(feedBase, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

func (n *News) Name() string { return SkillNews }

func (n *News) Description() string {
	return "Reads the latest headlines for a news category"
}

// Execute picks a category from the query and formats its top headlines
func (n *News) Execute(ctx context.Context, query string) (string, error) {
	category := DetectNewsCategory(query)
	headlines, err := n.Headlines(ctx, category)
	if err != nil {
		return "", err
	}
	return FormatHeadlines(category, headlines, constants.MaxNewsHeadlines), nil
}

// Headlines fetches and parses one category feed
func (n *News) Headlines(ctx context.Context, category string) ([]Headline, error) {
	path, ok := feedPaths[category]
	if !ok {
		path = feedPaths[CategoryGeneral]
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.feedBase+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", searchUserAgent)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s feed: %w", category, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s feed: HTTP %d", category, resp.StatusCode)
	}

	var feed rssFeed
	if err := xml.NewDecoder(io.LimitReader(resp.Body, maxFeedBytes)).Decode(&feed); err != nil {
		return nil, fmt.Errorf("parse %s feed: %w", category, err)
	}

	headlines := make([]Headline, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = "No title"
		}
		headlines = append(headlines, Headline{
			Title:       title,
			URL:         strings.TrimSpace(item.Link),
			Description: strings.TrimSpace(item.Description),
			PublishedAt: strings.TrimSpace(item.PubDate),
			Source:      newsSourceName,
		})
	}
	if len(headlines) == 0 {
		return nil, ErrNoHeadlines
	}

	n.logger.Info("News headlines retrieved", zap.String("category", category), zap.Int("count", len(headlines)))
	return headlines, nil
}

// IsNewsQuery reports whether the utterance asks for news
func IsNewsQuery(text string) bool {
	return containsAny(padWords(text), newsKeywords)
}

// DetectNewsCategory maps an utterance to a feed category
func DetectNewsCategory(text string) string {
	padded := padWords(text)
	for _, c := range categoryKeywords {
		if containsAny(padded, c.words) {
			return c.category
		}
	}
	return CategoryGeneral
}

// FormatHeadlines renders the top max headlines as a spoken answer
func FormatHeadlines(category string, headlines []Headline, max int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Here are the latest %s news headlines:\n\n", category)
	for i, h := range headlines {
		if i >= max {
			break
		}
		fmt.Fprintf(&sb, "%d. %s - %s\n", i+1, h.Title, h.Source)
	}
	sb.WriteString("\nWould you like me to read any of these articles in detail?")
	return sb.String()
}

// padWords lowercases text, replaces punctuation with spaces and pads both
// ends so keywords can be matched on word boundaries
func padWords(text string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r > 127:
			return r
		}
		return ' '
	}, text)
	return " " + strings.Join(strings.Fields(mapped), " ") + " "
}

func containsAny(padded string, words []string) bool {
	for _, w := range words {
		if strings.Contains(padded, " "+w+" ") {
			return true
		}
	}
	return false
}
