package gateway

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/kolwatch/kolwatch/internal/config"
	"github.com/kolwatch/kolwatch/internal/models"
	"log/slog"
)

// Client fetches an account's recent posts from the RSS gateway.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a gateway client.
func NewClient(cfg config.GatewayConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		logger:  logger,
	}
}

// RSS represents the RSS 2.0 feed structure.
type RSS struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Title string    `xml:"title"`
		Items []RSSItem `xml:"item"`
	} `xml:"channel"`
}

// RSSItem represents a single RSS 2.0 item.
type RSSItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	GUID        string `xml:"guid"`
}

// AtomFeed represents the Atom feed structure.
type AtomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Entries []AtomEntry `xml:"entry"`
}

// AtomEntry represents a single Atom entry.
type AtomEntry struct {
	Title     string      `xml:"title"`
	Link      AtomLink    `xml:"link"`
	Content   AtomContent `xml:"content"`
	Published string      `xml:"published"`
	Updated   string      `xml:"updated"`
	ID        string      `xml:"id"`
}

// AtomLink represents an Atom link element.
type AtomLink struct {
	Href string `xml:"href,attr"`
}

// AtomContent represents Atom content.
type AtomContent struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

// FetchPosts fetches the handle's feed and parses the entries into post
// records. Any network or parse error is returned to the caller, which
// records a fetch failure; errors here never abort a whole job.
func (c *Client) FetchPosts(ctx context.Context, handle string) ([]models.Post, error) {
	feedURL := fmt.Sprintf("%s/twitter/user/%s", c.baseURL, handle)

	body, err := c.get(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	items, err := parseFeed(body)
	if err != nil {
		return nil, fmt.Errorf("parse feed for %s: %w", handle, err)
	}

	// Newest first.
	sort.Slice(items, func(i, j int) bool {
		return parsePubDate(items[i].PubDate).After(parsePubDate(items[j].PubDate))
	})

	var posts []models.Post
	for _, item := range items {
		link := strings.TrimSpace(item.Link)
		if link == "" {
			link = strings.TrimSpace(item.GUID)
		}
		if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
			c.logger.Warn("skipping feed item with invalid link", "handle", handle, "link", item.Link)
			continue
		}

		media := ExtractMediaURLs(item.Description)
		content := HTMLToMarkdown(item.Description)

		posts = append(posts, models.Post{
			PostURL:     link,
			Title:       strings.TrimSpace(item.Title),
			Content:     content,
			Kind:        ClassifyKind(content),
			MediaURLs:   media,
			PublishedAt: parsePubDate(item.PubDate),
		})
	}

	c.logger.Debug("parsed feed", "handle", handle, "posts", len(posts))
	return posts, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "kolwatch/1.0")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	return body, nil
}

// parseFeed tries RSS 2.0 first, then falls back to Atom.
func parseFeed(body []byte) ([]RSSItem, error) {
	var rss RSS
	rssErr := xml.Unmarshal(body, &rss)
	if rssErr == nil && len(rss.Channel.Items) > 0 {
		return rss.Channel.Items, nil
	}

	var atom AtomFeed
	atomErr := xml.Unmarshal(body, &atom)
	if atomErr == nil && len(atom.Entries) > 0 {
		items := make([]RSSItem, 0, len(atom.Entries))
		for _, entry := range atom.Entries {
			published := entry.Published
			if published == "" {
				published = entry.Updated
			}
			items = append(items, RSSItem{
				Title:       entry.Title,
				Link:        entry.Link.Href,
				Description: entry.Content.Value,
				PubDate:     published,
				GUID:        entry.ID,
			})
		}
		return items, nil
	}

	if rssErr != nil || atomErr != nil {
		return nil, fmt.Errorf("failed to parse as RSS (%v) or Atom (%v)", rssErr, atomErr)
	}
	return nil, fmt.Errorf("feed parsed successfully but contains no items")
}

// parsePubDate attempts to parse RSS pubDate and Atom date formats.
func parsePubDate(dateStr string) time.Time {
	if dateStr == "" {
		return time.Now()
	}

	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05Z07:00",
		time.RFC1123Z,
		time.RFC1123,
		time.RFC822Z,
		time.RFC822,
		"Mon, 02 Jan 2006 15:04:05 -0700",
		"Mon, 02 Jan 2006 15:04:05 MST",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, dateStr); err == nil {
			return t
		}
	}

	if t, err := time.ParseInLocation("2006-01-02 15:04:05", dateStr, time.UTC); err == nil {
		return t
	}

	return time.Now()
}
