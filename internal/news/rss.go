package news

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const coinDeskFeedURL = "https://www.coindesk.com/arc/outboundfeeds/rss/"

// RSSFallback reads the free CoinDesk feed. It costs nothing against the
// daily budget, so it serves as the provider of last resort.
type RSSFallback struct {
	feedURL    string
	httpClient *http.Client
}

// NewRSSFallback creates the CoinDesk RSS fallback fetcher.
func NewRSSFallback(timeout time.Duration) *RSSFallback {
	return &RSSFallback{
		feedURL:    coinDeskFeedURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (r *RSSFallback) Name() string { return "coindesk_rss" }

type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

// FetchGlobal returns the whole feed.
func (r *RSSFallback) FetchGlobal(ctx context.Context) ([]Article, error) {
	return r.fetch(ctx)
}

// FetchTicker returns feed items that mention the ticker in title or body.
// RSS has no ticker metadata, so this is a plain keyword match.
func (r *RSSFallback) FetchTicker(ctx context.Context, ticker string) ([]Article, error) {
	all, err := r.fetch(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToUpper(ticker)
	out := make([]Article, 0)
	for _, a := range all {
		if strings.Contains(strings.ToUpper(a.Title), needle) ||
			strings.Contains(strings.ToUpper(a.Text), needle) {
			a.Tickers = []string{needle}
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *RSSFallback) fetch(ctx context.Context) ([]Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.feedURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rss: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read rss: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rss feed status %d", resp.StatusCode)
	}

	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("parse rss: %w", err)
	}

	articles := make([]Article, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		publishedAt, _ := time.Parse(time.RFC1123Z, item.PubDate)
		if publishedAt.IsZero() {
			publishedAt, _ = time.Parse(time.RFC1123, item.PubDate)
		}
		articles = append(articles, Article{
			Title:       item.Title,
			Text:        item.Description,
			Source:      "CoinDesk",
			URL:         item.Link,
			PublishedAt: publishedAt,
		})
	}
	return articles, nil
}
