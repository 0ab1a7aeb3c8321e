// Package news provides the shared, budget-limited crypto news cache that
// all workers consume.
package news

import (
	"context"
	"time"
)

// Article is one news item, normalized across providers.
type Article struct {
	Title       string    `json:"title"`
	Text        string    `json:"text,omitempty"`
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	Tickers     []string  `json:"tickers,omitempty"`
	Sentiment   string    `json:"sentiment,omitempty"` // Provider hint, may be empty
	PublishedAt time.Time `json:"published_at"`
}

// Result is what the cache hands to callers. Stale results are explicitly
// flagged so callers can log the age.
type Result struct {
	Articles []Article     `json:"articles"`
	Stale    bool          `json:"stale"`
	Age      time.Duration `json:"age"`
	Source   string        `json:"source"`
}

// Fetcher is a news provider.
type Fetcher interface {
	Name() string
	FetchTicker(ctx context.Context, ticker string) ([]Article, error)
	FetchGlobal(ctx context.Context) ([]Article, error)
}
