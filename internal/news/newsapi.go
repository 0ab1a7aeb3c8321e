package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const newsAPIBaseURL = "https://newsapi.org/v2/everything"

// NewsAPIFallback is the optional secondary provider, used only when the
// paid provider cannot be called. It is not metered.
type NewsAPIFallback struct {
	apiKey     string
	httpClient *http.Client
}

// NewNewsAPIFallback creates a NewsAPI fetcher.
func NewNewsAPIFallback(apiKey string, timeout time.Duration) *NewsAPIFallback {
	return &NewsAPIFallback{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (n *NewsAPIFallback) Name() string { return "newsapi" }

type newsAPIResponse struct {
	Status   string `json:"status"`
	Articles []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

// FetchTicker queries NewsAPI for articles mentioning the ticker.
func (n *NewsAPIFallback) FetchTicker(ctx context.Context, ticker string) ([]Article, error) {
	return n.fetch(ctx, ticker+" crypto", strings.ToUpper(ticker))
}

// FetchGlobal queries NewsAPI for general cryptocurrency coverage.
func (n *NewsAPIFallback) FetchGlobal(ctx context.Context) ([]Article, error) {
	return n.fetch(ctx, "cryptocurrency", "")
}

func (n *NewsAPIFallback) fetch(ctx context.Context, query, ticker string) ([]Article, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("pageSize", "20")
	q.Set("sortBy", "publishedAt")
	q.Set("apiKey", n.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, newsAPIBaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch newsapi: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read newsapi response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("newsapi status %d: %s", resp.StatusCode, string(body))
	}

	var parsed newsAPIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse newsapi response: %w", err)
	}

	articles := make([]Article, 0, len(parsed.Articles))
	for _, item := range parsed.Articles {
		publishedAt, _ := time.Parse(time.RFC3339, item.PublishedAt)
		a := Article{
			Title:       item.Title,
			Text:        item.Description,
			Source:      item.Source.Name,
			URL:         item.URL,
			PublishedAt: publishedAt,
		}
		if ticker != "" {
			a.Tickers = []string{ticker}
		}
		articles = append(articles, a)
	}
	return articles, nil
}
