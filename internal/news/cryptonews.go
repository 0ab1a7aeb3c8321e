package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const cryptoNewsBaseURL = "https://cryptonews-api.com/api/v1"

// CryptoNewsClient fetches from the paid CryptoNews API. Calls through this
// client are metered against the daily budget by the cache, not here.
type CryptoNewsClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewCryptoNewsClient creates a client for the paid provider.
func NewCryptoNewsClient(apiKey string, timeout time.Duration) *CryptoNewsClient {
	return &CryptoNewsClient{
		apiKey:     apiKey,
		baseURL:    cryptoNewsBaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *CryptoNewsClient) Name() string { return "cryptonews" }

type cryptoNewsResponse struct {
	Data []struct {
		NewsURL    string   `json:"news_url"`
		Title      string   `json:"title"`
		Text       string   `json:"text"`
		SourceName string   `json:"source_name"`
		Date       string   `json:"date"`
		Tickers    []string `json:"tickers"`
		Sentiment  string   `json:"sentiment"`
	} `json:"data"`
}

// FetchTicker fetches latest articles mentioning the ticker.
func (c *CryptoNewsClient) FetchTicker(ctx context.Context, ticker string) ([]Article, error) {
	q := url.Values{}
	q.Set("tickers", ticker)
	q.Set("items", "20")
	q.Set("token", c.apiKey)
	return c.fetch(ctx, fmt.Sprintf("%s?%s", c.baseURL, q.Encode()))
}

// FetchGlobal fetches latest articles across all tickers.
func (c *CryptoNewsClient) FetchGlobal(ctx context.Context) ([]Article, error) {
	q := url.Values{}
	q.Set("section", "alltickers")
	q.Set("items", "20")
	q.Set("token", c.apiKey)
	return c.fetch(ctx, fmt.Sprintf("%s/category?%s", c.baseURL, q.Encode()))
}

func (c *CryptoNewsClient) fetch(ctx context.Context, endpoint string) ([]Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch news: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read news response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news API status %d: %s", resp.StatusCode, string(body))
	}

	var parsed cryptoNewsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse news response: %w", err)
	}

	articles := make([]Article, 0, len(parsed.Data))
	for _, item := range parsed.Data {
		publishedAt, _ := time.Parse(time.RFC1123Z, item.Date)
		articles = append(articles, Article{
			Title:       item.Title,
			Text:        item.Text,
			Source:      item.SourceName,
			URL:         item.NewsURL,
			Tickers:     item.Tickers,
			Sentiment:   item.Sentiment,
			PublishedAt: publishedAt,
		})
	}
	return articles, nil
}
