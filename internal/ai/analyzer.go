package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"binance-bot-fleet/internal/budget"
	"binance-bot-fleet/internal/metrics"
	"binance-bot-fleet/internal/news"
)

// Sentiment classifications.
const (
	SentimentBullish = "bullish"
	SentimentBearish = "bearish"
	SentimentNeutral = "neutral"
)

// Impact levels, ordered low < medium < high.
const (
	ImpactLow    = "low"
	ImpactMedium = "medium"
	ImpactHigh   = "high"
)

// Urgency horizons, ordered long < short < immediate.
const (
	UrgencyImmediate = "immediate"
	UrgencyShort     = "short"
	UrgencyLong      = "long"
)

// Assessment is the structured result of analyzing a news batch.
type Assessment struct {
	Signal     string   `json:"signal"` // BUY, SELL or HOLD
	Confidence int      `json:"confidence"`
	Sentiment  string   `json:"sentiment"`
	Impact     string   `json:"impact"`
	Urgency    string   `json:"urgency"`
	Tickers    []string `json:"tickers"`
	Reasoning  string   `json:"reasoning"`
}

// ImpactRank maps an impact label to its sort weight.
func ImpactRank(impact string) int {
	switch impact {
	case ImpactHigh:
		return 2
	case ImpactMedium:
		return 1
	}
	return 0
}

// UrgencyRank maps an urgency label to its sort weight.
func UrgencyRank(urgency string) int {
	switch urgency {
	case UrgencyImmediate:
		return 2
	case UrgencyShort:
		return 1
	}
	return 0
}

// holdUnavailable is what callers get on any analyzer failure. Strategies
// rely on Analyze never propagating an error out of a worker tick.
func holdUnavailable() *Assessment {
	return &Assessment{
		Signal:    "HOLD",
		Sentiment: SentimentNeutral,
		Impact:    ImpactLow,
		Urgency:   UrgencyLong,
		Reasoning: "analyzer unavailable",
	}
}

// Analyzer converts article batches into trading assessments. It is
// stateless; every call stands alone.
type Analyzer struct {
	client   *Client
	counters *budget.Counters
	metrics  *metrics.Metrics // Optional; nil disables counting
	logger   zerolog.Logger
}

// NewAnalyzer creates an analyzer on top of an LLM client.
func NewAnalyzer(client *Client, counters *budget.Counters, m *metrics.Metrics, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		client:   client,
		counters: counters,
		metrics:  m,
		logger:   logger.With().Str("component", "ai").Logger(),
	}
}

const systemPrompt = `You are a cryptocurrency market analyst. You receive a batch of news
articles and reply with a single JSON object, no prose, with exactly these fields:
{"signal":"BUY|SELL|HOLD","confidence":0-100,"sentiment":"bullish|bearish|neutral",
"impact":"low|medium|high","urgency":"immediate|short|long",
"tickers":["TICKER",...],"reasoning":"one or two sentences"}
tickers lists the base assets the articles are about (e.g. BTC, SOL).`

// Analyze assesses a batch of articles, optionally focused on one ticker.
// It never returns an error: any transport or parse failure degrades to a
// zero-confidence HOLD.
func (a *Analyzer) Analyze(ctx context.Context, articles []news.Article, ticker string) *Assessment {
	if a.client == nil || !a.client.IsConfigured() || len(articles) == 0 {
		return holdUnavailable()
	}

	// Counted per attempted HTTP call so api_counters.json reflects real
	// upstream usage.
	a.counters.TrySpend(budget.ServiceOpenAI, 0)
	if a.metrics != nil {
		a.metrics.AICallsTotal.Inc()
	}

	text, err := a.client.Complete(ctx, systemPrompt, buildUserPrompt(articles, ticker))
	if err != nil {
		a.logger.Warn().Err(err).Str("ticker", ticker).Msg("LLM call failed")
		return holdUnavailable()
	}

	assessment, err := parseAssessment(text)
	if err != nil {
		a.logger.Warn().Err(err).Str("ticker", ticker).Msg("could not parse LLM response")
		return holdUnavailable()
	}
	return assessment
}

func buildUserPrompt(articles []news.Article, ticker string) string {
	var b strings.Builder
	if ticker != "" {
		fmt.Fprintf(&b, "Focus ticker: %s\n\n", strings.ToUpper(ticker))
	}
	limit := len(articles)
	if limit > 15 {
		limit = 15
	}
	for i := 0; i < limit; i++ {
		art := articles[i]
		fmt.Fprintf(&b, "[%d] %s (%s, %s)\n", i+1, art.Title, art.Source,
			art.PublishedAt.UTC().Format("2006-01-02 15:04"))
		if art.Text != "" {
			snippet := art.Text
			if len(snippet) > 300 {
				snippet = snippet[:300]
			}
			fmt.Fprintf(&b, "%s\n", snippet)
		}
		if len(art.Tickers) > 0 {
			fmt.Fprintf(&b, "tickers: %s\n", strings.Join(art.Tickers, ","))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// parseAssessment extracts the JSON object from the completion text. Models
// occasionally wrap the object in markdown fences or commentary, so we cut
// from the first '{' to the last '}'.
func parseAssessment(text string) (*Assessment, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var raw struct {
		Signal     string   `json:"signal"`
		Confidence int      `json:"confidence"`
		Sentiment  string   `json:"sentiment"`
		Impact     string   `json:"impact"`
		Urgency    string   `json:"urgency"`
		Tickers    []string `json:"tickers"`
		Reasoning  string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	out := &Assessment{
		Signal:     strings.ToUpper(strings.TrimSpace(raw.Signal)),
		Confidence: raw.Confidence,
		Sentiment:  strings.ToLower(strings.TrimSpace(raw.Sentiment)),
		Impact:     strings.ToLower(strings.TrimSpace(raw.Impact)),
		Urgency:    strings.ToLower(strings.TrimSpace(raw.Urgency)),
		Reasoning:  strings.TrimSpace(raw.Reasoning),
	}
	for _, t := range raw.Tickers {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			out.Tickers = append(out.Tickers, t)
		}
	}

	switch out.Signal {
	case "BUY", "SELL", "HOLD":
	default:
		out.Signal = "HOLD"
	}
	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 100 {
		out.Confidence = 100
	}
	switch out.Sentiment {
	case SentimentBullish, SentimentBearish, SentimentNeutral:
	default:
		out.Sentiment = SentimentNeutral
	}
	switch out.Impact {
	case ImpactLow, ImpactMedium, ImpactHigh:
	default:
		out.Impact = ImpactLow
	}
	switch out.Urgency {
	case UrgencyImmediate, UrgencyShort, UrgencyLong:
	default:
		out.Urgency = UrgencyLong
	}
	return out, nil
}
