package strategy

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"binance-bot-fleet/internal/ai"
	"binance-bot-fleet/internal/news"
	"binance-bot-fleet/internal/store"
)

// newsAuto hunts the global news feed for the most actionable ticker and
// recommends rotating the bot onto it. While a position is open the bot is
// locked to its symbol and this strategy behaves exactly like the
// fixed-ticker news strategy.
type newsAuto struct {
	deps Deps
}

func (s *newsAuto) Kind() store.StrategyKind { return store.StrategyNewsAuto }
func (s *newsAuto) Interval() string         { return "15m" }

// candidate is one ticker pulled from the global feed with its assessment.
type candidate struct {
	ticker     string
	symbol     string
	assessment *ai.Assessment
}

func (s *newsAuto) Analyze(ctx context.Context, tc *Context) (*Signal, error) {
	if tc.Position != nil {
		// Symbol is locked while holding; trade the news for it only.
		ticker := baseTicker(tc.Symbol)
		res, err := s.deps.News.GetForTicker(ctx, ticker)
		if err != nil {
			return hold(fmt.Sprintf("no news for %s: %v", ticker, err)), nil
		}
		return decideWithNews(tc, s.deps.Assessor.Analyze(ctx, res.Articles, ticker)), nil
	}

	res, err := s.deps.News.GetGlobal(ctx)
	if err != nil {
		return hold(fmt.Sprintf("no global news: %v", err)), nil
	}

	overall := s.deps.Assessor.Analyze(ctx, res.Articles, "")
	tickers := collectTickers(res, overall)
	if len(tickers) == 0 {
		return hold("global news names no tickers"), nil
	}

	best := s.pickBest(ctx, tc, tickers, overall)
	if best == nil {
		return hold("no actionable tradeable ticker in global news"), nil
	}

	sig := &Signal{
		Action:     ActionBuy,
		Confidence: best.assessment.Confidence,
		Reason:     fmt.Sprintf("rotating to %s: %s", best.symbol, best.assessment.Reasoning),
	}
	if !strings.EqualFold(best.symbol, tc.Symbol) {
		sig.RecommendedSymbol = best.symbol
	}
	return sig, nil
}

// collectTickers merges tickers named by articles and by the AI, deduped
// and capped so one tick never fans out into dozens of assessments.
func collectTickers(res *news.Result, overall *ai.Assessment) []string {
	const maxCandidates = 5
	seen := make(map[string]bool)
	out := make([]string, 0, maxCandidates)
	add := func(t string) {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || t == "USDT" || seen[t] || len(out) >= maxCandidates {
			return
		}
		seen[t] = true
		out = append(out, t)
	}
	for _, t := range overall.Tickers {
		add(t)
	}
	for _, a := range res.Articles {
		for _, t := range a.Tickers {
			add(t)
		}
	}
	return out
}

// pickBest assesses each candidate ticker, drops untradeable pairs, and
// ranks by confidence, then impact, then urgency.
func (s *newsAuto) pickBest(ctx context.Context, tc *Context, tickers []string, overall *ai.Assessment) *candidate {
	candidates := make([]candidate, 0, len(tickers))
	for _, ticker := range tickers {
		symbol := ticker + "USDT"
		info, err := s.deps.Validator.GetSymbolInfo(ctx, symbol)
		if err != nil || info == nil || !info.Tradeable {
			continue
		}

		var a *ai.Assessment
		if strings.EqualFold(symbol, tc.Symbol) && overall.Signal == "BUY" {
			a = overall
		} else {
			res, err := s.deps.News.GetForTicker(ctx, ticker)
			if err != nil {
				continue
			}
			a = s.deps.Assessor.Analyze(ctx, res.Articles, ticker)
		}
		if a.Signal != "BUY" || a.Confidence < 70 {
			continue
		}
		candidates = append(candidates, candidate{ticker: ticker, symbol: symbol, assessment: a})
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].assessment, candidates[j].assessment
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if ai.ImpactRank(a.Impact) != ai.ImpactRank(b.Impact) {
			return ai.ImpactRank(a.Impact) > ai.ImpactRank(b.Impact)
		}
		return ai.UrgencyRank(a.Urgency) > ai.UrgencyRank(b.Urgency)
	})
	return &candidates[0]
}
