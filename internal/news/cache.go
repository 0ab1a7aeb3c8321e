package news

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"binance-bot-fleet/internal/budget"
	"binance-bot-fleet/internal/metrics"
	"binance-bot-fleet/internal/store"
)

// globalKey is the cache key for the all-tickers feed.
const globalKey = "_GLOBAL"

// entry is one cached feed, persisted inside news_cache.json.
type entry struct {
	FetchedAt time.Time `json:"fetched_at"`
	Source    string    `json:"source"`
	Articles  []Article `json:"articles"`
}

// snapshot is the persisted shape of news_cache.json.
type snapshot struct {
	Entries map[string]entry `json:"entries"`
}

// CacheConfig configures the shared cache.
type CacheConfig struct {
	TTL         time.Duration
	DailyBudget int
	Timeout     time.Duration
}

// Cache is the process-wide news cache. Concurrent requests for the same
// key collapse into a single provider call; paid-provider calls are metered
// against the daily budget; the cache snapshot is persisted so a restart
// never re-spends budget.
type Cache struct {
	cfg      CacheConfig
	primary  Fetcher // Paid provider; nil when no API key configured
	fallback []Fetcher
	counters *budget.Counters
	st       *store.Store
	metrics  *metrics.Metrics // Optional; nil disables counting
	logger   zerolog.Logger

	mu      sync.Mutex
	entries map[string]entry
	sf      singleflight.Group
	now     func() time.Time
}

// NewCache builds the cache and restores the persisted snapshot when present.
func NewCache(cfg CacheConfig, primary Fetcher, fallback []Fetcher, counters *budget.Counters, st *store.Store, m *metrics.Metrics, logger zerolog.Logger) *Cache {
	c := &Cache{
		cfg:      cfg,
		primary:  primary,
		fallback: fallback,
		counters: counters,
		st:       st,
		metrics:  m,
		logger:   logger.With().Str("component", "news").Logger(),
		entries:  make(map[string]entry),
		now:      time.Now,
	}
	var snap snapshot
	if err := st.ReadJSON(store.NewsCacheFile(), &snap); err == nil && snap.Entries != nil {
		c.entries = snap.Entries
		c.logger.Info().Int("entries", len(snap.Entries)).Msg("news cache restored from disk")
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn().Err(err).Msg("could not restore news cache")
	}
	return c
}

// GetForTicker returns articles for one ticker, cached or freshly fetched.
func (c *Cache) GetForTicker(ctx context.Context, ticker string) (*Result, error) {
	return c.get(ctx, strings.ToUpper(ticker))
}

// GetGlobal returns the all-crypto feed, cached or freshly fetched.
func (c *Cache) GetGlobal(ctx context.Context) (*Result, error) {
	return c.get(ctx, globalKey)
}

func (c *Cache) get(ctx context.Context, key string) (*Result, error) {
	if res, ok := c.fresh(key); ok {
		return res, nil
	}

	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Another caller may have refreshed while we queued.
		if res, ok := c.fresh(key); ok {
			return res, nil
		}
		return c.refresh(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

// fresh returns the cached entry when it is within TTL.
func (c *Cache) fresh(key string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	age := c.now().Sub(e.FetchedAt)
	if age > c.cfg.TTL {
		return nil, false
	}
	return &Result{Articles: e.Articles, Age: age, Source: e.Source}, true
}

// refresh attempts a budgeted paid fetch, then fallbacks, then stale cache.
func (c *Cache) refresh(ctx context.Context, key string) (*Result, error) {
	if c.primary != nil && c.counters.TrySpend(budget.ServiceCryptoNews, c.cfg.DailyBudget) {
		if c.metrics != nil {
			c.metrics.NewsBudgetSpent.Set(float64(c.counters.Used(budget.ServiceCryptoNews)))
		}
		articles, err := c.fetchFrom(ctx, c.primary, key)
		if err == nil {
			return c.storeEntry(key, c.primary.Name(), articles), nil
		}
		c.logger.Warn().Err(err).Str("key", key).Msg("paid news fetch failed, trying fallbacks")
	} else {
		c.logger.Info().
			Str("key", key).
			Int("used", c.counters.Used(budget.ServiceCryptoNews)).
			Int("budget", c.cfg.DailyBudget).
			Msg("news_budget_exhausted: serving cached or fallback news")

		// Prefer stale cache over burning a free fetch when the budget is
		// the only problem: the stale data is usually richer.
		if res, ok := c.stale(key); ok {
			c.logger.Info().Str("key", key).Dur("age", res.Age).
				Msgf("using cached news (age %dh)", int(res.Age.Hours()))
			return res, nil
		}
	}

	for _, f := range c.fallback {
		articles, err := c.fetchFrom(ctx, f, key)
		if err != nil {
			c.logger.Warn().Err(err).Str("provider", f.Name()).Msg("fallback news fetch failed")
			continue
		}
		if len(articles) == 0 {
			continue
		}
		return c.storeEntry(key, f.Name(), articles), nil
	}

	if res, ok := c.stale(key); ok {
		c.logger.Info().Str("key", key).Dur("age", res.Age).
			Msgf("using cached news (age %dh)", int(res.Age.Hours()))
		return res, nil
	}
	return nil, fmt.Errorf("no news available for %s", key)
}

func (c *Cache) fetchFrom(ctx context.Context, f Fetcher, key string) ([]Article, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	if key == globalKey {
		return f.FetchGlobal(ctx)
	}
	return f.FetchTicker(ctx, key)
}

// stale returns whatever is cached regardless of age.
func (c *Cache) stale(key string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || len(e.Articles) == 0 {
		return nil, false
	}
	return &Result{Articles: e.Articles, Stale: true, Age: c.now().Sub(e.FetchedAt), Source: e.Source}, true
}

func (c *Cache) storeEntry(key, source string, articles []Article) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{FetchedAt: c.now(), Source: source, Articles: articles}
	if c.metrics != nil {
		c.metrics.NewsFetches.WithLabelValues(source).Inc()
	}
	if err := c.persistLocked(); err != nil {
		c.logger.Error().Err(err).Msg("failed to persist news cache")
	}
	return &Result{Articles: articles, Source: source}
}

// persistLocked writes the snapshot to disk. Caller holds mu, so snapshots
// reach disk in update order.
func (c *Cache) persistLocked() error {
	snap := snapshot{Entries: make(map[string]entry, len(c.entries))}
	for k, v := range c.entries {
		snap.Entries[k] = v
	}
	return c.st.WriteJSONAtomic(store.NewsCacheFile(), &snap)
}

// Flush persists the current cache contents. Called on shutdown.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persistLocked()
}
