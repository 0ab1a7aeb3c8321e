package exchange

import (
	"sync"
	"time"
)

// candleCache holds recent kline windows keyed by (symbol, interval). All
// workers share one instance; most ticks are served without an API call.
type candleCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]candleEntry
}

type candleEntry struct {
	klines    []Kline
	fetchedAt time.Time
}

func newCandleCache(ttl time.Duration) *candleCache {
	return &candleCache{ttl: ttl, entries: make(map[string]candleEntry)}
}

func candleKey(symbol, interval string) string {
	return symbol + ":" + interval
}

// get returns a cached window when it is fresh and at least limit candles
// long.
func (c *candleCache) get(symbol, interval string, limit int) ([]Kline, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[candleKey(symbol, interval)]
	if !ok || time.Since(e.fetchedAt) > c.ttl || len(e.klines) < limit {
		return nil, false
	}
	return e.klines[len(e.klines)-limit:], true
}

func (c *candleCache) put(symbol, interval string, klines []Kline) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[candleKey(symbol, interval)] = candleEntry{klines: klines, fetchedAt: time.Now()}
}

// symbolCache holds symbol trading metadata with a long TTL; symbol filters
// change rarely.
type symbolCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*SymbolInfo
}

func newSymbolCache(ttl time.Duration) *symbolCache {
	return &symbolCache{ttl: ttl, entries: make(map[string]*SymbolInfo)}
}

func (c *symbolCache) get(symbol string) (*SymbolInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.entries[symbol]
	if !ok || time.Since(info.CachedAt) > c.ttl {
		return nil, false
	}
	return info, true
}

func (c *symbolCache) put(info *SymbolInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[info.Symbol] = info
}
