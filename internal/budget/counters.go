// Package budget tracks daily external-API call counters so that shared
// services never exceed their per-day quotas, across process restarts.
package budget

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"binance-bot-fleet/internal/store"
)

// Service identifies a metered upstream.
type Service string

const (
	ServiceCryptoNews Service = "cryptonews"
	ServiceOpenAI     Service = "openai"
)

// counters is the persisted shape of api_counters.json.
type counters struct {
	DateUTC         string `json:"date_utc"` // YYYY-MM-DD
	CryptoNewsCalls int    `json:"cryptonews_calls"`
	OpenAICalls     int    `json:"openai_calls"`
}

// Counters meters daily API usage. Every increment is persisted immediately;
// the counters roll when the UTC date changes.
type Counters struct {
	mu     sync.Mutex
	st     *store.Store
	cur    counters
	logger zerolog.Logger
	now    func() time.Time // Injectable for tests
}

// Load restores counters from disk, resetting them when the persisted UTC day
// has passed.
func Load(st *store.Store, logger zerolog.Logger) (*Counters, error) {
	c := &Counters{
		st:     st,
		logger: logger.With().Str("component", "budget").Logger(),
		now:    time.Now,
	}
	err := st.ReadJSON(store.CountersFile(), &c.cur)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	c.rollIfNeeded()
	return c, nil
}

func (c *Counters) today() string {
	return c.now().UTC().Format("2006-01-02")
}

// rollIfNeeded resets counters when the UTC date has changed. Caller must not
// hold the lock.
func (c *Counters) rollIfNeeded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollLocked()
}

func (c *Counters) rollLocked() {
	today := c.today()
	if c.cur.DateUTC != today {
		if c.cur.DateUTC != "" {
			c.logger.Info().Str("from", c.cur.DateUTC).Str("to", today).Msg("daily counters reset")
		}
		c.cur = counters{DateUTC: today}
		c.persistLocked()
	}
}

// TrySpend consumes one call from the service's daily budget. Returns false
// without side effects when the budget is already exhausted. A limit of zero
// means the service is never called.
func (c *Counters) TrySpend(svc Service, limit int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollLocked()

	switch svc {
	case ServiceCryptoNews:
		if c.cur.CryptoNewsCalls >= limit {
			return false
		}
		c.cur.CryptoNewsCalls++
	case ServiceOpenAI:
		if limit > 0 && c.cur.OpenAICalls >= limit {
			return false
		}
		c.cur.OpenAICalls++
	default:
		return false
	}
	c.persistLocked()
	return true
}

// Used returns today's consumed calls for the service.
func (c *Counters) Used(svc Service) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollLocked()
	switch svc {
	case ServiceCryptoNews:
		return c.cur.CryptoNewsCalls
	case ServiceOpenAI:
		return c.cur.OpenAICalls
	}
	return 0
}

// Flush persists the current counters. Called on shutdown.
func (c *Counters) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.WriteJSONAtomic(store.CountersFile(), &c.cur)
}

func (c *Counters) persistLocked() {
	if err := c.st.WriteJSONAtomic(store.CountersFile(), &c.cur); err != nil {
		c.logger.Error().Err(err).Msg("failed to persist api counters")
	}
}
