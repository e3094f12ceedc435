package fx

import (
	"log/slog"
	"sync"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/taxlot/taxlot/date"
	"github.com/taxlot/taxlot/log"
)

// CachedRate is one persisted rate lookup result.
type CachedRate struct {
	Date date.Date       `json:"date"`
	From string          `json:"from"`
	To   string          `json:"to"`
	Rate decimal.Decimal `json:"rate"`
}

// RatesCache persists resolved rates across runs. Historical rates are
// immutable, so entries never expire.
type RatesCache interface {
	Get(d date.Date, from, to string) (decimal.Decimal, bool, error)
	Put(d date.Date, from, to string, rate decimal.Decimal) error
	All() ([]CachedRate, error)
}

// MemRatesCache is a RatesCache that lives only as long as the process.
type MemRatesCache struct {
	mu    sync.Mutex
	rates map[string]CachedRate
}

func NewMemRatesCache() *MemRatesCache {
	return &MemRatesCache{rates: make(map[string]CachedRate)}
}

func (c *MemRatesCache) Get(d date.Date, from, to string) (decimal.Decimal, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rates[pairKey(d, from, to)]
	return r.Rate, ok, nil
}

func (c *MemRatesCache) Put(d date.Date, from, to string, rate decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rates[pairKey(d, from, to)] = CachedRate{d, from, to, rate}
	return nil
}

func (c *MemRatesCache) All() ([]CachedRate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CachedRate, 0, len(c.rates))
	for _, r := range c.rates {
		out = append(out, r)
	}
	sortCachedRates(out)
	return out, nil
}

// CacheStats counts where CachedOracle answers came from.
type CacheStats struct {
	MemoryHits     int
	PersistentHits int
	Misses         int
}

// CachedOracle memoizes an Oracle in process memory, and optionally in a
// persistent RatesCache consulted before the wrapped oracle. Cache failures
// are logged and otherwise ignored; oracle failures are returned unchanged
// and never cached.
type CachedOracle struct {
	Oracle     Oracle
	Persistent RatesCache
	Logger     *slog.Logger

	mem   *cache.Cache
	mu    sync.Mutex
	stats CacheStats
}

func NewCachedOracle(oracle Oracle, persistent RatesCache) *CachedOracle {
	return &CachedOracle{
		Oracle:     oracle,
		Persistent: persistent,
		Logger:     log.Logger(),
		mem:        cache.New(cache.NoExpiration, 0),
	}
}

func (c *CachedOracle) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *CachedOracle) count(f func(s *CacheStats)) {
	c.mu.Lock()
	f(&c.stats)
	c.mu.Unlock()
}

func (c *CachedOracle) Rate(d date.Date, from, to string) (decimal.Decimal, error) {
	from, to = normCurrency(from), normCurrency(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	key := pairKey(d, from, to)
	if v, ok := c.mem.Get(key); ok {
		c.count(func(s *CacheStats) { s.MemoryHits++ })
		return v.(decimal.Decimal), nil
	}

	if c.Persistent != nil {
		rate, ok, err := c.Persistent.Get(d, from, to)
		if err != nil {
			c.Logger.Warn("Rate cache lookup failed", "pair", key, "error", err)
		} else if ok {
			c.count(func(s *CacheStats) { s.PersistentHits++ })
			c.mem.Set(key, rate, cache.NoExpiration)
			return rate, nil
		}
	}

	c.count(func(s *CacheStats) { s.Misses++ })
	rate, err := c.Oracle.Rate(d, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	c.mem.Set(key, rate, cache.NoExpiration)
	if c.Persistent != nil {
		if err := c.Persistent.Put(d, from, to, rate); err != nil {
			c.Logger.Warn("Failed to update exchange rate cache", "pair", key, "error", err)
		}
	}
	return rate, nil
}
