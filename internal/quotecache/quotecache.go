// Package quotecache holds the latest NBBO per contract and answers
// staleness-aware mid-price queries for the dealer engine.
package quotecache

import (
	"sync"
	"time"
)

// Quote is the latest observed bid/ask for a contract.
type Quote struct {
	Bid float64
	Ask float64
	TS  time.Time
}

// Mid returns the arithmetic mid of the quote.
func (q Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// usable reports whether both sides of the quote are strictly positive, the
// precondition for treating it as a real two-sided market rather than a
// placeholder or one-sided print.
func (q Quote) usable() bool {
	return q.Bid > 0 && q.Ask > 0
}

// Cache is a mutex-guarded last-quote-wins store, one entry per contract
// symbol.
type Cache struct {
	mu       sync.RWMutex
	quotes   map[string]Quote
	rejected int
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{quotes: make(map[string]Quote)}
}

// Update records a new NBBO observation. Crossed books (bid > ask) and
// observations strictly older than what's on file are rejected; an
// observation with the same timestamp replaces the stored one. A crossed-book
// rejection is counted (see RejectedCount) but never returned as an error
// since an ingest loop should not stall on a single bad tick.
func (c *Cache) Update(symbol string, bid, ask float64, ts time.Time) {
	if bid > ask {
		c.mu.Lock()
		c.rejected++
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.quotes[symbol]; ok && ts.Before(existing.TS) {
		return
	}
	c.quotes[symbol] = Quote{Bid: bid, Ask: ask, TS: ts}
}

// Get returns the latest quote for symbol, if any.
func (c *Cache) Get(symbol string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[symbol]
	return q, ok
}

// NBBO returns the usable bid/ask for symbol: both sides must be strictly
// positive, bid must not exceed ask, and the quote must not be older than
// staleness relative to asOf. Anything else is reported as missing, since a
// one-sided or stale market cannot classify a trade.
func (c *Cache) NBBO(symbol string, asOf time.Time, staleness time.Duration) (bid, ask float64, ok bool) {
	q, found := c.Get(symbol)
	if !found || !q.usable() || q.Bid > q.Ask {
		return 0, 0, false
	}
	if asOf.Sub(q.TS) > staleness {
		return 0, 0, false
	}
	return q.Bid, q.Ask, true
}

// Mid returns the quote's mid price for symbol, failing under the same
// usability conditions as NBBO.
func (c *Cache) Mid(symbol string, asOf time.Time, staleness time.Duration) (float64, bool) {
	bid, ask, ok := c.NBBO(symbol, asOf, staleness)
	if !ok {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// RejectedCount reports how many crossed-book updates have been dropped.
func (c *Cache) RejectedCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rejected
}

// Len reports the number of distinct contracts currently cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}
