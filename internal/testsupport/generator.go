// Package testsupport generates synthetic trade and quote fixtures for
// tests. The ingest and engine tests build their own fixtures and do not
// use it.
package testsupport

import (
	"crypto/rand"
	"encoding/binary"
	"math/big"
	mrand "math/rand"
	"time"
)

// Generator produces pseudo-random trade/quote fixtures. In deterministic
// mode it is driven by a seeded math/rand source for reproducible test
// runs; otherwise it draws from crypto/rand so fuzz-style tests don't share
// state across runs.
type Generator struct {
	deterministic bool
	rng           *mrand.Rand
}

// NewDeterministic returns a Generator seeded for reproducible output.
func NewDeterministic(seed int64) *Generator {
	return &Generator{deterministic: true, rng: mrand.New(mrand.NewSource(seed))}
}

// NewSecure returns a Generator backed by crypto/rand.
func NewSecure() *Generator {
	return &Generator{deterministic: false}
}

func (g *Generator) randomFloat64() float64 {
	if g.deterministic {
		return g.rng.Float64()
	}
	return g.secureFloat64()
}

func (g *Generator) randomInt63n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	if g.deterministic {
		return g.rng.Int63n(n)
	}
	return g.secureInt63n(n)
}

func (g *Generator) secureFloat64() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0.5
	}
	u := binary.BigEndian.Uint64(buf[:]) >> 11
	return float64(u) / (1 << 53)
}

func (g *Generator) secureInt63n(n int64) int64 {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0
	}
	return v.Int64()
}

// Trade is a synthetic trade fixture, shaped like the wire frame in
// internal/ingest.
type Trade struct {
	Symbol string
	Price  float64
	Size   int64
	TS     time.Time
}

// Quote is a synthetic NBBO fixture.
type Quote struct {
	Symbol string
	Bid    float64
	Ask    float64
	TS     time.Time
}

// TradeNearMid builds a trade priced at an offset from the quote's mid,
// useful for covering buy/sell/unknown classification in one helper:
// offset=0 lands exactly on mid (unknown), positive lands toward the ask
// (buy), negative toward the bid (sell).
func (g *Generator) TradeNearMid(symbol string, q Quote, offsetFraction float64, size int64, ts time.Time) Trade {
	mid := (q.Bid + q.Ask) / 2
	spread := q.Ask - q.Bid
	price := mid + offsetFraction*spread/2
	return Trade{Symbol: symbol, Price: price, Size: size, TS: ts}
}

// RandomQuote builds a quote with a bid/ask spread around center, jittered
// by this generator's source.
func (g *Generator) RandomQuote(symbol string, center, halfSpread float64, ts time.Time) Quote {
	jitter := (g.randomFloat64() - 0.5) * halfSpread
	mid := center + jitter
	return Quote{Symbol: symbol, Bid: mid - halfSpread, Ask: mid + halfSpread, TS: ts}
}

// RandomSize returns a contract size in [1, max].
func (g *Generator) RandomSize(max int64) int64 {
	return 1 + g.randomInt63n(max)
}
