// Package engine implements the dealer gamma engine: classifying trades
// against the NBBO, pricing them through the Greeks kernel and volatility
// surface cache, and folding the result into the per-strike dealer book.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/eddiefleurent/dealer-gamma-engine/internal/book"
	"github.com/eddiefleurent/dealer-gamma-engine/internal/greeks"
	"github.com/eddiefleurent/dealer-gamma-engine/internal/ingest"
	"github.com/eddiefleurent/dealer-gamma-engine/internal/occ"
	"github.com/eddiefleurent/dealer-gamma-engine/internal/quotecache"
	"github.com/eddiefleurent/dealer-gamma-engine/internal/surface"
	"github.com/eddiefleurent/dealer-gamma-engine/internal/tradestate"
)

// marketCloseHour is the exchange close (and 0DTE settlement instant), in
// the exchange's local time, that anchors time-to-expiry. Using midnight of
// the expiry date instead would make every intraday trade on expiration day
// look already expired.
const marketCloseHour = 16

// defaultBaseIV and defaultSlope match the engine configuration table's
// moneyness-fallback defaults, used when a zero-value Params reaches the
// engine directly (e.g. in tests).
const (
	defaultBaseIV = 0.2
	defaultSlope  = 0.5
)

// fallbackVolFloor and fallbackVolCeiling bound the moneyness-fallback
// volatility formula's output.
const (
	fallbackVolFloor   = 0.05
	fallbackVolCeiling = 3.0
)

// marketLocation is loaded once; a fixed EST offset stands in if the
// platform has no tzdata, which would otherwise make every 0DTE trade fail
// to price.
var marketLocation = loadMarketLocation()

func loadMarketLocation() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*60*60)
	}
	return loc
}

// Side is the resolved customer side of a trade.
type Side int

const (
	// SideUnknown means the trade could not be classified.
	SideUnknown Side = iota
	// SideBuy means the customer bought (dealer sold).
	SideBuy
	// SideSell means the customer sold (dealer bought).
	SideSell
)

// ErrStaleQuote is returned (and counted) when no fresh-enough NBBO exists
// for a trade's symbol.
var ErrStaleQuote = errors.New("engine: no usable quote for symbol")

// ErrBookInvariant names a book-invariant violation when applying a priced
// trade. No code path currently returns it: Book.Apply performs no
// invariant checks.
var ErrBookInvariant = errors.New("engine: book invariant violation")

// ErrMissingSpot is returned when no live underlying quote and no
// startup-snapshot fallback spot is available to price a contract.
var ErrMissingSpot = errors.New("engine: missing underlying spot")

// Params are the pricing constants shared across every trade.
type Params struct {
	RiskFreeRate       float64
	DividendYield      float64
	ContractMultiplier float64
	QuoteStale         time.Duration
	SurfaceTTL         time.Duration
	SurfaceFallbackTTL time.Duration
	MoneynessBucket     float64
	// BaseIV and Slope parameterize the moneyness-fallback volatility used
	// when the IV solver itself fails: sigma = clamp(BaseIV + Slope *
	// |ln(K/S)|, fallbackVolFloor, fallbackVolCeiling).
	BaseIV float64
	Slope  float64
	// SnapshotSpot is the underlying price observed in the startup chain
	// snapshot, used only when no live underlying quote is usable.
	SnapshotSpot float64
	Now          func() time.Time
}

// EngineContext bundles every piece of shared state the engine operates
// on, constructed once at startup and passed in explicitly rather than
// reached for via package-level singletons.
type EngineContext struct {
	Quotes   *quotecache.Cache
	Surface  *surface.Cache
	Book     *book.Book
	Counters *tradestate.Counters
	Params   Params
	SessionID string
}

// NewEngineContext wires a fresh EngineContext, generating a session ID that
// identifies this process run; a restart generates a new ID.
func NewEngineContext(quotes *quotecache.Cache, surf *surface.Cache, b *book.Book, params Params) *EngineContext {
	if params.Now == nil {
		params.Now = time.Now
	}
	if params.BaseIV <= 0 {
		params.BaseIV = defaultBaseIV
	}
	if params.Slope <= 0 {
		params.Slope = defaultSlope
	}
	return &EngineContext{
		Quotes:    quotes,
		Surface:   surf,
		Book:      b,
		Counters:  tradestate.NewCounters(),
		Params:    params,
		SessionID: uuid.New().String(),
	}
}

// Engine drives one trade at a time through classify -> price -> apply.
type Engine struct {
	ctx *EngineContext
}

// New builds an Engine over ctx.
func New(ctx *EngineContext) *Engine {
	return &Engine{ctx: ctx}
}

// HandleTrade processes one ingested trade frame end to end, returning the
// resolved side and any error that caused the trade to be dropped rather
// than applied. A non-nil error here is an expected, counted outcome, not
// a fault — the trade's lifecycle machine always reaches a terminal state.
func (e *Engine) HandleTrade(ctx context.Context, frame ingest.Frame) (Side, error) {
	if !frame.IsTrade() {
		return SideUnknown, fmt.Errorf("engine: frame for %s is not a trade", frame.Symbol)
	}

	sm := tradestate.New()
	ts := time.UnixMilli(frame.Time)

	contract, err := occ.Parse(frame.Symbol)
	if err != nil {
		e.drop(sm, "parse_error")
		return SideUnknown, fmt.Errorf("engine: %w", err)
	}

	bid, ask, ok := e.ctx.Quotes.NBBO(frame.Symbol, e.ctx.Params.Now(), e.ctx.Params.QuoteStale)
	if !ok {
		e.transitionOrDrop(sm, tradestate.Dropped, "no_usable_quote")
		e.ctx.Counters.Record("no_usable_quote")
		return SideUnknown, ErrStaleQuote
	}
	mid := (bid + ask) / 2

	side, condition := classify(frame.Price, bid, ask)
	var toState tradestate.State
	switch side {
	case SideBuy:
		toState = tradestate.ClassifiedBuy
	case SideSell:
		toState = tradestate.ClassifiedSell
	default:
		toState = tradestate.ClassifiedUnknown
	}
	if err := sm.Transition(toState, condition); err != nil {
		return SideUnknown, fmt.Errorf("engine: %w", err)
	}

	if side == SideUnknown {
		e.transitionOrDrop(sm, tradestate.Dropped, "unclassified")
		e.ctx.Counters.Record("unclassified")
		return SideUnknown, nil
	}

	gammaPerContract, usedFallback, priceErr := e.price(ts, contract, mid)
	if priceErr != nil {
		condition := "no_solution"
		if errors.Is(priceErr, ErrMissingSpot) {
			condition = "missing_spot"
		}
		e.transitionOrDrop(sm, tradestate.Dropped, condition)
		e.ctx.Counters.Record(condition)
		return side, priceErr
	}
	if usedFallback {
		e.ctx.Counters.Record("iv_fallback_used")
	}
	if err := sm.Transition(tradestate.Priced, "gamma_evaluated"); err != nil {
		return side, fmt.Errorf("engine: %w", err)
	}

	sign := 1
	if side == SideSell {
		sign = -1
	}
	key := book.Key{Expiry: contract.Expiry.Format("060102"), Right: book.Right(contract.Right), Strike: contract.Strike}
	e.ctx.Book.Apply(key, sign, frame.Size, gammaPerContract, e.ctx.Params.ContractMultiplier)

	if err := sm.Transition(tradestate.Applied, "book_updated"); err != nil {
		return side, fmt.Errorf("engine: %w", err)
	}
	e.ctx.Counters.Record("book_updated")
	return side, nil
}

func (e *Engine) transitionOrDrop(sm *tradestate.Machine, to tradestate.State, condition string) {
	_ = sm.Transition(to, condition)
}

func (e *Engine) drop(sm *tradestate.Machine, condition string) {
	_ = sm.Transition(tradestate.Dropped, condition)
	e.ctx.Counters.Record(condition)
}

// classify resolves the customer side against the full two-tier NBBO rule:
// a print at or through the ask is a BUY and at or through the bid is a
// SELL outright (this also covers a locked market, bid == ask, which the
// mid-only comparison below can't resolve); otherwise the trade is compared
// to the mid, with an exact-mid print left unknown rather than guessed.
func classify(price, bid, ask float64) (Side, string) {
	switch {
	case price >= ask:
		return SideBuy, "nbbo_buy"
	case price <= bid:
		return SideSell, "nbbo_sell"
	}
	mid := (bid + ask) / 2
	switch {
	case price > mid:
		return SideBuy, "nbbo_buy"
	case price < mid:
		return SideSell, "nbbo_sell"
	default:
		return SideUnknown, "nbbo_unknown"
	}
}

// price resolves the per-contract gamma for a trade and reports whether the
// moneyness-fallback volatility (rather than a live solve) was used. It
// first asks the surface cache for a live implied vol, solving fresh if
// needed, falling back to the configured moneyness formula if the solver
// fails on this exact contract.
func (e *Engine) price(ts time.Time, c occ.Contract, marketMid float64) (float64, bool, error) {
	right := greeks.Call
	if c.Right == occ.RightPut {
		right = greeks.Put
	}

	underPx, ok := e.ctx.Quotes.Mid("UNDERLYING", ts, e.ctx.Params.QuoteStale)
	if !ok {
		if e.ctx.Params.SnapshotSpot <= 0 {
			return 0, false, fmt.Errorf("%w: no live or snapshot underlying for %s", ErrMissingSpot, c.Root)
		}
		underPx = e.ctx.Params.SnapshotSpot
	}

	t := yearsToExpiry(c.Expiry, ts)

	exactKey := surface.Key{Symbol: occ.Format(c), Expiry: c.Expiry.Format("060102")}
	if vol, fallback, ok := e.ctx.Surface.Get(exactKey); ok {
		g := greeks.BlackScholes(right, underPx, c.Strike, t, vol, e.ctx.Params.RiskFreeRate, e.ctx.Params.DividendYield)
		return g.Gamma, fallback, nil
	}

	vol, ok := greeks.ImpliedVol(right, marketMid, underPx, c.Strike, t, e.ctx.Params.RiskFreeRate, e.ctx.Params.DividendYield)
	if ok {
		e.ctx.Surface.Put(exactKey, vol, false)
		g := greeks.BlackScholes(right, underPx, c.Strike, t, vol, e.ctx.Params.RiskFreeRate, e.ctx.Params.DividendYield)
		return g.Gamma, false, nil
	}

	bucket := surface.MoneynessBucket(c.Strike, underPx, e.ctx.Params.MoneynessBucket)
	fallbackKey := surface.Key{Expiry: c.Expiry.Format("060102"), Moneyness: bucket}
	if fbVol, _, ok := e.ctx.Surface.Get(fallbackKey); ok {
		g := greeks.BlackScholes(right, underPx, c.Strike, t, fbVol, e.ctx.Params.RiskFreeRate, e.ctx.Params.DividendYield)
		return g.Gamma, true, nil
	}

	fbVol := moneynessFallbackVol(e.ctx.Params.BaseIV, e.ctx.Params.Slope, c.Strike, underPx)
	e.ctx.Surface.Put(fallbackKey, fbVol, true)
	g := greeks.BlackScholes(right, underPx, c.Strike, t, fbVol, e.ctx.Params.RiskFreeRate, e.ctx.Params.DividendYield)
	return g.Gamma, true, nil
}

// moneynessFallbackVol implements the configured fallback formula: sigma =
// clamp(baseIV + slope * |ln(K/S)|, fallbackVolFloor, fallbackVolCeiling).
func moneynessFallbackVol(baseIV, slope, strike, underlying float64) float64 {
	moneyness := math.Abs(math.Log(strike / underlying))
	vol := baseIV + slope*moneyness
	if vol < fallbackVolFloor {
		return fallbackVolFloor
	}
	if vol > fallbackVolCeiling {
		return fallbackVolCeiling
	}
	return vol
}

// yearsToExpiry computes ACT/365 time-to-expiry anchored to the contract's
// settlement instant — market close on the expiry date — not midnight UTC
// of that date. occ.Parse yields the expiry date at UTC midnight; treating
// that instant itself as "expiry" would make every intraday 0DTE trade look
// already expired.
func yearsToExpiry(expiry, now time.Time) float64 {
	settlement := time.Date(expiry.Year(), expiry.Month(), expiry.Day(), marketCloseHour, 0, 0, 0, marketLocation)
	d := settlement.Sub(now)
	if d <= 0 {
		return 0
	}
	return d.Hours() / 24 / 365
}
