package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/dealer-gamma-engine/internal/book"
	"github.com/eddiefleurent/dealer-gamma-engine/internal/ingest"
	"github.com/eddiefleurent/dealer-gamma-engine/internal/quotecache"
	"github.com/eddiefleurent/dealer-gamma-engine/internal/surface"
)

// testNow and testExpiryDigits are pinned so time-to-expiry is deterministic:
// testNow is 10:00 in the exchange's own location, and the symbol's expiry
// date digits name that same calendar day, putting settlement (16:00,
// marketCloseHour) exactly 6 hours out.
var testNow = time.Date(2026, 1, 15, 10, 0, 0, 0, marketLocation)

const testExpiryDigits = "260115"

func newTestEngine(now time.Time) (*Engine, *EngineContext) {
	quotes := quotecache.New()
	surf := surface.New(surface.Config{Now: func() time.Time { return now }})
	bk := book.New()
	params := Params{
		ContractMultiplier: 100,
		QuoteStale:         5 * time.Second,
		MoneynessBucket:    25,
		BaseIV:             0.2,
		Slope:              0.5,
		Now:                func() time.Time { return now },
	}
	ctx := NewEngineContext(quotes, surf, bk, params)
	return New(ctx), ctx
}

func tradeFrame(symbol string, price float64, size int64, ts time.Time) ingest.Frame {
	return ingest.Frame{Event: "T", Symbol: symbol, Price: price, Size: size, Time: ts.UnixMilli()}
}

func TestHandleTradeATMCallClassifiesBuyAndAppliesBook(t *testing.T) {
	symbol := "SPXW" + testExpiryDigits + "C05000000"

	e, ctx := newTestEngine(testNow)
	ctx.Quotes.Update(symbol, 10.0, 10.5, testNow)
	ctx.Quotes.Update("UNDERLYING", 4999.0, 5001.0, testNow)

	side, err := e.HandleTrade(context.Background(), tradeFrame(symbol, 10.5, 5, testNow))
	require.NoError(t, err)
	assert.Equal(t, SideBuy, side)

	key := book.Key{Expiry: testExpiryDigits, Right: book.RightCall, Strike: 5000}
	entry, ok := ctx.Book.Get(key)
	require.True(t, ok)
	assert.Equal(t, int64(5), entry.NetCustomerContracts)
	assert.NotZero(t, entry.CumGammaWeighted)
}

func TestHandleTradeExactMidIsUnknownAndNotApplied(t *testing.T) {
	symbol := "SPXW" + testExpiryDigits + "C05000000"

	e, ctx := newTestEngine(testNow)
	ctx.Quotes.Update(symbol, 10.0, 10.5, testNow)
	ctx.Quotes.Update("UNDERLYING", 4999.0, 5001.0, testNow)

	side, err := e.HandleTrade(context.Background(), tradeFrame(symbol, 10.25, 5, testNow))
	require.NoError(t, err)
	assert.Equal(t, SideUnknown, side)

	key := book.Key{Expiry: testExpiryDigits, Right: book.RightCall, Strike: 5000}
	_, ok := ctx.Book.Get(key)
	assert.False(t, ok)
}

func TestHandleTradeLockedMarketPrintAtAskIsBuy(t *testing.T) {
	// A locked quote (bid == ask) can't be resolved by the mid-only rule
	// (price == mid whenever price == bid == ask); the price >= ask check
	// must resolve it as a BUY outright.
	symbol := "SPXW" + testExpiryDigits + "C05000000"

	e, ctx := newTestEngine(testNow)
	ctx.Quotes.Update(symbol, 10.0, 10.0, testNow)
	ctx.Quotes.Update("UNDERLYING", 4999.0, 5001.0, testNow)

	side, err := e.HandleTrade(context.Background(), tradeFrame(symbol, 10.0, 3, testNow))
	require.NoError(t, err)
	assert.Equal(t, SideBuy, side)
}

func TestHandleTradeStaleQuoteDropsWithError(t *testing.T) {
	symbol := "SPXW" + testExpiryDigits + "C05000000"

	e, ctx := newTestEngine(testNow)
	ctx.Quotes.Update(symbol, 10.0, 10.5, testNow.Add(-time.Hour))

	_, err := e.HandleTrade(context.Background(), tradeFrame(symbol, 10.5, 5, testNow))
	assert.ErrorIs(t, err, ErrStaleQuote)
}

func TestHandleTradePutGetsSoldClassification(t *testing.T) {
	symbol := "SPXW" + testExpiryDigits + "P04950000"

	e, ctx := newTestEngine(testNow)
	ctx.Quotes.Update(symbol, 8.0, 8.5, testNow)
	ctx.Quotes.Update("UNDERLYING", 4999.0, 5001.0, testNow)

	side, err := e.HandleTrade(context.Background(), tradeFrame(symbol, 8.0, 2, testNow))
	require.NoError(t, err)
	assert.Equal(t, SideSell, side)
}

func TestHandleTradeMissingUnderlyingSpotDropsWithCounter(t *testing.T) {
	symbol := "SPXW" + testExpiryDigits + "C05000000"

	e, ctx := newTestEngine(testNow)
	ctx.Quotes.Update(symbol, 10.0, 10.5, testNow)
	// No "UNDERLYING" quote and no snapshot fallback configured.

	_, err := e.HandleTrade(context.Background(), tradeFrame(symbol, 10.5, 5, testNow))
	assert.ErrorIs(t, err, ErrMissingSpot)
	assert.Equal(t, int64(1), ctx.Counters.Snapshot()["missing_spot"])

	key := book.Key{Expiry: testExpiryDigits, Right: book.RightCall, Strike: 5000}
	_, ok := ctx.Book.Get(key)
	assert.False(t, ok)
}

func TestHandleTradeFallsBackToSnapshotSpotWhenNoLiveUnderlying(t *testing.T) {
	symbol := "SPXW" + testExpiryDigits + "C05000000"

	quotes := quotecache.New()
	surf := surface.New(surface.Config{Now: func() time.Time { return testNow }})
	bk := book.New()
	params := Params{
		ContractMultiplier: 100,
		QuoteStale:         5 * time.Second,
		MoneynessBucket:    25,
		BaseIV:             0.2,
		Slope:              0.5,
		SnapshotSpot:       5000,
		Now:                func() time.Time { return testNow },
	}
	ctx := NewEngineContext(quotes, surf, bk, params)
	e := New(ctx)

	ctx.Quotes.Update(symbol, 10.0, 10.5, testNow)

	side, err := e.HandleTrade(context.Background(), tradeFrame(symbol, 10.5, 5, testNow))
	require.NoError(t, err)
	assert.Equal(t, SideBuy, side)

	key := book.Key{Expiry: testExpiryDigits, Right: book.RightCall, Strike: 5000}
	entry, ok := ctx.Book.Get(key)
	require.True(t, ok)
	assert.NotZero(t, entry.CumGammaWeighted)
}

func TestHandleTradeRejectsNonTradeFrame(t *testing.T) {
	e, _ := newTestEngine(testNow)
	_, err := e.HandleTrade(context.Background(), ingest.Frame{Event: "Q"})
	assert.Error(t, err)
}

func TestHandleTradeUsesMoneynessFallbackFormulaWhenSolverFails(t *testing.T) {
	// A 255-wide mid on a 5100 strike against ~5000 spot and six hours to
	// expiry is unreachable by any volatility in the solver's search range
	// (its ceiling at vol=5.0 prices this contract under 220), and nothing
	// has primed the exact-contract or moneyness-bucket surface cache, so
	// price() must fall through to computing the fallback formula fresh.
	symbol := "SPXW" + testExpiryDigits + "C05100000"

	e, ctx := newTestEngine(testNow)
	ctx.Quotes.Update(symbol, 250.0, 260.0, testNow)
	ctx.Quotes.Update("UNDERLYING", 4999.0, 5001.0, testNow)

	side, err := e.HandleTrade(context.Background(), tradeFrame(symbol, 260.0, 1, testNow))
	require.NoError(t, err)
	assert.Equal(t, SideBuy, side)
	assert.Equal(t, int64(1), ctx.Counters.Snapshot()["iv_fallback_used"])

	key := book.Key{Expiry: testExpiryDigits, Right: book.RightCall, Strike: 5100}
	entry, ok := ctx.Book.Get(key)
	require.True(t, ok)
	assert.NotZero(t, entry.CumGammaWeighted)
}

func TestClassifyTwoTierRule(t *testing.T) {
	side, cond := classify(10.6, 10.0, 10.5)
	assert.Equal(t, SideBuy, side)
	assert.Equal(t, "nbbo_buy", cond)

	side, cond = classify(9.9, 10.0, 10.5)
	assert.Equal(t, SideSell, side)
	assert.Equal(t, "nbbo_sell", cond)

	side, _ = classify(10.25, 10.0, 10.5)
	assert.Equal(t, SideUnknown, side)

	side, _ = classify(10.0, 10.0, 10.0)
	assert.Equal(t, SideBuy, side) // locked market, price >= ask
}

func TestYearsToExpiryAnchoredToMarketClose(t *testing.T) {
	expiry, err := time.Parse("060102", testExpiryDigits)
	require.NoError(t, err)

	tYears := yearsToExpiry(expiry, testNow)
	wantYears := (6 * time.Hour).Hours() / 24 / 365
	assert.InDelta(t, wantYears, tYears, 1e-9)
}

func TestYearsToExpiryIsZeroAfterSettlement(t *testing.T) {
	expiry, err := time.Parse("060102", testExpiryDigits)
	require.NoError(t, err)

	afterClose := testNow.Add(7 * time.Hour)
	assert.Zero(t, yearsToExpiry(expiry, afterClose))
}

func TestMoneynessFallbackVolClampsToRange(t *testing.T) {
	assert.InDelta(t, fallbackVolCeiling, moneynessFallbackVol(0.2, 0.5, 1_000_000, 1), 1e-9)
	assert.InDelta(t, 0.2, moneynessFallbackVol(0.2, 0.5, 5000, 5000), 1e-9)
}
