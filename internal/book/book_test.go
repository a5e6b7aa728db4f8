package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func key() Key {
	return Key{Expiry: "260130", Right: RightCall, Strike: 5000}
}

func TestApplyDealerSignIsOppositeCustomer(t *testing.T) {
	b := New()
	b.Apply(key(), 1, 10, 0.002, 100) // customer buys 10

	e, ok := b.Get(key())
	assert.True(t, ok)
	assert.Equal(t, int64(10), e.NetCustomerContracts)
	// Dealer is short 10 contracts of gamma -> negative dealer gamma contribution.
	assert.Less(t, e.CumGammaWeighted, 0.0)
}

func TestApplyAccumulates(t *testing.T) {
	b := New()
	b.Apply(key(), 1, 5, 0.002, 100)
	b.Apply(key(), -1, 3, 0.002, 100)

	e, _ := b.Get(key())
	assert.Equal(t, int64(2), e.NetCustomerContracts)
}

func TestApplyZeroGammaStillUpdatesPosition(t *testing.T) {
	b := New()
	b.Apply(key(), 1, 4, 0, 100) // expired contract, gamma defined as zero

	e, _ := b.Get(key())
	assert.Equal(t, int64(4), e.NetCustomerContracts)
	assert.Equal(t, 0.0, e.CumGammaWeighted)
}

func TestAggregateGammaSumsAllStrikes(t *testing.T) {
	b := New()
	k1 := Key{Expiry: "260130", Right: RightCall, Strike: 5000}
	k2 := Key{Expiry: "260130", Right: RightPut, Strike: 4950}
	b.Apply(k1, 1, 10, 0.002, 100)
	b.Apply(k2, -1, 5, 0.003, 100)

	total := b.AggregateGamma()
	e1, _ := b.Get(k1)
	e2, _ := b.Get(k2)
	assert.InDelta(t, e1.CumGammaWeighted+e2.CumGammaWeighted, total, 1e-9)
}

func TestByStrikeIsSorted(t *testing.T) {
	b := New()
	b.Apply(Key{Expiry: "260130", Right: RightCall, Strike: 5010}, 1, 1, 0.001, 100)
	b.Apply(Key{Expiry: "260130", Right: RightCall, Strike: 4990}, 1, 1, 0.001, 100)

	rows := b.ByStrike()
	assert.Len(t, rows, 2)
	assert.Equal(t, 4990.0, rows[0].Key.Strike)
	assert.Equal(t, 5010.0, rows[1].Key.Strike)
}
