package domain

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lvl(price, qty string) BookLevel {
	return BookLevel{Price: MustDec(price), Quantity: MustDec(qty)}
}

func TestOrderBook_MidAndSpread(t *testing.T) {
	ob := OrderBook{
		TokenID: "tok",
		Bids:    []BookLevel{lvl("100", "1000"), lvl("99.99", "800")},
		Asks:    []BookLevel{lvl("101", "500"), lvl("101.01", "400")},
	}
	mid, ok := ob.Mid()
	require.True(t, ok)
	assert.True(t, mid.Equal(MustDec("100.5")))

	bps, ok := ob.SpreadBps()
	require.True(t, ok)
	assert.InDelta(t, 99.50, bps, 0.01)
	assert.NoError(t, ob.Validate())
}

func TestOrderBook_EmptySides(t *testing.T) {
	ob := OrderBook{Bids: []BookLevel{lvl("0.4", "10")}}
	_, ok := ob.Mid()
	assert.False(t, ok)
	_, ok = ob.SpreadBps()
	assert.False(t, ok)
	assert.NoError(t, ob.Validate())
}

func TestOrderBook_ValidateCrossed(t *testing.T) {
	ob := OrderBook{
		Bids: []BookLevel{lvl("0.55", "10")},
		Asks: []BookLevel{lvl("0.50", "10")},
	}
	err := ob.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCrossedBook))
	assert.Equal(t, KindAPI, KindOf(err))
}

func TestOrderBook_NormalizeSortsAndDropsEmpty(t *testing.T) {
	ob := OrderBook{
		Bids: []BookLevel{lvl("0.40", "5"), lvl("0.45", "0"), lvl("0.42", "3")},
		Asks: []BookLevel{lvl("0.60", "5"), lvl("0.55", "3")},
	}
	ob.Normalize()
	require.Len(t, ob.Bids, 2)
	assert.True(t, ob.Bids[0].Price.Equal(MustDec("0.42")))
	assert.True(t, ob.Asks[0].Price.Equal(MustDec("0.55")))
}

// Para cualquier book no cruzado: bid < ask, spread >= 0, mid estrictamente entre ambos.
func TestOrderBook_InvariantsRandomBooks(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		bid := 0.01 + rng.Float64()*0.9
		ask := bid + 0.001 + rng.Float64()*0.05
		ob := OrderBook{
			Bids: []BookLevel{{Price: Dec(bid).Round(4), Quantity: Dec(10)}},
			Asks: []BookLevel{{Price: Dec(ask).Round(4), Quantity: Dec(10)}},
		}
		b, _ := ob.BestBid()
		a, _ := ob.BestAsk()
		if !b.Price.LessThan(a.Price) {
			continue
		}
		require.NoError(t, ob.Validate())
		mid, ok := ob.Mid()
		require.True(t, ok)
		assert.True(t, mid.GreaterThan(b.Price) && mid.LessThan(a.Price))
		bps, ok := ob.SpreadBps()
		require.True(t, ok)
		assert.GreaterOrEqual(t, bps, 0.0)
	}
}

func TestMarket_OutcomeHelpers(t *testing.T) {
	m := Market{
		ID: "c1",
		Tokens: []Token{
			{TokenID: "y", Outcome: "Yes", Price: MustDec("0.45")},
			{TokenID: "n", Outcome: "No", Price: MustDec("0.53")},
		},
	}
	assert.True(t, m.IsBinary())
	assert.True(t, m.OutcomeSum().Equal(MustDec("0.98")))
	no, ok := m.NoToken()
	require.True(t, ok)
	assert.Equal(t, "n", no.TokenID)
	assert.True(t, m.YesPrice().Equal(MustDec("0.45")))
}

func TestKindOf_WrapsSentinels(t *testing.T) {
	err := E(KindExecution, "paper.Buy", ErrInsufficientBalance)
	assert.True(t, errors.Is(err, ErrInsufficientBalance))
	assert.Equal(t, KindExecution, KindOf(err))
	assert.Equal(t, KindNumeric, KindOf(ErrSingularMatrix))
	assert.True(t, IsKind(Errorf(KindConfig, "config.Load", "missing %s", "x"), KindConfig))
}
