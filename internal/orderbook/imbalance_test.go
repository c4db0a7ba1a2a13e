package orderbook_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/orderbook"
)

func lvl(price, qty string) domain.BookLevel {
	return domain.BookLevel{Price: domain.MustDec(price), Quantity: domain.MustDec(qty)}
}

func buyPressureBook() domain.OrderBook {
	return domain.OrderBook{
		TokenID: "tok",
		Bids:    []domain.BookLevel{lvl("100", "1000"), lvl("99.99", "800"), lvl("99.98", "600")},
		Asks:    []domain.BookLevel{lvl("101", "500"), lvl("101.01", "400"), lvl("101.02", "300")},
	}
}

func TestComputeImbalance_BuyPressure(t *testing.T) {
	imb, ok := orderbook.ComputeImbalance(buyPressureBook(), 10, 0.8, 0.15)
	require.True(t, ok)

	assert.Greater(t, imb.Simple, 0.0)
	assert.InDelta(t, 1.0/3.0, imb.Simple, 1e-9)
	assert.Equal(t, orderbook.Up, imb.Direction)
	assert.InDelta(t, 99.5, imb.SpreadBps, 0.01)
	assert.InDelta(t, imb.Average, imb.Confidence, 1e-12)
}

func TestComputeImbalance_SellPressure(t *testing.T) {
	ob := domain.OrderBook{
		Bids: []domain.BookLevel{lvl("0.48", "100")},
		Asks: []domain.BookLevel{lvl("0.52", "900"), lvl("0.53", "500")},
	}
	imb, ok := orderbook.ComputeImbalance(ob, 10, 0.8, 0.15)
	require.True(t, ok)
	assert.Less(t, imb.Simple, 0.0)
	assert.Equal(t, orderbook.Down, imb.Direction)
}

func TestComputeImbalance_EmptyBook(t *testing.T) {
	_, ok := orderbook.ComputeImbalance(domain.OrderBook{}, 10, 0.8, 0.15)
	assert.False(t, ok)

	_, ok = orderbook.ComputeImbalance(domain.OrderBook{Bids: []domain.BookLevel{lvl("0.5", "1")}}, 10, 0.8, 0.15)
	assert.False(t, ok)
}

func TestComputeImbalance_RangeAndSymmetry(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 300; i++ {
		n := 1 + rng.Intn(10)
		var ob domain.OrderBook
		for j := 0; j < n; j++ {
			ob.Bids = append(ob.Bids, domain.BookLevel{
				Price:    domain.Dec(0.49 - float64(j)*0.01),
				Quantity: domain.Dec(1 + rng.Float64()*1000).Round(2),
			})
			ob.Asks = append(ob.Asks, domain.BookLevel{
				Price:    domain.Dec(0.51 + float64(j)*0.01),
				Quantity: domain.Dec(1 + rng.Float64()*1000).Round(2),
			})
		}
		imb, ok := orderbook.ComputeImbalance(ob, 10, 0.8, 0.15)
		require.True(t, ok)
		for _, v := range []float64{imb.Simple, imb.Weighted, imb.DepthWeighted, imb.Average} {
			assert.GreaterOrEqual(t, v, -1.0)
			assert.LessOrEqual(t, v, 1.0)
		}

		// Mismos volúmenes en ambos lados.
		for j := range ob.Asks {
			ob.Asks[j].Quantity = ob.Bids[j].Quantity
		}
		sym, ok := orderbook.ComputeImbalance(ob, 10, 0.8, 0.15)
		require.True(t, ok)
		assert.Less(t, sym.Simple, 1e-6)
		assert.Greater(t, sym.Simple, -1e-6)
		assert.Equal(t, orderbook.Neutral, sym.Direction)
	}
}
