package router_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/router"
)

// Spread de 15 bps alrededor de 0.5: bid 0.499625, ask 0.500375.
func tightBook(bidQty, askQty string) domain.OrderBook {
	return domain.OrderBook{
		Bids: []domain.BookLevel{{Price: d("0.499625"), Quantity: d(bidQty)}},
		Asks: []domain.BookLevel{{Price: d("0.500375"), Quantity: d(askQty)}},
	}
}

func TestOptimize_NormalUrgencyPlacesInsideSpread(t *testing.T) {
	opt := router.NewPriceOptimizer(router.DefaultOptimizerConfig())
	ob := tightBook("1000", "1000")
	bid, _ := ob.BestBid()
	ask, _ := ob.BestAsk()

	rec, err := opt.Optimize(ob, domain.Buy, 0.05, 0.5)
	require.NoError(t, err)
	assert.Equal(t, router.Normal, rec.Urgency)
	assert.Contains(t, []domain.OrderKind{domain.TypeLimit, domain.TypePostOnly}, rec.Type.Kind)
	assert.True(t, rec.Price.GreaterThan(bid.Price) && rec.Price.LessThan(ask.Price), rec.Price.String())
	mid, _ := ob.Mid()
	assert.True(t, rec.Price.LessThan(mid))
	assert.Less(t, rec.ExpectedCostBps, 0.0)
	assert.NotEmpty(t, rec.Fallbacks)
	assert.True(t, rec.Fallbacks[0].GreaterThan(mid))

	sell, err := opt.Optimize(ob, domain.Sell, 0.05, 0.5)
	require.NoError(t, err)
	assert.True(t, sell.Price.GreaterThan(mid) && sell.Price.LessThan(ask.Price))
}

func TestOptimize_NormalHighEdgePostsOnly(t *testing.T) {
	opt := router.NewPriceOptimizer(router.DefaultOptimizerConfig())
	tests := []struct {
		name     string
		side     domain.Side
		bid, ask string
		fill     float64
	}{
		{"buy balanced", domain.Buy, "1000", "1000", 0.70},
		{"buy ask heavy", domain.Buy, "100", "1000", 0.775},
		{"sell balanced", domain.Sell, "1000", "1000", 0.70},
		{"sell bid heavy", domain.Sell, "1000", "100", 0.775},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := opt.Optimize(tightBook(tt.bid, tt.ask), tt.side, 0.10, 0.5)
			require.NoError(t, err)
			assert.Equal(t, router.Normal, rec.Urgency)
			assert.Equal(t, domain.TypePostOnly, rec.Type.Kind)
			assert.InDelta(t, tt.fill, rec.FillProbability, 1e-9)
		})
	}

	low, err := opt.Optimize(tightBook("1000", "1000"), domain.Buy, 0.02, 0.5)
	require.NoError(t, err)
	assert.Equal(t, domain.TypeLimit, low.Type.Kind)
}

func TestOptimize_FavourableImbalanceWidensEdge(t *testing.T) {
	opt := router.NewPriceOptimizer(router.DefaultOptimizerConfig())
	balanced, err := opt.Optimize(tightBook("1000", "1000"), domain.Buy, 0, 0.5)
	require.NoError(t, err)
	askHeavy, err := opt.Optimize(tightBook("100", "1000"), domain.Buy, 0, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, -5, balanced.ExpectedCostBps, 1e-9)
	assert.InDelta(t, -7.5, askHeavy.ExpectedCostBps, 1e-9)
	assert.True(t, askHeavy.Price.LessThan(balanced.Price))
}

func TestOptimize_Modes(t *testing.T) {
	opt := router.NewPriceOptimizer(router.DefaultOptimizerConfig())

	imm, err := opt.Optimize(tightBook("1000", "1000"), domain.Buy, 0.1, 0.9)
	require.NoError(t, err)
	assert.Equal(t, domain.TypeMarket, imm.Type.Kind)
	assert.InDelta(t, 0.99, imm.FillProbability, 1e-9)
	assert.InDelta(t, 7.5, imm.ExpectedCostBps, 0.01)

	pat, err := opt.Optimize(tightBook("1000", "1000"), domain.Buy, 0.1, 0.1)
	require.NoError(t, err)
	assert.Equal(t, domain.TypePostOnly, pat.Type.Kind)
	assert.Len(t, pat.Fallbacks, 5)
	assert.InDelta(t, 0.05, pat.FillProbability, 1e-9)

	// 30 bps: entre max_cross y 2·max_cross, urgente cruza con IOC.
	mid30 := domain.OrderBook{
		Bids: []domain.BookLevel{{Price: d("0.49925"), Quantity: d("10")}},
		Asks: []domain.BookLevel{{Price: d("0.50075"), Quantity: d("10")}},
	}
	ioc, err := opt.Optimize(mid30, domain.Buy, 0.1, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.TypeIOC, ioc.Type.Kind)
	assert.True(t, ioc.Price.Equal(d("0.50075")))

	wide := domain.OrderBook{
		Bids: []domain.BookLevel{{Price: d("0.45"), Quantity: d("10")}},
		Asks: []domain.BookLevel{{Price: d("0.55"), Quantity: d("10")}},
	}
	w, err := opt.Optimize(wide, domain.Buy, 0.1, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.TypeLimit, w.Type.Kind)
	assert.InDelta(t, 0.30, w.FillProbability, 1e-9)
	assert.Len(t, w.Fallbacks, 3)

	_, err = opt.Optimize(domain.OrderBook{}, domain.Buy, 0, 0.5)
	assert.ErrorIs(t, err, domain.ErrEmptyBook)
	assert.Equal(t, 4, opt.Stats().Orders)
}

func TestFillProbability_Curve(t *testing.T) {
	opt := router.NewPriceOptimizer(router.DefaultOptimizerConfig())
	assert.InDelta(t, 0.99, opt.FillProbability(-50), 1e-9)
	assert.InDelta(t, 0.01, opt.FillProbability(50), 1e-9)
	assert.InDelta(t, 0.50, opt.FillProbability(0), 1e-9)
	assert.InDelta(t, 0.40, opt.FillProbability(2.5), 1e-9)
	// Más pasivo nunca es más probable.
	prev := 1.0
	for x := -30.0; x <= 30; x += 0.5 {
		p := opt.FillProbability(x)
		assert.LessOrEqual(t, p, prev)
		prev = p
	}
}

func TestRecordFill_RefitsCurve(t *testing.T) {
	opt := router.NewPriceOptimizer(router.DefaultOptimizerConfig())
	for i := 0; i < 20; i++ {
		opt.RecordFill("m", router.FillRecord{PassiveBps: 0, Filled: i%2 == 0, EdgeBps: 1})
		opt.RecordFill("m", router.FillRecord{PassiveBps: 10, Filled: i%5 == 0, EdgeBps: 2})
		if i < 10 {
			opt.RecordFill("m", router.FillRecord{PassiveBps: -10, Filled: true, EdgeBps: 0})
		}
	}
	curve := opt.Curve()
	require.Len(t, curve, 3)
	assert.Equal(t, -10.0, curve[0].PassiveBps)
	assert.InDelta(t, 1.0, curve[0].Probability, 1e-9)
	assert.InDelta(t, 0.5, curve[1].Probability, 1e-9)
	assert.InDelta(t, 0.2, curve[2].Probability, 1e-9)
	assert.Equal(t, 24, opt.Stats().Fills)
}
