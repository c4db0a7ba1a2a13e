package orderbook_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/orderbook"
)

func TestIcebergDetector_RefillsAfterDecrease(t *testing.T) {
	d := orderbook.NewIcebergDetector(3, 5*time.Minute)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	qtys := []string{"100", "50", "100", "40", "100", "30", "100"}
	for i, q := range qtys {
		d.Observe(domain.OrderBook{
			Bids:      []domain.BookLevel{lvl("0.50", q)},
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}
	ice := d.Icebergs()
	require.Len(t, ice, 1)
	assert.Equal(t, 3, ice[0].Refills)
	assert.Equal(t, domain.Buy, ice[0].Side)
	assert.True(t, ice[0].HiddenEstimate.Equal(domain.MustDec("300")))
	assert.InDelta(t, 0.3, ice[0].Confidence, 1e-9)
}

func TestIcebergDetector_IncreaseWithoutDecreaseIsNotRefill(t *testing.T) {
	d := orderbook.NewIcebergDetector(1, 5*time.Minute)
	base := time.Now()
	for i, q := range []string{"10", "20", "30"} {
		d.Observe(domain.OrderBook{Asks: []domain.BookLevel{lvl("0.6", q)}, Timestamp: base.Add(time.Duration(i) * time.Second)})
	}
	assert.Empty(t, d.Icebergs())
}

func TestIcebergDetector_EvictsStaleLevels(t *testing.T) {
	d := orderbook.NewIcebergDetector(3, 5*time.Minute)
	base := time.Now()
	d.Observe(domain.OrderBook{Bids: []domain.BookLevel{lvl("0.40", "10")}, Timestamp: base})
	d.Observe(domain.OrderBook{Bids: []domain.BookLevel{lvl("0.41", "10")}, Timestamp: base.Add(6 * time.Minute)})
	assert.Equal(t, 1, d.Tracked())
}

func TestProfileMarketMakers_StableQuotes(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var snaps []domain.OrderBook
	for i := 0; i < 12; i++ {
		snaps = append(snaps, domain.OrderBook{
			Bids:      []domain.BookLevel{lvl("0.49", "100"), lvl("0.48", "200")},
			Asks:      []domain.BookLevel{lvl("0.51", "100"), lvl("0.52", "200")},
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}
	p, ok := orderbook.ProfileMarketMakers(snaps, base.Add(11*time.Second), time.Minute, 10)
	require.True(t, ok)
	assert.InDelta(t, 1.0, p.SpreadStability, 1e-9)
	assert.InDelta(t, 1.0, p.DepthSymmetry, 1e-9)
	assert.InDelta(t, 1.0, p.RefreshRate, 1e-9)
	assert.Equal(t, 2, p.EstimatedCount)
	assert.Equal(t, orderbook.ActivityHigh, p.Activity)
}

func TestProfileMarketMakers_NotEnoughSnapshots(t *testing.T) {
	_, ok := orderbook.ProfileMarketMakers([]domain.OrderBook{buyPressureBook()}, time.Now(), time.Minute, 10)
	assert.False(t, ok)
}

func TestPriceImpact(t *testing.T) {
	ob := domain.OrderBook{
		Bids: []domain.BookLevel{lvl("0.48", "100")},
		Asks: []domain.BookLevel{lvl("0.50", "100"), lvl("0.52", "100")},
	}
	bps, ok := orderbook.PriceImpact(ob, domain.Buy, domain.MustDec("150"))
	require.True(t, ok)
	assert.InDelta(t, 133.333, bps, 0.01)

	_, ok = orderbook.PriceImpact(ob, domain.Sell, domain.MustDec("150"))
	assert.False(t, ok, "depth insuficiente")

	sell, ok := orderbook.PriceImpact(ob, domain.Sell, domain.MustDec("50"))
	require.True(t, ok)
	assert.InDelta(t, 0.0, sell, 1e-9)
}

func TestAnalyzer_SummaryAndTracker(t *testing.T) {
	tr := orderbook.NewTracker(orderbook.DefaultConfig())
	a := tr.For("tok")
	assert.Same(t, a, tr.For("tok"))

	_, ok := a.Imbalance()
	assert.False(t, ok, "sin snapshots no hay métricas")

	a.OnSnapshot(buyPressureBook())
	for i := 0; i < 4; i++ {
		a.OnTrade(tick(100, 10, domain.Buy))
	}
	s := a.Summary(time.Now())
	assert.True(t, s.HasImbalance)
	assert.Equal(t, orderbook.Up, s.Imbalance.Direction)
	assert.True(t, s.HasVPIN)
	assert.False(t, s.HasMM)
	assert.Equal(t, 1, tr.Len())
}
