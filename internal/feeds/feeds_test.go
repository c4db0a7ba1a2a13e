package feeds_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/feeds"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func trade(symbol, price, qty string, ts time.Time) domain.TradeTick {
	return domain.TradeTick{Symbol: symbol, Price: domain.MustDec(price), Quantity: domain.MustDec(qty), Timestamp: ts}
}

func TestBarBuilder_OHLCV(t *testing.T) {
	b := feeds.NewBarBuilder(time.Minute, 10)
	_, ok := b.Add(t0, 100, 1)
	assert.False(t, ok)
	b.Add(t0.Add(10*time.Second), 102, 2)
	b.Add(t0.Add(20*time.Second), 99, 1)
	b.Add(t0.Add(50*time.Second), 101, 1)
	// tick viejo: se ignora
	b.Add(t0.Add(-time.Minute), 500, 1)

	closed, ok := b.Add(t0.Add(65*time.Second), 103, 1)
	require.True(t, ok)
	assert.Equal(t, t0, closed.Timestamp)
	assert.Equal(t, 100.0, closed.Open)
	assert.Equal(t, 102.0, closed.High)
	assert.Equal(t, 99.0, closed.Low)
	assert.Equal(t, 101.0, closed.Close)
	assert.Equal(t, 5.0, closed.Volume)

	assert.Len(t, b.Bars(), 1)
	cur, ok := b.Current()
	require.True(t, ok)
	assert.Equal(t, 103.0, cur.Open)
}

func TestBarBuilder_KeepsBounded(t *testing.T) {
	b := feeds.NewBarBuilder(time.Minute, 3)
	for i := 0; i < 10; i++ {
		b.Add(t0.Add(time.Duration(i)*time.Minute), float64(100+i), 1)
	}
	bars := b.Bars()
	require.Len(t, bars, 3)
	assert.Equal(t, 108.0, bars[2].Close)
}

func TestResample(t *testing.T) {
	var bars []domain.Bar
	for i := 0; i < 7; i++ {
		p := float64(10 + i)
		bars = append(bars, domain.Bar{Timestamp: t0.Add(time.Duration(i) * time.Minute), Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 1})
	}
	out := feeds.Resample(bars, 3)
	require.Len(t, out, 2)
	assert.Equal(t, 10.0, out[0].Open)
	assert.Equal(t, 12.0, out[0].Close)
	assert.Equal(t, 13.0, out[0].High)
	assert.Equal(t, 9.0, out[0].Low)
	assert.Equal(t, 3.0, out[0].Volume)
}

func TestHub_MomentumAndSignal(t *testing.T) {
	clk := &clock{t: t0.Add(71 * time.Second)}
	h := feeds.NewHub(feeds.DefaultHubConfig(), nil, clk.now)

	h.OnTrade(trade("btcusdt", "100", "1", t0))
	h.OnTrade(trade("btcusdt", "100.5", "1", t0.Add(70*time.Second)))

	m, ok := h.Momentum("BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 0.5, m.Change1m, 1e-9)
	assert.InDelta(t, 0.5, m.Change5m, 1e-9)
	assert.False(t, h.Stale("BTCUSDT"))

	market := domain.Market{
		ID:   "m1",
		Slug: "btc-updown-15m-1",
		Tokens: []domain.Token{
			{TokenID: "up", Outcome: "Up", Price: domain.MustDec("0.55")},
			{TokenID: "down", Outcome: "Down", Price: domain.MustDec("0.45")},
		},
	}
	sig, ok := h.Signal(market)
	require.True(t, ok)
	assert.Equal(t, "up", sig.TokenID)
	assert.InDelta(t, 0.9, sig.ModelProb, 1e-9)
	assert.InDelta(t, 0.35, sig.Edge, 1e-9)

	// mercado sin subyacente conocido
	_, ok = h.Signal(domain.Market{Question: "Will it rain in Madrid?"})
	assert.False(t, ok)
}

func TestHub_InputForAndStaleness(t *testing.T) {
	clk := &clock{t: t0.Add(71 * time.Second)}
	social := feeds.NewAggregator(feeds.DefaultSocialConfig(), clk.now)
	h := feeds.NewHub(feeds.DefaultHubConfig(), social, clk.now)

	h.OnTrade(trade("ETHUSDT", "2000", "1", t0))
	h.OnTrade(trade("ETHUSDT", "2010", "1", t0.Add(70*time.Second)))
	h.SetImbalance("m1", 0.4)
	_, ok := social.Add(feeds.Extracted{
		Token: "ETH", Direction: feeds.Bullish, Confidence: 0.9,
		Raw: domain.RawSignal{Author: "a", AuthorTrust: 0.8}, Timestamp: clk.t,
	})
	require.True(t, ok)

	market := domain.Market{ID: "m1", Question: "Will Ethereum be above $2000 at noon?"}
	in, ok := h.InputFor(market)
	require.True(t, ok)
	assert.Len(t, in.Bars, 2)
	assert.Equal(t, 2010.0, in.Price)
	require.NotNil(t, in.Imbalance)
	assert.Equal(t, 0.4, *in.Imbalance)
	require.NotNil(t, in.Sentiment)
	assert.InDelta(t, 1.0, *in.Sentiment, 1e-9)

	clk.t = t0.Add(2 * time.Minute)
	assert.True(t, h.Stale("ETHUSDT"))
	_, ok = h.InputFor(market)
	assert.False(t, ok)
}

func TestHub_RunConsumesUntilClosed(t *testing.T) {
	h := feeds.NewHub(feeds.DefaultHubConfig(), nil, nil)
	prices := make(chan domain.PriceTick, 2)
	trades := make(chan domain.TradeTick, 2)
	prices <- domain.PriceTick{Symbol: "SOLUSDT", Price: domain.MustDec("150"), Timestamp: t0}
	trades <- trade("XRPUSDT", "0.6", "10", t0)
	close(prices)
	close(trades)

	require.NoError(t, h.Run(context.Background(), prices, trades))
	assert.Len(t, h.Snapshot(), 2)
	assert.Empty(t, h.Bars("SOLUSDT"))
	assert.Len(t, h.Bars("XRPUSDT"), 1)
}

func TestAssetFor(t *testing.T) {
	cases := map[string]string{
		"Bitcoin Up or Down - March 1, 12PM ET": "BTC",
		"Will SOL reach $200?":                  "SOL",
		"Will the resolution pass?":             "",
	}
	for q, want := range cases {
		got, ok := feeds.AssetFor(domain.Market{Question: q})
		assert.Equal(t, want != "", ok, q)
		assert.Equal(t, want, got, q)
	}
	assert.Equal(t, "DOGEUSDT", feeds.PairSymbol("doge"))
}
