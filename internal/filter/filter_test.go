package filter_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyedge/internal/filter"
)

func ptr(f float64) *float64 { return &f }

func TestSignalFusion_Cases(t *testing.T) {
	up := &filter.TrendSignal{Direction: filter.Up, Confidence: 0.75}
	strongUp := &filter.TrendSignal{Direction: filter.Up, Confidence: 0.80}
	weak := &filter.TrendSignal{Direction: filter.Up, Confidence: 0.40}

	tests := []struct {
		name     string
		cfg      filter.FusionConfig
		trend    *filter.TrendSignal
		momentum *float64
		want     bool
		dir      filter.Direction
	}{
		{"agree", filter.DefaultFusionConfig(), up, ptr(0.002), true, filter.Up},
		{"conflict", filter.DefaultFusionConfig(), up, ptr(-0.005), false, filter.NoDirection},
		{"trend only requires agreement", filter.DefaultFusionConfig(), up, nil, false, filter.NoDirection},
		{"weak trend ignored", filter.DefaultFusionConfig(), weak, ptr(0.002), false, filter.NoDirection},
		{"momentum below min", filter.DefaultFusionConfig(), up, ptr(0.0005), false, filter.NoDirection},
		{"solo trend strong", filter.FusionConfig{MinTrendConfidence: 0.6, MinMomentum: 0.001}, strongUp, nil, true, filter.Up},
		{"solo trend below solo bar", filter.FusionConfig{MinTrendConfidence: 0.6, MinMomentum: 0.001}, &filter.TrendSignal{Direction: filter.Up, Confidence: 0.65}, nil, false, filter.Up},
		{"solo momentum strong", filter.FusionConfig{MinTrendConfidence: 0.6, MinMomentum: 0.001}, nil, ptr(-0.006), true, filter.Down},
		{"nothing", filter.DefaultFusionConfig(), nil, nil, false, filter.NoDirection},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := filter.NewSignalFusion(tc.cfg).Evaluate(tc.trend, tc.momentum)
			assert.Equal(t, tc.want, res.ShouldTrade, res.Reason)
			assert.Equal(t, tc.dir, res.Direction)
		})
	}
}

func TestSignalFusion_CombinedConfidence(t *testing.T) {
	res := filter.NewSignalFusion(filter.DefaultFusionConfig()).Evaluate(
		&filter.TrendSignal{Direction: filter.Down, Confidence: 0.8}, ptr(-0.004))
	require.True(t, res.ShouldTrade)
	assert.InDelta(t, (0.8+0.4)/2, res.Confidence, 1e-9)
}

func TestTimeWindow(t *testing.T) {
	w := filter.TimeWindow{Min: time.Minute, Max: 10 * time.Minute}
	now := time.Now()
	assert.True(t, w.Contains(now.Add(5*time.Minute), now))
	assert.False(t, w.Contains(now.Add(30*time.Second), now))
	assert.False(t, w.Contains(now.Add(20*time.Minute), now))
	assert.True(t, w.Contains(now.Add(10*time.Minute), now))
}

func TestSignalFilter_MarksOnAcceptance(t *testing.T) {
	clk := newClock()
	f := filter.New(filter.DefaultConfig(), func(id string) bool { return id == "btc-up" }, clk.Now)
	c := filter.Candidate{
		MarketID: "btc-up",
		Trend:    &filter.TrendSignal{Direction: filter.Up, Confidence: 0.7},
		Momentum: ptr(0.003),
		Close:    clk.Now().Add(5 * time.Minute),
	}

	res := f.ShouldTrade(c)
	require.True(t, res.ShouldTrade, res.Reason)

	again := f.ShouldTrade(c)
	assert.False(t, again.ShouldTrade)
	assert.Contains(t, again.Reason, "cooldown")

	clk.Advance(2 * time.Minute)
	c.Close = clk.Now().Add(5 * time.Minute)
	assert.True(t, f.ShouldTrade(c).ShouldTrade, "cooldown corto para crypto")
}

func TestSignalFilter_RejectionDoesNotMark(t *testing.T) {
	clk := newClock()
	f := filter.New(filter.DefaultConfig(), nil, clk.Now)
	res := f.ShouldTrade(filter.Candidate{
		MarketID: "m",
		Trend:    &filter.TrendSignal{Direction: filter.Up, Confidence: 0.7},
		Momentum: ptr(-0.003),
	})
	assert.False(t, res.ShouldTrade)
	assert.Equal(t, 0, f.Deduplicator().TradedCount())

	out := f.ShouldTrade(filter.Candidate{
		MarketID: "m",
		Trend:    &filter.TrendSignal{Direction: filter.Up, Confidence: 0.7},
		Momentum: ptr(0.003),
		Close:    clk.Now().Add(time.Hour),
	})
	assert.False(t, out.ShouldTrade)
	assert.Equal(t, "outside trading window", out.Reason)
}
