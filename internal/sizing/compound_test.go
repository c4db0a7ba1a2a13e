package sizing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/sizing"
)

func TestCompounder_MatchesPlainKellyAtStart(t *testing.T) {
	c := sizing.NewCompounder(s2Config(), domain.MustDec("1000"), true)
	sig, ok := c.Generate(binaryMarket("0.40"), domain.Prediction{Probability: 0.55, Confidence: 0.70}, domain.MustDec("1000"))
	require.True(t, ok)
	assert.InDelta(t, 0.04375, sig.SuggestedSize, 1e-9)
}

func TestCompounder_DynamicEdgeThreshold(t *testing.T) {
	c := sizing.NewCompounder(s2Config(), domain.MustDec("1000"), true)
	assert.InDelta(t, 0.05, c.MinEdge(0.8), 1e-12)

	for i := 0; i < 3; i++ {
		c.RecordResult(domain.MustDec("10"), 0.1, 0.8)
	}
	assert.InDelta(t, 0.035, c.MinEdge(0.8), 1e-12)
	assert.InDelta(t, 0.05, c.MinEdge(0.7), 1e-12)

	c.RecordResult(domain.MustDec("-5"), 0.1, 0.8)
	c.RecordResult(domain.MustDec("-5"), 0.1, 0.8)
	assert.InDelta(t, 0.065, c.MinEdge(0.8), 1e-12)
}

func TestCompounder_KellyMultiplierBounds(t *testing.T) {
	c := sizing.NewCompounder(s2Config(), domain.MustDec("1000"), true)
	for i := 0; i < 40; i++ {
		c.RecordResult(domain.MustDec("1"), 0.1, 0.5)
	}
	st := c.Stats()
	assert.InDelta(t, 2.0, st.KellyMultiplier, 1e-9)
	assert.Equal(t, 40, st.Wins)

	for i := 0; i < 50; i++ {
		c.RecordResult(domain.MustDec("-1"), 0.1, 0.9)
	}
	assert.InDelta(t, 0.5, c.Stats().KellyMultiplier, 1e-9)
}

func TestCompounder_DrawdownProtection(t *testing.T) {
	cfg := s2Config()
	cfg.MaxPositionPct = 1
	c := sizing.NewCompounder(cfg, domain.MustDec("1000"), false)
	c.UpdateBalance(domain.MustDec("1000"))
	pred := domain.Prediction{Probability: 0.55, Confidence: 0.70}

	full, ok := c.Generate(binaryMarket("0.40"), pred, domain.MustDec("1000"))
	require.True(t, ok)
	dd15, ok := c.Generate(binaryMarket("0.40"), pred, domain.MustDec("850"))
	require.True(t, ok)
	dd25, ok := c.Generate(binaryMarket("0.40"), pred, domain.MustDec("750"))
	require.True(t, ok)

	// Sin sqrt el growth factor es lineal: 0.85 y 0.75.
	assert.InDelta(t, full.SuggestedSize*0.85*0.75, dd15.SuggestedSize, 1e-9)
	assert.InDelta(t, full.SuggestedSize*0.75*0.5, dd25.SuggestedSize, 1e-9)
}

func TestCompounder_DynamicCap(t *testing.T) {
	cfg := s2Config()
	cfg.KellyFraction = 1
	c := sizing.NewCompounder(cfg, domain.MustDec("1000"), true)
	pred := domain.Prediction{Probability: 0.9, Confidence: 0.9}

	for i := 0; i < 5; i++ {
		c.RecordResult(domain.MustDec("10"), 0.2, 0.9)
	}
	c.UpdateBalance(domain.MustDec("1300"))
	sig, ok := c.Generate(binaryMarket("0.40"), pred, domain.MustDec("1300"))
	require.True(t, ok)
	assert.InDelta(t, 0.0625, sig.SuggestedSize, 1e-9)

	for i := 0; i < 3; i++ {
		c.RecordResult(domain.MustDec("-10"), 0.2, 0.9)
	}
	sig, ok = c.Generate(binaryMarket("0.40"), domain.Prediction{Probability: 0.95, Confidence: 0.9}, domain.MustDec("1300"))
	require.True(t, ok)
	assert.InDelta(t, 0.0375, sig.SuggestedSize, 1e-9)
}

func TestCompounder_StatsGrowthUsesCurrentBalance(t *testing.T) {
	c := sizing.NewCompounder(s2Config(), domain.MustDec("1000"), true)
	c.UpdateBalance(domain.MustDec("1300"))
	c.UpdateBalance(domain.MustDec("1100"))

	st := c.Stats()
	assert.InDelta(t, 1.1, st.GrowthFromInitial, 1e-9)
	assert.InDelta(t, 1.3, st.PeakGrowth, 1e-9)
}
