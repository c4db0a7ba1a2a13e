package sizing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/sizing"
)

func binaryMarket(yes string) domain.Market {
	y := domain.MustDec(yes)
	return domain.Market{
		ID: "m1",
		Tokens: []domain.Token{
			{TokenID: "yes", Outcome: "Yes", Price: y},
			{TokenID: "no", Outcome: "No", Price: domain.One.Sub(y)},
		},
	}
}

func s2Config() sizing.Config {
	return sizing.Config{MinEdge: 0.05, MinConfidence: 0.60, KellyFraction: 0.25, MaxPositionPct: 0.05}
}

func TestSignalGenerator_KellySizing(t *testing.T) {
	g := sizing.NewSignalGenerator(s2Config())
	sig, ok := g.Generate(binaryMarket("0.40"), domain.Prediction{Probability: 0.55, Confidence: 0.70})
	require.True(t, ok)

	assert.Equal(t, domain.Buy, sig.Side)
	assert.Equal(t, "yes", sig.TokenID)
	assert.InDelta(t, 0.15, sig.Edge, 1e-9)
	assert.InDelta(t, 0.04375, sig.SuggestedSize, 1e-9)
}

func TestSignalGenerator_NoEdgeRejected(t *testing.T) {
	g := sizing.NewSignalGenerator(s2Config())
	_, ok := g.Generate(binaryMarket("0.50"), domain.Prediction{Probability: 0.52, Confidence: 0.70})
	assert.False(t, ok)
}

func TestSignalGenerator_LowConfidenceRejected(t *testing.T) {
	g := sizing.NewSignalGenerator(s2Config())
	_, ok := g.Generate(binaryMarket("0.40"), domain.Prediction{Probability: 0.70, Confidence: 0.5})
	assert.False(t, ok)
}

func TestSignalGenerator_OverpricedYesSells(t *testing.T) {
	g := sizing.NewSignalGenerator(s2Config())
	sig, ok := g.Generate(binaryMarket("0.70"), domain.Prediction{Probability: 0.55, Confidence: 0.80})
	require.True(t, ok)
	assert.Equal(t, domain.Sell, sig.Side)
	assert.InDelta(t, -0.15, sig.Edge, 1e-9)
	// (0.45-0.30)/(1-0.30)·0.25·0.8 = 0.042857
	assert.InDelta(t, 0.0428571, sig.SuggestedSize, 1e-6)
}

func TestKelly_ZeroForNonPositiveEdge(t *testing.T) {
	assert.Zero(t, sizing.Kelly(0, 0.5, 0.25, 0.9, 0.05))
	assert.Zero(t, sizing.Kelly(-0.1, 0.5, 0.25, 0.9, 0.05))
}

func TestKelly_Monotone(t *testing.T) {
	const price = 0.4
	prev := 0.0
	for edge := 0.0; edge <= 0.6; edge += 0.01 {
		s := sizing.Kelly(edge, price, 0.35, 0.7, 1)
		assert.GreaterOrEqual(t, s, prev, "edge %.2f", edge)
		prev = s
	}
	prev = 0.0
	for conf := 0.0; conf <= 1.0; conf += 0.05 {
		s := sizing.Kelly(0.1, price, 0.35, conf, 1)
		assert.GreaterOrEqual(t, s, prev, "conf %.2f", conf)
		prev = s
	}
	assert.LessOrEqual(t, sizing.Kelly(0.5, price, 1, 1, 0.05), 0.05)
}
