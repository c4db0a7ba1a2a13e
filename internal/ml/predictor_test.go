package ml_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/ml"
	"github.com/alejandrodnm/polyedge/internal/regime"
)

func TestPredictor_FullPrediction(t *testing.T) {
	p := ml.NewPredictor(ml.DefaultPredictorConfig())
	imb, sent := 0.1, 0.3
	r := p.Predict(ml.Input{Bars: sineBars(50), Imbalance: &imb, Sentiment: &sent})

	assert.GreaterOrEqual(t, r.UpProbability, 0.0)
	assert.LessOrEqual(t, r.UpProbability, 1.0)
	assert.GreaterOrEqual(t, r.Confidence, 0.1)
	assert.LessOrEqual(t, r.Confidence, 0.95)
	assert.Len(t, r.Models, 4)
	assert.Len(t, r.Factors, 6)
}

func TestPredictor_EmptyBarsIsNearNeutral(t *testing.T) {
	r := ml.NewPredictor(ml.DefaultPredictorConfig()).Predict(ml.Input{})
	assert.InDelta(t, 0.5, r.UpProbability, 0.2)
}

func TestPredictor_RegimeFactor(t *testing.T) {
	p := ml.NewPredictor(ml.DefaultPredictorConfig())
	det := regime.Detection{Regime: regime.BullishTrend, TrendStrength: 80, Confidence: 0.9}
	r := p.Predict(ml.Input{Bars: sineBars(50), Regime: &det})

	var found bool
	for _, f := range r.Factors {
		if f.ID == "regime" {
			found = true
			assert.Greater(t, f.Signal, 0.0)
		}
	}
	assert.True(t, found)
}

func TestPredictor_RecordOutcomeFeedsCalibrator(t *testing.T) {
	p := ml.NewPredictor(ml.DefaultPredictorConfig())
	r := p.Predict(ml.Input{Bars: sineBars(50)})
	for i := 0; i < 20; i++ {
		p.RecordOutcome(r, i%4 != 0)
	}
	require.NoError(t, p.Refit())
}

func TestYesProbability(t *testing.T) {
	assert.Equal(t, 0.7, ml.YesProbability(0.7, "Will Bitcoin go up in the next hour?"))
	assert.InDelta(t, 0.3, ml.YesProbability(0.7, "Will Bitcoin go down?"), 1e-12)
	assert.True(t, ml.IsUpQuestion("Bitcoin Up or Down - 3PM ET"))
}

type fixedInputs struct {
	in ml.Input
	ok bool
}

func (f fixedInputs) InputFor(domain.Market) (ml.Input, bool) { return f.in, f.ok }

type stubModel struct {
	id   string
	pred domain.Prediction
	err  error
}

func (s stubModel) ID() string { return s.id }
func (s stubModel) Predict(context.Context, domain.Market) (domain.Prediction, error) {
	return s.pred, s.err
}

func TestTechnicalModel_MissingInput(t *testing.T) {
	m := ml.NewTechnicalModel(ml.NewPredictor(ml.DefaultPredictorConfig()), fixedInputs{})
	_, err := m.Predict(context.Background(), domain.Market{ID: "m"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientData))
}

func TestTechnicalModel_Predict(t *testing.T) {
	m := ml.NewTechnicalModel(ml.NewPredictor(ml.DefaultPredictorConfig()), fixedInputs{in: ml.Input{Bars: sineBars(50)}, ok: true})
	pred, err := m.Predict(context.Background(), domain.Market{ID: "m", Question: "Will BTC go up?"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pred.Probability, 0.0)
	assert.LessOrEqual(t, pred.Probability, 1.0)
	assert.NotEmpty(t, pred.Reasoning)
}

func TestModelEnsemble_SkipsFailingModels(t *testing.T) {
	e := ml.NewModelEnsemble(
		ml.WeightedModel{Model: stubModel{id: "a", pred: domain.Prediction{Probability: 0.8, Confidence: 1}}, Weight: 1},
		ml.WeightedModel{Model: stubModel{id: "b", pred: domain.Prediction{Probability: 0.4, Confidence: 1}}, Weight: 1},
		ml.WeightedModel{Model: stubModel{id: "c", err: errors.New("boom")}, Weight: 5},
	)
	pred, err := e.Predict(context.Background(), domain.Market{ID: "m"})
	require.NoError(t, err)
	assert.InDelta(t, 0.6, pred.Probability, 1e-9)
	assert.InDelta(t, 1.0, pred.Confidence, 1e-9)
	assert.Equal(t, "a=0.800 b=0.400", pred.Reasoning)
}

func TestModelEnsemble_NoModels(t *testing.T) {
	pred, err := ml.NewModelEnsemble().Predict(context.Background(), domain.Market{})
	require.NoError(t, err)
	assert.Equal(t, 0.5, pred.Probability)
	assert.Zero(t, pred.Confidence)
}
