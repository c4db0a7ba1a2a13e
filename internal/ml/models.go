package ml

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/ports"
)

// InputSource resuelve los datos del subyacente de un mercado.
type InputSource interface {
	InputFor(market domain.Market) (Input, bool)
}

// TechnicalModel adapta el Predictor a ports.ProbabilityModel.
type TechnicalModel struct {
	predictor *Predictor
	inputs    InputSource
}

// NewTechnicalModel crea el modelo técnico.
func NewTechnicalModel(p *Predictor, inputs InputSource) *TechnicalModel {
	return &TechnicalModel{predictor: p, inputs: inputs}
}

func (m *TechnicalModel) ID() string { return "technical" }

// Predict devuelve la probabilidad de YES del mercado.
func (m *TechnicalModel) Predict(_ context.Context, market domain.Market) (domain.Prediction, error) {
	in, ok := m.inputs.InputFor(market)
	if !ok {
		return domain.Prediction{}, fmt.Errorf("ml.TechnicalModel.Predict: %s: %w", market.ID, domain.ErrInsufficientData)
	}
	r := m.predictor.Predict(in)
	return domain.Prediction{
		Probability: YesProbability(r.UpProbability, market.Question),
		Confidence:  r.Confidence,
		Reasoning: fmt.Sprintf("rsi=%.1f macd=%.3f bb=%.2f adx=%.1f agreement=%.2f",
			r.Features.RSI, r.Features.MACD, r.Features.BollingerPosition, r.Features.ADX, r.Agreement),
	}, nil
}

// WeightedModel asocia un peso fijo a un modelo.
type WeightedModel struct {
	Model  ports.ProbabilityModel
	Weight float64
}

// ModelEnsemble consulta varios ProbabilityModel en paralelo y promedia por
// peso × confianza. Los modelos que fallan se omiten.
type ModelEnsemble struct {
	models []WeightedModel
}

// NewModelEnsemble crea el ensemble.
func NewModelEnsemble(models ...WeightedModel) *ModelEnsemble {
	return &ModelEnsemble{models: models}
}

func (e *ModelEnsemble) ID() string { return "ensemble" }

// Predict devuelve probabilidad 0.5 y confianza 0 si ningún modelo responde.
func (e *ModelEnsemble) Predict(ctx context.Context, market domain.Market) (domain.Prediction, error) {
	type answer struct {
		id     string
		weight float64
		pred   domain.Prediction
	}
	var (
		mu      sync.Mutex
		answers []answer
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, wm := range e.models {
		wm := wm
		g.Go(func() error {
			pred, err := wm.Model.Predict(gctx, market)
			if err != nil {
				slog.Debug("model prediction failed", "model", wm.Model.ID(), "market", market.ID, "err", err)
				return nil
			}
			mu.Lock()
			answers = append(answers, answer{wm.Model.ID(), wm.Weight, pred})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return domain.Prediction{}, fmt.Errorf("ml.ModelEnsemble.Predict: %w", err)
	}

	if len(answers) == 0 {
		return domain.Prediction{Probability: 0.5, Reasoning: "no model available"}, nil
	}

	var sw, prob, conf, wsum float64
	parts := make([]string, 0, len(answers))
	for _, a := range answers {
		w := a.weight * clamp(a.pred.Confidence, 0, 1)
		sw += w
		prob += a.pred.Probability * w
		conf += a.pred.Confidence * a.weight
		wsum += a.weight
		parts = append(parts, fmt.Sprintf("%s=%.3f", a.id, a.pred.Probability))
	}
	sort.Strings(parts)
	out := domain.Prediction{Reasoning: strings.Join(parts, " ")}
	if sw > 0 {
		out.Probability = clamp(prob/sw, 0, 1)
	} else {
		var s float64
		for _, a := range answers {
			s += a.pred.Probability
		}
		out.Probability = s / float64(len(answers))
	}
	if wsum > 0 {
		out.Confidence = clamp(conf/wsum, 0, 1)
	}
	return out, nil
}
