// Package sizing convierte predicciones en señales dimensionadas con Kelly fraccional.
package sizing

import (
	"math"
	"time"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// Config agrupa los parámetros de estrategia y riesgo que afectan al sizing.
type Config struct {
	MinEdge        float64
	MinConfidence  float64
	KellyFraction  float64
	MaxPositionPct float64
}

// Kelly devuelve el tamaño como fracción del equity para una apuesta binaria:
// f* = edge/(1-price), escalado por kellyFraction y confianza y limitado a maxPct.
// Devuelve 0 si edge <= 0.
func Kelly(edge, price, kellyFraction, confidence, maxPct float64) float64 {
	potential := 1 - price
	if edge <= 0 || potential <= 0 {
		return 0
	}
	full := edge / potential
	if full <= 0 {
		return 0
	}
	return math.Min(full*kellyFraction*confidence, maxPct)
}

// SignalGenerator genera señales comparando la predicción con el precio YES.
type SignalGenerator struct {
	cfg Config
	now func() time.Time
}

// NewSignalGenerator crea un generador sin estado.
func NewSignalGenerator(cfg Config) *SignalGenerator {
	return &SignalGenerator{cfg: cfg, now: time.Now}
}

// Generate devuelve una señal si el edge y la confianza superan los umbrales.
// Edge positivo compra YES; negativo vende YES apostando a 1-p al precio 1-m.
func (g *SignalGenerator) Generate(market domain.Market, pred domain.Prediction) (domain.Signal, bool) {
	return buildSignal(market, pred, g.cfg.MinEdge, g.cfg.MinConfidence, g.now(), func(effProb, price, conf float64) float64 {
		return Kelly(effProb-price, price, g.cfg.KellyFraction, conf, g.cfg.MaxPositionPct)
	})
}

// buildSignal aplica los filtros comunes y delega el sizing en size.
func buildSignal(
	market domain.Market,
	pred domain.Prediction,
	minEdge, minConfidence float64,
	now time.Time,
	size func(effProb, price, conf float64) float64,
) (domain.Signal, bool) {
	yes, ok := market.YesToken()
	if !ok {
		return domain.Signal{}, false
	}
	marketProb := domain.Float(yes.Price)
	if marketProb <= 0 || marketProb >= 1 {
		return domain.Signal{}, false
	}
	edge := pred.Probability - marketProb
	if math.Abs(edge) < minEdge || pred.Confidence < minConfidence {
		return domain.Signal{}, false
	}

	side := domain.Buy
	effProb, price := pred.Probability, marketProb
	if edge < 0 {
		side = domain.Sell
		effProb, price = 1-pred.Probability, 1-marketProb
	}
	suggested := size(effProb, price, pred.Confidence)
	if suggested <= 0 {
		return domain.Signal{}, false
	}
	return domain.Signal{
		MarketID:      market.ID,
		TokenID:       yes.TokenID,
		Side:          side,
		ModelProb:     pred.Probability,
		MarketProb:    marketProb,
		Edge:          edge,
		Confidence:    pred.Confidence,
		SuggestedSize: suggested,
		Reason:        pred.Reasoning,
		Timestamp:     now,
	}, true
}
