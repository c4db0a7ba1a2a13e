package ml

import (
	"math"
	"strings"
	"time"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/regime"
)

// PredictorConfig agrupa la configuración de cada etapa.
type PredictorConfig struct {
	Features    FeatureConfig
	Ensemble    EnsembleConfig
	Fusion      FusionConfig
	Calibration CalibratorConfig
}

// DefaultPredictorConfig devuelve la configuración por defecto de todas las etapas.
func DefaultPredictorConfig() PredictorConfig {
	return PredictorConfig{
		Features:    DefaultFeatureConfig(),
		Ensemble:    DefaultEnsembleConfig(),
		Fusion:      DefaultFusionConfig(),
		Calibration: DefaultCalibratorConfig(),
	}
}

// Input son los datos de mercado de un símbolo subyacente.
type Input struct {
	Bars      []domain.Bar
	Price     float64
	Imbalance *float64          // imbalance del order book, [-1, 1]
	Sentiment *float64          // sentimiento agregado, [-1, 1]
	Regime    *regime.Detection // régimen vigente del subyacente
}

// Result es la predicción de que el subyacente suba.
type Result struct {
	UpProbability  float64
	RawProbability float64
	Confidence     float64
	Agreement      float64
	Features       Features
	Models         []ModelPrediction
	Factors        []Factor
	Fusion         FusionResult
	Calibration    Calibration
}

// Predictor compone extractor, sub-modelos, ensemble, fusión y calibración.
type Predictor struct {
	extractor  *FeatureExtractor
	ensemble   *Ensemble
	fusion     *FactorFusion
	calibrator *Calibrator
	now        func() time.Time
}

// NewPredictor crea un Predictor.
func NewPredictor(cfg PredictorConfig) *Predictor {
	return &Predictor{
		extractor:  NewFeatureExtractor(cfg.Features),
		ensemble:   NewEnsemble(cfg.Ensemble),
		fusion:     NewFactorFusion(cfg.Fusion),
		calibrator: NewCalibrator(cfg.Calibration),
		now:        time.Now,
	}
}

// Predict estima la probabilidad de suba.
func (p *Predictor) Predict(in Input) Result {
	now := p.now()
	f := p.extractor.Extract(in.Bars, in.Price)
	models := TechnicalModels(f, now)
	factors := buildFactors(f, in, now)

	ens, ok := p.ensemble.Predict(models)
	ensProb, agreement := 0.5, 0.5
	if ok {
		ensProb, agreement = ens.Probability, ens.Agreement
	}
	fused := p.fusion.Fuse(factors)

	raw := clamp(0.6*ensProb+0.4*fused.Probability, 0, 1)
	cal := p.calibrator.Calibrate(raw)

	return Result{
		UpProbability:  cal.Probability,
		RawProbability: raw,
		Confidence:     confidence(f, agreement, fused.Confidence),
		Agreement:      agreement,
		Features:       f,
		Models:         models,
		Factors:        factors,
		Fusion:         fused,
		Calibration:    cal,
	}
}

// RecordOutcome realimenta el resultado de una predicción a ensemble, fusión
// y calibrador.
func (p *Predictor) RecordOutcome(r Result, up bool) {
	for _, m := range r.Models {
		p.ensemble.RecordOutcome(m.ModelID, m.Probability, up)
	}
	for _, fc := range r.Factors {
		p.fusion.RecordOutcome(fc.ID, fc.Signal, up)
	}
	p.calibrator.AddSample(r.RawProbability, up)
}

// Refit reajusta el calibrador con las muestras acumuladas.
func (p *Predictor) Refit() error {
	return p.calibrator.Refit()
}

func buildFactors(f Features, in Input, now time.Time) []Factor {
	mom := clamp(f.Momentum, -1, 1)
	vol := clamp(f.VolumeTrend, -100, 100) / 100
	volConf := 1 - math.Min(f.Volatility*20, 1)

	factors := []Factor{
		{ID: "technical", Category: Technical, Value: (f.RSI - 50) / 50,
			Signal: rsiProbability(f.RSI) - 0.5, Confidence: rsiConfidence(f.RSI), Timestamp: now},
		{ID: "momentum", Category: Technical, Value: mom,
			Signal: mom * 0.2, Confidence: math.Abs(mom) * 0.7, Timestamp: now},
		{ID: "volume", Category: Microstructure, Value: vol,
			Signal: vol * 0.1, Confidence: 0.5, Timestamp: now},
		{ID: "volatility", Category: Technical, Value: volConf,
			Signal: 0, Confidence: volConf, Timestamp: now},
	}
	if in.Sentiment != nil {
		s := clamp(*in.Sentiment, -1, 1)
		factors = append(factors, Factor{ID: "sentiment", Category: Sentiment, Value: s,
			Signal: s * 0.15, Confidence: math.Abs(s), Timestamp: now})
	}
	if in.Imbalance != nil {
		im := clamp(*in.Imbalance, -1, 1)
		factors = append(factors, Factor{ID: "orderbook", Category: Microstructure, Value: im,
			Signal: im * 0.1, Confidence: math.Abs(im), Timestamp: now})
	}
	if in.Regime != nil {
		var s float64
		switch in.Regime.Regime {
		case regime.BullishTrend:
			s = in.Regime.TrendStrength / 100
		case regime.BearishTrend:
			s = -in.Regime.TrendStrength / 100
		}
		factors = append(factors, Factor{ID: "regime", Category: Technical, Value: in.Regime.TrendStrength,
			Signal: s * 0.2, Confidence: in.Regime.Confidence, Timestamp: now})
	}
	return factors
}

func confidence(f Features, agreement, factorConf float64) float64 {
	c := agreement*0.4 + factorConf*0.3
	aligned := (f.RSI > 50 && f.MACD > 0 && f.Momentum > 0) ||
		(f.RSI < 50 && f.MACD < 0 && f.Momentum < 0)
	if aligned {
		c += 0.15
	}
	if f.Volatility > 0.03 {
		c *= 0.8
	}
	if f.ADX < 20 {
		c *= 0.9
	}
	return clamp(c, 0.1, 0.95)
}

// IsUpQuestion indica si la pregunta del mercado resuelve YES cuando el
// subyacente sube.
func IsUpQuestion(question string) bool {
	q := strings.ToLower(question)
	if strings.Contains(q, "go down") || strings.Contains(q, "below") || strings.Contains(q, "dip") {
		return false
	}
	return true
}

// YesProbability convierte la probabilidad de suba en probabilidad de YES.
func YesProbability(upProb float64, question string) float64 {
	if IsUpQuestion(question) {
		return upProb
	}
	return 1 - upProb
}
