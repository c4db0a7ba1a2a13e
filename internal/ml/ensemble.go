package ml

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// EnsembleMethod define cómo se combinan los sub-modelos.
type EnsembleMethod int

const (
	WeightedAverage EnsembleMethod = iota
	MedianVote
	InverseVarianceWeighted
	PerformanceAdaptive
)

func (m EnsembleMethod) String() string {
	switch m {
	case MedianVote:
		return "median"
	case InverseVarianceWeighted:
		return "inverse_variance"
	case PerformanceAdaptive:
		return "performance"
	default:
		return "weighted"
	}
}

// ParseEnsembleMethod convierte el nombre de configuración.
func ParseEnsembleMethod(s string) (EnsembleMethod, error) {
	switch s {
	case "", "weighted":
		return WeightedAverage, nil
	case "median":
		return MedianVote, nil
	case "inverse_variance":
		return InverseVarianceWeighted, nil
	case "performance":
		return PerformanceAdaptive, nil
	}
	return WeightedAverage, fmt.Errorf("ml.ParseEnsembleMethod: %q: %w", s, domain.ErrInvalidInput)
}

// EnsembleConfig parametriza el ensemble.
type EnsembleConfig struct {
	Method             EnsembleMethod
	PerformanceWindow  int     // muestras (prob, outcome) por modelo
	MinPerformanceData int     // mínimo para usar el peso Brier
	DefaultUncertainty float64 // para modelos sin incertidumbre
}

// DefaultEnsembleConfig devuelve un promedio ponderado por confianza.
func DefaultEnsembleConfig() EnsembleConfig {
	return EnsembleConfig{
		Method:             WeightedAverage,
		PerformanceWindow:  100,
		MinPerformanceData: 5,
		DefaultUncertainty: 0.15,
	}
}

// EnsembleResult es la predicción combinada.
type EnsembleResult struct {
	Probability float64
	Confidence  float64
	Agreement   float64 // 1 - desvío de las probabilidades
	Models      int
}

type outcomeSample struct {
	prob    float64
	outcome bool
}

// Ensemble combina predicciones de varios modelos y mide su desempeño.
type Ensemble struct {
	cfg EnsembleConfig

	mu      sync.RWMutex
	history map[string][]outcomeSample
}

// NewEnsemble crea un ensemble vacío.
func NewEnsemble(cfg EnsembleConfig) *Ensemble {
	if cfg.PerformanceWindow <= 0 {
		cfg.PerformanceWindow = 100
	}
	if cfg.DefaultUncertainty <= 0 {
		cfg.DefaultUncertainty = 0.15
	}
	return &Ensemble{cfg: cfg, history: make(map[string][]outcomeSample)}
}

// RecordOutcome registra el resultado de una predicción pasada de un modelo.
func (e *Ensemble) RecordOutcome(modelID string, prob float64, outcome bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := append(e.history[modelID], outcomeSample{prob: prob, outcome: outcome})
	if len(h) > e.cfg.PerformanceWindow {
		h = h[len(h)-e.cfg.PerformanceWindow:]
	}
	e.history[modelID] = h
}

// Brier devuelve el Brier score del modelo y si hay datos suficientes.
func (e *Ensemble) Brier(modelID string) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.brierLocked(modelID)
}

func (e *Ensemble) brierLocked(modelID string) (float64, bool) {
	h := e.history[modelID]
	if len(h) < e.cfg.MinPerformanceData || len(h) == 0 {
		return 0, false
	}
	var s float64
	for _, o := range h {
		y := 0.0
		if o.outcome {
			y = 1
		}
		s += (o.prob - y) * (o.prob - y)
	}
	return s / float64(len(h)), true
}

// performanceWeight: 1 para Brier 0, piso 0.05 para Brier ≥ 0.25 (moneda).
func (e *Ensemble) performanceWeight(modelID string) float64 {
	brier, ok := e.brierLocked(modelID)
	if !ok {
		return 1
	}
	return clamp(1-brier/0.25, 0.05, 1)
}

// Predict combina las predicciones. false si la lista está vacía.
func (e *Ensemble) Predict(preds []ModelPrediction) (EnsembleResult, bool) {
	if len(preds) == 0 {
		return EnsembleResult{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	probs := make([]float64, len(preds))
	weights := make([]float64, len(preds))
	for i, p := range preds {
		probs[i] = clamp(p.Probability, 0, 1)
		switch e.cfg.Method {
		case InverseVarianceWeighted:
			u := p.Uncertainty
			if u <= 0 {
				u = e.cfg.DefaultUncertainty
			}
			weights[i] = 1 / (u * u)
		case PerformanceAdaptive:
			weights[i] = p.Confidence * e.performanceWeight(p.ModelID)
		default:
			weights[i] = p.Confidence
		}
	}

	var prob float64
	if e.cfg.Method == MedianVote {
		prob = median(probs)
	} else {
		prob = weightedMean(probs, weights)
	}

	confs := make([]float64, len(preds))
	for i, p := range preds {
		confs[i] = p.Confidence
	}
	agreement := clamp(1-math.Sqrt(varianceOf(probs, meanOf(probs))), 0, 1)

	return EnsembleResult{
		Probability: prob,
		Confidence:  clamp(weightedMean(confs, weights)*agreement, 0, 1),
		Agreement:   agreement,
		Models:      len(preds),
	}, true
}

// weightedMean cae a la media simple si los pesos suman 0.
func weightedMean(xs, ws []float64) float64 {
	var sw, s float64
	for i := range xs {
		sw += ws[i]
		s += xs[i] * ws[i]
	}
	if sw <= 0 {
		return meanOf(xs)
	}
	return s / sw
}

func median(xs []float64) float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
