package filter

import (
	"fmt"
	"math"
)

// Direction es la dirección esperada del subyacente.
type Direction int

const (
	NoDirection Direction = iota
	Up
	Down
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "none"
	}
}

// TrendSignal es la tendencia que reporta el detector de régimen.
type TrendSignal struct {
	Direction  Direction
	Confidence float64
}

// Umbrales para operar con una sola fuente cuando no se exige acuerdo.
const (
	soloTrendConfidence    = 0.70
	soloMomentumConfidence = 0.50
)

// FusionConfig parametriza SignalFusion.
type FusionConfig struct {
	MinTrendConfidence float64
	MinMomentum        float64 // fracción, 0.001 = 0.1%
	RequireAgreement   bool
}

// DefaultFusionConfig devuelve los parámetros por defecto.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{MinTrendConfidence: 0.60, MinMomentum: 0.001, RequireAgreement: true}
}

// FusionResult es el veredicto de SignalFusion.
type FusionResult struct {
	ShouldTrade bool
	Direction   Direction
	Confidence  float64
	Reason      string
}

// SignalFusion combina tendencia y momentum en tiempo real.
type SignalFusion struct {
	cfg FusionConfig
}

// NewSignalFusion crea un SignalFusion.
func NewSignalFusion(cfg FusionConfig) SignalFusion {
	return SignalFusion{cfg: cfg}
}

// Evaluate combina las fuentes disponibles. trend y momentum pueden ser nil.
func (f SignalFusion) Evaluate(trend *TrendSignal, momentum *float64) FusionResult {
	trendDir, trendConf := NoDirection, 0.0
	if trend != nil {
		trendConf = trend.Confidence
		if trend.Confidence >= f.cfg.MinTrendConfidence {
			trendDir = trend.Direction
		}
	}

	momDir, momConf := NoDirection, 0.0
	if momentum != nil {
		m := *momentum
		momConf = math.Min(math.Abs(m)*100, 1)
		if math.Abs(m) >= f.cfg.MinMomentum {
			if m > 0 {
				momDir = Up
			} else {
				momDir = Down
			}
		}
	}

	combined := (trendConf + momConf) / 2
	switch {
	case trendDir != NoDirection && momDir != NoDirection && trendDir == momDir:
		return FusionResult{
			ShouldTrade: true,
			Direction:   trendDir,
			Confidence:  combined,
			Reason:      fmt.Sprintf("signals agree: %s (trend %.0f%%, momentum %.2f%%)", trendDir, trendConf*100, momConf*100),
		}
	case trendDir != NoDirection && momDir != NoDirection:
		return FusionResult{Reason: fmt.Sprintf("signal conflict: trend=%s momentum=%s", trendDir, momDir)}
	case trendDir != NoDirection && !f.cfg.RequireAgreement:
		return FusionResult{
			ShouldTrade: trendConf >= soloTrendConfidence,
			Direction:   trendDir,
			Confidence:  trendConf,
			Reason:      fmt.Sprintf("trend only: %s @ %.0f%%", trendDir, trendConf*100),
		}
	case momDir != NoDirection && !f.cfg.RequireAgreement:
		return FusionResult{
			ShouldTrade: momConf >= soloMomentumConfidence,
			Direction:   momDir,
			Confidence:  momConf,
			Reason:      fmt.Sprintf("momentum only: %s @ %.2f%%", momDir, momConf*100),
		}
	default:
		return FusionResult{Reason: "insufficient signals"}
	}
}
