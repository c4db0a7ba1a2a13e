package regime

// Regime es la clasificación del mercado.
type Regime int

const (
	Unknown Regime = iota
	BullishTrend
	BearishTrend
	Ranging
	Volatile
	Crisis
)

func (r Regime) String() string {
	switch r {
	case BullishTrend:
		return "bullish_trend"
	case BearishTrend:
		return "bearish_trend"
	case Ranging:
		return "ranging"
	case Volatile:
		return "volatile"
	case Crisis:
		return "crisis"
	default:
		return "unknown"
	}
}

// RiskLevel devuelve un nivel de riesgo 0-100 para el régimen.
func (r Regime) RiskLevel() int {
	switch r {
	case BullishTrend:
		return 30
	case BearishTrend, Unknown:
		return 50
	case Ranging:
		return 20
	case Volatile:
		return 70
	case Crisis:
		return 95
	}
	return 50
}

// Strategy son los parámetros de trading recomendados para un régimen.
type Strategy struct {
	TrendFollowingWeight float64
	MeanReversionWeight  float64
	MomentumWeight       float64
	SizeMultiplier       float64
	StopLossMultiplier   float64
	TakeProfitMultiplier float64
	MaxPositions         int
	PreferLongs          bool
}

// StrategyFor devuelve el bundle de parámetros del régimen.
func StrategyFor(r Regime) Strategy {
	switch r {
	case BullishTrend:
		return Strategy{0.8, 0.1, 0.7, 1.2, 1.5, 2.0, 10, true}
	case BearishTrend:
		return Strategy{0.8, 0.1, 0.7, 1.0, 1.5, 2.0, 8, false}
	case Ranging:
		return Strategy{0.2, 0.7, 0.3, 0.8, 0.8, 1.0, 15, true}
	case Volatile:
		return Strategy{0.3, 0.3, 0.4, 0.5, 2.0, 1.5, 5, true}
	case Crisis:
		return Strategy{0, 0, 0, 0.1, 3.0, 0.5, 2, false}
	default:
		return Strategy{0.4, 0.4, 0.4, 0.6, 1.0, 1.0, 5, true}
	}
}
